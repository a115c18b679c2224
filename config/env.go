package config

import (
	"fmt"
	"strconv"
)

// Environment variables overriding individual fields. The names follow the
// existing SAM3 agent deployments so their .env files keep working.
const (
	EnvReasoningBaseURL = "MLLM_API_BASE"
	EnvReasoningAPIKey  = "MLLM_API_KEY"
	EnvReasoningModel   = "MLLM_MODEL_NAME"
	EnvReasoningTokens  = "MLLM_MAX_TOKENS"
	EnvSegmentationURL  = "SAM3_ENDPOINT"
	EnvUploadDir        = "UPLOAD_FOLDER"
	EnvOutputDir        = "OUTPUT_FOLDER"
	EnvServerHost       = "BACKEND_HOST"
	EnvServerPort       = "BACKEND_PORT"
	EnvMaxUploadBytes   = "MAX_UPLOAD_SIZE"
)

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str(EnvReasoningBaseURL, &cfg.Reasoning.BaseURL)
	str(EnvReasoningAPIKey, &cfg.Reasoning.APIKey)
	str(EnvReasoningModel, &cfg.Reasoning.Model)
	str(EnvSegmentationURL, &cfg.Segmentation.Endpoint)
	str(EnvUploadDir, &cfg.Storage.UploadDir)
	str(EnvOutputDir, &cfg.Storage.OutputDir)
	str(EnvServerHost, &cfg.Server.Host)

	if v, ok := lookup(EnvReasoningTokens); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvReasoningTokens, v, err)
		}
		cfg.Reasoning.MaxTokens = n
	}
	if v, ok := lookup(EnvServerPort); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvServerPort, v, err)
		}
		cfg.Server.Port = n
	}
	if v, ok := lookup(EnvMaxUploadBytes); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvMaxUploadBytes, v, err)
		}
		cfg.Server.MaxUploadBytes = n
	}

	return nil
}
