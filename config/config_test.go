package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvReasoningBaseURL, EnvReasoningAPIKey, EnvReasoningModel, EnvReasoningTokens,
		EnvSegmentationURL, EnvUploadDir, EnvOutputDir, EnvServerHost, EnvServerPort, EnvMaxUploadBytes,
	} {
		t.Setenv(key, "")
	}
}

func TestParse_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Agent.MaxRounds)
	assert.Equal(t, 2, cfg.Agent.MaxRetriesPerRound)
	assert.InDelta(t, 0.9, cfg.Agent.OverlapThreshold, 1e-9)
	assert.True(t, cfg.Agent.Stream)
	assert.Equal(t, 10, cfg.Engine.MaxConcurrentRuns)
	assert.Equal(t, "0.0.0.0:5000", cfg.Server.Addr())
	assert.Equal(t, int64(4096), cfg.Reasoning.MaxTokens)
	assert.Equal(t, "fs", cfg.Storage.Driver)
}

func TestParse_YAMLOverDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse([]byte(`
server:
  port: 8080
reasoning:
  provider: anthropic
  model: claude-sonnet-4-20250514
  timeout: 45s
agent:
  max_rounds: 12
  stream: false
engine:
  run_ttl: 10m
`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "anthropic", cfg.Reasoning.Provider)
	assert.Equal(t, 45*time.Second, cfg.Reasoning.Timeout)
	assert.Equal(t, 12, cfg.Agent.MaxRounds)
	assert.False(t, cfg.Agent.Stream)
	assert.Equal(t, 2, cfg.Agent.MaxRetriesPerRound)
	assert.Equal(t, 10*time.Minute, cfg.Engine.RunTTL)
}

func TestParse_ExpandsEnvReferences(t *testing.T) {
	clearEnv(t)
	t.Setenv("SEGMESH_TEST_BUCKET", "masks")

	cfg, err := Parse([]byte(`
storage:
  driver: s3
  s3:
    endpoint: localhost:9000
    bucket: ${SEGMESH_TEST_BUCKET}
`))
	require.NoError(t, err)
	assert.Equal(t, "masks", cfg.Storage.S3.Bucket)
}

func TestParse_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvReasoningBaseURL, "http://vllm:8000/v1")
	t.Setenv(EnvReasoningAPIKey, "secret")
	t.Setenv(EnvReasoningModel, "Qwen/Qwen2.5-VL-7B-Instruct")
	t.Setenv(EnvReasoningTokens, "2048")
	t.Setenv(EnvSegmentationURL, "http://sam3:9000/segment")
	t.Setenv(EnvUploadDir, "/data/uploads")
	t.Setenv(EnvOutputDir, "/data/outputs")
	t.Setenv(EnvServerHost, "127.0.0.1")
	t.Setenv(EnvServerPort, "7000")

	cfg, err := Parse([]byte("reasoning:\n  model: ignored\n"))
	require.NoError(t, err)

	assert.Equal(t, "http://vllm:8000/v1", cfg.Reasoning.BaseURL)
	assert.Equal(t, "secret", cfg.Reasoning.APIKey)
	assert.Equal(t, "Qwen/Qwen2.5-VL-7B-Instruct", cfg.Reasoning.Model)
	assert.Equal(t, int64(2048), cfg.Reasoning.MaxTokens)
	assert.Equal(t, "http://sam3:9000/segment", cfg.Segmentation.Endpoint)
	assert.Equal(t, "/data/uploads", cfg.Storage.UploadDir)
	assert.Equal(t, "/data/outputs", cfg.Storage.OutputDir)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr())
}

func TestParse_InvalidEnvNumber(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvServerPort, "http")

	_, err := Parse(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvServerPort)
}

func TestParse_Validation(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown provider", "reasoning:\n  provider: gemini\n", "reasoning.provider must be one of"},
		{"zero rounds", "agent:\n  max_rounds: 0\n", "agent.max_rounds must be at least 1"},
		{"threshold above one", "agent:\n  overlap_threshold: 1.5\n", "agent.overlap_threshold must be at most 1"},
		{"bad endpoint", "segmentation:\n  endpoint: not a url\n", "segmentation.endpoint must be a URL"},
		{"s3 without bucket", "storage:\n  driver: s3\n  s3:\n    endpoint: localhost:9000\n", "storage.s3.bucket is required"},
		{"bad log level", "logging:\n  level: loud\n", "logging.level must be one of"},
		{"unknown exporter", "tracing:\n  exporter: zipkin\n", "tracing.exporter must be one of"},
		{"otlp without endpoint", "tracing:\n  exporter: otlp\n", "tracing.endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	clearEnv(t)

	_, err := Parse([]byte("server: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse yaml")
}

func TestLoadFs(t *testing.T) {
	clearEnv(t)
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/etc/segmesh.yaml", []byte("agent:\n  max_rounds: 7\n"), 0o644))

	cfg, err := LoadFs(fsys, "/etc/segmesh.yaml")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Agent.MaxRounds)

	_, err = LoadFs(fsys, "/etc/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")

	cfg, err = LoadFs(fsys, "")
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Agent.MaxRounds)
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Reasoning.APIKey = "sk-123"
	cfg.Storage.S3.SecretKey = "s3cr3t"

	red := cfg.Redacted()
	assert.Equal(t, "********", red.Reasoning.APIKey)
	assert.Equal(t, "********", red.Storage.S3.SecretKey)
	assert.Empty(t, red.Storage.S3.AccessKey)
	assert.Equal(t, "sk-123", cfg.Reasoning.APIKey)
}

func TestSchema(t *testing.T) {
	data, err := SchemaJSON()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "segmesh configuration", doc["title"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"server", "reasoning", "segmentation", "agent", "engine", "storage", "logging"} {
		assert.Contains(t, props, key)
	}

	reasoning := props["reasoning"].(map[string]any)["properties"].(map[string]any)
	assert.Contains(t, reasoning, "max_image_width")
	assert.Equal(t, "string", reasoning["timeout"].(map[string]any)["type"])
}
