// Package config loads the segmesh configuration file.
//
// A configuration is built in four steps:
//  1. Defaults are applied.
//  2. The YAML file (if any) is read, ${VAR} references are expanded from
//     the environment and the result is decoded over the defaults.
//  3. Well known environment variables override individual fields.
//  4. The result is validated.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Server       ServerConfig       `yaml:"server" json:"server"`
	Reasoning    ReasoningConfig    `yaml:"reasoning" json:"reasoning"`
	Segmentation SegmentationConfig `yaml:"segmentation" json:"segmentation"`
	Agent        AgentConfig        `yaml:"agent" json:"agent"`
	Engine       EngineConfig       `yaml:"engine" json:"engine"`
	Storage      StorageConfig      `yaml:"storage" json:"storage"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
	Tracing      TracingConfig      `yaml:"tracing" json:"tracing"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host           string `yaml:"host" json:"host" validate:"required" jsonschema:"description=Listen address"`
	Port           int    `yaml:"port" json:"port" validate:"min=1,max=65535" jsonschema:"description=Listen port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes" json:"max_upload_bytes" validate:"min=1" jsonschema:"description=Largest accepted image upload"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// ReasoningConfig configures the Reasoning Service client.
type ReasoningConfig struct {
	Provider      string        `yaml:"provider" json:"provider" validate:"oneof=openai anthropic" jsonschema:"enum=openai,enum=anthropic"`
	BaseURL       string        `yaml:"base_url" json:"base_url,omitempty" validate:"omitempty,url" jsonschema:"description=OpenAI compatible endpoint such as a vLLM server"`
	APIKey        string        `yaml:"api_key" json:"api_key,omitempty"`
	Model         string        `yaml:"model" json:"model" validate:"required"`
	MaxTokens     int64         `yaml:"max_tokens" json:"max_tokens" validate:"min=1"`
	Temperature   float64       `yaml:"temperature" json:"temperature" validate:"min=0,max=2"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout" validate:"min=0" jsonschema:"description=Per call timeout; 0 disables it"`
	MaxImageWidth int           `yaml:"max_image_width" json:"max_image_width" validate:"min=0"`
}

// SegmentationConfig configures the Segmentation Service client.
type SegmentationConfig struct {
	Endpoint      string        `yaml:"endpoint" json:"endpoint" validate:"required,url"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`
	Retries       uint          `yaml:"retries" json:"retries"`
	RatePerSecond float64       `yaml:"rate_per_second" json:"rate_per_second" validate:"min=0"`
	Burst         int           `yaml:"burst" json:"burst" validate:"min=0"`
}

// AgentConfig configures the orchestrator.
type AgentConfig struct {
	MaxRounds          int     `yaml:"max_rounds" json:"max_rounds" validate:"min=1"`
	MaxRetriesPerRound int     `yaml:"max_retries_per_round" json:"max_retries_per_round" validate:"min=0"`
	OverlapThreshold   float64 `yaml:"overlap_threshold" json:"overlap_threshold" validate:"gt=0,lte=1"`
	Stream             bool    `yaml:"stream" json:"stream"`
	Overlays           bool    `yaml:"overlays" json:"overlays"`
}

// EngineConfig configures run admission and retention.
type EngineConfig struct {
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs" json:"max_concurrent_runs" validate:"min=0"`
	RunTimeout        time.Duration `yaml:"run_timeout" json:"run_timeout" validate:"min=0"`
	RunTTL            time.Duration `yaml:"run_ttl" json:"run_ttl" validate:"min=0" jsonschema:"description=How long finished runs stay addressable; 0 keeps them in memory forever"`
	RunCacheSize      int           `yaml:"run_cache_size" json:"run_cache_size" validate:"min=1"`
}

// StorageConfig selects where uploads and artifacts live.
type StorageConfig struct {
	Driver    string `yaml:"driver" json:"driver" validate:"oneof=memory fs s3" jsonschema:"enum=memory,enum=fs,enum=s3"`
	UploadDir string `yaml:"upload_dir" json:"upload_dir"`
	OutputDir string `yaml:"output_dir" json:"output_dir"`
	// AllowAbsolutePaths lets image_path values name files outside upload_dir.
	AllowAbsolutePaths bool     `yaml:"allow_absolute_paths" json:"allow_absolute_paths,omitempty"`
	S3                 S3Config `yaml:"s3" json:"s3"`
}

// S3Config configures the S3 compatible object store.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint,omitempty"`
	Region    string `yaml:"region" json:"region,omitempty"`
	Bucket    string `yaml:"bucket" json:"bucket,omitempty"`
	Prefix    string `yaml:"prefix" json:"prefix,omitempty"`
	AccessKey string `yaml:"access_key" json:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key" json:"secret_key,omitempty"`
	Secure    bool   `yaml:"secure" json:"secure"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=json text"`
}

// TracingConfig selects the OpenTelemetry span exporter.
type TracingConfig struct {
	Exporter    string  `yaml:"exporter" json:"exporter" validate:"oneof=none stdout otlp" jsonschema:"enum=none,enum=stdout,enum=otlp"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint,omitempty" jsonschema:"description=OTLP gRPC collector address such as localhost:4317"`
	Insecure    bool    `yaml:"insecure" json:"insecure"`
	ServiceName string  `yaml:"service_name" json:"service_name" validate:"required"`
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio" validate:"min=0,max=1"`
}

// Enabled reports whether spans are exported.
func (t TracingConfig) Enabled() bool { return t.Exporter != "" && t.Exporter != "none" }

// Default returns the configuration used for absent fields.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           5000,
			MaxUploadBytes: 16 << 20,
		},
		Reasoning: ReasoningConfig{
			Provider:      "openai",
			Model:         "gpt-4o",
			MaxTokens:     4096,
			Temperature:   0.7,
			Timeout:       2 * time.Minute,
			MaxImageWidth: 1024,
		},
		Segmentation: SegmentationConfig{
			Endpoint: "http://localhost:8000/segment",
			Timeout:  2 * time.Minute,
			Retries:  2,
		},
		Agent: AgentConfig{
			MaxRounds:          100,
			MaxRetriesPerRound: 2,
			OverlapThreshold:   0.9,
			Stream:             true,
			Overlays:           true,
		},
		Engine: EngineConfig{
			MaxConcurrentRuns: 10,
			RunTTL:            time.Hour,
			RunCacheSize:      1000,
		},
		Storage: StorageConfig{
			Driver:    "fs",
			UploadDir: "./uploads",
			OutputDir: "./outputs",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "segmesh",
			SampleRatio: 1,
		},
	}
}

// Load reads the configuration file at path from the OS filesystem. An
// empty path yields the defaults with environment overrides.
func Load(path string) (*Config, error) {
	return LoadFs(afero.NewOsFs(), path)
}

// LoadFs reads the configuration file at path from fsys.
func LoadFs(fsys afero.Fs, path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}

	raw, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found at: %s", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(raw)
}

// Parse decodes YAML data over the defaults, applies environment overrides
// and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if len(strings.TrimSpace(string(data))) > 0 {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Storage.Driver == "s3" {
		if c.Storage.S3.Endpoint == "" {
			return errors.New("storage.s3.endpoint is required for the s3 driver")
		}
		if c.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required for the s3 driver")
		}
	}
	if c.Storage.Driver == "fs" && (c.Storage.UploadDir == "" || c.Storage.OutputDir == "") {
		return errors.New("storage.upload_dir and storage.output_dir are required for the fs driver")
	}

	if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return errors.New("tracing.endpoint is required for the otlp exporter")
	}

	return nil
}

func fieldMessage(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", path)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", path, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a URL", path)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", path, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", path, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", path, fe.Param())
	}
	return fmt.Sprintf("%s failed %s", path, fe.Tag())
}

// Redacted returns a copy safe to expose: credentials are masked.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Reasoning.APIKey = mask(cp.Reasoning.APIKey)
	cp.Storage.S3.AccessKey = mask(cp.Storage.S3.AccessKey)
	cp.Storage.S3.SecretKey = mask(cp.Storage.S3.SecretKey)
	return &cp
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
