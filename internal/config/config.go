package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the beyanname server and workers.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	AI        AIConfig
	Pipeline  PipelineConfig
	Artifacts ArtifactsConfig

	// InMemory runs without Postgres and Redis. Intended for local development and tests.
	InMemory bool
}

type ServerConfig struct {
	Port            int
	Env             string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
	ConnectAttempts int
}

type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	// JWTSecret verifies HS256 access tokens issued by the managed auth backend.
	JWTSecret    string
	OIDCIssuer   string
	OIDCAudience string
	// RateLimitPerMinute is the per-credential request budget.
	RateLimitPerMinute int
}

type AIConfig struct {
	Provider          string
	InferenceTimeout  time.Duration
	RequestsPerSecond float64
	Ollama            OllamaConfig
	VLLM              VLLMConfig
	OpenAI            OpenAIConfig
	Anthropic         AnthropicConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type PipelineConfig struct {
	ChunkBudget       int
	MaxOutputTokens   int
	Temperature       float64
	SystemPrompt      string
	DispatchMode      string
	MaxParallelParts  int
	BatchDeadline     time.Duration
	BatchPollInterval time.Duration
	StaleAfter        time.Duration
	PendingGrace      time.Duration
	SweepSchedule     string
	SweepLimit        int
	MaxConcurrentJobs int
}

type ArtifactsConfig struct {
	Backend           string
	Dir               string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	URLExpiry         time.Duration
}

const (
	DispatchParallel = "parallel"
	DispatchBatch    = "batch"

	ArtifactsNone = "none"
	ArtifactsFile = "file"
	ArtifactsS3   = "s3"
)

const defaultSystemPrompt = `You are a Turkish tax advisor. Review the tax declaration (beyanname) data ` +
	`you are given and write a clear analysis in Turkish: summarize the declared figures, flag ` +
	`inconsistencies or missing items, and list concrete recommendations.`

var validProviders = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
}

var defaults = map[string]any{
	"beyanname_port":             8080,
	"beyanname_env":              "development",
	"beyanname_cors_origins":     "",
	"beyanname_shutdown_timeout": 30 * time.Second,
	"beyanname_in_memory":        false,

	"database_max_open_conns":    25,
	"database_max_idle_conns":    5,
	"database_conn_max_lifetime": 5 * time.Minute,
	"database_migrations_dir":    "migrations",
	"database_connect_attempts":  10,

	"auth_rate_limit_per_minute": 60,

	"ai_inference_timeout_secs": 120,
	"ai_requests_per_second":    5.0,
	"ollama_base_url":           "http://localhost:11434",
	"ollama_model":              "llama3",
	"vllm_base_url":             "http://localhost:8000",
	"openai_model":              "gpt-4o",
	"anthropic_model":           "claude-sonnet-4-5-20250929",

	"pipeline_chunk_budget":        8000,
	"pipeline_max_output_tokens":   4096,
	"pipeline_temperature":         0.2,
	"pipeline_system_prompt":       defaultSystemPrompt,
	"pipeline_dispatch_mode":       DispatchParallel,
	"pipeline_max_parallel_parts":  4,
	"pipeline_batch_deadline":      30 * time.Minute,
	"pipeline_batch_poll_interval": 60 * time.Second,
	"pipeline_stale_after":         45 * time.Minute,
	"pipeline_pending_grace":       2 * time.Minute,
	"pipeline_sweep_schedule":      "@every 1m",
	"pipeline_sweep_limit":         50,
	"pipeline_max_concurrent_jobs": 8,

	"artifacts_backend":    ArtifactsFile,
	"artifacts_dir":        "data/artifacts",
	"artifacts_url_expiry": 15 * time.Minute,
}

// Option overrides settings after the file and environment have been read.
type Option func(*viper.Viper)

// WithOverride forces key (lower-cased env name) to value. Command-line flags
// use it so they win over the environment.
func WithOverride(key string, value any) Option {
	return func(v *viper.Viper) {
		v.Set(key, value)
	}
}

// Load reads configuration from environment variables, optionally layered over a
// YAML config file, and returns a validated Config. Keys in the file use the same
// names as the environment variables, lower-cased (database_url, ai_provider, ...).
func Load(configFile string, opts ...Option) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}
	for _, opt := range opts {
		opt(v)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("beyanname_port"),
			Env:             v.GetString("beyanname_env"),
			CORSOrigins:     splitList(v.GetString("beyanname_cors_origins")),
			ShutdownTimeout: v.GetDuration("beyanname_shutdown_timeout"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("database_url"),
			MaxOpenConns:    v.GetInt("database_max_open_conns"),
			MaxIdleConns:    v.GetInt("database_max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database_conn_max_lifetime"),
			MigrationsDir:   v.GetString("database_migrations_dir"),
			ConnectAttempts: v.GetInt("database_connect_attempts"),
		},
		Redis: RedisConfig{
			URL: v.GetString("redis_url"),
		},
		Auth: AuthConfig{
			JWTSecret:          v.GetString("auth_jwt_secret"),
			OIDCIssuer:         v.GetString("auth_oidc_issuer"),
			OIDCAudience:       v.GetString("auth_oidc_audience"),
			RateLimitPerMinute: v.GetInt("auth_rate_limit_per_minute"),
		},
		AI: AIConfig{
			Provider:          v.GetString("ai_provider"),
			InferenceTimeout:  time.Duration(v.GetInt("ai_inference_timeout_secs")) * time.Second,
			RequestsPerSecond: v.GetFloat64("ai_requests_per_second"),
			Ollama: OllamaConfig{
				BaseURL: v.GetString("ollama_base_url"),
				Model:   v.GetString("ollama_model"),
			},
			VLLM: VLLMConfig{
				BaseURL: v.GetString("vllm_base_url"),
				Model:   v.GetString("vllm_model"),
			},
			OpenAI: OpenAIConfig{
				APIKey:  v.GetString("openai_api_key"),
				Model:   v.GetString("openai_model"),
				BaseURL: v.GetString("openai_base_url"),
			},
			Anthropic: AnthropicConfig{
				APIKey:  v.GetString("anthropic_api_key"),
				Model:   v.GetString("anthropic_model"),
				BaseURL: v.GetString("anthropic_base_url"),
			},
		},
		Pipeline: PipelineConfig{
			ChunkBudget:       v.GetInt("pipeline_chunk_budget"),
			MaxOutputTokens:   v.GetInt("pipeline_max_output_tokens"),
			Temperature:       v.GetFloat64("pipeline_temperature"),
			SystemPrompt:      v.GetString("pipeline_system_prompt"),
			DispatchMode:      v.GetString("pipeline_dispatch_mode"),
			MaxParallelParts:  v.GetInt("pipeline_max_parallel_parts"),
			BatchDeadline:     v.GetDuration("pipeline_batch_deadline"),
			BatchPollInterval: v.GetDuration("pipeline_batch_poll_interval"),
			StaleAfter:        v.GetDuration("pipeline_stale_after"),
			PendingGrace:      v.GetDuration("pipeline_pending_grace"),
			SweepSchedule:     v.GetString("pipeline_sweep_schedule"),
			SweepLimit:        v.GetInt("pipeline_sweep_limit"),
			MaxConcurrentJobs: v.GetInt("pipeline_max_concurrent_jobs"),
		},
		Artifacts: ArtifactsConfig{
			Backend:           v.GetString("artifacts_backend"),
			Dir:               v.GetString("artifacts_dir"),
			S3Bucket:          v.GetString("artifacts_s3_bucket"),
			S3Region:          v.GetString("artifacts_s3_region"),
			S3Endpoint:        v.GetString("artifacts_s3_endpoint"),
			S3AccessKeyID:     v.GetString("artifacts_s3_access_key_id"),
			S3SecretAccessKey: v.GetString("artifacts_s3_secret_access_key"),
			URLExpiry:         v.GetDuration("artifacts_url_expiry"),
		},
		InMemory: v.GetBool("beyanname_in_memory"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("BEYANNAME_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if !c.InMemory {
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required")
		}
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, vllm, openai, anthropic; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}
	if c.AI.InferenceTimeout <= 0 {
		return fmt.Errorf("AI_INFERENCE_TIMEOUT_SECS must be positive")
	}
	if c.AI.RequestsPerSecond <= 0 {
		return fmt.Errorf("AI_REQUESTS_PER_SECOND must be positive")
	}

	p := c.Pipeline
	if p.ChunkBudget <= 0 {
		return fmt.Errorf("PIPELINE_CHUNK_BUDGET must be positive, got %d", p.ChunkBudget)
	}
	if p.MaxOutputTokens <= 0 {
		return fmt.Errorf("PIPELINE_MAX_OUTPUT_TOKENS must be positive, got %d", p.MaxOutputTokens)
	}
	switch p.DispatchMode {
	case DispatchParallel:
		if p.MaxParallelParts <= 0 {
			return fmt.Errorf("PIPELINE_MAX_PARALLEL_PARTS must be positive, got %d", p.MaxParallelParts)
		}
	case DispatchBatch:
		if c.AI.Provider != "anthropic" {
			return fmt.Errorf("PIPELINE_DISPATCH_MODE batch requires AI_PROVIDER anthropic, got %q", c.AI.Provider)
		}
	default:
		return fmt.Errorf("PIPELINE_DISPATCH_MODE must be parallel or batch, got %q", p.DispatchMode)
	}
	if p.BatchDeadline <= 0 || p.BatchPollInterval <= 0 {
		return fmt.Errorf("PIPELINE_BATCH_DEADLINE and PIPELINE_BATCH_POLL_INTERVAL must be positive")
	}
	if p.StaleAfter <= p.BatchDeadline {
		return fmt.Errorf("PIPELINE_STALE_AFTER (%s) must exceed PIPELINE_BATCH_DEADLINE (%s)", p.StaleAfter, p.BatchDeadline)
	}
	if p.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("PIPELINE_MAX_CONCURRENT_JOBS must be positive, got %d", p.MaxConcurrentJobs)
	}

	switch c.Artifacts.Backend {
	case ArtifactsNone:
	case ArtifactsFile:
		if c.Artifacts.Dir == "" {
			return fmt.Errorf("ARTIFACTS_DIR is required when ARTIFACTS_BACKEND is file")
		}
	case ArtifactsS3:
		if c.Artifacts.S3Bucket == "" {
			return fmt.Errorf("ARTIFACTS_S3_BUCKET is required when ARTIFACTS_BACKEND is s3")
		}
	default:
		return fmt.Errorf("ARTIFACTS_BACKEND must be one of none, file, s3; got %q", c.Artifacts.Backend)
	}

	if c.Auth.OIDCIssuer != "" && !strings.HasPrefix(c.Auth.OIDCIssuer, "https://") &&
		!strings.HasPrefix(c.Auth.OIDCIssuer, "http://") {
		return fmt.Errorf("AUTH_OIDC_ISSUER must start with http:// or https://, got %q", c.Auth.OIDCIssuer)
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
