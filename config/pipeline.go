package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/kaveri/deedscan/pipeline"
)

// PipelineConfig is the full configuration surface for pipelinectl: the
// Engine tuning knobs from spec.md §4.D.1 plus the storage, database, LLM,
// and cache backends it wires at startup. Sourced via Viper from a config
// file, PIPELINE_-prefixed environment variables, and command-line flags,
// in that ascending order of precedence.
type PipelineConfig struct {
	Engine pipeline.Config

	StorageBackend string // "local" or "s3"
	LocalRoot      string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Region       string
	S3Bucket       string

	RepositoryBackend string // "pgx" or "gorm"
	DatabaseURL       string

	LLMEndpoint    string
	LLMAPIKey      string
	LLMModel       string
	LLMRPS         float64
	LLMBurst       int
	LLMTimeout     time.Duration

	RedisURL      string
	CacheEnabled  bool
	CacheTTL      time.Duration

	PIDFile string
}

// Defaults returns a PipelineConfig with spec.md §4.D.1's engine defaults
// and reasonable local-development backends.
func Defaults() PipelineConfig {
	return PipelineConfig{
		Engine:            pipeline.DefaultConfig(),
		StorageBackend:    "local",
		LocalRoot:         "./data",
		RepositoryBackend: "pgx",
		DatabaseURL:       "postgresql://localhost:5432/deedscan?sslmode=disable",
		LLMModel:          "gpt-4o-mini",
		LLMTimeout:        300 * time.Second,
		RedisURL:          "redis://localhost:6379/0",
		CacheEnabled:      true,
		CacheTTL:          24 * time.Hour,
		PIDFile:           "/tmp/pipelinectl.pid",
	}
}

// LoadPipelineConfig reads v (already populated by viper.BindPFlag calls,
// AutomaticEnv with the PIPELINE_ prefix, and an optional config file) into
// a PipelineConfig, falling back to Defaults() for anything left unset.
func LoadPipelineConfig(v *viper.Viper) (PipelineConfig, error) {
	cfg := Defaults()

	if v.IsSet("engine.ocr_workers") {
		cfg.Engine.OCRWorkers = v.GetInt("engine.ocr_workers")
	}
	if v.IsSet("engine.llm_workers") {
		cfg.Engine.LLMWorkers = v.GetInt("engine.llm_workers")
	}
	if v.IsSet("engine.queue_size") {
		cfg.Engine.QueueSize = v.GetInt("engine.queue_size")
	}
	if v.IsSet("engine.page_parallel_ocr") {
		cfg.Engine.EnablePageParallelOCR = v.GetBool("engine.page_parallel_ocr")
	}
	if v.IsSet("engine.ocr_page_workers") {
		cfg.Engine.OCRPageWorkers = v.GetInt("engine.ocr_page_workers")
	}
	if v.IsSet("engine.llm_timeout") {
		cfg.Engine.LLMTimeout = v.GetDuration("engine.llm_timeout")
	}

	if v.IsSet("storage.backend") {
		cfg.StorageBackend = v.GetString("storage.backend")
	}
	if v.IsSet("storage.local_root") {
		cfg.LocalRoot = v.GetString("storage.local_root")
	}
	if v.IsSet("storage.s3_endpoint") {
		cfg.S3Endpoint = v.GetString("storage.s3_endpoint")
	}
	if v.IsSet("storage.s3_access_key") {
		cfg.S3AccessKey = v.GetString("storage.s3_access_key")
	}
	if v.IsSet("storage.s3_secret_key") {
		cfg.S3SecretKey = v.GetString("storage.s3_secret_key")
	}
	if v.IsSet("storage.s3_region") {
		cfg.S3Region = v.GetString("storage.s3_region")
	}
	if v.IsSet("storage.s3_bucket") {
		cfg.S3Bucket = v.GetString("storage.s3_bucket")
	}

	if v.IsSet("repository.backend") {
		cfg.RepositoryBackend = v.GetString("repository.backend")
	}
	if v.IsSet("repository.database_url") {
		cfg.DatabaseURL = v.GetString("repository.database_url")
	}

	if v.IsSet("llm.endpoint") {
		cfg.LLMEndpoint = v.GetString("llm.endpoint")
	}
	if v.IsSet("llm.api_key") {
		cfg.LLMAPIKey = v.GetString("llm.api_key")
	}
	if v.IsSet("llm.model") {
		cfg.LLMModel = v.GetString("llm.model")
	}
	if v.IsSet("llm.requests_per_second") {
		cfg.LLMRPS = v.GetFloat64("llm.requests_per_second")
	}
	if v.IsSet("llm.burst") {
		cfg.LLMBurst = v.GetInt("llm.burst")
	}
	if v.IsSet("llm.timeout") {
		cfg.LLMTimeout = v.GetDuration("llm.timeout")
	}

	if v.IsSet("cache.redis_url") {
		cfg.RedisURL = v.GetString("cache.redis_url")
	}
	if v.IsSet("cache.enabled") {
		cfg.CacheEnabled = v.GetBool("cache.enabled")
	}
	if v.IsSet("cache.ttl") {
		cfg.CacheTTL = v.GetDuration("cache.ttl")
	}

	if v.IsSet("pid_file") {
		cfg.PIDFile = v.GetString("pid_file")
	}

	validator := NewValidator()
	validator.RequireOneOf("storage.backend", cfg.StorageBackend, []string{"local", "s3"})
	validator.RequireOneOf("repository.backend", cfg.RepositoryBackend, []string{"pgx", "gorm"})
	if cfg.StorageBackend == "s3" {
		validator.RequireString("storage.s3_bucket", cfg.S3Bucket)
		validator.RequireString("storage.s3_endpoint", cfg.S3Endpoint)
	}
	if err := validator.Validate(); err != nil {
		return PipelineConfig{}, fmt.Errorf("loading pipeline config: %w", err)
	}

	return cfg, cfg.Engine.Validate()
}
