package application

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/intellego/evalpipe/infrastructure/llm"
	"github.com/intellego/evalpipe/internal/domain"
	"github.com/intellego/evalpipe/internal/ports"
)

// EnvPrefix prefixes every environment override, e.g. EVALPIPE_LLM_MODEL.
const EnvPrefix = "EVALPIPE"

// Config is the complete runtime configuration of the pipeline.
type Config struct {
	LLM        LLMConfig        `yaml:"llm" envconfig:"LLM"`
	Adjustment AdjustmentConfig `yaml:"adjustment" envconfig:"ADJUSTMENT"`
	Batch      BatchConfig      `yaml:"batch" envconfig:"BATCH"`
	Pricing    PricingConfig    `yaml:"pricing" envconfig:"PRICING"`
	Store      StoreConfig      `yaml:"store" envconfig:"STORE"`
	Log        LogConfig        `yaml:"log" envconfig:"LOG"`
	Metrics    MetricsConfig    `yaml:"metrics" envconfig:"METRICS"`
}

// LLMConfig selects the provider and the middleware around it.
type LLMConfig struct {
	// Provider names a registry provider.
	Provider string `yaml:"provider" envconfig:"PROVIDER" validate:"required,llmprovider"`
	// Model is the scoring model. Empty uses the provider default.
	Model string `yaml:"model" envconfig:"MODEL"`
	// APIKey overrides the provider's own environment variable.
	APIKey  string `yaml:"api_key" envconfig:"API_KEY"`
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL" validate:"omitempty,url"`

	// Timeout bounds every provider call.
	Timeout     time.Duration `yaml:"timeout" envconfig:"TIMEOUT" validate:"gt=0"`
	MaxTokens   int           `yaml:"max_tokens" envconfig:"MAX_TOKENS" validate:"min=256,max=8192"`
	Temperature float64       `yaml:"temperature" envconfig:"TEMPERATURE" validate:"min=0,max=1"`

	// RateLimitRPS of 0 disables rate limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS" validate:"min=0"`
	RateLimitBurst int     `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST" validate:"min=0"`

	// CircuitMaxFailures of 0 disables the circuit breaker.
	CircuitMaxFailures int           `yaml:"circuit_max_failures" envconfig:"CIRCUIT_MAX_FAILURES" validate:"min=0"`
	CircuitCooldown    time.Duration `yaml:"circuit_cooldown" envconfig:"CIRCUIT_COOLDOWN" validate:"min=0"`

	// Retries enables provider-level retry of retryable errors.
	Retries        int           `yaml:"retries" envconfig:"RETRIES" validate:"min=0,max=10"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" envconfig:"RETRY_BASE_DELAY" validate:"min=0"`

	Tracing bool `yaml:"tracing" envconfig:"TRACING"`
}

// AdjustmentConfig controls the contextual adjustment pass.
type AdjustmentConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`
	// Model is an optional "provider/model" spec. Empty reuses the scoring
	// client.
	Model       string  `yaml:"model" envconfig:"MODEL"`
	MaxTokens   int     `yaml:"max_tokens" envconfig:"MAX_TOKENS" validate:"min=128,max=8192"`
	Temperature float64 `yaml:"temperature" envconfig:"TEMPERATURE" validate:"min=0,max=1"`
}

// BatchConfig holds the orchestrator defaults.
type BatchConfig struct {
	Concurrency    int           `yaml:"concurrency" envconfig:"CONCURRENCY" validate:"min=1,max=100"`
	RetryAttempts  int           `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS" validate:"min=0,max=10"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" envconfig:"RETRY_BASE_DELAY" validate:"min=0"`
	ChunkPause     time.Duration `yaml:"chunk_pause" envconfig:"CHUNK_PAUSE" validate:"min=0"`
	Scheduling     string        `yaml:"scheduling" envconfig:"SCHEDULING" validate:"oneof=chunked pool"`
}

// PricingConfig holds the per-million-token rates.
type PricingConfig struct {
	InputPerMTok      float64 `yaml:"input_per_mtok" envconfig:"INPUT_PER_MTOK" validate:"min=0"`
	OutputPerMTok     float64 `yaml:"output_per_mtok" envconfig:"OUTPUT_PER_MTOK" validate:"min=0"`
	CacheWritePerMTok float64 `yaml:"cache_write_per_mtok" envconfig:"CACHE_WRITE_PER_MTOK" validate:"min=0"`
	CacheReadPerMTok  float64 `yaml:"cache_read_per_mtok" envconfig:"CACHE_READ_PER_MTOK" validate:"min=0"`
}

// RateTable converts the pricing section into a domain rate table.
func (p PricingConfig) RateTable() domain.RateTable {
	return domain.RateTable{
		InputPerMTok:      p.InputPerMTok,
		OutputPerMTok:     p.OutputPerMTok,
		CacheWritePerMTok: p.CacheWritePerMTok,
		CacheReadPerMTok:  p.CacheReadPerMTok,
	}
}

// StoreConfig configures result persistence and evaluation caching.
type StoreConfig struct {
	// RedisURL of "" disables the Redis sink and cache.
	RedisURL  string        `yaml:"redis_url" envconfig:"REDIS_URL"`
	KeyPrefix string        `yaml:"key_prefix" envconfig:"KEY_PREFIX" validate:"required"`
	TTL       time.Duration `yaml:"ttl" envconfig:"TTL" validate:"gt=0"`
	// CacheEvaluations serves identical resubmissions from the cache.
	CacheEvaluations bool          `yaml:"cache_evaluations" envconfig:"CACHE_EVALUATIONS"`
	CacheTTL         time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL" validate:"gt=0"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" envconfig:"FORMAT" validate:"oneof=text json"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// ListenAddr of "" disables the /metrics endpoint.
	ListenAddr string `yaml:"listen_addr" envconfig:"LISTEN_ADDR" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	cfg.LLM = LLMConfig{
		Provider:           "anthropic",
		Timeout:            60 * time.Second,
		MaxTokens:          2000,
		Temperature:        0.1,
		CircuitMaxFailures: 5,
		CircuitCooldown:    30 * time.Second,
		Retries:            0,
		RetryBaseDelay:     time.Second,
	}

	cfg.Adjustment = AdjustmentConfig{
		Enabled:     true,
		MaxTokens:   1200,
		Temperature: 0.2,
	}

	cfg.Batch = BatchConfig{
		Concurrency:    DefaultConcurrency,
		RetryAttempts:  DefaultRetryAttempts,
		RetryBaseDelay: DefaultRetryBaseDelay,
		ChunkPause:     DefaultChunkPause,
		Scheduling:     string(ScheduleChunked),
	}

	rates := domain.DefaultRateTable()
	cfg.Pricing = PricingConfig{
		InputPerMTok:      rates.InputPerMTok,
		OutputPerMTok:     rates.OutputPerMTok,
		CacheWritePerMTok: rates.CacheWritePerMTok,
		CacheReadPerMTok:  rates.CacheReadPerMTok,
	}

	cfg.Store = StoreConfig{
		KeyPrefix: "evalpipe:",
		TTL:       720 * time.Hour,
		CacheTTL:  24 * time.Hour,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// LoadConfig builds the configuration in four layers: defaults, the
// optional YAML file at path, EVALPIPE_* environment overrides, then
// validation.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", ports.NewConfigError(path, err))
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Strict mode - fail on unknown fields.
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("YAML decode failed: %w", err)
	}
	return nil
}

// Validate checks every section against its struct tags.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.RegisterValidation("llmprovider", validateProvider); err != nil {
		return fmt.Errorf("failed to register provider validator: %w", err)
	}
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("struct validation failed: %w", err)
	}
	return nil
}

// validateProvider accepts only providers the registry can build.
func validateProvider(fl validator.FieldLevel) bool {
	_, ok := llm.DefaultProviders[fl.Field().String()]
	return ok
}

// ScoringModel returns the configured model or the provider default.
func (c *Config) ScoringModel() string {
	if c.LLM.Model != "" {
		return c.LLM.Model
	}
	return llm.DefaultProviders[c.LLM.Provider].DefaultModel
}

// BatchOptions converts the batch section into orchestrator options.
func (c *Config) BatchOptions() BatchOptions {
	return BatchOptions{
		Concurrency:    c.Batch.Concurrency,
		RetryAttempts:  c.Batch.RetryAttempts,
		RetryBaseDelay: c.Batch.RetryBaseDelay,
		ChunkPause:     c.Batch.ChunkPause,
		Scheduling:     Scheduling(c.Batch.Scheduling),
		SkipAdjustment: !c.Adjustment.Enabled,
	}
}
