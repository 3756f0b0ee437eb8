package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/crossref-cli/internal/cost"
	"github.com/sells-group/crossref-cli/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig         `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig     `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig    `yaml:"perplexity" mapstructure:"perplexity"`
	Matching   MatchingConfig      `yaml:"matching" mapstructure:"matching"`
	Cache      CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Batch      BatchConfig         `yaml:"batch" mapstructure:"batch"`
	Resilience resilience.Settings `yaml:"resilience" mapstructure:"resilience"`
	Pricing    cost.Rates          `yaml:"pricing" mapstructure:"pricing"`
	Catalog    CatalogConfig       `yaml:"catalog" mapstructure:"catalog"`
	Server     ServerConfig        `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig    `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the response cache backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	MatchModel   string `yaml:"match_model" mapstructure:"match_model"`
	ExtractModel string `yaml:"extract_model" mapstructure:"extract_model"`
	MaxTokens    int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string   `yaml:"key" mapstructure:"key"`
	BaseURL string   `yaml:"base_url" mapstructure:"base_url"`
	Model   string   `yaml:"model" mapstructure:"model"`
	Domains []string `yaml:"domains" mapstructure:"domains"`
}

// MatchingConfig tunes stage acceptance and normalization.
type MatchingConfig struct {
	MinConfidence      float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	AIConfidenceCap    float64 `yaml:"ai_confidence_cap" mapstructure:"ai_confidence_cap"`
	ContextSize        int     `yaml:"context_size" mapstructure:"context_size"`
	SchemaVersion      string  `yaml:"schema_version" mapstructure:"schema_version"`
	PriceMismatchRatio float64 `yaml:"price_mismatch_ratio" mapstructure:"price_mismatch_ratio"`
}

// CacheConfig configures response cache retention.
type CacheConfig struct {
	TTLHours           int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	MaxEntries         int `yaml:"max_entries" mapstructure:"max_entries"`
	SweepIntervalHours int `yaml:"sweep_interval_hours" mapstructure:"sweep_interval_hours"`
}

// TTL returns the entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// SweepInterval returns the period between expiry sweeps.
func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalHours) * time.Hour
}

// BatchConfig configures the batch scheduler.
type BatchConfig struct {
	MaxConcurrentBatches int     `yaml:"max_concurrent_batches" mapstructure:"max_concurrent_batches"`
	MaxBatchSize         int     `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	RateLimitRPM         int     `yaml:"rate_limit_rpm" mapstructure:"rate_limit_rpm"`
	PollIntervalMs       int     `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	MaxExternalCostUSD   float64 `yaml:"max_external_cost_usd" mapstructure:"max_external_cost_usd"`
	MaxExternalCalls     int     `yaml:"max_external_calls" mapstructure:"max_external_calls"`
	RetainHours          int     `yaml:"retain_hours" mapstructure:"retain_hours"`
}

// PollInterval returns the scheduler pump period.
func (b BatchConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalMs) * time.Millisecond
}

// CatalogConfig locates our product catalog.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures resolution health checks and webhook alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ReviewRateThreshold  float64 `yaml:"review_rate_threshold" mapstructure:"review_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	AlertCooldownMins    int     `yaml:"alert_cooldown_mins" mapstructure:"alert_cooldown_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml, .env and the environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path (or ./config.yaml when empty), .env
// and the environment. Environment variables use the CROSSREF_ prefix and
// win over the file.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("CROSSREF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional unless named explicitly)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// setDefaults registers every key, including empty secrets, so AutomaticEnv
// can override them during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.path", "crossref-cache.db")
	v.SetDefault("store.max_conns", 5)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.match_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.extract_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("perplexity.key", "")
	v.SetDefault("perplexity.domains", []string{})
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("matching.min_confidence", 0.6)
	v.SetDefault("matching.ai_confidence_cap", 0.85)
	v.SetDefault("matching.context_size", 20)
	v.SetDefault("matching.schema_version", "v1")
	v.SetDefault("matching.price_mismatch_ratio", 0.3)
	v.SetDefault("cache.ttl_hours", 720)
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.sweep_interval_hours", 24)
	v.SetDefault("batch.max_concurrent_batches", 3)
	v.SetDefault("batch.max_batch_size", 10)
	v.SetDefault("batch.rate_limit_rpm", 50)
	v.SetDefault("batch.poll_interval_ms", 250)
	v.SetDefault("batch.retain_hours", 24)
	v.SetDefault("batch.max_external_cost_usd", 0.0)
	v.SetDefault("batch.max_external_calls", 0)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 20000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("pricing.perplexity.per_query", 0.005)
	v.SetDefault("pricing.perplexity.per_mtok_input", 1.0)
	v.SetDefault("catalog.path", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.review_rate_threshold", 0.50)
	v.SetDefault("monitoring.cost_threshold_usd", 0.0)
	v.SetDefault("monitoring.alert_cooldown_mins", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
