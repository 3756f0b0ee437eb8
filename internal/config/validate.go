package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Modes accepted by Validate.
const (
	ModeResolve = "resolve"
	ModeBatch   = "batch"
	ModeServe   = "serve"
	ModeCache   = "cache"
)

// Validate checks the settings a command mode depends on and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch mode {
	case ModeResolve, ModeBatch, ModeServe:
		if c.Catalog.Path == "" {
			add("catalog.path is required")
		}
		c.validateMatching(add)
	case ModeCache:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	c.validateStore(add)

	if mode == ModeBatch || mode == ModeServe {
		c.validateBatch(add)
	}
	if mode == ModeServe {
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		m := c.Monitoring
		if m.FailureRateThreshold < 0 || m.FailureRateThreshold > 1 || m.ReviewRateThreshold < 0 || m.ReviewRateThreshold > 1 {
			add("monitoring rate thresholds must be between 0 and 1")
		}
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore(add func(string, ...any)) {
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			add("store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres driver")
		}
	default:
		add("store.driver must be one of memory, sqlite, postgres (got %q)", c.Store.Driver)
	}
	if c.Cache.TTLHours <= 0 {
		add("cache.ttl_hours must be > 0")
	}
	if c.Cache.MaxEntries <= 0 {
		add("cache.max_entries must be > 0")
	}
}

func (c *Config) validateMatching(add func(string, ...any)) {
	m := c.Matching
	if m.MinConfidence <= 0 || m.MinConfidence > 1 {
		add("matching.min_confidence must be in (0, 1]")
	}
	if m.AIConfidenceCap <= 0 || m.AIConfidenceCap > 1 {
		add("matching.ai_confidence_cap must be in (0, 1]")
	}
	if m.ContextSize < 1 {
		add("matching.context_size must be >= 1")
	}
	if m.PriceMismatchRatio <= 0 {
		add("matching.price_mismatch_ratio must be > 0")
	}
	if m.SchemaVersion == "" {
		add("matching.schema_version is required")
	}
}

func (c *Config) validateBatch(add func(string, ...any)) {
	b := c.Batch
	if b.MaxConcurrentBatches < 1 || b.MaxConcurrentBatches > 50 {
		add("batch.max_concurrent_batches must be between 1 and 50")
	}
	if b.MaxBatchSize < 1 || b.MaxBatchSize > 1000 {
		add("batch.max_batch_size must be between 1 and 1000")
	}
	if b.RateLimitRPM < 1 {
		add("batch.rate_limit_rpm must be >= 1")
	}
	if b.MaxExternalCostUSD < 0 || b.MaxExternalCalls < 0 {
		add("batch external budgets must be >= 0")
	}
}
