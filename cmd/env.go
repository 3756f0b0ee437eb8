package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crossref-cli/internal/cache"
	"github.com/sells-group/crossref-cli/internal/catalog"
	"github.com/sells-group/crossref-cli/internal/config"
	"github.com/sells-group/crossref-cli/internal/cost"
	"github.com/sells-group/crossref-cli/internal/db"
	"github.com/sells-group/crossref-cli/internal/escalation"
	"github.com/sells-group/crossref-cli/internal/normalize"
	"github.com/sells-group/crossref-cli/internal/resilience"
	"github.com/sells-group/crossref-cli/internal/resolver"
	"github.com/sells-group/crossref-cli/internal/scheduler"
	"github.com/sells-group/crossref-cli/pkg/anthropic"
	"github.com/sells-group/crossref-cli/pkg/perplexity"
)

// resolveEnv holds the cache, catalog and resolver needed by the resolve,
// batch and serve commands.
type resolveEnv struct {
	Cache    cache.Store
	Catalog  catalog.Provider
	Guard    *resilience.Guard
	Resolver *resolver.Resolver
}

// Close releases resources held by the environment.
func (e *resolveEnv) Close() {
	if e.Cache != nil {
		if err := e.Cache.Close(); err != nil {
			zap.L().Warn("close cache", zap.Error(err))
		}
	}
}

// newScheduler builds a batch scheduler on top of the environment.
func (e *resolveEnv) newScheduler(c config.BatchConfig) *scheduler.Scheduler {
	return scheduler.New(scheduler.Config{
		MaxConcurrentBatches: c.MaxConcurrentBatches,
		MaxBatchSize:         c.MaxBatchSize,
		RateLimitRPM:         c.RateLimitRPM,
		PollInterval:         c.PollInterval(),
		MaxExternalCostUSD:   c.MaxExternalCostUSD,
		MaxExternalCalls:     c.MaxExternalCalls,
	}, e.Resolver, e.Catalog)
}

// initEnv validates the configuration for mode, opens the cache and builds
// the resolver. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*resolveEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	store, err := openCache(ctx, cfg)
	if err != nil {
		return nil, err
	}

	guard := resilience.NewGuard(cfg.Resilience.GuardConfig())
	calc := cost.NewCalculator(cfg.Pricing)

	var claude anthropic.Client
	if cfg.Anthropic.Key != "" {
		claude = anthropic.NewClient(cfg.Anthropic.Key)
	} else {
		zap.L().Info("anthropic key not set, ai matching disabled")
	}

	var search perplexity.Client
	if cfg.Perplexity.Key != "" {
		search = perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
	} else {
		zap.L().Info("perplexity key not set, web research disabled")
	}

	ai := escalation.NewAIMatcher(claude, escalation.AIConfig{
		Model:     cfg.Anthropic.MatchModel,
		MaxTokens: cfg.Anthropic.MaxTokens,
	}, guard, calc)

	web := escalation.NewWebResearcher(search, claude, escalation.WebConfig{
		ExtractModel: cfg.Anthropic.ExtractModel,
		Domains:      cfg.Perplexity.Domains,
	}, guard, calc)

	res := resolver.New(resolver.Config{
		MinConfidence:   cfg.Matching.MinConfidence,
		AIConfidenceCap: cfg.Matching.AIConfidenceCap,
		ContextSize:     cfg.Matching.ContextSize,
		SchemaVersion:   cfg.Matching.SchemaVersion,
	},
		resolver.WithAI(ai),
		resolver.WithWebResearch(web),
		resolver.WithCache(store),
		resolver.WithNormalizer(normalize.New(normalize.Options{
			PriceMismatchRatio: cfg.Matching.PriceMismatchRatio,
		})),
	)

	return &resolveEnv{
		Cache:    store,
		Catalog:  catalog.NewFileProvider(cfg.Catalog.Path),
		Guard:    guard,
		Resolver: res,
	}, nil
}

// openCache opens the response cache backend named by store.driver.
func openCache(ctx context.Context, c *config.Config) (cache.Store, error) {
	opts := cache.Options{TTL: c.Cache.TTL(), MaxEntries: c.Cache.MaxEntries}

	switch c.Store.Driver {
	case "memory":
		return cache.NewMemory(opts), nil
	case "postgres":
		pool, err := db.Connect(ctx, c.Store.DatabaseURL, db.PoolConfig{MaxConns: c.Store.MaxConns})
		if err != nil {
			return nil, eris.Wrap(err, "open postgres cache")
		}
		s, err := cache.NewPostgres(ctx, pool, opts)
		if err != nil {
			pool.Close()
			return nil, eris.Wrap(err, "open postgres cache")
		}
		return s, nil
	default:
		s, err := cache.NewSQLite(ctx, c.Store.Path, opts)
		if err != nil {
			return nil, eris.Wrap(err, "open sqlite cache")
		}
		return s, nil
	}
}
