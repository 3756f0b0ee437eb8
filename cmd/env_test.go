package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crossref-cli/internal/cache"
	"github.com/sells-group/crossref-cli/internal/config"
	"github.com/sells-group/crossref-cli/internal/model"
)

const testCatalogYAML = `products:
  - sku: GSX160361
    model: GSX16036
    brand: Goodman
    type: air_conditioner
    specs:
      tonnage: 3.0
      seer: 16.2
  - sku: TUD100C936V2
    model: TUD100C936V2
    brand: Trane
    type: furnace
    specs:
      afue: 80
`

// loadTestConfig writes a catalog and config file into a temp dir and loads
// them into the global cfg.
func loadTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalogYAML), 0o644))

	cfgPath := filepath.Join(dir, "config.yaml")
	body := "store:\n  driver: memory\ncatalog:\n  path: " + catalogPath + "\nlog:\n  level: error\n" + extra
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))

	c, err := config.LoadFile(cfgPath)
	require.NoError(t, err)
	cfg = c
	return dir
}

func TestResolveEnv_Close_Nil(t *testing.T) {
	env := &resolveEnv{}
	assert.NotPanics(t, func() {
		env.Close()
	})
}

func TestInitEnv_ResolvesAgainstCatalog(t *testing.T) {
	loadTestConfig(t, "")

	env, err := initEnv(context.Background(), config.ModeResolve)
	require.NoError(t, err)
	defer env.Close()

	records, err := env.Catalog.Catalog(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	res, err := env.Resolver.Resolve(context.Background(), model.CompetitorRecord{SKU: "gsx160361"}, records)
	require.NoError(t, err)
	require.NotNil(t, res.Match)
	assert.Equal(t, "GSX160361", res.Match.SKU)
	assert.Equal(t, model.StageExact, res.Stage)
	assert.True(t, res.IsValid)
}

func TestInitEnv_EscalationDisabledWithoutKeys(t *testing.T) {
	loadTestConfig(t, "")

	env, err := initEnv(context.Background(), config.ModeResolve)
	require.NoError(t, err)
	defer env.Close()

	res, err := env.Resolver.Resolve(context.Background(), model.CompetitorRecord{SKU: "UNKNOWN-1", Company: "Carrier"}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, res.Stage)
	require.Len(t, res.Trace, 5)
	assert.Contains(t, res.Trace[3].Note, "not configured")
	assert.Contains(t, res.Trace[4].Note, "not configured")
}

func TestInitEnv_ValidationFailure(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "memory"}}

	_, err := initEnv(context.Background(), config.ModeResolve)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog.path is required")
}

func TestOpenCache_Memory(t *testing.T) {
	c := &config.Config{
		Store: config.StoreConfig{Driver: "memory"},
		Cache: config.CacheConfig{TTLHours: 1, MaxEntries: 10},
	}

	store, err := openCache(context.Background(), c)
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck

	assert.IsType(t, &cache.MemoryStore{}, store)
}

func TestOpenCache_SQLite(t *testing.T) {
	c := &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "cache.db")},
		Cache: config.CacheConfig{TTLHours: 1, MaxEntries: 10},
	}

	store, err := openCache(context.Background(), c)
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "k", model.StageAIEnhanced, []byte(`{"ok":true}`)))
	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", st.Backend)
	assert.Equal(t, 1, st.Entries)
}

func TestOpenCache_PostgresBadURL(t *testing.T) {
	c := &config.Config{
		Store: config.StoreConfig{Driver: "postgres", DatabaseURL: "postgres://localhost:notaport/db"},
	}

	_, err := openCache(context.Background(), c)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "open postgres cache")
}

func TestNewScheduler_UsesBatchConfig(t *testing.T) {
	loadTestConfig(t, "batch:\n  max_batch_size: 5\n")

	env, err := initEnv(context.Background(), config.ModeBatch)
	require.NoError(t, err)
	defer env.Close()

	sch := env.newScheduler(cfg.Batch)
	require.NotNil(t, sch)
	assert.Equal(t, 5, cfg.Batch.MaxBatchSize)
}
