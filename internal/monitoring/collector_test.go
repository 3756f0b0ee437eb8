package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crossref-cli/internal/cache"
	"github.com/sells-group/crossref-cli/internal/model"
	"github.com/sells-group/crossref-cli/internal/scheduler"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type jobList []scheduler.Snapshot

func (l jobList) Jobs() []scheduler.Snapshot { return l }

type brokenCache struct{ cache.Store }

func (brokenCache) Stats(context.Context) (cache.Stats, error) {
	return cache.Stats{}, errors.New("database is locked")
}

func result(stage model.Stage, flags ...model.Flag) *model.NormalizedResult {
	return &model.NormalizedResult{Stage: stage, Flags: flags}
}

func testJobs() jobList {
	return jobList{
		{
			ID: "recent-ok", Status: scheduler.StatusCompleted, CreatedAt: testNow.Add(-time.Hour),
			Progress: scheduler.Progress{Total: 4, Completed: 3, Failed: 1},
			Results: []*model.NormalizedResult{
				result(model.StageExact, model.FlagHighConfidence),
				result(model.StageSpecification, model.FlagMediumConfidence),
				result(model.StageFailed, model.FlagNeedsReview),
			},
			Errors:  []scheduler.RecordError{{Index: 3, SKU: "D", Message: "boom"}},
			CostUSD: 0.25,
		},
		{
			ID: "recent-failed", Status: scheduler.StatusFailed, CreatedAt: testNow.Add(-2 * time.Hour),
			Progress: scheduler.Progress{Total: 2},
		},
		{
			ID: "recent-running", Status: scheduler.StatusProcessing, CreatedAt: testNow.Add(-time.Minute),
			Progress: scheduler.Progress{Total: 10},
			Results:  []*model.NormalizedResult{nil, result(model.StageAIEnhanced, model.FlagAIGenerated)},
			CostUSD:  0.5,
		},
		{
			ID: "old", Status: scheduler.StatusCompleted, CreatedAt: testNow.Add(-48 * time.Hour),
			Progress: scheduler.Progress{Total: 100, Completed: 100},
			CostUSD:  9,
		},
	}
}

func newTestCollector(jobs JobLister, store cache.Store) *Collector {
	c := NewCollector(jobs, store)
	c.nowFunc = func() time.Time { return testNow }
	return c
}

func TestCollector_Collect(t *testing.T) {
	store := cache.NewMemory(cache.Options{})
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "a", model.StageAIEnhanced, []byte(`{}`)))
	_, err := store.Get(ctx, "a")
	require.NoError(t, err)
	_, err = store.Get(ctx, "missing")
	require.NoError(t, err)

	snap, err := newTestCollector(testJobs(), store).Collect(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.JobsTotal)
	assert.Equal(t, 1, snap.JobsCompleted)
	assert.Equal(t, 1, snap.JobsFailed)
	assert.Equal(t, 1, snap.JobsActive)
	assert.Equal(t, 16, snap.RecordsTotal)
	assert.Equal(t, 4, snap.RecordsResolved)
	assert.Equal(t, 1, snap.RecordsErrored)
	assert.Equal(t, 1, snap.RecordsReview)
	assert.InDelta(t, 0.2, snap.ErrorRate, 1e-9)
	assert.InDelta(t, 0.25, snap.ReviewRate, 1e-9)
	assert.InDelta(t, 0.75, snap.CostUSD, 1e-9)
	assert.Equal(t, 1, snap.StageCounts[model.StageAIEnhanced])
	assert.Equal(t, 1, snap.StageCounts[model.StageFailed])
	assert.Equal(t, 1, snap.CacheEntries)
	assert.InDelta(t, 0.5, snap.CacheHitRate, 1e-9)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, testNow, snap.CollectedAt)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := newTestCollector(jobList{}, nil).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Zero(t, snap.JobsTotal)
	assert.Zero(t, snap.ErrorRate)
	assert.Zero(t, snap.ReviewRate)
	assert.Zero(t, snap.CacheHitRate)
	assert.Len(t, snap.StageCounts, len(model.AllStages()), "every stage is reported, even at zero")
	assert.Zero(t, snap.StageCounts[model.StageWebResearch])
}

func TestCollector_CacheError(t *testing.T) {
	_, err := newTestCollector(testJobs(), brokenCache{}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: cache stats")
}

func TestCollector_WiderWindowIncludesOldJobs(t *testing.T) {
	snap, err := newTestCollector(testJobs(), nil).Collect(context.Background(), 72)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.JobsTotal)
	assert.Equal(t, 2, snap.JobsCompleted)
	assert.InDelta(t, 9.75, snap.CostUSD, 1e-9)
}
