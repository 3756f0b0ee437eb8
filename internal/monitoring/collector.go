// Package monitoring summarizes recent resolution activity and raises
// webhook alerts when it looks unhealthy.
package monitoring

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crossref-cli/internal/cache"
	"github.com/sells-group/crossref-cli/internal/model"
	"github.com/sells-group/crossref-cli/internal/scheduler"
)

// MetricsSnapshot holds a point-in-time view of resolution health.
type MetricsSnapshot struct {
	// Batch jobs created within the lookback window.
	JobsTotal     int `json:"jobs_total"`
	JobsCompleted int `json:"jobs_completed"`
	JobsFailed    int `json:"jobs_failed"`
	JobsCancelled int `json:"jobs_cancelled"`
	JobsActive    int `json:"jobs_active"`

	// Records of those jobs.
	RecordsTotal    int     `json:"records_total"`
	RecordsResolved int     `json:"records_resolved"`
	RecordsErrored  int     `json:"records_errored"`
	RecordsReview   int     `json:"records_review"`
	ErrorRate       float64 `json:"error_rate"`
	ReviewRate      float64 `json:"review_rate"`
	CostUSD         float64 `json:"cost_usd"`

	// Results per winning stage.
	StageCounts map[model.Stage]int `json:"stage_counts"`

	// Response cache.
	CacheEntries int     `json:"cache_entries"`
	CacheHitRate float64 `json:"cache_hit_rate"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobLister abstracts the scheduler methods needed by the collector.
type JobLister interface {
	Jobs() []scheduler.Snapshot
}

// Collector gathers metrics from the scheduler and the response cache.
type Collector struct {
	jobs    JobLister
	cache   cache.Store
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector. store may be nil.
func NewCollector(jobs JobLister, store cache.Store) *Collector {
	return &Collector{jobs: jobs, cache: store, nowFunc: time.Now}
}

// Collect gathers a snapshot of the jobs created within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		StageCounts:   make(map[model.Stage]int),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	for _, st := range model.AllStages() {
		snap.StageCounts[st] = 0
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	for _, j := range c.jobs.Jobs() {
		if j.CreatedAt.Before(cutoff) {
			continue
		}
		snap.JobsTotal++
		switch j.Status {
		case scheduler.StatusCompleted:
			snap.JobsCompleted++
		case scheduler.StatusFailed:
			snap.JobsFailed++
		case scheduler.StatusCancelled:
			snap.JobsCancelled++
		default:
			snap.JobsActive++
		}

		snap.RecordsTotal += j.Progress.Total
		snap.RecordsErrored += len(j.Errors)
		snap.CostUSD += j.CostUSD
		for _, r := range j.Results {
			if r == nil {
				continue
			}
			snap.RecordsResolved++
			snap.StageCounts[r.Stage]++
			if slices.Contains(r.Flags, model.FlagNeedsReview) {
				snap.RecordsReview++
			}
		}
	}

	if processed := snap.RecordsResolved + snap.RecordsErrored; processed > 0 {
		snap.ErrorRate = float64(snap.RecordsErrored) / float64(processed)
	}
	if snap.RecordsResolved > 0 {
		snap.ReviewRate = float64(snap.RecordsReview) / float64(snap.RecordsResolved)
	}

	if c.cache != nil {
		st, err := c.cache.Stats(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: cache stats")
		}
		snap.CacheEntries = st.Entries
		if lookups := st.Hits + st.Misses; lookups > 0 {
			snap.CacheHitRate = float64(st.Hits) / float64(lookups)
		}
	}

	return snap, nil
}
