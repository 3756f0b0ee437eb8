// Package scheduler runs batches of competitor records through the resolver
// with a priority queue, bounded job concurrency, per-job rate limiting,
// cooperative cancellation and progress events.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/crossref-cli/internal/catalog"
	"github.com/sells-group/crossref-cli/internal/cost"
	"github.com/sells-group/crossref-cli/internal/model"
)

// ErrUnknownJob is returned for a job ID the scheduler does not hold.
var ErrUnknownJob = eris.New("scheduler: unknown job")

// Defaults for Config.
const (
	DefaultMaxConcurrentBatches = 3
	DefaultMaxBatchSize         = 10
	DefaultRateLimitRPM         = 50
	DefaultPollInterval         = 250 * time.Millisecond
)

// Config tunes the scheduler. Zero values use the defaults; zero budget
// limits mean unlimited.
type Config struct {
	MaxConcurrentBatches int
	MaxBatchSize         int
	RateLimitRPM         int
	PollInterval         time.Duration
	MaxExternalCostUSD   float64
	MaxExternalCalls     int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentBatches <= 0 {
		c.MaxConcurrentBatches = DefaultMaxConcurrentBatches
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.RateLimitRPM <= 0 {
		c.RateLimitRPM = DefaultRateLimitRPM
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// SubBatchInterval is the delay awaited between two sub-batches of a job.
func (c Config) SubBatchInterval() time.Duration {
	return time.Minute / time.Duration(c.withDefaults().RateLimitRPM)
}

// Resolver resolves one competitor record.
type Resolver interface {
	Resolve(ctx context.Context, comp model.CompetitorRecord, catalog []model.CatalogRecord) (*model.NormalizedResult, error)
}

// Stats counts jobs by status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Scheduler owns the job queue. Construct with New and drive with Run.
type Scheduler struct {
	cfg      Config
	resolver Resolver
	catalog  catalog.Provider
	events   *broker

	mu      sync.Mutex
	jobs    map[string]*job
	queue   []*job
	running int

	nowFunc func() time.Time
}

// New creates a Scheduler.
func New(cfg Config, resolver Resolver, provider catalog.Provider) *Scheduler {
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		resolver: resolver,
		catalog:  provider,
		events:   newBroker(),
		jobs:     make(map[string]*job),
		nowFunc:  time.Now,
	}
}

// Subscribe returns a channel receiving every event emitted from now on, in
// emission order, and a function that ends the subscription. The scheduler
// blocks on a full channel, so subscribers must keep reading or unsubscribe.
func (s *Scheduler) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.subscribe(buffer)
}

// Submit enqueues a copy of records as a new job and returns its ID.
func (s *Scheduler) Submit(records []model.CompetitorRecord, priority Priority) (string, error) {
	if len(records) == 0 {
		return "", eris.New("scheduler: job has no records")
	}
	if !priority.Valid() {
		return "", eris.Errorf("scheduler: invalid priority %d", priority)
	}

	recs := make([]model.CompetitorRecord, len(records))
	for i, r := range records {
		recs[i] = r.Clone()
	}
	j := &job{
		id:        uuid.NewString(),
		priority:  priority,
		status:    StatusPending,
		records:   recs,
		progress:  Progress{Total: len(recs)},
		createdAt: s.nowFunc(),
	}

	s.mu.Lock()
	s.jobs[j.id] = j
	ev := s.eventLocked(j, EventSubmitted)
	s.mu.Unlock()

	zap.L().Info("scheduler: job submitted",
		zap.String("job_id", j.id),
		zap.Int("records", len(recs)),
		zap.Stringer("priority", priority),
	)
	// Publish before queueing so "submitted" always precedes "started".
	s.events.publish(ev)

	s.mu.Lock()
	if j.status == StatusPending {
		s.enqueueLocked(j)
	}
	s.mu.Unlock()
	return j.id, nil
}

// enqueueLocked inserts j after the last queued job of equal or higher
// priority.
func (s *Scheduler) enqueueLocked(j *job) {
	pos := 0
	for i, q := range s.queue {
		if q.priority >= j.priority {
			pos = i + 1
		}
	}
	s.queue = append(s.queue, nil)
	copy(s.queue[pos+1:], s.queue[pos:])
	s.queue[pos] = j
}

// Job returns a snapshot of the job.
func (s *Scheduler) Job(id string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return j.snapshot(), true
}

// Jobs returns snapshots of every retained job, newest first.
func (s *Scheduler) Jobs() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.snapshot())
	}
	sortSnapshots(out)
	return out
}

// Cancel removes a pending job from the queue or signals a processing job to
// stop at its next sub-batch boundary. It reports false for unknown or
// already terminal jobs.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || j.status.Terminal() {
		s.mu.Unlock()
		return false
	}

	switch j.status {
	case StatusPending:
		s.removeQueuedLocked(j)
		s.finishLocked(j, StatusCancelled, "")
		ev := s.eventLocked(j, EventCancelled)
		s.mu.Unlock()
		zap.L().Info("scheduler: pending job cancelled", zap.String("job_id", id))
		s.events.publish(ev)
	default:
		cancel := j.cancel
		s.mu.Unlock()
		zap.L().Info("scheduler: cancellation requested", zap.String("job_id", id))
		if cancel != nil {
			cancel()
		}
	}
	return true
}

func (s *Scheduler) removeQueuedLocked(j *job) {
	for i, q := range s.queue {
		if q == j {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// Stats counts retained jobs by status.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, j := range s.jobs {
		switch j.status {
		case StatusPending:
			st.Pending++
		case StatusProcessing:
			st.Processing++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		case StatusCancelled:
			st.Cancelled++
		}
	}
	return st
}

// Prune drops terminal jobs that finished more than olderThan ago and
// returns how many were dropped.
func (s *Scheduler) Prune(olderThan time.Duration) int {
	cutoff := s.nowFunc().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.status.Terminal() && j.doneAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}

// Run pumps the queue until ctx is done, then waits for running jobs to
// stop and cancels every job still pending.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	zap.L().Info("scheduler: started",
		zap.Int("max_concurrent_batches", s.cfg.MaxConcurrentBatches),
		zap.Int("max_batch_size", s.cfg.MaxBatchSize),
		zap.Int("rate_limit_rpm", s.cfg.RateLimitRPM),
	)

	s.dispatch(gctx, g)
loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case <-ticker.C:
			s.dispatch(gctx, g)
		}
	}

	err := g.Wait()
	s.cancelPending()
	zap.L().Info("scheduler: stopped")
	return err
}

// dispatch starts queued jobs while capacity allows.
func (s *Scheduler) dispatch(ctx context.Context, g *errgroup.Group) {
	for {
		s.mu.Lock()
		if s.running >= s.cfg.MaxConcurrentBatches || len(s.queue) == 0 || ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		j := s.queue[0]
		s.queue = s.queue[1:]
		jobCtx, cancel := context.WithCancel(ctx)
		j.cancel = cancel
		j.status = StatusProcessing
		j.startedAt = s.nowFunc()
		s.running++
		ev := s.eventLocked(j, EventStarted)
		s.mu.Unlock()

		s.events.publish(ev)
		g.Go(func() error {
			defer cancel()
			s.runJob(ctx, jobCtx, j)
			return nil
		})
	}
}

func (s *Scheduler) cancelPending() {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	var evs []Event
	for _, j := range pending {
		s.finishLocked(j, StatusCancelled, "scheduler stopped")
		evs = append(evs, s.eventLocked(j, EventCancelled))
	}
	s.mu.Unlock()
	for _, ev := range evs {
		s.events.publish(ev)
	}
}

// runJob processes one job. runCtx bounds record resolution; jobCtx
// additionally carries the job's cancellation and is checked before each
// sub-batch and during the pause between sub-batches, so an in-flight
// sub-batch always finishes. A cancel that lands during the last sub-batch
// is moot and the job completes.
func (s *Scheduler) runJob(runCtx, jobCtx context.Context, j *job) {
	log := zap.L().With(zap.String("job_id", j.id))
	log.Info("scheduler: job started", zap.Int("records", len(j.records)))

	defer func() {
		if p := recover(); p != nil {
			log.Error("scheduler: job panicked", zap.Any("panic", p))
			s.finish(j, StatusFailed, fmt.Sprintf("job panicked: %v", p))
		}
	}()

	budget := cost.NewBudget(s.cfg.MaxExternalCostUSD, s.cfg.MaxExternalCalls)
	recCtx := cost.WithBudget(runCtx, budget)
	interval := s.cfg.SubBatchInterval()
	start := s.nowFunc()

	interrupted := false
	for lo := 0; lo < len(j.records); lo += s.cfg.MaxBatchSize {
		if lo > 0 {
			if err := pause(jobCtx, interval); err != nil {
				interrupted = true
				break
			}
		}
		if jobCtx.Err() != nil {
			interrupted = true
			break
		}
		hi := min(lo+s.cfg.MaxBatchSize, len(j.records))
		s.runSubBatch(recCtx, j, lo, hi, log)

		s.mu.Lock()
		j.progress.ETA = eta(s.nowFunc().Sub(start), j.progress)
		ev := s.eventLocked(j, EventProgress)
		s.mu.Unlock()
		s.events.publish(ev)
	}

	usd, calls := budget.Spent()
	if interrupted || runCtx.Err() != nil {
		reason := "cancelled"
		if runCtx.Err() != nil {
			reason = "scheduler stopped"
		}
		log.Info("scheduler: job cancelled", zap.Float64("cost_usd", usd), zap.Int("external_calls", calls))
		s.finish(j, StatusCancelled, reason)
		return
	}
	log.Info("scheduler: job completed", zap.Float64("cost_usd", usd), zap.Int("external_calls", calls))
	s.finish(j, StatusCompleted, "")
}

// pause waits one full interval, measured from now, before the next
// sub-batch. The limiter starts drained so its single token takes the whole
// interval to refill.
func pause(ctx context.Context, interval time.Duration) error {
	lim := rate.NewLimiter(rate.Every(interval), 1)
	lim.Allow()
	return lim.Wait(ctx)
}

// runSubBatch resolves records [lo, hi) sequentially.
func (s *Scheduler) runSubBatch(ctx context.Context, j *job, lo, hi int, log *zap.Logger) {
	records, err := s.catalog.Catalog(ctx)
	if err != nil {
		log.Warn("scheduler: catalog unavailable for sub-batch", zap.Int("from", lo), zap.Int("to", hi), zap.Error(err))
		s.mu.Lock()
		for i := lo; i < hi; i++ {
			s.recordErrorLocked(j, i, "catalog: "+err.Error())
		}
		s.mu.Unlock()
		return
	}

	for i := lo; i < hi; i++ {
		res, err := s.resolveOne(ctx, j.records[i], records)
		s.mu.Lock()
		if err != nil {
			s.recordErrorLocked(j, i, err.Error())
		} else {
			j.results = append(j.results, res)
			j.costUSD += res.CostUSD
			j.progress.Completed++
			if res.HasFlag(model.FlagCacheHit) {
				j.progress.Cached++
			}
		}
		s.mu.Unlock()
	}
}

// resolveOne contains resolver panics to the record.
func (s *Scheduler) resolveOne(ctx context.Context, rec model.CompetitorRecord, records []model.CatalogRecord) (res *model.NormalizedResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = eris.Errorf("scheduler: resolver panicked: %v", p)
		}
	}()
	res, err = s.resolver.Resolve(ctx, rec, records)
	if err == nil && res == nil {
		err = eris.New("scheduler: resolver returned no result")
	}
	return res, err
}

func (s *Scheduler) recordErrorLocked(j *job, i int, msg string) {
	j.errors = append(j.errors, RecordError{Index: i, SKU: j.records[i].SKU, Message: msg})
	j.progress.Failed++
}

func (s *Scheduler) finish(j *job, status Status, msg string) {
	s.mu.Lock()
	if j.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.running--
	s.finishLocked(j, status, msg)
	evType := EventCompleted
	switch status {
	case StatusFailed:
		evType = EventFailed
	case StatusCancelled:
		evType = EventCancelled
	}
	ev := s.eventLocked(j, evType)
	s.mu.Unlock()
	s.events.publish(ev)
}

func (s *Scheduler) finishLocked(j *job, status Status, msg string) {
	j.status = status
	j.errMsg = msg
	j.doneAt = s.nowFunc()
	j.progress.ETA = 0
	j.cancel = nil
}

func (s *Scheduler) eventLocked(j *job, t EventType) Event {
	return Event{
		Type:     t,
		JobID:    j.id,
		Status:   j.status,
		Progress: j.progress,
		Error:    j.errMsg,
		Time:     s.nowFunc(),
	}
}

// eta extrapolates the remaining time from elapsed time and the processed
// fraction.
func eta(elapsed time.Duration, p Progress) time.Duration {
	done := p.Processed()
	if done == 0 || p.Total == 0 || done >= p.Total {
		return 0
	}
	fraction := float64(done) / float64(p.Total)
	total := time.Duration(float64(elapsed) / fraction)
	return total - elapsed
}

func sortSnapshots(s []Snapshot) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.After(s[j].CreatedAt)
		}
		return s[i].ID < s[j].ID
	})
}
