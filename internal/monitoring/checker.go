package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/crossref-cli/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates metrics on an interval and forwards alerts. An alert
// type that was delivered recently is held back until its cooldown passes.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	nowFunc   func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker wires a collector to an alerter.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		nowFunc:   time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Run checks once per interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("alert checker running",
		zap.Duration("interval", interval),
		zap.Duration("cooldown", c.cooldown()),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) cooldown() time.Duration {
	return time.Duration(c.cfg.AlertCooldownMins) * time.Minute
}

// check runs one collection and returns the number of alerts delivered.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: collect metrics", zap.Error(err))
		return 0
	}

	due := c.due(c.alerter.Evaluate(snap))
	if len(due) == 0 {
		log.Debug("monitoring: nothing to report",
			zap.Float64("error_rate", snap.ErrorRate),
			zap.Float64("review_rate", snap.ReviewRate),
		)
		return 0
	}

	var sent int
	for _, a := range due {
		if c.alerter.SendAlerts(ctx, []Alert{a}) == 0 {
			continue
		}
		sent++
		c.mu.Lock()
		c.lastSent[a.Type] = c.nowFunc()
		c.mu.Unlock()
	}
	log.Info("monitoring: alerts evaluated",
		zap.Int("due", len(due)),
		zap.Int("sent", sent),
		zap.Int("jobs", snap.JobsTotal),
		zap.Float64("cost_usd", snap.CostUSD),
	)
	return sent
}

// due drops alerts whose type is still cooling down.
func (c *Checker) due(alerts []Alert) []Alert {
	window := c.cooldown()
	if window <= 0 || len(alerts) == 0 {
		return alerts
	}
	now := c.nowFunc()

	c.mu.Lock()
	defer c.mu.Unlock()
	out := alerts[:0]
	for _, a := range alerts {
		if at, ok := c.lastSent[a.Type]; ok && now.Sub(at) < window {
			continue
		}
		out = append(out, a)
	}
	return out
}
