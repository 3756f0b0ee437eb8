package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crossref-cli/internal/config"
	"github.com/sells-group/crossref-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRecordErrorRate AlertType = "record_error_rate"
	AlertReviewRate      AlertType = "manual_review_rate"
	AlertJobFailure      AlertType = "job_failure"
	AlertCostOverrun     AlertType = "cost_overrun"
)

// minRecordsForRate keeps a handful of records from tripping rate alerts.
const minRecordsForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns a MetricsSnapshot into alerts and delivers them to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter returns an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2,
			OnRetry:        resilience.RetryLogger("webhook"),
		},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	processed := snap.RecordsResolved + snap.RecordsErrored
	if a.cfg.FailureRateThreshold > 0 && processed >= minRecordsForRate && snap.ErrorRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRecordErrorRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Record error rate %.1f%% exceeds threshold %.1f%% (%d errored / %d processed in last %dh)",
				snap.ErrorRate*100, a.cfg.FailureRateThreshold*100,
				snap.RecordsErrored, processed, snap.LookbackHours,
			),
			Details: map[string]any{
				"error_rate": snap.ErrorRate,
				"threshold":  a.cfg.FailureRateThreshold,
				"errored":    snap.RecordsErrored,
				"processed":  processed,
			},
			Timestamp: now,
		})
	}

	if a.cfg.ReviewRateThreshold > 0 && snap.RecordsResolved >= minRecordsForRate && snap.ReviewRate > a.cfg.ReviewRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertReviewRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%.1f%% of results need manual review, threshold %.1f%% (%d of %d in last %dh)",
				snap.ReviewRate*100, a.cfg.ReviewRateThreshold*100,
				snap.RecordsReview, snap.RecordsResolved, snap.LookbackHours,
			),
			Details: map[string]any{
				"review_rate": snap.ReviewRate,
				"threshold":   a.cfg.ReviewRateThreshold,
				"stages":      snap.StageCounts,
			},
			Timestamp: now,
		})
	}

	if snap.JobsFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertJobFailure,
			Severity: "high",
			Message:  fmt.Sprintf("%d batch job(s) failed in last %dh", snap.JobsFailed, snap.LookbackHours),
			Details: map[string]any{
				"failed_count": snap.JobsFailed,
				"total_jobs":   snap.JobsTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && snap.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"External API cost $%.2f exceeds threshold $%.2f in last %dh",
				snap.CostUSD, a.cfg.CostThresholdUSD, snap.LookbackHours,
			),
			Details: map[string]any{
				"cost_usd":      snap.CostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
				"jobs_total":    snap.JobsTotal,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts posts each alert to the webhook and returns how many were
// accepted. Server errors are retried with a short backoff.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}

	var delivered int
	for i := range alerts {
		alert := &alerts[i]
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.post(ctx, alert)
		})
		log := zap.L().With(zap.String("type", string(alert.Type)))
		if err != nil {
			log.Error("monitoring: alert not delivered", zap.Error(err))
			continue
		}
		log.Info("monitoring: alert delivered", zap.String("severity", alert.Severity))
		delivered++
	}
	return delivered
}

func (a *Alerter) post(ctx context.Context, alert *Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: encode alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: post webhook"), 0)
	}
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return resilience.NewTransientError(eris.Errorf("monitoring: webhook status %d", resp.StatusCode), resp.StatusCode).
			WithRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 400:
		return eris.Errorf("monitoring: webhook rejected alert with status %d", resp.StatusCode)
	}
	return nil
}
