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
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCheckFailureRate   AlertType = "check_failure_rate"
	AlertRetrainRecommended AlertType = "retrain_recommended"
	AlertChecksStale        AlertType = "checks_stale"
)

// minFinishedChecks is the floor below which the failure-rate alert stays
// quiet; a single failed check out of two is not a trend.
const minFinishedChecks = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    Config
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg Config) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Check failure rate.
	finished := snap.ChecksComplete + snap.ChecksFailed
	if finished >= minFinishedChecks && snap.CheckFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCheckFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Drift check failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.CheckFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.ChecksFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.CheckFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.ChecksFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	// Retrain verdicts.
	if snap.RetrainVerdicts > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRetrainRecommended,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d drift check(s) recommended retraining in last %dh (latest severity %s)",
				snap.RetrainVerdicts, snap.LookbackHours, snap.LatestSeverity,
			),
			Details: map[string]any{
				"retrain_verdicts": snap.RetrainVerdicts,
				"strong_verdicts":  snap.StrongVerdicts,
				"latest_severity":  string(snap.LatestSeverity),
			},
			Timestamp: now,
		})
	}

	// Staleness.
	if a.cfg.StaleAfterHours > 0 {
		staleCutoff := now.Add(-time.Duration(a.cfg.StaleAfterHours) * time.Hour)
		if snap.LastCompletedAt.Before(staleCutoff) {
			msg := fmt.Sprintf("No drift check has completed in the last %dh", a.cfg.StaleAfterHours)
			if snap.LastCompletedAt.IsZero() {
				msg = "No drift check has ever completed"
			}
			alerts = append(alerts, Alert{
				Type:     AlertChecksStale,
				Severity: "medium",
				Message:  msg,
				Details: map[string]any{
					"last_completed_at": snap.LastCompletedAt,
					"stale_after_hours": a.cfg.StaleAfterHours,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
