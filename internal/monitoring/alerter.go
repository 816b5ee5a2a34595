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

	"github.com/sells-group/registry-ingest/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate  AlertType = "run_failure_rate"
	AlertQuarantineRate  AlertType = "quarantine_rate"
	AlertQuarantineDepth AlertType = "quarantine_depth"
)

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
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Check run failure rate. A handful of runs is not a trend, so the
	// check only fires once at least 5 runs have finished in the window.
	finished := snap.RunsTotal - snap.RunsRunning
	if finished >= 5 && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed, %d degraded / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, snap.RunsDegraded, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"degraded":     snap.RunsDegraded,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	// Check document quarantine rate, gated the same way on volume.
	handled := snap.DocumentsProcessed + snap.DocumentsQuarantined
	if handled >= 5 && snap.QuarantineRate > a.cfg.QuarantineRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertQuarantineRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Quarantine rate %.1f%% exceeds threshold %.1f%% (%d of %d documents in last %dh)",
				snap.QuarantineRate*100, a.cfg.QuarantineRateThreshold*100,
				snap.DocumentsQuarantined, handled, snap.LookbackHours,
			),
			Details: map[string]any{
				"quarantine_rate": snap.QuarantineRate,
				"threshold":       a.cfg.QuarantineRateThreshold,
				"quarantined":     snap.DocumentsQuarantined,
				"handled":         handled,
			},
			Timestamp: now,
		})
	}

	// Check open quarantine backlog.
	if a.cfg.QuarantineDepthThreshold > 0 && snap.QuarantineDepth > a.cfg.QuarantineDepthThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertQuarantineDepth,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Open quarantine backlog %d exceeds threshold %d",
				snap.QuarantineDepth, a.cfg.QuarantineDepthThreshold,
			),
			Details: map[string]any{
				"depth":     snap.QuarantineDepth,
				"threshold": a.cfg.QuarantineDepthThreshold,
				"by_reason": snap.QuarantineByReason,
			},
			Timestamp: now,
		})
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
