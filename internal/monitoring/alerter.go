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

	"github.com/sells-group/bankruptcy-monitor/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCountryFailureRate   AlertType = "country_failure_rate"
	AlertOutreachSendFailures AlertType = "outreach_send_failures"
	AlertCountryRunFailed     AlertType = "country_run_failed"
)

// minFinishedRuns is the smallest sample the failure rate is judged on.
const minFinishedRuns = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates snapshots against thresholds and delivers alerts to
// the configured webhook.
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
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.FinishedRuns >= minFinishedRuns && snap.FailureRate > a.cfg.FailureRateThreshold {
		failing := make(map[string]int)
		for code, ch := range snap.Countries {
			if ch.Failed > 0 {
				failing[code] = ch.Failed
			}
		}
		alerts = append(alerts, Alert{
			Type:     AlertCountryFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Country run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.FailedRuns, snap.FinishedRuns, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.FailedRuns,
				"finished":     snap.FinishedRuns,
				"countries":    failing,
			},
			Timestamp: now,
		})
	}

	if snap.FailedSends > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertOutreachSendFailures,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d outreach send(s) failed in last %dh",
				snap.FailedSends, snap.LookbackHours,
			),
			Details: map[string]any{
				"failed_sends":     snap.FailedSends,
				"blocked_approved": snap.BlockedApproved,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// CountryFailed reports a single failed country run straight away.
func (a *Alerter) CountryFailed(ctx context.Context, country, runID string, cause error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	a.SendAlerts(ctx, []Alert{{
		Type:     AlertCountryRunFailed,
		Severity: "high",
		Message:  fmt.Sprintf("Country run %s failed: %s", country, msg),
		Details: map[string]any{
			"country": country,
			"run_id":  runID,
		},
		Timestamp: time.Now().UTC(),
	}})
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
