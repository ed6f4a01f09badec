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

	"github.com/shelfmetrics/rank-cli/internal/config"
)

// AlertType names the breach category carried in the webhook payload.
type AlertType string

const (
	AlertScanFailureRate AlertType = "scan_failure_rate"
	AlertBlockRate       AlertType = "block_rate"
	AlertStuckQueue      AlertType = "stuck_queue"
)

// minFinishedForRates is the smallest finished-run sample from which the
// failure and block rates are considered meaningful.
const minFinishedForRates = 5

// Alert is the webhook payload for one threshold breach.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns metric snapshots into alerts and posts them to the
// configured webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

// Evaluate checks the snapshot against each threshold and returns the
// alerts that fired.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var fired []Alert
	for _, check := range []func(*MetricsSnapshot) *Alert{
		a.failureRateAlert,
		a.blockRateAlert,
		a.stuckQueueAlert,
	} {
		if alert := check(snap); alert != nil {
			fired = append(fired, *alert)
		}
	}
	return fired
}

func (a *Alerter) failureRateAlert(snap *MetricsSnapshot) *Alert {
	finished := snap.ScanComplete + snap.ScanFailed
	if finished < minFinishedForRates || snap.FailRate <= a.cfg.FailureRateThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertScanFailureRate,
		Severity: "high",
		Message: fmt.Sprintf(
			"Scan failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
			snap.FailRate*100, a.cfg.FailureRateThreshold*100,
			snap.ScanFailed, finished, snap.LookbackHours,
		),
		Details: map[string]any{
			"fail_rate": snap.FailRate,
			"threshold": a.cfg.FailureRateThreshold,
			"failed":    snap.ScanFailed,
			"finished":  finished,
		},
		Timestamp: time.Now().UTC(),
	}
}

// blockRateAlert fires at critical severity: a rising block rate means the
// storefront is flagging the scanner and every further scan makes it worse.
func (a *Alerter) blockRateAlert(snap *MetricsSnapshot) *Alert {
	finished := snap.ScanComplete + snap.ScanFailed
	if finished < minFinishedForRates || snap.BlockRate <= a.cfg.BlockRateThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertBlockRate,
		Severity: "critical",
		Message: fmt.Sprintf(
			"Bot-block rate %.1f%% exceeds threshold %.1f%% in last %dh",
			snap.BlockRate*100, a.cfg.BlockRateThreshold*100, snap.LookbackHours,
		),
		Details: map[string]any{
			"block_rate": snap.BlockRate,
			"threshold":  a.cfg.BlockRateThreshold,
			"finished":   finished,
		},
		Timestamp: time.Now().UTC(),
	}
}

func (a *Alerter) stuckQueueAlert(snap *MetricsSnapshot) *Alert {
	if a.cfg.StuckQueueThreshold <= 0 || snap.QueueDepth <= a.cfg.StuckQueueThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertStuckQueue,
		Severity: "high",
		Message: fmt.Sprintf(
			"%d runs queued exceeds threshold %d; workers may be stalled",
			snap.QueueDepth, a.cfg.StuckQueueThreshold,
		),
		Details: map[string]any{
			"queue_depth": snap.QueueDepth,
			"threshold":   a.cfg.StuckQueueThreshold,
		},
		Timestamp: time.Now().UTC(),
	}
}

// SendAlerts posts each alert to the configured webhook and reports how
// many were delivered. Failures are logged and skipped so one bad delivery
// does not drop the rest.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}

	delivered := 0
	for _, alert := range alerts {
		if err := a.post(ctx, alert); err != nil {
			zap.L().Error("monitoring: webhook delivery failed",
				zap.String("alert", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert delivered",
			zap.String("alert", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		delivered++
	}
	return delivered
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: encode alert payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook status %d", resp.StatusCode)
	}
	return nil
}
