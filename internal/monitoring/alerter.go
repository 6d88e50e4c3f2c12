// Package monitoring evaluates integrity run outcomes against alert
// thresholds and delivers alerts and attestations over webhooks.
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

	"github.com/ngn-platform/score-integrity/internal/config"
	"github.com/ngn-platform/score-integrity/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLowPassRate   AlertType = "low_pass_rate"
	AlertLineageTamper AlertType = "lineage_tamper"
	AlertDisputeVolume AlertType = "dispute_volume"
	AlertLongAuditRun  AlertType = "long_audit_run"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// IntegritySnapshot summarizes one audit run for threshold evaluation.
type IntegritySnapshot struct {
	TotalVerified  int
	Passed         int
	Failed         int
	Unverifiable   int
	PassRate       float64
	LineageIssues  map[model.LineageStatus]int
	DisputesOpened int
	RunDuration    time.Duration
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

// Thresholds gates which snapshots raise alerts.
type Thresholds struct {
	// AlertPassRate is the minimum acceptable bulk pass rate.
	AlertPassRate float64
	// DisputeVolume is the maximum dispute count per window.
	DisputeVolume int
	// LongRun is the run duration past which an alert fires.
	LongRun time.Duration
}

// Alerter evaluates an IntegritySnapshot against thresholds and sends
// alerts via webhook when they are breached.
type Alerter struct {
	cfg        config.MonitoringConfig
	thresholds Thresholds
	client     *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig, thresholds Thresholds) *Alerter {
	return &Alerter{
		cfg:        cfg,
		thresholds: thresholds,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any
// alerts. A bulk run with fewer than 5 verifications never raises the
// pass-rate alert: tiny samples make the rate meaningless.
func (a *Alerter) Evaluate(snap *IntegritySnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.TotalVerified >= 5 && snap.PassRate < a.thresholds.AlertPassRate {
		alerts = append(alerts, Alert{
			Type:     AlertLowPassRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"verification pass rate %.1f%% below threshold %.1f%% (%d failed / %d verified)",
				snap.PassRate*100, a.thresholds.AlertPassRate*100,
				snap.Failed, snap.TotalVerified,
			),
			Details: map[string]any{
				"pass_rate": snap.PassRate,
				"threshold": a.thresholds.AlertPassRate,
				"failed":    snap.Failed,
				"verified":  snap.TotalVerified,
			},
			Timestamp: now,
		})
	}

	tampered := snap.LineageIssues[model.LineageModified] + snap.LineageIssues[model.LineageDeleted]
	if tampered > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertLineageTamper,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d source rows behind scored entries were modified or deleted",
				tampered,
			),
			Details: map[string]any{
				"modified": snap.LineageIssues[model.LineageModified],
				"deleted":  snap.LineageIssues[model.LineageDeleted],
			},
			Timestamp: now,
		})
	}

	if a.thresholds.DisputeVolume > 0 && snap.DisputesOpened > a.thresholds.DisputeVolume {
		alerts = append(alerts, Alert{
			Type:     AlertDisputeVolume,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d disputes opened this window, threshold %d",
				snap.DisputesOpened, a.thresholds.DisputeVolume,
			),
			Details: map[string]any{
				"disputes":  snap.DisputesOpened,
				"threshold": a.thresholds.DisputeVolume,
			},
			Timestamp: now,
		})
	}

	if a.thresholds.LongRun > 0 && snap.RunDuration > a.thresholds.LongRun {
		alerts = append(alerts, Alert{
			Type:     AlertLongAuditRun,
			Severity: "medium",
			Message: fmt.Sprintf(
				"audit run took %s, threshold %s",
				snap.RunDuration.Round(time.Second), a.thresholds.LongRun,
			),
			Details: map[string]any{
				"duration_secs":  snap.RunDuration.Seconds(),
				"threshold_secs": a.thresholds.LongRun.Seconds(),
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
		if err := a.post(ctx, a.cfg.WebhookURL, alert); err != nil {
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

// post sends one JSON payload to a webhook URL.
func (a *Alerter) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
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
