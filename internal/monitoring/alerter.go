package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/config"
	"github.com/sells-group/media-etl/internal/notify"
)

// Alerter evaluates snapshots against configured thresholds.
type Alerter struct {
	cfg      config.MonitoringConfig
	notifier notify.Notifier
}

// NewAlerter creates an Alerter delivering through n.
func NewAlerter(cfg config.MonitoringConfig, n notify.Notifier) *Alerter {
	return &Alerter{cfg: cfg, notifier: n}
}

// Evaluate returns the alerts snap triggers.
func (a *Alerter) Evaluate(snap *Snapshot) []notify.Event {
	var alerts []notify.Event
	now := time.Now().UTC()

	finished := snap.Success + snap.Partial + snap.Failed
	if finished >= 5 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, notify.Event{
			Kind:     notify.KindFailureRate,
			Severity: "high",
			Detail: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.UnresolvedThreshold > 0 && snap.Unresolved >= a.cfg.UnresolvedThreshold {
		alerts = append(alerts, notify.Event{
			Kind:      notify.KindUnresolved,
			Severity:  "medium",
			Detail:    fmt.Sprintf("%d runs await resolution", snap.Unresolved),
			Details:   map[string]any{"unresolved": snap.Unresolved},
			Timestamp: now,
		})
	}

	if snap.Stuck > 0 {
		alerts = append(alerts, notify.Event{
			Kind:      notify.KindStuckRuns,
			Severity:  "high",
			Detail:    fmt.Sprintf("%d runs still processing past the recovery window", snap.Stuck),
			Details:   map[string]any{"stuck": snap.Stuck},
			Timestamp: now,
		})
	}

	return alerts
}

// Send delivers alerts and returns how many were handed to the notifier.
func (a *Alerter) Send(ctx context.Context, alerts []notify.Event) int {
	for _, alert := range alerts {
		a.notifier.Notify(ctx, alert)
		zap.L().Info("monitoring: alert sent",
			zap.String("kind", string(alert.Kind)),
			zap.String("severity", alert.Severity),
		)
	}
	return len(alerts)
}
