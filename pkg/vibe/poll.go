package vibe

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultPollInitial = 30 * time.Second
	defaultPollCap     = 2 * time.Minute
	defaultPollTimeout = 600 * time.Second
)

var (
	// ErrReportTimeout is returned when a report is not done before the poll timeout.
	ErrReportTimeout = eris.New("vibe: report timed out")
	// ErrReportFailed is returned when the API reports the job failed.
	ErrReportFailed = eris.New("vibe: report failed")
)

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial time.Duration
	cap     time.Duration
	timeout time.Duration
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		if d > 0 {
			c.initial = d
		}
	}
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) {
		if d > 0 {
			c.cap = d
		}
	}
}

// WithPollTimeout overrides how long to wait for the report.
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WaitForReport polls until the report is done and returns its download URL.
// The interval doubles from the initial value up to the cap.
func WaitForReport(ctx context.Context, client Client, reportID string, opts ...PollOption) (string, error) {
	cfg := pollConfig{initial: defaultPollInitial, cap: defaultPollCap, timeout: defaultPollTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	deadline := time.NewTimer(cfg.timeout)
	defer deadline.Stop()

	interval := cfg.initial
	for {
		st, err := client.CheckStatus(ctx, reportID)
		if err != nil {
			return "", err
		}

		switch st.Status {
		case StatusDone:
			if st.DownloadURL == "" {
				return "", eris.Errorf("vibe: report %s done without download url", reportID)
			}
			return st.DownloadURL, nil
		case StatusFailed:
			msg := st.ErrorMessage
			if msg == "" {
				msg = "unknown error"
			}
			return "", eris.Wrapf(ErrReportFailed, "%s: %s", reportID, msg)
		case StatusCreated, StatusProcessing:
			zap.L().Debug("vibe: report pending", zap.String("report_id", reportID), zap.String("status", st.Status))
		default:
			return "", eris.Errorf("vibe: report %s has unknown status %q", reportID, st.Status)
		}

		wait := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return "", eris.Wrapf(ctx.Err(), "vibe: poll report %s", reportID)
		case <-deadline.C:
			wait.Stop()
			return "", eris.Wrapf(ErrReportTimeout, "%s after %s", reportID, cfg.timeout)
		case <-wait.C:
		}

		interval *= 2
		if interval > cfg.cap {
			interval = cfg.cap
		}
	}
}
