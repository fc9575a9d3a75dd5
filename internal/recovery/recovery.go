// Package recovery finishes runs left in processing: queued uploads that
// were accepted but not yet processed, and runs orphaned by a crash.
package recovery

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/client"
	"github.com/sells-group/media-etl/internal/db"
	"github.com/sells-group/media-etl/internal/fetcher"
	"github.com/sells-group/media-etl/internal/ledger"
	"github.com/sells-group/media-etl/internal/model"
	"github.com/sells-group/media-etl/internal/monitoring"
	"github.com/sells-group/media-etl/internal/pipeline"
	"github.com/sells-group/media-etl/internal/upload"
)

const (
	// MessageNoSourceFile is the run message when no upload backs a stuck run.
	MessageNoSourceFile = "Source file record not found"

	unknownClient = "Unknown Client"
)

// ErrSweepInFlight is returned when a sweep is already running.
var ErrSweepInFlight = eris.New("recovery: sweep already in flight")

// Processor runs a batch to a terminal run state.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// SweepResult tallies one sweep.
type SweepResult struct {
	Found     int `json:"found"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Monitor sweeps stuck runs. Only one sweep runs at a time.
type Monitor struct {
	pool       db.Pool
	ledger     *ledger.Ledger
	uploads    *upload.Registry
	clients    *client.Directory
	proc       Processor
	metrics    *monitoring.Metrics
	staleAfter time.Duration
	// scheduledAfter bounds upload-less runs of scheduled sources, which the
	// daily ingest holds in processing for the whole load.
	scheduledAfter time.Duration
	now            func() time.Time
	running        atomic.Bool
	log            *zap.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMetrics records sweep outcomes.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(mon *Monitor) { mon.metrics = m }
}

// WithStaleAfter sets how long a run may sit in processing before it is
// treated as orphaned. Pending uploads are picked up regardless.
func WithStaleAfter(d time.Duration) Option {
	return func(mon *Monitor) {
		if d > 0 {
			mon.staleAfter = d
		}
	}
}

// WithScheduledStaleAfter sets how long a scheduled-source run with no
// upload may stay processing before it is failed. It never drops below the
// general stale window.
func WithScheduledStaleAfter(d time.Duration) Option {
	return func(mon *Monitor) {
		if d > 0 {
			mon.scheduledAfter = d
		}
	}
}

// New creates a Monitor.
func New(pool db.Pool, l *ledger.Ledger, uploads *upload.Registry, clients *client.Directory, proc Processor, opts ...Option) *Monitor {
	m := &Monitor{
		pool:       pool,
		ledger:     l,
		uploads:    uploads,
		clients:    clients,
		proc:       proc,
		staleAfter:     30 * time.Minute,
		scheduledAfter: 2 * time.Hour,
		now:            time.Now,
		log:        zap.L().With(zap.String("component", "recovery")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run sweeps every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	m.log.Info("recovery monitor started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.sweepLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("recovery monitor stopped")
			return
		case <-ticker.C:
			m.sweepLogged(ctx)
		}
	}
}

func (m *Monitor) sweepLogged(ctx context.Context) {
	if _, err := m.Sweep(ctx); err != nil && !eris.Is(err, ErrSweepInFlight) {
		m.log.Error("recovery sweep failed", zap.Error(err))
	}
}

// Sweep drives every stuck run it can to a terminal state.
func (m *Monitor) Sweep(ctx context.Context) (SweepResult, error) {
	if !m.running.CompareAndSwap(false, true) {
		m.metrics.ObserveSweep("in_flight")
		return SweepResult{}, ErrSweepInFlight
	}
	defer m.running.Store(false)

	var res SweepResult
	stuck, err := m.ledger.ListStuck(ctx, m.pool)
	if err != nil {
		m.metrics.ObserveSweep("error")
		return res, err
	}
	res.Found = len(stuck)

	for i := range stuck {
		if ctx.Err() != nil {
			break
		}
		m.recover(ctx, &stuck[i], &res)
	}

	if res.Found > 0 {
		m.log.Info("recovery sweep finished",
			zap.Int("found", res.Found),
			zap.Int("processed", res.Processed),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped),
			zap.Int("errors", res.Errors),
		)
	}
	switch {
	case res.Errors > 0:
		m.metrics.ObserveSweep("partial")
	case res.Found == 0:
		m.metrics.ObserveSweep("idle")
	default:
		m.metrics.ObserveSweep("ok")
	}
	return res, ctx.Err()
}

func (m *Monitor) stale(run *model.Run) bool {
	return m.now().Sub(run.StartedAt) >= m.staleAfter
}

// orphaned reports whether a run with no backing upload can be failed.
func (m *Monitor) orphaned(run *model.Run) bool {
	limit := m.staleAfter
	if run.Source.Scheduled() {
		limit = max(limit, m.scheduledAfter)
	}
	return m.now().Sub(run.StartedAt) >= limit
}

func (m *Monitor) recover(ctx context.Context, run *model.Run, res *SweepResult) {
	log := m.log.With(
		zap.String("run_id", run.ID.String()),
		zap.String("source", run.Source.String()),
		zap.String("file", run.FileName),
	)

	var u *model.Upload
	if run.FileName != "" {
		found, err := m.uploads.FindLatest(ctx, m.pool, run.ClientID, run.FileName)
		switch {
		case err == nil:
			u = found
		case !eris.Is(err, upload.ErrNotFound):
			log.Error("upload lookup failed", zap.Error(err))
			res.Errors++
			return
		}
	}

	if u == nil {
		if !m.orphaned(run) {
			res.Skipped++
			return
		}
		log.Warn("no upload backs stuck run")
		m.failRun(ctx, log, run.ID, MessageNoSourceFile, res)
		return
	}
	if u.Status != model.UploadPending && !m.stale(run) {
		res.Skipped++
		return
	}

	m.processUpload(ctx, log, run, u, res)
}

func (m *Monitor) processUpload(ctx context.Context, log *zap.Logger, run *model.Run, u *model.Upload, res *SweepResult) {
	if err := m.uploads.MarkProcessing(ctx, m.pool, u.ID); err != nil {
		log.Error("mark upload processing", zap.Error(err))
		res.Errors++
		return
	}

	data, err := m.uploads.Read(u)
	if err != nil {
		m.failUpload(ctx, log, run.ID, u.ID, fmt.Sprintf("Source file unreadable: %v", err), res)
		return
	}
	records, err := fetcher.Parse(ctx, u.FileName, data)
	if err != nil {
		m.failUpload(ctx, log, run.ID, u.ID, fmt.Sprintf("Source file could not be parsed: %v", err), res)
		return
	}

	out, err := m.proc.Process(ctx, pipeline.Request{
		RunID:      run.ID,
		ClientID:   run.ClientID,
		ClientName: m.clientName(ctx, run.ClientID),
		Source:     run.Source,
		RunDate:    run.RunDate,
		FileName:   run.FileName,
		Records:    records,
	})
	if err != nil {
		log.Error("recovery processing failed", zap.Error(err))
		res.Errors++
		m.markFailed(ctx, log, u.ID, err.Error())
		return
	}

	if out.Status == model.RunStatusFailed {
		res.Failed++
		m.markFailed(ctx, log, u.ID, out.Message)
		return
	}
	res.Processed++
	if err := m.uploads.MarkProcessed(ctx, m.pool, u.ID, out.Loaded); err != nil {
		log.Error("mark upload processed", zap.Error(err))
	}
	log.Info("stuck run recovered", zap.String("status", string(out.Status)), zap.Int("loaded", out.Loaded))
}

func (m *Monitor) failUpload(ctx context.Context, log *zap.Logger, runID, uploadID uuid.UUID, msg string, res *SweepResult) {
	m.failRun(ctx, log, runID, msg, res)
	m.markFailed(ctx, log, uploadID, msg)
}

func (m *Monitor) failRun(ctx context.Context, log *zap.Logger, runID uuid.UUID, msg string, res *SweepResult) {
	if err := m.ledger.Fail(ctx, m.pool, runID, msg, 0); err != nil {
		if eris.Is(err, ledger.ErrAlreadyFinished) {
			res.Skipped++
			return
		}
		log.Error("could not fail stuck run", zap.Error(err))
		res.Errors++
		return
	}
	res.Failed++
}

func (m *Monitor) markFailed(ctx context.Context, log *zap.Logger, uploadID uuid.UUID, msg string) {
	if err := m.uploads.MarkFailed(ctx, m.pool, uploadID, msg); err != nil {
		log.Error("mark upload failed", zap.Error(err))
	}
}

func (m *Monitor) clientName(ctx context.Context, id uuid.UUID) string {
	c, err := m.clients.Get(ctx, m.pool, id)
	if err != nil {
		return unknownClient
	}
	return c.Name
}
