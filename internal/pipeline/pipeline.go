// Package pipeline runs a batch of raw source records through
// normalization, staging, fact loading, run bookkeeping and rollups.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/db"
	"github.com/sells-group/media-etl/internal/ledger"
	"github.com/sells-group/media-etl/internal/model"
	"github.com/sells-group/media-etl/internal/monitoring"
	"github.com/sells-group/media-etl/internal/normalize"
	"github.com/sells-group/media-etl/internal/notify"
	"github.com/sells-group/media-etl/internal/staging"
)

// MessageNoValidRecords is the run message when validation rejects everything.
const MessageNoValidRecords = "No valid records found"

// Rollup recomputes summaries for every period a date range touches.
type Rollup interface {
	Range(ctx context.Context, clientID uuid.UUID, from, to time.Time) error
}

// Request is one batch to process.
type Request struct {
	// RunID resumes an existing processing run. A new run is started when zero.
	RunID      uuid.UUID
	ClientID   uuid.UUID
	ClientName string
	Source     model.Source
	RunDate    time.Time
	FileName   string
	Records    []model.Record
}

// Result summarizes a processed batch.
type Result struct {
	RunID    uuid.UUID       `json:"run_id"`
	Status   model.RunStatus `json:"status"`
	Received int             `json:"received"`
	Loaded   int             `json:"loaded"`
	Failed   int             `json:"failed"`
	Invalid  int             `json:"invalid"`
	Message  string          `json:"message"`
}

// Orchestrator wires the batch stages together.
type Orchestrator struct {
	pool     db.Pool
	norm     *normalize.Normalizer
	stage    *staging.Writer
	loader   *Loader
	ledger   *ledger.Ledger
	rollup   Rollup
	notifier notify.Notifier
	metrics  *monitoring.Metrics
	preview  int
	log      *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRollup aggregates touched periods after a batch loads.
func WithRollup(r Rollup) Option {
	return func(o *Orchestrator) { o.rollup = r }
}

// WithNotifier sets the notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithMetrics records run counters.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithValidationPreview caps how many validation errors a notification lists.
func WithValidationPreview(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.preview = n
		}
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(pool db.Pool, loader *Loader, l *ledger.Ledger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		pool:     pool,
		norm:     normalize.New(),
		stage:    staging.NewWriter(),
		loader:   loader,
		ledger:   l,
		notifier: notify.Nop{},
		preview:  5,
		log:      zap.L().With(zap.String("component", "pipeline")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs req to a terminal run state. Run-level failures are
// recorded in the ledger and reported through the notifier; the returned
// error is reserved for failures that left the run unrecorded.
func (o *Orchestrator) Process(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	res := Result{RunID: req.RunID, Received: len(req.Records)}
	if req.RunDate.IsZero() {
		req.RunDate = time.Now().UTC()
	}

	if !req.Source.Valid() {
		err := eris.Wrapf(model.ErrUnknownSource, "pipeline: %q", req.Source)
		if req.RunID == uuid.Nil {
			return res, err
		}
		return o.fail(ctx, req, res, err.Error(), len(req.Records)), nil
	}

	if res.RunID == uuid.Nil {
		id, err := o.ledger.Start(ctx, o.pool, ledger.StartParams{
			Source:   req.Source,
			ClientID: req.ClientID,
			RunDate:  req.RunDate,
			FileName: req.FileName,
		})
		if err != nil {
			return res, err
		}
		res.RunID = id
		req.RunID = id
	}
	log := o.log.With(
		zap.String("run_id", res.RunID.String()),
		zap.String("source", string(req.Source)),
		zap.String("client_id", req.ClientID.String()),
	)
	log.Info("processing batch", zap.Int("records", len(req.Records)))

	batch, err := o.norm.NormalizeBatch(req.Source, req.Records)
	if err != nil {
		return o.fail(ctx, req, res, err.Error(), len(req.Records)), nil
	}
	res.Invalid = len(batch.Invalid)
	if res.Invalid > 0 {
		o.notifyValidation(ctx, req, batch.Invalid)
		log.Warn("invalid records", zap.Int("invalid", res.Invalid))
	}

	if len(batch.Rows) == 0 {
		res = o.fail(ctx, req, res, MessageNoValidRecords, res.Invalid)
		o.metrics.ObserveRun(string(req.Source), string(res.Status), 0, 0, res.Invalid, time.Since(started))
		return res, nil
	}

	if _, err := o.stage.Write(ctx, o.pool, res.RunID, req.ClientID, req.Source, batch.Rows); err != nil {
		log.Error("staging write failed, continuing with load", zap.Error(err))
	}

	loaded, err := o.loader.Load(ctx, LoadRequest{
		RunID:    res.RunID,
		ClientID: req.ClientID,
		Source:   req.Source,
		Rows:     batch.Rows,
		Invalid:  res.Invalid,
	})
	res.Status = loaded.Status
	res.Loaded = loaded.Loaded
	res.Failed = loaded.Failed
	res.Message = loaded.Message
	o.metrics.ObserveRun(string(req.Source), string(res.Status), res.Loaded, res.Failed-res.Invalid, res.Invalid, time.Since(started))

	if err != nil {
		log.Error("load failed", zap.Error(err))
		o.notifyFailure(ctx, req, res.Message)
		if eris.Is(err, ledger.ErrAlreadyFinished) {
			return res, err
		}
		return res, nil
	}
	log.Info("batch finished",
		zap.String("status", string(res.Status)),
		zap.Int("loaded", res.Loaded),
		zap.Int("failed", res.Failed),
		zap.Int("inserted", loaded.Inserted),
		zap.Int("updated", loaded.Updated),
	)

	if res.Status == model.RunStatusFailed {
		o.notifyFailure(ctx, req, res.Message)
	}
	if res.Loaded > 0 && o.rollup != nil {
		from, to, _ := batch.DateRange()
		if err := o.rollup.Range(ctx, req.ClientID, from, to); err != nil {
			log.Error("post-load aggregation failed", zap.Error(err))
		}
	}
	return res, nil
}

// Open starts the processing run for req ahead of fetching its records, so a
// fetch failure still leaves a run behind.
func (o *Orchestrator) Open(ctx context.Context, req Request) (uuid.UUID, error) {
	return o.ledger.Start(ctx, o.pool, ledger.StartParams{
		ID:       req.RunID,
		Source:   req.Source,
		ClientID: req.ClientID,
		RunDate:  req.RunDate,
		FileName: req.FileName,
	})
}

// Abort fails an opened run whose records never arrived.
func (o *Orchestrator) Abort(ctx context.Context, req Request, cause error) Result {
	res := Result{RunID: req.RunID}
	if req.RunDate.IsZero() {
		req.RunDate = time.Now().UTC()
	}
	res = o.fail(ctx, req, res, cause.Error(), 0)
	o.metrics.ObserveRun(string(req.Source), string(res.Status), 0, 0, 0, 0)
	return res
}

// fail terminates the run as failed, notifies, and returns the result.
func (o *Orchestrator) fail(ctx context.Context, req Request, res Result, msg string, failed int) Result {
	res.Status = model.RunStatusFailed
	res.Failed = failed
	res.Message = msg
	if err := o.ledger.Fail(ctx, o.pool, res.RunID, msg, failed); err != nil {
		o.log.Error("could not record run failure",
			zap.String("run_id", res.RunID.String()),
			zap.Error(err),
		)
	}
	o.notifyFailure(ctx, req, msg)
	return res
}

func (o *Orchestrator) notifyValidation(ctx context.Context, req Request, invalid []normalize.ValidationError) {
	preview := invalid
	if len(preview) > o.preview {
		preview = preview[:o.preview]
	}
	msgs := make([]string, len(preview))
	for i := range preview {
		msgs[i] = preview[i].Error()
	}
	o.notifier.Notify(ctx, notify.Event{
		Kind:       notify.KindValidationError,
		Severity:   "medium",
		ClientName: req.ClientName,
		Source:     string(req.Source),
		Date:       req.RunDate,
		Detail:     fmt.Sprintf("%d of %d records failed validation", len(invalid), len(req.Records)),
		Errors:     msgs,
		Timestamp:  time.Now().UTC(),
	})
}

func (o *Orchestrator) notifyFailure(ctx context.Context, req Request, msg string) {
	o.notifier.Notify(ctx, notify.Event{
		Kind:       notify.KindIngestionFailure,
		Severity:   "high",
		ClientName: req.ClientName,
		Source:     string(req.Source),
		Date:       req.RunDate,
		Detail:     msg,
		Timestamp:  time.Now().UTC(),
	})
}
