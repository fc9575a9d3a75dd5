// Package ledger records the lifecycle of every ingestion run in
// ingestion_logs. Status moves once from processing to a terminal state;
// the resolution axis belongs to operators.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/media-etl/internal/db"
	"github.com/sells-group/media-etl/internal/model"
)

var (
	// ErrAlreadyFinished is returned when a terminal transition targets a run
	// that is no longer processing.
	ErrAlreadyFinished = eris.New("ledger: run already finished")
	// ErrNotFound is returned when no run has the given id.
	ErrNotFound = eris.New("ledger: run not found")
	// ErrInvalidResolution is returned for a resolution outside the operator set.
	ErrInvalidResolution = eris.New("ledger: invalid resolution status")
)

// StartParams describes a new run.
type StartParams struct {
	ID       uuid.UUID // optional; generated when zero
	Source   model.Source
	ClientID uuid.UUID
	RunDate  time.Time
	FileName string
	Message  string
}

// Outcome is what a finished batch reports.
type Outcome struct {
	Loaded  int
	Failed  int // records that failed to load
	Invalid int // records rejected by validation
	Message string
}

// Status derives the terminal status: success only when nothing failed or
// was invalid, partial when something loaded, failed otherwise.
func (o Outcome) Status() model.RunStatus {
	switch {
	case o.Failed == 0 && o.Invalid == 0 && o.Loaded > 0:
		return model.RunStatusSuccess
	case o.Loaded > 0:
		return model.RunStatusPartial
	default:
		return model.RunStatusFailed
	}
}

// FailedTotal folds invalid records into the failed count.
func (o Outcome) FailedTotal() int {
	return o.Failed + o.Invalid
}

// DefaultMessage summarizes the outcome when the caller gave none.
func (o Outcome) DefaultMessage() string {
	switch o.Status() {
	case model.RunStatusSuccess:
		return fmt.Sprintf("Loaded %d records", o.Loaded)
	case model.RunStatusPartial:
		return fmt.Sprintf("Loaded %d records, %d failed", o.Loaded, o.FailedTotal())
	default:
		return "All records failed to process"
	}
}

// Filter narrows List.
type Filter struct {
	Source     model.Source
	ClientID   uuid.UUID
	Status     model.RunStatus
	Resolution model.ResolutionStatus
	Since      time.Time
	Limit      int
}

// Ledger reads and writes ingestion_logs through whatever Querier it is
// handed, so terminal updates can join a load transaction.
type Ledger struct{}

// New creates a Ledger.
func New() *Ledger {
	return &Ledger{}
}

// Start inserts a processing run and returns its id.
func (l *Ledger) Start(ctx context.Context, q db.Querier, p StartParams) (uuid.UUID, error) {
	if !p.Source.Valid() {
		return uuid.Nil, eris.Wrapf(model.ErrUnknownSource, "ledger: start %q", p.Source)
	}
	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	runDate := p.RunDate
	if runDate.IsZero() {
		runDate = time.Now().UTC()
	}

	_, err := q.Exec(ctx,
		`INSERT INTO ingestion_logs (id, source, client_id, run_date, file_name, status, message, started_at)
		 VALUES ($1, $2, $3, $4, $5, 'processing', $6, now())`,
		id, string(p.Source), p.ClientID, runDate, nullable(p.FileName), nullable(p.Message),
	)
	if err != nil {
		return uuid.Nil, eris.Wrapf(err, "ledger: start %s run", p.Source)
	}
	return id, nil
}

// Finish performs the one terminal transition for a run. Partial and failed
// runs enter the resolution queue as unresolved.
func (l *Ledger) Finish(ctx context.Context, q db.Querier, id uuid.UUID, o Outcome) (model.RunStatus, error) {
	status := o.Status()
	msg := o.Message
	if msg == "" {
		msg = o.DefaultMessage()
	}
	return status, l.transition(ctx, q, id, status, msg, o.Loaded, o.FailedTotal())
}

// Fail marks a processing run failed for a run-level reason.
func (l *Ledger) Fail(ctx context.Context, q db.Querier, id uuid.UUID, msg string, failed int) error {
	return l.transition(ctx, q, id, model.RunStatusFailed, msg, 0, failed)
}

func (l *Ledger) transition(ctx context.Context, q db.Querier, id uuid.UUID, status model.RunStatus, msg string, loaded, failed int) error {
	var resolution *string
	if status != model.RunStatusSuccess {
		r := string(model.ResolutionUnresolved)
		resolution = &r
	}

	tag, err := q.Exec(ctx,
		`UPDATE ingestion_logs
		 SET status = $1, message = $2, records_loaded = $3, records_failed = $4,
		     finished_at = now(), resolution_status = $5
		 WHERE id = $6 AND status = 'processing'`,
		string(status), msg, loaded, failed, resolution, id,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: finish run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrAlreadyFinished, "run %s", id)
	}
	return nil
}

// ListStuck returns runs still processing with no finish time, oldest first.
func (l *Ledger) ListStuck(ctx context.Context, q db.Querier) ([]model.Run, error) {
	return l.query(ctx, q,
		selectRuns+` WHERE status = 'processing' AND finished_at IS NULL ORDER BY started_at`,
	)
}

// Get returns one run.
func (l *Ledger) Get(ctx context.Context, q db.Querier, id uuid.UUID) (*model.Run, error) {
	runs, err := l.query(ctx, q, selectRuns+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return &runs[0], nil
}

// List returns runs matching f, most recent first.
func (l *Ledger) List(ctx context.Context, q db.Querier, f Filter) ([]model.Run, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var clientID *uuid.UUID
	if f.ClientID != uuid.Nil {
		clientID = &f.ClientID
	}
	var since *time.Time
	if !f.Since.IsZero() {
		since = &f.Since
	}

	return l.query(ctx, q,
		selectRuns+`
		 WHERE ($1 = '' OR source = $1)
		   AND ($2::uuid IS NULL OR client_id = $2)
		   AND ($3 = '' OR status = $3)
		   AND ($4 = '' OR resolution_status = $4)
		   AND ($5::timestamptz IS NULL OR started_at >= $5)
		 ORDER BY started_at DESC LIMIT $6`,
		string(f.Source), clientID, string(f.Status), string(f.Resolution), since, limit,
	)
}

// Resolve sets the operator resolution axis. It never changes status.
func (l *Ledger) Resolve(ctx context.Context, q db.Querier, id uuid.UUID, res model.ResolutionStatus, notes, by string) error {
	switch res {
	case model.ResolutionResolved, model.ResolutionIgnored, model.ResolutionUnresolved:
	default:
		return eris.Wrapf(ErrInvalidResolution, "%q", res)
	}

	tag, err := q.Exec(ctx,
		`UPDATE ingestion_logs
		 SET resolution_status = $1, resolution_notes = $2, resolved_by = $3,
		     resolved_at = CASE WHEN $1 = 'unresolved' THEN NULL ELSE now() END
		 WHERE id = $4`,
		string(res), nullable(notes), nullable(by), id,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: resolve run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

const selectRuns = `SELECT id, source, client_id, run_date, file_name, status, message,
	records_loaded, records_failed, started_at, finished_at,
	resolution_status, resolution_notes, resolved_at, resolved_by
	FROM ingestion_logs`

func (l *Ledger) query(ctx context.Context, q db.Querier, sql string, args ...any) ([]model.Run, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: query runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var source, status string
		var fileName, message, resolution, notes, resolvedBy *string
		if err := rows.Scan(&r.ID, &source, &r.ClientID, &r.RunDate, &fileName, &status, &message,
			&r.RecordsLoaded, &r.RecordsFailed, &r.StartedAt, &r.FinishedAt,
			&resolution, &notes, &r.ResolvedAt, &resolvedBy); err != nil {
			return nil, eris.Wrap(err, "ledger: scan run")
		}
		r.Source = model.Source(source)
		r.Status = model.RunStatus(status)
		r.FileName = deref(fileName)
		r.Message = deref(message)
		r.Resolution = model.ResolutionStatus(deref(resolution))
		r.ResolutionNotes = deref(notes)
		r.ResolvedBy = deref(resolvedBy)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
