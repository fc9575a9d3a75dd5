package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/db"
	"github.com/sells-group/media-etl/internal/dimension"
	"github.com/sells-group/media-etl/internal/ledger"
	"github.com/sells-group/media-etl/internal/metrics"
	"github.com/sells-group/media-etl/internal/model"
	"github.com/sells-group/media-etl/internal/rate"
)

const (
	findFactSQL = `SELECT id FROM daily_metrics
		WHERE client_id = $1 AND date = $2 AND source = $3
		  AND campaign_id IS NOT DISTINCT FROM $4
		  AND strategy_id IS NOT DISTINCT FROM $5
		  AND placement_id IS NOT DISTINCT FROM $6
		  AND creative_id = $7`

	updateFactSQL = `UPDATE daily_metrics
		SET region_id = $2, impressions = $3, clicks = $4, conversions = $5, revenue = $6,
		    spend = $7, ctr = $8, cpc = $9, cpa = $10, roas = $11, updated_at = now()
		WHERE id = $1`

	insertFactSQL = `INSERT INTO daily_metrics
		(client_id, date, source, campaign_id, strategy_id, placement_id, creative_id, region_id,
		 impressions, clicks, conversions, revenue, spend, ctr, cpc, cpa, roas)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT ON CONSTRAINT daily_metrics_fact_key DO UPDATE SET
		  region_id = EXCLUDED.region_id, impressions = EXCLUDED.impressions,
		  clicks = EXCLUDED.clicks, conversions = EXCLUDED.conversions, revenue = EXCLUDED.revenue,
		  spend = EXCLUDED.spend, ctr = EXCLUDED.ctr, cpc = EXCLUDED.cpc, cpa = EXCLUDED.cpa,
		  roas = EXCLUDED.roas, updated_at = now()`
)

// LoadRequest is one normalized batch bound to a processing run.
type LoadRequest struct {
	RunID    uuid.UUID
	ClientID uuid.UUID
	Source   model.Source
	Rows     []model.Row
	// Invalid is the number of source records rejected before loading. It
	// feeds the run outcome but no rows.
	Invalid int
}

// LoadResult counts source records, not fact rows: a row folded from three
// records that loads adds three to Loaded.
type LoadResult struct {
	Loaded   int
	Failed   int
	Inserted int
	Updated  int
	Status   model.RunStatus
	Message  string
}

// Loader writes fact rows and finishes the run in one transaction.
type Loader struct {
	pool   db.Pool
	dims   *dimension.Resolver
	rates  *rate.Lookup
	ledger *ledger.Ledger
	log    *zap.Logger
}

// NewLoader creates a Loader.
func NewLoader(pool db.Pool, rates *rate.Lookup, l *ledger.Ledger) *Loader {
	return &Loader{
		pool:   pool,
		dims:   dimension.New(),
		rates:  rates,
		ledger: l,
		log:    zap.L().With(zap.String("component", "pipeline.loader")),
	}
}

// Load upserts every row, each under its own savepoint so one bad row does
// not abort the batch, then records the run outcome in the same
// transaction. If the transaction cannot commit, nothing is kept, every
// record counts as failed, and the run is failed outside the transaction.
func (l *Loader) Load(ctx context.Context, req LoadRequest) (LoadResult, error) {
	res, err := l.load(ctx, req)
	if err == nil {
		return res, nil
	}

	total := sourceRows(req.Rows)
	res = LoadResult{
		Failed:  total + req.Invalid,
		Status:  model.RunStatusFailed,
		Message: fmt.Sprintf("Load failed, %d records rolled back: %v", total, err),
	}
	if eris.Is(err, ledger.ErrAlreadyFinished) {
		return res, err
	}
	if ferr := l.ledger.Fail(ctx, l.pool, req.RunID, res.Message, res.Failed); ferr != nil {
		l.log.Error("could not fail run after rollback",
			zap.String("run_id", req.RunID.String()),
			zap.Error(ferr),
		)
	}
	return res, err
}

func (l *Loader) load(ctx context.Context, req LoadRequest) (LoadResult, error) {
	var res LoadResult

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return res, eris.Wrap(err, "pipeline: begin load")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, row := range req.Rows {
		inserted, err := l.loadRow(ctx, tx, req, row)
		if err != nil {
			res.Failed += weight(row)
			l.log.Warn("row failed to load",
				zap.String("run_id", req.RunID.String()),
				zap.Int("row", i+1),
				zap.String("creative", row.Creative),
				zap.Time("date", row.Date),
				zap.Error(err),
			)
			continue
		}
		res.Loaded += weight(row)
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}

	out := ledger.Outcome{Loaded: res.Loaded, Failed: res.Failed, Invalid: req.Invalid}
	res.Message = out.DefaultMessage()
	res.Status, err = l.ledger.Finish(ctx, tx, req.RunID, out)
	if err != nil {
		return res, err
	}
	res.Failed = out.FailedTotal()

	if err := tx.Commit(ctx); err != nil {
		return res, eris.Wrap(err, "pipeline: commit load")
	}
	return res, nil
}

// loadRow runs one row under a savepoint and reports whether a new fact
// was inserted.
func (l *Loader) loadRow(ctx context.Context, tx pgx.Tx, req LoadRequest, row model.Row) (bool, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "pipeline: savepoint")
	}
	inserted, err := l.upsertFact(ctx, sp, req, row)
	if err != nil {
		_ = sp.Rollback(ctx)
		return false, err
	}
	if err := sp.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "pipeline: release savepoint")
	}
	return inserted, nil
}

func (l *Loader) upsertFact(ctx context.Context, q db.Querier, req LoadRequest, row model.Row) (bool, error) {
	ids, err := l.dims.Hierarchy(ctx, q, req.ClientID, req.Source, row)
	if err != nil {
		return false, err
	}
	r, err := l.rates.Current(ctx, q, req.ClientID, req.Source, endOfDay(row.Date))
	if err != nil {
		return false, err
	}
	d := metrics.Compute(metrics.Counts{
		Impressions: row.Impressions,
		Clicks:      row.Clicks,
		Conversions: row.Conversions,
		Revenue:     row.Revenue,
	}, r.CPM)

	var factID int64
	err = q.QueryRow(ctx, findFactSQL,
		req.ClientID, row.Date, string(req.Source),
		ids.CampaignID, ids.StrategyID, ids.PlacementID, ids.CreativeID,
	).Scan(&factID)
	switch {
	case err == nil:
		_, err = q.Exec(ctx, updateFactSQL,
			factID, ids.RegionID, row.Impressions, row.Clicks, row.Conversions, row.Revenue,
			d.Spend, d.CTR, d.CPC, d.CPA, d.ROAS,
		)
		return false, eris.Wrapf(err, "pipeline: update fact %d", factID)
	case db.IsNoRows(err):
		_, err = q.Exec(ctx, insertFactSQL,
			req.ClientID, row.Date, string(req.Source),
			ids.CampaignID, ids.StrategyID, ids.PlacementID, ids.CreativeID, ids.RegionID,
			row.Impressions, row.Clicks, row.Conversions, row.Revenue,
			d.Spend, d.CTR, d.CPC, d.CPA, d.ROAS,
		)
		return err == nil, eris.Wrap(err, "pipeline: insert fact")
	default:
		return false, eris.Wrap(err, "pipeline: find fact")
	}
}

// endOfDay is the last instant of t's calendar date, so a rate that took
// effect at any time that day applies.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
}

func weight(r model.Row) int {
	return max(r.SourceRows, 1)
}

func sourceRows(rows []model.Row) int {
	n := 0
	for _, r := range rows {
		n += weight(r)
	}
	return n
}
