// Package monitoring exposes Prometheus collectors and a periodic health
// check over the run ledger.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/media-etl/internal/db"
)

// Snapshot is a point-in-time view of run health within a lookback window.
type Snapshot struct {
	Total      int     `json:"total"`
	Success    int     `json:"success"`
	Partial    int     `json:"partial"`
	Failed     int     `json:"failed"`
	Processing int     `json:"processing"`
	FailRate   float64 `json:"fail_rate"`

	RecordsLoaded int64 `json:"records_loaded"`
	RecordsFailed int64 `json:"records_failed"`

	// Unresolved counts partial and failed runs awaiting triage, regardless of age.
	Unresolved int `json:"unresolved"`
	// Stuck counts runs processing for longer than the stuck threshold.
	Stuck int `json:"stuck"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector computes snapshots from ingestion_logs.
type Collector struct {
	q          db.Querier
	stuckAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a Collector. Runs processing longer than stuckAfter
// count as stuck; zero means 30 minutes.
func NewCollector(q db.Querier, stuckAfter time.Duration) *Collector {
	if stuckAfter <= 0 {
		stuckAfter = 30 * time.Minute
	}
	return &Collector{q: q, stuckAfter: stuckAfter, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{LookbackHours: lookbackHours, CollectedAt: now}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	err := c.q.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE status = 'success'),
		        count(*) FILTER (WHERE status = 'partial'),
		        count(*) FILTER (WHERE status = 'failed'),
		        count(*) FILTER (WHERE status = 'processing'),
		        COALESCE(sum(records_loaded), 0),
		        COALESCE(sum(records_failed), 0)
		 FROM ingestion_logs WHERE started_at >= $1`,
		cutoff,
	).Scan(&snap.Total, &snap.Success, &snap.Partial, &snap.Failed, &snap.Processing,
		&snap.RecordsLoaded, &snap.RecordsFailed)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count runs")
	}

	err = c.q.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE resolution_status = 'unresolved'),
		        count(*) FILTER (WHERE status = 'processing' AND finished_at IS NULL AND started_at < $1)
		 FROM ingestion_logs`,
		now.Add(-c.stuckAfter),
	).Scan(&snap.Unresolved, &snap.Stuck)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count backlog")
	}

	if finished := snap.Success + snap.Partial + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	return snap, nil
}
