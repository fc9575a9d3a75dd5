// Package staging keeps an audit copy of each normalized batch in
// staging_media_raw. Rows are written once per run and purged by age.
package staging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/db"
	"github.com/sells-group/media-etl/internal/model"
)

// Table is the staging table name.
const Table = "staging_media_raw"

// Columns is the COPY column order for Table.
var Columns = []string{
	"run_id", "client_id", "source", "date", "campaign", "strategy", "placement",
	"creative", "region", "impressions", "clicks", "conversions", "revenue", "ctr",
	"source_rows", "raw_data", "created_at",
}

// Writer copies batches into the staging table.
type Writer struct {
	now func() time.Time
}

// NewWriter creates a Writer.
func NewWriter() *Writer {
	return &Writer{now: time.Now}
}

// Write copies rows for a run and returns the number staged.
func (w *Writer) Write(ctx context.Context, q db.Querier, runID, clientID uuid.UUID, src model.Source, rows []model.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	created := w.now().UTC()

	values := make([][]any, 0, len(rows))
	for i, r := range rows {
		raw, err := rawData(r)
		if err != nil {
			return 0, eris.Wrapf(err, "staging: encode raw row %d", i+1)
		}
		values = append(values, []any{
			runID, clientID, string(src), r.Date,
			nullable(r.Campaign), nullable(r.Strategy), nullable(r.Placement),
			r.Creative, nullable(r.Region),
			r.Impressions, r.Clicks, r.Conversions,
			db.Numeric(r.Revenue), db.NullNumeric(r.CTR),
			r.SourceRows, raw, created,
		})
	}

	n, err := db.CopyFrom(ctx, q, Table, Columns, values)
	if err != nil {
		return 0, eris.Wrapf(err, "staging: write run %s", runID)
	}
	zap.L().Debug("staged rows",
		zap.String("component", "staging"),
		zap.String("run_id", runID.String()),
		zap.Int64("rows", n),
	)
	return n, nil
}

// rawData encodes the source record behind r. A row folded from several
// records stores all of them as a JSON array, first-seen first.
func rawData(r model.Row) ([]byte, error) {
	if len(r.Folded) == 0 {
		return json.Marshal(r.Raw)
	}
	all := make([]model.Record, 0, len(r.Folded)+1)
	if r.Raw != nil {
		all = append(all, r.Raw)
	}
	all = append(all, r.Folded...)
	return json.Marshal(all)
}

// Purge deletes staged rows older than the retention window.
func (w *Writer) Purge(ctx context.Context, q db.Querier, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, eris.Errorf("staging: retention must be positive, got %s", retention)
	}
	cutoff := w.now().UTC().Add(-retention)

	tag, err := q.Exec(ctx, `DELETE FROM staging_media_raw WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "staging: purge")
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
