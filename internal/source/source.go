// Package source defines how scheduled feeds hand a day's records to the
// pipeline.
package source

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/media-etl/internal/model"
)

// ErrNoData is returned when a feed has nothing for the requested day.
var ErrNoData = eris.New("source: no data for date")

// Batch is one day of raw records from a feed.
type Batch struct {
	FileName string
	Records  []model.Record
}

// Fetcher pulls one client's records for a day.
type Fetcher interface {
	Fetch(ctx context.Context, c model.Client, day time.Time) (*Batch, error)
}
