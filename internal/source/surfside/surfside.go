// Package surfside pulls daily Surfside exports from the file drop, over S3
// or FTP.
package surfside

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/fetcher"
	"github.com/sells-group/media-etl/internal/model"
	"github.com/sells-group/media-etl/internal/source"
)

// Store finds the first of names present in the drop and returns its bytes.
// It returns source.ErrNoData when none exist.
type Store interface {
	FetchFirst(ctx context.Context, names []string) (string, []byte, error)
}

// Candidates lists the export names for day, in lookup order.
func Candidates(prefix string, day time.Time) []string {
	d := day.Format(model.DateLayout)
	return []string{
		prefix + "surfside_" + d + ".csv",
		prefix + "surfside_" + d + ".xlsx",
		prefix + "Surfside_" + d + ".csv",
		prefix + "Surfside_" + d + ".xlsx",
		prefix + d + "_surfside.csv",
		prefix + d + "_surfside.xlsx",
	}
}

// Source fetches a client's export for a day.
type Source struct {
	store Store
	log   *zap.Logger
}

var _ source.Fetcher = (*Source)(nil)

// New creates a Source over store.
func New(store Store) *Source {
	return &Source{store: store, log: zap.L().With(zap.String("component", "source.surfside"))}
}

// Fetch locates and parses the export under the client's prefix.
func (s *Source) Fetch(ctx context.Context, c model.Client, day time.Time) (*source.Batch, error) {
	name, data, err := s.store.FetchFirst(ctx, Candidates(c.SurfsidePrefix, day))
	if err != nil {
		return nil, eris.Wrapf(err, "surfside: %s %s", c.Name, day.Format(model.DateLayout))
	}

	records, err := fetcher.Parse(ctx, name, data)
	if err != nil {
		return nil, eris.Wrapf(err, "surfside: parse %s", name)
	}
	s.log.Info("export fetched",
		zap.String("client", c.Name),
		zap.String("file", name),
		zap.Int("bytes", len(data)),
		zap.Int("records", len(records)),
	)
	return &source.Batch{FileName: name, Records: records}, nil
}
