package normalize

import (
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/model"
)

// Batch is the outcome of normalizing one source payload.
type Batch struct {
	Source   model.Source
	Rows     []model.Row // valid rows after key aggregation
	Invalid  []ValidationError
	Received int
}

// Valid returns the number of source records that normalized cleanly.
func (b Batch) Valid() int {
	return b.Received - len(b.Invalid)
}

// DateRange returns the earliest and latest row dates. ok is false for an
// empty batch.
func (b Batch) DateRange() (from, to time.Time, ok bool) {
	for i, r := range b.Rows {
		if i == 0 || r.Date.Before(from) {
			from = r.Date
		}
		if i == 0 || r.Date.After(to) {
			to = r.Date
		}
	}
	return from, to, len(b.Rows) > 0
}

// NormalizeBatch normalizes every record, splits valid from invalid, and
// folds valid rows that share a key. Row numbers in errors are 1-based.
func (n *Normalizer) NormalizeBatch(src model.Source, records []model.Record) (Batch, error) {
	if _, ok := MappingFor(src); !ok {
		return Batch{}, eris.Wrapf(model.ErrUnknownSource, "normalize: %q", src)
	}

	b := Batch{Source: src, Received: len(records)}
	valid := make([]model.Row, 0, len(records))
	for i, rec := range records {
		row, err := n.Normalize(src, rec)
		if err != nil {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				return Batch{}, err
			}
			verr.Row = i + 1
			b.Invalid = append(b.Invalid, *verr)
			continue
		}
		valid = append(valid, row)
	}

	b.Rows = Aggregate(valid)
	if merged := len(valid) - len(b.Rows); merged > 0 {
		n.log.Info("folded duplicate rows",
			zap.String("source", string(src)),
			zap.Int("merged", merged),
			zap.Int("rows", len(b.Rows)),
		)
	}
	return b, nil
}

// Aggregate sums rows sharing (date, campaign, strategy, placement, creative).
// Counts and revenue are added, the first non-empty region is kept, and a
// pre-computed CTR is dropped once two rows merge. Merged raw records are kept
// in Folded. First-seen order is kept.
func Aggregate(rows []model.Row) []model.Row {
	idx := make(map[model.RowKey]int, len(rows))
	out := make([]model.Row, 0, len(rows))
	for _, r := range rows {
		k := r.Key()
		i, seen := idx[k]
		if !seen {
			if r.SourceRows == 0 {
				r.SourceRows = 1
			}
			idx[k] = len(out)
			out = append(out, r)
			continue
		}
		acc := &out[i]
		acc.Impressions += r.Impressions
		acc.Clicks += r.Clicks
		acc.Conversions += r.Conversions
		acc.Revenue = acc.Revenue.Add(r.Revenue)
		acc.CTR = nil
		if acc.Region == "" {
			acc.Region = r.Region
		}
		acc.SourceRows += max(r.SourceRows, 1)
		if r.Raw != nil {
			acc.Folded = append(acc.Folded, r.Raw)
		}
		acc.Folded = append(acc.Folded, r.Folded...)
	}
	return out
}
