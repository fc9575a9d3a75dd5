package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar-date format used in keys and file names.
const DateLayout = "2006-01-02"

// Record is one raw source row keyed by its column header.
type Record map[string]string

// Row is a normalized record ready for dimension resolution and loading.
type Row struct {
	Date        time.Time        `json:"date"`
	Campaign    string           `json:"campaign,omitempty"`
	Strategy    string           `json:"strategy,omitempty"`
	Placement   string           `json:"placement,omitempty"`
	Creative    string           `json:"creative"`
	Region      string           `json:"region,omitempty"`
	Impressions int64            `json:"impressions"`
	Clicks      int64            `json:"clicks"`
	Conversions int64            `json:"conversions"`
	Revenue     decimal.Decimal  `json:"revenue"`
	CTR         *decimal.Decimal `json:"ctr,omitempty"`
	SourceRows  int              `json:"source_rows"`
	Raw         Record           `json:"-"`
	// Folded holds the raw records merged into this row after the first.
	Folded []Record `json:"-"`
}

// RowKey identifies rows that collapse into the same fact within a batch.
type RowKey struct {
	Date      string
	Campaign  string
	Strategy  string
	Placement string
	Creative  string
}

// Key returns the batch aggregation key for r.
func (r Row) Key() RowKey {
	return RowKey{
		Date:      r.Date.Format(DateLayout),
		Campaign:  r.Campaign,
		Strategy:  r.Strategy,
		Placement: r.Placement,
		Creative:  r.Creative,
	}
}
