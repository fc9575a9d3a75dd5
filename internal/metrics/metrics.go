// Package metrics computes spend and derived performance ratios from raw
// counts using fixed-point decimals. A zero denominator always yields zero.
package metrics

import (
	"github.com/shopspring/decimal"

	"github.com/sells-group/media-etl/internal/model"
)

// Rounding places for each derived field. They match the NUMERIC scales of
// the daily_metrics and summary columns.
const (
	SpendPlaces = 2
	CTRPlaces   = 6
	CPCPlaces   = 4
	CPAPlaces   = 4
	ROASPlaces  = 4
)

var thousand = decimal.NewFromInt(1000)

// Counts are the raw inputs to the derived metrics.
type Counts struct {
	Impressions int64
	Clicks      int64
	Conversions int64
	Revenue     decimal.Decimal
}

// Spend returns (impressions / 1000) * cpm rounded to cents.
func Spend(impressions int64, cpm decimal.Decimal) decimal.Decimal {
	if impressions <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(impressions).Div(thousand).Mul(cpm).Round(SpendPlaces)
}

// CTR returns clicks / impressions, or zero when there were no impressions.
func CTR(clicks, impressions int64) decimal.Decimal {
	if impressions == 0 {
		return decimal.Zero
	}
	return ratio(decimal.NewFromInt(clicks), decimal.NewFromInt(impressions), CTRPlaces)
}

// CPC returns spend / clicks, or zero when there were no clicks.
func CPC(spend decimal.Decimal, clicks int64) decimal.Decimal {
	if clicks == 0 {
		return decimal.Zero
	}
	return ratio(spend, decimal.NewFromInt(clicks), CPCPlaces)
}

// CPA returns spend / conversions, or zero when there were no conversions.
func CPA(spend decimal.Decimal, conversions int64) decimal.Decimal {
	if conversions == 0 {
		return decimal.Zero
	}
	return ratio(spend, decimal.NewFromInt(conversions), CPAPlaces)
}

// ROAS returns revenue / spend, or zero when nothing was spent.
func ROAS(revenue, spend decimal.Decimal) decimal.Decimal {
	if spend.IsZero() {
		return decimal.Zero
	}
	return ratio(revenue, spend, ROASPlaces)
}

// Compute derives every metric for c at the given CPM.
func Compute(c Counts, cpm decimal.Decimal) model.Derived {
	spend := Spend(c.Impressions, cpm)
	return Ratios(c, spend)
}

// Ratios derives CTR, CPC, CPA and ROAS from counts and an already-known
// spend. Rollups use it so ratios come from summed totals.
func Ratios(c Counts, spend decimal.Decimal) model.Derived {
	return model.Derived{
		Spend: spend,
		CTR:   CTR(c.Clicks, c.Impressions),
		CPC:   CPC(spend, c.Clicks),
		CPA:   CPA(spend, c.Conversions),
		ROAS:  ROAS(c.Revenue, spend),
	}
}

// ratio rounds the exact quotient half away from zero, once.
func ratio(num, den decimal.Decimal, places int32) decimal.Decimal {
	return num.DivRound(den, places)
}
