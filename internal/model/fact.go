package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DimensionIDs holds the resolved hierarchy for one fact row. Nil pointers
// mean the level does not exist for the row's source.
type DimensionIDs struct {
	CampaignID  *int64
	StrategyID  *int64
	PlacementID *int64
	CreativeID  int64
	RegionID    *int64
}

// Derived holds the metrics computed from raw counts and a rate.
type Derived struct {
	Spend decimal.Decimal `json:"spend"`
	CTR   decimal.Decimal `json:"ctr"`
	CPC   decimal.Decimal `json:"cpc"`
	CPA   decimal.Decimal `json:"cpa"`
	ROAS  decimal.Decimal `json:"roas"`
}

// Fact is one row of daily_metrics.
type Fact struct {
	ID          int64           `json:"id"`
	ClientID    uuid.UUID       `json:"client_id"`
	Date        time.Time       `json:"date"`
	Source      Source          `json:"source"`
	Dims        DimensionIDs    `json:"-"`
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Conversions int64           `json:"conversions"`
	Revenue     decimal.Decimal `json:"revenue"`
	Derived
}
