package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Period selects a rollup granularity.
type Period string

const (
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// TopEntry is one ranked dimension in a summary snapshot.
type TopEntry struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Conversions int64           `json:"conversions"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// TopSnapshot holds the top-N campaigns and creatives for a period.
type TopSnapshot struct {
	CampaignsByConversions []TopEntry `json:"campaigns_by_conversions"`
	CampaignsByRevenue     []TopEntry `json:"campaigns_by_revenue"`
	CreativesByConversions []TopEntry `json:"creatives_by_conversions"`
	CreativesByRevenue     []TopEntry `json:"creatives_by_revenue"`
}

// Summary is a weekly or monthly rollup for one client.
type Summary struct {
	ClientID    uuid.UUID       `json:"client_id"`
	Period      Period          `json:"period"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Conversions int64           `json:"conversions"`
	Revenue     decimal.Decimal `json:"revenue"`
	Derived
	Top TopSnapshot `json:"top"`
}
