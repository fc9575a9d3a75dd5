package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClientStatus is either active or disabled.
type ClientStatus string

const (
	ClientActive   ClientStatus = "active"
	ClientDisabled ClientStatus = "disabled"
)

// Client is an advertiser whose media data is ingested.
type Client struct {
	ID     uuid.UUID    `json:"id"`
	Name   string       `json:"name"`
	Status ClientStatus `json:"status"`
	// SurfsidePrefix locates the client's files in the drop; set only by
	// listings that select it.
	SurfsidePrefix string `json:"surfside_prefix,omitempty"`
}

// RateSetting is one entry in a client's CPM history for a source.
type RateSetting struct {
	ID            int64           `json:"id"`
	ClientID      uuid.UUID       `json:"client_id"`
	Source        Source          `json:"source"`
	CPM           decimal.Decimal `json:"cpm"`
	Currency      string          `json:"currency"`
	EffectiveDate time.Time       `json:"effective_date"`
}

// VibeCredentials are a client's report API credentials.
type VibeCredentials struct {
	ClientID     uuid.UUID `json:"client_id"`
	APIKey       string    `json:"-"`
	AdvertiserID string    `json:"advertiser_id"`
}
