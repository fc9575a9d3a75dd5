// Package rate resolves the CPM in force for a client and source at an instant.
package rate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/db"
	"github.com/sells-group/media-etl/internal/model"
)

// DefaultFallbackCPM applies when a client has no rate history for a source.
var DefaultFallbackCPM = decimal.RequireFromString("17.00")

// Rate is a resolved CPM. Fallback is set when no history row qualified.
type Rate struct {
	CPM           decimal.Decimal
	Currency      string
	EffectiveDate time.Time
	Fallback      bool
}

// Lookup reads client_settings. It does no caching.
type Lookup struct {
	fallback decimal.Decimal
	currency string
	log      *zap.Logger
}

// New creates a Lookup with the given fallback CPM and currency. A zero
// fallback selects DefaultFallbackCPM.
func New(fallback decimal.Decimal, currency string) *Lookup {
	if fallback.IsZero() {
		fallback = DefaultFallbackCPM
	}
	if currency == "" {
		currency = "USD"
	}
	return &Lookup{
		fallback: fallback,
		currency: currency,
		log:      zap.L().With(zap.String("component", "rate")),
	}
}

// Current returns the setting with the latest effective date at or before
// instant, or the fallback with a warning when none exists.
func (l *Lookup) Current(ctx context.Context, q db.Querier, clientID uuid.UUID, src model.Source, instant time.Time) (Rate, error) {
	var r Rate
	err := q.QueryRow(ctx,
		`SELECT cpm, currency, effective_date FROM client_settings
		 WHERE client_id = $1 AND source = $2 AND effective_date <= $3
		 ORDER BY effective_date DESC, id DESC LIMIT 1`,
		clientID, string(src), instant,
	).Scan(&r.CPM, &r.Currency, &r.EffectiveDate)
	if err == nil {
		return r, nil
	}
	if !db.IsNoRows(err) {
		return Rate{}, eris.Wrapf(err, "rate: current for %s/%s", clientID, src)
	}

	l.log.Warn("no CPM configured, using fallback",
		zap.String("client_id", clientID.String()),
		zap.String("source", string(src)),
		zap.Time("instant", instant),
		zap.String("fallback", l.fallback.String()),
	)
	return Rate{CPM: l.fallback, Currency: l.currency, Fallback: true}, nil
}

// Add appends a setting to the history. A zero effective date means now.
func (l *Lookup) Add(ctx context.Context, q db.Querier, s model.RateSetting) (model.RateSetting, error) {
	if !s.Source.Valid() {
		return s, eris.Wrapf(model.ErrUnknownSource, "rate: add %q", s.Source)
	}
	if s.CPM.IsNegative() {
		return s, eris.Errorf("rate: negative cpm %s", s.CPM)
	}
	if s.Currency == "" {
		s.Currency = l.currency
	}
	if s.EffectiveDate.IsZero() {
		s.EffectiveDate = time.Now().UTC()
	}

	err := q.QueryRow(ctx,
		`INSERT INTO client_settings (client_id, source, cpm, currency, effective_date)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		s.ClientID, string(s.Source), s.CPM, s.Currency, s.EffectiveDate,
	).Scan(&s.ID)
	if err != nil {
		return s, eris.Wrapf(err, "rate: add for %s/%s", s.ClientID, s.Source)
	}
	return s, nil
}

// History lists a client's settings, newest first. An empty source lists all.
func (l *Lookup) History(ctx context.Context, q db.Querier, clientID uuid.UUID, src model.Source) ([]model.RateSetting, error) {
	rows, err := q.Query(ctx,
		`SELECT id, client_id, source, cpm, currency, effective_date FROM client_settings
		 WHERE client_id = $1 AND ($2 = '' OR source = $2)
		 ORDER BY source, effective_date DESC`,
		clientID, string(src),
	)
	if err != nil {
		return nil, eris.Wrap(err, "rate: history")
	}
	defer rows.Close()

	var out []model.RateSetting
	for rows.Next() {
		var s model.RateSetting
		var source string
		if err := rows.Scan(&s.ID, &s.ClientID, &source, &s.CPM, &s.Currency, &s.EffectiveDate); err != nil {
			return nil, eris.Wrap(err, "rate: scan setting")
		}
		s.Source = model.Source(source)
		out = append(out, s)
	}
	return out, rows.Err()
}
