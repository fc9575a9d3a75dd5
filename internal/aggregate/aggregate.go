// Package aggregate rolls daily facts into weekly and monthly summaries.
// A period with no facts gets no summary row; a rerun overwrites the prior
// row in full.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/client"
	"github.com/sells-group/media-etl/internal/db"
	"github.com/sells-group/media-etl/internal/metrics"
	"github.com/sells-group/media-etl/internal/model"
	"github.com/sells-group/media-etl/internal/monitoring"
)

// TopN is how many entities each ranking keeps.
const TopN = 5

type periodTable struct {
	table    string
	startCol string
	endCol   string
}

var tables = map[model.Period]periodTable{
	model.PeriodWeekly:  {table: "weekly_summaries", startCol: "week_start", endCol: "week_end"},
	model.PeriodMonthly: {table: "monthly_summaries", startCol: "month_start", endCol: "month_end"},
}

const totalsSQL = `SELECT count(*),
	COALESCE(sum(impressions), 0), COALESCE(sum(clicks), 0), COALESCE(sum(conversions), 0),
	COALESCE(sum(revenue), 0), COALESCE(sum(spend), 0)
	FROM daily_metrics WHERE client_id = $1 AND date BETWEEN $2 AND $3`

// topSQL ranks one dimension. Facts without the dimension are excluded by
// the inner join.
const topSQL = `SELECT d.id, d.name, sum(m.conversions), sum(m.revenue)
	FROM daily_metrics m JOIN %s d ON d.id = m.%s
	WHERE m.client_id = $1 AND m.date BETWEEN $2 AND $3
	GROUP BY d.id, d.name
	ORDER BY %s DESC, d.name
	LIMIT $4`

// Aggregator computes and stores summaries.
type Aggregator struct {
	q       db.Querier
	clients *client.Directory
	metrics *monitoring.Metrics
	now     func() time.Time
	log     *zap.Logger
}

// New creates an Aggregator over q. m may be nil.
func New(q db.Querier, m *monitoring.Metrics) *Aggregator {
	return &Aggregator{
		q:       q,
		clients: client.NewDirectory(),
		metrics: m,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "aggregate")),
	}
}

// Weekly summarizes the Monday-to-Sunday week containing anyDay.
func (a *Aggregator) Weekly(ctx context.Context, clientID uuid.UUID, anyDay time.Time) (*model.Summary, error) {
	start, end := WeekBounds(anyDay)
	return a.summarize(ctx, clientID, model.PeriodWeekly, start, end)
}

// Monthly summarizes the calendar month containing anyDay.
func (a *Aggregator) Monthly(ctx context.Context, clientID uuid.UUID, anyDay time.Time) (*model.Summary, error) {
	start, end := MonthBounds(anyDay)
	return a.summarize(ctx, clientID, model.PeriodMonthly, start, end)
}

// Period dispatches to Weekly or Monthly.
func (a *Aggregator) Period(ctx context.Context, clientID uuid.UUID, p model.Period, anyDay time.Time) (*model.Summary, error) {
	switch p {
	case model.PeriodWeekly:
		return a.Weekly(ctx, clientID, anyDay)
	case model.PeriodMonthly:
		return a.Monthly(ctx, clientID, anyDay)
	default:
		return nil, eris.Errorf("aggregate: unknown period %q", p)
	}
}

// Range recomputes every week and month that [from, to] touches. All
// periods are attempted; the first error is returned.
func (a *Aggregator) Range(ctx context.Context, clientID uuid.UUID, from, to time.Time) error {
	if to.Before(from) {
		from, to = to, from
	}
	var first error
	for _, wk := range weeksBetween(from, to) {
		if _, err := a.Weekly(ctx, clientID, wk); err != nil && first == nil {
			first = err
		}
	}
	for _, mo := range monthsBetween(from, to) {
		if _, err := a.Monthly(ctx, clientID, mo); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// AllActiveClients summarizes the period containing anyDay for every active
// client and returns how many summaries were written. One client's failure
// does not stop the others.
func (a *Aggregator) AllActiveClients(ctx context.Context, p model.Period, anyDay time.Time) (int, error) {
	clients, err := a.clients.ListActive(ctx, a.q)
	if err != nil {
		return 0, err
	}
	written := 0
	var failed int
	for _, c := range clients {
		s, err := a.Period(ctx, c.ID, p, anyDay)
		if err != nil {
			failed++
			a.log.Error("aggregation failed",
				zap.String("client", c.Name),
				zap.String("period", string(p)),
				zap.Error(err),
			)
			continue
		}
		if s != nil {
			written++
		}
	}
	if failed > 0 {
		return written, eris.Errorf("aggregate: %d of %d clients failed", failed, len(clients))
	}
	return written, nil
}

func (a *Aggregator) summarize(ctx context.Context, clientID uuid.UUID, p model.Period, start, end time.Time) (*model.Summary, error) {
	s, err := a.compute(ctx, clientID, p, start, end)
	switch {
	case err != nil:
		a.metrics.ObserveAggregation(string(p), "error")
		return nil, err
	case s == nil:
		a.metrics.ObserveAggregation(string(p), "empty")
		return nil, nil
	}
	if err := a.store(ctx, s); err != nil {
		a.metrics.ObserveAggregation(string(p), "error")
		return nil, err
	}
	a.metrics.ObserveAggregation(string(p), "written")
	a.log.Debug("summary written",
		zap.String("client_id", clientID.String()),
		zap.String("period", string(p)),
		zap.Time("start", start),
	)
	return s, nil
}

func (a *Aggregator) compute(ctx context.Context, clientID uuid.UUID, p model.Period, start, end time.Time) (*model.Summary, error) {
	var count int64
	var c metrics.Counts
	var spend decimal.Decimal
	err := a.q.QueryRow(ctx, totalsSQL, clientID, start, end).
		Scan(&count, &c.Impressions, &c.Clicks, &c.Conversions, &c.Revenue, &spend)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: totals for %s %s", p, start.Format(model.DateLayout))
	}
	if count == 0 {
		return nil, nil
	}

	s := &model.Summary{
		ClientID:    clientID,
		Period:      p,
		Start:       start,
		End:         end,
		Impressions: c.Impressions,
		Clicks:      c.Clicks,
		Conversions: c.Conversions,
		Revenue:     c.Revenue,
		Derived:     metrics.Ratios(c, spend),
	}

	rankings := []struct {
		dest  *[]model.TopEntry
		table string
		fk    string
		order string
	}{
		{&s.Top.CampaignsByConversions, "campaigns", "campaign_id", "sum(m.conversions)"},
		{&s.Top.CampaignsByRevenue, "campaigns", "campaign_id", "sum(m.revenue)"},
		{&s.Top.CreativesByConversions, "creatives", "creative_id", "sum(m.conversions)"},
		{&s.Top.CreativesByRevenue, "creatives", "creative_id", "sum(m.revenue)"},
	}
	for _, r := range rankings {
		entries, err := a.top(ctx, fmt.Sprintf(topSQL, r.table, r.fk, r.order), clientID, start, end)
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: top %s", r.table)
		}
		*r.dest = entries
	}
	return s, nil
}

func (a *Aggregator) top(ctx context.Context, sql string, clientID uuid.UUID, start, end time.Time) ([]model.TopEntry, error) {
	rows, err := a.q.Query(ctx, sql, clientID, start, end, TopN)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.TopEntry, 0, TopN)
	for rows.Next() {
		var e model.TopEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Conversions, &e.Revenue); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (a *Aggregator) store(ctx context.Context, s *model.Summary) error {
	pt := tables[s.Period]
	top, err := json.Marshal(s.Top)
	if err != nil {
		return eris.Wrap(err, "aggregate: encode top performers")
	}

	_, err = db.Upsert(ctx, a.q, db.UpsertConfig{
		Table: pt.table,
		Columns: []string{
			"client_id", pt.startCol, pt.endCol,
			"impressions", "clicks", "conversions", "revenue",
			"spend", "ctr", "cpc", "cpa", "roas",
			"top_performers", "updated_at",
		},
		ConflictKeys: []string{"client_id", pt.startCol},
	}, []any{
		s.ClientID, s.Start, s.End,
		s.Impressions, s.Clicks, s.Conversions, s.Revenue,
		s.Spend, s.CTR, s.CPC, s.CPA, s.ROAS,
		top, a.now().UTC(),
	})
	return eris.Wrapf(err, "aggregate: store %s summary", s.Period)
}
