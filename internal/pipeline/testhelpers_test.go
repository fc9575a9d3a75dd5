package pipeline

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/ledger"
	"github.com/sells-group/media-etl/internal/model"
	"github.com/sells-group/media-etl/internal/notify"
	"github.com/sells-group/media-etl/internal/rate"
	"github.com/sells-group/media-etl/internal/staging"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var (
	runID    = uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	clientID = uuid.MustParse("2f1e0d9c-8b7a-4a6f-9e5d-4c3b2a1f0e9d")
	day      = time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)
)

// dec matches a decimal argument by value.
type dec string

func (d dec) Match(v any) bool {
	x, ok := v.(decimal.Decimal)
	return ok && x.Equal(decimal.RequireFromString(string(d)))
}

func fbRecord(creative string) model.Record {
	return model.Record{
		"Day":                        "2026-09-14",
		"Campaign Name":              "Brand",
		"Ad Name":                    creative,
		"Impressions":                "1000",
		"Link Clicks":                "20",
		"Results":                    "2",
		"Purchases Conversion Value": "50",
	}
}

func idRows(ids ...int64) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"id"})
	for _, id := range ids {
		rows.AddRow(id)
	}
	return rows
}

// expectFacebookRow queues the statements one facebook row issues under its
// savepoint. A non-zero factID takes the update path.
func expectFacebookRow(mock pgxmock.PgxPoolIface, creative string, creativeID, factID int64) {
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM campaigns")).
		WithArgs(clientID, "facebook", "Brand").
		WillReturnRows(idRows(11))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM creatives WHERE campaign_id = $1")).
		WithArgs(int64(11), creative).
		WillReturnRows(idRows(creativeID))
	mock.ExpectQuery(regexp.QuoteMeta("FROM client_settings")).
		WithArgs(clientID, "facebook", endOfDay(day)).
		WillReturnRows(pgxmock.NewRows([]string{"cpm", "currency", "effective_date"}).
			AddRow(decimal.RequireFromString("10.00"), "USD", day.AddDate(0, -1, 0)))
	if factID == 0 {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM daily_metrics")).WillReturnRows(idRows())
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO daily_metrics")).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	} else {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM daily_metrics")).WillReturnRows(idRows(factID))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE daily_metrics")).
			WithArgs(factID, pgxmock.AnyArg(), int64(1000), int64(20), int64(2), dec("50"),
				dec("10"), dec("0.02"), dec("0.5"), dec("5"), dec("5")).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	}
	mock.ExpectCommit()
}

func expectFinish(mock pgxmock.PgxPoolIface, id any, status, msg string, loaded, failed int) {
	var resolution *string
	if status != "success" {
		r := "unresolved"
		resolution = &r
	}
	mock.ExpectExec(regexp.QuoteMeta("UPDATE ingestion_logs")).
		WithArgs(status, msg, loaded, failed, resolution, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

func expectStaging(mock pgxmock.PgxPoolIface, n int64) {
	mock.ExpectCopyFrom(pgx.Identifier{staging.Table}, staging.Columns).WillReturnResult(n)
}

func newLoader(mock pgxmock.PgxPoolIface) *Loader {
	return NewLoader(mock, rate.New(decimal.Zero, ""), ledger.New())
}

type fakeRollup struct {
	mu    sync.Mutex
	calls [][2]time.Time
	err   error
}

func (f *fakeRollup) Range(_ context.Context, _ uuid.UUID, from, to time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]time.Time{from, to})
	return f.err
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}
