package vibe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/client"
	"github.com/sells-group/media-etl/internal/model"
	"github.com/sells-group/media-etl/internal/source"
	vibeapi "github.com/sells-group/media-etl/pkg/vibe"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var (
	acme = model.Client{ID: uuid.MustParse("2f1e0d9c-8b7a-4a6f-9e5d-4c3b2a1f0e9d"), Name: "Acme", Status: model.ClientActive}
	day  = time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)
)

const reportCSV = "impression_date,campaign_name,strategy_name,channel_name,creative_name,impressions,installs,number_of_purchases,amount_of_purchases\n" +
	"2026-09-14,Fall,Retarget,CTV,Spot A,1000,20,2,50\n" +
	"2026-09-14,Fall,Retarget,CTV,Spot B,500,5,0,0\n"

type apiStub struct {
	t       *testing.T
	wantKey string
	wantAdv string
	csv     string
	status  string
	srv     *httptest.Server
	polls   int
}

func (a *apiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(a.t, a.wantKey, r.Header.Get("X-API-KEY"))
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/reporting/v1/std/reports":
		var req vibeapi.ReportRequest
		require.NoError(a.t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(a.t, a.wantAdv, req.AdvertiserID)
		assert.Equal(a.t, "2026-09-14", req.StartDate)
		_ = json.NewEncoder(w).Encode(vibeapi.Report{ReportID: "rep-7", Status: vibeapi.StatusCreated})
	case r.URL.Path == "/reporting/v1/std/reports/rep-7":
		a.polls++
		st := vibeapi.ReportStatus{Status: vibeapi.StatusProcessing}
		if a.polls > 1 {
			st = vibeapi.ReportStatus{Status: a.status, DownloadURL: a.srv.URL + "/dl/rep-7.csv", ErrorMessage: "quota"}
		}
		_ = json.NewEncoder(w).Encode(st)
	case r.URL.Path == "/dl/rep-7.csv":
		_, _ = w.Write([]byte(a.csv))
	default:
		http.NotFound(w, r)
	}
}

func newSource(t *testing.T, mock pgxmock.PgxPoolIface, stub *apiStub, cfg Config) *Source {
	t.Helper()
	stub.t = t
	if stub.status == "" {
		stub.status = vibeapi.StatusDone
	}
	stub.srv = httptest.NewServer(stub)
	t.Cleanup(stub.srv.Close)

	cfg.BaseURL = stub.srv.URL
	cfg.PollInitial = time.Millisecond
	cfg.PollCap = 2 * time.Millisecond
	cfg.Timeout = time.Second
	return New(mock, client.NewDirectory(), cfg)
}

func credRows(key, adv string) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"api_key", "advertiser_id"}).AddRow(key, adv)
}

func TestFetch_ClientCredentials(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM vibe_credentials")).WithArgs(acme.ID).
		WillReturnRows(credRows("acme-key", "adv-1"))

	s := newSource(t, mock, &apiStub{wantKey: "acme-key", wantAdv: "adv-1", csv: reportCSV}, Config{})
	b, err := s.Fetch(context.Background(), acme, day)
	require.NoError(t, err)
	assert.Equal(t, "vibe_2026-09-14_rep-7.csv", b.FileName)
	require.Len(t, b.Records, 2)
	assert.Equal(t, "Spot A", b.Records[0]["creative_name"])
	assert.Equal(t, "CTV", b.Records[1]["channel_name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetch_FallsBackToGlobalKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM vibe_credentials")).WithArgs(acme.ID).
		WillReturnRows(pgxmock.NewRows([]string{"api_key", "advertiser_id"}))

	s := newSource(t, mock, &apiStub{wantKey: "global", wantAdv: "adv-g", csv: reportCSV},
		Config{APIKey: "global", AdvertiserID: "adv-g"})
	b, err := s.Fetch(context.Background(), acme, day)
	require.NoError(t, err)
	assert.Len(t, b.Records, 2)
}

func TestFetch_NoCredentials(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM vibe_credentials")).
		WillReturnRows(pgxmock.NewRows([]string{"api_key", "advertiser_id"}))

	s := newSource(t, mock, &apiStub{}, Config{})
	_, err = s.Fetch(context.Background(), acme, day)
	assert.True(t, eris.Is(err, ErrNoCredentials))
}

func TestFetch_ReportFailed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM vibe_credentials")).WillReturnRows(credRows("k", "a"))

	s := newSource(t, mock, &apiStub{wantKey: "k", wantAdv: "a", status: vibeapi.StatusFailed}, Config{})
	_, err = s.Fetch(context.Background(), acme, day)
	require.Error(t, err)
	assert.True(t, eris.Is(err, vibeapi.ErrReportFailed))
}

func TestFetch_EmptyReport(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM vibe_credentials")).WillReturnRows(credRows("k", "a"))

	s := newSource(t, mock, &apiStub{wantKey: "k", wantAdv: "a", csv: "impression_date,impressions\n"}, Config{})
	_, err = s.Fetch(context.Background(), acme, day)
	assert.True(t, eris.Is(err, source.ErrNoData))
}
