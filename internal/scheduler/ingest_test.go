package scheduler

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/media-etl/internal/client"
	"github.com/sells-group/media-etl/internal/model"
	"github.com/sells-group/media-etl/internal/pipeline"
	"github.com/sells-group/media-etl/internal/source"
	"github.com/sells-group/media-etl/internal/staging"
)

type fakeFetcher struct {
	batch   *source.Batch
	fail    map[string]error
	onFetch func()
}

func (f *fakeFetcher) Fetch(_ context.Context, c model.Client, _ time.Time) (*source.Batch, error) {
	if f.onFetch != nil {
		f.onFetch()
	}
	if err := f.fail[c.Name]; err != nil {
		return nil, err
	}
	return f.batch, nil
}

type fakePipeline struct {
	mu        sync.Mutex
	opened    []pipeline.Request
	aborted   []pipeline.Request
	processed []pipeline.Request
	openErr   error
}

func (p *fakePipeline) Open(_ context.Context, req pipeline.Request) (uuid.UUID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = append(p.opened, req)
	if p.openErr != nil {
		return uuid.Nil, p.openErr
	}
	return uuid.New(), nil
}

func (p *fakePipeline) Abort(_ context.Context, req pipeline.Request, cause error) pipeline.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aborted = append(p.aborted, req)
	return pipeline.Result{RunID: req.RunID, Status: model.RunStatusFailed, Message: cause.Error()}
}

func (p *fakePipeline) Process(_ context.Context, req pipeline.Request) (pipeline.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = append(p.processed, req)
	return pipeline.Result{RunID: req.RunID, Status: model.RunStatusSuccess, Loaded: len(req.Records)}, nil
}

var (
	acme   = model.Client{ID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), Name: "Acme", Status: model.ClientActive, SurfsidePrefix: "acme/"}
	globex = model.Client{ID: uuid.MustParse("22222222-2222-2222-2222-222222222222"), Name: "Globex", Status: model.ClientActive, SurfsidePrefix: "globex/"}
	day    = date(2025, 3, 13)
)

func sampleBatch() *source.Batch {
	return &source.Batch{
		FileName: "surfside_2025-03-13.csv",
		Records:  []model.Record{{"Date": "2025-03-13", "Creative": "Banner A"}},
	}
}

func TestClient_Success(t *testing.T) {
	pipe := &fakePipeline{}
	ing := NewIngester(nil, client.NewDirectory(), pipe, WithSource(model.SourceSurfside, &fakeFetcher{batch: sampleBatch()}))

	res, err := ing.Client(context.Background(), model.SourceSurfside, acme, day)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, res.Status)

	require.Len(t, pipe.opened, 1)
	assert.Equal(t, uuid.Nil, pipe.opened[0].RunID)
	assert.Equal(t, day, pipe.opened[0].RunDate)
	assert.Equal(t, "surfside_2025-03-13.csv", pipe.opened[0].FileName)

	require.Len(t, pipe.processed, 1)
	assert.NotEqual(t, uuid.Nil, pipe.processed[0].RunID)
	assert.Equal(t, "surfside_2025-03-13.csv", pipe.processed[0].FileName)
	assert.Equal(t, "Acme", pipe.processed[0].ClientName)
	assert.Len(t, pipe.processed[0].Records, 1)
}

func TestClient_FetchFailureAbortsRun(t *testing.T) {
	pipe := &fakePipeline{}
	f := &fakeFetcher{fail: map[string]error{"Acme": source.ErrNoData}}
	ing := NewIngester(nil, client.NewDirectory(), pipe, WithSource(model.SourceSurfside, f))

	res, err := ing.Client(context.Background(), model.SourceSurfside, acme, day)
	require.Error(t, err)
	assert.True(t, eris.Is(err, source.ErrNoData))
	assert.Equal(t, model.RunStatusFailed, res.Status)
	require.Len(t, pipe.aborted, 1)
	assert.NotEqual(t, uuid.Nil, pipe.aborted[0].RunID)
	assert.Empty(t, pipe.processed)
}

func TestClient_NoRunOpenWhileFetching(t *testing.T) {
	pipe := &fakePipeline{}
	var openDuringFetch int
	f := &fakeFetcher{batch: sampleBatch(), onFetch: func() {
		pipe.mu.Lock()
		openDuringFetch = len(pipe.opened)
		pipe.mu.Unlock()
	}}
	ing := NewIngester(nil, client.NewDirectory(), pipe, WithSource(model.SourceVibe, f))

	_, err := ing.Client(context.Background(), model.SourceVibe, acme, day)
	require.NoError(t, err)
	assert.Zero(t, openDuringFetch)
	assert.Len(t, pipe.opened, 1)
	assert.Len(t, pipe.processed, 1)
}

func TestClient_FetchAndOpenFailure(t *testing.T) {
	pipe := &fakePipeline{openErr: errors.New("db down")}
	f := &fakeFetcher{fail: map[string]error{"Acme": source.ErrNoData}}
	ing := NewIngester(nil, client.NewDirectory(), pipe, WithSource(model.SourceSurfside, f))

	_, err := ing.Client(context.Background(), model.SourceSurfside, acme, day)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Empty(t, pipe.aborted)
}

func TestClient_OpenFailure(t *testing.T) {
	pipe := &fakePipeline{openErr: errors.New("db down")}
	ing := NewIngester(nil, client.NewDirectory(), pipe, WithSource(model.SourceSurfside, &fakeFetcher{batch: sampleBatch()}))

	_, err := ing.Client(context.Background(), model.SourceSurfside, acme, day)
	require.Error(t, err)
	assert.Empty(t, pipe.aborted)
	assert.Empty(t, pipe.processed)
}

func TestClient_NoFetcher(t *testing.T) {
	pipe := &fakePipeline{}
	ing := NewIngester(nil, client.NewDirectory(), pipe)

	_, err := ing.Client(context.Background(), model.SourceVibe, acme, day)
	assert.True(t, eris.Is(err, model.ErrUnknownSource))
	assert.Empty(t, pipe.opened)
}

func TestSource_FansOutAndCounts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("surfside_prefix IS NOT NULL")).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "status", "surfside_prefix"}).
			AddRow(acme.ID, acme.Name, "active", acme.SurfsidePrefix).
			AddRow(globex.ID, globex.Name, "active", globex.SurfsidePrefix))

	pipe := &fakePipeline{}
	f := &fakeFetcher{batch: sampleBatch(), fail: map[string]error{"Globex": errors.New("bucket unreachable")}}
	ing := NewIngester(mock, client.NewDirectory(), pipe,
		WithSource(model.SourceSurfside, f),
		WithConcurrency(2),
	)

	sum, err := ing.Source(context.Background(), model.SourceSurfside, day)
	require.NoError(t, err)
	assert.Equal(t, IngestSummary{Clients: 2, Succeeded: 1, Failed: 1}, sum)
	assert.Len(t, pipe.processed, 1)
	assert.Len(t, pipe.aborted, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSource_Unscheduled(t *testing.T) {
	ing := NewIngester(nil, client.NewDirectory(), &fakePipeline{})

	_, err := ing.Source(context.Background(), model.SourceFacebook, day)
	assert.True(t, eris.Is(err, model.ErrUnknownSource))
}

func TestAll_BothSourcesAndPurge(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("surfside_prefix IS NOT NULL")).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "status", "surfside_prefix"}).
			AddRow(acme.ID, acme.Name, "active", acme.SurfsidePrefix))
	mock.ExpectQuery(regexp.QuoteMeta("JOIN vibe_credentials v")).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "status"}).
			AddRow(globex.ID, globex.Name, "active"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM staging_media_raw")).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	pipe := &fakePipeline{}
	ing := NewIngester(mock, client.NewDirectory(), pipe,
		WithSource(model.SourceSurfside, &fakeFetcher{batch: sampleBatch()}),
		WithSource(model.SourceVibe, &fakeFetcher{batch: sampleBatch()}),
		WithStagingPurge(staging.NewWriter(), 30*24*time.Hour),
	)

	sum, err := ing.All(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, IngestSummary{Clients: 2, Succeeded: 2, Purged: 7}, sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAll_ListFailureStillRunsOtherSource(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("surfside_prefix IS NOT NULL")).WillReturnError(errors.New("timeout"))
	mock.ExpectQuery(regexp.QuoteMeta("JOIN vibe_credentials v")).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "status"}).
			AddRow(globex.ID, globex.Name, "active"))

	pipe := &fakePipeline{}
	ing := NewIngester(mock, client.NewDirectory(), pipe,
		WithSource(model.SourceSurfside, &fakeFetcher{batch: sampleBatch()}),
		WithSource(model.SourceVibe, &fakeFetcher{batch: sampleBatch()}),
	)

	sum, err := ing.All(context.Background(), day)
	require.Error(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}
