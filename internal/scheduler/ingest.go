package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/media-etl/internal/client"
	"github.com/sells-group/media-etl/internal/db"
	"github.com/sells-group/media-etl/internal/model"
	"github.com/sells-group/media-etl/internal/pipeline"
	"github.com/sells-group/media-etl/internal/source"
	"github.com/sells-group/media-etl/internal/staging"
)

// Pipeline is the part of the orchestrator a scheduled ingest drives.
type Pipeline interface {
	Open(ctx context.Context, req pipeline.Request) (uuid.UUID, error)
	Abort(ctx context.Context, req pipeline.Request, cause error) pipeline.Result
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// IngestSummary counts per-client outcomes of one daily ingest.
type IngestSummary struct {
	Clients   int   `json:"clients"`
	Succeeded int   `json:"succeeded"`
	Failed    int   `json:"failed"`
	Purged    int64 `json:"purged"`
}

// Ingester pulls one client-day from a source and pushes it through the pipeline.
type Ingester struct {
	pool        db.Pool
	clients     *client.Directory
	sources     map[model.Source]source.Fetcher
	pipe        Pipeline
	stage       *staging.Writer
	retention   time.Duration
	concurrency int
	log         *zap.Logger
}

// IngesterOption configures an Ingester.
type IngesterOption func(*Ingester)

// WithSource registers the fetcher for src.
func WithSource(src model.Source, f source.Fetcher) IngesterOption {
	return func(i *Ingester) { i.sources[src] = f }
}

// WithConcurrency bounds how many clients ingest at once.
func WithConcurrency(n int) IngesterOption {
	return func(i *Ingester) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

// WithStagingPurge purges staging rows older than retention after each daily run.
func WithStagingPurge(w *staging.Writer, retention time.Duration) IngesterOption {
	return func(i *Ingester) {
		i.stage = w
		i.retention = retention
	}
}

// NewIngester creates an Ingester.
func NewIngester(pool db.Pool, clients *client.Directory, pipe Pipeline, opts ...IngesterOption) *Ingester {
	i := &Ingester{
		pool:        pool,
		clients:     clients,
		sources:     make(map[model.Source]source.Fetcher),
		pipe:        pipe,
		concurrency: 4,
		log:         zap.L().With(zap.String("component", "scheduler.ingest")),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Client ingests one day of src for c. The run is opened only once the fetch
// returns, so a slow fetch never leaves a processing run for the recovery
// sweep to fail. A fetch error still opens a run and fails it.
func (i *Ingester) Client(ctx context.Context, src model.Source, c model.Client, day time.Time) (pipeline.Result, error) {
	f, ok := i.sources[src]
	if !ok {
		return pipeline.Result{}, eris.Wrapf(model.ErrUnknownSource, "scheduler: no fetcher for %q", src)
	}

	req := pipeline.Request{
		ClientID:   c.ID,
		ClientName: c.Name,
		Source:     src,
		RunDate:    day,
	}

	batch, fetchErr := f.Fetch(ctx, c, day)
	if fetchErr == nil {
		req.FileName = batch.FileName
	}

	runID, err := i.pipe.Open(ctx, req)
	if err != nil {
		if fetchErr != nil {
			i.log.Error("fetch failed and run could not be recorded",
				zap.String("source", string(src)),
				zap.String("client", c.Name),
				zap.Error(fetchErr),
			)
		}
		return pipeline.Result{}, eris.Wrapf(err, "scheduler: open %s run for %s", src, c.Name)
	}
	req.RunID = runID

	if fetchErr != nil {
		res := i.pipe.Abort(ctx, req, fetchErr)
		return res, eris.Wrapf(fetchErr, "scheduler: fetch %s for %s", src, c.Name)
	}

	req.Records = batch.Records
	res, err := i.pipe.Process(ctx, req)
	if err != nil {
		return res, eris.Wrapf(err, "scheduler: process %s for %s", src, c.Name)
	}
	return res, nil
}

// Source ingests day for every client enrolled in src.
func (i *Ingester) Source(ctx context.Context, src model.Source, day time.Time) (IngestSummary, error) {
	var (
		clients []model.Client
		err     error
	)
	switch src {
	case model.SourceSurfside:
		clients, err = i.clients.ListSurfside(ctx, i.pool)
	case model.SourceVibe:
		clients, err = i.clients.ListVibe(ctx, i.pool)
	default:
		return IngestSummary{}, eris.Wrapf(model.ErrUnknownSource, "scheduler: %q has no scheduled ingest", src)
	}
	if err != nil {
		return IngestSummary{}, eris.Wrapf(err, "scheduler: list %s clients", src)
	}

	var ok, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for _, c := range clients {
		g.Go(func() error {
			res, err := i.Client(gctx, src, c, day)
			if err != nil || res.Status == model.RunStatusFailed {
				failed.Add(1)
				i.log.Warn("client ingest failed",
					zap.String("source", string(src)),
					zap.String("client", c.Name),
					zap.String("message", res.Message),
					zap.Error(err),
				)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	sum := IngestSummary{Clients: len(clients), Succeeded: int(ok.Load()), Failed: int(failed.Load())}
	i.log.Info("source ingest complete",
		zap.String("source", string(src)),
		zap.Time("day", day),
		zap.Int("clients", sum.Clients),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

// All ingests day for every scheduled source, then purges old staging rows.
// A listing failure for one source does not stop the other.
func (i *Ingester) All(ctx context.Context, day time.Time) (IngestSummary, error) {
	var total IngestSummary
	var first error
	for _, src := range []model.Source{model.SourceSurfside, model.SourceVibe} {
		if _, ok := i.sources[src]; !ok {
			continue
		}
		sum, err := i.Source(ctx, src, day)
		if err != nil && first == nil {
			first = err
		}
		total.Clients += sum.Clients
		total.Succeeded += sum.Succeeded
		total.Failed += sum.Failed
	}

	if i.stage != nil && i.retention > 0 {
		n, err := i.stage.Purge(ctx, i.pool, i.retention)
		if err != nil {
			i.log.Warn("staging purge failed", zap.Error(err))
		} else {
			total.Purged = n
		}
	}
	return total, first
}
