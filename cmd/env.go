package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/aggregate"
	"github.com/sells-group/media-etl/internal/client"
	"github.com/sells-group/media-etl/internal/config"
	"github.com/sells-group/media-etl/internal/db"
	"github.com/sells-group/media-etl/internal/fetcher"
	"github.com/sells-group/media-etl/internal/ledger"
	"github.com/sells-group/media-etl/internal/model"
	"github.com/sells-group/media-etl/internal/monitoring"
	"github.com/sells-group/media-etl/internal/notify"
	"github.com/sells-group/media-etl/internal/pipeline"
	"github.com/sells-group/media-etl/internal/rate"
	"github.com/sells-group/media-etl/internal/recovery"
	"github.com/sells-group/media-etl/internal/scheduler"
	"github.com/sells-group/media-etl/internal/source"
	"github.com/sells-group/media-etl/internal/source/surfside"
	"github.com/sells-group/media-etl/internal/source/vibe"
	"github.com/sells-group/media-etl/internal/staging"
	"github.com/sells-group/media-etl/internal/store"
	"github.com/sells-group/media-etl/internal/upload"
)

// appEnv holds every wired component the commands need.
type appEnv struct {
	store      *store.Postgres
	Pool       db.Pool
	Ledger     *ledger.Ledger
	Clients    *client.Directory
	Rates      *rate.Lookup
	Uploads    *upload.Registry
	Pipeline   *pipeline.Orchestrator
	Aggregator *aggregate.Aggregator
	Recovery   *recovery.Monitor
	Ingester   *scheduler.Ingester
	Metrics    *monitoring.Metrics
	Notifier   notify.Notifier
}

// Close releases the database pool.
func (e *appEnv) Close() {
	if e.store != nil {
		e.store.Close()
	}
}

// initStore opens the pool from config.
func initStore(ctx context.Context) (*store.Postgres, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}

// initEnv opens the store, applies migrations and wires every component.
// Metrics are registered with reg when it is non-nil. Callers should defer
// env.Close().
func initEnv(ctx context.Context, reg prometheus.Registerer) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env, err := newEnv(ctx, cfg, st.Pool(), reg)
	if err != nil {
		st.Close()
		return nil, err
	}
	env.store = st
	return env, nil
}

// newEnv wires components over pool. Sources whose transport is not
// configured are left out and logged.
func newEnv(ctx context.Context, c *config.Config, pool db.Pool, reg prometheus.Registerer) (*appEnv, error) {
	var metrics *monitoring.Metrics
	if reg != nil {
		metrics = monitoring.NewMetrics(reg)
	}

	notifier, err := buildNotifier(ctx, c.Notify)
	if err != nil {
		return nil, err
	}

	l := ledger.New()
	clients := client.NewDirectory()
	rates := rate.New(decimal.NewFromFloat(c.Ingest.FallbackRate), c.Ingest.Currency)
	agg := aggregate.New(pool, metrics)
	orch := pipeline.NewOrchestrator(pool, pipeline.NewLoader(pool, rates, l), l,
		pipeline.WithRollup(agg),
		pipeline.WithNotifier(notifier),
		pipeline.WithMetrics(metrics),
		pipeline.WithValidationPreview(c.Ingest.ValidationPreview),
	)
	uploads := upload.NewRegistry(upload.NewFiles(c.Ingest.UploadDir), l)
	monitor := recovery.New(pool, l, uploads, clients, orch,
		recovery.WithMetrics(metrics),
		recovery.WithStaleAfter(time.Duration(c.Recovery.StaleAfterMins)*time.Minute),
		recovery.WithScheduledStaleAfter(time.Duration(c.Recovery.ScheduledStaleAfterMins)*time.Minute),
	)

	ingestOpts := []scheduler.IngesterOption{
		scheduler.WithConcurrency(c.Ingest.Concurrency),
		scheduler.WithStagingPurge(staging.NewWriter(), c.Ingest.StagingRetention()),
		scheduler.WithSource(model.SourceVibe, vibe.New(pool, clients, vibe.Config{
			BaseURL:         c.Vibe.BaseURL,
			APIKey:          c.Vibe.APIKey,
			AdvertiserID:    c.Vibe.AdvertiserID,
			RequestsPerHour: c.Vibe.RequestsPerHour,
			PollInitial:     time.Duration(c.Vibe.PollInitialSecs) * time.Second,
			PollCap:         time.Duration(c.Vibe.PollCapSecs) * time.Second,
			Timeout:         time.Duration(c.Vibe.TimeoutSecs) * time.Second,
		})),
	}
	ss, err := buildSurfside(ctx, c.Surfside)
	if err != nil {
		return nil, err
	}
	if ss != nil {
		ingestOpts = append(ingestOpts, scheduler.WithSource(model.SourceSurfside, ss))
	} else {
		zap.L().Warn("surfside transport not configured, file-drop ingest disabled",
			zap.String("transport", c.Surfside.Transport))
	}

	return &appEnv{
		Pool:       pool,
		Ledger:     l,
		Clients:    clients,
		Rates:      rates,
		Uploads:    uploads,
		Pipeline:   orch,
		Aggregator: agg,
		Recovery:   monitor,
		Ingester:   scheduler.NewIngester(pool, clients, orch, ingestOpts...),
		Metrics:    metrics,
		Notifier:   notifier,
	}, nil
}

// buildSurfside returns nil when the selected transport lacks its location.
func buildSurfside(ctx context.Context, c config.SurfsideConfig) (source.Fetcher, error) {
	switch c.Transport {
	case "ftp":
		if c.FTPURL == "" {
			return nil, nil
		}
		f := fetcher.NewFTPFetcher(fetcher.FTPOptions{User: c.FTPUser, Password: c.FTPPassword})
		return surfside.New(surfside.NewFTPStore(f, c.FTPURL)), nil
	default:
		if c.S3Bucket == "" {
			return nil, nil
		}
		st, err := surfside.NewS3StoreFromRegion(ctx, c.S3Region, c.S3Bucket, c.S3Prefix)
		if err != nil {
			return nil, eris.Wrap(err, "surfside s3 store")
		}
		return surfside.New(st), nil
	}
}

// buildNotifier always logs, and adds the webhook and SES sinks when configured.
func buildNotifier(ctx context.Context, c config.NotifyConfig) (notify.Notifier, error) {
	sinks := notify.Multi{notify.Log{}}
	if c.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(c.WebhookURL))
	}
	if c.SESFrom != "" && len(c.AdminEmails) > 0 {
		ses, err := notify.NewSESFromRegion(ctx, c.SESRegion, c.SESFrom, c.AdminEmails)
		if err != nil {
			return nil, eris.Wrap(err, "ses notifier")
		}
		sinks = append(sinks, ses)
	}
	return sinks, nil
}

// newScheduler builds the cron scheduler over env.
func newScheduler(env *appEnv) (*scheduler.Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "load timezone %q", cfg.Schedule.Timezone)
	}
	return scheduler.New(scheduler.Config{
		Location:         loc,
		DailyIngest:      cfg.Schedule.DailyIngest,
		WeeklyAggregate:  cfg.Schedule.WeeklyAggregate,
		MonthlyAggregate: cfg.Schedule.MonthlyAggregate,
		RecoveryInterval: time.Duration(cfg.Schedule.RecoveryIntervalSecs) * time.Second,
	}, env.Ingester, env.Aggregator, env.Recovery), nil
}
