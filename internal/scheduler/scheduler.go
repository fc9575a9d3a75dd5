// Package scheduler runs the daily ingest, the weekly and monthly rollups,
// and the recovery sweep on cron schedules. Every job is also callable
// directly so the CLI can trigger it by hand.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/aggregate"
	"github.com/sells-group/media-etl/internal/model"
	"github.com/sells-group/media-etl/internal/recovery"
)

// Job names, used for logging and the single-flight guard.
const (
	JobDailyIngest      = "daily_ingest"
	JobWeeklyAggregate  = "weekly_aggregate"
	JobMonthlyAggregate = "monthly_aggregate"
	JobRecoverySweep    = "recovery_sweep"
)

// ErrJobRunning is returned when a job is triggered while its previous
// invocation is still running.
var ErrJobRunning = eris.New("scheduler: job already running")

// DailyIngester ingests one day for every scheduled source.
type DailyIngester interface {
	All(ctx context.Context, day time.Time) (IngestSummary, error)
}

// Aggregator rolls up one period for all active clients.
type Aggregator interface {
	AllActiveClients(ctx context.Context, p model.Period, anyDay time.Time) (int, error)
}

// Sweeper resumes stuck runs.
type Sweeper interface {
	Sweep(ctx context.Context) (recovery.SweepResult, error)
}

// Config holds the cron specs. Specs have six fields with leading seconds.
type Config struct {
	Location         *time.Location
	DailyIngest      string
	WeeklyAggregate  string
	MonthlyAggregate string
	RecoveryInterval time.Duration
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cfg     Config
	ingest  DailyIngester
	agg     Aggregator
	sweeper Sweeper
	cron    *cron.Cron
	now     func() time.Time

	mu      sync.Mutex
	running map[string]bool

	log *zap.Logger
}

// New creates a Scheduler. Any of ingest, agg or sweeper may be nil, in which
// case its job is not registered.
func New(cfg Config, ingest DailyIngester, agg Aggregator, sweeper Sweeper) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = 5 * time.Minute
	}
	return &Scheduler{
		cfg:     cfg,
		ingest:  ingest,
		agg:     agg,
		sweeper: sweeper,
		cron:    cron.NewWithLocation(cfg.Location),
		now:     time.Now,
		running: make(map[string]bool),
		log:     zap.L().With(zap.String("component", "scheduler")),
	}
}

// today is the current calendar date in the scheduler's zone, as a UTC midnight.
func (s *Scheduler) today() time.Time {
	n := s.now().In(s.cfg.Location)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}

// DailyIngestAll ingests yesterday for every enrolled client.
func (s *Scheduler) DailyIngestAll(ctx context.Context) error {
	return s.guard(JobDailyIngest, func() error {
		day := s.today().AddDate(0, 0, -1)
		sum, err := s.ingest.All(ctx, day)
		s.log.Info("daily ingest finished",
			zap.Time("day", day),
			zap.Int("clients", sum.Clients),
			zap.Int("succeeded", sum.Succeeded),
			zap.Int("failed", sum.Failed),
			zap.Int64("staging_purged", sum.Purged),
		)
		return err
	})
}

// WeeklyAggregate summarizes the previous Monday-anchored week.
func (s *Scheduler) WeeklyAggregate(ctx context.Context) error {
	return s.guard(JobWeeklyAggregate, func() error {
		n, err := s.agg.AllActiveClients(ctx, model.PeriodWeekly, aggregate.PreviousWeek(s.today()))
		s.log.Info("weekly aggregation finished", zap.Int("summaries", n))
		return err
	})
}

// MonthlyAggregate summarizes the previous calendar month.
func (s *Scheduler) MonthlyAggregate(ctx context.Context) error {
	return s.guard(JobMonthlyAggregate, func() error {
		n, err := s.agg.AllActiveClients(ctx, model.PeriodMonthly, aggregate.PreviousMonth(s.today()))
		s.log.Info("monthly aggregation finished", zap.Int("summaries", n))
		return err
	})
}

// RecoverySweep runs one recovery pass. A sweep already in flight is not an error.
func (s *Scheduler) RecoverySweep(ctx context.Context) error {
	return s.guard(JobRecoverySweep, func() error {
		_, err := s.sweeper.Sweep(ctx)
		if eris.Is(err, recovery.ErrSweepInFlight) {
			return nil
		}
		return err
	})
}

// guard runs fn at most once concurrently per job name and converts a panic
// into an error.
func (s *Scheduler) guard(name string, fn func() error) (err error) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		return ErrJobRunning
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("scheduler: %s panicked: %v", name, r)
		}
	}()
	return fn()
}

// Start registers every configured job and starts the cron runner. Jobs run
// with ctx; cancel it and call Stop to shut down.
func (s *Scheduler) Start(ctx context.Context) error {
	type job struct {
		name string
		spec string
		run  func(context.Context) error
	}
	var jobs []job
	if s.ingest != nil {
		jobs = append(jobs, job{JobDailyIngest, s.cfg.DailyIngest, s.DailyIngestAll})
	}
	if s.agg != nil {
		jobs = append(jobs,
			job{JobWeeklyAggregate, s.cfg.WeeklyAggregate, s.WeeklyAggregate},
			job{JobMonthlyAggregate, s.cfg.MonthlyAggregate, s.MonthlyAggregate},
		)
	}
	if s.sweeper != nil {
		jobs = append(jobs, job{JobRecoverySweep, fmt.Sprintf("@every %s", s.cfg.RecoveryInterval), s.RecoverySweep})
	}

	for _, j := range jobs {
		if j.spec == "" {
			return eris.Errorf("scheduler: empty spec for %s", j.name)
		}
		if err := s.cron.AddFunc(j.spec, s.wrap(ctx, j.name, j.run)); err != nil {
			return eris.Wrapf(err, "scheduler: register %s %q", j.name, j.spec)
		}
		s.log.Info("job scheduled", zap.String("job", j.name), zap.String("spec", j.spec))
	}

	s.cron.Start()
	s.log.Info("scheduler started", zap.String("timezone", s.cfg.Location.String()), zap.Int("jobs", len(jobs)))
	return nil
}

// Stop halts the cron runner. Running jobs finish on their own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info("scheduler stopped")
}

// Next returns the next fire time per registered job spec.
func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

func (s *Scheduler) wrap(ctx context.Context, name string, run func(context.Context) error) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		err := run(ctx)
		switch {
		case eris.Is(err, ErrJobRunning):
			s.log.Warn("job skipped, previous run still active", zap.String("job", name))
		case err != nil:
			s.log.Error("job failed", zap.String("job", name), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		default:
			s.log.Debug("job done", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
		}
	}
}
