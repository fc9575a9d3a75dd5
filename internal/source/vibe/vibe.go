// Package vibe fetches daily reports from the Vibe reporting API.
package vibe

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/media-etl/internal/client"
	"github.com/sells-group/media-etl/internal/db"
	"github.com/sells-group/media-etl/internal/fetcher"
	"github.com/sells-group/media-etl/internal/model"
	"github.com/sells-group/media-etl/internal/source"
	vibeapi "github.com/sells-group/media-etl/pkg/vibe"
)

// ErrNoCredentials is returned when neither the client nor the global
// config provides an API key.
var ErrNoCredentials = eris.New("vibe: no credentials")

// Config holds the API settings shared by every client.
type Config struct {
	BaseURL         string
	APIKey          string // fallback when a client has no stored credentials
	AdvertiserID    string
	RequestsPerHour int
	PollInitial     time.Duration
	PollCap         time.Duration
	Timeout         time.Duration
}

// Source fetches one client-day per report.
type Source struct {
	q         db.Querier
	clients   *client.Directory
	cfg       Config
	limiter   *rate.Limiter
	newClient func(apiKey string) vibeapi.Client
	log       *zap.Logger
}

var _ source.Fetcher = (*Source)(nil)

// New creates a Source. One creation limiter is shared across all clients.
func New(q db.Querier, clients *client.Directory, cfg Config) *Source {
	s := &Source{
		q:       q,
		clients: clients,
		cfg:     cfg,
		limiter: vibeapi.NewLimiter(cfg.RequestsPerHour),
		log:     zap.L().With(zap.String("component", "source.vibe")),
	}
	s.newClient = func(apiKey string) vibeapi.Client {
		return vibeapi.NewClient(apiKey, vibeapi.WithBaseURL(cfg.BaseURL), vibeapi.WithLimiter(s.limiter))
	}
	return s
}

func (s *Source) credentials(ctx context.Context, c model.Client) (*model.VibeCredentials, error) {
	creds, err := s.clients.VibeCredentials(ctx, s.q, c.ID)
	if err == nil {
		if creds.AdvertiserID == "" {
			creds.AdvertiserID = s.cfg.AdvertiserID
		}
		return creds, nil
	}
	if !eris.Is(err, client.ErrNoCredentials) {
		return nil, err
	}
	if s.cfg.APIKey == "" {
		return nil, eris.Wrapf(ErrNoCredentials, "client %s", c.Name)
	}
	return &model.VibeCredentials{ClientID: c.ID, APIKey: s.cfg.APIKey, AdvertiserID: s.cfg.AdvertiserID}, nil
}

// Fetch requests a report for day, waits for it and parses the CSV.
func (s *Source) Fetch(ctx context.Context, c model.Client, day time.Time) (*source.Batch, error) {
	creds, err := s.credentials(ctx, c)
	if err != nil {
		return nil, err
	}
	api := s.newClient(creds.APIKey)

	rep, err := api.CreateReport(ctx, vibeapi.NewReportRequest(creds.AdvertiserID, day, day))
	if err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("client", c.Name), zap.String("report_id", rep.ReportID))
	log.Info("report requested", zap.String("date", day.Format(model.DateLayout)))

	downloadURL, err := vibeapi.WaitForReport(ctx, api, rep.ReportID,
		vibeapi.WithPollInterval(s.cfg.PollInitial),
		vibeapi.WithPollCap(s.cfg.PollCap),
		vibeapi.WithPollTimeout(s.cfg.Timeout),
	)
	if err != nil {
		return nil, err
	}

	data, err := api.Download(ctx, downloadURL)
	if err != nil {
		return nil, err
	}
	records, err := fetcher.ReadCSVRecords(ctx, bytes.NewReader(data), fetcher.CSVOptions{LazyQuotes: true, TrimSpace: true})
	if err != nil {
		return nil, eris.Wrapf(err, "vibe: parse report %s", rep.ReportID)
	}
	if len(records) == 0 {
		return nil, eris.Wrapf(source.ErrNoData, "vibe report %s", rep.ReportID)
	}
	log.Info("report downloaded", zap.Int("bytes", len(data)), zap.Int("records", len(records)))

	return &source.Batch{
		FileName: fmt.Sprintf("vibe_%s_%s.csv", day.Format(model.DateLayout), rep.ReportID),
		Records:  records,
	}, nil
}
