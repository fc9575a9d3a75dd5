// Package vibe is a thin client for the Vibe asynchronous reporting API.
package vibe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/media-etl/internal/resilience"
)

const (
	defaultBaseURL         = "https://clear-platform.vibe.co"
	defaultRequestsPerHour = 15
	reportsPath            = "/reporting/v1/std/reports"
)

// Report states.
const (
	StatusCreated    = "created"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Client is the reporting API surface.
type Client interface {
	CreateReport(ctx context.Context, req ReportRequest) (*Report, error)
	CheckStatus(ctx context.Context, reportID string) (*ReportStatus, error)
	Download(ctx context.Context, downloadURL string) ([]byte, error)
}

// ReportRequest is the body for POST /reporting/v1/std/reports.
type ReportRequest struct {
	AdvertiserID string   `json:"advertiser_id"`
	StartDate    string   `json:"start_date"`
	EndDate      string   `json:"end_date"`
	Metrics      []string `json:"metrics"`
	Dimensions   []string `json:"dimensions"`
}

// NewReportRequest asks for the standard daily breakdown between two dates.
func NewReportRequest(advertiserID string, start, end time.Time) ReportRequest {
	return ReportRequest{
		AdvertiserID: advertiserID,
		StartDate:    start.Format(time.DateOnly),
		EndDate:      end.Format(time.DateOnly),
		Metrics:      []string{"impressions", "installs", "number_of_purchases", "amount_of_purchases"},
		Dimensions:   []string{"impression_date", "campaign_name", "strategy_name", "channel_name", "creative_name"},
	}
}

// Report is the create response.
type Report struct {
	ReportID string `json:"report_id"`
	Status   string `json:"status"`
}

// ReportStatus is the status response.
type ReportStatus struct {
	Status       string `json:"status"`
	DownloadURL  string `json:"download_url"`
	ErrorMessage string `json:"error_message"`
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRequestsPerHour throttles report creation. Zero or less disables it.
func WithRequestsPerHour(n int) Option {
	return func(c *httpClient) {
		c.limiter = newHourlyLimiter(n)
	}
}

// WithLimiter shares one creation limiter across clients, since the quota
// is per account rather than per key.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *httpClient) {
		c.limiter = l
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// NewLimiter returns a limiter allowing n report creations per hour, with
// the whole hourly quota available as burst.
func NewLimiter(n int) *rate.Limiter {
	return newHourlyLimiter(n)
}

func newHourlyLimiter(n int) *rate.Limiter {
	if n <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Hour/time.Duration(n)), n)
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a reporting client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: newHourlyLimiter(defaultRequestsPerHour),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("vibe", "request")
	}
	return c
}

func (c *httpClient) CreateReport(ctx context.Context, req ReportRequest) (*Report, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "vibe: rate limit")
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "vibe: marshal report request")
	}

	var out Report
	err = resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, c.baseURL+reportsPath, body, &out)
	})
	if err != nil {
		return nil, eris.Wrap(err, "vibe: create report")
	}
	if out.ReportID == "" {
		return nil, eris.New("vibe: create report: empty report id")
	}
	if out.Status == "" {
		out.Status = StatusCreated
	}
	return &out, nil
}

func (c *httpClient) CheckStatus(ctx context.Context, reportID string) (*ReportStatus, error) {
	u := c.baseURL + reportsPath + "/" + url.PathEscape(reportID)

	var out ReportStatus
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, u, nil, &out)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "vibe: check report %s", reportID)
	}
	return &out, nil
}

func (c *httpClient) Download(ctx context.Context, downloadURL string) ([]byte, error) {
	data, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		req.Header.Set("X-API-KEY", c.apiKey)
		return c.do(req, "download")
	})
	if err != nil {
		return nil, eris.Wrap(err, "vibe: download report")
	}
	return data, nil
}

func (c *httpClient) doJSON(ctx context.Context, method, u string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	data, err := c.do(req, fmt.Sprintf("%s %s", method, req.URL.Path))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

func (c *httpClient) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "read response body"), resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resilience.FromStatus(op, resp.StatusCode, data)
	}
	return data, nil
}
