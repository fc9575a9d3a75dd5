package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var day = time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

func TestEvent_SubjectAndBody(t *testing.T) {
	e := Event{
		Kind:       KindValidationError,
		ClientName: "Acme",
		Source:     "facebook",
		Date:       day,
		Detail:     "1 invalid record",
		Errors:     []string{"row 2: creative: missing required field"},
	}
	assert.Equal(t, "Validation errors - facebook - Acme (2026-09-14)", e.Subject())
	assert.Contains(t, e.Body(), "- row 2: creative: missing required field")

	alert := Event{Kind: KindStuckRuns, Detail: "3 runs stuck"}
	assert.Equal(t, "Alert: stuck_runs", alert.Subject())
	assert.Equal(t, "3 runs stuck", alert.Body())
}

func TestWebhook_Posts(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	NewWebhook(srv.URL).Notify(context.Background(), Event{Kind: KindIngestionFailure, Detail: "boom"})
	assert.Equal(t, KindIngestionFailure, got.Kind)
	assert.Equal(t, "boom", got.Detail)
}

func TestWebhook_ErrorStatusIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL)
	err := wh.send(context.Background(), Event{Kind: KindIngestionFailure})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")

	assert.NotPanics(t, func() { wh.Notify(context.Background(), Event{}) })
}

type fakeSES struct {
	calls int
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.calls++
	f.input = in
	return &sesv2.SendEmailOutput{}, f.err
}

func TestSES_Notify(t *testing.T) {
	api := &fakeSES{}
	NewSES(api, "etl@example.com", []string{"ops@example.com"}).
		Notify(context.Background(), Event{Kind: KindIngestionFailure, Source: "vibe", Detail: "report timed out"})

	require.Equal(t, 1, api.calls)
	assert.Equal(t, "etl@example.com", *api.input.FromEmailAddress)
	assert.Equal(t, []string{"ops@example.com"}, api.input.Destination.ToAddresses)
	assert.Equal(t, "Ingestion failed - vibe", *api.input.Content.Simple.Subject.Data)
	assert.Equal(t, "report timed out", *api.input.Content.Simple.Body.Text.Data)
}

func TestSES_NoRecipientsSkips(t *testing.T) {
	api := &fakeSES{}
	NewSES(api, "etl@example.com", nil).Notify(context.Background(), Event{})
	assert.Zero(t, api.calls)
}

func TestSES_ErrorIsSwallowed(t *testing.T) {
	api := &fakeSES{err: errors.New("throttled")}
	assert.NotPanics(t, func() {
		NewSES(api, "a@b.c", []string{"x@y.z"}).Notify(context.Background(), Event{})
	})
	assert.Equal(t, 1, api.calls)
}

type counter struct{ n atomic.Int32 }

func (c *counter) Notify(context.Context, Event) { c.n.Add(1) }

func TestMulti_FansOut(t *testing.T) {
	a, b := &counter{}, &counter{}
	Multi{a, Nop{}, b, Log{}}.Notify(context.Background(), Event{Kind: KindValidationError})
	assert.Equal(t, int32(1), a.n.Load())
	assert.Equal(t, int32(1), b.n.Load())
}
