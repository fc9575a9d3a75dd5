// Package notify delivers operator notifications about ingestion runs.
// Delivery failures are logged and never surface to the caller.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Kind identifies what happened.
type Kind string

const (
	KindValidationError  Kind = "validation_error"
	KindIngestionFailure Kind = "ingestion_failure"
	KindFailureRate      Kind = "failure_rate"
	KindUnresolved       Kind = "unresolved_backlog"
	KindStuckRuns        Kind = "stuck_runs"
)

// Event is one notification.
type Event struct {
	Kind       Kind           `json:"kind"`
	Severity   string         `json:"severity,omitempty"`
	ClientName string         `json:"client_name,omitempty"`
	Source     string         `json:"source,omitempty"`
	Date       time.Time      `json:"date,omitempty"`
	Detail     string         `json:"detail"`
	Errors     []string       `json:"errors,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Subject renders a one-line summary for email subjects and logs.
func (e Event) Subject() string {
	var b strings.Builder
	switch e.Kind {
	case KindValidationError:
		b.WriteString("Validation errors")
	case KindIngestionFailure:
		b.WriteString("Ingestion failed")
	default:
		b.WriteString("Alert: " + string(e.Kind))
	}
	if e.Source != "" {
		fmt.Fprintf(&b, " - %s", e.Source)
	}
	if e.ClientName != "" {
		fmt.Fprintf(&b, " - %s", e.ClientName)
	}
	if !e.Date.IsZero() {
		fmt.Fprintf(&b, " (%s)", e.Date.Format("2006-01-02"))
	}
	return b.String()
}

// Body renders the plain-text message.
func (e Event) Body() string {
	var b strings.Builder
	b.WriteString(e.Detail)
	if len(e.Errors) > 0 {
		b.WriteString("\n\n")
		for _, msg := range e.Errors {
			b.WriteString("- " + msg + "\n")
		}
	}
	return b.String()
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) {}

// Multi fans an event out to every sink in order.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	for _, n := range m {
		n.Notify(ctx, e)
	}
}

// Log writes events to the zap logger. It is always part of the fan-out so
// an operator sees notifications even when no sink is configured.
type Log struct{}

// Notify implements Notifier.
func (Log) Notify(_ context.Context, e Event) {
	zap.L().Warn(e.Subject(),
		zap.String("component", "notify"),
		zap.String("kind", string(e.Kind)),
		zap.String("detail", e.Detail),
		zap.Strings("errors", e.Errors),
	)
}
