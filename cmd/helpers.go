package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/media-etl/internal/model"
)

// parseDay parses YYYY-MM-DD as a UTC date. Empty means fallback.
func parseDay(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

// yesterday returns the previous calendar day in the schedule's timezone as
// a UTC date.
func yesterday(now time.Time, tz string) time.Time {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day()-1, 0, 0, 0, 0, time.UTC)
}

// resolveClient looks a client up by id or name.
func resolveClient(ctx context.Context, env *appEnv, ref string) (*model.Client, error) {
	if ref == "" {
		return nil, eris.New("--client is required")
	}
	c, err := env.Clients.Resolve(ctx, env.Pool, ref)
	if err != nil {
		return nil, eris.Wrapf(err, "client %q", ref)
	}
	return c, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncateID returns the first 8 characters of an id for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
