package model

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Source
		wantErr bool
	}{
		{"surfside", SourceSurfside, false},
		{" Vibe ", SourceVibe, false},
		{"FACEBOOK", SourceFacebook, false},
		{"tiktok", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSource(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, eris.Is(err, ErrUnknownSource))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSourceScheduled(t *testing.T) {
	t.Parallel()
	assert.True(t, SourceSurfside.Scheduled())
	assert.True(t, SourceVibe.Scheduled())
	assert.False(t, SourceFacebook.Scheduled())
}

func TestRunStatusTerminal(t *testing.T) {
	t.Parallel()
	assert.False(t, RunStatusProcessing.Terminal())
	assert.True(t, RunStatusSuccess.Terminal())
	assert.True(t, RunStatusPartial.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
}

func TestRowKey(t *testing.T) {
	t.Parallel()
	d := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)
	a := Row{Date: d, Campaign: "C", Strategy: "S", Placement: "P", Creative: "X", Region: "East"}
	b := Row{Date: d, Campaign: "C", Strategy: "S", Placement: "P", Creative: "X", Region: "West"}
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "2026-09-14", a.Key().Date)
}
