// Package model defines the domain types shared across the ingestion pipeline.
package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Source tags where a batch of records came from.
type Source string

const (
	SourceSurfside Source = "surfside" // file drop, full four-level hierarchy
	SourceVibe     Source = "vibe"     // report API, placeholder campaign
	SourceFacebook Source = "facebook" // manual upload, campaign + creative only
)

// ErrUnknownSource is returned for a source tag outside the known set.
var ErrUnknownSource = eris.New("model: unknown source")

// Sources lists every supported source in a stable order.
func Sources() []Source {
	return []Source{SourceSurfside, SourceVibe, SourceFacebook}
}

// ParseSource converts a string into a Source, case-insensitively.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	if !src.Valid() {
		return "", eris.Wrapf(ErrUnknownSource, "%q", s)
	}
	return src, nil
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceSurfside, SourceVibe, SourceFacebook:
		return true
	}
	return false
}

// Scheduled reports whether the daily job pulls this source. Manually
// uploaded sources only arrive through the upload path.
func (s Source) Scheduled() bool {
	return s == SourceSurfside || s == SourceVibe
}

func (s Source) String() string { return string(s) }
