// Package fetcher retrieves source files and parses CSV and XLSX payloads
// into header-keyed records.
package fetcher

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/media-etl/internal/model"
)

// ErrUnsupportedFormat is returned for a file extension no parser handles.
var ErrUnsupportedFormat = eris.New("fetcher: unsupported file format")

// Format is a supported payload format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatOf infers the payload format from a file name.
func FormatOf(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Wrapf(ErrUnsupportedFormat, "%q", name)
	}
}

// Parse decodes data by the format name implies. The first row is the header.
func Parse(ctx context.Context, name string, data []byte) ([]model.Record, error) {
	format, err := FormatOf(name)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatXLSX:
		return ReadXLSXRecords(data, XLSXOptions{})
	default:
		return ReadCSVRecords(ctx, bytes.NewReader(data), CSVOptions{LazyQuotes: true, TrimSpace: true})
	}
}

// toRecords keys each row by header. Rows with no non-blank cell are dropped,
// and a repeated header keeps its first non-empty value.
func toRecords(header []string, rows [][]string) []model.Record {
	out := make([]model.Record, 0, len(rows))
	for _, row := range rows {
		rec := make(model.Record, len(header))
		blank := true
		for i, h := range header {
			if i >= len(row) {
				break
			}
			v := row[i]
			if strings.TrimSpace(v) != "" {
				blank = false
			}
			if prev, ok := rec[h]; ok && prev != "" {
				continue
			}
			rec[h] = v
		}
		if !blank {
			out = append(out, rec)
		}
	}
	return out
}
