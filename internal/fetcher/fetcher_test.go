package fetcher

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// buildXLSX returns workbook bytes with one sheet per entry, in order.
func buildXLSX(t *testing.T, names []string, sheets map[string][][]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	for _, name := range names {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, row := range sheets[name] {
			r := sheet.AddRow()
			for _, cell := range row {
				r.AddCell().SetString(cell)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{"surfside_2024-05-01.csv", FormatCSV, false},
		{"REPORT.CSV", FormatCSV, false},
		{"export.txt", FormatCSV, false},
		{"Surfside_2024-05-01.xlsx", FormatXLSX, false},
		{"legacy.xls", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatOf(tt.name)
			if tt.wantErr {
				assert.True(t, eris.Is(err, ErrUnsupportedFormat))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_CSV(t *testing.T) {
	data := []byte("Date,Campaign,Impressions\n2024-05-01, Spring ,1000\n,,\n2024-05-02,Spring,\"2,000\"\n")

	recs, err := Parse(context.Background(), "surfside_2024-05-01.csv", data)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.Record{"Date": "2024-05-01", "Campaign": "Spring", "Impressions": "1000"}, recs[0])
	assert.Equal(t, "2,000", recs[1]["Impressions"])
}

func TestParse_XLSX(t *testing.T) {
	data := buildXLSX(t, []string{"Report"}, map[string][][]string{
		"Report": {
			{"Date", "Creative", "Clicks"},
			{"2024-05-01", "Banner A", "12"},
			{"", "", ""},
			{"2024-05-01", "Banner B", "3"},
		},
	})

	recs, err := Parse(context.Background(), "report.xlsx", data)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Banner A", recs[0]["Creative"])
	assert.Equal(t, "3", recs[1]["Clicks"])
}

func TestParse_Unsupported(t *testing.T) {
	_, err := Parse(context.Background(), "report.pdf", []byte("x"))
	assert.True(t, eris.Is(err, ErrUnsupportedFormat))
}

func TestToRecords(t *testing.T) {
	header := []string{"Campaign", "Clicks", "Campaign"}
	rows := [][]string{
		{"Spring", "4", "Ignored"},
		{"", "7", "Fallback"},
		{"Short"},
		{" ", "", ""},
	}

	recs := toRecords(header, rows)
	require.Len(t, recs, 3)
	assert.Equal(t, "Spring", recs[0]["Campaign"])
	assert.Equal(t, "Fallback", recs[1]["Campaign"])
	assert.Equal(t, model.Record{"Campaign": "Short"}, recs[2])
}

func TestReadCSVRecords_HeaderOnly(t *testing.T) {
	recs, err := ReadCSVRecords(context.Background(), strings.NewReader("Date,Clicks\n"), CSVOptions{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestReadCSVRecords_Empty(t *testing.T) {
	_, err := ReadCSVRecords(context.Background(), strings.NewReader(""), CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing header")
}
