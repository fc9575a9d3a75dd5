package normalize

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func surfsideRecord(creative string) model.Record {
	return model.Record{
		"Date":               "2026-09-14",
		"Campaign":           "  Fall   Push ",
		"Strategy":           "Prospecting",
		"Placement":          "CTV",
		"Creative":           creative,
		"Impressions":        "1,000",
		"Clicks":             "20",
		"Conversions":        "2",
		"Conversion Revenue": "$50.00",
		"CTR":                "2%",
	}
}

func TestNormalize_Surfside(t *testing.T) {
	n := New()
	row, err := n.Normalize(model.SourceSurfside, surfsideRecord("Banner 300x250"))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC), row.Date)
	assert.Equal(t, "Fall Push", row.Campaign)
	assert.Equal(t, "Prospecting", row.Strategy)
	assert.Equal(t, "CTV", row.Placement)
	assert.Equal(t, "Banner 300x250", row.Creative)
	assert.Equal(t, int64(1000), row.Impressions)
	assert.Equal(t, int64(20), row.Clicks)
	assert.Equal(t, int64(2), row.Conversions)
	assert.True(t, decimal.RequireFromString("50").Equal(row.Revenue))
	require.NotNil(t, row.CTR)
	assert.True(t, decimal.RequireFromString("0.02").Equal(*row.CTR))
	assert.Equal(t, 1, row.SourceRows)
}

func TestNormalize_SurfsideDefaultsBlankLevels(t *testing.T) {
	rec := surfsideRecord("Video")
	rec["Strategy"] = " "
	delete(rec, "Placement")

	row, err := New().Normalize(model.SourceSurfside, rec)
	require.NoError(t, err)
	assert.Equal(t, GeneralStrategy, row.Strategy)
	assert.Equal(t, GeneralPlacement, row.Placement)
}

func TestNormalize_VibeUsesPlaceholderCampaign(t *testing.T) {
	rec := model.Record{
		"impression_date":     "09/14/2026",
		"campaign_name":       "ignored",
		"strategy_name":       "Retargeting",
		"channel_name":        "Hulu",
		"creative_name":       "Spot A",
		"impressions":         "5000",
		"installs":            "12",
		"number_of_purchases": "-",
		"amount_of_purchases": "-",
	}
	row, err := New().Normalize(model.SourceVibe, rec)
	require.NoError(t, err)
	assert.Equal(t, GeneralCampaign, row.Campaign)
	assert.Equal(t, "Retargeting", row.Strategy)
	assert.Equal(t, "Hulu", row.Placement)
	assert.Equal(t, int64(12), row.Clicks)
	assert.Equal(t, int64(0), row.Conversions)
	assert.True(t, row.Revenue.IsZero())
	assert.Nil(t, row.CTR)
}

func TestNormalize_FacebookCampaignAndCreativeOnly(t *testing.T) {
	rec := model.Record{
		"Day":                        "2026-09-14",
		"Campaign Name":              "Brand",
		"Ad Set Name":                "Lookalike",
		"Ad Name":                    "Carousel",
		"Region":                     "Texas",
		"Impressions":                "800",
		"Link Clicks":                "8",
		"Results":                    "1",
		"Purchases Conversion Value": "19.99",
	}
	row, err := New().Normalize(model.SourceFacebook, rec)
	require.NoError(t, err)
	assert.Equal(t, "Brand", row.Campaign)
	assert.Empty(t, row.Strategy)
	assert.Empty(t, row.Placement)
	assert.Equal(t, "Carousel", row.Creative)
	assert.Equal(t, "Texas", row.Region)
}

func TestNormalize_AliasPriority(t *testing.T) {
	rec := model.Record{
		"Day":              "2026-09-14",
		"Reporting starts": "2026-09-01",
		"Campaign name":    "Brand",
		"Ad name":          "Carousel",
		"Impressions":      "800",
		"Link clicks":      "12",
		"Clicks (all)":     "40",
		"Results":          "5",
		"Purchases":        "2",
	}
	row, err := New().Normalize(model.SourceFacebook, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(12), row.Clicks)
	assert.Equal(t, int64(2), row.Conversions)
	assert.Equal(t, time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC), row.Date)

	// A blank preferred alias falls through to the next one.
	rec["Link clicks"] = ""
	row, err = New().Normalize(model.SourceFacebook, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(40), row.Clicks)
}

func TestNormalize_ValidationFailures(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(model.Record)
		field Field
	}{
		{"missing creative", func(r model.Record) { r["Creative"] = "" }, FieldCreative},
		{"missing campaign", func(r model.Record) { delete(r, "Campaign") }, FieldCampaign},
		{"missing date", func(r model.Record) { r["Date"] = "" }, FieldDate},
		{"bad date", func(r model.Record) { r["Date"] = "yesterday" }, FieldDate},
		{"date reported before creative", func(r model.Record) { r["Date"] = ""; r["Creative"] = "" }, FieldDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := surfsideRecord("X")
			tt.mut(rec)
			_, err := New().Normalize(model.SourceSurfside, rec)
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestNormalize_UnparsableNumbersDefault(t *testing.T) {
	rec := surfsideRecord("X")
	rec["Impressions"] = "n/a"
	rec["Clicks"] = "-5"
	rec["Conversion Revenue"] = "12..5"

	row, err := New().Normalize(model.SourceSurfside, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(0), row.Impressions)
	assert.Equal(t, int64(0), row.Clicks)
	assert.True(t, row.Revenue.IsZero())
}

func TestNormalize_UnknownSource(t *testing.T) {
	_, err := New().Normalize(model.Source("tiktok"), model.Record{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrUnknownSource))
}

func TestNormalizeBatch_OneMissingCreative(t *testing.T) {
	recs := []model.Record{
		surfsideRecord("A"),
		surfsideRecord(""),
		surfsideRecord("B"),
	}
	b, err := New().NormalizeBatch(model.SourceSurfside, recs)
	require.NoError(t, err)

	assert.Equal(t, 3, b.Received)
	assert.Equal(t, 2, b.Valid())
	require.Len(t, b.Rows, 2)
	require.Len(t, b.Invalid, 1)
	assert.Equal(t, 2, b.Invalid[0].Row)
	assert.Equal(t, FieldCreative, b.Invalid[0].Field)
	assert.Contains(t, b.Invalid[0].Error(), "row 2: creative")
}

func TestNormalizeBatch_FoldsDuplicateKeys(t *testing.T) {
	a := surfsideRecord("Banner")
	b := surfsideRecord("Banner")
	b["Impressions"] = "500"
	b["Conversion Revenue"] = "10.25"
	c := surfsideRecord("Other")

	batch, err := New().NormalizeBatch(model.SourceSurfside, []model.Record{a, b, c})
	require.NoError(t, err)
	require.Len(t, batch.Rows, 2)

	first := batch.Rows[0]
	assert.Equal(t, "Banner", first.Creative)
	assert.Equal(t, int64(1500), first.Impressions)
	assert.Equal(t, int64(40), first.Clicks)
	assert.Equal(t, int64(4), first.Conversions)
	assert.True(t, decimal.RequireFromString("60.25").Equal(first.Revenue))
	assert.Nil(t, first.CTR)
	assert.Equal(t, 2, first.SourceRows)
	assert.Equal(t, "Other", batch.Rows[1].Creative)
}

func TestNormalizeBatch_UnknownSource(t *testing.T) {
	_, err := New().NormalizeBatch(model.Source("x"), nil)
	require.Error(t, err)
}

func TestBatchDateRange(t *testing.T) {
	d1 := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC)
	d3 := time.Date(2026, 9, 21, 0, 0, 0, 0, time.UTC)
	b := Batch{Rows: []model.Row{{Date: d1}, {Date: d2}, {Date: d3}}}

	from, to, ok := b.DateRange()
	require.True(t, ok)
	assert.Equal(t, d2, from)
	assert.Equal(t, d3, to)

	_, _, ok = Batch{}.DateRange()
	assert.False(t, ok)
}

func TestAggregate_KeepsFirstRegion(t *testing.T) {
	d := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)
	rows := Aggregate([]model.Row{
		{Date: d, Campaign: "C", Creative: "X", Impressions: 1},
		{Date: d, Campaign: "C", Creative: "X", Impressions: 2, Region: "Ohio"},
		{Date: d, Campaign: "C", Creative: "X", Impressions: 3, Region: "Utah"},
	})
	require.Len(t, rows, 1)
	assert.Equal(t, int64(6), rows[0].Impressions)
	assert.Equal(t, "Ohio", rows[0].Region)
	assert.Equal(t, 3, rows[0].SourceRows)
}

func TestAggregate_KeepsFoldedRaw(t *testing.T) {
	d := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)
	rows := Aggregate([]model.Row{
		{Date: d, Campaign: "C", Creative: "X", Impressions: 1, Raw: model.Record{"n": "1"}},
		{Date: d, Campaign: "C", Creative: "Y", Impressions: 5, Raw: model.Record{"n": "2"}},
		{Date: d, Campaign: "C", Creative: "X", Impressions: 3, Raw: model.Record{"n": "3"}},
	})
	require.Len(t, rows, 2)
	assert.Equal(t, model.Record{"n": "1"}, rows[0].Raw)
	assert.Equal(t, []model.Record{{"n": "3"}}, rows[0].Folded)
	assert.Empty(t, rows[1].Folded)
}
