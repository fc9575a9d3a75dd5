package normalize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCleanString(t *testing.T) {
	assert.Equal(t, "a b c", CleanString("  a \t b\n\nc "))
	assert.Equal(t, "", CleanString("   "))
}

func TestFoldHeader(t *testing.T) {
	assert.Equal(t, "conversion revenue", foldHeader("\ufeffConversion   Revenue "))
	assert.Equal(t, "link clicks", foldHeader("LINK CLICKS"))
}

func TestParseDate(t *testing.T) {
	want := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in string
		ok bool
	}{
		{"2026-09-14", true},
		{"09/14/2026", true},
		{"9/14/2026", true},
		{"14/09/2026", true},
		{"2026/09/14", true},
		{"9/14/26", true},
		{"2026-09-14 13:45:00", true},
		{"2026-09-14T13:45:00Z", true},
		{"", false},
		{"Sept 14", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestParseDate_MonthFirstWhenAmbiguous(t *testing.T) {
	got, ok := ParseDate("03/04/2026")
	assert.True(t, ok)
	assert.Equal(t, time.March, got.Month())
	assert.Equal(t, 4, got.Day())
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1,234", 1234, true},
		{"$12", 12, true},
		{"12.9", 12, true},
		{"-", 0, true},
		{"", 0, true},
		{"abc", 0, false},
		{"-3", 0, false},
		{"9223372036854775808", 0, false},
		{"1e30", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCount(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"$1,234.56", "1234.56", true},
		{"-", "0", true},
		{"", "0", true},
		{"12..5", "0", false},
		{"-4.00", "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseMoney(tt.in)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestParseRate(t *testing.T) {
	assert.Nil(t, ParseRate(""))
	assert.Nil(t, ParseRate("n/a"))

	got := ParseRate("1.5%")
	if assert.NotNil(t, got) {
		assert.True(t, decimal.RequireFromString("0.015").Equal(*got))
	}
	got = ParseRate("0.02")
	if assert.NotNil(t, got) {
		assert.True(t, decimal.RequireFromString("0.02").Equal(*got))
	}
}
