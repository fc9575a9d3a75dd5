package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// dateLayouts are tried in order. Month-first wins over day-first when both parse.
var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"2/1/2006",
	"2006/1/2",
	"1/2/06",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// CleanString trims, NFC-normalizes and collapses internal whitespace.
func CleanString(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// foldHeader produces the lookup key for a column header.
func foldHeader(h string) string {
	return cases.Fold().String(CleanString(strings.TrimPrefix(h, "\ufeff")))
}

// ParseDate parses s with the accepted layouts and truncates to a UTC date.
func ParseDate(s string) (time.Time, bool) {
	s = CleanString(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// cleanNumber strips separators and currency symbols. A lone "-" means zero.
func cleanNumber(s string) string {
	s = strings.NewReplacer(",", "", "$", "", " ", "").Replace(CleanString(s))
	if s == "-" {
		return ""
	}
	return s
}

// ParseCount parses an integer count, truncating any fractional part. ok is
// false when the value was present but unusable and 0 was substituted.
func ParseCount(s string) (n int64, ok bool) {
	s = cleanNumber(s)
	if s == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(math.Trunc(f)), true
}

// ParseMoney parses a currency amount. Unparsable or negative input yields
// zero with ok=false.
func ParseMoney(s string) (decimal.Decimal, bool) {
	s = cleanNumber(s)
	if s == "" {
		return decimal.Zero, true
	}
	v, err := decimal.NewFromString(s)
	if err != nil || v.IsNegative() {
		return decimal.Zero, false
	}
	return v, true
}

// ParseRate parses an optional ratio such as a pre-computed CTR. A trailing
// percent sign divides by 100. Empty or unparsable input returns nil.
func ParseRate(s string) *decimal.Decimal {
	s = cleanNumber(s)
	pct := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	if s == "" {
		return nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	if pct {
		v = v.Div(decimal.NewFromInt(100))
	}
	return &v
}
