// Package normalize maps raw per-source records onto the common row shape,
// coerces types and validates the identity fields.
package normalize

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/media-etl/internal/model"
)

// ValidationError names the field that made a record unusable.
type ValidationError struct {
	Row    int    `json:"row"`
	Field  Field  `json:"field"`
	Reason string `json:"reason"`
	Value  string `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("row %d: %s: %s (%q)", e.Row, e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Reason)
}

// identity carries the fields whose absence invalidates a record.
type identity struct {
	Date      string `validate:"required"`
	Campaign  string `validate:"required"`
	Strategy  string `validate:"required"`
	Placement string `validate:"required"`
	Creative  string `validate:"required"`
}

var identityFields = map[string]Field{
	"Date":      FieldDate,
	"Campaign":  FieldCampaign,
	"Strategy":  FieldStrategy,
	"Placement": FieldPlacement,
	"Creative":  FieldCreative,
}

// Normalizer turns raw records into rows. It is safe for concurrent use.
type Normalizer struct {
	validate *validator.Validate
	log      *zap.Logger
}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      zap.L().With(zap.String("component", "normalize")),
	}
}

// Normalize maps one raw record. Invalid records return a *ValidationError;
// an unknown source returns model.ErrUnknownSource.
func (n *Normalizer) Normalize(src model.Source, rec model.Record) (model.Row, error) {
	m, ok := MappingFor(src)
	if !ok {
		return model.Row{}, eris.Wrapf(model.ErrUnknownSource, "normalize: %q", src)
	}

	vals := project(m, rec)

	row := model.Row{
		Campaign:   level(m.Campaign, vals[FieldCampaign]),
		Strategy:   level(m.Strategy, vals[FieldStrategy]),
		Placement:  level(m.Placement, vals[FieldPlacement]),
		Creative:   level(m.Creative, vals[FieldCreative]),
		Region:     vals[FieldRegion],
		SourceRows: 1,
		Raw:        rec,
	}

	if err := n.validateIdentity(m, vals[FieldDate], row); err != nil {
		return model.Row{}, err
	}

	date, ok := ParseDate(vals[FieldDate])
	if !ok {
		return model.Row{}, &ValidationError{Field: FieldDate, Reason: "unrecognized date", Value: vals[FieldDate]}
	}
	row.Date = date

	row.Impressions = n.count(src, FieldImpressions, vals[FieldImpressions])
	row.Clicks = n.count(src, FieldClicks, vals[FieldClicks])
	row.Conversions = n.count(src, FieldConversions, vals[FieldConversions])

	rev, ok := ParseMoney(vals[FieldRevenue])
	if !ok {
		n.log.Warn("revenue defaulted to zero",
			zap.String("source", string(src)),
			zap.String("value", vals[FieldRevenue]),
		)
	}
	row.Revenue = rev
	row.CTR = ParseRate(vals[FieldCTR])

	return row, nil
}

// validateIdentity checks the date and every hierarchy level the source supplies.
func (n *Normalizer) validateIdentity(m Mapping, rawDate string, row model.Row) error {
	id := identity{
		Date:      rawDate,
		Campaign:  row.Campaign,
		Strategy:  row.Strategy,
		Placement: row.Placement,
		Creative:  row.Creative,
	}

	fields := []string{"Date"}
	for _, l := range []struct {
		name string
		lvl  Level
	}{
		{"Campaign", m.Campaign},
		{"Strategy", m.Strategy},
		{"Placement", m.Placement},
		{"Creative", m.Creative},
	} {
		if l.lvl.Policy != Absent {
			fields = append(fields, l.name)
		}
	}

	err := n.validate.StructPartial(id, fields...)
	if err == nil {
		return nil
	}

	// Errors follow struct order, so the date is reported before the levels.
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &ValidationError{Field: identityFields[verrs[0].StructField()], Reason: "missing required field"}
	}
	return eris.Wrap(err, "normalize: validate identity")
}

func (n *Normalizer) count(src model.Source, f Field, raw string) int64 {
	v, ok := ParseCount(raw)
	if !ok {
		n.log.Warn("count defaulted to zero",
			zap.String("source", string(src)),
			zap.String("field", string(f)),
			zap.String("value", raw),
		)
	}
	return v
}

// project resolves a raw record to canonical field values, taking each
// field from its highest-priority non-empty alias. Raw headers that fold to
// the same name are visited in sorted order.
func project(m Mapping, rec model.Record) map[Field]string {
	headers := make([]string, 0, len(rec))
	for h := range rec {
		headers = append(headers, h)
	}
	sort.Strings(headers)

	folded := make(map[string]string, len(rec))
	for _, h := range headers {
		key := foldHeader(h)
		if v := CleanString(rec[h]); v != "" && folded[key] == "" {
			folded[key] = v
		}
	}

	out := make(map[Field]string, len(m.Columns))
	for _, c := range m.Columns {
		if v := folded[c.Header]; v != "" && out[c.Field] == "" {
			out[c.Field] = v
		}
	}
	return out
}

// level applies a hierarchy policy to a cleaned value.
func level(l Level, v string) string {
	switch l.Policy {
	case Absent:
		return ""
	case Synthetic:
		return l.Placeholder
	case Defaulted:
		if v == "" {
			return l.Placeholder
		}
	}
	return v
}
