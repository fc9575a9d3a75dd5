package normalize

import (
	"github.com/sells-group/media-etl/internal/model"
)

// Field is a canonical column shared by every source.
type Field string

const (
	FieldDate        Field = "date"
	FieldCampaign    Field = "campaign"
	FieldStrategy    Field = "strategy"
	FieldPlacement   Field = "placement"
	FieldCreative    Field = "creative"
	FieldRegion      Field = "region"
	FieldImpressions Field = "impressions"
	FieldClicks      Field = "clicks"
	FieldConversions Field = "conversions"
	FieldRevenue     Field = "revenue"
	FieldCTR         Field = "ctr"
)

// Policy says how a hierarchy level is filled for a source.
type Policy int

const (
	// Absent levels are never supplied and stay empty.
	Absent Policy = iota
	// Required levels invalidate the record when empty.
	Required
	// Defaulted levels fall back to "General <Level>" when empty.
	Defaulted
	// Synthetic levels always use the mapping's fixed placeholder.
	Synthetic
)

// Level is the rule for one hierarchy level.
type Level struct {
	Policy      Policy
	Placeholder string
}

// Column maps one folded header onto a canonical field.
type Column struct {
	Header string
	Field  Field
}

// Mapping is a source's column table plus the shape of its hierarchy.
// Columns are in priority order: when several aliases of a field are
// present, the earliest non-empty one wins.
type Mapping struct {
	Source    model.Source
	Columns   []Column
	Campaign  Level
	Strategy  Level
	Placement Level
	Creative  Level
}

// Placeholders used for levels a row leaves blank.
const (
	GeneralCampaign  = "General"
	GeneralStrategy  = "General Strategy"
	GeneralPlacement = "General Placement"
)

var (
	required  = Level{Policy: Required}
	absent    = Level{Policy: Absent}
	strategy  = Level{Policy: Defaulted, Placeholder: GeneralStrategy}
	placement = Level{Policy: Defaulted, Placeholder: GeneralPlacement}
)

var mappings = map[model.Source]Mapping{
	model.SourceSurfside: {
		Source: model.SourceSurfside,
		Columns: []Column{
			{"date", FieldDate},
			{"day", FieldDate},
			{"campaign", FieldCampaign},
			{"campaign name", FieldCampaign},
			{"strategy", FieldStrategy},
			{"strategy name", FieldStrategy},
			{"placement", FieldPlacement},
			{"placement name", FieldPlacement},
			{"creative", FieldCreative},
			{"creative name", FieldCreative},
			{"impressions", FieldImpressions},
			{"clicks", FieldClicks},
			{"conversions", FieldConversions},
			{"conversion revenue", FieldRevenue},
			{"revenue", FieldRevenue},
			{"ctr", FieldCTR},
		},
		Campaign:  required,
		Strategy:  strategy,
		Placement: placement,
		Creative:  required,
	},
	model.SourceVibe: {
		Source: model.SourceVibe,
		Columns: []Column{
			{"impression_date", FieldDate},
			{"date", FieldDate},
			{"strategy_name", FieldStrategy},
			{"channel_name", FieldPlacement},
			{"creative_name", FieldCreative},
			{"impressions", FieldImpressions},
			{"installs", FieldClicks},
			{"number_of_purchases", FieldConversions},
			{"amount_of_purchases", FieldRevenue},
		},
		Campaign:  Level{Policy: Synthetic, Placeholder: GeneralCampaign},
		Strategy:  strategy,
		Placement: placement,
		Creative:  required,
	},
	model.SourceFacebook: {
		Source: model.SourceFacebook,
		Columns: []Column{
			{"day", FieldDate},
			{"date", FieldDate},
			{"reporting starts", FieldDate},
			{"campaign name", FieldCampaign},
			{"ad name", FieldCreative},
			{"region", FieldRegion},
			{"impressions", FieldImpressions},
			{"link clicks", FieldClicks},
			{"clicks (all)", FieldClicks},
			{"purchases", FieldConversions},
			{"results", FieldConversions},
			{"purchases conversion value", FieldRevenue},
			{"conversion value", FieldRevenue},
		},
		Campaign:  required,
		Strategy:  absent,
		Placement: absent,
		Creative:  required,
	},
}

// MappingFor is the single dispatch point from a source tag to its table.
func MappingFor(src model.Source) (Mapping, bool) {
	m, ok := mappings[src]
	return m, ok
}
