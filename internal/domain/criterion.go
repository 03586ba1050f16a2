package domain

// Aggregation reduces several matching rows of one bank to a single value.
type Aggregation string

const (
	AggregationMin   Aggregation = "min"
	AggregationMax   Aggregation = "max"
	AggregationAvg   Aggregation = "avg"
	AggregationFirst Aggregation = "first"
)

// Scoring strategies understood by the scoring engine.
const (
	StrategyLowerBetter  = "lower_better"
	StrategyHigherBetter = "higher_better"
	StrategyExactMatch   = "exact_match"
)

// Criterion is one comparison dimension (monthly fee, card fee, ...).
// Key is immutable and joins criteria, rules, values and output.
type Criterion struct {
	Key             string         `json:"key" yaml:"key"`
	Label           string         `json:"label" yaml:"label"`
	Description     string         `json:"description,omitempty" yaml:"description"`
	DataMapping     DataMapping    `json:"dataMapping" yaml:"dataMapping"`
	ScoringStrategy string         `json:"scoringStrategy" yaml:"scoringStrategy"`
	ScoringParams   map[string]any `json:"scoringParams,omitempty" yaml:"scoringParams"`
	IsActive        bool           `json:"isActive" yaml:"isActive"`
}

// DataMapping tells the aggregator where a criterion's raw value lives.
type DataMapping struct {
	EntityType  string         `json:"entityType" yaml:"entityType"`
	ValuePath   string         `json:"valuePath" yaml:"valuePath"`
	Filters     map[string]any `json:"filters,omitempty" yaml:"filters"`
	Aggregation Aggregation    `json:"aggregation" yaml:"aggregation"`
}

// CriterionRef is the criteria_used entry of a comparison result.
// Weight and Critical are only reported in score mode.
type CriterionRef struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Weight   *float64 `json:"weight,omitempty"`
	Critical *bool    `json:"critical,omitempty"`
}

// Ref returns the criteria_used entry for c.
func (c *Criterion) Ref() CriterionRef {
	return CriterionRef{Key: c.Key, Label: c.Label}
}
