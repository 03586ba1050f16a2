package domain

// Fact is the rule-engine view of one raw data point for a
// (bank, criterion, mode) triple. Built per evaluation, never stored.
type Fact struct {
	Value        any         `json:"value"`
	NumericValue *float64    `json:"numericValue"`
	Missing      bool        `json:"missing"`
	IsZero       bool        `json:"isZero"`
	IsPositive   bool        `json:"isPositive"`
	IsNegative   bool        `json:"isNegative"`
	Bank         FactBank    `json:"bank"`
	CriteriaKey  string      `json:"criteriaKey"`
	Mode         Mode        `json:"mode"`
	RawScore     *float64    `json:"raw_score,omitempty"`
	Stats        *ScoreStats `json:"stats,omitempty"`
}

// FactBank is the bank section of a fact.
type FactBank struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Index *int   `json:"index,omitempty"`
}

// Bundle flattens the fact into the map handed to rule conditions.
// Object facts are exposed both nested ("bank") and dotted ("bank.id").
func (f *Fact) Bundle() map[string]any {
	bank := map[string]any{"id": f.Bank.ID, "name": f.Bank.Name}
	if f.Bank.Index != nil {
		bank["index"] = float64(*f.Bank.Index)
	}

	var numeric any
	if f.NumericValue != nil {
		numeric = *f.NumericValue
	}

	bundle := map[string]any{
		"value":        normalizeFactValue(f.Value),
		"numericValue": numeric,
		"missing":      f.Missing,
		"isZero":       f.IsZero,
		"isPositive":   f.IsPositive,
		"isNegative":   f.IsNegative,
		"bank":         bank,
		"criteriaKey":  f.CriteriaKey,
		"mode":         string(f.Mode),
	}
	for k, v := range bank {
		bundle["bank."+k] = v
	}

	if f.RawScore != nil {
		bundle["raw_score"] = *f.RawScore
	}
	if f.Stats != nil {
		stats := f.Stats.Map()
		bundle["stats"] = stats
		for k, v := range stats {
			bundle["stats."+k] = v
		}
	}
	return bundle
}

func normalizeFactValue(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case float32:
		return float64(n)
	case *float64:
		if n == nil {
			return nil
		}
		return *n
	}
	return v
}

// ScoreStats describes the spread of valid values for one criterion.
type ScoreStats struct {
	Min        *float64 `json:"min,omitempty"`
	Max        *float64 `json:"max,omitempty"`
	Range      *float64 `json:"range,omitempty"`
	AllMissing bool     `json:"allMissing,omitempty"`
	AllEqual   bool     `json:"allEqual,omitempty"`
	Strategy   string   `json:"strategy,omitempty"`
	Target     any      `json:"target,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Map returns the stats as a rule fact.
func (s *ScoreStats) Map() map[string]any {
	m := map[string]any{
		"allMissing": s.AllMissing,
		"allEqual":   s.AllEqual,
	}
	if s.Min != nil {
		m["min"] = *s.Min
	}
	if s.Max != nil {
		m["max"] = *s.Max
	}
	if s.Range != nil {
		m["range"] = *s.Range
	}
	return m
}

// RuleOutcome is the folded result of running a criterion's rules for one
// bank.
type RuleOutcome struct {
	Score    float64  `json:"score"`
	Excluded bool     `json:"excluded"`
	Notes    []string `json:"notes"`
	Display  *string  `json:"display,omitempty"`
	SortKey  *float64 `json:"sortKey,omitempty"`
	Fired    []int64  `json:"fired,omitempty"`
}
