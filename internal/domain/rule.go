package domain

import "time"

// Rule is a declarative condition/event pair attached to one criterion.
// Higher Priority rules are evaluated first.
type Rule struct {
	ID          int64          `json:"id" yaml:"id"`
	CriteriaKey string         `json:"criteriaKey" yaml:"criteriaKey"`
	Priority    int            `json:"priority" yaml:"priority"`
	IsActive    bool           `json:"isActive" yaml:"isActive"`
	Definition  RuleDefinition `json:"definition" yaml:"definition"`
	CreatedAt   time.Time      `json:"createdAt,omitempty" yaml:"-"`
}

// RuleDefinition is the JSON document stored for a rule.
type RuleDefinition struct {
	Conditions ConditionNode `json:"conditions" yaml:"conditions"`
	Event      EventSpec     `json:"event" yaml:"event"`
	Meta       *RuleMeta     `json:"meta,omitempty" yaml:"meta"`
}

// ConditionNode is either a boolean group (All, Any or Not) or an atomic
// predicate {Fact, Operator, Value}.
type ConditionNode struct {
	All []ConditionNode `json:"all,omitempty" yaml:"all"`
	Any []ConditionNode `json:"any,omitempty" yaml:"any"`
	Not *ConditionNode  `json:"not,omitempty" yaml:"not"`

	Fact     string `json:"fact,omitempty" yaml:"fact"`
	Path     string `json:"path,omitempty" yaml:"path"`
	Operator string `json:"operator,omitempty" yaml:"operator"`
	Value    any    `json:"value,omitempty" yaml:"value"`
}

// IsGroup reports whether the node is a non-empty boolean group.
func (n *ConditionNode) IsGroup() bool {
	return len(n.All) > 0 || len(n.Any) > 0 || n.Not != nil
}

// EventSpec is the raw event emitted when a rule fires.
type EventSpec struct {
	Type   string         `json:"type,omitempty" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params"`
}

// ResolvedType returns event.type, falling back to event.params.type.
func (e *EventSpec) ResolvedType() string {
	if e.Type != "" {
		return e.Type
	}
	if t, ok := e.Params["type"].(string); ok {
		return t
	}
	return ""
}

// RuleMeta carries criterion-wide settings. Weight and Critical apply to
// the whole criterion, not only to the rule declaring them.
type RuleMeta struct {
	Weight   *float64 `json:"weight,omitempty" yaml:"weight"`
	Critical *bool    `json:"critical,omitempty" yaml:"critical"`
	Modes    []string `json:"modes" yaml:"modes"`
}

// AppliesTo reports whether the rule runs in the given mode. A nil Modes
// runs everywhere; an empty, non-nil Modes runs nowhere.
func (r *Rule) AppliesTo(mode Mode) bool {
	if r.Definition.Meta == nil || r.Definition.Meta.Modes == nil {
		return true
	}
	for _, m := range r.Definition.Meta.Modes {
		if Mode(m) == mode {
			return true
		}
	}
	return false
}

// CriterionSettings are the weight and critical flag extracted from the
// rules of one criterion.
type CriterionSettings struct {
	Weight   float64
	Critical bool
}

// ExtractSettings reads weight (last rule declaring it wins, default 1)
// and critical (any rule declaring true) from a criterion's rules.
func ExtractSettings(rules []*Rule) CriterionSettings {
	settings := CriterionSettings{Weight: 1}
	for _, r := range rules {
		meta := r.Definition.Meta
		if meta == nil {
			continue
		}
		if meta.Weight != nil {
			settings.Weight = *meta.Weight
		}
		if meta.Critical != nil && *meta.Critical {
			settings.Critical = true
		}
	}
	return settings
}
