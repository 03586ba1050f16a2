package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
)

// Predicate tests one field of an entity row.
type Predicate interface {
	Field() string
	Match(value any, present bool) bool
}

// Equals requires strict equality. Numbers compare by value.
type Equals struct {
	Key   string
	Value any
}

// OneOf requires a case-insensitive match against any of Values.
type OneOf struct {
	Key    string
	Values []string
}

// CaseInsensitiveEquals requires a case-insensitive string match.
type CaseInsensitiveEquals struct {
	Key   string
	Value string
}

func (p Equals) Field() string                { return p.Key }
func (p OneOf) Field() string                 { return p.Key }
func (p CaseInsensitiveEquals) Field() string { return p.Key }

func (p Equals) Match(value any, present bool) bool {
	if !present {
		return false
	}
	if a, ok := number(value); ok {
		b, ok := number(p.Value)
		return ok && a == b
	}
	switch v := value.(type) {
	case string, bool:
		return v == p.Value
	}
	return false
}

func (p OneOf) Match(value any, present bool) bool {
	if !present || value == nil {
		return false
	}
	s := fmt.Sprint(value)
	for _, candidate := range p.Values {
		if strings.EqualFold(s, candidate) {
			return true
		}
	}
	return false
}

func (p CaseInsensitiveEquals) Match(value any, present bool) bool {
	if !present || value == nil {
		return false
	}
	return strings.EqualFold(fmt.Sprint(value), p.Value)
}

// Filters is a resolved, ordered set of predicates.
type Filters []Predicate

// ResolveFilters merges mapping filters with request filters (request wins
// on key collision) and resolves each raw value to its predicate once.
func ResolveFilters(mapping, request map[string]any) Filters {
	merged := make(map[string]any, len(mapping)+len(request))
	for k, v := range mapping {
		merged[k] = v
	}
	for k, v := range request {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	filters := make(Filters, 0, len(keys))
	for _, k := range keys {
		filters = append(filters, predicateFor(k, merged[k]))
	}
	return filters
}

func predicateFor(key string, raw any) Predicate {
	switch v := raw.(type) {
	case []any:
		values := make([]string, 0, len(v))
		for _, item := range v {
			values = append(values, fmt.Sprint(item))
		}
		return OneOf{Key: key, Values: values}
	case []string:
		return OneOf{Key: key, Values: append([]string(nil), v...)}
	case string:
		return CaseInsensitiveEquals{Key: key, Value: v}
	}
	return Equals{Key: key, Value: raw}
}

// Match reports whether row satisfies every predicate.
func (f Filters) Match(row *domain.EntityRow) bool {
	for _, p := range f {
		value, present := row.Lookup(p.Field())
		if !p.Match(value, present) {
			return false
		}
	}
	return true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
