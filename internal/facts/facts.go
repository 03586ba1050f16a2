// Package facts turns raw criterion values into rule-engine facts.
package facts

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
)

// Build creates the fact for one bank on one criterion. index is the
// bank's position in the comparison and may be nil.
func Build(raw any, bank *domain.Bank, criteriaKey string, mode domain.Mode, index *int) domain.Fact {
	f := domain.Fact{
		Value:       raw,
		CriteriaKey: criteriaKey,
		Mode:        mode,
	}
	if bank != nil {
		f.Bank = domain.FactBank{ID: bank.ID, Name: bank.Name, Index: index}
	}

	// Blank strings count as missing here rather than coercing to 0.
	n, ok := ToNumber(raw)
	if !ok {
		f.Missing = true
		return f
	}

	f.NumericValue = &n
	f.IsZero = n == 0
	f.IsPositive = n > 0
	f.IsNegative = n < 0
	return f
}

// ToNumber coerces v to a finite float64. nil, empty strings and
// non-finite results are reported as missing.
func ToNumber(v any) (float64, bool) {
	var n float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case *float64:
		if x == nil {
			return 0, false
		}
		n = *x
	case float64:
		n = x
	case float32:
		n = float64(x)
	case int:
		n = float64(x)
	case int32:
		n = float64(x)
	case int64:
		n = float64(x)
	case uint:
		n = float64(x)
	case uint32:
		n = float64(x)
	case uint64:
		n = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		n = parsed
	case bool:
		if x {
			n = 1
		}
	case string:
		// Unlike plain numeric coercion, "" and "  " are not 0.
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}

	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
