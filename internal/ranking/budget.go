package ranking

import (
	"sort"

	"github.com/opensource-finance/heron/internal/domain"
)

// AnalyzeBudget classifies every bank into exactly one of missing_data,
// over_budget or within_budget. Budgets for criteria outside requested are
// ignored. It returns nil when no budget is supplied.
func AnalyzeBudget(banks []*domain.Bank, values map[string][]*float64, budgets map[string]float64, requested []string) *domain.BudgetAnalysis {
	if len(budgets) == 0 {
		return nil
	}

	active := make(map[string]float64, len(budgets))
	for _, key := range requested {
		if limit, ok := budgets[key]; ok {
			active[key] = limit
		}
	}
	keys := make([]string, 0, len(active))
	for k := range active {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	analysis := &domain.BudgetAnalysis{
		Budgets:      active,
		WithinBudget: []domain.BankRef{},
		OverBudget:   []domain.OverBudgetEntry{},
		MissingData:  []domain.MissingDataEntry{},
	}

	for i, b := range banks {
		var missing []string
		var violations []domain.BudgetViolation
		for _, key := range keys {
			var v *float64
			if vals := values[key]; i < len(vals) {
				v = vals[i]
			}
			if v == nil {
				missing = append(missing, key)
				continue
			}
			if *v > active[key] {
				violations = append(violations, domain.BudgetViolation{
					Criteria: key,
					Budget:   active[key],
					Actual:   *v,
					Excess:   *v - active[key],
				})
			}
		}

		switch {
		case len(missing) > 0:
			analysis.MissingData = append(analysis.MissingData, domain.MissingDataEntry{Bank: b.Ref(), Missing: missing})
		case len(violations) > 0:
			analysis.OverBudget = append(analysis.OverBudget, domain.OverBudgetEntry{Bank: b.Ref(), Violations: violations})
		default:
			analysis.WithinBudget = append(analysis.WithinBudget, b.Ref())
		}
	}
	return analysis
}
