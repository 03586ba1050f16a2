package compare

import (
	"context"

	"github.com/opensource-finance/heron/internal/aggregate"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/facts"
	"github.com/opensource-finance/heron/internal/ranking"
	"github.com/opensource-finance/heron/internal/rules"
)

// processPlain runs each criterion's rules on the raw facts and ranks
// banks on their values.
func (e *Engine) processPlain(ctx context.Context, criteria []*domain.Criterion, rulesByKey map[string][]*domain.Rule, col *aggregate.Collection) *domain.ComparisonResult {
	processed := make([]ranking.PlainCriterion, 0, len(criteria))
	for _, c := range criteria {
		ruleList := rulesByKey[c.Key]
		set := e.executor.Compile(c.Key, ruleList)

		values := col.Values[c.Key]
		inputs := make([]rules.Input, len(col.Banks))
		for i, b := range col.Banks {
			idx := i
			inputs[i] = rules.Input{
				Fact: facts.Build(rawValue(values, i), b, c.Key, domain.ModePlain, &idx),
			}
		}
		outcomes := e.executor.ExecuteAll(ctx, set, inputs)

		picked := col.PickedIDs[c.Key]
		results := make([]domain.BankCriterionResult, len(col.Banks))
		for i, b := range col.Banks {
			results[i] = plainResult(b, valueAt(values, i), valueAtID(picked, i), outcomes[i])
		}

		processed = append(processed, ranking.PlainCriterion{
			Criterion: c,
			Settings:  domain.ExtractSettings(ruleList),
			Results:   results,
		})
	}

	perCriterion, overall := ranking.BuildPlain(col.Banks, processed)
	return &domain.ComparisonResult{
		Mode:           domain.ModePlain,
		Success:        true,
		CriteriaUsed:   plainRefs(criteria),
		PerCriterion:   perCriterion,
		OverallRanking: overall,
	}
}

func plainResult(b *domain.Bank, value *float64, picked *string, out domain.RuleOutcome) domain.BankCriterionResult {
	display := ranking.DefaultDisplay(value)
	if out.Display != nil {
		display = *out.Display
	}
	sortKey := ranking.DefaultSortKey(value)
	if out.SortKey != nil {
		sortKey = *out.SortKey
	}
	notes := out.Notes
	if notes == nil {
		notes = []string{}
	}
	return domain.BankCriterionResult{
		Bank:           b.Ref(),
		NumValue:       value,
		Display:        display,
		Excluded:       out.Excluded,
		Notes:          notes,
		SortKey:        &sortKey,
		PickedEntityID: picked,
	}
}

func valueAt(values []*float64, i int) *float64 {
	if i < len(values) {
		return values[i]
	}
	return nil
}

func valueAtID(ids []*string, i int) *string {
	if i < len(ids) {
		return ids[i]
	}
	return nil
}

// rawValue is the fact value for bank i: a float64 or nil.
func rawValue(values []*float64, i int) any {
	if v := valueAt(values, i); v != nil {
		return *v
	}
	return nil
}
