package compare

import (
	"context"

	"github.com/opensource-finance/heron/internal/aggregate"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/facts"
	"github.com/opensource-finance/heron/internal/ranking"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/scoring"
)

// processScore normalizes each criterion to base scores, lets the rules
// adjust them and builds the weighted ranking.
func (e *Engine) processScore(ctx context.Context, criteria []*domain.Criterion, rulesByKey map[string][]*domain.Rule, col *aggregate.Collection) *domain.ComparisonResult {
	processed := make([]ranking.ScoreCriterion, 0, len(criteria))
	used := make([]domain.CriterionRef, 0, len(criteria))

	for _, c := range criteria {
		ruleList := rulesByKey[c.Key]
		set := e.executor.Compile(c.Key, ruleList)
		settings := domain.ExtractSettings(ruleList)

		values := make([]*float64, len(col.Banks))
		for i := range col.Banks {
			values[i] = valueAt(col.Values[c.Key], i)
		}
		base, stats := scoring.CalculateBaseScores(c, values)

		inputs := make([]rules.Input, len(col.Banks))
		for i, b := range col.Banks {
			idx := i
			raw := base[i]
			fact := facts.Build(rawValue(values, i), b, c.Key, domain.ModeScore, &idx)
			fact.RawScore = &raw
			fact.Stats = stats
			inputs[i] = rules.Input{Fact: fact, BaseScore: raw}
		}

		picked := make([]*string, len(col.Banks))
		for i := range col.Banks {
			picked[i] = valueAtID(col.PickedIDs[c.Key], i)
		}

		processed = append(processed, ranking.ScoreCriterion{
			Criterion:  c,
			Settings:   settings,
			Stats:      stats,
			BaseScores: base,
			Outcomes:   e.executor.ExecuteAll(ctx, set, inputs),
			PickedIDs:  picked,
		})

		ref := c.Ref()
		weight, critical := settings.Weight, settings.Critical
		ref.Weight = &weight
		ref.Critical = &critical
		used = append(used, ref)
	}

	entries, explanations := ranking.BuildScore(col.Banks, processed)
	return &domain.ComparisonResult{
		Mode:         domain.ModeScore,
		Success:      true,
		CriteriaUsed: used,
		Ranking:      entries,
		Explanations: explanations,
	}
}
