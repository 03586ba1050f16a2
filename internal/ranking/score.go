package ranking

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/scoring"
)

// ScoreCriterion is one processed criterion in score mode. BaseScores,
// Outcomes and PickedIDs are aligned with the bank list.
type ScoreCriterion struct {
	Criterion  *domain.Criterion
	Settings   domain.CriterionSettings
	Stats      *domain.ScoreStats
	BaseScores []float64
	Outcomes   []domain.RuleOutcome
	PickedIDs  []*string
}

// BuildScore computes the weighted composite ranking and the per-criterion
// explanations.
func BuildScore(banks []*domain.Bank, criteria []ScoreCriterion) ([]domain.ScoreEntry, []domain.Explanation) {
	entries := make([]domain.ScoreEntry, len(banks))
	for i, b := range banks {
		entries[i] = scoreEntry(i, b, criteria)
	}

	// Higher composites rank first.
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Excluded != b.Excluded {
			return !a.Excluded
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if fa, fb := firstScore(a), firstScore(b); fa != fb {
			return fa > fb
		}
		return a.Bank.ID < b.Bank.ID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	explanations := make([]domain.Explanation, 0, len(criteria))
	for _, sc := range criteria {
		explanations = append(explanations, explain(sc))
	}
	return entries, explanations
}

func scoreEntry(i int, b *domain.Bank, criteria []ScoreCriterion) domain.ScoreEntry {
	entry := domain.ScoreEntry{
		Bank:        b.Ref(),
		PerCriteria: make([]domain.CriterionScore, 0, len(criteria)),
		ProductIDs:  make(map[string]*string, len(criteria)),
	}

	var weighted, weights float64
	for _, sc := range criteria {
		out := sc.Outcomes[i]
		var picked *string
		if i < len(sc.PickedIDs) {
			picked = sc.PickedIDs[i]
		}

		notes := out.Notes
		if notes == nil {
			notes = []string{}
		}
		entry.PerCriteria = append(entry.PerCriteria, domain.CriterionScore{
			Key:       sc.Criterion.Key,
			Score:     out.Score,
			BaseScore: sc.BaseScores[i],
			Excluded:  out.Excluded,
			Notes:     notes,
			ProductID: picked,
		})
		entry.ProductIDs[sc.Criterion.Key] = picked

		if out.Excluded {
			if sc.Settings.Critical {
				entry.Excluded = true
			}
			continue
		}
		weighted += out.Score * sc.Settings.Weight
		weights += sc.Settings.Weight
	}

	if weights > 0 {
		entry.Score = scoring.Clamp(math.Round(weighted / weights))
	}
	if entry.Excluded {
		entry.Score = 0
	}
	return entry
}

func firstScore(e domain.ScoreEntry) float64 {
	if len(e.PerCriteria) == 0 {
		return 0
	}
	return e.PerCriteria[0].Score
}

func explain(sc ScoreCriterion) domain.Explanation {
	ex := domain.Explanation{
		Key:      sc.Criterion.Key,
		Label:    sc.Criterion.Label,
		Weight:   sc.Settings.Weight,
		Critical: sc.Settings.Critical,
		Stats:    sc.Stats,
	}
	if sc.Stats != nil {
		ex.Strategy = sc.Stats.Strategy
	}
	ex.Text = explanationText(ex.Strategy, sc.Stats)
	if sc.Settings.Critical {
		ex.Text += " Critical: an exclusion on this criterion removes the bank from the ranking."
	}
	return ex
}

func explanationText(strategy string, stats *domain.ScoreStats) string {
	switch {
	case stats == nil:
		return "No scoring information."
	case stats.Error != "":
		return "Scoring failed, every bank scored 0."
	case strategy == domain.StrategyExactMatch:
		return fmt.Sprintf("Banks matching %v score 100, others 0.", stats.Target)
	case stats.AllMissing:
		return "No bank provides a value, every bank scored 0."
	case stats.AllEqual:
		return fmt.Sprintf("Every bank with a value shares %s and scores 100.", formatNumber(*stats.Min))
	case strategy == domain.StrategyHigherBetter:
		return fmt.Sprintf("Higher is better: %s scores 0 and %s scores 100.", formatNumber(*stats.Min), formatNumber(*stats.Max))
	}
	return fmt.Sprintf("Lower is better: %s scores 100 and %s scores 0.", formatNumber(*stats.Min), formatNumber(*stats.Max))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
