// Package ranking assembles comparison rankings, explanations and budget
// analysis from processed per-bank results.
package ranking

import (
	"sort"
	"strconv"

	"github.com/opensource-finance/heron/internal/domain"
)

// MissingSortKey sorts banks without a value after every real value. It is
// finite so weighted sums stay JSON-encodable.
const MissingSortKey = 1e12

// Default display strings for plain mode.
const (
	DisplayMissing = "Not communicated"
	DisplayFree    = "Free (0)"
)

// DefaultDisplay formats a raw value for plain mode.
func DefaultDisplay(v *float64) string {
	switch {
	case v == nil:
		return DisplayMissing
	case *v == 0:
		return DisplayFree
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// DefaultSortKey returns the value itself, or MissingSortKey.
func DefaultSortKey(v *float64) float64 {
	if v == nil {
		return MissingSortKey
	}
	return *v
}

// PlainCriterion is one processed criterion in plain mode. Results are
// aligned with the bank list.
type PlainCriterion struct {
	Criterion *domain.Criterion
	Settings  domain.CriterionSettings
	Results   []domain.BankCriterionResult
}

// BuildPlain ranks every criterion and, with two or more criteria, builds
// the overall ranking.
func BuildPlain(banks []*domain.Bank, criteria []PlainCriterion) ([]domain.CriterionRanking, []domain.OverallEntry) {
	perCriterion := make([]domain.CriterionRanking, 0, len(criteria))
	for _, pc := range criteria {
		perCriterion = append(perCriterion, domain.CriterionRanking{
			Criteria: pc.Criterion.Ref(),
			Ranking:  rankCriterion(pc.Results),
		})
	}

	if len(criteria) < 2 {
		return perCriterion, nil
	}
	return perCriterion, overall(banks, criteria)
}

func rankCriterion(results []domain.BankCriterionResult) []domain.BankCriterionResult {
	ranked := make([]domain.BankCriterionResult, len(results))
	copy(ranked, results)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Excluded != b.Excluded {
			return !a.Excluded
		}
		aMissing, bMissing := a.NumValue == nil, b.NumValue == nil
		if aMissing != bMissing {
			return !aMissing
		}
		if !aMissing && *a.NumValue != *b.NumValue {
			return *a.NumValue < *b.NumValue
		}
		if ak, bk := sortKeyOf(a), sortKeyOf(b); ak != bk {
			return ak < bk
		}
		return a.Bank.ID < b.Bank.ID
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

func sortKeyOf(r domain.BankCriterionResult) float64 {
	if r.SortKey != nil {
		return *r.SortKey
	}
	return DefaultSortKey(r.NumValue)
}

func overall(banks []*domain.Bank, criteria []PlainCriterion) []domain.OverallEntry {
	entries := make([]domain.OverallEntry, len(banks))
	for i, b := range banks {
		entry := domain.OverallEntry{Bank: b.Ref()}
		for _, pc := range criteria {
			r := pc.Results[i]
			entry.SortSum += sortKeyOf(r) * pc.Settings.Weight
			if r.Excluded && pc.Settings.Critical {
				entry.Excluded = true
				entry.ExcludedBy = append(entry.ExcludedBy, pc.Criterion.Key)
			}
		}
		entries[i] = entry
	}

	// Lower sums rank first.
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Excluded != b.Excluded {
			return !a.Excluded
		}
		if a.SortSum != b.SortSum {
			return a.SortSum < b.SortSum
		}
		return a.Bank.ID < b.Bank.ID
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
