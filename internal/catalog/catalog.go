// Package catalog resolves the active criteria and rules of a comparison.
package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/opensource-finance/heron/internal/domain"
)

// Service reads criteria and rules from a catalog repository.
type Service struct {
	repo domain.CatalogRepository
}

// New creates a catalog service.
func New(repo domain.CatalogRepository) *Service {
	return &Service{repo: repo}
}

// GetActiveCriteria returns the active criteria whose key is in keys, or
// every active criterion when keys is empty, sorted by key. Unknown keys
// are dropped.
func (s *Service) GetActiveCriteria(ctx context.Context, keys []string) ([]*domain.Criterion, error) {
	all, err := s.repo.ListActiveCriteria(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list criteria: %w", err)
	}

	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}

	out := make([]*domain.Criterion, 0, len(all))
	for _, c := range all {
		if !c.IsActive {
			continue
		}
		if len(keys) > 0 && !want[c.Key] {
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// GetRulesForCriteria groups the active rules of the given criteria that
// apply to mode, ordered by priority then id, both descending.
func (s *Service) GetRulesForCriteria(ctx context.Context, keys []string, mode domain.Mode) (map[string][]*domain.Rule, error) {
	grouped := make(map[string][]*domain.Rule, len(keys))
	if len(keys) == 0 {
		return grouped, nil
	}

	rules, err := s.repo.ListActiveRules(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	SortRules(rules)
	for _, r := range rules {
		if !r.IsActive || !r.AppliesTo(mode) {
			continue
		}
		grouped[r.CriteriaKey] = append(grouped[r.CriteriaKey], r)
	}
	return grouped, nil
}

// SortRules orders rules by priority descending, then id descending.
func SortRules(rules []*domain.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID > rules[j].ID
	})
}
