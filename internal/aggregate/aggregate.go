// Package aggregate collects one numeric value per (bank, criterion) from
// the entity store.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Aggregator reads banks and entity rows and reduces them per criterion.
type Aggregator struct {
	banks    domain.BankStore
	entities domain.EntityStore
}

// New creates an aggregator over the given stores.
func New(banks domain.BankStore, entities domain.EntityStore) *Aggregator {
	return &Aggregator{banks: banks, entities: entities}
}

// Collection holds the collected values. Values and PickedIDs are aligned
// with Banks.
type Collection struct {
	Banks     []*domain.Bank
	Values    map[string][]*float64
	PickedIDs map[string][]*string
}

// ResolveBanks returns the active banks among ids (all active banks when ids
// is empty), ordered by name then id.
func (a *Aggregator) ResolveBanks(ctx context.Context, ids []string) ([]*domain.Bank, error) {
	banks, err := a.banks.ListBanks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list banks: %w", err)
	}

	seen := make(map[string]bool, len(banks))
	out := make([]*domain.Bank, 0, len(banks))
	for _, b := range banks {
		if b == nil || !b.IsActive || seen[b.ID] {
			continue
		}
		seen[b.ID] = true
		out = append(out, b)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Collect resolves banks and gathers every criterion's values. Rows are
// fetched once per entity type; unknown entity types and store failures
// degrade to null values.
func (a *Aggregator) Collect(ctx context.Context, bankIDs []string, criteria []*domain.Criterion, filters map[string]map[string]any) (*Collection, error) {
	banks, err := a.ResolveBanks(ctx, bankIDs)
	if err != nil {
		return nil, err
	}

	col := &Collection{
		Banks:     banks,
		Values:    make(map[string][]*float64, len(criteria)),
		PickedIDs: make(map[string][]*string, len(criteria)),
	}
	if len(banks) == 0 {
		return col, nil
	}

	ids := make([]string, len(banks))
	for i, b := range banks {
		ids[i] = b.ID
	}

	rowsByType, err := a.fetch(ctx, ids, criteria)
	if err != nil {
		return nil, err
	}

	for _, c := range criteria {
		rows, ok := rowsByType[c.DataMapping.EntityType]
		if !ok {
			col.Values[c.Key] = make([]*float64, len(banks))
			col.PickedIDs[c.Key] = make([]*string, len(banks))
			continue
		}
		col.Values[c.Key], col.PickedIDs[c.Key] = reduceCriterion(c, banks, rows, filters[c.Key])
	}
	return col, nil
}

// fetch loads rows for every distinct known entity type concurrently and
// groups them by bank id.
func (a *Aggregator) fetch(ctx context.Context, bankIDs []string, criteria []*domain.Criterion) (map[string]map[string][]*domain.EntityRow, error) {
	types := make([]string, 0)
	seen := make(map[string]bool)
	for _, c := range criteria {
		t := c.DataMapping.EntityType
		if seen[t] {
			continue
		}
		seen[t] = true
		if !domain.IsKnownEntityType(t) {
			slog.Warn("unknown entity type, values will be null",
				"criteria_key", c.Key,
				"entity_type", t,
			)
			continue
		}
		types = append(types, t)
	}

	grouped := make([]map[string][]*domain.EntityRow, len(types))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		i, t := i, t
		g.Go(func() error {
			rows, err := a.entities.ListRows(gctx, t, bankIDs)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				slog.Warn("failed to fetch entity rows, values will be null",
					"entity_type", t,
					"error", err,
				)
				return nil
			}
			byBank := make(map[string][]*domain.EntityRow)
			for _, r := range rows {
				byBank[r.BankID] = append(byBank[r.BankID], r)
			}
			grouped[i] = byBank
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to collect entity rows: %w", err)
	}

	out := make(map[string]map[string][]*domain.EntityRow, len(types))
	for i, t := range types {
		if grouped[i] != nil {
			out[t] = grouped[i]
		}
	}
	return out, nil
}

func reduceCriterion(c *domain.Criterion, banks []*domain.Bank, rows map[string][]*domain.EntityRow, requestFilters map[string]any) ([]*float64, []*string) {
	filters := ResolveFilters(c.DataMapping.Filters, requestFilters)
	values := make([]*float64, len(banks))
	picked := make([]*string, len(banks))

	for i, b := range banks {
		var matched []*domain.EntityRow
		for _, r := range rows[b.ID] {
			if filters.Match(r) {
				matched = append(matched, r)
			}
		}
		values[i], picked[i] = Reduce(matched, c.DataMapping.ValuePath, c.DataMapping.Aggregation)
	}
	return values, picked
}

// Reduce aggregates the numeric values found at valuePath and returns the
// id of the row that produced the result. avg has no representative row.
func Reduce(rows []*domain.EntityRow, valuePath string, agg domain.Aggregation) (*float64, *string) {
	type candidate struct {
		id    string
		value float64
	}
	var nums []candidate
	for _, r := range rows {
		raw, ok := r.Lookup(valuePath)
		if !ok {
			continue
		}
		if v, ok := StrictNumber(raw); ok {
			nums = append(nums, candidate{id: r.ID, value: v})
		}
	}
	if len(nums) == 0 {
		return nil, nil
	}

	pick := nums[0]
	switch agg {
	case domain.AggregationFirst:
	case domain.AggregationAvg:
		sum := 0.0
		for _, n := range nums {
			sum += n.value
		}
		avg := sum / float64(len(nums))
		return &avg, nil
	case domain.AggregationMax:
		for _, n := range nums[1:] {
			if n.value > pick.value {
				pick = n
			}
		}
	default:
		for _, n := range nums[1:] {
			if n.value < pick.value {
				pick = n
			}
		}
	}

	value, id := pick.value, pick.id
	return &value, &id
}

// StrictNumber parses v as a finite number. Empty strings, nil and
// non-numeric kinds are rejected.
func StrictNumber(v any) (float64, bool) {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case float32:
		n = float64(x)
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case int32:
		n = float64(x)
	case string:
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
