package compare

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/opensource-finance/heron/internal/aggregate"
	"github.com/opensource-finance/heron/internal/catalog"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/rules"
)

// fakeStore serves banks, rows, criteria and rules from memory.
type fakeStore struct {
	banks      []*domain.Bank
	rows       []*domain.EntityRow
	criteria   []*domain.Criterion
	rules      []*domain.Rule
	catalogErr error
}

func (f *fakeStore) ListBanks(_ context.Context, ids []string) ([]*domain.Bank, error) {
	if len(ids) == 0 {
		return f.banks, nil
	}
	want := make(map[string]bool)
	for _, id := range ids {
		want[id] = true
	}
	var out []*domain.Bank
	for _, b := range f.banks {
		if want[b.ID] {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) ListRows(_ context.Context, entityType string, bankIDs []string) ([]*domain.EntityRow, error) {
	want := make(map[string]bool)
	for _, id := range bankIDs {
		want[id] = true
	}
	var out []*domain.EntityRow
	for _, r := range f.rows {
		if r.EntityType == entityType && want[r.BankID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListActiveCriteria(context.Context) ([]*domain.Criterion, error) {
	return f.criteria, f.catalogErr
}

func (f *fakeStore) ListActiveRules(_ context.Context, keys []string) ([]*domain.Rule, error) {
	want := make(map[string]bool)
	for _, k := range keys {
		want[k] = true
	}
	var out []*domain.Rule
	for _, r := range f.rules {
		if want[r.CriteriaKey] {
			out = append(out, r)
		}
	}
	catalog.SortRules(out)
	return out, f.catalogErr
}

// fakeBus records published payloads.
type fakeBus struct {
	mu        sync.Mutex
	published [][]byte
}

func (b *fakeBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic != domain.TopicComparisonCompleted {
		return errors.New("unexpected topic " + topic)
	}
	b.published = append(b.published, payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string, domain.MessageHandler) (domain.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBus) Ping(context.Context) error { return nil }
func (b *fakeBus) Close() error               { return nil }

func newFakeStore() *fakeStore {
	return &fakeStore{
		banks: []*domain.Bank{
			{ID: "b2", Name: "Beta", IsActive: true},
			{ID: "b1", Name: "Alpha", IsActive: true},
			{ID: "b3", Name: "Gamma", IsActive: true},
		},
		rows: []*domain.EntityRow{
			{ID: "acc-1", BankID: "b1", EntityType: domain.EntityAccount, Fields: map[string]any{"monthly_fee": 1000.0}},
			{ID: "acc-2", BankID: "b2", EntityType: domain.EntityAccount, Fields: map[string]any{"monthly_fee": 2000.0}},
			{ID: "card-1", BankID: "b1", EntityType: domain.EntityCard, Fields: map[string]any{"annual_fee": 50.0}},
			{ID: "card-2", BankID: "b2", EntityType: domain.EntityCard, Fields: map[string]any{"annual_fee": 20.0}},
			{ID: "card-3", BankID: "b3", EntityType: domain.EntityCard, Fields: map[string]any{"annual_fee": 30.0}},
		},
		criteria: []*domain.Criterion{
			{
				Key:   "account_monthly_fee",
				Label: "Monthly fee",
				DataMapping: domain.DataMapping{
					EntityType:  domain.EntityAccount,
					ValuePath:   "monthly_fee",
					Aggregation: domain.AggregationMin,
				},
				ScoringStrategy: domain.StrategyLowerBetter,
				IsActive:        true,
			},
			{
				Key:   "card_annual_fee",
				Label: "Card fee",
				DataMapping: domain.DataMapping{
					EntityType:  domain.EntityCard,
					ValuePath:   "annual_fee",
					Aggregation: domain.AggregationMin,
				},
				ScoringStrategy: domain.StrategyLowerBetter,
				IsActive:        true,
			},
		},
	}
}

func newTestEngine(t *testing.T, store *fakeStore, opts ...Option) *Engine {
	t.Helper()
	exec, err := rules.NewExecutor(rules.Config{CacheSize: 10, MaxWorkers: 4, AllowUndefinedFacts: true})
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	return NewEngine(catalog.New(store), aggregate.New(store, store), exec, opts...)
}

func criticalExclusion(id int64, key string, above float64) *domain.Rule {
	critical := true
	return &domain.Rule{
		ID:          id,
		CriteriaKey: key,
		IsActive:    true,
		Definition: domain.RuleDefinition{
			Conditions: domain.ConditionNode{All: []domain.ConditionNode{
				{Fact: "value", Operator: rules.OpGreaterThan, Value: above},
			}},
			Event: domain.EventSpec{Type: rules.EventExclude, Params: map[string]any{"explanation": "too expensive"}},
			Meta:  &domain.RuleMeta{Critical: &critical},
		},
	}
}

func bankOrder(entries []domain.ScoreEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Bank.ID
	}
	return ids
}

func TestCompareValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownMode", func(t *testing.T) {
		e := newTestEngine(t, newFakeStore())
		res := e.Compare(ctx, &domain.CompareRequest{CriteriaKeys: []string{"account_monthly_fee"}, Mode: "unknown"})
		if res.Success {
			t.Fatal("expected failure")
		}
		want := "Mode inconnu: unknown. Modes supportés: plain, score"
		if res.Error != want {
			t.Errorf("expected %q, got %q", want, res.Error)
		}
		if res.CriteriaUsed == nil || len(res.CriteriaUsed) != 0 {
			t.Errorf("expected empty criteria_used, got %v", res.CriteriaUsed)
		}
	})

	t.Run("NoCriteria", func(t *testing.T) {
		e := newTestEngine(t, newFakeStore())
		res := e.Compare(ctx, &domain.CompareRequest{CriteriaKeys: []string{"missing"}, Mode: domain.ModeScore})
		if res.Success || res.Error != ErrMsgNoCriteria {
			t.Errorf("expected %q, got success=%v error=%q", ErrMsgNoCriteria, res.Success, res.Error)
		}
	})

	t.Run("NoBanks", func(t *testing.T) {
		e := newTestEngine(t, newFakeStore())
		res := e.Compare(ctx, &domain.CompareRequest{
			CriteriaKeys: []string{"account_monthly_fee"},
			BankIDs:      []string{"unknown"},
			Mode:         domain.ModePlain,
		})
		if res.Success || res.Error != ErrMsgNoBanks {
			t.Errorf("expected %q, got success=%v error=%q", ErrMsgNoBanks, res.Success, res.Error)
		}
		if len(res.CriteriaUsed) != 1 || res.CriteriaUsed[0].Key != "account_monthly_fee" {
			t.Errorf("expected criteria_used to list the criterion, got %v", res.CriteriaUsed)
		}
	})

	t.Run("CatalogFailureDoesNotLeak", func(t *testing.T) {
		store := newFakeStore()
		store.catalogErr = errors.New("connection refused on 10.0.0.3")
		e := newTestEngine(t, store)
		res := e.Compare(ctx, &domain.CompareRequest{CriteriaKeys: []string{"account_monthly_fee"}, Mode: domain.ModeScore})
		if res.Success || res.Error != ErrMsgInternal {
			t.Errorf("expected %q, got success=%v error=%q", ErrMsgInternal, res.Success, res.Error)
		}
	})
}

func TestCompareScore(t *testing.T) {
	ctx := context.Background()

	t.Run("LowerBetterExample", func(t *testing.T) {
		e := newTestEngine(t, newFakeStore())
		res := e.Compare(ctx, &domain.CompareRequest{CriteriaKeys: []string{"account_monthly_fee"}, Mode: domain.ModeScore})
		if !res.Success {
			t.Fatalf("comparison failed: %s", res.Error)
		}

		scores := make(map[string]float64)
		for _, entry := range res.Ranking {
			scores[entry.Bank.ID] = entry.Score
		}
		want := map[string]float64{"b1": 100, "b2": 0, "b3": 0}
		if diff := cmp.Diff(want, scores); diff != "" {
			t.Errorf("scores mismatch (-want +got):\n%s", diff)
		}
		if got := bankOrder(res.Ranking); !cmp.Equal(got, []string{"b1", "b2", "b3"}) {
			t.Errorf("unexpected order %v", got)
		}

		if len(res.Explanations) != 1 {
			t.Fatalf("expected 1 explanation, got %d", len(res.Explanations))
		}
		stats := res.Explanations[0].Stats
		if stats == nil || *stats.Min != 1000 || *stats.Max != 2000 {
			t.Errorf("expected stats min 1000 max 2000, got %+v", stats)
		}

		ref := res.CriteriaUsed[0]
		if ref.Weight == nil || *ref.Weight != 1 || ref.Critical == nil || *ref.Critical {
			t.Errorf("expected weight 1 and critical false, got %+v", ref)
		}
		if res.Meta == nil || res.Meta.BankCount != 3 || res.Meta.CriteriaCount != 1 {
			t.Errorf("unexpected meta %+v", res.Meta)
		}
	})

	t.Run("RuleAdjustsScore", func(t *testing.T) {
		store := newFakeStore()
		store.rules = []*domain.Rule{{
			ID:          1,
			CriteriaKey: "account_monthly_fee",
			IsActive:    true,
			Definition: domain.RuleDefinition{
				Conditions: domain.ConditionNode{All: []domain.ConditionNode{
					{Fact: "value", Operator: rules.OpGreaterThan, Value: 1500},
				}},
				Event: domain.EventSpec{Type: rules.EventBonus, Params: map[string]any{"add": 10}},
			},
		}}
		e := newTestEngine(t, store)
		res := e.Compare(ctx, &domain.CompareRequest{CriteriaKeys: []string{"account_monthly_fee"}, Mode: domain.ModeScore})

		for _, entry := range res.Ranking {
			if entry.Bank.ID != "b2" {
				continue
			}
			if entry.Score != 10 || entry.PerCriteria[0].BaseScore != 0 {
				t.Errorf("expected b2 bonus from 0 to 10, got %+v", entry.PerCriteria[0])
			}
			if id := entry.ProductIDs["account_monthly_fee"]; id == nil || *id != "acc-2" {
				t.Errorf("expected product acc-2, got %v", id)
			}
		}
	})

	t.Run("CriticalExclusion", func(t *testing.T) {
		store := newFakeStore()
		store.rules = []*domain.Rule{criticalExclusion(1, "card_annual_fee", 40)}
		e := newTestEngine(t, store)
		res := e.Compare(ctx, &domain.CompareRequest{
			CriteriaKeys: []string{"account_monthly_fee", "card_annual_fee"},
			Mode:         domain.ModeScore,
		})
		if !res.Success {
			t.Fatalf("comparison failed: %s", res.Error)
		}

		if got := bankOrder(res.Ranking); !cmp.Equal(got, []string{"b2", "b3", "b1"}) {
			t.Fatalf("expected excluded b1 last, got %v", got)
		}
		last := res.Ranking[2]
		if !last.Excluded || last.Score != 0 {
			t.Errorf("expected b1 excluded with score 0, got %+v", last)
		}
		for _, entry := range res.Ranking[:2] {
			if entry.Excluded {
				t.Errorf("bank %s should not be excluded", entry.Bank.ID)
			}
		}
	})
}

func TestComparePlain(t *testing.T) {
	ctx := context.Background()

	t.Run("SingleCriterion", func(t *testing.T) {
		e := newTestEngine(t, newFakeStore())
		res := e.Compare(ctx, &domain.CompareRequest{CriteriaKeys: []string{"account_monthly_fee"}, Mode: domain.ModePlain})
		if !res.Success {
			t.Fatalf("comparison failed: %s", res.Error)
		}
		if res.OverallRanking != nil {
			t.Error("expected no overall ranking for one criterion")
		}
		if len(res.PerCriterion) != 1 {
			t.Fatalf("expected 1 criterion ranking, got %d", len(res.PerCriterion))
		}

		ranking := res.PerCriterion[0].Ranking
		var ids, displays []string
		for _, r := range ranking {
			ids = append(ids, r.Bank.ID)
			displays = append(displays, r.Display)
		}
		if !cmp.Equal(ids, []string{"b1", "b2", "b3"}) {
			t.Errorf("unexpected order %v", ids)
		}
		if !cmp.Equal(displays, []string{"1000", "2000", "Not communicated"}) {
			t.Errorf("unexpected displays %v", displays)
		}
		if ranking[0].PickedEntityID == nil || *ranking[0].PickedEntityID != "acc-1" {
			t.Errorf("expected picked acc-1, got %v", ranking[0].PickedEntityID)
		}
		if ranking[0].Rank != 1 || ranking[2].Rank != 3 {
			t.Errorf("unexpected ranks %d, %d", ranking[0].Rank, ranking[2].Rank)
		}
	})

	t.Run("OverallWithCriticalExclusion", func(t *testing.T) {
		store := newFakeStore()
		store.rules = []*domain.Rule{criticalExclusion(1, "card_annual_fee", 40)}
		e := newTestEngine(t, store)
		res := e.Compare(ctx, &domain.CompareRequest{
			CriteriaKeys: []string{"account_monthly_fee", "card_annual_fee"},
			Mode:         domain.ModePlain,
		})
		if !res.Success {
			t.Fatalf("comparison failed: %s", res.Error)
		}
		if len(res.OverallRanking) != 3 {
			t.Fatalf("expected 3 overall entries, got %d", len(res.OverallRanking))
		}
		last := res.OverallRanking[2]
		if last.Bank.ID != "b1" || !last.Excluded || !cmp.Equal(last.ExcludedBy, []string{"card_annual_fee"}) {
			t.Errorf("expected b1 excluded by card_annual_fee, got %+v", last)
		}
		if res.CriteriaUsed[0].Weight != nil {
			t.Error("plain criteria_used should not carry weights")
		}
	})
}

func TestCompareBudget(t *testing.T) {
	e := newTestEngine(t, newFakeStore())
	res := e.Compare(context.Background(), &domain.CompareRequest{
		CriteriaKeys: []string{"account_monthly_fee"},
		Mode:         domain.ModeScore,
		Budgets:      map[string]float64{"account_monthly_fee": 1500, "card_annual_fee": 10},
	})
	if res.BudgetAnalysis == nil {
		t.Fatal("expected budget analysis")
	}

	ba := res.BudgetAnalysis
	if _, ok := ba.Budgets["card_annual_fee"]; ok {
		t.Error("budgets of unrequested criteria must be ignored")
	}
	if len(ba.WithinBudget) != 1 || ba.WithinBudget[0].ID != "b1" {
		t.Errorf("expected b1 within budget, got %v", ba.WithinBudget)
	}
	if len(ba.OverBudget) != 1 || ba.OverBudget[0].Violations[0].Excess != 500 {
		t.Errorf("expected b2 over budget by 500, got %+v", ba.OverBudget)
	}
	if len(ba.MissingData) != 1 || ba.MissingData[0].Bank.ID != "b3" {
		t.Errorf("expected b3 missing data, got %+v", ba.MissingData)
	}
}

func TestCompareIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.rules = []*domain.Rule{criticalExclusion(1, "card_annual_fee", 40)}
	e := newTestEngine(t, store)
	ctx := context.Background()

	for _, mode := range domain.SupportedModes {
		t.Run(string(mode), func(t *testing.T) {
			req := &domain.CompareRequest{
				CriteriaKeys: []string{"card_annual_fee", "account_monthly_fee"},
				Mode:         mode,
				Budgets:      map[string]float64{"account_monthly_fee": 1500},
			}
			first := e.Compare(ctx, req)
			second := e.Compare(ctx, req)
			if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(domain.ComparisonResult{}, "Meta")); diff != "" {
				t.Errorf("results differ (-first +second):\n%s", diff)
			}
		})
	}
}

func TestRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("PublishesSuccess", func(t *testing.T) {
		bus := &fakeBus{}
		e := newTestEngine(t, newFakeStore(), WithEventBus(bus))
		rec := e.Record(ctx, &domain.CompareRequest{CriteriaKeys: []string{"account_monthly_fee"}, Mode: domain.ModeScore})
		if rec.ID == "" || !rec.Result.Success {
			t.Fatalf("unexpected record %+v", rec)
		}
		if len(bus.published) != 1 {
			t.Fatalf("expected 1 published event, got %d", len(bus.published))
		}
		var decoded domain.ComparisonRecord
		if err := json.Unmarshal(bus.published[0], &decoded); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		if decoded.ID != rec.ID {
			t.Errorf("expected id %s, got %s", rec.ID, decoded.ID)
		}
	})

	t.Run("SkipsFailures", func(t *testing.T) {
		bus := &fakeBus{}
		e := newTestEngine(t, newFakeStore(), WithEventBus(bus))
		rec := e.Record(ctx, &domain.CompareRequest{Mode: "unknown"})
		if rec.Result.Success {
			t.Fatal("expected failure")
		}
		if len(bus.published) != 0 {
			t.Errorf("expected nothing published, got %d", len(bus.published))
		}
	})
}
