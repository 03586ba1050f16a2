// Package rules compiles declarative criterion rules to CEL programs and
// folds the events they fire into per-bank outcomes.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/scoring"
	"golang.org/x/sync/singleflight"
)

// Config tunes an Executor.
type Config struct {
	CacheSize           int
	MaxWorkers          int
	AllowUndefinedFacts bool
}

// ConfigFrom maps the engine configuration onto executor settings.
func ConfigFrom(cfg domain.EngineConfig) Config {
	return Config{
		CacheSize:           cfg.RuleCacheSize,
		MaxWorkers:          cfg.MaxWorkers,
		AllowUndefinedFacts: cfg.AllowUndefinedFacts,
	}
}

// Executor compiles, caches and runs rule sets.
type Executor struct {
	env                 *cel.Env
	cache               *ProgramCache
	group               singleflight.Group
	maxWorkers          int
	allowUndefinedFacts bool
}

// RuleSet is the compiled form of one criterion's rules, in catalog order.
type RuleSet struct {
	CriteriaKey string
	Key         string
	Skipped     []int64

	rules []*compiledRule
}

// Len returns the number of usable rules in the set.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Input is the per-bank input of one rule execution.
type Input struct {
	Fact      domain.Fact
	BaseScore float64
}

// NewExecutor creates a rule executor with its own program cache.
func NewExecutor(cfg Config) (*Executor, error) {
	env, err := newEnv()
	if err != nil {
		return nil, err
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	return &Executor{
		env:                 env,
		cache:               NewProgramCache(cfg.CacheSize),
		maxWorkers:          cfg.MaxWorkers,
		allowUndefinedFacts: cfg.AllowUndefinedFacts,
	}, nil
}

// Validate compiles a single rule definition without caching it.
func (e *Executor) Validate(def *domain.RuleDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: definition is required", ErrInvalidRule)
	}
	_, err := e.compileRule(&domain.Rule{Definition: *def})
	return err
}

// Compile returns the compiled rule set for a criterion, compiling it at
// most once per distinct rule content. Invalid rules are skipped.
func (e *Executor) Compile(criteriaKey string, rules []*domain.Rule) *RuleSet {
	key := CacheKey(criteriaKey, rules)
	if set, ok := e.cache.Get(key); ok {
		return set
	}

	v, _, _ := e.group.Do(key, func() (any, error) {
		if set, ok := e.cache.peek(key); ok {
			return set, nil
		}
		return e.cache.Add(key, e.compileSet(criteriaKey, key, rules)), nil
	})
	return v.(*RuleSet)
}

func (e *Executor) compileSet(criteriaKey, key string, rules []*domain.Rule) *RuleSet {
	ordered := make([]*domain.Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].ID > ordered[j].ID
	})

	set := &RuleSet{CriteriaKey: criteriaKey, Key: key}
	for _, r := range ordered {
		compiled, err := e.compileRule(r)
		if err != nil {
			slog.Warn("skipping invalid rule",
				"criteria_key", criteriaKey,
				"rule_id", r.ID,
				"error", err,
			)
			set.Skipped = append(set.Skipped, r.ID)
			continue
		}
		set.rules = append(set.rules, compiled)
	}

	slog.Debug("rule set compiled",
		"criteria_key", criteriaKey,
		"rules", len(set.rules),
		"skipped", len(set.Skipped),
	)
	return set
}

// Execute runs the rule set against one bank and folds the fired events
// starting from in.BaseScore. Failures never escape: the bank keeps its
// base score and gets an "execution error" note.
func (e *Executor) Execute(set *RuleSet, in Input) (out domain.RuleOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = e.failed(set, in, fmt.Errorf("panic: %v", r))
		}
	}()

	if set.Len() == 0 {
		return domain.RuleOutcome{Score: scoring.Clamp(in.BaseScore), Notes: []string{}}
	}

	activation := map[string]any{"facts": in.Fact.Bundle()}

	type fired struct {
		id    int64
		event Event
	}
	var events []fired

	for _, r := range set.rules {
		activation["args"] = r.args
		val, _, err := r.program.Eval(activation)
		if err != nil {
			return e.failed(set, in, fmt.Errorf("rule %d: %w", r.id, err))
		}
		if val == types.True {
			events = append(events, fired{id: r.id, event: r.event})
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].event.Priority() > events[j].event.Priority()
	})

	state := foldState{score: in.BaseScore}
	out.Notes = []string{}
	for _, f := range events {
		f.event.apply(&state)
		if note := f.event.Note(); note != "" {
			out.Notes = append(out.Notes, note)
		}
		out.Fired = append(out.Fired, f.id)
	}

	out.Score = scoring.Clamp(state.score)
	out.Excluded = state.excluded
	out.Display = state.display
	out.SortKey = state.sortKey
	return out
}

func (e *Executor) failed(set *RuleSet, in Input, err error) domain.RuleOutcome {
	criteriaKey := in.Fact.CriteriaKey
	if set != nil {
		criteriaKey = set.CriteriaKey
	}
	slog.Error("rule execution failed",
		"criteria_key", criteriaKey,
		"bank_id", in.Fact.Bank.ID,
		"error", err,
	)
	return domain.RuleOutcome{
		Score:    scoring.Clamp(in.BaseScore),
		Excluded: false,
		Notes:    []string{"execution error: " + err.Error()},
	}
}

// ExecuteAll runs the rule set for every input in parallel, bounded by the
// configured worker count. Outcomes are aligned with inputs.
func (e *Executor) ExecuteAll(ctx context.Context, set *RuleSet, inputs []Input) []domain.RuleOutcome {
	outcomes := make([]domain.RuleOutcome, len(inputs))
	if set.Len() == 0 {
		for i, in := range inputs {
			outcomes[i] = domain.RuleOutcome{Score: scoring.Clamp(in.BaseScore), Notes: []string{}}
		}
		return outcomes
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i := range inputs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}: // Acquire
			case <-ctx.Done():
				outcomes[idx] = e.failed(set, inputs[idx], ctx.Err())
				return
			}
			defer func() { <-sem }() // Release

			outcomes[idx] = e.Execute(set, inputs[idx])
		}(i)
	}

	wg.Wait()
	return outcomes
}

// CacheStats returns compiled rule cache counters.
func (e *Executor) CacheStats() CacheStats {
	return e.cache.Stats()
}

// ClearCache drops every compiled rule set.
func (e *Executor) ClearCache() {
	e.cache.Clear()
}
