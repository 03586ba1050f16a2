// Package compare is the comparison engine: it validates a request, runs
// the plain or score pipeline and returns a result envelope.
package compare

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/aggregate"
	"github.com/opensource-finance/heron/internal/catalog"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/ranking"
	"github.com/opensource-finance/heron/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Caller-facing error messages.
const (
	ErrMsgNoCriteria = "Aucun critère valide sélectionné"
	ErrMsgNoBanks    = "Aucune banque disponible pour la comparaison"
	ErrMsgInternal   = "Erreur interne lors de la comparaison"
)

var tracer = otel.Tracer("heron-compare")

// Engine runs comparisons.
type Engine struct {
	catalog    *catalog.Service
	aggregator *aggregate.Aggregator
	executor   *rules.Executor
	bus        domain.EventBus
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventBus publishes successful comparisons on bus.
func WithEventBus(bus domain.EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// NewEngine creates a comparison engine.
func NewEngine(cat *catalog.Service, agg *aggregate.Aggregator, exec *rules.Executor, opts ...Option) *Engine {
	e := &Engine{catalog: cat, aggregator: agg, executor: exec}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Executor returns the engine's rule executor.
func (e *Engine) Executor() *rules.Executor {
	return e.executor
}

// UnknownModeMessage is the error returned for an unsupported mode.
func UnknownModeMessage(mode domain.Mode) string {
	names := make([]string, len(domain.SupportedModes))
	for i, m := range domain.SupportedModes {
		names[i] = string(m)
	}
	return fmt.Sprintf("Mode inconnu: %s. Modes supportés: %s", mode, strings.Join(names, ", "))
}

func errorResult(mode domain.Mode, msg string, used []domain.CriterionRef) *domain.ComparisonResult {
	if used == nil {
		used = []domain.CriterionRef{}
	}
	return &domain.ComparisonResult{
		Mode:         mode,
		Success:      false,
		Error:        msg,
		CriteriaUsed: used,
	}
}

// Compare runs one comparison. It never fails: every error is reported
// in the returned envelope.
func (e *Engine) Compare(ctx context.Context, req *domain.CompareRequest) (result *domain.ComparisonResult) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "compare",
		trace.WithAttributes(
			attribute.String("compare.mode", string(req.Mode)),
			attribute.Int("compare.criteria_requested", len(req.CriteriaKeys)),
			attribute.Int("compare.banks_requested", len(req.BankIDs)),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("comparison panicked",
				"mode", req.Mode,
				"panic", r,
			)
			result = errorResult(req.Mode, ErrMsgInternal, nil)
		}
	}()

	if !isSupported(req.Mode) {
		return errorResult(req.Mode, UnknownModeMessage(req.Mode), nil)
	}

	criteria, err := e.catalog.GetActiveCriteria(ctx, req.CriteriaKeys)
	if err != nil {
		return e.internal(req, err)
	}
	if len(criteria) == 0 {
		return errorResult(req.Mode, ErrMsgNoCriteria, nil)
	}

	keys := make([]string, len(criteria))
	for i, c := range criteria {
		keys[i] = c.Key
	}
	rulesByKey, err := e.catalog.GetRulesForCriteria(ctx, keys, req.Mode)
	if err != nil {
		return e.internal(req, err)
	}

	collectCtx, collectSpan := tracer.Start(ctx, "compare.collect")
	col, err := e.aggregator.Collect(collectCtx, req.BankIDs, criteria, req.Filters)
	collectSpan.End()
	if err != nil {
		return e.internal(req, err)
	}
	if len(col.Banks) == 0 {
		return errorResult(req.Mode, ErrMsgNoBanks, plainRefs(criteria))
	}

	processCtx, processSpan := tracer.Start(ctx, "compare.process")
	switch req.Mode {
	case domain.ModePlain:
		result = e.processPlain(processCtx, criteria, rulesByKey, col)
	case domain.ModeScore:
		result = e.processScore(processCtx, criteria, rulesByKey, col)
	}
	processSpan.End()

	result.BudgetAnalysis = ranking.AnalyzeBudget(col.Banks, col.Values, req.Budgets, keys)
	result.Meta = &domain.ResultMeta{
		ElapsedMs:     time.Since(start).Milliseconds(),
		CriteriaCount: len(criteria),
		BankCount:     len(col.Banks),
		Mode:          req.Mode,
	}

	slog.Debug("comparison completed",
		"mode", req.Mode,
		"criteria_count", len(criteria),
		"bank_count", len(col.Banks),
		"duration_ms", result.Meta.ElapsedMs,
	)
	return result
}

// Record runs a comparison, assigns it an id and, on success, publishes it
// for the audit trail. Publishing failures are logged only.
func (e *Engine) Record(ctx context.Context, req *domain.CompareRequest) *domain.ComparisonRecord {
	record := &domain.ComparisonRecord{
		ID:        uuid.New().String(),
		Request:   *req,
		Result:    e.Compare(ctx, req),
		CreatedAt: time.Now().UTC(),
	}

	if e.bus == nil || !record.Result.Success {
		return record
	}

	payload, err := json.Marshal(record)
	if err != nil {
		slog.Error("failed to encode comparison record", "comparison_id", record.ID, "error", err)
		return record
	}
	if err := e.bus.Publish(ctx, domain.TopicComparisonCompleted, payload); err != nil {
		slog.Warn("failed to publish comparison", "comparison_id", record.ID, "error", err)
	}
	return record
}

func (e *Engine) internal(req *domain.CompareRequest, err error) *domain.ComparisonResult {
	slog.Error("comparison failed",
		"mode", req.Mode,
		"criteria_keys", req.CriteriaKeys,
		"error", err,
	)
	return errorResult(req.Mode, ErrMsgInternal, nil)
}

func isSupported(mode domain.Mode) bool {
	for _, m := range domain.SupportedModes {
		if m == mode {
			return true
		}
	}
	return false
}

func plainRefs(criteria []*domain.Criterion) []domain.CriterionRef {
	refs := make([]domain.CriterionRef, len(criteria))
	for i, c := range criteria {
		refs[i] = c.Ref()
	}
	return refs
}
