// Package api provides HTTP handlers for Heron.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/heron/internal/catalog"
	"github.com/opensource-finance/heron/internal/compare"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/repository"
	"go.opentelemetry.io/otel/attribute"
)

// ComparisonIDHeader carries the audit id of a successful comparison.
const ComparisonIDHeader = "X-Comparison-ID"

// Handler contains HTTP handlers for the API.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *compare.Engine
	catalog *catalog.Service
	version string
}

// NewHandler creates a new handler with dependencies.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *compare.Engine, cat *catalog.Service, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  engine,
		catalog: cat,
		version: version,
	}
}

// Compare runs a comparison and returns the result envelope.
// Successful comparisons carry their audit id in X-Comparison-ID.
func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	var req domain.CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	record := h.engine.Record(r.Context(), &req)
	result := record.Result

	annotate(r.Context(),
		attribute.String("comparison.mode", string(req.Mode)),
		attribute.Bool("comparison.success", result.Success),
	)
	if result.Success {
		annotate(r.Context(),
			attribute.String("comparison.id", record.ID),
			attribute.Int("comparison.criteria", len(result.CriteriaUsed)),
		)
	} else {
		annotate(r.Context(), attribute.String("comparison.error", result.Error))
	}

	switch {
	case result.Success:
		w.Header().Set(ComparisonIDHeader, record.ID)
		writeJSON(w, http.StatusOK, result)
	case result.Error == compare.ErrMsgInternal:
		writeJSON(w, http.StatusInternalServerError, result)
	default:
		writeJSON(w, http.StatusBadRequest, result)
	}
}

// GetComparison retrieves a recorded comparison by ID.
func (h *Handler) GetComparison(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	id := chi.URLParam(r, "id")
	record, err := h.repo.GetComparison(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "comparison not found",
			})
			return
		}
		slog.Error("failed to get comparison", "comparison_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get comparison",
		})
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// ListCriteria returns the active criteria, optionally restricted by a
// comma-separated keys query parameter.
func (h *Handler) ListCriteria(w http.ResponseWriter, r *http.Request) {
	var keys []string
	if raw := r.URL.Query().Get("keys"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
	}

	criteria, err := h.catalog.GetActiveCriteria(r.Context(), keys)
	if err != nil {
		slog.Error("failed to list criteria", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list criteria",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"criteria": criteria,
		"count":    len(criteria),
	})
}

// CreateCriterion creates or replaces a criterion.
func (h *Handler) CreateCriterion(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	var c domain.Criterion
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if c.Key == "" || c.Label == "" || c.DataMapping.ValuePath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "key, label, and dataMapping.valuePath are required",
		})
		return
	}
	if !domain.IsKnownEntityType(c.DataMapping.EntityType) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown entity type: " + c.DataMapping.EntityType,
		})
		return
	}

	if err := h.repo.SaveCriterion(r.Context(), &c); err != nil {
		if errors.Is(err, repository.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("failed to save criterion", "criteria_key", c.Key, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save criterion",
		})
		return
	}

	slog.Info("criterion saved", "criteria_key", c.Key, "active", c.IsActive)
	writeJSON(w, http.StatusCreated, c)
}

// ListCriterionRules returns the active rules of one criterion that apply
// to the mode query parameter, in evaluation order.
func (h *Handler) ListCriterionRules(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	mode := domain.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = domain.ModeScore
	}
	if mode != domain.ModePlain && mode != domain.ModeScore {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": compare.UnknownModeMessage(mode),
		})
		return
	}

	grouped, err := h.catalog.GetRulesForCriteria(r.Context(), []string{key}, mode)
	if err != nil {
		slog.Error("failed to list rules", "criteria_key", key, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	list := grouped[key]
	if list == nil {
		list = []*domain.Rule{}
	}
	settings := domain.ExtractSettings(list)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"criteriaKey": key,
		"mode":        mode,
		"rules":       list,
		"count":       len(list),
		"weight":      settings.Weight,
		"critical":    settings.Critical,
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          int64                 `json:"id,omitempty"`
	CriteriaKey string                `json:"criteriaKey"`
	Priority    int                   `json:"priority"`
	IsActive    *bool                 `json:"isActive,omitempty"`
	Definition  domain.RuleDefinition `json:"definition"`
}

// CreateRule validates a rule definition and saves it. Compiled rule sets
// are keyed by content, so the next comparison picks the change up.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.CriteriaKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "criteriaKey is required",
		})
		return
	}

	if err := h.engine.Executor().Validate(&req.Definition); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	ctx := r.Context()
	if _, err := h.repo.GetCriterion(ctx, req.CriteriaKey); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "criterion not found",
			})
			return
		}
		slog.Error("failed to get criterion", "criteria_key", req.CriteriaKey, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	rule := &domain.Rule{
		ID:          req.ID,
		CriteriaKey: req.CriteriaKey,
		Priority:    req.Priority,
		IsActive:    req.IsActive == nil || *req.IsActive,
		Definition:  req.Definition,
	}

	id, err := h.repo.SaveRule(ctx, rule)
	if err != nil {
		slog.Error("failed to save rule", "criteria_key", rule.CriteriaKey, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}
	rule.ID = id

	slog.Info("rule saved", "rule_id", id, "criteria_key", rule.CriteriaKey, "priority", rule.Priority)
	writeJSON(w, http.StatusCreated, rule)
}

// RuleCacheStats returns compiled rule cache counters.
func (h *Handler) RuleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Executor().CacheStats())
}

// ClearRuleCache drops every compiled rule set.
func (h *Handler) ClearRuleCache(w http.ResponseWriter, r *http.Request) {
	h.engine.Executor().ClearCache()
	slog.Info("rule cache cleared")
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule cache cleared",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether every backing dependency answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := true

	probe := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}

	if h.repo != nil {
		probe("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		probe("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		probe("eventBus", func() error { return h.bus.Ping(ctx) })
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"ready":  ready,
		"checks": checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
