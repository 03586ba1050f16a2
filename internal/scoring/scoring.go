// Package scoring converts one criterion's raw values across banks into
// base scores in [0,100].
package scoring

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/facts"
)

// strategyFunc scores values; the returned slice is aligned to values.
type strategyFunc func(c *domain.Criterion, values []*float64) ([]float64, *domain.ScoreStats)

var strategies = map[string]strategyFunc{
	domain.StrategyLowerBetter:  lowerBetter,
	domain.StrategyHigherBetter: higherBetter,
	domain.StrategyExactMatch:   exactMatch,
}

// Strategies returns the names of the registered scoring strategies.
func Strategies() []string {
	return []string{domain.StrategyLowerBetter, domain.StrategyHigherBetter, domain.StrategyExactMatch}
}

// CalculateBaseScores dispatches on c.ScoringStrategy. Unknown strategies
// fall back to lower_better. A failing strategy yields all-zero scores with
// stats.Error set.
func CalculateBaseScores(c *domain.Criterion, values []*float64) (scores []float64, stats *domain.ScoreStats) {
	name := c.ScoringStrategy
	fn, ok := strategies[name]
	if !ok {
		name = domain.StrategyLowerBetter
		fn = lowerBetter
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("scoring strategy failed",
				"criteria_key", c.Key,
				"strategy", name,
				"panic", r,
			)
			scores = make([]float64, len(values))
			stats = &domain.ScoreStats{Strategy: name, Error: fmt.Sprint(r)}
		}
	}()

	scores, stats = fn(c, values)
	stats.Strategy = name
	for i := range scores {
		scores[i] = Clamp(scores[i])
	}
	return scores, stats
}

// Clamp bounds a score to [0,100].
func Clamp(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(100, score))
}

func validValue(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0) && *v >= 0
}

// spread computes min/max over the valid values.
func spread(values []*float64) (*domain.ScoreStats, float64, float64) {
	stats := &domain.ScoreStats{}
	lo, hi := math.Inf(1), math.Inf(-1)
	found := false
	for _, v := range values {
		if !validValue(v) {
			continue
		}
		found = true
		lo = math.Min(lo, *v)
		hi = math.Max(hi, *v)
	}
	if !found {
		stats.AllMissing = true
		return stats, 0, 0
	}
	rng := hi - lo
	stats.Min, stats.Max, stats.Range = &lo, &hi, &rng
	stats.AllEqual = rng == 0
	return stats, lo, hi
}

func linear(values []*float64, score func(v, lo, hi float64) float64) ([]float64, *domain.ScoreStats) {
	scores := make([]float64, len(values))
	stats, lo, hi := spread(values)
	if stats.AllMissing {
		return scores, stats
	}
	for i, v := range values {
		switch {
		case !validValue(v):
			scores[i] = 0
		case stats.AllEqual:
			scores[i] = 100
		default:
			scores[i] = math.Round(score(*v, lo, hi))
		}
	}
	return scores, stats
}

func lowerBetter(_ *domain.Criterion, values []*float64) ([]float64, *domain.ScoreStats) {
	return linear(values, func(v, lo, hi float64) float64 {
		return 100 * (hi - v) / (hi - lo)
	})
}

func higherBetter(_ *domain.Criterion, values []*float64) ([]float64, *domain.ScoreStats) {
	return linear(values, func(v, lo, hi float64) float64 {
		return 100 * (v - lo) / (hi - lo)
	})
}

func exactMatch(c *domain.Criterion, values []*float64) ([]float64, *domain.ScoreStats) {
	scores := make([]float64, len(values))
	stats, _, _ := spread(values)

	target, hasTarget := c.ScoringParams["target"]
	stats.Target = target
	want, ok := facts.ToNumber(target)
	if !hasTarget || !ok {
		return scores, stats
	}

	for i, v := range values {
		if v != nil && *v == want {
			scores[i] = 100
		}
	}
	return scores, stats
}
