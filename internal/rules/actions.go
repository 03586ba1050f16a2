package rules

import (
	"fmt"
	"math"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/facts"
)

// Event types a rule may emit.
const (
	EventBonus         = "bonus"
	EventMalus         = "malus"
	EventPenalty       = "penalty"
	EventSetScore      = "set-score"
	EventMultiplyScore = "multiply-score"
	EventSetMinScore   = "set-min-score"
	EventSetMaxScore   = "set-max-score"
	EventExclude       = "exclude"
	EventDisqualify    = "disqualify"
	EventExcludeGlobal = "exclude-global"
	EventSetDisplay    = "set-display"
	EventSetSort       = "set-sort"
)

// foldState is the running outcome while fired events are applied.
type foldState struct {
	score    float64
	excluded bool
	display  *string
	sortKey  *float64
}

// Event is a parsed rule event. The set of implementations is closed.
type Event interface {
	// Type returns the event type as written in the rule.
	Type() string
	// Priority orders fired events, higher first.
	Priority() float64
	// Note is the optional explanation attached to the outcome.
	Note() string

	apply(s *foldState)
}

type eventMeta struct {
	kind     string
	priority float64
	note     string
}

func (m eventMeta) Type() string      { return m.kind }
func (m eventMeta) Priority() float64 { return m.priority }
func (m eventMeta) Note() string      { return m.note }

// BonusEvent adds Add to the score.
type BonusEvent struct {
	eventMeta
	Add float64
}

func (e BonusEvent) apply(s *foldState) { s.score += e.Add }

// MalusEvent subtracts Sub from the score.
type MalusEvent struct {
	eventMeta
	Sub float64
}

func (e MalusEvent) apply(s *foldState) { s.score -= e.Sub }

// SetScoreEvent replaces the score.
type SetScoreEvent struct {
	eventMeta
	Score float64
}

func (e SetScoreEvent) apply(s *foldState) { s.score = e.Score }

// MultiplyScoreEvent multiplies the score by Factor.
type MultiplyScoreEvent struct {
	eventMeta
	Factor float64
}

func (e MultiplyScoreEvent) apply(s *foldState) { s.score *= e.Factor }

// MinScoreEvent raises the score to at least Min.
type MinScoreEvent struct {
	eventMeta
	Min float64
}

func (e MinScoreEvent) apply(s *foldState) { s.score = math.Max(s.score, e.Min) }

// MaxScoreEvent lowers the score to at most Max.
type MaxScoreEvent struct {
	eventMeta
	Max float64
}

func (e MaxScoreEvent) apply(s *foldState) { s.score = math.Min(s.score, e.Max) }

// ExcludeEvent marks the bank excluded on the criterion.
type ExcludeEvent struct {
	eventMeta
}

func (e ExcludeEvent) apply(s *foldState) { s.excluded = true }

// DisplayEvent overrides the display string.
type DisplayEvent struct {
	eventMeta
	Text string
}

func (e DisplayEvent) apply(s *foldState) {
	text := e.Text
	s.display = &text
}

// SortEvent sets the plain-mode sort key.
type SortEvent struct {
	eventMeta
	Key float64
}

func (e SortEvent) apply(s *foldState) {
	key := e.Key
	s.sortKey = &key
}

// NoopEvent is an event whose type is unknown or whose parameters are
// unusable. It still contributes its note.
type NoopEvent struct {
	eventMeta
}

func (e NoopEvent) apply(*foldState) {}

// parseEvent resolves the event type and its typed parameters once, at
// compile time.
func parseEvent(spec *domain.EventSpec) (Event, error) {
	kind := spec.ResolvedType()
	if kind == "" {
		return nil, fmt.Errorf("%w: event has no type", ErrInvalidRule)
	}

	p := spec.Params
	meta := eventMeta{kind: kind}
	if n, ok := facts.ToNumber(p["priority"]); ok {
		meta.priority = n
	}
	if note, ok := p["explanation"].(string); ok && note != "" {
		meta.note = note
	} else if note, ok := p["note"].(string); ok {
		meta.note = note
	}

	switch kind {
	case EventBonus:
		add, _ := firstNumber(p, "add", "bonus")
		return BonusEvent{eventMeta: meta, Add: add}, nil
	case EventMalus, EventPenalty:
		sub, _ := firstNumber(p, "sub", "subtract", "penalty")
		return MalusEvent{eventMeta: meta, Sub: sub}, nil
	case EventSetScore:
		if v, ok := firstNumber(p, "score"); ok {
			return SetScoreEvent{eventMeta: meta, Score: v}, nil
		}
	case EventMultiplyScore:
		if v, ok := firstNumber(p, "multiplier", "factor"); ok {
			return MultiplyScoreEvent{eventMeta: meta, Factor: v}, nil
		}
	case EventSetMinScore:
		if v, ok := firstNumber(p, "min"); ok {
			return MinScoreEvent{eventMeta: meta, Min: v}, nil
		}
	case EventSetMaxScore:
		if v, ok := firstNumber(p, "max"); ok {
			return MaxScoreEvent{eventMeta: meta, Max: v}, nil
		}
	case EventExclude, EventDisqualify, EventExcludeGlobal:
		return ExcludeEvent{eventMeta: meta}, nil
	case EventSetDisplay:
		for _, k := range []string{"display", "value"} {
			if v, ok := p[k]; ok && v != nil {
				return DisplayEvent{eventMeta: meta, Text: fmt.Sprint(v)}, nil
			}
		}
	case EventSetSort:
		if v, ok := firstNumber(p, "sortKey", "value"); ok {
			return SortEvent{eventMeta: meta, Key: v}, nil
		}
	}
	return NoopEvent{eventMeta: meta}, nil
}

func firstNumber(params map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if n, ok := facts.ToNumber(params[k]); ok {
			return n, true
		}
	}
	return 0, false
}
