package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/heron/internal/domain"
)

// ErrInvalidRule is returned for rule definitions that cannot be compiled.
var ErrInvalidRule = errors.New("invalid rule")

// Supported condition operators.
const (
	OpEqual                = "equal"
	OpNotEqual             = "notEqual"
	OpLessThan             = "lessThan"
	OpLessThanInclusive    = "lessThanInclusive"
	OpGreaterThan          = "greaterThan"
	OpGreaterThanInclusive = "greaterThanInclusive"
	OpIn                   = "in"
	OpNotIn                = "notIn"
	OpContains             = "contains"
	OpDoesNotContain       = "doesNotContain"
)

var numericOps = map[string]string{
	OpLessThan:             "<",
	OpLessThanInclusive:    "<=",
	OpGreaterThan:          ">",
	OpGreaterThanInclusive: ">=",
}

// newEnv creates the CEL environment shared by all compiled rules. Facts
// are exposed as one dynamic map and literal operands are bound through
// args, so no user value is ever spliced into expression source.
func newEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("facts", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("args", cel.ListType(cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// translator turns one condition tree into CEL source plus its arguments.
type translator struct {
	allowUndefined bool
	args           []any
}

func (t *translator) bind(v any) string {
	t.args = append(t.args, normalizeOperand(v))
	return fmt.Sprintf("args[%d]", len(t.args)-1)
}

func (t *translator) node(n *domain.ConditionNode) (string, error) {
	switch {
	case len(n.All) > 0:
		return t.group(n.All, " && ")
	case len(n.Any) > 0:
		return t.group(n.Any, " || ")
	case n.Not != nil:
		inner, err := t.node(n.Not)
		if err != nil {
			return "", err
		}
		return "!(" + inner + ")", nil
	case n.Fact != "":
		return t.atom(n)
	}
	return "", fmt.Errorf("%w: empty condition", ErrInvalidRule)
}

func (t *translator) group(children []domain.ConditionNode, op string) (string, error) {
	parts := make([]string, 0, len(children))
	for i := range children {
		expr, err := t.node(&children[i])
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+expr+")")
	}
	return strings.Join(parts, op), nil
}

// factKey resolves fact + optional path ("$.min" or "min") to the key of
// the flattened fact bundle.
func factKey(n *domain.ConditionNode) string {
	path := strings.TrimPrefix(strings.TrimPrefix(n.Path, "$"), ".")
	if path == "" {
		return n.Fact
	}
	return n.Fact + "." + path
}

func (t *translator) ref(key string) string {
	quoted := strconv.Quote(key)
	if t.allowUndefined {
		return fmt.Sprintf("((%s in facts) ? facts[%s] : null)", quoted, quoted)
	}
	return fmt.Sprintf("facts[%s]", quoted)
}

func (t *translator) atom(n *domain.ConditionNode) (string, error) {
	ref := t.ref(factKey(n))

	if sym, ok := numericOps[n.Operator]; ok {
		if _, isNum := toFloat(n.Value); !isNum {
			return "", fmt.Errorf("%w: operator %s on fact %s needs a numeric value", ErrInvalidRule, n.Operator, n.Fact)
		}
		arg := t.bind(n.Value)
		return fmt.Sprintf("type(%s) == double && %s %s %s", ref, ref, sym, arg), nil
	}

	switch n.Operator {
	case OpEqual:
		return fmt.Sprintf("%s == %s", ref, t.bind(n.Value)), nil
	case OpNotEqual:
		return fmt.Sprintf("%s != %s", ref, t.bind(n.Value)), nil
	case OpIn, OpNotIn:
		if _, ok := n.Value.([]any); !ok {
			return "", fmt.Errorf("%w: operator %s on fact %s needs a list value", ErrInvalidRule, n.Operator, n.Fact)
		}
		expr := fmt.Sprintf("%s in %s", ref, t.bind(n.Value))
		if n.Operator == OpNotIn {
			return "!(" + expr + ")", nil
		}
		return expr, nil
	case OpContains, OpDoesNotContain:
		arg := t.bind(n.Value)
		expr := fmt.Sprintf("(type(%s) == list && %s in %s) || (type(%s) == string && type(%s) == string && %s.contains(%s))",
			ref, arg, ref, ref, arg, ref, arg)
		if n.Operator == OpDoesNotContain {
			return "!(" + expr + ")", nil
		}
		return expr, nil
	}
	return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, n.Operator)
}

// compiledRule is one rule ready for evaluation.
type compiledRule struct {
	id       int64
	priority int
	program  cel.Program
	args     []any
	event    Event
	source   string
}

func (e *Executor) compileRule(rule *domain.Rule) (*compiledRule, error) {
	def := &rule.Definition
	if !def.Conditions.IsGroup() {
		return nil, fmt.Errorf("%w: rule %d has no condition group", ErrInvalidRule, rule.ID)
	}

	event, err := parseEvent(&def.Event)
	if err != nil {
		return nil, fmt.Errorf("rule %d: %w", rule.ID, err)
	}

	tr := &translator{allowUndefined: e.allowUndefinedFacts}
	source, err := tr.node(&def.Conditions)
	if err != nil {
		return nil, fmt.Errorf("rule %d: %w", rule.ID, err)
	}

	ast, issues := e.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: rule %d: %v", ErrInvalidRule, rule.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: rule %d conditions must be boolean, got %s", ErrInvalidRule, rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %d: %w", rule.ID, err)
	}

	return &compiledRule{
		id:       rule.ID,
		priority: rule.Priority,
		program:  program,
		args:     tr.args,
		event:    event,
		source:   source,
	}, nil
}

// normalizeOperand converts literal operands to the value kinds CEL
// compares against fact values: numbers become float64, lists recurse.
func normalizeOperand(v any) any {
	if f, ok := toFloat(v); ok {
		return f
	}
	if list, ok := v.([]any); ok {
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = normalizeOperand(item)
		}
		return out
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
