// Package conditions evaluates trigger conditions against event and execution contexts.
package conditions

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/jonboulle/clockwork"

	"github.com/dukex/autoflow/pkg/models"
)

var (
	ErrNotComparable = errors.New("values are not comparable")
	ErrNotTimestamp  = errors.New("value is not a timestamp")
	ErrExpression    = errors.New("invalid expression")
)

// Evaluator evaluates trigger conditions. Compiled expressions are cached
// per evaluator so it is safe to share across goroutines.
type Evaluator struct {
	clock clockwork.Clock

	mu       sync.RWMutex
	programs map[string]*vm.Program
}

func NewEvaluator(clock clockwork.Clock) *Evaluator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Evaluator{
		clock:    clock,
		programs: make(map[string]*vm.Program),
	}
}

// All evaluates conditions in order and stops at the first one that does not
// hold. An empty set always matches.
func (e *Evaluator) All(conditions []models.TriggerCondition, env map[string]any) (bool, error) {
	for i, condition := range conditions {
		ok, err := e.Evaluate(condition, env)
		if err != nil {
			return false, fmt.Errorf("condition %d (%s): %w", i+1, condition.Type, err)
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// Evaluate reports whether a single condition holds for env.
func (e *Evaluator) Evaluate(condition models.TriggerCondition, env map[string]any) (bool, error) {
	if err := condition.Validate(); err != nil {
		return false, err
	}

	if condition.Type == models.ConditionExpression {
		return e.evaluateExpression(condition.Value.(string), env)
	}

	operator := condition.EffectiveOperator()

	container := gabs.Wrap(env)
	field := condition.EffectiveField()

	if !container.ExistsP(field) || container.Path(field).Data() == nil {
		// A missing field only satisfies negative operators.
		return operator == models.OperatorNotEquals || operator == models.OperatorNotContains, nil
	}

	actual := container.Path(field).Data()

	if condition.Type == models.ConditionTimeSinceEvent {
		at, err := toTime(actual)
		if err != nil {
			return false, fmt.Errorf("%s: %w", field, err)
		}

		actual = e.clock.Since(at).Minutes()
	}

	return compare(operator, actual, condition.Value)
}

func (e *Evaluator) evaluateExpression(source string, env map[string]any) (bool, error) {
	program, err := e.compile(source)
	if err != nil {
		return false, err
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrExpression, err)
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q evaluated to %T, not bool", ErrExpression, source, out)
	}

	return result, nil
}

func (e *Evaluator) compile(source string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[source]
	e.mu.RUnlock()

	if ok {
		return program, nil
	}

	program, err := expr.Compile(source,
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
		expr.Function("minutes_since", e.minutesSince, new(func(any) float64)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExpression, err)
	}

	e.mu.Lock()
	e.programs[source] = program
	e.mu.Unlock()

	return program, nil
}

func (e *Evaluator) minutesSince(params ...any) (any, error) {
	at, err := toTime(params[0])
	if err != nil {
		return nil, err
	}

	return e.clock.Since(at).Minutes(), nil
}

// Check compiles an expression without running it.
func (e *Evaluator) Check(source string) error {
	_, err := e.compile(source)

	return err
}

func compare(operator models.Operator, actual, expected any) (bool, error) {
	switch operator {
	case models.OperatorExists:
		return true, nil
	case models.OperatorEquals:
		return equal(actual, expected), nil
	case models.OperatorNotEquals:
		return !equal(actual, expected), nil
	case models.OperatorContains:
		return contains(actual, expected), nil
	case models.OperatorNotContains:
		return !contains(actual, expected), nil
	case models.OperatorIn:
		return in(actual, expected)
	case models.OperatorGreaterThan, models.OperatorLessThan, models.OperatorGreaterOrEqual, models.OperatorLessOrEqual:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)

		if !aok || !bok {
			return false, fmt.Errorf("%w: %v %s %v", ErrNotComparable, actual, operator, expected)
		}

		switch operator {
		case models.OperatorGreaterThan:
			return a > b, nil
		case models.OperatorLessThan:
			return a < b, nil
		case models.OperatorGreaterOrEqual:
			return a >= b, nil
		default:
			return a <= b, nil
		}
	}

	return false, fmt.Errorf("%w: %q", models.ErrUnknownOperator, operator)
}

func equal(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}

	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)

		return ok && ab == bb
	}

	return strings.EqualFold(fmt.Sprint(a), fmt.Sprint(b))
}

func contains(actual, expected any) bool {
	switch v := actual.(type) {
	case string:
		return strings.Contains(strings.ToLower(v), strings.ToLower(fmt.Sprint(expected)))
	case []string:
		for _, item := range v {
			if equal(item, expected) {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if equal(item, expected) {
				return true
			}
		}
	}

	return false
}

func in(actual, expected any) (bool, error) {
	switch list := expected.(type) {
	case []any:
		for _, item := range list {
			if equal(actual, item) {
				return true, nil
			}
		}

		return false, nil
	case []string:
		for _, item := range list {
			if equal(actual, item) {
				return true, nil
			}
		}

		return false, nil
	}

	return false, fmt.Errorf("%w: in requires a list value, got %T", ErrNotComparable, expected)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)

		return f, err == nil
	}

	return 0, false
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t != nil {
			return *t, nil
		}
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err == nil {
			return parsed, nil
		}
	default:
		if seconds, ok := toFloat(v); ok {
			return time.Unix(int64(seconds), 0), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %v", ErrNotTimestamp, v)
}
