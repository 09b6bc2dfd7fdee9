package models

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ConditionType identifies what a trigger condition inspects.
type ConditionType string

const (
	ConditionStageEquals    ConditionType = "stage_equals"
	ConditionScoreAbove     ConditionType = "score_above"
	ConditionScoreBelow     ConditionType = "score_below"
	ConditionTagContains    ConditionType = "tag_contains"
	ConditionSourceEquals   ConditionType = "source_equals"
	ConditionTimeSinceEvent ConditionType = "time_since_event"
	ConditionField          ConditionType = "field"
	ConditionExpression     ConditionType = "expression"
)

// Operator is the comparison applied between the inspected value and the condition value.
type Operator string

const (
	OperatorEquals         Operator = "equals"
	OperatorNotEquals      Operator = "not_equals"
	OperatorContains       Operator = "contains"
	OperatorNotContains    Operator = "not_contains"
	OperatorGreaterThan    Operator = "greater_than"
	OperatorLessThan       Operator = "less_than"
	OperatorGreaterOrEqual Operator = "greater_or_equal"
	OperatorLessOrEqual    Operator = "less_or_equal"
	OperatorExists         Operator = "exists"
	OperatorIn             Operator = "in"
)

var (
	ErrUnknownConditionType = errors.New("unknown condition type")
	ErrUnknownOperator      = errors.New("unknown operator")
	ErrConditionValue       = errors.New("invalid condition value")
)

type conditionSpec struct {
	field    string
	operator Operator
}

// Default inspected field and operator per condition type.
var conditionSpecs = map[ConditionType]conditionSpec{
	ConditionStageEquals:    {field: "stage", operator: OperatorEquals},
	ConditionScoreAbove:     {field: "score", operator: OperatorGreaterThan},
	ConditionScoreBelow:     {field: "score", operator: OperatorLessThan},
	ConditionTagContains:    {field: "tags", operator: OperatorContains},
	ConditionSourceEquals:   {field: "source", operator: OperatorEquals},
	ConditionTimeSinceEvent: {field: "last_event_at", operator: OperatorGreaterOrEqual},
	ConditionField:          {operator: OperatorEquals},
	ConditionExpression:     {},
}

var operators = []Operator{
	OperatorEquals, OperatorNotEquals, OperatorContains, OperatorNotContains,
	OperatorGreaterThan, OperatorLessThan, OperatorGreaterOrEqual, OperatorLessOrEqual,
	OperatorExists, OperatorIn,
}

// Valid reports whether t is a known condition type.
func (t ConditionType) Valid() bool {
	_, ok := conditionSpecs[t]

	return ok
}

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	return slices.Contains(operators, o)
}

// TriggerCondition is an atomic predicate over an event or execution context.
type TriggerCondition struct {
	Type     ConditionType `json:"type"`
	Operator Operator      `json:"operator,omitempty"`
	Field    string        `json:"field,omitempty"` // Dotted path; overrides the type's default field
	Value    any           `json:"value,omitempty"`
}

// EffectiveOperator returns the explicit operator or the type's default.
func (c TriggerCondition) EffectiveOperator() Operator {
	if c.Operator != "" {
		return c.Operator
	}

	return conditionSpecs[c.Type].operator
}

// EffectiveField returns the explicit field or the type's default.
func (c TriggerCondition) EffectiveField() string {
	if c.Field != "" {
		return c.Field
	}

	return conditionSpecs[c.Type].field
}

// Validate checks the condition shape without evaluating it.
func (c TriggerCondition) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownConditionType, c.Type)
	}

	if c.Type == ConditionExpression {
		expression, ok := c.Value.(string)
		if !ok || strings.TrimSpace(expression) == "" {
			return fmt.Errorf("%w: expression condition requires a non-empty string value", ErrConditionValue)
		}

		return nil
	}

	if c.Operator != "" && !c.Operator.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
	}

	if c.EffectiveField() == "" {
		return fmt.Errorf("%w: %s condition requires a field", ErrConditionValue, c.Type)
	}

	if c.EffectiveOperator() != OperatorExists && c.Value == nil {
		return fmt.Errorf("%w: %s condition requires a value", ErrConditionValue, c.Type)
	}

	return nil
}

// ValidateConditions validates every condition, reporting the first failure with its position.
func ValidateConditions(conditions []TriggerCondition) error {
	for i, condition := range conditions {
		if err := condition.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i+1, err)
		}
	}

	return nil
}

// CloneConditions returns a copy of the slice with map values copied one level deep.
func CloneConditions(conditions []TriggerCondition) []TriggerCondition {
	if conditions == nil {
		return nil
	}

	clone := make([]TriggerCondition, len(conditions))
	for i, condition := range conditions {
		clone[i] = condition.clone()
	}

	return clone
}

func (c TriggerCondition) clone() TriggerCondition {
	switch v := c.Value.(type) {
	case map[string]any:
		c.Value = maps.Clone(v)
	case []any:
		c.Value = slices.Clone(v)
	}

	return c
}
