// Package models defines the core domain models of the auto-engagement flow engine.
package models

import (
	"slices"
	"time"
)

// FailurePolicy controls what an execution does after an action fails.
type FailurePolicy string

const (
	FailurePolicyContinue FailurePolicy = "continue" // Record the failure and run the next action
	FailurePolicyAbort    FailurePolicy = "abort"    // Stop the sequence on the first failure
)

// Valid reports whether the policy is one of the known values.
func (p FailurePolicy) Valid() bool {
	return p == FailurePolicyContinue || p == FailurePolicyAbort
}

// BusinessHours restricts a flow to a same-day local-time window.
type BusinessHours struct {
	Start    string `json:"start"    validate:"required"` // HH:MM:SS
	End      string `json:"end"      validate:"required"` // HH:MM:SS
	Timezone string `json:"timezone" validate:"required"` // IANA zone name
}

// Flow is a user-defined automation rule: trigger conditions, an ordered
// action sequence, an optional business-hours window and a priority.
type Flow struct {
	ID            string             `json:"id"`
	OwnerID       string             `json:"owner_id"`
	Name          string             `json:"name"`
	Description   string             `json:"description,omitempty"`
	Enabled       bool               `json:"enabled"`
	Priority      *int               `json:"priority"`
	BusinessHours *BusinessHours     `json:"business_hours,omitempty"`
	FailurePolicy FailurePolicy      `json:"failure_policy"`
	Conditions    []TriggerCondition `json:"conditions"`
	Actions       []Action           `json:"actions"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// HasPriority reports whether a priority is assigned.
func (f *Flow) HasPriority() bool {
	return f.Priority != nil
}

// SortedActions returns the actions in ascending order without touching f.
func (f *Flow) SortedActions() []Action {
	actions := slices.Clone(f.Actions)
	SortActions(actions)

	return actions
}

// Clone returns a deep copy of the flow.
func (f *Flow) Clone() *Flow {
	if f == nil {
		return nil
	}

	clone := *f

	if f.Priority != nil {
		priority := *f.Priority
		clone.Priority = &priority
	}

	if f.BusinessHours != nil {
		bh := *f.BusinessHours
		clone.BusinessHours = &bh
	}

	clone.Conditions = CloneConditions(f.Conditions)
	clone.Actions = CloneActions(f.Actions)

	return &clone
}

// PriorityAssignment is one entry of a bulk priority reassignment.
type PriorityAssignment struct {
	FlowID   string `json:"flow_id"  validate:"required"`
	Priority int    `json:"priority" validate:"required,min=1"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
