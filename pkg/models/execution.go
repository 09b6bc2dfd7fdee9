package models

import (
	"maps"
	"strconv"
	"time"
)

// ExecutionStatus is the state of one run of a flow.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// ExecutionStatuses lists every status.
var ExecutionStatuses = []ExecutionStatus{
	ExecutionStatusRunning,
	ExecutionStatusCompleted,
	ExecutionStatusFailed,
	ExecutionStatusCancelled,
}

// Valid reports whether s is a known status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusRunning, ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}

	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// ActionOutcome is the result recorded for one attempted step.
type ActionOutcome string

const (
	ActionOutcomeSuccess            ActionOutcome = "success"
	ActionOutcomeSkippedByCondition ActionOutcome = "skipped_by_condition"
	ActionOutcomeFailed             ActionOutcome = "failed"
)

// ActionOutcomes lists every outcome.
var ActionOutcomes = []ActionOutcome{ActionOutcomeSuccess, ActionOutcomeSkippedByCondition, ActionOutcomeFailed}

// Execution is one run of a flow's action sequence against one triggering event.
// The flow's actions are snapshotted at start so later edits never change a run.
type Execution struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	FlowID          string          `json:"flow_id"`
	FlowName        string          `json:"flow_name"`
	ContactID       string          `json:"contact_id"`
	EventType       string          `json:"event_type,omitempty"`
	EventData       map[string]any  `json:"event_data,omitempty"`
	Status          ExecutionStatus `json:"status"`
	IsTestRun       bool            `json:"is_test_run"`
	Actions         []Action        `json:"actions"`
	FailurePolicy   FailurePolicy   `json:"failure_policy"`
	NextActionOrder int             `json:"next_action_order,omitempty"`
	ResumeAt        *time.Time      `json:"resume_at,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	Logs            []ActionLog     `json:"logs,omitempty"`
}

// Clone returns a deep copy of the execution.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}

	clone := *e
	clone.EventData = maps.Clone(e.EventData)
	clone.Actions = CloneActions(e.Actions)

	if e.ResumeAt != nil {
		resumeAt := *e.ResumeAt
		clone.ResumeAt = &resumeAt
	}

	if e.EndedAt != nil {
		endedAt := *e.EndedAt
		clone.EndedAt = &endedAt
	}

	if e.Logs != nil {
		clone.Logs = make([]ActionLog, len(e.Logs))
		for i, log := range e.Logs {
			clone.Logs[i] = log
			clone.Logs[i].Detail = maps.Clone(log.Detail)
		}
	}

	return &clone
}

// ActionLog is the append-only record of one attempted step.
type ActionLog struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	ActionOrder int            `json:"action_order"`
	ActionType  ActionType     `json:"action_type"`
	Outcome     ActionOutcome  `json:"outcome"`
	Detail      map[string]any `json:"detail,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ExecutionContext is what an action executor and a gating condition see of a run.
type ExecutionContext struct {
	ExecutionID string            `json:"execution_id"`
	OwnerID     string            `json:"owner_id"`
	FlowID      string            `json:"flow_id"`
	ContactID   string            `json:"contact_id"`
	EventType   string            `json:"event_type,omitempty"`
	EventData   map[string]any    `json:"event_data,omitempty"`
	IsTestRun   bool              `json:"is_test_run"`
	StepResults map[int]ActionLog `json:"step_results,omitempty"`
}

// Env flattens the context into the variable map conditions are evaluated against.
func (c ExecutionContext) Env() map[string]any {
	env := maps.Clone(c.EventData)
	if env == nil {
		env = make(map[string]any)
	}

	env["contact_id"] = c.ContactID
	env["event_type"] = c.EventType
	env["is_test_run"] = c.IsTestRun

	steps := make(map[string]any, len(c.StepResults))

	var (
		last      ActionLog
		lastFound bool
	)

	for order, result := range c.StepResults {
		steps[strconv.Itoa(order)] = map[string]any{
			"outcome": string(result.Outcome),
			"type":    string(result.ActionType),
			"detail":  result.Detail,
		}

		if !lastFound || order > last.ActionOrder {
			last = result
			lastFound = true
		}
	}

	env["steps"] = steps

	if lastFound {
		env["last_outcome"] = string(last.Outcome)
	}

	return env
}

// ExecutionStatistics counts executions by status.
type ExecutionStatistics struct {
	Total    int                     `json:"total"`
	TestRuns int                     `json:"test_runs"`
	ByStatus map[ExecutionStatus]int `json:"by_status"`
}

// OutcomeCounts counts action log entries by outcome.
type OutcomeCounts struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Skipped int `json:"skipped_by_condition"`
	Failed  int `json:"failed"`
}

// Add counts one entry with the given outcome.
func (c *OutcomeCounts) Add(outcome ActionOutcome, n int) {
	c.Total += n

	switch outcome {
	case ActionOutcomeSuccess:
		c.Success += n
	case ActionOutcomeSkippedByCondition:
		c.Skipped += n
	case ActionOutcomeFailed:
		c.Failed += n
	}
}

// ActionStatistics counts a flow's action log entries by action type and outcome.
type ActionStatistics struct {
	FlowID string                       `json:"flow_id"`
	ByType map[ActionType]OutcomeCounts `json:"by_type"`
}

// NewExecutionStatistics returns statistics with every status present.
func NewExecutionStatistics() *ExecutionStatistics {
	stats := &ExecutionStatistics{ByStatus: make(map[ExecutionStatus]int, len(ExecutionStatuses))}
	for _, status := range ExecutionStatuses {
		stats.ByStatus[status] = 0
	}

	return stats
}

// NewActionStatistics returns statistics with every action type present.
func NewActionStatistics(flowID string) *ActionStatistics {
	stats := &ActionStatistics{FlowID: flowID, ByType: make(map[ActionType]OutcomeCounts, len(ActionTypes))}
	for _, actionType := range ActionTypes {
		stats.ByType[actionType] = OutcomeCounts{}
	}

	return stats
}
