// Package persistence provides the storage abstraction for flows and executions.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

type Persistence interface {
	FlowRepository() FlowRepository
	ExecutionRepository() ExecutionRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// ListFlowsOptions filters a flow listing. Results are always ordered by
// priority ascending, unassigned priorities last, then by creation time.
type ListFlowsOptions struct {
	OwnerID     string
	EnabledOnly bool
}

// ListExecutionsOptions filters an execution listing. Results are ordered by
// start time descending.
type ListExecutionsOptions struct {
	OwnerID   string
	FlowID    string
	Status    models.ExecutionStatus
	IsTestRun *bool
	Limit     int
	Offset    int
}

const (
	DefaultExecutionLimit = 50
	MaxExecutionLimit     = 500
)

// Normalize applies the default and maximum page size.
func (o ListExecutionsOptions) Normalize() ListExecutionsOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultExecutionLimit
	}

	if o.Limit > MaxExecutionLimit {
		o.Limit = MaxExecutionLimit
	}

	if o.Offset < 0 {
		o.Offset = 0
	}

	return o
}

// FlowRepository stores flows with their conditions and actions. Every write
// that touches priorities is serialized per owner.
type FlowRepository interface {
	// Create stores a new flow. A nil priority is replaced by the owner's next
	// free priority inside the same critical section.
	Create(ctx context.Context, flow *models.Flow) error

	// Get returns the flow with its conditions and actions, or ErrFlowNotFound
	// when it does not exist or belongs to another owner.
	Get(ctx context.Context, ownerID, id string) (*models.Flow, error)

	List(ctx context.Context, opts ListFlowsOptions) ([]*models.Flow, error)

	// Update writes the base fields of a flow (name, description, enabled,
	// priority, business hours, failure policy). Conditions and actions are
	// left untouched. Fails with ErrPriorityTaken if another flow holds the priority.
	Update(ctx context.Context, flow *models.Flow) error

	// Delete removes the flow with its conditions and actions. Executions are kept.
	Delete(ctx context.Context, ownerID, id string) (bool, error)

	// ReplaceConditions swaps the whole condition set atomically.
	ReplaceConditions(ctx context.Context, ownerID, id string, conditions []models.TriggerCondition, updatedAt time.Time) error

	// ReplaceActions swaps the whole action sequence atomically.
	ReplaceActions(ctx context.Context, ownerID, id string, actions []models.Action, updatedAt time.Time) error

	// NextPriority returns max(priority)+1 for the owner, or 1 when none is assigned.
	NextPriority(ctx context.Context, ownerID string) (int, error)

	// PriorityHolder returns the id of the flow holding priority, if any.
	PriorityHolder(ctx context.Context, ownerID string, priority int) (string, bool, error)

	// ReassignPriorities applies every assignment or none. It fails with a
	// MissingFlowsError when any flow does not belong to the owner, and with
	// ErrPriorityTaken when a target priority is held by a flow outside the batch.
	ReassignPriorities(ctx context.Context, ownerID string, assignments []models.PriorityAssignment, updatedAt time.Time) error
}

// ExecutionRepository stores executions and their append-only action logs.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error

	// Get returns an execution with its logs scoped to an owner.
	Get(ctx context.Context, ownerID, id string) (*models.Execution, error)

	// ByID returns an execution with its logs regardless of owner.
	ByID(ctx context.Context, id string) (*models.Execution, error)

	// List returns executions without their logs.
	List(ctx context.Context, opts ListExecutionsOptions) ([]*models.Execution, error)

	// AppendLog records one step. It fails with ErrExecutionNotRunning once the
	// execution has left the running state.
	AppendLog(ctx context.Context, log *models.ActionLog) error

	// Park records that the execution is suspended on the wait action at
	// order until resumeAt.
	Park(ctx context.Context, id string, order int, resumeAt time.Time) error

	// ClaimResume clears the resumption of the wait at order when it is due at
	// now. Only one caller wins.
	ClaimResume(ctx context.Context, id string, order int, now time.Time) (bool, error)

	// DueResumptions lists running executions whose resumption time has passed.
	DueResumptions(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error)

	// Finish moves a running execution to a terminal status. It reports false
	// when the execution is missing or already terminal.
	Finish(ctx context.Context, id string, status models.ExecutionStatus, endedAt time.Time) (bool, error)

	// ExecutionStatistics counts the owner's executions by status, optionally for one flow.
	ExecutionStatistics(ctx context.Context, ownerID, flowID string) (*models.ExecutionStatistics, error)

	// ActionStatistics counts action log entries of a flow's executions by type and outcome.
	ActionStatistics(ctx context.Context, ownerID, flowID string) (*models.ActionStatistics, error)
}
