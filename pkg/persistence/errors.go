// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
	"strings"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates a flow does not exist or belongs to another owner.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrExecutionNotFound indicates an execution does not exist or belongs to another owner.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrPriorityTaken indicates the priority is already assigned to another flow of the owner.
	ErrPriorityTaken = errors.New("priority already assigned to another flow")

	// ErrExecutionNotRunning indicates a write that requires a running execution.
	ErrExecutionNotRunning = errors.New("execution is not running")
)

// FlowError wraps flow-related errors with additional context.
type FlowError struct {
	Op      string // Operation being performed (e.g., "Get", "Update", "ReplaceActions")
	FlowID  string
	OwnerID string
	Err     error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s operation failed for flow %s of owner %s: %v", e.Op, e.FlowID, e.OwnerID, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for flow errors.
func (e *FlowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewFlowError creates a new flow error with context.
func NewFlowError(op, ownerID, flowID string, err error) *FlowError {
	return &FlowError{
		Op:      op,
		FlowID:  flowID,
		OwnerID: ownerID,
		Err:     err,
	}
}

// MissingFlowsError lists the flows of a batch that the owner does not have.
type MissingFlowsError struct {
	FlowIDs []string
}

func (e *MissingFlowsError) Error() string {
	return fmt.Sprintf("%v: %s", ErrFlowNotFound, strings.Join(e.FlowIDs, ", "))
}

func (e *MissingFlowsError) Unwrap() error {
	return ErrFlowNotFound
}

// PriorityConflictError reports which flow already holds a priority.
type PriorityConflictError struct {
	Priority int
	HolderID string
}

func (e *PriorityConflictError) Error() string {
	return fmt.Sprintf("priority %d already assigned to flow %s", e.Priority, e.HolderID)
}

func (e *PriorityConflictError) Unwrap() error {
	return ErrPriorityTaken
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsPriorityTaken checks if an error indicates a priority collision.
func IsPriorityTaken(err error) bool {
	return errors.Is(err, ErrPriorityTaken)
}

// IsExecutionNotRunning checks if an error indicates a write on a terminal execution.
func IsExecutionNotRunning(err error) bool {
	return errors.Is(err, ErrExecutionNotRunning)
}
