// Package executors defines the contract between the execution engine and the
// collaborators that perform side-effecting actions, with an HTTP and a log
// implementation.
package executors

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/autoflow/pkg/models"
)

var (
	// ErrFatal marks a failure after which the rest of the sequence must not run.
	ErrFatal = errors.New("fatal action failure")

	ErrNoExecutor     = errors.New("no executor for action type")
	ErrWaitIsInternal = errors.New("wait actions are handled by the engine")
)

// Result is what a collaborator reports for a successful action. Detail is
// opaque to the engine and stored on the action log as is.
type Result struct {
	Detail map[string]any
}

// Executor performs one action for an execution.
type Executor interface {
	Execute(ctx context.Context, action models.Action, executionCtx models.ExecutionContext) (Result, error)
}

// ExecutionError is a collaborator failure with the detail it reported.
type ExecutionError struct {
	ActionType models.ActionType
	Detail     map[string]any
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s action failed: %v", e.ActionType, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsFatal checks if a collaborator asked for the sequence to stop.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// DetailOf returns the detail attached to a failure, if any.
func DetailOf(err error) map[string]any {
	var executionErr *ExecutionError
	if errors.As(err, &executionErr) {
		return executionErr.Detail
	}

	return nil
}

// Set maps every dispatchable action type to its executor.
type Set struct {
	AICall          Executor
	WhatsAppMessage Executor
	Email           Executor
}

// For returns the executor of an action type. Wait actions never reach a collaborator.
func (s Set) For(actionType models.ActionType) (Executor, error) {
	var executor Executor

	switch actionType {
	case models.ActionAICall:
		executor = s.AICall
	case models.ActionWhatsAppMessage:
		executor = s.WhatsAppMessage
	case models.ActionEmail:
		executor = s.Email
	case models.ActionWait:
		return nil, ErrWaitIsInternal
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownActionType, actionType)
	}

	if executor == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, actionType)
	}

	return executor, nil
}

// Validate checks that every dispatchable action type has an executor.
func (s Set) Validate() error {
	for _, actionType := range models.ActionTypes {
		if actionType == models.ActionWait {
			continue
		}

		if _, err := s.For(actionType); err != nil {
			return err
		}
	}

	return nil
}

// Uniform returns a set that sends every action type to one executor.
func Uniform(executor Executor) Set {
	return Set{AICall: executor, WhatsAppMessage: executor, Email: executor}
}
