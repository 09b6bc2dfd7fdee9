package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// CancelNotifier tells the process running an execution that it was cancelled.
type CancelNotifier interface {
	Notify(ctx context.Context, executionID string) error
}

// Execution serves execution queries and cancellation.
type Execution struct {
	persistence persistence.Persistence
	notifier    CancelNotifier
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewExecution creates a new execution service. notifier may be nil when the
// caller interrupts running walks itself.
func NewExecution(persistence persistence.Persistence, notifier CancelNotifier, clock clockwork.Clock, logger *slog.Logger) *Execution {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Execution{
		persistence: persistence,
		notifier:    notifier,
		clock:       clock,
		logger:      logger.With("module", "execution_service"),
	}
}

// ListExecutionsRequest filters the owner's executions.
type ListExecutionsRequest struct {
	OwnerID   string
	FlowID    string
	Status    models.ExecutionStatus
	IsTestRun *bool
	Limit     int
	Offset    int
}

// List returns executions without their logs, most recent first.
func (s *Execution) List(ctx context.Context, req ListExecutionsRequest) ([]*models.Execution, error) {
	const op = "List"

	if err := requireOwner(op, req.OwnerID); err != nil {
		return nil, err
	}

	if req.Status != "" && !req.Status.Valid() {
		return nil, NewValidationError(op, "invalid_status", fmt.Sprintf("unknown status %q", req.Status), ErrInvalidStatus)
	}

	executions, err := s.persistence.ExecutionRepository().List(ctx, persistence.ListExecutionsOptions{
		OwnerID:   req.OwnerID,
		FlowID:    req.FlowID,
		Status:    req.Status,
		IsTestRun: req.IsTestRun,
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// Get returns one execution with its action log.
func (s *Execution) Get(ctx context.Context, ownerID, id string) (*models.Execution, error) {
	const op = "Get"

	if err := requireOwner(op, ownerID); err != nil {
		return nil, err
	}

	execution, err := s.persistence.ExecutionRepository().Get(ctx, ownerID, id)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, NewNotFoundError(op, "execution_not_found", "execution "+id+" not found", err)
		}

		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return execution, nil
}

// Cancel moves a running execution to cancelled and notifies the process
// running it. It returns nil when the execution is missing, foreign or
// already terminal.
func (s *Execution) Cancel(ctx context.Context, ownerID, id string) (*models.Execution, error) {
	if err := requireOwner("Cancel", ownerID); err != nil {
		return nil, err
	}

	executions := s.persistence.ExecutionRepository()

	if _, err := executions.Get(ctx, ownerID, id); err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	cancelled, err := executions.Finish(ctx, id, models.ExecutionStatusCancelled, s.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to cancel execution: %w", err)
	}

	if !cancelled {
		return nil, nil
	}

	s.logger.InfoContext(ctx, "Execution cancelled", "execution_id", id, "owner_id", ownerID)

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, id); err != nil {
			s.logger.ErrorContext(ctx, "Failed to notify cancellation", "execution_id", id, "error", err)
		}
	}

	execution, err := executions.Get(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload execution: %w", err)
	}

	return execution, nil
}
