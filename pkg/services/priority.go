package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// Priority guards each owner's priority space.
type Priority struct {
	persistence persistence.Persistence
	clock       clockwork.Clock
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewPriority creates a new priority resolver.
func NewPriority(persistence persistence.Persistence, clock clockwork.Clock, logger *slog.Logger) *Priority {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Priority{
		persistence: persistence,
		clock:       clock,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "priority_service"),
	}
}

// NextAvailablePriority returns one past the owner's highest priority, or 1.
func (s *Priority) NextAvailablePriority(ctx context.Context, ownerID string) (int, error) {
	if err := requireOwner("NextAvailablePriority", ownerID); err != nil {
		return 0, err
	}

	next, err := s.persistence.FlowRepository().NextPriority(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next priority: %w", err)
	}

	return next, nil
}

// IsPriorityAvailable reports whether priority is free for the owner. A
// priority held by excludeFlowID counts as free.
func (s *Priority) IsPriorityAvailable(ctx context.Context, ownerID string, priority int, excludeFlowID string) (bool, error) {
	const op = "IsPriorityAvailable"

	if err := requireOwner(op, ownerID); err != nil {
		return false, err
	}

	if priority < 1 {
		return false, NewValidationError(op, "invalid_priority", ErrInvalidPriority.Error(), ErrInvalidPriority)
	}

	holder, taken, err := s.persistence.FlowRepository().PriorityHolder(ctx, ownerID, priority)
	if err != nil {
		return false, fmt.Errorf("failed to look up priority: %w", err)
	}

	return !taken || (excludeFlowID != "" && holder == excludeFlowID), nil
}

// BulkReassign applies every assignment or none. Duplicate priorities or
// flows are rejected before the store is touched; a flow the owner does not
// have fails the whole batch as not found.
func (s *Priority) BulkReassign(ctx context.Context, ownerID string, assignments []models.PriorityAssignment) error {
	const op = "BulkReassign"

	if err := requireOwner(op, ownerID); err != nil {
		return err
	}

	if len(assignments) == 0 {
		return nil
	}

	priorities := make(map[int]struct{}, len(assignments))
	flowIDs := make(map[string]struct{}, len(assignments))

	for i, assignment := range assignments {
		if err := s.validate.Struct(assignment); err != nil {
			return validationFailed(op, fmt.Errorf("assignment %d: %w", i+1, errors.Join(ErrInvalidPriority, err)))
		}

		if _, dup := priorities[assignment.Priority]; dup {
			return NewValidationError(op, "duplicate_priority",
				fmt.Sprintf("priority %d appears more than once", assignment.Priority), ErrDuplicatePriority)
		}

		if _, dup := flowIDs[assignment.FlowID]; dup {
			return NewValidationError(op, "duplicate_flow",
				fmt.Sprintf("flow %s appears more than once", assignment.FlowID), ErrDuplicateFlowID)
		}

		priorities[assignment.Priority] = struct{}{}
		flowIDs[assignment.FlowID] = struct{}{}
	}

	err := s.persistence.FlowRepository().ReassignPriorities(ctx, ownerID, assignments, s.clock.Now().UTC())
	if err != nil {
		switch {
		case persistence.IsFlowNotFound(err):
			return NewNotFoundError(op, "flow_not_found", err.Error(), err)
		case persistence.IsPriorityTaken(err):
			return NewConflictError(op, "priority_taken", err.Error(), err)
		}

		return fmt.Errorf("failed to reassign priorities: %w", err)
	}

	s.logger.InfoContext(ctx, "Priorities reassigned", "owner_id", ownerID, "count", len(assignments))

	return nil
}
