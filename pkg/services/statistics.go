package services

import (
	"context"
	"fmt"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// Statistics summarizes executions and their action logs.
type Statistics struct {
	persistence persistence.Persistence
}

func NewStatistics(persistence persistence.Persistence) *Statistics {
	return &Statistics{persistence: persistence}
}

// ExecutionStatistics counts the owner's executions by status. A non-empty
// flowID narrows the count to that flow, including executions of a deleted flow.
func (s *Statistics) ExecutionStatistics(ctx context.Context, ownerID, flowID string) (*models.ExecutionStatistics, error) {
	if err := requireOwner("ExecutionStatistics", ownerID); err != nil {
		return nil, err
	}

	stats, err := s.persistence.ExecutionRepository().ExecutionStatistics(ctx, ownerID, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute execution statistics: %w", err)
	}

	return stats, nil
}

// ActionStatistics counts a flow's action log entries by type and outcome.
// The flow must belong to the owner.
func (s *Statistics) ActionStatistics(ctx context.Context, ownerID, flowID string) (*models.ActionStatistics, error) {
	const op = "ActionStatistics"

	if err := requireOwner(op, ownerID); err != nil {
		return nil, err
	}

	_, err := s.persistence.FlowRepository().Get(ctx, ownerID, flowID)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return nil, flowNotFound(op, flowID, err)
		}

		return nil, fmt.Errorf("failed to get flow: %w", err)
	}

	stats, err := s.persistence.ExecutionRepository().ActionStatistics(ctx, ownerID, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute action statistics: %w", err)
	}

	return stats, nil
}
