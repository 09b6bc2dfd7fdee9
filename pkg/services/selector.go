package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/dukex/autoflow/pkg/businesshours"
	"github.com/dukex/autoflow/pkg/conditions"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// Selector picks the flow an event should run.
type Selector struct {
	persistence persistence.Persistence
	evaluator   *conditions.Evaluator
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewSelector creates a new flow selector.
func NewSelector(persistence persistence.Persistence, evaluator *conditions.Evaluator, clock clockwork.Clock, logger *slog.Logger) *Selector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if evaluator == nil {
		evaluator = conditions.NewEvaluator(clock)
	}

	return &Selector{
		persistence: persistence,
		evaluator:   evaluator,
		clock:       clock,
		logger:      logger.With("module", "flow_selector"),
	}
}

// SelectFlow returns the owner's first enabled flow, in priority order, that
// is within business hours and whose conditions all hold for the event. A nil
// flow without error means no automation fires.
func (s *Selector) SelectFlow(ctx context.Context, ownerID string, event models.ContactEvent) (*models.Flow, error) {
	if err := requireOwner("SelectFlow", ownerID); err != nil {
		return nil, err
	}

	flows, err := s.persistence.FlowRepository().List(ctx, persistence.ListFlowsOptions{
		OwnerID:     ownerID,
		EnabledOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load flows: %w", err)
	}

	now := s.clock.Now()
	env := event.Env()

	for _, flow := range flows {
		if !businesshours.IsWithin(flow.BusinessHours, now) {
			s.logger.DebugContext(ctx, "Flow outside business hours", "flow_id", flow.ID)

			continue
		}

		matched, err := s.evaluator.All(flow.Conditions, env)
		if err != nil {
			s.logger.WarnContext(ctx, "Flow condition could not be evaluated",
				"flow_id", flow.ID,
				"contact_id", event.ContactID,
				"error", err)

			continue
		}

		if matched {
			s.logger.DebugContext(ctx, "Flow selected", "flow_id", flow.ID, "contact_id", event.ContactID)

			return flow, nil
		}
	}

	return nil, nil
}
