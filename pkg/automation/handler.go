// Package automation consumes contact events: it picks the flow an event
// should run and starts an execution for it.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"

	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/services"
)

var (
	ErrInvalidEvent     = errors.New("invalid contact event")
	ErrTestRunNeedsFlow = errors.New("test run requires a flow id")
)

type FlowSelector interface {
	SelectFlow(ctx context.Context, ownerID string, event models.ContactEvent) (*models.Flow, error)
}

type FlowGetter interface {
	Get(ctx context.Context, ownerID, id string) (*models.Flow, error)
}

type Starter interface {
	Start(ctx context.Context, flow *models.Flow, event models.ContactEvent, isTestRun bool) (*models.Execution, error)
}

type Handler struct {
	selector FlowSelector
	flows    FlowGetter
	starter  Starter
	validate *validator.Validate
	clock    clockwork.Clock
	logger   *slog.Logger
}

func NewHandler(selector FlowSelector, flows FlowGetter, starter Starter, clock clockwork.Clock, logger *slog.Logger) *Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Handler{
		selector: selector,
		flows:    flows,
		starter:  starter,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		clock:    clock,
		logger:   logger.With("module", "automation"),
	}
}

// HandleEvent starts the execution an event calls for. A nil execution
// without error means no flow matched.
//
// Test runs skip selection and run the named flow even when it is disabled.
func (h *Handler) HandleEvent(ctx context.Context, event models.ContactEvent) (*models.Execution, error) {
	if err := h.validate.Struct(event); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = h.clock.Now().UTC()
	}

	logger := h.logger.With("owner_id", event.OwnerID, "contact_id", event.ContactID, "event_type", event.Type)

	if event.IsTestRun {
		if event.FlowID == "" {
			return nil, ErrTestRunNeedsFlow
		}

		flow, err := h.flows.Get(ctx, event.OwnerID, event.FlowID)
		if err != nil {
			return nil, err
		}

		logger.InfoContext(ctx, "Starting test run", "flow_id", flow.ID)

		return h.starter.Start(ctx, flow, event, true)
	}

	flow, err := h.selector.SelectFlow(ctx, event.OwnerID, event)
	if err != nil {
		return nil, err
	}

	if flow == nil {
		logger.DebugContext(ctx, "No flow matched")

		return nil, nil
	}

	logger.InfoContext(ctx, "Flow matched", "flow_id", flow.ID)

	return h.starter.Start(ctx, flow, event, false)
}

// Register subscribes the handler to contact events on bus. Events that can
// never succeed are logged and dropped; other failures are returned so the
// transport redelivers them.
func (h *Handler) Register(bus eventbus.EventSubscriber) error {
	return bus.Handle(events.ContactReceivedEvent, func(ctx context.Context, event any) error {
		received, ok := event.(*events.ContactReceived)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		_, err := h.HandleEvent(ctx, received.Contact)
		if err == nil {
			return nil
		}

		if isPermanent(err) {
			h.logger.WarnContext(ctx, "Dropping contact event",
				"event_id", received.ID,
				"owner_id", received.Contact.OwnerID,
				"contact_id", received.Contact.ContactID,
				"error", err)

			return nil
		}

		return err
	})
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrTestRunNeedsFlow) ||
		services.IsValidationError(err) ||
		services.IsNotFoundError(err)
}
