package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dukex/autoflow/pkg/businesshours"
	"github.com/dukex/autoflow/pkg/conditions"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// Flow owns the flow records of every owner.
type Flow struct {
	persistence persistence.Persistence
	evaluator   *conditions.Evaluator
	clock       clockwork.Clock
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewFlow creates a new flow service.
func NewFlow(persistence persistence.Persistence, evaluator *conditions.Evaluator, clock clockwork.Clock, logger *slog.Logger) *Flow {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if evaluator == nil {
		evaluator = conditions.NewEvaluator(clock)
	}

	return &Flow{
		persistence: persistence,
		evaluator:   evaluator,
		clock:       clock,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "flow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Flow) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateFlowRequest carries the fields of a new flow. A nil priority is
// assigned automatically; a nil Enabled defaults to true.
type CreateFlowRequest struct {
	OwnerID       string                    `validate:"required"`
	Name          string                    `validate:"required"`
	Description   string
	Enabled       *bool
	Priority      *int
	BusinessHours *models.BusinessHours
	FailurePolicy models.FailurePolicy
	Conditions    []models.TriggerCondition
	Actions       []models.Action
}

// Create validates and stores a new flow.
func (s *Flow) Create(ctx context.Context, req CreateFlowRequest) (*models.Flow, error) {
	const op = "Create"

	if err := requireOwner(op, req.OwnerID); err != nil {
		return nil, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, NewValidationError(op, "name_required", ErrFlowNameRequired.Error(), ErrFlowNameRequired)
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, validationFailed(op, errors.Join(ErrInvalidRequest, err))
	}

	if req.FailurePolicy == "" {
		req.FailurePolicy = models.FailurePolicyContinue
	}

	if err := s.validateBase(req.Priority, req.BusinessHours, req.FailurePolicy); err != nil {
		return nil, validationFailed(op, err)
	}

	if err := s.validateConditions(req.Conditions); err != nil {
		return nil, validationFailed(op, err)
	}

	if err := s.validateActions(req.Actions); err != nil {
		return nil, validationFailed(op, err)
	}

	now := s.clock.Now().UTC()

	flow := &models.Flow{
		ID:            uuid.Must(uuid.NewV7()).String(),
		OwnerID:       req.OwnerID,
		Name:          req.Name,
		Description:   req.Description,
		Enabled:       req.Enabled == nil || *req.Enabled,
		Priority:      req.Priority,
		BusinessHours: req.BusinessHours,
		FailurePolicy: req.FailurePolicy,
		Conditions:    emptyIfNil(models.CloneConditions(req.Conditions)),
		Actions:       emptyIfNil(models.CloneActions(req.Actions)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.persistence.FlowRepository().Create(ctx, flow)
	if err != nil {
		if persistence.IsPriorityTaken(err) {
			return nil, NewValidationError(op, "priority_taken", err.Error(), err)
		}

		return nil, fmt.Errorf("failed to create flow: %w", err)
	}

	s.logger.InfoContext(ctx, "Flow created", "flow_id", flow.ID, "owner_id", flow.OwnerID, "priority", *flow.Priority)

	return flow, nil
}

// Get returns one of the owner's flows.
func (s *Flow) Get(ctx context.Context, ownerID, id string) (*models.Flow, error) {
	const op = "Get"

	if err := requireOwner(op, ownerID); err != nil {
		return nil, err
	}

	flow, err := s.persistence.FlowRepository().Get(ctx, ownerID, id)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return nil, flowNotFound(op, id, err)
		}

		return nil, fmt.Errorf("failed to get flow: %w", err)
	}

	return flow, nil
}

// List returns the owner's flows in evaluation order.
func (s *Flow) List(ctx context.Context, ownerID string, enabledOnly bool) ([]*models.Flow, error) {
	if err := requireOwner("List", ownerID); err != nil {
		return nil, err
	}

	flows, err := s.persistence.FlowRepository().List(ctx, persistence.ListFlowsOptions{
		OwnerID:     ownerID,
		EnabledOnly: enabledOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	return flows, nil
}

// UpdateFlowRequest is a partial update of a flow's base fields. Nil fields
// are left unchanged; the Clear flags remove an optional value.
type UpdateFlowRequest struct {
	Name               *string
	Description        *string
	Enabled            *bool
	Priority           *int
	ClearPriority      bool
	BusinessHours      *models.BusinessHours
	ClearBusinessHours bool
	FailurePolicy      *models.FailurePolicy
}

// Update applies a partial update. A priority held by another flow of the
// owner is a conflict and leaves the flow unchanged.
func (s *Flow) Update(ctx context.Context, ownerID, id string, req UpdateFlowRequest) (*models.Flow, error) {
	const op = "Update"

	if err := requireOwner(op, ownerID); err != nil {
		return nil, err
	}

	flow, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, NewValidationError(op, "name_required", ErrFlowNameRequired.Error(), ErrFlowNameRequired)
		}

		flow.Name = name
	}

	if req.Description != nil {
		flow.Description = *req.Description
	}

	if req.Enabled != nil {
		flow.Enabled = *req.Enabled
	}

	switch {
	case req.ClearPriority:
		flow.Priority = nil
	case req.Priority != nil:
		flow.Priority = models.IntPtr(*req.Priority)
	}

	switch {
	case req.ClearBusinessHours:
		flow.BusinessHours = nil
	case req.BusinessHours != nil:
		bh := *req.BusinessHours
		flow.BusinessHours = &bh
	}

	if req.FailurePolicy != nil {
		flow.FailurePolicy = *req.FailurePolicy
	}

	if err := s.validateBase(flow.Priority, flow.BusinessHours, flow.FailurePolicy); err != nil {
		return nil, validationFailed(op, err)
	}

	flow.UpdatedAt = s.clock.Now().UTC()

	return s.save(ctx, op, flow)
}

// ToggleEnabled switches a flow on or off.
func (s *Flow) ToggleEnabled(ctx context.Context, ownerID, id string, enabled bool) (*models.Flow, error) {
	const op = "ToggleEnabled"

	flow, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	flow.Enabled = enabled
	flow.UpdatedAt = s.clock.Now().UTC()

	return s.save(ctx, op, flow)
}

func (s *Flow) save(ctx context.Context, op string, flow *models.Flow) (*models.Flow, error) {
	err := s.persistence.FlowRepository().Update(ctx, flow)
	if err != nil {
		switch {
		case persistence.IsPriorityTaken(err):
			return nil, NewConflictError(op, "priority_taken", err.Error(), err)
		case persistence.IsFlowNotFound(err):
			return nil, flowNotFound(op, flow.ID, err)
		}

		return nil, fmt.Errorf("failed to update flow: %w", err)
	}

	s.logger.InfoContext(ctx, "Flow updated", "flow_id", flow.ID, "owner_id", flow.OwnerID, "operation", op)

	return flow, nil
}

// Delete removes a flow with its conditions and actions. It reports false
// when the owner has no such flow.
func (s *Flow) Delete(ctx context.Context, ownerID, id string) (bool, error) {
	if err := requireOwner("Delete", ownerID); err != nil {
		return false, err
	}

	deleted, err := s.persistence.FlowRepository().Delete(ctx, ownerID, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete flow: %w", err)
	}

	if deleted {
		s.logger.InfoContext(ctx, "Flow deleted", "flow_id", id, "owner_id", ownerID)
	}

	return deleted, nil
}

// ReplaceConditions installs a new trigger condition set. A rejected set
// leaves the stored one unchanged.
func (s *Flow) ReplaceConditions(ctx context.Context, ownerID, id string, conditions []models.TriggerCondition) (*models.Flow, error) {
	const op = "ReplaceConditions"

	if err := requireOwner(op, ownerID); err != nil {
		return nil, err
	}

	if err := s.validateConditions(conditions); err != nil {
		return nil, validationFailed(op, err)
	}

	err := s.persistence.FlowRepository().ReplaceConditions(ctx, ownerID, id,
		emptyIfNil(models.CloneConditions(conditions)), s.clock.Now().UTC())
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return nil, flowNotFound(op, id, err)
		}

		return nil, fmt.Errorf("failed to replace conditions: %w", err)
	}

	return s.Get(ctx, ownerID, id)
}

// ReplaceActions installs a new action sequence. A rejected sequence leaves
// the stored one unchanged.
func (s *Flow) ReplaceActions(ctx context.Context, ownerID, id string, actions []models.Action) (*models.Flow, error) {
	const op = "ReplaceActions"

	if err := requireOwner(op, ownerID); err != nil {
		return nil, err
	}

	if err := s.validateActions(actions); err != nil {
		return nil, validationFailed(op, err)
	}

	err := s.persistence.FlowRepository().ReplaceActions(ctx, ownerID, id,
		emptyIfNil(models.CloneActions(actions)), s.clock.Now().UTC())
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return nil, flowNotFound(op, id, err)
		}

		return nil, fmt.Errorf("failed to replace actions: %w", err)
	}

	return s.Get(ctx, ownerID, id)
}

func (s *Flow) validateBase(priority *int, bh *models.BusinessHours, policy models.FailurePolicy) error {
	if priority != nil && *priority < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidPriority, *priority)
	}

	if bh != nil {
		if err := s.validate.Struct(bh); err != nil {
			return errors.Join(businesshours.ErrInvalidTime, err)
		}
	}

	if err := businesshours.Validate(bh); err != nil {
		return err
	}

	if !policy.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, policy)
	}

	return nil
}

func (s *Flow) validateConditions(conditions []models.TriggerCondition) error {
	if err := models.ValidateConditions(conditions); err != nil {
		return err
	}

	for i, condition := range conditions {
		if condition.Type != models.ConditionExpression {
			continue
		}

		if err := s.evaluator.Check(condition.Value.(string)); err != nil {
			return fmt.Errorf("condition %d: %w", i+1, err)
		}
	}

	return nil
}

// validateActions checks the sequence and that every gating condition
// compiles.
func (s *Flow) validateActions(actions []models.Action) error {
	if err := models.ValidateActions(actions); err != nil {
		return err
	}

	for _, action := range actions {
		if action.Condition == nil {
			continue
		}

		if err := s.validateConditions([]models.TriggerCondition{*action.Condition}); err != nil {
			return fmt.Errorf("action %d gating condition: %w", action.Order, err)
		}
	}

	return nil
}

func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}

	return items
}
