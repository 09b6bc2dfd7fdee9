package web

import (
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

// OwnerHeader carries the identity every request is scoped to.
const OwnerHeader = "X-Owner-ID"

type CreateFlowRequest struct {
	Name          string                    `json:"name"                     validate:"required,min=1,max=255"`
	Description   string                    `json:"description,omitempty"    validate:"max=1000"`
	Enabled       *bool                     `json:"enabled,omitempty"`
	Priority      *int                      `json:"priority,omitempty"       validate:"omitempty,min=1"`
	BusinessHours *models.BusinessHours     `json:"business_hours,omitempty"`
	FailurePolicy models.FailurePolicy      `json:"failure_policy,omitempty" validate:"omitempty,oneof=continue abort"`
	Conditions    []models.TriggerCondition `json:"conditions,omitempty"`
	Actions       []models.Action           `json:"actions,omitempty"`
}

// UpdateFlowRequest is a partial update; omitted fields keep their value.
type UpdateFlowRequest struct {
	Name               *string               `json:"name,omitempty"                 validate:"omitempty,min=1,max=255"`
	Description        *string               `json:"description,omitempty"          validate:"omitempty,max=1000"`
	Enabled            *bool                 `json:"enabled,omitempty"`
	Priority           *int                  `json:"priority,omitempty"             validate:"omitempty,min=1"`
	ClearPriority      bool                  `json:"clear_priority,omitempty"`
	BusinessHours      *models.BusinessHours `json:"business_hours,omitempty"`
	ClearBusinessHours bool                  `json:"clear_business_hours,omitempty"`
	FailurePolicy      *models.FailurePolicy `json:"failure_policy,omitempty"       validate:"omitempty,oneof=continue abort"`
}

type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type ReplaceConditionsRequest struct {
	Conditions []models.TriggerCondition `json:"conditions"`
}

type ReplaceActionsRequest struct {
	Actions []models.Action `json:"actions"`
}

type ReassignPrioritiesRequest struct {
	Assignments []models.PriorityAssignment `json:"assignments" validate:"required,min=1,dive"`
}

// TestRunRequest describes the synthetic contact event a test run starts from.
type TestRunRequest struct {
	ContactID string         `json:"contact_id"     validate:"required"`
	Type      string         `json:"type,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type TestRunResponse struct {
	EventID   string `json:"event_id"`
	FlowID    string `json:"flow_id"`
	ContactID string `json:"contact_id"`
}

// ContactEventRequest is a contact change pushed by the CRM.
type ContactEventRequest struct {
	ContactID  string         `json:"contact_id"            validate:"required"`
	Type       string         `json:"type"                  validate:"required"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt *time.Time     `json:"occurred_at,omitempty"`
}

type AcceptedEventResponse struct {
	EventID string `json:"event_id"`
}
