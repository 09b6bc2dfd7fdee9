// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/autoflow/pkg/models"
)

// CreateTestFlow creates an enabled flow without priority, conditions or
// actions. Overrides are applied in order.
func CreateTestFlow(ownerID string, overrides ...func(*models.Flow)) *models.Flow {
	now := time.Now().UTC().Truncate(time.Microsecond)

	flow := &models.Flow{
		ID:            uuid.Must(uuid.NewV7()).String(),
		OwnerID:       ownerID,
		Name:          "Test Flow",
		Enabled:       true,
		FailurePolicy: models.FailurePolicyContinue,
		Conditions:    []models.TriggerCondition{},
		Actions:       []models.Action{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	for _, override := range overrides {
		override(flow)
	}

	return flow
}

// WithName sets the flow name.
func WithName(name string) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Name = name
	}
}

// WithPriority assigns a priority.
func WithPriority(priority int) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Priority = models.IntPtr(priority)
	}
}

// WithDisabled marks the flow disabled.
func WithDisabled() func(*models.Flow) {
	return func(f *models.Flow) {
		f.Enabled = false
	}
}

// WithCreatedAt overrides both timestamps.
func WithCreatedAt(at time.Time) func(*models.Flow) {
	return func(f *models.Flow) {
		f.CreatedAt = at
		f.UpdatedAt = at
	}
}

// WithConditions sets the trigger conditions.
func WithConditions(conditions ...models.TriggerCondition) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Conditions = conditions
	}
}

// WithActions sets the action sequence.
func WithActions(actions ...models.Action) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Actions = actions
	}
}

// WithBusinessHours sets the business-hours window.
func WithBusinessHours(start, end, timezone string) func(*models.Flow) {
	return func(f *models.Flow) {
		f.BusinessHours = &models.BusinessHours{Start: start, End: end, Timezone: timezone}
	}
}

// WithFailurePolicy sets the failure policy.
func WithFailurePolicy(policy models.FailurePolicy) func(*models.Flow) {
	return func(f *models.Flow) {
		f.FailurePolicy = policy
	}
}

// EmailAction returns an email action at order.
func EmailAction(order int) models.Action {
	return models.Action{Order: order, Type: models.ActionEmail, Config: models.EmailConfig{TemplateID: "tpl-welcome"}}
}

// WhatsAppAction returns a whatsapp_message action at order.
func WhatsAppAction(order int) models.Action {
	return models.Action{Order: order, Type: models.ActionWhatsAppMessage, Config: models.WhatsAppMessageConfig{
		ChannelID:  "channel-1",
		TemplateID: "tpl-followup",
	}}
}

// AICallAction returns an ai_call action at order.
func AICallAction(order int) models.Action {
	return models.Action{Order: order, Type: models.ActionAICall, Config: models.AICallConfig{
		AgentID:      "agent-1",
		FromNumberID: "number-1",
	}}
}

// WaitAction returns a wait action at order.
func WaitAction(order, minutes int) models.Action {
	return models.Action{Order: order, Type: models.ActionWait, Config: models.WaitConfig{DurationMinutes: minutes}}
}

// CreateTestExecution creates a running execution for flow.
func CreateTestExecution(flow *models.Flow, overrides ...func(*models.Execution)) *models.Execution {
	execution := &models.Execution{
		ID:            uuid.Must(uuid.NewV7()).String(),
		OwnerID:       flow.OwnerID,
		FlowID:        flow.ID,
		FlowName:      flow.Name,
		ContactID:     "contact-" + uuid.NewString()[:8],
		EventType:     models.ContactEventUpdated,
		EventData:     map[string]any{"stage": "qualified"},
		Status:        models.ExecutionStatusRunning,
		Actions:       models.CloneActions(flow.Actions),
		FailurePolicy: flow.FailurePolicy,
		StartedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}

	for _, override := range overrides {
		override(execution)
	}

	return execution
}
