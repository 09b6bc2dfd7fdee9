package models

import (
	"maps"
	"time"
)

// Contact event types emitted by the surrounding CRM.
const (
	ContactEventCreated       = "contact.created"
	ContactEventUpdated       = "contact.updated"
	ContactEventCallCompleted = "call.completed"
	ContactEventTick          = "time.tick"
)

// ContactEvent is a lead/contact state change that flows are matched against.
// FlowID is only honoured for test runs, which bypass selection.
type ContactEvent struct {
	OwnerID    string         `json:"owner_id"              validate:"required"`
	ContactID  string         `json:"contact_id"            validate:"required"`
	Type       string         `json:"type"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	IsTestRun  bool           `json:"is_test_run,omitempty"`
	FlowID     string         `json:"flow_id,omitempty"`
}

// Env returns the variable map trigger conditions are evaluated against.
func (e ContactEvent) Env() map[string]any {
	env := maps.Clone(e.Data)
	if env == nil {
		env = make(map[string]any)
	}

	env["contact_id"] = e.ContactID
	env["event_type"] = e.Type

	return env
}
