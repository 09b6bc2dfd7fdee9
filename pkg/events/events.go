// Package events defines the messages exchanged over the event bus: contact
// events coming in from the CRM and execution lifecycle notifications going out.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/autoflow/pkg/models"
)

type EventType string

// Topics.
const (
	ContactTopic   = "autoflow.contact.events"
	ExecutionTopic = "autoflow.execution.events"
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ContactReceivedEvent EventType = "contact.received"

	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
)

// TopicFor returns the topic an event type travels on.
func TopicFor(eventType EventType) string {
	if eventType == ContactReceivedEvent {
		return ContactTopic
	}

	return ExecutionTopic
}

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	OwnerID   string         `json:"owner_id"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent fills the envelope of a new event.
func NewBaseEvent(eventType EventType, ownerID string, now time.Time) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: now,
		OwnerID:   ownerID,
	}
}

// ContactReceived carries a contact state change into the automation handler.
type ContactReceived struct {
	BaseEvent

	Contact models.ContactEvent `json:"contact"`
}

func (c ContactReceived) GetType() EventType {
	return ContactReceivedEvent
}

// NewContactReceived wraps a contact event for publishing.
func NewContactReceived(event models.ContactEvent, now time.Time) ContactReceived {
	return ContactReceived{
		BaseEvent: NewBaseEvent(ContactReceivedEvent, event.OwnerID, now),
		Contact:   event,
	}
}

// ExecutionEvent is the shared body of execution lifecycle events.
type ExecutionEvent struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	FlowID      string `json:"flow_id"`
	ContactID   string `json:"contact_id"`
	IsTestRun   bool   `json:"is_test_run"`
}

type ExecutionStarted struct {
	ExecutionEvent

	FlowName string `json:"flow_name"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	ExecutionEvent

	Duration time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	ExecutionEvent

	FailedActionOrder int           `json:"failed_action_order,omitempty"`
	Error             string        `json:"error,omitempty"`
	Duration          time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	ExecutionEvent
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

// NewExecutionEvent fills the shared body of a lifecycle event from an execution.
func NewExecutionEvent(eventType EventType, execution *models.Execution, now time.Time) ExecutionEvent {
	return ExecutionEvent{
		BaseEvent:   NewBaseEvent(eventType, execution.OwnerID, now),
		ExecutionID: execution.ID,
		FlowID:      execution.FlowID,
		ContactID:   execution.ContactID,
		IsTestRun:   execution.IsTestRun,
	}
}
