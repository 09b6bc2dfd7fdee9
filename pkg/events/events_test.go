package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/autoflow/pkg/models"
)

func TestTopicFor(t *testing.T) {
	assert.Equal(t, ContactTopic, TopicFor(ContactReceivedEvent))

	for _, eventType := range []EventType{
		ExecutionStartedEvent,
		ExecutionCompletedEvent,
		ExecutionFailedEvent,
		ExecutionCancelledEvent,
	} {
		assert.Equal(t, ExecutionTopic, TopicFor(eventType))
	}
}

func TestNewContactReceived(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	contact := models.ContactEvent{
		OwnerID:   "owner-1",
		ContactID: "contact-1",
		Type:      models.ContactEventUpdated,
		Data:      map[string]any{"stage": "qualified"},
	}

	event := NewContactReceived(contact, now)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, ContactReceivedEvent, event.Type)
	assert.Equal(t, ContactReceivedEvent, event.GetType())
	assert.Equal(t, "owner-1", event.OwnerID)
	assert.Equal(t, now, event.Timestamp)

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded ContactReceived
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "contact-1", decoded.Contact.ContactID)
	assert.Equal(t, "qualified", decoded.Contact.Data["stage"])
}

func TestNewExecutionEvent(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	execution := &models.Execution{
		ID:        "exec-1",
		OwnerID:   "owner-1",
		FlowID:    "flow-1",
		ContactID: "contact-1",
		IsTestRun: true,
	}

	failed := ExecutionFailed{
		ExecutionEvent:    NewExecutionEvent(ExecutionFailedEvent, execution, now),
		FailedActionOrder: 2,
		Error:             "agent deleted",
	}

	assert.Equal(t, ExecutionFailedEvent, failed.GetType())
	assert.Equal(t, "exec-1", failed.ExecutionID)
	assert.Equal(t, "flow-1", failed.FlowID)
	assert.True(t, failed.IsTestRun)
	assert.Equal(t, ExecutionFailedEvent, failed.Type)
}
