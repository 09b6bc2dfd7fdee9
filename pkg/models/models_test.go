package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Flow Model Tests

func TestFlow_Clone_IsDeep(t *testing.T) {
	flow := &Flow{
		ID:            "flow-1",
		OwnerID:       "owner-1",
		Name:          "Qualified follow-up",
		Priority:      IntPtr(2),
		BusinessHours: &BusinessHours{Start: "09:00:00", End: "18:00:00", Timezone: "UTC"},
		Conditions: []TriggerCondition{
			{Type: ConditionSourceEquals, Operator: OperatorIn, Value: []any{"web", "ads"}},
		},
		Actions: []Action{
			{Order: 1, Type: ActionWhatsAppMessage, Config: WhatsAppMessageConfig{
				ChannelID: "ch-1", TemplateID: "tpl-1", Variables: map[string]string{"name": "{{first_name}}"},
			}},
		},
	}

	clone := flow.Clone()
	*clone.Priority = 9
	clone.BusinessHours.Start = "10:00:00"
	clone.Conditions[0].Value.([]any)[0] = "changed"
	clone.Actions[0].Config.(WhatsAppMessageConfig).Variables["name"] = "changed"

	assert.Equal(t, 2, *flow.Priority)
	assert.Equal(t, "09:00:00", flow.BusinessHours.Start)
	assert.Equal(t, "web", flow.Conditions[0].Value.([]any)[0])
	assert.Equal(t, "{{first_name}}", flow.Actions[0].Config.(WhatsAppMessageConfig).Variables["name"])
}

func TestFlow_SortedActions(t *testing.T) {
	flow := &Flow{Actions: []Action{
		{Order: 3, Type: ActionEmail, Config: EmailConfig{TemplateID: "t"}},
		{Order: 1, Type: ActionWait, Config: WaitConfig{DurationMinutes: 5}},
		{Order: 2, Type: ActionEmail, Config: EmailConfig{TemplateID: "t"}},
	}}

	sorted := flow.SortedActions()

	assert.Equal(t, []int{1, 2, 3}, []int{sorted[0].Order, sorted[1].Order, sorted[2].Order})
	assert.Equal(t, 3, flow.Actions[0].Order, "original slice untouched")
}

func TestPriorityAssignment_Validation(t *testing.T) {
	validate := validator.New()

	assert.NoError(t, validate.Struct(PriorityAssignment{FlowID: "flow-1", Priority: 1}))
	assert.Error(t, validate.Struct(PriorityAssignment{FlowID: "", Priority: 1}))
	assert.Error(t, validate.Struct(PriorityAssignment{FlowID: "flow-1", Priority: 0}))
}

func TestFailurePolicy_Valid(t *testing.T) {
	assert.True(t, FailurePolicyContinue.Valid())
	assert.True(t, FailurePolicyAbort.Valid())
	assert.False(t, FailurePolicy("retry").Valid())
}

// Condition Model Tests

func TestTriggerCondition_Defaults(t *testing.T) {
	condition := TriggerCondition{Type: ConditionScoreAbove, Value: 10}

	assert.Equal(t, OperatorGreaterThan, condition.EffectiveOperator())
	assert.Equal(t, "score", condition.EffectiveField())

	condition.Operator = OperatorGreaterOrEqual
	condition.Field = "lead.score"

	assert.Equal(t, OperatorGreaterOrEqual, condition.EffectiveOperator())
	assert.Equal(t, "lead.score", condition.EffectiveField())
}

func TestTriggerCondition_Validate(t *testing.T) {
	tests := []struct {
		name      string
		condition TriggerCondition
		wantErr   error
	}{
		{"stage with value", TriggerCondition{Type: ConditionStageEquals, Value: "won"}, nil},
		{"exists without value", TriggerCondition{Type: ConditionField, Field: "email", Operator: OperatorExists}, nil},
		{"expression", TriggerCondition{Type: ConditionExpression, Value: "score > 10"}, nil},
		{"unknown type", TriggerCondition{Type: "lunar_phase", Value: "full"}, ErrUnknownConditionType},
		{"unknown operator", TriggerCondition{Type: ConditionStageEquals, Operator: "like", Value: "x"}, ErrUnknownOperator},
		{"missing value", TriggerCondition{Type: ConditionStageEquals}, ErrConditionValue},
		{"field without path", TriggerCondition{Type: ConditionField, Value: "x"}, ErrConditionValue},
		{"blank expression", TriggerCondition{Type: ConditionExpression, Value: "  "}, ErrConditionValue},
		{"non string expression", TriggerCondition{Type: ConditionExpression, Value: 42}, ErrConditionValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.condition.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidateConditions_ReportsPosition(t *testing.T) {
	err := ValidateConditions([]TriggerCondition{
		{Type: ConditionStageEquals, Value: "new"},
		{Type: ConditionScoreAbove},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConditionValue)
	assert.Contains(t, err.Error(), "condition 2")
}

// Action Model Tests

func TestAction_UnmarshalJSON(t *testing.T) {
	payload := `[
		{"order": 1, "type": "ai_call", "config": {"agent_id": "agent-1", "from_number_id": "num-1", "max_duration_seconds": 300}},
		{"order": 2, "type": "wait", "config": {"duration_minutes": 30}},
		{"order": 3, "type": "email", "config": {"template_id": "tpl-9", "from_address": "sales@example.com"},
		 "condition": {"type": "field", "field": "steps.1.outcome", "value": "failed"}}
	]`

	var actions []Action
	require.NoError(t, json.Unmarshal([]byte(payload), &actions))
	require.Len(t, actions, 3)

	assert.Equal(t, AICallConfig{AgentID: "agent-1", FromNumberID: "num-1", MaxDurationSeconds: 300}, actions[0].Config)

	wait, ok := actions[1].WaitDuration()
	assert.True(t, ok)
	assert.Equal(t, 30*time.Minute, wait)

	require.NotNil(t, actions[2].Condition)
	assert.Equal(t, "steps.1.outcome", actions[2].Condition.Field)
	assert.NoError(t, ValidateActions(actions))
}

func TestAction_UnmarshalJSON_SchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"missing agent", `{"order":1,"type":"ai_call","config":{"from_number_id":"n"}}`, ErrInvalidActionConfig},
		{"unknown key", `{"order":1,"type":"email","config":{"template_id":"t","cc":"x"}}`, ErrInvalidActionConfig},
		{"bad email", `{"order":1,"type":"email","config":{"template_id":"t","from_address":"nope"}}`, ErrInvalidActionConfig},
		{"zero wait", `{"order":1,"type":"wait","config":{"duration_minutes":0}}`, ErrInvalidActionConfig},
		{"null config", `{"order":1,"type":"wait","config":null}`, ErrActionConfigRequired},
		{"missing config", `{"order":1,"type":"wait"}`, ErrActionConfigRequired},
		{"unknown type", `{"order":1,"type":"sms","config":{}}`, ErrUnknownActionType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var action Action
			err := json.Unmarshal([]byte(tt.payload), &action)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAction_MarshalRoundTripKeepsConfigShape(t *testing.T) {
	action := Action{Order: 1, Type: ActionWhatsAppMessage, Config: WhatsAppMessageConfig{ChannelID: "c", TemplateID: "t"}}

	data, err := json.Marshal(action)
	require.NoError(t, err)
	assert.JSONEq(t, `{"order":1,"type":"whatsapp_message","config":{"channel_id":"c","template_id":"t"}}`, string(data))
}

func TestValidateActions(t *testing.T) {
	email := EmailConfig{TemplateID: "tpl"}

	tests := []struct {
		name    string
		actions []Action
		wantErr error
	}{
		{
			name:    "empty sequence",
			actions: nil,
		},
		{
			name:    "gaps are allowed",
			actions: []Action{{Order: 1, Type: ActionEmail, Config: email}, {Order: 5, Type: ActionEmail, Config: email}},
		},
		{
			name:    "duplicate order",
			actions: []Action{{Order: 1, Type: ActionEmail, Config: email}, {Order: 1, Type: ActionEmail, Config: email}},
			wantErr: ErrDuplicateActionOrder,
		},
		{
			name:    "zero order",
			actions: []Action{{Order: 0, Type: ActionEmail, Config: email}},
			wantErr: ErrNonPositiveActionOrder,
		},
		{
			name:    "negative order",
			actions: []Action{{Order: -2, Type: ActionEmail, Config: email}},
			wantErr: ErrNonPositiveActionOrder,
		},
		{
			name:    "config of another type",
			actions: []Action{{Order: 1, Type: ActionWait, Config: email}},
			wantErr: ErrActionConfigMismatch,
		},
		{
			name:    "missing config",
			actions: []Action{{Order: 1, Type: ActionEmail}},
			wantErr: ErrActionConfigRequired,
		},
		{
			name:    "ai call without number",
			actions: []Action{{Order: 1, Type: ActionAICall, Config: AICallConfig{AgentID: "a"}}},
			wantErr: ErrInvalidActionConfig,
		},
		{
			name: "invalid gating condition",
			actions: []Action{{Order: 1, Type: ActionEmail, Config: email,
				Condition: &TriggerCondition{Type: ConditionScoreAbove}}},
			wantErr: ErrConditionValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateActions(tt.actions)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestDuplicateActionOrderMessage(t *testing.T) {
	err := ValidateActions([]Action{
		{Order: 1, Type: ActionWait, Config: WaitConfig{DurationMinutes: 1}},
		{Order: 1, Type: ActionWait, Config: WaitConfig{DurationMinutes: 2}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "orders must be unique")
}

func TestActionConfigSchema(t *testing.T) {
	for _, actionType := range ActionTypes {
		schema, ok := ActionConfigSchema(actionType)
		require.True(t, ok, actionType)
		assert.Equal(t, "object", schema["type"])
	}

	_, ok := ActionConfigSchema("fax")
	assert.False(t, ok)
}

// Execution Model Tests

func TestExecutionStatus(t *testing.T) {
	assert.False(t, ExecutionStatusRunning.IsTerminal())
	assert.True(t, ExecutionStatusCompleted.IsTerminal())
	assert.True(t, ExecutionStatusFailed.IsTerminal())
	assert.True(t, ExecutionStatusCancelled.IsTerminal())
	assert.False(t, ExecutionStatus("paused").Valid())
}

func TestExecutionContext_Env(t *testing.T) {
	ctx := ExecutionContext{
		ContactID: "contact-1",
		EventType: ContactEventUpdated,
		EventData: map[string]any{"stage": "qualified"},
		StepResults: map[int]ActionLog{
			1: {ActionOrder: 1, ActionType: ActionAICall, Outcome: ActionOutcomeFailed},
			3: {ActionOrder: 3, ActionType: ActionEmail, Outcome: ActionOutcomeSuccess, Detail: map[string]any{"message_id": "m-1"}},
		},
	}

	env := ctx.Env()

	assert.Equal(t, "qualified", env["stage"])
	assert.Equal(t, "contact-1", env["contact_id"])
	assert.Equal(t, "success", env["last_outcome"])

	steps := env["steps"].(map[string]any)
	assert.Equal(t, "failed", steps["1"].(map[string]any)["outcome"])
	assert.Equal(t, "email", steps["3"].(map[string]any)["type"])

	_, leaked := ctx.EventData["contact_id"]
	assert.False(t, leaked, "env must not write into the event snapshot")
}

func TestExecution_Clone(t *testing.T) {
	ended := time.Now()
	execution := &Execution{
		ID:        "exec-1",
		EventData: map[string]any{"stage": "new"},
		EndedAt:   &ended,
		Logs:      []ActionLog{{ActionOrder: 1, Detail: map[string]any{"k": "v"}}},
	}

	clone := execution.Clone()
	clone.EventData["stage"] = "lost"
	clone.Logs[0].Detail["k"] = "changed"
	*clone.EndedAt = ended.Add(time.Hour)

	assert.Equal(t, "new", execution.EventData["stage"])
	assert.Equal(t, "v", execution.Logs[0].Detail["k"])
	assert.Equal(t, ended, *execution.EndedAt)
}

func TestStatisticsZeroValues(t *testing.T) {
	stats := NewExecutionStatistics()
	assert.Len(t, stats.ByStatus, len(ExecutionStatuses))

	actions := NewActionStatistics("flow-1")
	counts := actions.ByType[ActionEmail]
	counts.Add(ActionOutcomeSuccess, 2)
	counts.Add(ActionOutcomeFailed, 1)
	actions.ByType[ActionEmail] = counts

	assert.Equal(t, OutcomeCounts{Total: 3, Success: 2, Failed: 1}, actions.ByType[ActionEmail])
	assert.Equal(t, OutcomeCounts{}, actions.ByType[ActionWait])
}

func TestContactEvent_Env(t *testing.T) {
	event := ContactEvent{OwnerID: "o", ContactID: "c", Type: ContactEventCreated, Data: map[string]any{"stage": "new"}}

	env := event.Env()
	assert.Equal(t, "c", env["contact_id"])
	assert.Equal(t, ContactEventCreated, env["event_type"])
	assert.Equal(t, "new", env["stage"])

	validate := validator.New()
	assert.NoError(t, validate.Struct(event))
	assert.Error(t, validate.Struct(ContactEvent{OwnerID: "o"}))
}
