package services

import (
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/memory"
	"github.com/dukex/autoflow/pkg/testutil"
)

var testStart = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func newTestFlowService(t *testing.T) (*Flow, persistence.Persistence, *clockwork.FakeClock) {
	t.Helper()

	store := memory.NewPersistence()
	clock := clockwork.NewFakeClockAt(testStart)

	return NewFlow(store, nil, clock, slog.New(slog.DiscardHandler)), store, clock
}

func TestFlow_Create(t *testing.T) {
	service, _, _ := newTestFlowService(t)

	flow, err := service.Create(t.Context(), CreateFlowRequest{
		OwnerID:       "owner-1",
		Name:          "  Welcome  ",
		BusinessHours: &models.BusinessHours{Start: "09:00:00", End: "18:00:00", Timezone: "UTC"},
		Actions:       []models.Action{testutil.WaitAction(1, 5), testutil.EmailAction(2)},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, flow.ID)
	assert.Equal(t, "Welcome", flow.Name)
	assert.True(t, flow.Enabled)
	assert.Equal(t, 1, *flow.Priority)
	assert.Equal(t, models.FailurePolicyContinue, flow.FailurePolicy)
	assert.Equal(t, testStart, flow.CreatedAt)
	assert.Empty(t, flow.Conditions)

	second, err := service.Create(t.Context(), CreateFlowRequest{OwnerID: "owner-1", Name: "Second"})
	require.NoError(t, err)
	assert.Equal(t, 2, *second.Priority)
}

func TestFlow_Create_ValidationErrors(t *testing.T) {
	ctx := t.Context()

	tests := []struct {
		name string
		req  CreateFlowRequest
	}{
		{
			name: "missing owner",
			req:  CreateFlowRequest{Name: "Flow"},
		},
		{
			name: "blank name",
			req:  CreateFlowRequest{OwnerID: "owner-1", Name: "   "},
		},
		{
			name: "zero priority",
			req:  CreateFlowRequest{OwnerID: "owner-1", Name: "Flow", Priority: models.IntPtr(0)},
		},
		{
			name: "malformed business hours time",
			req: CreateFlowRequest{OwnerID: "owner-1", Name: "Flow",
				BusinessHours: &models.BusinessHours{Start: "9:00", End: "18:00:00", Timezone: "UTC"}},
		},
		{
			name: "start equals end",
			req: CreateFlowRequest{OwnerID: "owner-1", Name: "Flow",
				BusinessHours: &models.BusinessHours{Start: "10:00:00", End: "10:00:00", Timezone: "UTC"}},
		},
		{
			name: "unknown timezone",
			req: CreateFlowRequest{OwnerID: "owner-1", Name: "Flow",
				BusinessHours: &models.BusinessHours{Start: "09:00:00", End: "18:00:00", Timezone: "Mars/Olympus"}},
		},
		{
			name: "unknown failure policy",
			req:  CreateFlowRequest{OwnerID: "owner-1", Name: "Flow", FailurePolicy: "retry"},
		},
		{
			name: "duplicate action order",
			req: CreateFlowRequest{OwnerID: "owner-1", Name: "Flow",
				Actions: []models.Action{testutil.EmailAction(1), testutil.AICallAction(1)}},
		},
		{
			name: "broken expression",
			req: CreateFlowRequest{OwnerID: "owner-1", Name: "Flow",
				Conditions: []models.TriggerCondition{{Type: models.ConditionExpression, Value: "score >"}}},
		},
		{
			name: "broken gating expression",
			req: CreateFlowRequest{OwnerID: "owner-1", Name: "Flow",
				Actions: []models.Action{gatedEmail(1, "score >")}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, store, _ := newTestFlowService(t)

			_, err := service.Create(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "got %v", err)

			flows, err := store.FlowRepository().List(ctx, persistence.ListFlowsOptions{OwnerID: "owner-1"})
			require.NoError(t, err)
			assert.Empty(t, flows)
		})
	}
}

func gatedEmail(order int, expression string) models.Action {
	action := testutil.EmailAction(order)
	action.Condition = &models.TriggerCondition{Type: models.ConditionExpression, Value: expression}

	return action
}

func TestFlow_Create_PriorityTakenIsValidationError(t *testing.T) {
	service, _, _ := newTestFlowService(t)

	_, err := service.Create(t.Context(), CreateFlowRequest{OwnerID: "owner-1", Name: "First", Priority: models.IntPtr(3)})
	require.NoError(t, err)

	_, err = service.Create(t.Context(), CreateFlowRequest{OwnerID: "owner-1", Name: "Second", Priority: models.IntPtr(3)})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.ErrorIs(t, err, ErrPriorityTaken)
}

// Setting a priority held by another flow is a conflict and leaves the target unchanged.
func TestFlow_Update_PriorityConflict(t *testing.T) {
	ctx := t.Context()
	service, _, _ := newTestFlowService(t)

	first, err := service.Create(ctx, CreateFlowRequest{OwnerID: "owner-1", Name: "First"})
	require.NoError(t, err)

	second, err := service.Create(ctx, CreateFlowRequest{OwnerID: "owner-1", Name: "Second"})
	require.NoError(t, err)

	_, err = service.Update(ctx, "owner-1", second.ID, UpdateFlowRequest{
		Name:     new(string),
		Priority: models.IntPtr(*first.Priority),
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err), "blank name is rejected before the priority check")

	renamed := "Renamed"

	_, err = service.Update(ctx, "owner-1", second.ID, UpdateFlowRequest{
		Name:     &renamed,
		Priority: models.IntPtr(*first.Priority),
	})
	require.Error(t, err)
	assert.True(t, IsConflictError(err))
	assert.ErrorIs(t, err, ErrPriorityTaken)

	stored, err := service.Get(ctx, "owner-1", second.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, *stored.Priority)
	assert.Equal(t, "Second", stored.Name)
}

func TestFlow_Update_Partial(t *testing.T) {
	ctx := t.Context()
	service, _, clock := newTestFlowService(t)

	flow, err := service.Create(ctx, CreateFlowRequest{
		OwnerID:       "owner-1",
		Name:          "Flow",
		Description:   "original",
		BusinessHours: &models.BusinessHours{Start: "09:00:00", End: "18:00:00", Timezone: "UTC"},
		Actions:       []models.Action{testutil.EmailAction(1)},
	})
	require.NoError(t, err)

	clock.Advance(time.Hour)

	abort := models.FailurePolicyAbort

	updated, err := service.Update(ctx, "owner-1", flow.ID, UpdateFlowRequest{
		ClearPriority:      true,
		ClearBusinessHours: true,
		FailurePolicy:      &abort,
	})
	require.NoError(t, err)

	assert.Nil(t, updated.Priority)
	assert.Nil(t, updated.BusinessHours)
	assert.Equal(t, "original", updated.Description)
	assert.Equal(t, models.FailurePolicyAbort, updated.FailurePolicy)
	assert.Equal(t, testStart.Add(time.Hour), updated.UpdatedAt)

	stored, err := service.Get(ctx, "owner-1", flow.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Actions, 1)
	assert.Equal(t, testStart, stored.CreatedAt)
}

func TestFlow_Update_RejectsInvalidWindowWithoutChange(t *testing.T) {
	ctx := t.Context()
	service, _, _ := newTestFlowService(t)

	flow, err := service.Create(ctx, CreateFlowRequest{OwnerID: "owner-1", Name: "Flow"})
	require.NoError(t, err)

	_, err = service.Update(ctx, "owner-1", flow.ID, UpdateFlowRequest{
		BusinessHours: &models.BusinessHours{Start: "18:00:00", End: "09:00:00", Timezone: "UTC"},
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	stored, err := service.Get(ctx, "owner-1", flow.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.BusinessHours)
}

func TestFlow_CrossTenantIsNotFound(t *testing.T) {
	ctx := t.Context()
	service, _, _ := newTestFlowService(t)

	flow, err := service.Create(ctx, CreateFlowRequest{OwnerID: "owner-1", Name: "Flow"})
	require.NoError(t, err)

	_, err = service.Get(ctx, "owner-2", flow.ID)
	assert.True(t, IsNotFoundError(err))

	_, err = service.ToggleEnabled(ctx, "owner-2", flow.ID, false)
	assert.True(t, IsNotFoundError(err))

	_, err = service.ReplaceActions(ctx, "owner-2", flow.ID, []models.Action{testutil.EmailAction(1)})
	assert.True(t, IsNotFoundError(err))

	deleted, err := service.Delete(ctx, "owner-2", flow.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	stored, err := service.Get(ctx, "owner-1", flow.ID)
	require.NoError(t, err)
	assert.True(t, stored.Enabled)
	assert.Empty(t, stored.Actions)
}

func TestFlow_ToggleEnabled(t *testing.T) {
	ctx := t.Context()
	service, _, _ := newTestFlowService(t)

	flow, err := service.Create(ctx, CreateFlowRequest{OwnerID: "owner-1", Name: "Flow"})
	require.NoError(t, err)

	toggled, err := service.ToggleEnabled(ctx, "owner-1", flow.ID, false)
	require.NoError(t, err)
	assert.False(t, toggled.Enabled)
	assert.Equal(t, 1, *toggled.Priority)

	enabled, err := service.List(ctx, "owner-1", true)
	require.NoError(t, err)
	assert.Empty(t, enabled)
}

// Duplicate action orders are rejected and the stored sequence is unchanged.
func TestFlow_ReplaceActions_DuplicateOrders(t *testing.T) {
	ctx := t.Context()
	service, _, _ := newTestFlowService(t)

	flow, err := service.Create(ctx, CreateFlowRequest{
		OwnerID: "owner-1",
		Name:    "Flow",
		Actions: []models.Action{testutil.AICallAction(1), testutil.WaitAction(2, 10)},
	})
	require.NoError(t, err)

	_, err = service.ReplaceActions(ctx, "owner-1", flow.ID, []models.Action{testutil.EmailAction(1), testutil.WhatsAppAction(1)})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.ErrorIs(t, err, models.ErrDuplicateActionOrder)
	assert.Contains(t, err.Error(), "orders must be unique")

	stored, err := service.Get(ctx, "owner-1", flow.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.Actions, stored.Actions)
}

func TestFlow_ReplaceActions_GatingConditionValidated(t *testing.T) {
	ctx := t.Context()
	service, _, _ := newTestFlowService(t)

	flow, err := service.Create(ctx, CreateFlowRequest{OwnerID: "owner-1", Name: "Flow"})
	require.NoError(t, err)

	gated := testutil.EmailAction(2)
	gated.Condition = &models.TriggerCondition{Type: models.ConditionExpression, Value: `steps["1"].outcome ==`}

	_, err = service.ReplaceActions(ctx, "owner-1", flow.ID, []models.Action{testutil.AICallAction(1), gated})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	gated.Condition = &models.TriggerCondition{Type: models.ConditionExpression, Value: `steps["1"].outcome == "failed"`}

	replaced, err := service.ReplaceActions(ctx, "owner-1", flow.ID, []models.Action{gated, testutil.AICallAction(1)})
	require.NoError(t, err)
	require.Len(t, replaced.Actions, 2)
	assert.Equal(t, 1, replaced.Actions[0].Order)
}

func TestFlow_ReplaceConditions(t *testing.T) {
	ctx := t.Context()
	service, _, _ := newTestFlowService(t)

	flow, err := service.Create(ctx, CreateFlowRequest{
		OwnerID:    "owner-1",
		Name:       "Flow",
		Conditions: []models.TriggerCondition{{Type: models.ConditionStageEquals, Value: "new"}},
	})
	require.NoError(t, err)

	_, err = service.ReplaceConditions(ctx, "owner-1", flow.ID, []models.TriggerCondition{
		{Type: models.ConditionScoreAbove, Value: 50},
		{Type: "unknown", Value: 1},
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	stored, err := service.Get(ctx, "owner-1", flow.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.Conditions, stored.Conditions)

	replaced, err := service.ReplaceConditions(ctx, "owner-1", flow.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, replaced.Conditions)
}

func TestFlow_HealthCheck(t *testing.T) {
	service, _, _ := newTestFlowService(t)

	message, ok := service.HealthCheck(t.Context())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)
}
