package services

import (
	"log/slog"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/memory"
	"github.com/dukex/autoflow/pkg/testutil"
)

func seedFlows(t *testing.T, store persistence.Persistence, ownerID string, priorities ...int) []*models.Flow {
	t.Helper()

	flows := make([]*models.Flow, len(priorities))

	for i, priority := range priorities {
		flows[i] = testutil.CreateTestFlow(ownerID, testutil.WithPriority(priority))
		require.NoError(t, store.FlowRepository().Create(t.Context(), flows[i]))
	}

	return flows
}

func priorityOf(t *testing.T, store persistence.Persistence, flow *models.Flow) int {
	t.Helper()

	stored, err := store.FlowRepository().Get(t.Context(), flow.OwnerID, flow.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Priority)

	return *stored.Priority
}

func TestPriority_NextAvailablePriority(t *testing.T) {
	store := memory.NewPersistence()
	service := NewPriority(store, clockwork.NewFakeClock(), slog.New(slog.DiscardHandler))

	next, err := service.NextAvailablePriority(t.Context(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	seedFlows(t, store, "owner-1", 2, 7)
	seedFlows(t, store, "owner-2", 40)

	next, err = service.NextAvailablePriority(t.Context(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 8, next)

	_, err = service.NextAvailablePriority(t.Context(), "")
	assert.True(t, IsValidationError(err))
}

func TestPriority_IsPriorityAvailable(t *testing.T) {
	store := memory.NewPersistence()
	service := NewPriority(store, nil, slog.New(slog.DiscardHandler))
	flows := seedFlows(t, store, "owner-1", 1)

	tests := []struct {
		name     string
		owner    string
		priority int
		exclude  string
		want     bool
	}{
		{name: "held by another flow", owner: "owner-1", priority: 1, want: false},
		{name: "held by the excluded flow", owner: "owner-1", priority: 1, exclude: flows[0].ID, want: true},
		{name: "free", owner: "owner-1", priority: 2, want: true},
		{name: "other owner's space", owner: "owner-2", priority: 1, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			available, err := service.IsPriorityAvailable(t.Context(), tt.owner, tt.priority, tt.exclude)
			require.NoError(t, err)
			assert.Equal(t, tt.want, available)
		})
	}

	_, err := service.IsPriorityAvailable(t.Context(), "owner-1", 0, "")
	assert.True(t, IsValidationError(err))
}

func TestPriority_BulkReassign_Swap(t *testing.T) {
	store := memory.NewPersistence()
	service := NewPriority(store, nil, slog.New(slog.DiscardHandler))
	flows := seedFlows(t, store, "owner-1", 1, 2, 3)

	err := service.BulkReassign(t.Context(), "owner-1", []models.PriorityAssignment{
		{FlowID: flows[0].ID, Priority: 3},
		{FlowID: flows[2].ID, Priority: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, priorityOf(t, store, flows[0]))
	assert.Equal(t, 2, priorityOf(t, store, flows[1]))
	assert.Equal(t, 1, priorityOf(t, store, flows[2]))
}

func TestPriority_BulkReassign_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		assignments func(flows, foreign []*models.Flow) []models.PriorityAssignment
		check       func(t *testing.T, err error)
	}{
		{
			name: "duplicate priority",
			assignments: func(flows, _ []*models.Flow) []models.PriorityAssignment {
				return []models.PriorityAssignment{{FlowID: flows[0].ID, Priority: 5}, {FlowID: flows[1].ID, Priority: 5}}
			},
			check: func(t *testing.T, err error) {
				assert.True(t, IsValidationError(err))
				assert.ErrorIs(t, err, ErrDuplicatePriority)
			},
		},
		{
			name: "duplicate flow",
			assignments: func(flows, _ []*models.Flow) []models.PriorityAssignment {
				return []models.PriorityAssignment{{FlowID: flows[0].ID, Priority: 5}, {FlowID: flows[0].ID, Priority: 6}}
			},
			check: func(t *testing.T, err error) {
				assert.True(t, IsValidationError(err))
				assert.ErrorIs(t, err, ErrDuplicateFlowID)
			},
		},
		{
			name: "non-positive priority",
			assignments: func(flows, _ []*models.Flow) []models.PriorityAssignment {
				return []models.PriorityAssignment{{FlowID: flows[0].ID, Priority: 0}}
			},
			check: func(t *testing.T, err error) {
				assert.True(t, IsValidationError(err))
			},
		},
		{
			name: "flow of another owner",
			assignments: func(flows, foreign []*models.Flow) []models.PriorityAssignment {
				return []models.PriorityAssignment{{FlowID: flows[0].ID, Priority: 2}, {FlowID: foreign[0].ID, Priority: 1}}
			},
			check: func(t *testing.T, err error) {
				assert.True(t, IsNotFoundError(err))
				assert.ErrorIs(t, err, ErrFlowNotFound)
			},
		},
		{
			name: "missing flow",
			assignments: func(flows, _ []*models.Flow) []models.PriorityAssignment {
				return []models.PriorityAssignment{{FlowID: flows[0].ID, Priority: 2}, {FlowID: "missing", Priority: 1}}
			},
			check: func(t *testing.T, err error) {
				assert.True(t, IsNotFoundError(err))
			},
		},
		{
			name: "priority held outside the batch",
			assignments: func(flows, _ []*models.Flow) []models.PriorityAssignment {
				return []models.PriorityAssignment{{FlowID: flows[0].ID, Priority: 2}}
			},
			check: func(t *testing.T, err error) {
				assert.True(t, IsConflictError(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewPersistence()
			service := NewPriority(store, nil, slog.New(slog.DiscardHandler))
			flows := seedFlows(t, store, "owner-1", 1, 2)
			foreign := seedFlows(t, store, "owner-2", 1)

			err := service.BulkReassign(t.Context(), "owner-1", tt.assignments(flows, foreign))
			require.Error(t, err)
			tt.check(t, err)

			assert.Equal(t, 1, priorityOf(t, store, flows[0]))
			assert.Equal(t, 2, priorityOf(t, store, flows[1]))
			assert.Equal(t, 1, priorityOf(t, store, foreign[0]))
		})
	}
}

func TestPriority_BulkReassign_Empty(t *testing.T) {
	service := NewPriority(memory.NewPersistence(), nil, slog.New(slog.DiscardHandler))

	assert.NoError(t, service.BulkReassign(t.Context(), "owner-1", nil))
}
