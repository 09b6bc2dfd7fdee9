package testutil

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// RunPersistenceContract exercises the behaviour every persistence
// implementation must share. newPersistence must return an empty store.
func RunPersistenceContract(t *testing.T, newPersistence func(t *testing.T) persistence.Persistence) {
	t.Helper()

	t.Run("flows", func(t *testing.T) { runFlowContract(t, newPersistence) })
	t.Run("priorities", func(t *testing.T) { runPriorityContract(t, newPersistence) })
	t.Run("executions", func(t *testing.T) { runExecutionContract(t, newPersistence) })
}

func runFlowContract(t *testing.T, newPersistence func(t *testing.T) persistence.Persistence) {
	t.Run("create assigns increasing priorities", func(t *testing.T) {
		repo := newPersistence(t).FlowRepository()
		ctx := t.Context()

		first := CreateTestFlow("owner-1")
		second := CreateTestFlow("owner-1")
		other := CreateTestFlow("owner-2")

		require.NoError(t, repo.Create(ctx, first))
		require.NoError(t, repo.Create(ctx, second))
		require.NoError(t, repo.Create(ctx, other))

		assert.Equal(t, 1, *first.Priority)
		assert.Equal(t, 2, *second.Priority)
		assert.Equal(t, 1, *other.Priority, "priority spaces are per owner")

		stored, err := repo.Get(ctx, "owner-1", second.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, *stored.Priority)
	})

	t.Run("create rejects a taken priority", func(t *testing.T) {
		repo := newPersistence(t).FlowRepository()
		ctx := t.Context()

		require.NoError(t, repo.Create(ctx, CreateTestFlow("owner-1", WithPriority(3))))

		err := repo.Create(ctx, CreateTestFlow("owner-1", WithPriority(3)))
		assert.ErrorIs(t, err, persistence.ErrPriorityTaken)

		flows, err := repo.List(ctx, persistence.ListFlowsOptions{OwnerID: "owner-1"})
		require.NoError(t, err)
		assert.Len(t, flows, 1)
	})

	t.Run("get is scoped by owner", func(t *testing.T) {
		repo := newPersistence(t).FlowRepository()
		ctx := t.Context()

		flow := CreateTestFlow("owner-1",
			WithConditions(models.TriggerCondition{Type: models.ConditionStageEquals, Value: "qualified"}),
			WithActions(WaitAction(2, 5), EmailAction(1)),
			WithBusinessHours("09:00:00", "18:00:00", "America/Sao_Paulo"),
		)
		require.NoError(t, repo.Create(ctx, flow))

		stored, err := repo.Get(ctx, "owner-1", flow.ID)
		require.NoError(t, err)
		assert.Equal(t, flow.Name, stored.Name)
		assert.Equal(t, flow.BusinessHours, stored.BusinessHours)
		require.Len(t, stored.Conditions, 1)
		assert.Equal(t, "qualified", stored.Conditions[0].Value)
		require.Len(t, stored.Actions, 2)
		assert.Equal(t, 1, stored.Actions[0].Order, "actions come back in order")
		assert.Equal(t, models.WaitConfig{DurationMinutes: 5}, stored.Actions[1].Config)

		_, err = repo.Get(ctx, "owner-2", flow.ID)
		assert.ErrorIs(t, err, persistence.ErrFlowNotFound)

		_, err = repo.Get(ctx, "owner-1", "missing")
		assert.ErrorIs(t, err, persistence.ErrFlowNotFound)
	})

	t.Run("list orders by priority with unassigned last", func(t *testing.T) {
		repo := newPersistence(t).FlowRepository()
		ctx := t.Context()
		base := time.Now().UTC().Truncate(time.Second)

		low := CreateTestFlow("owner-1", WithName("low"), WithPriority(5), WithCreatedAt(base))
		high := CreateTestFlow("owner-1", WithName("high"), WithPriority(1), WithCreatedAt(base.Add(time.Second)))
		unassignedOld := CreateTestFlow("owner-1", WithName("unassigned-old"), WithCreatedAt(base.Add(2*time.Second)))
		unassignedNew := CreateTestFlow("owner-1", WithName("unassigned-new"), WithCreatedAt(base.Add(3*time.Second)))
		disabled := CreateTestFlow("owner-1", WithName("disabled"), WithPriority(2), WithDisabled())

		for _, flow := range []*models.Flow{low, high, unassignedOld, unassignedNew, disabled} {
			require.NoError(t, repo.Create(ctx, flow))
		}

		for _, flow := range []*models.Flow{unassignedOld, unassignedNew} {
			flow.Priority = nil
			require.NoError(t, repo.Update(ctx, flow))
		}

		flows, err := repo.List(ctx, persistence.ListFlowsOptions{OwnerID: "owner-1", EnabledOnly: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"high", "low", "unassigned-old", "unassigned-new"}, flowNames(flows))

		all, err := repo.List(ctx, persistence.ListFlowsOptions{OwnerID: "owner-1"})
		require.NoError(t, err)
		assert.Len(t, all, 5)

		none, err := repo.List(ctx, persistence.ListFlowsOptions{OwnerID: "owner-2"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("update keeps conditions and actions", func(t *testing.T) {
		repo := newPersistence(t).FlowRepository()
		ctx := t.Context()

		flow := CreateTestFlow("owner-1", WithActions(EmailAction(1)))
		require.NoError(t, repo.Create(ctx, flow))

		flow.Name = "Renamed"
		flow.Enabled = false
		flow.Actions = nil
		flow.FailurePolicy = models.FailurePolicyAbort
		require.NoError(t, repo.Update(ctx, flow))

		stored, err := repo.Get(ctx, "owner-1", flow.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", stored.Name)
		assert.False(t, stored.Enabled)
		assert.Equal(t, models.FailurePolicyAbort, stored.FailurePolicy)
		assert.Len(t, stored.Actions, 1)

		foreign := stored.Clone()
		foreign.OwnerID = "owner-2"
		assert.ErrorIs(t, repo.Update(ctx, foreign), persistence.ErrFlowNotFound)
	})

	t.Run("update rejects a taken priority", func(t *testing.T) {
		repo := newPersistence(t).FlowRepository()
		ctx := t.Context()

		first := CreateTestFlow("owner-1")
		second := CreateTestFlow("owner-1")
		require.NoError(t, repo.Create(ctx, first))
		require.NoError(t, repo.Create(ctx, second))

		second.Priority = models.IntPtr(1)
		err := repo.Update(ctx, second)
		assert.ErrorIs(t, err, persistence.ErrPriorityTaken)

		stored, err := repo.Get(ctx, "owner-1", second.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, *stored.Priority)

		first.Name = "keeps own priority"
		assert.NoError(t, repo.Update(ctx, first))
	})

	t.Run("replace conditions and actions", func(t *testing.T) {
		repo := newPersistence(t).FlowRepository()
		ctx := t.Context()

		flow := CreateTestFlow("owner-1",
			WithConditions(models.TriggerCondition{Type: models.ConditionStageEquals, Value: "new"}),
			WithActions(EmailAction(1)),
		)
		require.NoError(t, repo.Create(ctx, flow))

		now := time.Now().UTC()

		require.NoError(t, repo.ReplaceConditions(ctx, "owner-1", flow.ID, []models.TriggerCondition{
			{Type: models.ConditionScoreAbove, Value: float64(50)},
			{Type: models.ConditionTagContains, Value: "vip"},
		}, now))
		require.NoError(t, repo.ReplaceActions(ctx, "owner-1", flow.ID, []models.Action{
			AICallAction(10), WaitAction(20, 60), WhatsAppAction(5),
		}, now))

		stored, err := repo.Get(ctx, "owner-1", flow.ID)
		require.NoError(t, err)
		require.Len(t, stored.Conditions, 2)
		assert.Equal(t, models.ConditionScoreAbove, stored.Conditions[0].Type)
		assert.Equal(t, models.ConditionTagContains, stored.Conditions[1].Type)
		assert.Equal(t, []int{5, 10, 20}, actionOrders(stored.Actions))

		require.NoError(t, repo.ReplaceConditions(ctx, "owner-1", flow.ID, nil, now))
		stored, err = repo.Get(ctx, "owner-1", flow.ID)
		require.NoError(t, err)
		assert.Empty(t, stored.Conditions)

		err = repo.ReplaceActions(ctx, "owner-2", flow.ID, nil, now)
		assert.ErrorIs(t, err, persistence.ErrFlowNotFound)
	})

	t.Run("delete keeps executions", func(t *testing.T) {
		store := newPersistence(t)
		ctx := t.Context()

		flow := CreateTestFlow("owner-1", WithActions(EmailAction(1)))
		require.NoError(t, store.FlowRepository().Create(ctx, flow))

		execution := CreateTestExecution(flow)
		require.NoError(t, store.ExecutionRepository().Create(ctx, execution))

		deleted, err := store.FlowRepository().Delete(ctx, "owner-2", flow.ID)
		require.NoError(t, err)
		assert.False(t, deleted)

		deleted, err = store.FlowRepository().Delete(ctx, "owner-1", flow.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = store.FlowRepository().Delete(ctx, "owner-1", flow.ID)
		require.NoError(t, err)
		assert.False(t, deleted)

		_, err = store.FlowRepository().Get(ctx, "owner-1", flow.ID)
		assert.ErrorIs(t, err, persistence.ErrFlowNotFound)

		kept, err := store.ExecutionRepository().Get(ctx, "owner-1", execution.ID)
		require.NoError(t, err)
		assert.Equal(t, flow.ID, kept.FlowID)
		assert.Len(t, kept.Actions, 1)
	})
}

func runPriorityContract(t *testing.T, newPersistence func(t *testing.T) persistence.Persistence) {
	t.Run("next priority and holder", func(t *testing.T) {
		repo := newPersistence(t).FlowRepository()
		ctx := t.Context()

		next, err := repo.NextPriority(ctx, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, 1, next)

		flow := CreateTestFlow("owner-1", WithPriority(7))
		require.NoError(t, repo.Create(ctx, flow))

		next, err = repo.NextPriority(ctx, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, 8, next)

		holder, ok, err := repo.PriorityHolder(ctx, "owner-1", 7)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, flow.ID, holder)

		_, ok, err = repo.PriorityHolder(ctx, "owner-2", 7)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("reassign swaps priorities atomically", func(t *testing.T) {
		repo := newPersistence(t).FlowRepository()
		ctx := t.Context()

		first := CreateTestFlow("owner-1")
		second := CreateTestFlow("owner-1")
		require.NoError(t, repo.Create(ctx, first))
		require.NoError(t, repo.Create(ctx, second))

		err := repo.ReassignPriorities(ctx, "owner-1", []models.PriorityAssignment{
			{FlowID: first.ID, Priority: 2},
			{FlowID: second.ID, Priority: 1},
		}, time.Now().UTC())
		require.NoError(t, err)

		assert.Equal(t, map[string]int{first.ID: 2, second.ID: 1}, priorities(t, repo, "owner-1"))
	})

	t.Run("reassign with a foreign flow changes nothing", func(t *testing.T) {
		repo := newPersistence(t).FlowRepository()
		ctx := t.Context()

		first := CreateTestFlow("owner-1")
		second := CreateTestFlow("owner-1")
		foreign := CreateTestFlow("owner-2")

		for _, flow := range []*models.Flow{first, second, foreign} {
			require.NoError(t, repo.Create(ctx, flow))
		}

		before := priorities(t, repo, "owner-1")

		err := repo.ReassignPriorities(ctx, "owner-1", []models.PriorityAssignment{
			{FlowID: first.ID, Priority: 10},
			{FlowID: foreign.ID, Priority: 11},
			{FlowID: "missing", Priority: 12},
		}, time.Now().UTC())
		require.ErrorIs(t, err, persistence.ErrFlowNotFound)

		var missing *persistence.MissingFlowsError
		require.ErrorAs(t, err, &missing)
		assert.ElementsMatch(t, []string{foreign.ID, "missing"}, missing.FlowIDs)
		assert.Equal(t, before, priorities(t, repo, "owner-1"))
	})

	t.Run("reassign onto a priority held outside the batch changes nothing", func(t *testing.T) {
		repo := newPersistence(t).FlowRepository()
		ctx := t.Context()

		first := CreateTestFlow("owner-1")
		second := CreateTestFlow("owner-1")
		third := CreateTestFlow("owner-1")

		for _, flow := range []*models.Flow{first, second, third} {
			require.NoError(t, repo.Create(ctx, flow))
		}

		before := priorities(t, repo, "owner-1")

		err := repo.ReassignPriorities(ctx, "owner-1", []models.PriorityAssignment{
			{FlowID: first.ID, Priority: 9},
			{FlowID: second.ID, Priority: 3},
		}, time.Now().UTC())
		assert.ErrorIs(t, err, persistence.ErrPriorityTaken)
		assert.Equal(t, before, priorities(t, repo, "owner-1"))
	})

	t.Run("concurrent creates never share a priority", func(t *testing.T) {
		repo := newPersistence(t).FlowRepository()
		ctx := t.Context()

		const workers = 12

		var wg sync.WaitGroup

		errs := make(chan error, workers)

		for i := range workers {
			wg.Add(1)

			go func() {
				defer wg.Done()

				errs <- repo.Create(ctx, CreateTestFlow("owner-1", WithName(fmt.Sprintf("flow-%d", i))))
			}()
		}

		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		seen := make(map[int]bool)
		for _, priority := range priorities(t, repo, "owner-1") {
			assert.False(t, seen[priority], "priority %d assigned twice", priority)
			seen[priority] = true
		}

		assert.Len(t, seen, workers)
	})
}

func runExecutionContract(t *testing.T, newPersistence func(t *testing.T) persistence.Persistence) {
	flow := CreateTestFlow("owner-1", WithActions(EmailAction(1), WaitAction(2, 5), EmailAction(3)))

	t.Run("create and get with logs", func(t *testing.T) {
		repo := newPersistence(t).ExecutionRepository()
		ctx := t.Context()

		execution := CreateTestExecution(flow, func(e *models.Execution) { e.IsTestRun = true })
		require.NoError(t, repo.Create(ctx, execution))

		require.NoError(t, repo.AppendLog(ctx, &models.ActionLog{
			ID: "log-1", ExecutionID: execution.ID, ActionOrder: 1, ActionType: models.ActionEmail,
			Outcome: models.ActionOutcomeSuccess, Detail: map[string]any{"message_id": "m-1"}, CreatedAt: time.Now().UTC(),
		}))
		require.NoError(t, repo.AppendLog(ctx, &models.ActionLog{
			ID: "log-2", ExecutionID: execution.ID, ActionOrder: 3, ActionType: models.ActionEmail,
			Outcome: models.ActionOutcomeFailed, Detail: map[string]any{"error": "bounced"}, CreatedAt: time.Now().UTC(),
		}))

		stored, err := repo.Get(ctx, "owner-1", execution.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusRunning, stored.Status)
		assert.True(t, stored.IsTestRun)
		assert.Equal(t, "qualified", stored.EventData["stage"])
		assert.Len(t, stored.Actions, 3)
		require.Len(t, stored.Logs, 2)
		assert.Equal(t, 1, stored.Logs[0].ActionOrder)
		assert.Equal(t, "m-1", stored.Logs[0].Detail["message_id"])
		assert.Equal(t, models.ActionOutcomeFailed, stored.Logs[1].Outcome)

		_, err = repo.Get(ctx, "owner-2", execution.ID)
		assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)

		byID, err := repo.ByID(ctx, execution.ID)
		require.NoError(t, err)
		assert.Equal(t, execution.ID, byID.ID)
	})

	t.Run("finish is compare and swap", func(t *testing.T) {
		repo := newPersistence(t).ExecutionRepository()
		ctx := t.Context()

		execution := CreateTestExecution(flow)
		require.NoError(t, repo.Create(ctx, execution))

		ok, err := repo.Finish(ctx, execution.ID, models.ExecutionStatusCancelled, time.Now().UTC())
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.Finish(ctx, execution.ID, models.ExecutionStatusCompleted, time.Now().UTC())
		require.NoError(t, err)
		assert.False(t, ok, "terminal executions never transition again")

		ok, err = repo.Finish(ctx, "missing", models.ExecutionStatusCompleted, time.Now().UTC())
		require.NoError(t, err)
		assert.False(t, ok)

		err = repo.AppendLog(ctx, &models.ActionLog{
			ID: "late", ExecutionID: execution.ID, ActionOrder: 1, ActionType: models.ActionEmail,
			Outcome: models.ActionOutcomeSuccess, CreatedAt: time.Now().UTC(),
		})
		assert.ErrorIs(t, err, persistence.ErrExecutionNotRunning)

		stored, err := repo.Get(ctx, "owner-1", execution.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
		assert.NotNil(t, stored.EndedAt)
		assert.Empty(t, stored.Logs)
	})

	t.Run("park and claim resume once", func(t *testing.T) {
		repo := newPersistence(t).ExecutionRepository()
		ctx := t.Context()
		now := time.Now().UTC().Truncate(time.Second)

		due := CreateTestExecution(flow)
		later := CreateTestExecution(flow)
		require.NoError(t, repo.Create(ctx, due))
		require.NoError(t, repo.Create(ctx, later))

		require.NoError(t, repo.Park(ctx, due.ID, 2, now.Add(-time.Minute)))
		require.NoError(t, repo.Park(ctx, later.ID, 2, now.Add(time.Hour)))

		ready, err := repo.DueResumptions(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, ready, 1)
		assert.Equal(t, due.ID, ready[0].ID)
		assert.Equal(t, 2, ready[0].NextActionOrder)

		claimed, err := repo.ClaimResume(ctx, due.ID, 1, now)
		require.NoError(t, err)
		assert.False(t, claimed, "a claim for another wait order is rejected")

		claimed, err = repo.ClaimResume(ctx, later.ID, 2, now)
		require.NoError(t, err)
		assert.False(t, claimed, "a wait that is not due cannot be claimed")

		claimed, err = repo.ClaimResume(ctx, due.ID, 2, now)
		require.NoError(t, err)
		assert.True(t, claimed)

		claimed, err = repo.ClaimResume(ctx, due.ID, 2, now)
		require.NoError(t, err)
		assert.False(t, claimed)

		ready, err = repo.DueResumptions(ctx, now, 10)
		require.NoError(t, err)
		assert.Empty(t, ready)

		ok, err := repo.Finish(ctx, later.ID, models.ExecutionStatusCancelled, now)
		require.NoError(t, err)
		require.True(t, ok)

		claimed, err = repo.ClaimResume(ctx, later.ID, 2, now.Add(2*time.Hour))
		require.NoError(t, err)
		assert.False(t, claimed, "cancelled executions never resume")

		assert.ErrorIs(t, repo.Park(ctx, later.ID, 2, now), persistence.ErrExecutionNotRunning)
	})

	t.Run("list filters and paginates", func(t *testing.T) {
		repo := newPersistence(t).ExecutionRepository()
		ctx := t.Context()
		base := time.Now().UTC().Truncate(time.Second)
		other := CreateTestFlow("owner-1")

		for i := range 4 {
			execution := CreateTestExecution(flow, func(e *models.Execution) {
				e.StartedAt = base.Add(time.Duration(i) * time.Minute)
				e.IsTestRun = i == 0
			})
			require.NoError(t, repo.Create(ctx, execution))

			if i == 1 {
				_, err := repo.Finish(ctx, execution.ID, models.ExecutionStatusCompleted, base)
				require.NoError(t, err)
			}
		}

		require.NoError(t, repo.Create(ctx, CreateTestExecution(other)))
		require.NoError(t, repo.Create(ctx, CreateTestExecution(CreateTestFlow("owner-2"))))

		all, err := repo.List(ctx, persistence.ListExecutionsOptions{OwnerID: "owner-1"})
		require.NoError(t, err)
		assert.Len(t, all, 5)

		byFlow, err := repo.List(ctx, persistence.ListExecutionsOptions{OwnerID: "owner-1", FlowID: flow.ID})
		require.NoError(t, err)
		require.Len(t, byFlow, 4)
		assert.True(t, byFlow[0].StartedAt.After(byFlow[3].StartedAt), "newest first")
		assert.Empty(t, byFlow[0].Logs)

		completed, err := repo.List(ctx, persistence.ListExecutionsOptions{OwnerID: "owner-1", Status: models.ExecutionStatusCompleted})
		require.NoError(t, err)
		assert.Len(t, completed, 1)

		testRun := true
		testRuns, err := repo.List(ctx, persistence.ListExecutionsOptions{OwnerID: "owner-1", IsTestRun: &testRun})
		require.NoError(t, err)
		assert.Len(t, testRuns, 1)

		page, err := repo.List(ctx, persistence.ListExecutionsOptions{OwnerID: "owner-1", FlowID: flow.ID, Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, byFlow[2].ID, page[0].ID)
	})

	t.Run("statistics", func(t *testing.T) {
		repo := newPersistence(t).ExecutionRepository()
		ctx := t.Context()
		now := time.Now().UTC()

		outcomes := [][]models.ActionOutcome{
			{models.ActionOutcomeSuccess, models.ActionOutcomeSuccess},
			{models.ActionOutcomeFailed, models.ActionOutcomeSkippedByCondition},
		}

		for i, run := range outcomes {
			execution := CreateTestExecution(flow, func(e *models.Execution) { e.IsTestRun = i == 1 })
			require.NoError(t, repo.Create(ctx, execution))

			for j, outcome := range run {
				actionType := models.ActionEmail
				if j == 1 {
					actionType = models.ActionWait
				}

				require.NoError(t, repo.AppendLog(ctx, &models.ActionLog{
					ID: fmt.Sprintf("%s-%d", execution.ID, j), ExecutionID: execution.ID, ActionOrder: j + 1,
					ActionType: actionType, Outcome: outcome, CreatedAt: now,
				}))
			}

			_, err := repo.Finish(ctx, execution.ID, models.ExecutionStatusCompleted, now)
			require.NoError(t, err)
		}

		require.NoError(t, repo.Create(ctx, CreateTestExecution(CreateTestFlow("owner-1"))))

		stats, err := repo.ExecutionStatistics(ctx, "owner-1", "")
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Total)
		assert.Equal(t, 1, stats.TestRuns)
		assert.Equal(t, 2, stats.ByStatus[models.ExecutionStatusCompleted])
		assert.Equal(t, 1, stats.ByStatus[models.ExecutionStatusRunning])
		assert.Equal(t, 0, stats.ByStatus[models.ExecutionStatusCancelled])

		flowStats, err := repo.ExecutionStatistics(ctx, "owner-1", flow.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, flowStats.Total)

		actions, err := repo.ActionStatistics(ctx, "owner-1", flow.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeCounts{Total: 2, Success: 1, Failed: 1}, actions.ByType[models.ActionEmail])
		assert.Equal(t, models.OutcomeCounts{Total: 2, Success: 1, Skipped: 1}, actions.ByType[models.ActionWait])
		assert.Equal(t, models.OutcomeCounts{}, actions.ByType[models.ActionAICall])

		foreign, err := repo.ActionStatistics(ctx, "owner-2", flow.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeCounts{}, foreign.ByType[models.ActionEmail])
	})
}

func priorities(t *testing.T, repo persistence.FlowRepository, ownerID string) map[string]int {
	t.Helper()

	flows, err := repo.List(t.Context(), persistence.ListFlowsOptions{OwnerID: ownerID})
	require.NoError(t, err)

	result := make(map[string]int, len(flows))

	for _, flow := range flows {
		if flow.Priority != nil {
			result[flow.ID] = *flow.Priority
		}
	}

	return result
}

func flowNames(flows []*models.Flow) []string {
	names := make([]string, len(flows))
	for i, flow := range flows {
		names[i] = flow.Name
	}

	return names
}

func actionOrders(actions []models.Action) []int {
	orders := make([]int, len(actions))
	for i, action := range actions {
		orders[i] = action.Order
	}

	return orders
}
