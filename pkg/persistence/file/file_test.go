package file

import (
	"log/slog"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/testutil"
)

func newTestPersistence(t *testing.T, root string) *Persistence {
	t.Helper()

	fp, err := NewPersistence(slog.New(slog.DiscardHandler), root)
	require.NoError(t, err)

	return fp
}

func TestPersistenceContract(t *testing.T) {
	testutil.RunPersistenceContract(t, func(t *testing.T) persistence.Persistence {
		return newTestPersistence(t, t.TempDir())
	})
}

func TestPersistence_SurvivesRestart(t *testing.T) {
	ctx := t.Context()
	root := "file://" + t.TempDir()

	first := newTestPersistence(t, root)

	flow := testutil.CreateTestFlow("owner-1",
		testutil.WithActions(testutil.AICallAction(1), testutil.WaitAction(2, 30)),
		testutil.WithConditions(models.TriggerCondition{Type: models.ConditionScoreAbove, Value: 70}),
	)
	require.NoError(t, first.FlowRepository().Create(ctx, flow))

	execution := testutil.CreateTestExecution(flow)
	require.NoError(t, first.ExecutionRepository().Create(ctx, execution))
	require.NoError(t, first.Close(ctx))

	second := newTestPersistence(t, root)

	stored, err := second.FlowRepository().Get(ctx, "owner-1", flow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AICallConfig{AgentID: "agent-1", FromNumberID: "number-1"}, stored.Actions[0].Config)
	assert.InDelta(t, 70, stored.Conditions[0].Value, 0)
	assert.Equal(t, 1, *stored.Priority)

	_, err = second.ExecutionRepository().Get(ctx, "owner-1", execution.ID)
	require.NoError(t, err)
}

func TestPersistence_DeleteRemovesFile(t *testing.T) {
	ctx := t.Context()
	root := t.TempDir()
	fp := newTestPersistence(t, root)

	flow := testutil.CreateTestFlow("owner-1")
	require.NoError(t, fp.FlowRepository().Create(ctx, flow))

	_, err := os.Stat(path.Join(root, flowsDir, flow.ID+".json"))
	require.NoError(t, err)

	deleted, err := fp.FlowRepository().Delete(ctx, "owner-1", flow.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = os.Stat(path.Join(root, flowsDir, flow.ID+".json"))
	assert.True(t, os.IsNotExist(err))
}

func TestPersistence_HealthCheck(t *testing.T) {
	root := path.Join(t.TempDir(), "store")
	fp := newTestPersistence(t, root)

	require.NoError(t, fp.HealthCheck(t.Context()))
	require.NoError(t, os.RemoveAll(root))
	assert.Error(t, fp.HealthCheck(t.Context()))
}
