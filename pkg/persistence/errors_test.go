package persistence_test

import (
	"errors"
	"testing"

	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("flow error unwraps to sentinel", func(t *testing.T) {
		err := persistence.NewFlowError("Update", "owner-1", "flow-123", persistence.ErrFlowNotFound)

		assert.True(t, persistence.IsFlowNotFound(err))
		assert.False(t, persistence.IsPriorityTaken(err))
		assert.Contains(t, err.Error(), "Update")
		assert.Contains(t, err.Error(), "flow-123")
		assert.Contains(t, err.Error(), "flow not found")
	})

	t.Run("missing flows error lists ids", func(t *testing.T) {
		var err error = &persistence.MissingFlowsError{FlowIDs: []string{"a", "b"}}

		assert.True(t, persistence.IsFlowNotFound(err))
		assert.Contains(t, err.Error(), "a, b")

		var missing *persistence.MissingFlowsError
		assert.True(t, errors.As(err, &missing))
		assert.Equal(t, []string{"a", "b"}, missing.FlowIDs)
	})

	t.Run("priority conflict names holder", func(t *testing.T) {
		err := persistence.NewFlowError("Update", "owner-1", "flow-1",
			&persistence.PriorityConflictError{Priority: 3, HolderID: "flow-2"})

		assert.True(t, persistence.IsPriorityTaken(err))
		assert.Contains(t, err.Error(), "priority 3 already assigned to flow flow-2")
	})

	t.Run("execution sentinels", func(t *testing.T) {
		assert.True(t, persistence.IsExecutionNotFound(persistence.ErrExecutionNotFound))
		assert.True(t, persistence.IsExecutionNotRunning(persistence.ErrExecutionNotRunning))
	})
}

func TestListExecutionsOptions_Normalize(t *testing.T) {
	t.Parallel()

	opts := persistence.ListExecutionsOptions{Limit: 0, Offset: -3}.Normalize()
	assert.Equal(t, persistence.DefaultExecutionLimit, opts.Limit)
	assert.Equal(t, 0, opts.Offset)

	opts = persistence.ListExecutionsOptions{Limit: 10000}.Normalize()
	assert.Equal(t, persistence.MaxExecutionLimit, opts.Limit)
}
