package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// ExecutionRepository handles execution and action log operations in memory.
type ExecutionRepository struct {
	store *Persistence
}

func (r *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	r.store.mu.Lock()

	stored := execution.Clone()
	if stored.Logs == nil {
		stored.Logs = []models.ActionLog{}
	}

	r.store.executions[execution.ID] = stored
	r.store.mu.Unlock()

	r.store.changed()

	return nil
}

func (r *ExecutionRepository) Get(_ context.Context, ownerID, id string) (*models.Execution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	execution, ok := r.store.executions[id]
	if !ok || execution.OwnerID != ownerID {
		return nil, persistence.ErrExecutionNotFound
	}

	return execution.Clone(), nil
}

func (r *ExecutionRepository) ByID(_ context.Context, id string) (*models.Execution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	execution, ok := r.store.executions[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	return execution.Clone(), nil
}

func (r *ExecutionRepository) List(_ context.Context, opts persistence.ListExecutionsOptions) ([]*models.Execution, error) {
	opts = opts.Normalize()

	r.store.mu.RLock()

	matched := make([]*models.Execution, 0)

	for _, execution := range r.store.executions {
		if !matches(execution, opts) {
			continue
		}

		clone := execution.Clone()
		clone.Logs = nil
		matched = append(matched, clone)
	}

	r.store.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *models.Execution) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}

		return cmp.Compare(b.ID, a.ID)
	})

	if opts.Offset >= len(matched) {
		return []*models.Execution{}, nil
	}

	end := min(opts.Offset+opts.Limit, len(matched))

	return matched[opts.Offset:end], nil
}

func (r *ExecutionRepository) AppendLog(_ context.Context, log *models.ActionLog) error {
	r.store.mu.Lock()

	execution, ok := r.store.executions[log.ExecutionID]
	if !ok {
		r.store.mu.Unlock()

		return persistence.ErrExecutionNotFound
	}

	if execution.Status != models.ExecutionStatusRunning {
		r.store.mu.Unlock()

		return persistence.ErrExecutionNotRunning
	}

	entry := *log
	entry.Detail = maps.Clone(log.Detail)
	execution.Logs = append(execution.Logs, entry)
	r.store.mu.Unlock()

	r.store.changed()

	return nil
}

func (r *ExecutionRepository) Park(_ context.Context, id string, order int, resumeAt time.Time) error {
	r.store.mu.Lock()

	execution, ok := r.store.executions[id]
	if !ok {
		r.store.mu.Unlock()

		return persistence.ErrExecutionNotFound
	}

	if execution.Status != models.ExecutionStatusRunning {
		r.store.mu.Unlock()

		return persistence.ErrExecutionNotRunning
	}

	execution.NextActionOrder = order
	execution.ResumeAt = &resumeAt
	r.store.mu.Unlock()

	r.store.changed()

	return nil
}

func (r *ExecutionRepository) ClaimResume(_ context.Context, id string, order int, now time.Time) (bool, error) {
	r.store.mu.Lock()

	execution, ok := r.store.executions[id]
	if !ok || execution.Status != models.ExecutionStatusRunning || execution.ResumeAt == nil ||
		execution.NextActionOrder != order || execution.ResumeAt.After(now) {
		r.store.mu.Unlock()

		return false, nil
	}

	execution.ResumeAt = nil
	r.store.mu.Unlock()

	r.store.changed()

	return true, nil
}

func (r *ExecutionRepository) DueResumptions(_ context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	r.store.mu.RLock()

	due := make([]*models.Execution, 0)

	for _, execution := range r.store.executions {
		if execution.Status == models.ExecutionStatusRunning && execution.ResumeAt != nil && !execution.ResumeAt.After(now) {
			due = append(due, execution.Clone())
		}
	}

	r.store.mu.RUnlock()

	slices.SortFunc(due, func(a, b *models.Execution) int {
		return a.ResumeAt.Compare(*b.ResumeAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (r *ExecutionRepository) Finish(_ context.Context, id string, status models.ExecutionStatus, endedAt time.Time) (bool, error) {
	r.store.mu.Lock()

	execution, ok := r.store.executions[id]
	if !ok || execution.Status != models.ExecutionStatusRunning {
		r.store.mu.Unlock()

		return false, nil
	}

	execution.Status = status
	execution.EndedAt = &endedAt
	execution.ResumeAt = nil
	r.store.mu.Unlock()

	r.store.changed()

	return true, nil
}

func (r *ExecutionRepository) ExecutionStatistics(_ context.Context, ownerID, flowID string) (*models.ExecutionStatistics, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stats := models.NewExecutionStatistics()

	for _, execution := range r.store.executions {
		if execution.OwnerID != ownerID || (flowID != "" && execution.FlowID != flowID) {
			continue
		}

		stats.Total++
		stats.ByStatus[execution.Status]++

		if execution.IsTestRun {
			stats.TestRuns++
		}
	}

	return stats, nil
}

func (r *ExecutionRepository) ActionStatistics(_ context.Context, ownerID, flowID string) (*models.ActionStatistics, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stats := models.NewActionStatistics(flowID)

	for _, execution := range r.store.executions {
		if execution.OwnerID != ownerID || execution.FlowID != flowID {
			continue
		}

		for _, log := range execution.Logs {
			counts := stats.ByType[log.ActionType]
			counts.Add(log.Outcome, 1)
			stats.ByType[log.ActionType] = counts
		}
	}

	return stats, nil
}

func matches(execution *models.Execution, opts persistence.ListExecutionsOptions) bool {
	if execution.OwnerID != opts.OwnerID {
		return false
	}

	if opts.FlowID != "" && execution.FlowID != opts.FlowID {
		return false
	}

	if opts.Status != "" && execution.Status != opts.Status {
		return false
	}

	if opts.IsTestRun != nil && execution.IsTestRun != *opts.IsTestRun {
		return false
	}

	return true
}
