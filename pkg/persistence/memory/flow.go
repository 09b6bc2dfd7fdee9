package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// FlowRepository handles flow operations in memory.
type FlowRepository struct {
	store *Persistence
}

func (r *FlowRepository) Create(_ context.Context, flow *models.Flow) error {
	r.store.mu.Lock()

	if flow.Priority == nil {
		flow.Priority = models.IntPtr(r.nextPriorityLocked(flow.OwnerID))
	} else if holder, ok := r.holderLocked(flow.OwnerID, *flow.Priority); ok {
		r.store.mu.Unlock()

		return persistence.NewFlowError("Create", flow.OwnerID, flow.ID,
			&persistence.PriorityConflictError{Priority: *flow.Priority, HolderID: holder})
	}

	r.store.flows[flow.ID] = flow.Clone()
	r.store.mu.Unlock()

	r.store.changed()

	return nil
}

func (r *FlowRepository) Get(_ context.Context, ownerID, id string) (*models.Flow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	flow, ok := r.ownedLocked(ownerID, id)
	if !ok {
		return nil, persistence.NewFlowError("Get", ownerID, id, persistence.ErrFlowNotFound)
	}

	return flow.Clone(), nil
}

func (r *FlowRepository) List(_ context.Context, opts persistence.ListFlowsOptions) ([]*models.Flow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	flows := make([]*models.Flow, 0)

	for _, flow := range r.store.flows {
		if flow.OwnerID != opts.OwnerID {
			continue
		}

		if opts.EnabledOnly && !flow.Enabled {
			continue
		}

		flows = append(flows, flow.Clone())
	}

	slices.SortFunc(flows, compareFlows)

	return flows, nil
}

func (r *FlowRepository) Update(_ context.Context, flow *models.Flow) error {
	r.store.mu.Lock()

	stored, ok := r.ownedLocked(flow.OwnerID, flow.ID)
	if !ok {
		r.store.mu.Unlock()

		return persistence.NewFlowError("Update", flow.OwnerID, flow.ID, persistence.ErrFlowNotFound)
	}

	if flow.Priority != nil {
		if holder, taken := r.holderLocked(flow.OwnerID, *flow.Priority); taken && holder != flow.ID {
			r.store.mu.Unlock()

			return persistence.NewFlowError("Update", flow.OwnerID, flow.ID,
				&persistence.PriorityConflictError{Priority: *flow.Priority, HolderID: holder})
		}
	}

	updated := flow.Clone()
	updated.Conditions = stored.Conditions
	updated.Actions = stored.Actions
	updated.CreatedAt = stored.CreatedAt

	r.store.flows[flow.ID] = updated
	r.store.mu.Unlock()

	r.store.changed()

	return nil
}

func (r *FlowRepository) Delete(_ context.Context, ownerID, id string) (bool, error) {
	r.store.mu.Lock()

	if _, ok := r.ownedLocked(ownerID, id); !ok {
		r.store.mu.Unlock()

		return false, nil
	}

	delete(r.store.flows, id)
	r.store.mu.Unlock()

	r.store.changed()

	return true, nil
}

func (r *FlowRepository) ReplaceConditions(_ context.Context, ownerID, id string, conditions []models.TriggerCondition, updatedAt time.Time) error {
	r.store.mu.Lock()

	flow, ok := r.ownedLocked(ownerID, id)
	if !ok {
		r.store.mu.Unlock()

		return persistence.NewFlowError("ReplaceConditions", ownerID, id, persistence.ErrFlowNotFound)
	}

	flow.Conditions = models.CloneConditions(conditions)
	if flow.Conditions == nil {
		flow.Conditions = []models.TriggerCondition{}
	}

	flow.UpdatedAt = updatedAt
	r.store.mu.Unlock()

	r.store.changed()

	return nil
}

func (r *FlowRepository) ReplaceActions(_ context.Context, ownerID, id string, actions []models.Action, updatedAt time.Time) error {
	r.store.mu.Lock()

	flow, ok := r.ownedLocked(ownerID, id)
	if !ok {
		r.store.mu.Unlock()

		return persistence.NewFlowError("ReplaceActions", ownerID, id, persistence.ErrFlowNotFound)
	}

	sorted := models.CloneActions(actions)
	if sorted == nil {
		sorted = []models.Action{}
	}

	models.SortActions(sorted)

	flow.Actions = sorted
	flow.UpdatedAt = updatedAt
	r.store.mu.Unlock()

	r.store.changed()

	return nil
}

func (r *FlowRepository) NextPriority(_ context.Context, ownerID string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.nextPriorityLocked(ownerID), nil
}

func (r *FlowRepository) PriorityHolder(_ context.Context, ownerID string, priority int) (string, bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	holder, ok := r.holderLocked(ownerID, priority)

	return holder, ok, nil
}

func (r *FlowRepository) ReassignPriorities(_ context.Context, ownerID string, assignments []models.PriorityAssignment, updatedAt time.Time) error {
	r.store.mu.Lock()

	batch := make(map[string]int, len(assignments))
	missing := make([]string, 0)

	for _, assignment := range assignments {
		if _, ok := r.ownedLocked(ownerID, assignment.FlowID); !ok {
			missing = append(missing, assignment.FlowID)

			continue
		}

		batch[assignment.FlowID] = assignment.Priority
	}

	if len(missing) > 0 {
		r.store.mu.Unlock()

		return &persistence.MissingFlowsError{FlowIDs: missing}
	}

	claimed := make(map[int]string, len(assignments))

	// Flows outside the batch keep their priorities, so they must not collide.
	for _, assignment := range assignments {
		if other, dup := claimed[assignment.Priority]; dup && other != assignment.FlowID {
			r.store.mu.Unlock()

			return persistence.NewFlowError("ReassignPriorities", ownerID, assignment.FlowID,
				&persistence.PriorityConflictError{Priority: assignment.Priority, HolderID: other})
		}

		claimed[assignment.Priority] = assignment.FlowID

		holder, taken := r.holderLocked(ownerID, assignment.Priority)
		if _, inBatch := batch[holder]; taken && !inBatch {
			r.store.mu.Unlock()

			return persistence.NewFlowError("ReassignPriorities", ownerID, assignment.FlowID,
				&persistence.PriorityConflictError{Priority: assignment.Priority, HolderID: holder})
		}
	}

	for flowID, priority := range batch {
		flow := r.store.flows[flowID]
		flow.Priority = models.IntPtr(priority)
		flow.UpdatedAt = updatedAt
	}

	r.store.mu.Unlock()

	r.store.changed()

	return nil
}

func (r *FlowRepository) ownedLocked(ownerID, id string) (*models.Flow, bool) {
	flow, ok := r.store.flows[id]
	if !ok || flow.OwnerID != ownerID {
		return nil, false
	}

	return flow, true
}

func (r *FlowRepository) holderLocked(ownerID string, priority int) (string, bool) {
	for _, flow := range r.store.flows {
		if flow.OwnerID == ownerID && flow.Priority != nil && *flow.Priority == priority {
			return flow.ID, true
		}
	}

	return "", false
}

func (r *FlowRepository) nextPriorityLocked(ownerID string) int {
	highest := 0

	for _, flow := range r.store.flows {
		if flow.OwnerID == ownerID && flow.Priority != nil && *flow.Priority > highest {
			highest = *flow.Priority
		}
	}

	return highest + 1
}

func compareFlows(a, b *models.Flow) int {
	switch {
	case a.Priority != nil && b.Priority == nil:
		return -1
	case a.Priority == nil && b.Priority != nil:
		return 1
	case a.Priority != nil && b.Priority != nil && *a.Priority != *b.Priority:
		return cmp.Compare(*a.Priority, *b.Priority)
	}

	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}

	return cmp.Compare(a.ID, b.ID)
}
