// Package memory provides an in-process persistence implementation for flows and executions.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// Persistence keeps all state behind one lock so every write to an owner's
// priority space is serialized. Values are cloned on the way in and out.
type Persistence struct {
	mu         sync.RWMutex
	flows      map[string]*models.Flow
	executions map[string]*models.Execution
	onChange   func()

	flowRepo      *FlowRepository
	executionRepo *ExecutionRepository
}

// Option configures a Persistence.
type Option func(*Persistence)

// WithChangeHook registers fn to run after every successful write, outside the lock.
func WithChangeHook(fn func()) Option {
	return func(p *Persistence) {
		p.onChange = fn
	}
}

func NewPersistence(opts ...Option) *Persistence {
	p := &Persistence{
		flows:      make(map[string]*models.Flow),
		executions: make(map[string]*models.Execution),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.flowRepo = &FlowRepository{store: p}
	p.executionRepo = &ExecutionRepository{store: p}

	return p
}

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return p.flowRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// Snapshot is a point-in-time copy of every stored record.
type Snapshot struct {
	Flows      []*models.Flow      `json:"flows"`
	Executions []*models.Execution `json:"executions"`
}

// Snapshot copies the current state.
func (p *Persistence) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snapshot := Snapshot{
		Flows:      make([]*models.Flow, 0, len(p.flows)),
		Executions: make([]*models.Execution, 0, len(p.executions)),
	}

	for _, flow := range p.flows {
		snapshot.Flows = append(snapshot.Flows, flow.Clone())
	}

	for _, execution := range p.executions {
		snapshot.Executions = append(snapshot.Executions, execution.Clone())
	}

	slices.SortFunc(snapshot.Flows, func(a, b *models.Flow) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(snapshot.Executions, func(a, b *models.Execution) int { return cmp.Compare(a.ID, b.ID) })

	return snapshot
}

// Restore replaces the current state with snapshot.
func (p *Persistence) Restore(snapshot Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.flows = make(map[string]*models.Flow, len(snapshot.Flows))
	for _, flow := range snapshot.Flows {
		p.flows[flow.ID] = flow.Clone()
	}

	p.executions = make(map[string]*models.Execution, len(snapshot.Executions))
	for _, execution := range snapshot.Executions {
		p.executions[execution.ID] = execution.Clone()
	}
}

func (p *Persistence) changed() {
	if p.onChange != nil {
		p.onChange()
	}
}
