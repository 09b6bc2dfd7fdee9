// Package engine runs a flow's action sequence for one triggering event. It
// records an action log entry per step, parks executions on wait actions and
// resumes them from a clock timer or the sweeper, and honours cancellation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/autoflow/pkg/conditions"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/executors"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/dukex/autoflow/pkg/persistence"
)

const DefaultDispatchTimeout = 2 * time.Minute

var ErrShuttingDown = errors.New("engine is shutting down")

type Config struct {
	// DispatchTimeout bounds a single collaborator call. Zero means DefaultDispatchTimeout.
	DispatchTimeout time.Duration

	// Publisher receives lifecycle events. Optional.
	Publisher eventbus.EventPublisher

	// Tracer records one span per dispatch. Optional.
	Tracer trace.Tracer
}

// run is the in-process handle of an execution this engine is walking or
// holding a wait timer for.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	timer  clockwork.Timer
}

type Engine struct {
	executions      persistence.ExecutionRepository
	executors       executors.Set
	evaluator       *conditions.Evaluator
	publisher       eventbus.EventPublisher
	tracer          trace.Tracer
	clock           clockwork.Clock
	dispatchTimeout time.Duration
	logger          *slog.Logger

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
	wg     sync.WaitGroup
}

func New(
	executions persistence.ExecutionRepository,
	set executors.Set,
	evaluator *conditions.Evaluator,
	clock clockwork.Clock,
	logger *slog.Logger,
	config Config,
) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if evaluator == nil {
		evaluator = conditions.NewEvaluator(clock)
	}

	if config.DispatchTimeout <= 0 {
		config.DispatchTimeout = DefaultDispatchTimeout
	}

	if config.Tracer == nil {
		config.Tracer = otelhelper.NoopTracer()
	}

	return &Engine{
		executions:      executions,
		executors:       set,
		evaluator:       evaluator,
		publisher:       config.Publisher,
		tracer:          config.Tracer,
		clock:           clock,
		dispatchTimeout: config.DispatchTimeout,
		logger:          logger.With("module", "engine"),
		runs:            make(map[string]*run),
	}
}

// Start opens a running execution for flow and walks its actions in the
// background. The returned execution is the record as first persisted.
func (e *Engine) Start(ctx context.Context, flow *models.Flow, event models.ContactEvent, isTestRun bool) (*models.Execution, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	execution := &models.Execution{
		ID:            id.String(),
		OwnerID:       flow.OwnerID,
		FlowID:        flow.ID,
		FlowName:      flow.Name,
		ContactID:     event.ContactID,
		EventType:     event.Type,
		EventData:     maps.Clone(event.Data),
		Status:        models.ExecutionStatusRunning,
		IsTestRun:     isTestRun,
		Actions:       flow.SortedActions(),
		FailurePolicy: flow.FailurePolicy,
		StartedAt:     e.clock.Now().UTC(),
		Logs:          []models.ActionLog{},
	}

	if execution.FailurePolicy == "" {
		execution.FailurePolicy = models.FailurePolicyContinue
	}

	r, ok := e.reserve(ctx, execution.ID)
	if !ok {
		return nil, ErrShuttingDown
	}

	if err := e.executions.Create(ctx, execution); err != nil {
		e.unreserve(execution.ID)

		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	e.logger.InfoContext(ctx, "Execution started",
		"execution_id", execution.ID,
		"flow_id", flow.ID,
		"contact_id", event.ContactID,
		"test_run", isTestRun)

	e.publish(ctx, execution, events.ExecutionStarted{
		ExecutionEvent: events.NewExecutionEvent(events.ExecutionStartedEvent, execution, e.clock.Now()),
		FlowName:       execution.FlowName,
	})

	started := execution.Clone()

	go e.walk(r, execution, 0, make(map[int]models.ActionLog))

	return started, nil
}

// Resume continues an execution parked on the wait at order once its time has
// come. It reports false when the wait is not due yet, another resumer already
// claimed it, or the execution is no longer running.
func (e *Engine) Resume(ctx context.Context, executionID string, order int) (bool, error) {
	return e.resume(ctx, executionID, order, e.clock.Now())
}

func (e *Engine) resume(ctx context.Context, executionID string, order int, now time.Time) (bool, error) {
	claimed, err := e.executions.ClaimResume(ctx, executionID, order, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim resumption: %w", err)
	}

	if !claimed {
		return false, nil
	}

	execution, err := e.executions.ByID(ctx, executionID)
	if err != nil {
		return false, fmt.Errorf("failed to load execution: %w", err)
	}

	r, ok := e.reserve(ctx, executionID)
	if !ok {
		// Hand the execution back to the sweeper of whichever process runs next.
		if err := e.executions.Park(context.WithoutCancel(ctx), executionID, execution.NextActionOrder, e.clock.Now()); err != nil {
			e.logger.ErrorContext(ctx, "Failed to re-park execution", "execution_id", executionID, "error", err)
		}

		return false, ErrShuttingDown
	}

	index := indexOf(execution.Actions, execution.NextActionOrder)

	var duration time.Duration

	ok = index >= 0
	if ok {
		duration, ok = execution.Actions[index].WaitDuration()
	}

	if !ok {
		e.logger.ErrorContext(ctx, "Parked action is not a wait in the snapshot",
			"execution_id", executionID,
			"action_order", execution.NextActionOrder)
		e.finish(r.ctx, execution, models.ExecutionStatusFailed, nil)
		e.unreserve(executionID)

		return true, nil
	}

	results := stepResults(execution.Logs)
	wait := execution.Actions[index]

	entry, err := e.appendLog(r.ctx, execution, wait, models.ActionOutcomeSuccess, waitDetail(duration))
	if err != nil {
		e.unreserve(executionID)

		if persistence.IsExecutionNotRunning(err) {
			return false, nil
		}

		return false, err
	}

	results[wait.Order] = *entry

	go e.walk(r, execution, index+1, results)

	return true, nil
}

// ResumeDue resumes every parked execution whose wait has elapsed at now.
func (e *Engine) ResumeDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := e.executions.DueResumptions(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list due resumptions: %w", err)
	}

	resumed := 0

	for _, execution := range due {
		ok, err := e.resume(ctx, execution.ID, execution.NextActionOrder, now)
		if err != nil {
			if errors.Is(err, ErrShuttingDown) {
				return resumed, err
			}

			e.logger.ErrorContext(ctx, "Failed to resume execution", "execution_id", execution.ID, "error", err)

			continue
		}

		if ok {
			resumed++
		}
	}

	return resumed, nil
}

// Cancel moves a running execution of owner to cancelled and stops its local
// walk. It returns nil when the execution is missing, owned by someone else,
// or already terminal.
func (e *Engine) Cancel(ctx context.Context, executionID, ownerID string) (*models.Execution, error) {
	execution, err := e.executions.Get(ctx, ownerID, executionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, nil
		}

		return nil, err
	}

	if execution.Status.IsTerminal() {
		return nil, nil
	}

	ok, err := e.executions.Finish(ctx, executionID, models.ExecutionStatusCancelled, e.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to cancel execution: %w", err)
	}

	if !ok {
		return nil, nil
	}

	e.Interrupt(ctx, executionID)

	return e.executions.Get(ctx, ownerID, executionID)
}

// Interrupt stops the local walk or pending wait timer of an execution that
// was cancelled. It reports whether this engine was handling it.
func (e *Engine) Interrupt(ctx context.Context, executionID string) bool {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	delete(e.runs, executionID)
	e.mu.Unlock()

	if !ok {
		return false
	}

	r.cancel()

	if r.timer != nil {
		r.timer.Stop()
	}

	e.logger.InfoContext(ctx, "Execution interrupted", "execution_id", executionID)

	execution, err := e.executions.ByID(ctx, executionID)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to load interrupted execution", "execution_id", executionID, "error", err)

		return true
	}

	if execution.Status == models.ExecutionStatusCancelled {
		e.publish(ctx, execution, events.ExecutionCancelled{
			ExecutionEvent: events.NewExecutionEvent(events.ExecutionCancelledEvent, execution, e.clock.Now()),
		})
	}

	return true
}

// Active reports how many executions this engine is walking or waiting on.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.runs)
}

// Shutdown stops accepting work, drops pending wait timers (their resumption
// stays persisted for the sweeper) and waits for in-flight walks. Walks still
// running when ctx expires are interrupted.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true

	for _, r := range e.runs {
		if r.timer != nil {
			r.timer.Stop()
		}
	}
	e.mu.Unlock()

	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		e.mu.Lock()
		for _, r := range e.runs {
			r.cancel()
		}
		e.mu.Unlock()

		return ctx.Err()
	}
}

// reserve registers a walk of executionID with the wait group. The walk must
// call e.wg.Done when it returns; unreserve undoes a reservation that never
// started walking. It reports false once Shutdown has begun.
func (e *Engine) reserve(ctx context.Context, executionID string) (*run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, false
	}

	r, ok := e.runs[executionID]
	if !ok {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		r = &run{ctx: runCtx, cancel: cancel}
		e.runs[executionID] = r
	}

	// A pending timer belongs to the wait being resumed now.
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}

	e.wg.Add(1)

	return r, true
}

func (e *Engine) unreserve(executionID string) {
	e.release(executionID)
	e.wg.Done()
}

// release forgets the local handle of an execution.
func (e *Engine) release(executionID string) {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	delete(e.runs, executionID)
	e.mu.Unlock()

	if ok {
		r.cancel()
	}
}

func (e *Engine) publish(ctx context.Context, execution *models.Execution, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	key := execution.OwnerID + ":" + execution.ContactID

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish lifecycle event",
			"execution_id", execution.ID,
			"event_type", event.GetType(),
			"error", err)
	}
}

func indexOf(actions []models.Action, order int) int {
	for i, action := range actions {
		if action.Order == order {
			return i
		}
	}

	return -1
}

func stepResults(logs []models.ActionLog) map[int]models.ActionLog {
	results := make(map[int]models.ActionLog, len(logs))
	for _, log := range logs {
		results[log.ActionOrder] = log
	}

	return results
}
