package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/executors"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/dukex/autoflow/pkg/persistence"
)

var (
	ErrDispatchTimeout = errors.New("dispatch timed out")
	ErrInvalidWait     = errors.New("wait action has no wait config")
)

// walk runs the actions of execution from index until the sequence ends, a
// wait parks it, or the run is interrupted. Each step is logged before the
// next one starts.
func (e *Engine) walk(r *run, execution *models.Execution, index int, results map[int]models.ActionLog) {
	defer e.wg.Done()

	ctx := r.ctx

	for i := index; i < len(execution.Actions); i++ {
		if ctx.Err() != nil {
			e.logger.InfoContext(ctx, "Walk interrupted", "execution_id", execution.ID)

			return
		}

		action := execution.Actions[i]
		executionCtx := newExecutionContext(execution, results)

		if action.Condition != nil {
			ok, err := e.evaluator.Evaluate(*action.Condition, executionCtx.Env())
			if err != nil {
				e.logger.WarnContext(ctx, "Gating condition failed to evaluate, skipping action",
					"execution_id", execution.ID,
					"action_order", action.Order,
					"error", err)
			}

			if !ok {
				detail := map[string]any{"condition_type": string(action.Condition.Type)}
				if err != nil {
					detail["error"] = err.Error()
				}

				entry, err := e.appendLog(ctx, execution, action, models.ActionOutcomeSkippedByCondition, detail)
				if err != nil {
					e.stop(ctx, execution, err)

					return
				}

				results[action.Order] = *entry

				continue
			}
		}

		var (
			outcome     models.ActionOutcome
			detail      map[string]any
			dispatchErr error
		)

		if action.Type == models.ActionWait {
			duration, ok := action.WaitDuration()
			if ok {
				e.park(r, execution, action, duration)

				return
			}

			dispatchErr = ErrInvalidWait
			outcome, detail = models.ActionOutcomeFailed, map[string]any{"error": ErrInvalidWait.Error()}

			e.logger.ErrorContext(ctx, "Wait action cannot be parked",
				"execution_id", execution.ID,
				"action_order", action.Order)
		} else {
			running, err := e.stillRunning(ctx, execution.ID)
			if err != nil || !running {
				e.stop(ctx, execution, err)

				return
			}

			outcome, detail, dispatchErr = e.dispatch(ctx, execution, action, executionCtx)
		}

		entry, err := e.appendLog(ctx, execution, action, outcome, detail)
		if err != nil {
			e.stop(ctx, execution, err)

			return
		}

		results[action.Order] = *entry

		if dispatchErr == nil {
			continue
		}

		if execution.FailurePolicy == models.FailurePolicyAbort || executors.IsFatal(dispatchErr) {
			e.logger.InfoContext(ctx, "Stopping sequence after failure",
				"execution_id", execution.ID,
				"action_order", action.Order,
				"fatal", executors.IsFatal(dispatchErr))
			e.finish(ctx, execution, models.ExecutionStatusFailed, entry)
			e.release(execution.ID)

			return
		}
	}

	status, failed := finalStatus(results)
	e.finish(ctx, execution, status, failed)
	e.release(execution.ID)
}

// dispatch sends one action to its executor under the dispatch ceiling. A
// cancelled run does not abort a call already in flight.
func (e *Engine) dispatch(
	ctx context.Context,
	execution *models.Execution,
	action models.Action,
	executionCtx models.ExecutionContext,
) (models.ActionOutcome, map[string]any, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.dispatch",
		attribute.String(otelhelper.OwnerIDKey, execution.OwnerID),
		attribute.String(otelhelper.FlowIDKey, execution.FlowID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.ContactIDKey, execution.ContactID),
		attribute.String(otelhelper.ActionTypeKey, string(action.Type)),
		attribute.Int(otelhelper.ActionOrderKey, action.Order),
		attribute.Bool(otelhelper.TestRunKey, execution.IsTestRun),
	)
	defer span.End()

	executor, err := e.executors.For(action.Type)
	if err != nil {
		otelhelper.SetError(span, err)

		return models.ActionOutcomeFailed, map[string]any{"error": err.Error()}, err
	}

	dispatchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	type response struct {
		result executors.Result
		err    error
	}

	done := make(chan response, 1)

	go func() {
		result, err := executor.Execute(dispatchCtx, action, executionCtx)
		done <- response{result: result, err: err}
	}()

	timer := e.clock.NewTimer(e.dispatchTimeout)
	defer timer.Stop()

	select {
	case resp := <-done:
		if resp.err != nil {
			detail := maps.Clone(executors.DetailOf(resp.err))
			if detail == nil {
				detail = make(map[string]any)
			}

			detail["error"] = resp.err.Error()

			if executors.IsFatal(resp.err) {
				detail["fatal"] = true
			}

			otelhelper.SetError(span, resp.err)
			e.logger.WarnContext(ctx, "Action failed",
				"execution_id", execution.ID,
				"action_order", action.Order,
				"action_type", action.Type,
				"error", resp.err)

			return models.ActionOutcomeFailed, detail, resp.err
		}

		detail := maps.Clone(resp.result.Detail)
		if detail == nil {
			detail = make(map[string]any)
		}

		otelhelper.SetOutcome(span, string(models.ActionOutcomeSuccess))

		return models.ActionOutcomeSuccess, detail, nil
	case <-timer.Chan():
		cancel()

		err := fmt.Errorf("%w after %s", ErrDispatchTimeout, e.dispatchTimeout)
		otelhelper.SetError(span, err)
		e.logger.WarnContext(ctx, "Action dispatch timed out",
			"execution_id", execution.ID,
			"action_order", action.Order,
			"action_type", action.Type,
			"timeout", e.dispatchTimeout)

		return models.ActionOutcomeFailed, map[string]any{
			"error":   ErrDispatchTimeout.Error(),
			"timeout": e.dispatchTimeout.String(),
		}, err
	}
}

// park suspends the walk on a wait action. The resumption is persisted first
// so the sweeper can pick it up if this process goes away.
func (e *Engine) park(r *run, execution *models.Execution, action models.Action, duration time.Duration) {
	resumeAt := e.clock.Now().Add(duration).UTC()

	if err := e.executions.Park(r.ctx, execution.ID, action.Order, resumeAt); err != nil {
		e.stop(r.ctx, execution, err)

		return
	}

	e.logger.InfoContext(r.ctx, "Execution parked",
		"execution_id", execution.ID,
		"action_order", action.Order,
		"resume_at", resumeAt)

	executionID, order := execution.ID, action.Order

	e.mu.Lock()
	defer e.mu.Unlock()

	if current, ok := e.runs[executionID]; !ok || current != r || e.closed {
		return
	}

	r.timer = e.clock.AfterFunc(duration, func() {
		if _, err := e.Resume(context.Background(), executionID, order); err != nil && !errors.Is(err, ErrShuttingDown) {
			e.logger.Error("Failed to resume execution", "execution_id", executionID, "error", err)
		}
	})
}

func (e *Engine) stillRunning(ctx context.Context, executionID string) (bool, error) {
	execution, err := e.executions.ByID(ctx, executionID)
	if err != nil {
		return false, err
	}

	return execution.Status == models.ExecutionStatusRunning, nil
}

// stop ends a walk that cannot go on. Executions cancelled elsewhere and
// interrupted runs are left alone; anything else is marked failed.
func (e *Engine) stop(ctx context.Context, execution *models.Execution, err error) {
	defer e.release(execution.ID)

	if err == nil || ctx.Err() != nil || persistence.IsExecutionNotRunning(err) {
		e.logger.InfoContext(ctx, "Execution no longer running, walk stopped", "execution_id", execution.ID)

		return
	}

	e.logger.ErrorContext(ctx, "Walk aborted by store error", "execution_id", execution.ID, "error", err)
	e.finish(context.WithoutCancel(ctx), execution, models.ExecutionStatusFailed, nil)
}

func (e *Engine) appendLog(
	ctx context.Context,
	execution *models.Execution,
	action models.Action,
	outcome models.ActionOutcome,
	detail map[string]any,
) (*models.ActionLog, error) {
	entry := &models.ActionLog{
		ID:          uuid.Must(uuid.NewV7()).String(),
		ExecutionID: execution.ID,
		ActionOrder: action.Order,
		ActionType:  action.Type,
		Outcome:     outcome,
		Detail:      detail,
		CreatedAt:   e.clock.Now().UTC(),
	}

	if err := e.executions.AppendLog(ctx, entry); err != nil {
		return nil, err
	}

	execution.Logs = append(execution.Logs, *entry)

	e.logger.InfoContext(ctx, "Action recorded",
		"execution_id", execution.ID,
		"action_order", action.Order,
		"action_type", action.Type,
		"outcome", outcome)

	return entry, nil
}

// finish moves the execution to a terminal status and announces it. Losing
// the race against a cancellation is not an error.
func (e *Engine) finish(ctx context.Context, execution *models.Execution, status models.ExecutionStatus, failed *models.ActionLog) {
	endedAt := e.clock.Now().UTC()

	ok, err := e.executions.Finish(ctx, execution.ID, status, endedAt)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to finish execution", "execution_id", execution.ID, "status", status, "error", err)

		return
	}

	if !ok {
		return
	}

	duration := endedAt.Sub(execution.StartedAt)

	e.logger.InfoContext(ctx, "Execution finished",
		"execution_id", execution.ID,
		"status", status,
		"duration", duration)

	base := events.NewExecutionEvent(events.ExecutionCompletedEvent, execution, endedAt)

	if status == models.ExecutionStatusCompleted {
		e.publish(ctx, execution, events.ExecutionCompleted{ExecutionEvent: base, Duration: duration})

		return
	}

	base.Type = events.ExecutionFailedEvent
	event := events.ExecutionFailed{ExecutionEvent: base, Duration: duration}

	if failed != nil {
		event.FailedActionOrder = failed.ActionOrder

		if message, ok := failed.Detail["error"].(string); ok {
			event.Error = message
		}
	}

	e.publish(ctx, execution, event)
}

// finalStatus fails the execution when the last step that actually ran
// failed. Steps skipped by their condition did not run.
func finalStatus(results map[int]models.ActionLog) (models.ExecutionStatus, *models.ActionLog) {
	var last *models.ActionLog

	for order, entry := range results {
		if entry.Outcome == models.ActionOutcomeSkippedByCondition {
			continue
		}

		if last == nil || order > last.ActionOrder {
			last = &entry
		}
	}

	if last != nil && last.Outcome == models.ActionOutcomeFailed {
		return models.ExecutionStatusFailed, last
	}

	return models.ExecutionStatusCompleted, nil
}

func newExecutionContext(execution *models.Execution, results map[int]models.ActionLog) models.ExecutionContext {
	return models.ExecutionContext{
		ExecutionID: execution.ID,
		OwnerID:     execution.OwnerID,
		FlowID:      execution.FlowID,
		ContactID:   execution.ContactID,
		EventType:   execution.EventType,
		EventData:   execution.EventData,
		IsTestRun:   execution.IsTestRun,
		StepResults: maps.Clone(results),
	}
}

func waitDetail(duration time.Duration) map[string]any {
	return map[string]any{"waited_minutes": int(duration.Minutes())}
}
