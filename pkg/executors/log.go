package executors

import (
	"context"
	"log/slog"

	"github.com/dukex/autoflow/pkg/models"
)

// LogExecutor records the action in the log instead of contacting anyone.
// It backs action types without a configured collaborator.
type LogExecutor struct {
	logger *slog.Logger
}

func NewLogExecutor(logger *slog.Logger) *LogExecutor {
	return &LogExecutor{logger: logger.With("module", "log_executor")}
}

func (e *LogExecutor) Execute(ctx context.Context, action models.Action, executionCtx models.ExecutionContext) (Result, error) {
	config, err := renderConfig(action.Config, executionCtx)
	if err != nil {
		return Result{}, &ExecutionError{ActionType: action.Type, Err: err}
	}

	e.logger.InfoContext(ctx, "Executing action",
		"execution_id", executionCtx.ExecutionID,
		"contact_id", executionCtx.ContactID,
		"action_order", action.Order,
		"action_type", action.Type,
		"config", config,
		"test_run", executionCtx.IsTestRun)

	return Result{Detail: map[string]any{"simulated": true}}, nil
}
