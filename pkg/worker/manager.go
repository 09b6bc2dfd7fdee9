// Package worker assembles the processing side of autoflow: it consumes
// contact events, runs executions and resumes parked ones.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/autoflow/pkg/automation"
	"github.com/dukex/autoflow/pkg/cancellation"
	"github.com/dukex/autoflow/pkg/conditions"
	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/executors"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/services"
)

const DefaultShutdownTimeout = 30 * time.Second

type Config struct {
	DispatchTimeout time.Duration
	SweepSchedule   string
	SweepBatchSize  int
	ShutdownTimeout time.Duration
	Tracer          trace.Tracer
	Clock           clockwork.Clock
}

type WorkerManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	notifier    cancellation.Notifier
	config      Config

	engine  *engine.Engine
	sweeper *engine.Sweeper
}

func NewWorkerManager(
	id string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	notifier cancellation.Notifier,
	set executors.Set,
	logger *slog.Logger,
	config Config,
) (*WorkerManager, error) {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	if err := set.Validate(); err != nil {
		return nil, err
	}

	logger = logger.With("module", "autoflow-worker", "worker_id", id)
	evaluator := conditions.NewEvaluator(config.Clock)

	runner := engine.New(persistence.ExecutionRepository(), set, evaluator, config.Clock, logger, engine.Config{
		DispatchTimeout: config.DispatchTimeout,
		Publisher:       eventBus,
		Tracer:          config.Tracer,
	})

	sweeper, err := engine.NewSweeper(runner, config.SweepSchedule, config.SweepBatchSize, config.Clock, logger)
	if err != nil {
		return nil, err
	}

	return &WorkerManager{
		id:          id,
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		notifier:    notifier,
		config:      config,
		engine:      runner,
		sweeper:     sweeper,
	}, nil
}

// Engine returns the engine executions run on.
func (w *WorkerManager) Engine() *engine.Engine {
	return w.engine
}

// Start subscribes to contact events and cancellation notices and starts the
// resumption sweeper. It returns once everything is listening.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	evaluator := conditions.NewEvaluator(w.config.Clock)

	handler := automation.NewHandler(
		services.NewSelector(w.persistence, evaluator, w.config.Clock, w.logger),
		services.NewFlow(w.persistence, evaluator, w.config.Clock, w.logger),
		w.engine,
		w.config.Clock,
		w.logger,
	)

	if err := handler.Register(w.eventBus); err != nil {
		return fmt.Errorf("failed to register contact event handler: %w", err)
	}

	err := w.notifier.Listen(ctx, func(ctx context.Context, executionID string) {
		if w.engine.Interrupt(ctx, executionID) {
			w.logger.InfoContext(ctx, "Interrupted cancelled execution", "execution_id", executionID)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to listen for cancellations: %w", err)
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.sweeper.Start(ctx)

	w.logger.InfoContext(ctx, "Worker started successfully")

	return nil
}

// Run starts the worker and blocks until ctx is done, then shuts down.
func (w *WorkerManager) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	w.logger.InfoContext(ctx, "Shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.ShutdownTimeout)
	defer cancel()

	return w.Stop(shutdownCtx)
}

// Stop halts the sweeper and waits for in-flight dispatches. Parked
// executions stay in the store for the next worker's sweeper.
func (w *WorkerManager) Stop(ctx context.Context) error {
	w.sweeper.Stop(ctx)

	if err := w.engine.Shutdown(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Engine did not drain before the deadline", "error", err, "active", w.engine.Active())

		return err
	}

	w.logger.InfoContext(ctx, "Worker stopped")

	return nil
}
