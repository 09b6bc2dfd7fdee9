// Package main provides the Autoflow worker: it consumes contact events, runs
// flow executions and resumes the ones parked on a wait.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/autoflow/pkg/cmd"
	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/executors"
	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/dukex/autoflow/pkg/worker"
)

func main() {
	command := &cli.Command{
		Name:                  "autoflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker to execute flows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Persistence URL (file://<dir> or postgres://...)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka broker addresses",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL used to receive execution cancellations",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "executors-config",
				Usage:   "YAML file mapping action types to collaborator endpoints",
				Sources: cli.EnvVars("EXECUTORS_CONFIG"),
			},
			&cli.DurationFlag{
				Name:    "dispatch-timeout",
				Usage:   "Upper bound on a single action dispatch",
				Value:   engine.DefaultDispatchTimeout,
				Sources: cli.EnvVars("DISPATCH_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron spec of the parked execution sweeper",
				Value:   engine.DefaultSweepSchedule,
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.IntFlag{
				Name:    "sweep-batch-size",
				Usage:   "Parked executions claimed per sweep query",
				Value:   engine.DefaultSweepBatchSize,
				Sources: cli.EnvVars("SWEEP_BATCH_SIZE"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export dispatch traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("autoflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Autoflow Worker")

			config := worker.Config{
				DispatchTimeout: command.Duration("dispatch-timeout"),
				SweepSchedule:   command.String("sweep-schedule"),
				SweepBatchSize:  command.Int("sweep-batch-size"),
			}

			if command.Bool("otel-enabled") {
				tracer, shutdown, err := otelhelper.NewTracer(ctx, "autoflow-worker")
				if err != nil {
					return err
				}

				defer func() {
					if err := shutdown(context.WithoutCancel(ctx)); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()

				config.Tracer = tracer
			}

			executorsConfig, err := executors.LoadConfig(command.String("executors-config"))
			if err != nil {
				return err
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "autoflow-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			notifier, err := cmd.NewNotifier(ctx, command.String("redis-url"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := notifier.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close notifier", "error", err)
				}
			}()

			manager, err := worker.NewWorkerManager(
				workerID,
				persistence,
				eventBus,
				notifier,
				executorsConfig.Build(logger),
				logger,
				config,
			)
			if err != nil {
				return err
			}

			return manager.Run(ctx)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		stop()
		panic(err)
	}
}
