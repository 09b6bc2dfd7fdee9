// Package main provides the Autoflow API server.
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
	"github.com/dukex/autoflow/pkg/worker"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "autoflow-api",
		Usage:                 "Create and manage auto-engagement flows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Persistence URL (memory://, file://<dir> or postgres://...)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka broker addresses",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL used to broadcast execution cancellations",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.BoolFlag{
				Name:    "embedded-worker",
				Usage:   "Run a worker in the API process (required with the gochannel bus)",
				Sources: cli.EnvVars("EMBEDDED_WORKER"),
			},
			&cli.StringFlag{
				Name:    "executors-config",
				Usage:   "YAML file mapping action types to collaborator endpoints (embedded worker)",
				Sources: cli.EnvVars("EXECUTORS_CONFIG"),
			},
			&cli.DurationFlag{
				Name:    "dispatch-timeout",
				Usage:   "Upper bound on a single action dispatch (embedded worker)",
				Value:   engine.DefaultDispatchTimeout,
				Sources: cli.EnvVars("DISPATCH_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron spec of the parked execution sweeper (embedded worker)",
				Value:   engine.DefaultSweepSchedule,
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
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

			logger := log.WithModule("autoflow-api")

			logger.InfoContext(ctx, "Initializing Autoflow API")

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

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "autoflow-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
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

			if command.Bool("embedded-worker") {
				config, err := executors.LoadConfig(command.String("executors-config"))
				if err != nil {
					return err
				}

				manager, err := worker.NewWorkerManager(
					"api-"+uuid.NewString()[:8],
					persistence,
					eventBus,
					notifier,
					config.Build(logger),
					logger,
					worker.Config{
						DispatchTimeout: command.Duration("dispatch-timeout"),
						SweepSchedule:   command.String("sweep-schedule"),
					},
				)
				if err != nil {
					return err
				}

				if err := manager.Start(ctx); err != nil {
					return err
				}

				defer func() {
					stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), worker.DefaultShutdownTimeout)
					defer cancel()

					if err := manager.Stop(stopCtx); err != nil {
						logger.ErrorContext(ctx, "Failed to stop embedded worker", "error", err)
					}
				}()
			}

			api := NewAPI(logger, persistence, eventBus, notifier, nil)

			return api.Start(ctx, command.Int("port"))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		stop()
		panic(err)
	}

}
