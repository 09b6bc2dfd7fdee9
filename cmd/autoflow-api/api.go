package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/jonboulle/clockwork"

	"github.com/dukex/autoflow/pkg/conditions"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/dukex/autoflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	notifier    services.CancelNotifier
	clock       clockwork.Clock
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	publisher eventbus.EventPublisher,
	notifier services.CancelNotifier,
	clock clockwork.Clock,
) *API {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &API{
		persistence: persistence,
		logger:      logger,
		publisher:   publisher,
		notifier:    notifier,
		clock:       clock,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	evaluator := conditions.NewEvaluator(a.clock)

	handlers := web.NewAPIHandlers(
		services.NewFlow(a.persistence, evaluator, a.clock, a.logger),
		services.NewPriority(a.persistence, a.clock, a.logger),
		services.NewExecution(a.persistence, a.notifier, a.clock, a.logger),
		services.NewStatistics(a.persistence),
		a.publisher,
		a.validate,
		a.clock,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Autoflow API")
	})

	handlers.Routes(app)

	return app
}

// Start serves until ctx is done and then shuts the server down gracefully.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	errs := make(chan error, 1)

	go func() {
		errs <- app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	a.logger.InfoContext(ctx, "API listening", "port", port)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		a.logger.InfoContext(ctx, "Shutting down API...")

		return app.ShutdownWithContext(context.WithoutCancel(ctx))
	}
}
