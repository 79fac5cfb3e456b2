package web

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/weftlabs/weft/pkg/engine"
	"github.com/weftlabs/weft/pkg/persistence"
	"github.com/weftlabs/weft/pkg/queue"
)

type API struct {
	logger      *slog.Logger
	engine      *engine.Engine
	triggers    TriggerControls
	queue       *queue.Queue
	persistence persistence.Persistence
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	eng *engine.Engine,
	triggers TriggerControls,
	jobQueue *queue.Queue,
	store persistence.Persistence,
) *API {
	return &API{
		logger:      logger.With("module", "api"),
		engine:      eng,
		triggers:    triggers,
		queue:       jobQueue,
		persistence: store,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := NewAPIHandlers(a.engine, a.triggers, a.queue, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/health", func(c fiber.Ctx) error {
		if err := a.persistence.HealthCheck(c.Context()); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"status": "unhealthy", "error": err.Error(), "timestamp": time.Now().UTC(),
			})
		}

		return c.JSON(fiber.Map{"status": "healthy", "timestamp": time.Now().UTC()})
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.ListWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Put("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/trigger", handlers.FireWorkflow)
	w.Get("/:id/runs", handlers.ListRuns)

	r := app.Group("/runs")
	r.Get("/:id", handlers.GetRun)
	r.Post("/:id/cancel", handlers.CancelRun)

	t := app.Group("/triggers")
	t.Get("/:id", handlers.GetTrigger)
	t.Post("/:id/pause", handlers.PauseTrigger)
	t.Post("/:id/resume", handlers.ResumeTrigger)

	j := app.Group("/jobs")
	j.Get("/dead", handlers.ListDeadJobs)
	j.Get("/:id/attempts", handlers.GetJobAttempts)
	j.Post("/dead/:id/retry", handlers.RetryDeadJob)
	j.Delete("/dead/:id", handlers.DiscardDeadJob)

	return app
}

func (a *API) Start(port int) error {
	a.logger.Info("Starting API server", "port", port)

	return a.App().Listen(":" + strconv.Itoa(port))
}
