package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/weftlabs/weft/pkg/engine"
	"github.com/weftlabs/weft/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusNotFound).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusConflict).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps engine and persistence sentinels onto problem
// responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, persistence.ErrWorkflowNotFound):
		return notFound(c, "workflow not found")
	case errors.Is(err, persistence.ErrRunNotFound):
		return notFound(c, "run not found")
	case errors.Is(err, persistence.ErrTriggerNotFound):
		return notFound(c, "trigger not found")
	case errors.Is(err, persistence.ErrJobNotFound):
		return notFound(c, "job not found")
	case errors.Is(err, persistence.ErrNotDead):
		return conflict(c, "job is not dead lettered")
	case errors.Is(err, engine.ErrWorkflowInactive):
		return conflict(c, "workflow is not active")
	case errors.Is(err, engine.ErrRunAlreadyDone):
		return conflict(c, "run already reached a terminal state")
	case errors.Is(err, engine.ErrRunLimitReached):
		problem := problems.NewStatusProblem(fiber.StatusTooManyRequests).
			WithInstance(c.Path()).
			WithType("run_limit_reached").
			WithDetail(err.Error())

		return c.Status(fiber.StatusTooManyRequests).JSON(problem)
	case errors.Is(err, engine.ErrWorkflowInvalid):
		return badRequest(c, err.Error())
	default:
		return internalError(c, err)
	}
}
