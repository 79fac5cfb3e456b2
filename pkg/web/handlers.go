// Package web exposes the workflow engine over a REST API: workflow CRUD,
// manual fires, run inspection and control, trigger state, and the dead
// letter queue.
package web

import (
	"context"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/weftlabs/weft/pkg/engine"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/queue"
)

const defaultRunListLimit = 50

// TriggerControls is the slice of the trigger manager the API needs.
type TriggerControls interface {
	Fire(ctx context.Context, workflowID string, payload map[string]any) (string, error)
	Pause(ctx context.Context, triggerID string) error
	Resume(ctx context.Context, triggerID string) error
	Status(ctx context.Context, triggerID string) (*models.TriggerStatus, error)
}

type APIHandlers struct {
	engine    *engine.Engine
	triggers  TriggerControls
	queue     *queue.Queue
	validator *validator.Validate
}

func NewAPIHandlers(
	eng *engine.Engine,
	triggers TriggerControls,
	jobQueue *queue.Queue,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:    eng,
		triggers:  triggers,
		queue:     jobQueue,
		validator: validate,
	}
}

func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	workflows, err := h.engine.ListWorkflows(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows, "count": len(workflows)})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := req.toWorkflow()
	if err := h.engine.RegisterWorkflow(c.Context(), workflow); err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.engine.GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := req.toWorkflow()
	workflow.ID = c.Params("id")

	if err := h.engine.UpdateWorkflow(c.Context(), workflow); err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.engine.DeleteWorkflow(c.Context(), c.Params("id")); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// FireWorkflow injects an operator fire through the trigger manager, so
// manual fires show up in the trigger's counters like any other.
func (h *APIHandlers) FireWorkflow(c fiber.Ctx) error {
	var req FireTriggerRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	runID, err := h.triggers.Fire(c.Context(), c.Params("id"), req.Payload)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(RunCreatedResponse{RunID: runID})
}

func (h *APIHandlers) ListRuns(c fiber.Ctx) error {
	limit := defaultRunListLimit

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}

		limit = parsed
	}

	runs, err := h.engine.ListRuns(c.Context(), c.Params("id"), limit)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs, "count": len(runs)})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	detail, err := h.engine.RunStatus(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(detail)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	if err := h.engine.CancelRun(c.Context(), c.Params("id")); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) GetTrigger(c fiber.Ctx) error {
	status, err := h.triggers.Status(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(status)
}

func (h *APIHandlers) PauseTrigger(c fiber.Ctx) error {
	if err := h.triggers.Pause(c.Context(), c.Params("id")); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ResumeTrigger(c fiber.Ctx) error {
	if err := h.triggers.Resume(c.Context(), c.Params("id")); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ListDeadJobs(c fiber.Ctx) error {
	jobs, err := h.queue.DeadJobs(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"jobs": jobs, "count": len(jobs)})
}

func (h *APIHandlers) GetJobAttempts(c fiber.Ctx) error {
	attempts, err := h.queue.Attempts(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"attempts": attempts})
}

func (h *APIHandlers) RetryDeadJob(c fiber.Ctx) error {
	if err := h.queue.RetryDead(c.Context(), c.Params("id")); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) DiscardDeadJob(c fiber.Ctx) error {
	if err := h.queue.DiscardDead(c.Context(), c.Params("id")); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
