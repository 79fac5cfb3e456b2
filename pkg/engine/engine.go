// Package engine implements the engine core: workflow registration and
// versioning, run admission, and run-level control operations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/weftlabs/weft/pkg/conditions"
	"github.com/weftlabs/weft/pkg/eventbus"
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/graph"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/persistence"
	"github.com/weftlabs/weft/pkg/queue"
	"github.com/weftlabs/weft/pkg/registry"
)

var (
	ErrWorkflowInvalid   = errors.New("workflow definition invalid")
	ErrWorkflowInactive  = errors.New("workflow is not active")
	ErrRunLimitReached   = errors.New("workflow concurrent run limit reached")
	ErrRunAlreadyDone    = errors.New("run already reached a terminal status")
	ErrActionTypeMissing = errors.New("action node requires an action_type")
	ErrConditionMissing  = errors.New("condition node requires a condition expression")
	ErrTriggerMissing    = errors.New("workflow requires a trigger")
)

// TriggerController is the slice of the trigger manager the engine calls
// back into after workflow mutations.
type TriggerController interface {
	Reload(ctx context.Context, workflowID string) error
	Remove(ctx context.Context, workflowID string) error
}

// RunDetail is the full status view of one run.
type RunDetail struct {
	Run      *models.WorkflowRun `json:"run"`
	NodeRuns []*models.NodeRun   `json:"node_runs"`
}

type Engine struct {
	persistence persistence.Persistence
	queue       *queue.Queue
	conditions  *conditions.Engine
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
	validator   *validator.Validate
	logger      *slog.Logger

	triggerController TriggerController
}

func NewEngine(
	store persistence.Persistence,
	jobQueue *queue.Queue,
	conditionEngine *conditions.Engine,
	reg *registry.Registry,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		persistence: store,
		queue:       jobQueue,
		conditions:  conditionEngine,
		registry:    reg,
		publisher:   publisher,
		validator:   validator.New(),
		logger:      logger.With("module", "engine"),
	}
}

// SetTriggerController wires the trigger manager in after construction; the
// manager needs the engine as its run starter, so the two are linked late.
func (e *Engine) SetTriggerController(controller TriggerController) {
	e.triggerController = controller
}

// RegisterWorkflow validates and persists a new workflow as version 1 and
// creates its trigger record.
func (e *Engine) RegisterWorkflow(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusActive
	}

	now := time.Now().UTC()
	workflow.Version = 1
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if err := e.validateWorkflow(workflow); err != nil {
		return err
	}

	if err := e.persistence.Workflows().Save(ctx, workflow); err != nil {
		return err
	}

	trigger := &models.Trigger{
		ID:            uuid.New().String(),
		WorkflowID:    workflow.ID,
		Type:          workflow.Trigger.Type,
		State:         models.TriggerStateActive,
		Configuration: workflow.Trigger.Configuration,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := e.persistence.Triggers().Save(ctx, trigger); err != nil {
		return err
	}

	e.reloadTrigger(ctx, workflow.ID)

	e.logger.InfoContext(ctx, "Workflow registered",
		"workflow_id", workflow.ID, "name", workflow.Name, "trigger_type", trigger.Type)

	return nil
}

// UpdateWorkflow persists an edit as a new immutable version. Runs already
// in flight keep executing their pinned version.
func (e *Engine) UpdateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	existing, err := e.persistence.Workflows().GetByID(ctx, workflow.ID)
	if err != nil {
		return err
	}

	workflow.Version = existing.Version + 1
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()

	if workflow.Status == "" {
		workflow.Status = existing.Status
	}

	if err := e.validateWorkflow(workflow); err != nil {
		return err
	}

	if err := e.persistence.Workflows().Save(ctx, workflow); err != nil {
		return err
	}

	trigger, err := e.persistence.Triggers().GetByWorkflowID(ctx, workflow.ID)
	if err != nil {
		return err
	}

	trigger.Type = workflow.Trigger.Type
	trigger.Configuration = workflow.Trigger.Configuration
	trigger.UpdatedAt = workflow.UpdatedAt

	if err := e.persistence.Triggers().Save(ctx, trigger); err != nil {
		return err
	}

	e.reloadTrigger(ctx, workflow.ID)

	e.logger.InfoContext(ctx, "Workflow updated",
		"workflow_id", workflow.ID, "version", workflow.Version)

	return nil
}

// DeleteWorkflow removes the trigger, cancels in-flight runs, and
// soft-deletes the definition. Version snapshots and run history remain.
func (e *Engine) DeleteWorkflow(ctx context.Context, workflowID string) error {
	if _, err := e.persistence.Workflows().GetByID(ctx, workflowID); err != nil {
		return err
	}

	if e.triggerController != nil {
		if err := e.triggerController.Remove(ctx, workflowID); err != nil &&
			!errors.Is(err, persistence.ErrTriggerNotFound) {
			return err
		}
	}

	runs, err := e.persistence.Runs().ListByWorkflow(ctx, workflowID, 0)
	if err != nil {
		return err
	}

	for _, run := range runs {
		if run.Status.Terminal() {
			continue
		}

		if err := e.CancelRun(ctx, run.ID); err != nil {
			e.logger.WarnContext(ctx, "Failed to cancel run during workflow delete",
				"run_id", run.ID, "error", err)
		}
	}

	if err := e.persistence.Workflows().Delete(ctx, workflowID); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", workflowID)

	return nil
}

func (e *Engine) GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return e.persistence.Workflows().GetByID(ctx, workflowID)
}

func (e *Engine) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	return e.persistence.Workflows().GetAll(ctx)
}

// StartRunFromTrigger admits an accepted trigger event: entry conditions are
// evaluated against the payload, the concurrency cap is enforced, and an
// admitted run is made durable before anything executes it. Returns an empty
// run ID when entry conditions reject the event.
func (e *Engine) StartRunFromTrigger(ctx context.Context, workflowID string, event *models.TriggerEvent) (string, error) {
	workflow, err := e.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return "", err
	}

	if workflow.Status != models.WorkflowStatusActive {
		return "", ErrWorkflowInactive
	}

	runContext := models.NewRunContext(event.Payload, workflow.Variables)

	if workflow.EntryConditions != nil {
		accepted, err := e.conditions.Evaluate(ctx, workflow.EntryConditions, runContext)
		if err != nil {
			return "", fmt.Errorf("entry condition evaluation failed: %w", err)
		}

		if !accepted {
			e.logger.DebugContext(ctx, "Trigger event rejected by entry conditions",
				"workflow_id", workflowID, "trigger_event_id", event.ID)

			return "", nil
		}
	}

	if workflow.Settings.MaxConcurrentRuns > 0 {
		active, err := e.persistence.Runs().CountActive(ctx, workflowID)
		if err != nil {
			return "", err
		}

		if active >= workflow.Settings.MaxConcurrentRuns {
			return "", ErrRunLimitReached
		}
	}

	run := &models.WorkflowRun{
		ID:              uuid.New().String(),
		WorkflowID:      workflowID,
		WorkflowVersion: workflow.Version,
		TriggerEventID:  event.ID,
		Status:          models.RunStatusPending,
		Context:         runContext,
		CreatedAt:       time.Now().UTC(),
	}

	if err := e.persistence.Runs().Create(ctx, run); err != nil {
		return "", err
	}

	if _, err := e.queue.EnqueueRun(ctx, run, 0); err != nil {
		return "", err
	}

	return run.ID, nil
}

// CancelRun cancels a pending run immediately; a running run gets its cancel
// flag set and the executor stops at the next node boundary.
func (e *Engine) CancelRun(ctx context.Context, runID string) error {
	run, err := e.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status.Terminal() {
		return ErrRunAlreadyDone
	}

	if err := e.queue.CancelPending(ctx, runID); err != nil {
		return err
	}

	if run.Status == models.RunStatusPending {
		now := time.Now().UTC()
		run.Status = models.RunStatusCancelled
		run.FinishedAt = &now

		if err := e.persistence.Runs().Update(ctx, run); err != nil {
			return err
		}

		cancelled := events.RunCancelled{
			BaseEvent: events.NewBaseEvent(events.RunCancelledEvent, run.WorkflowID),
			RunID:     run.ID,
		}
		if err := e.publisher.Publish(ctx, run.WorkflowID, cancelled); err != nil {
			e.logger.WarnContext(ctx, "Failed to publish run cancelled event", "run_id", runID, "error", err)
		}

		return nil
	}

	return e.persistence.Runs().RequestCancel(ctx, runID)
}

func (e *Engine) RunStatus(ctx context.Context, runID string) (*RunDetail, error) {
	run, err := e.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	nodeRuns, err := e.persistence.Runs().NodeRuns(ctx, runID)
	if err != nil {
		return nil, err
	}

	return &RunDetail{Run: run, NodeRuns: nodeRuns}, nil
}

func (e *Engine) ListRuns(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowRun, error) {
	return e.persistence.Runs().ListByWorkflow(ctx, workflowID, limit)
}

func (e *Engine) validateWorkflow(workflow *models.Workflow) error {
	if err := e.checkWorkflow(workflow); err != nil {
		return fmt.Errorf("%w: %w", ErrWorkflowInvalid, err)
	}

	return nil
}

func (e *Engine) checkWorkflow(workflow *models.Workflow) error {
	if err := e.validator.Struct(workflow); err != nil {
		return fmt.Errorf("workflow validation failed: %w", err)
	}

	if workflow.Trigger == nil {
		return ErrTriggerMissing
	}

	if err := e.registry.ValidateTriggerConfig(workflow.Trigger.Type, workflow.Trigger.Configuration); err != nil {
		return fmt.Errorf("trigger config invalid: %w", err)
	}

	if _, err := graph.Build(workflow.Nodes, workflow.Edges); err != nil {
		return fmt.Errorf("workflow graph invalid: %w", err)
	}

	if workflow.EntryConditions != nil {
		if err := conditions.Validate(workflow.EntryConditions); err != nil {
			return fmt.Errorf("entry conditions invalid: %w", err)
		}
	}

	for _, node := range workflow.Nodes {
		switch node.Type {
		case models.NodeTypeAction:
			if node.ActionType == "" {
				return fmt.Errorf("node %s: %w", node.ID, ErrActionTypeMissing)
			}

			if err := e.registry.ValidateActionConfig(node.ActionType, node.Config); err != nil {
				return fmt.Errorf("node %s config invalid: %w", node.ID, err)
			}
		case models.NodeTypeCondition:
			if node.Condition == nil {
				return fmt.Errorf("node %s: %w", node.ID, ErrConditionMissing)
			}
		case models.NodeTypeJunction:
			// Junctions only synchronize branches; nothing to validate.
		}

		if node.Condition != nil {
			if err := conditions.Validate(node.Condition); err != nil {
				return fmt.Errorf("node %s condition invalid: %w", node.ID, err)
			}
		}
	}

	for _, edge := range workflow.Edges {
		if edge.Guard == nil {
			continue
		}

		if err := conditions.Validate(edge.Guard); err != nil {
			return fmt.Errorf("edge %s->%s guard invalid: %w", edge.From, edge.To, err)
		}
	}

	return nil
}

func (e *Engine) reloadTrigger(ctx context.Context, workflowID string) {
	if e.triggerController == nil {
		return
	}

	if err := e.triggerController.Reload(ctx, workflowID); err != nil {
		e.logger.WarnContext(ctx, "Failed to reload trigger", "workflow_id", workflowID, "error", err)
	}
}
