// Package worker runs claimed jobs: it walks the workflow DAG in dependency
// order, executes actions with per-node retry, breaker, and rate limiting,
// and records the full execution history.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/pkg/conditions"
	"github.com/weftlabs/weft/pkg/eventbus"
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/graph"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/persistence"
	"github.com/weftlabs/weft/pkg/protocol"
	"github.com/weftlabs/weft/pkg/registry"
	"github.com/weftlabs/weft/pkg/resilience"
	"github.com/weftlabs/weft/pkg/template"
)

var errRunCancelled = errors.New("run cancelled")

// Executor turns one claimed job into a finished run.
type Executor struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	conditions  *conditions.Engine
	breakers    *resilience.BreakerSet
	limiter     *resilience.RateLimiter
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

func NewExecutor(
	store persistence.Persistence,
	reg *registry.Registry,
	conditionEngine *conditions.Engine,
	breakers *resilience.BreakerSet,
	limiter *resilience.RateLimiter,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		persistence: store,
		registry:    reg,
		conditions:  conditionEngine,
		breakers:    breakers,
		limiter:     limiter,
		publisher:   publisher,
		logger:      logger.With("module", "executor"),
	}
}

// ExecuteRun drives a run to a terminal status. A returned error means the
// queue should retry or dead-letter the job; completed, cancelled, and timed
// out runs complete their job, while a failed run dead-letters it so the
// failure stays visible in the manual-retry queue.
//
// A panic in an action or in the executor itself is recovered, reported as
// an engine.error event, and dead-letters the job instead of taking the
// worker down.
func (ex *Executor) ExecuteRun(ctx context.Context, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ex.logger.ErrorContext(ctx, "Recovered panic while executing run",
				"run_id", job.RunID, "job_id", job.ID, "panic", r)
			ex.publish(ctx, job.WorkflowID, events.EngineError{
				BaseEvent: events.NewBaseEvent(events.EngineErrorEvent, job.WorkflowID),
				RunID:     job.RunID,
				JobID:     job.ID,
				Scope:     "executor",
				Error:     fmt.Sprintf("panic: %v", r),
				Attempt:   job.Attempts,
			})

			err = models.NewExecutionError(models.ErrorCategoryPermanent,
				"run execution panicked", fmt.Errorf("panic: %v", r))
		}
	}()

	run, err := ex.persistence.Runs().GetByID(ctx, job.RunID)
	if err != nil {
		return models.NewExecutionError(models.ErrorCategoryPermanent, "run not found", err)
	}

	if run.Status.Terminal() {
		// A stale lock reclaim can hand out a job whose run already finished.
		return nil
	}

	cancelRequested, err := ex.persistence.Runs().CancelRequested(ctx, run.ID)
	if err == nil && cancelRequested {
		return ex.finishCancelled(ctx, run)
	}

	workflow, err := ex.persistence.Workflows().GetVersion(ctx, run.WorkflowID, run.WorkflowVersion)
	if err != nil {
		return models.NewExecutionError(models.ErrorCategoryPermanent, "workflow version not found", err)
	}

	dag, err := graph.Build(workflow.Nodes, workflow.Edges)
	if err != nil {
		return models.NewExecutionError(models.ErrorCategoryPermanent, "workflow graph invalid", err)
	}

	if run.Context == nil {
		run.Context = models.NewRunContext(nil, workflow.Variables)
	}

	startedAt := time.Now().UTC()

	if run.Status == models.RunStatusPending {
		run.Status = models.RunStatusRunning
		run.StartedAt = &startedAt

		if err := ex.persistence.Runs().Update(ctx, run); err != nil {
			return models.NewExecutionError(models.ErrorCategoryTransient, "failed to mark run running", err)
		}

		ex.publish(ctx, run.WorkflowID, events.RunStarted{
			BaseEvent:       events.NewBaseEvent(events.RunStartedEvent, run.WorkflowID),
			RunID:           run.ID,
			WorkflowVersion: run.WorkflowVersion,
		})
	}

	runCtx := ctx

	var cancel context.CancelFunc
	if workflow.Settings.TimeoutMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(workflow.Settings.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	execErr := ex.executeGraph(runCtx, dag, workflow, run)

	switch {
	case execErr == nil:
		return ex.finishCompleted(ctx, run, dag, startedAt)
	case errors.Is(execErr, errRunCancelled):
		return ex.finishCancelled(ctx, run)
	case errors.Is(execErr, context.DeadlineExceeded) && runCtx.Err() != nil && ctx.Err() == nil:
		return ex.finishTimedOut(ctx, run, workflow.Settings.TimeoutMs)
	default:
		var nodeErr *nodeFailure
		if errors.As(execErr, &nodeErr) {
			if err := ex.finishFailed(ctx, run, nodeErr, startedAt); err != nil {
				return err
			}

			// The run is terminal; the permanent category dead-letters the
			// job so the failure surfaces in the manual-retry queue.
			return models.NewExecutionError(models.ErrorCategoryPermanent, "run failed", nodeErr)
		}

		// Infrastructure error: surface it to the queue for job retry.
		return execErr
	}
}

// nodeFailure marks a run-terminating node failure under the stop policy.
type nodeFailure struct {
	NodeID   string
	Category models.ErrorCategory
	Err      error
}

func (f *nodeFailure) Error() string {
	return fmt.Sprintf("node %s failed: %v", f.NodeID, f.Err)
}

func (f *nodeFailure) Unwrap() error {
	return f.Err
}

func (ex *Executor) executeGraph(ctx context.Context, dag *graph.Graph, workflow *models.Workflow, run *models.WorkflowRun) error {
	if workflow.Settings.ExecutionMode == models.ExecutionModeParallel {
		return ex.executeParallel(ctx, dag, workflow, run)
	}

	var mu sync.Mutex

	for _, idx := range dag.Order() {
		cancelRequested, err := ex.persistence.Runs().CancelRequested(ctx, run.ID)
		if err == nil && cancelRequested {
			return errRunCancelled
		}

		if err := ex.processNode(ctx, dag, workflow, run, idx, &mu); err != nil {
			return err
		}
	}

	return nil
}

func (ex *Executor) executeParallel(ctx context.Context, dag *graph.Graph, workflow *models.Workflow, run *models.WorkflowRun) error {
	maxParallel := workflow.Settings.MaxParallelNodes
	if maxParallel <= 0 {
		maxParallel = 4
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)

	sem := make(chan struct{}, maxParallel)

	decided := make([]chan struct{}, dag.Len())
	for i := range decided {
		decided[i] = make(chan struct{})
	}

	execCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	fail := func(err error) {
		once.Do(func() {
			firstErr = err

			cancelAll()
		})
	}

	for _, idx := range dag.Order() {
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()
			defer close(decided[idx])

			// A panic here would escape the recover on the worker's
			// goroutine, so convert it into the run's first error.
			defer func() {
				if r := recover(); r != nil {
					fail(fmt.Errorf("node %q panicked: %v", dag.Node(idx).ID, r))
				}
			}()

			for _, pred := range dag.Predecessors(idx) {
				select {
				case <-decided[pred]:
				case <-execCtx.Done():
					return
				}
			}

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-execCtx.Done():
				return
			}

			if execCtx.Err() != nil {
				return
			}

			if err := ex.processNode(execCtx, dag, workflow, run, idx, &mu); err != nil {
				fail(err)
			}
		}(idx)
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	return nil
}

// processNode decides whether one node runs, then runs it. Predecessors are
// guaranteed to be decided already. The mutex guards the shared run context.
func (ex *Executor) processNode(ctx context.Context, dag *graph.Graph, workflow *models.Workflow, run *models.WorkflowRun, idx int, mu *sync.Mutex) error {
	node := dag.Node(idx)

	mu.Lock()
	existing, resumed := run.Context.Nodes[node.ID]
	mu.Unlock()

	// A retried job resumes: nodes that already reached a final status keep
	// their recorded outcome instead of re-executing.
	if resumed && existing.Status != models.NodeRunStatusFailed {
		return nil
	}

	status, runnable := ex.admitNode(dag, run, idx, mu)
	if !runnable {
		mu.Lock()
		run.Context.RecordNode(node.ID, status, nil)
		mu.Unlock()

		ex.appendNodeRun(ctx, &models.NodeRun{
			ID:        uuid.New().String(),
			RunID:     run.ID,
			NodeID:    node.ID,
			Attempt:   1,
			Status:    status,
			StartedAt: time.Now().UTC(),
		})

		return nil
	}

	switch node.Type {
	case models.NodeTypeJunction:
		mu.Lock()
		run.Context.RecordNode(node.ID, models.NodeRunStatusCompleted, nil)
		mu.Unlock()

		return nil
	case models.NodeTypeCondition:
		return ex.processConditionNode(ctx, run, node, mu)
	default:
		return ex.processActionNode(ctx, workflow, run, node, mu)
	}
}

// admitNode classifies a node before execution: runnable, skipped (no live
// inbound edge), or filtered (cut off by a false condition node upstream).
func (ex *Executor) admitNode(dag *graph.Graph, run *models.WorkflowRun, idx int, mu *sync.Mutex) (models.NodeRunStatus, bool) {
	preds := dag.Predecessors(idx)

	if len(preds) == 0 {
		return "", true
	}

	mu.Lock()
	defer mu.Unlock()

	live := 0
	filtered := false
	inbound := dag.InboundEdges(idx)

	for _, edge := range inbound {
		predResult, ok := run.Context.Nodes[edge.From]
		if !ok {
			continue
		}

		switch predResult.Status {
		case models.NodeRunStatusFiltered:
			filtered = true

			continue
		case models.NodeRunStatusCompleted:
		default:
			continue
		}

		// An edge out of a condition node is live only when the condition held.
		if predIdx, ok := dag.Index(edge.From); ok && dag.Node(predIdx).Type == models.NodeTypeCondition {
			if result, ok := predResult.Output.(map[string]any); ok {
				if held, _ := result["result"].(bool); !held {
					filtered = true

					continue
				}
			}
		}

		if edge.Guard != nil {
			accepted, err := ex.conditions.Evaluate(context.Background(), edge.Guard, run.Context)
			if err != nil || !accepted {
				continue
			}
		}

		live++
	}

	// Junction synchronization is structural: predecessors are always decided
	// before this point, so a junction runs like any node once one inbound
	// edge is live.
	if live > 0 {
		return "", true
	}

	if filtered {
		return models.NodeRunStatusFiltered, false
	}

	return models.NodeRunStatusSkipped, false
}

func (ex *Executor) processConditionNode(ctx context.Context, run *models.WorkflowRun, node *models.Node, mu *sync.Mutex) error {
	startedAt := time.Now().UTC()

	mu.Lock()
	held, err := ex.conditions.Evaluate(ctx, node.Condition, run.Context)
	mu.Unlock()

	if err != nil {
		return &nodeFailure{NodeID: node.ID, Category: models.ErrorCategoryPermanent, Err: err}
	}

	output := map[string]any{"result": held}

	mu.Lock()
	run.Context.RecordNode(node.ID, models.NodeRunStatusCompleted, output)
	mu.Unlock()

	now := time.Now().UTC()
	ex.appendNodeRun(ctx, &models.NodeRun{
		ID:         uuid.New().String(),
		RunID:      run.ID,
		NodeID:     node.ID,
		Attempt:    1,
		Status:     models.NodeRunStatusCompleted,
		Output:     output,
		StartedAt:  startedAt,
		FinishedAt: &now,
	})

	return nil
}

func (ex *Executor) processActionNode(ctx context.Context, workflow *models.Workflow, run *models.WorkflowRun, node *models.Node, mu *sync.Mutex) error {
	logger := ex.logger.With("run_id", run.ID, "node_id", node.ID, "action_type", node.ActionType)

	// A node-level precondition filters just this node, not the whole branch.
	if node.Condition != nil {
		mu.Lock()
		held, err := ex.conditions.Evaluate(ctx, node.Condition, run.Context)
		mu.Unlock()

		if err != nil {
			return &nodeFailure{NodeID: node.ID, Category: models.ErrorCategoryPermanent, Err: err}
		}

		if !held {
			mu.Lock()
			run.Context.RecordNode(node.ID, models.NodeRunStatusFiltered, nil)
			mu.Unlock()

			ex.appendNodeRun(ctx, &models.NodeRun{
				ID:        uuid.New().String(),
				RunID:     run.ID,
				NodeID:    node.ID,
				Attempt:   1,
				Status:    models.NodeRunStatusFiltered,
				StartedAt: time.Now().UTC(),
			})

			return nil
		}
	}

	mu.Lock()
	rendered, renderErr := template.RenderConfig(node.Config, run.Context)
	mu.Unlock()

	if renderErr != nil {
		return &nodeFailure{NodeID: node.ID, Category: models.ErrorCategoryPermanent,
			Err: models.NewExecutionError(models.ErrorCategoryPermanent, "failed to render node config", renderErr)}
	}

	// Registration validated the raw config; templating can change a value's
	// type, so the rendered input is checked against the schema again here.
	if err := ex.registry.ValidateActionConfig(node.ActionType, rendered); err != nil {
		return &nodeFailure{NodeID: node.ID, Category: models.ErrorCategoryPermanent,
			Err: models.NewExecutionError(models.ErrorCategoryPermanent, "rendered config rejected by schema", err)}
	}

	// The action receives the raw config and renders templates itself, so
	// breaker targets stay keyed by the unrendered template.
	action, err := ex.registry.CreateAction(node.ActionType, node.Config)
	if err != nil {
		return &nodeFailure{NodeID: node.ID, Category: models.ErrorCategoryPermanent, Err: err}
	}

	target := node.ActionType
	if targeted, ok := action.(interface{ Target() string }); ok {
		target = targeted.Target()
	}

	policy := node.Retry
	if policy == nil {
		policy = models.DefaultRetryPolicy()
	}

	var lastErr error

	lastCategory := models.ErrorCategoryTransient

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if delay := resilience.Delay(policy, attempt); delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if !ex.limiter.Allow(node.ActionType) {
			lastErr = models.NewExecutionError(models.ErrorCategoryResource, "rate limit exceeded", nil)
			lastCategory = models.ErrorCategoryResource

			ex.recordAttempt(ctx, run, node, attempt, lastErr, lastCategory, time.Now().UTC())

			continue
		}

		if err := ex.breakers.Allow(target); err != nil {
			lastErr = models.NewExecutionError(models.ErrorCategoryResource, "circuit open for "+target, err)
			lastCategory = models.ErrorCategoryResource

			ex.recordAttempt(ctx, run, node, attempt, lastErr, lastCategory, time.Now().UTC())

			continue
		}

		attemptStart := time.Now().UTC()

		ex.publish(ctx, run.WorkflowID, events.NodeStarted{
			BaseEvent: events.NewBaseEvent(events.NodeStartedEvent, run.WorkflowID),
			RunID:     run.ID,
			NodeID:    node.ID,
			Attempt:   attempt,
		})

		output, execErr := ex.runAttempt(ctx, node, run, action, mu)

		if execErr == nil {
			ex.breakers.RecordSuccess(target)

			if err := ex.registry.ValidateActionOutput(node.ActionType, output); err != nil {
				logger.WarnContext(ctx, "Action output does not match its declared schema", "error", err)
			}

			mu.Lock()
			run.Context.RecordNode(node.ID, models.NodeRunStatusCompleted, output)
			mu.Unlock()

			now := time.Now().UTC()
			ex.appendNodeRun(ctx, &models.NodeRun{
				ID:         uuid.New().String(),
				RunID:      run.ID,
				NodeID:     node.ID,
				Attempt:    attempt,
				Status:     models.NodeRunStatusCompleted,
				Output:     output,
				StartedAt:  attemptStart,
				FinishedAt: &now,
			})

			ex.publishNodeCompleted(ctx, run, node, output, attemptStart)
			ex.persistContext(ctx, run)

			return nil
		}

		ex.breakers.RecordFailure(target)

		lastErr = execErr
		lastCategory = categorize(execErr)

		ex.recordAttempt(ctx, run, node, attempt, execErr, lastCategory, attemptStart)

		willRetry := lastCategory.Retryable() && attempt < policy.MaxAttempts

		ex.publish(ctx, run.WorkflowID, events.NodeFailed{
			BaseEvent:  events.NewBaseEvent(events.NodeFailedEvent, run.WorkflowID),
			RunID:      run.ID,
			NodeID:     node.ID,
			Attempt:    attempt,
			Error:      execErr.Error(),
			Category:   lastCategory,
			WillRetry:  willRetry,
			DurationMs: time.Since(attemptStart).Milliseconds(),
		})

		if !willRetry {
			break
		}

		logger.WarnContext(ctx, "Node attempt failed, retrying",
			"attempt", attempt, "max_attempts", policy.MaxAttempts, "error", execErr)
	}

	mu.Lock()
	run.Context.RecordNode(node.ID, models.NodeRunStatusFailed, nil)
	mu.Unlock()

	ex.persistContext(ctx, run)

	errorHandling := workflow.Settings.ErrorHandling
	if node.Type == models.NodeTypeAction && errorHandling == "" {
		errorHandling = models.ErrorHandlingStop
	}

	switch errorHandling {
	case models.ErrorHandlingSkip:
		logger.WarnContext(ctx, "Node failed, continuing per skip policy", "error", lastErr)

		return nil
	case models.ErrorHandlingRetry:
		// Surface a retryable error so the queue replays the job; completed
		// nodes resume from the recorded context.
		return models.NewExecutionError(lastCategory, fmt.Sprintf("node %s failed", node.ID), lastErr)
	default:
		return &nodeFailure{NodeID: node.ID, Category: lastCategory, Err: lastErr}
	}
}

func (ex *Executor) runAttempt(ctx context.Context, node *models.Node, run *models.WorkflowRun, action protocol.Action, mu *sync.Mutex) (any, error) {
	attemptCtx := ctx

	var cancel context.CancelFunc
	if node.TimeoutMs > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(node.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	mu.Lock()
	executionCtx := run.Context
	mu.Unlock()

	output, err := action.Execute(attemptCtx, executionCtx, ex.logger)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, models.NewExecutionError(models.ErrorCategoryTimeout,
			fmt.Sprintf("node timed out after %dms", node.TimeoutMs), err)
	}

	return output, err
}

func (ex *Executor) recordAttempt(ctx context.Context, run *models.WorkflowRun, node *models.Node, attempt int, execErr error, category models.ErrorCategory, startedAt time.Time) {
	now := time.Now().UTC()

	status := models.NodeRunStatusFailed
	if category == models.ErrorCategoryTimeout {
		status = models.NodeRunStatusTimedOut
	}

	ex.appendNodeRun(ctx, &models.NodeRun{
		ID:         uuid.New().String(),
		RunID:      run.ID,
		NodeID:     node.ID,
		Attempt:    attempt,
		Status:     status,
		Error:      execErr.Error(),
		Category:   category,
		StartedAt:  startedAt,
		FinishedAt: &now,
	})
}

func (ex *Executor) appendNodeRun(ctx context.Context, nodeRun *models.NodeRun) {
	if err := ex.persistence.Runs().AppendNodeRun(ctx, nodeRun); err != nil {
		ex.logger.WarnContext(ctx, "Failed to append node run",
			"run_id", nodeRun.RunID, "node_id", nodeRun.NodeID, "error", err)
	}
}

func (ex *Executor) persistContext(ctx context.Context, run *models.WorkflowRun) {
	if err := ex.persistence.Runs().Update(ctx, run); err != nil {
		ex.logger.WarnContext(ctx, "Failed to persist run context", "run_id", run.ID, "error", err)
	}
}

func (ex *Executor) publishNodeCompleted(ctx context.Context, run *models.WorkflowRun, node *models.Node, output any, startedAt time.Time) {
	outputMap, _ := output.(map[string]any)

	ex.publish(ctx, run.WorkflowID, events.NodeCompleted{
		BaseEvent:  events.NewBaseEvent(events.NodeCompletedEvent, run.WorkflowID),
		RunID:      run.ID,
		NodeID:     node.ID,
		Status:     models.NodeRunStatusCompleted,
		Output:     outputMap,
		DurationMs: time.Since(startedAt).Milliseconds(),
	})
}

func (ex *Executor) finishCompleted(ctx context.Context, run *models.WorkflowRun, dag *graph.Graph, startedAt time.Time) error {
	now := time.Now().UTC()
	run.Status = models.RunStatusCompleted
	run.FinishedAt = &now

	if err := ex.persistence.Runs().Update(ctx, run); err != nil {
		return models.NewExecutionError(models.ErrorCategoryTransient, "failed to finish run", err)
	}

	outputs := make(map[string]any)

	for _, idx := range dag.Order() {
		if len(dag.Successors(idx)) != 0 {
			continue
		}

		node := dag.Node(idx)
		if result, ok := run.Context.Nodes[node.ID]; ok && result.Status == models.NodeRunStatusCompleted {
			outputs[node.ID] = result.Output
		}
	}

	ex.publish(ctx, run.WorkflowID, events.RunCompleted{
		BaseEvent:     events.NewBaseEvent(events.RunCompletedEvent, run.WorkflowID),
		RunID:         run.ID,
		DurationMs:    time.Since(startedAt).Milliseconds(),
		NodesExecuted: len(run.Context.Nodes),
		Outputs:       outputs,
	})

	return nil
}

func (ex *Executor) finishFailed(ctx context.Context, run *models.WorkflowRun, failure *nodeFailure, startedAt time.Time) error {
	now := time.Now().UTC()
	run.Status = models.RunStatusFailed
	run.Error = failure.Error()
	run.FinishedAt = &now

	if err := ex.persistence.Runs().Update(ctx, run); err != nil {
		return models.NewExecutionError(models.ErrorCategoryTransient, "failed to finish run", err)
	}

	ex.publish(ctx, run.WorkflowID, events.RunFailed{
		BaseEvent:  events.NewBaseEvent(events.RunFailedEvent, run.WorkflowID),
		RunID:      run.ID,
		NodeID:     failure.NodeID,
		Error:      failure.Error(),
		Category:   failure.Category,
		DurationMs: time.Since(startedAt).Milliseconds(),
	})

	return nil
}

func (ex *Executor) finishCancelled(ctx context.Context, run *models.WorkflowRun) error {
	now := time.Now().UTC()
	run.Status = models.RunStatusCancelled
	run.FinishedAt = &now

	if err := ex.persistence.Runs().Update(ctx, run); err != nil {
		return models.NewExecutionError(models.ErrorCategoryTransient, "failed to finish run", err)
	}

	ex.publish(ctx, run.WorkflowID, events.RunCancelled{
		BaseEvent: events.NewBaseEvent(events.RunCancelledEvent, run.WorkflowID),
		RunID:     run.ID,
	})

	return nil
}

func (ex *Executor) finishTimedOut(ctx context.Context, run *models.WorkflowRun, limitMs int64) error {
	now := time.Now().UTC()
	run.Status = models.RunStatusTimedOut
	run.Error = fmt.Sprintf("run exceeded timeout of %dms", limitMs)
	run.FinishedAt = &now

	if err := ex.persistence.Runs().Update(ctx, run); err != nil {
		return models.NewExecutionError(models.ErrorCategoryTransient, "failed to finish run", err)
	}

	ex.publish(ctx, run.WorkflowID, events.RunTimedOut{
		BaseEvent:      events.NewBaseEvent(events.RunTimedOutEvent, run.WorkflowID),
		RunID:          run.ID,
		TimeoutLimitMs: limitMs,
	})

	return nil
}

func (ex *Executor) publish(ctx context.Context, key string, event eventbus.Event) {
	if err := ex.publisher.Publish(ctx, key, event); err != nil {
		ex.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

func categorize(err error) models.ErrorCategory {
	var execErr *models.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Category
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorCategoryTimeout
	}

	if errors.Is(err, context.Canceled) {
		return models.ErrorCategoryCancelled
	}

	return models.ErrorCategoryTransient
}
