package worker

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/conditions"
	"github.com/weftlabs/weft/pkg/eventbus"
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/persistence/sqlite"
	"github.com/weftlabs/weft/pkg/protocol"
	"github.com/weftlabs/weft/pkg/queue"
	"github.com/weftlabs/weft/pkg/registry"
	"github.com/weftlabs/weft/pkg/resilience"
)

// probeController scripts and records the behavior of probe actions so tests
// can observe execution order and inject failures per node.
type probeController struct {
	mu        sync.Mutex
	order     []string
	failures  map[string]int
	category  map[string]models.ErrorCategory
	delay     map[string]time.Duration
	beforeRun map[string]func()
	outputs   map[string]any
}

func newProbeController() *probeController {
	return &probeController{
		failures:  make(map[string]int),
		category:  make(map[string]models.ErrorCategory),
		delay:     make(map[string]time.Duration),
		beforeRun: make(map[string]func()),
		outputs:   make(map[string]any),
	}
}

func (c *probeController) setOutput(key string, output any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outputs[key] = output
}

func (c *probeController) failTimes(key string, times int, category models.ErrorCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures[key] = times
	c.category[key] = category
}

func (c *probeController) ran() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.order...)
}

func (c *probeController) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order = nil
}

type probeAction struct {
	key        string
	controller *probeController
}

func (a *probeAction) Execute(ctx context.Context, _ *models.RunContext, _ *slog.Logger) (any, error) {
	a.controller.mu.Lock()
	delay := a.controller.delay[a.key]
	hook := a.controller.beforeRun[a.key]
	a.controller.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if hook != nil {
		hook()
	}

	a.controller.mu.Lock()
	a.controller.order = append(a.controller.order, a.key)

	if a.controller.failures[a.key] > 0 {
		a.controller.failures[a.key]--
		category := a.controller.category[a.key]
		a.controller.mu.Unlock()

		return nil, models.NewExecutionError(category, "probe scripted failure", nil)
	}

	if override, ok := a.controller.outputs[a.key]; ok {
		a.controller.mu.Unlock()

		return override, nil
	}
	a.controller.mu.Unlock()

	return map[string]any{"key": a.key}, nil
}

type probeFactory struct {
	controller *probeController
}

func (f *probeFactory) ID() string { return "probe" }

func (f *probeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{"type": "string"},
		},
		"required":             []any{"key"},
		"additionalProperties": false,
	}
}

func (f *probeFactory) OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{"type": "string"},
		},
		"required": []any{"key"},
	}
}

func (f *probeFactory) Create(config map[string]any) (protocol.Action, error) {
	key, _ := config["key"].(string)

	return &probeAction{key: key, controller: f.controller}, nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturingPublisher) ofType(eventType events.EventType) []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var matched []eventbus.Event

	for _, event := range p.events {
		if event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

type harness struct {
	store      *sqlite.Persistence
	queue      *queue.Queue
	executor   *Executor
	controller *probeController
	publisher  *capturingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := sqlite.NewPersistence(context.Background(), slog.Default(), ":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close(context.Background()) })

	controller := newProbeController()
	reg := registry.NewRegistry(slog.Default())
	reg.RegisterAction(&probeFactory{controller: controller})

	publisher := &capturingPublisher{}
	jobQueue := queue.NewQueue(store.Jobs(), publisher, slog.Default())

	executor := NewExecutor(
		store,
		reg,
		conditions.NewEngine(),
		resilience.NewBreakerSet(resilience.BreakerConfig{}),
		resilience.NewRateLimiter(),
		publisher,
		slog.Default(),
	)

	return &harness{
		store:      store,
		queue:      jobQueue,
		executor:   executor,
		controller: controller,
		publisher:  publisher,
	}
}

func probeNode(id string) *models.Node {
	return &models.Node{
		ID: id, Name: id, Type: models.NodeTypeAction,
		ActionType: "probe", Config: map[string]any{"key": id},
	}
}

// startRun saves the workflow, creates a pending run, and enqueues its job.
func (h *harness) startRun(t *testing.T, workflow *models.Workflow, trigger map[string]any) (*models.WorkflowRun, *models.Job) {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	workflow.Version = 1
	workflow.Status = models.WorkflowStatusActive
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	require.NoError(t, h.store.Workflows().Save(ctx, workflow))

	run := &models.WorkflowRun{
		ID:              uuid.New().String(),
		WorkflowID:      workflow.ID,
		WorkflowVersion: 1,
		Status:          models.RunStatusPending,
		Context:         models.NewRunContext(trigger, workflow.Variables),
		CreatedAt:       now,
	}
	require.NoError(t, h.store.Runs().Create(ctx, run))

	job, err := h.queue.EnqueueRun(ctx, run, 0)
	require.NoError(t, err)

	return run, job
}

func (h *harness) reloadRun(t *testing.T, runID string) *models.WorkflowRun {
	t.Helper()

	run, err := h.store.Runs().GetByID(context.Background(), runID)
	require.NoError(t, err)

	return run
}

func amountAbove(threshold float64) *conditions.Expression {
	return &conditions.Expression{
		Op:      conditions.OpCompare,
		Compare: conditions.CompareGt,
		Left:    &conditions.ValueRef{Kind: conditions.RefContext, Path: "trigger.amount"},
		Right:   &conditions.ValueRef{Kind: conditions.RefLiteral, Value: threshold},
	}
}

func TestExecutor_SequentialRunsInTopologicalOrder(t *testing.T) {
	h := newHarness(t)

	workflow := &models.Workflow{
		Name:  "three in a row",
		Nodes: []*models.Node{probeNode("a"), probeNode("b"), probeNode("c")},
		Edges: []*models.Edge{{From: "a", To: "b"}, {From: "b", To: "c"}},
	}

	run, job := h.startRun(t, workflow, nil)

	require.NoError(t, h.executor.ExecuteRun(context.Background(), job))

	assert.Equal(t, []string{"a", "b", "c"}, h.controller.ran())

	final := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, final.Status)
	assert.NotNil(t, final.FinishedAt)

	require.Len(t, h.publisher.ofType(events.RunStartedEvent), 1)

	completed := h.publisher.ofType(events.RunCompletedEvent)
	require.Len(t, completed, 1)

	runCompleted, ok := completed[0].(events.RunCompleted)
	require.True(t, ok)
	assert.Equal(t, 3, runCompleted.NodesExecuted)
	assert.Contains(t, runCompleted.Outputs, "c")

	nodeRuns, err := h.store.Runs().NodeRuns(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Len(t, nodeRuns, 3)
}

func TestExecutor_ParallelBranchesSynchronizeAtJunction(t *testing.T) {
	h := newHarness(t)

	workflow := &models.Workflow{
		Name: "fan out and join",
		Nodes: []*models.Node{
			probeNode("a"), probeNode("b"), probeNode("c"),
			{ID: "join", Name: "join", Type: models.NodeTypeJunction},
			probeNode("d"),
		},
		Edges: []*models.Edge{
			{From: "a", To: "b"}, {From: "a", To: "c"},
			{From: "b", To: "join"}, {From: "c", To: "join"},
			{From: "join", To: "d"},
		},
		Settings: models.WorkflowSettings{
			ExecutionMode:    models.ExecutionModeParallel,
			MaxParallelNodes: 2,
		},
	}

	run, job := h.startRun(t, workflow, nil)

	require.NoError(t, h.executor.ExecuteRun(context.Background(), job))

	order := h.controller.ran()
	require.Len(t, order, 4)
	assert.Equal(t, "a", order[0])
	assert.Equal(t, "d", order[3])
	assert.ElementsMatch(t, []string{"b", "c"}, order[1:3])

	final := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, final.Status)
}

func TestExecutor_NodeRetriesWithBackoffUntilSuccess(t *testing.T) {
	h := newHarness(t)
	h.controller.failTimes("flaky", 2, models.ErrorCategoryTransient)

	flaky := probeNode("flaky")
	flaky.Retry = &models.RetryPolicy{MaxAttempts: 3, Strategy: models.BackoffFixed, BaseDelayMs: 5}

	workflow := &models.Workflow{
		Name:  "retry until success",
		Nodes: []*models.Node{flaky},
	}

	run, job := h.startRun(t, workflow, nil)

	require.NoError(t, h.executor.ExecuteRun(context.Background(), job))

	assert.Equal(t, []string{"flaky", "flaky", "flaky"}, h.controller.ran())

	final := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, final.Status)

	// Two failed attempts plus the success, all preserved.
	nodeRuns, err := h.store.Runs().NodeRuns(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, nodeRuns, 3)

	failures := h.publisher.ofType(events.NodeFailedEvent)
	require.Len(t, failures, 2)

	for _, raw := range failures {
		failed, ok := raw.(events.NodeFailed)
		require.True(t, ok)
		assert.True(t, failed.WillRetry)
	}
}

func TestExecutor_PermanentFailureStopsRun(t *testing.T) {
	h := newHarness(t)
	h.controller.failTimes("broken", 5, models.ErrorCategoryPermanent)

	broken := probeNode("broken")
	broken.Retry = &models.RetryPolicy{MaxAttempts: 3, Strategy: models.BackoffFixed}

	workflow := &models.Workflow{
		Name:  "stop on permanent",
		Nodes: []*models.Node{broken, probeNode("after")},
		Edges: []*models.Edge{{From: "broken", To: "after"}},
	}

	run, job := h.startRun(t, workflow, nil)

	err := h.executor.ExecuteRun(context.Background(), job)
	require.Error(t, err)

	var execErr *models.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, models.ErrorCategoryPermanent, execErr.Category)

	// Permanent errors never retry, and the downstream node never runs.
	assert.Equal(t, []string{"broken"}, h.controller.ran())

	final := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusFailed, final.Status)
	assert.Contains(t, final.Error, "broken")

	failed := h.publisher.ofType(events.RunFailedEvent)
	require.Len(t, failed, 1)

	runFailed, ok := failed[0].(events.RunFailed)
	require.True(t, ok)
	assert.Equal(t, "broken", runFailed.NodeID)
	assert.Equal(t, models.ErrorCategoryPermanent, runFailed.Category)
}

func TestExecutor_ExhaustedNodeRetriesDeadLetterJob(t *testing.T) {
	h := newHarness(t)
	h.controller.failTimes("doomed", 10, models.ErrorCategoryTransient)

	doomed := probeNode("doomed")
	doomed.Retry = &models.RetryPolicy{MaxAttempts: 3, Strategy: models.BackoffFixed, BaseDelayMs: 1}

	workflow := &models.Workflow{
		Name:  "always failing",
		Nodes: []*models.Node{doomed},
	}

	run, _ := h.startRun(t, workflow, nil)
	ctx := context.Background()

	job, err := h.queue.Claim(ctx, "worker-1")
	require.NoError(t, err)

	startedAt := time.Now().UTC()
	execErr := h.executor.ExecuteRun(ctx, job)
	require.Error(t, execErr)

	require.NoError(t, h.queue.ReportFailure(ctx, job, execErr, startedAt))

	// Exactly the three node attempts, no more.
	nodeRuns, err := h.store.Runs().NodeRuns(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, nodeRuns, 3)

	assert.Equal(t, models.RunStatusFailed, h.reloadRun(t, run.ID).Status)

	dead, err := h.store.Jobs().DeadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, job.ID, dead[0].ID)
}

func TestExecutor_SkipPolicyContinuesPastFailure(t *testing.T) {
	h := newHarness(t)
	h.controller.failTimes("shaky", 1, models.ErrorCategoryPermanent)

	workflow := &models.Workflow{
		Name:     "skip and carry on",
		Nodes:    []*models.Node{probeNode("shaky"), probeNode("after")},
		Edges:    []*models.Edge{{From: "shaky", To: "after"}},
		Settings: models.WorkflowSettings{ErrorHandling: models.ErrorHandlingSkip},
	}

	run, job := h.startRun(t, workflow, nil)

	require.NoError(t, h.executor.ExecuteRun(context.Background(), job))

	assert.Equal(t, []string{"shaky", "after"}, h.controller.ran())

	final := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, final.Status)
	assert.Equal(t, models.NodeRunStatusFailed, final.Context.Nodes["shaky"].Status)
	assert.Equal(t, models.NodeRunStatusCompleted, final.Context.Nodes["after"].Status)
}

func TestExecutor_RetryPolicyResumesFromFailedNode(t *testing.T) {
	h := newHarness(t)
	h.controller.failTimes("b", 1, models.ErrorCategoryTransient)

	workflow := &models.Workflow{
		Name:     "resume after requeue",
		Nodes:    []*models.Node{probeNode("a"), probeNode("b")},
		Edges:    []*models.Edge{{From: "a", To: "b"}},
		Settings: models.WorkflowSettings{ErrorHandling: models.ErrorHandlingRetry},
	}

	run, job := h.startRun(t, workflow, nil)

	// First pass fails on b with a retryable error, so the job is handed back
	// to the queue while the run stays live.
	err := h.executor.ExecuteRun(context.Background(), job)
	require.Error(t, err)

	var execErr *models.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.True(t, execErr.Category.Retryable())

	assert.Equal(t, []string{"a", "b"}, h.controller.ran())
	assert.Equal(t, models.RunStatusRunning, h.reloadRun(t, run.ID).Status)

	// The retried job resumes: a keeps its recorded result, only b re-runs.
	h.controller.reset()
	require.NoError(t, h.executor.ExecuteRun(context.Background(), job))

	assert.Equal(t, []string{"b"}, h.controller.ran())
	assert.Equal(t, models.RunStatusCompleted, h.reloadRun(t, run.ID).Status)
}

func TestExecutor_GuardRejectedBranchIsSkipped(t *testing.T) {
	h := newHarness(t)

	workflow := &models.Workflow{
		Name:  "guarded fork",
		Nodes: []*models.Node{probeNode("a"), probeNode("big"), probeNode("small")},
		Edges: []*models.Edge{
			{From: "a", To: "big", Guard: amountAbove(100)},
			{From: "a", To: "small"},
		},
	}

	run, job := h.startRun(t, workflow, map[string]any{"amount": float64(50)})

	require.NoError(t, h.executor.ExecuteRun(context.Background(), job))

	assert.Equal(t, []string{"a", "small"}, h.controller.ran())

	final := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, final.Status)
	assert.Equal(t, models.NodeRunStatusSkipped, final.Context.Nodes["big"].Status)
	assert.Equal(t, models.NodeRunStatusCompleted, final.Context.Nodes["small"].Status)
}

func TestExecutor_SkippedFinalNodeStillCompletesRun(t *testing.T) {
	h := newHarness(t)

	workflow := &models.Workflow{
		Name:     "linear guarded tail",
		Settings: models.WorkflowSettings{ErrorHandling: models.ErrorHandlingSkip},
		Nodes:    []*models.Node{probeNode("fetch"), probeNode("notify")},
		Edges:    []*models.Edge{{From: "fetch", To: "notify", Guard: amountAbove(100)}},
	}

	run, job := h.startRun(t, workflow, map[string]any{"amount": float64(50)})

	require.NoError(t, h.executor.ExecuteRun(context.Background(), job))

	assert.Equal(t, []string{"fetch"}, h.controller.ran())

	final := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, final.Status)
	assert.Equal(t, models.NodeRunStatusSkipped, final.Context.Nodes["notify"].Status)
}

func TestExecutor_ConditionNodeFalseFiltersBranch(t *testing.T) {
	h := newHarness(t)

	workflow := &models.Workflow{
		Name: "filter downstream",
		Nodes: []*models.Node{
			{ID: "check", Name: "check", Type: models.NodeTypeCondition, Condition: amountAbove(100)},
			probeNode("b"),
			probeNode("c"),
		},
		Edges: []*models.Edge{{From: "check", To: "b"}, {From: "b", To: "c"}},
	}

	run, job := h.startRun(t, workflow, map[string]any{"amount": float64(50)})

	require.NoError(t, h.executor.ExecuteRun(context.Background(), job))

	assert.Empty(t, h.controller.ran())

	final := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, final.Status)
	assert.Equal(t, models.NodeRunStatusCompleted, final.Context.Nodes["check"].Status)
	// Filtered, not skipped: the condition explicitly cut the branch off.
	assert.Equal(t, models.NodeRunStatusFiltered, final.Context.Nodes["b"].Status)
	assert.Equal(t, models.NodeRunStatusFiltered, final.Context.Nodes["c"].Status)
}

func TestExecutor_CancellationBetweenNodes(t *testing.T) {
	h := newHarness(t)

	workflow := &models.Workflow{
		Name:  "cancel mid run",
		Nodes: []*models.Node{probeNode("a"), probeNode("b")},
		Edges: []*models.Edge{{From: "a", To: "b"}},
	}

	run, job := h.startRun(t, workflow, nil)

	h.controller.beforeRun["a"] = func() {
		_ = h.store.Runs().RequestCancel(context.Background(), run.ID)
	}

	require.NoError(t, h.executor.ExecuteRun(context.Background(), job))

	// a finished, b never started.
	assert.Equal(t, []string{"a"}, h.controller.ran())

	final := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCancelled, final.Status)
	assert.Len(t, h.publisher.ofType(events.RunCancelledEvent), 1)
}

func TestExecutor_RunTimeout(t *testing.T) {
	h := newHarness(t)
	h.controller.delay["slow"] = 2 * time.Second

	workflow := &models.Workflow{
		Name:     "deadline exceeded",
		Nodes:    []*models.Node{probeNode("slow")},
		Settings: models.WorkflowSettings{TimeoutMs: 50},
	}

	run, job := h.startRun(t, workflow, nil)

	require.NoError(t, h.executor.ExecuteRun(context.Background(), job))

	final := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusTimedOut, final.Status)

	timedOut := h.publisher.ofType(events.RunTimedOutEvent)
	require.Len(t, timedOut, 1)

	event, ok := timedOut[0].(events.RunTimedOut)
	require.True(t, ok)
	assert.Equal(t, int64(50), event.TimeoutLimitMs)
}

func TestExecutor_TerminalRunJobIsNoOp(t *testing.T) {
	h := newHarness(t)

	workflow := &models.Workflow{
		Name:  "already finished",
		Nodes: []*models.Node{probeNode("a")},
	}

	_, job := h.startRun(t, workflow, nil)

	require.NoError(t, h.executor.ExecuteRun(context.Background(), job))
	assert.Equal(t, []string{"a"}, h.controller.ran())

	// A stale-lock reclaim can hand out the same job again after the run
	// finished. Nothing re-executes.
	h.controller.reset()
	require.NoError(t, h.executor.ExecuteRun(context.Background(), job))
	assert.Empty(t, h.controller.ran())
}

func TestExecutor_RenderedConfigRevalidatedBeforeExecution(t *testing.T) {
	h := newHarness(t)

	// The raw config passes save-time validation as a string, but the
	// template renders into a number at execution time.
	drifting := probeNode("drifting")
	drifting.Config = map[string]any{"key": "{{ .trigger.attempt }}"}

	workflow := &models.Workflow{
		Name:  "config type drifts after render",
		Nodes: []*models.Node{drifting},
	}

	run, job := h.startRun(t, workflow, map[string]any{"attempt": float64(7)})

	err := h.executor.ExecuteRun(context.Background(), job)
	require.Error(t, err)

	var execErr *models.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, models.ErrorCategoryPermanent, execErr.Category)
	assert.Contains(t, execErr.Error(), "rendered config rejected by schema")

	// The action never ran.
	assert.Empty(t, h.controller.ran())
	assert.Equal(t, models.RunStatusFailed, h.reloadRun(t, run.ID).Status)
}

func TestExecutor_OutputSchemaMismatchIsAdvisory(t *testing.T) {
	h := newHarness(t)
	h.controller.setOutput("odd", map[string]any{"unexpected": true})

	workflow := &models.Workflow{
		Name:  "output off schema",
		Nodes: []*models.Node{probeNode("odd")},
	}

	run, job := h.startRun(t, workflow, nil)

	// A mismatching output is logged, not fatal, and is recorded as-is.
	require.NoError(t, h.executor.ExecuteRun(context.Background(), job))

	final := h.reloadRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, final.Status)

	output, ok := final.Context.Nodes["odd"].Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, output["unexpected"])
}

func TestExecutor_PanicInActionIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.controller.beforeRun["boom"] = func() { panic("probe exploded") }

	workflow := &models.Workflow{
		Name:  "panicking action",
		Nodes: []*models.Node{probeNode("boom")},
	}

	_, job := h.startRun(t, workflow, nil)

	err := h.executor.ExecuteRun(context.Background(), job)
	require.Error(t, err)

	var execErr *models.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, models.ErrorCategoryPermanent, execErr.Category)
	assert.Contains(t, execErr.Error(), "probe exploded")

	engineErrs := h.publisher.ofType(events.EngineErrorEvent)
	require.Len(t, engineErrs, 1)

	reported, ok := engineErrs[0].(events.EngineError)
	require.True(t, ok)
	assert.Equal(t, job.ID, reported.JobID)
	assert.Equal(t, "executor", reported.Scope)
}
