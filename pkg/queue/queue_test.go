package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/eventbus"
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/persistence/sqlite"
)

type capturingPublisher struct {
	mu        sync.Mutex
	published []eventbus.Event
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.published = append(p.published, event)

	return nil
}

func (p *capturingPublisher) events() []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]eventbus.Event(nil), p.published...)
}

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *capturingPublisher) {
	t.Helper()

	store, err := sqlite.NewPersistence(context.Background(), slog.Default(), ":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close(context.Background()) })

	publisher := &capturingPublisher{}

	return NewQueue(store.Jobs(), publisher, slog.Default(), opts...), publisher
}

func testRun(id string) *models.WorkflowRun {
	return &models.WorkflowRun{
		ID:              id,
		WorkflowID:      "wf-1",
		WorkflowVersion: 1,
		Status:          models.RunStatusPending,
		CreatedAt:       time.Now().UTC(),
	}
}

func TestQueue_EnqueueAndClaim(t *testing.T) {
	queue, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := queue.EnqueueRun(ctx, testRun("run-1"), 0)
	require.NoError(t, err)
	assert.Equal(t, models.JobKindExecuteRun, job.Kind)
	assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)

	claimed, err := queue.Claim(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)

	require.NoError(t, queue.Complete(ctx, claimed))

	_, err = queue.Claim(ctx, "worker-1")
	assert.ErrorIs(t, err, ErrNoJobAvailable)
}

func TestQueue_RetryableFailureReschedules(t *testing.T) {
	queue, publisher := newTestQueue(t, WithRetryPolicy(models.RetryPolicy{
		MaxAttempts: 3,
		Strategy:    models.BackoffFixed,
		BaseDelayMs: 1,
	}))
	ctx := context.Background()

	_, err := queue.EnqueueRun(ctx, testRun("run-1"), 0)
	require.NoError(t, err)

	claimed, err := queue.Claim(ctx, "worker-1")
	require.NoError(t, err)

	transient := models.NewExecutionError(models.ErrorCategoryTransient, "connection reset", nil)
	require.NoError(t, queue.ReportFailure(ctx, claimed, transient, time.Now().UTC()))

	// The reschedule stays out of the dead letter queue and publishes nothing.
	dead, err := queue.DeadJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, dead)
	assert.Empty(t, publisher.events())

	attempts, err := queue.Attempts(ctx, claimed.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.ErrorCategoryTransient, attempts[0].Category)
}

func TestQueue_PermanentFailureGoesDead(t *testing.T) {
	queue, publisher := newTestQueue(t)
	ctx := context.Background()

	_, err := queue.EnqueueRun(ctx, testRun("run-1"), 0)
	require.NoError(t, err)

	claimed, err := queue.Claim(ctx, "worker-1")
	require.NoError(t, err)

	permanent := models.NewExecutionError(models.ErrorCategoryPermanent, "workflow version missing", nil)
	require.NoError(t, queue.ReportFailure(ctx, claimed, permanent, time.Now().UTC()))

	dead, err := queue.DeadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, claimed.ID, dead[0].ID)

	published := publisher.events()
	require.Len(t, published, 1)

	engineErr, ok := published[0].(events.EngineError)
	require.True(t, ok)
	assert.Equal(t, claimed.RunID, engineErr.RunID)
	assert.Equal(t, "queue", engineErr.Scope)
}

func TestQueue_ExhaustedBudgetGoesDead(t *testing.T) {
	queue, _ := newTestQueue(t, WithRetryPolicy(models.RetryPolicy{
		MaxAttempts: 2,
		Strategy:    models.BackoffFixed,
		BaseDelayMs: 0,
	}))
	ctx := context.Background()

	_, err := queue.EnqueueRun(ctx, testRun("run-1"), 0)
	require.NoError(t, err)

	transient := errors.New("flaky downstream")

	for attempt := 1; attempt <= 2; attempt++ {
		claimed, err := queue.Claim(ctx, "worker-1")
		require.NoError(t, err)
		assert.Equal(t, attempt, claimed.Attempts)

		require.NoError(t, queue.ReportFailure(ctx, claimed, transient, time.Now().UTC()))
	}

	dead, err := queue.DeadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)

	attempts, err := queue.Attempts(ctx, dead[0].ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestQueue_CancelPendingRemovesUnclaimedJob(t *testing.T) {
	queue, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := queue.EnqueueRun(ctx, testRun("run-cancelled"), 0)
	require.NoError(t, err)

	require.NoError(t, queue.CancelPending(ctx, "run-cancelled"))

	_, err = queue.Claim(ctx, "worker-1")
	assert.ErrorIs(t, err, ErrNoJobAvailable)
}

func TestQueue_RetryDeadRestoresJob(t *testing.T) {
	queue, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := queue.EnqueueRun(ctx, testRun("run-1"), 0)
	require.NoError(t, err)

	claimed, err := queue.Claim(ctx, "worker-1")
	require.NoError(t, err)

	permanent := models.NewExecutionError(models.ErrorCategoryPermanent, "bad config", nil)
	require.NoError(t, queue.ReportFailure(ctx, claimed, permanent, time.Now().UTC()))

	require.NoError(t, queue.RetryDead(ctx, claimed.ID))

	reclaimed, err := queue.Claim(ctx, "worker-2")
	require.NoError(t, err)
	assert.Equal(t, claimed.ID, reclaimed.ID)
	assert.Equal(t, 1, reclaimed.Attempts)
}
