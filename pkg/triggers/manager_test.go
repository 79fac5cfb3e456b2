package triggers

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
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/persistence/sqlite"
	"github.com/weftlabs/weft/pkg/protocol"
	"github.com/weftlabs/weft/pkg/registry"
	"github.com/weftlabs/weft/pkg/triggers/manual"
)

type stubTrigger struct {
	callback protocol.TriggerCallback
}

func (t *stubTrigger) Start(_ context.Context, callback protocol.TriggerCallback) error {
	t.callback = callback

	return nil
}

func (t *stubTrigger) Stop(context.Context) error { return nil }
func (t *stubTrigger) Validate() error            { return nil }

type stubTriggerFactory struct {
	created *stubTrigger
}

func (f *stubTriggerFactory) ID() string             { return "stub" }
func (f *stubTriggerFactory) Schema() map[string]any { return nil }

func (f *stubTriggerFactory) Create(_ map[string]any, _ *slog.Logger) (protocol.Trigger, error) {
	f.created = &stubTrigger{}

	return f.created, nil
}

type recordingStarter struct {
	mu     sync.Mutex
	err    error
	events []*models.TriggerEvent
}

func (s *recordingStarter) StartRunFromTrigger(_ context.Context, _ string, event *models.TriggerEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return "", s.err
	}

	s.events = append(s.events, event)

	return "run-" + event.ID, nil
}

func (s *recordingStarter) failWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
}

func (s *recordingStarter) started() []*models.TriggerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*models.TriggerEvent(nil), s.events...)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, eventbus.Event) error { return nil }

func setupManager(t *testing.T, factory protocol.TriggerFactory, opts ...Option) (*Manager, *sqlite.Persistence, *recordingStarter) {
	t.Helper()

	store, err := sqlite.NewPersistence(context.Background(), slog.Default(), ":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close(context.Background()) })

	reg := registry.NewRegistry(slog.Default())
	reg.RegisterTrigger(factory)
	reg.RegisterTrigger(manual.NewManualTriggerFactory())

	starter := &recordingStarter{}
	manager := NewManager(store.Triggers(), reg, starter, nopPublisher{}, slog.Default(), opts...)

	return manager, store, starter
}

func saveTrigger(t *testing.T, store *sqlite.Persistence, trigger *models.Trigger) {
	t.Helper()

	now := time.Now().UTC()
	trigger.CreatedAt = now
	trigger.UpdatedAt = now

	require.NoError(t, store.Triggers().Save(context.Background(), trigger))
}

func TestManager_FireStartsRunOnce(t *testing.T) {
	factory := &stubTriggerFactory{}
	manager, store, starter := setupManager(t, factory)
	ctx := context.Background()

	saveTrigger(t, store, &models.Trigger{
		ID: "trg-1", WorkflowID: "wf-1", Type: "stub", State: models.TriggerStateActive,
	})

	require.NoError(t, manager.StartAll(ctx))
	require.NotNil(t, factory.created)

	defer manager.StopAll(ctx)

	// Two fires with the same dedup key inside the window collapse to one run.
	require.NoError(t, factory.created.callback(ctx, "stub:key-1", map[string]any{"n": float64(1)}))
	require.NoError(t, factory.created.callback(ctx, "stub:key-1", map[string]any{"n": float64(2)}))

	started := starter.started()
	require.Len(t, started, 1)
	assert.Equal(t, "stub:key-1", started[0].DedupKey)

	status, err := manager.Status(ctx, "trg-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.FireCount)
	assert.Equal(t, int64(1), status.DroppedCount)

	// A different key fires normally.
	require.NoError(t, factory.created.callback(ctx, "stub:key-2", nil))
	assert.Len(t, starter.started(), 2)
}

func TestManager_PausedTriggerDropsFires(t *testing.T) {
	factory := &stubTriggerFactory{}
	manager, store, starter := setupManager(t, factory)
	ctx := context.Background()

	saveTrigger(t, store, &models.Trigger{
		ID: "trg-1", WorkflowID: "wf-1", Type: "stub", State: models.TriggerStateActive,
	})

	require.NoError(t, manager.StartAll(ctx))

	defer manager.StopAll(ctx)

	require.NoError(t, manager.Pause(ctx, "trg-1"))

	// The instance is stopped, but a late in-flight fire must still be dropped.
	require.NoError(t, factory.created.callback(ctx, "stub:late", nil))
	assert.Empty(t, starter.started())

	status, err := manager.Status(ctx, "trg-1")
	require.NoError(t, err)
	assert.Equal(t, models.TriggerStatePaused, status.State)
	assert.Equal(t, int64(1), status.DroppedCount)

	require.NoError(t, manager.Resume(ctx, "trg-1"))

	require.NoError(t, factory.created.callback(ctx, "stub:after-resume", nil))
	assert.Len(t, starter.started(), 1)
}

func TestManager_ManualFire(t *testing.T) {
	manager, store, starter := setupManager(t, &stubTriggerFactory{})
	ctx := context.Background()

	saveTrigger(t, store, &models.Trigger{
		ID: "trg-manual", WorkflowID: "wf-1", Type: "manual", State: models.TriggerStateActive,
	})

	require.NoError(t, manager.StartAll(ctx))

	defer manager.StopAll(ctx)

	// Manual fires are never deduplicated.
	runID, err := manager.Fire(ctx, "wf-1", map[string]any{"reason": "ops"})
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	runID, err = manager.Fire(ctx, "wf-1", map[string]any{"reason": "ops"})
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	started := starter.started()
	require.Len(t, started, 2)
	assert.Equal(t, true, started[0].Payload["manual"])

	// Counters reflect operator fires like any other.
	status, err := manager.Status(ctx, "trg-manual")
	require.NoError(t, err)
	assert.Equal(t, int64(2), status.FireCount)
	require.NotNil(t, status.LastFiredAt)
}

func TestManager_RepeatedRunFailuresTripErrorState(t *testing.T) {
	factory := &stubTriggerFactory{}
	manager, store, starter := setupManager(t, factory, WithFailureThreshold(2))
	ctx := context.Background()

	saveTrigger(t, store, &models.Trigger{
		ID: "trg-1", WorkflowID: "wf-1", Type: "stub", State: models.TriggerStateActive,
	})

	require.NoError(t, manager.StartAll(ctx))

	defer manager.StopAll(ctx)

	starter.failWith(errors.New("store unavailable"))

	// First failure keeps the trigger active.
	require.Error(t, factory.created.callback(ctx, "stub:f1", nil))

	status, err := manager.Status(ctx, "trg-1")
	require.NoError(t, err)
	assert.Equal(t, models.TriggerStateActive, status.State)
	assert.Equal(t, int64(1), status.FailureCount)

	// The second consecutive failure hits the threshold.
	require.Error(t, factory.created.callback(ctx, "stub:f2", nil))

	status, err = manager.Status(ctx, "trg-1")
	require.NoError(t, err)
	assert.Equal(t, models.TriggerStateError, status.State)
	assert.Equal(t, int64(2), status.FailureCount)

	// Fires while errored are dropped, not attempted.
	require.NoError(t, factory.created.callback(ctx, "stub:f3", nil))
	assert.Empty(t, starter.started())

	// Resume recovers the trigger and resets the streak.
	starter.failWith(nil)
	require.NoError(t, manager.Resume(ctx, "trg-1"))

	require.NoError(t, factory.created.callback(ctx, "stub:f4", nil))
	assert.Len(t, starter.started(), 1)
}

func TestManager_FailedStartMarksError(t *testing.T) {
	manager, store, _ := setupManager(t, &stubTriggerFactory{})
	ctx := context.Background()

	saveTrigger(t, store, &models.Trigger{
		ID: "trg-bad", WorkflowID: "wf-1", Type: "unregistered", State: models.TriggerStateActive,
	})

	require.NoError(t, manager.StartAll(ctx))

	status, err := manager.Status(ctx, "trg-bad")
	require.NoError(t, err)
	assert.Equal(t, models.TriggerStateError, status.State)
	assert.Equal(t, int64(1), status.FailureCount)
}
