// Package triggers runs the trigger manager: it owns one trigger instance
// per active workflow, deduplicates fires, and hands accepted events to the
// engine to start runs.
package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/pkg/eventbus"
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/persistence"
	"github.com/weftlabs/weft/pkg/protocol"
	"github.com/weftlabs/weft/pkg/registry"
	eventtrigger "github.com/weftlabs/weft/pkg/triggers/event"
)

const (
	DefaultDedupWindow      = time.Minute
	DefaultEventRetain      = 24 * time.Hour
	DefaultPruneInterval    = time.Hour
	DefaultFailureThreshold = 5
)

// RunStarter is the slice of the engine the manager needs: turning an
// accepted trigger event into a queued run.
type RunStarter interface {
	StartRunFromTrigger(ctx context.Context, workflowID string, event *models.TriggerEvent) (string, error)
}

type Manager struct {
	triggers  persistence.TriggerRepository
	registry  *registry.Registry
	starter   RunStarter
	publisher eventbus.EventPublisher
	logger    *slog.Logger

	dedupWindow      time.Duration
	eventRetain      time.Duration
	failureThreshold int

	mu         sync.RWMutex
	running    map[string]protocol.Trigger // trigger ID -> live instance
	failStreak map[string]int              // trigger ID -> consecutive run-start failures
}

type Option func(*Manager)

func WithDedupWindow(window time.Duration) Option {
	return func(m *Manager) { m.dedupWindow = window }
}

func WithEventRetention(retain time.Duration) Option {
	return func(m *Manager) { m.eventRetain = retain }
}

// WithFailureThreshold sets how many consecutive run-start failures move a
// trigger to the error state.
func WithFailureThreshold(threshold int) Option {
	return func(m *Manager) {
		if threshold > 0 {
			m.failureThreshold = threshold
		}
	}
}

func NewManager(
	triggers persistence.TriggerRepository,
	reg *registry.Registry,
	starter RunStarter,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	opts ...Option,
) *Manager {
	manager := &Manager{
		triggers:         triggers,
		registry:         reg,
		starter:          starter,
		publisher:        publisher,
		logger:           logger.With("module", "trigger_manager"),
		dedupWindow:      DefaultDedupWindow,
		eventRetain:      DefaultEventRetain,
		failureThreshold: DefaultFailureThreshold,
		running:          make(map[string]protocol.Trigger),
		failStreak:       make(map[string]int),
	}

	for _, opt := range opts {
		opt(manager)
	}

	return manager
}

// StartAll instantiates and starts every persisted trigger that is not
// paused. A trigger that fails to start is marked error instead of taking
// the manager down.
func (m *Manager) StartAll(ctx context.Context) error {
	persisted, err := m.triggers.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load triggers: %w", err)
	}

	for _, trigger := range persisted {
		if trigger.State == models.TriggerStatePaused {
			continue
		}

		if err := m.startTrigger(ctx, trigger); err != nil {
			m.logger.ErrorContext(ctx, "Trigger failed to start",
				"trigger_id", trigger.ID, "type", trigger.Type, "error", err)

			m.markError(ctx, trigger)
		}
	}

	return nil
}

func (m *Manager) startTrigger(ctx context.Context, trigger *models.Trigger) error {
	config := make(map[string]any, len(trigger.Configuration)+1)
	for key, value := range trigger.Configuration {
		config[key] = value
	}

	config["id"] = trigger.ID

	instance, err := m.registry.CreateTrigger(trigger.Type, config)
	if err != nil {
		return err
	}

	callback := m.callbackFor(trigger.ID, trigger.WorkflowID, trigger.Type)

	if err := instance.Start(ctx, callback); err != nil {
		return err
	}

	m.mu.Lock()
	m.running[trigger.ID] = instance
	m.mu.Unlock()

	if trigger.State != models.TriggerStateActive {
		trigger.State = models.TriggerStateActive
		trigger.UpdatedAt = time.Now().UTC()

		if err := m.triggers.Save(ctx, trigger); err != nil {
			m.logger.WarnContext(ctx, "Failed to persist trigger state", "trigger_id", trigger.ID, "error", err)
		}
	}

	m.logger.InfoContext(ctx, "Trigger started", "trigger_id", trigger.ID, "type", trigger.Type)

	return nil
}

// callbackFor binds a fire-delivery callback to one trigger.
func (m *Manager) callbackFor(triggerID, workflowID, triggerType string) protocol.TriggerCallback {
	return func(ctx context.Context, dedupKey string, payload map[string]any) error {
		_, err := m.deliver(ctx, triggerID, workflowID, triggerType, dedupKey, payload)

		return err
	}
}

// deliver applies the state check, deduplication, and run admission in order
// and returns the admitted run's ID, or empty when the fire was dropped.
func (m *Manager) deliver(ctx context.Context, triggerID, workflowID, triggerType, dedupKey string, payload map[string]any) (string, error) {
	trigger, err := m.triggers.GetByID(ctx, triggerID)
	if err != nil {
		return "", fmt.Errorf("failed to load trigger %s: %w", triggerID, err)
	}

	now := time.Now().UTC()

	if trigger.State != models.TriggerStateActive {
		trigger.DroppedCount++
		trigger.UpdatedAt = now

		return "", m.triggers.Save(ctx, trigger)
	}

	event := &models.TriggerEvent{
		ID:         uuid.New().String(),
		TriggerID:  triggerID,
		WorkflowID: workflowID,
		DedupKey:   dedupKey,
		Payload:    payload,
		FiredAt:    now,
	}

	// The conditional insert is the dedup decision; concurrent fires with the
	// same key race on the store, and exactly one wins.
	accepted, err := m.triggers.SaveEventOnce(ctx, event, m.dedupWindow)
	if err != nil {
		return "", fmt.Errorf("failed to record trigger event: %w", err)
	}

	if !accepted {
		m.logger.DebugContext(ctx, "Duplicate fire dropped",
			"trigger_id", triggerID, "dedup_key", dedupKey)

		trigger.DroppedCount++
		trigger.UpdatedAt = now

		return "", m.triggers.Save(ctx, trigger)
	}

	trigger.FireCount++
	trigger.LastFiredAt = &now
	trigger.UpdatedAt = now

	if err := m.triggers.Save(ctx, trigger); err != nil {
		m.logger.WarnContext(ctx, "Failed to update trigger counters", "trigger_id", triggerID, "error", err)
	}

	fired := events.TriggerFired{
		BaseEvent:   events.NewBaseEvent(events.TriggerFiredEvent, workflowID),
		TriggerID:   triggerID,
		TriggerType: triggerType,
		DedupKey:    dedupKey,
		Payload:     payload,
	}
	if err := m.publisher.Publish(ctx, workflowID, fired); err != nil {
		m.logger.WarnContext(ctx, "Failed to publish trigger fired event", "trigger_id", triggerID, "error", err)
	}

	runID, err := m.starter.StartRunFromTrigger(ctx, workflowID, event)
	if err != nil {
		m.recordRunStartFailure(ctx, trigger)

		return "", fmt.Errorf("failed to start run: %w", err)
	}

	m.mu.Lock()
	delete(m.failStreak, triggerID)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "Trigger fire accepted",
		"trigger_id", triggerID, "workflow_id", workflowID, "run_id", runID)

	return runID, nil
}

// recordRunStartFailure counts consecutive failed admissions. At the
// threshold the trigger moves to the error state and its instance stops;
// Resume recovers it.
func (m *Manager) recordRunStartFailure(ctx context.Context, trigger *models.Trigger) {
	m.mu.Lock()
	m.failStreak[trigger.ID]++
	streak := m.failStreak[trigger.ID]
	m.mu.Unlock()

	trigger.FailureCount++
	trigger.UpdatedAt = time.Now().UTC()

	if streak >= m.failureThreshold {
		m.logger.ErrorContext(ctx, "Trigger hit its failure threshold, stopping",
			"trigger_id", trigger.ID, "consecutive_failures", streak)

		m.stopInstance(ctx, trigger.ID)

		trigger.State = models.TriggerStateError
	}

	if err := m.triggers.Save(ctx, trigger); err != nil {
		m.logger.WarnContext(ctx, "Failed to persist trigger failure", "trigger_id", trigger.ID, "error", err)
	}
}

// Reload stops a workflow's trigger if running and starts it from its
// persisted definition. Called after workflow save.
func (m *Manager) Reload(ctx context.Context, workflowID string) error {
	trigger, err := m.triggers.GetByWorkflowID(ctx, workflowID)
	if err != nil {
		return err
	}

	m.stopInstance(ctx, trigger.ID)

	if trigger.State == models.TriggerStatePaused {
		return nil
	}

	if err := m.startTrigger(ctx, trigger); err != nil {
		m.markError(ctx, trigger)

		return err
	}

	return nil
}

// Remove stops and forgets a workflow's trigger. Called on workflow delete.
func (m *Manager) Remove(ctx context.Context, workflowID string) error {
	trigger, err := m.triggers.GetByWorkflowID(ctx, workflowID)
	if err != nil {
		return err
	}

	m.stopInstance(ctx, trigger.ID)

	return m.triggers.DeleteByWorkflowID(ctx, workflowID)
}

func (m *Manager) Pause(ctx context.Context, triggerID string) error {
	trigger, err := m.triggers.GetByID(ctx, triggerID)
	if err != nil {
		return err
	}

	m.stopInstance(ctx, triggerID)

	trigger.State = models.TriggerStatePaused
	trigger.UpdatedAt = time.Now().UTC()

	return m.triggers.Save(ctx, trigger)
}

func (m *Manager) Resume(ctx context.Context, triggerID string) error {
	trigger, err := m.triggers.GetByID(ctx, triggerID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.failStreak, triggerID)
	m.mu.Unlock()

	trigger.State = models.TriggerStateActive
	trigger.UpdatedAt = time.Now().UTC()

	if err := m.triggers.Save(ctx, trigger); err != nil {
		return err
	}

	if err := m.startTrigger(ctx, trigger); err != nil {
		m.markError(ctx, trigger)

		return err
	}

	return nil
}

func (m *Manager) Status(ctx context.Context, triggerID string) (*models.TriggerStatus, error) {
	trigger, err := m.triggers.GetByID(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	return &models.TriggerStatus{
		TriggerID:    trigger.ID,
		WorkflowID:   trigger.WorkflowID,
		Type:         trigger.Type,
		State:        trigger.State,
		LastFiredAt:  trigger.LastFiredAt,
		FireCount:    trigger.FireCount,
		DroppedCount: trigger.DroppedCount,
		FailureCount: trigger.FailureCount,
	}, nil
}

// Fire injects an operator fire into a workflow's trigger, bypassing its
// event source, and returns the admitted run's ID. Every fire gets a fresh
// dedup key, so manual fires are never deduplicated.
func (m *Manager) Fire(ctx context.Context, workflowID string, payload map[string]any) (string, error) {
	trigger, err := m.triggers.GetByWorkflowID(ctx, workflowID)
	if err != nil {
		return "", err
	}

	dedupKey := fmt.Sprintf("manual:%s:%s", trigger.ID, uuid.New().String())

	if payload == nil {
		payload = map[string]any{}
	}

	payload["manual"] = true

	return m.deliver(ctx, trigger.ID, trigger.WorkflowID, trigger.Type, dedupKey, payload)
}

// RouteTerminalRun fans a terminal run event out to matching event triggers,
// which is how workflow chaining happens.
func (m *Manager) RouteTerminalRun(ctx context.Context, sourceWorkflowID, sourceRunID, outcome string, payload map[string]any) {
	m.mu.RLock()
	instances := make([]protocol.Trigger, 0, len(m.running))
	for _, instance := range m.running {
		instances = append(instances, instance)
	}
	m.mu.RUnlock()

	for _, instance := range instances {
		chained, ok := instance.(*eventtrigger.EventTrigger)
		if !ok || !chained.Matches(sourceWorkflowID, outcome) {
			continue
		}

		if err := chained.Deliver(ctx, sourceRunID, payload); err != nil {
			m.logger.ErrorContext(ctx, "Failed to deliver chained fire",
				"trigger_id", chained.ID, "source_run_id", sourceRunID, "error", err)
		}
	}
}

// PruneLoop deletes trigger events past the retention horizon. Runs until
// the context is cancelled.
func (m *Manager) PruneLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := m.triggers.PruneEvents(ctx, m.eventRetain)
			if err != nil {
				m.logger.ErrorContext(ctx, "Trigger event prune failed", "error", err)

				continue
			}

			if pruned > 0 {
				m.logger.DebugContext(ctx, "Pruned trigger events", "count", pruned)
			}
		}
	}
}

func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	instances := m.running
	m.running = make(map[string]protocol.Trigger)
	m.mu.Unlock()

	for triggerID, instance := range instances {
		if err := instance.Stop(ctx); err != nil {
			m.logger.WarnContext(ctx, "Trigger failed to stop", "trigger_id", triggerID, "error", err)
		}
	}
}

func (m *Manager) stopInstance(ctx context.Context, triggerID string) {
	m.mu.Lock()
	instance, running := m.running[triggerID]
	delete(m.running, triggerID)
	m.mu.Unlock()

	if running {
		if err := instance.Stop(ctx); err != nil {
			m.logger.WarnContext(ctx, "Trigger failed to stop", "trigger_id", triggerID, "error", err)
		}
	}
}

func (m *Manager) markError(ctx context.Context, trigger *models.Trigger) {
	trigger.State = models.TriggerStateError
	trigger.FailureCount++
	trigger.UpdatedAt = time.Now().UTC()

	if err := m.triggers.Save(ctx, trigger); err != nil {
		m.logger.WarnContext(ctx, "Failed to persist trigger error state", "trigger_id", trigger.ID, "error", err)
	}
}
