// Package schedule implements the cron-based trigger.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/weftlabs/weft/pkg/protocol"
)

type ScheduleTrigger struct {
	ID       string
	CronExpr string
	Enabled  bool

	cron     *cron.Cron
	callback protocol.TriggerCallback
	logger   *slog.Logger
}

func NewScheduleTrigger(config map[string]any, logger *slog.Logger) (*ScheduleTrigger, error) {
	id, _ := config["id"].(string)
	cronExpr, _ := config["cron"].(string)

	enabled := true
	if value, ok := config["enabled"].(bool); ok {
		enabled = value
	}

	trigger := &ScheduleTrigger{
		ID:       id,
		CronExpr: cronExpr,
		Enabled:  enabled,
		logger: logger.With(
			"module", "schedule_trigger",
			"id", id,
			"cron", cronExpr,
		),
	}

	if err := trigger.Validate(); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *ScheduleTrigger) Validate() error {
	if t.ID == "" {
		return errors.New("schedule trigger ID is required")
	}

	if t.CronExpr == "" {
		return errors.New("schedule trigger cron expression is required")
	}

	if _, err := cron.ParseStandard(t.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	return nil
}

func (t *ScheduleTrigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.Info("ScheduleTrigger is disabled")

		return nil
	}

	t.logger.Info("Starting ScheduleTrigger")
	t.callback = callback

	t.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := t.cron.AddFunc(t.CronExpr, t.run); err != nil {
		return fmt.Errorf("failed to add cron job for trigger %s: %w", t.ID, err)
	}

	t.cron.Start()

	return nil
}

func (t *ScheduleTrigger) run() {
	firedAt := time.Now().UTC()

	// One occurrence per minute bucket: if two schedulers overlap or a fire
	// is replayed, the shared dedup key collapses them to one run.
	dedupKey := fmt.Sprintf("schedule:%s:%s", t.ID, firedAt.Truncate(time.Minute).Format(time.RFC3339))

	payload := map[string]any{
		"timestamp": firedAt.Format(time.RFC3339),
		"cron":      t.CronExpr,
	}

	go func() {
		if err := t.callback(context.Background(), dedupKey, payload); err != nil {
			t.logger.Error("Error delivering scheduled fire", "error", err)
		}
	}()
}

func (t *ScheduleTrigger) Stop(ctx context.Context) error {
	t.logger.Info("Stopping ScheduleTrigger", "id", t.ID)

	if t.cron != nil {
		t.cron.Stop()
	}

	return nil
}
