package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/weftlabs/weft/pkg/cmd"
	"github.com/weftlabs/weft/pkg/conditions"
	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/engine"
	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/queue"
	"github.com/weftlabs/weft/pkg/resilience"
	"github.com/weftlabs/weft/pkg/triggers"
	"github.com/weftlabs/weft/pkg/web"
	"github.com/weftlabs/weft/pkg/worker"
)

// Daemon owns every component of a single-process deployment and their
// startup and shutdown ordering.
type Daemon struct {
	id     string
	config *config.Config
	logger *slog.Logger
}

func NewDaemon(id string, cfg *config.Config, logger *slog.Logger) *Daemon {
	return &Daemon{id: id, config: cfg, logger: logger}
}

func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := cmd.NewPersistence(ctx, d.logger, d.config.DatabasePath)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.Background()); err != nil {
			d.logger.Error("Failed to close persistence", "error", err)
		}
	}()

	bus := cmd.NewEventBus(d.logger)

	defer func() {
		if err := bus.Close(); err != nil {
			d.logger.Error("Failed to close event bus", "error", err)
		}
	}()

	reg := cmd.NewRegistry(d.logger)

	jobQueue := queue.NewQueue(store.Jobs(), bus, d.logger,
		queue.WithRetryPolicy(models.RetryPolicy{
			MaxAttempts: d.config.Queue.MaxAttempts,
			Strategy:    models.BackoffExponential,
			BaseDelayMs: 1000,
			MaxDelayMs:  5 * 60 * 1000,
			Jitter:      true,
		}),
		queue.WithStaleLockAge(d.config.Queue.StaleLockAge),
	)

	conditionEngine := conditions.NewEngine()
	eng := engine.NewEngine(store, jobQueue, conditionEngine, reg, bus, d.logger)

	manager := triggers.NewManager(store.Triggers(), reg, eng, bus, d.logger,
		triggers.WithDedupWindow(d.config.Triggers.DedupWindow),
		triggers.WithEventRetention(d.config.Triggers.EventRetention),
		triggers.WithFailureThreshold(d.config.Triggers.FailureThreshold),
	)
	eng.SetTriggerController(manager)

	executor := worker.NewExecutor(
		store,
		reg,
		conditionEngine,
		resilience.NewBreakerSet(resilience.BreakerConfig{}),
		resilience.NewRateLimiter(),
		bus,
		d.logger,
	)

	pool := worker.NewPool(d.id, jobQueue, executor, d.logger,
		worker.WithWorkerBounds(d.config.Workers.Min, d.config.Workers.Max),
		worker.WithPollInterval(d.config.Workers.PollInterval),
		worker.WithIdleTimeout(d.config.Workers.IdleTimeout),
	)

	// Terminal run events feed workflows that trigger on other workflows.
	if err := bus.Handle(events.RunCompletedEvent, func(ctx context.Context, event any) error {
		if completed, ok := event.(*events.RunCompleted); ok {
			manager.RouteTerminalRun(ctx, completed.WorkflowID, completed.RunID, "completed", completed.Outputs)
		}

		return nil
	}); err != nil {
		return err
	}

	if err := bus.Handle(events.RunFailedEvent, func(ctx context.Context, event any) error {
		if failed, ok := event.(*events.RunFailed); ok {
			manager.RouteTerminalRun(ctx, failed.WorkflowID, failed.RunID, "failed", map[string]any{
				"error": failed.Error, "node_id": failed.NodeID,
			})
		}

		return nil
	}); err != nil {
		return err
	}

	if err := bus.Subscribe(ctx); err != nil {
		return err
	}

	if err := manager.StartAll(ctx); err != nil {
		return err
	}

	defer manager.StopAll(context.Background())

	pool.Start(ctx)

	go jobQueue.SweepStaleLocks(ctx, d.config.Queue.SweepInterval)
	go manager.PruneLoop(ctx, d.config.Triggers.PruneInterval)

	api := web.NewAPI(d.logger, eng, manager, jobQueue, store)

	apiErr := make(chan error, 1)

	go func() {
		apiErr <- api.Start(d.config.API.Port)
	}()

	d.logger.InfoContext(ctx, "Daemon started", "port", d.config.API.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		d.logger.InfoContext(ctx, "Shutting down", "signal", sig.String())
	case err := <-apiErr:
		if err != nil {
			d.logger.ErrorContext(ctx, "API server failed", "error", err)
		}
	case <-ctx.Done():
	}

	cancel()
	pool.Wait()

	return nil
}
