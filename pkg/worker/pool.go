package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/queue"
)

const (
	DefaultMinWorkers   = 2
	DefaultMaxWorkers   = 8
	DefaultPollInterval = 250 * time.Millisecond
	DefaultIdleTimeout  = 30 * time.Second
)

// Pool maintains between min and max claim loops over the job queue. Core
// workers live for the pool's lifetime; surge workers spawn when every
// worker is busy and exit after sitting idle.
type Pool struct {
	id       string
	queue    *queue.Queue
	executor *Executor
	logger   *slog.Logger

	minWorkers   int
	maxWorkers   int
	pollInterval time.Duration
	idleTimeout  time.Duration

	wg      sync.WaitGroup
	workers atomic.Int64
	busy    atomic.Int64
	nextID  atomic.Int64
}

type PoolOption func(*Pool)

func WithWorkerBounds(minWorkers, maxWorkers int) PoolOption {
	return func(p *Pool) {
		if minWorkers > 0 {
			p.minWorkers = minWorkers
		}

		if maxWorkers >= p.minWorkers {
			p.maxWorkers = maxWorkers
		}
	}
}

func WithPollInterval(interval time.Duration) PoolOption {
	return func(p *Pool) {
		if interval > 0 {
			p.pollInterval = interval
		}
	}
}

func WithIdleTimeout(timeout time.Duration) PoolOption {
	return func(p *Pool) {
		if timeout > 0 {
			p.idleTimeout = timeout
		}
	}
}

func NewPool(id string, jobQueue *queue.Queue, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	pool := &Pool{
		id:           id,
		queue:        jobQueue,
		executor:     executor,
		logger:       logger.With("module", "worker_pool", "pool_id", id),
		minWorkers:   DefaultMinWorkers,
		maxWorkers:   DefaultMaxWorkers,
		pollInterval: DefaultPollInterval,
		idleTimeout:  DefaultIdleTimeout,
	}

	for _, opt := range opts {
		opt(pool)
	}

	return pool
}

// Start launches the core workers and the scaling supervisor, then returns.
// Workers stop when ctx is cancelled; Wait blocks until they drain.
func (p *Pool) Start(ctx context.Context) {
	p.logger.InfoContext(ctx, "Starting worker pool",
		"min_workers", p.minWorkers, "max_workers", p.maxWorkers)

	for range p.minWorkers {
		p.spawn(ctx, true)
	}

	p.wg.Add(1)

	go p.supervise(ctx)
}

// Wait blocks until every worker has finished its in-flight job and exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Workers reports the current worker count.
func (p *Pool) Workers() int {
	return int(p.workers.Load())
}

// Busy reports how many workers are executing a job right now.
func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

func (p *Pool) supervise(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			workers := p.workers.Load()
			if p.busy.Load() == workers && workers < int64(p.maxWorkers) {
				p.spawn(ctx, false)
			}
		}
	}
}

func (p *Pool) spawn(ctx context.Context, core bool) {
	workerID := fmt.Sprintf("%s-%d", p.id, p.nextID.Add(1))

	p.workers.Add(1)
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		defer p.workers.Add(-1)

		p.runWorker(ctx, workerID, core)
	}()
}

func (p *Pool) runWorker(ctx context.Context, workerID string, core bool) {
	logger := p.logger.With("worker_id", workerID)
	logger.InfoContext(ctx, "Worker started", "core", core)

	idleSince := time.Now()

	for {
		if ctx.Err() != nil {
			logger.InfoContext(ctx, "Worker stopped")

			return
		}

		job, err := p.queue.Claim(ctx, workerID)
		if err != nil {
			if !errors.Is(err, queue.ErrNoJobAvailable) {
				logger.ErrorContext(ctx, "Failed to claim job", "error", err)
			}

			if !core && time.Since(idleSince) >= p.idleTimeout {
				logger.InfoContext(ctx, "Surge worker idle, exiting")

				return
			}

			select {
			case <-ctx.Done():
			case <-time.After(p.pollInterval):
			}

			continue
		}

		p.busy.Add(1)
		p.process(ctx, logger, job)
		p.busy.Add(-1)

		idleSince = time.Now()
	}
}

func (p *Pool) process(ctx context.Context, logger *slog.Logger, job *models.Job) {
	logger = logger.With("job_id", job.ID, "run_id", job.RunID)
	logger.InfoContext(ctx, "Processing job", "attempt", job.Attempts)

	startedAt := time.Now().UTC()

	err := p.executor.ExecuteRun(ctx, job)
	if err == nil {
		if completeErr := p.queue.Complete(ctx, job); completeErr != nil {
			logger.ErrorContext(ctx, "Failed to complete job", "error", completeErr)
		}

		return
	}

	logger.WarnContext(ctx, "Job execution failed", "error", err)

	if failErr := p.queue.ReportFailure(ctx, job, err, startedAt); failErr != nil {
		logger.ErrorContext(ctx, "Failed to report job failure", "error", failErr)
	}
}
