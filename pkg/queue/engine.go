package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/corvid-labs/orchestrator/pkg/config"
	"github.com/corvid-labs/orchestrator/pkg/store"
)

// ErrOverloaded is returned by Submit when the queue depth bound configured
// in QueueConfig.MaxQueueDepth is exceeded (spec §5's backpressure rule:
// submit returns an explicit error rather than silently queuing).
var ErrOverloaded = errors.New("queue: overloaded")

// Engine is the JobEngine facade: job submission plus the worker pool that
// drains it. Submit is safe to call from any goroutine, including request
// handlers that never touch the pool directly.
type Engine struct {
	store *store.Store
	pool  *WorkerPool
	cfg   config.QueueConfig
	log   *slog.Logger
}

// NewEngine builds an Engine. Call Start/Stop on the returned pool
// separately (via Pool()) once the caller's own lifecycle is ready.
func NewEngine(s *store.Store, podID string, cfg config.QueueConfig, runner JobRunner, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store: s, cfg: cfg, log: log,
		pool: NewWorkerPool(podID, s, cfg, runner, log),
	}
}

// Pool exposes the underlying WorkerPool for lifecycle management
// (Start/Stop) and health reporting.
func (e *Engine) Pool() *WorkerPool { return e.pool }

// SubmitResult mirrors spec §4.12's submit(tool, params) return shape.
type SubmitResult struct {
	JobID string
}

// Submit inserts a queued job row and appends its `submitted` event,
// transactionally with respect to the insert (spec §4.12). idempotencyKey,
// when non-empty and QueueConfig.IdempotencyEnabled, causes any later
// resubmission with the same key to return the original job id instead of
// creating a duplicate; the key does not expire (IdempotencyTTL is not
// read).
func (e *Engine) Submit(ctx context.Context, jobType string, params map[string]any, idempotencyKey *string) (SubmitResult, error) {
	if e.cfg.MaxQueueDepth > 0 {
		depth, err := e.store.QueueDepth(ctx)
		if err == nil && depth >= e.cfg.MaxQueueDepth {
			return SubmitResult{}, ErrOverloaded
		}
	}
	key := idempotencyKey
	if !e.cfg.IdempotencyEnabled {
		key = nil
	}
	// CreateJob appends the "submitted" event transactionally with the
	// insert itself (spec §4.12); no separate append is needed here.
	job, err := e.store.CreateJob(ctx, jobType, params, key)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("queue: submit: %w", err)
	}
	return SubmitResult{JobID: job.ID}, nil
}

// Cancel requests cooperative cancellation of jobID: it sets the durable
// canceled flag via Store immediately, and additionally cancels the
// in-process context if the job happens to be running on this pod (spec
// §4.12 — best-effort, observed at the next event-append or stage
// boundary).
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	if err := e.store.CancelJob(ctx, jobID); err != nil {
		return err
	}
	e.pool.CancelJob(jobID)
	return nil
}
