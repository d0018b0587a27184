package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/corvid-labs/orchestrator/pkg/config"
	"github.com/corvid-labs/orchestrator/pkg/events"
	"github.com/corvid-labs/orchestrator/pkg/store"
)

// WorkerStatus is a worker's current activity state.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// JobRegistry is the subset of WorkerPool a Worker needs for cancellation
// registration.
type JobRegistry interface {
	RegisterJob(jobID string, cancel context.CancelFunc)
	UnregisterJob(jobID string)
}

// Worker polls Store for queued jobs and drives each one through a
// JobRunner (spec §4.12's worker loop).
type Worker struct {
	id      string
	store   *store.Store
	config  config.QueueConfig
	runner  JobRunner
	pool    JobRegistry
	log     *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker builds a Worker bound to s and runner.
func NewWorker(id string, s *store.Store, cfg config.QueueConfig, runner JobRunner, pool JobRegistry, log *slog.Logger) *Worker {
	return &Worker{
		id: id, store: s, config: cfg, runner: runner, pool: pool, log: log,
		stopCh: make(chan struct{}), status: WorkerStatusIdle, lastActivity: time.Now(),
	}
}

// Start begins the worker's polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop after its current job and waits for it
// to exit.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health reports the worker's current state.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID: w.id, Status: string(w.status), CurrentJobID: w.currentJobID,
		JobsProcessed: w.jobsProcessed, LastActivity: w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := w.log.With("worker_id", w.id)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context canceled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing job", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims the next queued job and runs it to a terminal
// status, mirroring spec §4.12's worker-loop pseudocode.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	job, err := w.store.ClaimNextJob(ctx, w.config.LeaseTimeout)
	if err != nil {
		return fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return ErrNoJobsAvailable
	}

	log := w.log.With("job_id", job.ID, "worker_id", w.id)
	log.Info("job claimed")

	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.pool.RegisterJob(job.ID, cancel)
	defer w.pool.UnregisterJob(job.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, job.ID)

	emit := events.ForJob(context.Background(), storeSink{w.store}, job.ID, w.log)
	onEvent := func(eventType string, payload map[string]any) { emit(events.Type(eventType), payload) }

	result, runErr := w.runner.Run(jobCtx, job.Type, job.Params, job.ID, onEvent)
	cancelHeartbeat()

	status, result := terminalStatus(jobCtx, runErr, result)
	if err := w.store.SetJobStatus(context.Background(), job.ID, status, result, true); err != nil {
		log.Error("failed to set terminal job status", "error", err)
		return err
	}
	onEvent(string(events.TypeStatusChanged), map[string]any{"status": string(status)})

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	log.Info("job processing complete", "status", status)
	return nil
}

// terminalStatus maps a JobRunner outcome to the job's final status and
// result payload, distinguishing cooperative cancellation from a generic
// failure per spec §4.12.
func terminalStatus(jobCtx context.Context, runErr error, result map[string]any) (store.JobStatus, map[string]any) {
	if runErr == nil {
		if result == nil {
			result = map[string]any{}
		}
		return store.JobSucceeded, result
	}
	if errors.Is(jobCtx.Err(), context.Canceled) {
		return store.JobCanceled, map[string]any{}
	}
	return store.JobFailed, map[string]any{"error": runErr.Error()}
}

// runHeartbeat refreshes the job's lease at <= leaseTimeout/3, per spec
// §4.12.
func (w *Worker) runHeartbeat(ctx context.Context, jobID string) {
	interval := w.config.HeartbeatInterval
	if interval <= 0 {
		interval = w.config.LeaseTimeout / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.HeartbeatJob(ctx, jobID); err != nil {
				w.log.Warn("heartbeat update failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}

// storeSink adapts *store.Store's (*JobEvent, error) AppendJobEvent to the
// single-error events.Sink interface.
type storeSink struct{ store *store.Store }

func (s storeSink) AppendJobEvent(ctx context.Context, jobID, eventType string, payload map[string]any) error {
	_, err := s.store.AppendJobEvent(ctx, jobID, eventType, payload)
	return err
}
