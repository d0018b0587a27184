package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/corvid-labs/orchestrator/pkg/config"
	"github.com/corvid-labs/orchestrator/pkg/store"
)

// WorkerPool manages a pool of JobEngine workers, all claiming work from
// the same Store.
type WorkerPool struct {
	podID   string
	store   *store.Store
	config  config.QueueConfig
	runner  JobRunner
	log     *slog.Logger
	workers []*Worker

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu          sync.RWMutex
	activeJobs  map[string]context.CancelFunc
	started     bool
}

// NewWorkerPool builds a WorkerPool bound to store and runner.
func NewWorkerPool(podID string, s *store.Store, cfg config.QueueConfig, runner JobRunner, log *slog.Logger) *WorkerPool {
	if log == nil {
		log = slog.Default()
	}
	return &WorkerPool{
		podID:      podID,
		store:      s,
		config:     cfg,
		runner:     runner,
		log:        log,
		workers:    make([]*Worker, 0, cfg.WorkerCount),
		stopCh:     make(chan struct{}),
		activeJobs: make(map[string]context.CancelFunc),
	}
}

// Start spawns the configured number of worker goroutines. Safe to call
// once; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.log.Info("starting job worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		id := fmt.Sprintf("%s-worker-%d", p.podID, i)
		w := NewWorker(id, p.store, p.config, p.runner, p, p.log)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}
}

// Stop signals every worker to finish its current job and exit, then
// waits for them all to return.
func (p *WorkerPool) Stop() {
	p.log.Info("stopping job worker pool", "pod_id", p.podID)
	for _, w := range p.workers {
		w.Stop()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// RegisterJob stores a cancel function so CancelJob can stop work claimed
// on this pod without a round trip through Store.
func (p *WorkerPool) RegisterJob(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeJobs[jobID] = cancel
}

// UnregisterJob removes the cancel function once a job finishes.
func (p *WorkerPool) UnregisterJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeJobs, jobID)
}

// CancelJob cancels jobID's context if it is running on this pod. Returns
// false if the job isn't active here — callers should still call
// Store.CancelJob so the flag is observed pod-wide (spec §4.12's
// cooperative, best-effort cancellation).
func (p *WorkerPool) CancelJob(jobID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeJobs[jobID]; ok {
		cancel()
		return true
	}
	return false
}

// Health reports the pool's current state for get_server_status.
func (p *WorkerPool) Health() PoolHealth {
	stats := make([]WorkerHealth, len(p.workers))
	active := 0
	for i, w := range p.workers {
		stats[i] = w.Health()
		if stats[i].Status == string(WorkerStatusWorking) {
			active++
		}
	}
	return PoolHealth{
		PodID: p.podID, ActiveWorkers: active, TotalWorkers: len(p.workers), WorkerStats: stats,
	}
}
