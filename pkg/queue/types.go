// Package queue implements JobEngine (spec §4.12): a worker pool that
// claims queued jobs from Store and drives each one through a
// JobRunner (typically the research Pipeline).
package queue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced by pollAndProcess's inner claim step.
var (
	// ErrNoJobsAvailable indicates no queued job was available to claim.
	ErrNoJobsAvailable = errors.New("queue: no jobs available")
)

// JobRunner executes one job to completion, forwarding lifecycle events
// through onEvent. The runner owns the job's full lifecycle internally;
// the worker only handles claiming, heartbeat, and terminal status update.
type JobRunner interface {
	Run(ctx context.Context, jobType string, params map[string]any, jobID string, onEvent EventFunc) (result map[string]any, err error)
}

// EventFunc appends one lifecycle event to a job's durable log.
type EventFunc func(eventType string, payload map[string]any)

// PoolHealth reports the worker pool's current state, surfaced by
// get_server_status.
type PoolHealth struct {
	PodID          string         `json:"pod_id"`
	ActiveWorkers  int            `json:"active_workers"`
	TotalWorkers   int            `json:"total_workers"`
	QueueDepth     int            `json:"queue_depth,omitempty"`
	WorkerStats    []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth reports one worker's current state.
type WorkerHealth struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"` // "idle" or "working"
	CurrentJobID    string    `json:"current_job_id,omitempty"`
	JobsProcessed   int       `json:"jobs_processed"`
	LastActivity    time.Time `json:"last_activity"`
}
