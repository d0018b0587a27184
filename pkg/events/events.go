// Package events defines the closed set of job event types (spec §4.12)
// and the Postgres LISTEN/NOTIFY broadcaster + durable-cursor catchup that
// together back JobEngine's event stream.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Type is one of the closed set of job event types. Clients must ignore
// any value outside this set rather than error, since the set may grow.
type Type string

const (
	TypeSubmitted      Type = "submitted"
	TypeUIHint         Type = "ui_hint"
	TypeClientContext  Type = "client_context"
	TypePlanningUsage  Type = "planning_usage"
	TypeAgentStarted   Type = "agent_started"
	TypeAgentUsage     Type = "agent_usage"
	TypeAgentCompleted Type = "agent_completed"
	TypeSynthesisToken Type = "synthesis_token"
	TypeSynthesisUsage Type = "synthesis_usage"
	TypeSynthesisError Type = "synthesis_error"
	TypeReportSaved    Type = "report_saved"
	TypeStatusChanged  Type = "status_changed"
)

// Emitter appends one event to a job's log. Pipeline and JobEngine accept
// this as a dependency rather than a concrete Store reference so
// synchronous (non-job) requests can supply a progress-channel emitter
// instead.
type Emitter func(eventType Type, payload map[string]any)

// Sink is the subset of Store's event API an Emitter is typically backed
// by (kept narrow so pkg/events doesn't import pkg/store).
type Sink interface {
	AppendJobEvent(ctx context.Context, jobID string, eventType string, payload map[string]any) error
}

// ForJob returns an Emitter that appends every event to jobID's durable
// log via sink, logging (but not failing the caller on) append errors.
// Store's AppendJobEvent also returns the persisted *store.JobEvent;
// callers wrap it in a single-return adapter to satisfy Sink, since this
// package deliberately doesn't import pkg/store.
func ForJob(ctx context.Context, sink Sink, jobID string, log *slog.Logger) Emitter {
	if log == nil {
		log = slog.Default()
	}
	return func(eventType Type, payload map[string]any) {
		if err := sink.AppendJobEvent(ctx, jobID, string(eventType), payload); err != nil {
			log.Warn("append job event failed", "job_id", jobID, "event_type", eventType, "error", err)
		}
	}
}

// Noop discards every event; used for code paths (e.g. cache hits with no
// job context) that must still call an Emitter unconditionally.
func Noop(Type, map[string]any) {}

// Broadcaster relays Postgres NOTIFY messages on the job_events channel to
// subscribers, used by the live-tail half of the Control Protocol's SSE
// endpoint once a client has caught up on the durable cursor.
type Broadcaster struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewBroadcaster wraps a pgx pool dedicated to LISTEN (a single long-lived
// connection acquired per Subscribe call, per pgx's LISTEN/NOTIFY idiom).
func NewBroadcaster(pool *pgxpool.Pool, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{pool: pool, log: log}
}

// notification is the JSON payload Store's AppendJobEvent sends via
// pg_notify, decoded here so Subscribe can filter by job id cheaply
// without a roundtrip per message.
type notification struct {
	JobID   string `json:"job_id"`
	EventID int64  `json:"event_id"`
}

// Subscribe blocks, relaying job_events notifications for jobID to onNotify
// until ctx is canceled or the connection fails. Callers typically run
// this in its own goroutine after reading the durable backlog via
// Store.GetJobEvents.
func (b *Broadcaster) Subscribe(ctx context.Context, jobID string, onNotify func(eventID int64)) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN job_events"); err != nil {
		return err
	}
	for {
		notif, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var n notification
		if jsonErr := json.Unmarshal([]byte(notif.Payload), &n); jsonErr != nil {
			b.log.Warn("malformed job_events notification", "error", jsonErr)
			continue
		}
		if n.JobID != jobID {
			continue
		}
		onNotify(n.EventID)
	}
}
