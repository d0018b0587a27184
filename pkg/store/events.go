package store

import (
	"context"
	"encoding/json"
)

// AppendJobEvent appends one event to a job's append-only log and notifies
// any listeners on the job_events channel via Postgres NOTIFY, so
// pkg/events' live-tail broadcaster can fan it out without polling.
func (s *Store) AppendJobEvent(ctx context.Context, jobID, eventType string, payload map[string]any) (*JobEvent, error) {
	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return nil, err
		}
		ev := s.mem.appendEvent(jobID, eventType, payload)
		return &ev, nil
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, newErr(CategoryValidation, "marshal event payload", err)
	}

	var out JobEvent
	err = s.executeWithRetry(ctx, "AppendJobEvent", func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
			INSERT INTO job_events (job_id, event_type, payload)
			VALUES ($1,$2,$3)
			RETURNING id, job_id, event_type, payload, created_at`,
			jobID, eventType, payloadJSON)
		if scanErr := scanJobEvent(row, &out); scanErr != nil {
			return scanErr
		}
		notifyPayload, _ := json.Marshal(map[string]any{"job_id": jobID, "event_id": out.ID})
		_, err := s.db.ExecContext(ctx, `SELECT pg_notify('job_events', $1)`, string(notifyPayload))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJobEvents pages a job's event log starting strictly after sinceID,
// backing the durable-cursor half of the job event stream (spec §4.12).
// limit <= 0 means unbounded.
func (s *Store) GetJobEvents(ctx context.Context, jobID string, sinceID int64, limit int) ([]JobEvent, error) {
	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return nil, err
		}
		return s.mem.getEvents(jobID, sinceID, limit), nil
	}

	var out []JobEvent
	err := s.executeWithRetry(ctx, "GetJobEvents", func(ctx context.Context) error {
		q := `
			SELECT id, job_id, event_type, payload, created_at
			FROM job_events
			WHERE job_id = $1 AND id > $2
			ORDER BY id ASC`
		args := []any{jobID, sinceID}
		if limit > 0 {
			q += ` LIMIT $3`
			args = append(args, limit)
		}
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = nil
		for rows.Next() {
			var ev JobEvent
			if err := scanJobEvent(rows, &ev); err != nil {
				return err
			}
			out = append(out, ev)
		}
		return rows.Err()
	})
	return out, err
}

func scanJobEvent(row rowScanner, ev *JobEvent) error {
	var payloadJSON []byte
	if err := row.Scan(&ev.ID, &ev.JobID, &ev.EventType, &payloadJSON, &ev.CreatedAt); err != nil {
		return err
	}
	if len(payloadJSON) > 0 {
		return json.Unmarshal(payloadJSON, &ev.Payload)
	}
	return nil
}
