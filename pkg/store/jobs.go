package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// NewJobID generates an opaque job identifier in the reference
// job_<millis>_<random> shape described by spec §3.
func NewJobID(now time.Time) string {
	return fmt.Sprintf("job_%d_%06d", now.UnixMilli(), rand.IntN(1_000_000))
}

// CreateJob inserts a new queued job together with its `submitted` event.
// When idempotencyKey is non-nil and a job already carries it, that job is
// returned instead of creating a duplicate; on Postgres the key lookup and
// the insert run in one transaction. Keys do not expire: a matching job is
// returned however old it is, and QueueConfig.IdempotencyTTL is not read.
func (s *Store) CreateJob(ctx context.Context, jobType string, params map[string]any, idempotencyKey *string) (*Job, error) {
	now := time.Now()
	j := &Job{
		ID:             NewJobID(now),
		Type:           jobType,
		Params:         params,
		Status:         JobQueued,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return nil, err
		}
		if idempotencyKey != nil {
			if existing, ok := s.mem.findIdempotent(*idempotencyKey); ok {
				return existing, nil
			}
		}
		s.mem.createJob(j)
		s.mem.appendEvent(j.ID, "submitted", map[string]any{"type": jobType})
		return j, nil
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, newErr(CategoryValidation, "marshal job params", err)
	}

	err = s.executeWithRetry(ctx, "CreateJob", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		if idempotencyKey != nil {
			row := tx.QueryRowContext(ctx, `SELECT id FROM jobs WHERE idempotency_key = $1`, *idempotencyKey)
			var existingID string
			switch scanErr := row.Scan(&existingID); scanErr {
			case nil:
				existing, getErr := s.getJobTx(ctx, tx, existingID)
				if getErr != nil {
					return getErr
				}
				*j = *existing
				return tx.Commit()
			case sql.ErrNoRows:
				// fall through to insert
			default:
				return scanErr
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO jobs (id, type, params, status, idempotency_key, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING`,
			j.ID, j.Type, paramsJSON, j.Status, j.IdempotencyKey, j.CreatedAt, j.UpdatedAt)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO job_events (job_id, event_type, payload) VALUES ($1,'submitted',$2)`,
			j.ID, mustJSON(map[string]any{"type": jobType})); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Store) getJobTx(ctx context.Context, tx *sql.Tx, id string) (*Job, error) {
	row := tx.QueryRowContext(ctx, jobSelectSQL+` WHERE id = $1`, id)
	var j Job
	if err := scanJob(row, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

const jobSelectSQL = `
	SELECT id, type, params, status, progress_pct, progress_msg, result, canceled,
	       idempotency_key, created_at, updated_at, started_at, finished_at, heartbeat_at
	FROM jobs`

func scanJob(row rowScanner, j *Job) error {
	var paramsJSON, resultJSON []byte
	err := row.Scan(
		&j.ID, &j.Type, &paramsJSON, &j.Status, &j.ProgressPct, &j.ProgressMsg, &resultJSON, &j.Canceled,
		&j.IdempotencyKey, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.FinishedAt, &j.HeartbeatAt,
	)
	if err != nil {
		return err
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &j.Params); err != nil {
			return err
		}
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &j.Result); err != nil {
			return err
		}
	}
	return nil
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return nil, err
		}
		j, ok := s.mem.getJob(id)
		if !ok {
			return nil, ErrNotFound
		}
		return j, nil
	}
	var out Job
	err := s.executeWithRetry(ctx, "GetJob", func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, jobSelectSQL+` WHERE id = $1`, id)
		return scanJob(row, &out)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJobStatus is a thin convenience wrapper over GetJob for callers that
// only need the status field (the `job_status` tool's `summary` format).
func (s *Store) GetJobStatus(ctx context.Context, id string) (JobStatus, error) {
	j, err := s.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	return j.Status, nil
}

// SetJobStatus transitions a job to a new status, optionally attaching a
// result payload and marking it finished.
func (s *Store) SetJobStatus(ctx context.Context, id string, status JobStatus, result map[string]any, finished bool) error {
	now := time.Now()
	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return err
		}
		if !s.mem.setStatus(id, status, result, finished, now) {
			return ErrNotFound
		}
		return nil
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return newErr(CategoryValidation, "marshal job result", err)
	}
	return s.executeWithRetry(ctx, "SetJobStatus", func(ctx context.Context) error {
		var res sql.Result
		var err error
		if finished {
			res, err = s.db.ExecContext(ctx, `
				UPDATE jobs SET status=$1, result=$2, updated_at=$3, finished_at=$3 WHERE id=$4`,
				status, resultJSON, now, id)
		} else {
			res, err = s.db.ExecContext(ctx, `
				UPDATE jobs SET status=$1, result=$2, updated_at=$3 WHERE id=$4`,
				status, resultJSON, now, id)
		}
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CancelJob sets the cooperative-cancellation flag and moves the job to the
// canceled status immediately; a running worker observes the flag at the
// next stage boundary and exits cleanly (best-effort, per spec §4.12).
func (s *Store) CancelJob(ctx context.Context, id string) error {
	now := time.Now()
	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return err
		}
		if !s.mem.cancel(id, now) {
			return ErrNotFound
		}
		return nil
	}
	return s.executeWithRetry(ctx, "CancelJob", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET canceled=TRUE, status='canceled', updated_at=$1
			WHERE id=$2 AND status NOT IN ('succeeded','failed','canceled')`, now, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ClaimNextJob is the atomic claim primitive at the heart of JobEngine: a
// single-statement stale-lease sweep followed by a single-statement
// subquery UPDATE ... WHERE id = (SELECT ... FOR UPDATE SKIP LOCKED)
// RETURNING, mirroring the predecessor's ent-based claimNextSession
// generalized to the spec's required subquery shape. Returns (nil, nil)
// when no job is available.
func (s *Store) ClaimNextJob(ctx context.Context, leaseTimeout time.Duration) (*Job, error) {
	now := time.Now()
	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return nil, err
		}
		j, ok := s.mem.claimNext(now, leaseTimeout)
		if !ok {
			return nil, nil
		}
		return j, nil
	}

	var out *Job
	err := s.executeWithRetry(ctx, "ClaimNextJob", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status='queued', updated_at=now()
			WHERE status='running' AND heartbeat_at < now() - $1::interval`,
			fmt.Sprintf("%d seconds", int64(leaseTimeout.Seconds()))); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `
			UPDATE jobs SET status='running', started_at=$1, heartbeat_at=$1, updated_at=$1
			WHERE id = (
				SELECT id FROM jobs
				WHERE status = 'queued' AND canceled = FALSE
				ORDER BY created_at
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING id, type, params, status, progress_pct, progress_msg, result, canceled,
			          idempotency_key, created_at, updated_at, started_at, finished_at, heartbeat_at`,
			now)
		var candidate Job
		if scanErr := scanJob(row, &candidate); scanErr != nil {
			if scanErr == sql.ErrNoRows {
				return tx.Commit()
			}
			return scanErr
		}
		out = &candidate
		return tx.Commit()
	})
	return out, err
}

// QueueDepth counts currently-queued jobs, used by JobEngine.Submit to
// enforce the backpressure bound in QueueConfig.MaxQueueDepth (spec §5).
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return 0, err
		}
		return s.mem.queueDepth(), nil
	}
	var depth int
	err := s.executeWithRetry(ctx, "QueueDepth", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE status = 'queued'`).Scan(&depth)
	})
	return depth, err
}

// HeartbeatJob refreshes a running job's lease.
func (s *Store) HeartbeatJob(ctx context.Context, id string) error {
	now := time.Now()
	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return err
		}
		s.mem.heartbeat(id, now)
		return nil
	}
	return s.executeWithRetry(ctx, "HeartbeatJob", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `UPDATE jobs SET heartbeat_at=$1 WHERE id=$2`, now, id)
		return err
	})
}
