package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/condenser-ai/condenser/internal/db"
)

// jobColumns is the column list every job query selects, kept in one place
// so scanJob stays in sync.
const jobColumns = `id, class, owner_id, payload, file_name, options_json,
	state, progress, attempts, artifact_id, failure_reason, last_error,
	available_at, created_at, started_at, finished_at`

// Store provides durable queue operations backed by SQLite. All state
// transitions run in single transactions, which together with SQLite's
// single-writer connection gives us lease exclusivity without any extra
// locking.
type Store struct {
	dbStore *db.Store
}

// NewStore creates a queue store sharing the given database.
func NewStore(dbStore *db.Store) *Store {
	return &Store{
		dbStore: dbStore,
	}
}

// EnqueueParams describes a new job to enqueue.
type EnqueueParams struct {
	Class       Class
	OwnerID     string
	Payload     string
	FileName    string
	OptionsJSON string
}

// Enqueue adds a new job in the queued state and returns it. Job IDs are
// time-ordered UUIDv7 so that lease candidate ordering matches insertion
// order even across restarts.
func (s *Store) Enqueue(ctx context.Context, p EnqueueParams) (Job, error) {
	if !p.Class.Valid() {
		return Job{}, fmt.Errorf("invalid job class %q", p.Class)
	}

	now := time.Now()
	job := Job{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Class:       p.Class,
		OwnerID:     p.OwnerID,
		Payload:     p.Payload,
		FileName:    p.FileName,
		OptionsJSON: p.OptionsJSON,
		State:       StateQueued,
		AvailableAt: now,
		CreatedAt:   now,
	}
	if job.OptionsJSON == "" {
		job.OptionsJSON = "{}"
	}

	err := s.dbStore.WithTx(ctx, func(
		ctx context.Context, tx *sql.Tx,
	) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (
				id, class, owner_id, payload, file_name,
				options_json, state, progress, attempts,
				available_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
			job.ID, string(job.Class), job.OwnerID, job.Payload,
			nullString(job.FileName), job.OptionsJSON,
			string(StateQueued), now.UnixMilli(), now.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("enqueue job: %w", err)
		}

		return nil
	})
	if err != nil {
		return Job{}, err
	}

	return job, nil
}

// Lease atomically claims the oldest available job of the given class for a
// worker and returns it along with the lease token required for all further
// mutations. A job is available if it is queued with its backoff elapsed,
// or active with an expired lease (the crash re-lease path). Returns
// ErrNoJobAvailable when the queue is empty.
func (s *Store) Lease(
	ctx context.Context, class Class, ttl time.Duration,
) (Job, string, error) {

	token := uuid.Must(uuid.NewV7()).String()
	now := time.Now()

	var job Job
	err := s.dbStore.WithTx(ctx, func(
		ctx context.Context, tx *sql.Tx,
	) error {
		// Find the oldest candidate. Expired-lease jobs are included
		// so work abandoned by a dead worker is picked up again.
		var id string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM jobs
			WHERE class = ? AND (
				(state = ? AND available_at <= ?) OR
				(state = ? AND lease_expires_at <= ?)
			)
			ORDER BY id LIMIT 1`,
			string(class),
			string(StateQueued), now.UnixMilli(),
			string(StateActive), now.UnixMilli(),
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoJobAvailable
		}
		if err != nil {
			return fmt.Errorf("select lease candidate: %w", err)
		}

		// Claim it. started_at is only stamped on the first lease so
		// re-leases keep the original processing start.
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET
				state = ?,
				attempts = attempts + 1,
				lease_token = ?,
				lease_expires_at = ?,
				started_at = COALESCE(started_at, ?)
			WHERE id = ?`,
			string(StateActive), token,
			now.Add(ttl).UnixMilli(), now.UnixMilli(), id,
		)
		if err != nil {
			return fmt.Errorf("claim lease: %w", err)
		}

		job, err = getJobTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return Job{}, "", err
	}

	return job, token, nil
}

// Renew extends the lease on an active job. Workers call this at half the
// visibility timeout while a long remote call is in flight, so a lease
// expiring really means the worker died.
func (s *Store) Renew(
	ctx context.Context, id, token string, ttl time.Duration,
) error {

	return s.leaseGuardedExec(ctx, id, token, `
		UPDATE jobs SET lease_expires_at = ?
		WHERE id = ? AND state = ? AND lease_token = ?`,
		time.Now().Add(ttl).UnixMilli(), id,
		string(StateActive), token,
	)
}

// ReportProgress publishes a progress checkpoint for an active job.
// Progress is monotonic: a stale writer can never move it backwards.
func (s *Store) ReportProgress(
	ctx context.Context, id, token string, progress int,
) error {

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	return s.leaseGuardedExec(ctx, id, token, `
		UPDATE jobs SET progress = MAX(progress, ?)
		WHERE id = ? AND state = ? AND lease_token = ?`,
		progress, id, string(StateActive), token,
	)
}

// Complete transitions an active job to the completed terminal state,
// recording the artifact it produced. Terminal states are write-once: the
// lease guard makes a second terminal transition impossible.
func (s *Store) Complete(
	ctx context.Context, id, token string, artifactID int64,
) error {

	return s.leaseGuardedExec(ctx, id, token, `
		UPDATE jobs SET
			state = ?, progress = 100, artifact_id = ?,
			lease_token = NULL, lease_expires_at = NULL,
			finished_at = ?
		WHERE id = ? AND state = ? AND lease_token = ?`,
		string(StateCompleted), artifactID,
		time.Now().UnixMilli(), id, string(StateActive), token,
	)
}

// Fail transitions an active job to the failed terminal state with a
// user-facing reason. Called only once attempts are exhausted or the error
// is permanent.
func (s *Store) Fail(
	ctx context.Context, id, token, reason string,
) error {

	return s.leaseGuardedExec(ctx, id, token, `
		UPDATE jobs SET
			state = ?, failure_reason = ?, last_error = ?,
			lease_token = NULL, lease_expires_at = NULL,
			finished_at = ?
		WHERE id = ? AND state = ? AND lease_token = ?`,
		string(StateFailed), reason, reason,
		time.Now().UnixMilli(), id, string(StateActive), token,
	)
}

// Retry releases an active job back to the queued state with a backoff
// delay, recording the error that caused the retry. The admission debit is
// never repeated for retries; only the original enqueue debits.
func (s *Store) Retry(
	ctx context.Context, id, token string, delay time.Duration,
	lastError string,
) error {

	return s.leaseGuardedExec(ctx, id, token, `
		UPDATE jobs SET
			state = ?, last_error = ?,
			lease_token = NULL, lease_expires_at = NULL,
			available_at = ?
		WHERE id = ? AND state = ? AND lease_token = ?`,
		string(StateQueued), lastError,
		time.Now().Add(delay).UnixMilli(), id,
		string(StateActive), token,
	)
}

// leaseGuardedExec runs an update that must only succeed for the current
// lease holder, mapping zero affected rows to ErrNotLeaseHolder.
func (s *Store) leaseGuardedExec(
	ctx context.Context, id, token, query string, args ...any,
) error {

	return s.dbStore.WithTx(ctx, func(
		ctx context.Context, tx *sql.Tx,
	) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update job %s: %w", id, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotLeaseHolder
		}

		return nil
	})
}

// Get returns a job by ID, or ErrJobNotFound.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	var job Job

	err := s.dbStore.WithReadTx(ctx, func(
		ctx context.Context, tx *sql.Tx,
	) error {
		var err error
		job, err = getJobTx(ctx, tx, id)
		return err
	})

	return job, err
}

// Stats returns aggregate counts for one job class.
func (s *Store) Stats(ctx context.Context, class Class) (Stats, error) {
	var stats Stats

	err := s.dbStore.WithReadTx(ctx, func(
		ctx context.Context, tx *sql.Tx,
	) error {
		now := time.Now().UnixMilli()

		return tx.QueryRowContext(ctx, `
			SELECT
				COUNT(CASE WHEN state = 'queued'
					AND available_at <= ? THEN 1 END),
				COUNT(CASE WHEN state = 'active' THEN 1 END),
				COUNT(CASE WHEN state = 'completed' THEN 1 END),
				COUNT(CASE WHEN state = 'failed' THEN 1 END),
				COUNT(CASE WHEN state = 'queued'
					AND available_at > ? THEN 1 END)
			FROM jobs WHERE class = ?`,
			now, now, string(class),
		).Scan(
			&stats.Waiting, &stats.Active, &stats.Completed,
			&stats.Failed, &stats.Delayed,
		)
	})

	return stats, err
}

// PruneTerminal deletes completed and failed jobs that finished before the
// cutoff, bounding how long job records are retained. Returns the number of
// pruned rows.
func (s *Store) PruneTerminal(
	ctx context.Context, olderThan time.Duration,
) (int64, error) {

	var pruned int64
	cutoff := time.Now().Add(-olderThan).UnixMilli()

	err := s.dbStore.WithTx(ctx, func(
		ctx context.Context, tx *sql.Tx,
	) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE state IN ('completed', 'failed')
			AND finished_at <= ?`,
			cutoff,
		)
		if err != nil {
			return fmt.Errorf("prune terminal jobs: %w", err)
		}

		pruned, err = res.RowsAffected()
		return err
	})

	return pruned, err
}

// getJobTx fetches one job within an open transaction.
func getJobTx(ctx context.Context, tx *sql.Tx, id string) (Job, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE id = ?", id,
	)

	return scanJob(row)
}

// scanJob decodes one job row.
func scanJob(row interface{ Scan(dest ...any) error }) (Job, error) {
	var (
		job           Job
		class, state  string
		fileName      sql.NullString
		artifactID    sql.NullInt64
		failureReason sql.NullString
		lastError     sql.NullString
		availableAt   int64
		createdAt     int64
		startedAt     sql.NullInt64
		finishedAt    sql.NullInt64
	)

	err := row.Scan(
		&job.ID, &class, &job.OwnerID, &job.Payload, &fileName,
		&job.OptionsJSON, &state, &job.Progress, &job.Attempts,
		&artifactID, &failureReason, &lastError, &availableAt,
		&createdAt, &startedAt, &finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("scan job: %w", err)
	}

	job.Class = Class(class)
	job.State = State(state)
	job.FileName = fileName.String
	job.ArtifactID = artifactID.Int64
	job.FailureReason = failureReason.String
	job.LastError = lastError.String
	job.AvailableAt = time.UnixMilli(availableAt)
	job.CreatedAt = time.UnixMilli(createdAt)
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64)
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64)
		job.FinishedAt = &t
	}

	return job, nil
}

// nullString converts a string to sql.NullString, treating empty strings
// as NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}
