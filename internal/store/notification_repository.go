/**
 * @description
 * Notification job data access. Two layers of coordination: a Postgres
 * advisory lock serializes the outbox worker to one instance (the lock is held
 * on a dedicated pooled connection for the duration of a tick), and the
 * per-job claim is a conditional UPDATE so a crashed worker's job becomes
 * poppable again once its next_attempt_at passes.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fareguard/claims-service/internal/domain"
)

// notifierLockKey is the advisory lock id for the notification outbox worker.
const notifierLockKey = 729441002

// AcquireNotifierLock takes the outbox advisory lock on a dedicated
// connection. When acquired, the returned release function must be called at
// the end of the tick; when not acquired another instance holds it.
func (r *PostgresRepository) AcquireNotifierLock(ctx context.Context) (release func(), acquired bool, err error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}

	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, notifierLockKey).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	release = func() {
		// Unlock on the same session that took the lock.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, notifierLockKey)
		conn.Release()
	}
	return release, true, nil
}

// PopDueNotificationJob claims the oldest due job, moving it to sending and
// incrementing its attempt count atomically. Returns ErrNoJobDue when nothing
// is ready.
func (r *PostgresRepository) PopDueNotificationJob(ctx context.Context) (*domain.NotificationJob, error) {
	query := `
		WITH candidate AS (
			SELECT id
			FROM notification_jobs
			WHERE status IN ('queued', 'failed')
			  AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE notification_jobs AS n
		SET status = 'sending',
		    attempts = n.attempts + 1,
		    updated_at = NOW()
		FROM candidate
		WHERE n.id = candidate.id
		RETURNING n.id, n.claim_id, n.recipient, n.template, n.status, n.attempts,
		          n.next_attempt_at, n.last_error, n.provider_message_id, n.created_at, n.updated_at
	`
	var job domain.NotificationJob
	err := r.db.QueryRow(ctx, query).Scan(
		&job.ID, &job.ClaimID, &job.Recipient, &job.Template, &job.Status, &job.Attempts,
		&job.NextAttemptAt, &job.LastError, &job.ProviderMessageID, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoJobDue
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkNotificationSent records a successful send and transitions the claim to
// emailed in the same transaction. A sent job is terminal and never resent.
func (r *PostgresRepository) MarkNotificationSent(ctx context.Context, jobID int64, claimID uuid.UUID, messageID string) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE notification_jobs
		SET status = 'sent',
		    provider_message_id = $2,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`, jobID, messageID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE claims
		SET status = 'emailed', updated_at = NOW()
		WHERE id = $1 AND status = 'submitted'
	`, claimID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkNotificationFailed schedules a retry after the given backoff.
func (r *PostgresRepository) MarkNotificationFailed(ctx context.Context, jobID int64, retryAfter time.Duration, reason string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE notification_jobs
		SET status = 'failed',
		    next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, jobID, int(retryAfter.Seconds()), truncateError(reason))
	return err
}

// MarkNotificationDead moves a job to the terminal dead state after the
// attempt ceiling.
func (r *PostgresRepository) MarkNotificationDead(ctx context.Context, jobID int64, reason string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE notification_jobs
		SET status = 'dead', last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, jobID, truncateError(reason))
	return err
}

// SuppressNotification drops a job that cannot be rendered. Terminal; the job
// is never retried or sent.
func (r *PostgresRepository) SuppressNotification(ctx context.Context, jobID int64, reason string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE notification_jobs
		SET status = 'suppressed', last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, jobID, truncateError(reason))
	return err
}
