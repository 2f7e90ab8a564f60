/**
 * @description
 * Claim and submission-queue data access. The two invariants enforced here:
 *
 *   1. At most one non-failed claim per (trip_id, user_email). Claim creation
 *      runs in a transaction that re-checks for an active claim with the trip
 *      row locked, so concurrent CreateClaim calls converge on one claim id.
 *   2. One dispatcher owns a queue item at a time. PopNextQueueItem is a
 *      single atomic statement (FOR UPDATE SKIP LOCKED inside an UPDATE ...
 *      RETURNING CTE), so two workers can never claim the same item.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fareguard/claims-service/internal/domain"
)

const claimColumns = `
	id, trip_id, user_email, status, provider, fee_percent,
	operator, origin, destination, booking_ref, planned_departure, planned_arrival,
	delay_minutes, failure_reason, metadata, submitted_at, provider_ref,
	created_at, updated_at
`

func scanClaim(row pgx.Row) (*domain.Claim, error) {
	var c domain.Claim
	err := row.Scan(
		&c.ID, &c.TripID, &c.UserEmail, &c.Status, &c.Provider, &c.FeePercent,
		&c.Operator, &c.Origin, &c.Destination, &c.BookingRef, &c.PlannedDeparture, &c.PlannedArrival,
		&c.DelayMinutes, &c.FailureReason, &c.Metadata, &c.SubmittedAt, &c.ProviderRef,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetClaimByID fetches one claim.
func (r *PostgresRepository) GetClaimByID(ctx context.Context, claimID uuid.UUID) (*domain.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE id = $1`
	c, err := scanClaim(r.db.QueryRow(ctx, query, claimID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrClaimNotFound
	}
	return c, err
}

// GetClaimForUser fetches a claim only if it belongs to the given user.
func (r *PostgresRepository) GetClaimForUser(ctx context.Context, claimID uuid.UUID, userEmail string) (*domain.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE id = $1 AND user_email = $2`
	c, err := scanClaim(r.db.QueryRow(ctx, query, claimID, userEmail))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrClaimNotFound
	}
	return c, err
}

// GetActiveClaimForTrip returns the non-failed claim for a (trip, user) pair,
// or ErrClaimNotFound when only failed claims (or none) exist.
func (r *PostgresRepository) GetActiveClaimForTrip(ctx context.Context, tripID uuid.UUID, userEmail string) (*domain.Claim, error) {
	query := `
		SELECT ` + claimColumns + `
		FROM claims
		WHERE trip_id = $1
		  AND user_email = $2
		  AND status <> 'failed'
		ORDER BY created_at DESC
		LIMIT 1
	`
	c, err := scanClaim(r.db.QueryRow(ctx, query, tripID, userEmail))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrClaimNotFound
	}
	return c, err
}

// CreateClaimWithQueueItem inserts a new pending claim plus its queued queue
// item in one transaction. The trip row is locked first and the active-claim
// check repeated under the lock; when a concurrent call won the race, the
// existing claim is returned with reused = true.
func (r *PostgresRepository) CreateClaimWithQueueItem(ctx context.Context, claim *domain.Claim) (created *domain.Claim, reused bool, err error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	var lockedTripID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM trips WHERE id = $1 FOR UPDATE`, claim.TripID).Scan(&lockedTripID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, ErrTripNotFound
	}
	if err != nil {
		return nil, false, err
	}

	existing, err := scanClaim(tx.QueryRow(ctx, `
		SELECT `+claimColumns+`
		FROM claims
		WHERE trip_id = $1 AND user_email = $2 AND status <> 'failed'
		ORDER BY created_at DESC
		LIMIT 1
	`, claim.TripID, claim.UserEmail))
	if err == nil {
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return nil, false, commitErr
		}
		return existing, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO claims (id, trip_id, user_email, status, provider, fee_percent,
			operator, origin, destination, booking_ref, planned_departure, planned_arrival,
			delay_minutes, metadata)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		claim.ID, claim.TripID, claim.UserEmail, claim.Provider, claim.FeePercent,
		claim.Operator, claim.Origin, claim.Destination, claim.BookingRef,
		claim.PlannedDeparture, claim.PlannedArrival, claim.DelayMinutes, claim.Metadata,
	)
	if err != nil {
		return nil, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO claim_queue (claim_id, provider, stage, next_attempt_at)
		VALUES ($1, $2, 'queued', NOW())
	`, claim.ID, claim.Provider)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	claim.Status = domain.ClaimStatusPending
	return claim, false, nil
}

// HasActiveQueueItem reports whether the claim already has a queue item in a
// queued or processing stage.
func (r *PostgresRepository) HasActiveQueueItem(ctx context.Context, claimID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM claim_queue
			WHERE claim_id = $1 AND stage IN ('queued', 'processing')
		)
	`, claimID).Scan(&exists)
	return exists, err
}

// EnqueueClaimItem inserts a fresh queued queue item for an existing claim.
func (r *PostgresRepository) EnqueueClaimItem(ctx context.Context, claimID uuid.UUID, provider domain.ProviderID) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO claim_queue (claim_id, provider, stage, next_attempt_at)
		VALUES ($1, $2, 'queued', NOW())
	`, claimID, provider)
	return err
}

// PopNextQueueItem atomically claims the oldest due queued item, moving it to
// processing and incrementing its attempt count in the same statement. Returns
// ErrQueueEmpty when nothing is due.
func (r *PostgresRepository) PopNextQueueItem(ctx context.Context) (*domain.QueueItem, error) {
	query := `
		WITH candidate AS (
			SELECT id
			FROM claim_queue
			WHERE stage = 'queued'
			  AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE claim_queue AS q
		SET stage = 'processing',
		    attempts = q.attempts + 1,
		    last_error = NULL,
		    updated_at = NOW()
		FROM candidate
		WHERE q.id = candidate.id
		RETURNING q.id, q.claim_id, q.provider, q.stage, q.attempts,
		          q.next_attempt_at, q.last_error, q.response, q.created_at, q.updated_at
	`
	var item domain.QueueItem
	err := r.db.QueryRow(ctx, query).Scan(
		&item.ID, &item.ClaimID, &item.Provider, &item.Stage, &item.Attempts,
		&item.NextAttemptAt, &item.LastError, &item.Response, &item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// RecordQueueSuccess parks a successfully submitted item in the check stage
// for a later status-verification pass.
func (r *PostgresRepository) RecordQueueSuccess(ctx context.Context, itemID int64, checkAfter time.Duration, response json.RawMessage) error {
	_, err := r.db.Exec(ctx, `
		UPDATE claim_queue
		SET stage = 'check',
		    next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
		    last_error = NULL,
		    response = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, itemID, int(checkAfter.Seconds()), response)
	return err
}

// RescheduleQueueItem returns a failed item to the queued stage with a backoff
// delay so a later tick retries it.
func (r *PostgresRepository) RescheduleQueueItem(ctx context.Context, itemID int64, retryAfter time.Duration, lastError string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE claim_queue
		SET stage = 'queued',
		    next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, itemID, int(retryAfter.Seconds()), truncateError(lastError))
	return err
}

// ParkQueueItem moves an item to the check stage with a diagnostic, used for
// integrity gaps and permanent configuration failures.
func (r *PostgresRepository) ParkQueueItem(ctx context.Context, itemID int64, delay time.Duration, diagnostic string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE claim_queue
		SET stage = 'check',
		    next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, itemID, int(delay.Seconds()), truncateError(diagnostic))
	return err
}

// DeadLetterQueueItem moves an item to the terminal failed stage for manual
// review.
func (r *PostgresRepository) DeadLetterQueueItem(ctx context.Context, itemID int64, lastError string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE claim_queue
		SET stage = 'failed',
		    last_error = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, itemID, truncateError(lastError))
	return err
}

// MarkClaimProcessing moves a claim into processing as its queue item is
// picked up.
func (r *PostgresRepository) MarkClaimProcessing(ctx context.Context, claimID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE claims
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'queued', 'ready', 'failed')
	`, claimID)
	return err
}

// MarkClaimSubmitted records a confirmed submission.
func (r *PostgresRepository) MarkClaimSubmitted(ctx context.Context, claimID uuid.UUID, providerRef string, submittedAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE claims
		SET status = 'submitted',
		    provider_ref = $2,
		    submitted_at = $3,
		    failure_reason = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`, claimID, providerRef, submittedAt)
	return err
}

// MarkClaimReady records a dry-run success: the submission would have gone
// through but live submission is disabled.
func (r *PostgresRepository) MarkClaimReady(ctx context.Context, claimID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE claims
		SET status = 'ready', failure_reason = NULL, updated_at = NOW()
		WHERE id = $1
	`, claimID)
	return err
}

// MarkClaimFailed records a failed submission attempt with its reason.
func (r *PostgresRepository) MarkClaimFailed(ctx context.Context, claimID uuid.UUID, reason string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE claims
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1
	`, claimID, truncateError(reason))
	return err
}

// EnqueueNotification creates a queued notification job for a claim.
func (r *PostgresRepository) EnqueueNotification(ctx context.Context, claimID uuid.UUID, recipient, template string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notification_jobs (claim_id, recipient, template, status, next_attempt_at)
		VALUES ($1, $2, $3, 'queued', NOW())
	`, claimID, recipient, template)
	return err
}

func truncateError(reason string) string {
	if len(reason) > 2000 {
		return reason[:2000]
	}
	return reason
}
