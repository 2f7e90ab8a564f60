/**
 * @description
 * Trip queries for the eligibility engine and the trip–event linker. All
 * eligibility writes are guarded with `eligible IS NULL` and all link writes
 * with `linked_journey_id IS NULL`, so a decided or linked trip can never be
 * flipped by a concurrent or replayed pass.
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

const tripColumns = `
	id, user_email, operator, origin, destination, booking_ref,
	planned_departure, planned_arrival, linked_journey_id,
	eligible, eligibility_reason, delay_source, delay_minutes, delay_checked_at,
	created_at, updated_at
`

func scanTrip(row pgx.Row) (*domain.Trip, error) {
	var t domain.Trip
	err := row.Scan(
		&t.ID, &t.UserEmail, &t.Operator, &t.Origin, &t.Destination, &t.BookingRef,
		&t.PlannedDeparture, &t.PlannedArrival, &t.LinkedJourneyID,
		&t.Eligible, &t.EligibilityReason, &t.DelaySource, &t.DelayMinutes, &t.DelayCheckedAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTripsAwaitingEligibility returns undecided trips whose planned departure
// falls inside the scan window and whose planned arrival plus grace buffer has
// already passed.
func (r *PostgresRepository) GetTripsAwaitingEligibility(
	ctx context.Context,
	lookback, lookahead, grace time.Duration,
) ([]domain.Trip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE eligible IS NULL
		  AND planned_departure BETWEEN NOW() - ($1 * INTERVAL '1 second')
		                            AND NOW() + ($2 * INTERVAL '1 second')
		  AND planned_arrival + ($3 * INTERVAL '1 second') <= NOW()
		ORDER BY planned_arrival
	`
	rows, err := r.db.Query(ctx, query,
		int(lookback.Seconds()), int(lookahead.Seconds()), int(grace.Seconds()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []domain.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}

// GetTripForUser fetches a trip only if it belongs to the given user.
func (r *PostgresRepository) GetTripForUser(ctx context.Context, tripID uuid.UUID, userEmail string) (*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1 AND user_email = $2`
	t, err := scanTrip(r.db.QueryRow(ctx, query, tripID, userEmail))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTripNotFound
	}
	return t, err
}

// SetTripEligibility persists one eligibility decision. The `eligible IS NULL`
// guard makes re-evaluation a no-op; RowsAffected tells the caller whether the
// decision stuck.
func (r *PostgresRepository) SetTripEligibility(
	ctx context.Context,
	tripID uuid.UUID,
	eligible bool,
	reason, source string,
	delayMinutes int,
) (bool, error) {
	query := `
		UPDATE trips
		SET eligible = $2,
		    eligibility_reason = $3,
		    delay_source = $4,
		    delay_minutes = $5,
		    delay_checked_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
		  AND eligible IS NULL
	`
	tag, err := r.db.Exec(ctx, query, tripID, eligible, reason, source, delayMinutes)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetUnlinkedTrips returns trips with no feed correlation yet, oldest first.
func (r *PostgresRepository) GetUnlinkedTrips(ctx context.Context, limit int) ([]domain.Trip, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE linked_journey_id IS NULL
		ORDER BY planned_departure
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []domain.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}

// GetJourneyCandidates returns feed journeys on the same route whose scheduled
// departure falls within the day window around the trip's planned departure.
func (r *PostgresRepository) GetJourneyCandidates(
	ctx context.Context,
	origin, destination string,
	departure time.Time,
	windowDays int,
) ([]domain.FeedJourney, error) {
	if windowDays <= 0 {
		windowDays = 3
	}
	query := `
		SELECT id, operator, origin, destination, scheduled_departure, scheduled_arrival, received_at
		FROM feed_journeys
		WHERE origin = $1
		  AND destination = $2
		  AND scheduled_departure BETWEEN $3::timestamptz - ($4 * INTERVAL '1 day')
		                              AND $3::timestamptz + ($4 * INTERVAL '1 day')
		ORDER BY scheduled_departure
	`
	rows, err := r.db.Query(ctx, query, origin, destination, departure, windowDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var journeys []domain.FeedJourney
	for rows.Next() {
		var j domain.FeedJourney
		if err := rows.Scan(&j.ID, &j.Operator, &j.Origin, &j.Destination,
			&j.ScheduledDeparture, &j.ScheduledArrival, &j.ReceivedAt); err != nil {
			return nil, err
		}
		journeys = append(journeys, j)
	}
	return journeys, rows.Err()
}

// LinkTripToJourney attaches a feed journey to a trip. Linking is monotonic:
// the `linked_journey_id IS NULL` guard means a linked trip is never re-linked.
func (r *PostgresRepository) LinkTripToJourney(ctx context.Context, tripID uuid.UUID, journeyID string) (bool, error) {
	query := `
		UPDATE trips
		SET linked_journey_id = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND linked_journey_id IS NULL
	`
	tag, err := r.db.Exec(ctx, query, tripID, journeyID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
