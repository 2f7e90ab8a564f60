/**
 * @description
 * Feed ingestion and retention queries: appending delay events and journey
 * schedules as they arrive from the broker, reading events back for the
 * eligibility engine, and purging records past the retention horizon.
 * Delay events are append-only; supersession is by `received_at` recency.
 */

package store

import (
	"context"
	"time"

	"github.com/fareguard/claims-service/internal/domain"
)

// InsertDelayEvent appends one feed observation.
func (r *PostgresRepository) InsertDelayEvent(ctx context.Context, e domain.DelayEvent) error {
	query := `
		INSERT INTO delay_events (station_code, event_type, journey_id, planned_time, actual_time, late_minutes, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	_, err := r.db.Exec(ctx, query,
		e.StationCode, e.EventType, e.JourneyID, e.PlannedTime, e.ActualTime, e.LateMinutes)
	return err
}

// UpsertFeedJourney records a scheduled service, refreshing the schedule times
// when the feed re-announces a journey it already published.
func (r *PostgresRepository) UpsertFeedJourney(ctx context.Context, j domain.FeedJourney) error {
	query := `
		INSERT INTO feed_journeys (id, operator, origin, destination, scheduled_departure, scheduled_arrival, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id)
		DO UPDATE SET scheduled_departure = EXCLUDED.scheduled_departure,
		              scheduled_arrival = EXCLUDED.scheduled_arrival,
		              received_at = NOW()
	`
	_, err := r.db.Exec(ctx, query,
		j.ID, j.Operator, j.Origin, j.Destination, j.ScheduledDeparture, j.ScheduledArrival)
	return err
}

// GetDelayEventsNearArrival returns events at a station whose planned time is
// within the window around the trip's planned arrival, newest feed record
// first.
func (r *PostgresRepository) GetDelayEventsNearArrival(
	ctx context.Context,
	stationCode string,
	arrival time.Time,
	window time.Duration,
) ([]domain.DelayEvent, error) {
	query := `
		SELECT id, station_code, event_type, journey_id, planned_time, actual_time, late_minutes, received_at
		FROM delay_events
		WHERE station_code = $1
		  AND planned_time BETWEEN $2::timestamptz - ($3 * INTERVAL '1 second')
		                       AND $2::timestamptz + ($3 * INTERVAL '1 second')
		ORDER BY received_at DESC
	`
	rows, err := r.db.Query(ctx, query, stationCode, arrival, int(window.Seconds()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.DelayEvent
	for rows.Next() {
		var e domain.DelayEvent
		if err := rows.Scan(&e.ID, &e.StationCode, &e.EventType, &e.JourneyID,
			&e.PlannedTime, &e.ActualTime, &e.LateMinutes, &e.ReceivedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PurgeFeedRecordsBefore deletes delay events and feed journeys received
// before the cutoff. Trips and claims are never purged.
func (r *PostgresRepository) PurgeFeedRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM delay_events WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	deleted := tag.RowsAffected()

	tag, err = r.db.Exec(ctx, `DELETE FROM feed_journeys WHERE received_at < $1`, cutoff)
	if err != nil {
		return deleted, err
	}
	return deleted + tag.RowsAffected(), nil
}
