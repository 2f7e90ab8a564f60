/**
 * @description
 * This file defines the core journey-side domain models for the claims-service.
 * Trips are produced by the ingestion pipeline; delay events and feed journeys
 * arrive from the real-time rail feed. The claims pipeline reads both and only
 * ever mutates the eligibility and linking fields on a trip.
 *
 * @notes
 * - `Eligible` is a tri-state (*bool): nil means the trip has not been
 *   evaluated yet. Once set it is never flipped by re-evaluation.
 * - Delay magnitudes are whole minutes; sub-minute lateness is not meaningful
 *   for compensation thresholds.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Trip represents one booked journey ingested for a user. It maps directly to
// the `trips` table.
type Trip struct {
	ID                uuid.UUID  `json:"id"`
	UserEmail         string     `json:"user_email"`
	Operator          string     `json:"operator"`
	Origin            string     `json:"origin"`
	Destination       string     `json:"destination"`
	BookingRef        string     `json:"booking_ref"`
	PlannedDeparture  time.Time  `json:"planned_departure"`
	PlannedArrival    time.Time  `json:"planned_arrival"`
	LinkedJourneyID   *string    `json:"linked_journey_id,omitempty"`
	Eligible          *bool      `json:"eligible"`
	EligibilityReason *string    `json:"eligibility_reason,omitempty"`
	DelaySource       *string    `json:"delay_source,omitempty"`
	DelayMinutes      *int       `json:"delay_minutes,omitempty"`
	DelayCheckedAt    *time.Time `json:"delay_checked_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Delay event types as they arrive from the feed.
const (
	EventTypeArrival      = "arrival"
	EventTypeDeparture    = "departure"
	EventTypeCancellation = "cancellation"
)

// DelayEvent is one feed-sourced observation of actual vs. planned movement at
// a station. Rows are append-only; a newer observation for the same service
// supersedes older ones by `received_at` recency, never by overwrite.
type DelayEvent struct {
	ID          int64      `json:"id"`
	StationCode string     `json:"station_code"`
	EventType   string     `json:"event_type"`
	JourneyID   *string    `json:"journey_id,omitempty"`
	PlannedTime time.Time  `json:"planned_time"`
	ActualTime  *time.Time `json:"actual_time,omitempty"`
	LateMinutes *int       `json:"late_minutes,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
}

// HasUsableDelayData reports whether the event carries either an explicit
// lateness figure or an actual time from which lateness can be computed.
func (e DelayEvent) HasUsableDelayData() bool {
	return e.LateMinutes != nil || e.ActualTime != nil
}

// FeedJourney is a scheduled service record published by the feed. The linker
// correlates trips against these before any delay outcome exists. Maps to the
// `feed_journeys` table.
type FeedJourney struct {
	ID                 string    `json:"id"`
	Operator           string    `json:"operator"`
	Origin             string    `json:"origin"`
	Destination        string    `json:"destination"`
	ScheduledDeparture time.Time `json:"scheduled_departure"`
	ScheduledArrival   time.Time `json:"scheduled_arrival"`
	ReceivedAt         time.Time `json:"received_at"`
}
