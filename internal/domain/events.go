/**
 * @description
 * Message payloads exchanged over RabbitMQ: inbound delay-feed messages
 * consumed by the ingestion worker, and outbound audit events published when a
 * claim moves through the pipeline.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// DelayEventMessage is the inbound feed message for one station movement
// observation. Routing keys: delay.event.arrival, delay.event.departure,
// delay.event.cancellation.
type DelayEventMessage struct {
	StationCode string     `json:"station_code"`
	EventType   string     `json:"event_type"`
	JourneyID   *string    `json:"journey_id,omitempty"`
	PlannedTime time.Time  `json:"planned_time"`
	ActualTime  *time.Time `json:"actual_time,omitempty"`
	LateMinutes *int       `json:"late_minutes,omitempty"`
}

// JourneyScheduleMessage is the inbound feed message announcing a scheduled
// service. Routing key: feed.journey.schedule.
type JourneyScheduleMessage struct {
	JourneyID          string    `json:"journey_id"`
	Operator           string    `json:"operator"`
	Origin             string    `json:"origin"`
	Destination        string    `json:"destination"`
	ScheduledDeparture time.Time `json:"scheduled_departure"`
	ScheduledArrival   time.Time `json:"scheduled_arrival"`
}

// ClaimEvent is the outbound audit event published when a claim reaches a
// milestone. Routing keys: claim.submitted, claim.emailed.
type ClaimEvent struct {
	ClaimID     uuid.UUID  `json:"claim_id"`
	TripID      uuid.UUID  `json:"trip_id"`
	Provider    ProviderID `json:"provider"`
	Status      string     `json:"status"`
	ProviderRef string     `json:"provider_ref,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}
