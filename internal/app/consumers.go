/**
 * @description
 * RabbitMQ consumer handlers for the real-time rail feed. The ingestion
 * worker appends delay events and upserts journey schedules; the claims
 * pipeline itself only ever reads these rows. Handlers return true to ack and
 * false to requeue, matching the pkg/rabbitmq consumer contract.
 */

package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fareguard/claims-service/internal/domain"
)

// IngestRepository defines the database operations feed ingestion needs.
type IngestRepository interface {
	InsertDelayEvent(ctx context.Context, e domain.DelayEvent) error
	UpsertFeedJourney(ctx context.Context, j domain.FeedJourney) error
}

// FeedConsumer ingests delay-feed messages into the store.
type FeedConsumer struct {
	repo   IngestRepository
	logger *slog.Logger
}

// NewFeedConsumer creates a new feed consumer.
func NewFeedConsumer(repo IngestRepository, logger *slog.Logger) *FeedConsumer {
	return &FeedConsumer{repo: repo, logger: logger}
}

// HandleDelayEvent ingests one station movement observation.
func (c *FeedConsumer) HandleDelayEvent(body []byte) bool {
	var msg domain.DelayEventMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		// Malformed messages are dropped; requeueing would loop forever.
		c.logger.Error("delay event message unmarshal failed", "error", err)
		return true
	}

	switch msg.EventType {
	case domain.EventTypeArrival, domain.EventTypeDeparture, domain.EventTypeCancellation:
	default:
		c.logger.Warn("delay event with unknown type dropped", "event_type", msg.EventType, "station", msg.StationCode)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.repo.InsertDelayEvent(ctx, domain.DelayEvent{
		StationCode: msg.StationCode,
		EventType:   msg.EventType,
		JourneyID:   msg.JourneyID,
		PlannedTime: msg.PlannedTime,
		ActualTime:  msg.ActualTime,
		LateMinutes: msg.LateMinutes,
	})
	if err != nil {
		c.logger.Error("delay event insert failed", "station", msg.StationCode, "error", err)
		return false
	}
	return true
}

// HandleJourneySchedule ingests one scheduled-service announcement.
func (c *FeedConsumer) HandleJourneySchedule(body []byte) bool {
	var msg domain.JourneyScheduleMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Error("journey schedule message unmarshal failed", "error", err)
		return true
	}
	if msg.JourneyID == "" {
		c.logger.Warn("journey schedule without id dropped")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.repo.UpsertFeedJourney(ctx, domain.FeedJourney{
		ID:                 msg.JourneyID,
		Operator:           msg.Operator,
		Origin:             msg.Origin,
		Destination:        msg.Destination,
		ScheduledDeparture: msg.ScheduledDeparture,
		ScheduledArrival:   msg.ScheduledArrival,
	})
	if err != nil {
		c.logger.Error("journey schedule upsert failed", "journey_id", msg.JourneyID, "error", err)
		return false
	}
	return true
}
