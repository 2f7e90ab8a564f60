/**
 * @description
 * The eligibility engine. One pass scans trips that have reached their planned
 * arrival (plus a grace buffer) without an eligibility decision, matches each
 * against the delay events observed at its destination station, and records a
 * single, final decision per trip.
 *
 * Decision order: a cancellation forces eligibility; an explicit lateness
 * figure is compared against the threshold; otherwise lateness is computed
 * from planned vs. actual times; with no usable data the trip is left
 * undecided and counted as a skip.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fareguard/claims-service/internal/domain"
)

// Skip reasons reported in EligibilityStats.Skipped.
const (
	SkipNoMatchingEvent  = "no_matching_event"
	SkipNoUsableData     = "no_usable_data"
	SkipAlreadyDecided   = "already_decided"
	SkipUpdateFailed     = "update_failed"
	SkipEventQueryFailed = "event_query_failed"
)

// Delay sources recorded against a decided trip.
const (
	DelaySourceCancellation = "feed_cancellation"
	DelaySourceLateMinutes  = "feed_late_minutes"
	DelaySourceComputed     = "feed_actual_time"
)

// EligibilityRepository defines the database operations the engine needs.
type EligibilityRepository interface {
	GetTripsAwaitingEligibility(ctx context.Context, lookback, lookahead, grace time.Duration) ([]domain.Trip, error)
	GetDelayEventsNearArrival(ctx context.Context, stationCode string, arrival time.Time, window time.Duration) ([]domain.DelayEvent, error)
	SetTripEligibility(ctx context.Context, tripID uuid.UUID, eligible bool, reason, source string, delayMinutes int) (bool, error)
}

// EligibilityConfig carries the engine's scan window and threshold.
type EligibilityConfig struct {
	Lookback         time.Duration
	Lookahead        time.Duration
	Grace            time.Duration
	EventMatchWindow time.Duration
	MinDelayMinutes  int
}

// EligibilityStats summarizes one engine pass for observability.
type EligibilityStats struct {
	Examined int            `json:"examined"`
	Updated  int            `json:"updated"`
	Skipped  map[string]int `json:"skipped"`
}

// EligibilityEngine computes delay-compensation eligibility for trips.
type EligibilityEngine struct {
	repo   EligibilityRepository
	logger *slog.Logger
	cfg    EligibilityConfig
}

// NewEligibilityEngine creates a new engine.
func NewEligibilityEngine(repo EligibilityRepository, logger *slog.Logger, cfg EligibilityConfig) *EligibilityEngine {
	return &EligibilityEngine{repo: repo, logger: logger, cfg: cfg}
}

// RunOnce performs one eligibility pass. A failure on a single trip is
// recorded as a skip and never aborts the batch.
func (e *EligibilityEngine) RunOnce(ctx context.Context) (EligibilityStats, error) {
	stats := EligibilityStats{Skipped: map[string]int{}}

	trips, err := e.repo.GetTripsAwaitingEligibility(ctx, e.cfg.Lookback, e.cfg.Lookahead, e.cfg.Grace)
	if err != nil {
		return stats, fmt.Errorf("querying trips awaiting eligibility: %w", err)
	}
	stats.Examined = len(trips)

	for _, trip := range trips {
		events, err := e.repo.GetDelayEventsNearArrival(ctx, trip.Destination, trip.PlannedArrival, e.cfg.EventMatchWindow)
		if err != nil {
			e.logger.Error("delay event query failed", "trip_id", trip.ID, "error", err)
			stats.Skipped[SkipEventQueryFailed]++
			continue
		}

		decision, skipReason := e.decide(trip, chooseBestEvent(events))
		if skipReason != "" {
			stats.Skipped[skipReason]++
			continue
		}

		updated, err := e.repo.SetTripEligibility(ctx, trip.ID,
			decision.eligible, decision.reason, decision.source, decision.delayMinutes)
		if err != nil {
			e.logger.Error("eligibility update failed", "trip_id", trip.ID, "error", err)
			stats.Skipped[SkipUpdateFailed]++
			continue
		}
		if !updated {
			// Another pass decided this trip between our read and write.
			stats.Skipped[SkipAlreadyDecided]++
			continue
		}

		e.logger.Info("trip eligibility decided",
			"trip_id", trip.ID, "eligible", decision.eligible,
			"reason", decision.reason, "delay_minutes", decision.delayMinutes)
		stats.Updated++
	}

	return stats, nil
}

type eligibilityDecision struct {
	eligible     bool
	reason       string
	source       string
	delayMinutes int
}

// decide applies the decision order to a trip and its best-matching event.
// A non-empty skip reason means the trip stays undecided this pass.
func (e *EligibilityEngine) decide(trip domain.Trip, event *domain.DelayEvent) (eligibilityDecision, string) {
	if event == nil {
		return eligibilityDecision{}, SkipNoMatchingEvent
	}

	if event.EventType == domain.EventTypeCancellation {
		delay := 0
		if event.LateMinutes != nil {
			delay = *event.LateMinutes
		}
		return eligibilityDecision{
			eligible:     true,
			reason:       "service cancelled",
			source:       DelaySourceCancellation,
			delayMinutes: delay,
		}, ""
	}

	if event.LateMinutes != nil {
		return e.thresholdDecision(*event.LateMinutes, DelaySourceLateMinutes), ""
	}

	if event.ActualTime != nil {
		lateness := int(event.ActualTime.Sub(event.PlannedTime).Minutes())
		if lateness < 0 {
			lateness = 0
		}
		return e.thresholdDecision(lateness, DelaySourceComputed), ""
	}

	return eligibilityDecision{}, SkipNoUsableData
}

func (e *EligibilityEngine) thresholdDecision(lateness int, source string) eligibilityDecision {
	if lateness >= e.cfg.MinDelayMinutes {
		return eligibilityDecision{
			eligible:     true,
			reason:       fmt.Sprintf("delayed %d minutes", lateness),
			source:       source,
			delayMinutes: lateness,
		}
	}
	return eligibilityDecision{
		eligible:     false,
		reason:       fmt.Sprintf("delay of %d minutes below threshold of %d", lateness, e.cfg.MinDelayMinutes),
		source:       source,
		delayMinutes: lateness,
	}
}

// chooseBestEvent picks the event to decide on. Events arrive newest feed
// record first; the first one with usable delay data wins, falling back to the
// most recent record so a cancellation without times still decides.
func chooseBestEvent(events []domain.DelayEvent) *domain.DelayEvent {
	for i := range events {
		if events[i].EventType == domain.EventTypeCancellation || events[i].HasUsableDelayData() {
			return &events[i]
		}
	}
	if len(events) > 0 {
		return &events[0]
	}
	return nil
}
