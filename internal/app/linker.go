/**
 * @description
 * The trip–event linker. Before any delay outcome exists, it correlates an
 * ingested trip with the feed's scheduled journey record so later joins have a
 * stable identity. Candidates come from a day-granularity window (feed data
 * can arrive late, and trips can be near-future); the winner is the candidate
 * with the smallest time-distance score, accepted only under a maximum score
 * and, when a runner-up exists, a minimum margin over it.
 *
 * Linking is monotonic: a linked trip is never re-evaluated.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/fareguard/claims-service/internal/domain"
)

// Skip reasons reported in LinkStats.Skipped.
const (
	SkipNoCandidates  = "no_candidates"
	SkipScoreTooHigh  = "score_above_threshold"
	SkipAmbiguous     = "ambiguous_candidates"
	SkipAlreadyLinked = "already_linked"
	SkipLinkFailed    = "link_failed"
)

// LinkerRepository defines the database operations the linker needs.
type LinkerRepository interface {
	GetUnlinkedTrips(ctx context.Context, limit int) ([]domain.Trip, error)
	GetJourneyCandidates(ctx context.Context, origin, destination string, departure time.Time, windowDays int) ([]domain.FeedJourney, error)
	LinkTripToJourney(ctx context.Context, tripID uuid.UUID, journeyID string) (bool, error)
}

// LinkerConfig carries the candidate window and acceptance thresholds.
type LinkerConfig struct {
	WindowDays int
	// MaxScore is the largest acceptable time-distance score, in seconds.
	MaxScore float64
	// MinMargin is the minimum score gap to the runner-up candidate, in
	// seconds. Zero disables the ambiguity check.
	MinMargin float64
	BatchSize int
}

// LinkStats summarizes one linker pass.
type LinkStats struct {
	Examined int            `json:"examined"`
	Linked   int            `json:"linked"`
	Skipped  map[string]int `json:"skipped"`
}

// Linker correlates trips with feed journey records.
type Linker struct {
	repo   LinkerRepository
	logger *slog.Logger
	cfg    LinkerConfig
}

// NewLinker creates a new linker.
func NewLinker(repo LinkerRepository, logger *slog.Logger, cfg LinkerConfig) *Linker {
	return &Linker{repo: repo, logger: logger, cfg: cfg}
}

// RunOnce performs one linking pass over unlinked trips.
func (l *Linker) RunOnce(ctx context.Context) (LinkStats, error) {
	stats := LinkStats{Skipped: map[string]int{}}

	trips, err := l.repo.GetUnlinkedTrips(ctx, l.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("querying unlinked trips: %w", err)
	}
	stats.Examined = len(trips)

	for _, trip := range trips {
		candidates, err := l.repo.GetJourneyCandidates(ctx, trip.Origin, trip.Destination, trip.PlannedDeparture, l.cfg.WindowDays)
		if err != nil {
			l.logger.Error("journey candidate query failed", "trip_id", trip.ID, "error", err)
			stats.Skipped[SkipLinkFailed]++
			continue
		}

		journeyID, skipReason := l.pickCandidate(trip, candidates)
		if skipReason != "" {
			stats.Skipped[skipReason]++
			continue
		}

		linked, err := l.repo.LinkTripToJourney(ctx, trip.ID, journeyID)
		if err != nil {
			l.logger.Error("trip link failed", "trip_id", trip.ID, "journey_id", journeyID, "error", err)
			stats.Skipped[SkipLinkFailed]++
			continue
		}
		if !linked {
			stats.Skipped[SkipAlreadyLinked]++
			continue
		}

		l.logger.Info("trip linked to feed journey", "trip_id", trip.ID, "journey_id", journeyID)
		stats.Linked++
	}

	return stats, nil
}

// pickCandidate scores all candidates and applies the acceptance rules. A
// non-empty skip reason means no link is made this pass.
func (l *Linker) pickCandidate(trip domain.Trip, candidates []domain.FeedJourney) (string, string) {
	if len(candidates) == 0 {
		return "", SkipNoCandidates
	}

	bestIdx := -1
	bestScore, runnerUpScore := math.Inf(1), math.Inf(1)
	for i, candidate := range candidates {
		score := linkScore(trip, candidate)
		switch {
		case score < bestScore:
			runnerUpScore = bestScore
			bestScore = score
			bestIdx = i
		case score < runnerUpScore:
			runnerUpScore = score
		}
	}

	if bestScore > l.cfg.MaxScore {
		return "", SkipScoreTooHigh
	}
	if l.cfg.MinMargin > 0 && !math.IsInf(runnerUpScore, 1) && runnerUpScore-bestScore < l.cfg.MinMargin {
		return "", SkipAmbiguous
	}
	return candidates[bestIdx].ID, ""
}

// linkScore is the time-distance between a trip's planned times and a
// candidate's scheduled times, in seconds. Smaller is better.
func linkScore(trip domain.Trip, candidate domain.FeedJourney) float64 {
	departureGap := trip.PlannedDeparture.Sub(candidate.ScheduledDeparture).Abs().Seconds()
	arrivalGap := trip.PlannedArrival.Sub(candidate.ScheduledArrival).Abs().Seconds()
	return departureGap + arrivalGap
}
