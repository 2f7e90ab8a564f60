package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fareguard/claims-service/internal/domain"
)

type linkerRepoStub struct {
	trips      []domain.Trip
	candidates []domain.FeedJourney

	linkResult bool
	linkedIDs  []string
}

func (s *linkerRepoStub) GetUnlinkedTrips(ctx context.Context, limit int) ([]domain.Trip, error) {
	return s.trips, nil
}

func (s *linkerRepoStub) GetJourneyCandidates(ctx context.Context, origin, destination string, departure time.Time, windowDays int) ([]domain.FeedJourney, error) {
	return s.candidates, nil
}

func (s *linkerRepoStub) LinkTripToJourney(ctx context.Context, tripID uuid.UUID, journeyID string) (bool, error) {
	s.linkedIDs = append(s.linkedIDs, journeyID)
	return s.linkResult, nil
}

func testLinkerConfig() LinkerConfig {
	return LinkerConfig{
		WindowDays: 3,
		MaxScore:   900,
		MinMargin:  120,
		BatchSize:  200,
	}
}

func linkerTrip() domain.Trip {
	departure := time.Date(2026, 3, 9, 16, 30, 0, 0, time.UTC)
	return domain.Trip{
		ID:               uuid.New(),
		Operator:         "LNER",
		Origin:           "KGX",
		Destination:      "YRK",
		PlannedDeparture: departure,
		PlannedArrival:   departure.Add(2 * time.Hour),
	}
}

func journeyAt(id string, trip domain.Trip, offset time.Duration) domain.FeedJourney {
	return domain.FeedJourney{
		ID:                 id,
		Operator:           trip.Operator,
		Origin:             trip.Origin,
		Destination:        trip.Destination,
		ScheduledDeparture: trip.PlannedDeparture.Add(offset),
		ScheduledArrival:   trip.PlannedArrival.Add(offset),
	}
}

func TestLinkerRunOnceLinksBestCandidate(t *testing.T) {
	trip := linkerTrip()
	repo := &linkerRepoStub{
		trips:      []domain.Trip{trip},
		linkResult: true,
		candidates: []domain.FeedJourney{
			journeyAt("far", trip, 10*time.Minute),
			journeyAt("near", trip, 1*time.Minute),
		},
	}

	linker := NewLinker(repo, testLogger(), testLinkerConfig())
	stats, err := linker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Linked != 1 {
		t.Fatalf("expected 1 linked trip, got %d", stats.Linked)
	}
	if len(repo.linkedIDs) != 1 || repo.linkedIDs[0] != "near" {
		t.Fatalf("expected the closest journey to win, linked %v", repo.linkedIDs)
	}
}

func TestLinkerRunOnceRespectsMaxScore(t *testing.T) {
	trip := linkerTrip()
	repo := &linkerRepoStub{
		trips:      []domain.Trip{trip},
		linkResult: true,
		candidates: []domain.FeedJourney{
			// 30 minutes each side is a 3600 second score, well above 900.
			journeyAt("distant", trip, 30*time.Minute),
		},
	}

	linker := NewLinker(repo, testLogger(), testLinkerConfig())
	stats, err := linker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Linked != 0 || stats.Skipped[SkipScoreTooHigh] != 1 {
		t.Fatalf("expected score_above_threshold skip, got %+v", stats)
	}
	if len(repo.linkedIDs) != 0 {
		t.Fatal("expected no link writes")
	}
}

func TestLinkerRunOnceSkipsAmbiguousCandidates(t *testing.T) {
	trip := linkerTrip()
	repo := &linkerRepoStub{
		trips:      []domain.Trip{trip},
		linkResult: true,
		candidates: []domain.FeedJourney{
			// 120 and 150 second scores: a 30 second margin is under the
			// 120 second minimum.
			journeyAt("a", trip, 1*time.Minute),
			{
				ID:                 "b",
				Operator:           trip.Operator,
				Origin:             trip.Origin,
				Destination:        trip.Destination,
				ScheduledDeparture: trip.PlannedDeparture.Add(90 * time.Second),
				ScheduledArrival:   trip.PlannedArrival.Add(60 * time.Second),
			},
		},
	}

	linker := NewLinker(repo, testLogger(), testLinkerConfig())
	stats, err := linker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Skipped[SkipAmbiguous] != 1 {
		t.Fatalf("expected ambiguous_candidates skip, got %+v", stats.Skipped)
	}
}

func TestLinkerRunOnceNoCandidates(t *testing.T) {
	trip := linkerTrip()
	repo := &linkerRepoStub{trips: []domain.Trip{trip}, linkResult: true}

	linker := NewLinker(repo, testLogger(), testLinkerConfig())
	stats, err := linker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Skipped[SkipNoCandidates] != 1 {
		t.Fatalf("expected no_candidates skip, got %+v", stats.Skipped)
	}
}

func TestLinkerRunOnceLostRaceCountsAsAlreadyLinked(t *testing.T) {
	trip := linkerTrip()
	repo := &linkerRepoStub{
		trips:      []domain.Trip{trip},
		linkResult: false,
		candidates: []domain.FeedJourney{journeyAt("j", trip, time.Minute)},
	}

	linker := NewLinker(repo, testLogger(), testLinkerConfig())
	stats, err := linker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Linked != 0 || stats.Skipped[SkipAlreadyLinked] != 1 {
		t.Fatalf("expected already_linked skip, got %+v", stats)
	}
}

func TestLinkScore(t *testing.T) {
	trip := linkerTrip()
	candidate := journeyAt("j", trip, 2*time.Minute)
	if got := linkScore(trip, candidate); got != 240 {
		t.Fatalf("expected score 240, got %v", got)
	}

	// A candidate shifted the other way scores the same.
	earlier := journeyAt("e", trip, -2*time.Minute)
	if got := linkScore(trip, earlier); got != 240 {
		t.Fatalf("expected symmetric score 240, got %v", got)
	}
}

func TestLinkerSingleCandidateSkipsMarginCheck(t *testing.T) {
	trip := linkerTrip()
	linker := NewLinker(nil, testLogger(), testLinkerConfig())

	journeyID, skip := linker.pickCandidate(trip, []domain.FeedJourney{journeyAt("solo", trip, time.Minute)})
	if skip != "" {
		t.Fatalf("expected no skip for a lone candidate, got %q", skip)
	}
	if journeyID != "solo" {
		t.Fatalf("expected solo journey, got %q", journeyID)
	}
}
