package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fareguard/claims-service/internal/domain"
	"github.com/fareguard/claims-service/internal/store"
)

type claimRepoStub struct {
	trip  *domain.Trip
	claim *domain.Claim

	reused        bool
	hasActiveItem bool

	createCalled  bool
	createdClaim  *domain.Claim
	enqueueCalled bool
}

func (s *claimRepoStub) GetTripForUser(ctx context.Context, tripID uuid.UUID, userEmail string) (*domain.Trip, error) {
	if s.trip == nil {
		return nil, store.ErrTripNotFound
	}
	return s.trip, nil
}

func (s *claimRepoStub) CreateClaimWithQueueItem(ctx context.Context, claim *domain.Claim) (*domain.Claim, bool, error) {
	s.createCalled = true
	s.createdClaim = claim
	if s.reused {
		return s.claim, true, nil
	}
	claim.Status = domain.ClaimStatusPending
	return claim, false, nil
}

func (s *claimRepoStub) GetClaimForUser(ctx context.Context, claimID uuid.UUID, userEmail string) (*domain.Claim, error) {
	if s.claim == nil {
		return nil, store.ErrClaimNotFound
	}
	return s.claim, nil
}

func (s *claimRepoStub) HasActiveQueueItem(ctx context.Context, claimID uuid.UUID) (bool, error) {
	return s.hasActiveItem, nil
}

func (s *claimRepoStub) EnqueueClaimItem(ctx context.Context, claimID uuid.UUID, provider domain.ProviderID) error {
	s.enqueueCalled = true
	return nil
}

func claimsTestTrip() *domain.Trip {
	departure := time.Date(2026, 3, 9, 16, 30, 0, 0, time.UTC)
	return &domain.Trip{
		ID:               uuid.New(),
		UserEmail:        "rider@example.com",
		Operator:         "LNER",
		Origin:           "KGX",
		Destination:      "YRK",
		BookingRef:       "ABC123",
		PlannedDeparture: departure,
		PlannedArrival:   departure.Add(2 * time.Hour),
		DelayMinutes:     ptrInt(40),
	}
}

func TestCreateClaimBuildsSnapshotFromTrip(t *testing.T) {
	trip := claimsTestTrip()
	repo := &claimRepoStub{trip: trip}
	service := NewClaimService(repo, testLogger(), 20)

	result, err := service.CreateClaim(context.Background(), trip.ID, trip.UserEmail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reused {
		t.Fatal("expected a fresh claim")
	}
	if result.Status != domain.ClaimStatusPending {
		t.Fatalf("expected pending status, got %s", result.Status)
	}
	if !repo.createCalled {
		t.Fatal("expected claim creation")
	}

	created := repo.createdClaim
	if created.Provider != domain.ProviderLNER {
		t.Fatalf("expected lner provider, got %s", created.Provider)
	}
	if created.FeePercent != 20 {
		t.Fatalf("expected fee percent 20, got %v", created.FeePercent)
	}
	if created.BookingRef != trip.BookingRef || created.Origin != trip.Origin {
		t.Fatal("expected trip snapshot to be copied onto the claim")
	}
	if created.DelayMinutes == nil || *created.DelayMinutes != 40 {
		t.Fatalf("expected delay minutes snapshot, got %v", created.DelayMinutes)
	}
}

func TestCreateClaimReturnsExistingActiveClaim(t *testing.T) {
	trip := claimsTestTrip()
	existing := &domain.Claim{ID: uuid.New(), TripID: trip.ID, Status: domain.ClaimStatusSubmitted}
	repo := &claimRepoStub{trip: trip, claim: existing, reused: true}
	service := NewClaimService(repo, testLogger(), 20)

	result, err := service.CreateClaim(context.Background(), trip.ID, trip.UserEmail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Reused {
		t.Fatal("expected the existing claim to be reused")
	}
	if result.ClaimID != existing.ID {
		t.Fatalf("expected claim %s, got %s", existing.ID, result.ClaimID)
	}
	if result.Status != domain.ClaimStatusSubmitted {
		t.Fatalf("expected existing status to be reported, got %s", result.Status)
	}
}

func TestCreateClaimUnknownTrip(t *testing.T) {
	repo := &claimRepoStub{}
	service := NewClaimService(repo, testLogger(), 20)

	_, err := service.CreateClaim(context.Background(), uuid.New(), "rider@example.com")
	if !errors.Is(err, store.ErrTripNotFound) {
		t.Fatalf("expected trip not found, got %v", err)
	}
	if repo.createCalled {
		t.Fatal("expected no claim creation")
	}
}

func TestCreateClaimUnsupportedOperator(t *testing.T) {
	trip := claimsTestTrip()
	trip.Operator = "Orient Express"
	repo := &claimRepoStub{trip: trip}
	service := NewClaimService(repo, testLogger(), 20)

	_, err := service.CreateClaim(context.Background(), trip.ID, trip.UserEmail)
	if !errors.Is(err, domain.ErrUnsupportedOperator) {
		t.Fatalf("expected unsupported operator error, got %v", err)
	}
	if repo.createCalled {
		t.Fatal("expected no claim creation for an unsupported operator")
	}
}

func TestQueueExistingRequiresPendingClaim(t *testing.T) {
	claim := &domain.Claim{ID: uuid.New(), Status: domain.ClaimStatusSubmitted, Operator: "LNER"}
	repo := &claimRepoStub{claim: claim}
	service := NewClaimService(repo, testLogger(), 20)

	_, err := service.QueueExisting(context.Background(), claim.ID, "rider@example.com")
	if !errors.Is(err, ErrInvalidClaimState) {
		t.Fatalf("expected invalid claim state error, got %v", err)
	}
	if repo.enqueueCalled {
		t.Fatal("expected no enqueue for a non-pending claim")
	}
}

func TestQueueExistingSkipsWhenItemAlreadyActive(t *testing.T) {
	claim := &domain.Claim{ID: uuid.New(), Status: domain.ClaimStatusPending, Operator: "LNER"}
	repo := &claimRepoStub{claim: claim, hasActiveItem: true}
	service := NewClaimService(repo, testLogger(), 20)

	result, err := service.QueueExisting(context.Background(), claim.ID, "rider@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Reused {
		t.Fatal("expected reused=true when an item is already queued")
	}
	if repo.enqueueCalled {
		t.Fatal("expected no double enqueue")
	}
}

func TestQueueExistingEnqueuesPendingClaim(t *testing.T) {
	claim := &domain.Claim{ID: uuid.New(), Status: domain.ClaimStatusPending, Operator: "LNER"}
	repo := &claimRepoStub{claim: claim}
	service := NewClaimService(repo, testLogger(), 20)

	result, err := service.QueueExisting(context.Background(), claim.ID, "rider@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reused {
		t.Fatal("expected a fresh queue item")
	}
	if !repo.enqueueCalled {
		t.Fatal("expected an enqueue")
	}
}
