/**
 * @description
 * The claim lifecycle manager. Owns claim creation and the one legal way to
 * re-queue an existing claim. Creation is idempotent per (trip, user): while a
 * non-failed claim exists, repeated calls return the same claim id with
 * reused = true instead of creating a duplicate.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fareguard/claims-service/internal/domain"
)

// Typed failures surfaced to the API layer.
var (
	// ErrInvalidClaimState is returned when QueueExisting is called on a claim
	// that is not in the pending state.
	ErrInvalidClaimState = errors.New("claim is not in a queueable state")
)

// ClaimRepository defines the database operations the lifecycle manager needs.
type ClaimRepository interface {
	GetTripForUser(ctx context.Context, tripID uuid.UUID, userEmail string) (*domain.Trip, error)
	CreateClaimWithQueueItem(ctx context.Context, claim *domain.Claim) (*domain.Claim, bool, error)
	GetClaimForUser(ctx context.Context, claimID uuid.UUID, userEmail string) (*domain.Claim, error)
	HasActiveQueueItem(ctx context.Context, claimID uuid.UUID) (bool, error)
	EnqueueClaimItem(ctx context.Context, claimID uuid.UUID, provider domain.ProviderID) error
}

// CreateClaimResult is returned to the caller of CreateClaim.
type CreateClaimResult struct {
	ClaimID uuid.UUID          `json:"claim_id"`
	Status  domain.ClaimStatus `json:"status"`
	Reused  bool               `json:"reused"`
}

// ClaimService manages claim creation and queueing.
type ClaimService struct {
	repo       ClaimRepository
	logger     *slog.Logger
	feePercent float64
}

// NewClaimService creates a new lifecycle manager.
func NewClaimService(repo ClaimRepository, logger *slog.Logger, feePercent float64) *ClaimService {
	return &ClaimService{repo: repo, logger: logger, feePercent: feePercent}
}

// CreateClaim validates ownership, resolves the submission provider for the
// trip's operator, and creates a pending claim plus its queued work item. When
// an active claim already exists for this (trip, user) pair, that claim is
// returned unchanged with Reused set.
func (s *ClaimService) CreateClaim(ctx context.Context, tripID uuid.UUID, userEmail string) (*CreateClaimResult, error) {
	trip, err := s.repo.GetTripForUser(ctx, tripID, userEmail)
	if err != nil {
		return nil, err
	}

	provider, err := domain.ProviderForOperator(trip.Operator)
	if err != nil {
		return nil, err
	}

	claim := &domain.Claim{
		ID:               uuid.New(),
		TripID:           trip.ID,
		UserEmail:        trip.UserEmail,
		Provider:         provider,
		FeePercent:       s.feePercent,
		Operator:         trip.Operator,
		Origin:           trip.Origin,
		Destination:      trip.Destination,
		BookingRef:       trip.BookingRef,
		PlannedDeparture: trip.PlannedDeparture,
		PlannedArrival:   trip.PlannedArrival,
		DelayMinutes:     trip.DelayMinutes,
	}

	stored, reused, err := s.repo.CreateClaimWithQueueItem(ctx, claim)
	if err != nil {
		return nil, fmt.Errorf("creating claim for trip %s: %w", tripID, err)
	}

	if reused {
		s.logger.Info("existing active claim reused", "claim_id", stored.ID, "trip_id", tripID)
	} else {
		s.logger.Info("claim created and queued", "claim_id", stored.ID, "trip_id", tripID, "provider", provider)
	}

	return &CreateClaimResult{ClaimID: stored.ID, Status: stored.Status, Reused: reused}, nil
}

// QueueExisting re-queues a pending claim. The claim must be in the pending
// state, and a fresh queue item is only inserted when the claim has no item
// already queued or processing (guarding against a double-queue race).
func (s *ClaimService) QueueExisting(ctx context.Context, claimID uuid.UUID, userEmail string) (*CreateClaimResult, error) {
	claim, err := s.repo.GetClaimForUser(ctx, claimID, userEmail)
	if err != nil {
		return nil, err
	}

	if claim.Status != domain.ClaimStatusPending {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidClaimState, claim.Status)
	}

	provider, err := domain.ProviderForOperator(claim.Operator)
	if err != nil {
		return nil, err
	}

	active, err := s.repo.HasActiveQueueItem(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if !active {
		if err := s.repo.EnqueueClaimItem(ctx, claimID, provider); err != nil {
			return nil, fmt.Errorf("queueing claim %s: %w", claimID, err)
		}
		s.logger.Info("claim re-queued", "claim_id", claimID, "provider", provider)
	}

	return &CreateClaimResult{ClaimID: claimID, Status: claim.Status, Reused: active}, nil
}

// GetClaim fetches a claim scoped to its owner.
func (s *ClaimService) GetClaim(ctx context.Context, claimID uuid.UUID, userEmail string) (*domain.Claim, error) {
	return s.repo.GetClaimForUser(ctx, claimID, userEmail)
}
