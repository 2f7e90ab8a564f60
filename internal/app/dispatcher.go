/**
 * @description
 * The queue dispatcher. One tick pops at most one due queue item — the pop is
 * a single atomic statement in the store, so independent dispatcher processes
 * never double-claim — builds the provider-agnostic payload from the claim's
 * denormalized snapshot, and hands it to the resolved submission adapter.
 *
 * Outcome handling:
 *   - confirmed success: claim submitted, item parked in check for a later
 *     status verification, notification job enqueued
 *   - dry-run success: claim ready, item rescheduled hours out so the next
 *     live tick can submit for real
 *   - failure: claim failed, item rescheduled with bounded backoff, and
 *     dead-lettered once the attempt ceiling is hit
 *   - integrity/configuration gaps: item parked with a diagnostic, never
 *     retried aggressively, and the loop always continues
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fareguard/claims-service/internal/domain"
	"github.com/fareguard/claims-service/internal/store"
	"github.com/fareguard/claims-service/pkg/providers"
)

// Tick results reported in DispatchStats.Result.
const (
	DispatchEmpty              = "empty"
	DispatchSubmitted          = "submitted"
	DispatchReady              = "ready"
	DispatchFailed             = "failed"
	DispatchDeadLettered       = "dead_lettered"
	DispatchParkedClaimMissing = "parked_claim_missing"
	DispatchParkedNoProvider   = "parked_no_provider"
	DispatchDeferred           = "deferred"
)

// DispatchRepository defines the database operations the dispatcher needs.
type DispatchRepository interface {
	PopNextQueueItem(ctx context.Context) (*domain.QueueItem, error)
	GetClaimByID(ctx context.Context, claimID uuid.UUID) (*domain.Claim, error)
	MarkClaimProcessing(ctx context.Context, claimID uuid.UUID) error
	MarkClaimSubmitted(ctx context.Context, claimID uuid.UUID, providerRef string, submittedAt time.Time) error
	MarkClaimReady(ctx context.Context, claimID uuid.UUID) error
	MarkClaimFailed(ctx context.Context, claimID uuid.UUID, reason string) error
	RecordQueueSuccess(ctx context.Context, itemID int64, checkAfter time.Duration, response json.RawMessage) error
	RescheduleQueueItem(ctx context.Context, itemID int64, retryAfter time.Duration, lastError string) error
	ParkQueueItem(ctx context.Context, itemID int64, delay time.Duration, diagnostic string) error
	DeadLetterQueueItem(ctx context.Context, itemID int64, lastError string) error
	EnqueueNotification(ctx context.Context, claimID uuid.UUID, recipient, template string) error
}

// EventPublisher publishes audit events about claim milestones. Satisfied by
// the rabbitmq producer and its no-op fallback.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// DispatcherConfig carries retry and safety settings.
type DispatcherConfig struct {
	// LiveSubmit gates recording a submission as real. When false, a
	// would-be-successful run leaves the claim in ready instead.
	LiveSubmit bool
	// AutomationEnabled is the global kill switch for browser automation.
	AutomationEnabled bool
	MaxAttempts       int
	CheckDelay        time.Duration
	ReadyRecheckDelay time.Duration
	EventsExchange    string
}

// DispatchStats summarizes one dispatcher tick.
type DispatchStats struct {
	Processed int    `json:"processed"`
	Result    string `json:"result"`
	ClaimID   string `json:"claim_id,omitempty"`
}

// Dispatcher drives queued claims through their submission adapters.
type Dispatcher struct {
	repo     DispatchRepository
	registry *providers.Registry
	events   EventPublisher
	logger   *slog.Logger
	cfg      DispatcherConfig
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(repo DispatchRepository, registry *providers.Registry, events EventPublisher, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.CheckDelay <= 0 {
		cfg.CheckDelay = 24 * time.Hour
	}
	if cfg.ReadyRecheckDelay <= 0 {
		cfg.ReadyRecheckDelay = 6 * time.Hour
	}
	return &Dispatcher{repo: repo, registry: registry, events: events, logger: logger, cfg: cfg}
}

// Tick processes at most one queue item. Errors on an individual item are
// written to that item's row and never halt the loop; only a failure to reach
// the store at all is returned.
func (d *Dispatcher) Tick(ctx context.Context) (DispatchStats, error) {
	item, err := d.repo.PopNextQueueItem(ctx)
	if errors.Is(err, store.ErrQueueEmpty) {
		return DispatchStats{Result: DispatchEmpty}, nil
	}
	if err != nil {
		return DispatchStats{Result: DispatchEmpty}, fmt.Errorf("popping queue item: %w", err)
	}

	stats := DispatchStats{Processed: 1, ClaimID: item.ClaimID.String()}

	claim, err := d.repo.GetClaimByID(ctx, item.ClaimID)
	if errors.Is(err, store.ErrClaimNotFound) {
		// Integrity gap: the queue row outlived its claim. Park it for manual
		// review instead of crashing or retrying hot.
		d.logger.Error("queue item references missing claim", "item_id", item.ID, "claim_id", item.ClaimID)
		d.park(ctx, item.ID, time.Hour, "claim_missing: queue item has no claim row")
		stats.Result = DispatchParkedClaimMissing
		return stats, nil
	}
	if err != nil {
		d.park(ctx, item.ID, time.Hour, fmt.Sprintf("claim load failed: %v", err))
		stats.Result = DispatchParkedClaimMissing
		return stats, nil
	}

	adapter, err := d.registry.Resolve(item.Provider)
	if err != nil {
		// Permanent configuration failure: no retry will make an adapter
		// appear for this operator.
		d.logger.Error("no adapter for provider", "item_id", item.ID, "provider", item.Provider)
		if markErr := d.repo.MarkClaimFailed(ctx, claim.ID, "no_provider_for_operator"); markErr != nil {
			d.logger.Error("claim failure mark failed", "claim_id", claim.ID, "error", markErr)
		}
		d.park(ctx, item.ID, time.Hour, fmt.Sprintf("no_provider_for_operator: %s", claim.Operator))
		stats.Result = DispatchParkedNoProvider
		return stats, nil
	}

	if !d.cfg.AutomationEnabled {
		// Global kill switch: put the item back with a delay until the
		// runtime is re-enabled.
		d.reschedule(ctx, item, "automation disabled")
		stats.Result = DispatchDeferred
		return stats, nil
	}

	if err := d.repo.MarkClaimProcessing(ctx, claim.ID); err != nil {
		d.logger.Error("claim processing mark failed", "claim_id", claim.ID, "error", err)
	}

	result := adapter.Submit(ctx, buildPayload(claim))

	if !result.OK {
		return d.recordFailure(ctx, item, claim, result.Error), nil
	}

	if !d.cfg.LiveSubmit {
		// The submission would have succeeded but live mode is off. Record
		// ready and hold the item back so a later live tick submits for real.
		if err := d.repo.MarkClaimReady(ctx, claim.ID); err != nil {
			d.logger.Error("claim ready mark failed", "claim_id", claim.ID, "error", err)
		}
		if err := d.repo.RescheduleQueueItem(ctx, item.ID, d.cfg.ReadyRecheckDelay, "live submission disabled"); err != nil {
			d.logger.Error("queue reschedule failed", "item_id", item.ID, "error", err)
		}
		d.logger.Info("claim ready (dry run)", "claim_id", claim.ID, "provider", item.Provider)
		stats.Result = DispatchReady
		return stats, nil
	}

	submittedAt := time.Now().UTC()
	if result.SubmittedAt != nil {
		submittedAt = *result.SubmittedAt
	}
	if err := d.repo.MarkClaimSubmitted(ctx, claim.ID, result.ProviderRef, submittedAt); err != nil {
		d.logger.Error("claim submitted mark failed", "claim_id", claim.ID, "error", err)
	}
	if err := d.repo.RecordQueueSuccess(ctx, item.ID, d.cfg.CheckDelay, result.Raw); err != nil {
		d.logger.Error("queue success record failed", "item_id", item.ID, "error", err)
	}
	if err := d.repo.EnqueueNotification(ctx, claim.ID, claim.UserEmail, domain.TemplateClaimSubmitted); err != nil {
		d.logger.Error("notification enqueue failed", "claim_id", claim.ID, "error", err)
	}
	d.publish(ctx, "claim.submitted", domain.ClaimEvent{
		ClaimID:     claim.ID,
		TripID:      claim.TripID,
		Provider:    claim.Provider,
		Status:      string(domain.ClaimStatusSubmitted),
		ProviderRef: result.ProviderRef,
		Timestamp:   submittedAt,
	})

	d.logger.Info("claim submitted", "claim_id", claim.ID, "provider", item.Provider, "provider_ref", result.ProviderRef)
	stats.Result = DispatchSubmitted
	return stats, nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, item *domain.QueueItem, claim *domain.Claim, reason string) DispatchStats {
	if reason == "" {
		reason = "adapter reported failure without detail"
	}
	if err := d.repo.MarkClaimFailed(ctx, claim.ID, reason); err != nil {
		d.logger.Error("claim failure mark failed", "claim_id", claim.ID, "error", err)
	}

	stats := DispatchStats{Processed: 1, ClaimID: claim.ID.String()}
	if item.Attempts >= d.cfg.MaxAttempts {
		if err := d.repo.DeadLetterQueueItem(ctx, item.ID, reason); err != nil {
			d.logger.Error("dead letter failed", "item_id", item.ID, "error", err)
		}
		d.logger.Error("queue item dead-lettered", "item_id", item.ID, "claim_id", claim.ID, "attempts", item.Attempts)
		stats.Result = DispatchDeadLettered
		return stats
	}

	d.reschedule(ctx, item, reason)
	d.logger.Warn("submission failed; retry scheduled",
		"item_id", item.ID, "claim_id", claim.ID, "attempts", item.Attempts, "reason", reason)
	stats.Result = DispatchFailed
	return stats
}

func (d *Dispatcher) reschedule(ctx context.Context, item *domain.QueueItem, reason string) {
	if err := d.repo.RescheduleQueueItem(ctx, item.ID, SubmitBackoff(item.Attempts), reason); err != nil {
		d.logger.Error("queue reschedule failed", "item_id", item.ID, "error", err)
	}
}

func (d *Dispatcher) park(ctx context.Context, itemID int64, delay time.Duration, diagnostic string) {
	if err := d.repo.ParkQueueItem(ctx, itemID, delay, diagnostic); err != nil {
		d.logger.Error("queue park failed", "item_id", itemID, "error", err)
	}
}

func (d *Dispatcher) publish(ctx context.Context, routingKey string, event domain.ClaimEvent) {
	if d.events == nil {
		return
	}
	if err := d.events.Publish(ctx, d.cfg.EventsExchange, routingKey, event); err != nil {
		d.logger.Warn("audit event publish failed", "routing_key", routingKey, "error", err)
	}
}

func buildPayload(claim *domain.Claim) domain.SubmissionPayload {
	return domain.SubmissionPayload{
		ClaimID:          claim.ID.String(),
		UserEmail:        claim.UserEmail,
		BookingRef:       claim.BookingRef,
		Operator:         claim.Operator,
		Origin:           claim.Origin,
		Destination:      claim.Destination,
		PlannedDeparture: claim.PlannedDeparture,
		PlannedArrival:   claim.PlannedArrival,
		DelayMinutes:     claim.DelayMinutes,
	}
}

// SubmitBackoff computes the retry delay after a failed submission attempt:
// min(60, max(2, attempts+1)) minutes.
func SubmitBackoff(attempts int) time.Duration {
	minutes := attempts + 1
	if minutes < 2 {
		minutes = 2
	}
	if minutes > 60 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}
