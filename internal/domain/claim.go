/**
 * @description
 * This file defines the claim-side domain models: the compensation claim
 * itself, the queue item that drives it through submission, and the
 * notification job that tells the user about the outcome.
 *
 * @notes
 * - A claim carries a denormalized snapshot of the trip it was created from so
 *   the dispatcher and adapters never need to re-join against `trips`.
 * - At most one non-failed claim may exist per (trip_id, user_email); a failed
 *   claim stays behind as an audit record and a fresh attempt gets a new row.
 */

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ClaimStatus enumerates the legal states of a claim.
type ClaimStatus string

const (
	ClaimStatusPending    ClaimStatus = "pending"
	ClaimStatusQueued     ClaimStatus = "queued"
	ClaimStatusProcessing ClaimStatus = "processing"
	ClaimStatusSubmitted  ClaimStatus = "submitted"
	// ClaimStatusReady marks a claim whose submission would have succeeded but
	// live submission was disabled; a human flips the service live and the
	// queue item retries for real.
	ClaimStatusReady   ClaimStatus = "ready"
	ClaimStatusFailed  ClaimStatus = "failed"
	ClaimStatusEmailed ClaimStatus = "emailed"
)

// Active reports whether the status blocks creation of a duplicate claim for
// the same (trip, user) pair. Everything except `failed` counts as active.
func (s ClaimStatus) Active() bool {
	return s != ClaimStatusFailed
}

// Claim is one compensation request for one trip and one user. Maps to the
// `claims` table.
type Claim struct {
	ID               uuid.UUID       `json:"id"`
	TripID           uuid.UUID       `json:"trip_id"`
	UserEmail        string          `json:"user_email"`
	Status           ClaimStatus     `json:"status"`
	Provider         ProviderID      `json:"provider"`
	FeePercent       float64         `json:"fee_percent"`
	Operator         string          `json:"operator"`
	Origin           string          `json:"origin"`
	Destination      string          `json:"destination"`
	BookingRef       string          `json:"booking_ref"`
	PlannedDeparture time.Time       `json:"planned_departure"`
	PlannedArrival   time.Time       `json:"planned_arrival"`
	DelayMinutes     *int            `json:"delay_minutes,omitempty"`
	FailureReason    *string         `json:"failure_reason,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	SubmittedAt      *time.Time      `json:"submitted_at,omitempty"`
	ProviderRef      *string         `json:"provider_ref,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// QueueStage enumerates the stages of a claim queue item.
type QueueStage string

const (
	StageQueued     QueueStage = "queued"
	StageProcessing QueueStage = "processing"
	// StageCheck parks an item for a later status verification pass, either
	// after a successful submission or when the item hit an integrity gap.
	StageCheck     QueueStage = "check"
	StageSubmitted QueueStage = "submitted"
	// StageFailed is the dead-letter stage: retries exhausted or a permanent
	// configuration failure. Requires operator intervention.
	StageFailed QueueStage = "failed"
)

// Terminal reports whether the stage accepts no further dispatcher work.
func (s QueueStage) Terminal() bool {
	return s == StageSubmitted || s == StageFailed
}

// QueueItem is the unit of retryable work that drives one claim through
// submission. A claim has at most one queue item in a non-terminal stage at a
// time. Maps to the `claim_queue` table.
type QueueItem struct {
	ID            int64           `json:"id"`
	ClaimID       uuid.UUID       `json:"claim_id"`
	Provider      ProviderID      `json:"provider"`
	Stage         QueueStage      `json:"stage"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     *string         `json:"last_error,omitempty"`
	Response      json.RawMessage `json:"response,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NotificationStatus enumerates the states of a notification job.
type NotificationStatus string

const (
	NotificationQueued  NotificationStatus = "queued"
	NotificationSending NotificationStatus = "sending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
	NotificationDead    NotificationStatus = "dead"
	// NotificationSuppressed means the job could not be rendered (no call to
	// action URL for the operator) and was dropped rather than sent broken.
	// Terminal; never retried.
	NotificationSuppressed NotificationStatus = "suppressed"
)

// NotificationJob is one pending user email about a claim. Maps to the
// `notification_jobs` table.
type NotificationJob struct {
	ID                int64              `json:"id"`
	ClaimID           uuid.UUID          `json:"claim_id"`
	Recipient         string             `json:"recipient"`
	Template          string             `json:"template"`
	Status            NotificationStatus `json:"status"`
	Attempts          int                `json:"attempts"`
	NextAttemptAt     time.Time          `json:"next_attempt_at"`
	LastError         *string            `json:"last_error,omitempty"`
	ProviderMessageID *string            `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Notification templates known to the outbox.
const (
	TemplateClaimSubmitted = "claim_submitted"
)
