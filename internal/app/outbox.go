/**
 * @description
 * The notification outbox. A second, independent queue that emails the user
 * once their claim has gone in. One instance runs at a time (Postgres
 * advisory lock); the per-job claim itself is still a conditional row update,
 * so a crashed worker's job becomes poppable again when its retry time passes.
 *
 * An email is only as good as its call-to-action link: when no follow-up URL
 * is known for the claim's operator the job is suppressed outright rather
 * than sent broken.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fareguard/claims-service/internal/domain"
	"github.com/fareguard/claims-service/internal/store"
)

// Tick results reported in NotifyStats.Result.
const (
	NotifyLocked     = "locked"
	NotifyEmpty      = "empty"
	NotifySent       = "sent"
	NotifyFailed     = "failed"
	NotifyDead       = "dead"
	NotifySuppressed = "suppressed"
)

// NotificationRepository defines the database operations the outbox needs.
type NotificationRepository interface {
	AcquireNotifierLock(ctx context.Context) (release func(), acquired bool, err error)
	PopDueNotificationJob(ctx context.Context) (*domain.NotificationJob, error)
	GetClaimByID(ctx context.Context, claimID uuid.UUID) (*domain.Claim, error)
	MarkNotificationSent(ctx context.Context, jobID int64, claimID uuid.UUID, messageID string) error
	MarkNotificationFailed(ctx context.Context, jobID int64, retryAfter time.Duration, reason string) error
	MarkNotificationDead(ctx context.Context, jobID int64, reason string) error
	SuppressNotification(ctx context.Context, jobID int64, reason string) error
}

// EmailSender sends one transactional email and returns the provider's
// message id. Satisfied by the emailclient package.
type EmailSender interface {
	Send(ctx context.Context, from, to, subject, html, text string) (string, error)
}

// NotifierConfig carries send settings and the retry ceiling.
type NotifierConfig struct {
	FromAddress    string
	MaxAttempts    int
	EventsExchange string
}

// NotifyStats summarizes one outbox tick.
type NotifyStats struct {
	Processed int    `json:"processed"`
	Result    string `json:"result"`
}

// Notifier drains the notification outbox.
type Notifier struct {
	repo   NotificationRepository
	email  EmailSender
	events EventPublisher
	logger *slog.Logger
	cfg    NotifierConfig
}

// NewNotifier creates a new outbox worker.
func NewNotifier(repo NotificationRepository, email EmailSender, events EventPublisher, logger *slog.Logger, cfg NotifierConfig) *Notifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 7
	}
	return &Notifier{repo: repo, email: email, events: events, logger: logger, cfg: cfg}
}

// Tick processes at most one due notification job.
func (n *Notifier) Tick(ctx context.Context) (NotifyStats, error) {
	release, acquired, err := n.repo.AcquireNotifierLock(ctx)
	if err != nil {
		return NotifyStats{Result: NotifyLocked}, fmt.Errorf("acquiring notifier lock: %w", err)
	}
	if !acquired {
		return NotifyStats{Result: NotifyLocked}, nil
	}
	defer release()

	job, err := n.repo.PopDueNotificationJob(ctx)
	if errors.Is(err, store.ErrNoJobDue) {
		return NotifyStats{Result: NotifyEmpty}, nil
	}
	if err != nil {
		return NotifyStats{Result: NotifyEmpty}, fmt.Errorf("popping notification job: %w", err)
	}

	stats := NotifyStats{Processed: 1}

	claim, err := n.repo.GetClaimByID(ctx, job.ClaimID)
	if errors.Is(err, store.ErrClaimNotFound) {
		n.logger.Error("notification job references missing claim", "job_id", job.ID, "claim_id", job.ClaimID)
		n.suppress(ctx, job.ID, "claim_missing")
		stats.Result = NotifySuppressed
		return stats, nil
	}
	if err != nil {
		return n.recordFailure(ctx, job, fmt.Sprintf("claim load failed: %v", err)), nil
	}

	ctaURL, ok := domain.CTAURLForProvider(claim.Provider)
	if !ok {
		// No follow-up link for this operator; a broken email helps nobody.
		n.suppress(ctx, job.ID, fmt.Sprintf("no_cta_url_for_operator: %s", claim.Operator))
		stats.Result = NotifySuppressed
		return stats, nil
	}

	subject, html, text := buildClaimEmail(claim, ctaURL)
	messageID, err := n.email.Send(ctx, n.cfg.FromAddress, job.Recipient, subject, html, text)
	if err != nil {
		return n.recordFailure(ctx, job, err.Error()), nil
	}

	if err := n.repo.MarkNotificationSent(ctx, job.ID, claim.ID, messageID); err != nil {
		n.logger.Error("notification sent mark failed", "job_id", job.ID, "error", err)
	}
	n.publish(ctx, "claim.emailed", domain.ClaimEvent{
		ClaimID:   claim.ID,
		TripID:    claim.TripID,
		Provider:  claim.Provider,
		Status:    string(domain.ClaimStatusEmailed),
		Timestamp: time.Now().UTC(),
	})

	n.logger.Info("claim notification sent", "job_id", job.ID, "claim_id", claim.ID, "message_id", messageID)
	stats.Result = NotifySent
	return stats, nil
}

func (n *Notifier) recordFailure(ctx context.Context, job *domain.NotificationJob, reason string) NotifyStats {
	stats := NotifyStats{Processed: 1}
	if job.Attempts >= n.cfg.MaxAttempts {
		if err := n.repo.MarkNotificationDead(ctx, job.ID, reason); err != nil {
			n.logger.Error("notification dead mark failed", "job_id", job.ID, "error", err)
		}
		n.logger.Error("notification job dead", "job_id", job.ID, "attempts", job.Attempts, "reason", reason)
		stats.Result = NotifyDead
		return stats
	}

	backoff := NotifyBackoff(job.Attempts)
	if err := n.repo.MarkNotificationFailed(ctx, job.ID, backoff, reason); err != nil {
		n.logger.Error("notification failure mark failed", "job_id", job.ID, "error", err)
	}
	n.logger.Warn("notification send failed; retry scheduled",
		"job_id", job.ID, "attempts", job.Attempts, "retry_in", backoff, "reason", reason)
	stats.Result = NotifyFailed
	return stats
}

func (n *Notifier) suppress(ctx context.Context, jobID int64, reason string) {
	if err := n.repo.SuppressNotification(ctx, jobID, reason); err != nil {
		n.logger.Error("notification suppress failed", "job_id", jobID, "error", err)
	}
}

func (n *Notifier) publish(ctx context.Context, routingKey string, event domain.ClaimEvent) {
	if n.events == nil {
		return
	}
	if err := n.events.Publish(ctx, n.cfg.EventsExchange, routingKey, event); err != nil {
		n.logger.Warn("audit event publish failed", "routing_key", routingKey, "error", err)
	}
}

// NotifyBackoff computes the retry delay after a failed send:
// min(60, 2^min(6, attempts)) minutes.
func NotifyBackoff(attempts int) time.Duration {
	exp := attempts
	if exp > 6 {
		exp = 6
	}
	minutes := 1 << exp
	if minutes > 60 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

func buildClaimEmail(claim *domain.Claim, ctaURL string) (subject, html, text string) {
	delay := "your delayed journey"
	if claim.DelayMinutes != nil {
		delay = fmt.Sprintf("a %d minute delay", *claim.DelayMinutes)
	}
	route := fmt.Sprintf("%s to %s", claim.Origin, claim.Destination)
	travelDate := claim.PlannedDeparture.Format("Monday 2 January 2006")

	subject = fmt.Sprintf("Your %s compensation claim is in", claim.Operator)
	text = fmt.Sprintf(
		"Good news - we've submitted your compensation claim to %s for %s on your %s journey on %s.\n\n"+
			"Booking reference: %s\n\n"+
			"Track your claim here: %s\n",
		claim.Operator, delay, route, travelDate, claim.BookingRef, ctaURL)
	html = fmt.Sprintf(
		`<p>Good news &mdash; we've submitted your compensation claim to <strong>%s</strong> for %s on your %s journey on %s.</p>`+
			`<p>Booking reference: <strong>%s</strong></p>`+
			`<p><a href="%s">Track your claim</a></p>`,
		claim.Operator, delay, route, travelDate, claim.BookingRef, ctaURL)
	return subject, html, text
}
