package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fareguard/claims-service/internal/domain"
	"github.com/fareguard/claims-service/internal/store"
)

type notificationRepoStub struct {
	lockHeld bool
	job      *domain.NotificationJob
	claim    *domain.Claim

	released       bool
	sentMessageID  string
	failedBackoff  time.Duration
	failedReason   string
	markedDead     bool
	suppressed     bool
	suppressReason string
}

func (s *notificationRepoStub) AcquireNotifierLock(ctx context.Context) (func(), bool, error) {
	if s.lockHeld {
		return nil, false, nil
	}
	return func() { s.released = true }, true, nil
}

func (s *notificationRepoStub) PopDueNotificationJob(ctx context.Context) (*domain.NotificationJob, error) {
	if s.job == nil {
		return nil, store.ErrNoJobDue
	}
	return s.job, nil
}

func (s *notificationRepoStub) GetClaimByID(ctx context.Context, claimID uuid.UUID) (*domain.Claim, error) {
	if s.claim == nil {
		return nil, store.ErrClaimNotFound
	}
	return s.claim, nil
}

func (s *notificationRepoStub) MarkNotificationSent(ctx context.Context, jobID int64, claimID uuid.UUID, messageID string) error {
	s.sentMessageID = messageID
	return nil
}

func (s *notificationRepoStub) MarkNotificationFailed(ctx context.Context, jobID int64, retryAfter time.Duration, reason string) error {
	s.failedBackoff = retryAfter
	s.failedReason = reason
	return nil
}

func (s *notificationRepoStub) MarkNotificationDead(ctx context.Context, jobID int64, reason string) error {
	s.markedDead = true
	return nil
}

func (s *notificationRepoStub) SuppressNotification(ctx context.Context, jobID int64, reason string) error {
	s.suppressed = true
	s.suppressReason = reason
	return nil
}

type emailSenderStub struct {
	messageID string
	err       error

	sentTo      string
	sentSubject string
	sentText    string
}

func (s *emailSenderStub) Send(ctx context.Context, from, to, subject, html, text string) (string, error) {
	s.sentTo = to
	s.sentSubject = subject
	s.sentText = text
	if s.err != nil {
		return "", s.err
	}
	return s.messageID, nil
}

func notifierFixture(attempts int) *notificationRepoStub {
	claimID := uuid.New()
	departure := time.Date(2026, 3, 9, 16, 30, 0, 0, time.UTC)
	return &notificationRepoStub{
		job: &domain.NotificationJob{
			ID:        7,
			ClaimID:   claimID,
			Recipient: "rider@example.com",
			Template:  domain.TemplateClaimSubmitted,
			Attempts:  attempts,
		},
		claim: &domain.Claim{
			ID:               claimID,
			TripID:           uuid.New(),
			UserEmail:        "rider@example.com",
			Status:           domain.ClaimStatusSubmitted,
			Provider:         domain.ProviderLNER,
			Operator:         "LNER",
			Origin:           "KGX",
			Destination:      "YRK",
			BookingRef:       "ABC123",
			PlannedDeparture: departure,
			PlannedArrival:   departure.Add(2 * time.Hour),
			DelayMinutes:     ptrInt(40),
		},
	}
}

func testNotifierConfig() NotifierConfig {
	return NotifierConfig{
		FromAddress:    "claims@fareguard.app",
		MaxAttempts:    7,
		EventsExchange: "fareguard.events",
	}
}

func TestNotifierTickSendsClaimEmail(t *testing.T) {
	repo := notifierFixture(0)
	email := &emailSenderStub{messageID: "msg-42"}
	events := &publisherStub{}
	n := NewNotifier(repo, email, events, testLogger(), testNotifierConfig())

	stats, err := n.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Result != NotifySent {
		t.Fatalf("expected sent result, got %q", stats.Result)
	}
	if email.sentTo != "rider@example.com" {
		t.Fatalf("expected email to the claim owner, got %q", email.sentTo)
	}
	if !strings.Contains(email.sentSubject, "LNER") {
		t.Fatalf("expected operator in subject, got %q", email.sentSubject)
	}
	if !strings.Contains(email.sentText, "ABC123") {
		t.Fatal("expected booking reference in the email body")
	}
	if !strings.Contains(email.sentText, "https://delayrepay.lner.co.uk/") {
		t.Fatal("expected the operator follow-up link in the email body")
	}
	if repo.sentMessageID != "msg-42" {
		t.Fatalf("expected provider message id recorded, got %q", repo.sentMessageID)
	}
	if len(events.routingKeys) != 1 || events.routingKeys[0] != "claim.emailed" {
		t.Fatalf("expected claim.emailed event, got %v", events.routingKeys)
	}
	if !repo.released {
		t.Fatal("expected the notifier lock to be released")
	}
}

func TestNotifierTickSkipsWhenLockHeld(t *testing.T) {
	repo := notifierFixture(0)
	repo.lockHeld = true
	n := NewNotifier(repo, &emailSenderStub{}, &publisherStub{}, testLogger(), testNotifierConfig())

	stats, err := n.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Result != NotifyLocked || stats.Processed != 0 {
		t.Fatalf("expected a locked no-op tick, got %+v", stats)
	}
}

func TestNotifierTickEmptyOutbox(t *testing.T) {
	repo := &notificationRepoStub{}
	n := NewNotifier(repo, &emailSenderStub{}, &publisherStub{}, testLogger(), testNotifierConfig())

	stats, err := n.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Result != NotifyEmpty {
		t.Fatalf("expected empty result, got %q", stats.Result)
	}
}

func TestNotifierTickSuppressesJobWithMissingClaim(t *testing.T) {
	repo := notifierFixture(0)
	repo.claim = nil
	email := &emailSenderStub{}
	n := NewNotifier(repo, email, &publisherStub{}, testLogger(), testNotifierConfig())

	stats, err := n.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Result != NotifySuppressed {
		t.Fatalf("expected suppressed result, got %q", stats.Result)
	}
	if !repo.suppressed || repo.suppressReason != "claim_missing" {
		t.Fatalf("expected claim_missing suppression, got %q", repo.suppressReason)
	}
	if email.sentTo != "" {
		t.Fatal("expected no email for an orphaned job")
	}
}

func TestNotifierTickSuppressesWithoutFollowUpLink(t *testing.T) {
	repo := notifierFixture(0)
	repo.claim.Provider = domain.ProviderCrossCountry
	repo.claim.Operator = "CrossCountry"
	email := &emailSenderStub{}
	n := NewNotifier(repo, email, &publisherStub{}, testLogger(), testNotifierConfig())

	stats, err := n.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Result != NotifySuppressed {
		t.Fatalf("expected suppressed result, got %q", stats.Result)
	}
	if !strings.HasPrefix(repo.suppressReason, "no_cta_url_for_operator") {
		t.Fatalf("unexpected suppression reason %q", repo.suppressReason)
	}
	if email.sentTo != "" {
		t.Fatal("expected no email without a follow-up link")
	}
}

func TestNotifierTickSendFailureSchedulesRetry(t *testing.T) {
	repo := notifierFixture(3)
	email := &emailSenderStub{err: errors.New("rate limited")}
	n := NewNotifier(repo, email, &publisherStub{}, testLogger(), testNotifierConfig())

	stats, err := n.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Result != NotifyFailed {
		t.Fatalf("expected failed result, got %q", stats.Result)
	}
	if repo.failedBackoff != NotifyBackoff(3) {
		t.Fatalf("expected backoff %v, got %v", NotifyBackoff(3), repo.failedBackoff)
	}
	if repo.failedReason != "rate limited" {
		t.Fatalf("expected failure reason recorded, got %q", repo.failedReason)
	}
	if repo.markedDead {
		t.Fatal("expected no dead mark below the attempt ceiling")
	}
}

func TestNotifierTickDeadAtAttemptCeiling(t *testing.T) {
	repo := notifierFixture(7)
	email := &emailSenderStub{err: errors.New("mailbox unavailable")}
	n := NewNotifier(repo, email, &publisherStub{}, testLogger(), testNotifierConfig())

	stats, err := n.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Result != NotifyDead {
		t.Fatalf("expected dead result, got %q", stats.Result)
	}
	if !repo.markedDead {
		t.Fatal("expected the job to be marked dead")
	}
}

func TestNotifyBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: 1 * time.Minute},
		{attempts: 1, want: 2 * time.Minute},
		{attempts: 3, want: 8 * time.Minute},
		{attempts: 6, want: 60 * time.Minute},
		{attempts: 20, want: 60 * time.Minute},
	}

	for _, tt := range tests {
		if got := NotifyBackoff(tt.attempts); got != tt.want {
			t.Fatalf("NotifyBackoff(%d): expected %v, got %v", tt.attempts, tt.want, got)
		}
	}
}
