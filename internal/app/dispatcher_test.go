package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fareguard/claims-service/internal/domain"
	"github.com/fareguard/claims-service/internal/store"
	"github.com/fareguard/claims-service/pkg/providers"
)

type dispatchRepoStub struct {
	item  *domain.QueueItem
	claim *domain.Claim

	markedProcessing    bool
	markedSubmitted     bool
	submittedRef        string
	markedReady         bool
	markedFailed        bool
	failureReason       string
	successRecorded     bool
	successCheckAfter   time.Duration
	rescheduled         bool
	rescheduleAfter     time.Duration
	rescheduleError     string
	parked              bool
	parkDiagnostic      string
	deadLettered        bool
	notificationQueued  bool
	notificationAddress string
}

func (s *dispatchRepoStub) PopNextQueueItem(ctx context.Context) (*domain.QueueItem, error) {
	if s.item == nil {
		return nil, store.ErrQueueEmpty
	}
	return s.item, nil
}

func (s *dispatchRepoStub) GetClaimByID(ctx context.Context, claimID uuid.UUID) (*domain.Claim, error) {
	if s.claim == nil {
		return nil, store.ErrClaimNotFound
	}
	return s.claim, nil
}

func (s *dispatchRepoStub) MarkClaimProcessing(ctx context.Context, claimID uuid.UUID) error {
	s.markedProcessing = true
	return nil
}

func (s *dispatchRepoStub) MarkClaimSubmitted(ctx context.Context, claimID uuid.UUID, providerRef string, submittedAt time.Time) error {
	s.markedSubmitted = true
	s.submittedRef = providerRef
	return nil
}

func (s *dispatchRepoStub) MarkClaimReady(ctx context.Context, claimID uuid.UUID) error {
	s.markedReady = true
	return nil
}

func (s *dispatchRepoStub) MarkClaimFailed(ctx context.Context, claimID uuid.UUID, reason string) error {
	s.markedFailed = true
	s.failureReason = reason
	return nil
}

func (s *dispatchRepoStub) RecordQueueSuccess(ctx context.Context, itemID int64, checkAfter time.Duration, response json.RawMessage) error {
	s.successRecorded = true
	s.successCheckAfter = checkAfter
	return nil
}

func (s *dispatchRepoStub) RescheduleQueueItem(ctx context.Context, itemID int64, retryAfter time.Duration, lastError string) error {
	s.rescheduled = true
	s.rescheduleAfter = retryAfter
	s.rescheduleError = lastError
	return nil
}

func (s *dispatchRepoStub) ParkQueueItem(ctx context.Context, itemID int64, delay time.Duration, diagnostic string) error {
	s.parked = true
	s.parkDiagnostic = diagnostic
	return nil
}

func (s *dispatchRepoStub) DeadLetterQueueItem(ctx context.Context, itemID int64, lastError string) error {
	s.deadLettered = true
	return nil
}

func (s *dispatchRepoStub) EnqueueNotification(ctx context.Context, claimID uuid.UUID, recipient, template string) error {
	s.notificationQueued = true
	s.notificationAddress = recipient
	return nil
}

type publisherStub struct {
	exchanges   []string
	routingKeys []string
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.exchanges = append(p.exchanges, exchange)
	p.routingKeys = append(p.routingKeys, routingKey)
	return nil
}

type adapterStub struct {
	id     domain.ProviderID
	result domain.SubmissionResult

	submitCalled bool
	payload      domain.SubmissionPayload
}

func (a *adapterStub) ID() domain.ProviderID { return a.id }

func (a *adapterStub) Submit(ctx context.Context, payload domain.SubmissionPayload) domain.SubmissionResult {
	a.submitCalled = true
	a.payload = payload
	return a.result
}

func testDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		LiveSubmit:        true,
		AutomationEnabled: true,
		MaxAttempts:       8,
		CheckDelay:        24 * time.Hour,
		ReadyRecheckDelay: 6 * time.Hour,
		EventsExchange:    "fareguard.events",
	}
}

func dispatchFixture(attempts int) (*dispatchRepoStub, *adapterStub) {
	claimID := uuid.New()
	departure := time.Date(2026, 3, 9, 16, 30, 0, 0, time.UTC)
	repo := &dispatchRepoStub{
		item: &domain.QueueItem{
			ID:       41,
			ClaimID:  claimID,
			Provider: domain.ProviderLNER,
			Stage:    domain.StageProcessing,
			Attempts: attempts,
		},
		claim: &domain.Claim{
			ID:               claimID,
			TripID:           uuid.New(),
			UserEmail:        "rider@example.com",
			Status:           domain.ClaimStatusQueued,
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
	adapter := &adapterStub{
		id:     domain.ProviderLNER,
		result: domain.SubmissionResult{OK: true, ProviderRef: "DR-789"},
	}
	return repo, adapter
}

func TestDispatcherTickEmptyQueue(t *testing.T) {
	repo := &dispatchRepoStub{}
	d := NewDispatcher(repo, providers.NewRegistry(), &publisherStub{}, testLogger(), testDispatcherConfig())

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Result != DispatchEmpty || stats.Processed != 0 {
		t.Fatalf("expected empty tick, got %+v", stats)
	}
}

func TestDispatcherTickSubmitsClaim(t *testing.T) {
	repo, adapter := dispatchFixture(1)
	events := &publisherStub{}
	d := NewDispatcher(repo, providers.NewRegistry(adapter), events, testLogger(), testDispatcherConfig())

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Result != DispatchSubmitted {
		t.Fatalf("expected submitted result, got %q", stats.Result)
	}
	if !adapter.submitCalled {
		t.Fatal("expected adapter submission")
	}
	if adapter.payload.BookingRef != "ABC123" {
		t.Fatalf("expected claim snapshot in payload, got %+v", adapter.payload)
	}
	if !repo.markedProcessing || !repo.markedSubmitted {
		t.Fatal("expected claim to pass through processing into submitted")
	}
	if repo.submittedRef != "DR-789" {
		t.Fatalf("expected provider ref to be recorded, got %q", repo.submittedRef)
	}
	if !repo.successRecorded || repo.successCheckAfter != 24*time.Hour {
		t.Fatalf("expected item parked in check for 24h, got %v", repo.successCheckAfter)
	}
	if !repo.notificationQueued || repo.notificationAddress != "rider@example.com" {
		t.Fatal("expected a notification job for the claim owner")
	}
	if len(events.routingKeys) != 1 || events.routingKeys[0] != "claim.submitted" {
		t.Fatalf("expected claim.submitted event, got %v", events.routingKeys)
	}
}

func TestDispatcherTickDryRunLeavesClaimReady(t *testing.T) {
	repo, adapter := dispatchFixture(1)
	cfg := testDispatcherConfig()
	cfg.LiveSubmit = false
	events := &publisherStub{}
	d := NewDispatcher(repo, providers.NewRegistry(adapter), events, testLogger(), cfg)

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Result != DispatchReady {
		t.Fatalf("expected ready result, got %q", stats.Result)
	}
	if !repo.markedReady || repo.markedSubmitted {
		t.Fatal("expected claim ready, not submitted")
	}
	if !repo.rescheduled || repo.rescheduleAfter != 6*time.Hour {
		t.Fatalf("expected item rescheduled 6h out for a later live run, got %v", repo.rescheduleAfter)
	}
	if repo.notificationQueued {
		t.Fatal("expected no notification for a dry run")
	}
	if len(events.routingKeys) != 0 {
		t.Fatalf("expected no audit events for a dry run, got %v", events.routingKeys)
	}
}

func TestDispatcherTickFailureSchedulesRetry(t *testing.T) {
	repo, adapter := dispatchFixture(2)
	adapter.result = domain.SubmissionResult{OK: false, Error: "confirmation not observed"}
	d := NewDispatcher(repo, providers.NewRegistry(adapter), &publisherStub{}, testLogger(), testDispatcherConfig())

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Result != DispatchFailed {
		t.Fatalf("expected failed result, got %q", stats.Result)
	}
	if !repo.markedFailed || repo.failureReason != "confirmation not observed" {
		t.Fatalf("expected failure reason on the claim, got %q", repo.failureReason)
	}
	if !repo.rescheduled || repo.rescheduleAfter != SubmitBackoff(2) {
		t.Fatalf("expected backoff reschedule of %v, got %v", SubmitBackoff(2), repo.rescheduleAfter)
	}
	if repo.deadLettered {
		t.Fatal("expected no dead-letter below the attempt ceiling")
	}
}

func TestDispatcherTickDeadLettersAtAttemptCeiling(t *testing.T) {
	repo, adapter := dispatchFixture(8)
	adapter.result = domain.SubmissionResult{OK: false, Error: "portal unreachable"}
	d := NewDispatcher(repo, providers.NewRegistry(adapter), &publisherStub{}, testLogger(), testDispatcherConfig())

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Result != DispatchDeadLettered {
		t.Fatalf("expected dead_lettered result, got %q", stats.Result)
	}
	if !repo.deadLettered {
		t.Fatal("expected the item to be dead-lettered")
	}
	if repo.rescheduled {
		t.Fatal("expected no reschedule at the attempt ceiling")
	}
}

func TestDispatcherTickParksItemWithMissingClaim(t *testing.T) {
	repo, adapter := dispatchFixture(1)
	repo.claim = nil
	d := NewDispatcher(repo, providers.NewRegistry(adapter), &publisherStub{}, testLogger(), testDispatcherConfig())

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("expected the loop to continue past an orphaned item, got %v", err)
	}
	if stats.Result != DispatchParkedClaimMissing {
		t.Fatalf("expected parked_claim_missing, got %q", stats.Result)
	}
	if !repo.parked {
		t.Fatal("expected the orphaned item to be parked")
	}
	if adapter.submitCalled {
		t.Fatal("expected no submission for an orphaned item")
	}
}

func TestDispatcherTickUnknownProviderFailsClaim(t *testing.T) {
	repo, _ := dispatchFixture(1)
	d := NewDispatcher(repo, providers.NewRegistry(), &publisherStub{}, testLogger(), testDispatcherConfig())

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Result != DispatchParkedNoProvider {
		t.Fatalf("expected parked_no_provider, got %q", stats.Result)
	}
	if !repo.markedFailed || repo.failureReason != "no_provider_for_operator" {
		t.Fatalf("expected permanent failure mark, got %q", repo.failureReason)
	}
	if !repo.parked {
		t.Fatal("expected the item to be parked")
	}
}

func TestDispatcherTickAutomationKillSwitch(t *testing.T) {
	repo, adapter := dispatchFixture(1)
	cfg := testDispatcherConfig()
	cfg.AutomationEnabled = false
	d := NewDispatcher(repo, providers.NewRegistry(adapter), &publisherStub{}, testLogger(), cfg)

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Result != DispatchDeferred {
		t.Fatalf("expected deferred result, got %q", stats.Result)
	}
	if adapter.submitCalled {
		t.Fatal("expected no submission while automation is disabled")
	}
	if !repo.rescheduled {
		t.Fatal("expected the item to be put back with a delay")
	}
}

func TestSubmitBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: 2 * time.Minute},
		{attempts: 1, want: 2 * time.Minute},
		{attempts: 2, want: 3 * time.Minute},
		{attempts: 10, want: 11 * time.Minute},
		{attempts: 59, want: 60 * time.Minute},
		{attempts: 500, want: 60 * time.Minute},
	}

	for _, tt := range tests {
		if got := SubmitBackoff(tt.attempts); got != tt.want {
			t.Fatalf("SubmitBackoff(%d): expected %v, got %v", tt.attempts, tt.want, got)
		}
	}
}
