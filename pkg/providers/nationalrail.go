/**
 * @description
 * Reference submission adapter for the National Rail Delay Repay portal. It
 * drives a headless browser session through the public claim flow: dismiss the
 * consent overlay, fill the identifying fields and delay band, and — only when
 * live submission is enabled — submit and wait for the portal's confirmation
 * text before reporting success. No confirmation means failure, never an
 * assumed success.
 */
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/fareguard/claims-service/internal/domain"
	"github.com/fareguard/claims-service/pkg/browser"
)

const nationalRailClaimURL = "https://www.nationalrail.co.uk/delay-repay/claim"

// confirmationRefPattern extracts the claim reference from the portal's
// confirmation banner, e.g. "Your claim reference: DR-48A2-19XB".
var confirmationRefPattern = regexp.MustCompile(`(?i)claim reference[:\s]+([A-Z0-9-]+)`)

// NationalRailAdapter submits Delay Repay claims on nationalrail.co.uk.
type NationalRailAdapter struct {
	browser *browser.Client
	live    bool
	logger  *slog.Logger
}

// NewNationalRailAdapter creates the adapter. When live is false the flow
// stops short of the final submit; the filled form is still validated so a
// dry run exercises the whole path.
func NewNationalRailAdapter(browserClient *browser.Client, live bool, logger *slog.Logger) *NationalRailAdapter {
	return &NationalRailAdapter{browser: browserClient, live: live, logger: logger}
}

// ID implements SubmissionAdapter.
func (a *NationalRailAdapter) ID() domain.ProviderID {
	return domain.ProviderNationalRail
}

// Submit implements SubmissionAdapter.
func (a *NationalRailAdapter) Submit(ctx context.Context, payload domain.SubmissionPayload) domain.SubmissionResult {
	// Refuse unverified claims: no computed delay means eligibility has not
	// been established for this trip yet.
	if payload.DelayMinutes == nil {
		return failure("delay minutes not computed; refusing to submit unverified claim")
	}

	session, err := a.browser.NewSession(ctx)
	if err != nil {
		return failure(fmt.Sprintf("browser session unavailable: %v", err))
	}
	defer func() {
		if err := session.Close(); err != nil {
			a.logger.Warn("browser session close failed", "session_id", session.ID, "error", err)
		}
	}()

	if err := session.Navigate(ctx, nationalRailClaimURL); err != nil {
		return failure(err.Error())
	}

	// The consent overlay is not always shown; a failed dismiss is not fatal.
	if err := session.Click(ctx, "#onetrust-accept-btn-handler"); err != nil {
		a.logger.Debug("consent overlay not dismissed", "error", err)
	}

	steps := []struct {
		selector string
		value    string
	}{
		{"#claim-email", payload.UserEmail},
		{"#claim-booking-reference", payload.BookingRef},
		{"#claim-origin", payload.Origin},
		{"#claim-destination", payload.Destination},
		{"#claim-travel-date", payload.PlannedDeparture.Format("02/01/2006")},
		{"#claim-departure-time", payload.PlannedDeparture.Format("15:04")},
	}
	for _, step := range steps {
		if err := session.Fill(ctx, step.selector, step.value); err != nil {
			return failure(err.Error())
		}
	}

	if err := session.SelectOption(ctx, "#claim-delay-band", delayBand(*payload.DelayMinutes)); err != nil {
		return failure(err.Error())
	}

	if !a.live {
		a.logger.Info("dry run complete; form filled but not submitted",
			"claim_id", payload.ClaimID, "provider", a.ID())
		raw, _ := json.Marshal(map[string]any{"dry_run": true, "delay_band": delayBand(*payload.DelayMinutes)})
		return domain.SubmissionResult{OK: true, Raw: raw}
	}

	if err := session.Click(ctx, "#claim-submit"); err != nil {
		return failure(err.Error())
	}

	confirmation, err := a.waitForConfirmation(ctx, session)
	if err != nil {
		// The portal may have accepted the claim, but without a detected
		// confirmation we must report failure rather than guess.
		return failure(fmt.Sprintf("no confirmation detected after submit: %v", err))
	}

	ref := ""
	if match := confirmationRefPattern.FindStringSubmatch(confirmation); len(match) == 2 {
		ref = match[1]
	}

	now := time.Now().UTC()
	raw, _ := json.Marshal(map[string]any{"confirmation_text": confirmation})
	return domain.SubmissionResult{
		OK:          true,
		SubmittedAt: &now,
		ProviderRef: ref,
		Raw:         raw,
	}
}

// waitForConfirmation polls the confirmation banner until it appears or the
// action timeout budget runs out.
func (a *NationalRailAdapter) waitForConfirmation(ctx context.Context, session *browser.Session) (string, error) {
	deadline := time.Now().Add(a.browser.ActionTimeout)
	for {
		text, err := session.Text(ctx, ".claim-confirmation")
		if err == nil && text != "" {
			return text, nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return "", err
			}
			return "", fmt.Errorf("confirmation banner empty after %s", a.browser.ActionTimeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// delayBand maps a delay magnitude to the portal's compensation band values.
func delayBand(minutes int) string {
	switch {
	case minutes >= 120:
		return "120+"
	case minutes >= 60:
		return "60-119"
	case minutes >= 30:
		return "30-59"
	default:
		return "15-29"
	}
}

func failure(reason string) domain.SubmissionResult {
	return domain.SubmissionResult{OK: false, Error: reason}
}
