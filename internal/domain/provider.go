/**
 * @description
 * Provider identity and the operator-to-provider lookup. Each supported rail
 * operator maps to exactly one submission provider; unknown operators are a
 * typed error, never a silent default. The set of providers is closed at
 * compile time and resolved to adapter implementations once at startup.
 */

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProviderID identifies one operator claim portal automation.
type ProviderID string

const (
	ProviderNationalRail ProviderID = "national_rail"
	ProviderAvantiWest   ProviderID = "avanti_west_coast"
	ProviderGreatWestern ProviderID = "great_western"
	ProviderLNER         ProviderID = "lner"
	ProviderSouthern     ProviderID = "southern"
	ProviderThameslink   ProviderID = "thameslink"
	ProviderNorthern     ProviderID = "northern"
	ProviderScotRail     ProviderID = "scotrail"
	ProviderTransPennine ProviderID = "transpennine"
	ProviderCrossCountry ProviderID = "crosscountry"
)

// ErrUnsupportedOperator is returned when no provider mapping exists for an
// operator name. This is a permanent configuration failure, never retried.
var ErrUnsupportedOperator = errors.New("no claim provider for operator")

// operatorProviders maps normalized operator names to their provider. Adding
// an operator here (plus a registered adapter) is all the dispatcher needs.
var operatorProviders = map[string]ProviderID{
	"national rail":         ProviderNationalRail,
	"avanti west coast":     ProviderAvantiWest,
	"great western":         ProviderGreatWestern,
	"gwr":                   ProviderGreatWestern,
	"great western railway": ProviderGreatWestern,
	"lner":                  ProviderLNER,
	"southern":              ProviderSouthern,
	"thameslink":            ProviderThameslink,
	"northern":              ProviderNorthern,
	"scotrail":              ProviderScotRail,
	"transpennine express":  ProviderTransPennine,
	"crosscountry":          ProviderCrossCountry,
}

// ProviderForOperator resolves an operator name to its submission provider.
// Matching is case- and whitespace-insensitive.
func ProviderForOperator(operator string) (ProviderID, error) {
	normalized := strings.ToLower(strings.Join(strings.Fields(operator), " "))
	provider, ok := operatorProviders[normalized]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedOperator, operator)
	}
	return provider, nil
}

// providerCTAURLs maps each provider to the public page where a user can view
// or follow up their compensation claim. Used by the notification outbox to
// build the call-to-action link; a provider without a URL suppresses the
// email rather than sending a broken one.
var providerCTAURLs = map[ProviderID]string{
	ProviderNationalRail: "https://www.nationalrail.co.uk/delay-repay/",
	ProviderAvantiWest:   "https://www.avantiwestcoast.co.uk/help/delay-repay",
	ProviderGreatWestern: "https://delayrepay.gwr.com/",
	ProviderLNER:         "https://delayrepay.lner.co.uk/",
	ProviderSouthern:     "https://www.southernrailway.com/help-and-support/delay-repay-compensation",
	ProviderThameslink:   "https://www.thameslinkrailway.com/help-and-support/delay-repay-compensation",
	ProviderNorthern:     "https://www.northernrailway.co.uk/delay-repay",
	ProviderScotRail:     "https://www.scotrail.co.uk/plan-your-journey/delay-repay-guarantee",
	ProviderTransPennine: "https://www.tpexpress.co.uk/help/delay-repay-compensation",
}

// CTAURLForProvider returns the claim follow-up URL for a provider, if one is
// configured.
func CTAURLForProvider(id ProviderID) (string, bool) {
	url, ok := providerCTAURLs[id]
	return url, ok
}

// SubmissionPayload is the provider-agnostic input handed to an adapter. It is
// built entirely from the claim's denormalized snapshot.
type SubmissionPayload struct {
	ClaimID          string    `json:"claim_id"`
	UserEmail        string    `json:"user_email"`
	BookingRef       string    `json:"booking_ref"`
	Operator         string    `json:"operator"`
	Origin           string    `json:"origin"`
	Destination      string    `json:"destination"`
	PlannedDeparture time.Time `json:"planned_departure"`
	PlannedArrival   time.Time `json:"planned_arrival"`
	DelayMinutes     *int      `json:"delay_minutes,omitempty"`
}

// SubmissionResult is the structured outcome of one adapter run. OK is true
// only when the adapter observed the operator's own confirmation signal; a
// completed network exchange with no detected confirmation is a failure.
type SubmissionResult struct {
	OK          bool            `json:"ok"`
	SubmittedAt *time.Time      `json:"submitted_at,omitempty"`
	ProviderRef string          `json:"provider_ref,omitempty"`
	Error       string          `json:"error,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}
