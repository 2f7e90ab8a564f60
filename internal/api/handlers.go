/**
 * @description
 * This file contains the HTTP handlers for the claims-service API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application services, and writing the HTTP response. They act as
 * the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, errors, log/slog, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: Service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fareguard/claims-service/internal/app"
	"github.com/fareguard/claims-service/internal/domain"
	"github.com/fareguard/claims-service/internal/store"
)

// ClaimHandlers holds the services that the claim endpoints use.
type ClaimHandlers struct {
	claims       *app.ClaimService
	limiter      *app.RedisClaimRateLimiter
	logger       *slog.Logger
	rateLimit    int
	rateInterval time.Duration
}

// NewClaimHandlers creates a new instance of ClaimHandlers. The limiter may be
// nil, in which case claim creation is not rate limited.
func NewClaimHandlers(claims *app.ClaimService, limiter *app.RedisClaimRateLimiter, logger *slog.Logger, rateLimitPerMinute int) *ClaimHandlers {
	return &ClaimHandlers{
		claims:       claims,
		limiter:      limiter,
		logger:       logger,
		rateLimit:    rateLimitPerMinute,
		rateInterval: time.Minute,
	}
}

type createClaimRequest struct {
	TripID string `json:"trip_id"`
}

type claimResponse struct {
	ClaimID string `json:"claim_id"`
	Status  string `json:"status"`
	Reused  bool   `json:"reused"`
	Message string `json:"message"`
}

func buildClaimResponse(result *app.CreateClaimResult, message string) claimResponse {
	return claimResponse{
		ClaimID: result.ClaimID.String(),
		Status:  string(result.Status),
		Reused:  result.Reused,
		Message: message,
	}
}

// CreateClaimHandler handles requests to open a compensation claim for a trip.
func (h *ClaimHandlers) CreateClaimHandler(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := GetUserEmail(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user from context")
		return
	}

	if !h.allowClaimRequest(w, r, userEmail) {
		return
	}

	var req createClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	tripID, err := uuid.Parse(req.TripID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid trip_id format")
		return
	}

	result, err := h.claims.CreateClaim(r.Context(), tripID, userEmail)
	if err != nil {
		if errors.Is(err, store.ErrTripNotFound) {
			h.writeError(w, http.StatusNotFound, "Trip not found")
			return
		}
		if errors.Is(err, domain.ErrUnsupportedOperator) {
			h.writeError(w, http.StatusUnprocessableEntity, "No compensation provider for this operator")
			return
		}
		h.logger.Error("claim creation failed", "trip_id", tripID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Could not create claim")
		return
	}

	if result.Reused {
		h.writeJSON(w, http.StatusOK, buildClaimResponse(result, "An active claim already exists for this trip"))
		return
	}
	h.writeJSON(w, http.StatusCreated, buildClaimResponse(result, "Claim created and queued for submission"))
}

// QueueClaimHandler handles requests to re-queue an existing pending claim.
func (h *ClaimHandlers) QueueClaimHandler(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := GetUserEmail(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user from context")
		return
	}

	claimID, err := uuid.Parse(chi.URLParam(r, "claimID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid claim ID format")
		return
	}

	result, err := h.claims.QueueExisting(r.Context(), claimID, userEmail)
	if err != nil {
		if errors.Is(err, store.ErrClaimNotFound) {
			h.writeError(w, http.StatusNotFound, "Claim not found")
			return
		}
		if errors.Is(err, app.ErrInvalidClaimState) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("claim queueing failed", "claim_id", claimID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Could not queue claim")
		return
	}

	message := "Claim queued for submission"
	if result.Reused {
		message = "Claim already has a queued submission"
	}
	h.writeJSON(w, http.StatusOK, buildClaimResponse(result, message))
}

// GetClaimHandler returns a single claim owned by the authenticated user.
func (h *ClaimHandlers) GetClaimHandler(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := GetUserEmail(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user from context")
		return
	}

	claimID, err := uuid.Parse(chi.URLParam(r, "claimID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid claim ID format")
		return
	}

	claim, err := h.claims.GetClaim(r.Context(), claimID, userEmail)
	if err != nil {
		if errors.Is(err, store.ErrClaimNotFound) {
			h.writeError(w, http.StatusNotFound, "Claim not found")
			return
		}
		h.logger.Error("claim fetch failed", "claim_id", claimID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Could not fetch claim")
		return
	}

	h.writeJSON(w, http.StatusOK, claim)
}

// allowClaimRequest consumes one rate-limit token for the caller. Limiter
// failures are logged and treated as allow so that a Redis outage does not
// block claim creation.
func (h *ClaimHandlers) allowClaimRequest(w http.ResponseWriter, r *http.Request, userEmail string) bool {
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), "claim_create", userEmail, h.rateLimit, h.rateInterval)
	if err != nil {
		h.logger.Warn("rate limiter unavailable, allowing request", "error", err)
		return true
	}
	if h.rateLimit > 0 && count > h.rateLimit {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many claim requests. Please try again shortly.")
		return false
	}
	return true
}

// writeJSON is a helper for writing JSON responses.
func (h *ClaimHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *ClaimHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
