/**
 * @description
 * This file contains the admin HTTP handlers that trigger the background
 * pipeline stages on demand. The same stages run on the cron scheduler; these
 * endpoints exist for operational runs and for backfills after an incident.
 *
 * @dependencies
 * - log/slog, net/http: Standard Go libraries.
 * - internal/app: The pipeline components being triggered.
 */

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fareguard/claims-service/internal/app"
)

// AdminHandlers holds the pipeline components the admin endpoints trigger.
type AdminHandlers struct {
	eligibility *app.EligibilityEngine
	linker      *app.Linker
	dispatcher  *app.Dispatcher
	notifier    *app.Notifier
	purger      *app.Purger
	logger      *slog.Logger
}

// NewAdminHandlers creates a new instance of AdminHandlers.
func NewAdminHandlers(
	eligibility *app.EligibilityEngine,
	linker *app.Linker,
	dispatcher *app.Dispatcher,
	notifier *app.Notifier,
	purger *app.Purger,
	logger *slog.Logger,
) *AdminHandlers {
	return &AdminHandlers{
		eligibility: eligibility,
		linker:      linker,
		dispatcher:  dispatcher,
		notifier:    notifier,
		purger:      purger,
		logger:      logger,
	}
}

// RunEligibilityHandler runs one eligibility pass over trips awaiting a decision.
func (h *AdminHandlers) RunEligibilityHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.eligibility.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("eligibility run failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Eligibility run failed")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// RunLinkerHandler runs one linking pass over unlinked trips.
func (h *AdminHandlers) RunLinkerHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.linker.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("linker run failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Linker run failed")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// RunDispatchHandler processes one item from the submission queue.
func (h *AdminHandlers) RunDispatchHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.dispatcher.Tick(r.Context())
	if err != nil {
		h.logger.Error("dispatch run failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Dispatch run failed")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// RunNotifyHandler processes one due notification job.
func (h *AdminHandlers) RunNotifyHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.notifier.Tick(r.Context())
	if err != nil {
		h.logger.Error("notify run failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Notify run failed")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// RunPurgeHandler deletes feed records older than the retention window.
func (h *AdminHandlers) RunPurgeHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.purger.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("purge run failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Purge run failed")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *AdminHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *AdminHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
