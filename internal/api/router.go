/**
 * @description
 * This file sets up the HTTP router for the claims-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the account frontend.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// ClaimRoutes creates and returns the router for the claims service.
func ClaimRoutes(h *ClaimHandlers, admin *AdminHandlers, jwtSecret, adminAPIKey string, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require user authentication.
	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(jwtSecret))

		r.Post("/claims", h.CreateClaimHandler)
		r.Post("/claims/{claimID}/queue", h.QueueClaimHandler)
		r.Get("/claims/{claimID}", h.GetClaimHandler)
	})

	// Operational endpoints behind the shared admin key.
	r.Group(func(r chi.Router) {
		r.Use(AdminAuthMiddleware(adminAPIKey))

		r.Post("/admin/run/eligibility", admin.RunEligibilityHandler)
		r.Post("/admin/run/linker", admin.RunLinkerHandler)
		r.Post("/admin/run/dispatch", admin.RunDispatchHandler)
		r.Post("/admin/run/notify", admin.RunNotifyHandler)
		r.Post("/admin/run/purge", admin.RunPurgeHandler)
	})

	return r
}
