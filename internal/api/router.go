/**
 * @description
 * This file sets up the HTTP router for the verification-service. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies middleware for logging, recovery, timeouts, and authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// VerificationRoutes creates and returns the router for the verification service.
func VerificationRoutes(h *VerificationHandlers, jwksURL, adminRoleClaim string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Post("/orders", h.CreateOrderHandler)
		r.Get("/orders/pending", h.ListPendingOrdersHandler)
		r.Get("/orders/{orderID}", h.GetOrderHandler)
		r.Post("/orders/{orderID}/submissions", h.CreateSubmissionHandler)

		// Admin endpoints for manual review and fee waivers.
		r.Group(func(r chi.Router) {
			r.Use(AdminOnly(adminRoleClaim))

			r.Post("/admin/submissions/{submissionID}/approve", h.ApproveSubmissionHandler)
			r.Post("/admin/submissions/{submissionID}/reject", h.RejectSubmissionHandler)
			r.Post("/admin/contracts/{contractID}/waive-fee", h.WaiveContractFeeHandler)
		})
	})

	return r
}
