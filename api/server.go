/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/companies/*        Company records and credit balances
  /api/invoices/*         Invoice records
  /api/payments/*         Payment records and recording hooks
  /api/alerts/*           Alert detection and lifecycle
  /api/credits/*          Credit ledger operations
  /api/reconciliations/*  Bank reconciliation
  /api/closings/*         Month-end validation and closing

SECURITY NOTE:
  No authentication middleware. The service runs behind the back-office
  gateway, which owns authn/authz.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Company routes
		r.Route("/companies", func(r chi.Router) {
			r.Post("/", h.CreateCompany)
			r.Get("/{id}", h.GetCompany)
			r.Get("/{id}/credit-balance", h.GetCreditBalance)
		})

		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.CreatePayment)
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/recorded", h.RecordPayment)
			r.Post("/{id}/failed", h.RecordFailedCharge)
		})

		// Alert routes
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.ListAlerts)
			r.Post("/detect", h.DetectAlerts)
			r.Get("/{id}", h.GetAlert)
			r.Post("/{id}/acknowledge", h.AcknowledgeAlert)
			r.Post("/{id}/resolve", h.ResolveAlert)
			r.Post("/{id}/remind", h.SendReminder)
			r.Delete("/{id}", h.DeleteAlert)
		})

		// Credit routes
		r.Route("/credits", func(r chi.Router) {
			r.Get("/", h.ListCredits)
			r.Post("/", h.IssueCredit)
			r.Post("/expire", h.ExpireCredits)
			r.Get("/{id}", h.GetCredit)
			r.Post("/{id}/apply", h.ApplyCredit)
			r.Delete("/{id}", h.DeleteCredit)
		})

		// Reconciliation routes
		r.Route("/reconciliations", func(r chi.Router) {
			r.Get("/", h.ListReconciliations)
			r.Post("/", h.CreateReconciliation)
			r.Get("/{id}", h.GetReconciliation)
			r.Put("/{id}", h.UpdateReconciliation)
			r.Post("/{id}/reconcile", h.MarkReconciled)
			r.Post("/{id}/unreconcile", h.Unreconcile)
		})

		// Closing routes
		r.Route("/closings/{year}/{month}", func(r chi.Router) {
			r.Get("/", h.GetClosing)
			r.Get("/validate", h.ValidateMonthEnd)
			r.Post("/close", h.CloseMonthEnd)
			r.Post("/reject", h.RejectMonthEnd)
			r.Post("/reopen", h.ReopenMonthEnd)
		})
	})

	return r
}
