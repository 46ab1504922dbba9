/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/fee-records/*     Fee record creation, discounts, deactivation
  /api/payments/*        Payment recording and reversal
  /api/promotion/*       Promotion runs, demotion, run history
  /api/fee-structures/*  Grade-keyed fee templates + bulk assignment
  /api/students/*        Directory (co-located deployments)
  /api/reconciliation/*  Daily settled-totals report
  /health                Liveness

SECURITY NOTE:
  Tenant identity comes from the X-Tenant-ID header; authentication of that
  header is the surrounding platform's concern. No auth middleware here.

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
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID", "X-Collection-Account", "X-Branch-Code", "X-Track", "X-Continue-A-Level"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Fee record routes
		r.Route("/fee-records", func(r chi.Router) {
			r.Post("/", h.CreateFeeRecord)
			r.Get("/", h.GetFeeRecord)
			r.Post("/components", h.SetFeeComponent)
			r.Post("/discounts", h.ApplyDiscount)
			r.Delete("/{id}", h.DeactivateFeeRecord)
			r.Get("/{id}/payments", h.ListRecordPayments)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.RecordPayment)
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/reverse", h.ReversePayment)
		})

		// Promotion routes
		r.Route("/promotion", func(r chi.Router) {
			r.Post("/run", h.RunPromotion)
			r.Post("/demote", h.DemoteStudent)
			r.Get("/runs", h.ListPromotionRuns)
		})

		// Fee structure routes
		r.Route("/fee-structures", func(r chi.Router) {
			r.Post("/", h.SaveFeeStructure)
			r.Get("/", h.GetFeeStructure)
			r.Post("/assign", h.BulkAssignFees)
		})

		// Student directory routes
		r.Route("/students", func(r chi.Router) {
			r.Post("/", h.SaveStudent)
			r.Get("/", h.ListStudents)
			r.Get("/{id}", h.GetStudent)
			r.Get("/{id}/fee-records", h.ListStudentFeeRecords)
		})

		// Reconciliation routes
		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/report", h.ReconciliationReport)
		})
	})

	r.Get("/health", h.Health)

	return r
}
