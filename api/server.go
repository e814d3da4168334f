/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request-scoped zap logger, one line per request
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. authenticate + requireCapability on every /api route

ROUTE GROUPS:
  /healthz              Liveness (unauthenticated)
  /api/invoices/*       Invoice queries, manual invoices, reminders, cleanup
  /api/payments/*       Staff record, tenant submit, approve/reject, proof
  /api/leases/*         Lease registry
  /api/notifications/*  Caller's inbox
  /api/audit            Audit trail (staff)
  /api/billing/*        Billing cycle runs
  /api/scenarios/*      Demo scenarios (admin)

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: authentication and capability checks
  - cmd/rentledger/serve.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/rental-ledger/auth"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	gate := h.Gate
	can := func(c auth.Capability) func(http.Handler) http.Handler { return requireCapability(gate, c) }

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(authenticate(h.Tokens))

		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.With(can(auth.CapInvoiceRead)).Get("/", h.ListInvoices)
			r.With(can(auth.CapInvoiceCreate)).Post("/", h.CreateInvoice)
			r.With(can(auth.CapInvoiceCleanup)).Delete("/cleanup-terminated", h.CleanupTerminated)
			r.With(can(auth.CapInvoiceRead)).Get("/{id}", h.GetInvoice)
			r.With(can(auth.CapInvoiceRemind)).Post("/{id}/send-reminder", h.SendReminder)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.With(can(auth.CapPaymentRead)).Get("/", h.ListPayments)
			r.With(can(auth.CapPaymentRecord)).Post("/", h.RecordPayment)
			r.With(can(auth.CapPaymentSubmit)).Post("/tenant", h.SubmitPayment)
			r.With(can(auth.CapPaymentRead)).Get("/{id}", h.GetPayment)
			r.With(can(auth.CapPaymentDecide)).Put("/{id}/approve", h.DecidePayment)
			r.With(can(auth.CapPaymentProof)).Post("/{id}/proof", h.UploadProof)
		})

		// Lease routes
		r.Route("/leases", func(r chi.Router) {
			r.With(can(auth.CapLeaseRead)).Get("/", h.ListLeases)
			r.With(can(auth.CapLeaseManage)).Post("/", h.CreateLease)
			r.With(can(auth.CapLeaseRead)).Get("/{id}", h.GetLease)
			r.With(can(auth.CapLeaseManage)).Put("/{id}/terminate", h.TerminateLease)
		})

		// Inbox routes
		r.Route("/notifications", func(r chi.Router) {
			r.Use(can(auth.CapInboxRead))
			r.Get("/", h.ListNotifications)
			r.Put("/{id}/read", h.MarkNotificationRead)
		})

		r.With(can(auth.CapAuditRead)).Get("/audit", h.ListAudit)

		// Billing cycle routes
		r.Route("/billing", func(r chi.Router) {
			r.Use(can(auth.CapBillingRun))
			r.Post("/run", h.RunBilling)
			r.Get("/runs", h.ListBillingRuns)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Use(can(auth.CapScenarioLoad))
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
