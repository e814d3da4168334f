/*
handlers.go - HTTP API handlers for the rental billing ledger

PURPOSE:
  Exposes the billing ledger via REST API. Handles HTTP request/response,
  JSON serialization, tenant scoping, and delegates to billing.

ENDPOINTS:
  Invoices:
    GET    /api/invoices                      List (tenant: own leases only)
    POST   /api/invoices                      Create manual invoice
    GET    /api/invoices/{id}                 Get one invoice
    POST   /api/invoices/{id}/send-reminder   Record an overdue reminder
    DELETE /api/invoices/cleanup-terminated   Purge billing of terminated leases

  Payments:
    GET    /api/payments                      List (tenant: own leases only)
    POST   /api/payments                      Staff direct record (Approved)
    POST   /api/payments/tenant               Tenant self-submit (Pending)
    GET    /api/payments/{id}                 Get one payment
    PUT    /api/payments/{id}/approve         Approve or reject a Pending payment
    POST   /api/payments/{id}/proof           Upload proof of payment

  Leases, notifications, audit, billing runs, scenarios: see server.go.

TENANT SCOPING:
  Capability checks happen in middleware. Ownership checks happen here for
  reads and in billing for writes. A tenant asking for someone else's
  invoice, payment or lease gets 404, not 403, so ids cannot be probed.

ERROR HANDLING:
  Every billing error goes through writeServiceError:
  - 400 validation_error
  - 403 forbidden
  - 404 not_found
  - 409 conflict (details.retryable when the caller may retry)
  - 500 internal

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/rental-ledger/auth"
	"github.com/warp/rental-ledger/billing"
	"github.com/warp/rental-ledger/blob"
	"github.com/warp/rental-ledger/logger"
	"github.com/warp/rental-ledger/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *billing.Ledger
	Store     *sqlite.Store
	Gate      *auth.Gate
	Tokens    *auth.JWT
	Blobs     blob.Store
	Scheduler *BillingScheduler
	Logger    *zap.Logger

	MaxUploadBytes int64
	StaffInbox     string

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler with the default role table and a disabled
// billing scheduler. Callers enable and start the scheduler themselves.
func NewHandler(ledger *billing.Ledger, store *sqlite.Store, tokens *auth.JWT, blobs blob.Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	scheduler := NewBillingScheduler(ledger, log)
	scheduler.Enabled = false
	return &Handler{
		Ledger:         ledger,
		Store:          store,
		Gate:           auth.NewGate(),
		Tokens:         tokens,
		Blobs:          blobs,
		Scheduler:      scheduler,
		Logger:         log,
		MaxUploadBytes: 10 << 20,
		StaffInbox:     billing.DefaultStaffInbox,
	}
}

// Health reports whether the database is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, codeInternal, "database unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// ListInvoices returns invoices, filtered by ?status= and ?leaseId=.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	filter := billing.InvoiceFilter{
		LeaseID: r.URL.Query().Get("leaseId"),
		Status:  billing.InvoiceStatus(r.URL.Query().Get("status")),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		writeServiceError(w, r, &billing.ValidationError{Field: "status", Message: "unknown invoice status"})
		return
	}
	if !p.IsStaff() {
		filter.TenantID = p.UserID
	}

	invoices, err := h.Ledger.Invoices.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTOs(invoices))
}

// GetInvoice returns a single invoice.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.checkInvoiceAccess(r.Context(), principal(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}

	inv, err := h.Ledger.Invoices.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// CreateInvoice creates a manual invoice.
// POST /api/invoices
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	issue, err := parseDate("issueDate", req.IssueDate)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	due, err := parseDate("dueDate", req.DueDate)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	inv, err := h.Ledger.Invoices.CreateInvoice(r.Context(), billing.CreateInvoiceInput{
		LeaseID:   req.LeaseID,
		Amount:    req.Amount,
		IssueDate: issue,
		DueDate:   due,
		ActorID:   principal(r).UserID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(*inv))
}

// SendReminder records an overdue reminder and notifies the tenant.
// POST /api/invoices/{id}/send-reminder
func (h *Handler) SendReminder(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Ledger.Invoices.RecordReminder(r.Context(), chi.URLParam(r, "id"), principal(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReminderResponse{OverdueReminderCount: inv.OverdueReminderCount})
}

// CleanupTerminated deletes invoices and payments of terminated leases.
// DELETE /api/invoices/cleanup-terminated
func (h *Handler) CleanupTerminated(w http.ResponseWriter, r *http.Request) {
	result, err := h.Ledger.Invoices.CleanupForTerminatedLeases(r.Context(), principal(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns payments, filtered by ?invoiceId= and ?status=.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	filter := billing.PaymentFilter{
		InvoiceID: r.URL.Query().Get("invoiceId"),
		Status:    billing.PaymentStatus(r.URL.Query().Get("status")),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		writeServiceError(w, r, &billing.ValidationError{Field: "status", Message: "unknown payment status"})
		return
	}
	if !p.IsStaff() {
		filter.TenantID = p.UserID
	}

	payments, err := h.Ledger.Intake.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// GetPayment returns a single payment.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.checkPaymentAccess(r.Context(), principal(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}

	payment, err := h.Ledger.Intake.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*payment))
}

// RecordPayment records a staff-received payment. It is Approved at once.
// POST /api/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	in, err := h.decodePayment(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	payment, err := h.Ledger.Intake.StaffRecordPayment(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*payment))
}

// SubmitPayment records a tenant-submitted payment awaiting approval.
// POST /api/payments/tenant
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	in, err := h.decodePayment(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	payment, err := h.Ledger.Intake.TenantSubmitPayment(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*payment))
}

// decodePayment reads a PaymentRequest. A missing paymentDate means today.
func (h *Handler) decodePayment(r *http.Request) (billing.PaymentInput, error) {
	var req PaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		return billing.PaymentInput{}, err
	}
	date, err := parseDate("paymentDate", req.PaymentDate)
	if err != nil {
		return billing.PaymentInput{}, err
	}
	if date.IsZero() {
		date = billing.DateOnly(h.Ledger.Now())
	}
	return billing.PaymentInput{
		InvoiceID:   req.InvoiceID,
		Amount:      req.Amount,
		PaymentDate: date,
		Method:      billing.PaymentMethod(req.Method),
		Notes:       req.Notes,
		ActorID:     principal(r).UserID,
	}, nil
}

// DecidePayment approves or rejects a Pending payment.
// PUT /api/payments/{id}/approve
func (h *Handler) DecidePayment(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	payment, err := h.Ledger.Approvals.Decide(r.Context(), billing.Decision{
		PaymentID:  chi.URLParam(r, "id"),
		Approve:    *req.Approved,
		ReviewerID: principal(r).UserID,
		Reason:     req.ReasonOfReject,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	message := "Payment approved"
	if payment.Status == billing.PaymentRejected {
		message = "Payment rejected"
	}
	writeJSON(w, http.StatusOK, DecisionResponse{Message: message, Status: string(payment.Status)})
}

// UploadProof stores a multipart "file" and attaches its URL to the payment.
// POST /api/payments/{id}/proof
func (h *Handler) UploadProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	p := principal(r)

	// Check access before accepting bytes.
	if err := h.checkPaymentAccess(ctx, p, id); err != nil {
		writeServiceError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.MaxUploadBytes); err != nil {
		writeServiceError(w, r, &billing.ValidationError{Field: "file", Message: fmt.Sprintf("invalid upload: %v", err)})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeServiceError(w, r, &billing.ValidationError{Field: "file", Message: "is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeServiceError(w, r, &billing.ValidationError{Field: "file", Message: "could not be read"})
		return
	}
	if len(data) == 0 {
		writeServiceError(w, r, &billing.ValidationError{Field: "file", Message: "is empty"})
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	key := blob.ProofKey(id, header.Filename)
	url, err := h.Blobs.Put(ctx, key, data, contentType)
	if err != nil {
		writeServiceError(w, r, fmt.Errorf("store proof: %w", err))
		return
	}

	payment, err := h.Ledger.Intake.AttachProof(ctx, billing.ProofInput{
		PaymentID: id,
		URL:       url,
		ActorID:   p.UserID,
		IsStaff:   p.IsStaff(),
	})
	if err != nil {
		h.discardProof(ctx, key)
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProofResponse{ProofURL: payment.ProofURL})
}

// discardProof removes a stored proof that never got attached. The request
// context may already be done, so the delete gets its own deadline.
func (h *Handler) discardProof(ctx context.Context, key string) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := h.Blobs.Delete(delCtx, key); err != nil {
		logger.FromContext(ctx).Warn("orphaned payment proof", zap.String("key", key), zap.Error(err))
	}
}

// =============================================================================
// LEASE HANDLERS
// =============================================================================

// ListLeases returns leases, filtered by ?status=.
func (h *Handler) ListLeases(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	status := billing.LeaseStatus(r.URL.Query().Get("status"))
	if status != "" && status != billing.LeaseActive && status != billing.LeaseTerminated {
		writeServiceError(w, r, &billing.ValidationError{Field: "status", Message: "unknown lease status"})
		return
	}

	leases, err := h.Ledger.Leases.List(r.Context(), status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	dtos := make([]LeaseDTO, 0, len(leases))
	for _, l := range leases {
		if !p.IsStaff() && l.TenantID != p.UserID {
			continue
		}
		dtos = append(dtos, toLeaseDTO(l))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLease returns a single lease.
func (h *Handler) GetLease(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id := chi.URLParam(r, "id")

	lease, err := h.Ledger.Leases.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !p.IsStaff() && lease.TenantID != p.UserID {
		writeServiceError(w, r, &billing.NotFoundError{Kind: "lease", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, toLeaseDTO(*lease))
}

// CreateLease registers a lease.
// POST /api/leases
func (h *Handler) CreateLease(w http.ResponseWriter, r *http.Request) {
	var req CreateLeaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	start, err := parseDate("startDate", req.StartDate)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	end, err := parseDate("endDate", req.EndDate)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	in := billing.CreateLeaseInput{
		TenantID:    req.TenantID,
		UnitLabel:   req.UnitLabel,
		MonthlyRent: req.MonthlyRent,
		BillingDay:  req.BillingDay,
		StartDate:   start,
		ActorID:     principal(r).UserID,
	}
	if !end.IsZero() {
		in.EndDate = &end
	}

	lease, err := h.Ledger.Leases.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaseDTO(*lease))
}

// TerminateLease marks a lease terminated. Its billing history stays until
// the next cleanup.
// PUT /api/leases/{id}/terminate
func (h *Handler) TerminateLease(w http.ResponseWriter, r *http.Request) {
	lease, err := h.Ledger.Leases.Terminate(r.Context(), chi.URLParam(r, "id"), principal(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaseDTO(*lease))
}

// =============================================================================
// INBOX AND AUDIT HANDLERS
// =============================================================================

// ListNotifications returns the caller's inbox. Staff also see the shared
// staff inbox.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principal(r)
	limit := queryInt(r, "limit", 50)

	items, err := h.Store.ListNotifications(ctx, p.UserID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if p.IsStaff() && h.StaffInbox != p.UserID {
		shared, err := h.Store.ListNotifications(ctx, h.StaffInbox, limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		items = append(items, shared...)
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		})
		if len(items) > limit {
			items = items[:limit]
		}
	}

	dtos := make([]NotificationDTO, len(items))
	for i, n := range items {
		dtos[i] = toNotificationDTO(n)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// MarkNotificationRead marks one inbox entry read.
// PUT /api/notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principal(r)
	id := chi.URLParam(r, "id")

	ok, err := h.Store.MarkNotificationRead(ctx, p.UserID, id)
	if err == nil && !ok && p.IsStaff() {
		ok, err = h.Store.MarkNotificationRead(ctx, h.StaffInbox, id)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !ok {
		writeServiceError(w, r, &billing.NotFoundError{Kind: "notification", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// ListAudit returns audit entries filtered by ?entityKind=&entityId=&actorId=.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.Store.ListAudit(r.Context(), sqlite.AuditQuery{
		EntityKind: q.Get("entityKind"),
		EntityID:   q.Get("entityId"),
		ActorID:    q.Get("actorId"),
		Limit:      queryInt(r, "limit", 200),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []sqlite.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// BILLING CYCLE HANDLERS
// =============================================================================

// RunBilling runs one billing cycle now.
// POST /api/billing/run
func (h *Handler) RunBilling(w http.ResponseWriter, r *http.Request) {
	run := h.Scheduler.RunNow(r.Context(), "manual")
	if run.Error != "" {
		writeJSON(w, http.StatusInternalServerError, run)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListBillingRuns returns recent billing cycle runs, newest first.
func (h *Handler) ListBillingRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Scheduler.Runs())
}

// =============================================================================
// ACCESS CHECKS
// =============================================================================

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

func (h *Handler) checkInvoiceAccess(ctx context.Context, p auth.Principal, invoiceID string) error {
	if p.IsStaff() {
		return nil
	}
	owner, err := h.Ledger.Invoices.Owner(ctx, invoiceID)
	if err != nil {
		return err
	}
	if owner != p.UserID {
		return &billing.NotFoundError{Kind: "invoice", ID: invoiceID}
	}
	return nil
}

func (h *Handler) checkPaymentAccess(ctx context.Context, p auth.Principal, paymentID string) error {
	if p.IsStaff() {
		return nil
	}
	owner, err := h.Ledger.Intake.Owner(ctx, paymentID)
	if err != nil {
		return err
	}
	if owner != p.UserID {
		return &billing.NotFoundError{Kind: "payment", ID: paymentID}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

const (
	codeNotFound     = "not_found"
	codeValidation   = "validation_error"
	codeConflict     = "conflict"
	codeForbidden    = "forbidden"
	codeUnauthorized = "unauthorized"
	codeInternal     = "internal"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// writeServiceError maps a billing error onto an HTTP status and error code.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *billing.ValidationError
		conflict   *billing.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		var details any
		if validation.Field != "" {
			details = map[string]string{"field": validation.Field}
		}
		writeError(w, http.StatusBadRequest, codeValidation, err.Error(), details)
	case billing.IsValidation(err):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error(), nil)
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error(), nil)
	case billing.IsForbidden(err):
		writeError(w, http.StatusForbidden, codeForbidden, err.Error(), nil)
	case errors.As(err, &conflict):
		var details any
		if conflict.Retryable {
			details = map[string]bool{"retryable": true}
		}
		writeError(w, http.StatusConflict, codeConflict, err.Error(), details)
	case billing.IsConflict(err):
		var details any
		if billing.IsRetryable(err) {
			details = map[string]bool{"retryable": true}
		}
		writeError(w, http.StatusConflict, codeConflict, err.Error(), details)
	default:
		logger.FromContext(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error", nil)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
