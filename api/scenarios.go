/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	billing data. Each scenario creates leases, invoices and payments through
	the billing services, so notifications and audit rows appear exactly as
	they would in production.

AVAILABLE SCENARIOS:

	partial-payments:  One invoice, a staff-recorded partial payment and a
	                   tenant submission awaiting approval
	terminated-lease:  A terminated lease with two invoices and three
	                   payments, ready for cleanup
	overdue:           An invoice past its due date, flagged Overdue

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create leases
 3. Issue invoices with dates relative to today
 4. Record or submit payments

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "partial-payments"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - billing/ledger.go: services used by the loaders
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/rental-ledger/billing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "partial-payments",
		Name:        "Partial Payments",
		Description: "1000.00 invoice: 400.00 recorded by staff, 300.00 submitted by the tenant and pending",
	},
	{
		ID:          "terminated-lease",
		Name:        "Terminated Lease",
		Description: "Terminated lease with 2 invoices and 3 payments; run cleanup to purge them",
	},
	{
		ID:          "overdue",
		Name:        "Overdue Invoice",
		Description: "Invoice 33 days past due, flagged Overdue and ready for a reminder",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context, actor string) error

var scenarioLoaders = map[string]scenarioLoader{
	"partial-payments": (*Handler).loadPartialPaymentsScenario,
	"terminated-lease": (*Handler).loadTerminatedLeaseScenario,
	"overdue":          (*Handler).loadOverdueScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeServiceError(w, r, &billing.ValidationError{Field: "scenarioId", Message: fmt.Sprintf("unknown scenario %q", req.ScenarioID)})
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeServiceError(w, r, fmt.Errorf("reset database: %w", err))
		return
	}
	h.currentScenario = ""

	if err := load(h, ctx, principal(r).UserID); err != nil {
		writeServiceError(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}

	// Track the loaded scenario
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) scenarioLease(ctx context.Context, actor, tenant, unit string, rent int64, start time.Time) (*billing.Lease, error) {
	return h.Ledger.Leases.Create(ctx, billing.CreateLeaseInput{
		TenantID:    tenant,
		UnitLabel:   unit,
		MonthlyRent: decimal.NewFromInt(rent),
		BillingDay:  1,
		StartDate:   start,
		ActorID:     actor,
	})
}

func (h *Handler) scenarioInvoice(ctx context.Context, actor, leaseID string, amount int64, issue time.Time, dueDays int) (*billing.Invoice, error) {
	return h.Ledger.Invoices.CreateInvoice(ctx, billing.CreateInvoiceInput{
		LeaseID:   leaseID,
		Amount:    decimal.NewFromInt(amount),
		IssueDate: issue,
		DueDate:   issue.AddDate(0, 0, dueDays),
		ActorID:   actor,
	})
}

// loadPartialPaymentsScenario: 1000.00 invoice, 400.00 recorded by staff,
// 300.00 pending from the tenant. Approving it leaves 300.00 outstanding.
func (h *Handler) loadPartialPaymentsScenario(ctx context.Context, actor string) error {
	today := billing.DateOnly(h.Ledger.Now())

	lease, err := h.scenarioLease(ctx, actor, "tenant-alice", "Unit 101", 1000, today.AddDate(0, -2, 0))
	if err != nil {
		return err
	}
	inv, err := h.scenarioInvoice(ctx, actor, lease.ID, 1000, today, 7)
	if err != nil {
		return err
	}

	if _, err := h.Ledger.Intake.StaffRecordPayment(ctx, billing.PaymentInput{
		InvoiceID:   inv.ID,
		Amount:      decimal.NewFromInt(400),
		PaymentDate: today,
		Method:      billing.MethodCash,
		Notes:       "Paid at the front desk",
		ActorID:     actor,
	}); err != nil {
		return err
	}

	_, err = h.Ledger.Intake.TenantSubmitPayment(ctx, billing.PaymentInput{
		InvoiceID:   inv.ID,
		Amount:      decimal.NewFromInt(300),
		PaymentDate: today,
		Method:      billing.MethodBankTransfer,
		Notes:       "Transfer ref 88231",
		ActorID:     "tenant-alice",
	})
	return err
}

// loadTerminatedLeaseScenario: two invoices and three payments on a lease
// that is then terminated.
func (h *Handler) loadTerminatedLeaseScenario(ctx context.Context, actor string) error {
	today := billing.DateOnly(h.Ledger.Now())

	lease, err := h.scenarioLease(ctx, actor, "tenant-bob", "Unit 202", 1200, today.AddDate(0, -3, 0))
	if err != nil {
		return err
	}
	first, err := h.scenarioInvoice(ctx, actor, lease.ID, 1200, today.AddDate(0, 0, -60), 7)
	if err != nil {
		return err
	}
	second, err := h.scenarioInvoice(ctx, actor, lease.ID, 1200, today.AddDate(0, 0, -30), 7)
	if err != nil {
		return err
	}

	for _, amount := range []int64{500, 700} {
		if _, err := h.Ledger.Intake.StaffRecordPayment(ctx, billing.PaymentInput{
			InvoiceID:   first.ID,
			Amount:      decimal.NewFromInt(amount),
			PaymentDate: first.DueDate,
			Method:      billing.MethodCheque,
			ActorID:     actor,
		}); err != nil {
			return err
		}
	}
	if _, err := h.Ledger.Intake.TenantSubmitPayment(ctx, billing.PaymentInput{
		InvoiceID:   second.ID,
		Amount:      decimal.NewFromInt(200),
		PaymentDate: today.AddDate(0, 0, -20),
		Method:      billing.MethodBankTransfer,
		ActorID:     "tenant-bob",
	}); err != nil {
		return err
	}

	// Keep a second, active lease so cleanup has something to leave alone.
	other, err := h.scenarioLease(ctx, actor, "tenant-carol", "Unit 203", 900, today.AddDate(0, -1, 0))
	if err != nil {
		return err
	}
	if _, err := h.scenarioInvoice(ctx, actor, other.ID, 900, today, 7); err != nil {
		return err
	}

	_, err = h.Ledger.Leases.Terminate(ctx, lease.ID, actor)
	return err
}

// loadOverdueScenario: an unpaid invoice 33 days past due, swept to Overdue,
// next to one that was paid on time.
func (h *Handler) loadOverdueScenario(ctx context.Context, actor string) error {
	now := h.Ledger.Now()
	today := billing.DateOnly(now)

	lease, err := h.scenarioLease(ctx, actor, "tenant-dave", "Unit 303", 850, today.AddDate(0, -4, 0))
	if err != nil {
		return err
	}
	paid, err := h.scenarioInvoice(ctx, actor, lease.ID, 850, today.AddDate(0, 0, -70), 7)
	if err != nil {
		return err
	}
	if _, err := h.Ledger.Intake.StaffRecordPayment(ctx, billing.PaymentInput{
		InvoiceID:   paid.ID,
		Amount:      decimal.NewFromInt(850),
		PaymentDate: paid.DueDate,
		Method:      billing.MethodBankTransfer,
		ActorID:     actor,
	}); err != nil {
		return err
	}
	if _, err := h.scenarioInvoice(ctx, actor, lease.ID, 850, today.AddDate(0, 0, -40), 7); err != nil {
		return err
	}

	_, err = h.Ledger.Invoices.MarkOverdue(ctx, now)
	return err
}
