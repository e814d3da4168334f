/*
invoice.go - Invoice lifecycle

PURPOSE:
  Issues invoices, derives their status, keeps overdue-reminder bookkeeping
  and sweeps invoices of terminated leases.

STATUS DERIVATION (RecomputeStatus):
  paid >= amount                 -> Paid
  pending payment exists         -> Pending
  due date passed (day-granular) -> Overdue
  otherwise                      -> Unpaid

  Status is never assigned anywhere else. Every mutation of PaidAmount or
  of a payment's status is followed by a recompute in the same transaction.

SWEEPS (driven by the scheduler or POST /billing/run):
  IssueDueInvoices:     monthly rent invoices for active leases
  MarkOverdue:          Unpaid -> Overdue once the due date has passed
  SendOverdueReminders: RecordReminder for each Overdue invoice

SEE ALSO:
  - cycle.go: issue date calculation
  - ledger.go: withInvoice critical section
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RecomputeStatus derives inv.Status from its paid amount, whether a Pending
// payment exists and the due date.
func RecomputeStatus(inv *Invoice, hasPending bool, now time.Time) {
	switch {
	case inv.IsSettled():
		inv.Status = InvoicePaid
	case hasPending:
		inv.Status = InvoicePending
	case isPastDue(inv.DueDate, now):
		inv.Status = InvoiceOverdue
	default:
		inv.Status = InvoiceUnpaid
	}
}

// InvoiceManager owns invoice creation, status and reminder bookkeeping.
type InvoiceManager struct {
	c *core
}

// CreateInvoiceInput is the request to issue one invoice.
type CreateInvoiceInput struct {
	LeaseID   string
	Amount    decimal.Decimal
	IssueDate time.Time
	DueDate   time.Time
	ActorID   string
}

// CreateInvoice issues an invoice against an active lease and notifies the
// tenant.
func (m *InvoiceManager) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	if err := checkMoney("amount", in.Amount); err != nil {
		return nil, err
	}
	if in.IssueDate.IsZero() {
		return nil, invalid("issueDate", "is required")
	}
	if in.DueDate.IsZero() {
		return nil, invalid("dueDate", "is required")
	}
	if DateOnly(in.DueDate).Before(DateOnly(in.IssueDate)) {
		return nil, invalid("dueDate", "must not be before issue date")
	}

	var (
		inv   *Invoice
		lease *Lease
	)
	err := m.c.store.WithTx(ctx, func(tx Tx) error {
		var err error
		lease, err = tx.GetLease(ctx, in.LeaseID)
		if err != nil {
			return err
		}
		if lease == nil {
			return notFound("lease", in.LeaseID)
		}
		if lease.Status != LeaseActive {
			return invalid("leaseId", "lease %s is %s", lease.ID, lease.Status)
		}

		inv = m.newInvoice(lease.ID, in.Amount, in.IssueDate, in.DueDate)
		return tx.InsertInvoice(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	m.announce(ctx, inv, lease.TenantID, actorOr(in.ActorID))
	return inv, nil
}

func (m *InvoiceManager) newInvoice(leaseID string, amount decimal.Decimal, issue, due time.Time) *Invoice {
	now := m.c.now()
	// Past-due invoices start Unpaid too; MarkOverdue moves them.
	return &Invoice{
		ID:         newID(),
		LeaseID:    leaseID,
		Amount:     amount,
		PaidAmount: decimal.Zero,
		IssueDate:  DateOnly(issue),
		DueDate:    DateOnly(due),
		Status:     InvoiceUnpaid,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (m *InvoiceManager) announce(ctx context.Context, inv *Invoice, tenantID, actorID string) {
	m.c.notify(ctx, tenantID,
		fmt.Sprintf("New invoice of %s issued on %s, due %s",
			inv.Amount.StringFixed(2), inv.IssueDate.Format(time.DateOnly), inv.DueDate.Format(time.DateOnly)),
		NotifyInvoiceIssued)
	m.c.record(ctx, actorID, AuditInvoiceCreated, "invoice", inv.ID, nil, *inv)
}

// OutstandingBalance returns amount - paidAmount of an invoice.
func (m *InvoiceManager) OutstandingBalance(inv Invoice) decimal.Decimal {
	return inv.OutstandingBalance()
}

// Get returns an invoice or NotFoundError.
func (m *InvoiceManager) Get(ctx context.Context, id string) (*Invoice, error) {
	inv, err := m.c.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, notFound("invoice", id)
	}
	return inv, nil
}

func (m *InvoiceManager) List(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	return m.c.store.ListInvoices(ctx, filter)
}

// Owner returns the tenant id of the lease an invoice belongs to.
func (m *InvoiceManager) Owner(ctx context.Context, invoiceID string) (string, error) {
	inv, err := m.Get(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	return m.c.tenantOf(ctx, m.c.store, inv.LeaseID)
}

// =============================================================================
// REMINDERS
// =============================================================================

// RecordReminder bumps the reminder counter and notifies the tenant. A paid
// invoice, or one reminded within the minimum interval, is a ConflictError.
func (m *InvoiceManager) RecordReminder(ctx context.Context, invoiceID, actorID string) (*Invoice, error) {
	return m.recordReminder(ctx, invoiceID, actorOr(actorID), m.c.now())
}

func (m *InvoiceManager) recordReminder(ctx context.Context, invoiceID, actorID string, now time.Time) (*Invoice, error) {
	var (
		inv    *Invoice
		before Invoice
		tenant string
	)
	err := m.c.withInvoice(ctx, invoiceID, func(tx Tx) error {
		var err error
		inv, err = tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv == nil {
			return notFound("invoice", invoiceID)
		}
		if inv.IsSettled() {
			return &ConflictError{Reason: ReasonInvoicePaid}
		}
		if last := inv.LastReminderSentAt; last != nil && now.Sub(*last) < m.c.reminderMinInterval {
			return &ConflictError{Reason: ReasonReminderTooSoon}
		}

		before = *inv
		inv.OverdueReminderCount++
		sentAt := now
		inv.LastReminderSentAt = &sentAt
		inv.UpdatedAt = now
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}

		tenant, err = m.c.tenantOf(ctx, tx, inv.LeaseID)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.c.notify(ctx, tenant,
		fmt.Sprintf("Reminder: invoice due %s has an outstanding balance of %s",
			inv.DueDate.Format(time.DateOnly), inv.OutstandingBalance().StringFixed(2)),
		NotifyOverdueReminder)
	m.c.record(ctx, actorID, AuditReminderSent, "invoice", inv.ID, before, *inv)
	return inv, nil
}

// SendOverdueReminders reminds every Overdue invoice as the system actor,
// skipping those still inside the minimum interval. Returns how many were
// sent.
func (m *InvoiceManager) SendOverdueReminders(ctx context.Context, now time.Time) (int, error) {
	overdue, err := m.c.store.ListInvoices(ctx, InvoiceFilter{Status: InvoiceOverdue})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, inv := range overdue {
		if _, err := m.recordReminder(ctx, inv.ID, SystemActor, now); err != nil {
			if IsConflict(err) || IsNotFound(err) {
				continue
			}
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// =============================================================================
// OVERDUE SWEEP
// =============================================================================

// MarkOverdue recomputes every Unpaid invoice whose due date has passed and
// returns those that moved to Overdue.
func (m *InvoiceManager) MarkOverdue(ctx context.Context, now time.Time) ([]Invoice, error) {
	today := DateOnly(now)
	candidates, err := m.c.store.ListInvoices(ctx, InvoiceFilter{Status: InvoiceUnpaid, DueBefore: &today})
	if err != nil {
		return nil, err
	}

	var marked []Invoice
	for _, cand := range candidates {
		var (
			inv    *Invoice
			before Invoice
		)
		err := m.c.withInvoice(ctx, cand.ID, func(tx Tx) error {
			var err error
			inv, err = tx.GetInvoice(ctx, cand.ID)
			if err != nil || inv == nil || inv.Status != InvoiceUnpaid {
				inv = nil
				return err
			}
			before = *inv
			return m.c.recompute(ctx, tx, inv, now)
		})
		if err != nil {
			if IsConflict(err) {
				m.c.log.Warn("overdue sweep skipped invoice", zap.String("invoice_id", cand.ID), zap.Error(err))
				continue
			}
			return marked, err
		}
		if inv != nil && inv.Status == InvoiceOverdue {
			marked = append(marked, *inv)
			m.c.record(ctx, SystemActor, AuditInvoiceOverdue, "invoice", inv.ID, before, *inv)
		}
	}
	return marked, nil
}

// =============================================================================
// BILLING CYCLE
// =============================================================================

// IssueDueInvoices issues one invoice per cycle date in (billedThrough, asOf]
// for every active lease and advances billedThrough. A (lease, issue date)
// pair that already has an invoice is skipped.
func (m *InvoiceManager) IssueDueInvoices(ctx context.Context, asOf time.Time) ([]Invoice, error) {
	leases, err := m.c.store.ListLeases(ctx, LeaseActive)
	if err != nil {
		return nil, err
	}

	var issued []Invoice
	for _, l := range leases {
		dates := CycleFor(l).IssueDates(l.BilledThrough, asOf)
		if len(dates) == 0 {
			continue
		}

		var created []*Invoice
		err := m.c.store.WithTx(ctx, func(tx Tx) error {
			created = created[:0]
			lease, err := tx.GetLease(ctx, l.ID)
			if err != nil {
				return err
			}
			if lease == nil || lease.Status != LeaseActive {
				return nil
			}

			existing, err := tx.ListInvoices(ctx, InvoiceFilter{LeaseID: lease.ID})
			if err != nil {
				return err
			}
			seen := make(map[string]bool, len(existing))
			for _, inv := range existing {
				seen[inv.IssueDate.Format(time.DateOnly)] = true
			}

			for _, d := range CycleFor(*lease).IssueDates(lease.BilledThrough, asOf) {
				if !seen[d.Format(time.DateOnly)] {
					inv := m.newInvoice(lease.ID, lease.MonthlyRent, d, DueDate(d, m.c.dueDays))
					switch err := tx.InsertInvoice(ctx, inv); {
					case err == nil:
						created = append(created, inv)
					case errors.Is(err, ErrDuplicateInvoice):
					default:
						return err
					}
				}
				through := d
				lease.BilledThrough = &through
			}
			return tx.SaveLease(ctx, lease)
		})
		if err != nil {
			return issued, fmt.Errorf("lease %s: %w", l.ID, err)
		}

		for _, inv := range created {
			m.announce(ctx, inv, l.TenantID, SystemActor)
			issued = append(issued, *inv)
		}
	}
	return issued, nil
}

// =============================================================================
// TERMINATION CLEANUP
// =============================================================================

// CleanupResult counts what CleanupForTerminatedLeases removed.
type CleanupResult struct {
	InvoicesDeleted int `json:"invoicesDeleted"`
	PaymentsDeleted int `json:"paymentsDeleted"`
}

// CleanupForTerminatedLeases deletes every invoice, and its payments, owned
// by a terminated lease. All or nothing.
func (m *InvoiceManager) CleanupForTerminatedLeases(ctx context.Context, actorID string) (CleanupResult, error) {
	type leaseCount struct {
		id                 string
		invoices, payments int
	}
	var (
		result CleanupResult
		counts []leaseCount
	)

	err := m.c.store.WithTx(ctx, func(tx Tx) error {
		result = CleanupResult{}
		counts = counts[:0]

		leases, err := tx.ListLeases(ctx, LeaseTerminated)
		if err != nil {
			return err
		}
		for _, l := range leases {
			invoices, payments, err := tx.DeleteLeaseBilling(ctx, l.ID)
			if err != nil {
				return fmt.Errorf("cleanup lease %s: %w", l.ID, err)
			}
			if invoices == 0 && payments == 0 {
				continue
			}
			result.InvoicesDeleted += invoices
			result.PaymentsDeleted += payments
			counts = append(counts, leaseCount{id: l.ID, invoices: invoices, payments: payments})
		}
		return nil
	})
	if err != nil {
		return CleanupResult{}, err
	}

	actor := actorOr(actorID)
	for _, lc := range counts {
		m.c.record(ctx, actor, AuditCleanup, "lease", lc.id, nil, CleanupResult{
			InvoicesDeleted: lc.invoices,
			PaymentsDeleted: lc.payments,
		})
	}
	m.c.log.Info("terminated lease cleanup",
		zap.Int("invoices_deleted", result.InvoicesDeleted),
		zap.Int("payments_deleted", result.PaymentsDeleted),
	)
	return result, nil
}

func actorOr(actorID string) string {
	if actorID == "" {
		return SystemActor
	}
	return actorID
}
