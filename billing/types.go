/*
Package billing implements the rental billing ledger.

PURPOSE:
  Tracks what each lease owes (invoices) and what has been paid against it
  (payments). Everything else in the platform - leases, units, messaging -
  is a collaborator reached through a narrow interface.

KEY CONCEPTS IN THIS FILE (types.go):
  - Invoice: fixed amount owed by a lease's tenant by a due date
  - Payment: one attempt (staff or tenant) to settle part of an invoice
  - Lease: the slice of the lease registry the ledger needs
  - Money: decimal.Decimal, never float64

INVARIANTS (enforced by InvoiceManager, PaymentIntake, ApprovalCoordinator):
  - 0 <= PaidAmount <= Amount
  - Status == Paid     iff PaidAmount >= Amount
  - Status == Pending  iff PaidAmount < Amount and a Pending payment exists
  - Status == Unpaid/Overdue iff PaidAmount < Amount and no Pending payment
  - At most one Pending payment per invoice
  - Approved and Rejected payments never change status again

SEE ALSO:
  - invoice.go:  InvoiceManager and RecomputeStatus
  - intake.go:   PaymentIntake (staff and tenant entry points)
  - approval.go: ApprovalCoordinator (Pending -> Approved/Rejected)
  - store.go:    persistence contract
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// SystemActor is the actor recorded for scheduler-driven changes.
const SystemActor = "system"

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceStatus string

const (
	InvoiceUnpaid  InvoiceStatus = "Unpaid"
	InvoicePending InvoiceStatus = "Pending"
	InvoicePaid    InvoiceStatus = "Paid"
	InvoiceOverdue InvoiceStatus = "Overdue"
)

func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceUnpaid, InvoicePending, InvoicePaid, InvoiceOverdue:
		return true
	}
	return false
}

// Invoice is a billing record for a fixed amount owed by a lease.
//
// Amount is fixed at issue time. PaidAmount only grows, and only through
// approved payments. Status is derived; see RecomputeStatus.
type Invoice struct {
	ID                   string          `json:"id"`
	LeaseID              string          `json:"leaseId"`
	Amount               decimal.Decimal `json:"amount"`
	PaidAmount           decimal.Decimal `json:"paidAmount"`
	IssueDate            time.Time       `json:"issueDate"`
	DueDate              time.Time       `json:"dueDate"`
	Status               InvoiceStatus   `json:"status"`
	OverdueReminderCount int             `json:"overdueReminderCount"`
	LastReminderSentAt   *time.Time      `json:"lastReminderSentAt,omitempty"`
	Version              int             `json:"version"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// OutstandingBalance is Amount - PaidAmount. Never negative.
func (inv Invoice) OutstandingBalance() decimal.Decimal {
	return inv.Amount.Sub(inv.PaidAmount)
}

// IsSettled reports whether the invoice has been paid in full.
func (inv Invoice) IsSettled() bool {
	return inv.PaidAmount.GreaterThanOrEqual(inv.Amount)
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "Pending"
	PaymentApproved PaymentStatus = "Approved"
	PaymentRejected PaymentStatus = "Rejected"
)

// IsTerminal returns true once a payment has left Pending.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentApproved || s == PaymentRejected
}

func (s PaymentStatus) IsValid() bool {
	return s == PaymentPending || s.IsTerminal()
}

type PaymentMethod string

const (
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCash         PaymentMethod = "cash"
	MethodCheque       PaymentMethod = "cheque"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case MethodBankTransfer, MethodCash, MethodCheque:
		return true
	}
	return false
}

// Payment is one attempt to settle part or all of an invoice.
type Payment struct {
	ID             string          `json:"id"`
	InvoiceID      string          `json:"invoiceId"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentDate    time.Time       `json:"paymentDate"`
	Method         PaymentMethod   `json:"method"`
	Status         PaymentStatus   `json:"status"`
	SubmittedBy    string          `json:"submittedBy"`
	ReviewerID     string          `json:"reviewerId,omitempty"` // staff id; set on direct record or on decision
	Notes          string          `json:"notes,omitempty"`
	ReasonOfReject string          `json:"reasonOfReject,omitempty"`
	ProofURL       string          `json:"proofUrl,omitempty"`
	ReviewedAt     *time.Time      `json:"reviewedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// =============================================================================
// LEASE (read model of the lease registry)
// =============================================================================

type LeaseStatus string

const (
	LeaseActive     LeaseStatus = "Active"
	LeaseTerminated LeaseStatus = "Terminated"
)

// Lease carries the fields the ledger needs: ownership for authorization,
// status for the termination sweep, rent terms for the billing cycle.
type Lease struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenantId"`
	UnitLabel     string          `json:"unitLabel"`
	MonthlyRent   decimal.Decimal `json:"monthlyRent"`
	BillingDay    int             `json:"billingDay"`
	StartDate     time.Time       `json:"startDate"`
	EndDate       *time.Time      `json:"endDate,omitempty"`
	Status        LeaseStatus     `json:"status"`
	BilledThrough *time.Time      `json:"billedThrough,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// =============================================================================
// QUERY FILTERS
// =============================================================================

// InvoiceFilter narrows ListInvoices. Zero values mean "any".
type InvoiceFilter struct {
	LeaseID   string
	TenantID  string
	Status    InvoiceStatus
	DueBefore *time.Time // strictly before
}

// PaymentFilter narrows ListPayments. Zero values mean "any".
type PaymentFilter struct {
	InvoiceID string
	TenantID  string
	Status    PaymentStatus
}

// =============================================================================
// DATE HELPERS
// =============================================================================

// MoneyPlaces is the number of decimal places every amount carries.
const MoneyPlaces = 2

// checkMoney requires a positive amount with at most MoneyPlaces decimals.
func checkMoney(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid(field, "must be greater than zero, got %s", amount.StringFixed(MoneyPlaces))
	}
	if !amount.Equal(amount.Round(MoneyPlaces)) {
		return invalid(field, "must have at most %d decimal places, got %s", MoneyPlaces, amount.String())
	}
	return nil
}

// DateOnly truncates t to midnight UTC. Issue, due and payment dates are
// calendar days.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// isPastDue reports whether now falls on a day after due.
func isPastDue(due, now time.Time) bool {
	return DateOnly(now).After(DateOnly(due))
}
