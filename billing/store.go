/*
store.go - Persistence contract for invoices, payments and leases

KEY INTERFACES:
  Reader: point lookups and filtered lists
  Writer: mutations, only reachable inside a transaction
  Tx:     Reader + Writer bound to one transaction
  Store:  Reader + WithTx

ATOMICITY:
  Every billing operation performs its read-validate-write sequence inside
  one WithTx call while holding the invoice lock (see ledger.go). If fn
  returns an error, or ctx is cancelled before commit, nothing is written.

NOT FOUND:
  Get* methods return (nil, nil) for unknown ids. Services turn that into
  NotFoundError with the right entity kind.

IMPLEMENTATIONS:
  - store/sqlite: production
  - billing/memstore: in-memory, for tests and dev
*/
package billing

import (
	"context"
	"time"
)

// Reader is the read side of the store.
type Reader interface {
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)

	GetPayment(ctx context.Context, id string) (*Payment, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)

	// PendingPayment returns the single Pending payment of an invoice, or nil.
	PendingPayment(ctx context.Context, invoiceID string) (*Payment, error)

	GetLease(ctx context.Context, id string) (*Lease, error)
	// ListLeases returns leases with the given status; "" returns all.
	ListLeases(ctx context.Context, status LeaseStatus) ([]Lease, error)
}

// Writer holds the mutations. Implementations must enforce one Pending payment per invoice and the
// (lease, issue date) uniqueness themselves as a last line of defence.
type Writer interface {
	// InsertInvoice returns ErrDuplicateInvoice if the lease already has an
	// invoice with the same issue date.
	InsertInvoice(ctx context.Context, inv *Invoice) error

	// UpdateInvoice persists inv if the stored version still equals
	// inv.Version, then increments inv.Version. Otherwise it returns
	// ErrConcurrentModification.
	UpdateInvoice(ctx context.Context, inv *Invoice) error

	// InsertPayment returns ErrDuplicatePendingPayment if the invoice already has a
	// Pending payment.
	InsertPayment(ctx context.Context, p *Payment) error

	// UpdatePayment persists p. A payment that is no longer Pending in the
	// store may only have its proof URL changed; anything else returns
	// ErrConcurrentModification.
	UpdatePayment(ctx context.Context, p *Payment) error

	SaveLease(ctx context.Context, l *Lease) error

	// DeleteLeaseBilling removes every payment and then every invoice of a
	// lease, returning the counts.
	DeleteLeaseBilling(ctx context.Context, leaseID string) (invoices, payments int, err error)
}

// Tx is a store view bound to one transaction.
type Tx interface {
	Reader
	Writer
}

// Store is the ledger's persistence.
type Store interface {
	Reader

	// WithTx runs fn in a transaction. fn's error rolls back, nil commits.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// =============================================================================
// AUDIT LOG - who did what when, with before/after snapshots
// =============================================================================

type AuditAction string

const (
	AuditInvoiceCreated   AuditAction = "invoice.created"
	AuditReminderSent     AuditAction = "invoice.reminder_sent"
	AuditInvoiceOverdue   AuditAction = "invoice.overdue"
	AuditCleanup          AuditAction = "invoice.cleanup_terminated"
	AuditPaymentRecorded  AuditAction = "payment.recorded"
	AuditPaymentSubmitted AuditAction = "payment.submitted"
	AuditPaymentApproved  AuditAction = "payment.approved"
	AuditPaymentRejected  AuditAction = "payment.rejected"
	AuditProofAttached    AuditAction = "payment.proof_attached"
	AuditLeaseCreated     AuditAction = "lease.created"
	AuditLeaseTerminated  AuditAction = "lease.terminated"
)

// AuditEntry records a single state change.
type AuditEntry struct {
	ID         string
	ActorID    string
	Action     AuditAction
	EntityKind string
	EntityID   string
	Before     any
	After      any
	CreatedAt  time.Time
}

// AuditLog persists audit entries. Append-only.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type NotificationKind string

const (
	NotifyInvoiceIssued    NotificationKind = "invoice_issued"
	NotifyOverdueReminder  NotificationKind = "overdue_reminder"
	NotifyPaymentRecorded  NotificationKind = "payment_recorded"
	NotifyPaymentSubmitted NotificationKind = "payment_submitted"
	NotifyPaymentApproved  NotificationKind = "payment_approved"
	NotifyPaymentRejected  NotificationKind = "payment_rejected"
)

// Notifier delivers a message to a user inbox.
type Notifier interface {
	Notify(ctx context.Context, userID, message string, kind NotificationKind) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, string, NotificationKind) error { return nil }

type nopAudit struct{}

func (nopAudit) Record(context.Context, AuditEntry) error { return nil }
