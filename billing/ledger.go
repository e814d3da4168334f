/*
ledger.go - Wiring for the billing services

PURPOSE:
  Builds InvoiceManager, PaymentIntake, ApprovalCoordinator and
  LeaseDirectory over one shared core (store, locker, notifier, audit log,
  clock), and runs the periodic billing cycle.

CRITICAL SECTION (withInvoice):
  1. Acquire the per-invoice lock (bounded wait)
  2. Open a store transaction
  3. Read, validate, write
  4. Commit, then release the lock
  5. Emit notifications and audit rows (after commit only)

  Lock timeout surfaces as a retryable ConflictError. Nothing is retried
  here: a financial write is never replayed on the caller's behalf.

SEE ALSO:
  - invoice.go, intake.go, approval.go, lease.go
  - lock/: Locker implementations
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/rental-ledger/lock"
)

const (
	DefaultReminderMinInterval = 24 * time.Hour
	DefaultDueDays             = 7
	DefaultStaffInbox          = "staff"
	DefaultLockTimeout         = 5 * time.Second
)

// Locker serializes mutations of one invoice. unlock must be called exactly
// once after a successful Lock; calling it again is a no-op.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Options configures a Ledger. Only Store is required.
type Options struct {
	Store    Store
	Locker   Locker
	Notifier Notifier
	Audit    AuditLog
	Logger   *zap.Logger
	Clock    func() time.Time

	ReminderMinInterval time.Duration
	DueDays             int
	StaffInbox          string // recipient of "payment awaiting approval"
}

// Ledger groups the billing services.
type Ledger struct {
	Invoices  *InvoiceManager
	Intake    *PaymentIntake
	Approvals *ApprovalCoordinator
	Leases    *LeaseDirectory

	core *core
}

// New builds a Ledger, filling unset options with defaults.
func New(opts Options) (*Ledger, error) {
	if opts.Store == nil {
		return nil, errors.New("billing: store is required")
	}
	c := &core{
		store:               opts.Store,
		locker:              opts.Locker,
		notifier:            opts.Notifier,
		audit:               opts.Audit,
		log:                 opts.Logger,
		now:                 opts.Clock,
		reminderMinInterval: opts.ReminderMinInterval,
		dueDays:             opts.DueDays,
		staffInbox:          opts.StaffInbox,
	}
	if c.locker == nil {
		c.locker = lock.NewKeyed(DefaultLockTimeout)
	}
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	if c.audit == nil {
		c.audit = nopAudit{}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	if c.reminderMinInterval <= 0 {
		c.reminderMinInterval = DefaultReminderMinInterval
	}
	if c.dueDays <= 0 {
		c.dueDays = DefaultDueDays
	}
	if c.staffInbox == "" {
		c.staffInbox = DefaultStaffInbox
	}

	return &Ledger{
		Invoices:  &InvoiceManager{c: c},
		Intake:    &PaymentIntake{c: c},
		Approvals: &ApprovalCoordinator{c: c},
		Leases:    &LeaseDirectory{c: c},
		core:      c,
	}, nil
}

// CycleReport summarizes one RunBillingCycle pass.
type CycleReport struct {
	Issued        int `json:"issued"`
	MarkedOverdue int `json:"markedOverdue"`
	RemindersSent int `json:"remindersSent"`
}

// RunBillingCycle issues due invoices, flags overdue ones and sends reminders,
// in that order. Each step commits independently.
func (l *Ledger) RunBillingCycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport
	now := l.core.now()

	issued, err := l.Invoices.IssueDueInvoices(ctx, now)
	report.Issued = len(issued)
	if err != nil {
		return report, fmt.Errorf("issue due invoices: %w", err)
	}

	overdue, err := l.Invoices.MarkOverdue(ctx, now)
	report.MarkedOverdue = len(overdue)
	if err != nil {
		return report, fmt.Errorf("mark overdue: %w", err)
	}

	sent, err := l.Invoices.SendOverdueReminders(ctx, now)
	report.RemindersSent = sent
	if err != nil {
		return report, fmt.Errorf("send reminders: %w", err)
	}

	l.core.log.Info("billing cycle completed",
		zap.Int("issued", report.Issued),
		zap.Int("marked_overdue", report.MarkedOverdue),
		zap.Int("reminders_sent", report.RemindersSent),
	)
	return report, nil
}

// Now returns the ledger clock.
func (l *Ledger) Now() time.Time { return l.core.now() }

// =============================================================================
// CORE - shared by all services
// =============================================================================

type core struct {
	store    Store
	locker   Locker
	notifier Notifier
	audit    AuditLog
	log      *zap.Logger
	now      func() time.Time

	reminderMinInterval time.Duration
	dueDays             int
	staffInbox          string
}

// withInvoice runs fn under the invoice lock and inside one transaction.
func (c *core) withInvoice(ctx context.Context, invoiceID string, fn func(tx Tx) error) error {
	unlock, err := c.locker.Lock(ctx, "invoice:"+invoiceID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, lock.ErrTimeout) {
			return &ConflictError{Reason: ReasonInvoiceBusy, Retryable: true}
		}
		return fmt.Errorf("failed to lock invoice %s: %w", invoiceID, err)
	}
	defer unlock()

	return c.store.WithTx(ctx, fn)
}

// recompute re-derives the invoice status from the current transaction's
// view of its payments and persists it.
func (c *core) recompute(ctx context.Context, tx Tx, inv *Invoice, now time.Time) error {
	pending, err := tx.PendingPayment(ctx, inv.ID)
	if err != nil {
		return err
	}
	RecomputeStatus(inv, pending != nil, now)
	inv.UpdatedAt = now
	return tx.UpdateInvoice(ctx, inv)
}

// tenantOf returns the tenant owning the lease, "" if the lease is gone.
func (c *core) tenantOf(ctx context.Context, r Reader, leaseID string) (string, error) {
	lease, err := r.GetLease(ctx, leaseID)
	if err != nil {
		return "", err
	}
	if lease == nil {
		return "", nil
	}
	return lease.TenantID, nil
}

// notify delivers after commit. Failures are logged, never returned.
func (c *core) notify(ctx context.Context, userID, message string, kind NotificationKind) {
	if userID == "" {
		return
	}
	if err := c.notifier.Notify(ctx, userID, message, kind); err != nil {
		c.log.Warn("notification failed",
			zap.String("user_id", userID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

// record appends an audit entry after commit. Failures are logged.
func (c *core) record(ctx context.Context, actorID string, action AuditAction, kind, id string, before, after any) {
	entry := AuditEntry{
		ID:         uuid.NewString(),
		ActorID:    actorID,
		Action:     action,
		EntityKind: kind,
		EntityID:   id,
		Before:     before,
		After:      after,
		CreatedAt:  c.now(),
	}
	if err := c.audit.Record(ctx, entry); err != nil {
		c.log.Warn("audit record failed",
			zap.String("action", string(action)),
			zap.String("entity_id", id),
			zap.Error(err),
		)
	}
}

func newID() string { return uuid.NewString() }
