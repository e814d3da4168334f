package billing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-ledger/billing"
	"github.com/warp/rental-ledger/billing/memstore"
)

// =============================================================================
// CREATE INVOICE
// =============================================================================

func TestCreateInvoice_StartsUnpaidAndNotifiesTenant(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")

	inv := f.invoice(t, l.ID, "1000")

	assert.Equal(t, billing.InvoiceUnpaid, inv.Status)
	assert.True(t, inv.PaidAmount.IsZero())
	assert.True(t, inv.OutstandingBalance().Equal(dec("1000")))

	inbox := f.store.Notifications("tenant-1")
	require.Len(t, inbox, 1)
	assert.Equal(t, billing.NotifyInvoiceIssued, inbox[0].Kind)
	assert.Contains(t, inbox[0].Message, "1000.00")
}

func TestCreateInvoice_Validation(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	issue := date(2025, time.March, 1)

	tests := []struct {
		name  string
		input billing.CreateInvoiceInput
		check func(error) bool
	}{
		{"zero amount", billing.CreateInvoiceInput{LeaseID: l.ID, Amount: dec("0"), IssueDate: issue, DueDate: issue}, billing.IsValidation},
		{"negative amount", billing.CreateInvoiceInput{LeaseID: l.ID, Amount: dec("-5"), IssueDate: issue, DueDate: issue}, billing.IsValidation},
		{"sub-cent amount", billing.CreateInvoiceInput{LeaseID: l.ID, Amount: dec("999.995"), IssueDate: issue, DueDate: issue}, billing.IsValidation},
		{"due before issue", billing.CreateInvoiceInput{LeaseID: l.ID, Amount: dec("10"), IssueDate: issue, DueDate: issue.AddDate(0, 0, -1)}, billing.IsValidation},
		{"unknown lease", billing.CreateInvoiceInput{LeaseID: "nope", Amount: dec("10"), IssueDate: issue, DueDate: issue}, billing.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Invoices.CreateInvoice(f.ctx, tt.input)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestCreateInvoice_TerminatedLeaseRejected(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	_, err := f.ledger.Leases.Terminate(f.ctx, l.ID, "staff-1")
	require.NoError(t, err)

	_, err = f.ledger.Invoices.CreateInvoice(f.ctx, billing.CreateInvoiceInput{
		LeaseID: l.ID, Amount: dec("10"), IssueDate: date(2025, time.March, 1), DueDate: date(2025, time.March, 8),
	})
	assert.True(t, billing.IsValidation(err))
}

// =============================================================================
// REMINDERS
// =============================================================================

func TestRecordReminder_IncrementsAndEnforcesInterval(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	inv := f.invoice(t, l.ID, "1000")

	got, err := f.ledger.Invoices.RecordReminder(f.ctx, inv.ID, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.OverdueReminderCount)
	require.NotNil(t, got.LastReminderSentAt)
	assert.Equal(t, f.clock.Now(), *got.LastReminderSentAt)

	// WHEN: reminded again within the minimum interval
	_, err = f.ledger.Invoices.RecordReminder(f.ctx, inv.ID, "staff-1")
	assert.Equal(t, billing.ReasonReminderTooSoon, conflictReason(t, err))
	assert.Equal(t, 1, f.reload(t, inv.ID).OverdueReminderCount)

	// WHEN: the interval has passed
	f.clock.Advance(25 * time.Hour)
	got, err = f.ledger.Invoices.RecordReminder(f.ctx, inv.ID, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.OverdueReminderCount)

	reminders := 0
	for _, n := range f.store.Notifications("tenant-1") {
		if n.Kind == billing.NotifyOverdueReminder {
			reminders++
		}
	}
	assert.Equal(t, 2, reminders)
}

func TestRecordReminder_PaidInvoiceRejected(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	inv := f.invoice(t, l.ID, "100")
	f.staffPay(t, inv.ID, "100")

	_, err := f.ledger.Invoices.RecordReminder(f.ctx, inv.ID, "staff-1")
	assert.Equal(t, billing.ReasonInvoicePaid, conflictReason(t, err))
}

func TestRecordReminder_UnknownInvoice(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Invoices.RecordReminder(f.ctx, "missing", "staff-1")
	assert.True(t, billing.IsNotFound(err))
}

// =============================================================================
// OVERDUE SWEEP
// =============================================================================

func TestMarkOverdue_FlagsPastDueUnpaidOnly(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	unpaid := f.invoice(t, l.ID, "1000")

	f.clock.Advance(24 * time.Hour)
	pending := f.invoice(t, l.ID, "500")
	_, err := f.ledger.Intake.TenantSubmitPayment(f.ctx, payment(pending.ID, "100", "tenant-1"))
	require.NoError(t, err)

	// GIVEN: due date is day 7 after issue; on day 7 itself nothing is overdue
	f.clock.Advance(6 * 24 * time.Hour)
	marked, err := f.ledger.Invoices.MarkOverdue(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, marked)

	f.clock.Advance(24 * time.Hour)
	marked, err = f.ledger.Invoices.MarkOverdue(f.ctx, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, marked, 1)
	assert.Equal(t, unpaid.ID, marked[0].ID)
	assert.Equal(t, billing.InvoiceOverdue, f.reload(t, unpaid.ID).Status)
	assert.Equal(t, billing.InvoicePending, f.reload(t, pending.ID).Status)

	sent, err := f.ledger.Invoices.SendOverdueReminders(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	// Second sweep inside the interval sends nothing
	sent, err = f.ledger.Invoices.SendOverdueReminders(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
}

// =============================================================================
// BILLING CYCLE
// =============================================================================

func TestIssueDueInvoices_Idempotent(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1") // billing day 1, starts Jan 1

	issued, err := f.ledger.Invoices.IssueDueInvoices(f.ctx, date(2025, time.March, 10))
	require.NoError(t, err)
	require.Len(t, issued, 3)
	assert.Equal(t, date(2025, time.January, 1), issued[0].IssueDate)
	assert.Equal(t, date(2025, time.January, 8), issued[0].DueDate)
	assert.True(t, issued[2].Amount.Equal(dec("1000")))

	again, err := f.ledger.Invoices.IssueDueInvoices(f.ctx, date(2025, time.March, 10))
	require.NoError(t, err)
	assert.Empty(t, again)

	lease, err := f.ledger.Leases.Get(f.ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, lease.BilledThrough)
	assert.Equal(t, date(2025, time.March, 1), *lease.BilledThrough)

	all, err := f.ledger.Invoices.List(f.ctx, billing.InvoiceFilter{LeaseID: l.ID})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestIssueDueInvoices_SkipsManuallyIssuedDate(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	_, err := f.ledger.Invoices.CreateInvoice(f.ctx, billing.CreateInvoiceInput{
		LeaseID: l.ID, Amount: dec("1000"), IssueDate: date(2025, time.February, 1), DueDate: date(2025, time.February, 8),
	})
	require.NoError(t, err)

	issued, err := f.ledger.Invoices.IssueDueInvoices(f.ctx, date(2025, time.February, 15))
	require.NoError(t, err)
	require.Len(t, issued, 1)
	assert.Equal(t, date(2025, time.January, 1), issued[0].IssueDate)
}

func TestRunBillingCycle(t *testing.T) {
	f := newFixture(t)
	f.lease(t, "tenant-1")

	// Mar 10: Jan, Feb and Mar invoices are issued; Mar 1 was due Mar 8, so all
	// three are past due
	report, err := f.ledger.RunBillingCycle(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, billing.CycleReport{Issued: 3, MarkedOverdue: 3, RemindersSent: 3}, report)
}

// =============================================================================
// TERMINATION CLEANUP
// =============================================================================

func TestCleanupForTerminatedLeases(t *testing.T) {
	// GIVEN: terminated lease L with 2 invoices and 3 payments,
	//        active lease K with 1 invoice and 1 payment
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	k := f.lease(t, "tenant-2")

	a := f.invoice(t, l.ID, "1000")
	f.clock.Advance(24 * time.Hour)
	b := f.invoice(t, l.ID, "1000")
	f.staffPay(t, a.ID, "100")
	f.staffPay(t, a.ID, "200")
	_, err := f.ledger.Intake.TenantSubmitPayment(f.ctx, payment(b.ID, "300", "tenant-1"))
	require.NoError(t, err)

	other := f.invoice(t, k.ID, "800")
	f.staffPay(t, other.ID, "50")

	_, err = f.ledger.Leases.Terminate(f.ctx, l.ID, "staff-1")
	require.NoError(t, err)

	// WHEN
	result, err := f.ledger.Invoices.CleanupForTerminatedLeases(f.ctx, "staff-1")

	// THEN
	require.NoError(t, err)
	assert.Equal(t, billing.CleanupResult{InvoicesDeleted: 2, PaymentsDeleted: 3}, result)

	remaining, err := f.ledger.Invoices.List(f.ctx, billing.InvoiceFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, other.ID, remaining[0].ID)

	payments, err := f.ledger.Intake.List(f.ctx, billing.PaymentFilter{})
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	// Second run is a no-op
	result, err = f.ledger.Invoices.CleanupForTerminatedLeases(f.ctx, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, billing.CleanupResult{}, result)
}

func TestCleanupForTerminatedLeases_RollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	first := f.lease(t, "tenant-1")
	second := f.lease(t, "tenant-2")
	f.invoice(t, first.ID, "100")
	f.invoice(t, second.ID, "200")
	for _, id := range []string{first.ID, second.ID} {
		_, err := f.ledger.Leases.Terminate(f.ctx, id, "staff-1")
		require.NoError(t, err)
	}

	// GIVEN: the second lease's delete fails mid-sweep
	calls := 0
	f.store.FailOn = func(op string) error {
		if op != "DeleteLeaseBilling" {
			return nil
		}
		calls++
		if calls == 2 {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := f.ledger.Invoices.CleanupForTerminatedLeases(f.ctx, "staff-1")
	require.Error(t, err)
	assert.Equal(t, 2, calls)

	f.store.FailOn = nil
	remaining, err := f.ledger.Invoices.List(f.ctx, billing.InvoiceFilter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 2, "partial cleanup must not be committed")
}

func TestCleanup_AuditTrail(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	f.invoice(t, l.ID, "100")
	_, err := f.ledger.Leases.Terminate(f.ctx, l.ID, "staff-1")
	require.NoError(t, err)

	_, err = f.ledger.Invoices.CleanupForTerminatedLeases(f.ctx, "admin-1")
	require.NoError(t, err)

	var found *billing.AuditEntry
	for _, e := range f.store.AuditTrail() {
		if e.Action == billing.AuditCleanup {
			e := e
			found = &e
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "admin-1", found.ActorID)
	assert.Equal(t, l.ID, found.EntityID)
}

var _ billing.Store = (*memstore.Memory)(nil)

// =============================================================================
// LEASES
// =============================================================================

func TestCreateLease_RentValidation(t *testing.T) {
	f := newFixture(t)
	base := billing.CreateLeaseInput{
		TenantID:   "tenant-1",
		BillingDay: 1,
		StartDate:  date(2025, time.January, 1),
	}

	tests := []struct {
		name  string
		rent  string
		valid bool
	}{
		{"whole amount", "1000", true},
		{"cents", "1000.50", true},
		{"trailing zeros", "1000.500", true},
		{"zero", "0", false},
		{"sub-cent", "1000.505", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			in.MonthlyRent = dec(tt.rent)

			_, err := f.ledger.Leases.Create(f.ctx, in)

			if tt.valid {
				assert.NoError(t, err)
				return
			}
			var verr *billing.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "monthlyRent", verr.Field)
		})
	}
}
