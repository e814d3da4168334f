package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-ledger/billing"
	"github.com/warp/rental-ledger/billing/memstore"
	"github.com/warp/rental-ledger/lock"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ctx    context.Context
	store  *memstore.Memory
	clock  *fakeClock
	ledger *billing.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	clock := &fakeClock{now: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)}
	ledger, err := billing.New(billing.Options{
		Store:    store,
		Locker:   lock.NewKeyed(2 * time.Second),
		Notifier: store,
		Audit:    store,
		Clock:    clock.Now,
	})
	require.NoError(t, err)
	return &fixture{ctx: context.Background(), store: store, clock: clock, ledger: ledger}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func (f *fixture) lease(t *testing.T, tenantID string) *billing.Lease {
	t.Helper()
	l, err := f.ledger.Leases.Create(f.ctx, billing.CreateLeaseInput{
		TenantID:    tenantID,
		UnitLabel:   "Unit 4B",
		MonthlyRent: dec("1000"),
		BillingDay:  1,
		StartDate:   date(2025, time.January, 1),
		ActorID:     "staff-1",
	})
	require.NoError(t, err)
	return l
}

func (f *fixture) invoice(t *testing.T, leaseID, amount string) *billing.Invoice {
	t.Helper()
	today := billing.DateOnly(f.clock.Now())
	inv, err := f.ledger.Invoices.CreateInvoice(f.ctx, billing.CreateInvoiceInput{
		LeaseID:   leaseID,
		Amount:    dec(amount),
		IssueDate: today,
		DueDate:   today.AddDate(0, 0, 7),
		ActorID:   "staff-1",
	})
	require.NoError(t, err)
	return inv
}

func (f *fixture) staffPay(t *testing.T, invoiceID, amount string) *billing.Payment {
	t.Helper()
	p, err := f.ledger.Intake.StaffRecordPayment(f.ctx, payment(invoiceID, amount, "staff-1"))
	require.NoError(t, err)
	return p
}

func (f *fixture) reload(t *testing.T, invoiceID string) *billing.Invoice {
	t.Helper()
	inv, err := f.ledger.Invoices.Get(f.ctx, invoiceID)
	require.NoError(t, err)
	return inv
}

func payment(invoiceID, amount, actor string) billing.PaymentInput {
	return billing.PaymentInput{
		InvoiceID:   invoiceID,
		Amount:      dec(amount),
		PaymentDate: date(2025, time.March, 9),
		Method:      billing.MethodBankTransfer,
		ActorID:     actor,
	}
}

// assertInvariants checks the balance and status invariants of one invoice
// against its payments.
func assertInvariants(t *testing.T, f *fixture, invoiceID string) {
	t.Helper()
	inv := f.reload(t, invoiceID)
	payments, err := f.store.ListPayments(f.ctx, billing.PaymentFilter{InvoiceID: invoiceID})
	require.NoError(t, err)

	approved := decimal.Zero
	pending := 0
	for _, p := range payments {
		switch p.Status {
		case billing.PaymentApproved:
			approved = approved.Add(p.Amount)
		case billing.PaymentPending:
			pending++
		}
	}

	assert.True(t, inv.PaidAmount.GreaterThanOrEqual(decimal.Zero), "paid amount negative")
	assert.True(t, inv.PaidAmount.LessThanOrEqual(inv.Amount), "paid %s exceeds amount %s", inv.PaidAmount, inv.Amount)
	assert.True(t, approved.Equal(inv.PaidAmount), "approved sum %s != paid %s", approved, inv.PaidAmount)
	assert.LessOrEqual(t, pending, 1, "more than one pending payment")

	switch {
	case inv.PaidAmount.GreaterThanOrEqual(inv.Amount):
		assert.Equal(t, billing.InvoicePaid, inv.Status)
	case pending > 0:
		assert.Equal(t, billing.InvoicePending, inv.Status)
	default:
		assert.Contains(t, []billing.InvoiceStatus{billing.InvoiceUnpaid, billing.InvoiceOverdue}, inv.Status)
	}
}

func conflictReason(t *testing.T, err error) string {
	t.Helper()
	var ce *billing.ConflictError
	require.ErrorAs(t, err, &ce)
	return ce.Reason
}
