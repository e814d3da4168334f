package billing_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-ledger/billing"
	"github.com/warp/rental-ledger/billing/memstore"
	"github.com/warp/rental-ledger/lock"
)

// =============================================================================
// STAFF PATH
// =============================================================================

func TestStaffRecordPayment_PartialThenFull(t *testing.T) {
	// GIVEN: invoice of 1000
	// WHEN: staff record 400, then 600
	// THEN: Unpaid after the first, Paid after the second
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	inv := f.invoice(t, l.ID, "1000")

	p := f.staffPay(t, inv.ID, "400")
	assert.Equal(t, billing.PaymentApproved, p.Status)
	assert.Equal(t, "staff-1", p.ReviewerID)
	require.NotNil(t, p.ReviewedAt)

	got := f.reload(t, inv.ID)
	assert.True(t, got.PaidAmount.Equal(dec("400")))
	assert.Equal(t, billing.InvoiceUnpaid, got.Status)
	assertInvariants(t, f, inv.ID)

	f.staffPay(t, inv.ID, "600")
	got = f.reload(t, inv.ID)
	assert.True(t, got.PaidAmount.Equal(dec("1000")))
	assert.Equal(t, billing.InvoicePaid, got.Status)
	assert.True(t, got.OutstandingBalance().IsZero())
	assertInvariants(t, f, inv.ID)

	recorded := 0
	for _, n := range f.store.Notifications("tenant-1") {
		if n.Kind == billing.NotifyPaymentRecorded {
			recorded++
		}
	}
	assert.Equal(t, 2, recorded)
}

func TestStaffRecordPayment_ExceedsBalance(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	inv := f.invoice(t, l.ID, "1000")

	_, err := f.ledger.Intake.StaffRecordPayment(f.ctx, payment(inv.ID, "1200", "staff-1"))

	require.Error(t, err)
	assert.True(t, billing.IsValidation(err))
	assert.Contains(t, err.Error(), "1200.00")
	assert.Contains(t, err.Error(), "1000.00")

	payments, err := f.ledger.Intake.List(f.ctx, billing.PaymentFilter{InvoiceID: inv.ID})
	require.NoError(t, err)
	assert.Empty(t, payments)
	assert.True(t, f.reload(t, inv.ID).PaidAmount.IsZero())
}

func TestPaymentInput_Validation(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	inv := f.invoice(t, l.ID, "1000")

	bad := []struct {
		name   string
		mutate func(*billing.PaymentInput)
	}{
		{"zero amount", func(in *billing.PaymentInput) { in.Amount = dec("0") }},
		{"negative amount", func(in *billing.PaymentInput) { in.Amount = dec("-1") }},
		{"sub-cent amount", func(in *billing.PaymentInput) { in.Amount = dec("9.995") }},
		{"unknown method", func(in *billing.PaymentInput) { in.Method = "bitcoin" }},
		{"missing date", func(in *billing.PaymentInput) { in.PaymentDate = time.Time{} }},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			in := payment(inv.ID, "10", "staff-1")
			tt.mutate(&in)
			_, err := f.ledger.Intake.StaffRecordPayment(f.ctx, in)
			assert.True(t, billing.IsValidation(err), "got %v", err)

			in.ActorID = "tenant-1"
			_, err = f.ledger.Intake.TenantSubmitPayment(f.ctx, in)
			assert.True(t, billing.IsValidation(err), "got %v", err)
		})
	}
}

func TestStaffRecordPayment_UnknownInvoice(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Intake.StaffRecordPayment(f.ctx, payment("missing", "10", "staff-1"))
	assert.True(t, billing.IsNotFound(err))
}

// =============================================================================
// TENANT PATH
// =============================================================================

func TestTenantSubmitPayment_PendingAndStaffNotified(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	inv := f.invoice(t, l.ID, "1000")

	p, err := f.ledger.Intake.TenantSubmitPayment(f.ctx, payment(inv.ID, "250", "tenant-1"))
	require.NoError(t, err)

	assert.Equal(t, billing.PaymentPending, p.Status)
	assert.Equal(t, "tenant-1", p.SubmittedBy)
	assert.Empty(t, p.ReviewerID)

	got := f.reload(t, inv.ID)
	assert.Equal(t, billing.InvoicePending, got.Status)
	assert.True(t, got.PaidAmount.IsZero(), "pending payments do not count")
	assertInvariants(t, f, inv.ID)

	inbox := f.store.Notifications(billing.DefaultStaffInbox)
	require.Len(t, inbox, 1)
	assert.Equal(t, billing.NotifyPaymentSubmitted, inbox[0].Kind)
}

func TestTenantSubmitPayment_NotOwner(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	inv := f.invoice(t, l.ID, "1000")

	_, err := f.ledger.Intake.TenantSubmitPayment(f.ctx, payment(inv.ID, "100", "tenant-2"))

	assert.True(t, billing.IsForbidden(err))
	var ae *billing.AuthorizationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "tenant-2", ae.ActorID)
	assert.Equal(t, billing.InvoiceUnpaid, f.reload(t, inv.ID).Status)
}

func TestTenantSubmitPayment_PendingExists(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	inv := f.invoice(t, l.ID, "1000")

	_, err := f.ledger.Intake.TenantSubmitPayment(f.ctx, payment(inv.ID, "100", "tenant-1"))
	require.NoError(t, err)

	_, err = f.ledger.Intake.TenantSubmitPayment(f.ctx, payment(inv.ID, "100", "tenant-1"))
	assert.Equal(t, billing.ReasonPendingExists, conflictReason(t, err))
	assertInvariants(t, f, inv.ID)
}

func TestTenantSubmitPayment_ConcurrentSubmissions(t *testing.T) {
	// GIVEN: N tenants-side submissions racing on one invoice
	// THEN: exactly one succeeds, the rest see "pending payment exists"
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	inv := f.invoice(t, l.ID, "1000")

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.ledger.Intake.TenantSubmitPayment(f.ctx, payment(inv.ID, "100", "tenant-1"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case billing.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)

	pending, err := f.ledger.Intake.List(f.ctx, billing.PaymentFilter{InvoiceID: inv.ID, Status: billing.PaymentPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assertInvariants(t, f, inv.ID)
}

func TestTenantSubmitPayment_AfterRejectionAllowed(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	inv := f.invoice(t, l.ID, "1000")

	p, err := f.ledger.Intake.TenantSubmitPayment(f.ctx, payment(inv.ID, "100", "tenant-1"))
	require.NoError(t, err)
	_, err = f.ledger.Approvals.Decide(f.ctx, billing.Decision{PaymentID: p.ID, ReviewerID: "staff-1", Reason: "no transfer found"})
	require.NoError(t, err)

	_, err = f.ledger.Intake.TenantSubmitPayment(f.ctx, payment(inv.ID, "100", "tenant-1"))
	require.NoError(t, err)
	assertInvariants(t, f, inv.ID)
}

// =============================================================================
// PROOF OF PAYMENT
// =============================================================================

func TestAttachProof(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	inv := f.invoice(t, l.ID, "1000")
	p, err := f.ledger.Intake.TenantSubmitPayment(f.ctx, payment(inv.ID, "100", "tenant-1"))
	require.NoError(t, err)

	_, err = f.ledger.Intake.AttachProof(f.ctx, billing.ProofInput{PaymentID: p.ID, URL: "https://blob/x", ActorID: "tenant-2"})
	assert.True(t, billing.IsForbidden(err))

	got, err := f.ledger.Intake.AttachProof(f.ctx, billing.ProofInput{PaymentID: p.ID, URL: "https://blob/x", ActorID: "tenant-1"})
	require.NoError(t, err)
	assert.Equal(t, "https://blob/x", got.ProofURL)

	// Staff may attach to a decided payment
	_, err = f.ledger.Approvals.Decide(f.ctx, billing.Decision{PaymentID: p.ID, Approve: true, ReviewerID: "staff-1"})
	require.NoError(t, err)
	got, err = f.ledger.Intake.AttachProof(f.ctx, billing.ProofInput{PaymentID: p.ID, URL: "https://blob/y", ActorID: "staff-1", IsStaff: true})
	require.NoError(t, err)
	assert.Equal(t, "https://blob/y", got.ProofURL)
	assert.Equal(t, billing.PaymentApproved, got.Status)

	_, err = f.ledger.Intake.AttachProof(f.ctx, billing.ProofInput{PaymentID: "missing", URL: "u", ActorID: "staff-1", IsStaff: true})
	assert.True(t, billing.IsNotFound(err))
}

// =============================================================================
// ATOMICITY
// =============================================================================

func TestCancelledContextWritesNothing(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	inv := f.invoice(t, l.ID, "1000")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ledger.Intake.StaffRecordPayment(ctx, payment(inv.ID, "100", "staff-1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, f.reload(t, inv.ID).PaidAmount.IsZero())
}

func TestWriteFailureRollsBackPayment(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	inv := f.invoice(t, l.ID, "1000")

	// GIVEN: the invoice update after the payment insert fails
	f.store.FailOn = func(op string) error {
		if op == "UpdateInvoice" {
			return billing.ErrConcurrentModification
		}
		return nil
	}
	_, err := f.ledger.Intake.StaffRecordPayment(f.ctx, payment(inv.ID, "100", "staff-1"))
	assert.True(t, billing.IsConflict(err))
	f.store.FailOn = nil

	payments, err := f.ledger.Intake.List(f.ctx, billing.PaymentFilter{InvoiceID: inv.ID})
	require.NoError(t, err)
	assert.Empty(t, payments)
	assertInvariants(t, f, inv.ID)
}

type busyLocker struct{}

func (busyLocker) Lock(context.Context, string) (func(), error) { return nil, lock.ErrTimeout }

func TestLockTimeoutIsRetryableConflict(t *testing.T) {
	store := memstore.New()
	ledger, err := billing.New(billing.Options{Store: store, Locker: busyLocker{}})
	require.NoError(t, err)

	_, err = ledger.Intake.StaffRecordPayment(context.Background(), payment("inv-1", "10", "staff-1"))

	assert.True(t, billing.IsConflict(err))
	assert.True(t, billing.IsRetryable(err))
	assert.Equal(t, billing.ReasonInvoiceBusy, conflictReason(t, err))
}

// =============================================================================
// PROPERTY: invariants hold after any operation sequence
// =============================================================================

func TestInvariants_RandomSequence(t *testing.T) {
	f := newFixture(t)
	l := f.lease(t, "tenant-1")
	inv := f.invoice(t, l.ID, "1000")
	rng := rand.New(rand.NewSource(42))
	amounts := []string{"50", "100", "250", "400", "600", "1000"}

	for i := 0; i < 200; i++ {
		amount := amounts[rng.Intn(len(amounts))]
		switch rng.Intn(4) {
		case 0:
			_, _ = f.ledger.Intake.StaffRecordPayment(f.ctx, payment(inv.ID, amount, "staff-1"))
		case 1:
			_, _ = f.ledger.Intake.TenantSubmitPayment(f.ctx, payment(inv.ID, amount, "tenant-1"))
		case 2, 3:
			pending, err := f.store.PendingPayment(f.ctx, inv.ID)
			require.NoError(t, err)
			if pending == nil {
				continue
			}
			_, _ = f.ledger.Approvals.Decide(f.ctx, billing.Decision{
				PaymentID:  pending.ID,
				Approve:    rng.Intn(3) > 0,
				ReviewerID: "staff-1",
				Reason:     "mismatch",
			})
		}
		assertInvariants(t, f, inv.ID)
	}
}
