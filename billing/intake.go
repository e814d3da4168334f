/*
intake.go - Payment entry points

TWO ORIGINS, ONE VALIDATION:
  StaffRecordPayment:  staff assert money arrived; payment is Approved at
                       once and the invoice balance moves in the same tx.
  TenantSubmitPayment: tenant claims a payment; it stays Pending until the
                       ApprovalCoordinator decides.

  Both require 0 < amount <= outstanding balance, a known method and a
  payment date. The tenant path also requires ownership of the invoice's
  lease and no other Pending payment on the invoice.

ATOMICITY:
  Load, validate, insert and status recompute run under the invoice lock
  and in one transaction. Notifications go out after commit.
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentIntake records payments from staff and tenants.
type PaymentIntake struct {
	c *core
}

// PaymentInput is shared by both entry points. ActorID is the staff member
// (approver) on the staff path and the submitting tenant on the tenant path.
type PaymentInput struct {
	InvoiceID   string
	Amount      decimal.Decimal
	PaymentDate time.Time
	Method      PaymentMethod
	Notes       string
	ActorID     string
}

func (in PaymentInput) validate() error {
	if in.InvoiceID == "" {
		return invalid("invoiceId", "is required")
	}
	if err := checkMoney("amount", in.Amount); err != nil {
		return err
	}
	if !in.Method.IsValid() {
		return invalid("method", "unknown payment method %q", in.Method)
	}
	if in.PaymentDate.IsZero() {
		return invalid("paymentDate", "is required")
	}
	return nil
}

func checkAmount(inv *Invoice, amount decimal.Decimal) error {
	outstanding := inv.OutstandingBalance()
	if amount.GreaterThan(outstanding) {
		return invalid("amount", "payment of %s exceeds outstanding balance of %s",
			amount.StringFixed(2), outstanding.StringFixed(2))
	}
	return nil
}

func (p *PaymentIntake) newPayment(in PaymentInput, status PaymentStatus, now time.Time) *Payment {
	return &Payment{
		ID:          newID(),
		InvoiceID:   in.InvoiceID,
		Amount:      in.Amount,
		PaymentDate: DateOnly(in.PaymentDate),
		Method:      in.Method,
		Status:      status,
		SubmittedBy: in.ActorID,
		Notes:       strings.TrimSpace(in.Notes),
		CreatedAt:   now,
	}
}

// StaffRecordPayment records a payment staff have confirmed. The payment is
// Approved immediately and the invoice's paid amount grows by its amount.
func (p *PaymentIntake) StaffRecordPayment(ctx context.Context, in PaymentInput) (*Payment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var (
		payment *Payment
		inv     *Invoice
		tenant  string
	)
	err := p.c.withInvoice(ctx, in.InvoiceID, func(tx Tx) error {
		var err error
		inv, err = tx.GetInvoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if inv == nil {
			return notFound("invoice", in.InvoiceID)
		}
		if err := checkAmount(inv, in.Amount); err != nil {
			return err
		}

		now := p.c.now()
		payment = p.newPayment(in, PaymentApproved, now)
		payment.ReviewerID = in.ActorID
		payment.ReviewedAt = &now
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		inv.PaidAmount = inv.PaidAmount.Add(in.Amount)
		if err := p.c.recompute(ctx, tx, inv, now); err != nil {
			return err
		}

		tenant, err = p.c.tenantOf(ctx, tx, inv.LeaseID)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.c.notify(ctx, tenant,
		fmt.Sprintf("Payment of %s recorded; outstanding balance is now %s",
			payment.Amount.StringFixed(2), inv.OutstandingBalance().StringFixed(2)),
		NotifyPaymentRecorded)
	p.c.record(ctx, in.ActorID, AuditPaymentRecorded, "payment", payment.ID, nil, *payment)
	return payment, nil
}

// TenantSubmitPayment records a tenant's claim of payment. The payment is
// Pending and the invoice moves to Pending until a staff decision.
func (p *PaymentIntake) TenantSubmitPayment(ctx context.Context, in PaymentInput) (*Payment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var payment *Payment
	err := p.c.withInvoice(ctx, in.InvoiceID, func(tx Tx) error {
		inv, err := tx.GetInvoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if inv == nil {
			return notFound("invoice", in.InvoiceID)
		}
		owner, err := p.c.tenantOf(ctx, tx, inv.LeaseID)
		if err != nil {
			return err
		}
		if owner == "" || owner != in.ActorID {
			return &AuthorizationError{ActorID: in.ActorID, Reason: "invoice does not belong to tenant"}
		}
		if err := checkAmount(inv, in.Amount); err != nil {
			return err
		}

		pending, err := tx.PendingPayment(ctx, inv.ID)
		if err != nil {
			return err
		}
		if pending != nil {
			return &ConflictError{Reason: ReasonPendingExists}
		}

		now := p.c.now()
		payment = p.newPayment(in, PaymentPending, now)
		if err := tx.InsertPayment(ctx, payment); err != nil {
			if errors.Is(err, ErrDuplicatePendingPayment) {
				return &ConflictError{Reason: ReasonPendingExists}
			}
			return err
		}
		return p.c.recompute(ctx, tx, inv, now)
	})
	if err != nil {
		return nil, err
	}

	p.c.notify(ctx, p.c.staffInbox,
		fmt.Sprintf("New payment of %s awaiting approval for invoice %s",
			payment.Amount.StringFixed(2), payment.InvoiceID),
		NotifyPaymentSubmitted)
	p.c.record(ctx, in.ActorID, AuditPaymentSubmitted, "payment", payment.ID, nil, *payment)
	return payment, nil
}

// ProofInput attaches a proof-of-payment URL. Staff may attach to any
// payment; tenants only to payments on their own leases.
type ProofInput struct {
	PaymentID string
	URL       string
	ActorID   string
	IsStaff   bool
}

func (p *PaymentIntake) AttachProof(ctx context.Context, in ProofInput) (*Payment, error) {
	if strings.TrimSpace(in.URL) == "" {
		return nil, invalid("proofUrl", "is required")
	}
	current, err := p.Get(ctx, in.PaymentID)
	if err != nil {
		return nil, err
	}

	var (
		payment *Payment
		before  Payment
	)
	err = p.c.withInvoice(ctx, current.InvoiceID, func(tx Tx) error {
		var err error
		payment, err = tx.GetPayment(ctx, in.PaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return notFound("payment", in.PaymentID)
		}
		if !in.IsStaff {
			if err := p.checkOwner(ctx, tx, payment, in.ActorID); err != nil {
				return err
			}
		}

		before = *payment
		payment.ProofURL = in.URL
		return tx.UpdatePayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	p.c.record(ctx, in.ActorID, AuditProofAttached, "payment", payment.ID, before, *payment)
	return payment, nil
}

func (p *PaymentIntake) checkOwner(ctx context.Context, r Reader, payment *Payment, actorID string) error {
	inv, err := r.GetInvoice(ctx, payment.InvoiceID)
	if err != nil {
		return err
	}
	if inv == nil {
		return notFound("invoice", payment.InvoiceID)
	}
	owner, err := p.c.tenantOf(ctx, r, inv.LeaseID)
	if err != nil {
		return err
	}
	if owner == "" || owner != actorID {
		return &AuthorizationError{ActorID: actorID, Reason: "payment does not belong to tenant"}
	}
	return nil
}

// Get returns a payment or NotFoundError.
func (p *PaymentIntake) Get(ctx context.Context, id string) (*Payment, error) {
	payment, err := p.c.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, notFound("payment", id)
	}
	return payment, nil
}

func (p *PaymentIntake) List(ctx context.Context, filter PaymentFilter) ([]Payment, error) {
	return p.c.store.ListPayments(ctx, filter)
}

// Owner returns the tenant id owning the payment's invoice.
func (p *PaymentIntake) Owner(ctx context.Context, paymentID string) (string, error) {
	payment, err := p.Get(ctx, paymentID)
	if err != nil {
		return "", err
	}
	inv, err := p.c.store.GetInvoice(ctx, payment.InvoiceID)
	if err != nil {
		return "", err
	}
	if inv == nil {
		return "", notFound("invoice", payment.InvoiceID)
	}
	return p.c.tenantOf(ctx, p.c.store, inv.LeaseID)
}
