/*
approval.go - Pending payment decisions

STATE MACHINE:
  Pending --approve--> Approved   (paidAmount += amount)
  Pending --reject---> Rejected   (reason required, paidAmount unchanged)

  Approved and Rejected are terminal. A second decision on the same payment
  fails with ConflictError "already Approved" / "already Rejected" and changes
  nothing.

BALANCE RACE:
  Another payment (e.g. staff-recorded) may have reduced the outstanding
  balance since this one was submitted. Approval re-checks
  paidAmount + amount <= amount and otherwise fails with "balance race",
  leaving the payment Pending for a staff member to reject.
*/
package billing

import (
	"context"
	"fmt"
	"strings"
)

// ApprovalCoordinator moves Pending payments to a terminal status.
type ApprovalCoordinator struct {
	c *core
}

// Decision is one staff verdict on a Pending payment.
type Decision struct {
	PaymentID  string
	Approve    bool
	ReviewerID string
	Reason     string // required when rejecting
}

// Decide applies a decision and recomputes the owning invoice in the same
// transaction.
func (a *ApprovalCoordinator) Decide(ctx context.Context, d Decision) (*Payment, error) {
	current, err := a.c.store.GetPayment(ctx, d.PaymentID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, notFound("payment", d.PaymentID)
	}

	var (
		payment *Payment
		before  Payment
		inv     *Invoice
		tenant  string
	)
	err = a.c.withInvoice(ctx, current.InvoiceID, func(tx Tx) error {
		var err error
		payment, err = tx.GetPayment(ctx, d.PaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return notFound("payment", d.PaymentID)
		}
		if payment.Status != PaymentPending {
			return alreadyDecided(payment.Status)
		}
		reason := strings.TrimSpace(d.Reason)
		if !d.Approve && reason == "" {
			return invalid("reasonOfReject", "is required when rejecting a payment")
		}

		inv, err = tx.GetInvoice(ctx, payment.InvoiceID)
		if err != nil {
			return err
		}
		if inv == nil {
			return notFound("invoice", payment.InvoiceID)
		}

		now := a.c.now()
		before = *payment
		if d.Approve {
			if inv.PaidAmount.Add(payment.Amount).GreaterThan(inv.Amount) {
				return &ConflictError{Reason: ReasonBalanceRace}
			}
			inv.PaidAmount = inv.PaidAmount.Add(payment.Amount)
			payment.Status = PaymentApproved
		} else {
			payment.Status = PaymentRejected
			payment.ReasonOfReject = reason
		}
		payment.ReviewerID = d.ReviewerID
		payment.ReviewedAt = &now

		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		if err := a.c.recompute(ctx, tx, inv, now); err != nil {
			return err
		}

		tenant, err = a.c.tenantOf(ctx, tx, inv.LeaseID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if d.Approve {
		a.c.notify(ctx, tenant,
			fmt.Sprintf("Your payment of %s was approved; outstanding balance is now %s",
				payment.Amount.StringFixed(2), inv.OutstandingBalance().StringFixed(2)),
			NotifyPaymentApproved)
		a.c.record(ctx, d.ReviewerID, AuditPaymentApproved, "payment", payment.ID, before, *payment)
	} else {
		a.c.notify(ctx, tenant,
			fmt.Sprintf("Your payment of %s was rejected: %s",
				payment.Amount.StringFixed(2), payment.ReasonOfReject),
			NotifyPaymentRejected)
		a.c.record(ctx, d.ReviewerID, AuditPaymentRejected, "payment", payment.ID, before, *payment)
	}
	return payment, nil
}
