package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LeaseDirectory is the ledger's view of the lease registry: enough to
// create, look up and terminate leases. Termination does not touch billing
// data; CleanupForTerminatedLeases sweeps it later.
type LeaseDirectory struct {
	c *core
}

type CreateLeaseInput struct {
	TenantID    string
	UnitLabel   string
	MonthlyRent decimal.Decimal
	BillingDay  int
	StartDate   time.Time
	EndDate     *time.Time
	ActorID     string
}

func (d *LeaseDirectory) Create(ctx context.Context, in CreateLeaseInput) (*Lease, error) {
	if in.TenantID == "" {
		return nil, invalid("tenantId", "is required")
	}
	if err := checkMoney("monthlyRent", in.MonthlyRent); err != nil {
		return nil, err
	}
	if in.BillingDay < 1 || in.BillingDay > 28 {
		return nil, invalid("billingDay", "must be between 1 and 28, got %d", in.BillingDay)
	}
	if in.StartDate.IsZero() {
		return nil, invalid("startDate", "is required")
	}
	if in.EndDate != nil && DateOnly(*in.EndDate).Before(DateOnly(in.StartDate)) {
		return nil, invalid("endDate", "must not be before start date")
	}

	lease := &Lease{
		ID:          newID(),
		TenantID:    in.TenantID,
		UnitLabel:   in.UnitLabel,
		MonthlyRent: in.MonthlyRent,
		BillingDay:  in.BillingDay,
		StartDate:   DateOnly(in.StartDate),
		Status:      LeaseActive,
		CreatedAt:   d.c.now(),
	}
	if in.EndDate != nil {
		end := DateOnly(*in.EndDate)
		lease.EndDate = &end
	}

	if err := d.c.store.WithTx(ctx, func(tx Tx) error {
		return tx.SaveLease(ctx, lease)
	}); err != nil {
		return nil, err
	}

	d.c.record(ctx, actorOr(in.ActorID), AuditLeaseCreated, "lease", lease.ID, nil, *lease)
	return lease, nil
}

func (d *LeaseDirectory) Get(ctx context.Context, id string) (*Lease, error) {
	lease, err := d.c.store.GetLease(ctx, id)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return nil, notFound("lease", id)
	}
	return lease, nil
}

// List returns leases with the given status; "" returns all of them.
func (d *LeaseDirectory) List(ctx context.Context, status LeaseStatus) ([]Lease, error) {
	return d.c.store.ListLeases(ctx, status)
}

// Terminate marks a lease Terminated and closes it today if it had no end
// date. Terminating twice is a no-op.
func (d *LeaseDirectory) Terminate(ctx context.Context, id, actorID string) (*Lease, error) {
	var (
		lease   *Lease
		before  Lease
		changed bool
	)
	err := d.c.store.WithTx(ctx, func(tx Tx) error {
		var err error
		lease, err = tx.GetLease(ctx, id)
		if err != nil {
			return err
		}
		if lease == nil {
			return notFound("lease", id)
		}
		if lease.Status == LeaseTerminated {
			return nil
		}

		before = *lease
		changed = true
		lease.Status = LeaseTerminated
		if lease.EndDate == nil {
			today := DateOnly(d.c.now())
			lease.EndDate = &today
		}
		return tx.SaveLease(ctx, lease)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		d.c.record(ctx, actorOr(actorID), AuditLeaseTerminated, "lease", lease.ID, before, *lease)
	}
	return lease, nil
}
