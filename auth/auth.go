/*
Package auth identifies callers and decides what they may do.

ROLES:
  admin   everything staff can do, plus cleanup and demo scenarios
  staff   record payments, decide tenant payments, manage leases
  tenant  read own invoices and payments, submit payments, attach proof

Ownership (a tenant touching only their own leases) is not decided here.
The gate answers "may this role perform this kind of action"; billing
checks "does this tenant own this invoice".
*/
package auth

import (
	"context"
	"fmt"

	"github.com/warp/rental-ledger/billing"
)

// Role is a caller's coarse permission level.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleStaff  Role = "staff"
	RoleTenant Role = "tenant"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleTenant:
		return true
	}
	return false
}

// Capability names one guarded action.
type Capability string

const (
	CapInvoiceRead    Capability = "invoice:read"
	CapInvoiceCreate  Capability = "invoice:create"
	CapInvoiceRemind  Capability = "invoice:remind"
	CapInvoiceCleanup Capability = "invoice:cleanup"
	CapPaymentRead    Capability = "payment:read"
	CapPaymentRecord  Capability = "payment:record"
	CapPaymentSubmit  Capability = "payment:submit"
	CapPaymentDecide  Capability = "payment:decide"
	CapPaymentProof   Capability = "payment:proof"
	CapLeaseRead      Capability = "lease:read"
	CapLeaseManage    Capability = "lease:manage"
	CapAuditRead      Capability = "audit:read"
	CapBillingRun     Capability = "billing:run"
	CapScenarioLoad   Capability = "scenario:load"
	CapInboxRead      Capability = "inbox:read"
)

// Principal is an authenticated caller.
type Principal struct {
	UserID string
	Role   Role
}

// IsStaff is true for staff and admins.
func (p Principal) IsStaff() bool {
	return p.Role == RoleStaff || p.Role == RoleAdmin
}

// =============================================================================
// GATE
// =============================================================================

// Gate maps roles to capabilities.
type Gate struct {
	grants map[Role]map[Capability]bool
}

// NewGate returns the default role table.
func NewGate() *Gate {
	tenant := []Capability{
		CapInvoiceRead, CapPaymentRead, CapPaymentSubmit, CapPaymentProof,
		CapLeaseRead, CapInboxRead,
	}
	staff := append([]Capability{
		CapInvoiceCreate, CapInvoiceRemind, CapPaymentRecord, CapPaymentDecide,
		CapLeaseManage, CapAuditRead, CapBillingRun,
	}, tenant...)
	admin := append([]Capability{CapInvoiceCleanup, CapScenarioLoad}, staff...)

	g := &Gate{grants: make(map[Role]map[Capability]bool)}
	g.Grant(RoleTenant, tenant...)
	g.Grant(RoleStaff, staff...)
	g.Grant(RoleAdmin, admin...)
	return g
}

// Grant adds capabilities to a role.
func (g *Gate) Grant(role Role, caps ...Capability) {
	set, ok := g.grants[role]
	if !ok {
		set = make(map[Capability]bool)
		g.grants[role] = set
	}
	for _, c := range caps {
		set[c] = true
	}
}

func (g *Gate) Allows(p Principal, c Capability) bool {
	return g.grants[p.Role][c]
}

// Check returns a billing.AuthorizationError when p lacks c.
func (g *Gate) Check(p Principal, c Capability) error {
	if g.Allows(p, c) {
		return nil
	}
	return &billing.AuthorizationError{
		ActorID: p.UserID,
		Reason:  fmt.Sprintf("role %q lacks %s", p.Role, c),
	}
}

// =============================================================================
// CONTEXT
// =============================================================================

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored by the auth middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
