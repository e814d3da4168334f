// Package memstore provides an in-memory billing.Store (for testing/dev).
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/rental-ledger/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory holds all billing state in maps. WithTx works on a copy and swaps
// it in on commit, so a failing fn leaves nothing behind.
type Memory struct {
	mu    sync.RWMutex
	state *state

	// FailOn, when set, is consulted before every write inside a
	// transaction. A non-nil return aborts the write.
	FailOn func(op string) error

	notifyMu      sync.Mutex
	notifications []Notification
	audit         []billing.AuditEntry
}

// Notification is one inbox row captured by Notify.
type Notification struct {
	UserID    string
	Message   string
	Kind      billing.NotificationKind
	CreatedAt time.Time
}

func New() *Memory {
	return &Memory{state: newState()}
}

// =============================================================================
// READER (outside transactions)
// =============================================================================

func (m *Memory) GetInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetInvoice(ctx, id)
}

func (m *Memory) ListInvoices(ctx context.Context, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListInvoices(ctx, f)
}

func (m *Memory) GetPayment(ctx context.Context, id string) (*billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetPayment(ctx, id)
}

func (m *Memory) ListPayments(ctx context.Context, f billing.PaymentFilter) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListPayments(ctx, f)
}

func (m *Memory) PendingPayment(ctx context.Context, invoiceID string) (*billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.PendingPayment(ctx, invoiceID)
}

func (m *Memory) GetLease(ctx context.Context, id string) (*billing.Lease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetLease(ctx, id)
}

func (m *Memory) ListLeases(ctx context.Context, status billing.LeaseStatus) ([]billing.Lease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListLeases(ctx, status)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn against a snapshot and commits it if fn succeeds and
// ctx is still live.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	view := &txView{state: m.state.clone(), failOn: m.FailOn}
	if err := fn(view); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.state = view.state
	return nil
}

type txView struct {
	*state
	failOn func(op string) error
}

func (v *txView) check(op string) error {
	if v.failOn == nil {
		return nil
	}
	return v.failOn(op)
}

func (v *txView) InsertInvoice(ctx context.Context, inv *billing.Invoice) error {
	if err := v.check("InsertInvoice"); err != nil {
		return err
	}
	return v.state.InsertInvoice(ctx, inv)
}

func (v *txView) UpdateInvoice(ctx context.Context, inv *billing.Invoice) error {
	if err := v.check("UpdateInvoice"); err != nil {
		return err
	}
	return v.state.UpdateInvoice(ctx, inv)
}

func (v *txView) InsertPayment(ctx context.Context, p *billing.Payment) error {
	if err := v.check("InsertPayment"); err != nil {
		return err
	}
	return v.state.InsertPayment(ctx, p)
}

func (v *txView) UpdatePayment(ctx context.Context, p *billing.Payment) error {
	if err := v.check("UpdatePayment"); err != nil {
		return err
	}
	return v.state.UpdatePayment(ctx, p)
}

func (v *txView) SaveLease(ctx context.Context, l *billing.Lease) error {
	if err := v.check("SaveLease"); err != nil {
		return err
	}
	return v.state.SaveLease(ctx, l)
}

func (v *txView) DeleteLeaseBilling(ctx context.Context, leaseID string) (int, int, error) {
	if err := v.check("DeleteLeaseBilling"); err != nil {
		return 0, 0, err
	}
	return v.state.DeleteLeaseBilling(ctx, leaseID)
}

// =============================================================================
// COLLABORATORS - inbox and audit trail
// =============================================================================

func (m *Memory) Notify(_ context.Context, userID, message string, kind billing.NotificationKind) error {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.notifications = append(m.notifications, Notification{
		UserID:    userID,
		Message:   message,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// Notifications returns the inbox of userID, oldest first. "" returns all.
func (m *Memory) Notifications(userID string) []Notification {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	var out []Notification
	for _, n := range m.notifications {
		if userID == "" || n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (m *Memory) Record(_ context.Context, entry billing.AuditEntry) error {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

// AuditTrail returns every recorded entry, oldest first.
func (m *Memory) AuditTrail() []billing.AuditEntry {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	return append([]billing.AuditEntry(nil), m.audit...)
}

// =============================================================================
// STATE
// =============================================================================

type state struct {
	invoices map[string]billing.Invoice
	payments map[string]billing.Payment
	leases   map[string]billing.Lease
}

func newState() *state {
	return &state{
		invoices: make(map[string]billing.Invoice),
		payments: make(map[string]billing.Payment),
		leases:   make(map[string]billing.Lease),
	}
}

// clone copies the maps. Values are structs; pointer fields (*time.Time)
// are never mutated in place so sharing them is safe.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.leases {
		c.leases[k] = v
	}
	return c
}

func (s *state) GetInvoice(_ context.Context, id string) (*billing.Invoice, error) {
	inv, ok := s.invoices[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (s *state) ListInvoices(_ context.Context, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	var out []billing.Invoice
	for _, inv := range s.invoices {
		if f.LeaseID != "" && inv.LeaseID != f.LeaseID {
			continue
		}
		if f.TenantID != "" && s.leases[inv.LeaseID].TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if f.DueBefore != nil && !inv.DueDate.Before(*f.DueBefore) {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssueDate.Equal(out[j].IssueDate) {
			return out[i].IssueDate.Before(out[j].IssueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) GetPayment(_ context.Context, id string) (*billing.Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *state) ListPayments(_ context.Context, f billing.PaymentFilter) ([]billing.Payment, error) {
	var out []billing.Payment
	for _, p := range s.payments {
		if f.InvoiceID != "" && p.InvoiceID != f.InvoiceID {
			continue
		}
		if f.TenantID != "" {
			inv, ok := s.invoices[p.InvoiceID]
			if !ok || s.leases[inv.LeaseID].TenantID != f.TenantID {
				continue
			}
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) PendingPayment(_ context.Context, invoiceID string) (*billing.Payment, error) {
	for _, p := range s.payments {
		if p.InvoiceID == invoiceID && p.Status == billing.PaymentPending {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *state) GetLease(_ context.Context, id string) (*billing.Lease, error) {
	l, ok := s.leases[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *state) ListLeases(_ context.Context, status billing.LeaseStatus) ([]billing.Lease, error) {
	var out []billing.Lease
	for _, l := range s.leases {
		if status == "" || l.Status == status {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) InsertInvoice(_ context.Context, inv *billing.Invoice) error {
	for _, existing := range s.invoices {
		if existing.LeaseID == inv.LeaseID && existing.IssueDate.Equal(inv.IssueDate) {
			return billing.ErrDuplicateInvoice
		}
	}
	s.invoices[inv.ID] = *inv
	return nil
}

func (s *state) UpdateInvoice(_ context.Context, inv *billing.Invoice) error {
	stored, ok := s.invoices[inv.ID]
	if !ok || stored.Version != inv.Version {
		return billing.ErrConcurrentModification
	}
	inv.Version++
	s.invoices[inv.ID] = *inv
	return nil
}

func (s *state) InsertPayment(_ context.Context, p *billing.Payment) error {
	if _, ok := s.invoices[p.InvoiceID]; !ok {
		return billing.ErrConcurrentModification
	}
	if p.Status == billing.PaymentPending {
		for _, existing := range s.payments {
			if existing.InvoiceID == p.InvoiceID && existing.Status == billing.PaymentPending {
				return billing.ErrDuplicatePendingPayment
			}
		}
	}
	s.payments[p.ID] = *p
	return nil
}

func (s *state) UpdatePayment(_ context.Context, p *billing.Payment) error {
	stored, ok := s.payments[p.ID]
	if !ok {
		return billing.ErrConcurrentModification
	}
	// Only the proof URL may change once decided.
	if stored.Status.IsTerminal() && (stored.Status != p.Status || stored.ReasonOfReject != p.ReasonOfReject) {
		return billing.ErrConcurrentModification
	}
	s.payments[p.ID] = *p
	return nil
}

func (s *state) SaveLease(_ context.Context, l *billing.Lease) error {
	s.leases[l.ID] = *l
	return nil
}

func (s *state) DeleteLeaseBilling(_ context.Context, leaseID string) (int, int, error) {
	invoiceIDs := make(map[string]bool)
	for id, inv := range s.invoices {
		if inv.LeaseID == leaseID {
			invoiceIDs[id] = true
		}
	}

	payments := 0
	for id, p := range s.payments {
		if invoiceIDs[p.InvoiceID] {
			delete(s.payments, id)
			payments++
		}
	}
	for id := range invoiceIDs {
		delete(s.invoices, id)
	}
	return len(invoiceIDs), payments, nil
}
