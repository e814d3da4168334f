package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/rental-ledger/billing"
)

// =============================================================================
// INVOICES
// =============================================================================

const invoiceColumns = `
	i.id, i.lease_id, i.amount, i.paid_amount, i.issue_date, i.due_date, i.status,
	i.overdue_reminder_count, i.last_reminder_sent_at, i.version, i.created_at, i.updated_at`

func (s *queries) GetInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices i WHERE i.id = ?`, id)
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *queries) ListInvoices(ctx context.Context, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices i`
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		query += ` JOIN leases l ON l.id = i.lease_id`
		where = append(where, "l.tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.LeaseID != "" {
		where = append(where, "i.lease_id = ?")
		args = append(args, f.LeaseID)
	}
	if f.Status != "" {
		where = append(where, "i.status = ?")
		args = append(args, string(f.Status))
	}
	if f.DueBefore != nil {
		where = append(where, "i.due_date < ?")
		args = append(args, formatDate(*f.DueBefore))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY i.issue_date ASC, i.id ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (s *queries) InsertInvoice(ctx context.Context, inv *billing.Invoice) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO invoices
		(id, lease_id, amount, paid_amount, issue_date, due_date, status,
		 overdue_reminder_count, last_reminder_sent_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID,
		inv.LeaseID,
		inv.Amount.String(),
		inv.PaidAmount.String(),
		formatDate(inv.IssueDate),
		formatDate(inv.DueDate),
		string(inv.Status),
		inv.OverdueReminderCount,
		nullTime(inv.LastReminderSentAt),
		inv.Version,
		formatTime(inv.CreatedAt),
		formatTime(inv.UpdatedAt),
	)
	if err != nil {
		if uniqueConstraintOn(err, "invoices.") {
			return billing.ErrDuplicateInvoice
		}
		return fmt.Errorf("failed to insert invoice: %w", err)
	}
	return nil
}

// UpdateInvoice writes every mutable column, conditioned on the version the
// caller read.
func (s *queries) UpdateInvoice(ctx context.Context, inv *billing.Invoice) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE invoices
		SET paid_amount = ?, status = ?, overdue_reminder_count = ?,
		    last_reminder_sent_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		inv.PaidAmount.String(),
		string(inv.Status),
		inv.OverdueReminderCount,
		nullTime(inv.LastReminderSentAt),
		formatTime(inv.UpdatedAt),
		inv.ID,
		inv.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	if n == 0 {
		return billing.ErrConcurrentModification
	}
	inv.Version++
	return nil
}

func scanInvoice(row interface{ Scan(...any) error }) (billing.Invoice, error) {
	var (
		inv        billing.Invoice
		amount     string
		paid       string
		issueDate  string
		dueDate    string
		status     string
		lastRemind sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(
		&inv.ID, &inv.LeaseID, &amount, &paid, &issueDate, &dueDate, &status,
		&inv.OverdueReminderCount, &lastRemind, &inv.Version, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return inv, err
	}
	if err != nil {
		return inv, fmt.Errorf("failed to scan invoice: %w", err)
	}

	inv.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return inv, fmt.Errorf("invoice %s: bad amount %q: %w", inv.ID, amount, err)
	}
	inv.PaidAmount, err = decimal.NewFromString(paid)
	if err != nil {
		return inv, fmt.Errorf("invoice %s: bad paid amount %q: %w", inv.ID, paid, err)
	}
	inv.IssueDate = parseDate(issueDate)
	inv.DueDate = parseDate(dueDate)
	inv.Status = billing.InvoiceStatus(status)
	inv.LastReminderSentAt = parseNullTime(lastRemind)
	inv.CreatedAt = parseTime(createdAt)
	inv.UpdatedAt = parseTime(updatedAt)
	return inv, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `
	p.id, p.invoice_id, p.amount, p.payment_date, p.method, p.status, p.submitted_by,
	p.reviewer_id, p.notes, p.reason_of_reject, p.proof_url, p.reviewed_at, p.created_at`

func (s *queries) GetPayment(ctx context.Context, id string) (*billing.Payment, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.id = ?`, id)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *queries) PendingPayment(ctx context.Context, invoiceID string) (*billing.Payment, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments p WHERE p.invoice_id = ? AND p.status = ? LIMIT 1`,
		invoiceID, string(billing.PaymentPending))
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *queries) ListPayments(ctx context.Context, f billing.PaymentFilter) ([]billing.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments p`
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		query += ` JOIN invoices i ON i.id = p.invoice_id JOIN leases l ON l.id = i.lease_id`
		where = append(where, "l.tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.InvoiceID != "" {
		where = append(where, "p.invoice_id = ?")
		args = append(args, f.InvoiceID)
	}
	if f.Status != "" {
		where = append(where, "p.status = ?")
		args = append(args, string(f.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.created_at ASC, p.id ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []billing.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *queries) InsertPayment(ctx context.Context, p *billing.Payment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payments
		(id, invoice_id, amount, payment_date, method, status, submitted_by,
		 reviewer_id, notes, reason_of_reject, proof_url, reviewed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.InvoiceID,
		p.Amount.String(),
		formatDate(p.PaymentDate),
		string(p.Method),
		string(p.Status),
		p.SubmittedBy,
		nullString(p.ReviewerID),
		nullString(p.Notes),
		nullString(p.ReasonOfReject),
		nullString(p.ProofURL),
		nullTime(p.ReviewedAt),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		if uniqueConstraintOn(err, "payments.invoice_id") {
			return billing.ErrDuplicatePendingPayment
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// UpdatePayment writes the decision columns while the stored row is still
// Pending. A decided row only accepts a new proof URL.
func (s *queries) UpdatePayment(ctx context.Context, p *billing.Payment) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE payments
		SET status = ?, reviewer_id = ?, reason_of_reject = ?, proof_url = ?, reviewed_at = ?
		WHERE id = ?
		  AND (status = ? OR (status = ? AND COALESCE(reason_of_reject, '') = ?))`,
		string(p.Status),
		nullString(p.ReviewerID),
		nullString(p.ReasonOfReject),
		nullString(p.ProofURL),
		nullTime(p.ReviewedAt),
		p.ID,
		string(billing.PaymentPending),
		string(p.Status),
		p.ReasonOfReject,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if n == 0 {
		return billing.ErrConcurrentModification
	}
	return nil
}

func scanPayment(row interface{ Scan(...any) error }) (billing.Payment, error) {
	var (
		p           billing.Payment
		amount      string
		paymentDate string
		method      string
		status      string
		reviewerID  sql.NullString
		notes       sql.NullString
		reason      sql.NullString
		proofURL    sql.NullString
		reviewedAt  sql.NullString
		createdAt   string
	)
	err := row.Scan(
		&p.ID, &p.InvoiceID, &amount, &paymentDate, &method, &status, &p.SubmittedBy,
		&reviewerID, &notes, &reason, &proofURL, &reviewedAt, &createdAt,
	)
	if err == sql.ErrNoRows {
		return p, err
	}
	if err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}

	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return p, fmt.Errorf("payment %s: bad amount %q: %w", p.ID, amount, err)
	}
	p.PaymentDate = parseDate(paymentDate)
	p.Method = billing.PaymentMethod(method)
	p.Status = billing.PaymentStatus(status)
	p.ReviewerID = reviewerID.String
	p.Notes = notes.String
	p.ReasonOfReject = reason.String
	p.ProofURL = proofURL.String
	p.ReviewedAt = parseNullTime(reviewedAt)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// =============================================================================
// LEASES
// =============================================================================

const leaseColumns = `
	id, tenant_id, unit_label, monthly_rent, billing_day, start_date, end_date,
	status, billed_through, created_at`

func (s *queries) GetLease(ctx context.Context, id string) (*billing.Lease, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+leaseColumns+` FROM leases WHERE id = ?`, id)
	l, err := scanLease(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *queries) ListLeases(ctx context.Context, status billing.LeaseStatus) ([]billing.Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leases: %w", err)
	}
	defer rows.Close()

	var leases []billing.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		leases = append(leases, l)
	}
	return leases, rows.Err()
}

func (s *queries) SaveLease(ctx context.Context, l *billing.Lease) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO leases (`+leaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			unit_label = excluded.unit_label,
			monthly_rent = excluded.monthly_rent,
			billing_day = excluded.billing_day,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			status = excluded.status,
			billed_through = excluded.billed_through`,
		l.ID,
		l.TenantID,
		l.UnitLabel,
		l.MonthlyRent.String(),
		l.BillingDay,
		formatDate(l.StartDate),
		nullDate(l.EndDate),
		string(l.Status),
		nullDate(l.BilledThrough),
		formatTime(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save lease: %w", err)
	}
	return nil
}

// DeleteLeaseBilling removes payments first, then invoices, of one lease.
func (s *queries) DeleteLeaseBilling(ctx context.Context, leaseID string) (int, int, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM payments WHERE invoice_id IN (SELECT id FROM invoices WHERE lease_id = ?)`, leaseID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete payments: %w", err)
	}
	payments, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete payments: %w", err)
	}

	res, err = s.q.ExecContext(ctx, `DELETE FROM invoices WHERE lease_id = ?`, leaseID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete invoices: %w", err)
	}
	invoices, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete invoices: %w", err)
	}
	return int(invoices), int(payments), nil
}

func scanLease(row interface{ Scan(...any) error }) (billing.Lease, error) {
	var (
		l             billing.Lease
		rent          string
		startDate     string
		endDate       sql.NullString
		status        string
		billedThrough sql.NullString
		createdAt     string
	)
	err := row.Scan(
		&l.ID, &l.TenantID, &l.UnitLabel, &rent, &l.BillingDay, &startDate, &endDate,
		&status, &billedThrough, &createdAt,
	)
	if err == sql.ErrNoRows {
		return l, err
	}
	if err != nil {
		return l, fmt.Errorf("failed to scan lease: %w", err)
	}

	l.MonthlyRent, err = decimal.NewFromString(rent)
	if err != nil {
		return l, fmt.Errorf("lease %s: bad rent %q: %w", l.ID, rent, err)
	}
	l.StartDate = parseDate(startDate)
	l.EndDate = parseNullDate(endDate)
	l.Status = billing.LeaseStatus(status)
	l.BilledThrough = parseNullDate(billedThrough)
	l.CreatedAt = parseTime(createdAt)
	return l, nil
}
