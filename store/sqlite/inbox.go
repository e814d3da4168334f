package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/rental-ledger/billing"
)

// =============================================================================
// NOTIFICATION INBOX (billing.Notifier)
// =============================================================================

// Notification is one inbox row.
type Notification struct {
	ID        string
	UserID    string
	Message   string
	Kind      billing.NotificationKind
	CreatedAt time.Time
	ReadAt    *time.Time
}

func (s *Store) Notify(ctx context.Context, userID, message string, kind billing.NotificationKind) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, message, kind, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, message, string(kind), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's inbox, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, message, kind, created_at, read_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n         Notification
			kind      string
			createdAt string
			readAt    sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &kind, &createdAt, &readAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Kind = billing.NotificationKind(kind)
		n.CreatedAt = parseTime(createdAt)
		n.ReadAt = parseNullTime(readAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead sets read_at on a notification owned by userID.
// Returns false if no such unread notification exists.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = ?
		WHERE id = ? AND user_id = ? AND read_at IS NULL`,
		formatTime(time.Now()), id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// =============================================================================
// AUDIT LOG (billing.AuditLog)
// =============================================================================

// AuditRecord is an audit row with its snapshots kept as raw JSON.
type AuditRecord struct {
	ID         string          `json:"id"`
	ActorID    string          `json:"actorId"`
	Action     string          `json:"action"`
	EntityKind string          `json:"entityKind"`
	EntityID   string          `json:"entityId"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// AuditQuery filters ListAudit. Zero values mean "any".
type AuditQuery struct {
	EntityKind string
	EntityID   string
	ActorID    string
	Limit      int
}

func (s *Store) Record(ctx context.Context, e billing.AuditEntry) error {
	before, err := marshalSnapshot(e.Before)
	if err != nil {
		return err
	}
	after, err := marshalSnapshot(e.After)
	if err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_id, action, entity_kind, entity_id, before_json, after_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ActorID, string(e.Action), e.EntityKind, e.EntityID, before, after, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func marshalSnapshot(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal audit snapshot: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// ListAudit returns audit rows, newest first.
func (s *Store) ListAudit(ctx context.Context, q AuditQuery) ([]AuditRecord, error) {
	if q.Limit <= 0 {
		q.Limit = 200
	}
	query := `
		SELECT id, actor_id, action, entity_kind, entity_id, before_json, after_json, created_at
		FROM audit_log
		WHERE (? = '' OR entity_kind = ?)
		  AND (? = '' OR entity_id = ?)
		  AND (? = '' OR actor_id = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query,
		q.EntityKind, q.EntityKind, q.EntityID, q.EntityID, q.ActorID, q.ActorID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			r         AuditRecord
			before    sql.NullString
			after     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.ActorID, &r.Action, &r.EntityKind, &r.EntityID, &before, &after, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if before.Valid {
			r.Before = json.RawMessage(before.String)
		}
		if after.Valid {
			r.After = json.RawMessage(after.String)
		}
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
