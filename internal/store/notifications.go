package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/till/internal/model"
)

// InsertNotification writes a notification row.
func (tx *Tx) InsertNotification(ctx context.Context, n model.Notification) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient, kind, title, body, ref_type, ref_id, created_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.Recipient, n.Kind, n.Title, n.Body, n.RefType, n.RefID, millis(n.CreatedAt), nullMillis(n.ReadAt))
	if err != nil {
		return wrap("insert notification", err)
	}
	return nil
}

// ListNotifications returns a recipient's notifications, newest first.
func (tx *Tx) ListNotifications(ctx context.Context, recipient string, unreadOnly bool) ([]model.Notification, error) {
	query := `
		SELECT id, recipient, kind, title, body, ref_type, ref_id, created_at, read_at
		FROM notifications WHERE recipient = ?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id COLLATE BINARY DESC`

	rows, err := tx.q.QueryContext(ctx, query, recipient)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := []model.Notification{}
	for rows.Next() {
		var n model.Notification
		var createdAt int64
		var readAt sql.NullInt64
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Kind, &n.Title, &n.Body, &n.RefType, &n.RefID, &createdAt, &readAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.CreatedAt = fromMillis(createdAt)
		n.ReadAt = timePtr(readAt)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// MarkNotificationRead stamps readAt on an unread notification.
func (tx *Tx) MarkNotificationRead(ctx context.Context, id string, at time.Time) error {
	_, err := tx.q.ExecContext(ctx, `
		UPDATE notifications SET read_at = ? WHERE id = ? AND read_at IS NULL
	`, millis(at), id)
	if err != nil {
		return wrap("mark notification read", err)
	}
	return nil
}
