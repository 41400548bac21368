package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// OutboxStatus is the delivery state of an outbox entry.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxDropped OutboxStatus = "dropped"
)

// OutboxEntry is one outbound remote event awaiting delivery.
type OutboxEntry struct {
	ID            int64           `json:"id"`
	Action        string          `json:"action"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"maxAttempts"`
	NextAttemptAt time.Time       `json:"nextAttemptAt"`
	LastError     string          `json:"lastError,omitempty"`
	Status        OutboxStatus    `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	SentAt        *time.Time      `json:"sentAt,omitempty"`
}

const outboxColumns = `id, action, payload, attempts, max_attempts, next_attempt_at,
	last_error, status, created_at, sent_at`

// Enqueue appends an outbound event due immediately. payload is encoded as
// JSON. maxAttempts below 1 is treated as 1.
func (tx *Tx) Enqueue(ctx context.Context, action string, payload any, maxAttempts int, now time.Time) (OutboxEntry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxEntry{}, fmt.Errorf("enqueue %s: %w", action, err)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	e := OutboxEntry{
		ID:            tx.outboxID.Generate().Int64(),
		Action:        action,
		Payload:       data,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: now.UTC(),
		Status:        OutboxPending,
		CreatedAt:     now.UTC(),
	}
	_, err = tx.q.ExecContext(ctx, `
		INSERT INTO outbox (`+outboxColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.Action, string(e.Payload), e.Attempts, e.MaxAttempts, millis(e.NextAttemptAt),
		e.LastError, string(e.Status), millis(e.CreatedAt), nil,
	)
	if err != nil {
		return OutboxEntry{}, wrap("enqueue "+action, err)
	}
	tx.outboxDirty = true
	return e, nil
}

// DueOutbox returns pending entries whose next attempt is at or before now,
// in enqueue order. limit <= 0 returns all.
func (tx *Tx) DueOutbox(ctx context.Context, now time.Time, limit int) ([]OutboxEntry, error) {
	query := `
		SELECT ` + outboxColumns + ` FROM outbox
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY id ASC`
	args := []any{millis(now)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return tx.queryOutbox(ctx, query, args...)
}

// ListOutbox returns entries with the given status (all when empty), newest
// first. limit <= 0 returns all.
func (tx *Tx) ListOutbox(ctx context.Context, status OutboxStatus, limit int) ([]OutboxEntry, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return tx.queryOutbox(ctx, query, args...)
}

// GetOutboxEntry returns one entry or ErrNotFound.
func (tx *Tx) GetOutboxEntry(ctx context.Context, id int64) (OutboxEntry, error) {
	entries, err := tx.queryOutbox(ctx, `SELECT `+outboxColumns+` FROM outbox WHERE id = ?`, id)
	if err != nil {
		return OutboxEntry{}, err
	}
	if len(entries) == 0 {
		return OutboxEntry{}, fmt.Errorf("outbox entry %d: %w", id, ErrNotFound)
	}
	return entries[0], nil
}

// CountOutbox counts entries with the given status.
func (tx *Tx) CountOutbox(ctx context.Context, status OutboxStatus) (int, error) {
	var n int
	err := tx.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}

// MarkOutboxSent records a successful delivery.
func (tx *Tx) MarkOutboxSent(ctx context.Context, id int64, at time.Time) error {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE outbox SET status = 'sent', attempts = attempts + 1, sent_at = ?, last_error = ''
		WHERE id = ? AND status = 'pending'
	`, millis(at), id)
	if err != nil {
		return wrap("mark outbox sent", err)
	}
	return expectOne(res, "mark outbox sent", fmt.Sprint(id))
}

// MarkOutboxFailed records a failed attempt. The entry is dropped once its
// attempts reach maxAttempts; otherwise it is rescheduled for next.
// Returns the entry's resulting status.
func (tx *Tx) MarkOutboxFailed(ctx context.Context, id int64, next time.Time, lastErr string) (OutboxStatus, error) {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE outbox SET
			attempts = attempts + 1,
			last_error = ?,
			next_attempt_at = ?,
			status = CASE WHEN attempts + 1 >= max_attempts THEN 'dropped' ELSE 'pending' END
		WHERE id = ? AND status = 'pending'
	`, lastErr, millis(next), id)
	if err != nil {
		return "", wrap("mark outbox failed", err)
	}
	if err := expectOne(res, "mark outbox failed", fmt.Sprint(id)); err != nil {
		return "", err
	}
	var status string
	if err := tx.q.QueryRowContext(ctx, `SELECT status FROM outbox WHERE id = ?`, id).Scan(&status); err != nil {
		return "", fmt.Errorf("mark outbox failed: %w", err)
	}
	return OutboxStatus(status), nil
}

func (tx *Tx) queryOutbox(ctx context.Context, query string, args ...any) ([]OutboxEntry, error) {
	rows, err := tx.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	out := []OutboxEntry{}
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return out, nil
}

func scanOutbox(row scanner) (OutboxEntry, error) {
	var e OutboxEntry
	var payload, status string
	var next, created int64
	var sent sql.NullInt64
	err := row.Scan(&e.ID, &e.Action, &payload, &e.Attempts, &e.MaxAttempts, &next,
		&e.LastError, &status, &created, &sent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scan outbox entry: %w", err)
	}
	e.Payload = json.RawMessage(payload)
	e.Status = OutboxStatus(status)
	e.NextAttemptAt = fromMillis(next)
	e.CreatedAt = fromMillis(created)
	e.SentAt = timePtr(sent)
	return e, nil
}
