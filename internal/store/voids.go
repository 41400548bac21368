package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/till/internal/model"
)

const voidColumns = `id, ticket_id, item_name, item_sku, requested_qty, approver_id, reason,
	requested_by, status, created_at, decided_at, decided_by, decision_note`

// InsertVoidRequest writes a new pending request.
func (tx *Tx) InsertVoidRequest(ctx context.Context, v model.VoidRequest) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO void_requests (`+voidColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		v.ID, v.TicketID, v.ItemName, v.ItemSKU, v.RequestedQty, v.ApproverID, v.Reason,
		v.RequestedBy, string(v.Status), millis(v.CreatedAt), nullMillis(v.DecidedAt),
		v.DecidedBy, v.DecisionNote,
	)
	if err != nil {
		return wrap("insert void request", err)
	}
	return nil
}

// GetVoidRequest returns the request with the given ID or ErrNotFound.
func (tx *Tx) GetVoidRequest(ctx context.Context, id string) (model.VoidRequest, error) {
	row := tx.q.QueryRowContext(ctx, `SELECT `+voidColumns+` FROM void_requests WHERE id = ?`, id)
	v, err := scanVoid(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VoidRequest{}, fmt.Errorf("void request %q: %w", id, ErrNotFound)
	}
	return v, err
}

// DecideVoidRequest moves a pending request to status. Returns false without
// error when the request was no longer pending.
func (tx *Tx) DecideVoidRequest(ctx context.Context, id string, status model.VoidStatus, at time.Time, by, note string) (bool, error) {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE void_requests
		SET status = ?, decided_at = ?, decided_by = ?, decision_note = ?
		WHERE id = ? AND status = 'pending'
	`, string(status), millis(at), by, note, id)
	if err != nil {
		return false, wrap("decide void request", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decide void request: %w", err)
	}
	return n == 1, nil
}

// ListVoidRequests returns requests with the given status, oldest first.
// An empty approverID matches every approver.
func (tx *Tx) ListVoidRequests(ctx context.Context, status model.VoidStatus, approverID string) ([]model.VoidRequest, error) {
	query := `SELECT ` + voidColumns + ` FROM void_requests WHERE status = ?`
	args := []any{string(status)}
	if approverID != "" {
		query += ` AND approver_id = ?`
		args = append(args, approverID)
	}
	query += ` ORDER BY created_at ASC, id COLLATE BINARY ASC`

	rows, err := tx.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query void requests: %w", err)
	}
	defer rows.Close()

	out := []model.VoidRequest{}
	for rows.Next() {
		v, err := scanVoid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate void requests: %w", err)
	}
	return out, nil
}

// CountVoidRequests counts requests with status on tickets of one shift.
func (tx *Tx) CountVoidRequests(ctx context.Context, shiftID string, status model.VoidStatus) (int, error) {
	prefix := shiftID + "-"
	var n int
	err := tx.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM void_requests
		WHERE status = ? AND substr(ticket_id, 1, ?) = ?
	`, string(status), len(prefix), prefix).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count void requests: %w", err)
	}
	return n, nil
}

func scanVoid(row scanner) (model.VoidRequest, error) {
	var v model.VoidRequest
	var status string
	var createdAt int64
	var decidedAt sql.NullInt64

	err := row.Scan(
		&v.ID, &v.TicketID, &v.ItemName, &v.ItemSKU, &v.RequestedQty, &v.ApproverID, &v.Reason,
		&v.RequestedBy, &status, &createdAt, &decidedAt, &v.DecidedBy, &v.DecisionNote,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return v, err
		}
		return v, fmt.Errorf("scan void request: %w", err)
	}
	v.Status = model.VoidStatus(status)
	v.CreatedAt = fromMillis(createdAt)
	v.DecidedAt = timePtr(decidedAt)
	return v, nil
}
