package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/till/internal/model"
)

const ticketColumns = `id, name, opened_by, opened_at, status, covers, notes, tax_rate,
	closed_at, closed_by, pay_method, pay_amount, tendered, change_due, subtotal, tax_amount, total`

// TicketFilter narrows ListTickets and ItemsByTicket. Zero values match all.
type TicketFilter struct {
	Status      model.TicketStatus
	OpenedSince *time.Time
	// ShiftID matches tickets whose ID carries the "<ShiftID>-" prefix.
	ShiftID string
}

func (f TicketFilter) where(alias string) (string, []any) {
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, alias+"status = ?")
		args = append(args, string(f.Status))
	}
	if f.OpenedSince != nil {
		conds = append(conds, alias+"opened_at >= ?")
		args = append(args, millis(*f.OpenedSince))
	}
	if f.ShiftID != "" {
		prefix := f.ShiftID + "-"
		conds = append(conds, "substr("+alias+"id, 1, ?) = ?")
		args = append(args, len(prefix), prefix)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// InsertTicket writes a new ticket. Returns ErrDuplicate when the ID is taken.
func (tx *Tx) InsertTicket(ctx context.Context, t model.Ticket) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ticketArgs(t)...)
	if err != nil {
		return wrap("insert ticket", err)
	}
	tx.ticketsDirty = true
	return nil
}

// UpsertTicket writes t, replacing an existing row with the same ID.
// Existing items are kept; callers replace them separately.
func (tx *Tx) UpsertTicket(ctx context.Context, t model.Ticket) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			opened_by = excluded.opened_by,
			opened_at = excluded.opened_at,
			status = excluded.status,
			covers = excluded.covers,
			notes = excluded.notes,
			tax_rate = excluded.tax_rate,
			closed_at = excluded.closed_at,
			closed_by = excluded.closed_by,
			pay_method = excluded.pay_method,
			pay_amount = excluded.pay_amount,
			tendered = excluded.tendered,
			change_due = excluded.change_due,
			subtotal = excluded.subtotal,
			tax_amount = excluded.tax_amount,
			total = excluded.total
	`, ticketArgs(t)...)
	if err != nil {
		return wrap("upsert ticket", err)
	}
	tx.ticketsDirty = true
	return nil
}

func ticketArgs(t model.Ticket) []any {
	return []any{
		t.ID, t.Name, t.OpenedBy, millis(t.OpenedAt), string(t.Status),
		nullInt(t.Covers), nullString(t.Notes), nullDecimal(t.TaxRate),
		nullMillis(t.ClosedAt), t.ClosedBy, string(t.PayMethod),
		t.PayAmount, t.Tendered, t.Change, t.Subtotal, t.TaxAmount, t.Total,
	}
}

// GetTicket returns the ticket with the given ID or ErrNotFound.
func (tx *Tx) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	row := tx.q.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Ticket{}, fmt.Errorf("ticket %q: %w", id, ErrNotFound)
	}
	return t, err
}

// TicketExists reports whether a ticket with the given ID exists.
func (tx *Tx) TicketExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := tx.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("probe ticket: %w", err)
	}
	return n > 0, nil
}

// CountTickets counts tickets matching f.
func (tx *Tx) CountTickets(ctx context.Context, f TicketFilter) (int, error) {
	where, args := f.where("")
	var n int
	if err := tx.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	return n, nil
}

// ListTickets returns tickets matching f ordered by openedAt then ID.
func (tx *Tx) ListTickets(ctx context.Context, f TicketFilter) ([]model.Ticket, error) {
	where, args := f.where("")
	rows, err := tx.q.QueryContext(ctx, `
		SELECT `+ticketColumns+` FROM tickets`+where+`
		ORDER BY opened_at ASC, id COLLATE BINARY ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	tickets := []model.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return tickets, nil
}

// UpdateTicketDetails writes covers and notes of an open ticket.
func (tx *Tx) UpdateTicketDetails(ctx context.Context, id string, covers *int, notes *string) error {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE tickets SET covers = ?, notes = ? WHERE id = ? AND status = 'open'
	`, nullInt(covers), nullString(notes), id)
	if err != nil {
		return wrap("update ticket details", err)
	}
	if err := expectOne(res, "update ticket details", id); err != nil {
		return err
	}
	tx.ticketsDirty = true
	return nil
}

// CloseTicket stamps the payment fields and applied tax rate of an open
// ticket and closes it. Returns ErrNotFound when the ticket is missing or already closed.
func (tx *Tx) CloseTicket(ctx context.Context, t model.Ticket) error {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE tickets SET
			status = 'closed',
			closed_at = ?,
			closed_by = ?,
			pay_method = ?,
			pay_amount = ?,
			tendered = ?,
			change_due = ?,
			subtotal = ?,
			tax_amount = ?,
			total = ?,
			tax_rate = ?
		WHERE id = ? AND status = 'open'
	`,
		nullMillis(t.ClosedAt), t.ClosedBy, string(t.PayMethod),
		t.PayAmount, t.Tendered, t.Change, t.Subtotal, t.TaxAmount, t.Total,
		nullDecimal(t.TaxRate), t.ID,
	)
	if err != nil {
		return wrap("close ticket", err)
	}
	if err := expectOne(res, "close ticket", t.ID); err != nil {
		return err
	}
	tx.ticketsDirty = true
	return nil
}

// DeleteOpenTickets removes every open ticket and, by cascade, its items.
// Returns the number of tickets removed.
func (tx *Tx) DeleteOpenTickets(ctx context.Context) (int, error) {
	res, err := tx.q.ExecContext(ctx, `DELETE FROM tickets WHERE status = 'open'`)
	if err != nil {
		return 0, wrap("delete open tickets", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete open tickets: %w", err)
	}
	tx.ticketsDirty = true
	return int(n), nil
}

func scanTicket(row scanner) (model.Ticket, error) {
	var t model.Ticket
	var openedAt int64
	var status, payMethod string
	var covers, closedAt sql.NullInt64
	var notes sql.NullString

	err := row.Scan(
		&t.ID, &t.Name, &t.OpenedBy, &openedAt, &status, &covers, &notes, &t.TaxRate,
		&closedAt, &t.ClosedBy, &payMethod, &t.PayAmount, &t.Tendered, &t.Change,
		&t.Subtotal, &t.TaxAmount, &t.Total,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scan ticket: %w", err)
	}

	t.OpenedAt = fromMillis(openedAt)
	t.Status = model.TicketStatus(status)
	t.Covers = intPtr(covers)
	t.Notes = stringPtr(notes)
	t.ClosedAt = timePtr(closedAt)
	t.PayMethod = model.PayMethod(payMethod)
	return t, nil
}
