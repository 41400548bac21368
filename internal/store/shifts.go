package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/till/internal/model"
)

const shiftColumns = `id, opened_at, closed_at, opened_by, closed_by, status,
	cash_sales, card_sales, prompt_pay_sales, tickets_count, items_sold,
	opening_float, closing_float, float_withdrawn, opening_petty, closing_petty, notes`

// InsertShift writes a new shift. Returns ErrDuplicate when the ID is taken
// or another shift is already open.
func (tx *Tx) InsertShift(ctx context.Context, sh model.Shift) error {
	itemsSold, err := marshalItemsSold(sh.ItemsSold)
	if err != nil {
		return fmt.Errorf("insert shift: %w", err)
	}
	_, err = tx.q.ExecContext(ctx, `
		INSERT INTO shifts (`+shiftColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sh.ID, millis(sh.OpenedAt), nullMillis(sh.ClosedAt), sh.OpenedBy, sh.ClosedBy, string(sh.Status),
		sh.CashSales, sh.CardSales, sh.PromptPaySales, sh.TicketsCount, itemsSold,
		sh.OpeningFloat, nullDecimal(sh.ClosingFloat), nullDecimal(sh.FloatWithdrawn),
		sh.OpeningPetty, nullDecimal(sh.ClosingPetty), sh.Notes,
	)
	if err != nil {
		return wrap("insert shift", err)
	}
	return nil
}

// UpsertShift writes sh, replacing every column of an existing row with the
// same ID. Used when the remote's copy of a shift wins.
func (tx *Tx) UpsertShift(ctx context.Context, sh model.Shift) error {
	itemsSold, err := marshalItemsSold(sh.ItemsSold)
	if err != nil {
		return fmt.Errorf("upsert shift: %w", err)
	}
	_, err = tx.q.ExecContext(ctx, `
		INSERT INTO shifts (`+shiftColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			opened_at = excluded.opened_at,
			closed_at = excluded.closed_at,
			opened_by = excluded.opened_by,
			closed_by = excluded.closed_by,
			status = excluded.status,
			cash_sales = excluded.cash_sales,
			card_sales = excluded.card_sales,
			prompt_pay_sales = excluded.prompt_pay_sales,
			tickets_count = excluded.tickets_count,
			items_sold = excluded.items_sold,
			opening_float = excluded.opening_float,
			closing_float = excluded.closing_float,
			float_withdrawn = excluded.float_withdrawn,
			opening_petty = excluded.opening_petty,
			closing_petty = excluded.closing_petty,
			notes = excluded.notes
	`,
		sh.ID, millis(sh.OpenedAt), nullMillis(sh.ClosedAt), sh.OpenedBy, sh.ClosedBy, string(sh.Status),
		sh.CashSales, sh.CardSales, sh.PromptPaySales, sh.TicketsCount, itemsSold,
		sh.OpeningFloat, nullDecimal(sh.ClosingFloat), nullDecimal(sh.FloatWithdrawn),
		sh.OpeningPetty, nullDecimal(sh.ClosingPetty), sh.Notes,
	)
	if err != nil {
		return wrap("upsert shift", err)
	}
	return nil
}

// GetShift returns the shift with the given ID or ErrNotFound.
func (tx *Tx) GetShift(ctx context.Context, id string) (model.Shift, error) {
	row := tx.q.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = ?`, id)
	sh, err := scanShift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Shift{}, fmt.Errorf("shift %q: %w", id, ErrNotFound)
	}
	return sh, err
}

// ShiftExists reports whether a shift with the given ID exists.
func (tx *Tx) ShiftExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := tx.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM shifts WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("probe shift: %w", err)
	}
	return n > 0, nil
}

// CurrentShift returns the open shift, or nil when none is open.
func (tx *Tx) CurrentShift(ctx context.Context) (*model.Shift, error) {
	row := tx.q.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts
		WHERE status = 'open'
		ORDER BY opened_at DESC, id DESC
		LIMIT 1
	`)
	sh, err := scanShift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

// LatestShift returns the most recently opened shift, or nil for an empty
// store.
func (tx *Tx) LatestShift(ctx context.Context) (*model.Shift, error) {
	row := tx.q.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts
		ORDER BY opened_at DESC, rowid DESC
		LIMIT 1
	`)
	sh, err := scanShift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

// ListShifts returns shifts, newest first. limit <= 0 returns all.
func (tx *Tx) ListShifts(ctx context.Context, limit int) ([]model.Shift, error) {
	query := `SELECT ` + shiftColumns + ` FROM shifts ORDER BY opened_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := tx.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query shifts: %w", err)
	}
	defer rows.Close()

	shifts := []model.Shift{}
	for rows.Next() {
		sh, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shifts: %w", err)
	}
	return shifts, nil
}

// CountShiftsOpenedBetween counts shifts with from <= openedAt < to.
func (tx *Tx) CountShiftsOpenedBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := tx.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM shifts WHERE opened_at >= ? AND opened_at < ?
	`, millis(from), millis(to)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count shifts: %w", err)
	}
	return n, nil
}

// CloseShift persists the settlement of an open shift. Returns ErrNotFound
// when the shift does not exist or is no longer open.
func (tx *Tx) CloseShift(ctx context.Context, sh model.Shift) error {
	itemsSold, err := marshalItemsSold(sh.ItemsSold)
	if err != nil {
		return fmt.Errorf("close shift: %w", err)
	}
	res, err := tx.q.ExecContext(ctx, `
		UPDATE shifts SET
			status = 'closed',
			closed_at = ?,
			closed_by = ?,
			cash_sales = ?,
			card_sales = ?,
			prompt_pay_sales = ?,
			tickets_count = ?,
			items_sold = ?,
			closing_float = ?,
			float_withdrawn = ?,
			closing_petty = ?,
			notes = ?
		WHERE id = ? AND status = 'open'
	`,
		nullMillis(sh.ClosedAt), sh.ClosedBy,
		sh.CashSales, sh.CardSales, sh.PromptPaySales, sh.TicketsCount, itemsSold,
		nullDecimal(sh.ClosingFloat), nullDecimal(sh.FloatWithdrawn), nullDecimal(sh.ClosingPetty),
		sh.Notes, sh.ID,
	)
	if err != nil {
		return wrap("close shift", err)
	}
	return expectOne(res, "close shift", sh.ID)
}

// CloseShiftsExcept closes every open shift other than keep, stamping
// closedAt. Returns the IDs it closed. Aggregates are left untouched.
func (tx *Tx) CloseShiftsExcept(ctx context.Context, keep string, at time.Time) ([]string, error) {
	rows, err := tx.q.QueryContext(ctx, `SELECT id FROM shifts WHERE status = 'open' AND id <> ?`, keep)
	if err != nil {
		return nil, fmt.Errorf("query open shifts: %w", err)
	}
	var closed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan shift id: %w", err)
		}
		closed = append(closed, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate open shifts: %w", err)
	}

	if len(closed) == 0 {
		return nil, nil
	}
	_, err = tx.q.ExecContext(ctx, `
		UPDATE shifts SET status = 'closed', closed_at = COALESCE(closed_at, ?)
		WHERE status = 'open' AND id <> ?
	`, millis(at), keep)
	if err != nil {
		return nil, wrap("close shifts", err)
	}
	return closed, nil
}

// SetOpeningFloat records the drawer's opening cash for a shift.
func (tx *Tx) SetOpeningFloat(ctx context.Context, shiftID string, amount decimal.Decimal) error {
	res, err := tx.q.ExecContext(ctx, `UPDATE shifts SET opening_float = ? WHERE id = ?`, amount, shiftID)
	if err != nil {
		return wrap("set opening float", err)
	}
	return expectOne(res, "set opening float", shiftID)
}

// SetOpeningPetty records the opening petty-cash balance for a shift.
func (tx *Tx) SetOpeningPetty(ctx context.Context, shiftID string, amount decimal.Decimal) error {
	res, err := tx.q.ExecContext(ctx, `UPDATE shifts SET opening_petty = ? WHERE id = ?`, amount, shiftID)
	if err != nil {
		return wrap("set opening petty", err)
	}
	return expectOne(res, "set opening petty", shiftID)
}

func scanShift(row scanner) (model.Shift, error) {
	var sh model.Shift
	var openedAt int64
	var closedAt sql.NullInt64
	var status, itemsSold string

	err := row.Scan(
		&sh.ID, &openedAt, &closedAt, &sh.OpenedBy, &sh.ClosedBy, &status,
		&sh.CashSales, &sh.CardSales, &sh.PromptPaySales, &sh.TicketsCount, &itemsSold,
		&sh.OpeningFloat, &sh.ClosingFloat, &sh.FloatWithdrawn, &sh.OpeningPetty, &sh.ClosingPetty, &sh.Notes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sh, err
		}
		return sh, fmt.Errorf("scan shift: %w", err)
	}

	sh.OpenedAt = fromMillis(openedAt)
	sh.ClosedAt = timePtr(closedAt)
	sh.Status = model.ShiftStatus(status)
	sh.ItemsSold = map[string]int{}
	if itemsSold != "" {
		if err := json.Unmarshal([]byte(itemsSold), &sh.ItemsSold); err != nil {
			return sh, fmt.Errorf("unmarshal items sold for shift %s: %w", sh.ID, err)
		}
	}
	return sh, nil
}

func marshalItemsSold(m map[string]int) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	// encoding/json sorts map keys, so equal histograms encode identically.
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal items sold: %w", err)
	}
	return string(data), nil
}

func expectOne(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", op, id, ErrNotFound)
	}
	return nil
}
