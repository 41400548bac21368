package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/till/internal/model"
)

const itemColumns = `id, ticket_id, position, sku, name, qty, price, line_total, added_at, base_price, variant_key`

// ReplaceItems deletes every line of the ticket and inserts items in order.
// Positions are assigned from the slice index.
func (tx *Tx) ReplaceItems(ctx context.Context, ticketID string, items []model.TicketItem) error {
	if _, err := tx.q.ExecContext(ctx, `DELETE FROM ticket_items WHERE ticket_id = ?`, ticketID); err != nil {
		return wrap("clear items", err)
	}
	for i, it := range items {
		it.TicketID = ticketID
		it.Position = i
		if err := tx.insertItem(ctx, it); err != nil {
			return err
		}
	}
	tx.ticketsDirty = true
	return nil
}

func (tx *Tx) insertItem(ctx context.Context, it model.TicketItem) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO ticket_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		it.ID, it.TicketID, it.Position, it.SKU, it.Name, it.Qty, it.Price, it.LineTotal,
		millis(it.AddedAt), nullDecimal(it.BasePrice), it.VariantKey,
	)
	if err != nil {
		return wrap("insert item", err)
	}
	return nil
}

// Items returns the lines of one ticket in cart order.
func (tx *Tx) Items(ctx context.Context, ticketID string) ([]model.TicketItem, error) {
	rows, err := tx.q.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM ticket_items
		WHERE ticket_id = ?
		ORDER BY position ASC, id COLLATE BINARY ASC
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// ItemsByTicket returns the lines of every ticket matching f, grouped by
// ticket ID. Tickets without lines are absent from the map.
func (tx *Tx) ItemsByTicket(ctx context.Context, f TicketFilter) (map[string][]model.TicketItem, error) {
	where, args := f.where("t.")
	rows, err := tx.q.QueryContext(ctx, `
		SELECT i.id, i.ticket_id, i.position, i.sku, i.name, i.qty, i.price, i.line_total,
		       i.added_at, i.base_price, i.variant_key
		FROM ticket_items i
		JOIN tickets t ON t.id = i.ticket_id`+where+`
		ORDER BY i.ticket_id COLLATE BINARY ASC, i.position ASC, i.id COLLATE BINARY ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	byTicket := make(map[string][]model.TicketItem)
	for _, it := range items {
		byTicket[it.TicketID] = append(byTicket[it.TicketID], it)
	}
	return byTicket, nil
}

// SetItemQty updates one line's quantity and derived total.
func (tx *Tx) SetItemQty(ctx context.Context, it model.TicketItem) error {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE ticket_items SET qty = ?, line_total = ? WHERE id = ?
	`, it.Qty, it.LineTotal, it.ID)
	if err != nil {
		return wrap("set item qty", err)
	}
	if err := expectOne(res, "set item qty", it.ID); err != nil {
		return err
	}
	tx.ticketsDirty = true
	return nil
}

// DeleteItem removes one line.
func (tx *Tx) DeleteItem(ctx context.Context, itemID string) error {
	res, err := tx.q.ExecContext(ctx, `DELETE FROM ticket_items WHERE id = ?`, itemID)
	if err != nil {
		return wrap("delete item", err)
	}
	if err := expectOne(res, "delete item", itemID); err != nil {
		return err
	}
	tx.ticketsDirty = true
	return nil
}

func collectItems(rows *sql.Rows) ([]model.TicketItem, error) {
	items := []model.TicketItem{}
	for rows.Next() {
		var it model.TicketItem
		var addedAt int64
		if err := rows.Scan(
			&it.ID, &it.TicketID, &it.Position, &it.SKU, &it.Name, &it.Qty, &it.Price,
			&it.LineTotal, &addedAt, &it.BasePrice, &it.VariantKey,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.AddedAt = fromMillis(addedAt)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}
