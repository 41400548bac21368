package remote

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/till/internal/model"
)

var decodeNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// parseBody decodes s the way the HTTP client does.
func parseBody(t *testing.T, s string) any {
	t.Helper()
	var body any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&body))
	return body
}

func TestDecodeOpenTickets(t *testing.T) {
	body := parseBody(t, `{
		"ok": true,
		"data": {
			"tickets": [
				{
					"ticketId": "012-001",
					"openedBy": "amy",
					"openedAt": 1773478800000,
					"covers": "2",
					"taxRate": "7",
					"items": [
						{"name": "Latte", "qty": 2, "price": "3.50", "options": ["Oat milk", "Large"]},
						{"name": "Ghost", "qty": 0, "price": 1},
						{"qty": 1, "price": 1},
						{"id": "line-9", "name": "Scone", "quantity": "1", "unitPrice": 2.25, "lineTotal": 2, "basePrice": 2.5}
					]
				},
				{"name": "no id"},
				"not an object",
				{"id": "012-002", "name": "Bar 2", "created_at": "2026-03-14T10:00:00Z", "covers": 0, "notes": ""},
				{"ticketId": "012-001", "openedBy": "bo", "openedAt": 1773478800000}
			]
		}
	}`)

	got := DecodeOpenTickets(body, decodeNow)
	require.Len(t, got, 2)

	// The later duplicate of 012-001 replaced the first, in place.
	first := got[0]
	assert.Equal(t, "012-001", first.Ticket.ID)
	assert.Equal(t, "bo", first.Ticket.OpenedBy)
	assert.Equal(t, "001", first.Ticket.Name)
	assert.Equal(t, model.TicketOpen, first.Ticket.Status)
	assert.Empty(t, first.Items)

	second := got[1]
	assert.Equal(t, "012-002", second.Ticket.ID)
	assert.Equal(t, "Bar 2", second.Ticket.Name)
	assert.Nil(t, second.Ticket.Covers)
	assert.Nil(t, second.Ticket.Notes)
	assert.False(t, second.Ticket.TaxRate.Valid)
	assert.Equal(t, time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), second.Ticket.OpenedAt)
}

func TestDecodeOpenTickets_Items(t *testing.T) {
	body := parseBody(t, `[{
		"ticketId": "012-001",
		"openedAt": "2026-03-14T09:00:00Z",
		"covers": 2,
		"taxRate": 7,
		"items": [
			{"name": "Latte", "qty": 2, "price": "3.50", "options": ["Oat milk", "Large"]},
			{"name": "Ghost", "qty": 0, "price": 1},
			{"qty": 1, "price": 1},
			{"id": "line-9", "name": "Scone", "quantity": "1", "unitPrice": 2.25, "lineTotal": 2, "basePrice": 2.5}
		]
	}]`)

	got := DecodeOpenTickets(body, decodeNow)
	require.Len(t, got, 1)
	tk := got[0].Ticket
	require.NotNil(t, tk.Covers)
	assert.Equal(t, 2, *tk.Covers)
	assert.True(t, tk.TaxRate.Valid)
	assert.Equal(t, "7", tk.TaxRate.Decimal.String())

	items := got[0].Items
	require.Len(t, items, 2, "zero-qty and nameless lines are dropped")

	latte := items[0]
	assert.Equal(t, "Latte", latte.Name)
	assert.Equal(t, 2, latte.Qty)
	assert.Equal(t, "7", latte.LineTotal.String(), "line total derives from qty x price")
	assert.Equal(t, "large+oat-milk", latte.VariantKey)
	assert.NotEmpty(t, latte.ID, "missing line ids are generated")
	assert.Equal(t, "012-001", latte.TicketID)

	scone := items[1]
	assert.Equal(t, "line-9", scone.ID)
	assert.Equal(t, 1, scone.Qty)
	assert.Equal(t, "2.25", scone.Price.String())
	assert.Equal(t, "2", scone.LineTotal.String(), "explicit line total wins")
	assert.True(t, scone.BasePrice.Valid)
}

func TestDecodeOpenTickets_EmptyShapes(t *testing.T) {
	for _, s := range []string{`null`, `{}`, `{"ok":true}`, `[]`, `{"tickets":null}`} {
		assert.Empty(t, DecodeOpenTickets(parseBody(t, s), decodeNow), s)
	}
}

func TestDecodeShift(t *testing.T) {
	body := parseBody(t, `{"ok": true, "shift": {
		"id": "12",
		"openedAt": 1773478800,
		"openedBy": "amy",
		"openingFloat": "100.00",
		"openingPetty": 20,
		"itemsSold": "{\"Latte\": 2, \"Scone\": \"3\", \"Bad\": 0}"
	}}`)

	sh := DecodeShift(body, decodeNow)
	require.NotNil(t, sh)
	assert.Equal(t, "012", sh.ID)
	assert.Equal(t, model.ShiftOpen, sh.Status)
	assert.Equal(t, int64(1773478800000), sh.OpenedAt.UnixMilli())
	assert.Equal(t, "100", sh.OpeningFloat.String())
	assert.Equal(t, "20", sh.OpeningPetty.String())
	assert.Equal(t, map[string]int{"Latte": 2, "Scone": 3}, sh.ItemsSold)
	assert.Nil(t, sh.ClosedAt)
	assert.False(t, sh.ClosingFloat.Valid)
}

func TestDecodeShift_ClosedWithoutStatus(t *testing.T) {
	body := parseBody(t, `{"shiftId": "007", "openedAt": "2026-03-14T09:00:00Z", "closedAt": "2026-03-14T17:30:00Z", "closingFloat": 107.35}`)

	sh := DecodeShift(body, decodeNow)
	require.NotNil(t, sh)
	assert.Equal(t, model.ShiftClosed, sh.Status)
	require.NotNil(t, sh.ClosedAt)
	assert.True(t, sh.ClosingFloat.Valid)
	assert.Equal(t, "107.35", sh.ClosingFloat.Decimal.String())
}

func TestDecodeShift_None(t *testing.T) {
	for _, s := range []string{`null`, `{"ok": true, "shift": null}`, `{"ok": true}`, `{"data": null}`, `{"shift": {"status": "open"}}`, `[]`} {
		assert.Nil(t, DecodeShift(parseBody(t, s), decodeNow), s)
	}
}

func TestDecodeSummary(t *testing.T) {
	body := parseBody(t, `{"data": {"summary": {
		"cashSales": "7.35",
		"cardSales": 12.6,
		"ticketsCount": 2,
		"itemsSold": [{"name": "Latte", "qty": 2}, {"name": "Scone", "qty": 1}, {"name": "Scone", "qty": 2}],
		"closedAt": "2026-03-14T17:30:00Z"
	}}}`)

	s := DecodeSummary(body, "12", decodeNow)
	require.NotNil(t, s)
	assert.Equal(t, "012", s.ShiftID, "falls back to the requested shift id")
	assert.Equal(t, "19.95", s.TotalSales.String())
	assert.Equal(t, 2, s.TicketsCount)
	assert.Equal(t, map[string]int{"Latte": 2, "Scone": 3}, s.ItemsSold)
	assert.Equal(t, 5, s.TotalItems)
	assert.True(t, decodeNow.Equal(s.OpenedAt), "missing openedAt falls back to now")
}

func TestDecodeSummary_ExplicitTotals(t *testing.T) {
	body := parseBody(t, `{"shiftId": "012", "cash": 1, "totalSales": 50, "totalItems": 9}`)

	s := DecodeSummary(body, "999", decodeNow)
	require.NotNil(t, s)
	assert.Equal(t, "012", s.ShiftID)
	assert.Equal(t, "50", s.TotalSales.String())
	assert.Equal(t, 9, s.TotalItems)
}

func TestDecodeSummary_None(t *testing.T) {
	assert.Nil(t, DecodeSummary(parseBody(t, `{"ok": true}`), "012", decodeNow))
	assert.Nil(t, DecodeSummary(parseBody(t, `{"summary": null}`), "012", decodeNow))
}
