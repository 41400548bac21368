package remote

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/till/internal/ids"
	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/sequence"
)

// OpenTicket is a remote open ticket with its lines, normalized.
type OpenTicket struct {
	Ticket model.Ticket
	Items  []model.TicketItem
}

// DecodeOpenTickets normalizes a listOpenTickets response. Entries without
// an identifier are skipped; duplicates keep the last occurrence.
func DecodeOpenTickets(body any, now time.Time) []OpenTicket {
	raw := List(body, "tickets", "openTickets", "items", "data")
	out := make([]OpenTicket, 0, len(raw))
	index := map[string]int{}
	for _, r := range raw {
		m, ok := Object(r)
		if !ok {
			continue
		}
		ot, ok := decodeTicket(m, now)
		if !ok {
			continue
		}
		if i, dup := index[ot.Ticket.ID]; dup {
			out[i] = ot
			continue
		}
		index[ot.Ticket.ID] = len(out)
		out = append(out, ot)
	}
	return out
}

func decodeTicket(m map[string]any, now time.Time) (OpenTicket, bool) {
	id := String(Field(m, "ticketId", "id", "ticket_id", "_id"))
	if id == "" {
		return OpenTicket{}, false
	}
	t := model.Ticket{
		ID:       id,
		Name:     String(Field(m, "name", "label", "ticketName")),
		OpenedBy: String(Field(m, "openedBy", "opened_by", "staff", "createdBy")),
		OpenedAt: Time(Field(m, "openedAt", "opened_at", "createdAt", "created_at"), now),
		Status:   model.TicketOpen,
		Covers:   positiveInt(Field(m, "covers", "guests", "pax")),
		Notes:    nonEmpty(Field(m, "notes", "note")),
	}
	if t.Name == "" {
		if i := strings.LastIndex(id, "-"); i >= 0 {
			t.Name = id[i+1:]
		} else {
			t.Name = id
		}
	}
	if rate, ok := Number(Field(m, "taxRate", "tax_rate", "tax")); ok {
		t.TaxRate = decimal.NewNullDecimal(rate)
	}

	var items []model.TicketItem
	for _, r := range List(Field(m, "items", "lines", "cart"), "items", "lines") {
		im, ok := Object(r)
		if !ok {
			continue
		}
		if it, ok := decodeItem(im, id, now); ok {
			items = append(items, it)
		}
	}
	return OpenTicket{Ticket: t, Items: items}, true
}

func decodeItem(m map[string]any, ticketID string, now time.Time) (model.TicketItem, bool) {
	name := String(Field(m, "name", "title", "itemName", "productName"))
	qty, _ := Int(Field(m, "qty", "quantity", "count"))
	if name == "" || qty <= 0 {
		return model.TicketItem{}, false
	}
	price := NumberOr(Field(m, "price", "unitPrice", "unit_price"))
	it := model.TicketItem{
		ID:       String(Field(m, "id", "itemId", "lineId")),
		TicketID: ticketID,
		SKU:      String(Field(m, "sku", "productId", "product_id", "code")),
		Name:     name,
		Qty:      qty,
		Price:    price,
		AddedAt:  Time(Field(m, "addedAt", "added_at", "createdAt"), now),
	}
	if it.ID == "" {
		it.ID = ids.RowID()
	}
	if lt, ok := Number(Field(m, "lineTotal", "line_total", "total", "amount")); ok {
		it.LineTotal = model.Round2(lt)
	} else {
		it.LineTotal = model.LineTotal(qty, price)
	}
	if bp, ok := Number(Field(m, "basePrice", "base_price")); ok {
		it.BasePrice = decimal.NewNullDecimal(bp)
	}
	it.VariantKey = String(Field(m, "variantKey", "variant_key"))
	if it.VariantKey == "" {
		var opts []string
		for _, o := range List(Field(m, "options", "modifiers")) {
			if s := optionLabel(o); s != "" {
				opts = append(opts, s)
			}
		}
		it.VariantKey = model.VariantKey(opts)
	}
	return it, true
}

func optionLabel(v any) string {
	if m, ok := Object(v); ok {
		return String(Field(m, "label", "name", "value"))
	}
	return String(v)
}

// DecodeShift normalizes a getCurrentShift response. Returns nil when the
// remote reports no current shift.
func DecodeShift(body any, now time.Time) *model.Shift {
	m, ok := unwrapObject(body, []string{"shift", "currentShift"}, shiftMarkers)
	if !ok {
		return nil
	}
	id := String(Field(m, "shiftId", "id", "shift_id"))
	if id == "" {
		return nil
	}
	sh := model.Shift{
		ID:             sequence.NormalizeShiftID(id),
		OpenedAt:       Time(Field(m, "openedAt", "opened_at", "startedAt", "createdAt"), now),
		ClosedAt:       OptTime(Field(m, "closedAt", "closed_at", "endedAt")),
		OpenedBy:       String(Field(m, "openedBy", "opened_by")),
		ClosedBy:       String(Field(m, "closedBy", "closed_by")),
		Status:         shiftStatus(Field(m, "status", "state")),
		CashSales:      NumberOr(Field(m, "cashSales", "cash_sales", "cash")),
		CardSales:      NumberOr(Field(m, "cardSales", "card_sales", "card")),
		PromptPaySales: NumberOr(Field(m, "promptPaySales", "prompt_pay_sales", "promptpay", "qrSales")),
		ItemsSold:      itemsSold(Field(m, "itemsSold", "itemsSoldJson", "items_sold")),
		OpeningFloat:   NumberOr(Field(m, "openingFloat", "opening_float", "startingFloat")),
		ClosingFloat:   nullNumber(Field(m, "closingFloat", "closing_float")),
		FloatWithdrawn: nullNumber(Field(m, "floatWithdrawn", "float_withdrawn")),
		OpeningPetty:   NumberOr(Field(m, "openingPetty", "opening_petty", "startingPetty")),
		ClosingPetty:   nullNumber(Field(m, "closingPetty", "closing_petty")),
		Notes:          String(Field(m, "notes", "note")),
	}
	sh.TicketsCount, _ = Int(Field(m, "ticketsCount", "tickets_count", "ticketCount", "tickets"))
	if sh.ClosedAt != nil && Field(m, "status", "state") == nil {
		sh.Status = model.ShiftClosed
	}
	return &sh
}

// DecodeSummary normalizes a shiftSummary response. Returns nil when the
// response carries no summary.
func DecodeSummary(body any, shiftID string, now time.Time) *model.ShiftSummary {
	m, ok := unwrapObject(body, []string{"summary", "shift"}, summaryMarkers)
	if !ok {
		return nil
	}
	s := model.ShiftSummary{
		ShiftID:        sequence.NormalizeShiftID(String(Field(m, "shiftId", "id"))),
		OpenedAt:       Time(Field(m, "openedAt", "opened_at"), now),
		ClosedAt:       Time(Field(m, "closedAt", "closed_at"), now),
		CashSales:      NumberOr(Field(m, "cashSales", "cash")),
		CardSales:      NumberOr(Field(m, "cardSales", "card")),
		PromptPaySales: NumberOr(Field(m, "promptPaySales", "promptpay", "qrSales")),
		ItemsSold:      itemsSold(Field(m, "itemsSold", "itemsSoldJson")),
	}
	if s.ShiftID == "" {
		s.ShiftID = sequence.NormalizeShiftID(shiftID)
	}
	s.TicketsCount, _ = Int(Field(m, "ticketsCount", "ticketCount", "tickets"))
	if total, ok := Number(Field(m, "totalSales", "total")); ok {
		s.TotalSales = total
	} else {
		s.TotalSales = s.CashSales.Add(s.CardSales).Add(s.PromptPaySales)
	}
	for _, n := range s.ItemsSold {
		s.TotalItems += n
	}
	if n, ok := Int(Field(m, "totalItems")); ok {
		s.TotalItems = n
	}
	return &s
}

var (
	shiftMarkers   = []string{"shiftId", "id", "shift_id"}
	summaryMarkers = []string{"shiftId", "id", "cashSales", "cash", "totalSales", "ticketsCount", "itemsSold"}
)

// unwrapObject finds the payload object under one of keys or "data", or
// accepts body itself when it carries one of markers.
func unwrapObject(body any, keys, markers []string) (map[string]any, bool) {
	m, ok := Object(body)
	if !ok {
		return nil, false
	}
	for _, k := range append(append([]string{}, keys...), "data") {
		if inner, present := m[k]; present {
			if inner == nil {
				return nil, false
			}
			if im, ok := Object(inner); ok {
				return unwrapObject(im, keys, markers)
			}
			return nil, false
		}
	}
	if Field(m, markers...) == nil {
		return nil, false
	}
	return m, true
}

func shiftStatus(v any) model.ShiftStatus {
	switch strings.ToLower(String(v)) {
	case "closed", "ended", "done", "complete", "completed":
		return model.ShiftClosed
	}
	return model.ShiftOpen
}

func itemsSold(v any) map[string]int {
	out := map[string]int{}
	if s, ok := v.(string); ok {
		var decoded any
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		if dec.Decode(&decoded) != nil {
			return out
		}
		v = decoded
	}
	switch t := v.(type) {
	case map[string]any:
		for name, q := range t {
			if n, ok := Int(q); ok && n > 0 && strings.TrimSpace(name) != "" {
				out[strings.TrimSpace(name)] = n
			}
		}
	case []any:
		for _, e := range t {
			if m, ok := Object(e); ok {
				name := String(Field(m, "name", "item"))
				n, ok := Int(Field(m, "qty", "quantity", "count"))
				if name != "" && ok && n > 0 {
					out[name] += n
				}
			}
		}
	}
	return out
}

func positiveInt(v any) *int {
	n, ok := Int(v)
	if !ok || n <= 0 {
		return nil
	}
	return &n
}

func nonEmpty(v any) *string {
	s := String(v)
	if s == "" {
		return nil
	}
	return &s
}

func nullNumber(v any) decimal.NullDecimal {
	d, ok := Number(v)
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
