package devremote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/till/internal/remote"
)

// Event is one accepted ingestion call.
type Event struct {
	Action string          `json:"action"`
	At     time.Time       `json:"at"`
	Body   json.RawMessage `json:"body"`
}

// book is one tenant's remote state.
type book struct {
	events   []Event
	snapshot []remote.SnapshotTicket
	shifts   map[string]remote.ShiftRecord
	entries  map[string][]remote.LedgerEntry
	current  string
	sales    map[string]remote.TicketRecord
	voids    map[string]remote.VoidRecord
	pages    []remote.Page
}

func newBook() *book {
	return &book{
		snapshot: []remote.SnapshotTicket{},
		shifts:   map[string]remote.ShiftRecord{},
		entries:  map[string][]remote.LedgerEntry{},
		sales:    map[string]remote.TicketRecord{},
		voids:    map[string]remote.VoidRecord{},
	}
}

// apply folds one ingestion call into the book.
func (b *book) apply(action string, body []byte) error {
	switch action {
	case remote.ActionRecordTicket:
		var rec remote.TicketRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return err
		}
		if rec.TicketID == "" {
			return fmt.Errorf("ticketId is required")
		}
		if rec.Type == remote.TicketVoid {
			b.applyCorrection(rec)
			return nil
		}
		b.sales[rec.TicketID] = rec

	case remote.ActionRecordShift:
		var rec remote.ShiftRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return err
		}
		if rec.ShiftID == "" {
			return fmt.Errorf("shiftId is required")
		}
		b.applyShift(rec)

	case remote.ActionRecordVoid:
		var rec remote.VoidRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return err
		}
		b.voids[rec.RequestID] = rec

	case remote.ActionSaveOpenTicketsSnapshot:
		var snap remote.Snapshot
		if err := json.Unmarshal(body, &snap); err != nil {
			return err
		}
		if snap.Tickets == nil {
			snap.Tickets = []remote.SnapshotTicket{}
		}
		b.snapshot = snap.Tickets

	case remote.ActionPageUser:
		var p remote.Page
		if err := json.Unmarshal(body, &p); err != nil {
			return err
		}
		b.pages = append(b.pages, p)

	default:
		return fmt.Errorf("unknown action %q", action)
	}
	return nil
}

func (b *book) applyShift(rec remote.ShiftRecord) {
	prev, known := b.shifts[rec.ShiftID]
	switch rec.Event {
	case remote.ShiftEventOpen:
		b.shifts[rec.ShiftID] = rec
		b.current = rec.ShiftID
	case remote.ShiftEventClose:
		b.shifts[rec.ShiftID] = rec
		if b.current == rec.ShiftID {
			b.current = ""
		}
	case remote.ShiftEventFloat, remote.ShiftEventPettyFloat:
		if !known {
			prev = rec
		}
		prev.OpeningFloat = rec.OpeningFloat
		prev.OpeningPetty = rec.OpeningPetty
		b.shifts[rec.ShiftID] = prev
	case remote.ShiftEventCash, remote.ShiftEventPetty:
		if rec.Entry != nil {
			b.entries[rec.ShiftID] = append(b.entries[rec.ShiftID], *rec.Entry)
		}
		if !known {
			b.shifts[rec.ShiftID] = rec
		}
	default:
		b.shifts[rec.ShiftID] = rec
	}
}

// applyCorrection subtracts a void correction's lines from the recorded
// sale. Line quantities on a correction are negative.
func (b *book) applyCorrection(rec remote.TicketRecord) {
	sale, ok := b.sales[rec.TicketID]
	if !ok {
		return
	}
	for _, c := range rec.Items {
		for i := range sale.Items {
			if sale.Items[i].Name == c.Name && sale.Items[i].SKU == c.SKU {
				sale.Items[i].Qty += c.Qty
				sale.Items[i].LineTotal += c.LineTotal
				break
			}
		}
	}
	sale.Subtotal += rec.Subtotal
	sale.TaxAmount += rec.TaxAmount
	sale.Total += rec.Total
	b.sales[rec.TicketID] = sale
}

// currentShift returns the open shift record, or nil.
func (b *book) currentShift() *remote.ShiftRecord {
	if b.current == "" {
		return nil
	}
	rec := b.shifts[b.current]
	return &rec
}

// summary settles a shift from its close record when there is one, and
// from recorded sales otherwise.
func (b *book) summary(shiftID string) map[string]any {
	rec, ok := b.shifts[shiftID]
	if !ok {
		return nil
	}
	if rec.Event == remote.ShiftEventClose {
		return map[string]any{
			"shiftId":        rec.ShiftID,
			"openedAt":       rec.OpenedAt,
			"closedAt":       rec.ClosedAt,
			"cashSales":      rec.CashSales,
			"cardSales":      rec.CardSales,
			"promptPaySales": rec.PromptPaySales,
			"totalSales":     rec.TotalSales,
			"ticketsCount":   rec.TicketsCount,
			"itemsSold":      rec.ItemsSold,
		}
	}

	var cash, card, prompt float64
	count := 0
	sold := map[string]int{}
	for _, s := range b.sales {
		if s.ShiftID != shiftID {
			continue
		}
		count++
		switch s.PayMethod {
		case "cash":
			cash += s.Total
		case "card":
			card += s.Total
		default:
			prompt += s.Total
		}
		for _, it := range s.Items {
			if it.Qty > 0 {
				sold[it.Name] += it.Qty
			}
		}
	}
	return map[string]any{
		"shiftId":        rec.ShiftID,
		"openedAt":       rec.OpenedAt,
		"cashSales":      cash,
		"cardSales":      card,
		"promptPaySales": prompt,
		"totalSales":     cash + card + prompt,
		"ticketsCount":   count,
		"itemsSold":      sold,
	}
}
