package remote

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/till/internal/model"
)

// Ingestion actions.
const (
	ActionRecordTicket            = "recordTicket"
	ActionRecordShift             = "recordShift"
	ActionRecordVoid              = "recordVoid"
	ActionSaveOpenTicketsSnapshot = "saveOpenTicketsSnapshot"
	ActionPageUser                = "pageUser"
)

// Read actions.
const (
	ActionListOpenTickets = "listOpenTickets"
	ActionGetCurrentShift = "getCurrentShift"
	ActionShiftSummary    = "shiftSummary"
)

// Ticket record types.
const (
	TicketSale = "sale"
	TicketVoid = "void"
)

// Shift record events.
const (
	ShiftEventOpen       = "open"
	ShiftEventClose      = "close"
	ShiftEventFloat      = "float"
	ShiftEventPettyFloat = "pettyFloat"
	ShiftEventCash       = "cashAdjustment"
	ShiftEventPetty      = "pettyCash"
)

// Void record events.
const (
	VoidEventRequested = "requested"
	VoidEventApproved  = "approved"
	VoidEventRejected  = "rejected"
)

// LineItem is one ticket line as sent to the remote.
type LineItem struct {
	SKU        string   `json:"sku,omitempty"`
	Name       string   `json:"name"`
	Qty        int      `json:"qty"`
	Price      float64  `json:"price"`
	LineTotal  float64  `json:"lineTotal"`
	BasePrice  *float64 `json:"basePrice,omitempty"`
	VariantKey string   `json:"variantKey,omitempty"`
}

// TicketRecord is the recordTicket payload: a settled sale, or a void
// correction whose lines carry negative quantities.
type TicketRecord struct {
	Type          string     `json:"type"`
	TicketID      string     `json:"ticketId"`
	ShiftID       string     `json:"shiftId"`
	Name          string     `json:"name"`
	OpenedBy      string     `json:"openedBy"`
	OpenedAt      int64      `json:"openedAt"`
	ClosedBy      string     `json:"closedBy,omitempty"`
	ClosedAt      int64      `json:"closedAt,omitempty"`
	Covers        *int       `json:"covers,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	PayMethod     string     `json:"payMethod,omitempty"`
	Subtotal      float64    `json:"subtotal"`
	TaxRate       float64    `json:"taxRate"`
	TaxAmount     float64    `json:"taxAmount"`
	Total         float64    `json:"total"`
	Tendered      float64    `json:"tendered,omitempty"`
	Change        float64    `json:"change,omitempty"`
	VoidRequestID string     `json:"voidRequestId,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	ApprovedBy    string     `json:"approvedBy,omitempty"`
	Items         []LineItem `json:"items"`
}

// LedgerEntry is a cash or petty-cash movement attached to a recordShift
// payload.
type LedgerEntry struct {
	Kind        string  `json:"kind"`
	Type        string  `json:"type,omitempty"`
	Category    string  `json:"category,omitempty"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
	Balance     float64 `json:"balance"`
}

// ShiftMeta carries metrics derived at shift close.
type ShiftMeta struct {
	AvgTicket     float64 `json:"avgTicket"`
	TotalItems    int     `json:"totalItems"`
	NetCash       float64 `json:"netCash"`
	NetPetty      float64 `json:"netPetty"`
	ApprovedVoids int     `json:"approvedVoids"`
}

// ShiftRecord is the recordShift payload.
type ShiftRecord struct {
	Event          string         `json:"event"`
	ShiftID        string         `json:"shiftId"`
	Status         string         `json:"status"`
	OpenedAt       int64          `json:"openedAt"`
	OpenedBy       string         `json:"openedBy"`
	ClosedAt       int64          `json:"closedAt,omitempty"`
	ClosedBy       string         `json:"closedBy,omitempty"`
	CashSales      float64        `json:"cashSales"`
	CardSales      float64        `json:"cardSales"`
	PromptPaySales float64        `json:"promptPaySales"`
	TotalSales     float64        `json:"totalSales"`
	TicketsCount   int            `json:"ticketsCount"`
	ItemsSold      map[string]int `json:"itemsSold,omitempty"`
	OpeningFloat   float64        `json:"openingFloat"`
	ClosingFloat   *float64       `json:"closingFloat,omitempty"`
	FloatWithdrawn *float64       `json:"floatWithdrawn,omitempty"`
	OpeningPetty   float64        `json:"openingPetty"`
	ClosingPetty   *float64       `json:"closingPetty,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	Entry          *LedgerEntry   `json:"entry,omitempty"`
	Meta           *ShiftMeta     `json:"meta,omitempty"`
}

// VoidRecord is the recordVoid payload.
type VoidRecord struct {
	Event        string `json:"event"`
	RequestID    string `json:"requestId"`
	TicketID     string `json:"ticketId"`
	ShiftID      string `json:"shiftId"`
	ItemName     string `json:"itemName"`
	ItemSKU      string `json:"itemSku,omitempty"`
	Qty          int    `json:"qty"`
	ApproverID   string `json:"approverId"`
	RequestedBy  string `json:"requestedBy"`
	Reason       string `json:"reason"`
	Status       string `json:"status"`
	CreatedAt    int64  `json:"createdAt"`
	DecidedBy    string `json:"decidedBy,omitempty"`
	DecidedAt    int64  `json:"decidedAt,omitempty"`
	DecisionNote string `json:"decisionNote,omitempty"`
}

// Page is the pageUser payload.
type Page struct {
	User    string `json:"user"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	RefType string `json:"refType,omitempty"`
	RefID   string `json:"refId,omitempty"`
}

// SnapshotTicket is one open ticket in a saveOpenTicketsSnapshot payload.
type SnapshotTicket struct {
	TicketID string     `json:"ticketId"`
	Name     string     `json:"name"`
	OpenedBy string     `json:"openedBy"`
	OpenedAt int64      `json:"openedAt"`
	Covers   *int       `json:"covers,omitempty"`
	Notes    *string    `json:"notes,omitempty"`
	TaxRate  *float64   `json:"taxRate,omitempty"`
	Items    []LineItem `json:"items"`
}

// Snapshot is the saveOpenTicketsSnapshot payload: the full set of open
// tickets, overwriting the remote's copy.
type Snapshot struct {
	Tickets []SnapshotTicket `json:"tickets"`
	TakenAt int64            `json:"takenAt"`
}

// LineItems converts ticket lines for the wire.
func LineItems(items []model.TicketItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, LineItem{
			SKU:        it.SKU,
			Name:       it.Name,
			Qty:        it.Qty,
			Price:      model.Float(it.Price),
			LineTotal:  model.Float(it.LineTotal),
			BasePrice:  optFloat(it.BasePrice),
			VariantKey: it.VariantKey,
		})
	}
	return out
}

// SaleRecord builds the recordTicket payload for a paid ticket.
func SaleRecord(t model.Ticket, items []model.TicketItem) TicketRecord {
	rec := TicketRecord{
		Type:      TicketSale,
		TicketID:  t.ID,
		ShiftID:   t.ShiftID(),
		Name:      t.Name,
		OpenedBy:  t.OpenedBy,
		OpenedAt:  t.OpenedAt.UnixMilli(),
		ClosedBy:  t.ClosedBy,
		Covers:    t.Covers,
		Notes:     t.Notes,
		PayMethod: string(t.PayMethod),
		Subtotal:  model.Float(t.Subtotal),
		TaxRate:   model.Float(t.TaxRate.Decimal),
		TaxAmount: model.Float(t.TaxAmount),
		Total:     model.Float(t.Total),
		Tendered:  model.Float(t.Tendered),
		Change:    model.Float(t.Change),
		Items:     LineItems(items),
	}
	if t.ClosedAt != nil {
		rec.ClosedAt = t.ClosedAt.UnixMilli()
	}
	return rec
}

// VoidCorrection builds the recordTicket payload for an approved void that
// removed qty units of line from the ticket. Quantities and amounts are
// negative.
func VoidCorrection(t model.Ticket, v model.VoidRequest, line model.TicketItem, qty int) TicketRecord {
	removed := model.LineTotal(qty, line.Price)
	tax := decimal.Zero
	if t.TaxRate.Valid {
		tax = model.Percent(removed, t.TaxRate.Decimal)
	}
	return TicketRecord{
		Type:          TicketVoid,
		TicketID:      t.ID,
		ShiftID:       t.ShiftID(),
		Name:          t.Name,
		OpenedBy:      t.OpenedBy,
		OpenedAt:      t.OpenedAt.UnixMilli(),
		Subtotal:      model.Float(removed.Neg()),
		TaxRate:       model.Float(t.TaxRate.Decimal),
		TaxAmount:     model.Float(tax.Neg()),
		Total:         model.Float(removed.Add(tax).Neg()),
		VoidRequestID: v.ID,
		Reason:        v.Reason,
		ApprovedBy:    v.DecidedBy,
		Items: []LineItem{{
			SKU:        line.SKU,
			Name:       line.Name,
			Qty:        -qty,
			Price:      model.Float(line.Price),
			LineTotal:  model.Float(removed.Neg()),
			BasePrice:  optFloat(line.BasePrice),
			VariantKey: line.VariantKey,
		}},
	}
}

// SnapshotOf builds the saveOpenTicketsSnapshot payload.
func SnapshotOf(tickets []model.Ticket, items map[string][]model.TicketItem, takenAt time.Time) Snapshot {
	out := Snapshot{Tickets: make([]SnapshotTicket, 0, len(tickets)), TakenAt: takenAt.UnixMilli()}
	for _, t := range tickets {
		out.Tickets = append(out.Tickets, SnapshotTicket{
			TicketID: t.ID,
			Name:     t.Name,
			OpenedBy: t.OpenedBy,
			OpenedAt: t.OpenedAt.UnixMilli(),
			Covers:   t.Covers,
			Notes:    t.Notes,
			TaxRate:  optFloat(t.TaxRate),
			Items:    LineItems(items[t.ID]),
		})
	}
	return out
}

// ShiftPayload builds a recordShift payload from the shift row.
func ShiftPayload(event string, sh model.Shift) ShiftRecord {
	rec := ShiftRecord{
		Event:          event,
		ShiftID:        sh.ID,
		Status:         string(sh.Status),
		OpenedAt:       sh.OpenedAt.UnixMilli(),
		OpenedBy:       sh.OpenedBy,
		ClosedBy:       sh.ClosedBy,
		CashSales:      model.Float(sh.CashSales),
		CardSales:      model.Float(sh.CardSales),
		PromptPaySales: model.Float(sh.PromptPaySales),
		TotalSales:     model.Float(sh.CashSales.Add(sh.CardSales).Add(sh.PromptPaySales)),
		TicketsCount:   sh.TicketsCount,
		ItemsSold:      sh.ItemsSold,
		OpeningFloat:   model.Float(sh.OpeningFloat),
		ClosingFloat:   optFloat(sh.ClosingFloat),
		FloatWithdrawn: optFloat(sh.FloatWithdrawn),
		OpeningPetty:   model.Float(sh.OpeningPetty),
		ClosingPetty:   optFloat(sh.ClosingPetty),
		Notes:          sh.Notes,
	}
	if len(rec.ItemsSold) == 0 {
		rec.ItemsSold = nil
	}
	if sh.ClosedAt != nil {
		rec.ClosedAt = sh.ClosedAt.UnixMilli()
	}
	return rec
}

// VoidPayload builds a recordVoid payload.
func VoidPayload(event string, v model.VoidRequest) VoidRecord {
	rec := VoidRecord{
		Event:        event,
		RequestID:    v.ID,
		TicketID:     v.TicketID,
		ShiftID:      model.ShiftIDOf(v.TicketID),
		ItemName:     v.ItemName,
		ItemSKU:      v.ItemSKU,
		Qty:          v.RequestedQty,
		ApproverID:   v.ApproverID,
		RequestedBy:  v.RequestedBy,
		Reason:       v.Reason,
		Status:       string(v.Status),
		CreatedAt:    v.CreatedAt.UnixMilli(),
		DecidedBy:    v.DecidedBy,
		DecisionNote: v.DecisionNote,
	}
	if v.DecidedAt != nil {
		rec.DecidedAt = v.DecidedAt.UnixMilli()
	}
	return rec
}

func optFloat(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := model.Float(d.Decimal)
	return &f
}
