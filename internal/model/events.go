package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Action names an Event variant. It is the discriminator stored in the
// audit log's action column.
type Action string

const (
	ActionShiftOpened          Action = "shiftOpened"
	ActionShiftClosed          Action = "shiftClosed"
	ActionShiftSynced          Action = "shiftSynced"
	ActionTicketOpened         Action = "ticketOpened"
	ActionTicketDetailsUpdated Action = "ticketDetailsUpdated"
	ActionCartItemSaved        Action = "cartItemSaved"
	ActionCartCleared          Action = "cartCleared"
	ActionTicketPaid           Action = "ticketPaid"
	ActionTicketsSynced        Action = "ticketsSynced"
	ActionVoidRequested        Action = "voidRequested"
	ActionVoidCartAdjusted     Action = "voidCartAdjusted"
	ActionVoidApproved         Action = "voidApproved"
	ActionVoidRejected         Action = "voidRejected"
	ActionFloatSet             Action = "floatSet"
	ActionPettyFloatSet        Action = "pettyFloatSet"
	ActionCashAdjustment       Action = "cashAdjustment"
	ActionPettyCash            Action = "pettyCash"
)

// Entity kinds recorded in the audit log.
const (
	EntityShift  = "shift"
	EntityTicket = "ticket"
	EntityVoid   = "void_request"
	EntityLedger = "ledger"
)

// Event is a sealed interface over the audit log variants.
// Only the types in this file implement it.
type Event interface {
	Action() Action
	Entity() (kind, id string)
	// Shift returns the shift the event is scoped to, or "" when unscoped.
	Shift() string
	event()
}

// ShiftOpened records a new shift.
type ShiftOpened struct {
	ShiftID  string    `json:"shiftId"`
	OpenedBy string    `json:"openedBy"`
	OpenedAt time.Time `json:"openedAt"`
}

// ShiftClosedEvent records the settlement of a shift.
type ShiftClosedEvent struct {
	ShiftID  string       `json:"shiftId"`
	ClosedBy string       `json:"closedBy"`
	Summary  ShiftSummary `json:"summary"`
}

// ShiftSynced records a shift snapshot pulled from the remote.
type ShiftSynced struct {
	ShiftID      string   `json:"shiftId"`
	RemoteStatus string   `json:"remoteStatus"`
	ClosedLocal  []string `json:"closedLocal,omitempty"`
}

// TicketOpened records a new ticket.
type TicketOpened struct {
	TicketID string          `json:"ticketId"`
	ShiftID  string          `json:"shiftId"`
	Covers   *int            `json:"covers"`
	Notes    *string         `json:"notes"`
	TaxRate  decimal.Decimal `json:"taxRate"`
}

// TicketDetailsUpdated records only the fields that changed.
type TicketDetailsUpdated struct {
	TicketID string   `json:"ticketId"`
	ShiftID  string   `json:"shiftId"`
	Fields   []string `json:"fields"`
	Covers   *int     `json:"covers,omitempty"`
	Notes    *string  `json:"notes,omitempty"`
}

// CartItemSaved records one inserted line of a cart replacement.
type CartItemSaved struct {
	TicketID string          `json:"ticketId"`
	ShiftID  string          `json:"shiftId"`
	SKU      string          `json:"sku,omitempty"`
	Name     string          `json:"name"`
	Qty      int             `json:"qty"`
	Price    decimal.Decimal `json:"price"`
}

// CartCleared records a cart replacement with no lines.
type CartCleared struct {
	TicketID string `json:"ticketId"`
	ShiftID  string `json:"shiftId"`
}

// TicketPaid records the close of a ticket.
type TicketPaid struct {
	TicketID  string          `json:"ticketId"`
	ShiftID   string          `json:"shiftId"`
	Method    PayMethod       `json:"method"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxRate   decimal.Decimal `json:"taxRate"`
	TaxAmount decimal.Decimal `json:"taxAmount"`
	Amount    decimal.Decimal `json:"amount"`
	Tendered  decimal.Decimal `json:"tendered"`
	Change    decimal.Decimal `json:"change"`
}

// TicketsSynced records a replacement of the open-ticket set from the remote.
type TicketsSynced struct {
	Removed int `json:"removed"`
	Tickets int `json:"tickets"`
	Items   int `json:"items"`
}

// VoidRequested records a new void request.
type VoidRequested struct {
	RequestID  string `json:"requestId"`
	TicketID   string `json:"ticketId"`
	ShiftID    string `json:"shiftId"`
	ItemName   string `json:"itemName"`
	ItemSKU    string `json:"itemSku,omitempty"`
	Qty        int    `json:"qty"`
	ApproverID string `json:"approverId"`
	Reason     string `json:"reason"`
}

// VoidCartAdjusted records the line-item mutation caused by an approval.
type VoidCartAdjusted struct {
	RequestID string `json:"requestId"`
	TicketID  string `json:"ticketId"`
	ShiftID   string `json:"shiftId"`
	ItemID    string `json:"itemId"`
	Name      string `json:"name"`
	FromQty   int    `json:"fromQty"`
	ToQty     int    `json:"toQty"`
	Removed   bool   `json:"removed"`
}

// VoidApprovedEvent records an approval decision.
type VoidApprovedEvent struct {
	RequestID string `json:"requestId"`
	TicketID  string `json:"ticketId"`
	ShiftID   string `json:"shiftId"`
	Applied   bool   `json:"applied"`
}

// VoidRejectedEvent records a rejection decision.
type VoidRejectedEvent struct {
	RequestID string `json:"requestId"`
	TicketID  string `json:"ticketId"`
	ShiftID   string `json:"shiftId"`
	Reason    string `json:"reason,omitempty"`
}

// FloatSet records the opening cash float of a shift.
type FloatSet struct {
	ShiftID string          `json:"shiftId"`
	Amount  decimal.Decimal `json:"amount"`
}

// PettyFloatSet records the opening petty-cash balance of a shift.
type PettyFloatSet struct {
	ShiftID string          `json:"shiftId"`
	Amount  decimal.Decimal `json:"amount"`
}

// Cash adjustment directions.
const (
	CashIn  = "in"
	CashOut = "out"
)

// CashAdjustment records cash added to or removed from the drawer.
// Amount is signed: negative for CashOut.
type CashAdjustment struct {
	ShiftID     string          `json:"shiftId"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// PettyCash records a petty-cash movement. Amount is signed.
type PettyCash struct {
	ShiftID     string          `json:"shiftId"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func (ShiftOpened) Action() Action          { return ActionShiftOpened }
func (ShiftClosedEvent) Action() Action     { return ActionShiftClosed }
func (ShiftSynced) Action() Action          { return ActionShiftSynced }
func (TicketOpened) Action() Action         { return ActionTicketOpened }
func (TicketDetailsUpdated) Action() Action { return ActionTicketDetailsUpdated }
func (CartItemSaved) Action() Action        { return ActionCartItemSaved }
func (CartCleared) Action() Action          { return ActionCartCleared }
func (TicketPaid) Action() Action           { return ActionTicketPaid }
func (TicketsSynced) Action() Action        { return ActionTicketsSynced }
func (VoidRequested) Action() Action        { return ActionVoidRequested }
func (VoidCartAdjusted) Action() Action     { return ActionVoidCartAdjusted }
func (VoidApprovedEvent) Action() Action    { return ActionVoidApproved }
func (VoidRejectedEvent) Action() Action    { return ActionVoidRejected }
func (FloatSet) Action() Action             { return ActionFloatSet }
func (PettyFloatSet) Action() Action        { return ActionPettyFloatSet }
func (CashAdjustment) Action() Action       { return ActionCashAdjustment }
func (PettyCash) Action() Action            { return ActionPettyCash }

func (e ShiftOpened) Entity() (string, string)          { return EntityShift, e.ShiftID }
func (e ShiftClosedEvent) Entity() (string, string)     { return EntityShift, e.ShiftID }
func (e ShiftSynced) Entity() (string, string)          { return EntityShift, e.ShiftID }
func (e TicketOpened) Entity() (string, string)         { return EntityTicket, e.TicketID }
func (e TicketDetailsUpdated) Entity() (string, string) { return EntityTicket, e.TicketID }
func (e CartItemSaved) Entity() (string, string)        { return EntityTicket, e.TicketID }
func (e CartCleared) Entity() (string, string)          { return EntityTicket, e.TicketID }
func (e TicketPaid) Entity() (string, string)           { return EntityTicket, e.TicketID }
func (e TicketsSynced) Entity() (string, string)        { return EntityTicket, "" }
func (e VoidRequested) Entity() (string, string)        { return EntityVoid, e.RequestID }
func (e VoidCartAdjusted) Entity() (string, string)     { return EntityTicket, e.TicketID }
func (e VoidApprovedEvent) Entity() (string, string)    { return EntityVoid, e.RequestID }
func (e VoidRejectedEvent) Entity() (string, string)    { return EntityVoid, e.RequestID }
func (e FloatSet) Entity() (string, string)             { return EntityLedger, e.ShiftID }
func (e PettyFloatSet) Entity() (string, string)        { return EntityLedger, e.ShiftID }
func (e CashAdjustment) Entity() (string, string)       { return EntityLedger, e.ShiftID }
func (e PettyCash) Entity() (string, string)            { return EntityLedger, e.ShiftID }

func (e ShiftOpened) Shift() string          { return e.ShiftID }
func (e ShiftClosedEvent) Shift() string     { return e.ShiftID }
func (e ShiftSynced) Shift() string          { return e.ShiftID }
func (e TicketOpened) Shift() string         { return e.ShiftID }
func (e TicketDetailsUpdated) Shift() string { return e.ShiftID }
func (e CartItemSaved) Shift() string        { return e.ShiftID }
func (e CartCleared) Shift() string          { return e.ShiftID }
func (e TicketPaid) Shift() string           { return e.ShiftID }
func (e TicketsSynced) Shift() string        { return "" }
func (e VoidRequested) Shift() string        { return e.ShiftID }
func (e VoidCartAdjusted) Shift() string     { return e.ShiftID }
func (e VoidApprovedEvent) Shift() string    { return e.ShiftID }
func (e VoidRejectedEvent) Shift() string    { return e.ShiftID }
func (e FloatSet) Shift() string             { return e.ShiftID }
func (e PettyFloatSet) Shift() string        { return e.ShiftID }
func (e CashAdjustment) Shift() string       { return e.ShiftID }
func (e PettyCash) Shift() string            { return e.ShiftID }

func (ShiftOpened) event()          {}
func (ShiftClosedEvent) event()     {}
func (ShiftSynced) event()          {}
func (TicketOpened) event()         {}
func (TicketDetailsUpdated) event() {}
func (CartItemSaved) event()        {}
func (CartCleared) event()          {}
func (TicketPaid) event()           {}
func (TicketsSynced) event()        {}
func (VoidRequested) event()        {}
func (VoidCartAdjusted) event()     {}
func (VoidApprovedEvent) event()    {}
func (VoidRejectedEvent) event()    {}
func (FloatSet) event()             {}
func (PettyFloatSet) event()        {}
func (CashAdjustment) event()       {}
func (PettyCash) event()            {}

// EncodeEvent serializes an event payload for the audit log's details column.
func EncodeEvent(ev Event) (string, error) {
	if ev == nil {
		return "", fmt.Errorf("encode event: nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode event %s: %w", ev.Action(), err)
	}
	return string(data), nil
}

// DecodeEvent reconstructs the variant named by action from its payload.
// Unknown actions are an error rather than a loosely typed fallback.
func DecodeEvent(action Action, details string) (Event, error) {
	var err error
	unmarshal := func(v any) {
		if details == "" {
			return
		}
		err = json.Unmarshal([]byte(details), v)
	}

	var ev Event
	switch action {
	case ActionShiftOpened:
		var v ShiftOpened
		unmarshal(&v)
		ev = v
	case ActionShiftClosed:
		var v ShiftClosedEvent
		unmarshal(&v)
		ev = v
	case ActionShiftSynced:
		var v ShiftSynced
		unmarshal(&v)
		ev = v
	case ActionTicketOpened:
		var v TicketOpened
		unmarshal(&v)
		ev = v
	case ActionTicketDetailsUpdated:
		var v TicketDetailsUpdated
		unmarshal(&v)
		ev = v
	case ActionCartItemSaved:
		var v CartItemSaved
		unmarshal(&v)
		ev = v
	case ActionCartCleared:
		var v CartCleared
		unmarshal(&v)
		ev = v
	case ActionTicketPaid:
		var v TicketPaid
		unmarshal(&v)
		ev = v
	case ActionTicketsSynced:
		var v TicketsSynced
		unmarshal(&v)
		ev = v
	case ActionVoidRequested:
		var v VoidRequested
		unmarshal(&v)
		ev = v
	case ActionVoidCartAdjusted:
		var v VoidCartAdjusted
		unmarshal(&v)
		ev = v
	case ActionVoidApproved:
		var v VoidApprovedEvent
		unmarshal(&v)
		ev = v
	case ActionVoidRejected:
		var v VoidRejectedEvent
		unmarshal(&v)
		ev = v
	case ActionFloatSet:
		var v FloatSet
		unmarshal(&v)
		ev = v
	case ActionPettyFloatSet:
		var v PettyFloatSet
		unmarshal(&v)
		ev = v
	case ActionCashAdjustment:
		var v CashAdjustment
		unmarshal(&v)
		ev = v
	case ActionPettyCash:
		var v PettyCash
		unmarshal(&v)
		ev = v
	default:
		return nil, fmt.Errorf("decode event: unknown action %q", action)
	}
	if err != nil {
		return nil, fmt.Errorf("decode event %s: %w", action, err)
	}
	return ev, nil
}
