package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
)

// ShiftStatus is the lifecycle state of a shift.
type ShiftStatus string

const (
	ShiftOpen   ShiftStatus = "open"
	ShiftClosed ShiftStatus = "closed"
)

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

// PayMethod identifies how a ticket was settled.
type PayMethod string

const (
	PayCash      PayMethod = "cash"
	PayCard      PayMethod = "card"
	PayPromptPay PayMethod = "promptPay"
)

// PayMethods lists the accepted payment methods in display order.
var PayMethods = []PayMethod{PayCash, PayCard, PayPromptPay}

// ParsePayMethod accepts the canonical names plus the spellings older
// clients and the remote use ("promptpay", "prompt_pay", "qr").
func ParsePayMethod(s string) (PayMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cash":
		return PayCash, nil
	case "card", "credit", "debit":
		return PayCard, nil
	case "promptpay", "prompt_pay", "prompt-pay", "qr":
		return PayPromptPay, nil
	}
	return "", fmt.Errorf("unknown pay method %q", s)
}

// VoidStatus is the lifecycle state of a void request.
type VoidStatus string

const (
	VoidPending  VoidStatus = "pending"
	VoidApproved VoidStatus = "approved"
	VoidRejected VoidStatus = "rejected"
)

// Shift is a work shift. Sales aggregates are zero until the shift closes.
type Shift struct {
	ID             string              `json:"id"`
	OpenedAt       time.Time           `json:"openedAt"`
	ClosedAt       *time.Time          `json:"closedAt"`
	OpenedBy       string              `json:"openedBy"`
	ClosedBy       string              `json:"closedBy"`
	Status         ShiftStatus         `json:"status"`
	CashSales      decimal.Decimal     `json:"cashSales"`
	CardSales      decimal.Decimal     `json:"cardSales"`
	PromptPaySales decimal.Decimal     `json:"promptPaySales"`
	TicketsCount   int                 `json:"ticketsCount"`
	ItemsSold      map[string]int      `json:"itemsSold"`
	OpeningFloat   decimal.Decimal     `json:"openingFloat"`
	ClosingFloat   decimal.NullDecimal `json:"closingFloat"`
	FloatWithdrawn decimal.NullDecimal `json:"floatWithdrawn"`
	OpeningPetty   decimal.Decimal     `json:"openingPetty"`
	ClosingPetty   decimal.NullDecimal `json:"closingPetty"`
	Notes          string              `json:"notes"`
}

// IsOpen reports whether the shift accepts new tickets.
func (s Shift) IsOpen() bool { return s.Status == ShiftOpen }

// Ticket is a sales ticket. Payment fields are zero while the ticket is open
// and immutable once it closes.
type Ticket struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	OpenedBy  string              `json:"openedBy"`
	OpenedAt  time.Time           `json:"openedAt"`
	Status    TicketStatus        `json:"status"`
	Covers    *int                `json:"covers"`
	Notes     *string             `json:"notes"`
	TaxRate   decimal.NullDecimal `json:"taxRate"`
	ClosedAt  *time.Time          `json:"closedAt"`
	ClosedBy  string              `json:"closedBy"`
	PayMethod PayMethod           `json:"payMethod"`
	PayAmount decimal.Decimal     `json:"payAmount"`
	Tendered  decimal.Decimal     `json:"tendered"`
	Change    decimal.Decimal     `json:"change"`
	Subtotal  decimal.Decimal     `json:"subtotal"`
	TaxAmount decimal.Decimal     `json:"taxAmount"`
	Total     decimal.Decimal     `json:"total"`
}

// IsOpen reports whether the ticket can still be edited or paid.
func (t Ticket) IsOpen() bool { return t.Status == TicketOpen }

// ShiftID returns the shift prefix of the ticket ID ("012-004" → "012").
func (t Ticket) ShiftID() string { return ShiftIDOf(t.ID) }

// ShiftIDOf extracts the shift prefix from a ticket ID.
func ShiftIDOf(ticketID string) string {
	if i := strings.LastIndex(ticketID, "-"); i > 0 {
		return ticketID[:i]
	}
	return ""
}

// TicketItem is one line on a ticket.
type TicketItem struct {
	ID         string              `json:"id"`
	TicketID   string              `json:"ticketId"`
	SKU        string              `json:"sku"`
	Name       string              `json:"name"`
	Qty        int                 `json:"qty"`
	Price      decimal.Decimal     `json:"price"`
	LineTotal  decimal.Decimal     `json:"lineTotal"`
	AddedAt    time.Time           `json:"addedAt"`
	BasePrice  decimal.NullDecimal `json:"basePrice"`
	VariantKey string              `json:"variantKey"`
	Position   int                 `json:"-"`
}

// CartLine is a caller-supplied cart row for a full cart replacement. It
// carries no total; the line total is always derived as Qty × Price.
type CartLine struct {
	SKU       string              `json:"sku"`
	Name      string              `json:"name"`
	Qty       int                 `json:"qty"`
	Price     decimal.Decimal     `json:"price"`
	BasePrice decimal.NullDecimal `json:"basePrice"`
	Options   []string            `json:"options,omitempty"`
}

// VariantKey builds a stable key for a priced option combination. Option
// order does not matter: {"Large", "Oat milk"} and {"oat milk", "large"} map
// to the same key.
func VariantKey(options []string) string {
	if len(options) == 0 {
		return ""
	}
	parts := make([]string, 0, len(options))
	for _, o := range options {
		if s := slug.Make(o); s != "" {
			parts = append(parts, s)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, "+")
}

// VoidRequest asks an approver to remove quantity of one item from a ticket.
type VoidRequest struct {
	ID           string     `json:"id"`
	TicketID     string     `json:"ticketId"`
	ItemName     string     `json:"itemName"`
	ItemSKU      string     `json:"itemSku"`
	RequestedQty int        `json:"requestedQty"`
	ApproverID   string     `json:"approverId"`
	Reason       string     `json:"reason"`
	RequestedBy  string     `json:"requestedBy"`
	Status       VoidStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	DecidedAt    *time.Time `json:"decidedAt"`
	DecidedBy    string     `json:"decidedBy"`
	DecisionNote string     `json:"decisionNote"`
}

// IsPending reports whether a decision is still outstanding.
func (v VoidRequest) IsPending() bool { return v.Status == VoidPending }

// Notification is a local notice addressed to an operator.
type Notification struct {
	ID        string     `json:"id"`
	Recipient string     `json:"recipient"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	RefType   string     `json:"refType"`
	RefID     string     `json:"refId"`
	CreatedAt time.Time  `json:"createdAt"`
	ReadAt    *time.Time `json:"readAt"`
}

// Notification kinds.
const (
	NotifyVoidRequested = "void_requested"
	NotifyVoidApproved  = "void_approved"
	NotifyVoidRejected  = "void_rejected"
)

// ShiftSummary is the settlement computed when a shift closes.
type ShiftSummary struct {
	ShiftID        string          `json:"shiftId"`
	OpenedAt       time.Time       `json:"openedAt"`
	ClosedAt       time.Time       `json:"closedAt"`
	CashSales      decimal.Decimal `json:"cashSales"`
	CardSales      decimal.Decimal `json:"cardSales"`
	PromptPaySales decimal.Decimal `json:"promptPaySales"`
	TotalSales     decimal.Decimal `json:"totalSales"`
	TicketsCount   int             `json:"ticketsCount"`
	ItemsSold      map[string]int  `json:"itemsSold"`
	TotalItems     int             `json:"totalItems"`
}

// AuditEntry is one row of the append-only audit log.
type AuditEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Entity    string    `json:"entity"`
	EntityID  string    `json:"entityId"`
	Actor     string    `json:"actor"`
	ShiftID   string    `json:"shiftId"`
	Event     Event     `json:"details"`
}

// NewAuditEntry stamps an event with its identity, time and actor. Entity
// and shift columns are derived from the event itself.
func NewAuditEntry(id string, at time.Time, actor string, ev Event) AuditEntry {
	entity, entityID := ev.Entity()
	return AuditEntry{
		ID:        id,
		Timestamp: at,
		Action:    ev.Action(),
		Entity:    entity,
		EntityID:  entityID,
		Actor:     actor,
		ShiftID:   ev.Shift(),
		Event:     ev,
	}
}
