package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/roach88/till/internal/clock"
	"github.com/roach88/till/internal/ids"
	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/remote"
	"github.com/roach88/till/internal/sequence"
	"github.com/roach88/till/internal/store"
)

// Config carries the settings a Manager reads on every call.
type Config struct {
	Tenant string

	// TaxRate returns the percentage stamped on newly opened tickets. It is
	// called per ticket so hot-reloaded configuration takes effect.
	TaxRate func() decimal.Decimal

	// RecordAttempts bounds delivery attempts for recordTicket events.
	RecordAttempts int
}

// Manager runs the ticket state machine against the ledger store.
//
// Thread-safety: safe for concurrent use; writes are serialized by the store.
type Manager struct {
	store *store.Store
	clock clock.Clock
	seq   *sequence.Allocator
	log   *zap.Logger
	cfg   Config
}

// New creates a Manager.
func New(st *store.Store, clk clock.Clock, log *zap.Logger, cfg Config) *Manager {
	if cfg.TaxRate == nil {
		cfg.TaxRate = func() decimal.Decimal { return decimal.Zero }
	}
	return &Manager{
		store: st,
		clock: clk,
		seq:   sequence.New(cfg.Tenant, clk),
		log:   log.Named("ticket"),
		cfg:   cfg,
	}
}

// Details are the editable attributes supplied when opening a ticket.
type Details struct {
	Covers *int
	Notes  *string
}

// OpenTicket opens a ticket on the current shift.
func (m *Manager) OpenTicket(ctx context.Context, openedBy string, d Details) (model.Ticket, error) {
	var t model.Ticket
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		sh, err := tx.CurrentShift(ctx)
		if err != nil {
			return err
		}
		if sh == nil {
			return ErrNoOpenShift
		}

		now := m.clock.Now()
		rate := m.cfg.TaxRate()
		_, err = sequence.Insert(ctx,
			func(ctx context.Context) (string, error) { return m.seq.NextTicketID(ctx, tx, sh.ID) },
			func(id string) error {
				t = model.Ticket{
					ID:       id,
					Name:     strings.TrimPrefix(id, sh.ID+"-"),
					OpenedBy: openedBy,
					OpenedAt: now,
					Status:   model.TicketOpen,
					Covers:   normalizeCovers(d.Covers),
					Notes:    normalizeNotes(d.Notes),
					TaxRate:  decimal.NewNullDecimal(rate),
				}
				return tx.InsertTicket(ctx, t)
			})
		if err != nil {
			return err
		}

		return tx.Record(ctx, now, openedBy, model.TicketOpened{
			TicketID: t.ID,
			ShiftID:  sh.ID,
			Covers:   t.Covers,
			Notes:    t.Notes,
			TaxRate:  rate,
		})
	})
	if err != nil {
		return model.Ticket{}, fmt.Errorf("open ticket: %w", err)
	}

	m.log.Info("ticket opened", zap.String("ticket", t.ID), zap.String("by", openedBy))
	return t, nil
}

// DetailsPatch is a partial update. Only fields whose Set flag is true are
// applied; a nil value with its flag set clears the field.
type DetailsPatch struct {
	Covers    *int
	SetCovers bool
	Notes     *string
	SetNotes  bool
}

// Patch reports the outcome of UpdateTicketDetails. Changed is empty when
// the patch was a no-op.
type Patch struct {
	Changed []string `json:"changed"`
	Covers  *int     `json:"covers"`
	Notes   *string  `json:"notes"`
}

// UpdateTicketDetails applies p to an open ticket.
func (m *Manager) UpdateTicketDetails(ctx context.Context, id, actor string, p DetailsPatch) (Patch, error) {
	var out Patch
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := m.openTicket(ctx, tx, id)
		if err != nil {
			return err
		}

		out = Patch{Covers: t.Covers, Notes: t.Notes}
		if p.SetCovers {
			c := normalizeCovers(p.Covers)
			if !equalInt(c, t.Covers) {
				out.Covers = c
				out.Changed = append(out.Changed, "covers")
			}
		}
		if p.SetNotes {
			n := normalizeNotes(p.Notes)
			if !equalString(n, t.Notes) {
				out.Notes = n
				out.Changed = append(out.Changed, "notes")
			}
		}
		if len(out.Changed) == 0 {
			return nil
		}

		if err := tx.UpdateTicketDetails(ctx, id, out.Covers, out.Notes); err != nil {
			return err
		}
		ev := model.TicketDetailsUpdated{TicketID: id, ShiftID: t.ShiftID(), Fields: out.Changed}
		for _, f := range out.Changed {
			switch f {
			case "covers":
				ev.Covers = out.Covers
			case "notes":
				ev.Notes = out.Notes
			}
		}
		return tx.Record(ctx, m.clock.Now(), actor, ev)
	})
	if err != nil {
		return Patch{}, fmt.Errorf("update ticket %s: %w", id, err)
	}
	return out, nil
}

// SaveCart replaces every line of an open ticket with lines. Lines with a
// quantity of zero or less are dropped. Saving the same cart twice leaves
// the ticket in the same state.
func (m *Manager) SaveCart(ctx context.Context, id, actor string, lines []model.CartLine) error {
	now := m.clock.Now()
	items := make([]model.TicketItem, 0, len(lines))
	for _, l := range lines {
		if l.Qty <= 0 {
			continue
		}
		name := strings.TrimSpace(l.Name)
		if name == "" || l.Price.IsNegative() {
			return fmt.Errorf("save cart %s: %w", id, ErrInvalidItem)
		}
		items = append(items, model.TicketItem{
			ID:         ids.RowID(),
			TicketID:   id,
			SKU:        strings.TrimSpace(l.SKU),
			Name:       name,
			Qty:        l.Qty,
			Price:      l.Price,
			LineTotal:  model.LineTotal(l.Qty, l.Price),
			AddedAt:    now,
			BasePrice:  l.BasePrice,
			VariantKey: model.VariantKey(l.Options),
		})
	}

	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := m.openTicket(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := tx.ReplaceItems(ctx, id, items); err != nil {
			return err
		}

		if len(items) == 0 {
			return tx.Record(ctx, now, actor, model.CartCleared{TicketID: id, ShiftID: t.ShiftID()})
		}
		for _, it := range items {
			ev := model.CartItemSaved{
				TicketID: id,
				ShiftID:  t.ShiftID(),
				SKU:      it.SKU,
				Name:     it.Name,
				Qty:      it.Qty,
				Price:    it.Price,
			}
			if err := tx.Record(ctx, now, actor, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save cart %s: %w", id, err)
	}

	m.log.Debug("cart saved", zap.String("ticket", id), zap.Int("lines", len(items)))
	return nil
}

// Payment is the settlement requested by the operator. Tendered is only
// read for cash; other methods are settled for the exact total.
type Payment struct {
	Method   model.PayMethod
	Tendered float64
	Actor    string
}

// Receipt is the outcome of a successful payment.
type Receipt struct {
	TicketID string          `json:"ticketId"`
	Method   model.PayMethod `json:"method"`
	Amount   decimal.Decimal `json:"amount"`
	Tendered decimal.Decimal `json:"tendered"`
	Change   decimal.Decimal `json:"change"`
	ClosedAt time.Time       `json:"closedAt"`
	Totals   Totals          `json:"totals"`
}

// PayTicket settles an open ticket. Totals are recomputed from the stored
// lines. The ticket, its audit row and the outbound recordTicket event are
// written in one transaction.
func (m *Manager) PayTicket(ctx context.Context, id string, p Payment) (Receipt, error) {
	if !validMethod(p.Method) {
		return Receipt{}, fmt.Errorf("pay ticket %s: %w", id, ErrInvalidPayMethod)
	}

	var rc Receipt
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := m.openTicket(ctx, tx, id)
		if err != nil {
			return err
		}
		items, err := tx.Items(ctx, id)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrEmptyCart
		}

		rate := m.cfg.TaxRate()
		if t.TaxRate.Valid {
			rate = t.TaxRate.Decimal
		}
		totals := ComputeTotals(items, rate)
		tendered := totals.Total
		if p.Method == model.PayCash {
			d, ok := model.FromFloat(p.Tendered)
			if !ok {
				return ErrInvalidTendered
			}
			tendered = model.Round2(d)
			if tendered.LessThan(totals.Total) {
				return ErrInsufficientPayment
			}
		}

		now := m.clock.Now()
		t.Status = model.TicketClosed
		t.ClosedAt = &now
		t.ClosedBy = p.Actor
		t.PayMethod = p.Method
		t.PayAmount = totals.Total
		t.Tendered = tendered
		t.Change = tendered.Sub(totals.Total)
		t.Subtotal = totals.Subtotal
		t.TaxAmount = totals.TaxAmount
		t.Total = totals.Total
		t.TaxRate = decimal.NewNullDecimal(rate)
		if err := tx.CloseTicket(ctx, t); err != nil {
			return err
		}

		err = tx.Record(ctx, now, p.Actor, model.TicketPaid{
			TicketID:  id,
			ShiftID:   t.ShiftID(),
			Method:    p.Method,
			Subtotal:  totals.Subtotal,
			TaxRate:   totals.TaxRate,
			TaxAmount: totals.TaxAmount,
			Amount:    totals.Total,
			Tendered:  t.Tendered,
			Change:    t.Change,
		})
		if err != nil {
			return err
		}
		if _, err := tx.Enqueue(ctx, remote.ActionRecordTicket, remote.SaleRecord(t, items), m.cfg.RecordAttempts, now); err != nil {
			return err
		}

		rc = Receipt{
			TicketID: id,
			Method:   p.Method,
			Amount:   t.PayAmount,
			Tendered: t.Tendered,
			Change:   t.Change,
			ClosedAt: now,
			Totals:   totals,
		}
		return nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("pay ticket %s: %w", id, err)
	}

	m.log.Info("ticket paid",
		zap.String("ticket", id),
		zap.String("method", string(p.Method)),
		zap.String("total", rc.Amount.StringFixed(2)),
	)
	return rc, nil
}

// Get returns a ticket by ID.
func (m *Manager) Get(ctx context.Context, id string) (model.Ticket, error) {
	var t model.Ticket
	err := m.store.View(ctx, func(tx *store.Tx) error {
		var err error
		t, err = tx.GetTicket(ctx, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return model.Ticket{}, fmt.Errorf("get ticket %s: %w", id, ErrTicketNotFound)
	}
	return t, err
}

// ListOpen returns every open ticket, oldest first.
func (m *Manager) ListOpen(ctx context.Context) ([]model.Ticket, error) {
	var out []model.Ticket
	err := m.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListTickets(ctx, store.TicketFilter{Status: model.TicketOpen})
		return err
	})
	return out, err
}

// Items returns the lines of a ticket in cart order.
func (m *Manager) Items(ctx context.Context, id string) ([]model.TicketItem, error) {
	var out []model.TicketItem
	err := m.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.Items(ctx, id)
		return err
	})
	return out, err
}

// openTicket loads id and requires it to be open.
func (m *Manager) openTicket(ctx context.Context, tx *store.Tx, id string) (model.Ticket, error) {
	t, err := tx.GetTicket(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Ticket{}, ErrTicketNotFound
	}
	if err != nil {
		return model.Ticket{}, err
	}
	if !t.IsOpen() {
		return model.Ticket{}, ErrTicketClosed
	}
	return t, nil
}

func validMethod(m model.PayMethod) bool {
	for _, pm := range model.PayMethods {
		if m == pm {
			return true
		}
	}
	return false
}

func normalizeCovers(c *int) *int {
	if c == nil || *c <= 0 {
		return nil
	}
	n := *c
	return &n
}

func normalizeNotes(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
