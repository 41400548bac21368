// Package shift runs the shift lifecycle and the cash and petty-cash
// ledgers scoped to the open shift.
//
// Cash adjustments and petty-cash entries are not stored in their own table.
// They are audit events, and balances are reconstructed by filtering the
// audit log by event variant and shift ID. Records written under an
// unpadded shift ID ("12") are matched along with the canonical form
// ("012").
package shift

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/roach88/till/internal/clock"
	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/remote"
	"github.com/roach88/till/internal/sequence"
	"github.com/roach88/till/internal/store"
)

var (
	ErrNoOpenShift = model.ErrNoOpenShift

	ErrDescriptionRequired = model.Validation("DESCRIPTION_REQUIRED", "description is required")
	ErrInvalidAmount       = model.Validation("INVALID_AMOUNT", "amount must be non-zero")
	ErrInvalidCashType     = model.Validation("INVALID_CASH_TYPE", `cash adjustment type must be "in" or "out"`)
)

// Config carries the settings a Manager reads on every call.
type Config struct {
	Tenant string

	// RecordAttempts bounds delivery attempts for recordShift events.
	RecordAttempts int
}

// Manager runs the shift state machine against the ledger store.
//
// There is no cached current shift: every operation reads it inside its own
// transaction.
type Manager struct {
	store *store.Store
	clock clock.Clock
	seq   *sequence.Allocator
	log   *zap.Logger
	cfg   Config
}

// New creates a Manager.
func New(st *store.Store, clk clock.Clock, log *zap.Logger, cfg Config) *Manager {
	return &Manager{
		store: st,
		clock: clk,
		seq:   sequence.New(cfg.Tenant, clk),
		log:   log.Named("shift"),
		cfg:   cfg,
	}
}

// Opened is the result of OpenShift. Existing is true when a shift was
// already open and was returned unchanged.
type Opened struct {
	ShiftID  string    `json:"shiftId"`
	OpenedAt time.Time `json:"openedAt"`
	Existing bool      `json:"existing"`
}

// OpenShift opens a new shift, or returns the one already open.
func (m *Manager) OpenShift(ctx context.Context, openedBy string) (Opened, error) {
	var out Opened
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		cur, err := tx.CurrentShift(ctx)
		if err != nil {
			return err
		}
		if cur != nil {
			out = Opened{ShiftID: cur.ID, OpenedAt: cur.OpenedAt, Existing: true}
			return nil
		}

		now := m.clock.Now()
		var sh model.Shift
		_, err = sequence.Insert(ctx,
			func(ctx context.Context) (string, error) { return m.seq.NextShiftID(ctx, tx) },
			func(id string) error {
				sh = model.Shift{
					ID:        id,
					OpenedAt:  now,
					OpenedBy:  openedBy,
					Status:    model.ShiftOpen,
					ItemsSold: map[string]int{},
				}
				return tx.InsertShift(ctx, sh)
			})
		if err != nil {
			return err
		}
		if err := m.seq.Remember(ctx, tx, sh.ID); err != nil {
			return err
		}

		if err := tx.Record(ctx, now, openedBy, model.ShiftOpened{ShiftID: sh.ID, OpenedBy: openedBy, OpenedAt: now}); err != nil {
			return err
		}
		if _, err := tx.Enqueue(ctx, remote.ActionRecordShift, remote.ShiftPayload(remote.ShiftEventOpen, sh), m.cfg.RecordAttempts, now); err != nil {
			return err
		}

		out = Opened{ShiftID: sh.ID, OpenedAt: now}
		return nil
	})
	if err != nil {
		return Opened{}, fmt.Errorf("open shift: %w", err)
	}

	if out.Existing {
		m.log.Debug("shift already open", zap.String("shift", out.ShiftID))
	} else {
		m.log.Info("shift opened", zap.String("shift", out.ShiftID), zap.String("by", openedBy))
	}
	return out, nil
}

// CloseInput is the operator's count at the end of a shift. Unset amounts
// are stored as null.
type CloseInput struct {
	ClosedBy       string
	ClosingFloat   decimal.NullDecimal
	FloatWithdrawn decimal.NullDecimal
	ClosingPetty   decimal.NullDecimal
	Notes          string
}

// Summary is the settlement of a closed shift.
type Summary struct {
	model.ShiftSummary
	Shift model.Shift      `json:"shift"`
	Meta  remote.ShiftMeta `json:"meta"`
}

// CloseShift settles and closes the open shift.
//
// Tickets are in scope when opened at or after the shift opened. Sales count
// scoped tickets closed between the shift's open and now. The item
// histogram counts every line of every scoped ticket, paid or not.
func (m *Manager) CloseShift(ctx context.Context, in CloseInput) (Summary, error) {
	var out Summary
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		sh, err := tx.CurrentShift(ctx)
		if err != nil {
			return err
		}
		if sh == nil {
			return ErrNoOpenShift
		}

		now := m.clock.Now()
		sum, err := summarize(ctx, tx, *sh, now)
		if err != nil {
			return err
		}

		closed := *sh
		closed.Status = model.ShiftClosed
		closed.ClosedAt = &now
		closed.ClosedBy = in.ClosedBy
		closed.CashSales = sum.CashSales
		closed.CardSales = sum.CardSales
		closed.PromptPaySales = sum.PromptPaySales
		closed.TicketsCount = sum.TicketsCount
		closed.ItemsSold = sum.ItemsSold
		closed.ClosingFloat = in.ClosingFloat
		closed.FloatWithdrawn = in.FloatWithdrawn
		closed.ClosingPetty = in.ClosingPetty
		closed.Notes = in.Notes
		if err := tx.CloseShift(ctx, closed); err != nil {
			return err
		}

		cash, err := ledger(ctx, tx, closed, kindCash)
		if err != nil {
			return err
		}
		petty, err := ledger(ctx, tx, closed, kindPetty)
		if err != nil {
			return err
		}
		voids, err := tx.CountVoidRequests(ctx, closed.ID, model.VoidApproved)
		if err != nil {
			return err
		}
		meta := remote.ShiftMeta{
			TotalItems:    sum.TotalItems,
			NetCash:       model.Float(cash.Net),
			NetPetty:      model.Float(petty.Net),
			ApprovedVoids: voids,
		}
		if sum.TicketsCount > 0 {
			avg := sum.TotalSales.Div(decimal.NewFromInt(int64(sum.TicketsCount)))
			meta.AvgTicket = model.Float(avg)
		}

		if err := tx.Record(ctx, now, in.ClosedBy, model.ShiftClosedEvent{ShiftID: closed.ID, ClosedBy: in.ClosedBy, Summary: sum}); err != nil {
			return err
		}
		rec := remote.ShiftPayload(remote.ShiftEventClose, closed)
		rec.Meta = &meta
		if _, err := tx.Enqueue(ctx, remote.ActionRecordShift, rec, m.cfg.RecordAttempts, now); err != nil {
			return err
		}

		out = Summary{ShiftSummary: sum, Shift: closed, Meta: meta}
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("close shift: %w", err)
	}

	m.log.Info("shift closed",
		zap.String("shift", out.ShiftID),
		zap.Int("tickets", out.TicketsCount),
		zap.String("total", out.TotalSales.StringFixed(2)),
	)
	return out, nil
}

// summarize computes the settlement of sh as of now.
func summarize(ctx context.Context, tx *store.Tx, sh model.Shift, now time.Time) (model.ShiftSummary, error) {
	scope := store.TicketFilter{OpenedSince: &sh.OpenedAt}
	tickets, err := tx.ListTickets(ctx, scope)
	if err != nil {
		return model.ShiftSummary{}, err
	}

	sum := model.ShiftSummary{
		ShiftID:        sh.ID,
		OpenedAt:       sh.OpenedAt,
		ClosedAt:       now,
		CashSales:      decimal.Zero,
		CardSales:      decimal.Zero,
		PromptPaySales: decimal.Zero,
		ItemsSold:      map[string]int{},
	}
	for _, t := range tickets {
		if t.Status != model.TicketClosed || t.ClosedAt == nil {
			continue
		}
		if t.ClosedAt.Before(sh.OpenedAt) || t.ClosedAt.After(now) {
			continue
		}
		switch t.PayMethod {
		case model.PayCash:
			sum.CashSales = sum.CashSales.Add(t.PayAmount)
		case model.PayCard:
			sum.CardSales = sum.CardSales.Add(t.PayAmount)
		case model.PayPromptPay:
			sum.PromptPaySales = sum.PromptPaySales.Add(t.PayAmount)
		}
		sum.TicketsCount++
	}
	sum.TotalSales = sum.CashSales.Add(sum.CardSales).Add(sum.PromptPaySales)

	items, err := tx.ItemsByTicket(ctx, scope)
	if err != nil {
		return model.ShiftSummary{}, err
	}
	for _, lines := range items {
		for _, it := range lines {
			sum.ItemsSold[it.Name] += it.Qty
			sum.TotalItems += it.Qty
		}
	}
	return sum, nil
}

// Current returns the open shift, or nil when none is open.
func (m *Manager) Current(ctx context.Context) (*model.Shift, error) {
	var sh *model.Shift
	err := m.store.View(ctx, func(tx *store.Tx) error {
		var err error
		sh, err = tx.CurrentShift(ctx)
		return err
	})
	return sh, err
}

// Get returns a shift by ID, accepting unpadded numeric IDs.
func (m *Manager) Get(ctx context.Context, id string) (model.Shift, error) {
	var sh model.Shift
	err := m.store.View(ctx, func(tx *store.Tx) error {
		var err error
		sh, err = tx.GetShift(ctx, sequence.NormalizeShiftID(id))
		return err
	})
	return sh, err
}

// Recent returns up to limit shifts, most recently opened first.
func (m *Manager) Recent(ctx context.Context, limit int) ([]model.Shift, error) {
	var out []model.Shift
	err := m.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListShifts(ctx, limit)
		return err
	})
	return out, err
}

// current loads the open shift inside tx.
func current(ctx context.Context, tx *store.Tx) (model.Shift, error) {
	sh, err := tx.CurrentShift(ctx)
	if err != nil {
		return model.Shift{}, err
	}
	if sh == nil {
		return model.Shift{}, ErrNoOpenShift
	}
	return *sh, nil
}
