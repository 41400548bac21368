package shift

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/remote"
	"github.com/roach88/till/internal/sequence"
	"github.com/roach88/till/internal/store"
)

type kind string

const (
	kindCash  kind = "cash"
	kindPetty kind = "petty"
)

// Entry is one cash adjustment or petty-cash movement. Amount is signed.
// Balance is the running balance after the entry, opening amount included.
type Entry struct {
	ID          string          `json:"id"`
	At          time.Time       `json:"at"`
	Actor       string          `json:"actor"`
	Kind        string          `json:"kind"`
	Type        string          `json:"type,omitempty"`
	Category    string          `json:"category,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Balance     decimal.Decimal `json:"balance"`
}

// Balance is a ledger reconstructed from the audit log.
type Balance struct {
	ShiftID string          `json:"shiftId"`
	Opening decimal.Decimal `json:"opening"`
	Net     decimal.Decimal `json:"net"`
	Current decimal.Decimal `json:"current"`
	Entries []Entry         `json:"entries"`
}

// ledger rebuilds the k ledger of sh.
func ledger(ctx context.Context, tx *store.Tx, sh model.Shift, k kind) (Balance, error) {
	action, opening := model.ActionCashAdjustment, sh.OpeningFloat
	if k == kindPetty {
		action, opening = model.ActionPettyCash, sh.OpeningPetty
	}

	audit, err := tx.ListAudit(ctx, store.AuditFilter{
		Actions:  []model.Action{action},
		ShiftIDs: sequence.ShiftAliases(sh.ID),
	})
	if err != nil {
		return Balance{}, err
	}

	b := Balance{ShiftID: sh.ID, Opening: opening, Net: decimal.Zero, Entries: []Entry{}}
	for _, a := range audit {
		e := Entry{ID: a.ID, At: a.Timestamp, Actor: a.Actor, Kind: string(k)}
		switch ev := a.Event.(type) {
		case model.CashAdjustment:
			e.Type, e.Amount, e.Description = ev.Type, ev.Amount, ev.Description
		case model.PettyCash:
			e.Category, e.Amount, e.Description = ev.Category, ev.Amount, ev.Description
		default:
			continue
		}
		b.Net = b.Net.Add(e.Amount)
		e.Balance = opening.Add(b.Net)
		b.Entries = append(b.Entries, e)
	}
	b.Current = opening.Add(b.Net)
	return b, nil
}

// SetStartingFloat records the opening cash in the drawer.
func (m *Manager) SetStartingFloat(ctx context.Context, amount decimal.Decimal, actor string) error {
	return m.setOpening(ctx, kindCash, amount, actor)
}

// SetStartingPetty records the opening petty-cash balance.
func (m *Manager) SetStartingPetty(ctx context.Context, amount decimal.Decimal, actor string) error {
	return m.setOpening(ctx, kindPetty, amount, actor)
}

func (m *Manager) setOpening(ctx context.Context, k kind, amount decimal.Decimal, actor string) error {
	if amount.IsNegative() {
		return fmt.Errorf("set opening %s: %w", k, ErrInvalidAmount)
	}
	amount = model.Round2(amount)

	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		sh, err := current(ctx, tx)
		if err != nil {
			return err
		}
		now := m.clock.Now()

		var ev model.Event
		event := remote.ShiftEventFloat
		if k == kindCash {
			err = tx.SetOpeningFloat(ctx, sh.ID, amount)
			sh.OpeningFloat = amount
			ev = model.FloatSet{ShiftID: sh.ID, Amount: amount}
		} else {
			err = tx.SetOpeningPetty(ctx, sh.ID, amount)
			sh.OpeningPetty = amount
			ev = model.PettyFloatSet{ShiftID: sh.ID, Amount: amount}
			event = remote.ShiftEventPettyFloat
		}
		if err != nil {
			return err
		}
		if err := tx.Record(ctx, now, actor, ev); err != nil {
			return err
		}
		_, err = tx.Enqueue(ctx, remote.ActionRecordShift, remote.ShiftPayload(event, sh), m.cfg.RecordAttempts, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("set opening %s: %w", k, err)
	}
	return nil
}

// CashInput is a drawer adjustment. Amount is a magnitude; its sign comes
// from Type.
type CashInput struct {
	Type        string
	Amount      decimal.Decimal
	Description string
	Actor       string
}

// AddCashAdjustment records cash put into (CashIn) or taken out of
// (CashOut) the drawer.
func (m *Manager) AddCashAdjustment(ctx context.Context, in CashInput) (Entry, error) {
	typ := strings.ToLower(strings.TrimSpace(in.Type))
	if typ != model.CashIn && typ != model.CashOut {
		return Entry{}, fmt.Errorf("cash adjustment: %w", ErrInvalidCashType)
	}
	amount := model.Round2(in.Amount.Abs())
	if typ == model.CashOut {
		amount = amount.Neg()
	}
	ev := model.CashAdjustment{Type: typ, Amount: amount, Description: strings.TrimSpace(in.Description)}
	return m.addEntry(ctx, kindCash, in.Actor, ev.Amount, ev.Description, func(shiftID string) model.Event {
		ev.ShiftID = shiftID
		return ev
	})
}

// PettyInput is a petty-cash movement. Amount is signed: negative for
// spending, positive for top-ups.
type PettyInput struct {
	Category    string
	Amount      decimal.Decimal
	Description string
	Actor       string
}

// AddPettyCashEntry records a petty-cash movement.
func (m *Manager) AddPettyCashEntry(ctx context.Context, in PettyInput) (Entry, error) {
	ev := model.PettyCash{
		Category:    strings.TrimSpace(in.Category),
		Amount:      model.Round2(in.Amount),
		Description: strings.TrimSpace(in.Description),
	}
	return m.addEntry(ctx, kindPetty, in.Actor, ev.Amount, ev.Description, func(shiftID string) model.Event {
		ev.ShiftID = shiftID
		return ev
	})
}

func (m *Manager) addEntry(ctx context.Context, k kind, actor string, amount decimal.Decimal, description string, build func(shiftID string) model.Event) (Entry, error) {
	if description == "" {
		return Entry{}, fmt.Errorf("%s entry: %w", k, ErrDescriptionRequired)
	}
	if amount.IsZero() {
		return Entry{}, fmt.Errorf("%s entry: %w", k, ErrInvalidAmount)
	}

	var out Entry
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		sh, err := current(ctx, tx)
		if err != nil {
			return err
		}
		if err := tx.Record(ctx, m.clock.Now(), actor, build(sh.ID)); err != nil {
			return err
		}

		b, err := ledger(ctx, tx, sh, k)
		if err != nil {
			return err
		}
		out = b.Entries[len(b.Entries)-1]

		event := remote.ShiftEventCash
		if k == kindPetty {
			event = remote.ShiftEventPetty
		}
		rec := remote.ShiftPayload(event, sh)
		rec.Entry = &remote.LedgerEntry{
			Kind:        string(k),
			Type:        out.Type,
			Category:    out.Category,
			Amount:      model.Float(out.Amount),
			Description: out.Description,
			Balance:     model.Float(out.Balance),
		}
		_, err = tx.Enqueue(ctx, remote.ActionRecordShift, rec, m.cfg.RecordAttempts, out.At)
		return err
	})
	if err != nil {
		return Entry{}, fmt.Errorf("%s entry: %w", k, err)
	}

	m.log.Info("ledger entry",
		zap.String("kind", string(k)),
		zap.String("amount", out.Amount.StringFixed(2)),
		zap.String("balance", out.Balance.StringFixed(2)),
	)
	return out, nil
}

// ListCashAdjustments returns the open shift's cash adjustments in the
// order they were made.
func (m *Manager) ListCashAdjustments(ctx context.Context) ([]Entry, error) {
	b, err := m.balance(ctx, kindCash)
	return b.Entries, err
}

// ListPettyCashEntries returns the open shift's petty-cash movements in the
// order they were made.
func (m *Manager) ListPettyCashEntries(ctx context.Context) ([]Entry, error) {
	b, err := m.balance(ctx, kindPetty)
	return b.Entries, err
}

// CashBalance returns the open shift's drawer balance: opening float plus
// the net of every adjustment.
func (m *Manager) CashBalance(ctx context.Context) (Balance, error) {
	return m.balance(ctx, kindCash)
}

// PettyBalance returns the open shift's petty-cash balance.
func (m *Manager) PettyBalance(ctx context.Context) (Balance, error) {
	return m.balance(ctx, kindPetty)
}

func (m *Manager) balance(ctx context.Context, k kind) (Balance, error) {
	var b Balance
	err := m.store.View(ctx, func(tx *store.Tx) error {
		sh, err := current(ctx, tx)
		if err != nil {
			return err
		}
		b, err = ledger(ctx, tx, sh, k)
		return err
	})
	if err != nil {
		return Balance{}, fmt.Errorf("%s balance: %w", k, err)
	}
	return b, nil
}

// Ledgers returns both ledgers of any shift, open or closed. Used by shift
// reports.
func (m *Manager) Ledgers(ctx context.Context, shiftID string) (cash, petty Balance, err error) {
	err = m.store.View(ctx, func(tx *store.Tx) error {
		sh, err := tx.GetShift(ctx, sequence.NormalizeShiftID(shiftID))
		if err != nil {
			return err
		}
		if cash, err = ledger(ctx, tx, sh, kindCash); err != nil {
			return err
		}
		petty, err = ledger(ctx, tx, sh, kindPetty)
		return err
	})
	return cash, petty, err
}
