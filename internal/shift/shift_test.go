package shift

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/till/internal/clock"
	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/remote"
	"github.com/roach88/till/internal/sequence"
	"github.com/roach88/till/internal/store"
	"github.com/roach88/till/internal/testutil"
	"github.com/roach88/till/internal/ticket"
)

type fixture struct {
	shifts  *Manager
	tickets *ticket.Manager
	store   *store.Store
	clock   *clock.Fake
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := testutil.NewStore(t)
	clk := clock.NewFake(testutil.At(0))
	return fixture{
		shifts: New(st, clk, zap.NewNop(), Config{Tenant: "acme", RecordAttempts: 3}),
		tickets: ticket.New(st, clk, zap.NewNop(), ticket.Config{
			Tenant:         "acme",
			TaxRate:        func() decimal.Decimal { return decimal.Zero },
			RecordAttempts: 3,
		}),
		store: st,
		clock: clk,
	}
}

// sell opens a ticket, saves lines and pays it.
func (f fixture) sell(t *testing.T, method model.PayMethod, tendered float64, lines ...model.CartLine) string {
	t.Helper()
	ctx := context.Background()
	tk, err := f.tickets.OpenTicket(ctx, "amy", ticket.Details{})
	require.NoError(t, err)
	require.NoError(t, f.tickets.SaveCart(ctx, tk.ID, "amy", lines))
	if method != "" {
		_, err = f.tickets.PayTicket(ctx, tk.ID, ticket.Payment{Method: method, Tendered: tendered, Actor: "amy"})
		require.NoError(t, err)
	}
	return tk.ID
}

// shiftRecords decodes the pending recordShift payloads, oldest first.
func shiftRecords(t *testing.T, st *store.Store) []remote.ShiftRecord {
	t.Helper()
	var out []remote.ShiftRecord
	entries := testutil.Outbox(t, st, store.OutboxPending)
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Action != remote.ActionRecordShift {
			continue
		}
		var rec remote.ShiftRecord
		require.NoError(t, json.Unmarshal(entries[i].Payload, &rec))
		out = append(out, rec)
	}
	return out
}

func TestOpenShift_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.shifts.OpenShift(ctx, "amy")
	require.NoError(t, err)
	assert.Equal(t, "001", first.ShiftID)
	assert.False(t, first.Existing)
	assert.True(t, first.OpenedAt.Equal(testutil.At(0)))

	f.clock.Advance(time.Hour)
	again, err := f.shifts.OpenShift(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, again.Existing)
	assert.Equal(t, first.ShiftID, again.ShiftID)
	assert.True(t, again.OpenedAt.Equal(first.OpenedAt))

	opened := testutil.Audit(t, f.store, store.AuditFilter{Actions: []model.Action{model.ActionShiftOpened}})
	require.Len(t, opened, 1)
	assert.Equal(t, "amy", opened[0].Actor)

	recs := shiftRecords(t, f.store)
	require.Len(t, recs, 1)
	assert.Equal(t, remote.ShiftEventOpen, recs[0].Event)
	assert.Equal(t, "001", recs[0].ShiftID)

	var last string
	err = f.store.View(ctx, func(tx *store.Tx) error {
		var err error
		last, _, err = tx.Preference(ctx, sequence.PreferenceKey("acme"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "001", last)
}

func TestOpenShift_ContinuesRememberedSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	err := f.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.SetPreference(ctx, sequence.PreferenceKey("acme"), "041", testutil.At(0))
	})
	require.NoError(t, err)

	got, err := f.shifts.OpenShift(ctx, "amy")
	require.NoError(t, err)
	assert.Equal(t, "042", got.ShiftID)
}

func TestCloseShift_NoOpenShift(t *testing.T) {
	f := newFixture(t)

	_, err := f.shifts.CloseShift(context.Background(), CloseInput{ClosedBy: "amy"})
	assert.ErrorIs(t, err, ErrNoOpenShift)
	assert.True(t, model.IsPrecondition(err))
}

func TestCloseShift_Settlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A leftover ticket opened before the shift is out of scope, even when
	// it is paid during the shift.
	err := f.store.WithTx(ctx, func(tx *store.Tx) error {
		stale := model.Ticket{ID: "000-001", Name: "001", OpenedBy: "amy", OpenedAt: testutil.At(-30), Status: model.TicketOpen}
		if err := tx.InsertTicket(ctx, stale); err != nil {
			return err
		}
		return tx.ReplaceItems(ctx, stale.ID, []model.TicketItem{
			{ID: "stale-1", Name: "Latte", Qty: 9, Price: testutil.Dec("3.50"), LineTotal: testutil.Dec("31.50"), AddedAt: testutil.At(-30)},
		})
	})
	require.NoError(t, err)

	_, err = f.shifts.OpenShift(ctx, "amy")
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	stalePaid, err := f.tickets.PayTicket(ctx, "000-001", ticket.Payment{Method: model.PayCash, Tendered: 40, Actor: "amy"})
	require.NoError(t, err)
	require.True(t, stalePaid.ClosedAt.After(testutil.At(0)), "paid inside the shift window")

	f.clock.Advance(5 * time.Minute)
	f.sell(t, model.PayCash, 10, testutil.Line("Latte", 2, "3.50"))
	f.clock.Advance(10 * time.Minute)
	f.sell(t, model.PayCard, 0, testutil.Line("Muffin", 1, "2.50"))
	f.clock.Advance(10 * time.Minute)
	f.sell(t, "", 0, testutil.Line("Latte", 1, "3.50"))

	f.clock.Advance(time.Hour)
	sum, err := f.shifts.CloseShift(ctx, CloseInput{
		ClosedBy:     "bob",
		ClosingFloat: decimal.NewNullDecimal(testutil.Dec("107.00")),
		Notes:        "quiet afternoon",
	})
	require.NoError(t, err)

	assert.Equal(t, "001", sum.ShiftID)
	assert.Equal(t, "7.00", sum.CashSales.StringFixed(2), "the stale ticket's 31.50 cash is excluded")
	assert.Equal(t, "2.50", sum.CardSales.StringFixed(2))
	assert.Equal(t, "0.00", sum.PromptPaySales.StringFixed(2))
	assert.Equal(t, "9.50", sum.TotalSales.StringFixed(2))
	assert.Equal(t, 2, sum.TicketsCount)
	// The unpaid ticket counts toward items sold but not toward sales.
	assert.Equal(t, map[string]int{"Latte": 3, "Muffin": 1}, sum.ItemsSold)
	assert.Equal(t, 4, sum.TotalItems)

	assert.Equal(t, 4.75, sum.Meta.AvgTicket)
	assert.Equal(t, 4, sum.Meta.TotalItems)
	assert.Equal(t, 0, sum.Meta.ApprovedVoids)

	assert.Equal(t, model.ShiftClosed, sum.Shift.Status)
	assert.Equal(t, "bob", sum.Shift.ClosedBy)
	assert.True(t, sum.Shift.ClosingFloat.Valid)
	assert.False(t, sum.Shift.FloatWithdrawn.Valid)

	cur, err := f.shifts.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)

	stored, err := f.shifts.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, model.ShiftClosed, stored.Status)
	assert.True(t, stored.CashSales.Equal(testutil.Dec("7.00")))
	assert.Equal(t, 2, stored.TicketsCount)
	assert.Equal(t, "quiet afternoon", stored.Notes)

	recs := shiftRecords(t, f.store)
	require.Len(t, recs, 2)
	closed := recs[1]
	assert.Equal(t, remote.ShiftEventClose, closed.Event)
	assert.Equal(t, 9.5, closed.TotalSales)
	require.NotNil(t, closed.Meta)
	assert.Equal(t, 4.75, closed.Meta.AvgTicket)
}

func TestCloseShift_EmptyShift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.shifts.OpenShift(ctx, "amy")
	require.NoError(t, err)

	sum, err := f.shifts.CloseShift(ctx, CloseInput{ClosedBy: "amy"})
	require.NoError(t, err)
	assert.True(t, sum.TotalSales.IsZero())
	assert.Zero(t, sum.TicketsCount)
	assert.Zero(t, sum.Meta.AvgTicket)
	assert.Empty(t, sum.ItemsSold)

	reopened, err := f.shifts.OpenShift(ctx, "amy")
	require.NoError(t, err)
	assert.Equal(t, "002", reopened.ShiftID)
}

func TestLedger_CashBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opened, err := f.shifts.OpenShift(ctx, "amy")
	require.NoError(t, err)

	require.NoError(t, f.shifts.SetStartingFloat(ctx, testutil.Dec("100"), "amy"))

	f.clock.Advance(time.Minute)
	in, err := f.shifts.AddCashAdjustment(ctx, CashInput{Type: "IN", Amount: testutil.Dec("20"), Description: "change top-up", Actor: "amy"})
	require.NoError(t, err)
	assert.Equal(t, model.CashIn, in.Type)
	assert.Equal(t, "120.00", in.Balance.StringFixed(2))

	f.clock.Advance(time.Minute)
	out, err := f.shifts.AddCashAdjustment(ctx, CashInput{Type: "out", Amount: testutil.Dec("5.5"), Description: "ice", Actor: "amy"})
	require.NoError(t, err)
	assert.Equal(t, "-5.50", out.Amount.StringFixed(2))
	assert.Equal(t, "114.50", out.Balance.StringFixed(2))

	// An adjustment written under the unpadded shift number still counts.
	f.clock.Advance(time.Minute)
	err = f.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.Record(ctx, f.clock.Now(), "amy", model.CashAdjustment{
			ShiftID: "1", Type: model.CashOut, Amount: testutil.Dec("-4.50"), Description: "window cleaner",
		})
	})
	require.NoError(t, err)

	b, err := f.shifts.CashBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, opened.ShiftID, b.ShiftID)
	assert.Equal(t, "100.00", b.Opening.StringFixed(2))
	assert.Equal(t, "10.00", b.Net.StringFixed(2))
	assert.Equal(t, "110.00", b.Current.StringFixed(2))

	entries, err := f.shifts.ListCashAdjustments(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "change top-up", entries[0].Description)
	assert.Equal(t, "window cleaner", entries[2].Description)

	recs := shiftRecords(t, f.store)
	require.Len(t, recs, 4)
	assert.Equal(t, remote.ShiftEventFloat, recs[1].Event)
	assert.Equal(t, 100.0, recs[1].OpeningFloat)
	assert.Equal(t, remote.ShiftEventCash, recs[3].Event)
	require.NotNil(t, recs[3].Entry)
	assert.Equal(t, -5.5, recs[3].Entry.Amount)
	assert.Equal(t, 114.5, recs[3].Entry.Balance)

	f.clock.Advance(time.Hour)
	sum, err := f.shifts.CloseShift(ctx, CloseInput{ClosedBy: "amy"})
	require.NoError(t, err)
	assert.Equal(t, 10.0, sum.Meta.NetCash)
}

func TestLedger_PettyCash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.shifts.OpenShift(ctx, "amy")
	require.NoError(t, err)

	require.NoError(t, f.shifts.SetStartingPetty(ctx, testutil.Dec("50"), "amy"))
	f.clock.Advance(time.Minute)
	spent, err := f.shifts.AddPettyCashEntry(ctx, PettyInput{Category: " supplies ", Amount: testutil.Dec("-12.30"), Description: "milk", Actor: "amy"})
	require.NoError(t, err)
	assert.Equal(t, "supplies", spent.Category)
	assert.Equal(t, "37.70", spent.Balance.StringFixed(2))

	f.clock.Advance(time.Minute)
	_, err = f.shifts.AddPettyCashEntry(ctx, PettyInput{Category: "topup", Amount: testutil.Dec("20"), Description: "from safe", Actor: "bob"})
	require.NoError(t, err)

	b, err := f.shifts.PettyBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7.70", b.Net.StringFixed(2))
	assert.Equal(t, "57.70", b.Current.StringFixed(2))

	entries, err := f.shifts.ListPettyCashEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bob", entries[1].Actor)

	cash, err := f.shifts.ListCashAdjustments(ctx)
	require.NoError(t, err)
	assert.Empty(t, cash)

	recs := shiftRecords(t, f.store)
	require.Len(t, recs, 4)
	assert.Equal(t, remote.ShiftEventPettyFloat, recs[1].Event)
	assert.Equal(t, remote.ShiftEventPetty, recs[2].Event)
	assert.Equal(t, "petty", recs[2].Entry.Kind)
}

func TestLedger_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.shifts.AddCashAdjustment(ctx, CashInput{Type: "in", Amount: testutil.Dec("1"), Description: "x"})
	assert.ErrorIs(t, err, ErrNoOpenShift, "ledger needs an open shift")
	_, err = f.shifts.CashBalance(ctx)
	assert.ErrorIs(t, err, ErrNoOpenShift)

	_, err = f.shifts.OpenShift(ctx, "amy")
	require.NoError(t, err)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"unknown cash type", func() error {
			_, err := f.shifts.AddCashAdjustment(ctx, CashInput{Type: "sideways", Amount: testutil.Dec("1"), Description: "x"})
			return err
		}, ErrInvalidCashType},
		{"cash without description", func() error {
			_, err := f.shifts.AddCashAdjustment(ctx, CashInput{Type: "in", Amount: testutil.Dec("1"), Description: "  "})
			return err
		}, ErrDescriptionRequired},
		{"zero cash amount", func() error {
			_, err := f.shifts.AddCashAdjustment(ctx, CashInput{Type: "out", Amount: decimal.Zero, Description: "x"})
			return err
		}, ErrInvalidAmount},
		{"zero petty amount", func() error {
			_, err := f.shifts.AddPettyCashEntry(ctx, PettyInput{Amount: testutil.Dec("0.001"), Description: "x"})
			return err
		}, ErrInvalidAmount},
		{"negative float", func() error {
			return f.shifts.SetStartingFloat(ctx, testutil.Dec("-1"), "amy")
		}, ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, model.IsValidation(err))
		})
	}

	assert.Empty(t, testutil.Audit(t, f.store, store.AuditFilter{Actions: []model.Action{model.ActionCashAdjustment, model.ActionPettyCash}}))
}

func TestLedgers_ClosedShift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.shifts.OpenShift(ctx, "amy")
	require.NoError(t, err)
	_, err = f.shifts.AddCashAdjustment(ctx, CashInput{Type: "in", Amount: testutil.Dec("3"), Description: "tips", Actor: "amy"})
	require.NoError(t, err)
	_, err = f.shifts.CloseShift(ctx, CloseInput{ClosedBy: "amy"})
	require.NoError(t, err)

	cash, petty, err := f.shifts.Ledgers(ctx, "001")
	require.NoError(t, err)
	assert.Len(t, cash.Entries, 1)
	assert.Empty(t, petty.Entries)

	_, _, err = f.shifts.Ledgers(ctx, "999")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
