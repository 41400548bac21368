package void

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
	"github.com/roach88/till/internal/store"
	"github.com/roach88/till/internal/testutil"
	"github.com/roach88/till/internal/ticket"
)

type fixture struct {
	voids   *Manager
	tickets *ticket.Manager
	store   *store.Store
	clock   *clock.Fake
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := testutil.NewStore(t)
	clk := clock.NewFake(testutil.At(10))
	testutil.SeedShift(t, st, "012", testutil.At(0))
	return fixture{
		voids: New(st, clk, zap.NewNop(), Config{PageAttempts: 5, RecordAttempts: 3}),
		tickets: ticket.New(st, clk, zap.NewNop(), ticket.Config{
			Tenant:         "acme",
			TaxRate:        func() decimal.Decimal { return decimal.Zero },
			RecordAttempts: 3,
		}),
		store: st,
		clock: clk,
	}
}

func (f fixture) ticketWith(t *testing.T, lines ...model.CartLine) string {
	t.Helper()
	ctx := context.Background()
	tk, err := f.tickets.OpenTicket(ctx, "amy", ticket.Details{})
	require.NoError(t, err)
	require.NoError(t, f.tickets.SaveCart(ctx, tk.ID, "amy", lines))
	return tk.ID
}

func (f fixture) request(t *testing.T, ticketID, item string, qty int) model.VoidRequest {
	t.Helper()
	v, err := f.voids.CreateVoidRequest(context.Background(), Request{
		TicketID:     ticketID,
		ItemName:     item,
		RequestedQty: qty,
		ApproverID:   "bob",
		Reason:       "spilled",
		RequestedBy:  "amy",
	})
	require.NoError(t, err)
	return v
}

func (f fixture) items(t *testing.T, ticketID string) []model.TicketItem {
	t.Helper()
	items, err := f.tickets.Items(context.Background(), ticketID)
	require.NoError(t, err)
	return items
}

func TestCreateVoidRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.ticketWith(t, testutil.Line("Latte", 5, "3.00"))

	v := f.request(t, id, "latte", 2)
	assert.Equal(t, model.VoidPending, v.Status)
	assert.True(t, v.CreatedAt.Equal(testutil.At(10)))
	assert.Nil(t, v.DecidedAt)

	pending, err := f.voids.ListPending(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, v.ID, pending[0].ID)

	others, err := f.voids.ListPending(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, others)

	inbox, err := f.voids.Notifications(ctx, "bob", true)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, model.NotifyVoidRequested, inbox[0].Kind)
	assert.Equal(t, v.ID, inbox[0].RefID)
	assert.Contains(t, inbox[0].Body, "spilled")

	requested := testutil.Audit(t, f.store, store.AuditFilter{Actions: []model.Action{model.ActionVoidRequested}})
	require.Len(t, requested, 1)
	assert.Equal(t, "012", requested[0].ShiftID)
	assert.Equal(t, "amy", requested[0].Actor)

	var pages []store.OutboxEntry
	for _, e := range testutil.Outbox(t, f.store, store.OutboxPending) {
		if e.Action == remote.ActionPageUser {
			pages = append(pages, e)
		}
	}
	require.Len(t, pages, 1)
	assert.Equal(t, 5, pages[0].MaxAttempts)
	var page remote.Page
	require.NoError(t, json.Unmarshal(pages[0].Payload, &page))
	assert.Equal(t, "bob", page.User)
	assert.Equal(t, v.ID, page.RefID)

	require.NoError(t, f.voids.MarkRead(ctx, inbox[0].ID))
	unread, err := f.voids.Notifications(ctx, "bob", true)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestCreateVoidRequest_Validation(t *testing.T) {
	f := newFixture(t)
	id := f.ticketWith(t, testutil.Line("Latte", 2, "3.00"))

	valid := Request{TicketID: id, ItemName: "Latte", RequestedQty: 1, ApproverID: "bob", Reason: "spilled"}
	tests := []struct {
		name   string
		mutate func(r *Request)
		want   error
	}{
		{"zero qty", func(r *Request) { r.RequestedQty = 0 }, ErrInvalidQty},
		{"negative qty", func(r *Request) { r.RequestedQty = -1 }, ErrInvalidQty},
		{"blank reason", func(r *Request) { r.Reason = "  " }, ErrReasonRequired},
		{"no approver", func(r *Request) { r.ApproverID = "" }, ErrApproverRequired},
		{"no item", func(r *Request) { r.ItemName = "" }, ErrItemRequired},
		{"more than on ticket", func(r *Request) { r.RequestedQty = 3 }, ErrQtyExceedsTicket},
		{"item not on ticket", func(r *Request) { r.ItemName = "Scone" }, ErrQtyExceedsTicket},
		{"unknown ticket", func(r *Request) { r.TicketID = "012-099" }, ErrTicketNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			_, err := f.voids.CreateVoidRequest(context.Background(), r)
			assert.ErrorIs(t, err, tt.want)
			_, ok := model.AsFailure(err)
			assert.True(t, ok, "failures are typed")
		})
	}

	assert.Empty(t, testutil.Audit(t, f.store, store.AuditFilter{Actions: []model.Action{model.ActionVoidRequested}}))
}

func TestApproveVoidRequest_ReducesLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.ticketWith(t, testutil.Line("Latte", 5, "3.00"), testutil.Line("Muffin", 1, "2.50"))
	v := f.request(t, id, "Latte", 2)

	f.clock.Advance(5 * time.Minute)
	got, err := f.voids.ApproveVoidRequest(ctx, v.ID, "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.VoidApproved, got.Status)
	assert.Equal(t, "bob", got.DecidedBy)
	require.NotNil(t, got.DecidedAt)
	assert.True(t, got.DecidedAt.Equal(testutil.At(15)))

	items := f.items(t, id)
	require.Len(t, items, 2)
	assert.Equal(t, "Latte", items[0].Name)
	assert.Equal(t, 3, items[0].Qty)
	assert.Equal(t, "9.00", items[0].LineTotal.StringFixed(2))
	assert.Equal(t, 1, items[1].Qty)

	adjusted := testutil.Audit(t, f.store, store.AuditFilter{Actions: []model.Action{model.ActionVoidCartAdjusted}})
	require.Len(t, adjusted, 1)
	ev, ok := adjusted[0].Event.(model.VoidCartAdjusted)
	require.True(t, ok)
	assert.Equal(t, 5, ev.FromQty)
	assert.Equal(t, 3, ev.ToQty)
	assert.False(t, ev.Removed)

	approved := testutil.Audit(t, f.store, store.AuditFilter{Actions: []model.Action{model.ActionVoidApproved}})
	require.Len(t, approved, 1)
	assert.True(t, approved[0].Event.(model.VoidApprovedEvent).Applied)
	assert.Equal(t, "bob", approved[0].Actor)

	inbox, err := f.voids.Notifications(ctx, "amy", false)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, model.NotifyVoidApproved, inbox[0].Kind)

	pending := testutil.Outbox(t, f.store, store.OutboxPending)
	require.NotEmpty(t, pending)
	latest := pending[0]
	assert.Equal(t, remote.ActionRecordTicket, latest.Action)
	var rec remote.TicketRecord
	require.NoError(t, json.Unmarshal(latest.Payload, &rec))
	assert.Equal(t, remote.TicketVoid, rec.Type)
	assert.Equal(t, v.ID, rec.VoidRequestID)
	assert.Equal(t, -6.0, rec.Total)
	require.Len(t, rec.Items, 1)
	assert.Equal(t, -2, rec.Items[0].Qty)
}

func TestApproveVoidRequest_FloorsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.ticketWith(t, testutil.Line("Latte", 3, "3.00"), testutil.Line("Muffin", 1, "2.50"))
	v := f.request(t, id, "Latte", 3)

	// The line shrinks after the request was made.
	require.NoError(t, f.tickets.SaveCart(ctx, id, "amy", []model.CartLine{
		testutil.Line("Latte", 1, "3.00"),
		testutil.Line("Muffin", 1, "2.50"),
	}))

	_, err := f.voids.ApproveVoidRequest(ctx, v.ID, "carol")
	require.NoError(t, err)

	items := f.items(t, id)
	require.Len(t, items, 1, "line reduced to zero is deleted")
	assert.Equal(t, "Muffin", items[0].Name)

	adjusted := testutil.Audit(t, f.store, store.AuditFilter{Actions: []model.Action{model.ActionVoidCartAdjusted}})
	require.Len(t, adjusted, 1)
	ev := adjusted[0].Event.(model.VoidCartAdjusted)
	assert.Equal(t, 1, ev.FromQty)
	assert.Equal(t, 0, ev.ToQty)
	assert.True(t, ev.Removed)
	assert.Equal(t, "carol", adjusted[0].Actor)

	var rec remote.TicketRecord
	require.NoError(t, json.Unmarshal(testutil.Outbox(t, f.store, store.OutboxPending)[0].Payload, &rec))
	assert.Equal(t, -1, rec.Items[0].Qty, "correction covers only what was removed")
}

func TestApproveVoidRequest_NoMatchingLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.ticketWith(t, testutil.Line("Latte", 1, "3.00"), testutil.Line("Muffin", 1, "2.50"))
	v := f.request(t, id, "Muffin", 1)
	require.NoError(t, f.tickets.SaveCart(ctx, id, "amy", []model.CartLine{testutil.Line("Latte", 1, "3.00")}))

	got, err := f.voids.ApproveVoidRequest(ctx, v.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.VoidApproved, got.Status)

	assert.Empty(t, testutil.Audit(t, f.store, store.AuditFilter{Actions: []model.Action{model.ActionVoidCartAdjusted}}))
	approved := testutil.Audit(t, f.store, store.AuditFilter{Actions: []model.Action{model.ActionVoidApproved}})
	require.Len(t, approved, 1)
	assert.False(t, approved[0].Event.(model.VoidApprovedEvent).Applied)

	latest := testutil.Outbox(t, f.store, store.OutboxPending)[0]
	assert.Equal(t, remote.ActionRecordVoid, latest.Action)
	var rec remote.VoidRecord
	require.NoError(t, json.Unmarshal(latest.Payload, &rec))
	assert.Equal(t, remote.VoidEventApproved, rec.Event)
	assert.Equal(t, "approved", rec.Status)
}

func TestApproveVoidRequest_DecidedIsFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.ticketWith(t, testutil.Line("Latte", 5, "3.00"))

	approved := f.request(t, id, "Latte", 1)
	_, err := f.voids.ApproveVoidRequest(ctx, approved.ID, "")
	require.NoError(t, err)

	_, err = f.voids.ApproveVoidRequest(ctx, approved.ID, "")
	assert.ErrorIs(t, err, ErrAlreadyDecided)
	assert.True(t, model.IsPrecondition(err))
	assert.Equal(t, 4, f.items(t, id)[0].Qty, "second approval must not apply again")

	_, err = f.voids.RejectVoidRequest(ctx, approved.ID, "", "")
	assert.ErrorIs(t, err, ErrAlreadyDecided)

	rejected := f.request(t, id, "Latte", 1)
	_, err = f.voids.RejectVoidRequest(ctx, rejected.ID, "", "")
	require.NoError(t, err)
	_, err = f.voids.ApproveVoidRequest(ctx, rejected.ID, "")
	assert.ErrorIs(t, err, ErrAlreadyDecided)
	assert.Equal(t, 4, f.items(t, id)[0].Qty)
}

func TestDecide_MissingRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.voids.ApproveVoidRequest(ctx, "nope", "bob")
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = f.voids.RejectVoidRequest(ctx, "nope", "bob", "")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestRejectVoidRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.ticketWith(t, testutil.Line("Latte", 5, "3.00"))
	v := f.request(t, id, "Latte", 2)

	got, err := f.voids.RejectVoidRequest(ctx, v.ID, "bob", "  customer changed mind ")
	require.NoError(t, err)
	assert.Equal(t, model.VoidRejected, got.Status)
	assert.Equal(t, "customer changed mind", got.DecisionNote)

	assert.Equal(t, 5, f.items(t, id)[0].Qty)

	stored, err := f.voids.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VoidRejected, stored.Status)
	assert.Equal(t, "bob", stored.DecidedBy)

	rejected := testutil.Audit(t, f.store, store.AuditFilter{Actions: []model.Action{model.ActionVoidRejected}})
	require.Len(t, rejected, 1)
	assert.Equal(t, "customer changed mind", rejected[0].Event.(model.VoidRejectedEvent).Reason)

	inbox, err := f.voids.Notifications(ctx, "amy", false)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, model.NotifyVoidRejected, inbox[0].Kind)
	assert.Contains(t, inbox[0].Body, "customer changed mind")

	latest := testutil.Outbox(t, f.store, store.OutboxPending)[0]
	assert.Equal(t, remote.ActionRecordVoid, latest.Action)
	assert.Equal(t, 3, latest.MaxAttempts)

	pending, err := f.voids.ListPending(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}
