package devremote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/till/internal/clock"
	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/remote"
	"github.com/roach88/till/internal/replication"
	"github.com/roach88/till/internal/shift"
	"github.com/roach88/till/internal/testutil"
	"github.com/roach88/till/internal/ticket"
	"github.com/roach88/till/internal/void"
)

const secret = "dev-secret"

func newServer(t *testing.T) (*Server, *httptest.Server, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(testutil.At(0))
	srv := New(Options{Secret: secret, Clock: clk})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts, clk
}

func newClient(ts *httptest.Server, tenant string, clk clock.Clock, opts ...remote.HTTPOption) *remote.HTTPClient {
	return remote.NewHTTPClient(ts.URL+Path, tenant, 2*time.Second, clk, opts...)
}

func signed(clk clock.Clock) remote.HTTPOption {
	return remote.WithSigner(remote.NewSigner(secret, time.Minute, clk))
}

func TestServer_RejectsMissingToken(t *testing.T) {
	_, ts, clk := newServer(t)
	c := newClient(ts, "acme", clk)

	err := c.Post(context.Background(), remote.ActionRecordShift, map[string]any{"shiftId": "001"})
	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
}

func TestServer_RejectsOtherTenantsToken(t *testing.T) {
	_, ts, clk := newServer(t)
	signer := remote.NewSigner(secret, time.Minute, clk)
	token, err := signer.Token("globex")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + Path + "?action=getCurrentShift&tenant=acme&token=" + token)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_TokenQueryFallback(t *testing.T) {
	_, ts, clk := newServer(t)
	token, err := remote.NewSigner(secret, time.Minute, clk).Token("acme")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + Path + "?action=listOpenTickets&tenant=acme&token=" + token)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		OK      bool  `json:"ok"`
		Tickets []any `json:"tickets"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.OK)
	assert.Empty(t, body.Tickets)
}

func TestServer_UnknownActionIsRejected(t *testing.T) {
	_, ts, clk := newServer(t)
	c := newClient(ts, "acme", clk, signed(clk))

	err := c.Post(context.Background(), "launchRocket", map[string]any{})
	assert.ErrorIs(t, err, remote.ErrRejected)
}

func TestServer_ShiftLifecycle(t *testing.T) {
	srv, ts, clk := newServer(t)
	c := newClient(ts, "acme", clk, signed(clk))
	ctx := context.Background()

	sh, err := c.GetCurrentShift(ctx)
	require.NoError(t, err)
	assert.Nil(t, sh, "no shift before open")

	open := remote.ShiftPayload(remote.ShiftEventOpen, model.Shift{
		ID: "004", OpenedAt: testutil.At(0), OpenedBy: "amy", Status: model.ShiftOpen,
	})
	require.NoError(t, c.Post(ctx, remote.ActionRecordShift, open))

	sh, err = c.GetCurrentShift(ctx)
	require.NoError(t, err)
	require.NotNil(t, sh)
	assert.Equal(t, "004", sh.ID)
	assert.Equal(t, model.ShiftOpen, sh.Status)
	assert.True(t, testutil.At(0).Equal(sh.OpenedAt))

	sale := remote.TicketRecord{
		Type: remote.TicketSale, TicketID: "004-001", ShiftID: "004", PayMethod: "cash", Total: 7,
		Items: []remote.LineItem{{Name: "Latte", Qty: 2, Price: 3.5, LineTotal: 7}},
	}
	require.NoError(t, c.Post(ctx, remote.ActionRecordTicket, sale))

	sum, err := c.ShiftSummary(ctx, "004")
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.True(t, decimal.NewFromInt(7).Equal(sum.CashSales))
	assert.Equal(t, 1, sum.TicketsCount)
	assert.Equal(t, map[string]int{"Latte": 2}, sum.ItemsSold)

	closed := open
	closed.Event = remote.ShiftEventClose
	closed.Status = string(model.ShiftClosed)
	require.NoError(t, c.Post(ctx, remote.ActionRecordShift, closed))
	sh, err = c.GetCurrentShift(ctx)
	require.NoError(t, err)
	assert.Nil(t, sh, "closing the current shift clears it")

	assert.Len(t, srv.Events("acme"), 3)
	assert.Empty(t, srv.Events("globex"))
}

func TestServer_VoidCorrectionAdjustsSale(t *testing.T) {
	srv, ts, clk := newServer(t)
	c := newClient(ts, "acme", clk, signed(clk))
	ctx := context.Background()

	sale := remote.TicketRecord{
		Type: remote.TicketSale, TicketID: "001-001", ShiftID: "001", Total: 10.5, Subtotal: 10.5,
		Items: []remote.LineItem{{Name: "Latte", Qty: 3, Price: 3.5, LineTotal: 10.5}},
	}
	require.NoError(t, c.Post(ctx, remote.ActionRecordTicket, sale))
	correction := remote.TicketRecord{
		Type: remote.TicketVoid, TicketID: "001-001", ShiftID: "001", Total: -3.5, Subtotal: -3.5,
		Items: []remote.LineItem{{Name: "Latte", Qty: -1, Price: 3.5, LineTotal: -3.5}},
	}
	require.NoError(t, c.Post(ctx, remote.ActionRecordTicket, correction))

	got, ok := srv.Sale("acme", "001-001")
	require.True(t, ok)
	assert.Equal(t, 2, got.Items[0].Qty)
	assert.InDelta(t, 7.0, got.Total, 1e-9)
}

// TestPipeline_EndToEnd drives the ledger managers and drains their outbox
// into the server over HTTP.
func TestPipeline_EndToEnd(t *testing.T) {
	srv, ts, clk := newServer(t)
	ctx := context.Background()
	st := testutil.NewStore(t)
	log := zap.NewNop()

	shifts := shift.New(st, clk, log, shift.Config{Tenant: "acme", RecordAttempts: 3})
	tickets := ticket.New(st, clk, log, ticket.Config{
		Tenant:         "acme",
		TaxRate:        func() decimal.Decimal { return decimal.Zero },
		RecordAttempts: 3,
	})
	voids := void.New(st, clk, log, void.Config{PageAttempts: 2, RecordAttempts: 3})
	pipe := replication.New(st, newClient(ts, "acme", clk, signed(clk)), clk, log, nil,
		replication.Config{Tenant: "acme", Debounce: time.Hour})
	t.Cleanup(pipe.Close)

	opened, err := shifts.OpenShift(ctx, "amy")
	require.NoError(t, err)
	tk, err := tickets.OpenTicket(ctx, "amy", ticket.Details{})
	require.NoError(t, err)
	require.NoError(t, tickets.SaveCart(ctx, tk.ID, "amy", []model.CartLine{testutil.Line("Latte", 3, "3.50")}))
	_, err = tickets.PayTicket(ctx, tk.ID, ticket.Payment{Method: model.PayCash, Tendered: 20, Actor: "amy"})
	require.NoError(t, err)

	req, err := voids.CreateVoidRequest(ctx, void.Request{
		TicketID: tk.ID, ItemName: "latte", RequestedQty: 1,
		ApproverID: "carol", Reason: "spilled", RequestedBy: "amy",
	})
	require.NoError(t, err)
	_, err = voids.ApproveVoidRequest(ctx, req.ID, "carol")
	require.NoError(t, err)

	res, err := pipe.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Failed+res.Dropped)
	assert.Equal(t, 4, res.Sent, "shift open, sale, page and correction")

	sale, ok := srv.Sale("acme", tk.ID)
	require.True(t, ok)
	assert.Equal(t, 2, sale.Items[0].Qty, "the correction reduced the sale")
	pages := srv.Pages("acme")
	require.Len(t, pages, 1)
	assert.Equal(t, "carol", pages[0].User)

	// A fresh till converges on the remote's shift.
	other := testutil.NewStore(t)
	pull := replication.New(other, newClient(ts, "acme", clk, signed(clk)), clk, log, nil,
		replication.Config{Tenant: "acme", Debounce: time.Hour})
	t.Cleanup(pull.Close)
	sh, err := pull.SyncCurrentShiftFromRemote(ctx)
	require.NoError(t, err)
	require.NotNil(t, sh)
	assert.Equal(t, opened.ShiftID, sh.ID)
}

func TestServer_SnapshotRoundTrip(t *testing.T) {
	srv, ts, clk := newServer(t)
	ctx := context.Background()
	st := testutil.NewStore(t)
	testutil.SeedShift(t, st, "001", testutil.At(-10))
	tickets := ticket.New(st, clk, zap.NewNop(), ticket.Config{
		Tenant:  "acme",
		TaxRate: func() decimal.Decimal { return decimal.Zero },
	})
	pipe := replication.New(st, newClient(ts, "acme", clk, signed(clk)), clk, zap.NewNop(), nil,
		replication.Config{Tenant: "acme", Debounce: time.Hour})
	t.Cleanup(pipe.Close)

	tk, err := tickets.OpenTicket(ctx, "amy", ticket.Details{})
	require.NoError(t, err)
	require.NoError(t, tickets.SaveCart(ctx, tk.ID, "amy", []model.CartLine{testutil.Line("Muffin", 2, "2.50")}))
	require.NoError(t, pipe.Flush(ctx))

	snap := srv.OpenTickets("acme")
	require.Len(t, snap, 1)
	assert.Equal(t, tk.ID, snap[0].TicketID)

	// Pulling the same set back leaves the local ticket in place.
	res, err := pipe.SyncOpenTicketsFromRemote(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, res.Tickets)
	assert.Equal(t, 1, res.Items)

	items, err := tickets.Items(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Qty)
	assert.True(t, testutil.Dec("5.00").Equal(items[0].LineTotal))
}
