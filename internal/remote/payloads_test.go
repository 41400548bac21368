package remote

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/till/internal/model"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 14, h, m, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nullDec(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: dec(s), Valid: true}
}

func ptr[T any](v T) *T { return &v }

func saleTicket() model.Ticket {
	return model.Ticket{
		ID:        "012-004",
		Name:      "004",
		OpenedBy:  "amy",
		OpenedAt:  at(9, 0),
		Status:    model.TicketClosed,
		Covers:    ptr(2),
		TaxRate:   nullDec("5"),
		ClosedAt:  ptr(at(9, 25)),
		ClosedBy:  "amy",
		PayMethod: model.PayCash,
		PayAmount: dec("7.35"),
		Tendered:  dec("10"),
		Change:    dec("2.65"),
		Subtotal:  dec("7"),
		TaxAmount: dec("0.35"),
		Total:     dec("7.35"),
	}
}

func latte(qty int) model.TicketItem {
	return model.TicketItem{
		ID:         "it-1",
		TicketID:   "012-004",
		SKU:        "LAT-01",
		Name:       "Latte",
		Qty:        qty,
		Price:      dec("3.50"),
		LineTotal:  model.LineTotal(qty, dec("3.50")),
		AddedAt:    at(9, 1),
		BasePrice:  nullDec("3"),
		VariantKey: "oat-milk",
	}
}

func pendingVoid() model.VoidRequest {
	return model.VoidRequest{
		ID:           "v-1",
		TicketID:     "012-004",
		ItemName:     "Latte",
		ItemSKU:      "LAT-01",
		RequestedQty: 2,
		ApproverID:   "mgr",
		Reason:       "spilled",
		RequestedBy:  "amy",
		Status:       model.VoidPending,
		CreatedAt:    at(9, 5),
	}
}

// assertEnvelope wraps payload as the POST body and compares it against the
// named golden file.
func assertEnvelope(t *testing.T, name, action string, payload any) {
	t.Helper()

	body, err := Envelope(action, "acme", payload)
	require.NoError(t, err)

	var decoded any
	require.NoError(t, json.Unmarshal(body, &decoded))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.AssertJson(t, name, decoded)
}

func TestSaleRecord_Golden(t *testing.T) {
	rec := SaleRecord(saleTicket(), []model.TicketItem{latte(2)})
	assertEnvelope(t, "record_ticket_sale", ActionRecordTicket, rec)
}

func TestVoidCorrection_Golden(t *testing.T) {
	tk := saleTicket()
	tk.Status = model.TicketOpen
	tk.ClosedAt = nil
	tk.ClosedBy = ""
	tk.PayMethod = ""
	tk.Tendered = decimal.Zero
	tk.Change = decimal.Zero

	v := pendingVoid()
	v.Status = model.VoidApproved
	v.DecidedBy = "mgr"
	v.DecidedAt = ptr(at(10, 0))

	rec := VoidCorrection(tk, v, latte(5), 2)
	assertEnvelope(t, "record_ticket_void", ActionRecordTicket, rec)
}

func TestVoidCorrection_NoTaxRate(t *testing.T) {
	tk := saleTicket()
	tk.TaxRate = decimal.NullDecimal{}

	rec := VoidCorrection(tk, pendingVoid(), latte(3), 1)

	assert.Equal(t, TicketVoid, rec.Type)
	assert.Equal(t, -3.5, rec.Subtotal)
	assert.Equal(t, 0.0, rec.TaxAmount)
	assert.Equal(t, -3.5, rec.Total)
	require.Len(t, rec.Items, 1)
	assert.Equal(t, -1, rec.Items[0].Qty)
	assert.Equal(t, -3.5, rec.Items[0].LineTotal)
}

func TestShiftPayload_CloseGolden(t *testing.T) {
	sh := model.Shift{
		ID:             "012",
		OpenedAt:       at(9, 0),
		ClosedAt:       ptr(at(17, 30)),
		OpenedBy:       "amy",
		ClosedBy:       "bo",
		Status:         model.ShiftClosed,
		CashSales:      dec("7.35"),
		CardSales:      dec("12.60"),
		PromptPaySales: decimal.Zero,
		TicketsCount:   2,
		ItemsSold:      map[string]int{"Latte": 2, "Scone": 3},
		OpeningFloat:   dec("100"),
		ClosingFloat:   nullDec("107.35"),
		OpeningPetty:   dec("20"),
		ClosingPetty:   nullDec("17"),
	}

	rec := ShiftPayload(ShiftEventClose, sh)
	rec.Meta = &ShiftMeta{
		AvgTicket:     9.98,
		TotalItems:    5,
		NetCash:       0,
		NetPetty:      -3,
		ApprovedVoids: 1,
	}
	assertEnvelope(t, "record_shift_close", ActionRecordShift, rec)
}

func TestShiftPayload_CashEntryGolden(t *testing.T) {
	sh := model.Shift{
		ID:           "012",
		OpenedAt:     at(9, 0),
		OpenedBy:     "amy",
		Status:       model.ShiftOpen,
		ItemsSold:    map[string]int{},
		OpeningFloat: dec("100"),
	}

	rec := ShiftPayload(ShiftEventCash, sh)
	rec.Entry = &LedgerEntry{
		Kind:        "cash",
		Type:        model.CashOut,
		Amount:      -5,
		Description: "change run",
		Balance:     95,
	}
	assertEnvelope(t, "record_shift_cash", ActionRecordShift, rec)
}

func TestVoidPayload_RejectedGolden(t *testing.T) {
	v := pendingVoid()
	v.Status = model.VoidRejected
	v.DecidedBy = "mgr"
	v.DecidedAt = ptr(at(10, 0))
	v.DecisionNote = "not verified"

	assertEnvelope(t, "record_void_rejected", ActionRecordVoid, VoidPayload(VoidEventRejected, v))
}

func TestVoidPayload_PendingOmitsDecision(t *testing.T) {
	rec := VoidPayload(VoidEventRequested, pendingVoid())

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.NotContains(t, fields, "decidedAt")
	assert.NotContains(t, fields, "decidedBy")
	assert.Equal(t, "012", fields["shiftId"])
}

func TestPage_Golden(t *testing.T) {
	p := Page{
		User:    "mgr",
		Title:   "Void request",
		Body:    "amy asks to void 2 x Latte on 012-004: spilled",
		RefType: "void_request",
		RefID:   "v-1",
	}
	assertEnvelope(t, "page_user", ActionPageUser, p)
}

func TestSnapshotOf_Golden(t *testing.T) {
	first := saleTicket()
	first.Status = model.TicketOpen
	first.ClosedAt = nil

	second := model.Ticket{
		ID:       "012-005",
		Name:     "005",
		OpenedBy: "amy",
		OpenedAt: at(9, 0),
		Status:   model.TicketOpen,
		Notes:    ptr("window"),
	}

	items := map[string][]model.TicketItem{
		"012-004": {
			latte(2),
			{ID: "it-2", TicketID: "012-004", Name: "Scone", Qty: 1, Price: dec("2.25"), LineTotal: dec("2.25")},
		},
	}

	snap := SnapshotOf([]model.Ticket{first, second}, items, at(10, 0))
	assertEnvelope(t, "save_open_tickets_snapshot", ActionSaveOpenTicketsSnapshot, snap)
}

func TestEnvelope_PayloadFieldsCannotOverrideDiscriminators(t *testing.T) {
	body, err := Envelope(ActionPageUser, "acme", map[string]any{"action": "other", "tenant": "evil", "user": "mgr"})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.Equal(t, ActionPageUser, fields["action"])
	assert.Equal(t, "acme", fields["tenant"])
	assert.Equal(t, "mgr", fields["user"])
}

func TestEnvelope_RejectsNonObject(t *testing.T) {
	_, err := Envelope(ActionPageUser, "acme", []int{1, 2})
	assert.Error(t, err)

	body, err := Envelope(ActionListOpenTickets, "acme", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"listOpenTickets","tenant":"acme"}`, string(body))
}
