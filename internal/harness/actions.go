package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/shift"
	"github.com/roach88/till/internal/ticket"
	"github.com/roach88/till/internal/void"
)

// handler runs one scenario operation and returns its result.
type handler func(ctx context.Context, h *Harness, a args) (any, error)

var handlers = map[string]handler{
	"clock.advance": func(_ context.Context, h *Harness, a args) (any, error) {
		d := time.Duration(a.intOr("minutes", 0))*time.Minute + time.Duration(a.intOr("seconds", 0))*time.Second
		h.clock.Advance(d)
		return map[string]any{"now": h.clock.Now()}, nil
	},

	"shift.open": func(ctx context.Context, h *Harness, a args) (any, error) {
		return h.shifts.OpenShift(ctx, a.actor())
	},
	"shift.close": func(ctx context.Context, h *Harness, a args) (any, error) {
		in := shift.CloseInput{ClosedBy: a.actor(), Notes: a.str("notes")}
		var err error
		if in.ClosingFloat, err = a.optDec("closing_float"); err != nil {
			return nil, err
		}
		if in.FloatWithdrawn, err = a.optDec("float_withdrawn"); err != nil {
			return nil, err
		}
		if in.ClosingPetty, err = a.optDec("closing_petty"); err != nil {
			return nil, err
		}
		return h.shifts.CloseShift(ctx, in)
	},
	"shift.float": func(ctx context.Context, h *Harness, a args) (any, error) {
		amount, err := a.dec("amount")
		if err != nil {
			return nil, err
		}
		return nil, h.shifts.SetStartingFloat(ctx, amount, a.actor())
	},
	"shift.pettyFloat": func(ctx context.Context, h *Harness, a args) (any, error) {
		amount, err := a.dec("amount")
		if err != nil {
			return nil, err
		}
		return nil, h.shifts.SetStartingPetty(ctx, amount, a.actor())
	},
	"shift.cash": func(ctx context.Context, h *Harness, a args) (any, error) {
		amount, err := a.dec("amount")
		if err != nil {
			return nil, err
		}
		return h.shifts.AddCashAdjustment(ctx, shift.CashInput{
			Type: a.str("type"), Amount: amount, Description: a.str("description"), Actor: a.actor(),
		})
	},
	"shift.petty": func(ctx context.Context, h *Harness, a args) (any, error) {
		amount, err := a.dec("amount")
		if err != nil {
			return nil, err
		}
		return h.shifts.AddPettyCashEntry(ctx, shift.PettyInput{
			Category: a.str("category"), Amount: amount, Description: a.str("description"), Actor: a.actor(),
		})
	},
	"shift.balance": func(ctx context.Context, h *Harness, _ args) (any, error) {
		cash, err := h.shifts.CashBalance(ctx)
		if err != nil {
			return nil, err
		}
		petty, err := h.shifts.PettyBalance(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"cash": cash, "petty": petty}, nil
	},

	"ticket.open": func(ctx context.Context, h *Harness, a args) (any, error) {
		var d ticket.Details
		if a.has("covers") {
			n := a.intOr("covers", 0)
			d.Covers = &n
		}
		if a.has("notes") {
			s := a.str("notes")
			d.Notes = &s
		}
		return h.tickets.OpenTicket(ctx, a.actor(), d)
	},
	"ticket.update": func(ctx context.Context, h *Harness, a args) (any, error) {
		var p ticket.DetailsPatch
		if a.has("covers") {
			p.SetCovers = true
			if a["covers"] != nil {
				n := a.intOr("covers", 0)
				p.Covers = &n
			}
		}
		if a.has("notes") {
			p.SetNotes = true
			if a["notes"] != nil {
				s := a.str("notes")
				p.Notes = &s
			}
		}
		return h.tickets.UpdateTicketDetails(ctx, a.str("ticket"), a.actor(), p)
	},
	"ticket.saveCart": func(ctx context.Context, h *Harness, a args) (any, error) {
		lines, err := a.lines("lines")
		if err != nil {
			return nil, err
		}
		id := a.str("ticket")
		if err := h.tickets.SaveCart(ctx, id, a.actor(), lines); err != nil {
			return nil, err
		}
		return h.tickets.Items(ctx, id)
	},
	"ticket.pay": func(ctx context.Context, h *Harness, a args) (any, error) {
		method, err := model.ParsePayMethod(a.str("method"))
		if err != nil {
			return nil, err
		}
		tendered, err := a.dec("tendered")
		if err != nil {
			return nil, err
		}
		return h.tickets.PayTicket(ctx, a.str("ticket"), ticket.Payment{
			Method: method, Tendered: model.Float(tendered), Actor: a.actor(),
		})
	},
	"ticket.get": func(ctx context.Context, h *Harness, a args) (any, error) {
		return h.tickets.Get(ctx, a.str("ticket"))
	},

	"void.request": func(ctx context.Context, h *Harness, a args) (any, error) {
		return h.voids.CreateVoidRequest(ctx, void.Request{
			TicketID:     a.str("ticket"),
			ItemName:     a.str("item"),
			ItemSKU:      a.str("sku"),
			RequestedQty: a.intOr("qty", 0),
			ApproverID:   a.str("approver"),
			Reason:       a.str("reason"),
			RequestedBy:  a.actor(),
		})
	},
	"void.approve": func(ctx context.Context, h *Harness, a args) (any, error) {
		return h.voids.ApproveVoidRequest(ctx, a.str("request"), a.str("approver"))
	},
	"void.reject": func(ctx context.Context, h *Harness, a args) (any, error) {
		return h.voids.RejectVoidRequest(ctx, a.str("request"), a.str("approver"), a.str("reason"))
	},
	"void.notifications": func(ctx context.Context, h *Harness, a args) (any, error) {
		return h.voids.Notifications(ctx, a.str("recipient"), false)
	},

	"outbox.drain": func(ctx context.Context, h *Harness, _ args) (any, error) {
		return h.pipeline.Drain(ctx)
	},
	"backup.push": func(ctx context.Context, h *Harness, _ args) (any, error) {
		pushed, err := h.pipeline.PushSnapshot(ctx)
		return map[string]any{"pushed": pushed}, err
	},
	"sync.tickets": func(ctx context.Context, h *Harness, _ args) (any, error) {
		return h.pipeline.SyncOpenTicketsFromRemote(ctx)
	},
	"sync.shift": func(ctx context.Context, h *Harness, _ args) (any, error) {
		return h.pipeline.SyncCurrentShiftFromRemote(ctx)
	},
	"sync.summary": func(ctx context.Context, h *Harness, a args) (any, error) {
		return h.pipeline.FetchShiftSummary(ctx, a.str("shift"))
	},
}

func knownAction(name string) bool {
	_, ok := handlers[name]
	return ok
}

// Actions lists the operations a scenario can invoke.
func Actions() []string {
	out := make([]string, 0, len(handlers))
	for name := range handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// args are a step's arguments after variable substitution.
type args map[string]any

func (a args) has(key string) bool {
	_, ok := a[key]
	return ok
}

func (a args) str(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (a args) actor() string {
	if s := a.str("actor"); s != "" {
		return s
	}
	return "amy"
}

func (a args) intOr(key string, def int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscan(v, &n); err == nil {
			return n
		}
	}
	return def
}

func (a args) dec(key string) (decimal.Decimal, error) {
	d, err := toDecimal(a[key])
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func (a args) optDec(key string) (decimal.NullDecimal, error) {
	if a[key] == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := a.dec(key)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func (a args) lines(key string) ([]model.CartLine, error) {
	raw, ok := a[key].([]any)
	if !ok && a[key] != nil {
		return nil, fmt.Errorf("%s: want a list, got %T", key, a[key])
	}
	lines := make([]model.CartLine, 0, len(raw))
	for i, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: want a map, got %T", key, i, r)
		}
		la := args(m)
		price, err := la.dec("price")
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		lines = append(lines, model.CartLine{
			SKU:   la.str("sku"),
			Name:  la.str("name"),
			Qty:   la.intOr("qty", 0),
			Price: price,
		})
	}
	return lines, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	case nil:
		return decimal.Zero, fmt.Errorf("missing amount")
	default:
		return decimal.Zero, fmt.Errorf("not a number: %v", v)
	}
}
