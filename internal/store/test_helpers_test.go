package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/till/internal/model"
)

var testEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testTime returns the test epoch plus n minutes.
func testTime(n int) time.Time {
	return testEpoch.Add(time.Duration(n) * time.Minute)
}

func testShift(id string, openedAt time.Time) model.Shift {
	return model.Shift{
		ID:        id,
		OpenedAt:  openedAt,
		OpenedBy:  "amy",
		Status:    model.ShiftOpen,
		ItemsSold: map[string]int{},
	}
}

func testTicket(id string, openedAt time.Time) model.Ticket {
	return model.Ticket{
		ID:       id,
		Name:     id[len(id)-3:],
		OpenedBy: "amy",
		OpenedAt: openedAt,
		Status:   model.TicketOpen,
		TaxRate:  decimal.NewNullDecimal(decimal.NewFromInt(7)),
	}
}

func testItem(id, name string, qty int, price string) model.TicketItem {
	p := decimal.RequireFromString(price)
	return model.TicketItem{
		ID:        id,
		Name:      name,
		Qty:       qty,
		Price:     p,
		LineTotal: model.LineTotal(qty, p),
		AddedAt:   testTime(2),
	}
}

func seedShift(t *testing.T, s *Store, id string) {
	t.Helper()
	ctx := context.Background()
	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertShift(ctx, testShift(id, testTime(0)))
	})
	if err != nil {
		t.Fatalf("seed shift %s: %v", id, err)
	}
}

func seedTicket(t *testing.T, s *Store, id string, items ...model.TicketItem) {
	t.Helper()
	ctx := context.Background()
	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertTicket(ctx, testTicket(id, testTime(1))); err != nil {
			return err
		}
		return tx.ReplaceItems(ctx, id, items)
	})
	if err != nil {
		t.Fatalf("seed ticket %s: %v", id, err)
	}
}
