// Package testutil provides shared fixtures for tests that drive the ledger
// through a real SQLite store.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/store"
)

// Epoch is the instant fixtures are anchored to: 2026-03-14 09:00 UTC.
var Epoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// At returns Epoch plus n minutes.
func At(n int) time.Time {
	return Epoch.Add(time.Duration(n) * time.Minute)
}

// Dec parses a decimal literal, panicking on malformed input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// NewStore opens a store in a temp directory and closes it when the test
// ends.
func NewStore(t testing.TB) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "till.db")
	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// SeedShift writes an open shift directly, bypassing the shift manager.
func SeedShift(t testing.TB, st *store.Store, id string, openedAt time.Time) model.Shift {
	t.Helper()
	sh := model.Shift{
		ID:        id,
		OpenedAt:  openedAt,
		OpenedBy:  "amy",
		Status:    model.ShiftOpen,
		ItemsSold: map[string]int{},
	}
	ctx := context.Background()
	if err := st.WithTx(ctx, func(tx *store.Tx) error { return tx.InsertShift(ctx, sh) }); err != nil {
		t.Fatalf("seed shift %s: %v", id, err)
	}
	return sh
}

// Line builds a cart line of qty units at price.
func Line(name string, qty int, price string) model.CartLine {
	return model.CartLine{Name: name, Qty: qty, Price: Dec(price)}
}

// Audit returns every audit entry matching f.
func Audit(t testing.TB, st *store.Store, f store.AuditFilter) []model.AuditEntry {
	t.Helper()
	var out []model.AuditEntry
	ctx := context.Background()
	err := st.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListAudit(ctx, f)
		return err
	})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	return out
}

// Outbox returns outbox entries with status, newest first. An empty status
// matches all.
func Outbox(t testing.TB, st *store.Store, status store.OutboxStatus) []store.OutboxEntry {
	t.Helper()
	var out []store.OutboxEntry
	ctx := context.Background()
	err := st.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListOutbox(ctx, status, 0)
		return err
	})
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	return out
}
