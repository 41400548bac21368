package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/till/internal/store"
)

func TestSeedShift_IsCurrent(t *testing.T) {
	st := NewStore(t)
	SeedShift(t, st, "012", At(0))

	entries := Audit(t, st, store.AuditFilter{})
	assert.Empty(t, entries, "seeding bypasses the audit log")
	assert.Empty(t, Outbox(t, st, store.OutboxPending))
}

func TestLine(t *testing.T) {
	l := Line("Latte", 2, "3.50")
	assert.Equal(t, "Latte", l.Name)
	assert.Equal(t, 2, l.Qty)
	assert.True(t, l.Price.Equal(Dec("3.5")))
	assert.False(t, l.BasePrice.Valid)
}
