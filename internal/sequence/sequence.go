// Package sequence allocates shift and ticket identifiers.
//
// Allocation is optimistic: a candidate is probed against the store and used
// if free. The store's primary key is the final arbiter, so callers insert
// through Insert, which moves on to the next candidate when the insert is
// rejected with store.ErrDuplicate.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/till/internal/clock"
	"github.com/roach88/till/internal/store"
)

const (
	// MaxProbes bounds the candidates tried per shift ID strategy.
	MaxProbes = 50

	// MaxInsertRetries bounds how often Insert re-allocates after the store
	// rejects a duplicate key.
	MaxInsertRetries = 5
)

// ErrSequenceExhausted is returned when no strategy produced a free shift ID.
var ErrSequenceExhausted = errors.New("sequence exhausted: no free shift id")

// PreferenceKey is the tenant-scoped preference holding the last allocated
// shift ID.
func PreferenceKey(tenant string) string {
	return "lastShiftId:" + tenant
}

// Allocator hands out shift and ticket IDs for one tenant.
type Allocator struct {
	tenant string
	clock  clock.Clock
}

// New returns an allocator for tenant.
func New(tenant string, clk clock.Clock) *Allocator {
	return &Allocator{tenant: tenant, clock: clk}
}

type strategy struct {
	name  string
	start func(ctx context.Context, tx *store.Tx) (int64, bool, error)
}

type probeFunc func(ctx context.Context, id string) (bool, error)

// NextShiftID returns a shift ID that is free in tx. Candidates come from,
// in order: the remembered last ID, the most recently opened shift, the
// same-day shift count, and the current timestamp.
func (a *Allocator) NextShiftID(ctx context.Context, tx *store.Tx) (string, error) {
	return a.firstFree(ctx, tx, a.strategies(), tx.ShiftExists)
}

func (a *Allocator) strategies() []strategy {
	return []strategy{
		{"remembered", func(ctx context.Context, tx *store.Tx) (int64, bool, error) {
			v, ok, err := tx.Preference(ctx, PreferenceKey(a.tenant))
			if err != nil || !ok {
				return 0, false, err
			}
			n, ok := parseNumeric(v)
			return n + 1, ok, nil
		}},
		{"latest", func(ctx context.Context, tx *store.Tx) (int64, bool, error) {
			sh, err := tx.LatestShift(ctx)
			if err != nil || sh == nil {
				return 0, false, err
			}
			n, ok := parseNumeric(sh.ID)
			return n + 1, ok, nil
		}},
		{"same-day", func(ctx context.Context, tx *store.Tx) (int64, bool, error) {
			now := a.clock.Now()
			day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
			n, err := tx.CountShiftsOpenedBetween(ctx, day, day.AddDate(0, 0, 1))
			if err != nil {
				return 0, false, err
			}
			return int64(n) + 1, true, nil
		}},
		{"timestamp", func(ctx context.Context, tx *store.Tx) (int64, bool, error) {
			return a.clock.Now().UnixMilli(), true, nil
		}},
	}
}

func (a *Allocator) firstFree(ctx context.Context, tx *store.Tx, strategies []strategy, exists probeFunc) (string, error) {
	for _, s := range strategies {
		start, ok, err := s.start(ctx, tx)
		if err != nil {
			return "", fmt.Errorf("shift id strategy %s: %w", s.name, err)
		}
		if !ok {
			continue
		}
		for i := int64(0); i < MaxProbes; i++ {
			id := Format(start + i)
			taken, err := exists(ctx, id)
			if err != nil {
				return "", fmt.Errorf("probe shift id %s: %w", id, err)
			}
			if !taken {
				return id, nil
			}
		}
	}
	return "", ErrSequenceExhausted
}

// Remember records id as the tenant's last allocated shift ID when it is
// higher than the one already remembered.
func (a *Allocator) Remember(ctx context.Context, tx *store.Tx, id string) error {
	key := PreferenceKey(a.tenant)
	n, ok := parseNumeric(id)
	if !ok {
		return nil
	}
	prev, found, err := tx.Preference(ctx, key)
	if err != nil {
		return err
	}
	if found {
		if p, ok := parseNumeric(prev); ok && p >= n {
			return nil
		}
	}
	return tx.SetPreference(ctx, key, Format(n), a.clock.Now())
}

// NextTicketID returns a free "<shiftID>-<seq3>" ID, starting from the count
// of the shift's existing tickets plus one.
func (a *Allocator) NextTicketID(ctx context.Context, tx *store.Tx, shiftID string) (string, error) {
	n, err := tx.CountTickets(ctx, store.TicketFilter{ShiftID: shiftID})
	if err != nil {
		return "", err
	}
	for seq := int64(n) + 1; ; seq++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		id := TicketID(shiftID, seq)
		taken, err := tx.TicketExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("probe ticket id %s: %w", id, err)
		}
		if !taken {
			return id, nil
		}
	}
}

// Insert allocates an ID with next and writes it with insert, re-allocating
// when the store reports a duplicate key.
func Insert(ctx context.Context, next func(ctx context.Context) (string, error), insert func(id string) error) (string, error) {
	var lastErr error
	for attempt := 0; attempt < MaxInsertRetries; attempt++ {
		id, err := next(ctx)
		if err != nil {
			return "", err
		}
		err = insert(id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("allocate id after %d attempts: %w", MaxInsertRetries, lastErr)
}

// Format zero-pads n to at least three digits.
func Format(n int64) string {
	return fmt.Sprintf("%03d", n)
}

// TicketID joins a shift ID and a ticket sequence number.
func TicketID(shiftID string, seq int64) string {
	return shiftID + "-" + Format(seq)
}

// NormalizeShiftID pads numeric IDs to three digits ("7" → "007",
// "0012" → "012"). Non-numeric IDs are returned trimmed.
func NormalizeShiftID(raw string) string {
	s := strings.TrimSpace(raw)
	if n, ok := parseNumeric(s); ok {
		return Format(n)
	}
	return s
}

// ShiftAliases returns the distinct spellings under which records of a shift
// may have been written: the ID as given, its normalized form, and its bare
// number.
func ShiftAliases(id string) []string {
	out := []string{}
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(id)
	add(strings.TrimSpace(id))
	add(NormalizeShiftID(id))
	if n, ok := parseNumeric(strings.TrimSpace(id)); ok {
		add(strconv.FormatInt(n, 10))
	}
	return out
}

func parseNumeric(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
