// Package ids generates row identifiers for the ledger store.
//
// Three schemes are used, each for the property it provides:
//   - RowID: UUIDv7 for mutable rows (ticket items, void requests,
//     notifications); time-sortable and collision-free across instances
//   - AuditID: ULID stamped with the ledger clock, monotonic within a
//     millisecond, so audit rows sort in the order they were written
//   - Node: snowflake IDs for outbox entries, with the node number
//     identifying the client instance that produced the event
//
// Shift and ticket IDs are human-facing sequences and are allocated by the
// sequence package instead.
package ids

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// RowID returns a new UUIDv7 string.
//
// Panics if UUID generation fails (should never happen in practice).
func RowID() string {
	return uuid.Must(uuid.NewV7()).String()
}

var (
	auditMu      sync.Mutex
	auditEntropy = ulid.Monotonic(rand.Reader, 0)
)

// AuditID returns a ULID for an audit row written at t. IDs generated for
// the same millisecond increase monotonically.
func AuditID(t time.Time) string {
	auditMu.Lock()
	defer auditMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), auditEntropy).String()
}

// NewNode creates a snowflake node for the given instance number (0-1023).
func NewNode(instance int64) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(instance)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", instance, err)
	}
	return node, nil
}
