package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a unit of work against the ledger. Obtain one from Store.WithTx for
// writes or Store.View for reads.
type Tx struct {
	q        querier
	outboxID *snowflake.Node

	ticketsDirty bool
	outboxDirty  bool
	quiet        bool
}

// MarkTicketsDirty flags that the open-ticket snapshot changed. Ticket and
// item writes set it automatically.
func (tx *Tx) MarkTicketsDirty() { tx.ticketsDirty = true }

// Quiet suppresses OnTicketsChanged listeners for this transaction. Used when
// the change itself came from the remote and must not be pushed back.
func (tx *Tx) Quiet() { tx.quiet = true }

type scanner interface {
	Scan(dest ...any) error
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return millis(*t)
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}
