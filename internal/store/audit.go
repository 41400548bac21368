package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/till/internal/ids"
	"github.com/roach88/till/internal/model"
)

// Record appends ev to the audit log as written by actor at at.
func (tx *Tx) Record(ctx context.Context, at time.Time, actor string, ev model.Event) error {
	return tx.AppendAudit(ctx, model.NewAuditEntry(ids.AuditID(at), at, actor, ev))
}

// AppendAudit writes one audit entry. Uses ON CONFLICT(id) DO NOTHING so a
// retried write of the same entry is a no-op.
func (tx *Tx) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	details, err := model.EncodeEvent(e.Event)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	_, err = tx.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, action, entity, entity_id, actor, shift_id, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, e.ID, millis(e.Timestamp), string(e.Action), e.Entity, e.EntityID, e.Actor, e.ShiftID, details)
	if err != nil {
		return wrap("append audit", err)
	}
	return nil
}

// AuditFilter narrows ListAudit. Empty fields match all.
type AuditFilter struct {
	Actions  []model.Action
	ShiftIDs []string
	Entity   string
	EntityID string
}

// ListAudit returns matching entries in write order (timestamp, then ID).
// Each entry's details are decoded into their typed event variant.
func (tx *Tx) ListAudit(ctx context.Context, f AuditFilter) ([]model.AuditEntry, error) {
	var conds []string
	var args []any
	if len(f.Actions) > 0 {
		conds = append(conds, "action IN ("+placeholders(len(f.Actions))+")")
		for _, a := range f.Actions {
			args = append(args, string(a))
		}
	}
	if len(f.ShiftIDs) > 0 {
		conds = append(conds, "shift_id IN ("+placeholders(len(f.ShiftIDs))+")")
		for _, id := range f.ShiftIDs {
			args = append(args, id)
		}
	}
	if f.Entity != "" {
		conds = append(conds, "entity = ?")
		args = append(args, f.Entity)
	}
	if f.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, f.EntityID)
	}

	query := `SELECT id, ts, action, entity, entity_id, actor, shift_id, details FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY ts ASC, id COLLATE BINARY ASC`

	rows, err := tx.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	out := []model.AuditEntry{}
	for rows.Next() {
		var e model.AuditEntry
		var ts int64
		var action, details string
		if err := rows.Scan(&e.ID, &ts, &action, &e.Entity, &e.EntityID, &e.Actor, &e.ShiftID, &details); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp = fromMillis(ts)
		e.Action = model.Action(action)
		ev, err := model.DecodeEvent(e.Action, details)
		if err != nil {
			return nil, fmt.Errorf("audit entry %s: %w", e.ID, err)
		}
		e.Event = ev
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
