package replication

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/till/internal/ids"
	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/sequence"
	"github.com/roach88/till/internal/store"
)

// SyncResult describes one open-ticket reconcile.
type SyncResult struct {
	// Removed is the number of local open tickets deleted.
	Removed int `json:"removed"`
	// Tickets and Items count what was written from the remote.
	Tickets int `json:"tickets"`
	Items   int `json:"items"`
	// Skipped lists remote tickets already closed locally.
	Skipped []string `json:"skipped,omitempty"`
}

// SyncOpenTicketsFromRemote replaces the local open-ticket set with the
// remote's. A remote ticket that is closed locally is skipped: a closed
// ticket is final, and the remote has not yet seen its payment. Nothing is
// pushed back.
func (p *Pipeline) SyncOpenTicketsFromRemote(ctx context.Context) (SyncResult, error) {
	remoteTickets, err := p.client.ListOpenTickets(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("fetch open tickets: %w", err)
	}

	var res SyncResult
	err = p.store.WithTx(ctx, func(tx *store.Tx) error {
		tx.Quiet()
		res = SyncResult{}
		removed, err := tx.DeleteOpenTickets(ctx)
		if err != nil {
			return err
		}
		res.Removed = removed

		for _, ot := range remoteTickets {
			closed, err := tx.TicketExists(ctx, ot.Ticket.ID)
			if err != nil {
				return err
			}
			if closed {
				res.Skipped = append(res.Skipped, ot.Ticket.ID)
				continue
			}
			t := ot.Ticket
			t.Status = model.TicketOpen
			if err := tx.InsertTicket(ctx, t); err != nil {
				return err
			}
			// Remote line IDs are only unique on the remote; closed local
			// tickets keep their own lines in the same table.
			items := make([]model.TicketItem, len(ot.Items))
			for i, it := range ot.Items {
				it.ID = ids.RowID()
				items[i] = it
			}
			if err := tx.ReplaceItems(ctx, t.ID, items); err != nil {
				return err
			}
			res.Tickets++
			res.Items += len(items)
		}
		return tx.Record(ctx, p.clock.Now(), syncActor, model.TicketsSynced{
			Removed: res.Removed,
			Tickets: res.Tickets,
			Items:   res.Items,
		})
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("reconcile open tickets: %w", err)
	}

	// The reconciled set is what the remote holds; the next backup push
	// should compare against it.
	p.rememberSnapshot(ctx)

	p.log.Info("open tickets synced",
		zap.Int("removed", res.Removed),
		zap.Int("tickets", res.Tickets),
		zap.Int("items", res.Items),
		zap.Strings("skipped", res.Skipped),
	)
	return res, nil
}

// SyncCurrentShiftFromRemote converges the local current shift on the
// remote's. The remote shift is written over any local copy and every other
// open shift is closed. When the remote has no open shift, every local open
// shift is closed. Returns the remote shift, or nil.
func (p *Pipeline) SyncCurrentShiftFromRemote(ctx context.Context) (*model.Shift, error) {
	sh, err := p.client.GetCurrentShift(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch current shift: %w", err)
	}

	now := p.clock.Now()
	var closed []string
	err = p.store.WithTx(ctx, func(tx *store.Tx) error {
		tx.Quiet()
		keep := ""
		ev := model.ShiftSynced{RemoteStatus: "none"}
		if sh != nil {
			if err := tx.UpsertShift(ctx, *sh); err != nil {
				return err
			}
			if err := p.seq.Remember(ctx, tx, sh.ID); err != nil {
				return err
			}
			if sh.IsOpen() {
				keep = sh.ID
			}
			ev.ShiftID = sh.ID
			ev.RemoteStatus = string(sh.Status)
		}
		var err error
		if closed, err = tx.CloseShiftsExcept(ctx, keep, now); err != nil {
			return err
		}
		ev.ClosedLocal = closed
		return tx.Record(ctx, now, syncActor, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile current shift: %w", err)
	}

	if len(closed) > 0 {
		p.log.Warn("closed stale local shifts", zap.Strings("shift_ids", closed))
	}
	if sh == nil {
		p.log.Info("remote has no current shift")
	} else {
		p.log.Info("current shift synced", zap.String("shift_id", sh.ID), zap.String("status", string(sh.Status)))
	}
	return sh, nil
}

// FetchShiftSummary asks the remote for a shift's settlement. Returns nil
// when the remote has none.
func (p *Pipeline) FetchShiftSummary(ctx context.Context, shiftID string) (*model.ShiftSummary, error) {
	sum, err := p.client.ShiftSummary(ctx, sequence.NormalizeShiftID(shiftID))
	if err != nil {
		return nil, fmt.Errorf("fetch shift summary %s: %w", shiftID, err)
	}
	return sum, nil
}

// rememberSnapshot records the fingerprint of the current open tickets as
// already sent.
func (p *Pipeline) rememberSnapshot(ctx context.Context) {
	snap, err := p.openSnapshot(ctx)
	if err != nil {
		p.log.Warn("read synced tickets failed", zap.Error(err))
		return
	}
	hash, err := fingerprint(snap)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.lastHash = hash
	p.mu.Unlock()
}
