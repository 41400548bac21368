// Package void runs the void approval workflow: a request to remove
// quantity from a ticket line, decided by a second operator.
//
// Requests move pending → approved or pending → rejected, and both decisions
// are final. Approval mutates the ticket's lines in the same transaction that
// records the decision, so a request can never be applied twice.
package void

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/till/internal/clock"
	"github.com/roach88/till/internal/ids"
	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/remote"
	"github.com/roach88/till/internal/store"
	"github.com/roach88/till/internal/ticket"
)

var (
	ErrTicketNotFound = ticket.ErrTicketNotFound
	ErrAlreadyDecided = model.Precondition("ALREADY_DECIDED", "void request was already decided")

	ErrInvalidQty       = model.Validation("INVALID_QTY", "requested quantity must be positive")
	ErrReasonRequired   = model.Validation("REASON_REQUIRED", "a reason is required")
	ErrApproverRequired = model.Validation("APPROVER_REQUIRED", "an approver is required")
	ErrItemRequired     = model.Validation("ITEM_REQUIRED", "an item name or SKU is required")
	ErrQtyExceedsTicket = model.Validation("QTY_EXCEEDS_TICKET", "requested quantity exceeds what is on the ticket")
)

// Config carries delivery bounds for the events the workflow emits.
type Config struct {
	// PageAttempts bounds delivery attempts for pageUser events.
	PageAttempts int
	// RecordAttempts bounds delivery attempts for recordTicket and
	// recordVoid events.
	RecordAttempts int
}

// Manager runs the void workflow against the ledger store.
type Manager struct {
	store *store.Store
	clock clock.Clock
	log   *zap.Logger
	cfg   Config
}

// New creates a Manager.
func New(st *store.Store, clk clock.Clock, log *zap.Logger, cfg Config) *Manager {
	return &Manager{store: st, clock: clk, log: log.Named("void"), cfg: cfg}
}

// Request is the input to CreateVoidRequest.
type Request struct {
	TicketID     string
	ItemName     string
	ItemSKU      string
	RequestedQty int
	ApproverID   string
	Reason       string
	RequestedBy  string
}

func (r Request) validate() error {
	switch {
	case r.RequestedQty <= 0:
		return ErrInvalidQty
	case strings.TrimSpace(r.Reason) == "":
		return ErrReasonRequired
	case strings.TrimSpace(r.ApproverID) == "":
		return ErrApproverRequired
	case strings.TrimSpace(r.ItemName) == "" && strings.TrimSpace(r.ItemSKU) == "":
		return ErrItemRequired
	}
	return nil
}

// CreateVoidRequest records a pending request, notifies the approver and
// queues a page to them.
//
// The requested quantity is checked against the line the request would
// apply to today. The line may still shrink before approval; approval then
// floors the result at zero.
func (m *Manager) CreateVoidRequest(ctx context.Context, r Request) (model.VoidRequest, error) {
	if err := r.validate(); err != nil {
		return model.VoidRequest{}, fmt.Errorf("create void request: %w", err)
	}

	v := model.VoidRequest{
		ID:           ids.RowID(),
		TicketID:     strings.TrimSpace(r.TicketID),
		ItemName:     strings.TrimSpace(r.ItemName),
		ItemSKU:      strings.TrimSpace(r.ItemSKU),
		RequestedQty: r.RequestedQty,
		ApproverID:   strings.TrimSpace(r.ApproverID),
		Reason:       strings.TrimSpace(r.Reason),
		RequestedBy:  strings.TrimSpace(r.RequestedBy),
		Status:       model.VoidPending,
	}

	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetTicket(ctx, v.TicketID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrTicketNotFound
			}
			return err
		}
		items, err := tx.Items(ctx, v.TicketID)
		if err != nil {
			return err
		}
		i := matchLine(items, v.ItemSKU, v.ItemName)
		if i < 0 || v.RequestedQty > items[i].Qty {
			return ErrQtyExceedsTicket
		}

		v.CreatedAt = m.clock.Now()
		if err := tx.InsertVoidRequest(ctx, v); err != nil {
			return err
		}
		if err := tx.Record(ctx, v.CreatedAt, v.RequestedBy, model.VoidRequested{
			RequestID:  v.ID,
			TicketID:   v.TicketID,
			ShiftID:    model.ShiftIDOf(v.TicketID),
			ItemName:   v.ItemName,
			ItemSKU:    v.ItemSKU,
			Qty:        v.RequestedQty,
			ApproverID: v.ApproverID,
			Reason:     v.Reason,
		}); err != nil {
			return err
		}

		n := m.notification(v, v.ApproverID, model.NotifyVoidRequested, "Void requested",
			fmt.Sprintf("%s asks to void %d × %s on ticket %s: %s", requester(v), v.RequestedQty, v.ItemName, v.TicketID, v.Reason))
		if err := tx.InsertNotification(ctx, n); err != nil {
			return err
		}
		page := remote.Page{User: v.ApproverID, Title: n.Title, Body: n.Body, RefType: n.RefType, RefID: n.RefID}
		_, err = tx.Enqueue(ctx, remote.ActionPageUser, page, m.cfg.PageAttempts, v.CreatedAt)
		return err
	})
	if err != nil {
		return model.VoidRequest{}, fmt.Errorf("create void request: %w", err)
	}

	m.log.Info("void requested",
		zap.String("request", v.ID),
		zap.String("ticket", v.TicketID),
		zap.String("item", v.ItemName),
		zap.Int("qty", v.RequestedQty),
		zap.String("approver", v.ApproverID),
	)
	return v, nil
}

// ApproveVoidRequest approves a pending request and applies it to the first
// matching line of its ticket. The line's quantity never drops below zero;
// a line reduced to zero is deleted.
//
// Returns nil without error when no request has the given ID. approverID
// overrides the approver named on the request when set.
func (m *Manager) ApproveVoidRequest(ctx context.Context, id, approverID string) (*model.VoidRequest, error) {
	var out *model.VoidRequest
	var adjusted *model.VoidCartAdjusted

	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		v, err := m.pending(ctx, tx, id)
		if err != nil || v == nil {
			return err
		}
		now := m.clock.Now()
		if err := m.decide(ctx, tx, v, model.VoidApproved, approverID, "", now); err != nil {
			return err
		}
		shiftID := model.ShiftIDOf(v.TicketID)

		items, err := tx.Items(ctx, v.TicketID)
		if err != nil {
			return err
		}
		var line model.TicketItem
		if i := matchLine(items, v.ItemSKU, v.ItemName); i >= 0 {
			line = items[i]
			left := max(line.Qty-v.RequestedQty, 0)
			adjusted = &model.VoidCartAdjusted{
				RequestID: v.ID,
				TicketID:  v.TicketID,
				ShiftID:   shiftID,
				ItemID:    line.ID,
				Name:      line.Name,
				FromQty:   line.Qty,
				ToQty:     left,
				Removed:   left == 0,
			}
			if left == 0 {
				err = tx.DeleteItem(ctx, line.ID)
			} else {
				err = tx.SetItemQty(ctx, model.TicketItem{ID: line.ID, Qty: left, LineTotal: model.LineTotal(left, line.Price)})
			}
			if err != nil {
				return err
			}
			if err := tx.Record(ctx, now, v.DecidedBy, *adjusted); err != nil {
				return err
			}
		}

		if err := tx.Record(ctx, now, v.DecidedBy, model.VoidApprovedEvent{
			RequestID: v.ID,
			TicketID:  v.TicketID,
			ShiftID:   shiftID,
			Applied:   adjusted != nil,
		}); err != nil {
			return err
		}

		if v.RequestedBy != "" {
			n := m.notification(*v, v.RequestedBy, model.NotifyVoidApproved, "Void approved",
				fmt.Sprintf("%s approved voiding %d × %s on ticket %s", v.DecidedBy, v.RequestedQty, v.ItemName, v.TicketID))
			if err := tx.InsertNotification(ctx, n); err != nil {
				return err
			}
		}

		if adjusted != nil {
			t, err := tx.GetTicket(ctx, v.TicketID)
			if err != nil {
				return err
			}
			removed := adjusted.FromQty - adjusted.ToQty
			_, err = tx.Enqueue(ctx, remote.ActionRecordTicket, remote.VoidCorrection(t, *v, line, removed), m.cfg.RecordAttempts, now)
			if err != nil {
				return err
			}
		} else {
			_, err = tx.Enqueue(ctx, remote.ActionRecordVoid, remote.VoidPayload(remote.VoidEventApproved, *v), m.cfg.RecordAttempts, now)
			if err != nil {
				return err
			}
		}

		out = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("approve void request %s: %w", id, err)
	}
	if out == nil {
		m.log.Debug("approve: no such void request", zap.String("request", id))
		return nil, nil
	}

	fields := []zap.Field{zap.String("request", out.ID), zap.String("ticket", out.TicketID), zap.String("by", out.DecidedBy)}
	if adjusted == nil {
		m.log.Warn("void approved without a matching line", fields...)
		return out, nil
	}
	fields = append(fields, zap.Int("from", adjusted.FromQty), zap.Int("to", adjusted.ToQty))
	m.log.Info("void approved", fields...)
	return out, nil
}

// RejectVoidRequest rejects a pending request. The ticket is not touched.
// Returns nil without error when no request has the given ID.
func (m *Manager) RejectVoidRequest(ctx context.Context, id, approverID, reason string) (*model.VoidRequest, error) {
	var out *model.VoidRequest
	reason = strings.TrimSpace(reason)

	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		v, err := m.pending(ctx, tx, id)
		if err != nil || v == nil {
			return err
		}
		now := m.clock.Now()
		if err := m.decide(ctx, tx, v, model.VoidRejected, approverID, reason, now); err != nil {
			return err
		}

		if err := tx.Record(ctx, now, v.DecidedBy, model.VoidRejectedEvent{
			RequestID: v.ID,
			TicketID:  v.TicketID,
			ShiftID:   model.ShiftIDOf(v.TicketID),
			Reason:    reason,
		}); err != nil {
			return err
		}

		if v.RequestedBy != "" {
			body := fmt.Sprintf("%s rejected voiding %d × %s on ticket %s", v.DecidedBy, v.RequestedQty, v.ItemName, v.TicketID)
			if reason != "" {
				body += ": " + reason
			}
			n := m.notification(*v, v.RequestedBy, model.NotifyVoidRejected, "Void rejected", body)
			if err := tx.InsertNotification(ctx, n); err != nil {
				return err
			}
		}

		if _, err := tx.Enqueue(ctx, remote.ActionRecordVoid, remote.VoidPayload(remote.VoidEventRejected, *v), m.cfg.RecordAttempts, now); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reject void request %s: %w", id, err)
	}
	if out != nil {
		m.log.Info("void rejected", zap.String("request", out.ID), zap.String("by", out.DecidedBy))
	}
	return out, nil
}

// pending loads a request that is still awaiting a decision. A missing
// request yields nil, nil.
func (m *Manager) pending(ctx context.Context, tx *store.Tx, id string) (*model.VoidRequest, error) {
	v, err := tx.GetVoidRequest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !v.IsPending() {
		return nil, ErrAlreadyDecided
	}
	return &v, nil
}

// decide moves v to status and updates it in place.
func (m *Manager) decide(ctx context.Context, tx *store.Tx, v *model.VoidRequest, status model.VoidStatus, approverID, note string, now time.Time) error {
	by := strings.TrimSpace(approverID)
	if by == "" {
		by = v.ApproverID
	}
	ok, err := tx.DecideVoidRequest(ctx, v.ID, status, now, by, note)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyDecided
	}
	v.Status = status
	v.DecidedAt = &now
	v.DecidedBy = by
	v.DecisionNote = note
	return nil
}

func (m *Manager) notification(v model.VoidRequest, recipient, kind, title, body string) model.Notification {
	return model.Notification{
		ID:        ids.RowID(),
		Recipient: recipient,
		Kind:      kind,
		Title:     title,
		Body:      body,
		RefType:   "void",
		RefID:     v.ID,
		CreatedAt: m.clock.Now(),
	}
}

func requester(v model.VoidRequest) string {
	if v.RequestedBy == "" {
		return "someone"
	}
	return v.RequestedBy
}

// Get returns a void request by ID.
func (m *Manager) Get(ctx context.Context, id string) (model.VoidRequest, error) {
	var v model.VoidRequest
	err := m.store.View(ctx, func(tx *store.Tx) error {
		var err error
		v, err = tx.GetVoidRequest(ctx, id)
		return err
	})
	return v, err
}

// ListPending returns pending requests, oldest first. An empty approverID
// lists requests for every approver.
func (m *Manager) ListPending(ctx context.Context, approverID string) ([]model.VoidRequest, error) {
	var out []model.VoidRequest
	err := m.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListVoidRequests(ctx, model.VoidPending, strings.TrimSpace(approverID))
		return err
	})
	return out, err
}

// Notifications returns a recipient's notifications, newest first.
func (m *Manager) Notifications(ctx context.Context, recipient string, unreadOnly bool) ([]model.Notification, error) {
	var out []model.Notification
	err := m.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListNotifications(ctx, recipient, unreadOnly)
		return err
	})
	return out, err
}

// MarkRead marks a notification as read.
func (m *Manager) MarkRead(ctx context.Context, id string) error {
	return m.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.MarkNotificationRead(ctx, id, m.clock.Now())
	})
}
