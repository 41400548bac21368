package remote

import (
	"context"
	"errors"

	"github.com/roach88/till/internal/model"
)

// ErrOffline is returned by Offline for every call.
var ErrOffline = errors.New("no remote endpoint configured")

// Offline is the Client used when no endpoint is configured. Outbound events
// stay in the outbox until a remote is configured and drained.
type Offline struct{}

// Post implements Client.
func (Offline) Post(context.Context, string, any) error { return ErrOffline }

// ListOpenTickets implements Client.
func (Offline) ListOpenTickets(context.Context) ([]OpenTicket, error) { return nil, ErrOffline }

// GetCurrentShift implements Client.
func (Offline) GetCurrentShift(context.Context) (*model.Shift, error) { return nil, ErrOffline }

// ShiftSummary implements Client.
func (Offline) ShiftSummary(context.Context, string) (*model.ShiftSummary, error) {
	return nil, ErrOffline
}
