package ticket

import "github.com/roach88/till/internal/model"

var (
	// ErrNoOpenShift is returned by OpenTicket when no shift is open.
	ErrNoOpenShift = model.ErrNoOpenShift

	ErrTicketNotFound      = model.Precondition("TICKET_NOT_FOUND", "ticket not found")
	ErrTicketClosed        = model.Precondition("TICKET_CLOSED", "ticket is closed")
	ErrEmptyCart           = model.Precondition("EMPTY_CART", "ticket has no items")
	ErrInsufficientPayment = model.Precondition("INSUFFICIENT_PAYMENT", "tendered amount is less than the total")

	ErrInvalidTendered  = model.Validation("INVALID_TENDERED", "tendered amount must be a finite number")
	ErrInvalidPayMethod = model.Validation("INVALID_PAY_METHOD", "unknown payment method")
	ErrInvalidItem      = model.Validation("INVALID_ITEM", "cart line needs a name and a non-negative price")
)
