// Package model defines the domain records of the till ledger core.
//
// Records mirror the rows held by the local store:
//   - Shift: a work shift, at most one open at a time
//   - Ticket / TicketItem: a sales ticket and its line items
//   - VoidRequest: a second-person approval to remove quantity from a ticket
//   - Notification: a local notice for an operator
//   - AuditEntry: an append-only record wrapping a typed Event
//
// # Events
//
// Every state transition is described by exactly one Event variant. Event is
// a sealed interface: only the variants in events.go implement it, and each
// variant carries a strongly typed payload. The audit log stores the action
// name next to the JSON payload so that DecodeEvent can reconstruct the
// variant without guessing.
//
// # Money
//
// Money is decimal.Decimal throughout. Totals are rounded half away from zero
// to two places (Round2) at the point they are computed and persisted.
package model
