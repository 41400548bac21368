// Package remote talks to the system of record.
//
// The remote accepts JSON POST bodies tagged by an action discriminator
// (recordTicket, recordShift, recordVoid, saveOpenTicketsSnapshot, pageUser)
// and serves three reads (listOpenTickets, getCurrentShift, shiftSummary).
// The payload shapes in payloads.go are a wire contract; golden files under
// testdata/golden pin them.
//
// Read responses are normalized defensively: numbers may arrive as strings,
// timestamps as epoch seconds, epoch millis, ISO strings or {seconds, nanos}
// objects, and most fields have alternate names. Nothing in a read response
// makes normalization fail; missing values fall back to zero or to now.
package remote
