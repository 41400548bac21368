// Package harness runs operational scenarios against a fresh till.
//
// A scenario drives the real ticket, shift and void managers and the
// replication pipeline, with a development remote served in-process over
// HTTP, then checks each step's outcome and the final ledger.
//
// # Scenario Format
//
//	name: paid_sale
//	description: "A cash sale with tax settles and reaches the remote"
//	tax_rate: "5"
//	setup:
//	  - action: shift.open
//	    args: { actor: amy }
//	flow:
//	  - invoke: ticket.open
//	    as: t1
//	    args: { actor: amy }
//	  - invoke: ticket.saveCart
//	    args:
//	      ticket: $t1
//	      lines: [{ name: Latte, qty: 2, price: "3.50" }]
//	  - invoke: ticket.pay
//	    args: { ticket: $t1, method: cash, tendered: 10 }
//	    expect:
//	      case: ok
//	      result: { amount: "7.35", change: "2.65" }
//	assertions:
//	  - type: final_state
//	    table: tickets
//	    where: { id: "001-001" }
//	    expect: { status: closed }
//
// A step's case is "ok", the failure code of a rejected operation (for
// example NO_OPEN_SHIFT), or "error". "as" captures the ID of the step's
// result; later arguments refer to it as "$name".
//
// # Assertion Types
//
//   - trace_contains: an invocation of action with matching args
//   - trace_order: actions first invoked in the given order
//   - trace_count: number of successful completions of action
//   - final_state: one ledger row matching where carries the expected values
//   - outbox_count: outbox entries for a remote action, optionally by status
//   - audit_count: audit entries with the given action
//   - remote_count: calls the development remote accepted for an action
//
// # Determinism
//
// The clock starts at the scenario's start instant and moves one second
// before every step. Results name captured IDs as "$name" and other
// generated IDs as "<id>", so traces and golden snapshots are reproducible.
package harness
