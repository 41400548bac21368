// Package store provides SQLite-backed durable storage for the till ledger.
//
// The store holds one tenant's local ledger:
//   - shifts, tickets, ticket_items: the transactional records
//   - void_requests, notifications: the approval workflow
//   - audit_log: append-only typed events, one or more per mutation
//   - outbox: outbound remote events awaiting delivery
//   - preferences: tenant-scoped key/value hints (sequence memory)
//
// # Transactions
//
// All multi-table writes go through WithTx. The connection pool is limited
// to a single connection, so transactions within a process are serialized,
// and write transactions start with BEGIN IMMEDIATE so that a second process
// sharing the file waits for the lock instead of failing at commit.
//
// Never call Store methods from inside a WithTx callback: the only
// connection is held by the transaction and the call would block forever.
// Use the *Tx passed to the callback.
//
// # Schema versions
//
// PRAGMA user_version tracks the schema. Migrations are forward-only and run
// in order on Open; a fresh database runs all of them.
//
//	1 - baseline tables
//	2 - opening/closing float and petty-cash columns on shifts (defaulted)
//	3 - audit_log.shift_id column, backfilled from details
//	4 - outbox and preferences tables
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: ticket items are removed with their ticket
//
// Timestamps are INTEGER epoch milliseconds (UTC). Money is TEXT holding a
// decimal string.
package store
