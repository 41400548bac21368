// Package replication keeps the remote system of record eventually
// consistent with the local ledger, and pulls remote state back in.
//
// Three independent channels run here:
//
//   - Backup push. Every committed ticket or item mutation calls Touch.
//     After a quiet period the full set of open tickets is sent as one
//     saveOpenTicketsSnapshot, overwriting the remote copy. Bursts of edits
//     coalesce into one push, a push already in flight suppresses overlap,
//     and a snapshot identical to the last one sent is skipped.
//   - Event push. Ledger operations append events to the local outbox in the
//     same transaction as the change they describe. Drain delivers due
//     entries in order; failures are retried with exponential backoff until
//     the entry's attempt budget runs out, then dropped.
//   - Pull and reconcile. SyncOpenTicketsFromRemote and
//     SyncCurrentShiftFromRemote replace local state with the remote's view
//     in one transaction. These are the only calls here that a caller waits
//     on for network I/O.
//
// Remote failures never fail a ledger operation. They are logged and counted.
package replication
