// Package store implements Mercury's QuadStore: the component that ties
// the atom interner (internal/atom), the quad indexes (internal/quad),
// and the write-ahead log (internal/wal) into a single transactional
// unit with bitemporal reads.
//
// Thread-safety model:
//   - WriteTxn: serializes with every other writer and every reader via
//     the store's RWMutex write lock. Exactly one write transaction runs
//     at a time.
//   - AcquireReadLock/AcquireReadLockAt: many readers run concurrently
//     under the RWMutex read lock; a reader never blocks another reader.
//   - Flush/Checkpoint: take the write lock, since they touch the same
//     mmap'd pages a writer would.
//   - GetNamedGraphs: takes a read lock internally; safe from any
//     goroutine.
//
// Readers never block other readers; writers block all readers and
// writers. sync.RWMutex gives the "exactly one mutator active"
// guarantee with less machinery than a dedicated writer goroutine
// draining a queue would, since there is no cross-transaction state
// that needs a persistent goroutine to own.
//
// INVARIANTS:
//   - TransactionID is strictly increasing across the store's lifetime,
//     never reused, even across a transaction that returns an error.
//   - A read transaction's AsOfTxID is fixed once, at
//     AcquireReadLock(At) time, and never advances for the lifetime of
//     that ReadTxn — see read.go.
//   - Every mutation within one WriteTxn becomes visible to new readers
//     atomically: the WAL record for the whole transaction is fsynced
//     before any of its mutations are applied to the index pages, and
//     the store's committed-txID counter only advances after every
//     mutation has been applied.
package store
