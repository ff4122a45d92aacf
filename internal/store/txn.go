package store

import (
	"fmt"
	"time"

	"github.com/roach88/mercury/internal/atom"
	"github.com/roach88/mercury/internal/quad"
)

// Txn accumulates the atom interns and quad mutations of one write
// transaction. A Txn is only ever valid for the duration of the
// closure passed to Store.WriteTxn; it must not be retained past that
// call.
type Txn struct {
	store *Store
	id    uint64

	mutations []quad.Quad
}

// TransactionID returns the transaction ID this Txn will commit under.
func (t *Txn) TransactionID() uint64 { return t.id }

// WriteTxn runs fn as one transaction: fn may call AddCurrent,
// SoftDelete, and AddTemporal any number of times, each queuing a
// mutation rather than applying it immediately. If fn returns nil,
// every queued mutation is committed atomically — written to the WAL
// and fsynced before any of it is applied to the index pages. If fn
// returns an error, nothing it queued is
// applied; the transaction ID it was assigned is still consumed and
// never reused, the same way an aborted transaction still consumes a
// SQL sequence value.
func (s *Store) WriteTxn(fn func(*Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store: write on closed store")
	}

	txid := s.committedTxID.Load() + 1
	txn := &Txn{store: s, id: txid}

	if err := fn(txn); err != nil {
		s.committedTxID.Store(txid)
		return err
	}
	if len(txn.mutations) == 0 {
		s.committedTxID.Store(txid)
		return nil
	}

	payload := encodeMutations(txn.mutations)
	if err := s.wal.Append(txid, payload); err != nil {
		return &DurabilityError{Op: "wal append", Err: err}
	}
	if err := s.wal.Sync(); err != nil {
		return &DurabilityError{Op: "wal sync", Err: err}
	}

	for _, m := range txn.mutations {
		if err := s.applyMutation(m); err != nil {
			return &DurabilityError{Op: "apply mutation", Err: err}
		}
	}

	s.committedTxID.Store(txid)
	return nil
}

func (t *Txn) internAll(s, p, o []byte, g [][]byte) (atom.ID, atom.ID, atom.ID, atom.ID, error) {
	sid, err := t.store.atoms.Intern(s)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("intern subject: %w", err)
	}
	pid, err := t.store.atoms.Intern(p)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("intern predicate: %w", err)
	}
	oid, err := t.store.atoms.Intern(o)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("intern object: %w", err)
	}
	if len(g) == 0 || g[0] == nil {
		return atom.Unbound, sid, pid, oid, nil
	}
	gid, err := t.store.atoms.Intern(g[0])
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("intern graph: %w", err)
	}
	return gid, sid, pid, oid, nil
}

// AddCurrent queues a quad that is valid from now until further
// notice (ValidFrom=0, ValidTo=Infinite). g is optional; when omitted
// the quad is added to the default graph.
func (t *Txn) AddCurrent(s, p, o []byte, g ...[]byte) error {
	gid, sid, pid, oid, err := t.internAll(s, p, o, g)
	if err != nil {
		return err
	}
	t.mutations = append(t.mutations, quad.Quad{
		Graph: gid, Subject: sid, Predicate: pid, Object: oid,
		TransactionID: t.id, ValidFrom: 0, ValidTo: quad.Infinite,
	})
	return nil
}

// AddTemporal queues a quad valid only within [validFrom, validTo].
func (t *Txn) AddTemporal(s, p, o []byte, validFrom, validTo uint64, g ...[]byte) error {
	gid, sid, pid, oid, err := t.internAll(s, p, o, g)
	if err != nil {
		return err
	}
	t.mutations = append(t.mutations, quad.Quad{
		Graph: gid, Subject: sid, Predicate: pid, Object: oid,
		TransactionID: t.id, ValidFrom: validFrom, ValidTo: validTo,
	})
	return nil
}

// SoftDelete queues a tombstone for every currently-visible quad
// matching (s, p, o[, g]): a new version at this transaction's ID,
// carrying FlagSoftDelete and the same coordinate and validity window
// as the record it supersedes. The underlying record is never removed
// in place — it stays until a later Compact — so AsOf queries at or
// before this transaction still see it.
func (t *Txn) SoftDelete(s, p, o []byte, g ...[]byte) error {
	gid, sid, pid, oid, err := t.internAll(s, p, o, g)
	if err != nil {
		return err
	}

	pattern := quad.Pattern{Graph: &gid, Subject: &sid, Predicate: &pid, Object: &oid}

	perm := selectPermutation(pattern)
	now := uint64(time.Now().UnixNano())
	var matches []quad.Quad
	if err := t.store.index(perm).Scan(pattern, now, t.store.committedTxID.Load(), func(q quad.Quad) bool {
		matches = append(matches, q)
		return true
	}); err != nil {
		return fmt.Errorf("soft delete scan: %w", err)
	}

	for _, m := range matches {
		t.mutations = append(t.mutations, quad.Quad{
			Graph: m.Graph, Subject: m.Subject, Predicate: m.Predicate, Object: m.Object,
			TransactionID: t.id, ValidFrom: m.ValidFrom, ValidTo: m.ValidTo,
			Flags: quad.FlagSoftDelete,
		})
	}
	return nil
}
