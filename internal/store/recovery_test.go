package store

import (
	"testing"

	"github.com/roach88/mercury/internal/quad"
	"github.com/stretchr/testify/require"
)

func TestReopenWithoutCheckpointReplaysWAL(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.WriteTxn(func(tx *Txn) error {
		return tx.AddCurrent([]byte("s"), []byte("p"), []byte("o"))
	}))
	// No Checkpoint: simulates a crash after the WAL fsync but before the
	// next checkpoint. The mutation is already applied to the index
	// pages in this process, but a from-scratch reopen must reach the
	// same state via replay, not rely on the closed store having synced.
	require.NoError(t, s.atoms.Flush())
	for _, perm := range allPermutations {
		require.NoError(t, s.index(perm).Flush())
	}
	require.NoError(t, s.wal.Sync())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	rt := s2.AcquireReadLock()
	defer rt.ReleaseReadLock()

	var found []quad.Quad
	require.NoError(t, rt.Scan(quad.Pattern{}, func(q quad.Quad) bool {
		found = append(found, q)
		return true
	}))
	require.Len(t, found, 1, "replay must recover the committed-but-uncheckpointed transaction")
}

func TestReopenAfterCheckpointDoesNotReplayTwice(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.WriteTxn(func(tx *Txn) error {
		return tx.AddCurrent([]byte("s"), []byte("p"), []byte("o"))
	}))
	require.NoError(t, s.Checkpoint())
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	rt := s2.AcquireReadLock()
	defer rt.ReleaseReadLock()

	var found []quad.Quad
	require.NoError(t, rt.Scan(quad.Pattern{}, func(q quad.Quad) bool {
		found = append(found, q)
		return true
	}))
	require.Len(t, found, 1)
	require.Equal(t, uint64(1), s2.committedTxID.Load())
}

func TestReopenWithoutCheckpointButAlreadyAppliedMutationsIsIdempotent(t *testing.T) {
	// Same scenario as TestReopenWithoutCheckpointReplaysWAL, but without
	// the same-process flush, so on reopen the index pages may already
	// contain the mutation purely because the mmap writes landed in the
	// OS page cache. Recovery must not error on the resulting duplicate
	// key.
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.WriteTxn(func(tx *Txn) error {
		return tx.AddCurrent([]byte("s"), []byte("p"), []byte("o"))
	}))
	require.NoError(t, s.wal.Sync())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	var found []quad.Quad
	rt := s2.AcquireReadLock()
	require.NoError(t, rt.Scan(quad.Pattern{}, func(q quad.Quad) bool {
		found = append(found, q)
		return true
	}))
	rt.ReleaseReadLock()
	require.Len(t, found, 1)
}
