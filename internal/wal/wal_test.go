package wal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(1, []byte("txn one payload")))
	require.NoError(t, l.Append(2, []byte("txn two payload")))
	require.NoError(t, l.Sync())

	records, err := l.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, uint64(1), records[0].TxID)
	require.Equal(t, []byte("txn one payload"), records[0].Payload)
	require.Equal(t, uint64(2), records[1].TxID)
	require.Equal(t, []byte("txn two payload"), records[1].Payload)
}

func TestTxIDsMustIncreaseStrictly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(5, []byte("a")))
	err = l.Append(5, []byte("b"))
	require.Error(t, err)
	err = l.Append(4, []byte("b"))
	require.Error(t, err)
}

func TestResetTruncatesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(1, []byte("payload")))
	require.NoError(t, l.Sync())
	require.NoError(t, l.Reset())

	records, err := l.Records()
	require.NoError(t, err)
	require.Empty(t, records)
	require.Equal(t, uint64(0), l.LastTxID())
}

func TestReopenAfterSyncResumesTxIDSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	l, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, l.Append(1, []byte("a")))
	require.NoError(t, l.Append(2, []byte("b")))
	require.NoError(t, l.Sync())
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, uint64(2), reopened.LastTxID())
	require.NoError(t, reopened.Append(3, []byte("c")))

	records, err := reopened.Records()
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestReplayStopsAtTornTailWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	l, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, l.Append(1, []byte("whole record")))
	require.NoError(t, l.Sync())
	require.NoError(t, l.Close())

	// Simulate a crash mid-write: append a few stray bytes that look like
	// the start of a second record but never got the rest written.
	f, err := openForAppendTest(path)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, []byte("whole record"), records[0].Payload)
}
