// Package wal implements Mercury's write-ahead log: the durability
// mechanism that lets a quad-store transaction become crash-safe before
// its index mutations are applied to the permutation B+Trees.
//
// Unlike the atom store and quad indexes (internal/atom, internal/quad),
// the WAL is not memory-mapped. Durability here comes from fsync after
// each transaction's record is appended, not from page writeback, so a
// plain append-only *os.File with explicit Sync calls is the more direct
// fit — the same reasoning SQLite and most embedded log-structured
// stores apply to their redo logs.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

const (
	headerSize    = 1024
	magic         = 0x4d45524c // "MERL"
	formatVersion = 1
)

// Record is one durable transaction record as read back during replay.
type Record struct {
	TxID    uint64
	Payload []byte
}

// Log is an append-only, fsync-backed sequence of transaction records.
// Append is safe to call only from the single writer goroutine that owns
// the store; Sync, Records, and Reset are likewise
// writer-only operations — the WAL is never read concurrently with
// writes, unlike the atom store and quad indexes.
type Log struct {
	mu       sync.Mutex
	f        *os.File
	w        *bufio.Writer
	writePos uint64
	lastTxID uint64
}

// Open opens or creates the WAL file at path.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: stat %s: %w", path, err)
	}

	l := &Log{f: f}

	if info.Size() < headerSize {
		if err := f.Truncate(headerSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("wal: truncate %s: %w", path, err)
		}
		l.writePos = headerSize
		if err := l.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		h, err := l.readHeader()
		if err != nil {
			f.Close()
			return nil, err
		}
		l.writePos = h.writePos
		l.lastTxID = h.lastTxID
	}

	if _, err := f.Seek(int64(l.writePos), io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: seek %s: %w", path, err)
	}
	l.w = bufio.NewWriter(f)

	return l, nil
}

type header struct {
	writePos uint64
	lastTxID uint64
}

func (l *Log) writeHeader() error {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], formatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], l.writePos)
	binary.LittleEndian.PutUint64(buf[16:24], l.lastTxID)
	sum := crc32.ChecksumIEEE(buf[:headerSize-4])
	binary.LittleEndian.PutUint32(buf[headerSize-4:headerSize], sum)

	if _, err := l.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("wal: write header: %w", err)
	}
	return nil
}

func (l *Log) readHeader() (header, error) {
	buf := make([]byte, headerSize)
	if _, err := l.f.ReadAt(buf, 0); err != nil {
		return header{}, fmt.Errorf("wal: read header: %w", err)
	}

	gotMagic := binary.LittleEndian.Uint32(buf[0:4])
	if gotMagic != magic {
		return header{}, fmt.Errorf("wal: bad magic %08x", gotMagic)
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != formatVersion {
		return header{}, fmt.Errorf("wal: unsupported format version %d", version)
	}
	want := binary.LittleEndian.Uint32(buf[headerSize-4 : headerSize])
	got := crc32.ChecksumIEEE(buf[:headerSize-4])
	if got != want {
		return header{}, fmt.Errorf("wal: header checksum mismatch")
	}

	return header{
		writePos: binary.LittleEndian.Uint64(buf[8:16]),
		lastTxID: binary.LittleEndian.Uint64(buf[16:24]),
	}, nil
}

// Append writes one transaction record containing every index update the
// transaction performed. The record is buffered but not yet guaranteed
// durable; call Sync to force it to stable storage before applying the
// corresponding mutations to the mmap'd index pages.
func (l *Log) Append(txID uint64, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if txID <= l.lastTxID && l.lastTxID != 0 {
		return fmt.Errorf("wal: transaction IDs must be strictly increasing: got %d after %d", txID, l.lastTxID)
	}

	rec := make([]byte, 8+4+len(payload)+4)
	binary.LittleEndian.PutUint64(rec[0:8], txID)
	binary.LittleEndian.PutUint32(rec[8:12], uint32(len(payload)))
	copy(rec[12:12+len(payload)], payload)
	sum := crc32.ChecksumIEEE(rec[:12+len(payload)])
	binary.LittleEndian.PutUint32(rec[12+len(payload):], sum)

	if _, err := l.w.Write(rec); err != nil {
		return fmt.Errorf("wal: append record: %w", err)
	}

	l.writePos += uint64(len(rec))
	l.lastTxID = txID
	return nil
}

// Sync flushes buffered records and fsyncs the underlying file, then
// persists the header so a subsequent crash-free reopen resumes without
// replay. Returns only once the transactions appended so far are
// durable.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	return l.writeHeader()
}

// Records replays every fully-written record in the log from the
// beginning. A record that fails its checksum (a torn write from a crash
// mid-append) ends replay at that point without error — everything
// before it is still valid and already returned.
func (l *Log) Records() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.w.Flush(); err != nil {
		return nil, fmt.Errorf("wal: flush before replay: %w", err)
	}

	size, err := l.fileSize()
	if err != nil {
		return nil, err
	}

	var records []Record
	pos := uint64(headerSize)
	for pos+12 <= size {
		head := make([]byte, 12)
		if _, err := l.f.ReadAt(head, int64(pos)); err != nil {
			break
		}
		txID := binary.LittleEndian.Uint64(head[0:8])
		length := binary.LittleEndian.Uint32(head[8:12])
		recEnd := pos + 12 + uint64(length) + 4
		if recEnd > size {
			break
		}

		full := make([]byte, 12+length)
		if _, err := l.f.ReadAt(full, int64(pos)); err != nil {
			break
		}
		sumBuf := make([]byte, 4)
		if _, err := l.f.ReadAt(sumBuf, int64(pos+12+uint64(length))); err != nil {
			break
		}
		want := binary.LittleEndian.Uint32(sumBuf)
		got := crc32.ChecksumIEEE(full)
		if got != want {
			break
		}

		records = append(records, Record{TxID: txID, Payload: full[12:]})
		pos = recEnd
	}
	return records, nil
}

func (l *Log) fileSize() (uint64, error) {
	info, err := l.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("wal: stat: %w", err)
	}
	return uint64(info.Size()), nil
}

// Reset truncates the log to empty, retaining only the header. Called
// after a checkpoint has durably incorporated every record's effects
// into the store's on-disk index state. Mercury's checkpoint is always
// whole-store, so the safe truncation point is always "now".
func (l *Log) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("wal: flush before reset: %w", err)
	}
	if err := l.f.Truncate(headerSize); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	l.writePos = headerSize
	l.lastTxID = 0
	if _, err := l.f.Seek(int64(headerSize), io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek after reset: %w", err)
	}
	l.w = bufio.NewWriter(l.f)
	return l.writeHeader()
}

// LastTxID returns the transaction ID of the most recently appended
// record, or 0 if the log is empty.
func (l *Log) LastTxID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastTxID
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return fmt.Errorf("wal: flush on close: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		l.f.Close()
		return fmt.Errorf("wal: fsync on close: %w", err)
	}
	return l.f.Close()
}
