// Package atom implements Mercury's atom interner: the mapping between
// RDF terms (IRIs, literals, blank node labels) and the fixed-width
// 64-bit IDs that every other layer — indexes, the WAL, query
// execution — operates on instead of raw term bytes.
//
// The interner is backed by three memory-mapped, append-only files under
// a store directory: atoms.data (the term bytes themselves), atoms.hash
// (an open-addressed hash table from term hash to atom ID, for
// intern-time dedup), and atoms.offsets (an array from atom ID to its
// byte offset in atoms.data, for lookup). All three grow by doubling and
// are never compacted in place; atom IDs are permanent for the lifetime
// of a store.
package atom

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// ID identifies an interned term. The zero value, Unbound, never denotes
// a real term and is used as a sentinel in scan and plan code for "no
// value yet".
type ID uint64

// Unbound is the reserved ID meaning "no atom".
const Unbound ID = 0

const (
	initialDataSize    = headerSize + 64*1024
	initialOffsetsSize = headerSize + 4096*8
	initialHashSlots   = 4096 // must stay a power of two
	hashSlotSize       = 16   // 8 bytes hash + 8 bytes ID
	maxLoadFactor      = 0.70

	quadraticProbeSteps = 64
)

// Store is the atom interner for one quad-store directory. A Store is
// safe for concurrent Lookup calls from many goroutines; Intern is
// expected to be called only from the single writer goroutine that owns
// mutation for the store, and is additionally guarded by an internal
// mutex so that invariant is cheap to enforce defensively.
type Store struct {
	dir string

	data    *mappedFile
	hashTbl *mappedFile
	offsets *mappedFile

	mu sync.Mutex // serializes Intern; Lookup never takes it

	writePos  atomic.Uint64
	nextID    atomic.Uint64
	liveCount atomic.Uint64
	hashSlots atomic.Uint64
	hashLive  atomic.Uint64
}

// Open opens or creates the atom interner rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("atom: create %s: %w", dir, err)
	}
	data, isNewData, err := openOrInit(filepath.Join(dir, "atoms.data"), initialDataSize, magicData)
	if err != nil {
		return nil, err
	}
	hashTbl, isNewHash, err := openOrInit(filepath.Join(dir, "atoms.hash"), headerSize+initialHashSlots*hashSlotSize, magicHash)
	if err != nil {
		data.Close()
		return nil, err
	}
	offsets, isNewOffsets, err := openOrInit(filepath.Join(dir, "atoms.offsets"), initialOffsetsSize, magicOffsets)
	if err != nil {
		data.Close()
		hashTbl.Close()
		return nil, err
	}

	s := &Store{dir: dir, data: data, hashTbl: hashTbl, offsets: offsets}

	if isNewData || isNewHash || isNewOffsets {
		s.writePos.Store(headerSize)
		s.nextID.Store(1)
		s.liveCount.Store(0)
		s.hashSlots.Store(initialHashSlots)
		s.writeHeaders()
		return s, nil
	}

	if err := s.loadHeaders(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func openOrInit(path string, initialSize int64, magic uint32) (*mappedFile, bool, error) {
	preexisting, statErr := fileHasHeader(path)
	_ = statErr // absence of the file is the common "new store" case, not an error here

	mf, err := openMapped(path, initialSize)
	if err != nil {
		return nil, false, err
	}

	if !preexisting {
		h := mf.Pin()
		writeHeaderInto(h.Bytes(), fileHeader{magic: magic, version: formatVersion, writePos: headerSize, nextAtomID: 1})
		mf.Release(h)
		return mf, true, nil
	}
	return mf, false, nil
}

func fileHasHeader(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.Size() >= headerSize, nil
}

func (s *Store) writeHeaders() {
	s.writeOneHeader(s.data, magicData, s.writePos.Load())
	s.writeOneHeader(s.hashTbl, magicHash, headerSize)
	s.writeOneHeader(s.offsets, magicOffsets, headerSize)
}

func (s *Store) writeOneHeader(mf *mappedFile, magic uint32, writePos uint64) {
	h := mf.Pin()
	writeHeaderInto(h.Bytes(), fileHeader{
		magic:      magic,
		version:    formatVersion,
		writePos:   writePos,
		nextAtomID: s.nextID.Load(),
		liveCount:  s.liveCount.Load(),
	})
	mf.Release(h)
}

func (s *Store) loadHeaders() error {
	h := s.data.Pin()
	dh, err := decodeHeader(h.Bytes(), magicData)
	s.data.Release(h)
	if err != nil {
		return err
	}

	hh := s.hashTbl.Pin()
	hashHeader, err := decodeHeader(hh.Bytes(), magicHash)
	s.hashTbl.Release(hh)
	if err != nil {
		return err
	}

	oh := s.offsets.Pin()
	_, err = decodeHeader(oh.Bytes(), magicOffsets)
	s.offsets.Release(oh)
	if err != nil {
		return err
	}

	s.writePos.Store(dh.writePos)
	s.nextID.Store(dh.nextAtomID)
	s.liveCount.Store(dh.liveCount)
	s.hashSlots.Store(uint64(s.hashTbl.Len()-headerSize) / hashSlotSize)
	s.hashLive.Store(hashHeader.liveCount)
	return nil
}

// Intern returns the ID for term, allocating a new one if term has never
// been seen by this store before. Equal byte slices always map to the
// same ID.
func (s *Store) Intern(term []byte) (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := hashTerm(term)

	if id, found, err := s.probeFind(h, term); err != nil {
		return Unbound, err
	} else if found {
		return id, nil
	}

	if err := s.maybeRehash(); err != nil {
		return Unbound, err
	}

	id := ID(s.nextID.Add(1) - 1)
	offset, err := s.appendTerm(term)
	if err != nil {
		return Unbound, err
	}
	if err := s.setOffset(id, offset); err != nil {
		return Unbound, err
	}
	if err := s.probeInsert(h, id); err != nil {
		return Unbound, err
	}

	s.liveCount.Add(1)
	s.hashLive.Add(1)
	return id, nil
}

// Find returns the ID already assigned to term, without interning a
// new one. Query compilation uses this to resolve constant terms: a
// term the store has never seen cannot match any quad, so the miss
// case is a result, not an error.
func (s *Store) Find(term []byte) (ID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probeFind(hashTerm(term), term)
}

// Lookup returns the term bytes for id. The returned slice is a fresh
// copy, safe to retain past any concurrent Grow of the backing mapping.
func (s *Store) Lookup(id ID) ([]byte, error) {
	if id == Unbound {
		return nil, fmt.Errorf("atom: cannot look up the unbound ID")
	}

	offset, err := s.getOffset(id)
	if err != nil {
		return nil, err
	}

	h := s.data.Pin()
	defer s.data.Release(h)
	b := h.Bytes()
	if offset+4 > uint64(len(b)) {
		return nil, fmt.Errorf("atom: offset for id %d out of range", id)
	}
	length := binary.LittleEndian.Uint32(b[offset : offset+4])
	start := offset + 4
	end := start + uint64(length)
	if end > uint64(len(b)) {
		return nil, fmt.Errorf("atom: record for id %d extends past mapping", id)
	}

	out := make([]byte, length)
	copy(out, b[start:end])
	return out, nil
}

// Flush syncs all three backing files to stable storage without
// rewriting headers. Use Checkpoint to also persist the in-memory
// counters.
func (s *Store) Flush() error {
	if err := s.data.Sync(); err != nil {
		return err
	}
	if err := s.hashTbl.Sync(); err != nil {
		return err
	}
	return s.offsets.Sync()
}

// Checkpoint persists the current writePos/nextAtomID/liveCount counters
// into each file's header and syncs all three files. After a clean
// Checkpoint followed by Close, the next Open resumes from exactly this
// state without replaying anything from the WAL.
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeOneHeader(s.data, magicData, s.writePos.Load())
	s.writeHashHeader()
	s.writeOneHeader(s.offsets, magicOffsets, headerSize)
	return s.Flush()
}

func (s *Store) writeHashHeader() {
	h := s.hashTbl.Pin()
	writeHeaderInto(h.Bytes(), fileHeader{
		magic:      magicHash,
		version:    formatVersion,
		writePos:   headerSize,
		nextAtomID: s.nextID.Load(),
		liveCount:  s.hashLive.Load(),
	})
	s.hashTbl.Release(h)
}

func (s *Store) Close() error {
	_ = s.Checkpoint()
	var firstErr error
	for _, c := range []*mappedFile{s.data, s.hashTbl, s.offsets} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Count returns the number of distinct atoms currently interned.
func (s *Store) Count() uint64 {
	return s.liveCount.Load()
}

func hashTerm(term []byte) uint64 {
	h := fnv.New64a()
	h.Write(term)
	return h.Sum64()
}

func (s *Store) appendTerm(term []byte) (uint64, error) {
	need := uint64(4 + len(term))
	pos := s.writePos.Load()
	if pos+need > uint64(s.data.Len()) {
		newSize := uint64(s.data.Len())
		for pos+need > newSize {
			newSize *= 2
		}
		if err := s.data.Grow(int64(newSize)); err != nil {
			return 0, err
		}
	}

	h := s.data.Pin()
	b := h.Bytes()
	binary.LittleEndian.PutUint32(b[pos:pos+4], uint32(len(term)))
	copy(b[pos+4:pos+4+uint64(len(term))], term)
	s.data.Release(h)

	s.writePos.Store(pos + need)
	return pos, nil
}

func (s *Store) setOffset(id ID, offset uint64) error {
	slot := headerSize + (uint64(id)-1)*8
	need := slot + 8
	if need > uint64(s.offsets.Len()) {
		newSize := uint64(s.offsets.Len())
		for need > newSize {
			newSize *= 2
		}
		if err := s.offsets.Grow(int64(newSize)); err != nil {
			return err
		}
	}
	h := s.offsets.Pin()
	binary.LittleEndian.PutUint64(h.Bytes()[slot:slot+8], offset)
	s.offsets.Release(h)
	return nil
}

func (s *Store) getOffset(id ID) (uint64, error) {
	slot := headerSize + (uint64(id)-1)*8
	h := s.offsets.Pin()
	defer s.offsets.Release(h)
	b := h.Bytes()
	if slot+8 > uint64(len(b)) {
		return 0, fmt.Errorf("atom: id %d has no offset entry", id)
	}
	return binary.LittleEndian.Uint64(b[slot : slot+8]), nil
}

// probeSlot computes the i-th candidate slot index for hash h over a
// table of slotCount slots: quadratic probing for the first
// quadraticProbeSteps attempts, then linear probing.
func probeSlot(slotCount, h uint64, i int) uint64 {
	if i < quadraticProbeSteps {
		return (h + uint64(i*i)) % slotCount
	}
	last := (h + uint64(quadraticProbeSteps*quadraticProbeSteps)) % slotCount
	return (last + uint64(i-quadraticProbeSteps)) % slotCount
}

func (s *Store) probeFind(h uint64, term []byte) (ID, bool, error) {
	slotCount := s.hashSlots.Load()
	pin := s.hashTbl.Pin()
	defer s.hashTbl.Release(pin)
	b := pin.Bytes()

	for i := 0; uint64(i) < slotCount; i++ {
		slot := probeSlot(slotCount, h, i)
		off := headerSize + slot*hashSlotSize
		slotHash := binary.LittleEndian.Uint64(b[off : off+8])
		slotID := binary.LittleEndian.Uint64(b[off+8 : off+16])
		if slotID == 0 {
			return Unbound, false, nil
		}
		if slotHash == h {
			candidate, err := s.lookupLocked(ID(slotID))
			if err != nil {
				return Unbound, false, err
			}
			if string(candidate) == string(term) {
				return ID(slotID), true, nil
			}
		}
	}
	return Unbound, false, fmt.Errorf("atom: hash table full during probe")
}

// lookupLocked is Lookup without the Intern-side mutex re-entry concern;
// it is only ever called while s.mu is already held by Intern.
func (s *Store) lookupLocked(id ID) ([]byte, error) {
	return s.Lookup(id)
}

func (s *Store) probeInsert(h uint64, id ID) error {
	slotCount := s.hashSlots.Load()
	pin := s.hashTbl.Pin()
	defer s.hashTbl.Release(pin)
	b := pin.Bytes()

	for i := 0; uint64(i) < slotCount; i++ {
		slot := probeSlot(slotCount, h, i)
		off := headerSize + slot*hashSlotSize
		slotID := binary.LittleEndian.Uint64(b[off+8 : off+16])
		if slotID == 0 {
			binary.LittleEndian.PutUint64(b[off:off+8], h)
			binary.LittleEndian.PutUint64(b[off+8:off+16], uint64(id))
			return nil
		}
	}
	return fmt.Errorf("atom: hash table full during insert")
}

// maybeRehash doubles the hash table and reinserts every live atom when
// the load factor would otherwise exceed maxLoadFactor. Only ever called
// from Intern, which already holds s.mu.
func (s *Store) maybeRehash() error {
	slotCount := s.hashSlots.Load()
	live := s.hashLive.Load()
	if float64(live+1) <= float64(slotCount)*maxLoadFactor {
		return nil
	}

	newCap := slotCount * 2
	if err := s.hashTbl.Grow(int64(headerSize + newCap*hashSlotSize)); err != nil {
		return err
	}

	old := s.hashTbl.Pin()
	entries := make([]struct{ hash, id uint64 }, 0, live)
	ob := old.Bytes()
	for i := uint64(0); i < slotCount; i++ {
		off := headerSize + i*hashSlotSize
		slotID := binary.LittleEndian.Uint64(ob[off+8 : off+16])
		if slotID != 0 {
			entries = append(entries, struct{ hash, id uint64 }{
				hash: binary.LittleEndian.Uint64(ob[off : off+8]),
				id:   slotID,
			})
		}
	}
	s.hashTbl.Release(old)

	// Zero the now-larger table before reinserting: the slots added by
	// Grow are already zero, but every old entry still sits at its
	// old-capacity slot and would otherwise be found twice.
	cleared := s.hashTbl.Pin()
	cb := cleared.Bytes()
	for i := range cb[headerSize:] {
		cb[headerSize+i] = 0
	}
	s.hashTbl.Release(cleared)

	s.hashSlots.Store(newCap)

	for _, e := range entries {
		if err := s.probeInsert(e.hash, ID(e.id)); err != nil {
			return err
		}
	}
	return nil
}
