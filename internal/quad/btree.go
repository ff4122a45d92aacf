package quad

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	leafEntrySize     = keySize + valueSize // 64
	internalEntrySize = keySize + 8         // 48

	leafCapacity     = (pageSize - pageHeaderSize) / leafEntrySize
	internalCapacity = (pageSize - pageHeaderSize) / internalEntrySize
)

// ErrDuplicateKey is returned by Insert when the exact (permuted
// components, TransactionID) key already exists. internal/store's WAL
// replay relies on this being distinguishable from other failures: a
// duplicate during recovery means the mutation was already durably
// applied before the crash, not a real conflict.
var ErrDuplicateKey = errors.New("quad: duplicate key insert")

type leafEntry struct {
	key   btreeKey
	value btreeValue
}

type internalEntry struct {
	key   btreeKey
	child pageID
}

// btree is a B+Tree over fixed-width 40-byte keys. Pages are appended
// and never freed (see pager.go); an insert rewrites the target page in
// place and may split it into a newly allocated page. Deletion is not
// supported at this layer — a soft delete is a new record carrying
// FlagSoftDelete (see store.Txn.SoftDelete), and physical removal
// happens only via Index.Compact rebuilding a fresh tree.
type btree struct {
	p *pager
}

func newBTree(p *pager) *btree {
	return &btree{p: p}
}

func decodeLeaf(buf []byte) ([]leafEntry, pageID, error) {
	if buf[0] != pageTypeLeaf {
		return nil, 0, fmt.Errorf("quad: expected leaf page, got type %d", buf[0])
	}
	n := binary.LittleEndian.Uint16(buf[2:4])
	next := pageID(binary.LittleEndian.Uint64(buf[8:16]))

	entries := make([]leafEntry, n)
	for i := uint16(0); i < n; i++ {
		off := pageHeaderSize + int(i)*leafEntrySize
		var e leafEntry
		copy(e.key[:], buf[off:off+keySize])
		copy(e.value[:], buf[off+keySize:off+leafEntrySize])
		entries[i] = e
	}
	return entries, next, nil
}

func encodeLeaf(entries []leafEntry, next pageID) []byte {
	buf := make([]byte, pageSize)
	buf[0] = pageTypeLeaf
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(entries)))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(next))

	for i, e := range entries {
		off := pageHeaderSize + i*leafEntrySize
		copy(buf[off:off+keySize], e.key[:])
		copy(buf[off+keySize:off+leafEntrySize], e.value[:])
	}
	return buf
}

func decodeInternal(buf []byte) ([]internalEntry, pageID, error) {
	if buf[0] != pageTypeInternal {
		return nil, 0, fmt.Errorf("quad: expected internal page, got type %d", buf[0])
	}
	n := binary.LittleEndian.Uint16(buf[2:4])
	right := pageID(binary.LittleEndian.Uint64(buf[16:24]))

	entries := make([]internalEntry, n)
	for i := uint16(0); i < n; i++ {
		off := pageHeaderSize + int(i)*internalEntrySize
		var e internalEntry
		copy(e.key[:], buf[off:off+keySize])
		e.child = pageID(binary.LittleEndian.Uint64(buf[off+keySize : off+internalEntrySize]))
		entries[i] = e
	}
	return entries, right, nil
}

func encodeInternal(entries []internalEntry, right pageID) []byte {
	buf := make([]byte, pageSize)
	buf[0] = pageTypeInternal
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(entries)))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(right))

	for i, e := range entries {
		off := pageHeaderSize + i*internalEntrySize
		copy(buf[off:off+keySize], e.key[:])
		binary.LittleEndian.PutUint64(buf[off+keySize:off+internalEntrySize], uint64(e.child))
	}
	return buf
}

// Insert adds key->value to the tree. key must not already be present.
func (t *btree) Insert(key btreeKey, value btreeValue) error {
	splitKey, newPage, split, err := t.insertRec(t.p.rootPage, key, value)
	if err != nil {
		return err
	}
	if !split {
		return nil
	}

	newRootEntries := []internalEntry{{key: splitKey, child: t.p.rootPage}}
	newRootBuf := encodeInternal(newRootEntries, newPage)
	newRootID, err := t.p.allocPage()
	if err != nil {
		return err
	}
	if err := t.p.writePageBytes(newRootID, newRootBuf); err != nil {
		return err
	}
	return t.p.setRoot(newRootID)
}

func (t *btree) insertRec(id pageID, key btreeKey, value btreeValue) (btreeKey, pageID, bool, error) {
	buf, err := t.p.readPage(id)
	if err != nil {
		return btreeKey{}, 0, false, err
	}

	if buf[0] == pageTypeLeaf {
		return t.insertLeaf(id, buf, key, value)
	}
	return t.insertInternal(id, buf, key, value)
}

func (t *btree) insertLeaf(id pageID, buf []byte, key btreeKey, value btreeValue) (btreeKey, pageID, bool, error) {
	entries, next, err := decodeLeaf(buf)
	if err != nil {
		return btreeKey{}, 0, false, err
	}

	pos := 0
	for pos < len(entries) && keyLess(entries[pos].key, key) {
		pos++
	}
	if pos < len(entries) && keyEqual(entries[pos].key, key) {
		return btreeKey{}, 0, false, ErrDuplicateKey
	}

	entries = append(entries, leafEntry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = leafEntry{key: key, value: value}

	if len(entries) <= leafCapacity {
		if err := t.p.writePageBytes(id, encodeLeaf(entries, next)); err != nil {
			return btreeKey{}, 0, false, err
		}
		return btreeKey{}, 0, false, nil
	}

	mid := len(entries) / 2
	left := entries[:mid]
	right := entries[mid:]

	rightID, err := t.p.allocPage()
	if err != nil {
		return btreeKey{}, 0, false, err
	}

	if err := t.p.writePageBytes(id, encodeLeaf(left, rightID)); err != nil {
		return btreeKey{}, 0, false, err
	}
	if err := t.p.writePageBytes(rightID, encodeLeaf(right, next)); err != nil {
		return btreeKey{}, 0, false, err
	}

	return right[0].key, rightID, true, nil
}

func (t *btree) insertInternal(id pageID, buf []byte, key btreeKey, value btreeValue) (btreeKey, pageID, bool, error) {
	entries, right, err := decodeInternal(buf)
	if err != nil {
		return btreeKey{}, 0, false, err
	}

	slot := -1
	childID := right
	for i, e := range entries {
		if keyLess(key, e.key) {
			slot = i
			childID = e.child
			break
		}
	}

	sk, newChild, split, err := t.insertRec(childID, key, value)
	if err != nil {
		return btreeKey{}, 0, false, err
	}
	if !split {
		return btreeKey{}, 0, false, nil
	}

	if slot == -1 {
		entries = append(entries, internalEntry{key: sk, child: childID})
		right = newChild
	} else {
		entries = append(entries, internalEntry{})
		copy(entries[slot+1:], entries[slot:])
		entries[slot] = internalEntry{key: sk, child: childID}
		entries[slot+1].child = newChild
	}

	if len(entries) <= internalCapacity {
		if err := t.p.writePageBytes(id, encodeInternal(entries, right)); err != nil {
			return btreeKey{}, 0, false, err
		}
		return btreeKey{}, 0, false, nil
	}

	mid := len(entries) / 2
	promoted := entries[mid].key
	left := entries[:mid]
	rightEntries := entries[mid+1:]

	rightID, err := t.p.allocPage()
	if err != nil {
		return btreeKey{}, 0, false, err
	}

	if err := t.p.writePageBytes(id, encodeInternal(left, entries[mid].child)); err != nil {
		return btreeKey{}, 0, false, err
	}
	if err := t.p.writePageBytes(rightID, encodeInternal(rightEntries, right)); err != nil {
		return btreeKey{}, 0, false, err
	}

	return promoted, rightID, true, nil
}

// findLeafFor descends from id to the leaf that would contain key.
func (t *btree) findLeafFor(id pageID, key btreeKey) (pageID, error) {
	for {
		buf, err := t.p.readPage(id)
		if err != nil {
			return 0, err
		}
		if buf[0] == pageTypeLeaf {
			return id, nil
		}
		entries, right, err := decodeInternal(buf)
		if err != nil {
			return 0, err
		}
		next := right
		for _, e := range entries {
			if keyLess(key, e.key) {
				next = e.child
				break
			}
		}
		id = next
	}
}

// Scan visits every leaf entry with lo <= key <= hi, in ascending key
// order, calling fn for each. Scan stops early if fn returns false.
func (t *btree) Scan(lo, hi btreeKey, fn func(key btreeKey, value btreeValue) bool) error {
	leafID, err := t.findLeafFor(t.p.rootPage, lo)
	if err != nil {
		return err
	}

	for {
		buf, err := t.p.readPage(leafID)
		if err != nil {
			return err
		}
		entries, next, err := decodeLeaf(buf)
		if err != nil {
			return err
		}

		for _, e := range entries {
			if keyLess(e.key, lo) {
				continue
			}
			if keyLess(hi, e.key) {
				return nil
			}
			if !fn(e.key, e.value) {
				return nil
			}
		}

		if next == 0 {
			return nil
		}
		leafID = next
	}
}

// All visits every leaf entry in the tree in ascending key order.
// Used by Index.Compact to enumerate live entries for a rebuild.
func (t *btree) All(fn func(key btreeKey, value btreeValue) bool) error {
	var maxKey btreeKey
	for i := range maxKey {
		maxKey[i] = 0xFF
	}
	var minKey btreeKey
	return t.Scan(minKey, maxKey, fn)
}
