package quad

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// mappedRegion is one generation of a growable memory-mapped page file.
// This mirrors internal/atom's pin/release/retire discipline: each
// quad-index permutation owns its own page file and therefore its own
// copy of this primitive, the same way the atom store owns its own
// mapping of atoms.data rather than sharing one with the index files —
// each on-disk format is independently owned and versioned.
type mappedRegion struct {
	f *os.File

	resizeMu sync.Mutex
	current  atomic.Pointer[genRegion]
	nextGen  atomic.Uint64

	retireMu sync.Mutex
	retiring []*genRegion
}

type genRegion struct {
	bytes []byte
	pins  atomic.Int64
}

type pin struct {
	bytes []byte
	r     *genRegion
}

func (p pin) Bytes() []byte { return p.bytes }

func openMappedRegion(path string, initialSize int64) (*mappedRegion, bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("quad: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("quad: stat %s: %w", path, err)
	}

	isNew := info.Size() == 0
	size := info.Size()
	if size < initialSize {
		if err := f.Truncate(initialSize); err != nil {
			f.Close()
			return nil, false, fmt.Errorf("quad: truncate %s: %w", path, err)
		}
		size = initialSize
	}

	mr := &mappedRegion{f: f}
	b, err := mr.mmap(size)
	if err != nil {
		f.Close()
		return nil, false, err
	}
	mr.current.Store(&genRegion{bytes: b})
	return mr, isNew, nil
}

func (mr *mappedRegion) mmap(size int64) ([]byte, error) {
	b, err := unix.Mmap(int(mr.f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("quad: mmap %s (size=%d): %w", mr.f.Name(), size, err)
	}
	return b, nil
}

func (mr *mappedRegion) Pin() pin {
	for {
		r := mr.current.Load()
		r.pins.Add(1)
		if mr.current.Load() == r {
			return pin{bytes: r.bytes, r: r}
		}
		r.pins.Add(-1)
	}
}

func (mr *mappedRegion) Release(p pin) {
	if p.r.pins.Add(-1) == 0 {
		mr.reapRetired()
	}
}

func (mr *mappedRegion) Grow(newSize int64) error {
	mr.resizeMu.Lock()
	defer mr.resizeMu.Unlock()

	old := mr.current.Load()
	if int64(len(old.bytes)) >= newSize {
		return nil
	}

	if err := mr.f.Truncate(newSize); err != nil {
		return fmt.Errorf("quad: grow truncate: %w", err)
	}
	b, err := mr.mmap(newSize)
	if err != nil {
		return err
	}

	mr.current.Store(&genRegion{bytes: b})

	mr.retireMu.Lock()
	mr.retiring = append(mr.retiring, old)
	mr.retireMu.Unlock()
	mr.reapRetired()

	return nil
}

func (mr *mappedRegion) reapRetired() {
	mr.retireMu.Lock()
	defer mr.retireMu.Unlock()
	kept := mr.retiring[:0]
	for _, r := range mr.retiring {
		if r.pins.Load() == 0 {
			_ = unix.Munmap(r.bytes)
		} else {
			kept = append(kept, r)
		}
	}
	mr.retiring = kept
}

func (mr *mappedRegion) Sync() error {
	r := mr.current.Load()
	if len(r.bytes) == 0 {
		return nil
	}
	if err := unix.Msync(r.bytes, unix.MS_SYNC); err != nil {
		return fmt.Errorf("quad: msync: %w", err)
	}
	return mr.f.Sync()
}

func (mr *mappedRegion) Close() error {
	r := mr.current.Load()
	_ = unix.Munmap(r.bytes)
	return mr.f.Close()
}

func (mr *mappedRegion) Len() int {
	return len(mr.current.Load().bytes)
}
