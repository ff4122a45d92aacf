package atom

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// region is one generation of a memory-mapped file. Growing the backing
// file retires the old region and publishes a new one; a retired region
// is only actually unmapped once its pin count drops to zero
// (epoch-based retirement).
type region struct {
	bytes []byte
	gen   uint64
	pins  atomic.Int64
}

// mappedFile is a growable memory-mapped file with epoch-based retirement.
//
// Coherence discipline: every reader calls Pin before touching the
// mapping and Release when done.
// Pin increments the current region's pin count and never blocks.
// Growth takes an exclusive resizeMu, builds the new mapping, swaps it in
// as "current" so all future Pins see it, then moves the old region onto
// a retired list. A retired region is unmapped the moment its pin
// count reaches zero, checked both by Release and by Grow itself. Only
// the writer goroutine calls Grow, and it never holds a pin while
// doing so.
type mappedFile struct {
	f *os.File

	resizeMu sync.Mutex // serializes growth
	current  atomic.Pointer[region]

	retireMu sync.Mutex
	retiring []*region
	nextGen  atomic.Uint64
}

// pinHandle is returned by Pin and must be released via Release.
type pinHandle struct {
	bytes []byte
	r     *region
}

func (h pinHandle) Bytes() []byte { return h.bytes }

func openMapped(path string, initialSize int64) (*mappedFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("atom: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("atom: stat %s: %w", path, err)
	}

	size := info.Size()
	if size < initialSize {
		if err := f.Truncate(initialSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("atom: truncate %s: %w", path, err)
		}
		size = initialSize
	}

	mf := &mappedFile{f: f}
	b, err := mf.mmap(size)
	if err != nil {
		f.Close()
		return nil, err
	}
	mf.current.Store(&region{bytes: b, gen: mf.nextGen.Add(1)})
	return mf, nil
}

func (mf *mappedFile) mmap(size int64) ([]byte, error) {
	b, err := unix.Mmap(int(mf.f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("atom: mmap %s (size=%d): %w", mf.f.Name(), size, err)
	}
	return b, nil
}

// Pin registers interest in the current mapping and returns a handle to
// its bytes. The caller MUST call Release exactly once on the returned
// handle and must never retain the byte slice past that call.
func (mf *mappedFile) Pin() pinHandle {
	for {
		r := mf.current.Load()
		r.pins.Add(1)
		// Re-check current hasn't moved on between Load and Add: if it
		// has, r may already be fully retired and waiting on a zero pin
		// count that our stale increment would block forever. Retry
		// against whatever is current now.
		if mf.current.Load() == r {
			return pinHandle{bytes: r.bytes, r: r}
		}
		r.pins.Add(-1)
	}
}

// Release returns a pin obtained from Pin.
func (mf *mappedFile) Release(h pinHandle) {
	if h.r.pins.Add(-1) == 0 {
		mf.reapRetired()
	}
}

// Grow extends the backing file to at least newSize bytes and publishes a
// new mapping. The previous mapping is queued for retirement: it remains
// valid for any reader that pinned it before the swap, and is physically
// unmapped once no such reader remains.
//
// Grow is only ever called by the single writer goroutine, which never
// holds a pin of its own across the call.
func (mf *mappedFile) Grow(newSize int64) error {
	mf.resizeMu.Lock()
	defer mf.resizeMu.Unlock()

	old := mf.current.Load()
	if int64(len(old.bytes)) >= newSize {
		return nil
	}

	if err := mf.f.Truncate(newSize); err != nil {
		return fmt.Errorf("atom: grow truncate: %w", err)
	}

	newBytes, err := mf.mmap(newSize)
	if err != nil {
		return err
	}

	newRegion := &region{bytes: newBytes, gen: mf.nextGen.Add(1)}

	// Memory barrier: atomic.Pointer.Store is a release; subsequent Pin
	// calls (atomic.Pointer.Load, an acquire) observe the new mapping.
	mf.current.Store(newRegion)

	mf.retireMu.Lock()
	mf.retiring = append(mf.retiring, old)
	mf.retireMu.Unlock()
	mf.reapRetired()

	return nil
}

// reapRetired unmaps any retired region whose pin count has dropped to
// zero. Safe to call opportunistically; it is not required for
// correctness, only for reclaiming address space promptly.
func (mf *mappedFile) reapRetired() {
	mf.retireMu.Lock()
	defer mf.retireMu.Unlock()

	kept := mf.retiring[:0]
	for _, r := range mf.retiring {
		if r.pins.Load() == 0 {
			_ = unix.Munmap(r.bytes)
		} else {
			kept = append(kept, r)
		}
	}
	mf.retiring = kept
}

func (mf *mappedFile) Sync() error {
	r := mf.current.Load()
	if len(r.bytes) == 0 {
		return nil
	}
	if err := unix.Msync(r.bytes, unix.MS_SYNC); err != nil {
		return fmt.Errorf("atom: msync: %w", err)
	}
	return mf.f.Sync()
}

func (mf *mappedFile) Close() error {
	r := mf.current.Load()
	_ = unix.Munmap(r.bytes)
	return mf.f.Close()
}

func (mf *mappedFile) Len() int {
	return len(mf.current.Load().bytes)
}
