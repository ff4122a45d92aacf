package atom

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// headerSize is the fixed size of the header block at the start of every
// atom-store file (atoms.data, atoms.hash, atoms.offsets). At 1 KiB it
// divides a 4 KiB filesystem block evenly, so a header rewrite during
// checkpoint never straddles a block boundary.
const headerSize = 1024

const (
	magicData    uint32 = 0x4d455254 // "MERT"
	magicHash    uint32 = 0x4d455248 // "MERH"
	magicOffsets uint32 = 0x4d45524f // "MERO"

	formatVersion uint32 = 1
)

// fileHeader is the decoded form of the 1 KiB header every atom-store
// file carries. writePos/nextAtomID/liveCount are mirrored in memory as
// atomics on the owning Store and periodically flushed back here by
// Checkpoint; the on-disk copy is only authoritative immediately after
// open or after a clean Close.
type fileHeader struct {
	magic      uint32
	version    uint32
	writePos   uint64
	nextAtomID uint64
	liveCount  uint64
}

func encodeHeader(h fileHeader) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.version)
	binary.LittleEndian.PutUint64(buf[8:16], h.writePos)
	binary.LittleEndian.PutUint64(buf[16:24], h.nextAtomID)
	binary.LittleEndian.PutUint64(buf[24:32], h.liveCount)
	// checksum covers everything before it; stored in the last 4 bytes.
	sum := crc32.ChecksumIEEE(buf[:headerSize-4])
	binary.LittleEndian.PutUint32(buf[headerSize-4:headerSize], sum)
	return buf
}

func decodeHeader(buf []byte, wantMagic uint32) (fileHeader, error) {
	if len(buf) < headerSize {
		return fileHeader{}, fmt.Errorf("atom: header truncated: have %d bytes, want %d", len(buf), headerSize)
	}
	h := fileHeader{
		magic:      binary.LittleEndian.Uint32(buf[0:4]),
		version:    binary.LittleEndian.Uint32(buf[4:8]),
		writePos:   binary.LittleEndian.Uint64(buf[8:16]),
		nextAtomID: binary.LittleEndian.Uint64(buf[16:24]),
		liveCount:  binary.LittleEndian.Uint64(buf[24:32]),
	}
	if h.magic != wantMagic {
		return fileHeader{}, fmt.Errorf("atom: bad magic %08x, want %08x", h.magic, wantMagic)
	}
	if h.version != formatVersion {
		return fileHeader{}, fmt.Errorf("atom: unsupported format version %d", h.version)
	}
	want := binary.LittleEndian.Uint32(buf[headerSize-4 : headerSize])
	got := crc32.ChecksumIEEE(buf[:headerSize-4])
	if got != want {
		return fileHeader{}, fmt.Errorf("atom: header checksum mismatch: file is corrupt")
	}
	return h, nil
}

func writeHeaderInto(dst []byte, h fileHeader) {
	copy(dst[:headerSize], encodeHeader(h))
}
