package store

import (
	"encoding/binary"
	"fmt"

	"github.com/roach88/mercury/internal/atom"
	"github.com/roach88/mercury/internal/quad"
)

// mutationSize is the encoded width of one quad mutation within a WAL
// transaction payload: Graph, Subject, Predicate, Object,
// TransactionID, ValidFrom, ValidTo, Flags, each a little-endian
// uint64. Quad keys themselves use big-endian (see internal/quad); this
// is a different wire format with no ordering requirement, so it
// follows Mercury's usual little-endian convention instead.
const mutationSize = 8 * 8

// encodeMutations serializes a transaction's buffered quad mutations
// into one WAL payload: a uint32 count followed by that many
// fixed-width mutation records.
func encodeMutations(mutations []quad.Quad) []byte {
	buf := make([]byte, 4+len(mutations)*mutationSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(mutations)))
	for i, m := range mutations {
		off := 4 + i*mutationSize
		rec := buf[off : off+mutationSize]
		binary.LittleEndian.PutUint64(rec[0:8], uint64(m.Graph))
		binary.LittleEndian.PutUint64(rec[8:16], uint64(m.Subject))
		binary.LittleEndian.PutUint64(rec[16:24], uint64(m.Predicate))
		binary.LittleEndian.PutUint64(rec[24:32], uint64(m.Object))
		binary.LittleEndian.PutUint64(rec[32:40], m.TransactionID)
		binary.LittleEndian.PutUint64(rec[40:48], m.ValidFrom)
		binary.LittleEndian.PutUint64(rec[48:56], m.ValidTo)
		binary.LittleEndian.PutUint64(rec[56:64], m.Flags)
	}
	return buf
}

// decodeMutations is the inverse of encodeMutations, used during WAL
// replay.
func decodeMutations(buf []byte) ([]quad.Quad, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("store: truncated mutation batch")
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	want := 4 + int(count)*mutationSize
	if len(buf) != want {
		return nil, fmt.Errorf("store: mutation batch length mismatch: got %d want %d", len(buf), want)
	}

	out := make([]quad.Quad, count)
	for i := range out {
		off := 4 + i*mutationSize
		rec := buf[off : off+mutationSize]
		out[i] = quad.Quad{
			Graph:         atom.ID(binary.LittleEndian.Uint64(rec[0:8])),
			Subject:       atom.ID(binary.LittleEndian.Uint64(rec[8:16])),
			Predicate:     atom.ID(binary.LittleEndian.Uint64(rec[16:24])),
			Object:        atom.ID(binary.LittleEndian.Uint64(rec[24:32])),
			TransactionID: binary.LittleEndian.Uint64(rec[32:40]),
			ValidFrom:     binary.LittleEndian.Uint64(rec[40:48]),
			ValidTo:       binary.LittleEndian.Uint64(rec[48:56]),
			Flags:         binary.LittleEndian.Uint64(rec[56:64]),
		}
	}
	return out, nil
}
