package quad

import (
	"encoding/binary"
	"math"

	"github.com/roach88/mercury/internal/atom"
)

// Flags bits within a quad record.
const (
	FlagSoftDelete uint64 = 1 << 0
)

// Infinite is the ValidTo sentinel meaning "no upper bound";
// non-bitemporal inserts use [0, Infinite].
const Infinite = uint64(math.MaxUint64)

// Quad is one bitemporal record: (Graph, Subject, Predicate, Object,
// TransactionId, ValidFrom, ValidTo, Flags). Graph == 0 denotes the
// default graph.
type Quad struct {
	Graph     atom.ID
	Subject   atom.ID
	Predicate atom.ID
	Object    atom.ID

	TransactionID uint64
	ValidFrom     uint64
	ValidTo       uint64
	Flags         uint64
}

func (q Quad) SoftDeleted() bool { return q.Flags&FlagSoftDelete != 0 }

// VisibleAt reports whether q is logically present for a reader with
// the given valid-time point and as-of transaction ID:
// ValidFrom <= validAt <= ValidTo, TransactionID <= asOfTxID, and not
// soft-deleted.
func (q Quad) VisibleAt(validAt, asOfTxID uint64) bool {
	if q.SoftDeleted() {
		return false
	}
	if q.TransactionID > asOfTxID {
		return false
	}
	return q.ValidFrom <= validAt && validAt <= q.ValidTo
}

// Permutation names one of the six orderings Mercury indexes quads
// under. The default-graph permutations (SPO/POS/OSP) only ever hold
// quads whose Graph is 0; the graph-aware permutations (GSPO/GPOS/GOSP)
// hold quads from every graph, default included.
type Permutation int

const (
	PermSPO Permutation = iota
	PermPOS
	PermOSP
	PermGSPO
	PermGPOS
	PermGOSP
)

func (p Permutation) String() string {
	switch p {
	case PermSPO:
		return "SPO"
	case PermPOS:
		return "POS"
	case PermOSP:
		return "OSP"
	case PermGSPO:
		return "GSPO"
	case PermGPOS:
		return "GPOS"
	case PermGOSP:
		return "GOSP"
	default:
		return "UNKNOWN"
	}
}

// components is the four quad fields reordered for a given permutation.
// Default-graph permutations pin components[0] to 0.
type components [4]atom.ID

// permute extracts q's fields in the order permutation p sorts by.
func permute(q Quad, p Permutation) components {
	switch p {
	case PermSPO:
		return components{0, q.Subject, q.Predicate, q.Object}
	case PermPOS:
		return components{0, q.Predicate, q.Object, q.Subject}
	case PermOSP:
		return components{0, q.Object, q.Subject, q.Predicate}
	case PermGSPO:
		return components{q.Graph, q.Subject, q.Predicate, q.Object}
	case PermGPOS:
		return components{q.Graph, q.Predicate, q.Object, q.Subject}
	case PermGOSP:
		return components{q.Graph, q.Object, q.Subject, q.Predicate}
	default:
		panic("quad: unknown permutation")
	}
}

// unpermute reconstructs (Graph, Subject, Predicate, Object) from the
// permuted components of permutation p. For default-graph permutations
// Graph is always 0 regardless of c[0].
func unpermute(p Permutation, c components) (g, s, pr, o atom.ID) {
	switch p {
	case PermSPO:
		return 0, c[1], c[2], c[3]
	case PermPOS:
		return 0, c[3], c[1], c[2]
	case PermOSP:
		return 0, c[2], c[3], c[1]
	case PermGSPO:
		return c[0], c[1], c[2], c[3]
	case PermGPOS:
		return c[0], c[3], c[1], c[2]
	case PermGOSP:
		return c[0], c[2], c[3], c[1]
	default:
		panic("quad: unknown permutation")
	}
}

// isGraphAware reports whether permutation p indexes quads from every
// graph (true) or only the default graph (false).
func (p Permutation) isGraphAware() bool {
	switch p {
	case PermGSPO, PermGPOS, PermGOSP:
		return true
	default:
		return false
	}
}

const (
	keySize   = 40 // 4 x uint64 components + 8-byte transaction ID tiebreaker
	valueSize = 24 // ValidFrom + ValidTo + Flags, each uint64
)

type btreeKey [keySize]byte
type btreeValue [valueSize]byte

func encodeKey(c components, txID uint64) btreeKey {
	var k btreeKey
	binary.BigEndian.PutUint64(k[0:8], uint64(c[0]))
	binary.BigEndian.PutUint64(k[8:16], uint64(c[1]))
	binary.BigEndian.PutUint64(k[16:24], uint64(c[2]))
	binary.BigEndian.PutUint64(k[24:32], uint64(c[3]))
	binary.BigEndian.PutUint64(k[32:40], txID)
	return k
}

// decodeKey is the inverse of encodeKey.
func decodeKey(k btreeKey) (components, uint64) {
	var c components
	c[0] = atom.ID(binary.BigEndian.Uint64(k[0:8]))
	c[1] = atom.ID(binary.BigEndian.Uint64(k[8:16]))
	c[2] = atom.ID(binary.BigEndian.Uint64(k[16:24]))
	c[3] = atom.ID(binary.BigEndian.Uint64(k[24:32]))
	txID := binary.BigEndian.Uint64(k[32:40])
	return c, txID
}

func encodeValue(validFrom, validTo, flags uint64) btreeValue {
	var v btreeValue
	binary.BigEndian.PutUint64(v[0:8], validFrom)
	binary.BigEndian.PutUint64(v[8:16], validTo)
	binary.BigEndian.PutUint64(v[16:24], flags)
	return v
}

func decodeValue(v btreeValue) (validFrom, validTo, flags uint64) {
	return binary.BigEndian.Uint64(v[0:8]),
		binary.BigEndian.Uint64(v[8:16]),
		binary.BigEndian.Uint64(v[16:24])
}

// keyLess reports whether a sorts before b. Keys are compared as big
// fixed-width big-endian integers, so byte-wise comparison already
// matches numeric ordering — this is why encodeKey uses BigEndian rather
// than the LittleEndian convention used elsewhere in Mercury's binary
// formats.
func keyLess(a, b btreeKey) bool {
	for i := 0; i < keySize; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func keyEqual(a, b btreeKey) bool {
	return a == b
}
