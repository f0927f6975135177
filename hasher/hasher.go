// Package hasher folds an ordered sequence of committed log entries into a
// running digest used as a cheap cross-replica log-equality proof.
//
// This is a direct port of the XOR-shift combiner in the original source's
// core/hasher.cpp: order-insensitive at the byte level (a known
// collision-prone construction) but cheap and trivially incremental. The
// only cross-replica requirement is that every replica in a cluster uses
// the same function; the exact bits are never wire-visible beyond
// equality comparison.
package hasher

import (
	"hash/fnv"

	"github.com/dedis/vsrepl/msgs"
)

// Hash is the digest type folded over a replica's log.
type Hash = uint64

func hashUint32(v uint32) Hash {
	var b [4]byte
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	h := fnv.New64a()
	h.Write(b[:])
	return h.Sum64()
}

func hashClientOp(op msgs.ClientOp) Hash {
	h := fnv.New64a()
	var b [4]byte
	b[0] = byte(op.ClientID)
	b[1] = byte(op.ClientID >> 8)
	b[2] = byte(op.ClientID >> 16)
	b[3] = byte(op.ClientID >> 24)
	h.Write(b[:])
	h.Write([]byte(op.OpStr))
	var b8 [8]byte
	for i := range b8 {
		b8[i] = byte(op.CliOpID >> (8 * i))
	}
	h.Write(b8[:])
	return h.Sum64()
}

// Combine folds a single log entry into init, returning the updated hash.
// Combine is order-insensitive: folding the same entry twice into two
// otherwise-equal hashes produces equal results regardless of what order
// other entries were folded in around it, which is what makes incremental
// application commute with batch folding (see Fold).
func Combine(init Hash, opNumber int32, op msgs.ClientOp) Hash {
	h := hashUint32(uint32(opNumber))
	init ^= h << 1
	h = hashClientOp(op)
	init ^= h << 1
	return init
}

// Fold folds every entry in entries into init, in order. Fold(Fold(h0,
// xs), ys) == Fold(h0, append(xs, ys...)) for any split of a sequence into
// xs/ys, since Combine only XORs per-entry contributions together.
func Fold(init Hash, entries []msgs.LogEntry) Hash {
	for _, e := range entries {
		init = Combine(init, e.OpNumber, e.ClientOp)
	}
	return init
}
