package hasher

import (
	"testing"

	"github.com/dedis/vsrepl/msgs"
)

func entries(n int) []msgs.LogEntry {
	es := make([]msgs.LogEntry, n)
	for i := range es {
		es[i] = msgs.LogEntry{
			OpNumber: int32(i),
			ClientOp: msgs.ClientOp{ClientID: uint32(i % 3), OpStr: "x", CliOpID: uint64(i)},
		}
	}
	return es
}

// TestFoldComposes checks that incremental folds compose with a single
// batch fold.
func TestFoldComposes(t *testing.T) {
	vv := entries(5)

	hAll := Fold(0, vv)

	h := Fold(0, vv[0:2])
	h = Fold(h, vv[2:3])
	h = Fold(h, vv[3:5])

	if h != hAll {
		t.Fatalf("incremental fold %d != batch fold %d", h, hAll)
	}
}

func TestEmptyFoldIsZero(t *testing.T) {
	if got := Fold(0, nil); got != 0 {
		t.Fatalf("fold of empty log = %d, want 0", got)
	}
}

func TestDistinguishesDifferentSets(t *testing.T) {
	a := Fold(0, entries(3))
	b := Fold(0, entries(4))
	if a == b {
		t.Fatalf("hashes of different-length logs unexpectedly equal: %d", a)
	}
}

func TestCombineDeterministic(t *testing.T) {
	op := msgs.ClientOp{ClientID: 1, OpStr: "y", CliOpID: 9}
	h1 := Combine(42, 3, op)
	h2 := Combine(42, 3, op)
	if h1 != h2 {
		t.Fatalf("Combine is not deterministic: %d != %d", h1, h2)
	}
}
