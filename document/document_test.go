package document

import (
	"testing"

	"github.com/trumanellis/indra/document/crdt"
	"github.com/trumanellis/indra/identity"
)

func TestDocumentApplyLocalIsVisibleInSnapshot(t *testing.T) {
	d := New[map[string][]byte](identity.ChannelID{}, "doc", "A", NewMapApplier())

	d.ApplyLocal(EncodeMapPut("k", []byte("v")))

	snap := d.Snapshot()
	if string(snap["k"]) != "v" {
		t.Fatalf("snapshot = %v, want k=v", snap)
	}
}

func TestDocumentApplyRemoteIsIdempotent(t *testing.T) {
	d := New[map[string][]byte](identity.ChannelID{}, "doc", "A", NewMapApplier())

	op := Op{Author: "B", Clock: 1, Payload: EncodeMapPut("k", []byte("v"))}
	_, changed1 := d.ApplyRemote(op)
	_, changed2 := d.ApplyRemote(op)

	if !changed1 {
		t.Fatalf("first apply_remote should report changed")
	}
	if changed2 {
		t.Fatalf("duplicate apply_remote should report unchanged")
	}
	if string(d.Snapshot()["k"]) != "v" {
		t.Fatalf("expected k=v after duplicate apply")
	}
}

func TestDocumentDiffAndApplyDiffConverge(t *testing.T) {
	left := New[map[string][]byte](identity.ChannelID{}, "doc", "A", NewMapApplier())
	right := New[map[string][]byte](identity.ChannelID{}, "doc", "B", NewMapApplier())

	left.ApplyLocal(EncodeMapPut("a", []byte("1")))
	left.ApplyLocal(EncodeMapPut("b", []byte("2")))

	// right knows nothing: its state vector is empty, so the diff contains
	// every op left has.
	emptyVector := right.StateVectorBytes()
	diff := left.Diff(emptyVector)

	applied := right.ApplyDiff(diff)
	if applied != 2 {
		t.Fatalf("applied = %d, want 2", applied)
	}

	leftSnap := left.Snapshot()
	rightSnap := right.Snapshot()
	if len(leftSnap) != len(rightSnap) {
		t.Fatalf("snapshots diverged: left=%v right=%v", leftSnap, rightSnap)
	}
	for k, v := range leftSnap {
		if string(rightSnap[k]) != string(v) {
			t.Fatalf("snapshots diverged at %q: left=%q right=%q", k, v, rightSnap[k])
		}
	}

	// Re-sending the same diff is a no-op (idempotent under reapplication).
	if applied2 := right.ApplyDiff(diff); applied2 != 0 {
		t.Fatalf("re-applying the same diff should change nothing, applied %d", applied2)
	}
}

func TestDocumentDiffNeverUndersends(t *testing.T) {
	left := New[map[string][]byte](identity.ChannelID{}, "doc", "A", NewMapApplier())
	right := New[map[string][]byte](identity.ChannelID{}, "doc", "B", NewMapApplier())

	left.ApplyLocal(EncodeMapPut("a", []byte("1")))
	staleVector := right.StateVectorBytes()
	left.ApplyLocal(EncodeMapPut("b", []byte("2")))

	// right's vector is stale (taken before "b" existed); diff must still
	// include both ops, never omitting "b".
	diff := left.Diff(staleVector)
	applied := right.ApplyDiff(diff)
	if applied != 2 {
		t.Fatalf("applied = %d, want 2 (stale vector must not cause undersend)", applied)
	}
}

func TestDocumentSubscribeReceivesLocalAndRemoteChanges(t *testing.T) {
	d := New[map[string][]byte](identity.ChannelID{}, "doc", "A", NewMapApplier())
	changes := d.Subscribe(4)

	d.ApplyLocal(EncodeMapPut("k", []byte("v")))
	d.ApplyRemote(Op{Author: "B", Clock: 1, Payload: EncodeMapPut("k2", []byte("v2"))})

	first := <-changes
	if first.IsRemote {
		t.Fatalf("expected first change to be local")
	}
	second := <-changes
	if !second.IsRemote {
		t.Fatalf("expected second change to be remote")
	}
}

func TestSequenceDocumentConcurrentInsertsConverge(t *testing.T) {
	a := New[[][]byte](identity.ChannelID{}, "doc", "A", NewSequenceApplier())
	b := New[[][]byte](identity.ChannelID{}, "doc", "B", NewSequenceApplier())

	a.ApplyLocal(EncodeSequenceInsert(crdt.ZeroNodeID.Author, crdt.ZeroNodeID.Seq, []byte("x")))
	b.ApplyLocal(EncodeSequenceInsert(crdt.ZeroNodeID.Author, crdt.ZeroNodeID.Seq, []byte("y")))

	diffAB := a.Diff(b.StateVectorBytes())
	diffBA := b.Diff(a.StateVectorBytes())

	a.ApplyDiff(diffBA)
	b.ApplyDiff(diffAB)

	snapA := a.Snapshot()
	snapB := b.Snapshot()
	if len(snapA) != 2 || len(snapB) != 2 {
		t.Fatalf("expected 2 elements on both sides, got %v and %v", snapA, snapB)
	}
	for i := range snapA {
		if string(snapA[i]) != string(snapB[i]) {
			t.Fatalf("sequence documents diverged: %v != %v", snapA, snapB)
		}
	}
}

func TestCounterDocumentMergesAcrossAuthors(t *testing.T) {
	a := New[int64](identity.ChannelID{}, "doc", "A", NewCounterApplier())
	b := New[int64](identity.ChannelID{}, "doc", "B", NewCounterApplier())

	a.ApplyLocal(EncodeCounterDelta(5))
	b.ApplyLocal(EncodeCounterDelta(3))

	a.ApplyDiff(b.Diff(a.StateVectorBytes()))
	b.ApplyDiff(a.Diff(b.StateVectorBytes()))

	if a.Snapshot() != 8 {
		t.Fatalf("a snapshot = %d, want 8", a.Snapshot())
	}
	if b.Snapshot() != 8 {
		t.Fatalf("b snapshot = %d, want 8", b.Snapshot())
	}
}
