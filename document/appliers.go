package document

import (
	"github.com/trumanellis/indra/document/crdt"
	"github.com/trumanellis/indra/internal/wire"
)

// Op kinds for the three concrete applier payload encodings below. These
// only need to be distinct bytes; they never cross the wire except as part
// of an Op's opaque Payload.
const (
	mapOpPut byte = iota
	mapOpDelete
)

// MapApplier adapts an ORMap to Applier[map[string][]byte]. Each Op payload
// encodes either a put (key, value) or a delete (key).
type MapApplier struct {
	m *crdt.ORMap
}

func NewMapApplier() *MapApplier {
	return &MapApplier{m: crdt.NewORMap()}
}

// EncodeMapPut builds the payload for an ApplyLocal call that sets key=value.
func EncodeMapPut(key string, value []byte) []byte {
	w := wire.NewWriter()
	w.Byte(mapOpPut)
	w.String(key)
	w.VarBytes(value)
	return w.Bytes()
}

// EncodeMapDelete builds the payload for an ApplyLocal call that removes key.
func EncodeMapDelete(key string) []byte {
	w := wire.NewWriter()
	w.Byte(mapOpDelete)
	w.String(key)
	return w.Bytes()
}

func (a *MapApplier) Apply(op Op) (ChangeSummary, bool) {
	r := wire.NewReader(op.Payload)
	kind, err := r.Byte()
	if err != nil {
		return ChangeSummary{}, false
	}
	key, err := r.String()
	if err != nil {
		return ChangeSummary{}, false
	}
	tag := crdt.Tag{Clock: crdt.Clock(op.Clock), Author: op.Author}

	switch kind {
	case mapOpPut:
		value, err := r.VarBytes()
		if err != nil {
			return ChangeSummary{}, false
		}
		changed := a.m.Put(key, tag, value)
		return ChangeSummary{Kind: "put", Key: key}, changed
	case mapOpDelete:
		changed := a.m.Delete(key, tag)
		return ChangeSummary{Kind: "delete", Key: key}, changed
	default:
		return ChangeSummary{}, false
	}
}

func (a *MapApplier) Snapshot() map[string][]byte {
	return a.m.Snapshot()
}

// SequenceApplier adapts a Sequence to Applier[[][]byte]. Each Op payload
// encodes an insert (after-author, after-seq, value) keyed by the op's own
// (author, clock) as the new node's NodeID, or a delete of a prior NodeID.
const (
	seqOpInsert byte = iota
	seqOpDelete
)

type SequenceApplier struct {
	s *crdt.Sequence
}

func NewSequenceApplier() *SequenceApplier {
	return &SequenceApplier{s: crdt.NewSequence()}
}

// EncodeSequenceInsert builds the payload for an ApplyLocal call that
// inserts value immediately after the node (afterAuthor, afterSeq).
// Use crdt.ZeroNodeID's fields (Author: "", Seq: 0) to insert at the head.
func EncodeSequenceInsert(afterAuthor crdt.Author, afterSeq uint64, value []byte) []byte {
	w := wire.NewWriter()
	w.Byte(seqOpInsert)
	w.String(string(afterAuthor))
	w.Uvarint(afterSeq)
	w.VarBytes(value)
	return w.Bytes()
}

// EncodeSequenceDelete builds the payload for an ApplyLocal call that
// removes the node identified by (author, seq).
func EncodeSequenceDelete(author crdt.Author, seq uint64) []byte {
	w := wire.NewWriter()
	w.Byte(seqOpDelete)
	w.String(string(author))
	w.Uvarint(seq)
	return w.Bytes()
}

func (a *SequenceApplier) Apply(op Op) (ChangeSummary, bool) {
	r := wire.NewReader(op.Payload)
	kind, err := r.Byte()
	if err != nil {
		return ChangeSummary{}, false
	}

	switch kind {
	case seqOpInsert:
		afterAuthor, err := r.String()
		if err != nil {
			return ChangeSummary{}, false
		}
		afterSeq, err := r.Uvarint()
		if err != nil {
			return ChangeSummary{}, false
		}
		value, err := r.VarBytes()
		if err != nil {
			return ChangeSummary{}, false
		}
		id := crdt.NodeID{Author: op.Author, Seq: uint64(op.Clock)}
		after := crdt.NodeID{Author: crdt.Author(afterAuthor), Seq: afterSeq}
		changed := a.s.Insert(id, after, value)
		return ChangeSummary{Kind: "insert"}, changed
	case seqOpDelete:
		author, err := r.String()
		if err != nil {
			return ChangeSummary{}, false
		}
		seq, err := r.Uvarint()
		if err != nil {
			return ChangeSummary{}, false
		}
		changed := a.s.Delete(crdt.NodeID{Author: crdt.Author(author), Seq: seq})
		return ChangeSummary{Kind: "delete"}, changed
	default:
		return ChangeSummary{}, false
	}
}

func (a *SequenceApplier) Snapshot() [][]byte {
	return a.s.Snapshot()
}

// CounterApplier adapts a Counter to Applier[int64]. Each Op payload encodes
// a signed delta; positive deltas increment, negative decrement, both
// attributed to the op's author.
type CounterApplier struct {
	c *crdt.Counter
}

func NewCounterApplier() *CounterApplier {
	return &CounterApplier{c: crdt.NewCounter()}
}

// EncodeCounterDelta builds the payload for an ApplyLocal call that adjusts
// the counter by delta (positive to increment, negative to decrement).
func EncodeCounterDelta(delta int64) []byte {
	w := wire.NewWriter()
	if delta < 0 {
		w.Byte(1)
		w.Uvarint(uint64(-delta))
	} else {
		w.Byte(0)
		w.Uvarint(uint64(delta))
	}
	return w.Bytes()
}

func (a *CounterApplier) Apply(op Op) (ChangeSummary, bool) {
	r := wire.NewReader(op.Payload)
	sign, err := r.Byte()
	if err != nil {
		return ChangeSummary{}, false
	}
	magnitude, err := r.Uvarint()
	if err != nil {
		return ChangeSummary{}, false
	}
	if sign == 1 {
		a.c.Decrement(op.Author, magnitude)
		return ChangeSummary{Kind: "decrement"}, true
	}
	a.c.Increment(op.Author, magnitude)
	return ChangeSummary{Kind: "increment"}, true
}

func (a *CounterApplier) Snapshot() int64 {
	return a.c.Value()
}
