// Package document implements §4.4: a typed, mergeable view over a CRDT
// state scoped to a channel and a name. It wraps the crdt package's
// primitives with the generic apply_local/apply_remote/snapshot/
// state_vector contract and the SyncOffer/SyncReply protocol, and exposes
// a change stream observers can subscribe to.
//
// The state-vector/diff machinery here is CRDT-agnostic: it tracks, per
// author, the highest operation clock applied so far, and a flat log of
// every applied operation. Diffing against a peer's state vector is then
// just "ops whose clock exceeds what the peer already reported" — a
// peer with a stale vector gets resent ops it already has (idempotent
// reapplication handles that, per §4.4 "Change bytes... are idempotent
// under reapplication"), but never misses an op it lacks. This generic shape lets
// every CRDT flavor (map, sequence, counter) share one sync engine,
// mirroring the staged/resumable progress-cursor design of the teacher's
// sync/pipeline.go and sync/progress.go, generalized from chain-sync
// stages to CRDT state-vector rounds.
package document

import (
	"sort"
	"sync"

	"github.com/trumanellis/indra/document/crdt"
	"github.com/trumanellis/indra/identity"
	"github.com/trumanellis/indra/internal/wire"
	"github.com/trumanellis/indra/metrics"
)

// Op is one CRDT operation, tagged with its author and Lamport clock so
// replicas can order and deduplicate it.
type Op struct {
	Author  crdt.Author
	Clock   crdt.Clock
	Payload []byte
}

// ChangeSummary describes, for an observer, what a single apply did.
type ChangeSummary struct {
	Kind string // e.g. "put", "delete", "insert", "increment"
	Key  string
}

// Change is one entry on a document's change stream (§4.4 "Change stream").
type Change struct {
	Author   crdt.Author
	Summary  ChangeSummary
	IsRemote bool
}

// Applier adapts a concrete CRDT (map/sequence/counter) to the generic
// document engine: apply one opaque operation and materialize a snapshot
// of type T.
type Applier[T any] interface {
	Apply(op Op) (ChangeSummary, bool)
	Snapshot() T
}

// Document is a typed CRDT-backed document living at (channel, name).
type Document[T any] struct {
	mu      sync.Mutex
	Channel identity.ChannelID
	Name    string
	self    crdt.Author

	applier Applier[T]

	vector map[crdt.Author]crdt.Clock
	log    []Op
	seen   map[crdt.Author]map[crdt.Clock]struct{}

	localClock crdt.Clock

	subsMu sync.Mutex
	subs   []chan Change
}

// New constructs a Document backed by applier, scoped to channel/name, with
// self as the local author used for apply_local.
func New[T any](channel identity.ChannelID, name string, self crdt.Author, applier Applier[T]) *Document[T] {
	return &Document[T]{
		Channel: channel,
		Name:    name,
		self:    self,
		applier: applier,
		vector:  make(map[crdt.Author]crdt.Clock),
		seen:    make(map[crdt.Author]map[crdt.Clock]struct{}),
	}
}

// ApplyLocal builds an Op from payload at the next local Lamport clock,
// applies it, and returns the applied Op together with its ChangeSummary.
func (d *Document[T]) ApplyLocal(payload []byte) (Op, ChangeSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.localClock++
	op := Op{Author: d.self, Clock: d.localClock, Payload: payload}
	summary, _ := d.applyLocked(op)
	d.publish(Change{Author: op.Author, Summary: summary, IsRemote: false})
	return op, summary
}

// ApplyRemote merges a remote op. Idempotent: reapplying an op already
// seen (same author+clock) is a no-op and returns changed=false (§4.4,
// §8 invariant 4).
func (d *Document[T]) ApplyRemote(op Op) (ChangeSummary, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if authorSeen, ok := d.seen[op.Author]; ok {
		if _, dup := authorSeen[op.Clock]; dup {
			return ChangeSummary{}, false
		}
	}
	summary, changed := d.applyLocked(op)
	if changed {
		metrics.RemoteChangesApplied.Inc()
		d.publish(Change{Author: op.Author, Summary: summary, IsRemote: true})
	}
	return summary, changed
}

func (d *Document[T]) applyLocked(op Op) (ChangeSummary, bool) {
	summary, changed := d.applier.Apply(op)

	if d.seen[op.Author] == nil {
		d.seen[op.Author] = make(map[crdt.Clock]struct{})
	}
	d.seen[op.Author][op.Clock] = struct{}{}
	if op.Clock > d.vector[op.Author] {
		d.vector[op.Author] = op.Clock
	}
	d.log = append(d.log, op)
	return summary, changed
}

// Snapshot materializes a plain value of type T from the current CRDT
// state.
func (d *Document[T]) Snapshot() T {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applier.Snapshot()
}

// StateVectorBytes encodes the current state vector compactly, for
// inclusion in SyncOffer/SyncReply.
func (d *Document[T]) StateVectorBytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return encodeVector(d.vector)
}

// Diff returns the ops this replica has that the sender of peerVector
// lacks, per §4.4 step 2 ("changes_we_have_that_A_lacks"). Because the
// comparison is per-author clock, a stale peerVector only causes
// over-sending already-known ops, never under-sending (§4.4).
func (d *Document[T]) Diff(peerVectorBytes []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	peerVector := decodeVector(peerVectorBytes)
	w := wire.NewWriter()
	var missing []Op
	for _, op := range d.log {
		if op.Clock > peerVector[op.Author] {
			missing = append(missing, op)
		}
	}
	w.Uvarint(uint64(len(missing)))
	for _, op := range missing {
		w.String(string(op.Author))
		w.Uvarint(uint64(op.Clock))
		w.VarBytes(op.Payload)
	}
	return w.Bytes()
}

// ApplyDiff decodes and applies a diff produced by Diff, applying each op
// via ApplyRemote (idempotent).
func (d *Document[T]) ApplyDiff(diffBytes []byte) int {
	r := wire.NewReader(diffBytes)
	n, err := r.Uvarint()
	if err != nil {
		return 0
	}
	applied := 0
	for i := uint64(0); i < n; i++ {
		author, err := r.String()
		if err != nil {
			return applied
		}
		clock, err := r.Uvarint()
		if err != nil {
			return applied
		}
		payload, err := r.VarBytes()
		if err != nil {
			return applied
		}
		if _, changed := d.ApplyRemote(Op{Author: crdt.Author(author), Clock: crdt.Clock(clock), Payload: payload}); changed {
			applied++
		}
	}
	return applied
}

// Subscribe returns a channel receiving every Change applied from now on.
// Delivery is best-effort: a slow subscriber with a full buffer misses
// changes rather than blocking the document (§5 backpressure policy).
func (d *Document[T]) Subscribe(buffer int) <-chan Change {
	ch := make(chan Change, buffer)
	d.subsMu.Lock()
	d.subs = append(d.subs, ch)
	d.subsMu.Unlock()
	return ch
}

func (d *Document[T]) publish(c Change) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// encodeVector produces a deterministic encoding: authors are sorted so
// two replicas holding the same (author -> clock) pairs always produce
// byte-identical output, which lets HandleSyncReply compare vectors for
// equality by comparing bytes.
func encodeVector(v map[crdt.Author]crdt.Clock) []byte {
	authors := make([]string, 0, len(v))
	for author := range v {
		authors = append(authors, string(author))
	}
	sort.Strings(authors)

	w := wire.NewWriter()
	w.Uvarint(uint64(len(authors)))
	for _, author := range authors {
		w.String(author)
		w.Uvarint(uint64(v[crdt.Author(author)]))
	}
	return w.Bytes()
}

func decodeVector(b []byte) map[crdt.Author]crdt.Clock {
	out := make(map[crdt.Author]crdt.Clock)
	r := wire.NewReader(b)
	n, err := r.Uvarint()
	if err != nil {
		return out
	}
	for i := uint64(0); i < n; i++ {
		author, err := r.String()
		if err != nil {
			return out
		}
		clock, err := r.Uvarint()
		if err != nil {
			return out
		}
		out[crdt.Author(author)] = crdt.Clock(clock)
	}
	return out
}
