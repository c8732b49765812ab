package document

import (
	"github.com/trumanellis/indra/internal/wire"
	"github.com/trumanellis/indra/metrics"
)

// BuildSyncOffer frames a SyncOffer message (§6 tag 0x10): the channel id
// paired with opaque state-vector bytes. This document's name and current
// state vector are packed into those opaque bytes, so one channel can
// carry sync traffic for several documents without widening the wire
// table's (channel_id, state_vector_bytes) shape.
func (d *Document[T]) BuildSyncOffer() []byte {
	body := wire.NewWriter()
	body.Fixed32(d.Channel)
	body.String(d.Name)
	body.VarBytes(d.StateVectorBytes())
	return wire.Frame(wire.TagSyncOffer, body.Bytes())
}

// ParseSyncOffer decodes a SyncOffer frame's channel id, document name, and
// the sender's state-vector bytes.
func ParseSyncOffer(frame []byte) (channel [32]byte, name string, vectorBytes []byte, err error) {
	tag, body, err := wire.Unframe(frame)
	if err != nil {
		return channel, "", nil, err
	}
	if tag != wire.TagSyncOffer {
		return channel, "", nil, wire.ErrBadVersion
	}
	r := wire.NewReader(body)
	channel, err = r.Fixed32()
	if err != nil {
		return channel, "", nil, err
	}
	name, err = r.String()
	if err != nil {
		return channel, "", nil, err
	}
	vectorBytes, err = r.VarBytes()
	return channel, name, vectorBytes, err
}

// HandleSyncOffer computes the diff this replica has that the sender of
// peerVectorBytes lacks (§4.4 step 2), for inclusion in a SyncReply.
func (d *Document[T]) HandleSyncOffer(peerVectorBytes []byte) []byte {
	return d.Diff(peerVectorBytes)
}

// BuildSyncReply frames a SyncReply message (§6 tag 0x11): the channel id,
// the diff bytes computed in response to a SyncOffer, and this replica's
// own (now possibly updated) state vector.
func (d *Document[T]) BuildSyncReply(diffBytes []byte) []byte {
	body := wire.NewWriter()
	body.Fixed32(d.Channel)
	body.String(d.Name)
	body.VarBytes(diffBytes)
	body.VarBytes(d.StateVectorBytes())
	return wire.Frame(wire.TagSyncReply, body.Bytes())
}

// ParseSyncReply decodes a SyncReply frame's channel id, document name,
// diff bytes, and the sender's state-vector bytes.
func ParseSyncReply(frame []byte) (channel [32]byte, name string, diffBytes, vectorBytes []byte, err error) {
	tag, body, err := wire.Unframe(frame)
	if err != nil {
		return channel, "", nil, nil, err
	}
	if tag != wire.TagSyncReply {
		return channel, "", nil, nil, wire.ErrBadVersion
	}
	r := wire.NewReader(body)
	channel, err = r.Fixed32()
	if err != nil {
		return channel, "", nil, nil, err
	}
	name, err = r.String()
	if err != nil {
		return channel, "", nil, nil, err
	}
	diffBytes, err = r.VarBytes()
	if err != nil {
		return channel, "", nil, nil, err
	}
	vectorBytes, err = r.VarBytes()
	return channel, name, diffBytes, vectorBytes, err
}

// HandleSyncReply applies a received diff and reports whether this
// replica's state vector now matches peerVectorBytes (§4.4 step 4,
// "convergence holds when both state vectors become pairwise equal").
// It records a completed round trip in metrics regardless of outcome,
// since a round trip is defined by the exchange happening, not by
// convergence being reached on this particular round.
func (d *Document[T]) HandleSyncReply(diffBytes, peerVectorBytes []byte) (applied int, converged bool) {
	applied = d.ApplyDiff(diffBytes)
	metrics.SyncRoundTrips.Inc()

	d.mu.Lock()
	mine := encodeVector(d.vector)
	d.mu.Unlock()
	converged = string(mine) == string(peerVectorBytes)
	return applied, converged
}
