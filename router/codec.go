package router

import (
	"time"

	"github.com/trumanellis/indra/identity"
	"github.com/trumanellis/indra/internal/wire"
)

// EncodePacket frames p as a tag-0x01 wire message (§6).
func EncodePacket(p Packet) []byte {
	w := wire.NewWriter()
	w.Fixed16(p.ID)
	w.Fixed32(asID32(p.Source))
	w.Fixed32(asID32(p.Destination))
	w.VarBytes(p.Payload)
	w.Uvarint(uint64(p.TTL))

	w.Uvarint(uint64(len(p.Visited)))
	for h := range p.Visited {
		w.Fixed32(h)
	}

	w.Uvarint(uint64(len(p.RoutingHints)))
	for _, h := range p.RoutingHints {
		w.Fixed32(asID32(h))
	}

	w.Byte(byte(p.Priority))
	w.Uvarint(uint64(p.CreatedAt.UnixMilli()))

	if p.Correlation != nil {
		w.Byte(1)
		w.Fixed16(*p.Correlation)
	} else {
		w.Byte(0)
	}

	return wire.Frame(wire.TagPacket, w.Bytes())
}

// DecodePacket parses a tag-0x01 body (the bytes already stripped of the
// frame's version/tag/length header by wire.Unframe).
func DecodePacket(body []byte) (Packet, error) {
	r := wire.NewReader(body)
	var p Packet

	id, err := r.Fixed16()
	if err != nil {
		return p, err
	}
	p.ID = id

	src, err := r.Fixed32()
	if err != nil {
		return p, err
	}
	p.Source = identity.PeerID(src)

	dst, err := r.Fixed32()
	if err != nil {
		return p, err
	}
	p.Destination = identity.PeerID(dst)

	payload, err := r.VarBytes()
	if err != nil {
		return p, err
	}
	p.Payload = payload

	ttl, err := r.Uvarint()
	if err != nil {
		return p, err
	}
	p.TTL = int(ttl)

	nVisited, err := r.Uvarint()
	if err != nil {
		return p, err
	}
	p.Visited = make(map[[32]byte]struct{}, nVisited)
	for i := uint64(0); i < nVisited; i++ {
		h, err := r.Fixed32()
		if err != nil {
			return p, err
		}
		p.Visited[h] = struct{}{}
	}

	nHints, err := r.Uvarint()
	if err != nil {
		return p, err
	}
	p.RoutingHints = make([]identity.PeerID, nHints)
	for i := uint64(0); i < nHints; i++ {
		h, err := r.Fixed32()
		if err != nil {
			return p, err
		}
		p.RoutingHints[i] = identity.PeerID(h)
	}

	prio, err := r.Byte()
	if err != nil {
		return p, err
	}
	p.Priority = Priority(prio)

	ts, err := r.Uvarint()
	if err != nil {
		return p, err
	}
	p.CreatedAt = time.UnixMilli(int64(ts))

	hasCorrelation, err := r.Byte()
	if err != nil {
		return p, err
	}
	if hasCorrelation == 1 {
		corr, err := r.Fixed16()
		if err != nil {
			return p, err
		}
		p.Correlation = &corr
	}

	return p, nil
}

// EncodeDeliveryAck frames a tag-0x02 message: (packet_id, ts) (§6).
func EncodeDeliveryAck(ack DeliveryAck) []byte {
	w := wire.NewWriter()
	w.Fixed16(ack.PacketID)
	w.Uvarint(uint64(ack.Ts.UnixMilli()))
	return wire.Frame(wire.TagDeliveryAck, w.Bytes())
}

// DecodeDeliveryAck parses a tag-0x02 body.
func DecodeDeliveryAck(body []byte) (DeliveryAck, error) {
	r := wire.NewReader(body)
	var ack DeliveryAck

	id, err := r.Fixed16()
	if err != nil {
		return ack, err
	}
	ack.PacketID = id

	ts, err := r.Uvarint()
	if err != nil {
		return ack, err
	}
	ack.Ts = time.UnixMilli(int64(ts))
	return ack, nil
}

// EncodePresenceHint frames a tag-0x03 message: (self_id,
// direct_neighbors_snapshot) (§6).
func EncodePresenceHint(hint PresenceHint) []byte {
	w := wire.NewWriter()
	w.Fixed32(asID32(hint.Self))
	w.Uvarint(uint64(len(hint.DirectNeighbors)))
	for _, n := range hint.DirectNeighbors {
		w.Fixed32(asID32(n))
	}
	return wire.Frame(wire.TagPresenceHint, w.Bytes())
}

// DecodePresenceHint parses a tag-0x03 body.
func DecodePresenceHint(body []byte) (PresenceHint, error) {
	r := wire.NewReader(body)
	var hint PresenceHint

	self, err := r.Fixed32()
	if err != nil {
		return hint, err
	}
	hint.Self = identity.PeerID(self)

	n, err := r.Uvarint()
	if err != nil {
		return hint, err
	}
	hint.DirectNeighbors = make([]identity.PeerID, n)
	for i := uint64(0); i < n; i++ {
		id, err := r.Fixed32()
		if err != nil {
			return hint, err
		}
		hint.DirectNeighbors[i] = identity.PeerID(id)
	}
	return hint, nil
}

func asID32(p identity.PeerID) [32]byte { return [32]byte(p) }
