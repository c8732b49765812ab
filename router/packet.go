// Package router implements §4.3: store-and-forward delivery of Packets
// across a mesh of intermittently-online peers, with mutual-peer relay,
// TTL-bounded loop avoidance, and back-propagated acknowledgments. It is
// the delivery substrate both the channel directory and the artifact
// layer's per-artifact sync channels are built on top of.
//
// Grounded heavily on the teacher's p2p package, generalized from devp2p's
// RLPx transport/peer model to Indra's abstract capability.Transport: the
// concerns (peer bookkeeping, reputation, request/response correlation,
// gossip-fed caches) carry over, the wire shapes and routing decisions do
// not.
package router

import (
	"time"

	"github.com/trumanellis/indra/identity"
	"github.com/trumanellis/indra/router/strategy"
)

// Priority is a Packet's delivery urgency (§3 Packet.priority). Defined
// in router/strategy so the delivery-strategy table can be keyed on it
// without router importing strategy importing router; re-exported here
// under the name callers of this package expect.
type Priority = strategy.Priority

const (
	PriorityBulk     = strategy.Bulk
	PriorityNormal   = strategy.Normal
	PriorityHigh     = strategy.High
	PriorityCritical = strategy.Critical
)

// DefaultTTL is the initial hop budget for a freshly originated packet
// (§3 "ttl: small integer (default 10)").
const DefaultTTL = 10

// MaxHoldAge is the default per-destination custody age limit (§4.3.2
// "max_hold (default 7 days)").
const MaxHoldAge = 7 * 24 * time.Hour

// Packet is the addressable unit of transport (§3 "Packet").
type Packet struct {
	ID            [16]byte
	Source        identity.PeerID
	Destination   identity.PeerID
	Payload       []byte // opaque, sealed for Destination
	TTL           int
	Visited       map[[32]byte]struct{} // set of peer hashes (§3 "visited")
	RoutingHints  []identity.PeerID
	Priority      Priority
	CreatedAt     time.Time
	Correlation   *[16]byte // optional, for back-propagated ACKs
}

// HasVisited reports whether peerHash has already handled this packet.
func (p *Packet) HasVisited(peerHash [32]byte) bool {
	_, ok := p.Visited[peerHash]
	return ok
}

// WithHop returns a copy of p for forwarding to the next hop: ttl
// decremented, visited extended with selfHash (§4.3.2 step 3 "Relay").
func (p Packet) WithHop(selfHash [32]byte) Packet {
	next := p
	next.TTL = p.TTL - 1
	next.Visited = make(map[[32]byte]struct{}, len(p.Visited)+1)
	for k := range p.Visited {
		next.Visited[k] = struct{}{}
	}
	next.Visited[selfHash] = struct{}{}
	next.Payload = append([]byte(nil), p.Payload...)
	return next
}

// Age reports how long the packet has existed since CreatedAt.
func (p *Packet) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// CustodyEntry is a packet this node has accepted responsibility for
// relaying, indexed by PacketId (§4.3.1 "custody").
type CustodyEntry struct {
	Packet      Packet
	Destination identity.PeerID
	Expiry      time.Time
}

// InflightAck memoizes a forwarding so a later DeliveryAck can be routed
// back along the reverse edge (§4.3.1 "inflight_acks").
type InflightAck struct {
	Source    identity.PeerID
	CreatedAt time.Time
}

// DeliveryAck is the sealed acknowledgment a destination emits on final
// delivery (§3 wire table tag 0x02).
type DeliveryAck struct {
	PacketID [16]byte
	Ts       time.Time
}

// PresenceHint is a gossip-style presence summary exchanged between
// directly reachable peers to populate the mutuals cache (§3 wire table
// tag 0x03, §4.3.1 "mutuals").
type PresenceHint struct {
	Self            identity.PeerID
	DirectNeighbors []identity.PeerID
}

// Event is an observable router outcome (§4.3.2, §4.3.4): Forwarded,
// Dropped, and Delivered all surface through this one type so callers can
// subscribe to a single stream, mirroring document.Change's Kind/Key
// shape.
type Event struct {
	Kind     string // "forwarded" | "dropped" | "delivered" | "accepted"
	PacketID [16]byte
	Detail   string        // e.g. relay mode, drop reason
	Latency  time.Duration // populated for "delivered"
}
