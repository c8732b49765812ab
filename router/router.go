package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trumanellis/indra/capability"
	"github.com/trumanellis/indra/errs"
	"github.com/trumanellis/indra/identity"
	"github.com/trumanellis/indra/internal/wire"
	"github.com/trumanellis/indra/metrics"
	"github.com/trumanellis/indra/router/strategy"
)

// visitTag domain-separates the "peer hash" used in Packet.Visited from
// any other hash derived from a peer id (§3 "visited: set of peer
// hashes").
const visitTag = "packet-visit-v1:"

// RetryBackoffCap bounds the exponential backoff applied to transport
// send failures (§4.3.6).
const RetryBackoffCap = 60 * time.Second

// PayloadSeal abstracts end-to-end sealing of a Packet's payload for its
// destination, keeping §4.3.2's "relays MUST NOT decrypt the payload"
// boundary: a relay's Router is never constructed with the secret key
// needed to satisfy OpenMine, only the destination's own Router is.
// Grounded on capability.CryptoProvider's Encapsulate/Decapsulate pair,
// composed with Seal/Open the same way pqcprovider composes its hybrid
// signer from two primitives.
type PayloadSeal interface {
	SealFor(dest capability.PublicKeys, plaintext []byte) ([]byte, error)
	OpenMine(sealed []byte) ([]byte, bool)
}

// Router is the packet delivery substrate of §4.3: best-effort delivery
// across a mesh of intermittently-online peers, with mutual-peer relay,
// TTL-bounded loop avoidance, and back-propagated acknowledgments.
// Grounded on the teacher's p2p package as a whole (peer_manager.go,
// gossip.go, reputation.go, req_resp.go), generalized from devp2p's
// eth-protocol semantics to Indra's abstract delivery contract.
type Router struct {
	self      identity.PeerID
	cp        capability.CryptoProvider
	transport capability.Transport
	seal      PayloadSeal

	PeerManager *PeerManager
	Mutuals     *Mutuals
	Reputation  *Reputation
	seen        *SeenCache
	table       *strategy.Table

	mu              sync.Mutex
	custody         map[[16]byte]*CustodyEntry
	inflightAcks    map[[16]byte]InflightAck
	pending         map[[16]byte]*retryState
	custodyCapacity int

	subsMu sync.Mutex
	subs   []chan Event
}

// New constructs a Router for self, using cp for hashing/sealing and
// transport for sending/receiving frames.
func New(self identity.PeerID, cp capability.CryptoProvider, transport capability.Transport, seal PayloadSeal) *Router {
	return &Router{
		self:            self,
		cp:              cp,
		transport:       transport,
		seal:            seal,
		PeerManager:     NewPeerManager(),
		Mutuals:         NewMutuals(),
		Reputation:      NewReputation(DefaultReputationConfig()),
		seen:            NewSeenCache(DefaultSeenCapacity),
		table:           strategy.NewDefaultTable(),
		custody:         make(map[[16]byte]*CustodyEntry),
		inflightAcks:    make(map[[16]byte]InflightAck),
		pending:         make(map[[16]byte]*retryState),
		custodyCapacity: DefaultCustodyCapacity,
	}
}

// Subscribe returns a channel receiving every router Event from now on
// (best-effort delivery, same backpressure policy as document.Subscribe).
func (r *Router) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()
	return ch
}

func (r *Router) publish(e Event) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (r *Router) peerHash(id identity.PeerID) [32]byte {
	return r.cp.Hash(visitTag, id.Bytes())
}

// AddDirectPeer registers a live session to id (§4.3.1
// "directly_reachable").
func (r *Router) AddDirectPeer(id identity.PeerID, conn capability.ConnectionHandle) {
	r.PeerManager.AddDirect(id, conn)
	metrics.DirectNeighbors.Set(int64(r.PeerManager.Len()))
	// A freshly reachable peer may unblock packets the retry loop was
	// backing off on; drain the backlog now instead of waiting for the
	// next tick (§4.3.6 "retry... on peer reconnect").
	go r.RetryPending(context.Background())
}

// DropDirectPeer tears down a session, demoting id out of
// directly_reachable.
func (r *Router) DropDirectPeer(id identity.PeerID) {
	r.PeerManager.DropDirect(id)
	r.Mutuals.Forget(id)
	metrics.DirectNeighbors.Set(int64(r.PeerManager.Len()))
}

// neighborsView adapts Router/PeerManager/Mutuals to strategy.Neighbors.
type neighborsView struct {
	r           *Router
	destination identity.PeerID
}

func (n neighborsView) Direct() []identity.PeerID { return n.r.PeerManager.DirectPeers() }
func (n neighborsView) Mutuals(destination identity.PeerID) []identity.PeerID {
	cands := n.r.Mutuals.Candidates(destination, time.Now())
	out := make([]identity.PeerID, 0, len(cands))
	for p := range cands {
		out = append(out, p)
	}
	return out
}

// reachabilityBucket estimates destination's availability for the
// §4.3.3 strategy table's second axis.
func (r *Router) reachabilityBucket(destination identity.PeerID, now time.Time) strategy.Reachability {
	if r.PeerManager.IsDirectlyReachable(destination) {
		return strategy.DirectlyReachable
	}
	if r.knownContact(destination, now) {
		return strategy.KnownOffline
	}
	return strategy.SparseUnknown
}

func (r *Router) knownContact(destination identity.PeerID, now time.Time) bool {
	if r.PeerManager.RecentlySeen(destination, now) {
		return true
	}
	return len(r.Mutuals.Candidates(destination, now)) > 0
}

// Send originates a new packet addressed to destination (§4.3.3),
// sealing plaintext end-to-end for destPub before it ever touches the
// router. It returns one of "delivered" (direct hop succeeded
// immediately), "accepted" (custody taken, delivery pending), or an
// error.
func (r *Router) Send(ctx context.Context, destination identity.PeerID, destPub capability.PublicKeys, plaintext []byte, priority Priority, correlation *[16]byte) ([16]byte, string, error) {
	sealed, err := r.seal.SealFor(destPub, plaintext)
	if err != nil {
		var id [16]byte
		return id, "", errs.Protocol("seal packet payload", err)
	}
	return r.SendSealed(ctx, destination, sealed, priority, correlation)
}

// SendSealed originates a new packet whose payload is already opaque
// (e.g. a channel event ciphertext handed to the router by
// channel.Directory.append_event per §4.2, which must not be re-sealed
// by the router). Same return contract as Send.
func (r *Router) SendSealed(ctx context.Context, destination identity.PeerID, sealed []byte, priority Priority, correlation *[16]byte) ([16]byte, string, error) {
	var id [16]byte
	if err := capability.RandomBytes(id[:]); err != nil {
		return id, "", errs.Transient("generate packet id", err)
	}

	now := time.Now()
	pkt := Packet{
		ID:          id,
		Source:      r.self,
		Destination: destination,
		Payload:     sealed,
		TTL:         DefaultTTL,
		Visited:     map[[32]byte]struct{}{r.peerHash(r.self): {}},
		Priority:    priority,
		CreatedAt:   now,
		Correlation: correlation,
	}

	bucket := r.reachabilityBucket(destination, now)
	plan := r.table.Lookup(priority, bucket)(destination, pkt.Visited, neighborsView{r, destination}, r.peerHash)

	if bucket == strategy.DirectlyReachable && len(plan) > 0 && plan[0].Mode == strategy.ModeDirect {
		if err := r.transmit(ctx, destination, pkt); err == nil {
			metrics.RelayHops.Inc()
			r.publish(Event{Kind: "forwarded", PacketID: id, Detail: "direct"})
			return id, "delivered", nil
		}
		// Direct transmit failed; fall through to custody (§4.3.6
		// "Transport send failure: packet remains in custody").
	}

	r.admitCustody(pkt, r.self, false)

	for _, hop := range plan {
		if hop.Neighbor == destination && hop.Mode == strategy.ModeDirect {
			continue
		}
		if err := r.transmit(ctx, hop.Neighbor, pkt.WithHop(r.peerHash(r.self))); err == nil {
			metrics.RelayHops.Inc()
			r.PeerManager.RecordRelayed(hop.Neighbor, uint64(len(pkt.Payload)))
		}
	}

	return id, "accepted", nil
}

func (r *Router) custodyLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.custody)
}

// CustodyLen reports how many packets are currently held in custody, for
// the node's health check and the `indra status` CLI command.
func (r *Router) CustodyLen() int { return r.custodyLen() }

// CustodyCapacity reports the configured custody capacity (§4.3.6).
func (r *Router) CustodyCapacity() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.custodyCapacity
}

func (r *Router) transmit(ctx context.Context, peer identity.PeerID, pkt Packet) error {
	conn, ok := r.PeerManager.Connection(peer)
	if !ok {
		return errs.Transient("peer not directly reachable", nil)
	}
	if conn.Closed() {
		r.DropDirectPeer(peer)
		return errs.Transient("connection closed", nil)
	}
	return conn.Send(ctx, EncodePacket(pkt))
}

// HandlePacket applies the §4.3.2 decision procedure to a packet
// received from fromPeer, whether this node is the destination or an
// intermediate relay.
func (r *Router) HandlePacket(ctx context.Context, pkt Packet, fromPeer identity.PeerID) {
	selfHash := r.peerHash(r.self)
	if pkt.HasVisited(selfHash) {
		metrics.PacketsDropped.Inc()
		r.publish(Event{Kind: "dropped", PacketID: pkt.ID, Detail: "self_in_visited"})
		return
	}

	if pkt.Destination == r.self {
		r.deliverLocally(ctx, pkt, fromPeer)
		return
	}

	now := time.Now()

	if r.PeerManager.IsDirectlyReachable(pkt.Destination) {
		if err := r.transmit(ctx, pkt.Destination, pkt.WithHop(selfHash)); err == nil {
			r.mu.Lock()
			r.inflightAcks[pkt.ID] = InflightAck{Source: fromPeer, CreatedAt: now}
			r.mu.Unlock()
			metrics.RelayHops.Inc()
			r.publish(Event{Kind: "forwarded", PacketID: pkt.ID, Detail: "direct"})
			return
		}
		// falls through to Hold on transport failure (§4.3.6).
	}

	if r.knownContact(pkt.Destination, now) {
		r.admitCustody(pkt, fromPeer, true)
		return
	}

	if relay, ok := r.selectRelay(pkt, now); ok {
		if err := r.transmit(ctx, relay, pkt.WithHop(selfHash)); err == nil {
			r.mu.Lock()
			r.inflightAcks[pkt.ID] = InflightAck{Source: fromPeer, CreatedAt: now}
			r.mu.Unlock()
			metrics.RelayHops.Inc()
			r.publish(Event{Kind: "forwarded", PacketID: pkt.ID, Detail: "relay"})
			return
		}
	}

	if pkt.TTL <= 0 || pkt.Age(now) > MaxHoldAge {
		metrics.PacketsDropped.Inc()
		r.publish(Event{Kind: "dropped", PacketID: pkt.ID, Detail: "ttl_or_age_exceeded"})
		return
	}

	// No viable progress right now; hold for a future retry.
	r.admitCustody(pkt, fromPeer, true)
}

// selectRelay picks a mutual relay not already in pkt.Visited: most
// recent confirmed presence of destination first, then identity-hash lex
// order. The overlap key compared in between is len(pkt.Visited), which
// is the same for every candidate, so it never separates two relays.
func (r *Router) selectRelay(pkt Packet, now time.Time) (identity.PeerID, bool) {
	candidates := r.Mutuals.Candidates(pkt.Destination, now)

	type scored struct {
		id      identity.PeerID
		ts      time.Time
		overlap int
	}
	list := make([]scored, 0, len(candidates))
	for m, ts := range candidates {
		if _, blocked := pkt.Visited[r.peerHash(m)]; blocked {
			continue
		}
		list = append(list, scored{id: m, ts: ts, overlap: len(pkt.Visited)})
	}
	if len(list) == 0 {
		return identity.PeerID{}, false
	}

	sort.Slice(list, func(i, j int) bool {
		if !list[i].ts.Equal(list[j].ts) {
			return list[i].ts.After(list[j].ts)
		}
		if list[i].overlap != list[j].overlap {
			return list[i].overlap < list[j].overlap
		}
		return list[i].id.Less(list[j].id)
	})
	return list[0].id, true
}

// deliverLocally handles a packet addressed to this node (§4.3.2 "packets
// with destination == self produce a decryption attempt").
func (r *Router) deliverLocally(ctx context.Context, pkt Packet, fromPeer identity.PeerID) {
	if r.seen.Seen(pkt.ID) {
		r.sendAck(ctx, fromPeer, pkt.ID)
		return
	}

	plaintext, ok := r.seal.OpenMine(pkt.Payload)
	if !ok {
		// Decryption failure on final-hop: mis-routing, drop silently,
		// no ack (§4.3.6).
		metrics.PacketsDropped.Inc()
		r.publish(Event{Kind: "dropped", PacketID: pkt.ID, Detail: "decryption_failure"})
		return
	}

	r.seen.MarkDelivered(pkt.ID)
	r.publish(Event{Kind: "accepted", PacketID: pkt.ID, Detail: string(plaintext)})
	r.sendAck(ctx, fromPeer, pkt.ID)
}

func (r *Router) sendAck(ctx context.Context, to identity.PeerID, packetID [16]byte) {
	conn, ok := r.PeerManager.Connection(to)
	if !ok {
		return
	}
	_ = conn.Send(ctx, EncodeDeliveryAck(DeliveryAck{PacketID: packetID, Ts: time.Now()}))
}

// HandleDeliveryAck processes an incoming ACK (§4.3.4). Every relay
// holding inflight_acks[packet_id] removes its custody entry and forwards
// the ACK one hop further back; the original source instead emits
// Delivered. Duplicate ACKs (no matching inflight entry) are a no-op.
func (r *Router) HandleDeliveryAck(ctx context.Context, ack DeliveryAck) {
	r.mu.Lock()
	entry, ok := r.inflightAcks[ack.PacketID]
	if ok {
		delete(r.inflightAcks, ack.PacketID)
	}
	_, hadCustody := r.custody[ack.PacketID]
	if hadCustody {
		delete(r.custody, ack.PacketID)
	}
	delete(r.pending, ack.PacketID)
	r.mu.Unlock()

	if hadCustody {
		metrics.PacketsInCustody.Set(int64(r.custodyLen()))
	}

	if !ok {
		return // duplicate ACK, idempotent no-op
	}

	if entry.Source == r.self {
		metrics.PacketsDelivered.Inc()
		latency := time.Since(entry.CreatedAt)
		metrics.AckLatencyMs.Observe(float64(latency.Milliseconds()))
		r.publish(Event{Kind: "delivered", PacketID: ack.PacketID, Latency: latency})
		return
	}

	r.sendAck(ctx, entry.Source, ack.PacketID)
}

// HandlePresenceHint ingests a gossip-style presence summary into the
// mutuals cache (§4.3.1 "mutuals... populated from gossip-style presence
// summaries").
func (r *Router) HandlePresenceHint(hint PresenceHint) {
	now := time.Now()
	r.PeerManager.MarkSeen(hint.Self, now)
	r.Mutuals.Ingest(hint, now)
}

// HandleFrame dispatches a raw wire frame received from fromPeer to the
// appropriate handler.
func (r *Router) HandleFrame(ctx context.Context, fromPeer identity.PeerID, frame []byte) error {
	tag, body, err := wire.Unframe(frame)
	if err != nil {
		return errs.Protocol("unframe router message", err)
	}
	switch tag {
	case wire.TagPacket:
		pkt, err := DecodePacket(body)
		if err != nil {
			return errs.Protocol("decode packet", err)
		}
		r.HandlePacket(ctx, pkt, fromPeer)
	case wire.TagDeliveryAck:
		ack, err := DecodeDeliveryAck(body)
		if err != nil {
			return errs.Protocol("decode delivery ack", err)
		}
		r.HandleDeliveryAck(ctx, ack)
	case wire.TagPresenceHint:
		hint, err := DecodePresenceHint(body)
		if err != nil {
			return errs.Protocol("decode presence hint", err)
		}
		r.HandlePresenceHint(hint)
	default:
		return errs.Protocol("unknown router wire tag", nil)
	}
	return nil
}

// BroadcastToChannel implements channel.Broadcaster: it sends the
// ciphertext to every member except self, using custody-backed delivery
// so offline members receive it once they reconnect.
func (r *Router) BroadcastToChannel(channel identity.ChannelID, members []identity.PeerID, ciphertext []byte) error {
	ctx := context.Background()
	for _, m := range members {
		if m == r.self {
			continue
		}
		if _, _, err := r.SendSealed(ctx, m, ciphertext, PriorityNormal, nil); err != nil {
			return err
		}
	}
	return nil
}
