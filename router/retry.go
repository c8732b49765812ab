package router

import (
	"context"
	"sort"
	"time"

	"github.com/trumanellis/indra/identity"
	"github.com/trumanellis/indra/metrics"
)

// DefaultCustodyCapacity bounds how many packets a Router holds in
// custody simultaneously before the storage-pressure eviction policy
// (§4.3.6 "Storage full") starts reclaiming space.
const DefaultCustodyCapacity = 10000

// initialRetryBackoff is the delay before the first retry of a held
// packet; it doubles on every further failed attempt up to
// RetryBackoffCap (§4.3.6).
const initialRetryBackoff = 1 * time.Second

// retryState tracks one pending packet's next retry attempt, replacing a
// bare slice of packets with per-packet backoff bookkeeping, the same
// shape p2p/req_resp.go used to track unacknowledged requests awaiting
// retransmission.
type retryState struct {
	pkt         Packet
	destination identity.PeerID
	attempts    int
	nextAttempt time.Time
}

// SetCustodyCapacity overrides the default custody capacity; tests use a
// small capacity to exercise the eviction policy without holding
// thousands of packets.
func (r *Router) SetCustodyCapacity(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custodyCapacity = n
}

// admitCustody records pkt as held for destination, attributing the
// inflight ack to fromPeer (r.self for locally originated packets), and
// enforces the custody capacity by evicting the lowest-priority, oldest
// packet if admitting pkt pushed custody over capacity. If needsRetry is
// true, pkt is also queued for the retry loop.
func (r *Router) admitCustody(pkt Packet, fromPeer identity.PeerID, needsRetry bool) {
	now := time.Now()

	r.mu.Lock()
	r.custody[pkt.ID] = &CustodyEntry{Packet: pkt, Destination: pkt.Destination, Expiry: pkt.CreatedAt.Add(MaxHoldAge)}
	r.inflightAcks[pkt.ID] = InflightAck{Source: fromPeer, CreatedAt: now}
	if needsRetry {
		r.pending[pkt.ID] = &retryState{pkt: pkt, destination: pkt.Destination, nextAttempt: now.Add(initialRetryBackoff)}
	}
	evictedID, evicted := r.evictIfOverCapacityLocked()
	r.mu.Unlock()

	metrics.PacketsInCustody.Set(int64(r.custodyLen()))
	if evicted {
		metrics.PacketsDropped.Inc()
		r.publish(Event{Kind: "dropped", PacketID: evictedID, Detail: "storage_pressure"})
	}
}

// evictIfOverCapacityLocked removes the lowest-priority, oldest-created
// custody entry if r.custody exceeds r.custodyCapacity (§4.3.6 "Storage
// full -> oldest-lowest-priority packets evicted first"). Callers must
// hold r.mu.
func (r *Router) evictIfOverCapacityLocked() ([16]byte, bool) {
	if len(r.custody) <= r.custodyCapacity {
		return [16]byte{}, false
	}

	var victim [16]byte
	var victimEntry *CustodyEntry
	for id, entry := range r.custody {
		if victimEntry == nil ||
			entry.Packet.Priority < victimEntry.Packet.Priority ||
			(entry.Packet.Priority == victimEntry.Packet.Priority && entry.Packet.CreatedAt.Before(victimEntry.Packet.CreatedAt)) {
			victim = id
			victimEntry = entry
		}
	}
	if victimEntry == nil {
		return [16]byte{}, false
	}

	delete(r.custody, victim)
	delete(r.inflightAcks, victim)
	delete(r.pending, victim)
	return victim, true
}

// RetryPending attempts redelivery of every held packet whose backoff
// has elapsed: a direct send if the destination (or a relay chosen the
// same way HandlePacket would) is now reachable, otherwise the attempt
// count is bumped and nextAttempt pushed out by doubling the backoff, up
// to RetryBackoffCap. A node runs this on a ticker and also on
// AddDirectPeer, so a reconnecting peer's backlog drains immediately
// instead of waiting for the next tick.
func (r *Router) RetryPending(ctx context.Context) {
	now := time.Now()

	r.mu.Lock()
	due := make([]*retryState, 0, len(r.pending))
	for _, st := range r.pending {
		if !st.nextAttempt.After(now) {
			due = append(due, st)
		}
	}
	r.mu.Unlock()

	// Deterministic order keeps retry behavior reproducible in tests:
	// oldest-queued packets are retried first.
	sort.Slice(due, func(i, j int) bool { return due[i].pkt.CreatedAt.Before(due[j].pkt.CreatedAt) })

	for _, st := range due {
		r.retryOne(ctx, st, now)
	}
}

func (r *Router) retryOne(ctx context.Context, st *retryState, now time.Time) {
	selfHash := r.peerHash(r.self)
	pkt := st.pkt.WithHop(selfHash)

	target := st.destination
	if !r.PeerManager.IsDirectlyReachable(target) {
		if relay, ok := r.selectRelay(st.pkt, now); ok {
			target = relay
		}
	}

	if err := r.transmit(ctx, target, pkt); err == nil {
		r.mu.Lock()
		delete(r.pending, st.pkt.ID)
		r.mu.Unlock()
		metrics.RelayHops.Inc()
		r.publish(Event{Kind: "forwarded", PacketID: st.pkt.ID, Detail: "retry"})
		return
	}

	st.attempts++
	backoff := initialRetryBackoff << st.attempts
	if backoff > RetryBackoffCap || backoff <= 0 {
		backoff = RetryBackoffCap
	}
	st.nextAttempt = now.Add(backoff)
}
