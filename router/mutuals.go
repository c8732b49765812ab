package router

import (
	"sync"
	"time"

	"github.com/trumanellis/indra/identity"
)

// MutualStaleness bounds how long a gossip-reported mutual relationship
// remains trusted before it is treated as stale (§4.3.1 "cache of
// relays... staleness bounded").
const MutualStaleness = 10 * time.Minute

// mutualEntry records when a (relay, destination) pairing was last
// confirmed by a PresenceHint.
type mutualEntry struct {
	destinations map[identity.PeerID]time.Time
}

// Mutuals is a gossip-maintained cache of relays reachable from us who
// also have some destination as a direct peer (§4.3.1 "mutuals"),
// repurposed from the teacher's block-announcement fan-out bookkeeping
// (p2p/gossip.go, p2p/block_gossip.go) to presence-summary gossip: a
// PresenceHint from a direct peer lists that peer's own direct
// neighbors, which this cache records as "reachable from m".
type Mutuals struct {
	mu    sync.RWMutex
	byRly map[identity.PeerID]*mutualEntry
}

// NewMutuals returns an empty Mutuals cache.
func NewMutuals() *Mutuals {
	return &Mutuals{byRly: make(map[identity.PeerID]*mutualEntry)}
}

// Ingest records a PresenceHint from a directly reachable relay: every
// peer it lists as a direct neighbor becomes a candidate destination
// reachable via that relay.
func (m *Mutuals) Ingest(hint PresenceHint, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byRly[hint.Self]
	if !ok {
		entry = &mutualEntry{destinations: make(map[identity.PeerID]time.Time)}
		m.byRly[hint.Self] = entry
	}
	for _, dst := range hint.DirectNeighbors {
		entry.destinations[dst] = at
	}
}

// Candidates returns every relay currently believed (within
// MutualStaleness) to reach destination directly, along with the
// timestamp of the most recent confirmation — the input to §4.3.2 step
// 3's "most recent confirmed presence" tie-break.
func (m *Mutuals) Candidates(destination identity.PeerID, now time.Time) map[identity.PeerID]time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[identity.PeerID]time.Time)
	for relay, entry := range m.byRly {
		ts, ok := entry.destinations[destination]
		if !ok {
			continue
		}
		if now.Sub(ts) > MutualStaleness {
			continue
		}
		out[relay] = ts
	}
	return out
}

// Forget drops all recorded mutuals for a relay, e.g. when it is no
// longer directly reachable and its presence summaries can no longer be
// refreshed.
func (m *Mutuals) Forget(relay identity.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byRly, relay)
}
