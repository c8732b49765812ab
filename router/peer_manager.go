package router

import (
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/trumanellis/indra/capability"
	"github.com/trumanellis/indra/identity"
)

// PresenceWindow bounds how long a "recently seen" observation remains
// valid (§4.3.1 "recently_seen... observed online in the last presence
// window").
const PresenceWindow = 5 * time.Minute

// PeerManager tracks directly reachable sessions and recently-seen
// presence, the two per-peer maps of §4.3.1. Grounded on
// p2p/peer_manager.go's PeerManager, generalized from RLPx Transport
// sessions to capability.ConnectionHandle and from a single map to the
// reachable/recently-seen split §4.3.1 calls for.
type PeerManager struct {
	mu      sync.RWMutex
	direct  map[identity.PeerID]*managedPeer
	seen    map[identity.PeerID]time.Time
	relayed map[identity.PeerID]*uint256.Int // cumulative bytes relayed, per peer
}

// NewPeerManager returns an empty PeerManager.
func NewPeerManager() *PeerManager {
	return &PeerManager{
		direct:  make(map[identity.PeerID]*managedPeer),
		seen:    make(map[identity.PeerID]time.Time),
		relayed: make(map[identity.PeerID]*uint256.Int),
	}
}

// AddDirect registers id as directly reachable over conn (§4.3.1
// "directly_reachable").
func (pm *PeerManager) AddDirect(id identity.PeerID, conn capability.ConnectionHandle) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.direct[id] = &managedPeer{peer: NewPeer(id), conn: conn}
	pm.seen[id] = time.Now()
}

// DropDirect removes id from the directly-reachable set, e.g. on session
// teardown. The peer may remain in recently_seen.
func (pm *PeerManager) DropDirect(id identity.PeerID) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.direct, id)
}

// MarkSeen records a presence observation for id without implying a live
// direct session (§4.3.1 "recently_seen").
func (pm *PeerManager) MarkSeen(id identity.PeerID, at time.Time) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.seen[id] = at
	if mp, ok := pm.direct[id]; ok {
		mp.peer.Touch(at)
	}
}

// IsDirectlyReachable reports whether id has a live direct session.
func (pm *PeerManager) IsDirectlyReachable(id identity.PeerID) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	_, ok := pm.direct[id]
	return ok
}

// Connection returns the live connection handle for a directly reachable
// peer, or false if none exists.
func (pm *PeerManager) Connection(id identity.PeerID) (capability.ConnectionHandle, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	mp, ok := pm.direct[id]
	if !ok {
		return nil, false
	}
	return mp.conn, true
}

// RecentlySeen reports whether id was observed within PresenceWindow of
// now (§4.3.1, used by the Hold branch's "known_contacts" test).
func (pm *PeerManager) RecentlySeen(id identity.PeerID, now time.Time) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	last, ok := pm.seen[id]
	if !ok {
		return false
	}
	return now.Sub(last) <= PresenceWindow
}

// LastSeen returns the last presence timestamp recorded for id, used by
// the Relay branch's "most recent confirmed presence" tie-break
// (§4.3.2 step 3).
func (pm *PeerManager) LastSeen(id identity.PeerID) (time.Time, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	t, ok := pm.seen[id]
	return t, ok
}

// DirectPeers returns a snapshot of every directly reachable peer id.
func (pm *PeerManager) DirectPeers() []identity.PeerID {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	out := make([]identity.PeerID, 0, len(pm.direct))
	for id := range pm.direct {
		out = append(out, id)
	}
	return out
}

// RecordRelayed adds n bytes to id's cumulative relayed-byte accumulator.
// Uses uint256 rather than a machine word so the counter never wraps
// across a long-running relay's lifetime, the same reason the teacher
// compares peers' total difficulty with *big.Int rather than uint64.
func (pm *PeerManager) RecordRelayed(id identity.PeerID, n uint64) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	acc, ok := pm.relayed[id]
	if !ok {
		acc = new(uint256.Int)
		pm.relayed[id] = acc
	}
	acc.Add(acc, uint256.NewInt(n))
}

// TopByVolume returns up to n peers with the highest cumulative relayed
// bytes, descending. Mirrors p2p/peer_manager.go's BestPeer (highest-TD
// selection), generalized to a ranked list over a uint256 accumulator.
func (pm *PeerManager) TopByVolume(n int) []identity.PeerID {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	type entry struct {
		id  identity.PeerID
		vol *uint256.Int
	}
	list := make([]entry, 0, len(pm.relayed))
	for id, vol := range pm.relayed {
		list = append(list, entry{id, vol})
	}
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].vol.Cmp(list[j-1].vol) > 0; j-- {
			list[j-1], list[j] = list[j], list[j-1]
		}
	}
	if n > len(list) {
		n = len(list)
	}
	out := make([]identity.PeerID, n)
	for i := 0; i < n; i++ {
		out[i] = list[i].id
	}
	return out
}

// Len returns the number of directly reachable peers.
func (pm *PeerManager) Len() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.direct)
}
