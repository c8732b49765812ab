package router

import (
	"sync"
	"time"

	"github.com/trumanellis/indra/capability"
	"github.com/trumanellis/indra/identity"
)

// Peer represents a remote node known to this router, whether currently
// connected or only recently seen (§4.3.1). Grounded on p2p/peer.go's
// Peer, stripped of devp2p-specific fields (head/td/version) that have no
// analogue here.
type Peer struct {
	mu       sync.RWMutex
	id       identity.PeerID
	lastSeen time.Time
}

// NewPeer creates a tracked Peer for id.
func NewPeer(id identity.PeerID) *Peer {
	return &Peer{id: id, lastSeen: time.Now()}
}

// ID returns the peer's identity.
func (p *Peer) ID() identity.PeerID { return p.id }

// LastSeen returns the last time presence was confirmed for this peer.
func (p *Peer) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeen
}

// Touch records a fresh presence confirmation.
func (p *Peer) Touch(at time.Time) {
	p.mu.Lock()
	p.lastSeen = at
	p.mu.Unlock()
}

// managedPeer pairs a Peer with the live session used to reach it
// directly, mirroring p2p/peer_manager.go's managedPeer.
type managedPeer struct {
	peer *Peer
	conn capability.ConnectionHandle
}
