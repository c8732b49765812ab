package router

import (
	"sync"
	"time"

	"github.com/trumanellis/indra/identity"
)

// Reputation event kinds relevant to packet routing (§4.3.6).
const (
	EventSignatureFailure = "signature_failure"
	EventGoodRelay        = "good_relay"
	EventTimeout          = "timeout"
	EventDisconnect       = "disconnect"
)

var eventDeltas = map[string]float64{
	EventSignatureFailure: -25.0,
	EventGoodRelay:        5.0,
	EventTimeout:          -10.0,
	EventDisconnect:       -5.0,
}

// ReputationConfig bounds a peer's score.
type ReputationConfig struct {
	InitialScore float64
	MaxScore     float64
	MinScore     float64
}

// DefaultReputationConfig returns sensible defaults.
func DefaultReputationConfig() ReputationConfig {
	return ReputationConfig{InitialScore: 100.0, MaxScore: 200.0, MinScore: -100.0}
}

type peerReputation struct {
	score     float64
	events    int
	lastEvent time.Time
}

// Reputation tracks peer behavior scores, decremented on signature
// failure (§4.3.6 "the sending peer's reputation counter is
// decremented"). Grounded on p2p/reputation.go's ReputationTracker,
// trimmed to the events this substrate actually produces (no block/
// attestation scoring) and with banning dropped — nothing in §4.3
// conditions routing decisions on a ban, only on the mutuals/reachability
// state, so carrying ban bookkeeping here would be dead weight.
type Reputation struct {
	mu     sync.RWMutex
	config ReputationConfig
	peers  map[identity.PeerID]*peerReputation
}

// NewReputation returns a Reputation tracker with the given config.
func NewReputation(config ReputationConfig) *Reputation {
	if config.MaxScore <= config.MinScore {
		config = DefaultReputationConfig()
	}
	return &Reputation{config: config, peers: make(map[identity.PeerID]*peerReputation)}
}

// RecordEvent applies eventType's score delta to peerID, creating it with
// the initial score if untracked.
func (r *Reputation) RecordEvent(peerID identity.PeerID, eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.getOrCreate(peerID)
	p.score = r.clamp(p.score + eventDeltas[eventType])
	p.events++
	p.lastEvent = time.Now()
}

// Score returns peerID's current reputation score, or the initial score
// if untracked.
func (r *Reputation) Score(peerID identity.PeerID) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.peers[peerID]; ok {
		return p.score
	}
	return r.config.InitialScore
}

func (r *Reputation) getOrCreate(peerID identity.PeerID) *peerReputation {
	p, ok := r.peers[peerID]
	if !ok {
		p = &peerReputation{score: r.config.InitialScore}
		r.peers[peerID] = p
	}
	return p
}

func (r *Reputation) clamp(score float64) float64 {
	if score > r.config.MaxScore {
		return r.config.MaxScore
	}
	if score < r.config.MinScore {
		return r.config.MinScore
	}
	return score
}
