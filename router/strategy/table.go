// Package strategy implements §4.6/§4.3.3: pure functions from
// (packet, local_router_state, priority) to an enqueue plan, selected by
// a (priority, reachability_bucket) table lookup rather than chained
// if-statements, so the mapping is exhaustively testable and new
// priority/bucket combinations are additions to a table, not new branches
// buried in a dispatcher.
//
// Grounded on p2p/reqresp_protocol.go's request fan-out shape (a
// method-keyed table of request builders), restructured here as a
// two-dimensional (priority, bucket) lookup, and on p2p/message_router.go's
// "route by table, not by if-chain" idea referenced in its tests.
package strategy

import "github.com/trumanellis/indra/identity"

// Priority is a Packet's delivery urgency (§3 Packet.priority). Defined
// here rather than in router so both router and strategy can depend on
// the table without an import cycle; router re-exports it as
// router.Priority.
type Priority int

const (
	Bulk Priority = iota
	Normal
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Bulk:
		return "bulk"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Reachability buckets the destination's estimated availability, the
// second axis of the §4.3.3 selection table.
type Reachability int

const (
	// DirectlyReachable: destination is currently a direct peer.
	DirectlyReachable Reachability = iota
	// KnownOffline: destination has been seen before (mutuals or direct
	// history exist) but is not currently reachable.
	KnownOffline
	// SparseUnknown: destination is neither a direct peer nor a known
	// contact (not seen within the presence window and reported by no
	// fresh mutual). The number of direct peers is not consulted.
	SparseUnknown
)

// Mode names the delivery strategy chosen for a packet (§4.3.3 table).
type Mode string

const (
	ModeDirect        Mode = "direct"
	ModeCustody       Mode = "custody"
	ModeSprayAndWait  Mode = "spray_and_wait"
	ModeEpidemic      Mode = "epidemic"
)

// DefaultBackupCustodians is k in "send one sealed replica to each of up
// to k mutual peers as back-up custodians" (§4.3.3 Custody row).
const DefaultBackupCustodians = 2

// DefaultSprayCount is N in "fan out N sealed replicas" (§4.3.3
// Spray-and-wait row).
const DefaultSprayCount = 4

// Hop is one entry of an enqueue plan: send a copy of the packet to
// Neighbor, tagged with the Mode that produced this hop (so the router
// can decide whether this hop takes custody or merely relays).
type Hop struct {
	Neighbor identity.PeerID
	Mode     Mode
}

// Plan is an ordered list of (neighbor, packet_copy) pairs a strategy
// produces; strategies never own state, the router executes the plan
// (§4.6).
type Plan []Hop

// Neighbors is the narrow view of local router state a strategy needs:
// who we can reach directly, and who might reach the destination via
// gossip-confirmed mutuals. Strategies never see custody/pending/
// inflight_acks state — that stays owned by the router.
type Neighbors interface {
	Direct() []identity.PeerID
	Mutuals(destination identity.PeerID) []identity.PeerID
}

// Func is a strategy: a pure function from the packet's destination,
// its visited set, and the local neighbor view to an enqueue plan.
type Func func(destination identity.PeerID, visited map[[32]byte]struct{}, neighbors Neighbors, selfHash func(identity.PeerID) [32]byte) Plan

// Table maps (priority, reachability bucket) to the strategy that
// applies (§4.3.3, §9 "Strategy selection as a table").
type Table struct {
	entries map[tableKey]Func
}

type tableKey struct {
	priority Priority
	bucket   Reachability
}

// NewDefaultTable returns the table described by §4.3.3: Direct when
// reachable regardless of priority; Custody when known-offline at
// bulk/normal/high priority; Epidemic when known-offline or
// sparse-unknown at critical priority (emergency/critical + extreme
// disconnection); Spray-and-wait otherwise for sparse-unknown.
func NewDefaultTable() *Table {
	t := &Table{entries: make(map[tableKey]Func)}

	for _, p := range []Priority{Bulk, Normal, High, Critical} {
		t.Set(p, DirectlyReachable, Direct)
	}
	for _, p := range []Priority{Bulk, Normal, High} {
		t.Set(p, KnownOffline, Custody)
		t.Set(p, SparseUnknown, SprayAndWait)
	}
	t.Set(Critical, KnownOffline, Epidemic)
	t.Set(Critical, SparseUnknown, Epidemic)

	return t
}

// Set installs fn as the strategy for (priority, bucket).
func (t *Table) Set(priority Priority, bucket Reachability, fn Func) {
	t.entries[tableKey{priority, bucket}] = fn
}

// Lookup returns the strategy for (priority, bucket), or SprayAndWait if
// no entry was installed (conservative default: try a bounded fan-out
// rather than silently dropping).
func (t *Table) Lookup(priority Priority, bucket Reachability) Func {
	if fn, ok := t.entries[tableKey{priority, bucket}]; ok {
		return fn
	}
	return SprayAndWait
}

// Direct: one hop, no custody (§4.3.3 Direct row).
func Direct(destination identity.PeerID, _ map[[32]byte]struct{}, _ Neighbors, _ func(identity.PeerID) [32]byte) Plan {
	return Plan{{Neighbor: destination, Mode: ModeDirect}}
}

// Custody: keep locally (the router does this, not the plan) and send
// one sealed replica to each of up to DefaultBackupCustodians mutual
// peers as back-up custodians (§4.3.3 Custody row).
func Custody(destination identity.PeerID, visited map[[32]byte]struct{}, neighbors Neighbors, selfHash func(identity.PeerID) [32]byte) Plan {
	candidates := rankedMutuals(destination, visited, neighbors, selfHash)
	if len(candidates) > DefaultBackupCustodians {
		candidates = candidates[:DefaultBackupCustodians]
	}
	plan := make(Plan, 0, len(candidates))
	for _, c := range candidates {
		plan = append(plan, Hop{Neighbor: c, Mode: ModeCustody})
	}
	return plan
}

// SprayAndWait: fan out N sealed replicas to a deterministically chosen
// subset of directly reachable peers (§4.3.3 Spray-and-wait row).
// Deterministic subset selection: direct peers sorted by identity bytes,
// first N taken — reproducible for a given peer set, per §4.3.3 "deterministic
// for a given input so that tests are reproducible."
func SprayAndWait(_ identity.PeerID, visited map[[32]byte]struct{}, neighbors Neighbors, selfHash func(identity.PeerID) [32]byte) Plan {
	direct := sortedUnvisited(neighbors.Direct(), visited, selfHash)
	if len(direct) > DefaultSprayCount {
		direct = direct[:DefaultSprayCount]
	}
	plan := make(Plan, 0, len(direct))
	for _, d := range direct {
		plan = append(plan, Hop{Neighbor: d, Mode: ModeSprayAndWait})
	}
	return plan
}

// Epidemic: forward to every directly reachable peer not in visited,
// bounded by the caller's TTL check (§4.3.3 Epidemic row — "each
// recipient forwards to all its directly reachable peers not in
// visited, bounded by TTL").
func Epidemic(_ identity.PeerID, visited map[[32]byte]struct{}, neighbors Neighbors, selfHash func(identity.PeerID) [32]byte) Plan {
	direct := sortedUnvisited(neighbors.Direct(), visited, selfHash)
	plan := make(Plan, 0, len(direct))
	for _, d := range direct {
		plan = append(plan, Hop{Neighbor: d, Mode: ModeEpidemic})
	}
	return plan
}

// rankedMutuals returns destination's mutual relays, excluding any
// already in visited, in a stable deterministic order.
func rankedMutuals(destination identity.PeerID, visited map[[32]byte]struct{}, neighbors Neighbors, selfHash func(identity.PeerID) [32]byte) []identity.PeerID {
	return sortedUnvisited(neighbors.Mutuals(destination), visited, selfHash)
}

func sortedUnvisited(peers []identity.PeerID, visited map[[32]byte]struct{}, selfHash func(identity.PeerID) [32]byte) []identity.PeerID {
	filtered := make([]identity.PeerID, 0, len(peers))
	for _, p := range peers {
		if _, blocked := visited[selfHash(p)]; blocked {
			continue
		}
		filtered = append(filtered, p)
	}
	for i := 1; i < len(filtered); i++ {
		for j := i; j > 0 && filtered[j].Less(filtered[j-1]); j-- {
			filtered[j-1], filtered[j] = filtered[j], filtered[j-1]
		}
	}
	return filtered
}
