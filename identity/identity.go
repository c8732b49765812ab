// Package identity implements §4.1: long-lived peer identities and the
// deterministic derivation of system channel ids. Channel id derivation is
// the sole discovery mechanism for system channels — no external name
// service is consulted (§4.1, §9).
//
// The package is generic over an identity type (§9 "Generic identity") so
// production code instantiates PeerID (a 32-byte hash of a peer's public
// keys) while test
// harnesses instantiate SimID (a single byte), without branching any
// derivation or ordering logic.
package identity

import (
	"fmt"

	"github.com/trumanellis/indra/capability"
)

// ID is the capability set every identity type must provide: equality
// (via comparable), a total order, a stable display form, and a byte
// encoding used as derivation input. Grounded on the teacher's generic
// treatment of peer identifiers across p2p/enode (NodeID) and the single-
// character ids used in its own table-driven tests.
type ID interface {
	comparable
	fmt.Stringer
	// Less defines a total order used for tie-breaking (§4.3.2) and for
	// the lexicographic sort in dm_channel_id (§6).
	Less(other ID) bool
	// Bytes returns the canonical byte encoding used as hash input.
	Bytes() []byte
}

// PeerID is the production 32-byte public identifier (§3 "PeerId").
type PeerID [32]byte

func (p PeerID) String() string { return fmt.Sprintf("%x", p[:8]) }
func (p PeerID) Bytes() []byte  { return p[:] }
func (p PeerID) Less(other ID) bool {
	o, ok := other.(PeerID)
	if !ok {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return p[i] < o[i]
		}
	}
	return false
}

// SimID is the single-character identity used by test harnesses (§3
// "Simulation variant: a single character, used only in tests").
type SimID byte

func (s SimID) String() string { return string(rune(s)) }
func (s SimID) Bytes() []byte  { return []byte{byte(s)} }
func (s SimID) Less(other ID) bool {
	o, ok := other.(SimID)
	if !ok {
		return false
	}
	return s < o
}

// ChannelID is the 32-byte opaque channel identifier (§3).
type ChannelID [32]byte

func (c ChannelID) String() string { return fmt.Sprintf("%x", c[:8]) }

// Keypair bundles the public/secret material returned by Generate.
type Keypair struct {
	Public capability.PublicKeys
	Secret capability.SecretKeys
}

// Generate produces a new signing+KEM keypair via the configured
// CryptoProvider (§4.1 generate_identity).
func Generate(cp capability.CryptoProvider) (Keypair, error) {
	pub, sec, err := cp.GenerateIdentity()
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{Public: pub, Secret: sec}, nil
}

// Domain separation tags, bit-exact per §6.
const (
	tagDM       = "dm-v1:"
	tagHome     = "home-v1:"
	tagInbox    = "inbox-v1:"
	tagArtifact = "artifact-v1:"
	tagPeerID   = "peer-id-v1:"
)

// PeerIDFromPublic derives a PeerID from a Keypair's public half. The
// signing and KEM public keys are variable-length (a packed hybrid
// classical+post-quantum bundle in the production provider), so a PeerID
// is a domain-separated hash of both rather than a raw byte cast.
func PeerIDFromPublic(cp capability.CryptoProvider, pub capability.PublicKeys) PeerID {
	return PeerID(cp.Hash(tagPeerID, pub.SignPub, pub.KEMPub))
}

// DeriveDM computes dm_channel_id(a, b) = H("dm-v1:" ∥ min(a,b) ∥ max(a,b)).
// Order-independent by construction (§3, invariant 7 in §8).
func DeriveDM[T ID](cp capability.CryptoProvider, a, b T) ChannelID {
	lo, hi := a, b
	if b.Less(a) {
		lo, hi = b, a
	}
	return ChannelID(cp.Hash(tagDM, lo.Bytes(), hi.Bytes()))
}

// DeriveHome computes home_channel_id(p) = H("home-v1:" ∥ p).
func DeriveHome[T ID](cp capability.CryptoProvider, p T) ChannelID {
	return ChannelID(cp.Hash(tagHome, p.Bytes()))
}

// DeriveInbox computes inbox_channel_id(p) = H("inbox-v1:" ∥ p).
func DeriveInbox[T ID](cp capability.CryptoProvider, p T) ChannelID {
	return ChannelID(cp.Hash(tagInbox, p.Bytes()))
}

// DeriveArtifactSync computes artifact_sync_id(id) = H("artifact-v1:" ∥ id).
func DeriveArtifactSync(cp capability.CryptoProvider, artifactID [32]byte) ChannelID {
	return ChannelID(cp.Hash(tagArtifact, artifactID[:]))
}

// DeriveChannelID is the general-purpose entry point: hash of a
// domain-separation tag concatenated with the sorted peer set, used for
// deterministic system channels beyond DM/home/inbox (§4.1).
func DeriveChannelID[T ID](cp capability.CryptoProvider, tag string, peers []T) ChannelID {
	sorted := make([]T, len(peers))
	copy(sorted, peers)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Less(sorted[j-1]); j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	parts := make([][]byte, len(sorted))
	for i, p := range sorted {
		parts[i] = p.Bytes()
	}
	return ChannelID(cp.Hash(tag, parts...))
}
