// Package capability defines the interfaces the core consumes but never
// implements directly: post-quantum crypto primitives, the encrypted
// datagram transport, and durable storage (§1 "out of scope", §9 "Crypto,
// transport, and storage are capabilities"). The core's routing, sync, and
// CRDT convergence logic is tested entirely against these interfaces, with
// no direct dependency on a concrete library.
package capability

import (
	"context"
	"crypto/rand"
)

// RandomBytes fills b with cryptographically secure random bytes, for
// generating channel ids, symmetric keys, and event/packet ids. There is
// no third-party CSPRNG in the dependency set this module draws from, so
// this is the one place the capability layer reaches for crypto/rand
// directly rather than a CryptoProvider method.
func RandomBytes(b []byte) error {
	_, err := rand.Read(b)
	return err
}

// CryptoProvider abstracts signatures, KEMs, hashing, and AEAD sealing.
// Production code backs this with a hybrid classical+post-quantum scheme
// (see capability/pqcprovider); tests back it with a deterministic fake.
type CryptoProvider interface {
	// GenerateIdentity produces a signing keypair and a KEM keypair for a
	// new peer identity.
	GenerateIdentity() (pub PublicKeys, sec SecretKeys, err error)

	// Hash computes a domain-separated 32-byte digest of data, used for
	// channel id derivation and content-addressed leaf ids.
	Hash(domain string, data ...[]byte) [32]byte

	// Sign produces a signature over msg using sk.
	Sign(sk SecretKeys, msg []byte) ([]byte, error)

	// Verify checks sig over msg under pk.
	Verify(pk PublicKeys, msg, sig []byte) bool

	// Seal AEAD-encrypts plaintext under key, returning nonce‖ciphertext.
	Seal(key [32]byte, plaintext, additionalData []byte) ([]byte, error)

	// Open reverses Seal.
	Open(key [32]byte, sealed, additionalData []byte) ([]byte, error)

	// Encapsulate produces a fresh symmetric key encapsulated for pk's
	// KEM public key, for sealing Packet payloads end-to-end.
	Encapsulate(pk PublicKeys) (key [32]byte, encapsulated []byte, err error)

	// Decapsulate recovers the symmetric key encapsulated for sk.
	Decapsulate(sk SecretKeys, encapsulated []byte) (key [32]byte, err error)
}

// PublicKeys bundles a peer's signing and KEM public keys.
type PublicKeys struct {
	SignPub []byte
	KEMPub  []byte
}

// SecretKeys bundles a peer's signing and KEM secret keys. Never
// serialized to the wire.
type SecretKeys struct {
	SignSec []byte
	KEMSec  []byte
}

// ConnectionHandle is an opaque, reference-counted, concurrency-safe
// handle to a live transport session with one peer.
type ConnectionHandle interface {
	// Send transmits a sealed frame. Safe for concurrent use.
	Send(ctx context.Context, frame []byte) error

	// Closed reports whether the underlying session has been torn down.
	Closed() bool

	// RemoteHint returns a human-readable description of the remote
	// endpoint, for logging only.
	RemoteHint() string
}

// Transport abstracts the encrypted, NAT-traversing datagram substrate
// (§1). The router never manages raw sockets directly.
type Transport interface {
	// Dial establishes or reuses a session to addrHint, returning a
	// handle the router can send frames over.
	Dial(ctx context.Context, addrHint string) (ConnectionHandle, error)

	// Receive blocks until a frame arrives from any session, returning
	// the sender hint and the raw frame bytes.
	Receive(ctx context.Context) (fromHint string, frame []byte, err error)
}

// Storage abstracts the three persisted layouts of §6: a per-channel
// append-only event log, a key-value index, and a content-addressed blob
// store.
type Storage interface {
	// AppendEventLog appends a framed record to the channel's log and
	// never rewrites prior records.
	AppendEventLog(ctx context.Context, channelID [32]byte, record []byte) error

	// ReadEventLog returns all records appended so far for channelID, in
	// append order.
	ReadEventLog(ctx context.Context, channelID [32]byte) ([][]byte, error)

	// PutIndex / GetIndex back the key-value store keyed by ChannelId or
	// ArtifactId metadata.
	PutIndex(ctx context.Context, key, value []byte) error
	GetIndex(ctx context.Context, key []byte) ([]byte, bool, error)

	// PutBlob / GetBlob back the content-addressed leaf store.
	PutBlob(ctx context.Context, id [32]byte, data []byte) error
	GetBlob(ctx context.Context, id [32]byte) ([]byte, bool, error)
}
