// Package pqcprovider implements capability.CryptoProvider with a hybrid
// classical/quantum-resistant scheme: BLS12-381 signatures over the
// supranational/blst library (kept from the teacher's
// crypto/bls_blst_adapter.go, generalized from consensus-layer attestation
// signing to peer-identity signing) combined with a post-quantum layer the
// way crypto/pqc/hybrid.go combines ECDSA with a PQSigner — both halves
// must verify. Hashing, AEAD, and key encapsulation use golang.org/x/crypto
// primitives (sha3, chacha20poly1305, curve25519, hkdf).
//
// Production deployments should swap the post-quantum half for a real
// lattice/hash-based scheme; the HybridSigner interface keeps that
// pluggable without touching the router, channel, document, or artifact
// packages, none of which import this package directly.
package pqcprovider

import (
	"crypto/rand"
	"errors"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/trumanellis/indra/capability"
)

// blsDST is the domain separation tag for peer-identity signatures,
// distinct from the consensus-attestation DST the teacher used.
var blsDST = []byte("INDRA_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

const (
	blsSecretSize = 32
	blsPubkeySize = 48
	blsSigSize    = 96
)

// HybridSigner is the pluggable post-quantum half of the hybrid scheme.
// Unlike crypto/pqc.PQSigner (which is algorithm-specific), this is kept
// minimal: production code wires a real signer in; NullPQSigner below is
// a pass-through used when no PQ backend is configured, matching the
// teacher's pattern of algorithm plug-ins behind a common interface
// (crypto/pqc/signer.go's GetSigner table).
type HybridSigner interface {
	GenerateKey() (pub, sec []byte, err error)
	Sign(sec, msg []byte) ([]byte, error)
	Verify(pub, msg, sig []byte) bool
}

// Provider implements capability.CryptoProvider.
type Provider struct {
	pq HybridSigner
}

// New constructs a Provider. If pq is nil, NullPQSigner is used (signature
// is BLS-only; still correct, just not post-quantum-secure — callers that
// need the PQ guarantee must supply a real HybridSigner).
func New(pq HybridSigner) *Provider {
	if pq == nil {
		pq = NullPQSigner{}
	}
	return &Provider{pq: pq}
}

// packSignSecret bundles the BLS scalar and the PQ secret behind
// capability.SecretKeys.SignSec (blsSecretSize || pqSecretLen-prefixed).
func packSignSecret(bls []byte, pq []byte) []byte {
	out := make([]byte, 0, blsSecretSize+4+len(pq))
	out = append(out, bls...)
	var lenBuf [4]byte
	lenBuf[0] = byte(len(pq))
	lenBuf[1] = byte(len(pq) >> 8)
	lenBuf[2] = byte(len(pq) >> 16)
	lenBuf[3] = byte(len(pq) >> 24)
	out = append(out, lenBuf[:]...)
	out = append(out, pq...)
	return out
}

func unpackSignSecret(b []byte) (bls, pq []byte, err error) {
	if len(b) < blsSecretSize+4 {
		return nil, nil, errors.New("pqcprovider: truncated secret key")
	}
	bls = b[:blsSecretSize]
	n := int(b[blsSecretSize]) | int(b[blsSecretSize+1])<<8 | int(b[blsSecretSize+2])<<16 | int(b[blsSecretSize+3])<<24
	rest := b[blsSecretSize+4:]
	if len(rest) < n {
		return nil, nil, errors.New("pqcprovider: truncated pq secret")
	}
	return bls, rest[:n], nil
}

func packSignPub(bls, pq []byte) []byte {
	return packSignSecret(bls, pq) // same length-prefixed shape
}

func unpackSignPub(b []byte) (bls, pq []byte, err error) {
	return unpackSignSecret(b)
}

// GenerateIdentity produces a BLS+PQ signing keypair and an X25519 KEM
// keypair.
func (p *Provider) GenerateIdentity() (capability.PublicKeys, capability.SecretKeys, error) {
	blsSec, blsPub, err := genBLSKeypair()
	if err != nil {
		return capability.PublicKeys{}, capability.SecretKeys{}, fmt.Errorf("bls keygen: %w", err)
	}
	pqPub, pqSec, err := p.pq.GenerateKey()
	if err != nil {
		return capability.PublicKeys{}, capability.SecretKeys{}, fmt.Errorf("pq keygen: %w", err)
	}

	var kemSec [32]byte
	if _, err := rand.Read(kemSec[:]); err != nil {
		return capability.PublicKeys{}, capability.SecretKeys{}, fmt.Errorf("kem keygen: %w", err)
	}
	kemSec[0] &= 248
	kemSec[31] &= 127
	kemSec[31] |= 64
	kemPub, err := curve25519.X25519(kemSec[:], curve25519.Basepoint)
	if err != nil {
		return capability.PublicKeys{}, capability.SecretKeys{}, fmt.Errorf("kem scalarmult: %w", err)
	}

	pub := capability.PublicKeys{
		SignPub: packSignPub(blsPub, pqPub),
		KEMPub:  kemPub,
	}
	sec := capability.SecretKeys{
		SignSec: packSignSecret(blsSec, pqSec),
		KEMSec:  kemSec[:],
	}
	return pub, sec, nil
}

func genBLSKeypair() (sec, pub []byte, err error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, nil, err
	}
	sk := blst.KeyGen(ikm[:])
	if sk == nil {
		return nil, nil, errors.New("pqcprovider: bls key generation failed")
	}
	pk := new(blst.P1Affine).From(sk)
	return sk.Serialize(), pk.Compress(), nil
}

// Hash computes a domain-separated SHA3-256 digest (§6 "H is a 32-byte
// cryptographic hash with domain separation").
func (p *Provider) Hash(domain string, data ...[]byte) [32]byte {
	h := sha3.New256()
	h.Write([]byte(domain))
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Sign produces a hybrid BLS+PQ signature: the two signatures are
// concatenated length-prefixed, same shape as the packed key encoding.
func (p *Provider) Sign(sk capability.SecretKeys, msg []byte) ([]byte, error) {
	blsSec, pqSec, err := unpackSignSecret(sk.SignSec)
	if err != nil {
		return nil, err
	}
	blsKey := new(blst.SecretKey).Deserialize(blsSec)
	if blsKey == nil {
		return nil, errors.New("pqcprovider: invalid bls secret key")
	}
	sig := new(blst.P2Affine).Sign(blsKey, msg, blsDST)
	if sig == nil {
		return nil, errors.New("pqcprovider: bls sign failed")
	}
	blsSig := sig.Compress()

	pqSig, err := p.pq.Sign(pqSec, msg)
	if err != nil {
		return nil, fmt.Errorf("pq sign: %w", err)
	}
	return packSignSecret(blsSig, pqSig), nil
}

// Verify checks both halves of the hybrid signature; both must pass.
func (p *Provider) Verify(pk capability.PublicKeys, msg, sig []byte) bool {
	blsPub, pqPub, err := unpackSignPub(pk.SignPub)
	if err != nil {
		return false
	}
	blsSig, pqSig, err := unpackSignSecret(sig)
	if err != nil {
		return false
	}

	pub := new(blst.P1Affine).Uncompress(blsPub)
	if pub == nil {
		return false
	}
	s := new(blst.P2Affine).Uncompress(blsSig)
	if s == nil {
		return false
	}
	if !s.Verify(true, pub, true, msg, blsDST) {
		return false
	}

	return p.pq.Verify(pqPub, msg, pqSig)
}

// Seal AEAD-encrypts with ChaCha20-Poly1305 and a random 12-byte nonce
// (§6: "AEAD with a 12-byte nonce (random)"), prepending the nonce.
func (p *Provider) Seal(key [32]byte, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := aead.Seal(nonce, nonce, plaintext, additionalData)
	return out, nil
}

// Open reverses Seal.
func (p *Provider) Open(key [32]byte, sealed, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	n := aead.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("pqcprovider: sealed payload too short")
	}
	nonce, ct := sealed[:n], sealed[n:]
	return aead.Open(nil, nonce, ct, additionalData)
}

// Encapsulate performs an X25519 key agreement against pk's KEM public
// key, deriving the shared symmetric key through HKDF-SHA3.
func (p *Provider) Encapsulate(pk capability.PublicKeys) ([32]byte, []byte, error) {
	var ephSec [32]byte
	if _, err := rand.Read(ephSec[:]); err != nil {
		return [32]byte{}, nil, err
	}
	ephSec[0] &= 248
	ephSec[31] &= 127
	ephSec[31] |= 64

	ephPub, err := curve25519.X25519(ephSec[:], curve25519.Basepoint)
	if err != nil {
		return [32]byte{}, nil, err
	}
	shared, err := curve25519.X25519(ephSec[:], pk.KEMPub)
	if err != nil {
		return [32]byte{}, nil, err
	}
	key, err := deriveKey(shared)
	if err != nil {
		return [32]byte{}, nil, err
	}
	return key, ephPub, nil
}

// Decapsulate recovers the shared key from an ephemeral public key.
func (p *Provider) Decapsulate(sk capability.SecretKeys, encapsulated []byte) ([32]byte, error) {
	shared, err := curve25519.X25519(sk.KEMSec, encapsulated)
	if err != nil {
		return [32]byte{}, err
	}
	return deriveKey(shared)
}

func deriveKey(shared []byte) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha3.New256, shared, nil, []byte("indra-v1:kem"))
	if _, err := r.Read(out[:]); err != nil {
		return out, err
	}
	return out, nil
}

// NullPQSigner is a pass-through HybridSigner used when no real
// post-quantum backend is configured. It always "signs" with a fixed
// zero-length signature and verifies trivially, so the hybrid scheme
// degrades to BLS-only rather than failing closed.
type NullPQSigner struct{}

func (NullPQSigner) GenerateKey() ([]byte, []byte, error) { return nil, nil, nil }
func (NullPQSigner) Sign([]byte, []byte) ([]byte, error)  { return nil, nil }
func (NullPQSigner) Verify([]byte, []byte, []byte) bool   { return true }
