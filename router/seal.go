package router

import (
	"github.com/trumanellis/indra/capability"
	"github.com/trumanellis/indra/internal/wire"
)

// kemSeal is the production PayloadSeal: each packet gets a fresh
// symmetric key encapsulated for the destination's KEM public key, then
// AEAD-sealed under that key (§3 "payload: opaque sealed bytes
// (encrypted for destination)", §6 "keyed by... a key encapsulated for
// the destination"). Grounded on capability/pqcprovider's composition of
// Encapsulate/Decapsulate with Seal/Open.
type kemSeal struct {
	cp  capability.CryptoProvider
	sec capability.SecretKeys
}

// NewKEMSeal returns a PayloadSeal that opens payloads encapsulated for
// sec's KEM secret key.
func NewKEMSeal(cp capability.CryptoProvider, sec capability.SecretKeys) PayloadSeal {
	return kemSeal{cp: cp, sec: sec}
}

// SealFor encapsulates a fresh key for dest and seals plaintext under it,
// framing the result as encapsulated_key || sealed_bytes.
func (k kemSeal) SealFor(dest capability.PublicKeys, plaintext []byte) ([]byte, error) {
	key, encapsulated, err := k.cp.Encapsulate(dest)
	if err != nil {
		return nil, err
	}
	sealed, err := k.cp.Seal(key, plaintext, nil)
	if err != nil {
		return nil, err
	}
	w := wire.NewWriter()
	w.VarBytes(encapsulated)
	w.VarBytes(sealed)
	return w.Bytes(), nil
}

// OpenMine decapsulates the key with k.sec and opens the sealed bytes.
// Returns ok=false on any failure, matching §4.3.6's "decryption failure
// on final-hop packet... dropped silently" contract.
func (k kemSeal) OpenMine(payload []byte) ([]byte, bool) {
	r := wire.NewReader(payload)
	encapsulated, err := r.VarBytes()
	if err != nil {
		return nil, false
	}
	sealed, err := r.VarBytes()
	if err != nil {
		return nil, false
	}
	key, err := k.cp.Decapsulate(k.sec, encapsulated)
	if err != nil {
		return nil, false
	}
	plaintext, err := k.cp.Open(key, sealed, nil)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}
