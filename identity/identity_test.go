package identity

import (
	"testing"

	"golang.org/x/crypto/sha3"

	"github.com/trumanellis/indra/capability"
)

// hashOnly is a minimal deterministic stand-in for capability.CryptoProvider,
// sufficient for exercising derivation logic without pulling in blst/x25519.
// Every method besides Hash panics: derivation tests never call them.
type hashOnly struct{}

func (hashOnly) GenerateIdentity() (capability.PublicKeys, capability.SecretKeys, error) {
	panic("not used in derivation tests")
}

func (hashOnly) Hash(domain string, data ...[]byte) [32]byte {
	h := sha3.New256()
	h.Write([]byte(domain))
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (hashOnly) Sign(capability.SecretKeys, []byte) ([]byte, error) {
	panic("not used in derivation tests")
}
func (hashOnly) Verify(capability.PublicKeys, []byte, []byte) bool {
	panic("not used in derivation tests")
}
func (hashOnly) Seal(_ [32]byte, _ []byte, _ []byte) ([]byte, error) {
	panic("not used in derivation tests")
}
func (hashOnly) Open(_ [32]byte, _ []byte, _ []byte) ([]byte, error) {
	panic("not used in derivation tests")
}
func (hashOnly) Encapsulate(capability.PublicKeys) ([32]byte, []byte, error) {
	panic("not used in derivation tests")
}
func (hashOnly) Decapsulate(capability.SecretKeys, []byte) ([32]byte, error) {
	panic("not used in derivation tests")
}

func TestDeriveDMIsOrderIndependent(t *testing.T) {
	cp := hashOnly{}
	a := SimID('A')
	b := SimID('B')

	idAB := DeriveDM(cp, a, b)
	idBA := DeriveDM(cp, b, a)

	if idAB != idBA {
		t.Fatalf("dm_channel_id not order independent: %x != %x", idAB, idBA)
	}
}

func TestDeriveChannelIDSortsPeers(t *testing.T) {
	cp := hashOnly{}
	peers1 := []SimID{'C', 'A', 'B'}
	peers2 := []SimID{'B', 'C', 'A'}

	id1 := DeriveChannelID(cp, "test-v1:", peers1)
	id2 := DeriveChannelID(cp, "test-v1:", peers2)
	if id1 != id2 {
		t.Fatalf("DeriveChannelID not permutation-invariant: %x != %x", id1, id2)
	}
}

func TestDeriveHomeAndInboxDiffer(t *testing.T) {
	cp := hashOnly{}
	p := SimID('Z')
	home := DeriveHome(cp, p)
	inbox := DeriveInbox(cp, p)
	if home == inbox {
		t.Fatalf("home and inbox channel ids must differ for the same peer")
	}
}
