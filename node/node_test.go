package node

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/trumanellis/indra/capability"
	"github.com/trumanellis/indra/identity"
)

// fakeCrypto is a deterministic, insecure CryptoProvider stand-in, in the
// style of the teacher's in-memory test doubles.
type fakeCrypto struct{}

func (fakeCrypto) GenerateIdentity() (capability.PublicKeys, capability.SecretKeys, error) {
	sign := make([]byte, 32)
	kem := make([]byte, 32)
	rand.Read(sign)
	rand.Read(kem)
	return capability.PublicKeys{SignPub: sign, KEMPub: kem},
		capability.SecretKeys{SignSec: sign, KEMSec: kem}, nil
}

func (fakeCrypto) Hash(domain string, data ...[]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (fakeCrypto) Sign(sk capability.SecretKeys, msg []byte) ([]byte, error) { return msg, nil }
func (fakeCrypto) Verify(pk capability.PublicKeys, msg, sig []byte) bool     { return true }
func (fakeCrypto) Seal(key [32]byte, p, a []byte) ([]byte, error)            { return p, nil }
func (fakeCrypto) Open(key [32]byte, s, a []byte) ([]byte, error)            { return s, nil }
func (fakeCrypto) Encapsulate(pk capability.PublicKeys) ([32]byte, []byte, error) {
	return [32]byte{}, nil, nil
}
func (fakeCrypto) Decapsulate(sk capability.SecretKeys, e []byte) ([32]byte, error) {
	return [32]byte{}, nil
}

// fakeTransport never produces inbound frames; Receive blocks until ctx
// is cancelled, matching a transport with no peers dialed in yet.
type fakeTransport struct{}

func (fakeTransport) Dial(ctx context.Context, hint string) (capability.ConnectionHandle, error) {
	return nil, context.Canceled
}

func (fakeTransport) Receive(ctx context.Context) (string, []byte, error) {
	<-ctx.Done()
	return "", nil, ctx.Err()
}

// fakeStorage is an in-memory Storage, sufficient to exercise artifact.Store.
type fakeStorage struct {
	mu    sync.Mutex
	logs  map[[32]byte][][]byte
	index map[string][]byte
	blobs map[[32]byte][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		logs:  make(map[[32]byte][][]byte),
		index: make(map[string][]byte),
		blobs: make(map[[32]byte][]byte),
	}
}

func (s *fakeStorage) AppendEventLog(ctx context.Context, channelID [32]byte, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[channelID] = append(s.logs[channelID], record)
	return nil
}

func (s *fakeStorage) ReadEventLog(ctx context.Context, channelID [32]byte) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs[channelID], nil
}

func (s *fakeStorage) PutIndex(ctx context.Context, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[string(key)] = value
	return nil
}

func (s *fakeStorage) GetIndex(ctx context.Context, key []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.index[string(key)]
	return v, ok, nil
}

func (s *fakeStorage) PutBlob(ctx context.Context, id [32]byte, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = data
	return nil
}

func (s *fakeStorage) GetBlob(ctx context.Context, id [32]byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.blobs[id]
	return v, ok, nil
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	return Deps{
		Crypto:    fakeCrypto{},
		Transport: fakeTransport{},
		Storage:   newFakeStorage(),
	}
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	return &cfg
}

func TestNewNode(t *testing.T) {
	n, err := New(testConfig(t), testDeps(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n.Self() == (identity.PeerID{}) {
		t.Error("self peer id should not be zero")
	}
	if n.Channels == nil || n.Router == nil || n.Artifacts == nil || n.Binding == nil {
		t.Error("New left a subsystem unwired")
	}
}

func TestNewNodeRequiresDeps(t *testing.T) {
	cfg := testConfig(t)

	if _, err := New(cfg, Deps{Transport: fakeTransport{}, Storage: newFakeStorage()}); err == nil {
		t.Error("expected error with nil Crypto")
	}
	if _, err := New(cfg, Deps{Crypto: fakeCrypto{}, Storage: newFakeStorage()}); err == nil {
		t.Error("expected error with nil Transport")
	}
	if _, err := New(cfg, Deps{Crypto: fakeCrypto{}, Transport: fakeTransport{}}); err == nil {
		t.Error("expected error with nil Storage")
	}
}

func TestNodeStartStop(t *testing.T) {
	n, err := New(testConfig(t), testDeps(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !n.Running() {
		t.Error("node should report running after Start")
	}
	if err := n.Start(); err == nil {
		t.Error("expected error starting an already-running node")
	}

	done := make(chan struct{})
	go func() {
		n.Wait()
		close(done)
	}()

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n.Running() {
		t.Error("node should report stopped after Stop")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Stop")
	}

	// Stop is idempotent.
	if err := n.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestNodeHealthAndEvents(t *testing.T) {
	n, err := New(testConfig(t), testDeps(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n.Events == nil || n.Health == nil {
		t.Fatal("Events/Health must be non-nil before Start")
	}

	sub := n.Events.Subscribe(EventPacketForwarded)
	defer sub.Unsubscribe()

	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer n.Stop()

	if n.Health.Uptime() < 0 {
		t.Error("uptime should be non-negative")
	}
}
