// Package artifact implements §4.5: content-addressed leaves, mutable
// composition trees, and the access-grant model connecting both to the
// sync infrastructure.
//
// Trees are backed directly by document/crdt.ORMap: a tree's entries are
// (child artifact id -> position, label), and compose/detach are just
// Put/Delete at increasing Lamport tags, so a tree converges under
// concurrent composition the same way any other CRDT document does (§4.4).
// Leaf content addressing is grounded on crypto/commitment_tree.go's
// domain-separated SHA-256 hashing (there: leaf vs. node prefixes over a
// fixed Merkle tree; here: a "kind" domain tag over arbitrary-size blobs
// via capability.CryptoProvider.Hash, since artifacts have no fixed tree
// depth to accumulate into).
package artifact

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/trumanellis/indra/capability"
	"github.com/trumanellis/indra/document/crdt"
	"github.com/trumanellis/indra/errs"
	"github.com/trumanellis/indra/identity"
	"github.com/trumanellis/indra/internal/wire"
	"github.com/trumanellis/indra/metrics"
)

// ID is a content-addressed (leaves) or freshly random (trees) artifact
// identifier.
type ID [32]byte

// Mode is an access grant's mode (§3).
type Mode byte

const (
	ModeRevocable Mode = iota
	ModeTimed
	ModeTransfer
	ModePermanent
)

// rank orders modes for the "cannot grant above your own mode" check
// (Revocable < Timed < Transfer < Permanent). Stewardship itself is not a
// Mode value — it implicitly outranks every grantable mode, so the
// steward may grant any mode; any other granter may grant only modes
// whose rank does not exceed that of the mode it holds.
func (m Mode) rank() int { return int(m) }

// Status is an artifact's lifecycle state (§3).
type Status byte

const (
	StatusActive Status = iota
	StatusRecalled
	StatusTransferred
)

// Grant is one access grant on an artifact.
type Grant struct {
	Peer      identity.PeerID
	Mode      Mode
	GrantedAt time.Time
	Expiry    *time.Time // non-nil only for ModeTimed
}

func (g Grant) expired(now time.Time) bool {
	return g.Mode == ModeTimed && g.Expiry != nil && now.After(*g.Expiry)
}

// Provenance is one steward-transfer history entry.
type Provenance struct {
	PriorSteward identity.PeerID
	At           time.Time
}

// Artifact is either a leaf (IsTree false, Content holds the immutable
// payload) or a tree (IsTree true, Tree holds the composition CRDT).
type Artifact struct {
	ID        ID
	Kind      string
	Steward   identity.PeerID
	Status    Status
	CreatedAt time.Time

	IsTree  bool
	Content []byte      // leaves only
	Tree    *crdt.ORMap // trees only: child-id-hex -> encoded (position, label)
	opClock crdt.Clock  // trees only: monotonic source for compose/detach tags

	Grants     []Grant
	Provenance []Provenance
}

// TreeEntry is one decoded reference inside a tree.
type TreeEntry struct {
	Child    ID
	Position string
	Label    string
}

// ChannelBinder is the per-artifact sync-group hook (§4.5 "Per-artifact
// sync groups"): grant/revoke/recall drive channel membership through this
// narrow interface, implemented by router.ChannelBinding, so artifact never
// depends on channel.Directory concretely.
type ChannelBinder interface {
	EnsureArtifactChannel(artifactID ID, members []identity.PeerID) error
	TeardownArtifactChannel(artifactID ID) error
}

// Store holds every artifact known to this node.
type Store struct {
	cp      capability.CryptoProvider
	storage capability.Storage
	binder  ChannelBinder

	mu    sync.RWMutex
	items map[ID]*Artifact
}

func New(cp capability.CryptoProvider, storage capability.Storage, binder ChannelBinder) *Store {
	return &Store{cp: cp, storage: storage, binder: binder, items: make(map[ID]*Artifact)}
}

// StoreLeaf computes LeafId = Hash(kind, bytes) and stores the blob.
// Identical bytes under the same kind always produce the same id and a
// repeat call is a no-op dedup rather than a duplicate store (§4.5).
func (s *Store) StoreLeaf(steward identity.PeerID, kind string, content []byte) (ID, error) {
	id := ID(s.cp.Hash(kind, content))

	s.mu.Lock()
	if _, exists := s.items[id]; exists {
		s.mu.Unlock()
		metrics.LeafDedups.Inc()
		return id, nil
	}
	a := &Artifact{ID: id, Kind: kind, Steward: steward, Status: StatusActive, CreatedAt: time.Now(), Content: content}
	s.items[id] = a
	s.mu.Unlock()

	if s.storage != nil {
		if err := s.storage.PutBlob(context.Background(), [32]byte(id), content); err != nil {
			return id, errs.Transient("persist leaf blob", err)
		}
	}
	metrics.LeavesStored.Inc()
	return id, nil
}

// StoreTree creates a new tree artifact with a fresh random id, seeded
// with initialRefs composed in order starting at position "0".
func (s *Store) StoreTree(steward identity.PeerID, kind string, initialRefs []ID) (ID, error) {
	var idBytes [32]byte
	if err := capability.RandomBytes(idBytes[:]); err != nil {
		return ID{}, errs.Fatal("generate tree id", err)
	}
	id := ID(idBytes)

	a := &Artifact{ID: id, Kind: kind, Steward: steward, Status: StatusActive, CreatedAt: time.Now(), IsTree: true, Tree: crdt.NewORMap()}

	s.mu.Lock()
	s.items[id] = a
	s.mu.Unlock()

	for i, ref := range initialRefs {
		if err := s.Compose(steward, id, ref, positionAt(i), ""); err != nil {
			return id, err
		}
	}
	return id, nil
}

// Grant appends an AccessGranted-equivalent grant for peer. granter must
// hold authority at least as high as mode (the steward always qualifies).
func (s *Store) Grant(granter, peer identity.PeerID, artifactID ID, mode Mode, expiry *time.Time) error {
	a, err := s.lookup(artifactID)
	if err != nil {
		return err
	}

	return s.grantLocked(granter, peer, a, mode, expiry)
}

// grantLocked performs the authority check and appends the grant. The
// store lock is taken for the duration since Grants is a plain slice, not
// independently locked per artifact (artifacts are lower-churn than
// channel events, so one store-wide lock is adequate here).
func (s *Store) grantLocked(granter, peer identity.PeerID, a *Artifact, mode Mode, expiry *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if granter != a.Steward {
		granterMode, held := effectiveMode(a, granter, time.Now())
		if !held || mode.rank() > granterMode.rank() {
			return errs.Denied("grant exceeds granter's own access mode")
		}
	}

	g := Grant{Peer: peer, Mode: mode, GrantedAt: time.Now()}
	if mode == ModeTimed {
		g.Expiry = expiry
	}
	a.Grants = append(a.Grants, g)

	metrics.ActiveGrants.Inc()
	if s.binder != nil {
		if err := s.binder.EnsureArtifactChannel(a.ID, audience(a)); err != nil {
			return errs.Transient("ensure artifact sync channel", err)
		}
	}
	return nil
}

// Revoke fails with ErrCannotRevokePermanent if the existing grant is
// Permanent; otherwise removes it.
func (s *Store) Revoke(artifactID ID, peer identity.PeerID) error {
	a, err := s.lookup(artifactID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := a.Grants[:0]
	removed := false
	for _, g := range a.Grants {
		if g.Peer == peer {
			if g.Mode == ModePermanent {
				return errs.ErrCannotRevokePermanent
			}
			removed = true
			metrics.ActiveGrants.Dec()
			continue
		}
		kept = append(kept, g)
	}
	a.Grants = kept

	if removed && s.binder != nil {
		return s.rebindChannel(a)
	}
	return nil
}

// Recall removes all Revocable and Timed grants; Permanent grants survive.
// A tombstone (zero remaining non-Permanent grants) remains in the log via
// the artifact's Status transition.
func (s *Store) Recall(artifactID ID) error {
	a, err := s.lookup(artifactID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	var kept []Grant
	removedAny := false
	for _, g := range a.Grants {
		if g.Mode == ModePermanent {
			kept = append(kept, g)
			continue
		}
		removedAny = true
		metrics.ActiveGrants.Dec()
	}
	a.Grants = kept
	a.Status = StatusRecalled
	s.mu.Unlock()

	if removedAny && s.binder != nil {
		return s.rebindChannel(a)
	}
	return nil
}

// Transfer updates the steward, grants the prior steward Revocable access,
// and appends a provenance record (§4.5).
func (s *Store) Transfer(artifactID ID, newSteward identity.PeerID) error {
	a, err := s.lookup(artifactID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	prior := a.Steward
	a.Provenance = append(a.Provenance, Provenance{PriorSteward: prior, At: time.Now()})
	a.Steward = newSteward
	a.Status = StatusTransferred
	a.Grants = append(a.Grants, Grant{Peer: prior, Mode: ModeRevocable, GrantedAt: time.Now()})
	metrics.ActiveGrants.Inc()
	s.mu.Unlock()

	if s.binder != nil {
		return s.rebindChannel(a)
	}
	return nil
}

// rebindChannel re-evaluates an artifact's sync-channel membership after a
// grant change: ensures the channel exists with the current audience, or
// tears it down if the audience is now empty (§4.5 "Per-artifact sync
// groups").
func (s *Store) rebindChannel(a *Artifact) error {
	aud := audience(a)
	if len(aud) == 0 {
		if err := s.binder.TeardownArtifactChannel(a.ID); err != nil {
			return errs.Transient("teardown artifact sync channel", err)
		}
		return nil
	}
	if err := s.binder.EnsureArtifactChannel(a.ID, aud); err != nil {
		return errs.Transient("ensure artifact sync channel", err)
	}
	return nil
}

// Compose appends a reference entry into parentTree at position, with an
// optional label, attributed to actor for Lamport ordering.
func (s *Store) Compose(actor identity.PeerID, parentTree, child ID, position, label string) error {
	parent, err := s.lookup(parentTree)
	if err != nil {
		return err
	}
	if !parent.IsTree {
		return errs.Protocol("compose target is not a tree", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	parent.opClock++
	tag := crdt.Tag{Clock: parent.opClock, Author: crdt.Author(actor.String())}
	parent.Tree.Put(hexID(child), tag, encodeTreeEntry(position, label))
	return nil
}

// Detach removes a reference entry from parentTree. The child artifact
// itself is not deleted (§4.5).
func (s *Store) Detach(actor identity.PeerID, parentTree, child ID) error {
	parent, err := s.lookup(parentTree)
	if err != nil {
		return err
	}
	if !parent.IsTree {
		return errs.Protocol("detach target is not a tree", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	parent.opClock++
	tag := crdt.Tag{Clock: parent.opClock, Author: crdt.Author(actor.String())}
	parent.Tree.Delete(hexID(child), tag)
	return nil
}

// TreeEntries returns the live entries of a tree, sorted by Position.
func (s *Store) TreeEntries(treeID ID) ([]TreeEntry, error) {
	a, err := s.lookup(treeID)
	if err != nil {
		return nil, err
	}
	if !a.IsTree {
		return nil, errs.Protocol("not a tree", nil)
	}

	snap := a.Tree.Snapshot()
	entries := make([]TreeEntry, 0, len(snap))
	for childHex, encoded := range snap {
		position, label := decodeTreeEntry(encoded)
		entries = append(entries, TreeEntry{Child: mustDecodeHexID(childHex), Position: position, Label: label})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Position < entries[j].Position })
	return entries, nil
}

// AccessibleByAll returns the artifacts where every one of members holds a
// non-expired grant at now (§4.5 "Realm-view materialization"). Computed
// as a fresh intersection over active grants on every call: this is a
// view, not a container.
func (s *Store) AccessibleByAll(members []identity.PeerID, now time.Time) []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ID
	for id, a := range s.items {
		ok := true
		for _, m := range members {
			if _, held := effectiveMode(a, m, now); !held {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, id)
		}
	}
	return out
}

func (s *Store) lookup(id ID) (*Artifact, error) {
	s.mu.RLock()
	a, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.ErrUnknownArtifact
	}
	return a, nil
}

// effectiveMode returns the highest non-expired mode peer holds on a,
// including implicit Permanent-equivalent authority for the steward.
func effectiveMode(a *Artifact, peer identity.PeerID, now time.Time) (Mode, bool) {
	if peer == a.Steward {
		return ModePermanent, true
	}
	best := Mode(0)
	held := false
	for _, g := range a.Grants {
		if g.Peer != peer || g.expired(now) {
			continue
		}
		if !held || g.Mode.rank() > best.rank() {
			best = g.Mode
			held = true
		}
	}
	return best, held
}

func audience(a *Artifact) []identity.PeerID {
	now := time.Now()
	seen := make(map[identity.PeerID]bool)
	var out []identity.PeerID
	for _, g := range a.Grants {
		if g.expired(now) || seen[g.Peer] {
			continue
		}
		seen[g.Peer] = true
		out = append(out, g.Peer)
	}
	return out
}

func positionAt(i int) string {
	// Zero-padded so lexicographic string order matches insertion order
	// regardless of how many initial refs a tree is seeded with.
	return fmt.Sprintf("%08d", i)
}

func encodeTreeEntry(position, label string) []byte {
	w := wire.NewWriter()
	w.String(position)
	w.String(label)
	return w.Bytes()
}

func decodeTreeEntry(b []byte) (position, label string) {
	r := wire.NewReader(b)
	position, _ = r.String()
	label, _ = r.String()
	return position, label
}

func hexID(id ID) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range id {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0xf]
	}
	return string(out)
}

func mustDecodeHexID(s string) ID {
	var id ID
	for i := 0; i < len(id) && i*2+1 < len(s); i++ {
		id[i] = hexNibble(s[i*2])<<4 | hexNibble(s[i*2+1])
	}
	return id
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}
