// Package channel implements §4.2: a directory mapping channel-id to
// (members, symmetric key, event log), with authenticated append and a
// canonically-ordered, restartable event stream.
//
// The directory's shape generalizes node/service_registry.go's container:
// that registry maps name -> service descriptor with priority/dependency
// ordering and a coarse registry-wide lock; this directory maps ChannelId
// -> entry with one RWMutex per entry instead of one global lock, since
// §4.2 requires concurrent readers/writers across unrelated channels to
// never block each other, and events within one channel ordered by
// (timestamp_ms, sender_id, event_id) rather than by priority/dependency.
package channel

import (
	"sort"
	"sync"
	"time"

	"github.com/trumanellis/indra/capability"
	"github.com/trumanellis/indra/errs"
	"github.com/trumanellis/indra/identity"
	"github.com/trumanellis/indra/metrics"
)

// EventKind distinguishes system envelopes from opaque application events.
type EventKind byte

const (
	EventChannelCreated EventKind = iota
	EventMemberLeft
	EventApplication
)

// Envelope is one accepted, decrypted event in a channel's log.
type Envelope struct {
	ID          [16]byte
	Kind        EventKind
	TimestampMs int64
	Sender      identity.PeerID
	Plaintext   []byte
}

// Origin records where an Envelope entered this replica: locally appended,
// or received from a remote peer.
type Origin struct {
	Local bool
	From  identity.PeerID
}

type acceptedEvent struct {
	env    Envelope
	origin Origin
}

// entry is one channel's directory state: membership, key material, and
// its local event log. Every entry owns its own lock so operations on
// unrelated channels never contend.
type entry struct {
	mu      sync.RWMutex
	id      identity.ChannelID
	members []identity.PeerID
	key     [32]byte
	events  map[[16]byte]bool // seen ids, for duplicate discard
	log     []acceptedEvent
	ordered bool
}

// Directory is the channel-id -> entry container. Safe for concurrent use.
type Directory struct {
	cp   capability.CryptoProvider
	self identity.PeerID

	mu      sync.RWMutex
	entries map[identity.ChannelID]*entry
}

// Broadcaster is the delivery substrate an append_event hands ciphertext
// to for fan-out to every other member (§4.2: "hands the ciphertext to the
// router for broadcast"). Implemented by the router package; kept as a
// narrow interface here so channel never depends on router concretely.
type Broadcaster interface {
	BroadcastToChannel(channel identity.ChannelID, members []identity.PeerID, ciphertext []byte) error
}

func New(cp capability.CryptoProvider, self identity.PeerID) *Directory {
	return &Directory{cp: cp, self: self, entries: make(map[identity.ChannelID]*entry)}
}

// CreateChannel generates a random id and fresh symmetric key for members,
// seeding the event log with a ChannelCreated envelope (§4.2).
func (d *Directory) CreateChannel(members []identity.PeerID) (identity.ChannelID, error) {
	var idBytes [32]byte
	if err := capability.RandomBytes(idBytes[:]); err != nil {
		return identity.ChannelID{}, errs.Fatal("generate channel id", err)
	}
	var key [32]byte
	if err := capability.RandomBytes(key[:]); err != nil {
		return identity.ChannelID{}, errs.Fatal("generate channel key", err)
	}
	id := identity.ChannelID(idBytes)

	e := &entry{
		id:      id,
		members: append([]identity.PeerID(nil), members...),
		key:     key,
		events:  make(map[[16]byte]bool),
	}
	d.mu.Lock()
	d.entries[id] = e
	d.mu.Unlock()

	created := Envelope{
		Kind:        EventChannelCreated,
		TimestampMs: nowMs(),
		Sender:      d.self,
		Plaintext:   nil,
	}
	if err := capability.RandomBytes(created.ID[:]); err != nil {
		return identity.ChannelID{}, errs.Fatal("generate event id", err)
	}
	e.mu.Lock()
	e.events[created.ID] = true
	e.log = append(e.log, acceptedEvent{env: created, origin: Origin{Local: true, From: d.self}})
	e.mu.Unlock()

	metrics.ChannelsActive.Set(int64(d.count()))
	return id, nil
}

// JoinChannel installs a channel locally from an invite: a channel id, its
// symmetric key, and the member set known at invite time (§4.2 "consumes
// a channel id plus its symmetric key and an inclusion proof"; the
// inclusion proof itself is verified by the caller before installing,
// since it depends on the transport that delivered the invite).
func (d *Directory) JoinChannel(id identity.ChannelID, key [32]byte, members []identity.PeerID) {
	e := &entry{
		id:      id,
		members: append([]identity.PeerID(nil), members...),
		key:     key,
		events:  make(map[[16]byte]bool),
	}
	d.mu.Lock()
	d.entries[id] = e
	d.mu.Unlock()
	metrics.ChannelsActive.Set(int64(d.count()))
}

// LeaveChannel appends a MemberLeft event and forgets the key (§4.2).
// The key material is zeroed so it cannot be recovered from the entry
// after this call.
func (d *Directory) LeaveChannel(id identity.ChannelID) error {
	e, err := d.lookup(id)
	if err != nil {
		return err
	}

	left := Envelope{
		Kind:        EventMemberLeft,
		TimestampMs: nowMs(),
		Sender:      d.self,
	}
	if genErr := capability.RandomBytes(left.ID[:]); genErr != nil {
		return errs.Fatal("generate event id", genErr)
	}

	e.mu.Lock()
	e.events[left.ID] = true
	e.log = append(e.log, acceptedEvent{env: left, origin: Origin{Local: true, From: d.self}})
	e.ordered = false
	e.key = [32]byte{}
	e.mu.Unlock()
	return nil
}

// AppendEvent signs and AEAD-seals eventBytes with the channel key, appends
// it locally, and (if bc is non-nil) hands the ciphertext to bc for
// broadcast to every other member (§4.2).
func (d *Directory) AppendEvent(id identity.ChannelID, eventBytes []byte, signerSecret capability.SecretKeys, bc Broadcaster) (Envelope, error) {
	e, err := d.lookup(id)
	if err != nil {
		return Envelope{}, err
	}

	e.mu.RLock()
	key := e.key
	members := append([]identity.PeerID(nil), e.members...)
	e.mu.RUnlock()

	ciphertext, err := d.cp.Seal(key, eventBytes, nil)
	if err != nil {
		return Envelope{}, errs.Protocol("seal event", err)
	}
	sig, err := d.cp.Sign(signerSecret, ciphertext)
	if err != nil {
		return Envelope{}, errs.Protocol("sign event", err)
	}

	env := Envelope{
		Kind:        EventApplication,
		TimestampMs: nowMs(),
		Sender:      d.self,
		Plaintext:   eventBytes,
	}
	if genErr := capability.RandomBytes(env.ID[:]); genErr != nil {
		return Envelope{}, errs.Fatal("generate event id", genErr)
	}

	e.mu.Lock()
	e.events[env.ID] = true
	e.log = append(e.log, acceptedEvent{env: env, origin: Origin{Local: true, From: d.self}})
	e.ordered = false
	e.mu.Unlock()

	metrics.EventsAppended.Inc()

	if bc != nil {
		wireMsg := append(append([]byte{}, ciphertext...), sig...)
		if err := bc.BroadcastToChannel(id, members, wireMsg); err != nil {
			return env, errs.Transient("broadcast event", err)
		}
	}
	return env, nil
}

// AcceptRemote verifies, decrypts, and (if new) appends an event received
// from a remote peer. Authentication per §4.2: sender must be a current
// member, the signature must verify, duplicates (by id) are discarded
// without error.
func (d *Directory) AcceptRemote(id identity.ChannelID, eventID [16]byte, sender identity.PeerID, senderSignPub capability.PublicKeys, ciphertext, sig []byte, timestampMs int64) error {
	e, err := d.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.events[eventID] {
		e.mu.Unlock()
		return nil // duplicate: idempotent discard, not an error
	}
	isMember := false
	for _, m := range e.members {
		if m == sender {
			isMember = true
			break
		}
	}
	key := e.key
	e.mu.Unlock()

	if !isMember {
		metrics.EventsRejected.Inc()
		return errs.ErrNotMember
	}
	if !d.cp.Verify(senderSignPub, ciphertext, sig) {
		metrics.EventsRejected.Inc()
		return errs.Denied("event signature verification failed")
	}
	plaintext, err := d.cp.Open(key, ciphertext, nil)
	if err != nil {
		metrics.EventsRejected.Inc()
		return errs.Protocol("decrypt event", err)
	}

	env := Envelope{ID: eventID, Kind: EventApplication, TimestampMs: timestampMs, Sender: sender, Plaintext: plaintext}

	e.mu.Lock()
	if e.events[eventID] {
		e.mu.Unlock()
		return nil
	}
	e.events[eventID] = true
	e.log = append(e.log, acceptedEvent{env: env, origin: Origin{Local: false, From: sender}})
	e.ordered = false
	e.mu.Unlock()

	metrics.EventsAppended.Inc()
	return nil
}

// StreamEvents returns a snapshot of accepted events in canonical order:
// ascending (timestamp_ms, sender_id, event_id). The returned slice is a
// point-in-time copy; calling StreamEvents again after further appends
// produces a new, longer snapshot (§4.2 "restartable, finite-per-snapshot
// feed").
func (d *Directory) StreamEvents(id identity.ChannelID) ([]Envelope, []Origin, error) {
	e, err := d.lookup(id)
	if err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	if !e.ordered {
		sort.SliceStable(e.log, func(i, j int) bool {
			a, b := e.log[i].env, e.log[j].env
			if a.TimestampMs != b.TimestampMs {
				return a.TimestampMs < b.TimestampMs
			}
			if a.Sender != b.Sender {
				return a.Sender.Less(b.Sender)
			}
			return string(a.ID[:]) < string(b.ID[:])
		})
		e.ordered = true
	}
	envs := make([]Envelope, len(e.log))
	origins := make([]Origin, len(e.log))
	for i, ev := range e.log {
		envs[i] = ev.env
		origins[i] = ev.origin
	}
	e.mu.Unlock()

	return envs, origins, nil
}

// Members returns the current member set of a channel.
func (d *Directory) Members(id identity.ChannelID) ([]identity.PeerID, error) {
	e, err := d.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]identity.PeerID(nil), e.members...), nil
}

// KeyOrZero returns id's current symmetric key, or the zero key if id is
// unknown (not yet created/joined) or has had its key erased by
// LeaveChannel. Callers that need a fresh key on the zero result.
func (d *Directory) KeyOrZero(id identity.ChannelID) [32]byte {
	e, err := d.lookup(id)
	if err != nil {
		return [32]byte{}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.key
}

func (d *Directory) lookup(id identity.ChannelID) (*entry, error) {
	d.mu.RLock()
	e, ok := d.entries[id]
	d.mu.RUnlock()
	if !ok {
		return nil, errs.ErrUnknownChannel
	}
	return e, nil
}

func (d *Directory) count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func nowMs() int64 { return time.Now().UnixMilli() }
