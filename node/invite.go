package node

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/trumanellis/indra/channel"
	"github.com/trumanellis/indra/errs"
	"github.com/trumanellis/indra/identity"
	"github.com/trumanellis/indra/internal/wire"
)

// channelLabelPrefix namespaces human-readable channel labels (what the
// `indra invite`/`send` CLI commands take as their <channel> argument)
// inside the shared key-value index, the same way artifact.Store
// namespaces its own index keys.
const channelLabelPrefix = "channel-label:"

// InviteBlob is the out-of-band payload §4.2 calls "a channel id plus its
// symmetric key and an inclusion proof": everything a peer needs to
// install a channel locally via channel.Directory.JoinChannel, encoded
// the same tagged-frame way every other wire message in this module is,
// then base64'd so it round-trips through a CLI argument or a pasted
// chat message.
type InviteBlob struct {
	Channel identity.ChannelID
	Key     [32]byte
	Members []identity.PeerID
}

// EncodeInvite serializes an InviteBlob to a base64 string suitable for
// the `indra invite`/`indra join` CLI commands.
func EncodeInvite(inv InviteBlob) string {
	w := wire.NewWriter()
	w.Fixed32(inv.Channel)
	w.Fixed32(inv.Key)
	w.Uvarint(uint64(len(inv.Members)))
	for _, m := range inv.Members {
		w.Fixed32(m)
	}
	frame := wire.Frame(wire.TagInvite, w.Bytes())
	return base64.RawURLEncoding.EncodeToString(frame)
}

// DecodeInvite reverses EncodeInvite.
func DecodeInvite(blob string) (InviteBlob, error) {
	var inv InviteBlob
	raw, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		return inv, errs.Protocol("decode invite base64", err)
	}
	tag, body, err := wire.Unframe(raw)
	if err != nil {
		return inv, errs.Protocol("unframe invite", err)
	}
	if tag != wire.TagInvite {
		return inv, errs.Protocol("invite has wrong wire tag", nil)
	}

	r := wire.NewReader(body)
	channelID, err := r.Fixed32()
	if err != nil {
		return inv, errs.Protocol("decode invite channel id", err)
	}
	key, err := r.Fixed32()
	if err != nil {
		return inv, errs.Protocol("decode invite key", err)
	}
	n, err := r.Uvarint()
	if err != nil {
		return inv, errs.Protocol("decode invite member count", err)
	}
	members := make([]identity.PeerID, 0, n)
	for i := uint64(0); i < n; i++ {
		m, err := r.Fixed32()
		if err != nil {
			return inv, errs.Protocol("decode invite member", err)
		}
		members = append(members, identity.PeerID(m))
	}

	inv.Channel = identity.ChannelID(channelID)
	inv.Key = key
	inv.Members = members
	return inv, nil
}

// CreateChannelInvite creates a new channel with members (which must
// include the node's own identity) and returns an encoded invite blob
// the caller can hand to every other member out of band.
func (n *Node) CreateChannelInvite(members []identity.PeerID) (string, error) {
	hasSelf := false
	for _, m := range members {
		if m == n.self {
			hasSelf = true
			break
		}
	}
	if !hasSelf {
		members = append(append([]identity.PeerID(nil), members...), n.self)
	}

	channelID, err := n.Channels.CreateChannel(members)
	if err != nil {
		return "", fmt.Errorf("create channel: %w", err)
	}

	inv := InviteBlob{
		Channel: channelID,
		Key:     n.Channels.KeyOrZero(channelID),
		Members: members,
	}
	return EncodeInvite(inv), nil
}

// JoinChannelFromInvite decodes blob, installs the channel in the
// channel directory and publishes EventChannelJoined. It registers
// nothing with the router.
func (n *Node) JoinChannelFromInvite(blob string) (identity.ChannelID, error) {
	inv, err := DecodeInvite(blob)
	if err != nil {
		return identity.ChannelID{}, err
	}
	n.Channels.JoinChannel(inv.Channel, inv.Key, inv.Members)
	n.Events.PublishAsync(EventChannelJoined, inv.Channel)
	return inv.Channel, nil
}

// Send appends a plaintext event to channelID's log and broadcasts it to
// every other member via the packet router (§4.2 append_event, §4.3
// BroadcastToChannel).
func (n *Node) Send(channelID identity.ChannelID, plaintext []byte) (channel.Envelope, error) {
	return n.Channels.AppendEvent(channelID, plaintext, n.keypair.Secret, n.Router)
}

// ChannelIDForLabel resolves a human-readable label (the CLI's <channel>
// argument) to a channel id, creating a fresh self-only channel under
// that label the first time it is used. The mapping is persisted in the
// node's Storage index so it survives a restart.
func (n *Node) ChannelIDForLabel(ctx context.Context, label string) (identity.ChannelID, error) {
	key := []byte(channelLabelPrefix + label)
	if raw, ok, err := n.storage.GetIndex(ctx, key); err != nil {
		return identity.ChannelID{}, fmt.Errorf("lookup channel label %q: %w", label, err)
	} else if ok {
		var id identity.ChannelID
		copy(id[:], raw)
		return id, nil
	}

	id, err := n.Channels.CreateChannel([]identity.PeerID{n.self})
	if err != nil {
		return identity.ChannelID{}, fmt.Errorf("create channel for label %q: %w", label, err)
	}
	if err := n.storage.PutIndex(ctx, key, id[:]); err != nil {
		return identity.ChannelID{}, fmt.Errorf("persist channel label %q: %w", label, err)
	}
	return id, nil
}

// InviteByLabel returns an encoded invite blob for the channel bound to
// label, creating the channel (with self as its sole member so far) the
// first time label is used.
func (n *Node) InviteByLabel(ctx context.Context, label string) (string, error) {
	id, err := n.ChannelIDForLabel(ctx, label)
	if err != nil {
		return "", err
	}
	members, err := n.Channels.Members(id)
	if err != nil {
		return "", fmt.Errorf("channel members for label %q: %w", label, err)
	}
	inv := InviteBlob{Channel: id, Key: n.Channels.KeyOrZero(id), Members: members}
	return EncodeInvite(inv), nil
}

// SendToLabel resolves label to a channel id, creating it if this node
// has never seen the label before, and appends plaintext to its event
// log.
func (n *Node) SendToLabel(ctx context.Context, label string, plaintext []byte) error {
	id, err := n.ChannelIDForLabel(ctx, label)
	if err != nil {
		return err
	}
	_, err = n.Send(id, plaintext)
	return err
}
