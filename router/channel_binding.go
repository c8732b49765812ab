package router

import (
	"github.com/trumanellis/indra/artifact"
	"github.com/trumanellis/indra/capability"
	"github.com/trumanellis/indra/channel"
	"github.com/trumanellis/indra/errs"
	"github.com/trumanellis/indra/identity"
)

// ChannelBinding implements artifact.ChannelBinder on top of a
// channel.Directory and this Router as its channel.Broadcaster, closing
// the per-artifact sync-group injection point (§4.5 "Per-artifact sync
// groups"): a grant/revoke/recall on the artifact store creates, rejoins,
// or tears down the channel backing that artifact's live replication.
//
// The artifact id and the channel id share the same [32]byte shape by
// construction, so EnsureArtifactChannel reuses the artifact id directly
// as the channel id rather than deriving a fresh one — grant/revoke/recall
// always reference the same sync group for a given artifact.
type ChannelBinding struct {
	dir *channel.Directory
	r   *Router
}

// NewChannelBinding wires dir and r together as an artifact.ChannelBinder.
func NewChannelBinding(dir *channel.Directory, r *Router) *ChannelBinding {
	return &ChannelBinding{dir: dir, r: r}
}

// Broadcaster returns the Router backing this binding, for passing as the
// bc argument to channel.Directory.AppendEvent.
func (b *ChannelBinding) Broadcaster() channel.Broadcaster { return b.r }

// EnsureArtifactChannel makes the artifact's current audience exactly the
// channel's membership: join if absent, otherwise re-join with the
// refreshed member list (§4.5 "recomputed on grant/revoke/recall").
func (b *ChannelBinding) EnsureArtifactChannel(artifactID artifact.ID, members []identity.PeerID) error {
	id := identity.ChannelID(artifactID)
	key := b.dir.KeyOrZero(id)
	if key == ([32]byte{}) {
		if err := capability.RandomBytes(key[:]); err != nil {
			return errs.Fatal("generate artifact channel key", err)
		}
	}
	b.dir.JoinChannel(id, key, members)
	return nil
}

// TeardownArtifactChannel removes this node from the artifact's sync
// group (§4.5 "recall tears down the sync channel").
func (b *ChannelBinding) TeardownArtifactChannel(artifactID artifact.ID) error {
	return b.dir.LeaveChannel(identity.ChannelID(artifactID))
}
