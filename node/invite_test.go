package node

import (
	"context"
	"testing"

	"github.com/trumanellis/indra/identity"
)

func TestEncodeDecodeInviteRoundTrip(t *testing.T) {
	var channelID identity.ChannelID
	channelID[0] = 0xaa
	var key [32]byte
	key[0] = 0xbb
	var m1, m2 identity.PeerID
	m1[0] = 1
	m2[0] = 2

	inv := InviteBlob{Channel: channelID, Key: key, Members: []identity.PeerID{m1, m2}}
	blob := EncodeInvite(inv)

	got, err := DecodeInvite(blob)
	if err != nil {
		t.Fatalf("DecodeInvite: %v", err)
	}
	if got.Channel != inv.Channel || got.Key != inv.Key {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, inv)
	}
	if len(got.Members) != 2 || got.Members[0] != m1 || got.Members[1] != m2 {
		t.Fatalf("members mismatch: %+v", got.Members)
	}
}

func TestDecodeInviteRejectsGarbage(t *testing.T) {
	if _, err := DecodeInvite("not-valid-base64!!"); err == nil {
		t.Error("expected error decoding garbage invite")
	}
	if _, err := DecodeInvite("AA"); err == nil {
		t.Error("expected error decoding truncated invite")
	}
}

func TestCreateAndJoinChannelInvite(t *testing.T) {
	alice, err := New(testConfig(t), testDeps(t))
	if err != nil {
		t.Fatalf("New alice: %v", err)
	}
	bob, err := New(testConfig(t), testDeps(t))
	if err != nil {
		t.Fatalf("New bob: %v", err)
	}

	blob, err := alice.CreateChannelInvite([]identity.PeerID{bob.Self()})
	if err != nil {
		t.Fatalf("CreateChannelInvite: %v", err)
	}

	channelID, err := bob.JoinChannelFromInvite(blob)
	if err != nil {
		t.Fatalf("JoinChannelFromInvite: %v", err)
	}

	members, err := bob.Channels.Members(channelID)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	foundAlice, foundBob := false, false
	for _, m := range members {
		if m == alice.Self() {
			foundAlice = true
		}
		if m == bob.Self() {
			foundBob = true
		}
	}
	if !foundAlice || !foundBob {
		t.Errorf("joined channel missing a member: %+v", members)
	}
}

func TestChannelIDForLabelIsStableAndPersisted(t *testing.T) {
	n, err := New(testConfig(t), testDeps(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	first, err := n.ChannelIDForLabel(ctx, "general")
	if err != nil {
		t.Fatalf("ChannelIDForLabel: %v", err)
	}
	second, err := n.ChannelIDForLabel(ctx, "general")
	if err != nil {
		t.Fatalf("ChannelIDForLabel (again): %v", err)
	}
	if first != second {
		t.Errorf("label resolution not stable: %x != %x", first, second)
	}

	other, err := n.ChannelIDForLabel(ctx, "random")
	if err != nil {
		t.Fatalf("ChannelIDForLabel (other): %v", err)
	}
	if other == first {
		t.Error("distinct labels resolved to the same channel")
	}
}

func TestSendToLabelAppendsToChannelLog(t *testing.T) {
	n, err := New(testConfig(t), testDeps(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := n.SendToLabel(ctx, "general", []byte("hello")); err != nil {
		t.Fatalf("SendToLabel: %v", err)
	}

	id, err := n.ChannelIDForLabel(ctx, "general")
	if err != nil {
		t.Fatalf("ChannelIDForLabel: %v", err)
	}
	events, err := n.storage.ReadEventLog(ctx, id)
	if err != nil {
		t.Fatalf("ReadEventLog: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event in log, got %d", len(events))
	}
}
