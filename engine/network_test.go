// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"github.com/bureau-foundation/parley/bridge"
)

func TestNetworkPublishNotifiesMembers(t *testing.T) {
	network := newTestNetwork(t)
	ctx := context.Background()

	var notices []notice
	remove := network.watch(func(event notice) { notices = append(notices, event) })
	defer remove()

	conversation := networkConversation{id: "c1", topic: groupTopic("c1"), kind: bridge.ConversationGroup, creatorInboxID: "alice", createdAtNs: 1}
	members := []networkMember{
		{inboxID: "alice", permission: bridge.PermissionSuperAdmin},
		{inboxID: "bob", permission: bridge.PermissionMember},
	}
	if err := network.createConversation(ctx, conversation, "", members); err != nil {
		t.Fatalf("createConversation: %v", err)
	}
	message := networkMessage{id: "m1", conversationID: "c1", senderInboxID: "alice", senderInstallationID: "i1", sentAtNs: 2, envelope: []byte("x")}
	if err := network.publish(ctx, message); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// Duplicate publishes are ignored and do not notify.
	if err := network.publish(ctx, message); err != nil {
		t.Fatalf("publish again: %v", err)
	}

	if len(notices) != 2 {
		t.Fatalf("notices = %+v, want conversation then message", notices)
	}
	if notices[0].kind != noticeConversation || notices[1].kind != noticeMessage {
		t.Errorf("notice kinds = %v, %v", notices[0].kind, notices[1].kind)
	}
	if !slices.Equal(notices[1].inboxIDs, []string{"alice", "bob"}) || notices[1].origin != "i1" {
		t.Errorf("message notice = %+v", notices[1])
	}

	messages, err := network.messagesSince(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("messagesSince: %v", err)
	}
	if len(messages) != 1 || string(messages[0].envelope) != "x" {
		t.Errorf("messages = %+v, want one", messages)
	}
	later, err := network.messagesSince(ctx, "c1", messages[0].seq)
	if err != nil {
		t.Fatalf("messagesSince: %v", err)
	}
	if len(later) != 0 {
		t.Errorf("messages after head = %+v, want none", later)
	}
}

func TestNetworkDmKeyUnique(t *testing.T) {
	network := newTestNetwork(t)
	ctx := context.Background()
	key := dmKey("bob", "alice")
	if key != dmKey("alice", "bob") {
		t.Fatal("dmKey depends on argument order")
	}

	first := networkConversation{id: "d1", topic: dmTopic("d1"), kind: bridge.ConversationDm, creatorInboxID: "alice"}
	if err := network.createConversation(ctx, first, key, nil); err != nil {
		t.Fatalf("createConversation: %v", err)
	}
	second := networkConversation{id: "d2", topic: dmTopic("d2"), kind: bridge.ConversationDm, creatorInboxID: "bob"}
	if err := network.createConversation(ctx, second, key, nil); err == nil {
		t.Fatal("second DM for the same pair was accepted")
	}
	found, ok, err := network.findDm(ctx, key)
	if err != nil || !ok || found.id != "d1" {
		t.Errorf("findDm = %+v, %v, %v; want d1", found, ok, err)
	}
}

func TestNetworkPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	network, err := OpenNetwork(NetworkConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenNetwork: %v", err)
	}
	if err := network.registerInstallation(context.Background(), "i1", "alice", 1); err != nil {
		t.Fatalf("registerInstallation: %v", err)
	}
	network.Close()

	reopened, err := OpenNetwork(NetworkConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenNetwork: %v", err)
	}
	defer reopened.Close()
	installations, err := reopened.installationsOf(context.Background(), []string{"alice"})
	if err != nil {
		t.Fatalf("installationsOf: %v", err)
	}
	if !slices.Equal(installations["alice"], []string{"i1"}) {
		t.Errorf("installations = %v, want [i1]", installations)
	}
}
