// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"slices"
	"testing"

	"github.com/bureau-foundation/parley/bridge"
	"github.com/bureau-foundation/parley/lib/contentcodec"
	"github.com/bureau-foundation/parley/lib/contenttype"
)

func TestCreateGroupAndDiscover(t *testing.T) {
	network := newTestNetwork(t)
	engineA := newTestEngine(t, network)
	engineB := newTestEngine(t, network)
	ctx := context.Background()
	alice := createInstallation(t, engineA, "alice")
	bob := createInstallation(t, engineB, "bob")

	group, err := engineA.CreateGroup(ctx, alice.ID, bridge.CreateGroupRequest{
		MemberInboxIDs: []string{"bob", "bob", "alice"},
		Name:           "planning",
	})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if group.Kind != bridge.ConversationGroup || group.ConsentState != bridge.ConsentAllowed {
		t.Errorf("group = %+v, want allowed group", group)
	}

	before, err := engineB.ListConversations(ctx, bob.ID, bridge.ListConversationsOptions{})
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(before) != 0 {
		t.Fatalf("bob sees %d conversations before sync, want 0", len(before))
	}
	if err := engineB.SyncConversations(ctx, bob.ID); err != nil {
		t.Fatalf("SyncConversations: %v", err)
	}
	found, err := engineB.FindConversation(ctx, bob.ID, group.ID)
	if err != nil {
		t.Fatalf("FindConversation: %v", err)
	}
	if found.Name != "planning" || found.CreatorInboxID != "alice" || found.ConsentState != bridge.ConsentUnknown {
		t.Errorf("bob's view = %+v, want planning by alice with unknown consent", found)
	}

	members, err := engineB.Members(ctx, bob.ID, group.ID)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %+v, want alice and bob", members)
	}
	if members[0].InboxID != "alice" || members[0].PermissionLevel != bridge.PermissionSuperAdmin {
		t.Errorf("members[0] = %+v, want alice as super admin", members[0])
	}
	if !slices.Equal(members[1].InstallationIDs, []string{bob.ID}) {
		t.Errorf("bob's installations = %v, want [%s]", members[1].InstallationIDs, bob.ID)
	}
}

func TestCreateGroupUnknownMember(t *testing.T) {
	engine := newTestEngine(t, newTestNetwork(t))
	alice := createInstallation(t, engine, "alice")
	_, err := engine.CreateGroup(context.Background(), alice.ID, bridge.CreateGroupRequest{MemberInboxIDs: []string{"nobody"}})
	if !bridge.IsError(err, bridge.ErrorInvalidArgument) {
		t.Errorf("err = %v, want %s", err, bridge.ErrorInvalidArgument)
	}
}

func TestFindOrCreateDm(t *testing.T) {
	network := newTestNetwork(t)
	engine := newTestEngine(t, network)
	ctx := context.Background()
	alice := createInstallation(t, engine, "alice")
	bob := createInstallation(t, engine, "bob")

	first, err := engine.FindOrCreateDm(ctx, alice.ID, "bob")
	if err != nil {
		t.Fatalf("FindOrCreateDm: %v", err)
	}
	again, err := engine.FindOrCreateDm(ctx, alice.ID, "bob")
	if err != nil {
		t.Fatalf("FindOrCreateDm again: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("second call created %s, want %s", again.ID, first.ID)
	}

	fromBob, err := engine.FindOrCreateDm(ctx, bob.ID, "alice")
	if err != nil {
		t.Fatalf("FindOrCreateDm from bob: %v", err)
	}
	if fromBob.ID != first.ID || fromBob.PeerInboxID != "alice" || fromBob.Kind != bridge.ConversationDm {
		t.Errorf("bob's DM = %+v, want %s with peer alice", fromBob, first.ID)
	}

	_, err = engine.FindOrCreateDm(ctx, alice.ID, "alice")
	if !bridge.IsError(err, bridge.ErrorInvalidArgument) {
		t.Errorf("self DM: err = %v, want %s", err, bridge.ErrorInvalidArgument)
	}
}

func TestListConversationsFilters(t *testing.T) {
	engine := newTestEngine(t, newTestNetwork(t))
	ctx := context.Background()
	alice := createInstallation(t, engine, "alice")
	createInstallation(t, engine, "bob")
	createInstallation(t, engine, "carol")

	group, err := engine.CreateGroup(ctx, alice.ID, bridge.CreateGroupRequest{MemberInboxIDs: []string{"bob"}})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	dm, err := engine.FindOrCreateDm(ctx, alice.ID, "carol")
	if err != nil {
		t.Fatalf("FindOrCreateDm: %v", err)
	}
	err = engine.SetConsent(ctx, alice.ID, []bridge.ConsentRecord{{
		EntityType: bridge.ConsentEntityConversation, Entity: dm.ID, State: bridge.ConsentDenied,
	}})
	if err != nil {
		t.Fatalf("SetConsent: %v", err)
	}

	tests := []struct {
		name    string
		options bridge.ListConversationsOptions
		want    []string
	}{
		{"all newest first", bridge.ListConversationsOptions{}, []string{dm.ID, group.ID}},
		{"groups", bridge.ListConversationsOptions{Kind: bridge.ConversationGroup}, []string{group.ID}},
		{"dms", bridge.ListConversationsOptions{Kind: bridge.ConversationDm}, []string{dm.ID}},
		{"allowed", bridge.ListConversationsOptions{ConsentStates: []bridge.ConsentState{bridge.ConsentAllowed}}, []string{group.ID}},
		{"limit", bridge.ListConversationsOptions{Limit: 1}, []string{dm.ID}},
		{"created before dm", bridge.ListConversationsOptions{CreatedBeforeNs: dm.CreatedAtNs}, []string{group.ID}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conversations, err := engine.ListConversations(ctx, alice.ID, test.options)
			if err != nil {
				t.Fatalf("ListConversations: %v", err)
			}
			var got []string
			for _, conversation := range conversations {
				got = append(got, conversation.ID)
			}
			if !slices.Equal(got, test.want) {
				t.Errorf("got = %v, want %v", got, test.want)
			}
		})
	}
}

func groupUpdates(t *testing.T, engine *Engine, installationID, conversationID string) []contentcodec.GroupUpdated {
	t.Helper()
	messages, err := engine.FetchMessages(context.Background(), installationID, conversationID, bridge.FetchOptions{
		ContentTypes: []string{contenttype.GroupUpdated.Key()},
		Direction:    bridge.Ascending,
	})
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	registry := contentcodec.NewDefaultRegistry()
	var updates []contentcodec.GroupUpdated
	for _, message := range messages {
		envelope, err := contentcodec.Unmarshal(message.Envelope)
		if err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		update, err := contentcodec.Typed[contentcodec.GroupUpdated](registry.Decode(envelope))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		updates = append(updates, update)
	}
	return updates
}

func TestMembershipChanges(t *testing.T) {
	network := newTestNetwork(t)
	engine := newTestEngine(t, network)
	ctx := context.Background()
	alice := createInstallation(t, engine, "alice")
	bob := createInstallation(t, engine, "bob")
	carol := createInstallation(t, engine, "carol")

	group, err := engine.CreateGroup(ctx, alice.ID, bridge.CreateGroupRequest{MemberInboxIDs: []string{"bob"}})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if _, err := engine.Send(ctx, alice.ID, group.ID, bridge.SendRequest{Text: "before carol"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := engine.AddMembers(ctx, alice.ID, group.ID, []string{"carol", "bob"}); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}

	updates := groupUpdates(t, engine, alice.ID, group.ID)
	if len(updates) != 1 || !slices.Equal(updates[0].AddedInboxes, []string{"carol"}) || updates[0].InitiatedByInboxID != "alice" {
		t.Fatalf("updates = %+v, want carol added by alice", updates)
	}

	// Carol joined after the first message and sees only the update.
	if _, err := engine.SyncAllConversations(ctx, carol.ID, nil); err != nil {
		t.Fatalf("SyncAllConversations: %v", err)
	}
	carolMessages, err := engine.FetchMessages(ctx, carol.ID, group.ID, bridge.FetchOptions{})
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if len(carolMessages) != 1 || carolMessages[0].ContentType != contenttype.GroupUpdated.Key() {
		t.Errorf("carol's messages = %+v, want only the group update", carolMessages)
	}

	if err := engine.SyncConversations(ctx, bob.ID); err != nil {
		t.Fatalf("SyncConversations: %v", err)
	}
	err = engine.RemoveMembers(ctx, bob.ID, group.ID, []string{"carol"})
	if !bridge.IsError(err, bridge.ErrorInvalidArgument) {
		t.Errorf("member removing: err = %v, want %s", err, bridge.ErrorInvalidArgument)
	}
	if err := engine.RemoveMembers(ctx, alice.ID, group.ID, []string{"carol"}); err != nil {
		t.Fatalf("RemoveMembers: %v", err)
	}
	updates = groupUpdates(t, engine, alice.ID, group.ID)
	if len(updates) != 2 || !slices.Equal(updates[1].RemovedInboxes, []string{"carol"}) {
		t.Errorf("updates = %+v, want carol removed", updates)
	}

	err = engine.SyncConversation(ctx, carol.ID, group.ID)
	if !bridge.IsError(err, bridge.ErrorNotAMember) {
		t.Errorf("removed member sync: err = %v, want %s", err, bridge.ErrorNotAMember)
	}
	_, err = engine.Send(ctx, carol.ID, group.ID, bridge.SendRequest{Text: "still here?"})
	if !bridge.IsError(err, bridge.ErrorNotAMember) {
		t.Errorf("removed member send: err = %v, want %s", err, bridge.ErrorNotAMember)
	}
	if err := engine.RemoveMembers(ctx, alice.ID, group.ID, []string{"alice"}); !bridge.IsError(err, bridge.ErrorInvalidArgument) {
		t.Errorf("self removal: err = %v, want %s", err, bridge.ErrorInvalidArgument)
	}
}

func TestUpdateGroupMetadata(t *testing.T) {
	network := newTestNetwork(t)
	engine := newTestEngine(t, network)
	ctx := context.Background()
	alice := createInstallation(t, engine, "alice")
	bob := createInstallation(t, engine, "bob")

	group, err := engine.CreateGroup(ctx, alice.ID, bridge.CreateGroupRequest{MemberInboxIDs: []string{"bob"}, Name: "old"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := engine.UpdateGroupMetadata(ctx, alice.ID, group.ID, bridge.MetadataName, "new"); err != nil {
		t.Fatalf("UpdateGroupMetadata: %v", err)
	}
	if err := engine.UpdateGroupMetadata(ctx, alice.ID, group.ID, bridge.MetadataName, "new"); err != nil {
		t.Fatalf("UpdateGroupMetadata unchanged: %v", err)
	}
	if err := engine.UpdateGroupMetadata(ctx, alice.ID, group.ID, "color", "blue"); !bridge.IsError(err, bridge.ErrorInvalidArgument) {
		t.Errorf("unknown field: err = %v, want %s", err, bridge.ErrorInvalidArgument)
	}

	local, err := engine.FindConversation(ctx, alice.ID, group.ID)
	if err != nil {
		t.Fatalf("FindConversation: %v", err)
	}
	if local.Name != "new" {
		t.Errorf("Name = %q, want %q", local.Name, "new")
	}
	updates := groupUpdates(t, engine, alice.ID, group.ID)
	if len(updates) != 1 {
		t.Fatalf("updates = %+v, want exactly one", updates)
	}
	want := contentcodec.MetadataFieldChange{FieldName: "group_name", OldValue: "old", NewValue: "new"}
	if len(updates[0].MetadataFieldChanges) != 1 || updates[0].MetadataFieldChanges[0] != want {
		t.Errorf("changes = %+v, want %+v", updates[0].MetadataFieldChanges, want)
	}

	if _, err := engine.SyncAllConversations(ctx, bob.ID, nil); err != nil {
		t.Fatalf("SyncAllConversations: %v", err)
	}
	bobView, err := engine.FindConversation(ctx, bob.ID, group.ID)
	if err != nil {
		t.Fatalf("FindConversation: %v", err)
	}
	if bobView.Name != "new" {
		t.Errorf("bob's Name = %q, want %q", bobView.Name, "new")
	}

	dm, err := engine.FindOrCreateDm(ctx, alice.ID, "bob")
	if err != nil {
		t.Fatalf("FindOrCreateDm: %v", err)
	}
	if err := engine.UpdateGroupMetadata(ctx, alice.ID, dm.ID, bridge.MetadataName, "x"); !bridge.IsError(err, bridge.ErrorInvalidArgument) {
		t.Errorf("DM metadata: err = %v, want %s", err, bridge.ErrorInvalidArgument)
	}
}

func TestSyncAllConversationsConsentFilter(t *testing.T) {
	engine := newTestEngine(t, newTestNetwork(t))
	ctx := context.Background()
	alice := createInstallation(t, engine, "alice")
	bob := createInstallation(t, engine, "bob")

	for range 2 {
		if _, err := engine.CreateGroup(ctx, alice.ID, bridge.CreateGroupRequest{MemberInboxIDs: []string{"bob"}}); err != nil {
			t.Fatalf("CreateGroup: %v", err)
		}
	}
	synced, err := engine.SyncAllConversations(ctx, bob.ID, []bridge.ConsentState{bridge.ConsentAllowed})
	if err != nil {
		t.Fatalf("SyncAllConversations: %v", err)
	}
	if synced != 0 {
		t.Errorf("allowed-only sync = %d, want 0 (bob has not consented)", synced)
	}
	synced, err = engine.SyncAllConversations(ctx, bob.ID, nil)
	if err != nil {
		t.Fatalf("SyncAllConversations: %v", err)
	}
	if synced != 2 {
		t.Errorf("sync all = %d, want 2", synced)
	}
}
