// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"testing"

	"github.com/bureau-foundation/parley/bridge"
	"github.com/bureau-foundation/parley/lib/testutil"
)

func streamContent(t *testing.T, collector *testutil.Collector[*DecodedMessage], what string) any {
	t.Helper()
	message := testutil.RequireReceive(t, collector.C, timeout, what)
	return contentOf(t, message)
}

func TestStreamAllMessagesIsolatedByClient(t *testing.T) {
	env := newTestEnvironment(t)
	ctx := context.Background()
	alice := env.client(t, "alice")
	bob := env.client(t, "bob")
	group, err := alice.Conversations().NewGroup(ctx, []string{"bob"}, GroupOptions{})
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}

	aliceMessages := testutil.NewCollector[*DecodedMessage](8)
	bobMessages := testutil.NewCollector[*DecodedMessage](8)
	if _, err := alice.Conversations().StreamAllMessages(ctx, aliceMessages.Push, nil); err != nil {
		t.Fatalf("alice StreamAllMessages: %v", err)
	}
	if _, err := bob.Conversations().StreamAllMessages(ctx, bobMessages.Push, nil); err != nil {
		t.Fatalf("bob StreamAllMessages: %v", err)
	}

	id := send(t, group, "gm")
	if got := streamContent(t, aliceMessages, "alice's own message"); got != "gm" {
		t.Errorf("alice streamed %v, want gm", got)
	}
	received := testutil.RequireReceive(t, bobMessages.C, timeout, "bob's message")
	if received.ID != id || received.ConversationID != group.ID() || received.SenderInboxID != "alice" {
		t.Errorf("bob streamed %+v, want %s from alice in %s", received, id, group.ID())
	}

	testutil.RequireNoReceive(t, aliceMessages.C, quiet, "duplicate for alice")
	testutil.RequireNoReceive(t, bobMessages.C, quiet, "duplicate for bob")
}

func TestIndependentStreams(t *testing.T) {
	env := newTestEnvironment(t)
	ctx := context.Background()
	alice := env.client(t, "alice")
	env.client(t, "bob")
	group, err := alice.Conversations().NewGroup(ctx, []string{"bob"}, GroupOptions{})
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}

	first := testutil.NewCollector[*DecodedMessage](8)
	second := testutil.NewCollector[*DecodedMessage](8)
	firstClosed := testutil.NewCollector[error](2)
	subscription, err := group.StreamMessages(ctx, first.Push, firstClosed.Push)
	if err != nil {
		t.Fatalf("StreamMessages: %v", err)
	}
	if _, err := group.StreamMessages(ctx, second.Push, nil); err != nil {
		t.Fatalf("StreamMessages: %v", err)
	}
	if got := alice.streamCount(bridge.StreamGroupMessages); got != 2 {
		t.Fatalf("streamCount = %d, want 2", got)
	}

	send(t, group, "both")
	for _, collector := range []*testutil.Collector[*DecodedMessage]{first, second} {
		if got := streamContent(t, collector, "message on each stream"); got != "both" {
			t.Errorf("streamed %v, want both", got)
		}
	}

	subscription.Cancel()
	if err := testutil.RequireReceive(t, firstClosed.C, timeout, "first stream closed"); err != nil {
		t.Errorf("onClose = %v, want nil", err)
	}
	if got := alice.streamCount(bridge.StreamGroupMessages); got != 1 {
		t.Errorf("streamCount after Cancel = %d, want 1", got)
	}

	send(t, group, "second only")
	if got := streamContent(t, second, "message after cancel"); got != "second only" {
		t.Errorf("streamed %v, want second only", got)
	}
	testutil.RequireNoReceive(t, first.C, quiet, "message on cancelled stream")
}

func TestExclusiveStreams(t *testing.T) {
	env := newTestEnvironment(t)
	ctx := context.Background()
	alice := env.client(t, "alice", func(config *ClientConfig) {
		config.ExclusiveStreams = true
	})
	env.client(t, "bob")
	group, err := alice.Conversations().NewGroup(ctx, []string{"bob"}, GroupOptions{})
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	other, err := alice.Conversations().FindOrCreateDm(ctx, "bob")
	if err != nil {
		t.Fatalf("FindOrCreateDm: %v", err)
	}

	first := testutil.NewCollector[*DecodedMessage](8)
	firstClosed := testutil.NewCollector[error](2)
	replaced, err := group.StreamMessages(ctx, first.Push, firstClosed.Push)
	if err != nil {
		t.Fatalf("StreamMessages: %v", err)
	}
	elsewhere := testutil.NewCollector[*DecodedMessage](8)
	if _, err := other.StreamMessages(ctx, elsewhere.Push, nil); err != nil {
		t.Fatalf("StreamMessages on the dm: %v", err)
	}

	second := testutil.NewCollector[*DecodedMessage](8)
	if _, err := group.StreamMessages(ctx, second.Push, nil); err != nil {
		t.Fatalf("StreamMessages: %v", err)
	}
	if replaced.Active() {
		t.Error("replaced subscription is still active")
	}
	if got := alice.streamCount(bridge.StreamGroupMessages); got != 2 {
		t.Errorf("streamCount = %d, want 2 (one per conversation)", got)
	}

	send(t, group, "only the newest")
	if got := streamContent(t, second, "message on the replacement"); got != "only the newest" {
		t.Errorf("streamed %v, want only the newest", got)
	}
	testutil.RequireNoReceive(t, first.C, quiet, "message on the replaced stream")
	testutil.RequireNoReceive(t, firstClosed.C, quiet, "onClose of the replaced stream")

	send(t, other, "dm still streams")
	if got := streamContent(t, elsewhere, "dm message"); got != "dm still streams" {
		t.Errorf("dm streamed %v, want dm still streams", got)
	}
}

func TestBobStreamsDiscoveredGroup(t *testing.T) {
	env := newTestEnvironment(t)
	ctx := context.Background()
	alice := env.client(t, "alice")
	bob := env.client(t, "bob")
	group, err := alice.Conversations().NewGroup(ctx, []string{"bob"}, GroupOptions{})
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	bobGroup := discover(t, bob, group.ID())

	received := testutil.NewCollector[*DecodedMessage](8)
	if _, err := bobGroup.StreamMessages(ctx, received.Push, nil); err != nil {
		t.Fatalf("StreamMessages: %v", err)
	}
	send(t, group, "live")
	if got := streamContent(t, received, "streamed message"); got != "live" {
		t.Errorf("bob streamed %v, want live", got)
	}
}

func TestConversationStream(t *testing.T) {
	env := newTestEnvironment(t)
	ctx := context.Background()
	alice := env.client(t, "alice")
	bob := env.client(t, "bob")

	dms := testutil.NewCollector[Conversation](4)
	closed := testutil.NewCollector[error](2)
	if _, err := bob.Conversations().Stream(ctx, bridge.ConversationDm, dms.Push, closed.Push); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	all := testutil.NewCollector[Conversation](4)
	if _, err := bob.Conversations().Stream(ctx, "", all.Push, nil); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	group, err := alice.Conversations().NewGroup(ctx, []string{"bob"}, GroupOptions{Name: "filtered"})
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	if got := testutil.RequireReceive(t, all.C, timeout, "group on the unfiltered stream"); got.ID() != group.ID() {
		t.Errorf("unfiltered stream got %s, want %s", got.ID(), group.ID())
	}

	dm, err := alice.Conversations().FindOrCreateDm(ctx, "bob")
	if err != nil {
		t.Fatalf("FindOrCreateDm: %v", err)
	}
	got := testutil.RequireReceive(t, dms.C, timeout, "dm on the filtered stream")
	bobDm, ok := got.(*Dm)
	if !ok {
		t.Fatalf("streamed %T, want *Dm", got)
	}
	if bobDm.ID() != dm.ID() || bobDm.PeerInboxID() != "alice" {
		t.Errorf("streamed dm %s with %s, want %s with alice", bobDm.ID(), bobDm.PeerInboxID(), dm.ID())
	}
	if len(dms.All()) != 1 {
		t.Errorf("filtered stream got %d conversations, want only the dm", len(dms.All()))
	}

	bob.Conversations().CancelStream()
	if err := testutil.RequireReceive(t, closed.C, timeout, "conversation stream closed"); err != nil {
		t.Errorf("onClose = %v, want nil", err)
	}
	if got := bob.streamCount(bridge.StreamConversations); got != 0 {
		t.Errorf("streamCount after CancelStream = %d, want 0", got)
	}
}

func TestCancelStreamAllMessages(t *testing.T) {
	env := newTestEnvironment(t)
	ctx := context.Background()
	alice := env.client(t, "alice")
	env.client(t, "bob")
	group, err := alice.Conversations().NewGroup(ctx, []string{"bob"}, GroupOptions{})
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	received := testutil.NewCollector[*DecodedMessage](8)
	closed := testutil.NewCollector[error](2)
	if _, err := alice.Conversations().StreamAllMessages(ctx, received.Push, closed.Push); err != nil {
		t.Fatalf("StreamAllMessages: %v", err)
	}
	scoped := testutil.NewCollector[*DecodedMessage](8)
	if _, err := group.StreamMessages(ctx, scoped.Push, nil); err != nil {
		t.Fatalf("StreamMessages: %v", err)
	}

	alice.Conversations().CancelStreamAllMessages()
	if err := testutil.RequireReceive(t, closed.C, timeout, "all-messages stream closed"); err != nil {
		t.Errorf("onClose = %v, want nil", err)
	}
	send(t, group, "after cancel")
	testutil.RequireNoReceive(t, received.C, quiet, "message after CancelStreamAllMessages")
	if got := streamContent(t, scoped, "conversation stream unaffected"); got != "after cancel" {
		t.Errorf("conversation stream got %v, want after cancel", got)
	}
}

func TestStreamsEndWithOneClient(t *testing.T) {
	env := newTestEnvironment(t)
	ctx := context.Background()
	alice := env.client(t, "alice")
	bob := env.client(t, "bob")

	aliceClosed := testutil.NewCollector[error](2)
	bobMessages := testutil.NewCollector[*DecodedMessage](8)
	if _, err := alice.Conversations().StreamAllMessages(ctx, func(*DecodedMessage) {}, aliceClosed.Push); err != nil {
		t.Fatalf("StreamAllMessages: %v", err)
	}
	if _, err := bob.Conversations().StreamAllMessages(ctx, bobMessages.Push, nil); err != nil {
		t.Fatalf("StreamAllMessages: %v", err)
	}
	group, err := alice.Conversations().NewGroup(ctx, []string{"bob"}, GroupOptions{})
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	send(t, group, "before")
	testutil.RequireReceive(t, bobMessages.C, timeout, "message before alice closes")

	if err := alice.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	testutil.RequireReceive(t, aliceClosed.C, timeout, "alice's stream closed")
	if got := bob.streamCount(bridge.StreamAllMessages); got != 1 {
		t.Errorf("bob's streams after alice closed = %d, want 1", got)
	}
}
