// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/bureau-foundation/parley/bridge"
	"github.com/bureau-foundation/parley/lib/testutil"
)

func TestConversationConsent(t *testing.T) {
	env := newTestEnvironment(t)
	ctx := context.Background()
	alice := env.client(t, "alice")
	bob := env.client(t, "bob")
	group, err := alice.Conversations().NewGroup(ctx, []string{"bob"}, GroupOptions{})
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}

	if state, err := group.ConsentState(ctx); err != nil || state != bridge.ConsentAllowed {
		t.Errorf("creator's consent = %s, %v; want %s", state, err, bridge.ConsentAllowed)
	}
	bobGroup := discover(t, bob, group.ID())
	if state, err := bobGroup.ConsentState(ctx); err != nil || state != bridge.ConsentUnknown {
		t.Errorf("member's consent = %s, %v; want %s", state, err, bridge.ConsentUnknown)
	}

	for _, state := range []bridge.ConsentState{"", "maybe", bridge.ConsentUnknown} {
		if err := bobGroup.UpdateConsent(ctx, state); !errors.Is(err, ErrInvalidConsentState) {
			t.Errorf("UpdateConsent(%q): err = %v, want ErrInvalidConsentState", state, err)
		}
	}

	if err := bobGroup.UpdateConsent(ctx, bridge.ConsentDenied); err != nil {
		t.Fatalf("UpdateConsent: %v", err)
	}
	if got := bobGroup.Info().ConsentState; got != bridge.ConsentDenied {
		t.Errorf("handle consent = %s, want %s", got, bridge.ConsentDenied)
	}
	if state, err := bob.Preferences().ConversationConsentState(ctx, group.ID()); err != nil || state != bridge.ConsentDenied {
		t.Errorf("ConversationConsentState = %s, %v; want %s", state, err, bridge.ConsentDenied)
	}
	if state, err := group.ConsentState(ctx); err != nil || state != bridge.ConsentAllowed {
		t.Errorf("alice's consent after bob denied = %s, %v; want %s", state, err, bridge.ConsentAllowed)
	}

	allowed, err := bob.Conversations().List(ctx, ListOptions{ConsentStates: []bridge.ConsentState{bridge.ConsentAllowed}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(allowed) != 0 {
		t.Errorf("bob lists %d allowed conversations, want 0", len(allowed))
	}
	denied, err := bob.Conversations().List(ctx, ListOptions{ConsentStates: []bridge.ConsentState{bridge.ConsentDenied}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(denied) != 1 || denied[0].ID() != group.ID() {
		t.Errorf("bob lists %d denied conversations, want the group", len(denied))
	}
}

func TestSyncAllByConsent(t *testing.T) {
	env := newTestEnvironment(t)
	ctx := context.Background()
	alice := env.client(t, "alice")
	bob := env.client(t, "bob")
	group, err := alice.Conversations().NewGroup(ctx, []string{"bob"}, GroupOptions{})
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	send(t, group, "first")

	synced, err := bob.Conversations().SyncAll(ctx, bridge.ConsentAllowed)
	if err != nil {
		t.Fatalf("SyncAll(allowed): %v", err)
	}
	if synced != 0 {
		t.Errorf("SyncAll(allowed) = %d, want 0", synced)
	}
	synced, err = bob.Conversations().SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if synced != 1 {
		t.Errorf("SyncAll = %d, want 1", synced)
	}
	bobGroup, err := bob.Conversations().Find(ctx, group.ID())
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got := messages(t, bobGroup, MessageQuery{}); len(got) != 1 {
		t.Errorf("bob has %d messages after SyncAll, want 1", len(got))
	}
}

func TestInboxConsent(t *testing.T) {
	env := newTestEnvironment(t)
	ctx := context.Background()
	alice := env.client(t, "alice")
	env.client(t, "spammer")

	state, err := alice.Preferences().InboxConsentState(ctx, "spammer")
	if err != nil {
		t.Fatalf("InboxConsentState: %v", err)
	}
	if state != bridge.ConsentUnknown {
		t.Errorf("initial inbox consent = %s, want %s", state, bridge.ConsentUnknown)
	}

	consent := testutil.NewCollector[[]bridge.ConsentRecord](4)
	if _, err := alice.Preferences().StreamConsent(ctx, consent.Push, nil); err != nil {
		t.Fatalf("StreamConsent: %v", err)
	}
	record := bridge.ConsentRecord{EntityType: bridge.ConsentEntityInbox, Entity: "spammer", State: bridge.ConsentDenied}
	if err := alice.Preferences().SetConsent(ctx, record); err != nil {
		t.Fatalf("SetConsent: %v", err)
	}
	batch := testutil.RequireReceive(t, consent.C, timeout, "consent batch")
	if len(batch) != 1 || batch[0] != record {
		t.Errorf("streamed %+v, want %+v", batch, record)
	}

	list, err := alice.Preferences().ConsentList(ctx)
	if err != nil {
		t.Fatalf("ConsentList: %v", err)
	}
	found := false
	for _, entry := range list {
		if entry == record {
			found = true
		}
	}
	if !found {
		t.Errorf("ConsentList = %+v, missing %+v", list, record)
	}

	invalid := bridge.ConsentRecord{EntityType: "phone", Entity: "x", State: bridge.ConsentAllowed}
	if err := alice.Preferences().SetConsent(ctx, invalid); !bridge.IsError(err, bridge.ErrorInvalidArgument) {
		t.Errorf("invalid record: err = %v, want %s", err, bridge.ErrorInvalidArgument)
	}
}

func TestPreferenceUpdatesAcrossInstallations(t *testing.T) {
	env := newTestEnvironment(t)
	ctx := context.Background()
	phone := env.client(t, "alice")
	laptop := env.client(t, "alice")
	env.client(t, "spammer")
	if phone.InstallationID() == laptop.InstallationID() {
		t.Fatal("two clients for one inbox share an installation")
	}

	updates := testutil.NewCollector[bridge.PreferenceUpdate](4)
	if _, err := laptop.Preferences().StreamPreferenceUpdates(ctx, updates.Push, nil); err != nil {
		t.Fatalf("StreamPreferenceUpdates: %v", err)
	}
	record := bridge.ConsentRecord{EntityType: bridge.ConsentEntityInbox, Entity: "spammer", State: bridge.ConsentDenied}
	if err := phone.Preferences().SetConsent(ctx, record); err != nil {
		t.Fatalf("SetConsent: %v", err)
	}
	update := testutil.RequireReceive(t, updates.C, timeout, "preference update on the laptop")
	if len(update.Consent) != 1 || update.Consent[0] != record {
		t.Errorf("update = %+v, want %+v", update, record)
	}
	state, err := laptop.Preferences().InboxConsentState(ctx, "spammer")
	if err != nil {
		t.Fatalf("InboxConsentState: %v", err)
	}
	if state != bridge.ConsentDenied {
		t.Errorf("laptop state = %s, want %s", state, bridge.ConsentDenied)
	}
}
