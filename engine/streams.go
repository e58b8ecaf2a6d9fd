// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"cmp"
	"context"
	"slices"

	"github.com/bureau-foundation/parley/bridge"
)

// scope identifies one native stream.
type scope struct {
	installationID string
	kind           bridge.StreamKind
	conversationID string
}

func validKind(kind bridge.StreamKind) bool {
	switch kind {
	case bridge.StreamConversations, bridge.StreamAllMessages, bridge.StreamGroupMessages,
		bridge.StreamConsent, bridge.StreamPreferences:
		return true
	}
	return false
}

// Subscribe implements bridge.Streams.
func (e *Engine) Subscribe(ctx context.Context, installationID string, kind bridge.StreamKind, conversationID string) error {
	const op = "subscribe"
	if !validKind(kind) {
		return bridge.Errorf(op, bridge.ErrorInvalidArgument, "unknown stream kind %q", kind)
	}
	if kind.Scoped() && conversationID == "" {
		return bridge.Errorf(op, bridge.ErrorInvalidArgument, "%s stream requires a conversation", kind)
	}
	if !kind.Scoped() {
		conversationID = ""
	}
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return err
	}
	if kind.Scoped() {
		if _, found, err := loaded.store.conversation(ctx, conversationID); err != nil {
			return internalError(op, err)
		} else if !found {
			return bridge.Errorf(op, bridge.ErrorConversationNotFound, "conversation %s", conversationID)
		}
	}

	e.mu.Lock()
	e.subscriptions[scope{installationID, kind, conversationID}] = struct{}{}
	e.mu.Unlock()
	e.logger.Debug("native stream started",
		"installation_id", installationID, "stream_kind", string(kind), "conversation_id", conversationID)
	return nil
}

// Unsubscribe implements bridge.Streams.
func (e *Engine) Unsubscribe(ctx context.Context, installationID string, kind bridge.StreamKind, conversationID string) error {
	if !kind.Scoped() {
		conversationID = ""
	}
	e.mu.Lock()
	_, active := e.subscriptions[scope{installationID, kind, conversationID}]
	delete(e.subscriptions, scope{installationID, kind, conversationID})
	e.mu.Unlock()
	if active {
		e.logger.Debug("native stream ended",
			"installation_id", installationID, "stream_kind", string(kind), "conversation_id", conversationID)
	}
	return nil
}

func (e *Engine) subscribed(installationID string, kind bridge.StreamKind, conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.subscriptions[scope{installationID, kind, conversationID}]
	return ok
}

// emitMessages emits each message to the installation's all-messages
// stream and to the conversation's stream, whichever are active.
func (e *Engine) emitMessages(loaded *installation, messages []bridge.EncodedMessage) {
	for i := range messages {
		message := messages[i]
		if e.subscribed(loaded.id, bridge.StreamAllMessages, "") {
			e.events.Emit(bridge.Event{
				Kind:           bridge.StreamAllMessages,
				InstallationID: loaded.id,
				ConversationID: message.ConversationID,
				Message:        &message,
			})
		}
		if e.subscribed(loaded.id, bridge.StreamGroupMessages, message.ConversationID) {
			e.events.Emit(bridge.Event{
				Kind:           bridge.StreamGroupMessages,
				InstallationID: loaded.id,
				ConversationID: message.ConversationID,
				Message:        &message,
			})
		}
	}
}

func (e *Engine) emitConversation(loaded *installation, info bridge.ConversationInfo) {
	if !e.subscribed(loaded.id, bridge.StreamConversations, "") {
		return
	}
	e.events.Emit(bridge.Event{
		Kind:           bridge.StreamConversations,
		InstallationID: loaded.id,
		ConversationID: info.ID,
		Conversation:   &info,
	})
}

func (e *Engine) emitConsent(loaded *installation, records []bridge.ConsentRecord) {
	if len(records) == 0 {
		return
	}
	if e.subscribed(loaded.id, bridge.StreamConsent, "") {
		e.events.Emit(bridge.Event{
			Kind:           bridge.StreamConsent,
			InstallationID: loaded.id,
			Consent:        slices.Clone(records),
		})
	}
	if e.subscribed(loaded.id, bridge.StreamPreferences, "") {
		e.events.Emit(bridge.Event{
			Kind:           bridge.StreamPreferences,
			InstallationID: loaded.id,
			Preference:     &bridge.PreferenceUpdate{Consent: slices.Clone(records)},
		})
	}
}

// onNotice pulls network changes into installations whose streams
// want them. It runs on the publisher's goroutine.
func (e *Engine) onNotice(event notice) {
	ctx := context.Background()
	for _, loaded := range e.loadedFor(event.inboxIDs) {
		var err error
		switch event.kind {
		case noticeMessage:
			if e.subscribed(loaded.id, bridge.StreamAllMessages, "") {
				if _, found, lookupErr := loaded.store.conversation(ctx, event.conversationID); lookupErr == nil && !found {
					err = e.syncConversationList(ctx, loaded)
				}
			} else if !e.subscribed(loaded.id, bridge.StreamGroupMessages, event.conversationID) {
				continue
			}
			if err == nil {
				err = e.syncMessages(ctx, "stream", loaded, event.conversationID)
			}
		case noticeConversation:
			if !e.subscribed(loaded.id, bridge.StreamConversations, "") && !e.subscribed(loaded.id, bridge.StreamAllMessages, "") {
				continue
			}
			err = e.syncConversationList(ctx, loaded)
		case noticePreference:
			if loaded.id == event.origin {
				continue
			}
			if !e.subscribed(loaded.id, bridge.StreamConsent, "") && !e.subscribed(loaded.id, bridge.StreamPreferences, "") {
				continue
			}
			err = e.syncPreferences(ctx, loaded)
		}
		if err != nil {
			e.logger.Warn("stream ingestion failed",
				"installation_id", loaded.id,
				"conversation_id", event.conversationID,
				"error", err,
			)
		}
	}
}

func sortScopes(scopes []scope) []scope {
	slices.SortFunc(scopes, func(a, b scope) int {
		return cmp.Or(
			cmp.Compare(a.kind, b.kind),
			cmp.Compare(a.conversationID, b.conversationID),
		)
	})
	return scopes
}
