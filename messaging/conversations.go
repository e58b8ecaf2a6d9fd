// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/parley/bridge"
	"github.com/bureau-foundation/parley/streaming"
)

// Conversations creates, lists, and streams a client's conversations.
type Conversations struct {
	client *Client
}

// GroupOptions holds optional metadata for NewGroup.
type GroupOptions struct {
	Name        string
	Description string
}

// ListOptions filters List. Zero values mean no filter.
type ListOptions struct {
	Kind            bridge.ConversationKind
	ConsentStates   []bridge.ConsentState
	CreatedAfterNs  int64
	CreatedBeforeNs int64
	Limit           int
}

// NewGroup creates a group with the client's inbox and memberInboxIDs.
// The creator's consent for the group is allowed.
func (cs *Conversations) NewGroup(ctx context.Context, memberInboxIDs []string, options GroupOptions) (*Group, error) {
	if err := cs.client.check(); err != nil {
		return nil, err
	}
	info, err := cs.client.bridge.CreateGroup(ctx, cs.client.installation.ID, bridge.CreateGroupRequest{
		MemberInboxIDs: memberInboxIDs,
		Name:           options.Name,
		Description:    options.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: creating group: %w", err)
	}
	cs.client.logger.Info("group created", "conversation_id", info.ID, "members", len(memberInboxIDs))
	return cs.client.wrap(info).(*Group), nil
}

// FindOrCreateDm returns the DM with peerInboxID, creating it if
// needed.
func (cs *Conversations) FindOrCreateDm(ctx context.Context, peerInboxID string) (*Dm, error) {
	if err := cs.client.check(); err != nil {
		return nil, err
	}
	info, err := cs.client.bridge.FindOrCreateDm(ctx, cs.client.installation.ID, peerInboxID)
	if err != nil {
		return nil, fmt.Errorf("messaging: dm with %s: %w", peerInboxID, err)
	}
	return cs.client.wrap(info).(*Dm), nil
}

// List returns local conversations, newest first.
func (cs *Conversations) List(ctx context.Context, options ListOptions) ([]Conversation, error) {
	if err := cs.client.check(); err != nil {
		return nil, err
	}
	infos, err := cs.client.bridge.ListConversations(ctx, cs.client.installation.ID, bridge.ListConversationsOptions{
		Kind:            options.Kind,
		ConsentStates:   options.ConsentStates,
		CreatedAfterNs:  options.CreatedAfterNs,
		CreatedBeforeNs: options.CreatedBeforeNs,
		Limit:           options.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: listing conversations: %w", err)
	}
	conversations := make([]Conversation, len(infos))
	for i, info := range infos {
		conversations[i] = cs.client.wrap(info)
	}
	return conversations, nil
}

// ListGroups is List restricted to groups.
func (cs *Conversations) ListGroups(ctx context.Context, options ListOptions) ([]*Group, error) {
	options.Kind = bridge.ConversationGroup
	conversations, err := cs.List(ctx, options)
	if err != nil {
		return nil, err
	}
	groups := make([]*Group, len(conversations))
	for i, conversation := range conversations {
		groups[i] = conversation.(*Group)
	}
	return groups, nil
}

// ListDms is List restricted to DMs.
func (cs *Conversations) ListDms(ctx context.Context, options ListOptions) ([]*Dm, error) {
	options.Kind = bridge.ConversationDm
	conversations, err := cs.List(ctx, options)
	if err != nil {
		return nil, err
	}
	dms := make([]*Dm, len(conversations))
	for i, conversation := range conversations {
		dms[i] = conversation.(*Dm)
	}
	return dms, nil
}

// Find returns the local conversation with id. An unknown id fails
// with bridge.ErrorConversationNotFound.
func (cs *Conversations) Find(ctx context.Context, conversationID string) (Conversation, error) {
	if err := cs.client.check(); err != nil {
		return nil, err
	}
	info, err := cs.client.bridge.FindConversation(ctx, cs.client.installation.ID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("messaging: finding conversation %s: %w", conversationID, err)
	}
	return cs.client.wrap(info), nil
}

// Sync discovers conversations the client was added to. It does not
// pull their messages.
func (cs *Conversations) Sync(ctx context.Context) error {
	if err := cs.client.check(); err != nil {
		return err
	}
	if err := cs.client.bridge.SyncConversations(ctx, cs.client.installation.ID); err != nil {
		return fmt.Errorf("messaging: syncing conversations: %w", err)
	}
	return nil
}

// SyncAll discovers conversations and pulls messages for those whose
// consent state is one of consentStates, or for all of them when none
// are given. It returns the number of conversations synced.
func (cs *Conversations) SyncAll(ctx context.Context, consentStates ...bridge.ConsentState) (int, error) {
	if err := cs.client.check(); err != nil {
		return 0, err
	}
	synced, err := cs.client.bridge.SyncAllConversations(ctx, cs.client.installation.ID, consentStates)
	if err != nil {
		return 0, fmt.Errorf("messaging: syncing all conversations: %w", err)
	}
	cs.client.logger.Debug("synced conversations", "count", synced)
	return synced, nil
}

// Stream calls callback for each conversation the client joins from
// now on. kind restricts the stream to groups or DMs; empty means
// both.
func (cs *Conversations) Stream(ctx context.Context, kind bridge.ConversationKind, callback func(Conversation), onClose func(error)) (*streaming.Subscription, error) {
	scope := streaming.Scope{Kind: bridge.StreamConversations}
	return cs.client.stream(ctx, scope, func(event bridge.Event) {
		if event.Conversation == nil {
			return
		}
		if kind != "" && event.Conversation.Kind != kind {
			return
		}
		callback(cs.client.wrap(*event.Conversation))
	}, onClose)
}

// StreamAllMessages calls callback for every message in every
// conversation of the client from now on.
func (cs *Conversations) StreamAllMessages(ctx context.Context, callback func(*DecodedMessage), onClose func(error)) (*streaming.Subscription, error) {
	scope := streaming.Scope{Kind: bridge.StreamAllMessages}
	return cs.client.stream(ctx, scope, func(event bridge.Event) {
		if event.Message != nil {
			callback(cs.client.decoded(*event.Message))
		}
	}, onClose)
}

// CancelStream cancels every conversation stream this client opened.
func (cs *Conversations) CancelStream() {
	cs.client.cancelStreams(func(scope streaming.Scope) bool {
		return scope.Kind == bridge.StreamConversations
	})
}

// CancelStreamAllMessages cancels every all-messages stream this
// client opened.
func (cs *Conversations) CancelStreamAllMessages() {
	cs.client.cancelStreams(func(scope streaming.Scope) bool {
		return scope.Kind == bridge.StreamAllMessages
	})
}
