// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/bureau-foundation/parley/bridge"
	"github.com/bureau-foundation/parley/lib/contentcodec"
)

func groupTopic(conversationID string) string {
	return fmt.Sprintf("/parley/1/g-%s/proto", conversationID)
}

func dmTopic(conversationID string) string {
	return fmt.Sprintf("/parley/1/dm-%s/proto", conversationID)
}

// dmKey identifies the DM between two inboxes regardless of who asks.
func dmKey(a, b string) string {
	pair := []string{a, b}
	slices.Sort(pair)
	return strings.Join(pair, "\x00")
}

// requireInboxes fails with ErrorInvalidArgument naming the first inbox
// that has no installation on the network.
func (e *Engine) requireInboxes(ctx context.Context, op string, inboxIDs []string) error {
	known, err := e.network.installationsOf(ctx, inboxIDs)
	if err != nil {
		return internalError(op, err)
	}
	for _, inbox := range inboxIDs {
		if len(known[inbox]) == 0 {
			return bridge.Errorf(op, bridge.ErrorInvalidArgument, "inbox %s has no installations", inbox)
		}
	}
	return nil
}

// CreateGroup implements bridge.Conversations. The creator's consent
// for the new group is allowed.
func (e *Engine) CreateGroup(ctx context.Context, installationID string, request bridge.CreateGroupRequest) (bridge.ConversationInfo, error) {
	const op = "create_group"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return bridge.ConversationInfo{}, err
	}
	var memberInboxIDs []string
	for _, inbox := range request.MemberInboxIDs {
		if inbox != loaded.inboxID && !slices.Contains(memberInboxIDs, inbox) {
			memberInboxIDs = append(memberInboxIDs, inbox)
		}
	}
	if err := e.requireInboxes(ctx, op, memberInboxIDs); err != nil {
		return bridge.ConversationInfo{}, err
	}

	id := uuid.NewString()
	info := bridge.ConversationInfo{
		ID:             id,
		Topic:          groupTopic(id),
		Kind:           bridge.ConversationGroup,
		CreatedAtNs:    e.now(),
		CreatorInboxID: loaded.inboxID,
		Name:           request.Name,
		Description:    request.Description,
		ConsentState:   bridge.ConsentAllowed,
	}
	members := []networkMember{{inboxID: loaded.inboxID, permission: bridge.PermissionSuperAdmin}}
	for _, inbox := range memberInboxIDs {
		members = append(members, networkMember{inboxID: inbox, permission: bridge.PermissionMember})
	}
	if err := e.createLocally(ctx, op, loaded, info, "", members); err != nil {
		return bridge.ConversationInfo{}, err
	}
	e.logger.Debug("group created",
		"installation_id", installationID, "conversation_id", id, "members", len(members))
	return info, nil
}

// createLocally records a conversation this installation created,
// marks it allowed, and then announces it on the network. The local row
// exists before the announcement so the creator's own streams do not
// report it as discovered.
func (e *Engine) createLocally(ctx context.Context, op string, loaded *installation, info bridge.ConversationInfo, key string, members []networkMember) error {
	if _, err := loaded.store.insertConversation(ctx, info); err != nil {
		return internalError(op, err)
	}
	record := bridge.ConsentRecord{EntityType: bridge.ConsentEntityConversation, Entity: info.ID, State: bridge.ConsentAllowed}
	if _, err := loaded.store.setConsent(ctx, []bridge.ConsentRecord{record}, e.now()); err != nil {
		return internalError(op, err)
	}
	conversation := networkConversation{
		id:             info.ID,
		topic:          info.Topic,
		kind:           info.Kind,
		creatorInboxID: info.CreatorInboxID,
		createdAtNs:    info.CreatedAtNs,
		name:           info.Name,
		description:    info.Description,
	}
	if err := e.network.createConversation(ctx, conversation, key, members); err != nil {
		if deleteErr := loaded.store.deleteConversation(ctx, info.ID); deleteErr != nil {
			e.logger.Warn("removing unannounced conversation failed",
				"installation_id", loaded.id, "conversation_id", info.ID, "error", deleteErr)
		}
		return internalError(op, err)
	}
	return nil
}

// FindOrCreateDm implements bridge.Conversations.
func (e *Engine) FindOrCreateDm(ctx context.Context, installationID, peerInboxID string) (bridge.ConversationInfo, error) {
	const op = "find_or_create_dm"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return bridge.ConversationInfo{}, err
	}
	if peerInboxID == "" || peerInboxID == loaded.inboxID {
		return bridge.ConversationInfo{}, bridge.Errorf(op, bridge.ErrorInvalidArgument, "a DM needs a peer other than yourself")
	}
	if err := e.requireInboxes(ctx, op, []string{peerInboxID}); err != nil {
		return bridge.ConversationInfo{}, err
	}

	key := dmKey(loaded.inboxID, peerInboxID)
	existing, found, err := e.network.findDm(ctx, key)
	if err != nil {
		return bridge.ConversationInfo{}, internalError(op, err)
	}
	if found {
		return e.adoptConversation(ctx, op, loaded, existing)
	}

	id := uuid.NewString()
	info := bridge.ConversationInfo{
		ID:             id,
		Topic:          dmTopic(id),
		Kind:           bridge.ConversationDm,
		CreatedAtNs:    e.now(),
		CreatorInboxID: loaded.inboxID,
		PeerInboxID:    peerInboxID,
		ConsentState:   bridge.ConsentAllowed,
	}
	members := []networkMember{
		{inboxID: loaded.inboxID, permission: bridge.PermissionSuperAdmin},
		{inboxID: peerInboxID, permission: bridge.PermissionMember},
	}
	if err := e.createLocally(ctx, op, loaded, info, key, members); err != nil {
		// Another installation may have created the pair's DM first.
		if existing, found, findErr := e.network.findDm(ctx, key); findErr == nil && found {
			return e.adoptConversation(ctx, op, loaded, existing)
		}
		return bridge.ConversationInfo{}, err
	}
	return info, nil
}

// adoptConversation makes a network conversation local if it is not
// already and returns the local view.
func (e *Engine) adoptConversation(ctx context.Context, op string, loaded *installation, conversation networkConversation) (bridge.ConversationInfo, error) {
	info, err := e.localInfo(ctx, loaded, conversation)
	if err != nil {
		return bridge.ConversationInfo{}, internalError(op, err)
	}
	inserted, err := loaded.store.insertConversation(ctx, info)
	if err != nil {
		return bridge.ConversationInfo{}, internalError(op, err)
	}
	if inserted {
		e.emitConversation(loaded, info)
	}
	stored, _, err := loaded.store.conversation(ctx, conversation.id)
	if err != nil {
		return bridge.ConversationInfo{}, internalError(op, err)
	}
	return stored.info, nil
}

// localInfo converts a network conversation into this installation's
// view of it.
func (e *Engine) localInfo(ctx context.Context, loaded *installation, conversation networkConversation) (bridge.ConversationInfo, error) {
	info := bridge.ConversationInfo{
		ID:             conversation.id,
		Topic:          conversation.topic,
		Kind:           conversation.kind,
		CreatedAtNs:    conversation.createdAtNs,
		CreatorInboxID: conversation.creatorInboxID,
		Name:           conversation.name,
		Description:    conversation.description,
		ConsentState:   bridge.ConsentUnknown,
	}
	if conversation.kind == bridge.ConversationDm {
		members, err := e.network.members(ctx, conversation.id)
		if err != nil {
			return info, err
		}
		for _, member := range members {
			if member.inboxID != loaded.inboxID {
				info.PeerInboxID = member.inboxID
			}
		}
	}
	return info, nil
}

// ListConversations implements bridge.Conversations.
func (e *Engine) ListConversations(ctx context.Context, installationID string, options bridge.ListConversationsOptions) ([]bridge.ConversationInfo, error) {
	const op = "list_conversations"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return nil, err
	}
	conversations, err := loaded.store.listConversations(ctx, options)
	if err != nil {
		return nil, internalError(op, err)
	}
	return conversations, nil
}

// FindConversation implements bridge.Conversations.
func (e *Engine) FindConversation(ctx context.Context, installationID, conversationID string) (bridge.ConversationInfo, error) {
	const op = "find_conversation"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return bridge.ConversationInfo{}, err
	}
	stored, err := e.localConversation(ctx, op, loaded, conversationID)
	if err != nil {
		return bridge.ConversationInfo{}, err
	}
	return stored.info, nil
}

func (e *Engine) localConversation(ctx context.Context, op string, loaded *installation, conversationID string) (storedConversation, error) {
	stored, found, err := loaded.store.conversation(ctx, conversationID)
	if err != nil {
		return storedConversation{}, internalError(op, err)
	}
	if !found {
		return storedConversation{}, bridge.Errorf(op, bridge.ErrorConversationNotFound, "conversation %s", conversationID)
	}
	return stored, nil
}

// SyncConversations implements bridge.Conversations. It also pulls
// preference records written by the inbox's other installations.
func (e *Engine) SyncConversations(ctx context.Context, installationID string) error {
	const op = "sync_conversations"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return err
	}
	if err := e.syncConversationList(ctx, loaded); err != nil {
		return internalError(op, err)
	}
	if err := e.syncPreferences(ctx, loaded); err != nil {
		return internalError(op, err)
	}
	return nil
}

// syncConversationList adopts every network conversation the inbox
// belongs to and refreshes group metadata of known ones.
func (e *Engine) syncConversationList(ctx context.Context, loaded *installation) error {
	conversations, err := e.network.conversationsFor(ctx, loaded.inboxID)
	if err != nil {
		return err
	}
	for _, conversation := range conversations {
		stored, found, err := loaded.store.conversation(ctx, conversation.id)
		if err != nil {
			return err
		}
		if !found {
			info, err := e.localInfo(ctx, loaded, conversation)
			if err != nil {
				return err
			}
			inserted, err := loaded.store.insertConversation(ctx, info)
			if err != nil {
				return err
			}
			if inserted {
				e.emitConversation(loaded, info)
			}
			continue
		}
		if stored.info.Name != conversation.name || stored.info.Description != conversation.description {
			if err := loaded.store.updateMetadata(ctx, conversation.id, conversation.name, conversation.description); err != nil {
				return err
			}
		}
	}
	return nil
}

// SyncAllConversations implements bridge.Conversations. Conversations
// the inbox has left are skipped.
func (e *Engine) SyncAllConversations(ctx context.Context, installationID string, consentStates []bridge.ConsentState) (int, error) {
	const op = "sync_all_conversations"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return 0, err
	}
	if err := e.syncConversationList(ctx, loaded); err != nil {
		return 0, internalError(op, err)
	}
	if err := e.syncPreferences(ctx, loaded); err != nil {
		return 0, internalError(op, err)
	}
	conversations, err := loaded.store.listConversations(ctx, bridge.ListConversationsOptions{ConsentStates: consentStates})
	if err != nil {
		return 0, internalError(op, err)
	}
	synced := 0
	for _, info := range conversations {
		err := e.syncMessages(ctx, op, loaded, info.ID)
		if bridge.IsError(err, bridge.ErrorNotAMember) {
			continue
		}
		if err != nil {
			return synced, err
		}
		synced++
	}
	return synced, nil
}

// SyncConversation implements bridge.Conversations.
func (e *Engine) SyncConversation(ctx context.Context, installationID, conversationID string) error {
	const op = "sync_conversation"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return err
	}
	if _, err := e.localConversation(ctx, op, loaded, conversationID); err != nil {
		return err
	}
	return e.syncMessages(ctx, op, loaded, conversationID)
}

// syncMessages pulls the conversation's new network messages into the
// installation and emits the ones it had not seen.
func (e *Engine) syncMessages(ctx context.Context, op string, loaded *installation, conversationID string) error {
	member, isMember, err := e.network.member(ctx, conversationID, loaded.inboxID)
	if err != nil {
		return internalError(op, err)
	}
	if !isMember {
		return bridge.Errorf(op, bridge.ErrorNotAMember, "inbox %s is not a member of %s", loaded.inboxID, conversationID)
	}
	if conversation, found, err := e.network.conversation(ctx, conversationID); err != nil {
		return internalError(op, err)
	} else if found {
		if err := loaded.store.updateMetadata(ctx, conversationID, conversation.name, conversation.description); err != nil {
			return internalError(op, err)
		}
	}

	loaded.syncMu.Lock()
	inserted, err := e.ingest(ctx, loaded, conversationID, member.joinedSeq)
	loaded.syncMu.Unlock()
	if err != nil {
		return internalError(op, err)
	}
	e.emitMessages(loaded, inserted)
	return nil
}

func (e *Engine) ingest(ctx context.Context, loaded *installation, conversationID string, joinedSeq int64) ([]bridge.EncodedMessage, error) {
	stored, found, err := loaded.store.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("conversation %s is not local", conversationID)
	}
	messages, err := e.network.messagesSince(ctx, conversationID, max(stored.syncedSeq, joinedSeq))
	if err != nil || len(messages) == 0 {
		return nil, err
	}

	batch := make([]storedMessage, 0, len(messages))
	for _, message := range messages {
		facts, err := inspectEnvelope(message.envelope)
		if err != nil {
			e.logger.Warn("skipping malformed envelope",
				"installation_id", loaded.id, "conversation_id", conversationID, "message_id", message.id, "error", err)
			continue
		}
		sealedEnvelope, err := loaded.store.seal(message.envelope)
		if err != nil {
			return nil, err
		}
		batch = append(batch, storedMessage{
			EncodedMessage: bridge.EncodedMessage{
				ID:                   message.id,
				ConversationID:       conversationID,
				SenderInboxID:        message.senderInboxID,
				SenderInstallationID: message.senderInstallationID,
				SentAtNs:             message.sentAtNs,
				InsertedAtNs:         e.now(),
				DeliveryStatus:       bridge.DeliveryPublished,
				ContentType:          facts.contentType,
				ReferenceID:          facts.referenceID,
				Envelope:             message.envelope,
			},
			sealedEnvelope: sealedEnvelope,
		})
	}
	inserted, err := loaded.store.ingest(ctx, conversationID, batch, messages[len(messages)-1].seq)
	if err != nil {
		return nil, err
	}
	result := make([]bridge.EncodedMessage, len(inserted))
	for i, message := range inserted {
		result[i] = message.EncodedMessage
		result[i].NativeContent = nativeContent(message.Envelope)
	}
	return result, nil
}

// Members implements bridge.Conversations.
func (e *Engine) Members(ctx context.Context, installationID, conversationID string) ([]bridge.Member, error) {
	const op = "members"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return nil, err
	}
	if _, err := e.localConversation(ctx, op, loaded, conversationID); err != nil {
		return nil, err
	}
	members, err := e.network.members(ctx, conversationID)
	if err != nil {
		return nil, internalError(op, err)
	}
	inboxes := memberInboxes(members)
	if !slices.Contains(inboxes, loaded.inboxID) {
		return nil, bridge.Errorf(op, bridge.ErrorNotAMember, "inbox %s is not a member of %s", loaded.inboxID, conversationID)
	}
	installations, err := e.network.installationsOf(ctx, inboxes)
	if err != nil {
		return nil, internalError(op, err)
	}
	result := make([]bridge.Member, 0, len(members))
	for _, member := range members {
		consent, err := loaded.store.consent(ctx, bridge.ConsentEntityInbox, member.inboxID)
		if err != nil {
			return nil, internalError(op, err)
		}
		result = append(result, bridge.Member{
			InboxID:         member.inboxID,
			InstallationIDs: installations[member.inboxID],
			PermissionLevel: member.permission,
			ConsentState:    consent,
		})
	}
	return result, nil
}

// requireGroupMember checks that the conversation is a local group and
// that the installation's inbox is still in it.
func (e *Engine) requireGroupMember(ctx context.Context, op string, loaded *installation, conversationID string) (networkMember, error) {
	stored, err := e.localConversation(ctx, op, loaded, conversationID)
	if err != nil {
		return networkMember{}, err
	}
	if stored.info.Kind != bridge.ConversationGroup {
		return networkMember{}, bridge.Errorf(op, bridge.ErrorInvalidArgument, "conversation %s is not a group", conversationID)
	}
	member, isMember, err := e.network.member(ctx, conversationID, loaded.inboxID)
	if err != nil {
		return networkMember{}, internalError(op, err)
	}
	if !isMember {
		return networkMember{}, bridge.Errorf(op, bridge.ErrorNotAMember, "inbox %s is not a member of %s", loaded.inboxID, conversationID)
	}
	return member, nil
}

// AddMembers implements bridge.Conversations. Inboxes already in the
// group are ignored; when any were added, a group_updated message
// records the change.
func (e *Engine) AddMembers(ctx context.Context, installationID, conversationID string, inboxIDs []string) error {
	const op = "add_members"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return err
	}
	if _, err := e.requireGroupMember(ctx, op, loaded, conversationID); err != nil {
		return err
	}
	if err := e.requireInboxes(ctx, op, inboxIDs); err != nil {
		return err
	}
	added, err := e.network.addMembers(ctx, conversationID, inboxIDs)
	if err != nil {
		return internalError(op, err)
	}
	if len(added) == 0 {
		return nil
	}
	return e.publishGroupUpdate(ctx, op, loaded, conversationID, contentcodec.GroupUpdated{
		InitiatedByInboxID: loaded.inboxID,
		AddedInboxes:       added,
	})
}

// RemoveMembers implements bridge.Conversations. An inbox cannot remove
// itself.
func (e *Engine) RemoveMembers(ctx context.Context, installationID, conversationID string, inboxIDs []string) error {
	const op = "remove_members"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return err
	}
	if slices.Contains(inboxIDs, loaded.inboxID) {
		return bridge.Errorf(op, bridge.ErrorInvalidArgument, "an inbox cannot remove itself")
	}
	member, err := e.requireGroupMember(ctx, op, loaded, conversationID)
	if err != nil {
		return err
	}
	if member.permission == bridge.PermissionMember {
		return bridge.Errorf(op, bridge.ErrorInvalidArgument, "removing members requires admin permission")
	}
	removed, err := e.network.removeMembers(ctx, conversationID, inboxIDs)
	if err != nil {
		return internalError(op, err)
	}
	if len(removed) == 0 {
		return nil
	}
	return e.publishGroupUpdate(ctx, op, loaded, conversationID, contentcodec.GroupUpdated{
		InitiatedByInboxID: loaded.inboxID,
		RemovedInboxes:     removed,
	})
}

// UpdateGroupMetadata implements bridge.Conversations.
func (e *Engine) UpdateGroupMetadata(ctx context.Context, installationID, conversationID string, field bridge.MetadataField, value string) error {
	const op = "update_group_metadata"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return err
	}
	if metadataColumn(field) == "" {
		return bridge.Errorf(op, bridge.ErrorInvalidArgument, "unknown metadata field %q", field)
	}
	if _, err := e.requireGroupMember(ctx, op, loaded, conversationID); err != nil {
		return err
	}
	previous, err := e.network.updateMetadata(ctx, conversationID, field, value)
	if err != nil {
		return internalError(op, err)
	}
	if previous == value {
		return nil
	}
	stored, err := e.localConversation(ctx, op, loaded, conversationID)
	if err != nil {
		return err
	}
	name, description := stored.info.Name, stored.info.Description
	if field == bridge.MetadataName {
		name = value
	} else {
		description = value
	}
	if err := loaded.store.updateMetadata(ctx, conversationID, name, description); err != nil {
		return internalError(op, err)
	}
	return e.publishGroupUpdate(ctx, op, loaded, conversationID, contentcodec.GroupUpdated{
		InitiatedByInboxID: loaded.inboxID,
		MetadataFieldChanges: []contentcodec.MetadataFieldChange{{
			FieldName: string(field),
			OldValue:  previous,
			NewValue:  value,
		}},
	})
}

func (e *Engine) publishGroupUpdate(ctx context.Context, op string, loaded *installation, conversationID string, update contentcodec.GroupUpdated) error {
	encoded, err := contentcodec.EncodeContent(contentcodec.GroupUpdatedCodec{}, update)
	if err != nil {
		return internalError(op, err)
	}
	envelope, err := contentcodec.Marshal(encoded)
	if err != nil {
		return internalError(op, err)
	}
	message, err := e.stage(ctx, op, loaded, conversationID, envelope)
	if err != nil {
		return err
	}
	return e.publishStaged(ctx, op, loaded, message)
}
