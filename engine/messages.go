// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/bureau-foundation/parley/bridge"
)

// Send implements bridge.Messages.
func (e *Engine) Send(ctx context.Context, installationID, conversationID string, request bridge.SendRequest) (string, error) {
	const op = "send"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return "", err
	}
	envelope, err := requestEnvelope(op, request)
	if err != nil {
		return "", err
	}
	message, err := e.stage(ctx, op, loaded, conversationID, envelope)
	if err != nil {
		return "", err
	}
	if err := e.publishStaged(ctx, op, loaded, message); err != nil {
		return "", err
	}
	return message.ID, nil
}

// PrepareMessage implements bridge.Messages.
func (e *Engine) PrepareMessage(ctx context.Context, installationID, conversationID string, request bridge.SendRequest) (string, error) {
	const op = "prepare_message"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return "", err
	}
	envelope, err := requestEnvelope(op, request)
	if err != nil {
		return "", err
	}
	message, err := e.stage(ctx, op, loaded, conversationID, envelope)
	if err != nil {
		return "", err
	}
	return message.ID, nil
}

func requestEnvelope(op string, request bridge.SendRequest) ([]byte, error) {
	if len(request.Envelope) > 0 {
		if request.Text != "" {
			return nil, bridge.Errorf(op, bridge.ErrorInvalidArgument, "set either an envelope or text, not both")
		}
		return request.Envelope, nil
	}
	envelope, err := textEnvelope(request.Text)
	if err != nil {
		return nil, internalError(op, err)
	}
	return envelope, nil
}

// stage stores an unpublished message and returns it with its
// plaintext envelope.
func (e *Engine) stage(ctx context.Context, op string, loaded *installation, conversationID string, envelope []byte) (storedMessage, error) {
	if _, err := e.localConversation(ctx, op, loaded, conversationID); err != nil {
		return storedMessage{}, err
	}
	facts, err := inspectEnvelope(envelope)
	if err != nil {
		return storedMessage{}, &bridge.Error{Op: op, Code: bridge.ErrorInvalidArgument, Message: "malformed envelope", Cause: err}
	}
	sealedEnvelope, err := loaded.store.seal(envelope)
	if err != nil {
		return storedMessage{}, internalError(op, err)
	}
	sentAtNs := e.now()
	message := storedMessage{
		EncodedMessage: bridge.EncodedMessage{
			ID:                   messageID(conversationID, loaded.id, sentAtNs, envelope),
			ConversationID:       conversationID,
			SenderInboxID:        loaded.inboxID,
			SenderInstallationID: loaded.id,
			SentAtNs:             sentAtNs,
			InsertedAtNs:         sentAtNs,
			DeliveryStatus:       bridge.DeliveryUnpublished,
			ContentType:          facts.contentType,
			ReferenceID:          facts.referenceID,
			Envelope:             envelope,
		},
		sealedEnvelope: sealedEnvelope,
	}
	if err := loaded.store.insertMessage(ctx, message); err != nil {
		return storedMessage{}, internalError(op, err)
	}
	return message, nil
}

// publishStaged moves one staged message to the network. On failure
// the message is marked failed and can be published again.
func (e *Engine) publishStaged(ctx context.Context, op string, loaded *installation, message storedMessage) error {
	_, isMember, err := e.network.member(ctx, message.ConversationID, loaded.inboxID)
	if err == nil && !isMember {
		err = bridge.Errorf(op, bridge.ErrorNotAMember, "inbox %s is not a member of %s", loaded.inboxID, message.ConversationID)
	}
	if err == nil {
		err = e.network.publish(ctx, networkMessage{
			id:                   message.ID,
			conversationID:       message.ConversationID,
			senderInboxID:        message.SenderInboxID,
			senderInstallationID: message.SenderInstallationID,
			sentAtNs:             message.SentAtNs,
			envelope:             message.Envelope,
		})
	}
	if err != nil {
		if statusErr := loaded.store.setDeliveryStatus(ctx, message.ID, bridge.DeliveryFailed); statusErr != nil {
			e.logger.Warn("marking message failed", "message_id", message.ID, "error", statusErr)
		}
		return internalError(op, err)
	}
	if err := loaded.store.setDeliveryStatus(ctx, message.ID, bridge.DeliveryPublished); err != nil {
		return internalError(op, err)
	}
	e.logger.Debug("message published",
		"installation_id", loaded.id,
		"conversation_id", message.ConversationID,
		"message_id", message.ID,
		"content_type", message.ContentType,
	)

	published := message.EncodedMessage
	published.DeliveryStatus = bridge.DeliveryPublished
	published.NativeContent = nativeContent(published.Envelope)
	e.emitMessages(loaded, []bridge.EncodedMessage{published})
	return nil
}

// PublishPreparedMessages implements bridge.Messages.
func (e *Engine) PublishPreparedMessages(ctx context.Context, installationID, conversationID string) error {
	const op = "publish_prepared_messages"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return err
	}
	if _, err := e.localConversation(ctx, op, loaded, conversationID); err != nil {
		return err
	}
	staged, err := loaded.store.staged(ctx, conversationID)
	if err != nil {
		return internalError(op, err)
	}
	for _, message := range staged {
		if err := e.openStored(op, loaded, &message); err != nil {
			return err
		}
		if err := e.publishStaged(ctx, op, loaded, message); err != nil {
			return err
		}
	}
	return nil
}

// PublishMessage implements bridge.Messages. Messages whose earlier
// publish failed count as staged.
func (e *Engine) PublishMessage(ctx context.Context, installationID, conversationID, messageID string) error {
	const op = "publish_message"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return err
	}
	message, found, err := loaded.store.message(ctx, messageID)
	if err != nil {
		return internalError(op, err)
	}
	if !found || message.ConversationID != conversationID || message.DeliveryStatus == bridge.DeliveryPublished {
		return bridge.Errorf(op, bridge.ErrorMessageNotStaged, "message %s is not staged in %s", messageID, conversationID)
	}
	if err := e.openStored(op, loaded, &message); err != nil {
		return err
	}
	return e.publishStaged(ctx, op, loaded, message)
}

// FetchMessages implements bridge.Messages.
func (e *Engine) FetchMessages(ctx context.Context, installationID, conversationID string, options bridge.FetchOptions) ([]bridge.EncodedMessage, error) {
	const op = "fetch_messages"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return nil, err
	}
	if _, err := e.localConversation(ctx, op, loaded, conversationID); err != nil {
		return nil, err
	}
	stored, err := loaded.store.fetch(ctx, conversationID, options)
	if err != nil {
		return nil, internalError(op, err)
	}
	messages := make([]bridge.EncodedMessage, 0, len(stored))
	for i := range stored {
		if err := e.openStored(op, loaded, &stored[i]); err != nil {
			return nil, err
		}
		message := stored[i].EncodedMessage
		message.NativeContent = nativeContent(message.Envelope)
		messages = append(messages, message)
	}
	return messages, nil
}

// FindMessage implements bridge.Messages.
func (e *Engine) FindMessage(ctx context.Context, installationID, messageID string) (bridge.EncodedMessage, error) {
	const op = "find_message"
	loaded, err := e.lookup(op, installationID)
	if err != nil {
		return bridge.EncodedMessage{}, err
	}
	stored, found, err := loaded.store.message(ctx, messageID)
	if err != nil {
		return bridge.EncodedMessage{}, internalError(op, err)
	}
	if !found {
		return bridge.EncodedMessage{}, bridge.Errorf(op, bridge.ErrorMessageNotFound, "message %s", messageID)
	}
	if err := e.openStored(op, loaded, &stored); err != nil {
		return bridge.EncodedMessage{}, err
	}
	message := stored.EncodedMessage
	message.NativeContent = nativeContent(message.Envelope)
	return message, nil
}

// openStored fills message.Envelope from its sealed form.
func (e *Engine) openStored(op string, loaded *installation, message *storedMessage) error {
	envelope, err := loaded.store.open(message.sealedEnvelope)
	if err != nil {
		return &bridge.Error{Op: op, Code: bridge.ErrorDecryptionFailed, Message: "opening stored envelope " + message.ID, Cause: err}
	}
	message.Envelope = envelope
	return nil
}
