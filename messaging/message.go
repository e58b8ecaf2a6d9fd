// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/parley/bridge"
	"github.com/bureau-foundation/parley/lib/contentcodec"
	"github.com/bureau-foundation/parley/lib/contenttype"
)

// DecodedMessage is one message with its envelope kept encoded until
// Content is called. Its fields never change after construction.
type DecodedMessage struct {
	ID                   string
	ConversationID       string
	SenderInboxID        string
	SenderInstallationID string

	// SentAt has millisecond precision. SentAtNs and InsertedAtNs are
	// the exact cursors for pagination.
	SentAt       time.Time
	SentAtNs     int64
	InsertedAtNs int64

	DeliveryStatus bridge.DeliveryStatus

	// ContentType is the envelope's identity as the engine reported
	// it. Zero when the engine reported a malformed key.
	ContentType contenttype.ID

	// ReferenceID is the message a reaction or reply points at.
	ReferenceID string

	registry    *contentcodec.Registry
	raw         []byte
	native      json.RawMessage
	trustNative bool

	parseOnce sync.Once
	envelope  *contentcodec.EncodedContent
	parseErr  error
}

func (c *Client) decoded(message bridge.EncodedMessage) *DecodedMessage {
	contentType, err := contenttype.Parse(message.ContentType)
	if err != nil {
		c.logger.Debug("message has malformed content type",
			"message_id", message.ID, "content_type", message.ContentType)
	}
	return &DecodedMessage{
		ID:                   message.ID,
		ConversationID:       message.ConversationID,
		SenderInboxID:        message.SenderInboxID,
		SenderInstallationID: message.SenderInstallationID,
		SentAt:               time.UnixMilli(message.SentAtNs / int64(time.Millisecond)),
		SentAtNs:             message.SentAtNs,
		InsertedAtNs:         message.InsertedAtNs,
		DeliveryStatus:       message.DeliveryStatus,
		ContentType:          contentType,
		ReferenceID:          message.ReferenceID,
		registry:             c.registry,
		raw:                  message.Envelope,
		native:               message.NativeContent,
		trustNative:          c.trustNativeContent,
	}
}

// parse unmarshals the envelope on first use.
func (m *DecodedMessage) parse() (*contentcodec.EncodedContent, error) {
	m.parseOnce.Do(func() {
		m.envelope, m.parseErr = contentcodec.Unmarshal(m.raw)
	})
	return m.envelope, m.parseErr
}

// Content decodes the message. The codec is looked up in the client's
// registry on every call, so registering or unregistering a codec
// changes what later calls return. Without a codec the envelope's
// fallback text is returned, including an explicit empty fallback;
// with neither, the error wraps contentcodec.ErrContentNotDecodable.
//
// A client built with TrustNativeContent returns the engine's JSON
// rendering, unmarshaled into generic Go values, whenever the engine
// supplied one. Codecs are not consulted on that path.
func (m *DecodedMessage) Content() (any, error) {
	if m.trustNative && len(m.native) > 0 {
		var value any
		if err := json.Unmarshal(m.native, &value); err != nil {
			return nil, fmt.Errorf("messaging: message %s: native content: %w", m.ID, err)
		}
		return value, nil
	}
	envelope, err := m.parse()
	if err != nil {
		return nil, fmt.Errorf("messaging: message %s: %w", m.ID, err)
	}
	value, err := m.registry.Decode(envelope)
	if err != nil {
		return nil, fmt.Errorf("messaging: message %s: %w", m.ID, err)
	}
	return value, nil
}

// ContentAs decodes m and converts the result to T.
//
//	reaction, err := messaging.ContentAs[contentcodec.Reaction](message)
func ContentAs[T any](m *DecodedMessage) (T, error) {
	return contentcodec.Typed[T](m.Content())
}

// Fallback returns the envelope's fallback text. The second result is
// false when the sender set none, which is distinct from an explicit
// empty fallback.
func (m *DecodedMessage) Fallback() (string, bool) {
	envelope, err := m.parse()
	if err != nil || envelope.Fallback == nil {
		return "", false
	}
	return *envelope.Fallback, true
}

// Envelope returns a copy of the parsed envelope.
func (m *DecodedMessage) Envelope() (*contentcodec.EncodedContent, error) {
	envelope, err := m.parse()
	if err != nil {
		return nil, fmt.Errorf("messaging: message %s: %w", m.ID, err)
	}
	return envelope.Clone(), nil
}

// Raw returns a copy of the envelope's wire bytes.
func (m *DecodedMessage) Raw() []byte { return bytes.Clone(m.raw) }

// NativeContent returns the engine's JSON rendering, or nil.
func (m *DecodedMessage) NativeContent() json.RawMessage { return bytes.Clone(m.native) }

// IsReaction reports whether the message is a reaction of any version.
func (m *DecodedMessage) IsReaction() bool { return contenttype.IsReaction(m.ContentType) }

// MessageWithReactions is a message with the reactions that reference
// it, oldest first. Reactions is empty, not nil, when there are none.
type MessageWithReactions struct {
	*DecodedMessage
	Reactions []*DecodedMessage
}
