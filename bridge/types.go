// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import "encoding/json"

// Installation is one device identity of an inbox.
type Installation struct {
	ID      string `json:"id"`
	InboxID string `json:"inbox_id"`
}

// CreateInstallationRequest holds parameters for CreateInstallation.
type CreateInstallationRequest struct {
	InboxID string
	// DatabaseKey encrypts the installation's local database. It must
	// be presented again to LoadInstallation.
	DatabaseKey []byte
}

// ConversationKind distinguishes groups from DMs.
type ConversationKind string

const (
	ConversationGroup ConversationKind = "group"
	ConversationDm    ConversationKind = "dm"
)

// ConversationInfo is the engine's description of a conversation.
type ConversationInfo struct {
	ID    string           `json:"id"`
	Topic string           `json:"topic"`
	Kind  ConversationKind `json:"kind"`

	CreatedAtNs    int64  `json:"created_at_ns"`
	CreatorInboxID string `json:"creator_inbox_id"`

	// Name and Description are group metadata; empty for DMs.
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`

	// PeerInboxID is the other participant of a DM.
	PeerInboxID string `json:"peer_inbox_id,omitempty"`

	// ConsentState is the state when this value was read. It is a
	// snapshot, not a cache: read the engine again for the current
	// state.
	ConsentState ConsentState `json:"consent_state"`
}

// CreateGroupRequest holds parameters for CreateGroup.
type CreateGroupRequest struct {
	MemberInboxIDs []string
	Name           string
	Description    string
}

// MetadataField names a mutable group metadata field.
type MetadataField string

const (
	MetadataName        MetadataField = "group_name"
	MetadataDescription MetadataField = "description"
)

// PermissionLevel is a member's role in a group.
type PermissionLevel string

const (
	PermissionMember     PermissionLevel = "member"
	PermissionAdmin      PermissionLevel = "admin"
	PermissionSuperAdmin PermissionLevel = "super_admin"
)

// Member is one inbox in a conversation.
type Member struct {
	InboxID         string          `json:"inbox_id"`
	InstallationIDs []string        `json:"installation_ids"`
	PermissionLevel PermissionLevel `json:"permission_level"`
	ConsentState    ConsentState    `json:"consent_state"`
}

// ListConversationsOptions filters ListConversations. Zero values mean
// no filter.
type ListConversationsOptions struct {
	Kind            ConversationKind
	ConsentStates   []ConsentState
	CreatedAfterNs  int64
	CreatedBeforeNs int64
	Limit           int
}

// DeliveryStatus tracks a message through the two-phase send.
type DeliveryStatus string

const (
	// DeliveryUnpublished: staged locally, not yet on the network.
	DeliveryUnpublished DeliveryStatus = "unpublished"
	DeliveryPublished   DeliveryStatus = "published"
	DeliveryFailed      DeliveryStatus = "failed"
)

// SendRequest carries one outgoing message. Exactly one of Envelope and
// Text is set: Envelope holds codec-encoded wire bytes, Text asks the
// engine to build a plain text envelope itself.
type SendRequest struct {
	Envelope   []byte
	Text       string
	ShouldPush bool
}

// EncodedMessage is a message as the engine stores it.
type EncodedMessage struct {
	ID                   string         `json:"id"`
	ConversationID       string         `json:"conversation_id"`
	SenderInboxID        string         `json:"sender_inbox_id"`
	SenderInstallationID string         `json:"sender_installation_id"`
	SentAtNs             int64          `json:"sent_at_ns"`
	InsertedAtNs         int64          `json:"inserted_at_ns"`
	DeliveryStatus       DeliveryStatus `json:"delivery_status"`

	// ContentType is the envelope's content type key, extracted by the
	// engine so that filters do not need to parse envelopes.
	ContentType string `json:"content_type"`

	// ReferenceID is the message a reaction or reply points at.
	ReferenceID string `json:"reference_id,omitempty"`

	// Envelope is the encoded content's wire bytes.
	Envelope []byte `json:"envelope"`

	// NativeContent is the engine's own JSON rendering of built-in
	// content types, when it has one. It bypasses codecs entirely.
	NativeContent json.RawMessage `json:"native_content,omitempty"`
}

// Direction orders fetched messages by sent time.
type Direction string

const (
	Descending Direction = "descending"
	Ascending  Direction = "ascending"
)

// FetchOptions filters FetchMessages. Zero values mean no filter. Time
// bounds are exclusive: After means strictly greater, Before strictly
// less.
type FetchOptions struct {
	Limit int

	SentAfterNs      int64
	SentBeforeNs     int64
	InsertedAfterNs  int64
	InsertedBeforeNs int64

	// Direction defaults to Descending (newest first).
	Direction Direction

	DeliveryStatus        DeliveryStatus
	ContentTypes          []string
	ExcludeContentTypes   []string
	ExcludeSenderInboxIDs []string
}

// ConsentState is the tri-state consent classification.
type ConsentState string

const (
	ConsentUnknown ConsentState = "unknown"
	ConsentAllowed ConsentState = "allowed"
	ConsentDenied  ConsentState = "denied"
)

// Valid reports whether s is one of the three consent states.
func (s ConsentState) Valid() bool {
	switch s {
	case ConsentUnknown, ConsentAllowed, ConsentDenied:
		return true
	}
	return false
}

// ConsentEntityType says what a consent record is about.
type ConsentEntityType string

const (
	ConsentEntityConversation ConsentEntityType = "conversation_id"
	ConsentEntityInbox        ConsentEntityType = "inbox_id"
)

// ConsentRecord is one consent decision.
type ConsentRecord struct {
	EntityType ConsentEntityType `json:"entity_type"`
	Entity     string            `json:"entity"`
	State      ConsentState      `json:"state"`
}

// PreferenceUpdate is a change to an inbox's synced preferences.
type PreferenceUpdate struct {
	Consent []ConsentRecord `json:"consent,omitempty"`
}

// StreamKind names a native stream.
type StreamKind string

const (
	// StreamConversations: new conversations for the installation.
	StreamConversations StreamKind = "conversation"
	// StreamAllMessages: messages in every conversation.
	StreamAllMessages StreamKind = "message"
	// StreamGroupMessages: messages in one conversation.
	StreamGroupMessages StreamKind = "groupMessage"
	// StreamConsent: consent record changes.
	StreamConsent StreamKind = "consent"
	// StreamPreferences: preference updates, including consent.
	StreamPreferences StreamKind = "preferences"
)

// Scoped reports whether the kind is scoped to one conversation.
func (k StreamKind) Scoped() bool { return k == StreamGroupMessages }

// Event is one emission from the engine. Kind, InstallationID, and for
// StreamGroupMessages ConversationID identify the scope; exactly one
// payload field is set, matching Kind. A Closed event ends the scope's
// native stream, with Err holding the cause when it was not requested.
type Event struct {
	Kind           StreamKind
	InstallationID string
	ConversationID string

	Message      *EncodedMessage
	Conversation *ConversationInfo
	Consent      []ConsentRecord
	Preference   *PreferenceUpdate

	Closed bool
	Err    error
}
