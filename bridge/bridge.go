// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import "context"

// Bridge is the full engine surface the binding consumes.
type Bridge interface {
	Installations
	Conversations
	Messages
	Consent
	Streams
}

// Installations manages device identities and their local databases.
type Installations interface {
	// CreateInstallation registers a new installation for an inbox and
	// opens its local database, encrypted under DatabaseKey.
	CreateInstallation(ctx context.Context, request CreateInstallationRequest) (Installation, error)

	// LoadInstallation reopens an existing installation's database.
	// A wrong key fails with ErrorDecryptionFailed.
	LoadInstallation(ctx context.Context, installationID string, databaseKey []byte) (Installation, error)

	// CanMessage reports, per inbox, whether the inbox has at least one
	// installation that can receive messages.
	CanMessage(ctx context.Context, installationID string, inboxIDs []string) (map[string]bool, error)

	// DropInstallation closes the installation's local database and
	// ends its native subscriptions. Later calls for the installation
	// fail with ErrorDatabaseClosed until it is loaded again.
	DropInstallation(ctx context.Context, installationID string) error
}

// Conversations manages group and DM state.
type Conversations interface {
	CreateGroup(ctx context.Context, installationID string, request CreateGroupRequest) (ConversationInfo, error)

	// FindOrCreateDm returns the DM between the installation's inbox
	// and peerInboxID, creating it when none exists.
	FindOrCreateDm(ctx context.Context, installationID, peerInboxID string) (ConversationInfo, error)

	// ListConversations reads local state only.
	ListConversations(ctx context.Context, installationID string, options ListConversationsOptions) ([]ConversationInfo, error)

	FindConversation(ctx context.Context, installationID, conversationID string) (ConversationInfo, error)

	// SyncConversations discovers conversations the installation was
	// added to since the last sync. It does not pull their messages.
	SyncConversations(ctx context.Context, installationID string) error

	// SyncAllConversations discovers conversations and pulls messages
	// for those whose consent state is in consentStates (all when
	// empty). Returns the number of conversations synced.
	SyncAllConversations(ctx context.Context, installationID string, consentStates []ConsentState) (int, error)

	// SyncConversation pulls new messages for one conversation.
	SyncConversation(ctx context.Context, installationID, conversationID string) error

	Members(ctx context.Context, installationID, conversationID string) ([]Member, error)
	AddMembers(ctx context.Context, installationID, conversationID string, inboxIDs []string) error
	RemoveMembers(ctx context.Context, installationID, conversationID string, inboxIDs []string) error
	UpdateGroupMetadata(ctx context.Context, installationID, conversationID string, field MetadataField, value string) error
}

// Messages sends and reads messages.
type Messages interface {
	// Send stages and publishes in one step. Returns the message ID.
	Send(ctx context.Context, installationID, conversationID string, request SendRequest) (string, error)

	// PrepareMessage stages a message locally with delivery status
	// unpublished and returns its ID. The ID does not change when the
	// message is published.
	PrepareMessage(ctx context.Context, installationID, conversationID string, request SendRequest) (string, error)

	// PublishPreparedMessages publishes every staged message in the
	// conversation in staging order.
	PublishPreparedMessages(ctx context.Context, installationID, conversationID string) error

	// PublishMessage publishes one staged message. A message that is
	// not staged fails with ErrorMessageNotStaged.
	PublishMessage(ctx context.Context, installationID, conversationID, messageID string) error

	// FetchMessages reads local state only; call SyncConversation
	// first for freshness.
	FetchMessages(ctx context.Context, installationID, conversationID string, options FetchOptions) ([]EncodedMessage, error)

	FindMessage(ctx context.Context, installationID, messageID string) (EncodedMessage, error)
}

// Consent reads and writes consent records. The engine is
// authoritative; callers must not cache results.
type Consent interface {
	ConsentState(ctx context.Context, installationID string, entityType ConsentEntityType, entity string) (ConsentState, error)
	SetConsent(ctx context.Context, installationID string, records []ConsentRecord) error
	ConsentList(ctx context.Context, installationID string) ([]ConsentRecord, error)
}

// Streams controls native subscriptions.
type Streams interface {
	// Subscribe starts the native stream for a scope. conversationID is
	// only meaningful for StreamGroupMessages. Subscribing to an active
	// scope is a no-op.
	Subscribe(ctx context.Context, installationID string, kind StreamKind, conversationID string) error

	// Unsubscribe ends the native stream for a scope. Unsubscribing an
	// inactive scope is a no-op.
	Unsubscribe(ctx context.Context, installationID string, kind StreamKind, conversationID string) error

	// Emitter is the process-wide event source for every installation.
	Emitter() Emitter
}

// Emitter delivers events to registered listeners. Listeners run
// synchronously on the emitting goroutine, in emission order.
type Emitter interface {
	// AddListener registers fn and returns a function that removes it.
	AddListener(fn func(Event)) (remove func())
}
