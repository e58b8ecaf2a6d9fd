// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/parley/bridge"
	"github.com/bureau-foundation/parley/lib/contentcodec"
	"github.com/bureau-foundation/parley/lib/contenttype"
	"github.com/bureau-foundation/parley/streaming"
)

// Conversation is the capability set shared by groups and DMs. The
// concrete type is *Group or *Dm.
type Conversation interface {
	ID() string
	Topic() string
	CreatedAt() time.Time
	Kind() bridge.ConversationKind

	// Info returns the handle's snapshot of the conversation, including
	// the consent state last confirmed through this handle.
	Info() bridge.ConversationInfo

	// Send encodes content and publishes it. See SendOption.
	Send(ctx context.Context, content any, options ...SendOption) (string, error)

	// PrepareMessage stages content locally and returns its ID. The
	// message stays unpublished until PublishMessage or
	// PublishPreparedMessages.
	PrepareMessage(ctx context.Context, content any, options ...SendOption) (string, error)
	PublishPreparedMessages(ctx context.Context) error
	PublishMessage(ctx context.Context, messageID string) error

	// Messages reads local state. Call Sync first for freshness.
	Messages(ctx context.Context, query MessageQuery) ([]*DecodedMessage, error)

	// MessagesWithReactions is Messages without reaction messages, each
	// result carrying the reactions that reference it.
	MessagesWithReactions(ctx context.Context, query MessageQuery) ([]MessageWithReactions, error)

	// ConsentState reads the engine on every call.
	ConsentState(ctx context.Context) (bridge.ConsentState, error)

	// UpdateConsent sets the conversation's consent to allowed or
	// denied. The handle reflects the change only after the engine
	// confirms it.
	UpdateConsent(ctx context.Context, state bridge.ConsentState) error

	Sync(ctx context.Context) error
	StreamMessages(ctx context.Context, callback func(*DecodedMessage), onClose func(error)) (*streaming.Subscription, error)
	Members(ctx context.Context) ([]bridge.Member, error)
}

// SendOption configures Send and PrepareMessage.
type SendOption func(*sendSettings)

type sendSettings struct {
	contentType    contenttype.ID
	compression    contentcodec.Compression
	compressionSet bool
}

// WithContentType encodes the content with the registry's codec for
// id. Without it only a plain string can be sent.
func WithContentType(id contenttype.ID) SendOption {
	return func(s *sendSettings) { s.contentType = id }
}

// WithCompression overrides ClientConfig.Compression for one send.
func WithCompression(algorithm contentcodec.Compression) SendOption {
	return func(s *sendSettings) {
		s.compression = algorithm
		s.compressionSet = true
	}
}

// MessageQuery filters Messages. Zero values mean no filter. Time
// bounds are exclusive.
type MessageQuery struct {
	Limit int

	SentAfterNs      int64
	SentBeforeNs     int64
	InsertedAfterNs  int64
	InsertedBeforeNs int64

	// Direction defaults to bridge.Descending, newest first.
	Direction bridge.Direction

	DeliveryStatus        bridge.DeliveryStatus
	ContentTypes          []contenttype.ID
	ExcludeContentTypes   []contenttype.ID
	ExcludeSenderInboxIDs []string
}

func (q MessageQuery) fetchOptions() bridge.FetchOptions {
	return bridge.FetchOptions{
		Limit:                 q.Limit,
		SentAfterNs:           q.SentAfterNs,
		SentBeforeNs:          q.SentBeforeNs,
		InsertedAfterNs:       q.InsertedAfterNs,
		InsertedBeforeNs:      q.InsertedBeforeNs,
		Direction:             q.Direction,
		DeliveryStatus:        q.DeliveryStatus,
		ContentTypes:          keys(q.ContentTypes),
		ExcludeContentTypes:   keys(q.ExcludeContentTypes),
		ExcludeSenderInboxIDs: q.ExcludeSenderInboxIDs,
	}
}

func keys(ids []contenttype.ID) []string {
	if len(ids) == 0 {
		return nil
	}
	result := make([]string, len(ids))
	for i, id := range ids {
		result[i] = id.Key()
	}
	return result
}

// reactionTypes are excluded from, then attached to, the results of
// MessagesWithReactions.
var reactionTypes = []contenttype.ID{contenttype.Reaction, contenttype.ReactionV2}

// conversation implements Conversation for both kinds.
type conversation struct {
	client *Client

	// sendMu makes sends through one handle reach the engine in call
	// order.
	sendMu sync.Mutex

	mu   sync.Mutex
	info bridge.ConversationInfo
}

func (c *conversation) ID() string                    { return c.info.ID }
func (c *conversation) Topic() string                 { return c.info.Topic }
func (c *conversation) Kind() bridge.ConversationKind { return c.info.Kind }

func (c *conversation) CreatedAt() time.Time { return time.Unix(0, c.info.CreatedAtNs) }

func (c *conversation) Info() bridge.ConversationInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

func (c *conversation) Send(ctx context.Context, content any, options ...SendOption) (string, error) {
	return c.submit(ctx, "send", content, options, c.client.bridge.Send)
}

func (c *conversation) PrepareMessage(ctx context.Context, content any, options ...SendOption) (string, error) {
	return c.submit(ctx, "prepare message", content, options, c.client.bridge.PrepareMessage)
}

type submitFunc func(ctx context.Context, installationID, conversationID string, request bridge.SendRequest) (string, error)

func (c *conversation) submit(ctx context.Context, op string, content any, options []SendOption, submit submitFunc) (string, error) {
	if err := c.client.check(); err != nil {
		return "", err
	}
	request, err := c.request(content, options)
	if err != nil {
		return "", err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	id, err := submit(ctx, c.client.installation.ID, c.info.ID, request)
	if err != nil {
		return "", fmt.Errorf("messaging: %s in %s: %w", op, c.info.ID, err)
	}
	return id, nil
}

// request builds the bridge request for content. A plain string with
// no content type takes the engine's text shorthand.
func (c *conversation) request(content any, options []SendOption) (bridge.SendRequest, error) {
	settings := sendSettings{compression: c.client.compression}
	for _, option := range options {
		option(&settings)
	}

	if settings.contentType.IsZero() {
		text, ok := content.(string)
		if !ok {
			return bridge.SendRequest{}, fmt.Errorf("%w: got %T", ErrContentTypeRequired, content)
		}
		return bridge.SendRequest{Text: text, ShouldPush: true}, nil
	}

	codec, err := c.client.registry.FindFor(settings.contentType)
	if err != nil {
		return bridge.SendRequest{}, fmt.Errorf("messaging: %w: %s", contentcodec.ErrNoCodecRegistered, settings.contentType)
	}
	envelope, err := contentcodec.EncodeContent(codec, content)
	if err != nil {
		return bridge.SendRequest{}, fmt.Errorf("messaging: %w", err)
	}
	if _, err := contentcodec.Compress(envelope, settings.compression); err != nil {
		return bridge.SendRequest{}, fmt.Errorf("messaging: %w", err)
	}
	data, err := contentcodec.Marshal(envelope)
	if err != nil {
		return bridge.SendRequest{}, fmt.Errorf("messaging: %w", err)
	}
	return bridge.SendRequest{
		Envelope:   data,
		ShouldPush: contentcodec.ShouldPush(codec, content),
	}, nil
}

func (c *conversation) PublishPreparedMessages(ctx context.Context) error {
	if err := c.client.check(); err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.client.bridge.PublishPreparedMessages(ctx, c.client.installation.ID, c.info.ID); err != nil {
		return fmt.Errorf("messaging: publishing prepared messages in %s: %w", c.info.ID, err)
	}
	return nil
}

func (c *conversation) PublishMessage(ctx context.Context, messageID string) error {
	if err := c.client.check(); err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.client.bridge.PublishMessage(ctx, c.client.installation.ID, c.info.ID, messageID); err != nil {
		return fmt.Errorf("messaging: publishing message %s: %w", messageID, err)
	}
	return nil
}

func (c *conversation) Messages(ctx context.Context, query MessageQuery) ([]*DecodedMessage, error) {
	return c.fetch(ctx, query.fetchOptions())
}

func (c *conversation) fetch(ctx context.Context, options bridge.FetchOptions) ([]*DecodedMessage, error) {
	if err := c.client.check(); err != nil {
		return nil, err
	}
	encoded, err := c.client.bridge.FetchMessages(ctx, c.client.installation.ID, c.info.ID, options)
	if err != nil {
		return nil, fmt.Errorf("messaging: fetching messages in %s: %w", c.info.ID, err)
	}
	messages := make([]*DecodedMessage, len(encoded))
	for i, message := range encoded {
		messages[i] = c.client.decoded(message)
	}
	return messages, nil
}

func (c *conversation) MessagesWithReactions(ctx context.Context, query MessageQuery) ([]MessageWithReactions, error) {
	parentOptions := query.fetchOptions()
	parentOptions.ExcludeContentTypes = append(parentOptions.ExcludeContentTypes, keys(reactionTypes)...)
	parents, err := c.fetch(ctx, parentOptions)
	if err != nil {
		return nil, err
	}
	if len(parents) == 0 {
		return []MessageWithReactions{}, nil
	}

	reactions, err := c.fetch(ctx, bridge.FetchOptions{
		Direction:    bridge.Ascending,
		ContentTypes: keys(reactionTypes),
	})
	if err != nil {
		return nil, err
	}
	byReference := make(map[string][]*DecodedMessage)
	for _, reaction := range reactions {
		if reaction.ReferenceID != "" {
			byReference[reaction.ReferenceID] = append(byReference[reaction.ReferenceID], reaction)
		}
	}

	result := make([]MessageWithReactions, len(parents))
	for i, parent := range parents {
		children := byReference[parent.ID]
		if children == nil {
			children = []*DecodedMessage{}
		}
		result[i] = MessageWithReactions{DecodedMessage: parent, Reactions: children}
	}
	return result, nil
}

func (c *conversation) ConsentState(ctx context.Context) (bridge.ConsentState, error) {
	if err := c.client.check(); err != nil {
		return "", err
	}
	state, err := c.client.bridge.ConsentState(ctx, c.client.installation.ID, bridge.ConsentEntityConversation, c.info.ID)
	if err != nil {
		return "", fmt.Errorf("messaging: consent state of %s: %w", c.info.ID, err)
	}
	c.mu.Lock()
	c.info.ConsentState = state
	c.mu.Unlock()
	return state, nil
}

func (c *conversation) UpdateConsent(ctx context.Context, state bridge.ConsentState) error {
	if state != bridge.ConsentAllowed && state != bridge.ConsentDenied {
		return fmt.Errorf("%w: got %q", ErrInvalidConsentState, state)
	}
	if err := c.client.check(); err != nil {
		return err
	}
	record := bridge.ConsentRecord{
		EntityType: bridge.ConsentEntityConversation,
		Entity:     c.info.ID,
		State:      state,
	}
	if err := c.client.bridge.SetConsent(ctx, c.client.installation.ID, []bridge.ConsentRecord{record}); err != nil {
		return fmt.Errorf("messaging: updating consent of %s: %w", c.info.ID, err)
	}
	c.mu.Lock()
	c.info.ConsentState = state
	c.mu.Unlock()
	return nil
}

func (c *conversation) Sync(ctx context.Context) error {
	if err := c.client.check(); err != nil {
		return err
	}
	if err := c.client.bridge.SyncConversation(ctx, c.client.installation.ID, c.info.ID); err != nil {
		return fmt.Errorf("messaging: syncing %s: %w", c.info.ID, err)
	}
	return nil
}

func (c *conversation) StreamMessages(ctx context.Context, callback func(*DecodedMessage), onClose func(error)) (*streaming.Subscription, error) {
	scope := streaming.Scope{Kind: bridge.StreamGroupMessages, ConversationID: c.info.ID}
	return c.client.stream(ctx, scope, func(event bridge.Event) {
		if event.Message != nil {
			callback(c.client.decoded(*event.Message))
		}
	}, onClose)
}

func (c *conversation) Members(ctx context.Context) ([]bridge.Member, error) {
	if err := c.client.check(); err != nil {
		return nil, err
	}
	members, err := c.client.bridge.Members(ctx, c.client.installation.ID, c.info.ID)
	if err != nil {
		return nil, fmt.Errorf("messaging: members of %s: %w", c.info.ID, err)
	}
	return members, nil
}

// Group is a conversation with any number of members and mutable
// metadata.
type Group struct {
	*conversation
}

var _ Conversation = (*Group)(nil)

// Name returns the group name as of the handle's last refresh.
func (g *Group) Name() string { return g.Info().Name }

// Description returns the group description as of the handle's last
// refresh.
func (g *Group) Description() string { return g.Info().Description }

// UpdateName sets the group name. Every member sees a group_updated
// message for the change.
func (g *Group) UpdateName(ctx context.Context, name string) error {
	return g.updateMetadata(ctx, bridge.MetadataName, name)
}

// UpdateDescription sets the group description.
func (g *Group) UpdateDescription(ctx context.Context, description string) error {
	return g.updateMetadata(ctx, bridge.MetadataDescription, description)
}

func (g *Group) updateMetadata(ctx context.Context, field bridge.MetadataField, value string) error {
	if err := g.client.check(); err != nil {
		return err
	}
	if err := g.client.bridge.UpdateGroupMetadata(ctx, g.client.installation.ID, g.info.ID, field, value); err != nil {
		return fmt.Errorf("messaging: updating %s of %s: %w", field, g.info.ID, err)
	}
	g.mu.Lock()
	switch field {
	case bridge.MetadataName:
		g.info.Name = value
	case bridge.MetadataDescription:
		g.info.Description = value
	}
	g.mu.Unlock()
	return nil
}

// AddMembers adds inboxes to the group.
func (g *Group) AddMembers(ctx context.Context, inboxIDs ...string) error {
	if err := g.client.check(); err != nil {
		return err
	}
	if err := g.client.bridge.AddMembers(ctx, g.client.installation.ID, g.info.ID, inboxIDs); err != nil {
		return fmt.Errorf("messaging: adding members to %s: %w", g.info.ID, err)
	}
	return nil
}

// RemoveMembers removes inboxes from the group.
func (g *Group) RemoveMembers(ctx context.Context, inboxIDs ...string) error {
	if err := g.client.check(); err != nil {
		return err
	}
	if err := g.client.bridge.RemoveMembers(ctx, g.client.installation.ID, g.info.ID, inboxIDs); err != nil {
		return fmt.Errorf("messaging: removing members from %s: %w", g.info.ID, err)
	}
	return nil
}

// Dm is a conversation between exactly two inboxes.
type Dm struct {
	*conversation
}

var _ Conversation = (*Dm)(nil)

// PeerInboxID returns the other participant.
func (d *Dm) PeerInboxID() string { return d.info.PeerInboxID }

// wrap returns the typed handle for info.
func (c *Client) wrap(info bridge.ConversationInfo) Conversation {
	base := &conversation{client: c, info: info}
	if info.Kind == bridge.ConversationDm {
		return &Dm{base}
	}
	return &Group{base}
}
