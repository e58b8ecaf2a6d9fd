// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/parley/bridge"
	"github.com/bureau-foundation/parley/lib/contentcodec"
	"github.com/bureau-foundation/parley/streaming"
)

// ClientConfig holds configuration for Create and Build.
type ClientConfig struct {
	// Bridge is the engine. Required.
	Bridge bridge.Bridge

	// Registry is the codec registry the client uses. If nil, the
	// client gets its own registry preloaded with the built-in codecs.
	// Passing a registry shares it with whoever else holds it.
	Registry *contentcodec.Registry

	// Codecs are registered on top of the registry, in order.
	Codecs []contentcodec.Codec

	// Streams multiplexes the engine's emitter. If nil,
	// streaming.Shared(Bridge) is used.
	Streams *streaming.Manager

	// Compression is applied to codec-encoded sends that do not pass
	// WithCompression. The zero value sends uncompressed.
	Compression contentcodec.Compression

	// ExclusiveStreams makes a second stream call on a scope this
	// client already streams replace the first one: the earlier
	// callback silently stops firing and its onClose is not called.
	// Off by default, where every stream call is independent.
	ExclusiveStreams bool

	// TrustNativeContent lets DecodedMessage.Content return the
	// engine's own JSON rendering of built-in types when present,
	// skipping the registered codec entirely.
	TrustNativeContent bool

	// Logger is used for structured logging. If nil, slog.Default() is
	// used.
	Logger *slog.Logger
}

// CreateOptions holds parameters for Create.
type CreateOptions struct {
	InboxID string
	// DatabaseKey encrypts the installation's local database. Build
	// needs the same key.
	DatabaseKey []byte
}

// Client is one installation of an inbox. Safe for concurrent use.
type Client struct {
	bridge       bridge.Bridge
	registry     *contentcodec.Registry
	streams      *streaming.Manager
	logger       *slog.Logger
	installation bridge.Installation

	compression        contentcodec.Compression
	exclusiveStreams   bool
	trustNativeContent bool

	conversations *Conversations
	preferences   *Preferences

	mu            sync.Mutex
	closed        bool
	subscriptions map[*streaming.Subscription]*trackedStream
	// slots holds the single stream per scope in exclusive mode.
	slots map[streaming.Scope]*trackedStream
}

// Create registers a new installation for options.InboxID and returns
// its client.
func Create(ctx context.Context, config ClientConfig, options CreateOptions) (*Client, error) {
	if config.Bridge == nil {
		return nil, fmt.Errorf("messaging: ClientConfig.Bridge is required")
	}
	if options.InboxID == "" {
		return nil, fmt.Errorf("messaging: InboxID is required")
	}
	installation, err := config.Bridge.CreateInstallation(ctx, bridge.CreateInstallationRequest{
		InboxID:     options.InboxID,
		DatabaseKey: options.DatabaseKey,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: creating installation for %s: %w", options.InboxID, err)
	}
	return newClient(config, installation)
}

// Build reopens an existing installation. A wrong databaseKey fails
// with bridge.ErrorDecryptionFailed.
func Build(ctx context.Context, config ClientConfig, installationID string, databaseKey []byte) (*Client, error) {
	if config.Bridge == nil {
		return nil, fmt.Errorf("messaging: ClientConfig.Bridge is required")
	}
	installation, err := config.Bridge.LoadInstallation(ctx, installationID, databaseKey)
	if err != nil {
		return nil, fmt.Errorf("messaging: loading installation %s: %w", installationID, err)
	}
	return newClient(config, installation)
}

func newClient(config ClientConfig, installation bridge.Installation) (*Client, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := config.Registry
	if registry == nil {
		registry = contentcodec.NewDefaultRegistry()
	}
	for _, codec := range config.Codecs {
		registry.Register(codec)
	}
	streams := config.Streams
	if streams == nil {
		var err error
		streams, err = streaming.Shared(config.Bridge)
		if err != nil {
			return nil, fmt.Errorf("messaging: %w", err)
		}
	}

	client := &Client{
		bridge:             config.Bridge,
		registry:           registry,
		streams:            streams,
		logger:             logger.With("installation_id", installation.ID),
		installation:       installation,
		compression:        config.Compression,
		exclusiveStreams:   config.ExclusiveStreams,
		trustNativeContent: config.TrustNativeContent,
		subscriptions:      make(map[*streaming.Subscription]*trackedStream),
		slots:              make(map[streaming.Scope]*trackedStream),
	}
	client.conversations = &Conversations{client: client}
	client.preferences = &Preferences{client: client}
	client.logger.Debug("client ready", "inbox_id", installation.InboxID)
	return client, nil
}

// InstallationID returns the installation this client acts as.
func (c *Client) InstallationID() string { return c.installation.ID }

// InboxID returns the inbox the installation belongs to.
func (c *Client) InboxID() string { return c.installation.InboxID }

// Registry returns the client's codec registry.
func (c *Client) Registry() *contentcodec.Registry { return c.registry }

// RegisterCodec adds codec to the client's registry, replacing any
// codec registered for the same content type key.
func (c *Client) RegisterCodec(codec contentcodec.Codec) {
	c.registry.Register(codec)
}

// Conversations returns the conversation collection.
func (c *Client) Conversations() *Conversations { return c.conversations }

// Preferences returns the consent and preference surface.
func (c *Client) Preferences() *Preferences { return c.preferences }

// CanMessage reports, per inbox, whether it can receive messages.
func (c *Client) CanMessage(ctx context.Context, inboxIDs ...string) (map[string]bool, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	result, err := c.bridge.CanMessage(ctx, c.installation.ID, inboxIDs)
	if err != nil {
		return nil, fmt.Errorf("messaging: can message: %w", err)
	}
	return result, nil
}

// Close cancels every stream this client opened and releases the
// installation's local database. Later calls on the client or its
// conversations fail with ErrClientClosed. Close is idempotent.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancelStreams(func(streaming.Scope) bool { return true })
	if err := c.bridge.DropInstallation(ctx, c.installation.ID); err != nil {
		return fmt.Errorf("messaging: closing installation %s: %w", c.installation.ID, err)
	}
	c.logger.Debug("client closed")
	return nil
}

func (c *Client) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// trackedStream is a subscription opened through this client.
type trackedStream struct {
	scope        streaming.Scope
	subscription *streaming.Subscription
	// silenced suppresses onClose when exclusive mode replaces the
	// stream.
	silenced atomic.Bool
}

// stream opens a subscription for scope and tracks it for Close and
// the CancelStream family.
func (c *Client) stream(ctx context.Context, scope streaming.Scope, onEvent func(bridge.Event), onClose func(error)) (*streaming.Subscription, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	scope.InstallationID = c.installation.ID

	entry := &trackedStream{scope: scope}
	listener := streaming.Listener{
		OnEvent: onEvent,
		OnClose: func(err error) {
			c.mu.Lock()
			if entry.subscription != nil {
				delete(c.subscriptions, entry.subscription)
			}
			if c.slots[scope] == entry {
				delete(c.slots, scope)
			}
			c.mu.Unlock()
			if onClose != nil && !entry.silenced.Load() {
				onClose(err)
			}
		},
	}

	subscription, err := c.streams.Subscribe(ctx, scope, listener)
	if err != nil {
		return nil, fmt.Errorf("messaging: streaming %s: %w", scope.Kind, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		subscription.Cancel()
		return nil, ErrClientClosed
	}
	entry.subscription = subscription
	var previous *trackedStream
	if subscription.Active() {
		c.subscriptions[subscription] = entry
		if c.exclusiveStreams {
			previous = c.slots[scope]
			c.slots[scope] = entry
		}
	}
	c.mu.Unlock()

	// The new listener is registered first so the shared native stream
	// stays up across the replacement.
	if previous != nil {
		c.logger.Debug("replacing stream",
			"stream_kind", string(scope.Kind),
			"conversation_id", scope.ConversationID,
		)
		previous.silenced.Store(true)
		previous.subscription.Cancel()
	}
	return subscription, nil
}

// cancelStreams cancels this client's subscriptions whose scope
// matches.
func (c *Client) cancelStreams(match func(streaming.Scope) bool) {
	c.mu.Lock()
	var cancel []*streaming.Subscription
	for subscription, entry := range c.subscriptions {
		if match(entry.scope) {
			cancel = append(cancel, subscription)
		}
	}
	c.mu.Unlock()
	for _, subscription := range cancel {
		subscription.Cancel()
	}
}

// streamCount returns the number of live subscriptions this client
// holds for kind.
func (c *Client) streamCount(kind bridge.StreamKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, entry := range c.subscriptions {
		if entry.scope.Kind == kind {
			count++
		}
	}
	return count
}
