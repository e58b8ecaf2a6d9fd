// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is the application-facing client for parley's
// end-to-end-encrypted messaging engine.
//
// A [Client] is one installation of an inbox. [Create] registers a new
// installation with the engine and [Build] reopens an existing one.
// Each Client owns a [contentcodec.Registry]: the built-in codecs plus
// whatever the application registers. The registry is handed by
// reference to every [Conversation] and [DecodedMessage] the client
// produces, so registering a codec affects later decodes of messages
// that were already fetched, and never affects another Client.
//
// Conversations come in two kinds, [*Group] and [*Dm], behind one
// [Conversation] interface. Reads ([Conversation.Messages]) only see
// local state; call Sync first for freshness.
//
// Message content is decoded lazily. [DecodedMessage.Content] parses
// the stored envelope once and resolves the codec against the
// registry's state at call time. When no codec is registered it falls
// back to the envelope's fallback text, and fails with
// [contentcodec.ErrContentNotDecodable] when there is none.
//
// Streams are multiplexed through a [streaming.Manager] shared by
// every Client on the same engine. Each stream call returns its own
// [streaming.Subscription]; cancelling one never affects another.
// ClientConfig.ExclusiveStreams restores the older behavior in which a
// second stream on the same scope silently replaces the first.
//
// Engine failures arrive as [*bridge.Error] wrapped with context; use
// [bridge.IsError] or errors.As to inspect them. This package never
// retries.
package messaging
