// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge defines the contract between the client binding and
// the messaging engine that owns cryptography, group state, local
// storage, and network transport.
//
// The binding never sees a key or a database row. It asks the engine to
// do things on behalf of an installation (one device identity belonging
// to an inbox) and receives opaque envelopes and events back. Every
// method takes the installation ID explicitly: one engine serves many
// installations, and nothing in the contract assumes a single client
// per process.
//
// # Streams
//
// The engine keeps at most one live native subscription per scope
// (installation, [StreamKind], and for [StreamGroupMessages] a
// conversation). Subscribe on an active scope is idempotent and a
// single Unsubscribe ends it, whoever else was relying on it. Events
// for every installation and scope arrive on one process-wide
// [Emitter]; the streaming package turns that into independent,
// individually cancelable listeners.
//
// # Errors
//
// Engine failures are returned as [*Error] with a stable [ErrorCode].
// The binding passes them to its callers unchanged; [IsError] tests for
// a code through any amount of wrapping.
//
// [Broadcaster] is a ready-made Emitter for engine implementations.
package bridge
