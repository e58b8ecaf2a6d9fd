// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package streaming multiplexes an engine's single event emitter into
// logical listeners scoped by installation, stream kind, and (for
// group message streams) conversation.
//
// An engine exposes one process-wide [bridge.Emitter] carrying events
// for every installation it hosts. A [Manager] attaches one listener to
// that emitter and routes each event to the [Subscription]s whose
// [Scope] matches it exactly. Events for scopes nobody listens to are
// dropped. Several clients can therefore share one engine without
// seeing each other's traffic.
//
// Native subscriptions are reference counted per scope: the first
// listener for a scope starts the engine's stream, later listeners
// share it, and the last Cancel stops it. Start and stop calls run in
// order on a single worker goroutine, so a stop queued before a
// restart can never undo the restart.
//
// Delivery is synchronous on the emitter's goroutine, in emission
// order. The manager adds no buffering and no delivery guarantees of
// its own.
package streaming
