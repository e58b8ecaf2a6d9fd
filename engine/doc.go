// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine is parley's in-process reference engine: a complete
// implementation of [bridge.Bridge] over SQLite, used by the parley CLI
// and by every test in the module.
//
// A [Network] stands in for the protocol's relay. It is one SQLite
// database holding registered installations, conversation membership
// and metadata, the ordered log of published messages, and synced
// preference records. Engines attached to the same Network see each
// other's traffic; a Network notifies attached engines in-process when
// something is published.
//
// An [Engine] hosts any number of installations. Each installation has
// its own SQLite database under [Config.DataDir]. The installation's
// age identity is sealed in that database under the caller's database
// key, and every stored envelope is sealed to the identity's public
// key, so a wrong key fails with [bridge.ErrorDecryptionFailed] instead
// of returning garbage.
//
// Reads (ListConversations, FetchMessages, ConsentState) touch only the
// installation's database. Sync* calls copy new network state into it.
// While a native stream is active for a scope, the engine also ingests
// matching network traffic as soon as it is published and emits an
// [bridge.Event] for it on [Engine.Emitter].
//
// None of this is a protocol implementation: there is no group key
// schedule and no wire framing. The Network holds plaintext envelopes.
package engine
