// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package contenttype identifies message payload formats.
//
// Every encoded message carries an [ID] naming the authority that
// defined its format, the type within that authority, and a
// major.minor version. The canonical string form
//
//	{authority}/{type}:{major}.{minor}
//
// (for example "xmtp.org/text:1.0") is both the codec registry key and
// the tag written into every envelope on the wire. Lookup is strict:
// two identities address the same codec only when all four components
// match, so a sender that bumps a version must ship a codec for the new
// version to receivers before they can decode it. [ID.SameType] exists
// for callers that want to reason about version families without
// changing lookup.
//
// IDs are immutable value types. They marshal as their canonical string
// through encoding.TextMarshaler, so they travel as a plain string in
// both JSON and CBOR.
package contenttype
