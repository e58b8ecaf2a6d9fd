// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package contentcodec turns typed message content into transport
// envelopes and back.
//
// An [EncodedContent] is the envelope every message carries: the
// content type identity, codec-defined string parameters, the payload
// bytes, and an optional human-readable fallback. A [Codec] owns one
// content type and defines how values of that type map onto the
// envelope. A [Registry] maps content type keys to codecs; each client
// owns its own registry, so two clients in one process never see each
// other's registrations.
//
// # Fallback semantics
//
// EncodedContent.Fallback is a pointer because "no fallback" and "empty
// fallback" are different states and both must survive the wire:
//
//   - nil: the sender offered nothing. A receiver without the codec
//     gets [ErrContentNotDecodable].
//   - pointer to "": the sender explicitly offered an empty rendering.
//     A receiver without the codec gets "" back as the content.
//
// # Lookup
//
// Registry keys are the full "{authority}/{type}:{major}.{minor}"
// string, so a receiver that only knows reaction 1.0 cannot decode
// reaction 2.0. Registration is last-wins.
//
// # Built-in codecs
//
// [NewDefaultRegistry] pre-registers text, reaction (1.0 JSON and 2.0
// CBOR), read receipt, attachment, remote attachment, reply, and group
// update codecs. Remote attachments carry an encrypted payload hosted
// elsewhere; [EncryptAttachment], [DecryptAttachment], and [Fetcher]
// handle the payload side.
package contentcodec
