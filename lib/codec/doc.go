// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by every parley
// package that writes binary data.
//
// Two formats meet in this module:
//
//   - CBOR for the envelope wire bytes that cross the bridge, the
//     payloads of the binary built-in content types (reaction v2, group
//     updates), and rows the reference engine stores on disk.
//   - JSON for human-facing surfaces: the reaction v1 payload, the
//     native pre-decoded content rendering, and CLI --json output.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same logical envelope always produces identical bytes. Message IDs
// are derived from those bytes, which makes determinism a correctness
// property rather than a nicety.
//
// Struct tags document the format: a `cbor` tag means the type is only
// ever CBOR, a `json` tag means it is shared by both (fxamacker/cbor
// falls back to json tags when cbor tags are absent). Never put both on
// one field.
package codec
