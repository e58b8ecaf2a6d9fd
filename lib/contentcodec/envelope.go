// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentcodec

import (
	"fmt"
	"maps"

	"github.com/bureau-foundation/parley/lib/codec"
	"github.com/bureau-foundation/parley/lib/contenttype"
)

// EncodedContent is the transport envelope for one message payload.
type EncodedContent struct {
	Type       contenttype.ID    `cbor:"type"`
	Parameters map[string]string `cbor:"parameters,omitempty"`
	Content    []byte            `cbor:"content"`

	// Fallback is nil when the sender offered no fallback. A pointer
	// to "" is an explicit empty fallback and is distinct from nil.
	Fallback *string `cbor:"fallback,omitempty"`

	Compression Compression `cbor:"compression,omitempty"`
}

// FallbackText returns a pointer to s, for building envelopes.
func FallbackText(s string) *string { return &s }

// Parameter returns the named parameter, or "" when absent.
func (e *EncodedContent) Parameter(name string) string {
	if e.Parameters == nil {
		return ""
	}
	return e.Parameters[name]
}

// SetParameter sets a parameter, allocating the map on first use.
func (e *EncodedContent) SetParameter(name, value string) {
	if e.Parameters == nil {
		e.Parameters = make(map[string]string)
	}
	e.Parameters[name] = value
}

// Clone returns a deep copy.
func (e *EncodedContent) Clone() *EncodedContent {
	clone := *e
	clone.Parameters = maps.Clone(e.Parameters)
	if e.Content != nil {
		clone.Content = append([]byte(nil), e.Content...)
	}
	if e.Fallback != nil {
		clone.Fallback = FallbackText(*e.Fallback)
	}
	return &clone
}

// Marshal encodes the envelope to its wire bytes.
func Marshal(envelope *EncodedContent) ([]byte, error) {
	if envelope == nil {
		return nil, fmt.Errorf("contentcodec: marshal nil envelope")
	}
	if envelope.Type.IsZero() {
		return nil, fmt.Errorf("contentcodec: marshal envelope without content type")
	}
	data, err := codec.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("contentcodec: marshal %s envelope: %w", envelope.Type, err)
	}
	return data, nil
}

// Unmarshal parses wire bytes into an envelope.
func Unmarshal(data []byte) (*EncodedContent, error) {
	var envelope EncodedContent
	if err := codec.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("contentcodec: unmarshal envelope: %w", err)
	}
	if envelope.Type.IsZero() {
		return nil, fmt.Errorf("contentcodec: envelope has no content type")
	}
	return &envelope, nil
}
