// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentcodec

import (
	"fmt"

	"github.com/bureau-foundation/parley/lib/contenttype"
)

// Codec encodes and decodes values of one content type. Encode and
// Decode must be inverses for every value the codec accepts.
type Codec interface {
	ContentType() contenttype.ID
	Encode(content any) (*EncodedContent, error)
	Decode(encoded *EncodedContent) (any, error)
}

// FallbackProvider is implemented by codecs that can describe a value
// in plain text for receivers that lack the codec. Returning false
// means no fallback: the envelope's Fallback stays nil. Returning
// ("", true) sets an explicit empty fallback.
type FallbackProvider interface {
	Fallback(content any) (string, bool)
}

// PushPolicy is implemented by codecs whose messages should not always
// trigger a push notification on the receiving side.
type PushPolicy interface {
	ShouldPush(content any) bool
}

// EncodeContent runs codec.Encode, stamps the codec's content type on
// the envelope, and applies the codec's fallback if it provides one.
func EncodeContent(c Codec, content any) (*EncodedContent, error) {
	envelope, err := c.Encode(content)
	if err != nil {
		return nil, fmt.Errorf("contentcodec: encode %s: %w", c.ContentType(), err)
	}
	if envelope == nil {
		return nil, fmt.Errorf("contentcodec: encode %s: codec returned no envelope", c.ContentType())
	}
	envelope.Type = c.ContentType()
	if provider, ok := c.(FallbackProvider); ok {
		if text, ok := provider.Fallback(content); ok {
			envelope.Fallback = FallbackText(text)
		} else {
			envelope.Fallback = nil
		}
	}
	return envelope, nil
}

// ShouldPush reports the codec's push policy for content. Codecs
// without a policy always push.
func ShouldPush(c Codec, content any) bool {
	if policy, ok := c.(PushPolicy); ok {
		return policy.ShouldPush(content)
	}
	return true
}

// Typed converts a decoded value to T. It is meant to wrap a decode
// call directly:
//
//	reaction, err := contentcodec.Typed[contentcodec.Reaction](message.Content())
//
// A fallback string returned in place of an undecodable payload does
// not convert to a non-string T and yields ErrUnexpectedContent.
func Typed[T any](value any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %T", ErrUnexpectedContent, value, zero)
	}
	return typed, nil
}

// unexpected builds the error a codec returns for a wrong input type.
func unexpected(id contenttype.ID, content any) error {
	return fmt.Errorf("%w: %s codec cannot encode %T", ErrUnexpectedContent, id, content)
}
