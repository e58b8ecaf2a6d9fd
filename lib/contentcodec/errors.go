// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentcodec

import "errors"

var (
	// ErrCodecNotFound is returned by Find when no codec is registered
	// under the requested key.
	ErrCodecNotFound = errors.New("codec not found")

	// ErrContentNotDecodable is returned when an envelope's codec is
	// missing and the envelope carries no fallback text.
	ErrContentNotDecodable = errors.New("content not decodable")

	// ErrNoCodecRegistered is returned on the send path when the caller
	// names a content type the registry has no codec for.
	ErrNoCodecRegistered = errors.New("no codec registered for content type")

	// ErrContentTooLarge is returned when a compressed envelope would
	// inflate past MaxContentSize.
	ErrContentTooLarge = errors.New("content too large")

	// ErrUnexpectedContent is returned by a codec's Encode when handed
	// a value of the wrong Go type.
	ErrUnexpectedContent = errors.New("unexpected content value")
)
