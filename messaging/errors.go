// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "errors"

var (
	// ErrInvalidConsentState is returned by UpdateConsent for any state
	// other than allowed or denied. Unknown is only ever an initial
	// state.
	ErrInvalidConsentState = errors.New("messaging: consent can only be set to allowed or denied")

	// ErrContentTypeRequired is returned by Send and PrepareMessage
	// when content other than a plain string is sent without
	// WithContentType.
	ErrContentTypeRequired = errors.New("messaging: content type required for non-text content")

	// ErrClientClosed is returned by every operation after Close.
	ErrClientClosed = errors.New("messaging: client is closed")
)
