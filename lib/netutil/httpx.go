// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds HTTP body reads.
//
// Remote attachments are fetched from URLs chosen by whoever sent the
// message, so every body read is capped: a hostile or broken server
// must not be able to exhaust memory by streaming forever.
package netutil

import (
	"fmt"
	"io"
)

// MaxResponseSize is the default cap on body reads: 256 MB.
const MaxResponseSize int64 = 256 << 20

// ErrBodyTooLarge reports a body that exceeded its read limit.
type ErrBodyTooLarge struct {
	Limit int64
}

func (e *ErrBodyTooLarge) Error() string {
	return fmt.Sprintf("response body exceeds %d bytes", e.Limit)
}

// ReadBounded reads a body of at most limit bytes. A body longer than
// limit returns *ErrBodyTooLarge rather than a truncated slice. A
// non-positive limit means MaxResponseSize.
func ReadBounded(body io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = MaxResponseSize
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, &ErrBodyTooLarge{Limit: limit}
	}
	return data, nil
}

// ErrorBody reads an error response body for diagnostics. Read errors
// are ignored; a partial body is still useful in an error message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	return string(data)
}
