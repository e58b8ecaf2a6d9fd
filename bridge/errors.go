// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"fmt"
)

// ErrorCode classifies engine failures.
type ErrorCode string

const (
	ErrorConversationNotFound ErrorCode = "conversation_not_found"
	ErrorMessageNotFound      ErrorCode = "message_not_found"
	ErrorInstallationNotFound ErrorCode = "installation_not_found"
	ErrorDatabaseClosed       ErrorCode = "database_closed"
	ErrorDecryptionFailed     ErrorCode = "decryption_failed"
	ErrorMessageNotStaged     ErrorCode = "message_not_staged"
	ErrorNotAMember           ErrorCode = "not_a_member"
	ErrorInvalidArgument      ErrorCode = "invalid_argument"
	ErrorInternal             ErrorCode = "internal"
)

// Error is a failure reported by the engine. Callers can use errors.As
// to extract it:
//
//	var bridgeErr *bridge.Error
//	if errors.As(err, &bridgeErr) {
//	    if bridgeErr.Code == bridge.ErrorDatabaseClosed { ... }
//	}
type Error struct {
	// Op is the engine operation that failed, e.g. "send".
	Op      string
	Code    ErrorCode
	Message string
	// Cause is an underlying error, if any.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("engine: %s: %s: %s: %v", e.Op, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("engine: %s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Errorf builds an *Error with a formatted message.
func Errorf(op string, code ErrorCode, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsError reports whether err is or wraps an *Error with code.
func IsError(err error, code ErrorCode) bool {
	var bridgeErr *Error
	if errors.As(err, &bridgeErr) {
		return bridgeErr.Code == code
	}
	return false
}
