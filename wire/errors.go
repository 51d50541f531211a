// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"

	"github.com/callvault/callvault/envelope"
)

// ErrorCode is the machine-readable error taxonomy reported to
// clients. Authentication failures are terminal for the frame;
// capacity failures are retryable after the communicated cooldown.
type ErrorCode string

const (
	// Authentication. Never partially processed.
	CodeBadSignature     ErrorCode = "BAD_SIGNATURE"
	CodeNonceExpired     ErrorCode = "NONCE_EXPIRED"
	CodeTimestampExpired ErrorCode = "TIMESTAMP_EXPIRED"
	CodeClockDrift       ErrorCode = "CLOCK_DRIFT"

	// Authorization. Reported to the initiator only, with enough
	// structure to offer voicemail — never the recipient's reasons.
	CodeCallBlocked ErrorCode = "CALL_BLOCKED"

	// Capacity / rate. Retryable after a cooldown.
	CodeRateLimited   ErrorCode = "RATE_LIMITED"
	CodePassExhausted ErrorCode = "PASS_EXHAUSTED"

	// Delivery.
	CodeSendFailed    ErrorCode = "MESSAGE_SEND_FAILED"
	CodeQuotaExceeded ErrorCode = "STORAGE_QUOTA_EXCEEDED"

	// Liveness. A normal outcome, not a fault.
	CodeUnavailable ErrorCode = "CALL_UNAVAILABLE"

	// Protocol.
	CodeInvalidFrame  ErrorCode = "INVALID_FRAME"
	CodeUnknownType   ErrorCode = "UNKNOWN_TYPE"
	CodeNotRegistered ErrorCode = "NOT_REGISTERED"
	CodeInvalidState  ErrorCode = "INVALID_STATE"
	CodeInternal      ErrorCode = "INTERNAL"
)

// Error is a structured protocol error. It implements error so
// handlers can return it directly; the connection layer serializes it
// into an error event for the originating connection only.
type Error struct {
	Code ErrorCode

	// Message is safe to show the sender. It must not leak the other
	// party's policy or identity details.
	Message string

	// Retryable signals that the same frame may succeed later.
	Retryable bool

	// RetryAfterSeconds is the server-communicated cooldown for
	// capacity errors. Zero when not applicable.
	RetryAfterSeconds int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a non-retryable protocol error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewRetryableError creates a retryable protocol error with a
// cooldown.
func NewRetryableError(code ErrorCode, message string, retryAfterSeconds int) *Error {
	return &Error{Code: code, Message: message, Retryable: true, RetryAfterSeconds: retryAfterSeconds}
}

// AuthError maps a verification failure onto its wire code. Unknown
// errors map to BAD_SIGNATURE: the client learns the envelope was
// rejected, nothing more.
func AuthError(err error) *Error {
	switch {
	case errors.Is(err, envelope.ErrNonceReplayed), errors.Is(err, envelope.ErrNonceMissing):
		return NewError(CodeNonceExpired, "nonce rejected")
	case errors.Is(err, envelope.ErrTimestampExpired):
		return NewError(CodeTimestampExpired, "timestamp outside accepted window")
	case errors.Is(err, envelope.ErrClockDrift):
		return NewError(CodeClockDrift, "timestamp ahead of server clock")
	default:
		return NewError(CodeBadSignature, "envelope rejected")
	}
}

// AsError extracts a *Error from err, wrapping unknown errors as
// INTERNAL without leaking their text to the client.
func AsError(err error) *Error {
	var wireErr *Error
	if errors.As(err, &wireErr) {
		return wireErr
	}
	return NewError(CodeInternal, "internal error")
}
