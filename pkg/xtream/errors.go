package xtream

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies provider API failures so callers can decide between
// retrying, failing over, and skipping the account entirely.
type ErrorKind int

const (
	// ErrKindNetwork covers connection refusals, DNS failures, and resets.
	ErrKindNetwork ErrorKind = iota
	// ErrKindTimeout covers deadline and client-timeout expiries.
	ErrKindTimeout
	// ErrKindHTTP covers non-2xx responses other than auth rejections.
	ErrKindHTTP
	// ErrKindAuth covers 401/403 responses and auth=0 API payloads.
	ErrKindAuth
	// ErrKindInvalidResponse covers undecodable or structurally wrong payloads.
	ErrKindInvalidResponse
)

// String returns a short name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrKindNetwork:
		return "network"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindHTTP:
		return "http"
	case ErrKindAuth:
		return "auth"
	case ErrKindInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// Error is a classified provider API error.
type Error struct {
	// Kind is the failure class.
	Kind ErrorKind

	// StatusCode is the HTTP status for ErrKindHTTP and ErrKindAuth, 0 otherwise.
	StatusCode int

	// Op names the failed operation, e.g. "get_live_streams".
	Op string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("xtream %s: %s error", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether the error is a credential rejection. Auth
// failures are account-level: every stream of the account will fail the same
// way, so failover should skip the whole account.
func IsAuthError(err error) bool {
	var xe *Error
	return errors.As(err, &xe) && xe.Kind == ErrKindAuth
}

// IsTimeout reports whether the error is a timeout.
func IsTimeout(err error) bool {
	var xe *Error
	return errors.As(err, &xe) && xe.Kind == ErrKindTimeout
}

// classify wraps a transport-level error into an *Error with the right kind.
func classify(op string, err error) *Error {
	kind := ErrKindNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrKindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = ErrKindTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
