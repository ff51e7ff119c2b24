// Package apperr defines the failure taxonomy shared by the gateway, the push
// channel and the synchronization engine.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the boundary that sees it must react.
type Kind string

const (
	// AuthExpired forces a logout: the credential is cleared with all engine state.
	AuthExpired Kind = "AUTH_EXPIRED"
	// RequestFailed is a network or server failure on a gateway call. Never retried.
	RequestFailed Kind = "REQUEST_FAILED"
	// ValidationFailed is rejected input that never reaches the gateway.
	ValidationFailed Kind = "VALIDATION_FAILED"
	// ChannelError is a non-fatal error reported over the push channel.
	ChannelError Kind = "CHANNEL_ERROR"
)

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error of the given kind.
func New(kind Kind, op, reason string, err error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: err}
}

// Failed is shorthand for a RequestFailed error.
func Failed(op string, err error) *Error {
	return New(RequestFailed, op, "", err)
}

// Expired is shorthand for an AuthExpired error.
func Expired(op, reason string) *Error {
	return New(AuthExpired, op, reason, nil)
}

// Invalid is shorthand for a ValidationFailed error.
func Invalid(op, format string, args ...any) *Error {
	return New(ValidationFailed, op, fmt.Sprintf(format, args...), nil)
}

// Is reports whether any error in err's chain is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
