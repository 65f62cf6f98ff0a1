// Package apperr tags failures with a stable kind so callers can tell the
// caller's fault from the completion service's fault without reading provider
// error text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	InvalidInput        Kind = "invalid_input"
	UpstreamTimeout     Kind = "upstream_timeout"
	UpstreamRateLimited Kind = "upstream_rate_limited"
	UpstreamError       Kind = "upstream_error"
	Canceled            Kind = "request_canceled"
	Internal            Kind = "internal_error"
)

// Error carries a kind, the operation that failed and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	// Msg is safe to show to callers. Err is for logs only.
	Msg string
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Op != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, apperr.E(apperr.UpstreamTimeout)) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// E builds a bare error of the given kind, mostly useful as an errors.Is target.
func E(kind Kind) *Error {
	return &Error{Kind: kind}
}

// New creates a tagged error with a caller-safe message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap tags err with kind. An err that is already tagged keeps its kind.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of err, Internal for untagged errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message returns the caller-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return defaultMessages[KindOf(err)]
}

// Retryable reports whether a failure of this kind may succeed on an immediate retry.
func (k Kind) Retryable() bool {
	return k == UpstreamRateLimited || k == UpstreamTimeout
}

var defaultMessages = map[Kind]string{
	InvalidInput:        "invalid input",
	UpstreamTimeout:     "the language model did not respond in time",
	UpstreamRateLimited: "the language model is rate limiting requests, try again shortly",
	UpstreamError:       "the language model service returned an error",
	Canceled:            "request canceled",
	Internal:            "internal server error",
}
