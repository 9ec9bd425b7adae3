package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an engine rejection so callers can branch on the category
// instead of matching message text.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindUnauthorized
	KindInvalidParams
	KindInvalidState
	KindInsufficientFunds
	KindNotFound
	KindPaused
	KindInternal
)

// String returns the canonical name for the kind.
func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidParams:
		return "invalid_params"
	case KindInvalidState:
		return "invalid_state"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindNotFound:
		return "not_found"
	case KindPaused:
		return "paused"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a classified engine error. Engines reject with one of these before
// mutating any state.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs a classified error with a formatted message.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the classification from err, or KindUnknown when the error
// carries none.
func KindOf(err error) Kind {
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnknown
}
