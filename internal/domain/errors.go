package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies kernel failures. The HTTP adapter projects each
// kind to a status code and wire code string; the kernel itself never
// returns raw driver errors to callers.
type ErrorKind string

const (
	ErrKindInvalidInput     ErrorKind = "invalid-input"
	ErrKindPayloadTooLarge  ErrorKind = "payload-too-large"
	ErrKindMissingAuth      ErrorKind = "missing-auth"
	ErrKindInvalidAuth      ErrorKind = "invalid-auth"
	ErrKindNotFound         ErrorKind = "not-found"
	ErrKindVersionConflict  ErrorKind = "version-conflict"
	ErrKindCrossChannelMove ErrorKind = "cross-channel-move"
	ErrKindRateLimited      ErrorKind = "rate-limited"
	ErrKindStoreBusy        ErrorKind = "store-busy"
	ErrKindInternal         ErrorKind = "internal-error"
)

// Error is the typed error value returned by the mutation kernel and the
// store. CurrentVersion is populated only for version-conflict errors,
// RetryAfterSec only for rate-limited ones.
type Error struct {
	Kind           ErrorKind
	Message        string
	CurrentVersion int64
	RetryAfterSec  int
	cause          error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a typed error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a cause to a typed error.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// VersionConflict builds the conflict error carrying the now-current
// version so callers can re-read and retry.
func VersionConflict(current int64) *Error {
	return &Error{
		Kind:           ErrKindVersionConflict,
		Message:        fmt.Sprintf("version conflict, current version is %d", current),
		CurrentVersion: current,
	}
}

// KindOf extracts the ErrorKind from err, or ErrKindInternal when err is
// not a typed kernel error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindInternal
}

// AsError returns the typed error inside err, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
