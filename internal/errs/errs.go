// Package errs defines the error taxonomy shared by the check-in core and its
// entry points.
package errs

import (
	"errors"
	"time"
)

// Kind is a machine-readable error kind.
type Kind string

const (
	// KindUnknown is reported for errors that carry no kind.
	KindUnknown Kind = "UNKNOWN"
	// KindInvalidArgument rejects malformed requests before touching the store.
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	// KindNotAMember means the guest is not invited to the event.
	KindNotAMember Kind = "NOT_A_MEMBER"
	// KindNotFound covers unknown codes, guests and events, and codes presented
	// at the wrong event.
	KindNotFound Kind = "NOT_FOUND"
	// KindAlreadyUsed means the code was redeemed before.
	KindAlreadyUsed Kind = "ALREADY_USED"
	// KindStoreError is a transient infrastructure failure, safe to retry.
	KindStoreError Kind = "STORE_ERROR"
	// KindDispatchFailed means the notification dispatcher could not deliver.
	KindDispatchFailed Kind = "DISPATCH_FAILED"
)

// MetaUsedAt is the metadata key holding the RFC 3339 redemption time of an
// ALREADY_USED error.
const MetaUsedAt = "used_at"

// Error is the domain error type.
type Error struct {
	Kind     Kind
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// AlreadyUsed builds an ALREADY_USED error that remembers when the code was
// redeemed.
func AlreadyUsed(usedAt time.Time) *Error {
	return &Error{
		Kind:     KindAlreadyUsed,
		Message:  "code already used",
		Metadata: map[string]string{MetaUsedAt: usedAt.UTC().Format(time.RFC3339)},
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// UsedAt extracts the redemption time from an ALREADY_USED error.
func UsedAt(err error) (time.Time, bool) {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindAlreadyUsed {
		return time.Time{}, false
	}
	raw, ok := e.Metadata[MetaUsedAt]
	if !ok {
		return time.Time{}, false
	}
	t, parseErr := time.Parse(time.RFC3339, raw)
	if parseErr != nil {
		return time.Time{}, false
	}
	return t, true
}
