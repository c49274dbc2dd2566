package request

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable machine-readable error code. Kinds are part of
// the HTTP contract: error responses carry {kind, message} bodies and
// clients dispatch on the kind string.
type ErrorKind string

const (
	// KindPermissionDenied: the actor lacks the capability for the operation.
	KindPermissionDenied ErrorKind = "permission_denied"
	// KindInvalidTransition: the state machine rejects the requested transition.
	KindInvalidTransition ErrorKind = "invalid_transition"
	// KindPrecondition: a gate failed (missing comment, incomplete group,
	// file not approved).
	KindPrecondition ErrorKind = "precondition_failed"
	// KindConflict: concurrent modification, the caller must refresh and retry.
	KindConflict ErrorKind = "conflict"
	// KindNotFound: the entity does not exist or is not visible to the actor.
	KindNotFound ErrorKind = "not_found"
	// KindInvariant: the operation would violate a structural invariant.
	KindInvariant ErrorKind = "invariant_violated"
	// KindUpstream: an outbound Jobs API call failed; carries the HTTP code.
	KindUpstream ErrorKind = "upstream_error"
	// KindTimeout: the operation deadline expired.
	KindTimeout ErrorKind = "timeout"
)

// Error is the structured error returned by all controller operations.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	// UpstreamStatus holds the HTTP status of a failed Jobs API call for
	// KindUpstream errors, 0 otherwise.
	UpstreamStatus int   `json:"upstream_status,omitempty"`
	Err            error `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is treat two *Error values with the same kind as equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// NewError builds an error of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// PermissionDeniedf builds a permission_denied error.
func PermissionDeniedf(format string, args ...any) *Error {
	return NewError(KindPermissionDenied, format, args...)
}

// InvalidTransitionf builds an invalid_transition error.
func InvalidTransitionf(format string, args ...any) *Error {
	return NewError(KindInvalidTransition, format, args...)
}

// Preconditionf builds a precondition_failed error.
func Preconditionf(format string, args ...any) *Error {
	return NewError(KindPrecondition, format, args...)
}

// Conflictf builds a conflict error.
func Conflictf(format string, args ...any) *Error {
	return NewError(KindConflict, format, args...)
}

// NotFoundf builds a not_found error.
func NotFoundf(format string, args ...any) *Error {
	return NewError(KindNotFound, format, args...)
}

// Invariantf builds an invariant_violated error.
func Invariantf(format string, args ...any) *Error {
	return NewError(KindInvariant, format, args...)
}

// Upstreamf builds an upstream_error carrying the failed HTTP status.
func Upstreamf(status int, format string, args ...any) *Error {
	e := NewError(KindUpstream, format, args...)
	e.UpstreamStatus = status
	return e
}

// Timeoutf builds a timeout error.
func Timeoutf(format string, args ...any) *Error {
	return NewError(KindTimeout, format, args...)
}

// KindOf extracts the error kind from any error in the chain. Errors
// that are not *Error report KindUpstream by default since they can only
// originate at system boundaries.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstream
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
