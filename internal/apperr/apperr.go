// Package apperr defines the closed set of error kinds the controllers return.
// The HTTP layer maps kinds to status codes once, at the boundary; nothing else
// inspects error text.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindInternal covers anything not classified below.
	KindInternal Kind = iota
	// KindNotFound: the addressed entity or a required parent does not exist.
	KindNotFound
	// KindAccessDenied: the actor has no membership granting any access.
	KindAccessDenied
	// KindPermission: the actor is a member but the role is too low.
	KindPermission
	// KindValidation: malformed or contradictory input, or a business rule violation.
	KindValidation
	// KindAdminOnly: the operation is reserved for global admins.
	KindAdminOnly
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func AccessDenied(format string, args ...interface{}) error {
	return &Error{Kind: KindAccessDenied, Msg: fmt.Sprintf(format, args...)}
}

func Permission(format string, args ...interface{}) error {
	return &Error{Kind: KindPermission, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func AdminOnly(format string, args ...interface{}) error {
	return &Error{Kind: KindAdminOnly, Msg: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure (database error, etc.) without
// classifying it; the boundary reports it as a 500.
func Internal(err error, format string, args ...interface{}) error {
	return &Error{Kind: KindInternal, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind, defaulting to KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
