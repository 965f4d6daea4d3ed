// Package apperr defines the error kinds returned by the scheduling engine.
// Each error carries a stable code the HTTP layer writes to clients; the
// wrapped cause is for server-side logs only.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindForbidden
	KindOperationFailed
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindOperationFailed:
		return "operation_failed"
	default:
		return "unknown"
	}
}

// Stable client-facing codes.
const (
	BadRequest = "bad_request"

	TaskInvalid   = "task_invalid"
	TaskNotFound  = "task_not_found"
	TaskAddFailed = "task_add_failed"

	CompleteInvalid  = "complete_invalid"
	CompleteBadDate  = "complete_bad_date"
	CompleteNotFound = "complete_not_found"
	CompleteFailed   = "complete_failed"

	InvalidMonth   = "invalid_month"
	InvalidDate    = "invalid_date"
	CalendarFailed = "calendar_failed"

	ItemNotFound = "item_not_found"
	ItemFailed   = "item_failed"

	Unauthorized = "unauthorized"
	NotLoggedIn  = "not_logged_in"
	NoActiveHome = "no_active_home"
	RateLimited  = "rate_limited"
	Internal     = "internal_error"
)

type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}

	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func Validation(code string, err error) *Error { return New(KindValidation, code, err) }
func NotFound(code string, err error) *Error   { return New(KindNotFound, code, err) }
func Forbidden(err error) *Error               { return New(KindForbidden, Unauthorized, err) }
func Failed(code string, err error) *Error     { return New(KindOperationFailed, code, err) }

// KindOf reports the kind of err, or KindOperationFailed for errors that
// did not come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindOperationFailed
}

// CodeOf reports the client-facing code of err. Foreign errors collapse to
// Internal so their text is never exposed.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return Internal
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
