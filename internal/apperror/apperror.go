// Package apperror is the typed error hierarchy sitting between service
// layers and the HTTP edge. Services return these instead of raw sentinel
// errors so internal/httpapi can translate a Kind into a status code without
// string-matching error messages.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error for HTTP status translation.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindUnauthorized  Kind = "unauthorized"
	KindForbidden     Kind = "forbidden"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindPaymentNeeded Kind = "payment_required"
	KindRateLimited   Kind = "rate_limited"
	KindInternal      Kind = "internal"
)

// statusByKind is the Kind-to-HTTP-status table the httpapi edge layer
// consults; unknown kinds fall back to 500.
var statusByKind = map[Kind]int{
	KindValidation:    http.StatusBadRequest,
	KindUnauthorized:  http.StatusUnauthorized,
	KindForbidden:     http.StatusForbidden,
	KindNotFound:      http.StatusNotFound,
	KindConflict:      http.StatusConflict,
	KindPaymentNeeded: http.StatusPaymentRequired,
	KindRateLimited:   http.StatusTooManyRequests,
	KindInternal:      http.StatusInternalServerError,
}

// Error is a typed, wrapped error carrying an HTTP-relevant Kind and an
// optional structured Detail payload (e.g. the 429 running_count/limit
// body the run concurrency cap returns).
type Error struct {
	Kind    Kind
	Message string
	Detail  any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error around an existing error, for translating a
// store/credit-layer sentinel into an HTTP-relevant kind.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetail attaches a structured body to the error, returned by httpapi
// alongside the status code (e.g. the concurrency-cap 429 payload).
func (e *Error) WithDetail(detail any) *Error {
	e.Detail = detail
	return e
}

// StatusCode returns the HTTP status for err if it is, or wraps, an *Error;
// otherwise 500.
func StatusCode(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		if code, ok := statusByKind[ae.Kind]; ok {
			return code
		}
	}
	return http.StatusInternalServerError
}

// DetailOf returns the structured detail payload attached to err, if any.
func DetailOf(err error) any {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Detail
	}
	return nil
}
