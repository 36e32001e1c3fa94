// Package apperr is the error taxonomy shared by the REST server, the API
// client and the map controller. Callers classify with KindOf and show
// users UserMessage; wrapped causes never leak into user-facing text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInternal            Kind = "INTERNAL"
	KindValidation          Kind = "VALIDATION"
	KindStateConflict       Kind = "STATE_CONFLICT"
	KindCapacityExceeded    Kind = "CAPACITY_EXCEEDED"
	KindAuth                Kind = "AUTH"
	KindForbidden           Kind = "FORBIDDEN"
	KindNotFound            Kind = "NOT_FOUND"
	KindProviderUnavailable Kind = "PROVIDER_UNAVAILABLE"
	KindRouteUnavailable    Kind = "ROUTE_UNAVAILABLE"
	KindTimeout             Kind = "TIMEOUT"
)

// Error carries a Kind, a user-safe message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Msg: msg, Err: err} }

func Validation(msg string) *Error    { return New(KindValidation, msg) }
func StateConflict(msg string) *Error { return New(KindStateConflict, msg) }
func Capacity(msg string) *Error      { return New(KindCapacityExceeded, msg) }
func NotFound(msg string) *Error      { return New(KindNotFound, msg) }
func Forbidden(msg string) *Error     { return New(KindForbidden, msg) }
func Auth(msg string) *Error          { return New(KindAuth, msg) }

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

func IsValidation(err error) bool    { return Is(err, KindValidation) }
func IsStateConflict(err error) bool { return Is(err, KindStateConflict) }
func IsCapacity(err error) bool      { return Is(err, KindCapacityExceeded) }
func IsNotFound(err error) bool      { return Is(err, KindNotFound) }
func IsAuth(err error) bool          { return Is(err, KindAuth) }

var defaultMessages = map[Kind]string{
	KindInternal:            "Something went wrong. Please try again.",
	KindValidation:          "The request is invalid.",
	KindStateConflict:       "This action is not allowed in the current state.",
	KindCapacityExceeded:    "Not enough seats available.",
	KindAuth:                "Your session has ended. Please sign in again.",
	KindForbidden:           "You are not allowed to do this.",
	KindNotFound:            "Not found.",
	KindProviderUnavailable: "The map could not be loaded.",
	KindRouteUnavailable:    "No route could be built.",
	KindTimeout:             "The map took too long to load.",
}

// UserMessage returns text safe to show next to the triggering control.
// Internal errors collapse to a generic message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var target *Error
	if !errors.As(err, &target) || target.Kind == KindInternal {
		return defaultMessages[KindInternal]
	}
	if target.Msg != "" {
		return target.Msg
	}
	return defaultMessages[target.Kind]
}

// HTTPStatus maps a Kind to the REST status code used by the server.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindStateConflict:
		return http.StatusConflict
	case KindCapacityExceeded:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTP rebuilds a classified error from a failed REST response. The
// body's error code wins over the status when it names a known Kind.
func FromHTTP(status int, code, msg string) *Error {
	kind := Kind(code)
	if _, known := defaultMessages[kind]; !known {
		switch status {
		case http.StatusBadRequest:
			kind = KindValidation
		case http.StatusUnauthorized:
			kind = KindAuth
		case http.StatusForbidden:
			kind = KindForbidden
		case http.StatusNotFound:
			kind = KindNotFound
		case http.StatusConflict:
			kind = KindStateConflict
		case http.StatusUnprocessableEntity:
			kind = KindCapacityExceeded
		default:
			kind = KindInternal
		}
	}
	if kind == KindInternal {
		return Wrap(kind, "", fmt.Errorf("http %d: %s", status, msg))
	}
	return New(kind, msg)
}
