package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind buckets every engine error for propagation and HTTP mapping.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindNotFound               Kind = "not_found"
	KindIllegalStateTransition Kind = "illegal_state_transition"
	KindConflict               Kind = "conflict"
	KindAccountBlocked         Kind = "account_blocked"
	KindExternalTransient      Kind = "external_transient"
	KindExternalPermanent      Kind = "external_permanent"
	KindInternal               Kind = "internal"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the Kind of err, defaulting to internal for unclassified errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

func IsValidation(err error) bool    { return Is(err, KindValidation) }
func IsNotFound(err error) bool      { return Is(err, KindNotFound) }
func IsIllegalState(err error) bool  { return Is(err, KindIllegalStateTransition) }
func IsConflict(err error) bool      { return Is(err, KindConflict) }
func IsBlocked(err error) bool       { return Is(err, KindAccountBlocked) }
func IsTransient(err error) bool     { return Is(err, KindExternalTransient) }
func IsPermanent(err error) bool     { return Is(err, KindExternalPermanent) }

// HTTPStatus maps an error kind to the response code served at the edge.
// Internal errors stay opaque: the handler serves the status and logs the rest.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindIllegalStateTransition:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindAccountBlocked:
		return http.StatusForbidden
	case KindExternalTransient:
		return http.StatusBadGateway
	case KindExternalPermanent:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
