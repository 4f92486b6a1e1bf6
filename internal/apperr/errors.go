// Package apperr holds the error taxonomy shared by the realtime and REST layers.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrUpstream        = errors.New("upstream error")
	ErrInternal        = errors.New("internal error")
)

// FieldError describes one failed field check.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// Error carries a kind from the taxonomy, a client-safe message and an optional cause.
type Error struct {
	Kind    error
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func New(kind error, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func Wrap(kind error, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(msg string) *Error   { return New(ErrValidation, msg) }
func Forbidden(msg string) *Error    { return New(ErrForbidden, msg) }
func NotFound(msg string) *Error     { return New(ErrNotFound, msg) }
func InvalidState(msg string) *Error { return New(ErrInvalidState, msg) }
func Conflict(msg string) *Error     { return New(ErrConflict, msg) }

func Upstream(msg string, err error) *Error { return Wrap(ErrUpstream, msg, err) }
func Internal(err error) *Error             { return Wrap(ErrInternal, "internal error", err) }

var kinds = []struct {
	kind   error
	code   string
	status int
}{
	{ErrValidation, "validation_error", http.StatusBadRequest},
	{ErrUnauthenticated, "unauthenticated", http.StatusUnauthorized},
	{ErrForbidden, "forbidden", http.StatusForbidden},
	{ErrNotFound, "not_found", http.StatusNotFound},
	{ErrInvalidState, "invalid_state", http.StatusConflict},
	{ErrConflict, "conflict", http.StatusConflict},
	{ErrRateLimited, "rate_limited", http.StatusTooManyRequests},
	{ErrUpstream, "upstream_error", http.StatusBadGateway},
	{ErrInternal, "internal_error", http.StatusInternalServerError},
}

// KindOf returns the taxonomy kind of err. Anything unclassified is ErrInternal.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			return k.kind
		}
	}
	return ErrInternal
}

// Code returns the machine-readable code for err.
func Code(err error) string {
	kind := KindOf(err)
	for _, k := range kinds {
		if k.kind == kind {
			return k.code
		}
	}
	return "internal_error"
}

// HTTPStatus maps err onto a response status.
func HTTPStatus(err error) int {
	kind := KindOf(err)
	for _, k := range kinds {
		if k.kind == kind {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// Message returns the text that is safe to show a client. Internal details never leak.
func Message(err error) string {
	if KindOf(err) == ErrInternal {
		return ErrInternal.Error()
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return KindOf(err).Error()
}

// Fields returns per-field details attached to a validation error, if any.
func Fields(err error) []FieldError {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
