package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies sign-in failures so the HTTP boundary can answer each
// one differently.
type Kind string

const (
	KindInvalidRequest Kind = "INVALID_REQUEST"
	KindUpstream       Kind = "UPSTREAM_ERROR"
	KindValidation     Kind = "VALIDATION_ERROR"
)

// Validation codes.
const (
	CodeMissingContactField = "MISSING_CONTACT_FIELD"
	CodeDomainNotAllowed    = "DOMAIN_NOT_ALLOWED"
	CodeUsernameTaken       = "USERNAME_TAKEN"
)

// Error is a classified sign-in error.
type Error struct {
	Kind Kind
	// Code refines Kind; for validation errors it is one of the Code* constants.
	Code    string
	Message string
	// Payload is the raw provider response, kept for diagnostics.
	Payload string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Payload != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Payload)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidRequest, KindValidation:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func InvalidRequest(message string) *Error {
	return &Error{Kind: KindInvalidRequest, Code: string(KindInvalidRequest), Message: message}
}

func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

// Upstream wraps a failed provider call. payload is the response body, if any.
func Upstream(message, payload string, err error) *Error {
	return &Error{Kind: KindUpstream, Code: string(KindUpstream), Message: message, Payload: payload, Err: err}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}
