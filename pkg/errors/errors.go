package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the stable, client-visible identifier of a failure class.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// CodeReconnectRequired marks a marketplace connection whose credentials
	// can no longer be refreshed without the seller re-authorizing.
	CodeReconnectRequired Code = "RECONNECT_REQUIRED"
)

// Metadata controls how a code is rendered on the wire. ClientMessage lets the
// error's own message replace PublicMessage; server-side codes never leak it.
type Metadata struct {
	HTTPStatus     int
	PublicMessage  string
	ClientMessage  bool
	DetailsAllowed bool
}

var codes = map[Code]Metadata{
	CodeValidation:        {http.StatusBadRequest, "validation failed", true, true},
	CodeUnauthorized:      {http.StatusUnauthorized, "authentication required", true, false},
	CodeNotFound:          {http.StatusNotFound, "resource not found", true, false},
	CodeConflict:          {http.StatusConflict, "conflict detected", true, false},
	CodeStateConflict:     {http.StatusUnprocessableEntity, "state transition disallowed", true, true},
	CodeReconnectRequired: {http.StatusConflict, "marketplace connection must be re-authorized", true, true},
	CodeRateLimit:         {http.StatusTooManyRequests, "rate limit exceeded", true, false},
	CodeInternal:          {http.StatusInternalServerError, "internal server error", false, false},
	CodeDependency:        {http.StatusServiceUnavailable, "dependency unavailable", false, true},
}

// Metadata falls back to CodeInternal for codes nobody registered.
func (c Code) Metadata() Metadata {
	if meta, ok := codes[c]; ok {
		return meta
	}
	return codes[CodeInternal]
}

// Rendered is the part of an error a client is allowed to see.
type Rendered struct {
	Status  int
	Code    Code
	Message string
	Details any
}

// Render maps err onto its public form. Untyped errors become INTERNAL_ERROR and
// their text is dropped.
func Render(err error) Rendered {
	typed := As(err)
	if typed == nil {
		typed = New(CodeInternal, "")
	}
	meta := typed.Code().Metadata()
	out := Rendered{Status: meta.HTTPStatus, Code: typed.Code(), Message: meta.PublicMessage}
	if meta.ClientMessage && typed.Message() != "" {
		out.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		out.Details = typed.Details()
	}
	return out
}

// Error is a coded error with an optional cause and client-facing details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap with a nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails mutates e and returns it for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.message == "" && e.cause != nil:
		return fmt.Sprintf("%s: %v", e.code, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// IsCode reports whether the outermost typed error in err's chain has code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
