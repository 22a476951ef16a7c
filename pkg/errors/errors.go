package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeIdempotency  Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit    Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeDependency   Code = "DEPENDENCY_ERROR"

	// Invoice lifecycle rejections. These are recorded against the idempotency
	// key so replays of the same event return the same failure.
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeDiscountIneligible Code = "DISCOUNT_INELIGIBLE"
	CodeUnderpayment       Code = "UNDERPAYMENT"
)

// Metadata drives how a code surfaces over HTTP and whether callers retry.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func meta(status int, retryable bool, public string, details bool) Metadata {
	return Metadata{HTTPStatus: status, Retryable: retryable, PublicMessage: public, DetailsAllowed: details}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:   meta(http.StatusBadRequest, false, "validation failed", true),
	CodeUnauthorized: meta(http.StatusUnauthorized, false, "authentication required", false),
	CodeForbidden:    meta(http.StatusForbidden, false, "access denied", false),
	CodeNotFound:     meta(http.StatusNotFound, false, "resource not found", false),
	CodeConflict:     meta(http.StatusConflict, false, "conflict detected", false),
	CodeIdempotency:  meta(http.StatusConflict, false, "idempotency key reused", true),
	CodeRateLimit:    meta(http.StatusTooManyRequests, false, "rate limit exceeded", false),
	CodeInternal:     meta(http.StatusInternalServerError, true, "internal server error", false),
	CodeDependency:   meta(http.StatusServiceUnavailable, true, "dependency unavailable", true),

	CodeInvalidTransition:  meta(http.StatusUnprocessableEntity, false, "state transition disallowed", true),
	CodeDiscountIneligible: meta(http.StatusUnprocessableEntity, false, "discount not applicable", true),
	CodeUnderpayment:       meta(http.StatusUnprocessableEntity, false, "paid amount below amount due", true),
}

// MetadataFor returns the metadata registered for code. Unknown codes get
// the internal error metadata.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
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

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// IsRetryable reports whether err carries a code that callers may safely retry.
func IsRetryable(err error) bool {
	typed := As(err)
	if typed == nil {
		return false
	}
	return MetadataFor(typed.Code()).Retryable
}

// CodeOf returns the typed code carried by err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
