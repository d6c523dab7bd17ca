package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeGateway       Code = "GATEWAY_ERROR"
	CodeDelivery      Code = "DELIVERY_FAILED"
	CodeUnreachable   Code = "RECIPIENT_UNREACHABLE"
)

// Metadata drives how a code is rendered to API callers and operators.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	retryable = true
	final     = false
	public    = true
	private   = false
)

var metadataByCode = map[Code]Metadata{
	CodeValidation:    {http.StatusBadRequest, final, "validation failed", public},
	CodeUnauthorized:  {http.StatusUnauthorized, final, "authentication required", private},
	CodeForbidden:     {http.StatusForbidden, final, "access denied", private},
	CodeNotFound:      {http.StatusNotFound, final, "resource not found", private},
	CodeConflict:      {http.StatusConflict, final, "conflict detected", private},
	CodeStateConflict: {http.StatusUnprocessableEntity, final, "state transition disallowed", public},
	CodeIdempotency:   {http.StatusConflict, final, "idempotency key reused", public},
	CodeInternal:      {http.StatusInternalServerError, retryable, "internal server error", private},
	CodeDependency:    {http.StatusServiceUnavailable, retryable, "dependency unavailable", public},
	CodeGateway:       {http.StatusBadGateway, retryable, "payment gateway error", public},
	CodeDelivery:      {http.StatusBadGateway, final, "message delivery failed", public},
	CodeUnreachable:   {http.StatusUnprocessableEntity, final, "recipient unreachable", public},
}

// MetadataFor falls back to the internal error entry for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded error. Package-level sentinels are shared, so every
// modifier returns a copy.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
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

// WithDetails returns a copy of e carrying details. The copy still matches e
// under errors.Is.
func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.details = details
	cp.cause = &origin{sentinel: e, cause: e.cause}
	return &cp
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

// origin links a detailed copy back to the error it was derived from.
type origin struct {
	sentinel *Error
	cause    error
}

func (o *origin) Error() string {
	if o.cause != nil {
		return o.cause.Error()
	}
	return o.sentinel.Error()
}

func (o *origin) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t == o.sentinel
}

func (o *origin) Unwrap() error { return o.cause }

// IsCode reports whether any typed error in the chain carries code.
func IsCode(err error, code Code) bool {
	for err != nil {
		var typed *Error
		if !stdErrors.As(err, &typed) {
			return false
		}
		if typed.code == code {
			return true
		}
		err = typed.cause
	}
	return false
}

// IsRetryable uses the outermost code. Untyped errors are transport-level and
// count as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if typed := As(err); typed != nil {
		return MetadataFor(typed.code).Retryable
	}
	return true
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
