// Package apperr defines the error taxonomy shared by every component of the
// media engine and its HTTP mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable error category. The string value is what error
// responses carry as their machine-readable code.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindUnauthorized        Kind = "unauthorized"
	KindNotAuthorized       Kind = "not_authorized"
	KindTokenLocked         Kind = "token_locked"
	KindNotFound            Kind = "not_found"
	KindPayloadTooLarge     Kind = "payload_too_large"
	KindUnsupportedMedia    Kind = "unsupported_media_type"
	KindUpdateCooldown      Kind = "update_cooldown"
	KindRateLimitExceeded   Kind = "rate_limit_exceeded"
	KindUploadSessionError  Kind = "upload_session_error"
	KindInvalidSignature    Kind = "invalid_signature"
	KindInternal            Kind = "internal_error"
)

var statusByKind = map[Kind]int{
	KindValidation:         http.StatusBadRequest,
	KindUnauthorized:       http.StatusUnauthorized,
	KindNotAuthorized:      http.StatusForbidden,
	KindTokenLocked:        http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindPayloadTooLarge:    http.StatusRequestEntityTooLarge,
	KindUnsupportedMedia:   http.StatusUnsupportedMediaType,
	KindUpdateCooldown:     http.StatusTooManyRequests,
	KindRateLimitExceeded:  http.StatusTooManyRequests,
	KindUploadSessionError: http.StatusBadRequest,
	KindInvalidSignature:   http.StatusBadRequest,
	KindInternal:           http.StatusInternalServerError,
}

// Error is the single error type that every package in this module returns
// for anything that should reach a client with a specific status code.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// StatusCode returns the fixed HTTP status for this error's Kind.
func (e *Error) StatusCode() int {
	if code, ok := statusByKind[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// IsServerError reports whether this error belongs to the 5xx group.
func (e *Error) IsServerError() bool { return e.StatusCode() >= 500 }

func new_(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(message string) *Error         { return new_(KindValidation, message, nil) }
func Unauthorized(message string) *Error       { return new_(KindUnauthorized, message, nil) }
func NotAuthorized(message string) *Error      { return new_(KindNotAuthorized, message, nil) }
func TokenLocked(message string) *Error        { return new_(KindTokenLocked, message, nil) }
func NotFound(message string) *Error           { return new_(KindNotFound, message, nil) }
func PayloadTooLarge(message string) *Error    { return new_(KindPayloadTooLarge, message, nil) }
func UnsupportedMedia(message string) *Error    { return new_(KindUnsupportedMedia, message, nil) }
func UpdateCooldown(message string) *Error      { return new_(KindUpdateCooldown, message, nil) }
func RateLimitExceeded(message string) *Error   { return new_(KindRateLimitExceeded, message, nil) }
func UploadSessionError(message string) *Error  { return new_(KindUploadSessionError, message, nil) }
func InvalidSignature(message string) *Error    { return new_(KindInvalidSignature, message, nil) }

// Internal wraps an unexpected error (I/O, invariant failure, etc). The
// client only ever sees a generic message; the cause is for logs.
func Internal(cause error) *Error {
	return new_(KindInternal, "an internal error occurred", cause)
}

func Internalf(format string, args ...any) *Error {
	return Internal(fmt.Errorf(format, args...))
}

// As extracts an *Error from err, following the same pattern as errors.As.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Wrap ensures err is an *Error, defaulting to KindInternal if it is not
// already tagged.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return Internal(err)
}
