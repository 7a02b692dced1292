package core

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return fmt.Sprintf("%s: %s", err.Fields[0].Field, err.Fields[0].Error)
		}
		return ""
	}
	return err.Err.Error()
}

// APIError is an error that knows which HTTP status it maps to.
type APIError struct {
	Code    int
	Message string
	Details interface{}
}

func NewAPIError(code int, msg string, details ...interface{}) *APIError {
	if msg == "" {
		msg = http.StatusText(code)
	}
	apiErr := &APIError{Code: code, Message: msg}
	if len(details) > 0 {
		apiErr.Details = details[0]
	}
	return apiErr
}

func (err *APIError) Error() string {
	return err.Message
}

func BadRequest(msg string, details ...interface{}) *APIError {
	return NewAPIError(http.StatusBadRequest, msg, details...)
}

func Unauthorized(msg string) *APIError {
	return NewAPIError(http.StatusUnauthorized, msg)
}

func Forbidden(msg string) *APIError {
	return NewAPIError(http.StatusForbidden, msg)
}

func NotFound(msg string) *APIError {
	return NewAPIError(http.StatusNotFound, msg)
}

func Conflict(msg string, details ...interface{}) *APIError {
	return NewAPIError(http.StatusConflict, msg, details...)
}

func TooManyRequests(msg string) *APIError {
	return NewAPIError(http.StatusTooManyRequests, msg)
}

func Internal(msg string) *APIError {
	return NewAPIError(http.StatusInternalServerError, msg)
}

func ServiceUnavailable(msg string) *APIError {
	return NewAPIError(http.StatusServiceUnavailable, msg)
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
