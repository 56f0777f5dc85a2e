package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// AppError represents application-level error with HTTP status.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// StatusCode reports the HTTP status the error renders with.
func (e *AppError) StatusCode() int {
	return e.Status
}

// Unwrap returns underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error.
func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Field:   field,
		Status:  status,
	}
}

// WithParam sets a single error param.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

// WithError wraps an underlying error.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func errorf(code string, status int) func(string, ...interface{}) *AppError {
	return func(format string, a ...interface{}) *AppError {
		return NewAppError(code, "", fmt.Sprintf(format, a...), status)
	}
}

// Formatting constructors for the statuses the API returns.
var (
	NotFoundErrorf        = errorf("ERR_NOT_FOUND", http.StatusNotFound)
	BadRequestErrorf      = errorf("ERR_BAD_REQUEST", http.StatusBadRequest)
	UnavailableErrorf     = errorf("ERR_UNAVAILABLE", http.StatusServiceUnavailable)
	InternalErrorf        = errorf("ERR_INTERNAL", http.StatusInternalServerError)
	TooManyRequestsErrorf = errorf("ERR_RATE_LIMITED", http.StatusTooManyRequests)
)

// AsAppError converts any handler error into an AppError. Echo routing
// errors keep their status; everything else becomes an opaque 500.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		code := "ERR_HTTP_" + strconv.Itoa(he.Code)
		switch he.Code {
		case http.StatusNotFound:
			code = "ERR_NOT_FOUND"
		case http.StatusBadRequest:
			code = "ERR_BAD_REQUEST"
		case http.StatusInternalServerError:
			code = "ERR_INTERNAL"
		}
		return NewAppError(code, "", msg, he.Code).WithError(he.Internal)
	}
	return InternalErrorf("something went wrong").WithError(err)
}
