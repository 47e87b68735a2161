package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInvalidToken = "INVALID_TOKEN"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeForbidden    = "FORBIDDEN"

	CodeBadRequest       = "BAD_REQUEST"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeMissingField     = "MISSING_FIELD"

	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeNotConfigured = "NOT_CONFIGURED"
	CodeRejected      = "REJECTED"
	CodeRateLimited   = "RATE_LIMITED"

	CodeDatabaseError = "DATABASE_ERROR"
	CodeExternalError = "EXTERNAL_ERROR"
	CodeUnavailable   = "SERVICE_UNAVAILABLE"
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
)

// AppError is the error envelope rendered by the HTTP error handler.
// Status is the HTTP status; Err is logged but never sent to clients.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) HTTPStatus() int { return e.Status }

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func field(code, name, message string) *AppError {
	return New(code, message, http.StatusBadRequest).WithDetail("field", name)
}

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(message string) *AppError {
	return New(CodeInvalidToken, message, http.StatusUnauthorized)
}

func TokenExpired() *AppError {
	return New(CodeTokenExpired, "token expired", http.StatusUnauthorized)
}

func BadRequest(message string) *AppError {
	return New(CodeBadRequest, message, http.StatusBadRequest)
}

func ValidationFailed(message string) *AppError {
	return New(CodeValidationFailed, message, http.StatusBadRequest)
}

func InvalidInput(name, reason string) *AppError {
	return field(CodeInvalidInput, name, fmt.Sprintf("invalid input for '%s': %s", name, reason))
}

func MissingField(name string) *AppError {
	return field(CodeMissingField, name, fmt.Sprintf("missing required field: %s", name))
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NotConfigured and Rejected are business outcomes, not faults; callers branch on Code.
func NotConfigured(what string) *AppError {
	return New(CodeNotConfigured, fmt.Sprintf("%s not configured", what), http.StatusUnprocessableEntity)
}

func Rejected(code, message string) *AppError {
	if code == "" {
		code = CodeRejected
	}
	return New(code, message, http.StatusUnprocessableEntity)
}

// RateLimited reports when the caller may retry, in whole seconds.
func RateLimited(retryAfterSeconds int) *AppError {
	if retryAfterSeconds < 0 {
		retryAfterSeconds = 0
	}
	return New(CodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetail("retry_after", retryAfterSeconds)
}

func DatabaseError(operation string, err error) *AppError {
	return New(CodeDatabaseError, fmt.Sprintf("database error: %s", operation), http.StatusInternalServerError).
		WithError(err)
}

func ExternalError(service string, err error) *AppError {
	return New(CodeExternalError, fmt.Sprintf("external service error: %s", service), http.StatusBadGateway).
		WithDetail("service", service).
		WithError(err)
}

func InternalWithError(err error) *AppError {
	return New(CodeInternalError, "internal server error", http.StatusInternalServerError).WithError(err)
}

func ConfigError(message string) *AppError {
	return New(CodeConfigError, message, http.StatusInternalServerError)
}

func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// CodeForStatus names the envelope code for errors that carry only a status.
func CodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeValidationFailed
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusInternalServerError:
		return CodeInternalError
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return CodeUnavailable
	default:
		return "UNKNOWN_ERROR"
	}
}
