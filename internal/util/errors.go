package util

import (
	"errors"
	"net/http"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Err        error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the wrapped error for errors.Is/As
func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeMalformedPayload  = "MALFORMED_PAYLOAD"
	ErrCodeRateLimit         = "RATE_LIMIT_EXCEEDED"
	ErrCodeQuotaExceeded     = "QUOTA_EXCEEDED"
	ErrCodeAlreadyRunning    = "ALREADY_RUNNING"
	ErrCodeAlreadyStopping   = "ALREADY_STOPPING"
	ErrCodeSessionNotRunning = "SESSION_NOT_RUNNING"
	ErrCodeAdapterError      = "ADAPTER_ERROR"
	ErrCodeTimedOut          = "TIMED_OUT"
)

// NewAppError creates a new application error
func NewAppError(statusCode int, code, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// NewAppErrorWithDetails creates a new application error with details
func NewAppErrorWithDetails(statusCode int, code, message, details string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Details:    details,
	}
}

// WrapError wraps an existing error
func WrapError(statusCode int, code, message string, err error) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Err:        err,
	}
}

// Common error constructors

func ErrBadRequest(message string) *AppError {
	return NewAppError(http.StatusBadRequest, ErrCodeBadRequest, message)
}

func ErrUnauthorized(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func ErrForbidden(message string) *AppError {
	return NewAppError(http.StatusForbidden, ErrCodeForbidden, message)
}

func ErrNotFound(message string) *AppError {
	return NewAppError(http.StatusNotFound, ErrCodeNotFound, message)
}

func ErrValidation(message string) *AppError {
	return NewAppError(http.StatusBadRequest, ErrCodeValidation, message)
}

func ErrMalformedPayload(message string) *AppError {
	return NewAppError(http.StatusBadRequest, ErrCodeMalformedPayload, message)
}

func ErrInternalServer(message string) *AppError {
	return NewAppError(http.StatusInternalServerError, ErrCodeInternal, message)
}

func ErrRateLimited(message, resetDetails string) *AppError {
	return NewAppErrorWithDetails(http.StatusTooManyRequests, ErrCodeRateLimit, message, resetDetails)
}

func ErrQuotaExceeded(message string) *AppError {
	return NewAppError(http.StatusForbidden, ErrCodeQuotaExceeded, message)
}

func ErrAlreadyRunning(message string) *AppError {
	return NewAppError(http.StatusConflict, ErrCodeAlreadyRunning, message)
}

func ErrAlreadyStopping(message string) *AppError {
	return NewAppError(http.StatusConflict, ErrCodeAlreadyStopping, message)
}

func ErrSessionNotRunning(message string) *AppError {
	return NewAppError(http.StatusConflict, ErrCodeSessionNotRunning, message)
}

func ErrAdapter(message string, err error) *AppError {
	return WrapError(http.StatusBadGateway, ErrCodeAdapterError, message, err)
}

func ErrTimedOut(message string) *AppError {
	return NewAppError(http.StatusGatewayTimeout, ErrCodeTimedOut, message)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from error
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasCode reports whether err is an AppError carrying the given code
func HasCode(err error, code string) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}
