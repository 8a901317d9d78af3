package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AppError represents an application-level error with HTTP status code
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"-"`
	// RetryAfterSeconds is set only for rate-limit errors.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports code equality so predefined errors match wrapped copies
// carrying extra detail.
func (e *AppError) Is(target error) bool {
	var appErr *AppError
	if errors.As(target, &appErr) {
		return e.Code == appErr.Code
	}
	return false
}

// Common error codes
const (
	ErrCodeBadRequest             = "bad_request"
	ErrCodeUnauthorized           = "unauthorized"
	ErrCodeForbidden              = "forbidden"
	ErrCodeNotFound               = "not_found"
	ErrCodeConflict               = "conflict"
	ErrCodeInternalError          = "internal_error"
	ErrCodeInvalidChallenge       = "invalid_challenge"
	ErrCodeExpiredChallenge       = "expired_challenge"
	ErrCodeUsedChallenge          = "used_challenge"
	ErrCodeInvalidSignature       = "invalid_signature"
	ErrCodeAuthenticationFailure  = "authentication_failure"
	ErrCodeDecryptionFailure      = "decryption_failure"
	ErrCodeSessionNotFound        = "session_not_found"
	ErrCodeSessionExpired         = "session_expired"
	ErrCodeEmergencyStopActive    = "emergency_stop_active"
	ErrCodeExecutionNotAuthorized = "execution_not_authorized"
	ErrCodePolicyTampered         = "policy_tampered"
	ErrCodeRateLimited            = "rate_limited"
	ErrCodeStorageUnavailable     = "storage_unavailable"
)

// Predefined errors
var (
	ErrBadRequest = &AppError{
		Code:       ErrCodeBadRequest,
		Message:    "Invalid request parameters",
		StatusCode: http.StatusBadRequest,
	}

	ErrUnauthorized = &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       ErrCodeForbidden,
		Message:    "Access denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrConflict = &AppError{
		Code:       ErrCodeConflict,
		Message:    "Resource already exists",
		StatusCode: http.StatusConflict,
	}

	ErrInternalError = &AppError{
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrInvalidChallenge = &AppError{
		Code:       ErrCodeInvalidChallenge,
		Message:    "Challenge not found for this wallet and purpose",
		StatusCode: http.StatusUnauthorized,
	}

	ErrExpiredChallenge = &AppError{
		Code:       ErrCodeExpiredChallenge,
		Message:    "Challenge has expired, request a new one",
		StatusCode: http.StatusUnauthorized,
	}

	ErrUsedChallenge = &AppError{
		Code:       ErrCodeUsedChallenge,
		Message:    "Challenge has already been used",
		StatusCode: http.StatusConflict,
	}

	ErrInvalidSignature = &AppError{
		Code:       ErrCodeInvalidSignature,
		Message:    "Signature verification failed",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrAuthenticationFailure covers AEAD tag mismatch. Wrong key and
	// tampered ciphertext are deliberately not distinguished.
	ErrAuthenticationFailure = &AppError{
		Code:       ErrCodeAuthenticationFailure,
		Message:    "Ciphertext authentication failed",
		StatusCode: http.StatusInternalServerError,
	}

	ErrDecryptionFailure = &AppError{
		Code:       ErrCodeDecryptionFailure,
		Message:    "Stored secret could not be decrypted with the current server secret",
		StatusCode: http.StatusInternalServerError,
	}

	ErrSessionNotFound = &AppError{
		Code:       ErrCodeSessionNotFound,
		Message:    "Session not found",
		StatusCode: http.StatusUnauthorized,
	}

	ErrSessionExpired = &AppError{
		Code:       ErrCodeSessionExpired,
		Message:    "Session has expired",
		StatusCode: http.StatusUnauthorized,
	}

	ErrEmergencyStopActive = &AppError{
		Code:       ErrCodeEmergencyStopActive,
		Message:    "Emergency stop is active for this wallet",
		StatusCode: http.StatusForbidden,
	}

	ErrExecutionNotAuthorized = &AppError{
		Code:       ErrCodeExecutionNotAuthorized,
		Message:    "Headless execution is not authorized for this wallet",
		StatusCode: http.StatusForbidden,
	}

	ErrPolicyTampered = &AppError{
		Code:       ErrCodePolicyTampered,
		Message:    "Policy does not match its committed integrity check",
		StatusCode: http.StatusConflict,
	}

	ErrStorageUnavailable = &AppError{
		Code:       ErrCodeStorageUnavailable,
		Message:    "Storage backend unavailable",
		StatusCode: http.StatusServiceUnavailable,
	}
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// BadRequest creates a bad request error with detail
func BadRequest(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    "Invalid request parameters",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// InvalidChallenge creates an invalid challenge error with detail
func InvalidChallenge(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidChallenge,
		Message:    "Challenge not found for this wallet and purpose",
		Detail:     detail,
		StatusCode: http.StatusUnauthorized,
	}
}

// InvalidSignature creates an invalid signature error with detail
func InvalidSignature(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidSignature,
		Message:    "Signature verification failed",
		Detail:     detail,
		StatusCode: http.StatusUnauthorized,
	}
}

// RateLimited creates a rate limit error carrying the retry-after hint
func RateLimited(retryAfter time.Duration) *AppError {
	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return &AppError{
		Code:              ErrCodeRateLimited,
		Message:           "Rate limit exceeded",
		Detail:            fmt.Sprintf("retry after %ds", secs),
		StatusCode:        http.StatusTooManyRequests,
		RetryAfterSeconds: secs,
	}
}

// StorageUnavailable wraps a storage-layer failure. Storage errors are
// fatal to the current operation and never silently swallowed.
func StorageUnavailable(err error) *AppError {
	return &AppError{
		Code:       ErrCodeStorageUnavailable,
		Message:    "Storage backend unavailable",
		Detail:     err.Error(),
		StatusCode: http.StatusServiceUnavailable,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
