package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Standard error types
var (
	ErrNotFound            = errors.New("resource not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenInvalid        = errors.New("invalid token")
	ErrForbidden           = errors.New("forbidden")
	ErrBadRequest          = errors.New("bad request")
	ErrConflict            = errors.New("resource conflict")
	ErrInternal            = errors.New("internal server error")
	ErrValidation          = errors.New("validation error")
	ErrInvalidState        = errors.New("invalid state")
	ErrLimitExceeded       = errors.New("overtime limit exceeded")
	ErrConflictingSchedule = errors.New("conflicting schedule")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransient           = errors.New("transient failure")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails merges details into the error.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail.
func (e *AppError) WithDetail(key, value string) *AppError {
	return e.WithDetails(map[string]string{key: value})
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Details:    map[string]string{"resource": resource},
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func TokenExpired() *AppError {
	return &AppError{
		Err:        ErrTokenExpired,
		Code:       "TOKEN_EXPIRED",
		Message:    "token has expired",
		StatusCode: http.StatusUnauthorized,
	}
}

func TokenInvalid() *AppError {
	return &AppError{
		Err:        ErrTokenInvalid,
		Code:       "TOKEN_INVALID",
		Message:    "invalid token",
		StatusCode: http.StatusUnauthorized,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// InvalidState reports an operation attempted from a status that forbids it.
// The current status is always part of the details.
func InvalidState(resource, current string, allowed ...string) *AppError {
	msg := fmt.Sprintf("%s is %s", resource, current)
	details := map[string]string{"resource": resource, "current_status": current}
	if len(allowed) > 0 {
		msg = fmt.Sprintf("%s is %s, expected %s", resource, current, strings.Join(allowed, " or "))
		details["allowed_status"] = strings.Join(allowed, ",")
	}
	return &AppError{
		Err:        ErrInvalidState,
		Code:       "INVALID_STATE",
		Message:    msg,
		StatusCode: http.StatusConflict,
		Details:    details,
	}
}

// LimitExceeded reports a hard cap rejection. figures carries the used and
// limit values of every configured cap.
func LimitExceeded(figures map[string]string) *AppError {
	return &AppError{
		Err:        ErrLimitExceeded,
		Code:       "LIMIT_EXCEEDED",
		Message:    "overtime cap reached, no headroom left",
		StatusCode: http.StatusUnprocessableEntity,
		Details:    figures,
	}
}

// ConflictingSchedule reports overlapping leave or recovery windows.
// windows maps a conflict label to its date range.
func ConflictingSchedule(windows map[string]string) *AppError {
	keys := make([]string, 0, len(windows))
	for k := range windows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &AppError{
		Err:        ErrConflictingSchedule,
		Code:       "CONFLICTING_SCHEDULE",
		Message:    fmt.Sprintf("requested window overlaps %s", strings.Join(keys, ", ")),
		StatusCode: http.StatusConflict,
		Details:    windows,
	}
}

func InsufficientBalance(available, required string) *AppError {
	return &AppError{
		Err:        ErrInsufficientBalance,
		Code:       "INSUFFICIENT_BALANCE",
		Message:    fmt.Sprintf("insufficient overtime balance: %s hours available, %s required", available, required),
		StatusCode: http.StatusUnprocessableEntity,
		Details:    map[string]string{"available_hours": available, "required_hours": required},
	}
}

// Transient wraps an infrastructure failure that may succeed on retry.
func Transient(err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", ErrTransient, err),
		Code:       "TRANSIENT",
		Message:    "temporary infrastructure failure",
		StatusCode: http.StatusServiceUnavailable,
	}
}

// IsRetryable reports whether err belongs to the transient class.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Code extracts the AppError code, INTERNAL_ERROR otherwise.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "INTERNAL_ERROR"
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
