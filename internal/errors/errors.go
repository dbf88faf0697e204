package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so wrapped sentinels
// still compare equal under errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigNotFound = &AppError{Code: "CONFIG_001", Message: "configuration not found"}
	ErrConfigInvalid  = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}

	ErrUserNotFound = &AppError{Code: "USER_001", Message: "user not found"}
	ErrEmailTaken   = &AppError{Code: "USER_002", Message: "email already registered"}

	ErrDeviceNotFound   = &AppError{Code: "DEV_001", Message: "device not found"}
	ErrInvalidDeviceKey = &AppError{Code: "DEV_002", Message: "invalid device API key"}
	ErrChipIDTaken      = &AppError{Code: "DEV_003", Message: "chip id already paired"}

	ErrScheduleNotFound = &AppError{Code: "SCHED_001", Message: "schedule not found"}
	ErrInvalidDoseTime  = &AppError{Code: "SCHED_002", Message: "invalid dose time"}

	ErrMedlogNotFound = &AppError{Code: "MEDLOG_001", Message: "medlog not found"}
	ErrInvalidStatus  = &AppError{Code: "MEDLOG_002", Message: "invalid medlog status"}

	ErrNotificationNotFound = &AppError{Code: "NOTIF_001", Message: "notification not found"}

	ErrStorageUnavailable = &AppError{Code: "STORE_001", Message: "storage unavailable"}
	ErrCircuitOpen        = &AppError{Code: "STORE_002", Message: "storage circuit open"}

	ErrUnauthorized = &AppError{Code: "AUTH_001", Message: "unauthorized"}
	ErrForbidden    = &AppError{Code: "AUTH_002", Message: "forbidden"}
	ErrBadLogin     = &AppError{Code: "AUTH_003", Message: "incorrect email or password"}

	ErrNotFound    = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest  = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal    = &AppError{Code: "GEN_003", Message: "internal error"}
	ErrRateLimited = &AppError{Code: "GEN_004", Message: "rate limit exceeded"}
)

// IsAppError reports whether err is or wraps an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetCode returns the code of the outermost AppError in err's chain.
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithCause returns a copy of a sentinel carrying cause.
func (e *AppError) WithCause(cause error) *AppError {
	return &AppError{Code: e.Code, Message: e.Message, Cause: cause}
}
