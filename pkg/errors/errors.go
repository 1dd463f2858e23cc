package errors

import "fmt"

// AppError is the structured error type used across the system. It carries a
// stable Code for programmatic classification, a human-readable Message, and
// an optional wrapped cause.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

// New creates an AppError with the given code, message, and optional cause.
func New(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Wrap attaches a message to an existing error without a specific code.
func Wrap(err error, message string) *AppError {
	return &AppError{Code: "WRAPPED", Message: message, Cause: err}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *AppError with the same Code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the Code of err if it is (or wraps) an *AppError.
func CodeOf(err error) (string, bool) {
	var appErr *AppError
	for err != nil {
		if ae, ok := err.(*AppError); ok {
			appErr = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if appErr == nil {
		return "", false
	}
	return appErr.Code, true
}
