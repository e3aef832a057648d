package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a clipkeep error code.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrWrongPassphrase   ErrorCode = "WRONG_PASSPHRASE"   // 401
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrFileNotFound      ErrorCode = "FILE_NOT_FOUND"     // 404
	ErrConflict          ErrorCode = "CONFLICT"           // 409
	ErrStoreWriteFailed  ErrorCode = "STORE_WRITE_FAILED" // 500
	ErrEncryptionFailure ErrorCode = "ENCRYPTION_FAILURE" // 500
	ErrInternal          ErrorCode = "INTERNAL"           // 500
	ErrCapture           ErrorCode = "CAPTURE_ERROR"      // 503 (never shown to the user)
)

// ClipError represents a structured error with code, status, and details.
type ClipError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *ClipError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ClipError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *ClipError {
	return &ClipError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewWrongPassphrase creates a 401 error when the derived key does not open the keyring.
func NewWrongPassphrase() *ClipError {
	return &ClipError{
		Code:    ErrWrongPassphrase,
		Status:  401,
		Message: "passphrase does not match the keyring for this store",
	}
}

// NewNotFound creates a 404 error for when a record cannot be found.
func NewNotFound(id string) *ClipError {
	return &ClipError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("record not found: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewFileNotFound creates a 404 error for a missing export/import file.
func NewFileNotFound(path string) *ClipError {
	return &ClipError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewConflict creates a 409 error for state conflicts (e.g. pinned ceiling reached).
func NewConflict(msg string) *ClipError {
	return &ClipError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewStoreWriteFailed creates a 500 error for a write that failed after its retry.
func NewStoreWriteFailed(op string, err error) *ClipError {
	msg := op + " failed"
	if err != nil {
		msg = fmt.Sprintf("%s failed: %v", op, err)
	}
	return &ClipError{
		Code:    ErrStoreWriteFailed,
		Status:  500,
		Message: msg,
		Details: map[string]any{"op": op},
		cause:   err,
	}
}

// NewEncryptionFailure creates a 500 error for seal/open failures.
// The affected record is dropped; it is never stored in plaintext.
func NewEncryptionFailure(err error) *ClipError {
	msg := "encryption failure"
	if err != nil {
		msg = fmt.Sprintf("encryption failure: %v", err)
	}
	return &ClipError{
		Code:    ErrEncryptionFailure,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// NewCaptureError creates a transient clipboard read error.
// Capture errors are logged by the monitor and never surfaced to the UI.
func NewCaptureError(slot string, err error) *ClipError {
	msg := fmt.Sprintf("clipboard read failed for %s", slot)
	if err != nil {
		msg = fmt.Sprintf("clipboard read failed for %s: %v", slot, err)
	}
	return &ClipError{
		Code:    ErrCapture,
		Status:  503,
		Message: msg,
		Details: map[string]any{"slot": slot},
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *ClipError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &ClipError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if err (or anything it wraps) is a ClipError with the given code.
func Is(err error, code ErrorCode) bool {
	var cErr *ClipError
	if stderrors.As(err, &cErr) {
		return cErr.Code == code
	}
	return false
}

// CodeOf returns the code of a ClipError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var cErr *ClipError
	if stderrors.As(err, &cErr) {
		return cErr.Code
	}
	return ErrInternal
}

// As returns the ClipError in err's chain, if any.
func As(err error) (*ClipError, bool) {
	var cErr *ClipError
	ok := stderrors.As(err, &cErr)
	return cErr, ok
}
