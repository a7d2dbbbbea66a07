// Package exception provides the error types used across famsync.
// It standardizes errors raised while reconciling records so that callers can
// classify them by retry and skip policies and extract clean messages for the
// audit trail.
package exception

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// SyncError is the error type raised by famsync components.
// It holds the module where the error occurred, a message, the wrapped
// original error, and flags indicating whether it is retryable or skippable.
type SyncError struct {
	// Module indicates the module where the error occurred (e.g., "compare", "pipeline", "repository").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// isRetryable indicates whether this error is retryable.
	isRetryable bool
	// isSkippable indicates whether this error is skippable.
	isSkippable bool
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewSyncError creates a new SyncError instance.
// module: The module where the error occurred.
// message: The error message.
// originalErr: The original error to wrap.
// isSkippable: Whether this error is skippable.
// isRetryable: Whether this error is retryable.
func NewSyncError(module, message string, originalErr error, isSkippable, isRetryable bool) *SyncError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &SyncError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  string(buf[:n]),
	}
}

// NewSyncErrorf creates a new SyncError instance using a format string.
// Optional flags and an error are extracted from the end of the variadic
// arguments 'a' in the order: [isSkippable bool], [isRetryable bool],
// [originalErr error]. The remaining arguments are used for fmt.Sprintf.
//
// Examples:
// NewSyncErrorf("compare", "no subject found for %s", "fam_123", true, false, sql.ErrNoRows)
// -> message: "no subject found for fam_123", isSkippable: true, isRetryable: false, originalErr: sql.ErrNoRows
func NewSyncErrorf(module, format string, a ...interface{}) *SyncError {
	var originalErr error
	isRetryable := false
	isSkippable := false
	args := a

	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isRetryable = b
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isSkippable = b
			args = args[:len(args)-1]
		}
	}

	message := fmt.Sprintf(format, args...)

	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &SyncError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  string(buf[:n]),
	}
}

// ErrOptimisticLockingFailure is a sentinel error indicating that a persisted
// record was modified concurrently and the update lost the race.
var ErrOptimisticLockingFailure = errors.New("OptimisticLockingFailureException")

// ErrNotFound is a sentinel error indicating that a requested record does not
// exist in the store.
var ErrNotFound = errors.New("record not found")

// NewOptimisticLockingFailureException creates a SyncError indicating an
// optimistic locking failure. This error is neither retryable nor skippable.
func NewOptimisticLockingFailureException(module, message string, originalErr error) *SyncError {
	var errToWrap error
	if originalErr != nil {
		errToWrap = errors.Join(ErrOptimisticLockingFailure, originalErr)
	} else {
		errToWrap = ErrOptimisticLockingFailure
	}
	return NewSyncError(module, message, errToWrap, false, false)
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *SyncError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *SyncError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *SyncError) IsSkippable() bool {
	return e.isSkippable
}

// IsSyncError determines if the given error is of type SyncError.
func IsSyncError(err error) bool {
	if err == nil {
		return false
	}
	var se *SyncError
	return errors.As(err, &se)
}

// IsTemporary determines if an error is temporary (network error, transient DB
// connection issue). Retry logic consults this. If the error is a SyncError,
// its IsRetryable flag takes precedence.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.IsRetryable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF")
}

// IsFatal determines if an error is fatal (cannot be retried or skipped).
// If the error is a SyncError, its flags take precedence.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var se *SyncError
	if errors.As(err, &se) {
		return !se.IsRetryable() && !se.IsSkippable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid argument") ||
		strings.Contains(errStr, "permission denied")
}

// IsOptimisticLockingFailure determines if an error indicates an optimistic
// locking failure.
func IsOptimisticLockingFailure(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrOptimisticLockingFailure)
}

// IsNotFound determines if an error indicates a missing record.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotFound)
}

// ExtractErrorMessage extracts the error message string from an error.
// For SyncError, it returns the cleaner Message field; otherwise the standard
// Error() string. Audit error rows are built from this.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
