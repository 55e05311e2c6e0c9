package txq

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured transmit-queue error with context and
// errno mapping.
type Error struct {
	Op    string    // Operation that failed (e.g. "SETUP", "RELEASE")
	Port  int       // Port number (-1 if not applicable)
	Queue int       // Queue index (-1 if not applicable)
	Code  ErrorCode // High-level error category
	Errno int32     // Native device error code (0 if not applicable)
	Msg   string    // Human-readable message
	Inner error     // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.Port >= 0 {
		parts = append(parts, fmt.Sprintf("port=%d", e.Port))
	}

	if e.Queue >= 0 {
		parts = append(parts, fmt.Sprintf("queue=%d", e.Queue))
	}

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("txq: %s (%s)", msg, parts[0])
	}

	return fmt.Sprintf("txq: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support so callers can match on categories
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}

	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeUnsupportedOffload ErrorCode = "unsupported offload"
	ErrCodeIndexOutOfRange    ErrorCode = "queue index out of range"
	ErrCodeQueueBusy          ErrorCode = "queue busy"
	ErrCodeAllocationFailure  ErrorCode = "allocation failure"
	ErrCodeHardware           ErrorCode = "hardware error"
	ErrCodeConfigMismatch     ErrorCode = "configuration mismatch"
	ErrCodeAddressConsistency ErrorCode = "doorbell address consistency violation"
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		Port:  -1,
		Queue: -1,
		Code:  code,
		Msg:   msg,
	}
}

// NewQueueError creates a new queue-specific error
func NewQueueError(op string, port, queue int, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		Port:  port,
		Queue: queue,
		Code:  code,
		Msg:   msg,
	}
}

// WrapError wraps an existing error with transmit-queue context
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}

	// If it's already a structured error, just update the operation
	if te, ok := inner.(*Error); ok {
		return &Error{
			Op:    op,
			Port:  te.Port,
			Queue: te.Queue,
			Code:  te.Code,
			Errno: te.Errno,
			Msg:   te.Msg,
			Inner: te.Inner,
		}
	}

	e := &Error{
		Op:    op,
		Port:  -1,
		Queue: -1,
		Code:  code,
		Msg:   inner.Error(),
		Inner: inner,
	}

	// Surface native device error codes where present.
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		e.Errno = int32(errno)
	}

	return e
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var txErr *Error
	if errors.As(err, &txErr) {
		return txErr.Code == code
	}
	return false
}

// IsErrno checks if an error carries a specific native error code
func IsErrno(err error, errno int32) bool {
	var txErr *Error
	if errors.As(err, &txErr) {
		return txErr.Errno == errno
	}
	return false
}
