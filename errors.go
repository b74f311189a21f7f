package den

import (
	"errors"
	"fmt"
)

// Error represents a den error with an error code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error // wrapped error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("den: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("den: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode classifies den errors into the four groups callers care about:
// configuration, decode, backend, and usage.
type ErrorCode int

const (
	// Success indicates the operation completed successfully
	Success ErrorCode = 0

	// Configuration errors: reported at open time, never retried.

	// ErrKindMismatch indicates a store name was reopened under an
	// incompatible kind (e.g. opened Single, requested Multi)
	ErrKindMismatch ErrorCode = -1101

	// ErrStoreNotFound indicates the named store does not exist and
	// StoreOptions.Create was false
	ErrStoreNotFound ErrorCode = -1102

	// ErrDirectoryMissing indicates the environment directory does not
	// exist and Options.MakeDirIfNeeded was false
	ErrDirectoryMissing ErrorCode = -1103

	// ErrDBsFull indicates the environment's MaxDBs limit was reached
	ErrDBsFull ErrorCode = -1104

	// Decode errors: stored bytes do not match the value wire format.

	// ErrDecode indicates stored bytes could not be decoded as a Value
	ErrDecode ErrorCode = -1201

	// Backend errors: passed through from the engine with context attached.

	// ErrBackend indicates the storage engine reported an error
	ErrBackend ErrorCode = -1301

	// ErrReadersFull indicates the environment's MaxReaders limit was reached
	ErrReadersFull ErrorCode = -1302

	// ErrMapFull indicates the environment's MapSize limit was reached
	ErrMapFull ErrorCode = -1303

	// Usage errors: the caller misused a handle; fail fast, never proceed.

	// ErrTxnDone indicates an operation on an already committed or
	// aborted transaction
	ErrTxnDone ErrorCode = -1401

	// ErrEnvClosed indicates an operation on a closed environment
	ErrEnvClosed ErrorCode = -1402
)

// Error descriptions
var errorMessages = map[ErrorCode]string{
	Success:             "success",
	ErrKindMismatch:     "store reopened under an incompatible kind",
	ErrStoreNotFound:    "store does not exist",
	ErrDirectoryMissing: "environment directory does not exist",
	ErrDBsFull:          "environment maxdbs limit reached",
	ErrDecode:           "stored bytes do not decode as a value",
	ErrBackend:          "storage engine error",
	ErrReadersFull:      "environment maxreaders limit reached",
	ErrMapFull:          "environment mapsize limit reached",
	ErrTxnDone:          "transaction already committed or aborted",
	ErrEnvClosed:        "environment is closed",
}

// NewError creates a new Error with the given code
func NewError(code ErrorCode) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = fmt.Sprintf("unknown error code %d", code)
	}
	return &Error{Code: code, Message: msg}
}

// WrapError creates a new Error wrapping another error
func WrapError(code ErrorCode, err error) *Error {
	e := NewError(code)
	e.Err = err
	return e
}

// wrapOp wraps err with the operation and subject that failed, so backend
// errors surface with enough context to diagnose.
func wrapOp(code ErrorCode, op, subject string, err error) *Error {
	return WrapError(code, fmt.Errorf("%s %q: %w", op, subject, err))
}

// Code returns the error code from an error, or ErrBackend if the error is
// not a den error.
func Code(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrBackend
}

// IsKindMismatch returns true if the error is ErrKindMismatch
func IsKindMismatch(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrKindMismatch
	}
	return false
}

// IsDecode returns true if the error is a value decode failure
func IsDecode(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrDecode
	}
	var d *DecodeError
	return errors.As(err, &d)
}

// IsTxnDone returns true if the error is ErrTxnDone
func IsTxnDone(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrTxnDone
	}
	return false
}

// IsReadersFull returns true if the error is ErrReadersFull
func IsReadersFull(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrReadersFull
	}
	return false
}

// IsMapFull returns true if the error is ErrMapFull
func IsMapFull(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrMapFull
	}
	return false
}
