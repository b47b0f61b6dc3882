// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package blunder provides error-handling wrappers
//
// These wrappers allow callers to attach an errno-style code to a regular Go
// error while still conforming to the Go error interface. Codes are stored as
// a value on an ansel1/merry error, which also captures a stack trace at the
// point the error was created:
//   https://github.com/ansel1/merry
//
// The block cache treats some conditions as fatal (a caller broke the locking
// contract, or every buffer is pinned). Those are raised as panics whose value
// is a blunder error, so a supervising goroutine or test can still ask Is().
package blunder

import (
	"fmt"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"
)

type FsError int

const (
	// Errors that map to linux/POSIX errnos as defined in errno.h
	//
	NotPermError      FsError = FsError(int(unix.EPERM))   // Operation not permitted
	IOError           FsError = FsError(int(unix.EIO))     // I/O error
	DevBusyError      FsError = FsError(int(unix.EBUSY))   // Device or resource busy
	FileExistsError   FsError = FsError(int(unix.EEXIST))  // File exists
	NoDeviceError     FsError = FsError(int(unix.ENODEV))  // No such device
	InvalidArgError   FsError = FsError(int(unix.EINVAL))  // Invalid argument
	NoSpaceError      FsError = FsError(int(unix.ENOSPC))  // No space left on device
	OutOfRangeError   FsError = FsError(int(unix.ERANGE))  // Math result not representable
	NoBufferSpace     FsError = FsError(int(unix.ENOBUFS)) // No buffer space available
	NotImplemented    FsError = FsError(int(unix.ENOSYS))  // Function not implemented
	NotSupportedError FsError = FsError(int(unix.ENOTSUP)) // Operation not supported
)

// Success error
const SuccessError FsError = 0

const (
	// Errors that are specific to the block cache
	ContractViolationError FsError = 1000 + iota // caller broke a locking or reference contract
	CacheExhaustedError                          // every buffer is pinned; nothing can be evicted
	CorruptCacheError                            // internal consistency check failed
	BadDeviceImageError                          // device image header did not validate
)

// Default errno values for success and failure
const successErrno = 0
const failureErrno = -1

const errnoKey = "errno"

// Value returns the int value for the specified FsError constant
func (err FsError) Value() int {
	return int(err)
}

func (err FsError) String() string {
	switch err {
	case SuccessError:
		return "SuccessError"
	case ContractViolationError:
		return "ContractViolationError"
	case CacheExhaustedError:
		return "CacheExhaustedError"
	case CorruptCacheError:
		return "CorruptCacheError"
	case BadDeviceImageError:
		return "BadDeviceImageError"
	}
	if err < 1000 {
		return unix.ErrnoName(unix.Errno(err))
	}
	return fmt.Sprintf("FsError(%d)", int(err))
}

// NewError creates a new merry/blunder.FsError-annotated error using the given
// format string and arguments.
func NewError(errValue FsError, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue(errnoKey, int(errValue))
}

// AddError is used to add FS error detail to a Go error.
//
// A nil e still produces a (generic) error carrying errValue since the caller
// clearly intends a failure to be reported.
func AddError(e error, errValue FsError) error {
	if nil == e {
		return merry.New("regular error").WithValue(errnoKey, int(errValue))
	}

	return merry.WrapSkipping(e, 1).WithValue(errnoKey, int(errValue))
}

// Errno extracts errno from the error, if it was previously wrapped.
// Otherwise a default value is returned.
func Errno(e error) int {
	if nil == e {
		return successErrno
	}

	errno, ok := merry.Value(e, errnoKey).(int)
	if !ok {
		return failureErrno
	}

	return errno
}

// ErrorString returns e's message with its error value appended, if set.
func ErrorString(e error) string {
	if nil == e {
		return ""
	}

	errno, ok := merry.Value(e, errnoKey).(int)
	if !ok {
		return e.Error()
	}

	return fmt.Sprintf("%s. Error Value: %v (%v)", e.Error(), errno, FsError(errno))
}

// Is checks if an error matches a particular FsError
//
// Because the underlying errno is compared, FsErrors sharing the same errno
// value cannot be distinguished.
func Is(e error, theError FsError) bool {
	return Errno(e) == theError.Value()
}

// IsNot checks if an error is NOT a particular FsError
func IsNot(e error, theError FsError) bool {
	return Errno(e) != theError.Value()
}

// IsSuccess checks if an error is the success FsError
func IsSuccess(e error) bool {
	return Errno(e) == successErrno
}

// IsNotSuccess checks if an error is not the success FsError
func IsNotSuccess(e error) bool {
	return Errno(e) != successErrno
}

func hasErrnoValue(e error) bool {
	_, ok := merry.Value(e, errnoKey).(int)
	return ok
}

// Location returns the file and line number of the code that generated the error.
// Returns zero values if e has no stacktrace.
func Location(e error) (file string, line int) {
	file, line = merry.Location(e)
	return
}

// Details wraps merry.Details, which returns all error details including stacktrace in a string.
func Details(e error) string {
	return merry.Details(e)
}

// Stacktrace wraps merry.Stacktrace, which returns error stacktrace (if set) in a string.
func Stacktrace(e error) string {
	return merry.Stacktrace(e)
}
