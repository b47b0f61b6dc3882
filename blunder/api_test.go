// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package blunder

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestValues(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(int(unix.EPERM), NotPermError.Value())
	assert.Equal(int(unix.EIO), IOError.Value())
	assert.Equal(int(unix.ENODEV), NoDeviceError.Value())
	assert.Equal(int(unix.EINVAL), InvalidArgError.Value())
	assert.Equal(int(unix.ERANGE), OutOfRangeError.Value())

	assert.Equal(1000, ContractViolationError.Value())
	assert.Equal(1001, CacheExhaustedError.Value())
	assert.Equal(1002, CorruptCacheError.Value())

	assert.Equal("CacheExhaustedError", CacheExhaustedError.String())
	assert.Equal("EIO", IOError.String())
}

func TestDefaultErrno(t *testing.T) {
	assert := assert.New(t)

	var err error

	assert.Equal(successErrno, Errno(err))
	assert.True(IsSuccess(err))
	assert.False(IsNotSuccess(err))
	assert.Equal("", ErrorString(err))

	err = fmt.Errorf("This is an ordinary error")

	assert.Equal(failureErrno, Errno(err))
	assert.False(IsSuccess(err))
	assert.True(IsNotSuccess(err))
	assert.False(hasErrnoValue(err))
	assert.Equal("This is an ordinary error", ErrorString(err))

	err = AddError(err, InvalidArgError)
	assert.Equal(InvalidArgError.Value(), Errno(err))
}

func TestAddValue(t *testing.T) {
	assert := assert.New(t)

	// Add value to a nil error (not recommended as a strategy, but it needs to work anyway)
	var err error
	err = AddError(err, NoDeviceError)
	assert.True(hasErrnoValue(err))
	assert.True(Is(err, NoDeviceError))
	assert.False(Is(err, IOError))
	assert.True(IsNot(err, InvalidArgError))
	assert.True(IsNotSuccess(err))

	err = fmt.Errorf("This is an ordinary error")
	err = AddError(err, OutOfRangeError)
	assert.True(Is(err, OutOfRangeError))
	assert.True(IsNot(err, CorruptCacheError))

	// Add a different value to a non-nil error
	err = AddError(err, IOError)
	assert.True(Is(err, IOError))
	assert.False(Is(err, OutOfRangeError))
}

func TestNewError(t *testing.T) {
	assert := assert.New(t)

	err := NewError(CacheExhaustedError, "no free buffer among %d", 30)
	assert.Equal("no free buffer among 30", err.Error())
	assert.True(Is(err, CacheExhaustedError))
	assert.True(strings.Contains(ErrorString(err), "CacheExhaustedError"))

	file, line := Location(err)
	assert.True(strings.HasSuffix(file, "api_test.go"))
	assert.NotEqual(0, line)

	assert.NotEqual("", Stacktrace(err))
	assert.True(strings.Contains(Details(err), "no free buffer among 30"))
}

func TestPanicValue(t *testing.T) {
	assert := assert.New(t)

	recovered := func() (r interface{}) {
		defer func() {
			r = recover()
		}()
		panic(NewError(ContractViolationError, "release of unlocked buffer"))
	}()

	err, ok := recovered.(error)
	assert.True(ok)
	assert.True(Is(err, ContractViolationError))
}
