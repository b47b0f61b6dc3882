// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetGoId(t *testing.T) {
	assert := assert.New(t)

	myGoId := GetGoId()
	assert.NotEqual(uint64(0), myGoId)
	assert.Equal(myGoId, GetGoId(), "goroutine id must be stable within a goroutine")

	var (
		otherGoId uint64
		wg        sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		otherGoId = GetGoId()
		wg.Done()
	}()
	wg.Wait()

	assert.NotEqual(uint64(0), otherGoId)
	assert.NotEqual(myGoId, otherGoId)
}

func TestStackTraceToGoId(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uint64(18), StackTraceToGoId([]byte("goroutine 18 [running]:\nmain.main()")))
	assert.Equal(uint64(0), StackTraceToGoId([]byte("not a stack trace")))
	assert.Equal(uint64(0), StackTraceToGoId([]byte("goroutine xyz [running]:")))
	assert.Equal(uint64(0), StackTraceToGoId([]byte("goroutine 42")))
}

func testFuncPackageCaller() (fn string, pkg string, gid uint64) {
	return GetFuncPackage(0)
}

func TestGetFuncPackage(t *testing.T) {
	assert := assert.New(t)

	fn, pkg, gid := testFuncPackageCaller()
	assert.Equal("testFuncPackageCaller", fn)
	assert.Equal("utils", pkg)
	assert.Equal(GetGoId(), gid)

	assert.Equal("utils.TestGetFuncPackage", GetFnName())
}

func TestByteSliceConversions(t *testing.T) {
	assert := assert.New(t)

	byteSlice := Uint32ToByteSlice(0x01020304)
	assert.Equal([]byte{0x04, 0x03, 0x02, 0x01}, byteSlice)

	u32, ok := ByteSliceToUint32(byteSlice)
	assert.True(ok)
	assert.Equal(uint32(0x01020304), u32)

	_, ok = ByteSliceToUint32([]byte{1, 2, 3})
	assert.False(ok)
}

func TestStopwatch(t *testing.T) {
	assert := assert.New(t)

	sw := NewStopwatch()
	assert.True(sw.IsRunning)

	time.Sleep(10 * time.Millisecond)
	elapsed := sw.Stop()
	assert.False(sw.IsRunning)
	assert.True(elapsed >= 10*time.Millisecond)
	assert.Equal(elapsed, sw.Elapsed())
	assert.Equal(elapsed, sw.Stop(), "stopping twice must not change ElapsedTime")

	sw.Restart()
	assert.True(sw.IsRunning)
	assert.True(sw.Elapsed() < elapsed+time.Second)
}
