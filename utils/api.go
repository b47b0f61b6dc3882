// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package utils provides miscellaneous utilities for the block cache and its tools.
package utils

import (
	"bytes"
	"encoding/binary"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

var (
	goroutinePrefix = []byte("goroutine ")
	fnNameRE        = regexp.MustCompile(`[^\/]*$`)
	pkgNameRE       = regexp.MustCompile(`^[^.]*`)
	funcNameRE      = regexp.MustCompile(`[^.]*$`)
)

// GetGoId returns the id of the calling goroutine.
//
// Go deliberately hides goroutine identity, but lock ownership checks (who holds
// a buffer's content lock?) and log correlation both need it. The id is parsed
// from the first line of runtime.Stack(), which looks like "goroutine 18 [running]:".
//
func GetGoId() (goId uint64) {
	var (
		buf [64]byte
		b   []byte
	)

	b = buf[:runtime.Stack(buf[:], false)]

	goId = StackTraceToGoId(b)

	return
}

// StackTraceToGoId extracts the goroutine id from a stack trace captured by
// runtime.Stack(). Zero is returned if the trace is not in the expected format.
//
func StackTraceToGoId(stackTrace []byte) (goId uint64) {
	var (
		err        error
		spaceIndex int
	)

	if !bytes.HasPrefix(stackTrace, goroutinePrefix) {
		return
	}

	stackTrace = stackTrace[len(goroutinePrefix):]

	spaceIndex = bytes.IndexByte(stackTrace, ' ')
	if 0 > spaceIndex {
		return
	}

	goId, err = strconv.ParseUint(string(stackTrace[:spaceIndex]), 10, 64)
	if nil != err {
		goId = 0
	}

	return
}

// GetAFnName returns a string containing calling function and package
func GetAFnName(level int) string {
	// Skip this function in addition to the requested levels
	pc, _, _, ok := runtime.Caller(level + 1)
	if !ok {
		return "unknown.unknown"
	}

	functionObject := runtime.FuncForPC(pc)
	if nil == functionObject {
		return "unknown.unknown"
	}

	return fnNameRE.FindString(functionObject.Name())
}

// GetFuncPackage returns separate strings containing calling function and
// package along with the goroutine id of the caller.
//
func GetFuncPackage(level int) (fn string, pkg string, gid uint64) {
	funcPkg := GetAFnName(level + 1)

	pkg = pkgNameRE.FindString(funcPkg)
	fn = funcNameRE.FindString(funcPkg)
	gid = GetGoId()

	return
}

// GetFnName returns a string containing the name of the running function and its package.
func GetFnName() string {
	return GetAFnName(1)
}

// GetCallerFnName returns a string containing the name of the calling function.
func GetCallerFnName() string {
	return GetAFnName(2)
}

// Uint32ToByteSlice returns the little endian encoding of u32.
func Uint32ToByteSlice(u32 uint32) (byteSlice []byte) {
	byteSlice = make([]byte, 4)

	binary.LittleEndian.PutUint32(byteSlice, u32)

	return
}

// ByteSliceToUint32 decodes a 4 byte little endian slice.
func ByteSliceToUint32(byteSlice []byte) (u32 uint32, ok bool) {
	if 4 != len(byteSlice) {
		ok = false
		return
	}

	u32 = binary.LittleEndian.Uint32(byteSlice)
	ok = true

	return
}

type Stopwatch struct {
	StartTime   time.Time
	StopTime    time.Time
	ElapsedTime time.Duration
	IsRunning   bool
}

func NewStopwatch() *Stopwatch {
	return &Stopwatch{StartTime: time.Now(), IsRunning: true}
}

func (sw *Stopwatch) Stop() time.Duration {
	sw.StopTime = time.Now()

	// Stopping a stopped Stopwatch leaves ElapsedTime alone
	if sw.IsRunning {
		sw.ElapsedTime = sw.StopTime.Sub(sw.StartTime)
		sw.IsRunning = false
	}
	return sw.ElapsedTime
}

func (sw *Stopwatch) Restart() {
	if !sw.IsRunning {
		sw.ElapsedTime = 0
		sw.StartTime = time.Now()
		sw.StopTime = time.Time{}
		sw.IsRunning = true
	}
}

func (sw *Stopwatch) Elapsed() time.Duration {
	if !sw.IsRunning {
		return sw.ElapsedTime
	}

	return time.Since(sw.StartTime)
}

func (sw *Stopwatch) ElapsedMs() int64 {
	return int64(sw.Elapsed() / time.Millisecond)
}

func (sw *Stopwatch) ElapsedUs() int64 {
	return int64(sw.Elapsed() / time.Microsecond)
}

func (sw *Stopwatch) ElapsedString() string {
	return sw.Elapsed().String()
}
