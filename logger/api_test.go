// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/blockcache/conf"
)

func testNestedFunc() {
	myint := 3
	ctx := TraceEnter("the prefix", 1, myint)
	defer ctx.TraceExit("the suffix", myint)
}

func testUp(t *testing.T, confStrings []string) (confMap conf.ConfMap, target LogTarget) {
	confMap, err := conf.MakeConfMapFromStrings(confStrings)
	require.NoError(t, err)

	err = Up(confMap)
	require.NoError(t, err)

	target.Init(10)
	AddLogTarget(target)

	return
}

func TestAPI(t *testing.T) {
	assert := assert.New(t)

	confMap, target := testUp(t, []string{
		"Logging.LogFilePath=/dev/null",
		"Logging.LogToConsole=false",
		"Logging.TraceLevelLogging=logger",
	})

	Tracef("hello there!")
	assert.True(strings.Contains(target.LatestEntry(), "hello there!"))
	assert.True(strings.Contains(target.LatestEntry(), "package=logger"))
	assert.True(strings.Contains(target.LatestEntry(), "function=TestAPI"))

	Tracef("hello again, %s!", "you")
	assert.True(strings.Contains(target.LatestEntry(), "hello again, you!"))

	Warnf("%v: %v", "IAmTheCaller", "this is the warning")
	assert.True(strings.Contains(target.LatestEntry(), "level=warning"))

	err := fmt.Errorf("this is the error")
	ErrorfWithError(err, "we had an error!")
	assert.True(strings.Contains(target.LatestEntry(), "we had an error!"))
	assert.True(strings.Contains(target.LatestEntry(), "this is the error"))

	testNestedFunc()
	assert.True(strings.Contains(target.LatestEntry(), "<< returning the suffix 3"))
	assert.True(strings.Contains(target.LatestEntry(), "function=testNestedFunc"))

	err = Down(confMap)
	assert.NoError(err)
}

func TestTraceDisabled(t *testing.T) {
	assert := assert.New(t)

	confMap, target := testUp(t, []string{
		"Logging.LogFilePath=/dev/null",
		"Logging.TraceLevelLogging=bcache",
	})

	before := target.LogBuf.TotalEntries

	Tracef("not for the logger package")
	assert.Equal(before, target.LogBuf.TotalEntries)

	Infof("always logged")
	assert.Equal(before+1, target.LogBuf.TotalEntries)

	err := Down(confMap)
	assert.NoError(err)
}

func TestPanicfWithError(t *testing.T) {
	assert := assert.New(t)

	confMap, target := testUp(t, []string{
		"Logging.LogFilePath=/dev/null",
	})

	panicErr := fmt.Errorf("fatal condition")

	recovered := func() (r interface{}) {
		defer func() {
			r = recover()
		}()
		PanicfWithError(panicErr, "giving up on %v", "something")
		return
	}()

	assert.Equal(panicErr, recovered, "panic value must be the error itself")
	assert.True(strings.Contains(target.LatestEntry(), "giving up on something"))
	assert.True(strings.Contains(target.LatestEntry(), "level=error"))

	err := Down(confMap)
	assert.NoError(err)
}

func TestLogTargetWrap(t *testing.T) {
	assert := assert.New(t)

	var target LogTarget
	target.Init(2)

	_, _ = target.Write([]byte("one"))
	_, _ = target.Write([]byte("two"))
	_, _ = target.Write([]byte("three"))

	assert.Equal(3, target.LogBuf.TotalEntries)
	assert.Equal([]string{"three", "two"}, target.LogBuf.LogEntries)
}
