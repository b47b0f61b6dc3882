// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package trackedlock

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/transitions"
)

func testSetup(t *testing.T, confStrings []string) (confMap conf.ConfMap, logcopy logger.LogTarget) {
	confMap, err := conf.MakeConfMapFromStrings(append([]string{
		"Logging.LogFilePath=/dev/null",
		"Logging.LogToConsole=false",
	}, confStrings...))
	require.NoError(t, err)

	err = transitions.Up(confMap)
	require.NoError(t, err)

	// get a copy of what's written to the log
	logcopy.Init(100)
	logger.AddLogTarget(logcopy)

	return
}

func testTeardown(t *testing.T, confMap conf.ConfMap) {
	err := transitions.Down(confMap)
	require.NoError(t, err)
}

func logContains(logcopy logger.LogTarget, substr string) bool {
	logcopy.LogBuf.Lock()
	defer logcopy.LogBuf.Unlock()

	for _, entry := range logcopy.LogBuf.LogEntries {
		if strings.Contains(entry, substr) {
			return true
		}
	}
	return false
}

func TestMutexOwnership(t *testing.T) {
	assert := assert.New(t)

	confMap, _ := testSetup(t, nil)
	defer testTeardown(t, confMap)

	var m Mutex

	assert.False(m.IsLocked())
	assert.False(m.IsLockedByCaller())

	m.Lock()
	assert.True(m.IsLocked())
	assert.True(m.IsLockedByCaller())

	var (
		otherSees bool
		wg        sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		otherSees = m.IsLockedByCaller()
		wg.Done()
	}()
	wg.Wait()
	assert.False(otherSees, "a goroutine other than the holder must not appear to hold the Mutex")

	m.Unlock()
	assert.False(m.IsLocked())
	assert.False(m.IsLockedByCaller())
}

func TestMutexExclusion(t *testing.T) {
	assert := assert.New(t)

	confMap, _ := testSetup(t, nil)
	defer testTeardown(t, confMap)

	var (
		m       Mutex
		counter int
		wg      sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			for j := 0; j < 1000; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
			wg.Done()
		}()
	}
	wg.Wait()

	assert.Equal(8000, counter)
}

func TestSpinLock(t *testing.T) {
	assert := assert.New(t)

	confMap, _ := testSetup(t, nil)
	defer testTeardown(t, confMap)

	var (
		s       SpinLock
		counter int
		wg      sync.WaitGroup
	)

	assert.False(s.IsLocked())
	assert.True(s.TryLock())
	assert.True(s.IsLocked())
	assert.False(s.TryLock())
	s.Unlock()
	assert.False(s.IsLocked())

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			for j := 0; j < 1000; j++ {
				s.Lock()
				counter++
				s.Unlock()
			}
			wg.Done()
		}()
	}
	wg.Wait()

	assert.Equal(8000, counter)

	recovered := func() (r interface{}) {
		defer func() {
			r = recover()
		}()
		s.Unlock()
		return
	}()
	err, ok := recovered.(error)
	require.True(t, ok)
	assert.True(blunder.Is(err, blunder.ContractViolationError))
}

func TestLongHold(t *testing.T) {
	assert := assert.New(t)

	confMap, logcopy := testSetup(t, []string{
		"TrackedLock.LockHoldTimeLimit=1s",
		"TrackedLock.LockCheckPeriod=1s",
	})
	defer testTeardown(t, confMap)

	assert.Equal(time.Second, lockHoldTimeLimit())
	assert.Equal(time.Second, lockCheckPeriod())

	var (
		m Mutex
		s SpinLock
	)

	m.Lock()
	assert.True(m.IsLockedByCaller(), "holder must be recorded when tracking is enabled")
	s.Lock()

	time.Sleep(2500 * time.Millisecond)

	assert.True(logContains(logcopy, "trackedlock watcher: *trackedlock.Mutex"))
	assert.True(logContains(logcopy, "trackedlock watcher: *trackedlock.SpinLock"))

	m.Unlock()
	assert.True(logContains(logcopy, "Unlock(): *trackedlock.Mutex"))

	s.Unlock()
	assert.True(logContains(logcopy, "Unlock(): *trackedlock.SpinLock"))
}

func TestConfigDefaults(t *testing.T) {
	assert := assert.New(t)

	confMap, _ := testSetup(t, []string{
		"TrackedLock.LockHoldTimeLimit=100ms",
	})

	assert.Equal(40*time.Second, lockHoldTimeLimit())
	assert.Equal(time.Duration(0), lockCheckPeriod())

	err := confMap.UpdateFromStrings([]string{
		"TrackedLock.LockHoldTimeLimit=0s",
	})
	require.NoError(t, err)

	err = transitions.Signaled(confMap)
	assert.NoError(err)
	assert.Equal(time.Duration(0), lockHoldTimeLimit())

	testTeardown(t, confMap)
}
