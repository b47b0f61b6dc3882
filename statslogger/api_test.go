// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package statslogger

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/blockcache/bucketstats"
	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/transitions"
)

type testStatsStruct struct {
	Loads bucketstats.Total
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

func TestSimpleStats(t *testing.T) {
	assert := assert.New(t)

	var sp SimpleStats

	assert.Equal(int64(0), sp.Mean())

	for _, cnt := range []int64{5, 2, 9, 4} {
		sp.Sample(cnt)
	}
	assert.Equal(int64(2), sp.Min())
	assert.Equal(int64(9), sp.Max())
	assert.Equal(int64(5), sp.Mean())
	assert.Equal(int64(4), sp.Samples())

	sp.Clear()
	assert.Equal(int64(0), sp.Samples())
	sp.Sample(7)
	assert.Equal(int64(7), sp.Min())
}

func TestStatsLogger(t *testing.T) {
	assert := assert.New(t)

	confMap, err := conf.MakeConfMapFromStrings([]string{
		"Logging.LogFilePath=/dev/null",
		"Logging.LogToConsole=false",
		"StatsLogger.Period=1s",
		"StatsLogger.CollectPeriod=100ms",
	})
	require.NoError(t, err)

	err = transitions.Up(confMap)
	require.NoError(t, err)

	var logcopy logger.LogTarget
	logcopy.Init(100)
	logger.AddLogTarget(logcopy)

	var testStats testStatsStruct
	bucketstats.Register("statslogger", "TestStatsLogger", &testStats)
	defer bucketstats.UnRegister("statslogger", "TestStatsLogger")
	testStats.Loads.Add(17)

	time.Sleep(1500 * time.Millisecond)

	assert.True(logContains(logcopy, "Stats: statslogger.TestStatsLogger.Loads total:17"))
	assert.True(logContains(logcopy, "Memory (delta)"))
	assert.True(logContains(logcopy, "Goroutines: min="))

	// a Period of 0 stops periodic logging
	err = confMap.UpdateFromString("StatsLogger.Period=0s")
	require.NoError(t, err)
	err = transitions.Signaled(confMap)
	require.NoError(t, err)
	assert.False(globals.running)

	logcopy.Init(100)
	logger.AddLogTarget(logcopy)

	LogStats()
	assert.True(logContains(logcopy, "Stats: statslogger.TestStatsLogger.Loads total:17"))

	err = transitions.Down(confMap)
	require.NoError(t, err)
}
