// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package statslogger periodically writes every registered bucketstats
// statistic, along with Go memory and goroutine figures, to the log.
//
// Config section [StatsLogger]:
//
//   Period:        10m  # 0 disables periodic logging; otherwise at least 1s
//   CollectPeriod: 1s   # goroutine count sampling interval
//
package statslogger

import (
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/NVIDIA/blockcache/bucketstats"
	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/transitions"
)

type globalsStruct struct {
	sync.Mutex                      // serializes LogStats() with the statsLogger goroutine
	collectChan    <-chan time.Time // time to sample the goroutine count
	logChan        <-chan time.Time // time to log statistics
	stopChan       chan bool        // time to shutdown and go home
	doneChan       chan bool        // shutdown complete
	statsLogPeriod time.Duration    // time between statistics logging
	collectPeriod  time.Duration    // time between goroutine count samples
	collectTicker  *time.Ticker     // ticker for collectChan
	logTicker      *time.Ticker     // ticker for logChan
	goroutineStats SimpleStats      // goroutine count samples since the last log
	running        bool             // statsLogger goroutine active
}

var globals globalsStruct

func init() {
	transitions.Register("statslogger", &globals)
}

func parseConfMap(confMap conf.ConfMap) {
	var err error

	globals.statsLogPeriod, err = confMap.FetchOptionValueDuration("StatsLogger", "Period")
	if nil != err {
		logger.Warnf("config variable 'StatsLogger.Period' defaulting to '10m': %v", err)
		globals.statsLogPeriod = time.Duration(10 * time.Minute)
	}

	// statsLogPeriod must be >= 1 sec, except 0 means disabled
	if (globals.statsLogPeriod < time.Second) && (0 != globals.statsLogPeriod) {
		logger.Warnf("config variable 'StatsLogger.Period' value is non-zero and less then 1 sec; defaulting to '10m'")
		globals.statsLogPeriod = time.Duration(10 * time.Minute)
	}

	globals.collectPeriod, err = confMap.FetchOptionValueDuration("StatsLogger", "CollectPeriod")
	if (nil != err) || (0 == globals.collectPeriod) {
		globals.collectPeriod = time.Second
	}
}

func start() {
	if 0 == globals.statsLogPeriod {
		return
	}

	globals.collectTicker = time.NewTicker(globals.collectPeriod)
	globals.collectChan = globals.collectTicker.C

	globals.logTicker = time.NewTicker(globals.statsLogPeriod)
	globals.logChan = globals.logTicker.C

	globals.stopChan = make(chan bool)
	globals.doneChan = make(chan bool)

	globals.running = true

	go statsLogger()
}

func stop() {
	if !globals.running {
		return
	}

	globals.stopChan <- true
	_ = <-globals.doneChan

	globals.collectTicker.Stop()
	globals.logTicker.Stop()

	globals.running = false
}

// Up starts the statsLogger goroutine (unless Period is 0)
func (dummy *globalsStruct) Up(confMap conf.ConfMap) (err error) {
	parseConfMap(confMap)
	start()
	return
}

func (dummy *globalsStruct) SignaledStart(confMap conf.ConfMap) (err error) {
	stop()
	return
}

// SignaledFinish applies a (possibly changed) Period and restarts the statsLogger
func (dummy *globalsStruct) SignaledFinish(confMap conf.ConfMap) (err error) {
	oldLogPeriod := globals.statsLogPeriod
	parseConfMap(confMap)
	if oldLogPeriod != globals.statsLogPeriod {
		logger.Infof("statslogger log period changing from %v to %v", oldLogPeriod, globals.statsLogPeriod)
	}
	start()
	return
}

func (dummy *globalsStruct) Down(confMap conf.ConfMap) (err error) {
	stop()
	return
}

// LogStats immediately logs the current statistics
func LogStats() {
	var memStats runtime.MemStats

	runtime.ReadMemStats(&memStats)

	globals.Lock()
	globals.goroutineStats.Sample(int64(runtime.NumGoroutine()))
	logStats("total", &globals.goroutineStats, &memStats)
	globals.Unlock()
}

// statsLogger samples the goroutine count every collectChan tick and logs a
// batch of statistics every logChan tick ("StatsLogger.Period")
//
func statsLogger() {
	var (
		deltaMemStats runtime.MemStats
		newMemStats   runtime.MemStats
		oldMemStats   runtime.MemStats
	)

	globals.Lock()
	globals.goroutineStats.Clear()
	globals.goroutineStats.Sample(int64(runtime.NumGoroutine()))
	globals.Unlock()

	// memstats "stops the world"
	runtime.ReadMemStats(&oldMemStats)

mainloop:
	for stopRequest := false; !stopRequest; {
		select {
		case <-globals.stopChan:
			// print final stats and then exit
			stopRequest = true

		case <-globals.collectChan:
			globals.Lock()
			globals.goroutineStats.Sample(int64(runtime.NumGoroutine()))
			globals.Unlock()
			continue mainloop

		case <-globals.logChan:
			// fall through to do the logging
		}

		runtime.ReadMemStats(&newMemStats)

		deltaMemStats = newMemStats
		deltaMemStats.TotalAlloc = newMemStats.TotalAlloc - oldMemStats.TotalAlloc
		deltaMemStats.Mallocs = newMemStats.Mallocs - oldMemStats.Mallocs
		deltaMemStats.Frees = newMemStats.Frees - oldMemStats.Frees
		deltaMemStats.NumGC = newMemStats.NumGC - oldMemStats.NumGC
		deltaMemStats.PauseTotalNs = newMemStats.PauseTotalNs - oldMemStats.PauseTotalNs

		globals.Lock()
		globals.goroutineStats.Sample(int64(runtime.NumGoroutine()))
		logStats("total", &globals.goroutineStats, &newMemStats)
		logger.Infof("Memory (delta): TotalAlloc=%d KiB Mallocs=%d Frees=%d NumGC=%d PauseTotalMsec=%d",
			deltaMemStats.TotalAlloc/1024, deltaMemStats.Mallocs, deltaMemStats.Frees,
			deltaMemStats.NumGC, deltaMemStats.PauseTotalNs/1000000)
		globals.goroutineStats.Clear()
		globals.Unlock()

		oldMemStats = newMemStats
	}

	globals.doneChan <- true
}

// Write interesting statistics to the log in a semi-human readable format,
// one bucketstats statistic per line
//
func logStats(statsType string, goroutineStats *SimpleStats, memStats *runtime.MemStats) {
	logger.Infof("Goroutines: min=%d mean=%d max=%d samples=%d",
		goroutineStats.Min(), goroutineStats.Mean(), goroutineStats.Max(), goroutineStats.Samples())

	// memory allocation info (see runtime.MemStats for definitions)
	logger.Infof("Memory in Kibyte (%s): Sys=%d HeapInuse=%d HeapIdle=%d HeapReleased=%d Cumulative TotalAlloc=%d",
		statsType,
		int64(memStats.Sys)/1024, int64(memStats.HeapInuse)/1024, int64(memStats.HeapIdle)/1024,
		int64(memStats.HeapReleased)/1024, int64(memStats.TotalAlloc)/1024)
	logger.Infof("GC Stats (%s): NumGC=%d  NumForcedGC=%d  NextGC=%d KiB  PauseTotalMsec=%d  GC_CPU=%4.2f%%",
		statsType,
		memStats.NumGC, memStats.NumForcedGC, int64(memStats.NextGC)/1024,
		memStats.PauseTotalNs/1000000, memStats.GCCPUFraction*100)

	for _, line := range strings.Split(bucketstats.SprintStats(bucketstats.StatFormatParsable1, "*", "*"), "\n") {
		if "" != line {
			logger.Infof("Stats: %s", line)
		}
	}
}
