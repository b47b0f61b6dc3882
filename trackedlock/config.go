// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package trackedlock

import (
	"sync/atomic"
	"time"

	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/transitions"
)

func parseConfMap(confMap conf.ConfMap) (holdTimeLimit time.Duration, checkPeriod time.Duration) {
	var (
		err error
	)

	holdTimeLimit, err = confMap.FetchOptionValueDuration("TrackedLock", "LockHoldTimeLimit")
	if nil != err {
		logger.Infof("config variable 'TrackedLock.LockHoldTimeLimit' defaulting to '0s': %v", err)
		holdTimeLimit = time.Duration(0)
	}

	// lockHoldTimeLimit must be >= 1 sec or 0
	if (holdTimeLimit < time.Second) && (0 != holdTimeLimit) {
		logger.Warnf("config variable 'TrackedLock.LockHoldTimeLimit' value less then 1 sec; defaulting to '40s'")
		holdTimeLimit = 40 * time.Second
	}

	checkPeriod, err = confMap.FetchOptionValueDuration("TrackedLock", "LockCheckPeriod")
	if nil != err {
		logger.Infof("config variable 'TrackedLock.LockCheckPeriod' defaulting to '0s': %v", err)
		checkPeriod = time.Duration(0)
	}

	// lockCheckPeriod must be >= 1 sec or 0
	if (checkPeriod < time.Second) && (0 != checkPeriod) {
		logger.Warnf("config variable 'TrackedLock.LockCheckPeriod' value less then 1 sec; defaulting to '20s'")
		checkPeriod = 20 * time.Second
	}

	return
}

// Register trackedlock package with transitions so that transitions can call Up()/Down()/etc.
// at the appropriate times and config changes.
//
func init() {
	transitions.Register("trackedlock", &globals)
}

func startWatcher() {
	// if the lock checker is disabled or there's no time limit then
	// there's no need to start the watcher
	if (0 == lockCheckPeriod()) || (0 == lockHoldTimeLimit()) {
		return
	}

	globals.stopChan = make(chan struct{})
	globals.doneChan = make(chan struct{})
	globals.lockCheckTicker = time.NewTicker(lockCheckPeriod())
	globals.lockCheckChan = globals.lockCheckTicker.C

	go lockWatcher()
}

func stopWatcher() {
	if nil != globals.lockCheckTicker {
		globals.lockCheckTicker.Stop()
		globals.lockCheckTicker = nil
		globals.stopChan <- struct{}{}
		_ = <-globals.doneChan
	}
}

func clearWatchedLocks() {
	globals.mapMutex.Lock()
	for mt := range globals.mutexMap {
		atomic.StoreInt32(&mt.isWatched, 0)
		delete(globals.mutexMap, mt)
	}
	globals.mapMutex.Unlock()
}

// Up() initializes the package.  It must be called and successfully return
// before locks will be tracked.  Locks can still be used before it is called
// but tracking will not start until the first Lock() call after the package is
// initialized.
//
func (dummy *globalsStruct) Up(confMap conf.ConfMap) (err error) {
	holdTimeLimit, checkPeriod := parseConfMap(confMap)

	logger.Infof("trackedlock.Up(): LockHoldTimeLimit %d sec  LockCheckPeriod %d sec",
		holdTimeLimit/time.Second, checkPeriod/time.Second)

	// log information upto 16 locks
	globals.lockWatcherLocksLogged = 16

	globals.mapMutex.Lock()
	globals.mutexMap = make(map[*MutexTrack]interface{}, 128)
	globals.mapMutex.Unlock()

	atomic.StoreInt64(&globals.lockHoldTimeLimit, int64(holdTimeLimit))
	atomic.StoreInt64(&globals.lockCheckPeriod, int64(checkPeriod))

	startWatcher()

	return
}

func (dummy *globalsStruct) Down(confMap conf.ConfMap) (err error) {
	logger.Infof("trackedlock.Down() called")

	stopWatcher()

	atomic.StoreInt64(&globals.lockHoldTimeLimit, 0)
	atomic.StoreInt64(&globals.lockCheckPeriod, 0)

	clearWatchedLocks()

	return
}

// SignaledStart does nothing (lock tracking is not changed until SignaledFinish() call)
func (dummy *globalsStruct) SignaledStart(confMap conf.ConfMap) (err error) {
	return
}

// SignaledFinish updates lock tracking state based on confMap contents
func (dummy *globalsStruct) SignaledFinish(confMap conf.ConfMap) (err error) {
	oldTimeLimit := lockHoldTimeLimit()
	oldCheckPeriod := lockCheckPeriod()

	holdTimeLimit, checkPeriod := parseConfMap(confMap)

	// if no change required, just return
	if (holdTimeLimit == oldTimeLimit) && (checkPeriod == oldCheckPeriod) {
		return
	}

	logger.Infof("trackedlock lock hold time limit/lock check period changing from %d/%d sec to %d/%d sec",
		oldTimeLimit/time.Second, oldCheckPeriod/time.Second,
		holdTimeLimit/time.Second, checkPeriod/time.Second)

	// shutdown the old watcher (if any) and start a new one (if any)
	stopWatcher()

	atomic.StoreInt64(&globals.lockHoldTimeLimit, int64(holdTimeLimit))
	atomic.StoreInt64(&globals.lockCheckPeriod, int64(checkPeriod))

	// if we're going to stop watching, clean out the map
	if 0 == checkPeriod {
		clearWatchedLocks()
	}

	startWatcher()

	return
}
