// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package trackedlock

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/utils"
)

type globalsStruct struct {
	mapMutex               sync.Mutex                  // protects mutexMap
	mutexMap               map[*MutexTrack]interface{} // the locks being watched
	lockHoldTimeLimit      int64                       // time.Duration; locks held longer then this get logged
	lockCheckPeriod        int64                       // time.Duration; check locks once each period
	lockWatcherLocksLogged int                         // max overlimit locks logged by lockWatcher()
	lockCheckChan          <-chan time.Time            // wait here to check on locks
	stopChan               chan struct{}               // time to shutdown and go home
	doneChan               chan struct{}               // shutdown complete
	lockCheckTicker        *time.Ticker                // ticker for lock check time
}

var globals globalsStruct

// stackTraceBuf is the storage required to hold one stack trace
//
type stackTraceBuf [4040]byte

// Track a Mutex or SpinLock
//
// Every field is read by the lock watcher without holding the lock being
// tracked, so each is only accessed via sync/atomic (lockStack holds a string).
//
type MutexTrack struct {
	isWatched  int32        // 1 if lock is on list of checked locks
	lockCnt    int32        // 0 if unlocked, -1 locked exclusive
	lockTime   int64        // time (UnixNano) last lock operation completed
	lockerGoId uint64       // goroutine ID of the current locker (0 if not recorded)
	lockStack  atomic.Value // string: stack trace when object was last locked
}

func lockHoldTimeLimit() time.Duration {
	return time.Duration(atomic.LoadInt64(&globals.lockHoldTimeLimit))
}

func lockCheckPeriod() time.Duration {
	return time.Duration(atomic.LoadInt64(&globals.lockCheckPeriod))
}

// goId returns the calling goroutine's ID (the frame of interest is the caller of
// a Mutex or SpinLock method, but any frame of the same goroutine will do).
//
func goId() uint64 {
	return utils.GetGoId()
}

// Locking a Mutex or SpinLock. If recordGoId is set the locker's goroutine ID
// is recorded even when tracking is disabled.
//
func (mt *MutexTrack) lockTrack(wrappedLock interface{}, recordGoId bool) {
	var (
		buf stackTraceBuf
		cnt int
	)

	// if lock tracking is disabled, just record the current time (and the
	// locker if asked)
	if 0 == lockHoldTimeLimit() {
		if recordGoId {
			atomic.StoreUint64(&mt.lockerGoId, goId())
		}
		atomic.StoreInt64(&mt.lockTime, time.Now().UnixNano())
		atomic.StoreInt32(&mt.lockCnt, -1)
		return
	}

	cnt = runtime.Stack(buf[:], false)
	mt.lockStack.Store(string(buf[:cnt]))
	atomic.StoreUint64(&mt.lockerGoId, utils.StackTraceToGoId(buf[:cnt]))
	atomic.StoreInt64(&mt.lockTime, time.Now().UnixNano())
	atomic.StoreInt32(&mt.lockCnt, -1)

	// add to the list of watched locks if anybody is watching
	if (0 != lockCheckPeriod()) && atomic.CompareAndSwapInt32(&mt.isWatched, 0, 1) {
		globals.mapMutex.Lock()
		if nil != globals.mutexMap {
			globals.mutexMap[mt] = wrappedLock
		}
		globals.mapMutex.Unlock()
	}
}

// Unlocking a Mutex or SpinLock
//
func (mt *MutexTrack) unlockTrack(wrappedLock interface{}) {
	// if we're checking the lock hold time then check it
	limit := lockHoldTimeLimit()
	if 0 != limit {
		now := time.Now()
		lockTime := time.Unix(0, atomic.LoadInt64(&mt.lockTime))
		if now.Sub(lockTime) >= limit {
			var buf stackTraceBuf
			cnt := runtime.Stack(buf[:], false)
			unlockStr := string(buf[:cnt])

			// lockTime is recorded even if tracking was disabled at Lock() time,
			// so its possible lockStack was never set
			lockStr, ok := mt.lockStack.Load().(string)
			if !ok || ("" == lockStr) {
				lockStr = "goroutine 9999 [unknown]\nlocked before lock tracking enabled\n"
			}
			logger.Warnf("Unlock(): %T at %p locked for %f sec; stack at call to Lock():\n%s stack at Unlock():\n%s",
				wrappedLock, wrappedLock,
				float64(now.Sub(lockTime))/float64(time.Second), lockStr, unlockStr)
		}
	}

	// release the lock
	atomic.StoreUint64(&mt.lockerGoId, 0)
	atomic.StoreInt32(&mt.lockCnt, 0)
}

func (mt *MutexTrack) isLocked() bool {
	return 0 != atomic.LoadInt32(&mt.lockCnt)
}

func (mt *MutexTrack) isLockedBy(goId uint64) bool {
	return (goId == atomic.LoadUint64(&mt.lockerGoId)) && mt.isLocked()
}

// information about a lock that is held too long
type longLockHolder struct {
	lockPtr      interface{} // pointer to the actual lock
	lockTime     time.Time   // time last lock operation completed
	lockerGoId   uint64      // goroutine ID of the last locker
	lockStackStr string      // stack trace when the object was locked
}

// Record a lock that has been held too long.
//
// longLockHolders is a slice containing longLockHolder information for upto
// globals.lockWatcherLocksLogged locks, sorted from longest to shortest held.  Add
// newHolder to the slice, potentially discarding the lock that has been held least
// long.
//
func recordLongLockHolder(longLockHolders []*longLockHolder, newHolder *longLockHolder) []*longLockHolder {
	// if there's room append the new entry, else overwrite the youngest lock holder
	if len(longLockHolders) < globals.lockWatcherLocksLogged {
		longLockHolders = append(longLockHolders, newHolder)
	} else {
		longLockHolders[len(longLockHolders)-1] = newHolder
	}

	// the new entry may not be the shortest lock holder; resort the list
	for i := len(longLockHolders) - 2; i >= 0; i -= 1 {
		if longLockHolders[i].lockTime.Before(longLockHolders[i+1].lockTime) {
			break
		}
		longLockHolders[i], longLockHolders[i+1] = longLockHolders[i+1], longLockHolders[i]
	}

	return longLockHolders
}

// Periodically check for locks that have been held too long.
//
func lockWatcher() {
	for shutdown := false; !shutdown; {
		select {
		case <-globals.stopChan:
			shutdown = true
			logger.Infof("trackedlock lock watcher shutting down")
			// fall through and perform one last check

		case <-globals.lockCheckChan:
			// fall through and perform checks
		}

		var (
			longLockHolders = make([]*longLockHolder, 0)
			longestDuration = lockHoldTimeLimit()
		)

		// now does not change during a loop iteration
		now := time.Now()

		globals.mapMutex.Lock()
		for mt, lockPtr := range globals.mutexMap {
			lockTime := time.Unix(0, atomic.LoadInt64(&mt.lockTime))

			// If the lock is not locked then skip it; if it has been idle
			// for the lockCheckPeriod then drop it from the locks being
			// watched.
			if !mt.isLocked() {
				if now.Sub(lockTime) >= lockCheckPeriod() {
					atomic.StoreInt32(&mt.isWatched, 0)
					delete(globals.mutexMap, mt)
				}
				continue
			}

			lockedDuration := now.Sub(lockTime)
			if lockedDuration > longestDuration {
				lockStackStr, _ := mt.lockStack.Load().(string)
				longHolder := &longLockHolder{
					lockPtr:      lockPtr,
					lockTime:     lockTime,
					lockerGoId:   atomic.LoadUint64(&mt.lockerGoId),
					lockStackStr: lockStackStr,
				}
				longLockHolders = recordLongLockHolder(longLockHolders, longHolder)

				// if we've hit the maximum number of locks then bump
				// longestDuration
				if len(longLockHolders) == globals.lockWatcherLocksLogged {
					longestDuration = lockedDuration
				}
			}
		}
		globals.mapMutex.Unlock()

		// log a Warning for each lock that has been held too long,
		// from longest to shortest
		for i := 0; i < len(longLockHolders); i += 1 {
			logger.Warnf("trackedlock watcher: %T at %p locked for %f sec rank %d by goroutine %d; stack at call to Lock():\n%s",
				longLockHolders[i].lockPtr, longLockHolders[i].lockPtr,
				float64(now.Sub(longLockHolders[i].lockTime))/float64(time.Second), i,
				longLockHolders[i].lockerGoId, longLockHolders[i].lockStackStr)
		}
	}

	globals.doneChan <- struct{}{}
}
