// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package trackedlock

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/logger"
)

/*

 * The trackedlock package provides the two lock classes used by the block
 * cache, each adding lock hold tracking:
 *
 *   Mutex    - wraps sync.Mutex; a goroutine that cannot get it is suspended.
 *              It always records the goroutine ID of its holder so that
 *              IsLockedByCaller() can answer "does the calling goroutine hold
 *              this lock?"
 *
 *   SpinLock - a busy-waiting lock that yields the processor between
 *              attempts; it is meant for very short critical sections that
 *              never block (no I/O, no Mutex acquisition).
 *
 * If lock tracking is enabled, the trackedlock package checks the lock hold
 * time.  When a lock is unlocked, if it was held longer than
 * "LockHoldTimeLimit" then a warning is logged along with the stack trace of
 * the Lock() and Unlock() of the lock.  In addition, a daemon, the trackedlock
 * watcher, periodically checks to see if any lock has been locked too long.
 * When a lock is held too long, the daemon logs the goroutine ID and the stack
 * trace of the goroutine that acquired the lock.
 *
 * The config variable "TrackedLock.LockHoldTimeLimit" is the hold time that
 * triggers warning messages being logged.  If it is 0 then locks are not
 * tracked and the overhead of this package is minimal.
 *
 * The config variable "TrackedLock.LockCheckPeriod" is how often the daemon
 * checks tracked locks.  If it is 0 then no daemon is created and lock hold
 * time is checked only when the lock is unlocked (assuming it is unlocked).
 *
 * trackedlock locks can be locked before this package is initialized, but they
 * will not be tracked until the first time they are locked after
 * initialization.
 */

// The Mutex type that we export, which wraps sync.Mutex to add tracking of lock
// hold time, the holder's goroutine ID and the stack trace of the locker.
//
type Mutex struct {
	wrappedMutex sync.Mutex // the actual Mutex
	tracker      MutexTrack // tracking information for the Mutex
}

// The SpinLock type that we export. state is 0 when unlocked and 1 when locked.
//
type SpinLock struct {
	state   uint32     // only modified via sync/atomic
	tracker MutexTrack // tracking information for the SpinLock
}

//
// Tracked Mutex API
//
func (m *Mutex) Lock() {
	m.wrappedMutex.Lock()

	m.tracker.lockTrack(m, true)
}

func (m *Mutex) Unlock() {
	m.tracker.unlockTrack(m)

	m.wrappedMutex.Unlock()
}

// IsLockedByCaller reports whether the calling goroutine currently holds m.
//
func (m *Mutex) IsLockedByCaller() bool {
	return m.tracker.isLockedBy(goId())
}

// IsLocked reports whether any goroutine currently holds m.
//
func (m *Mutex) IsLocked() bool {
	return m.tracker.isLocked()
}

//
// Tracked SpinLock API
//
func (s *SpinLock) Lock() {
	for !atomic.CompareAndSwapUint32(&s.state, 0, 1) {
		runtime.Gosched()
	}

	s.tracker.lockTrack(s, false)
}

// TryLock makes a single attempt to obtain s, reporting whether it succeeded.
//
func (s *SpinLock) TryLock() (ok bool) {
	ok = atomic.CompareAndSwapUint32(&s.state, 0, 1)
	if ok {
		s.tracker.lockTrack(s, false)
	}
	return
}

func (s *SpinLock) Unlock() {
	if 1 != atomic.LoadUint32(&s.state) {
		err := blunder.NewError(blunder.ContractViolationError, "unlock of unlocked SpinLock")
		logger.PanicfWithError(err, "%T at %p", s, s)
	}

	s.tracker.unlockTrack(s)

	atomic.StoreUint32(&s.state, 0)
}

// IsLocked reports whether any goroutine currently holds s.
//
func (s *SpinLock) IsLocked() bool {
	return 1 == atomic.LoadUint32(&s.state)
}
