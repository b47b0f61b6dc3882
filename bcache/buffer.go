// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bcache

import (
	"sync/atomic"

	"github.com/NVIDIA/blockcache/blockdev"
	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/logger"
)

func (cache *Cache) read(id BlockID) (buf *Buffer) {
	buf = cache.acquire(id)

	if 0 == atomic.LoadUint32(&buf.valid) {
		err := cache.device.Transfer(blockdev.DeviceBlock{Device: id.Device, BlockNumber: id.BlockNumber}, buf.content, false)
		if nil != err {
			cache.release(buf)
			err = blunder.AddError(err, blunder.IOError)
			logger.PanicfWithError(err, "bcache %s: device read of %+v failed", cache.name, id)
		}
		atomic.StoreUint32(&buf.valid, 1)
		cache.stats.DeviceReads.Increment()
	}

	return
}

func (cache *Cache) write(buf *Buffer) {
	cache.checkContentLockHeld(buf, "Write")

	id := buf.ID()

	err := cache.device.Transfer(blockdev.DeviceBlock{Device: id.Device, BlockNumber: id.BlockNumber}, buf.content, true)
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		logger.PanicfWithError(err, "bcache %s: device write of %+v failed", cache.name, id)
	}

	cache.stats.DeviceWrites.Increment()
}

func (cache *Cache) release(buf *Buffer) {
	cache.checkContentLockHeld(buf, "Release")

	buf.contentLock.Unlock()

	shard := &cache.shards[buf.home]
	shard.lock.Lock()
	if 0 == buf.refCount {
		shard.lock.Unlock()
		err := blunder.NewError(blunder.CorruptCacheError, "bcache %s: Buffer %v content locked with no references", cache.name, buf.index)
		logger.PanicfWithError(err, "bcache.Release() found refCount == 0")
	}
	buf.refCount--
	if 0 == buf.refCount {
		buf.timestamp = atomic.AddUint64(&cache.clock, 1)
	}
	shard.lock.Unlock()

	cache.stats.Releases.Increment()
}

func (cache *Cache) pin(buf *Buffer) {
	shard := &cache.shards[buf.home]
	shard.lock.Lock()
	if 0 == buf.refCount {
		shard.lock.Unlock()
		err := blunder.NewError(blunder.ContractViolationError, "bcache %s: Pin() of unreferenced Buffer %v", cache.name, buf.index)
		logger.PanicfWithError(err, "bcache.Pin() requires a referenced Buffer")
	}
	buf.refCount++
	shard.lock.Unlock()

	cache.stats.Pins.Increment()
}

func (cache *Cache) unpin(buf *Buffer) {
	shard := &cache.shards[buf.home]
	shard.lock.Lock()
	if 0 == buf.refCount {
		shard.lock.Unlock()
		err := blunder.NewError(blunder.ContractViolationError, "bcache %s: Unpin() of unreferenced Buffer %v", cache.name, buf.index)
		logger.PanicfWithError(err, "bcache.Unpin() requires a referenced Buffer")
	}
	buf.refCount--
	shard.lock.Unlock()

	cache.stats.Unpins.Increment()
}

func (cache *Cache) checkContentLockHeld(buf *Buffer, op string) {
	if !buf.contentLock.IsLockedByCaller() {
		err := blunder.NewError(blunder.ContractViolationError, "bcache %s: %s() of Buffer %v without holding its content lock", cache.name, op, buf.index)
		logger.PanicfWithError(err, "bcache.%s() contract violation", op)
	}
}
