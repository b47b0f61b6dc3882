// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bcache

import (
	"sync/atomic"

	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/halter"
	"github.com/NVIDIA/blockcache/logger"
)

// acquire implements Acquire().
//
// Lock ordering is evictLock, then shard locks in increasing shard index. At
// most two shard locks are held at once: the one holding the best eviction
// candidate found so far and the one being scanned. Content locks are only
// taken once every SpinLock has been released.
func (cache *Cache) acquire(id BlockID) (buf *Buffer) {
	var (
		bestBufIndex   int
		bestShardIndex int
		bestTimestamp  uint64
		bufIndex       int
		relocated      bool
		scanLength     uint64
		targetShard    *shardStruct
		targetShardIdx int
	)

	targetShardIdx = cache.shardIndex(id.BlockNumber)
	targetShard = &cache.shards[targetShardIdx]

	targetShard.lock.Lock()
	bufIndex = cache.lookup(targetShard, id)
	if 0 <= bufIndex {
		buf = &cache.buffers[bufIndex]
		buf.refCount++
		targetShard.lock.Unlock()
		cache.stats.Hits.Increment()
		buf.contentLock.Lock()
		return
	}
	targetShard.lock.Unlock()

	cache.stats.Misses.Increment()

	halter.Trigger(halter.BCacheEvictEntry)

	cache.evictLock.Lock()

	// Another goroutine may have brought id into the cache since we looked
	targetShard.lock.Lock()
	bufIndex = cache.lookup(targetShard, id)
	if 0 <= bufIndex {
		buf = &cache.buffers[bufIndex]
		buf.refCount++
		targetShard.lock.Unlock()
		cache.evictLock.Unlock()
		cache.stats.RescanHits.Increment()
		buf.contentLock.Lock()
		return
	}
	targetShard.lock.Unlock()

	bestShardIndex = -1
	bestBufIndex = -1

	for shardIndex := range cache.shards {
		shard := &cache.shards[shardIndex]
		shard.lock.Lock()
		foundBetter := false
		for _, bufIndex = range shard.members {
			scanLength++
			candidate := &cache.buffers[bufIndex]
			if (0 == candidate.refCount) && ((0 > bestBufIndex) || (candidate.timestamp < bestTimestamp)) {
				bestBufIndex = bufIndex
				bestTimestamp = candidate.timestamp
				foundBetter = true
			}
		}
		if foundBetter {
			if 0 <= bestShardIndex {
				cache.shards[bestShardIndex].lock.Unlock()
			}
			bestShardIndex = shardIndex
		} else {
			shard.lock.Unlock()
		}
	}

	cache.stats.EvictionScanLength.Add(scanLength)

	if 0 > bestBufIndex {
		cache.evictLock.Unlock()
		cache.stats.Exhaustions.Increment()
		err := blunder.NewError(blunder.CacheExhaustedError, "bcache %s: all %v Buffers referenced acquiring %+v",
			cache.name, len(cache.buffers), id)
		logger.PanicfWithError(err, "bcache.Acquire() has no Buffer to evict")
	}

	buf = &cache.buffers[bestBufIndex]

	if buf.hasIdentity {
		logger.Tracef("bcache %s: evicting Buffer %v holding %+v (timestamp %v) for %+v",
			cache.name, bestBufIndex, BlockID{Device: buf.device, BlockNumber: buf.blockNumber}, bestTimestamp, id)
	} else {
		logger.Tracef("bcache %s: using unused Buffer %v for %+v", cache.name, bestBufIndex, id)
	}

	buf.device = id.Device
	buf.blockNumber = id.BlockNumber
	buf.hasIdentity = true
	buf.home = targetShardIdx
	buf.refCount = 1
	atomic.StoreUint32(&buf.valid, 0) // no goroutine holds contentLock of an unreferenced Buffer

	cache.stats.Evictions.Increment()

	if bestShardIndex == targetShardIdx {
		targetShard.lock.Unlock()
	} else {
		cache.shards[bestShardIndex].unlink(bestBufIndex)
		cache.shards[bestShardIndex].lock.Unlock()

		targetShard.lock.Lock()
		targetShard.insertAtHead(bestBufIndex)
		targetShard.lock.Unlock()

		relocated = true
		cache.stats.Relocations.Increment()

		logger.Tracef("bcache %s: relocated Buffer %v from shard %v to shard %v", cache.name, bestBufIndex, bestShardIndex, targetShardIdx)
	}

	cache.evictLock.Unlock()

	if relocated {
		halter.Trigger(halter.BCacheRelocateExit)
	}

	buf.contentLock.Lock()

	return
}
