// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bcache

import (
	"sync/atomic"

	"github.com/NVIDIA/blockcache/blunder"
)

// validate holds evictLock and every shard lock (in shard order) so that no
// eviction is in progress while the shard lists are checked.
func (cache *Cache) validate() (err error) {
	var (
		identities map[BlockID]int
		listedIn   []int
	)

	cache.evictLock.Lock()
	for shardIndex := range cache.shards {
		cache.shards[shardIndex].lock.Lock()
	}
	defer func() {
		for shardIndex := len(cache.shards) - 1; shardIndex >= 0; shardIndex-- {
			cache.shards[shardIndex].lock.Unlock()
		}
		cache.evictLock.Unlock()
	}()

	listedIn = make([]int, len(cache.buffers))
	for bufIndex := range listedIn {
		listedIn[bufIndex] = -1
	}

	identities = make(map[BlockID]int)

	for shardIndex := range cache.shards {
		for _, bufIndex := range cache.shards[shardIndex].members {
			if (0 > bufIndex) || (len(cache.buffers) <= bufIndex) {
				err = blunder.NewError(blunder.CorruptCacheError, "bcache %s: shard %v lists nonexistent Buffer %v", cache.name, shardIndex, bufIndex)
				return
			}
			if 0 <= listedIn[bufIndex] {
				err = blunder.NewError(blunder.CorruptCacheError, "bcache %s: Buffer %v listed in shard %v and shard %v",
					cache.name, bufIndex, listedIn[bufIndex], shardIndex)
				return
			}
			listedIn[bufIndex] = shardIndex

			buf := &cache.buffers[bufIndex]

			if !buf.hasIdentity {
				if (0 != buf.refCount) || (0 != atomic.LoadUint32(&buf.valid)) {
					err = blunder.NewError(blunder.CorruptCacheError, "bcache %s: unused Buffer %v has refCount %v valid %v",
						cache.name, bufIndex, buf.refCount, buf.valid)
					return
				}
				continue
			}

			id := BlockID{Device: buf.device, BlockNumber: buf.blockNumber}

			homeShardIndex := cache.shardIndex(id.BlockNumber)
			if (homeShardIndex != shardIndex) || (homeShardIndex != buf.home) {
				err = blunder.NewError(blunder.CorruptCacheError, "bcache %s: Buffer %v holding %+v is in shard %v (home %v) but hashes to shard %v",
					cache.name, bufIndex, id, shardIndex, buf.home, homeShardIndex)
				return
			}

			otherBufIndex, duplicate := identities[id]
			if duplicate {
				err = blunder.NewError(blunder.CorruptCacheError, "bcache %s: Buffers %v and %v both hold %+v", cache.name, otherBufIndex, bufIndex, id)
				return
			}
			identities[id] = bufIndex
		}
	}

	for bufIndex, shardIndex := range listedIn {
		if 0 > shardIndex {
			err = blunder.NewError(blunder.CorruptCacheError, "bcache %s: Buffer %v is not in any shard", cache.name, bufIndex)
			return
		}
	}

	return
}
