// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bcache

import (
	"fmt"
	"sync/atomic"

	"github.com/creachadair/cityhash"

	"github.com/NVIDIA/blockcache/blockdev"
	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/bucketstats"
	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/platform"
	"github.com/NVIDIA/blockcache/trackedlock"
	"github.com/NVIDIA/blockcache/utils"
)

// Buffer is one slot of a Cache. Its identity, refCount, and timestamp are
// protected by the lock of the shard listing it; valid and content by
// contentLock.
type Buffer struct {
	timestamp   uint64 // clock value at the last release to refCount == 0
	valid       uint32 // 1 once content holds the block; accessed atomically
	refCount    uint32
	device      uint32
	blockNumber uint32
	hasIdentity bool
	home        int // shard blockNumber hashes to; fixed while refCount > 0
	index       int
	contentLock trackedlock.Mutex
	content     []byte
}

type shardStruct struct {
	lock    trackedlock.SpinLock
	members []int // indices into Cache.buffers; [0] is the head
}

// Cache is a fixed set of Buffers caching the blocks of a blockdev.Transferer.
type Cache struct {
	clock     uint64 // must be 64-bit aligned; only accessed atomically
	name      string
	config    Config
	device    blockdev.Transferer
	buffers   []Buffer
	shards    []shardStruct
	evictLock trackedlock.SpinLock
	stats     statsStruct
}

var cacheNameSuffix uint64

// ID returns the block buf holds. It is only meaningful while the caller holds
// a reference to buf.
func (buf *Buffer) ID() (id BlockID) {
	id = BlockID{Device: buf.device, BlockNumber: buf.blockNumber}
	return
}

// Data returns buf's content. It may only be accessed while the caller holds
// buf's content lock.
func (buf *Buffer) Data() (content []byte) {
	return buf.content
}

// Valid reports whether buf's content holds its block.
func (buf *Buffer) Valid() (valid bool) {
	return 1 == atomic.LoadUint32(&buf.valid)
}

// Index returns buf's position in the cache's fixed Buffer pool.
func (buf *Buffer) Index() (index int) {
	return buf.index
}

func newCache(config Config, device blockdev.Transferer) (cache *Cache, err error) {
	if (0 == config.BufferCount) || (0 == config.ShardCount) || (0 == config.BlockSize) {
		err = blunder.NewError(blunder.InvalidArgError, "bcache.New() requires non-zero BufferCount (%v), ShardCount (%v), and BlockSize (%v)",
			config.BufferCount, config.ShardCount, config.BlockSize)
		return
	}
	if !platform.FitsInMemory(config.BufferCount, config.BlockSize) {
		err = blunder.NewError(blunder.NoSpaceError, "bcache.New() cannot fit %v Buffers of %v bytes in %v bytes of memory",
			config.BufferCount, config.BlockSize, platform.MemSize())
		return
	}
	if nil == device {
		err = blunder.NewError(blunder.InvalidArgError, "bcache.New() requires a device")
		return
	}

	if "" == config.Name {
		config.Name = fmt.Sprintf("cache%d", atomic.AddUint64(&cacheNameSuffix, 1))
	}

	cache = &Cache{
		name:    config.Name,
		config:  config,
		device:  device,
		buffers: make([]Buffer, config.BufferCount),
		shards:  make([]shardStruct, config.ShardCount),
	}

	// Every Buffer starts out in shard 0 holding no block
	cache.shards[0].members = make([]int, 0, config.BufferCount)
	for i := range cache.buffers {
		cache.buffers[i].index = i
		cache.buffers[i].content = make([]byte, config.BlockSize)
		cache.shards[0].members = append(cache.shards[0].members, i)
	}

	bucketstats.Register("bcache", cache.name, &cache.stats)

	logger.Infof("bcache %s: %v Buffers of %v bytes in %v shards", cache.name, config.BufferCount, config.BlockSize, config.ShardCount)

	return
}

func (cache *Cache) close() (err error) {
	var (
		referenced int
	)

	for i := range cache.shards {
		shard := &cache.shards[i]
		shard.lock.Lock()
		for _, bufIndex := range shard.members {
			if 0 != cache.buffers[bufIndex].refCount {
				referenced++
			}
		}
		shard.lock.Unlock()
	}

	if 0 != referenced {
		logger.Warnf("bcache %s: Close() with %v Buffers still referenced", cache.name, referenced)
	}

	bucketstats.UnRegister("bcache", cache.name)

	return
}

// shardIndex returns the shard in which Buffers holding blockNumber are listed
func (cache *Cache) shardIndex(blockNumber uint32) int {
	return int(cityhash.Hash64(utils.Uint32ToByteSlice(blockNumber)) % uint64(len(cache.shards)))
}

// lookup returns the index of the Buffer in shard holding id or -1. Caller holds shard.lock.
func (cache *Cache) lookup(shard *shardStruct, id BlockID) int {
	for _, bufIndex := range shard.members {
		buf := &cache.buffers[bufIndex]
		if buf.hasIdentity && (id.Device == buf.device) && (id.BlockNumber == buf.blockNumber) {
			return bufIndex
		}
	}
	return -1
}

// unlink removes bufIndex from shard.members. Caller holds shard.lock.
func (shard *shardStruct) unlink(bufIndex int) {
	for i, member := range shard.members {
		if member == bufIndex {
			shard.members = append(shard.members[:i], shard.members[i+1:]...)
			return
		}
	}
}

// insertAtHead makes bufIndex the head of shard.members. Caller holds shard.lock.
func (shard *shardStruct) insertAtHead(bufIndex int) {
	shard.members = append(shard.members, 0)
	copy(shard.members[1:], shard.members)
	shard.members[0] = bufIndex
}
