// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package bcache implements a fixed-capacity cache of disk blocks held in
// memory. Callers obtain a Buffer holding a block with Read(), modify it and
// push it to the device with Write(), and give it back with Release(). While a
// caller holds a Buffer no other caller can obtain the same block; a Buffer
// that nobody holds is a candidate for reuse by a different block, least
// recently released first.
//
// The Buffers are spread over a fixed number of shards, each guarded by its
// own SpinLock, so that lookups of blocks in different shards proceed in
// parallel. Choosing and repurposing a Buffer for a block not in the cache is
// serialized by a single eviction SpinLock.
//
// Contract violations (releasing a Buffer not held, pinning a Buffer with no
// references), running out of reusable Buffers, and device transfer failures
// are fatal: the condition is logged and the goroutine panics with a blunder
// error (ContractViolationError, CacheExhaustedError, or IOError).
package bcache

import (
	"github.com/NVIDIA/blockcache/blockdev"
	"github.com/NVIDIA/blockcache/conf"
)

// BlockID identifies a block on a device.
type BlockID struct {
	Device      uint32
	BlockNumber uint32
}

const (
	DefaultBufferCount = uint32(30)
	DefaultShardCount  = uint32(13)
	DefaultBlockSize   = uint32(1024)
)

// Config sizes a Cache. Name (defaulted if "") distinguishes the Cache's
// statistics from those of other instances.
type Config struct {
	Name        string
	BufferCount uint32
	ShardCount  uint32
	BlockSize   uint32
}

// DefaultConfig returns a Config of DefaultBufferCount Buffers of
// DefaultBlockSize bytes spread over DefaultShardCount shards.
func DefaultConfig() (config Config) {
	config = Config{
		BufferCount: DefaultBufferCount,
		ShardCount:  DefaultShardCount,
		BlockSize:   DefaultBlockSize,
	}
	return
}

// ParseConfMap fetches a Config from the [BlockCache] section of confMap:
//
//   [BlockCache]
//   Name:        bcache0
//   BufferCount: 30
//   ShardCount:  13
//   BlockSize:   1024
//
// Options that are missing fall back to their defaults; options present but
// not parseable are an error.
func ParseConfMap(confMap conf.ConfMap) (config Config, err error) {
	config, err = parseConfMap(confMap)
	return
}

// New creates a Cache of config.BufferCount Buffers, none holding any block,
// that transfers blocks with device.
func New(config Config, device blockdev.Transferer) (cache *Cache, err error) {
	cache, err = newCache(config, device)
	return
}

// Acquire returns the Buffer for id with a reference taken on the caller's
// behalf and its content lock held. The content is not loaded; see Read().
//
// If id is not cached, the least recently released unreferenced Buffer is
// repurposed for it. If every Buffer is referenced, Acquire panics with
// blunder.CacheExhaustedError.
func (cache *Cache) Acquire(id BlockID) (buf *Buffer) {
	buf = cache.acquire(id)
	return
}

// Read is Acquire() followed, if the Buffer does not yet hold valid content,
// by a device read of the block.
func (cache *Cache) Read(id BlockID) (buf *Buffer) {
	buf = cache.read(id)
	return
}

// Write synchronously writes buf's content to its block. The caller must hold
// buf's content lock (i.e. have obtained buf from Acquire or Read and not yet
// released it).
func (cache *Cache) Write(buf *Buffer) {
	cache.write(buf)
}

// Release drops the content lock and the reference obtained by Acquire or
// Read. When the last reference is dropped, buf becomes the most recently
// used unreferenced Buffer.
func (cache *Cache) Release(buf *Buffer) {
	cache.release(buf)
}

// Pin adds a reference to buf, keeping it (and its block) in the cache after
// the caller releases it. buf must already be referenced.
func (cache *Cache) Pin(buf *Buffer) {
	cache.pin(buf)
}

// Unpin drops a reference added by Pin. It neither takes nor releases the
// content lock.
func (cache *Cache) Unpin(buf *Buffer) {
	cache.unpin(buf)
}

// Stats returns the cache's counters.
func (cache *Cache) Stats() (stats StatsSnapshot) {
	stats = cache.statsSnapshot()
	return
}

// Snapshot describes every Buffer holding a block, ordered by BlockID.
func (cache *Cache) Snapshot() (bufferInfos []BufferInfo, err error) {
	bufferInfos, err = cache.snapshot()
	return
}

// Validate checks the shard lists for consistency, returning a
// blunder.CorruptCacheError describing the first problem found.
func (cache *Cache) Validate() (err error) {
	err = cache.validate()
	return
}

// Close unregisters the cache's statistics. The cache must not be used afterwards.
func (cache *Cache) Close() (err error) {
	err = cache.close()
	return
}
