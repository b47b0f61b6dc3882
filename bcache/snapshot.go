// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bcache

import (
	"fmt"
	"sync/atomic"

	"github.com/NVIDIA/sortedmap"

	"github.com/NVIDIA/blockcache/blunder"
)

// BufferInfo describes one Buffer at the time its shard was examined.
type BufferInfo struct {
	ID        BlockID
	Index     int
	Shard     int
	RefCount  uint32
	Valid     bool
	Timestamp uint64
}

func compareBlockID(key1 sortedmap.Key, key2 sortedmap.Key) (result int, err error) {
	id1, ok := key1.(BlockID)
	if !ok {
		err = fmt.Errorf("compareBlockID(non-BlockID,) not supported")
		return
	}
	id2, ok := key2.(BlockID)
	if !ok {
		err = fmt.Errorf("compareBlockID(,non-BlockID) not supported")
		return
	}

	switch {
	case id1.Device < id2.Device:
		result = -1
	case id1.Device > id2.Device:
		result = 1
	case id1.BlockNumber < id2.BlockNumber:
		result = -1
	case id1.BlockNumber > id2.BlockNumber:
		result = 1
	default:
		result = 0
	}

	return
}

// snapshot examines each shard in turn under only that shard's lock, so the
// result is consistent per shard rather than across the whole cache.
func (cache *Cache) snapshot() (bufferInfos []BufferInfo, err error) {
	var (
		numInfos int
		ok       bool
		value    sortedmap.Value
	)

	infoTree := sortedmap.NewLLRBTree(compareBlockID, nil)

	for shardIndex := range cache.shards {
		shard := &cache.shards[shardIndex]
		shard.lock.Lock()
		for _, bufIndex := range shard.members {
			buf := &cache.buffers[bufIndex]
			if !buf.hasIdentity {
				continue
			}
			bufferInfo := BufferInfo{
				ID:        BlockID{Device: buf.device, BlockNumber: buf.blockNumber},
				Index:     bufIndex,
				Shard:     shardIndex,
				RefCount:  buf.refCount,
				Valid:     1 == atomic.LoadUint32(&buf.valid),
				Timestamp: buf.timestamp,
			}
			ok, err = infoTree.Put(bufferInfo.ID, bufferInfo)
			if (nil == err) && !ok {
				err = blunder.NewError(blunder.CorruptCacheError, "bcache %s: %+v held by more than one Buffer", cache.name, bufferInfo.ID)
			}
			if nil != err {
				shard.lock.Unlock()
				return
			}
		}
		shard.lock.Unlock()
	}

	numInfos, err = infoTree.Len()
	if nil != err {
		return
	}

	bufferInfos = make([]BufferInfo, 0, numInfos)

	for i := 0; i < numInfos; i++ {
		_, value, ok, err = infoTree.GetByIndex(i)
		if nil != err {
			return
		}
		if !ok {
			err = fmt.Errorf("infoTree.GetByIndex(%v) returned !ok", i)
			return
		}
		bufferInfos = append(bufferInfos, value.(BufferInfo))
	}

	return
}
