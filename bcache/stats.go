// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bcache

import (
	"github.com/NVIDIA/blockcache/bucketstats"
)

// statsStruct is registered with bucketstats as ("bcache", <cache name>)
type statsStruct struct {
	Hits               bucketstats.Total // found by the unlocked-shard lookup
	Misses             bucketstats.Total // took the eviction path
	RescanHits         bucketstats.Total // Misses found on the rescan under evictLock
	Evictions          bucketstats.Total
	Relocations        bucketstats.Total // Evictions that moved a Buffer between shards
	Exhaustions        bucketstats.Total
	DeviceReads        bucketstats.Total
	DeviceWrites       bucketstats.Total
	Releases           bucketstats.Total
	Pins               bucketstats.Total
	Unpins             bucketstats.Total
	EvictionScanLength bucketstats.BucketLog2 // Buffers examined per eviction scan
}

// StatsSnapshot holds the values of a Cache's counters at one point in time.
type StatsSnapshot struct {
	Hits                      uint64
	Misses                    uint64
	RescanHits                uint64
	Evictions                 uint64
	Relocations               uint64
	Exhaustions               uint64
	DeviceReads               uint64
	DeviceWrites              uint64
	Releases                  uint64
	Pins                      uint64
	Unpins                    uint64
	AverageEvictionScanLength uint64
}

func (cache *Cache) statsSnapshot() (stats StatsSnapshot) {
	stats = StatsSnapshot{
		Hits:                      cache.stats.Hits.TotalGet(),
		Misses:                    cache.stats.Misses.TotalGet(),
		RescanHits:                cache.stats.RescanHits.TotalGet(),
		Evictions:                 cache.stats.Evictions.TotalGet(),
		Relocations:               cache.stats.Relocations.TotalGet(),
		Exhaustions:               cache.stats.Exhaustions.TotalGet(),
		DeviceReads:               cache.stats.DeviceReads.TotalGet(),
		DeviceWrites:              cache.stats.DeviceWrites.TotalGet(),
		Releases:                  cache.stats.Releases.TotalGet(),
		Pins:                      cache.stats.Pins.TotalGet(),
		Unpins:                    cache.stats.Unpins.TotalGet(),
		AverageEvictionScanLength: cache.stats.EvictionScanLength.AverageGet(),
	}
	return
}

// SprintStats returns the cache's statistics in bucketstats.StatFormatParsable1 form.
func (cache *Cache) SprintStats() (stats string) {
	stats = bucketstats.SprintStats(bucketstats.StatFormatParsable1, "bcache", cache.name)
	return
}
