// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package platform hides the OS specific details of opening block device
// images and sizing memory.
package platform

const (
	// GoHeapAllocationMultiplier defines the float64 overhead of memory allocations
	// in the Golang runtime. A buffer pool of N blocks of S bytes is assumed to
	// occupy N * S * GoHeapAllocationMultiplier bytes of RAM, which must not exceed
	// MemSize().
	GoHeapAllocationMultiplier = float64(2.0)
)

// FitsInMemory reports whether bufferCount buffers of blockSize bytes (scaled by
// GoHeapAllocationMultiplier) fit in this system's RAM.
func FitsInMemory(bufferCount uint32, blockSize uint32) bool {
	return float64(bufferCount)*float64(blockSize)*GoHeapAllocationMultiplier <= float64(MemSize())
}
