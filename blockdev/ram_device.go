// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"sync"

	"github.com/google/btree"

	"github.com/NVIDIA/blockcache/blunder"
)

// RAMDevice is a Device whose blocks live in memory. Only written blocks are
// stored (in a btree ordered by block number); unwritten blocks read as zeros.
type RAMDevice struct {
	sync.Mutex
	blockSize  uint32
	blockCount uint32
	blocks     *btree.BTree
	failReads  bool
	failWrites bool
	closed     bool
}

type ramBlockStruct struct {
	blockNumber uint32
	content     []byte
}

func (ramBlock *ramBlockStruct) Less(than btree.Item) bool {
	return ramBlock.blockNumber < than.(*ramBlockStruct).blockNumber
}

func NewRAMDevice(blockSize uint32, blockCount uint32) (ramDevice *RAMDevice) {
	ramDevice = &RAMDevice{
		blockSize:  blockSize,
		blockCount: blockCount,
		blocks:     btree.New(2),
	}
	return
}

func (ramDevice *RAMDevice) BlockSize() (blockSize uint32) {
	return ramDevice.blockSize
}

func (ramDevice *RAMDevice) BlockCount() (blockCount uint32) {
	return ramDevice.blockCount
}

func (ramDevice *RAMDevice) ReadBlock(blockNumber uint32, content []byte) (err error) {
	ramDevice.Lock()
	defer ramDevice.Unlock()

	err = ramDevice.check("ReadBlock", blockNumber, content, ramDevice.failReads)
	if nil != err {
		return
	}

	item := ramDevice.blocks.Get(&ramBlockStruct{blockNumber: blockNumber})
	if nil == item {
		for i := range content {
			content[i] = 0
		}
		return
	}

	copy(content, item.(*ramBlockStruct).content)

	return
}

func (ramDevice *RAMDevice) WriteBlock(blockNumber uint32, content []byte) (err error) {
	ramDevice.Lock()
	defer ramDevice.Unlock()

	err = ramDevice.check("WriteBlock", blockNumber, content, ramDevice.failWrites)
	if nil != err {
		return
	}

	ramBlock := &ramBlockStruct{
		blockNumber: blockNumber,
		content:     make([]byte, ramDevice.blockSize),
	}
	copy(ramBlock.content, content)

	_ = ramDevice.blocks.ReplaceOrInsert(ramBlock)

	return
}

func (ramDevice *RAMDevice) Close() (err error) {
	ramDevice.Lock()
	ramDevice.closed = true
	ramDevice.blocks.Clear(false)
	ramDevice.Unlock()
	return
}

// BlocksWritten returns the block numbers that have been written, ascending.
func (ramDevice *RAMDevice) BlocksWritten() (blockNumbers []uint32) {
	ramDevice.Lock()
	defer ramDevice.Unlock()

	blockNumbers = make([]uint32, 0, ramDevice.blocks.Len())
	ramDevice.blocks.Ascend(func(item btree.Item) bool {
		blockNumbers = append(blockNumbers, item.(*ramBlockStruct).blockNumber)
		return true
	})

	return
}

// InjectFailures makes subsequent ReadBlock and/or WriteBlock calls fail with
// blunder.IOError until cleared by passing false.
func (ramDevice *RAMDevice) InjectFailures(failReads bool, failWrites bool) {
	ramDevice.Lock()
	ramDevice.failReads = failReads
	ramDevice.failWrites = failWrites
	ramDevice.Unlock()
}

func (ramDevice *RAMDevice) check(op string, blockNumber uint32, content []byte, fail bool) (err error) {
	switch {
	case ramDevice.closed:
		err = blunder.NewError(blunder.NoDeviceError, "RAMDevice.%s(%v,) device closed", op, blockNumber)
	case blockNumber >= ramDevice.blockCount:
		err = blunder.NewError(blunder.OutOfRangeError, "RAMDevice.%s(%v,) beyond BlockCount %v", op, blockNumber, ramDevice.blockCount)
	case uint64(len(content)) != uint64(ramDevice.blockSize):
		err = blunder.NewError(blunder.InvalidArgError, "RAMDevice.%s(%v,) len(content) %v != BlockSize %v", op, blockNumber, len(content), ramDevice.blockSize)
	case fail:
		err = blunder.NewError(blunder.IOError, "RAMDevice.%s(%v,) injected failure", op, blockNumber)
	}
	return
}
