// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package blockdev provides the block devices a buffer cache transfers blocks
// to and from. Devices are attached to a Table under a device number; the
// Table routes each single-block transfer to the addressed device.
//
// Two devices are provided: a RAMDevice holding its blocks in memory and a
// FileDevice backed by a formatted image file.
package blockdev

import (
	"sync"

	"github.com/NVIDIA/blockcache/bucketstats"
)

// DeviceBlock identifies one block of one attached device.
type DeviceBlock struct {
	Device      uint32
	BlockNumber uint32
}

// Transferer moves exactly one block between content and the addressed device.
// If isWrite is true, content is written to the device; otherwise content is
// filled from the device. Transfer returns only once the transfer completes.
type Transferer interface {
	Transfer(deviceBlock DeviceBlock, content []byte, isWrite bool) (err error)
}

// Device is a fixed size array of fixed size blocks.
//
// ReadBlock and WriteBlock may be called concurrently, though never for the
// same block (the buffer cache serializes access to each block).
type Device interface {
	BlockSize() (blockSize uint32)
	BlockCount() (blockCount uint32)
	ReadBlock(blockNumber uint32, content []byte) (err error)
	WriteBlock(blockNumber uint32, content []byte) (err error)
	Close() (err error)
}

type tableStatsStruct struct {
	ReadOps         bucketstats.Total
	WriteOps        bucketstats.Total
	ReadBytes       bucketstats.Total
	WriteBytes      bucketstats.Total
	FailedTransfers bucketstats.Total
}

// Table maps device numbers to attached Devices and implements Transferer.
type Table struct {
	sync.RWMutex
	name    string
	devices map[uint32]Device
	stats   tableStatsStruct
}

// NewTable returns an empty Table. Its statistics are registered with
// bucketstats as ("blockdev", name) until Close() is called.
func NewTable(name string) (table *Table) {
	table = &Table{
		name:    name,
		devices: make(map[uint32]Device),
	}

	bucketstats.Register("blockdev", name, &table.stats)

	return
}

// Attach makes device reachable as device number deviceNumber.
func (table *Table) Attach(deviceNumber uint32, device Device) (err error) {
	err = table.attach(deviceNumber, device)
	return
}

// Detach removes (but does not Close) the device numbered deviceNumber.
func (table *Table) Detach(deviceNumber uint32) (device Device, err error) {
	device, err = table.detach(deviceNumber)
	return
}

// Transfer implements Transferer.
func (table *Table) Transfer(deviceBlock DeviceBlock, content []byte, isWrite bool) (err error) {
	err = table.transfer(deviceBlock, content, isWrite)
	return
}

// Stats returns the "blockdev" statistics of this Table in bucketstats form.
func (table *Table) Stats() (stats string) {
	stats = bucketstats.SprintStats(bucketstats.StatFormatParsable1, "blockdev", table.name)
	return
}

// Close detaches and closes every attached device and unregisters the
// statistics. The first Close() error encountered is returned.
func (table *Table) Close() (err error) {
	err = table.close()
	return
}
