// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"sort"

	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/bucketstats"
	"github.com/NVIDIA/blockcache/logger"
)

func (table *Table) attach(deviceNumber uint32, device Device) (err error) {
	table.Lock()
	defer table.Unlock()

	_, ok := table.devices[deviceNumber]
	if ok {
		err = blunder.NewError(blunder.DevBusyError, "blockdev.Attach(%v,) device number already attached", deviceNumber)
		return
	}

	table.devices[deviceNumber] = device

	logger.Infof("blockdev table %s: attached device %v (%v blocks of %v bytes)",
		table.name, deviceNumber, device.BlockCount(), device.BlockSize())

	return
}

func (table *Table) detach(deviceNumber uint32) (device Device, err error) {
	table.Lock()
	defer table.Unlock()

	device, ok := table.devices[deviceNumber]
	if !ok {
		err = blunder.NewError(blunder.NoDeviceError, "blockdev.Detach(%v) device not attached", deviceNumber)
		return
	}

	delete(table.devices, deviceNumber)

	return
}

func (table *Table) transfer(deviceBlock DeviceBlock, content []byte, isWrite bool) (err error) {
	table.RLock()
	device, ok := table.devices[deviceBlock.Device]
	table.RUnlock()

	if !ok {
		table.stats.FailedTransfers.Increment()
		err = blunder.NewError(blunder.NoDeviceError, "blockdev.Transfer(%+v,,%v) device not attached", deviceBlock, isWrite)
		return
	}
	if deviceBlock.BlockNumber >= device.BlockCount() {
		table.stats.FailedTransfers.Increment()
		err = blunder.NewError(blunder.OutOfRangeError, "blockdev.Transfer(%+v,,%v) block beyond BlockCount %v",
			deviceBlock, isWrite, device.BlockCount())
		return
	}
	if uint64(len(content)) != uint64(device.BlockSize()) {
		table.stats.FailedTransfers.Increment()
		err = blunder.NewError(blunder.InvalidArgError, "blockdev.Transfer(%+v,,%v) len(content) %v != BlockSize %v",
			deviceBlock, isWrite, len(content), device.BlockSize())
		return
	}

	logger.Tracef("blockdev.Transfer(%+v,,%v)", deviceBlock, isWrite)

	if isWrite {
		err = device.WriteBlock(deviceBlock.BlockNumber, content)
		if nil == err {
			table.stats.WriteOps.Increment()
			table.stats.WriteBytes.Add(uint64(len(content)))
		}
	} else {
		err = device.ReadBlock(deviceBlock.BlockNumber, content)
		if nil == err {
			table.stats.ReadOps.Increment()
			table.stats.ReadBytes.Add(uint64(len(content)))
		}
	}
	if nil != err {
		table.stats.FailedTransfers.Increment()
		if blunder.Errno(err) <= 0 {
			err = blunder.AddError(err, blunder.IOError)
		}
	}

	return
}

func (table *Table) close() (err error) {
	var (
		closeErr      error
		deviceNumbers []int
	)

	table.Lock()

	deviceNumbers = make([]int, 0, len(table.devices))
	for deviceNumber := range table.devices {
		deviceNumbers = append(deviceNumbers, int(deviceNumber))
	}
	sort.Ints(deviceNumbers)

	for _, deviceNumber := range deviceNumbers {
		closeErr = table.devices[uint32(deviceNumber)].Close()
		if nil != closeErr {
			logger.ErrorfWithError(closeErr, "blockdev table %s: Close() of device %v failed", table.name, deviceNumber)
			if nil == err {
				err = closeErr
			}
		}
		delete(table.devices, uint32(deviceNumber))
	}

	table.Unlock()

	bucketstats.UnRegister("blockdev", table.name)

	return
}
