// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"os"

	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/logger"
)

const (
	DeviceTypeRAM  = "ram"
	DeviceTypeFile = "file"

	DefaultBlockCount = uint32(1000)
)

// NewDeviceFromConfMap builds the Device described by the [BlockDevice] section:
//
//   [BlockDevice]
//   Type:       ram          # or file
//   Path:       /tmp/bcache.img # required for Type == file
//   BlockCount: 1000
//
// A file image that does not yet exist is formatted with BlockCount blocks of
// blockSize bytes. An existing image must have been formatted with blockSize.
func NewDeviceFromConfMap(confMap conf.ConfMap, blockSize uint32) (device Device, err error) {
	var (
		blockCount uint32
		deviceType string
		fileDevice *FileDevice
		path       string
	)

	deviceType, err = confMap.FetchOptionValueString("BlockDevice", "Type")
	if nil != err {
		deviceType = DeviceTypeRAM
		logger.Warnf("config variable 'BlockDevice.Type' defaulting to '%s'", deviceType)
	}

	blockCount, err = confMap.FetchOptionValueUint32("BlockDevice", "BlockCount")
	if nil != err {
		blockCount = DefaultBlockCount
		logger.Warnf("config variable 'BlockDevice.BlockCount' defaulting to %v", blockCount)
	}

	err = nil

	switch deviceType {
	case DeviceTypeRAM:
		if (0 == blockSize) || (0 == blockCount) {
			err = blunder.NewError(blunder.InvalidArgError, "RAM device requires non-zero BlockSize (%v) & BlockCount (%v)", blockSize, blockCount)
			return
		}
		device = NewRAMDevice(blockSize, blockCount)
	case DeviceTypeFile:
		path, err = confMap.FetchOptionValueString("BlockDevice", "Path")
		if nil != err {
			err = blunder.AddError(err, blunder.InvalidArgError)
			return
		}
		_, err = os.Stat(path)
		if os.IsNotExist(err) {
			err = FormatFileDevice(path, blockSize, blockCount)
			if nil != err {
				return
			}
		} else if nil != err {
			err = blunder.AddError(err, blunder.IOError)
			return
		}
		fileDevice, err = OpenFileDevice(path)
		if nil != err {
			return
		}
		if blockSize != fileDevice.BlockSize() {
			_ = fileDevice.Close()
			err = blunder.NewError(blunder.BadDeviceImageError, "%s has BlockSize %v; expected %v", path, fileDevice.BlockSize(), blockSize)
			return
		}
		device = fileDevice
	default:
		err = blunder.NewError(blunder.InvalidArgError, "config variable 'BlockDevice.Type' must be '%s' or '%s' (not '%s')",
			DeviceTypeRAM, DeviceTypeFile, deviceType)
	}

	return
}
