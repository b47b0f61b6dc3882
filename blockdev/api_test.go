// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/transitions"
)

func testSetup(t *testing.T, confStrings []string) (confMap conf.ConfMap) {
	confMap, err := conf.MakeConfMapFromStrings(append([]string{
		"Logging.LogFilePath=/dev/null",
		"Logging.LogToConsole=false",
	}, confStrings...))
	require.NoError(t, err)

	err = transitions.Up(confMap)
	require.NoError(t, err)

	return
}

func testTeardown(t *testing.T, confMap conf.ConfMap) {
	err := transitions.Down(confMap)
	require.NoError(t, err)
}

func testTempDir(t *testing.T) (dir string) {
	dir, err := ioutil.TempDir("", "blockdev_test_")
	require.NoError(t, err)
	return
}

func TestRAMDevice(t *testing.T) {
	assert := assert.New(t)

	confMap := testSetup(t, nil)
	defer testTeardown(t, confMap)

	ramDevice := NewRAMDevice(16, 8)
	assert.Equal(uint32(16), ramDevice.BlockSize())
	assert.Equal(uint32(8), ramDevice.BlockCount())

	content := bytes.Repeat([]byte{0xFF}, 16)
	assert.NoError(ramDevice.ReadBlock(3, content))
	assert.Equal(make([]byte, 16), content, "unwritten blocks read as zeros")

	assert.NoError(ramDevice.WriteBlock(5, bytes.Repeat([]byte{5}, 16)))
	assert.NoError(ramDevice.WriteBlock(1, bytes.Repeat([]byte{1}, 16)))

	written := bytes.Repeat([]byte{7}, 16)
	assert.NoError(ramDevice.WriteBlock(7, written))
	written[0] = 0 // device holds its own copy

	assert.NoError(ramDevice.ReadBlock(7, content))
	assert.Equal(bytes.Repeat([]byte{7}, 16), content)
	assert.Equal([]uint32{1, 5, 7}, ramDevice.BlocksWritten())

	err := ramDevice.ReadBlock(8, content)
	assert.True(blunder.Is(err, blunder.OutOfRangeError))
	err = ramDevice.WriteBlock(0, make([]byte, 15))
	assert.True(blunder.Is(err, blunder.InvalidArgError))

	ramDevice.InjectFailures(true, false)
	err = ramDevice.ReadBlock(1, content)
	assert.True(blunder.Is(err, blunder.IOError))
	assert.NoError(ramDevice.WriteBlock(1, content))
	ramDevice.InjectFailures(false, true)
	assert.NoError(ramDevice.ReadBlock(1, content))
	err = ramDevice.WriteBlock(1, content)
	assert.True(blunder.Is(err, blunder.IOError))
	ramDevice.InjectFailures(false, false)

	assert.NoError(ramDevice.Close())
	err = ramDevice.ReadBlock(1, content)
	assert.True(blunder.Is(err, blunder.NoDeviceError))
}

func TestFileDevice(t *testing.T) {
	assert := assert.New(t)

	confMap := testSetup(t, nil)
	defer testTeardown(t, confMap)

	dir := testTempDir(t)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "image")

	err := FormatFileDevice(path, 64, 0)
	assert.True(blunder.Is(err, blunder.InvalidArgError))

	require.NoError(t, FormatFileDevice(path, 64, 10))

	fileDevice, err := OpenFileDevice(path)
	require.NoError(t, err)
	assert.Equal(uint32(64), fileDevice.BlockSize())
	assert.Equal(uint32(10), fileDevice.BlockCount())

	content := make([]byte, 64)
	assert.NoError(fileDevice.ReadBlock(9, content))
	assert.Equal(make([]byte, 64), content)

	for blockNumber := uint32(0); blockNumber < 10; blockNumber++ {
		assert.NoError(fileDevice.WriteBlock(blockNumber, bytes.Repeat([]byte{byte(blockNumber + 1)}, 64)))
	}

	err = fileDevice.WriteBlock(10, content)
	assert.True(blunder.Is(err, blunder.OutOfRangeError))
	err = fileDevice.ReadBlock(0, make([]byte, 65))
	assert.True(blunder.Is(err, blunder.InvalidArgError))

	assert.NoError(fileDevice.Close())
	err = fileDevice.ReadBlock(0, content)
	assert.True(blunder.Is(err, blunder.NoDeviceError))

	// contents survive a reopen
	fileDevice, err = OpenFileDevice(path)
	require.NoError(t, err)
	for blockNumber := uint32(0); blockNumber < 10; blockNumber++ {
		assert.NoError(fileDevice.ReadBlock(blockNumber, content))
		assert.Equal(bytes.Repeat([]byte{byte(blockNumber + 1)}, 64), content)
	}
	assert.NoError(fileDevice.Close())

	// a file that is not an image is rejected
	junkPath := filepath.Join(dir, "junk")
	require.NoError(t, ioutil.WriteFile(junkPath, bytes.Repeat([]byte("junk"), 2048), 0600))
	_, err = OpenFileDevice(junkPath)
	assert.True(blunder.Is(err, blunder.BadDeviceImageError))

	// as is a truncated image
	require.NoError(t, os.Truncate(path, 4096+64*5))
	_, err = OpenFileDevice(path)
	assert.True(blunder.Is(err, blunder.BadDeviceImageError))

	_, err = OpenFileDevice(filepath.Join(dir, "missing"))
	assert.True(blunder.Is(err, blunder.NoDeviceError))
}

func TestTable(t *testing.T) {
	assert := assert.New(t)

	confMap := testSetup(t, nil)
	defer testTeardown(t, confMap)

	table := NewTable("TestTable")

	ramDevice0 := NewRAMDevice(32, 4)
	ramDevice1 := NewRAMDevice(32, 2)
	require.NoError(t, table.Attach(0, ramDevice0))
	require.NoError(t, table.Attach(1, ramDevice1))

	err := table.Attach(1, ramDevice1)
	assert.True(blunder.Is(err, blunder.DevBusyError))

	content := bytes.Repeat([]byte{0xA5}, 32)
	assert.NoError(table.Transfer(DeviceBlock{Device: 1, BlockNumber: 1}, content, true))

	readBack := make([]byte, 32)
	assert.NoError(table.Transfer(DeviceBlock{Device: 1, BlockNumber: 1}, readBack, false))
	assert.Equal(content, readBack)

	// same block number on another device is a different block
	assert.NoError(table.Transfer(DeviceBlock{Device: 0, BlockNumber: 1}, readBack, false))
	assert.Equal(make([]byte, 32), readBack)

	err = table.Transfer(DeviceBlock{Device: 2, BlockNumber: 0}, readBack, false)
	assert.True(blunder.Is(err, blunder.NoDeviceError))
	err = table.Transfer(DeviceBlock{Device: 1, BlockNumber: 2}, readBack, false)
	assert.True(blunder.Is(err, blunder.OutOfRangeError))
	err = table.Transfer(DeviceBlock{Device: 0, BlockNumber: 0}, make([]byte, 31), true)
	assert.True(blunder.Is(err, blunder.InvalidArgError))

	ramDevice0.InjectFailures(true, true)
	err = table.Transfer(DeviceBlock{Device: 0, BlockNumber: 0}, readBack, false)
	assert.True(blunder.Is(err, blunder.IOError))
	ramDevice0.InjectFailures(false, false)

	stats := table.Stats()
	assert.True(strings.Contains(stats, "blockdev.TestTable.WriteOps total:1\n"), stats)
	assert.True(strings.Contains(stats, "blockdev.TestTable.ReadOps total:2\n"), stats)
	assert.True(strings.Contains(stats, "blockdev.TestTable.ReadBytes total:64\n"), stats)
	assert.True(strings.Contains(stats, "blockdev.TestTable.FailedTransfers total:4\n"), stats)

	detached, err := table.Detach(1)
	assert.NoError(err)
	assert.Equal(ramDevice1, detached)
	_, err = table.Detach(1)
	assert.True(blunder.Is(err, blunder.NoDeviceError))

	assert.NoError(table.Close())
	err = table.Transfer(DeviceBlock{Device: 0, BlockNumber: 0}, readBack, false)
	assert.True(blunder.Is(err, blunder.NoDeviceError))
}

func TestNewDeviceFromConfMap(t *testing.T) {
	assert := assert.New(t)

	confMap := testSetup(t, nil)
	defer testTeardown(t, confMap)

	device, err := NewDeviceFromConfMap(confMap, 128)
	require.NoError(t, err)
	assert.Equal(uint32(128), device.BlockSize())
	assert.Equal(DefaultBlockCount, device.BlockCount())
	assert.NoError(device.Close())

	dir := testTempDir(t)
	defer os.RemoveAll(dir)

	fileConfMap, err := conf.MakeConfMapFromStrings([]string{
		"BlockDevice.Type=file",
		"BlockDevice.Path=" + filepath.Join(dir, "image"),
		"BlockDevice.BlockCount=20",
	})
	require.NoError(t, err)

	device, err = NewDeviceFromConfMap(fileConfMap, 128)
	require.NoError(t, err)
	assert.Equal(uint32(20), device.BlockCount())
	assert.NoError(device.WriteBlock(19, bytes.Repeat([]byte{19}, 128)))
	assert.NoError(device.Close())

	// an existing image is reused, not reformatted
	device, err = NewDeviceFromConfMap(fileConfMap, 128)
	require.NoError(t, err)
	content := make([]byte, 128)
	assert.NoError(device.ReadBlock(19, content))
	assert.Equal(bytes.Repeat([]byte{19}, 128), content)
	assert.NoError(device.Close())

	_, err = NewDeviceFromConfMap(fileConfMap, 256)
	assert.True(blunder.Is(err, blunder.BadDeviceImageError))

	badConfMap, err := conf.MakeConfMapFromStrings([]string{"BlockDevice.Type=tape"})
	require.NoError(t, err)
	_, err = NewDeviceFromConfMap(badConfMap, 128)
	assert.True(blunder.Is(err, blunder.InvalidArgError))

	noPathConfMap, err := conf.MakeConfMapFromStrings([]string{"BlockDevice.Type=file"})
	require.NoError(t, err)
	_, err = NewDeviceFromConfMap(noPathConfMap, 128)
	assert.True(blunder.Is(err, blunder.InvalidArgError))
}
