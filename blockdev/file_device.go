// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"os"

	"github.com/NVIDIA/cstruct"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/logger"
	"github.com/NVIDIA/blockcache/platform"
)

const (
	FileDeviceMagic   = uint64(0x4243414348454456) // "BCACHEDV"
	FileDeviceVersion = uint64(1)

	// Block 0 of the device starts at this offset; the header precedes it
	fileDeviceHeaderRegionSize = uint64(4096)
)

// fileDeviceHeaderStruct is stored, cstruct.LittleEndian packed, at offset 0
// of every image
type fileDeviceHeaderStruct struct {
	Magic      uint64
	Version    uint64
	BlockSize  uint32
	BlockCount uint32
}

// FileDevice is a Device backed by an image file created by FormatFileDevice().
// All writes are synchronous.
type FileDevice struct {
	path       string
	file       *os.File
	fd         int
	blockSize  uint32
	blockCount uint32
}

// FormatFileDevice creates (or truncates) the image at path to hold blockCount
// zeroed blocks of blockSize bytes.
func FormatFileDevice(path string, blockSize uint32, blockCount uint32) (err error) {
	var (
		file         *os.File
		headerPacked []byte
	)

	if (0 == blockSize) || (0 == blockCount) {
		err = blunder.NewError(blunder.InvalidArgError, "FormatFileDevice(%s,%v,%v) requires non-zero blockSize & blockCount", path, blockSize, blockCount)
		return
	}

	headerPacked, err = cstruct.Pack(fileDeviceHeaderStruct{
		Magic:      FileDeviceMagic,
		Version:    FileDeviceVersion,
		BlockSize:  blockSize,
		BlockCount: blockCount,
	}, cstruct.LittleEndian)
	if nil != err {
		return
	}

	file, err = platform.OpenFileSync(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0600)
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		return
	}
	defer func() {
		closeErr := file.Close()
		if nil == err {
			err = closeErr
		}
	}()

	err = unix.Ftruncate(int(file.Fd()), int64(fileDeviceHeaderRegionSize+uint64(blockSize)*uint64(blockCount)))
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		return
	}

	err = pwriteFull(int(file.Fd()), headerPacked, 0)
	if nil != err {
		return
	}

	logger.Infof("formatted %s with %v blocks of %v bytes", path, blockCount, blockSize)

	return
}

// OpenFileDevice opens an image previously created by FormatFileDevice().
func OpenFileDevice(path string) (fileDevice *FileDevice, err error) {
	var (
		file         *os.File
		fileInfo     os.FileInfo
		header       fileDeviceHeaderStruct
		headerPacked []byte
		headerSize   uint64
	)

	file, err = platform.OpenFileSync(path, os.O_RDWR, 0)
	if nil != err {
		err = blunder.AddError(err, blunder.NoDeviceError)
		return
	}

	headerSize, _, err = cstruct.Examine(header)
	if nil != err {
		_ = file.Close()
		return
	}

	headerPacked = make([]byte, headerSize)

	err = preadFull(int(file.Fd()), headerPacked, 0)
	if nil != err {
		_ = file.Close()
		err = blunder.AddError(err, blunder.BadDeviceImageError)
		return
	}

	_, err = cstruct.Unpack(headerPacked, &header, cstruct.LittleEndian)
	if nil != err {
		_ = file.Close()
		err = blunder.AddError(err, blunder.BadDeviceImageError)
		return
	}

	if (FileDeviceMagic != header.Magic) || (FileDeviceVersion != header.Version) {
		_ = file.Close()
		err = blunder.NewError(blunder.BadDeviceImageError, "OpenFileDevice(%s) found Magic 0x%016X Version %v", path, header.Magic, header.Version)
		return
	}

	fileInfo, err = file.Stat()
	if nil != err {
		_ = file.Close()
		err = blunder.AddError(err, blunder.IOError)
		return
	}

	if uint64(fileInfo.Size()) < fileDeviceHeaderRegionSize+uint64(header.BlockSize)*uint64(header.BlockCount) {
		_ = file.Close()
		err = blunder.NewError(blunder.BadDeviceImageError, "OpenFileDevice(%s) is %v bytes; too short for %v blocks of %v bytes",
			path, fileInfo.Size(), header.BlockCount, header.BlockSize)
		return
	}

	fileDevice = &FileDevice{
		path:       path,
		file:       file,
		fd:         int(file.Fd()),
		blockSize:  header.BlockSize,
		blockCount: header.BlockCount,
	}

	return
}

func (fileDevice *FileDevice) BlockSize() (blockSize uint32) {
	return fileDevice.blockSize
}

func (fileDevice *FileDevice) BlockCount() (blockCount uint32) {
	return fileDevice.blockCount
}

func (fileDevice *FileDevice) ReadBlock(blockNumber uint32, content []byte) (err error) {
	err = fileDevice.check("ReadBlock", blockNumber, content)
	if nil != err {
		return
	}

	err = preadFull(fileDevice.fd, content, fileDevice.offset(blockNumber))

	return
}

func (fileDevice *FileDevice) WriteBlock(blockNumber uint32, content []byte) (err error) {
	err = fileDevice.check("WriteBlock", blockNumber, content)
	if nil != err {
		return
	}

	err = pwriteFull(fileDevice.fd, content, fileDevice.offset(blockNumber))

	return
}

func (fileDevice *FileDevice) Close() (err error) {
	if nil == fileDevice.file {
		return
	}

	err = unix.Fsync(fileDevice.fd)
	if nil != err {
		logger.WarnfWithError(err, "fsync of %s failed", fileDevice.path)
	}

	err = fileDevice.file.Close()
	fileDevice.file = nil

	return
}

func (fileDevice *FileDevice) offset(blockNumber uint32) int64 {
	return int64(fileDeviceHeaderRegionSize + uint64(blockNumber)*uint64(fileDevice.blockSize))
}

func (fileDevice *FileDevice) check(op string, blockNumber uint32, content []byte) (err error) {
	switch {
	case nil == fileDevice.file:
		err = blunder.NewError(blunder.NoDeviceError, "FileDevice.%s(%v,) of %s after Close()", op, blockNumber, fileDevice.path)
	case blockNumber >= fileDevice.blockCount:
		err = blunder.NewError(blunder.OutOfRangeError, "FileDevice.%s(%v,) beyond BlockCount %v", op, blockNumber, fileDevice.blockCount)
	case uint64(len(content)) != uint64(fileDevice.blockSize):
		err = blunder.NewError(blunder.InvalidArgError, "FileDevice.%s(%v,) len(content) %v != BlockSize %v", op, blockNumber, len(content), fileDevice.blockSize)
	}
	return
}

func preadFull(fd int, buf []byte, offset int64) (err error) {
	var (
		n int
	)

	for 0 < len(buf) {
		n, err = unix.Pread(fd, buf, offset)
		if nil != err {
			if unix.EINTR == err {
				continue
			}
			err = blunder.AddError(err, blunder.IOError)
			return
		}
		if 0 == n {
			err = blunder.NewError(blunder.IOError, "pread() at offset %v hit EOF", offset)
			return
		}
		buf = buf[n:]
		offset += int64(n)
	}

	return
}

func pwriteFull(fd int, buf []byte, offset int64) (err error) {
	var (
		n int
	)

	for 0 < len(buf) {
		n, err = unix.Pwrite(fd, buf, offset)
		if nil != err {
			if unix.EINTR == err {
				continue
			}
			err = blunder.AddError(err, blunder.IOError)
			return
		}
		buf = buf[n:]
		offset += int64(n)
	}

	return
}
