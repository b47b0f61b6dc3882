// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// OpenFileSync opens a block device image such that reads and writes are not
// cached and also that writes are not reported as complete until the data and
// metadata are persisted.
//
// Note that the request for no caching will only be honored if the file has
// not already entered the cache at the time of the call to OpenFile.
func OpenFileSync(name string, flag int, perm os.FileMode) (file *os.File, err error) {
	var (
		modifiedFlag int
	)

	modifiedFlag = flag
	modifiedFlag |= unix.O_SYNC // writes are not complete until data & metadata is persisted

	file, err = os.OpenFile(name, modifiedFlag, perm)
	if nil != err {
		return
	}

	_, err = unix.FcntlInt(file.Fd(), unix.F_NOCACHE, 1)
	if nil != err {
		err = fmt.Errorf("fcntl(,F_NOCACHE,1) failed: %v", err)
		_ = file.Close()
		file = nil
	}

	return
}
