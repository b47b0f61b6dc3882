// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"os"

	"golang.org/x/sys/unix"
)

// OpenFileSync opens a block device image such that writes are not reported as
// complete until the data and metadata are persisted.
//
// O_DIRECT is not requested: block buffers are ordinary Go slices and carry no
// alignment guarantee.
func OpenFileSync(name string, flag int, perm os.FileMode) (file *os.File, err error) {
	var (
		modifiedFlag int
	)

	modifiedFlag = flag
	modifiedFlag |= unix.O_SYNC // writes are not complete until data & metadata is persisted

	file, err = os.OpenFile(name, modifiedFlag, perm)

	return
}
