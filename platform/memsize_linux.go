// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"golang.org/x/sys/unix"
)

func MemSize() (memSize uint64) {
	var (
		err     error
		sysinfo unix.Sysinfo_t
	)

	err = unix.Sysinfo(&sysinfo)
	if nil != err {
		panic(err)
	}

	// Totalram is a uint32 on 32-bit platforms and is in units of Unit bytes
	memSize = uint64(sysinfo.Totalram) * uint64(sysinfo.Unit)

	return
}
