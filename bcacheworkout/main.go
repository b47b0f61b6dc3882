// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Program bcacheworkout drives a bcache.Cache from many goroutines at once and
// verifies, at the end, that no update was lost.
package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/NVIDIA/blockcache/bcache"
	"github.com/NVIDIA/blockcache/blockdev"
	"github.com/NVIDIA/blockcache/bucketstats"
	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/statslogger"
	"github.com/NVIDIA/blockcache/transitions"
	"github.com/NVIDIA/blockcache/utils"
)

const (
	hotBlockNumber = uint32(0) // updated by every thread on every iteration
	deviceNumber   = uint32(0)
)

var (
	blocksPerThread uint64
	cache           *bcache.Cache
	doNextStepChan  chan bool
	iterations      uint64
	stepErrChan     chan error
	threads         uint64
)

func usage(file *os.File) {
	fmt.Fprintf(file, "Usage:\n")
	fmt.Fprintf(file, "    %v threads blocks-per-thread iterations conf-file [section.option=value]*\n", os.Args[0])
	fmt.Fprintf(file, "  where:\n")
	fmt.Fprintf(file, "    threads                 number of threads\n")
	fmt.Fprintf(file, "    blocks-per-thread       number of blocks each thread will update\n")
	fmt.Fprintf(file, "    iterations              number of passes each thread makes over its blocks\n")
	fmt.Fprintf(file, "    conf-file               input to conf.MakeConfMapFromFile()\n")
	fmt.Fprintf(file, "    [section.option=value]* optional input to conf.UpdateFromStrings()\n")
	fmt.Fprintf(file, "\n")
	fmt.Fprintf(file, "Note: the [BlockCache] section sizes the cache and the [BlockDevice] section\n")
	fmt.Fprintf(file, "      selects the device; threads must be less than BlockCache.BufferCount\n")
}

func parseCount(argIndex int, name string) (count uint64) {
	count, err := strconv.ParseUint(os.Args[argIndex], 10, 64)
	if nil != err {
		fmt.Fprintf(os.Stderr, "strconv.ParseUint(\"%v\", 10, 64) of %s failed: %v\n", os.Args[argIndex], name, err)
		os.Exit(1)
	}
	if 0 == count {
		fmt.Fprintf(os.Stderr, "%s must be a positive number\n", name)
		os.Exit(1)
	}
	return
}

func main() {
	var (
		cacheConfig  bcache.Config
		confMap      conf.ConfMap
		device       blockdev.Device
		err          error
		opsPerSecond float64
		stopwatch    *utils.Stopwatch
		table        *blockdev.Table
	)

	// Parse arguments

	if 5 > len(os.Args) {
		usage(os.Stderr)
		os.Exit(1)
	}

	threads = parseCount(1, "threads")
	blocksPerThread = parseCount(2, "blocks-per-thread")
	iterations = parseCount(3, "iterations")

	confMap, err = conf.MakeConfMapFromFile(os.Args[4])
	if nil != err {
		fmt.Fprintf(os.Stderr, "conf.MakeConfMapFromFile(\"%v\") failed: %v\n", os.Args[4], err)
		os.Exit(1)
	}

	if 5 < len(os.Args) {
		err = confMap.UpdateFromStrings(os.Args[5:])
		if nil != err {
			fmt.Fprintf(os.Stderr, "confMap.UpdateFromStrings(%#v) failed: %v\n", os.Args[5:], err)
			os.Exit(1)
		}
	}

	// Start up needed components

	err = transitions.Up(confMap)
	if nil != err {
		fmt.Fprintf(os.Stderr, "transitions.Up() failed: %v\n", err)
		os.Exit(1)
	}

	cacheConfig, err = bcache.ParseConfMap(confMap)
	if nil != err {
		fmt.Fprintf(os.Stderr, "bcache.ParseConfMap() failed: %v\n", err)
		os.Exit(1)
	}
	if threads >= uint64(cacheConfig.BufferCount) {
		fmt.Fprintf(os.Stderr, "threads (%v) must be less than BlockCache.BufferCount (%v)\n", threads, cacheConfig.BufferCount)
		os.Exit(1)
	}

	device, err = blockdev.NewDeviceFromConfMap(confMap, cacheConfig.BlockSize)
	if nil != err {
		fmt.Fprintf(os.Stderr, "blockdev.NewDeviceFromConfMap() failed: %v\n", err)
		os.Exit(1)
	}
	if uint64(device.BlockCount()) < 1+threads*blocksPerThread {
		fmt.Fprintf(os.Stderr, "device has %v blocks; %v needed\n", device.BlockCount(), 1+threads*blocksPerThread)
		os.Exit(1)
	}
	if 16 > cacheConfig.BlockSize {
		fmt.Fprintf(os.Stderr, "BlockCache.BlockSize must be at least 16\n")
		os.Exit(1)
	}

	table = blockdev.NewTable("bcacheworkout")

	err = table.Attach(deviceNumber, device)
	if nil != err {
		fmt.Fprintf(os.Stderr, "table.Attach() failed: %v\n", err)
		os.Exit(1)
	}

	cache, err = bcache.New(cacheConfig, table)
	if nil != err {
		fmt.Fprintf(os.Stderr, "bcache.New() failed: %v\n", err)
		os.Exit(1)
	}

	// Zero the counters the workout will verify

	for blockNumber := uint32(0); uint64(blockNumber) < 1+threads*blocksPerThread; blockNumber++ {
		buf := cache.Read(bcache.BlockID{Device: deviceNumber, BlockNumber: blockNumber})
		for i := range buf.Data() {
			buf.Data()[i] = 0
		}
		cache.Write(buf)
		cache.Release(buf)
	}

	// Perform tests

	stepErrChan = make(chan error)
	doNextStepChan = make(chan bool)

	for threadIndex := uint64(0); threadIndex < threads; threadIndex++ {
		go blockWorkout(threadIndex)
	}
	for threadIndex := uint64(0); threadIndex < threads; threadIndex++ {
		err = <-stepErrChan
		if nil != err {
			fmt.Fprintf(os.Stderr, "blockWorkout() initialization step returned: %v\n", err)
			os.Exit(1)
		}
	}

	stopwatch = utils.NewStopwatch()
	for threadIndex := uint64(0); threadIndex < threads; threadIndex++ {
		doNextStepChan <- true
	}
	for threadIndex := uint64(0); threadIndex < threads; threadIndex++ {
		err = <-stepErrChan
		if nil != err {
			fmt.Fprintf(os.Stderr, "blockWorkout() measured operations step returned: %v\n", err)
			os.Exit(1)
		}
	}
	_ = stopwatch.Stop()

	// Verify results

	err = cache.Validate()
	if nil != err {
		fmt.Fprintf(os.Stderr, "cache.Validate() failed: %v\n", err)
		os.Exit(1)
	}

	err = verifyCounter(hotBlockNumber, threads*iterations)
	if nil != err {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	for blockNumber := uint32(1); uint64(blockNumber) < 1+threads*blocksPerThread; blockNumber++ {
		err = verifyCounter(blockNumber, iterations)
		if nil != err {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}

	fmt.Print(bucketstats.SprintStats(bucketstats.StatFormatParsable1, "*", "*"))
	statslogger.LogStats()

	// Stop components launched above

	err = cache.Close()
	if nil != err {
		fmt.Fprintf(os.Stderr, "cache.Close() failed: %v\n", err)
		os.Exit(1)
	}

	err = table.Close()
	if nil != err {
		fmt.Fprintf(os.Stderr, "table.Close() failed: %v\n", err)
		os.Exit(1)
	}

	err = transitions.Down(confMap)
	if nil != err {
		fmt.Fprintf(os.Stderr, "transitions.Down() failed: %v\n", err)
		os.Exit(1)
	}

	// Report results

	opsPerSecond = float64(threads*iterations*(blocksPerThread+1)) / stopwatch.Elapsed().Seconds()

	fmt.Printf("elapsed      = %s\n", stopwatch.ElapsedString())
	fmt.Printf("opsPerSecond = %10.2f\n", opsPerSecond)
}

// verifyCounter checks the update count kept in bytes [8:16) of a block
func verifyCounter(blockNumber uint32, expected uint64) (err error) {
	buf := cache.Read(bcache.BlockID{Device: deviceNumber, BlockNumber: blockNumber})
	counter := binary.LittleEndian.Uint64(buf.Data()[8:16])
	cache.Release(buf)

	if expected != counter {
		err = fmt.Errorf("block %v was updated %v times; expected %v", blockNumber, counter, expected)
	}

	return
}

// update does one read / modify / write / release cycle. Bytes [0:4) of a
// block hold its block number once it has been updated.
func update(blockNumber uint32) (err error) {
	buf := cache.Read(bcache.BlockID{Device: deviceNumber, BlockNumber: blockNumber})
	data := buf.Data()

	counter := binary.LittleEndian.Uint64(data[8:16])
	if (0 != counter) && (blockNumber != binary.LittleEndian.Uint32(data[0:4])) {
		err = fmt.Errorf("block %v holds content of block %v", blockNumber, binary.LittleEndian.Uint32(data[0:4]))
		cache.Release(buf)
		return
	}

	binary.LittleEndian.PutUint32(data[0:4], blockNumber)
	binary.LittleEndian.PutUint64(data[8:16], counter+1)

	cache.Write(buf)
	cache.Release(buf)

	return
}

func blockWorkout(threadIndex uint64) {
	var (
		blockNumbers []uint32
		err          error
		i            uint64
	)

	// Do initialization step
	blockNumbers = make([]uint32, blocksPerThread)
	for i = 0; i < blocksPerThread; i++ {
		blockNumbers[i] = uint32(1 + threadIndex*blocksPerThread + i)
	}

	// Indicate initialization step is done
	stepErrChan <- nil

	// Await signal to proceed with measured operations step
	_ = <-doNextStepChan

	// Do measured operations
	for i = 0; i < iterations; i++ {
		err = update(hotBlockNumber)
		if nil != err {
			stepErrChan <- err
			runtime.Goexit()
		}
		for _, blockNumber := range blockNumbers {
			err = update(blockNumber)
			if nil != err {
				stepErrChan <- err
				runtime.Goexit()
			}
		}
	}

	// Indicate measured operations step is done
	stepErrChan <- nil
}
