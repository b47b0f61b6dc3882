// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package halter provides named fault-injection points. A point is Arm()'d with
// a count; the count'th call to Trigger() for that point HALTs the process (or,
// in test mode, reports the HALT to a callback).
package halter

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/blockcache/logger"
)

// Note 1: Following const block and HaltLabelStrings should be kept in sync
// Note 2: HaltLabelStrings should be easily parseable as URL components

const (
	apiTestHaltLabel1 = iota
	apiTestHaltLabel2
	BCacheEvictEntry
	BCacheRelocateExit
)

var (
	HaltLabelStrings = []string{
		"halter.testHaltLabel1",
		"halter.testHaltLabel2",
		"bcache.evict_Entry",
		"bcache.relocate_Exit",
	}
)

// Arm sets up a HALT on the haltAfterCount'd call to Trigger()
func Arm(haltLabelString string, haltAfterCount uint32) {
	globals.Lock()
	haltLabel, ok := globals.triggerNamesToNumbers[haltLabelString]
	if !ok {
		globals.Unlock()
		haltWithErr(fmt.Errorf("halter.Arm(haltLabelString='%v',) - label unknown", haltLabelString))
		return
	}
	if 0 == haltAfterCount {
		globals.Unlock()
		haltWithErr(fmt.Errorf("halter.Arm(haltLabel==%v,) called with haltAfterCount==0", haltLabelString))
		return
	}
	globals.armedTriggers[haltLabel] = haltAfterCount
	globals.Unlock()
}

// Disarm removes a previously armed trigger via a call to Arm()
func Disarm(haltLabelString string) {
	globals.Lock()
	haltLabel, ok := globals.triggerNamesToNumbers[haltLabelString]
	if !ok {
		globals.Unlock()
		haltWithErr(fmt.Errorf("halter.Disarm(haltLabelString='%v') - label unknown", haltLabelString))
		return
	}
	delete(globals.armedTriggers, haltLabel)
	globals.Unlock()
}

// Trigger decrements the haltAfterCount if armed and, should it reach 0, HALTs
//
// Callers must not hold spin locks when calling Trigger().
//
func Trigger(haltLabel uint32) {
	globals.Lock()
	numTriggersRemaining, armed := globals.armedTriggers[haltLabel]
	if !armed {
		globals.Unlock()
		return
	}
	numTriggersRemaining--
	if 0 == numTriggersRemaining {
		delete(globals.armedTriggers, haltLabel)
		haltLabelString := globals.triggerNumbersToNames[haltLabel]
		globals.Unlock()
		haltWithErr(fmt.Errorf("halter.TriggerArm(haltLabelString==%v) triggered HALT", haltLabelString))
		return
	}
	globals.armedTriggers[haltLabel] = numTriggersRemaining
	globals.Unlock()
}

// Dump returns a map of currently armed triggers and their remaining trigger count
func Dump() (armedTriggers map[string]uint32) {
	globals.Lock()
	armedTriggers = make(map[string]uint32)
	for k, v := range globals.armedTriggers {
		armedTriggers[globals.triggerNumbersToNames[k]] = v
	}
	globals.Unlock()
	return
}

// List returns a sorted slice of available triggers
func List() (availableTriggers []string) {
	globals.Lock()
	availableTriggers = make([]string, 0, len(globals.triggerNamesToNumbers))
	for k := range globals.triggerNamesToNumbers {
		availableTriggers = append(availableTriggers, k)
	}
	globals.Unlock()
	sort.Strings(availableTriggers)
	return
}

// ConfigureTestModeHaltCB replaces the process HALT with a call to testHalt
// (pass nil to restore the HALT). It must be called after Up().
func ConfigureTestModeHaltCB(testHalt func(err error)) {
	globals.Lock()
	globals.testModeHaltCB = testHalt
	globals.Unlock()
}

func haltWithErr(err error) {
	globals.Lock()
	testModeHaltCB := globals.testModeHaltCB
	globals.Unlock()

	if nil == testModeHaltCB {
		logger.ErrorfWithError(err, "HALT")
		os.Exit(int(unix.SIGKILL))
	}

	testModeHaltCB(err)
}
