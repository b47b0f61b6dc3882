// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package transitions

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/logger"
)

type loggerCallbacksInterfaceStruct struct {
}

var loggerCallbacksInterface loggerCallbacksInterfaceStruct

type registrationItemStruct struct {
	packageName string
	callbacks   Callbacks
	isUp        bool
}

// globalsStruct's Mutex serializes registration as well as Up/Signaled/Down
type globalsStruct struct {
	sync.Mutex
	registrationList *list.List                         // Front() is logger
	registrationSet  map[string]*registrationItemStruct // Key: registrationItemStruct.packageName
}

var globals globalsStruct

func init() {
	globals.Lock()
	globals.registrationList = list.New()
	globals.registrationSet = make(map[string]*registrationItemStruct)
	globals.Unlock()

	Register("logger", &loggerCallbacksInterface)
}

func register(packageName string, callbacks Callbacks) {
	var (
		alreadyRegisted  bool
		registrationItem *registrationItemStruct
	)

	globals.Lock()
	_, alreadyRegisted = globals.registrationSet[packageName]
	if alreadyRegisted {
		globals.Unlock()
		logger.Fatalf("transitions.Register(%s,) called twice", packageName)
		return
	}
	registrationItem = &registrationItemStruct{packageName: packageName, callbacks: callbacks}
	_ = globals.registrationList.PushBack(registrationItem)
	globals.registrationSet[packageName] = registrationItem
	globals.Unlock()
}

func up(confMap conf.ConfMap) (err error) {
	var (
		registrationItem                       *registrationItemStruct
		registrationListElement                *list.Element
		registrationListPackageNameStringSlice []string
	)

	globals.Lock()
	defer globals.Unlock()

	defer func() {
		if nil == err {
			logger.Infof("transitions.Up() returning successfully")
		} else {
			// On the relatively good likelihood that at least logger.Up() worked...
			logger.Errorf("transitions.Up() returning with failure: %v", err)
		}
	}()

	// Issue Callbacks.Up() calls from Front() to Back() of globals.registrationList

	registrationListElement = globals.registrationList.Front()

	for nil != registrationListElement {
		registrationItem = registrationListElement.Value.(*registrationItemStruct)
		if registrationItem.isUp {
			err = fmt.Errorf("transitions.Up() called while %s is already up", registrationItem.packageName)
			return
		}
		logger.Tracef("transitions.Up() calling %s.Up()", registrationItem.packageName)
		err = registrationItem.callbacks.Up(confMap)
		if nil != err {
			logger.Errorf("transitions.Up() call to %s.Up() failed: %v", registrationItem.packageName, err)
			err = fmt.Errorf("%s.Up() failed: %v", registrationItem.packageName, err)
			unwind(confMap, registrationListElement.Prev())
			return
		}
		registrationItem.isUp = true
		registrationListPackageNameStringSlice = append(registrationListPackageNameStringSlice, registrationItem.packageName)
		registrationListElement = registrationListElement.Next()
	}

	logger.Infof("Transitions Package Registration List: %v", registrationListPackageNameStringSlice)

	return
}

// unwind issues Down() calls from registrationListElement back to Front() for
// packages that made it Up() before a later package failed
func unwind(confMap conf.ConfMap, registrationListElement *list.Element) {
	var (
		downErr          error
		registrationItem *registrationItemStruct
	)

	for nil != registrationListElement {
		registrationItem = registrationListElement.Value.(*registrationItemStruct)
		if registrationItem.isUp {
			downErr = registrationItem.callbacks.Down(confMap)
			if nil != downErr {
				logger.Errorf("transitions.Up() unwind call to %s.Down() failed: %v", registrationItem.packageName, downErr)
			}
			registrationItem.isUp = false
		}
		registrationListElement = registrationListElement.Prev()
	}
}

func signaled(confMap conf.ConfMap) (err error) {
	var (
		registrationItem        *registrationItemStruct
		registrationListElement *list.Element
	)

	globals.Lock()
	defer globals.Unlock()

	logger.Infof("transitions.Signaled() called")
	defer func() {
		if nil == err {
			logger.Infof("transitions.Signaled() returning successfully")
		} else {
			logger.Errorf("transitions.Signaled() returning with failure: %v", err)
		}
	}()

	// Issue Callbacks.SignaledStart() calls from Back() to Front() of globals.registrationList

	registrationListElement = globals.registrationList.Back()

	for nil != registrationListElement {
		registrationItem = registrationListElement.Value.(*registrationItemStruct)
		logger.Tracef("transitions.Signaled() calling %s.SignaledStart()", registrationItem.packageName)
		err = registrationItem.callbacks.SignaledStart(confMap)
		if nil != err {
			logger.Errorf("transitions.Signaled() call to %s.SignaledStart() failed: %v", registrationItem.packageName, err)
			err = fmt.Errorf("%s.SignaledStart() failed: %v", registrationItem.packageName, err)
			return
		}
		registrationListElement = registrationListElement.Prev()
	}

	// Issue Callbacks.SignaledFinish() calls from Front() to Back() of globals.registrationList

	registrationListElement = globals.registrationList.Front()

	for nil != registrationListElement {
		registrationItem = registrationListElement.Value.(*registrationItemStruct)
		logger.Tracef("transitions.Signaled() calling %s.SignaledFinish()", registrationItem.packageName)
		err = registrationItem.callbacks.SignaledFinish(confMap)
		if nil != err {
			logger.Errorf("transitions.Signaled() call to %s.SignaledFinish() failed: %v", registrationItem.packageName, err)
			err = fmt.Errorf("%s.SignaledFinish() failed: %v", registrationItem.packageName, err)
			return
		}
		registrationListElement = registrationListElement.Next()
	}

	return
}

func down(confMap conf.ConfMap) (err error) {
	var (
		downErr                 error
		registrationItem        *registrationItemStruct
		registrationListElement *list.Element
	)

	globals.Lock()
	defer globals.Unlock()

	logger.Infof("transitions.Down() called")

	// Issue Callbacks.Down() calls from Back() to Front() of globals.registrationList
	//
	// A failing Down() is reported but the remaining packages are still taken down

	registrationListElement = globals.registrationList.Back()

	for nil != registrationListElement {
		registrationItem = registrationListElement.Value.(*registrationItemStruct)
		if registrationItem.isUp {
			logger.Tracef("transitions.Down() calling %s.Down()", registrationItem.packageName)
			downErr = registrationItem.callbacks.Down(confMap)
			registrationItem.isUp = false
			if nil != downErr {
				logger.Errorf("transitions.Down() call to %s.Down() failed: %v", registrationItem.packageName, downErr)
				if nil == err {
					err = fmt.Errorf("%s.Down() failed: %v", registrationItem.packageName, downErr)
				}
			}
		}
		registrationListElement = registrationListElement.Prev()
	}

	return
}

func (loggerCallbacksInterface *loggerCallbacksInterfaceStruct) Up(confMap conf.ConfMap) (err error) {
	return logger.Up(confMap)
}

func (loggerCallbacksInterface *loggerCallbacksInterfaceStruct) SignaledStart(confMap conf.ConfMap) (err error) {
	return logger.SignaledStart(confMap)
}

func (loggerCallbacksInterface *loggerCallbacksInterfaceStruct) SignaledFinish(confMap conf.ConfMap) (err error) {
	return logger.SignaledFinish(confMap)
}

func (loggerCallbacksInterface *loggerCallbacksInterfaceStruct) Down(confMap conf.ConfMap) (err error) {
	return logger.Down(confMap)
}
