// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/blockcache/conf"
)

// multiWriter fans each log entry out to every registered io.Writer
type multiWriter struct {
	sync.Mutex
	writers []io.Writer
}

var logFile *os.File = nil

// Log target(s) installed by Up() and extended by addLogTarget()
var logTargets multiWriter

func (mw *multiWriter) addWriter(writer io.Writer) {
	mw.Lock()
	mw.writers = append(mw.writers, writer)
	mw.Unlock()
}

func (mw *multiWriter) clear() {
	mw.Lock()
	mw.writers = nil
	mw.Unlock()
}

func (mw *multiWriter) Write(p []byte) (n int, err error) {
	mw.Lock()
	defer mw.Unlock()

	for _, writer := range mw.writers {
		n, err = writer.Write(p)
		// regrettably, the first error wins
		if nil != err {
			return
		}
	}

	n = len(p)
	return
}

func addLogTarget(writer io.Writer) {
	logTargets.addWriter(writer)
}

func openLogFile(confMap conf.ConfMap) (err error) {
	log.SetFormatter(&log.TextFormatter{DisableColors: true})

	logTargets.clear()

	// Fetch log file info, if provided
	logFilePath, _ := confMap.FetchOptionValueString("Logging", "LogFilePath")
	if "" != logFilePath {
		logFile, err = os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if nil != err {
			log.Errorf("couldn't open log file '%s': %v", logFilePath, err)
			return
		}
		logTargets.addWriter(logFile)
	}

	// Determine whether we should log to console. Default is false unless there is no log file.
	logToConsole, err := confMap.FetchOptionValueBool("Logging", "LogToConsole")
	if nil != err {
		logToConsole = ("" == logFilePath)
		err = nil
	}
	if logToConsole {
		logTargets.addWriter(os.Stderr)
	}

	log.SetOutput(&logTargets)

	// We always enable max logging in logrus; this package decides what to emit
	log.SetLevel(log.DebugLevel)

	traceConfSlice, _ := confMap.FetchOptionValueStringSlice("Logging", "TraceLevelLogging")
	setTraceLoggingLevel(traceConfSlice)

	Infof("logger opened logfile '%s' (PID %d)", logFilePath, os.Getpid())

	return
}

func closeLogFile(confMap conf.ConfMap) (err error) {
	Infof("logger is closing logfile (PID %d)", os.Getpid())

	log.SetOutput(os.Stderr)
	logTargets.clear()

	// We open and close our own logfile
	if nil != logFile {
		err = logFile.Close()
		logFile = nil
	}

	setTraceLoggingLevel(nil)

	return
}

// Up opens the logfile. This is called explicitly by transitions before any
// other package's callbacks so that all of them may log.
func Up(confMap conf.ConfMap) (err error) {
	err = openLogFile(confMap)
	return
}

// SignaledStart is used to close the logfile on SIGHUP (e.g. for log rotation)
func SignaledStart(confMap conf.ConfMap) (err error) {
	err = closeLogFile(confMap)
	return
}

// SignaledFinish re-opens the logfile after SignaledStart
func SignaledFinish(confMap conf.ConfMap) (err error) {
	err = openLogFile(confMap)
	return
}

// Down closes the logfile. transitions calls this after every other package is down.
func Down(confMap conf.ConfMap) (err error) {
	err = closeLogFile(confMap)
	return
}
