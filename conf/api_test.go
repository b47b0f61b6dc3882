// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfFile(t *testing.T, dir string, name string, contents string) (path string) {
	path = filepath.Join(dir, name)
	err := ioutil.WriteFile(path, []byte(contents), 0644)
	require.NoError(t, err)
	return
}

func TestMakeConfMapFromStrings(t *testing.T) {
	assert := assert.New(t)

	confMap, err := MakeConfMapFromStrings([]string{
		"BlockCache.BufferCount=30",
		"BlockCache.ShardCount : 13",
		"Logging.TraceLevelLogging=bcache, blockdev",
		"Logging.LogFilePath=/dev/null",
		"BlockDevice.Path=",
	})
	require.NoError(t, err)

	bufferCount, err := confMap.FetchOptionValueUint32("BlockCache", "BufferCount")
	assert.NoError(err)
	assert.Equal(uint32(30), bufferCount)

	shardCount, err := confMap.FetchOptionValueUint64("BlockCache", "ShardCount")
	assert.NoError(err)
	assert.Equal(uint64(13), shardCount)

	traceList, err := confMap.FetchOptionValueStringSlice("Logging", "TraceLevelLogging")
	assert.NoError(err)
	assert.Equal([]string{"bcache", "blockdev"}, traceList)

	logFilePath, err := confMap.FetchOptionValueString("Logging", "LogFilePath")
	assert.NoError(err)
	assert.Equal("/dev/null", logFilePath)

	emptySlice, err := confMap.FetchOptionValueStringSlice("BlockDevice", "Path")
	assert.NoError(err)
	assert.Equal(0, len(emptySlice))

	_, err = confMap.FetchOptionValueString("BlockDevice", "Path")
	assert.Error(err, "an empty option is not single-valued")

	_, err = confMap.FetchOptionValueString("Logging", "TraceLevelLogging")
	assert.Error(err, "a two-valued option is not single-valued")

	_, err = confMap.FetchOptionValueString("NoSuchSection", "Option")
	assert.Error(err)

	_, err = confMap.FetchOptionValueString("BlockCache", "NoSuchOption")
	assert.Error(err)

	_, err = MakeConfMapFromStrings([]string{"no-dot-or-assignment"})
	assert.Error(err)

	_, err = MakeConfMapFromStrings([]string{"   "})
	assert.Error(err)
}

func TestUpdateOverrides(t *testing.T) {
	assert := assert.New(t)

	confMap, err := MakeConfMapFromStrings([]string{"BlockCache.BufferCount=30"})
	require.NoError(t, err)

	err = confMap.UpdateFromStrings([]string{"BlockCache.BufferCount=64"})
	assert.NoError(err)

	bufferCount, err := confMap.FetchOptionValueUint32("BlockCache", "BufferCount")
	assert.NoError(err)
	assert.Equal(uint32(64), bufferCount)
}

func TestTypedFetches(t *testing.T) {
	assert := assert.New(t)

	confMap, err := MakeConfMapFromStrings([]string{
		"Test.True=yes",
		"Test.False=Off",
		"Test.NotBool=maybe",
		"Test.Duration=1500ms",
		"Test.BadDuration=soon",
		"Test.TooBig=4294967296",
		"Test.NotNumber=ten",
	})
	require.NoError(t, err)

	b, err := confMap.FetchOptionValueBool("Test", "True")
	assert.NoError(err)
	assert.True(b)

	b, err = confMap.FetchOptionValueBool("Test", "False")
	assert.NoError(err)
	assert.False(b)

	_, err = confMap.FetchOptionValueBool("Test", "NotBool")
	assert.Error(err)

	d, err := confMap.FetchOptionValueDuration("Test", "Duration")
	assert.NoError(err)
	assert.Equal(1500*time.Millisecond, d)

	_, err = confMap.FetchOptionValueDuration("Test", "BadDuration")
	assert.Error(err)

	_, err = confMap.FetchOptionValueUint32("Test", "TooBig")
	assert.Error(err)

	u64, err := confMap.FetchOptionValueUint64("Test", "TooBig")
	assert.NoError(err)
	assert.Equal(uint64(4294967296), u64)

	_, err = confMap.FetchOptionValueUint64("Test", "NotNumber")
	assert.Error(err)
}

func TestMakeConfMapFromFile(t *testing.T) {
	assert := assert.New(t)

	dir, err := ioutil.TempDir("", "conf_test_")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	writeTestConfFile(t, dir, "logging.conf",
		"[Logging]\n"+
			"LogFilePath : /dev/null\n"+
			"LogToConsole = false\n")

	mainPath := writeTestConfFile(t, dir, "main.conf",
		"# block cache sizing\n"+
			"[BlockCache]\n"+
			"BufferCount : 30 ; default\n"+
			"ShardCount = 13\n"+
			"\n"+
			".include ./logging.conf\n"+
			"\n"+
			"[BlockDevice]\n"+
			"Type = ram\n"+
			"BlockCount = 1024\n")

	confMap, err := MakeConfMapFromFile(mainPath)
	require.NoError(t, err)

	bufferCount, err := confMap.FetchOptionValueUint32("BlockCache", "BufferCount")
	assert.NoError(err)
	assert.Equal(uint32(30), bufferCount)

	logToConsole, err := confMap.FetchOptionValueBool("Logging", "LogToConsole")
	assert.NoError(err)
	assert.False(logToConsole)

	deviceType, err := confMap.FetchOptionValueString("BlockDevice", "Type")
	assert.NoError(err)
	assert.Equal("ram", deviceType)
}

func TestMalformedFiles(t *testing.T) {
	assert := assert.New(t)

	dir, err := ioutil.TempDir("", "conf_test_")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	noSection := writeTestConfFile(t, dir, "nosection.conf", "Option = Value\n")
	_, err = MakeConfMapFromFile(noSection)
	assert.Error(err)

	noNewline := writeTestConfFile(t, dir, "nonewline.conf", "[Section]\nOption = Value")
	_, err = MakeConfMapFromFile(noNewline)
	assert.Error(err)

	badLine := writeTestConfFile(t, dir, "badline.conf", "[Section]\n= Value\n")
	_, err = MakeConfMapFromFile(badLine)
	assert.Error(err)

	selfInclude := writeTestConfFile(t, dir, "loop.conf", ".include ./loop.conf\n")
	_, err = MakeConfMapFromFile(selfInclude)
	assert.Error(err, ".include loops must be detected")

	_, err = MakeConfMapFromFile(filepath.Join(dir, "missing.conf"))
	assert.Error(err)
}
