// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bcache

import (
	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/logger"
)

func parseConfMap(confMap conf.ConfMap) (config Config, err error) {
	config = DefaultConfig()

	if _, ok := confMap["BlockCache"]; !ok {
		logger.Warnf("config section '[BlockCache]' missing; using defaults")
		return
	}

	config.Name, err = confMap.FetchOptionValueString("BlockCache", "Name")
	if nil != err {
		config.Name = ""
		err = nil
	}

	for _, option := range []struct {
		name  string
		value *uint32
	}{
		{"BufferCount", &config.BufferCount},
		{"ShardCount", &config.ShardCount},
		{"BlockSize", &config.BlockSize},
	} {
		if _, ok := confMap["BlockCache"][option.name]; !ok {
			logger.Warnf("config variable 'BlockCache.%s' defaulting to %v", option.name, *option.value)
			continue
		}
		*option.value, err = confMap.FetchOptionValueUint32("BlockCache", option.name)
		if nil != err {
			err = blunder.AddError(err, blunder.InvalidArgError)
			return
		}
	}

	return
}
