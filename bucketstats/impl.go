// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bucketstats

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
)

var (
	pkgNameToGroupName map[string]map[string]interface{}
	statsNameMapLock   sync.Mutex
)

var (
	totalType      = reflect.TypeOf(Total{})
	averageType    = reflect.TypeOf(Average{})
	bucketLog2Type = reflect.TypeOf(BucketLog2{})
)

func isStatType(fieldAsType reflect.Type) bool {
	return (fieldAsType == totalType) || (fieldAsType == averageType) || (fieldAsType == bucketLog2Type)
}

// statsStructValue verifies statsStruct is a pointer to a struct and returns the struct
//
func statsStructValue(statsGroupName string, statsStruct interface{}) reflect.Value {
	if reflect.TypeOf(statsStruct).Kind() != reflect.Ptr ||
		reflect.ValueOf(statsStruct).Elem().Type().Kind() != reflect.Struct {
		panic(fmt.Sprintf("statsStruct for statistics group '%s' is (%s), should be (*struct)",
			statsGroupName, reflect.TypeOf(statsStruct)))
	}

	return reflect.ValueOf(statsStruct).Elem()
}

// Register a set of statistics, where the statistics are one or more fields in
// the passed structure.
//
func register(pkgName string, statsGroupName string, statsStruct interface{}) {
	var ok bool

	if pkgName == "" && statsGroupName == "" {
		panic("statistics group must have non-empty pkgName or statsGroupName")
	}

	structAsValue := statsStructValue(statsGroupName, statsStruct)
	structAsType := structAsValue.Type()

	// find all the statistics fields; assign them a name if they don't
	// have one; verify each name is only used once
	names := make(map[string]struct{})

	for i := 0; i < structAsType.NumField(); i++ {
		fieldName := structAsType.Field(i).Name
		fieldAsValue := structAsValue.Field(i)

		// ignore fields that are not a bucketstats type
		if !isStatType(structAsType.Field(i).Type) {
			continue
		}

		// verify bucketstats fields are setable (exported)
		if !fieldAsValue.CanSet() {
			panic(fmt.Sprintf("statistics group '%s' field %s must be exported to be usable by bucketstats",
				statsGroupName, fieldName))
		}

		statNameValue := fieldAsValue.FieldByName("Name")
		if statNameValue.String() == "" {
			statNameValue.SetString(fieldName)
		} else {
			statNameValue.SetString(scrubName(statNameValue.String()))
		}
		_, ok = names[statNameValue.String()]
		if ok {
			panic(fmt.Sprintf("stats '%s' field %s Name '%s' is already in use",
				statsGroupName, fieldName, statNameValue))
		}
		names[statNameValue.String()] = struct{}{}
	}

	// add statsGroupName to the list of statistics (after scrubbing)
	statsGroupName = scrubName(statsGroupName)
	pkgName = scrubName(pkgName)

	statsNameMapLock.Lock()
	defer statsNameMapLock.Unlock()

	if pkgNameToGroupName == nil {
		pkgNameToGroupName = make(map[string]map[string]interface{})
	}
	if pkgNameToGroupName[pkgName] == nil {
		pkgNameToGroupName[pkgName] = make(map[string]interface{})
	}

	if pkgNameToGroupName[pkgName][statsGroupName] != nil {
		panic(fmt.Sprintf("pkgName '%s' with statsGroupName '%s' is already registered",
			pkgName, statsGroupName))
	}
	pkgNameToGroupName[pkgName][statsGroupName] = statsStruct
}

func unRegister(pkgName string, statsGroupName string) {
	pkgName = scrubName(pkgName)
	statsGroupName = scrubName(statsGroupName)

	statsNameMapLock.Lock()
	defer statsNameMapLock.Unlock()

	// remove statsGroupName from the list of statistics (silently ignore it
	// if it doesn't exist)
	if pkgNameToGroupName[pkgName] != nil {
		delete(pkgNameToGroupName[pkgName], statsGroupName)

		if len(pkgNameToGroupName[pkgName]) == 0 {
			delete(pkgNameToGroupName, pkgName)
		}
	}
}

func sortedKeys(m map[string]map[string]interface{}) (keys []string) {
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return
}

// Return the selected group(s) of statistics as a string, ordered by package
// and then group name.
//
func sprintStats(stringFmt StatStringFormat, pkgName string, statsGroupName string) (statValues string) {
	var (
		groupNames []string
		pkgNames   []string
	)

	statsNameMapLock.Lock()
	defer statsNameMapLock.Unlock()

	if pkgName == "*" {
		pkgNames = sortedKeys(pkgNameToGroupName)
	} else {
		pkgNames = []string{scrubName(pkgName)}
	}

	for _, pkg := range pkgNames {
		if statsGroupName == "*" {
			groupNames = groupNames[:0]
			for group := range pkgNameToGroupName[pkg] {
				groupNames = append(groupNames, group)
			}
			sort.Strings(groupNames)
		} else {
			groupNames = []string{scrubName(statsGroupName)}
		}

		for _, group := range groupNames {
			statsStruct, ok := pkgNameToGroupName[pkg][group]
			if !ok {
				panic(fmt.Sprintf(
					"bucketstats.sprintStats(): statistics group '%s.%s' is not registered",
					pkg, group))
			}
			statValues += sprintStatsStruct(stringFmt, pkg, group, statsStruct)
		}
	}
	return
}

func sprintStatsStruct(stringFmt StatStringFormat, pkgName string, statsGroupName string,
	statsStruct interface{}) (statValues string) {

	structAsValue := statsStructValue(statsGroupName, statsStruct)
	structAsType := structAsValue.Type()

	// find all the statistics fields and sprint them
	for i := 0; i < structAsType.NumField(); i++ {
		if !isStatType(structAsType.Field(i).Type) {
			continue
		}

		statValues += structAsValue.Field(i).Addr().Interface().(Totaler).Sprint(stringFmt, pkgName, statsGroupName)
	}
	return
}

// Construct and return a statistics name (fully qualified field name) in the specified format.
//
func statisticName(stringFmt StatStringFormat, pkgName string, statsGroupName string, fieldName string) string {
	var statName string

	switch stringFmt {
	case StatFormatParsable1:
		switch {
		case pkgName == "":
			statName = statsGroupName + "." + fieldName
		case statsGroupName == "":
			statName = pkgName + "." + fieldName
		default:
			statName = pkgName + "." + statsGroupName + "." + fieldName
		}
		return statName
	}

	return fmt.Sprintf("pkg: '%s' Stats Group '%s' field '%s': Unknown StatStringFormat: '%v'\n",
		pkgName, statsGroupName, fieldName, stringFmt)
}

func average(total uint64, count uint64) uint64 {
	if 0 == count {
		return 0
	}
	return total / count
}

// Return a string with the statistic's value in the specified format.
//
func (this *Total) sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	statName := statisticName(stringFmt, pkgName, statsGroupName, this.Name)

	switch stringFmt {
	case StatFormatParsable1:
		return fmt.Sprintf("%s total:%d\n", statName, this.TotalGet())
	}

	return fmt.Sprintf("statName '%s': Unknown StatStringFormat: '%v'\n", statName, stringFmt)
}

// Return a string with the statistic's value in the specified format.
//
func (this *Average) sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	statName := statisticName(stringFmt, pkgName, statsGroupName, this.Name)

	switch stringFmt {
	case StatFormatParsable1:
		return fmt.Sprintf("%s total:%d count:%d avg:%d\n",
			statName, this.TotalGet(), this.CountGet(), this.AverageGet())
	}

	return fmt.Sprintf("statName '%s': Unknown StatStringFormat: '%v'\n", statName, stringFmt)
}

// Return a string with the bucketized statistic content in the specified format.
// Only buckets up to the last non-empty one are listed, each as "<RangeLow>:<Count>".
//
func (this *BucketLog2) sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	statName := statisticName(stringFmt, pkgName, statsGroupName, this.Name)

	switch stringFmt {
	case StatFormatParsable1:
		bucketInfo := this.DistGet()

		lastIdx := 0
		for idx := range bucketInfo {
			if 0 < bucketInfo[idx].Count {
				lastIdx = idx
			}
		}

		line := fmt.Sprintf("%s total:%d count:%d avg:%d", statName, this.TotalGet(), this.CountGet(), this.AverageGet())
		for idx := 0; idx <= lastIdx; idx++ {
			line += fmt.Sprintf(" %d:%d", bucketInfo[idx].RangeLow, bucketInfo[idx].Count)
		}
		return line + "\n"
	}

	return fmt.Sprintf("statName '%s': Unknown StatStringFormat: '%v'\n", statName, stringFmt)
}

// The canonical distribution for a bucketized statistic is an array of BucketInfo.
// Bucket 0 holds 0; bucket n > 0 holds [2^(n-1), 2^n - 1].
//
func bucketDistMake(statBuckets []uint64) []BucketInfo {
	bucketInfo := make([]BucketInfo, len(statBuckets))

	for i := range statBuckets {
		bucketInfo[i].Count = atomic.LoadUint64(&statBuckets[i])
		if 0 == i {
			continue
		}
		bucketInfo[i].RangeLow = uint64(1) << uint(i-1)
		bucketInfo[i].RangeHigh = bucketInfo[i].RangeLow<<1 - 1
	}

	return bucketInfo
}

// Replace illegal characters in names with underbar (`_`)
//
func scrubName(name string) string {
	// Names should include only pritable characters that are not
	// whitespace.  Also disallow splat ('*') (used for wildcard for
	// statistic group names), sharp ('#') (used for comments in output) and
	// colon (':') (used as a delimiter in "key:value" output).
	replaceChar := func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return '_'
		case !unicode.IsPrint(r):
			return '_'
		case r == '*':
			return '_'
		case r == ':':
			return '_'
		case r == '#':
			return '_'
		}
		return r
	}

	return strings.Map(replaceChar, name)
}
