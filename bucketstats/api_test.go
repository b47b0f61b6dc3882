// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bucketstats

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// a structure containing all of the bucketstats statistics types and other
// fields; useful for testing
type allStatTypes struct {
	MyName   string // not a statistic
	bar      int    // also not a statistic
	Total1   Total
	Average1 Average
	Bucket1  BucketLog2
}

// verify that all of the bucketstats statistics types satisfy the appropriate
// interface (this is really a compile time test; it fails if they don't)
func TestBucketStatsInterfaces(t *testing.T) {
	var (
		_ Totaler  = &Total{}
		_ Totaler  = &Average{}
		_ Averager = &Average{}
		_ Averager = &BucketLog2{}
		_ Bucketer = &BucketLog2{}
	)
}

// catchAPanic runs testFunc and returns the panic string, if any
func catchAPanic(testFunc func()) (panicStr string) {
	defer func() {
		if r := recover(); nil != r {
			panicStr = fmt.Sprint(r)
		}
	}()
	testFunc()
	return
}

func TestRegister(t *testing.T) {
	assert := assert.New(t)

	// registering a struct with all of the statistic types should not panic
	var myStats allStatTypes = allStatTypes{
		Total1:   Total{Name: "mytotaler"},
		Average1: Average{Name: "First_Average"},
		Bucket1:  BucketLog2{Name: "bucket_log2"},
	}
	Register("main", "myStats", &myStats)

	// unregister-ing and re-register-ing myStats is also fine
	UnRegister("main", "myStats")
	Register("main", "myStats", &myStats)

	// its also OK to unregister stats that don't exist
	UnRegister("main", "neverStats")

	// but registering it twice should panic
	assert.NotEqual("", catchAPanic(func() { Register("main", "myStats", &myStats) }))
	UnRegister("main", "myStats")

	// a statistics group must have at least one of package and group name
	Register("", "myStats", &myStats)
	UnRegister("", "myStats")
	Register("main", "", &myStats)
	UnRegister("main", "")
	assert.NotEqual("", catchAPanic(func() { Register("", "", &myStats) }))

	// a non-pointer is rejected
	assert.NotEqual("", catchAPanic(func() { Register("main", "byValue", myStats) }))

	// Registering a struct without any bucketstats statistics is also OK
	emptyStats := struct {
		someInt    int
		someString string
	}{}
	assert.Equal("", catchAPanic(func() { Register("main", "emptyStats", &emptyStats) }))
	UnRegister("main", "emptyStats")

	// Registering unnamed statistics should name them, but not change the
	// name if one is already assigned
	var myStats2 allStatTypes
	Register("main", "myStats2", &myStats2)
	assert.Equal("Total1", myStats2.Total1.Name)
	assert.Equal("Average1", myStats2.Average1.Name)
	assert.Equal("Bucket1", myStats2.Bucket1.Name)
	assert.Equal("mytotaler", myStats.Total1.Name)
	UnRegister("main", "myStats2")

	// two fields with the same name ("Average1") will panic
	var myStats4 allStatTypes = allStatTypes{
		Bucket1: BucketLog2{Name: "Average1"},
	}
	assert.NotEqual("", catchAPanic(func() { Register("main", "myStats4", &myStats4) }))

	// verify illegal characters in names are replaced with underscore ('_')
	var myStats5 allStatTypes = allStatTypes{
		Total1:   Total{Name: "my bogus totaler name"},
		Average1: Average{Name: "you*can't*put*splat*in*a*name"},
		Bucket1:  BucketLog2{Name: ":colon #sharp \tTab"},
	}
	Register("m*a:i#n", "m y s t a t s 5", &myStats5)
	assert.Equal("my_bogus_totaler_name", myStats5.Total1.Name)
	assert.Equal("you_can't_put_splat_in_a_name", myStats5.Average1.Name)
	assert.Equal("_colon__sharp__Tab", myStats5.Bucket1.Name)
	UnRegister("m*a:i#n", "m y s t a t s 5")
}

func TestValues(t *testing.T) {
	assert := assert.New(t)

	var myStats allStatTypes
	Register("main", "values", &myStats)
	defer UnRegister("main", "values")

	assert.Equal(uint64(0), myStats.Average1.AverageGet(), "empty Average must not divide by zero")
	assert.Equal(uint64(0), myStats.Bucket1.AverageGet())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			for j := uint64(0); j < 100; j++ {
				myStats.Total1.Increment()
				myStats.Average1.Add(j)
				myStats.Bucket1.Add(j)
			}
			wg.Done()
		}()
	}
	wg.Wait()

	assert.Equal(uint64(1000), myStats.Total1.TotalGet())
	assert.Equal(uint64(1000), myStats.Average1.CountGet())
	assert.Equal(uint64(49500), myStats.Average1.TotalGet())
	assert.Equal(uint64(49), myStats.Average1.AverageGet())
	assert.Equal(uint64(49), myStats.Bucket1.AverageGet())

	dist := myStats.Bucket1.DistGet()
	assert.Equal(65, len(dist))
	assert.Equal(uint64(10), dist[0].Count) // 0
	assert.Equal(uint64(10), dist[1].Count) // 1
	assert.Equal(uint64(20), dist[2].Count) // 2..3
	assert.Equal(uint64(4), dist[3].RangeLow)
	assert.Equal(uint64(7), dist[3].RangeHigh)
	assert.Equal(uint64(40), dist[3].Count) // 4..7
	assert.Equal(uint64(360), dist[7].Count) // 64..99

	var total uint64
	for _, bucket := range dist {
		total += bucket.Count
	}
	assert.Equal(uint64(1000), total)
}

func TestSprintStats(t *testing.T) {
	assert := assert.New(t)

	var (
		statsA allStatTypes
		statsB allStatTypes
	)
	Register("sprint", "groupA", &statsA)
	Register("sprint", "groupB", &statsB)
	defer UnRegister("sprint", "groupA")
	defer UnRegister("sprint", "groupB")

	statsA.Total1.Add(3)
	statsB.Average1.Add(10)
	statsB.Average1.Add(20)
	statsB.Bucket1.Add(5)

	out := SprintStats(StatFormatParsable1, "sprint", "groupA")
	assert.True(strings.Contains(out, "sprint.groupA.Total1 total:3\n"))
	assert.False(strings.Contains(out, "groupB"))

	out = SprintStats(StatFormatParsable1, "sprint", "*")
	assert.True(strings.Index(out, "groupA") < strings.Index(out, "groupB"), "groups must be sorted")
	assert.True(strings.Contains(out, "sprint.groupB.Average1 total:30 count:2 avg:15\n"))
	assert.True(strings.Contains(out, "sprint.groupB.Bucket1 total:5 count:1 avg:5 0:0 1:0 2:0 4:1\n"))

	assert.NotEqual("", catchAPanic(func() { SprintStats(StatFormatParsable1, "sprint", "noSuchGroup") }))
}
