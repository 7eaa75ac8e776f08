// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package merge

import (
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestSortedMergeDisjoint(t *testing.T) {
	a := []int{1, 3, 5}
	b := []int{2, 4, 6}
	var aMap, bMap [3]int
	out := SortedMerge(a, b, func(x, y int) int { return x - y },
		func(oldIdx, newIdx int) { aMap[oldIdx] = newIdx },
		func(oldIdx, newIdx int) { bMap[oldIdx] = newIdx },
	)
	expect.EQ(t, []int{1, 2, 3, 4, 5, 6}, out)
	expect.EQ(t, [3]int{0, 2, 4}, aMap)
	expect.EQ(t, [3]int{1, 3, 5}, bMap)
}

func TestSortedMergeDedup(t *testing.T) {
	// S3: a shared value must be written once, with both sides' old
	// indices mapping to the same new index.
	a := []string{"hello", "zzz"}
	b := []string{"aaa", "hello"}
	var aMap, bMap [2]int
	out := SortedMerge(a, b, func(x, y string) int {
		if x < y {
			return -1
		} else if x > y {
			return 1
		}
		return 0
	},
		func(oldIdx, newIdx int) { aMap[oldIdx] = newIdx },
		func(oldIdx, newIdx int) { bMap[oldIdx] = newIdx },
	)
	expect.EQ(t, []string{"aaa", "hello", "zzz"}, out)
	expect.EQ(t, aMap[0], bMap[1]) // "hello" shares one new index
	expect.EQ(t, 1, aMap[0])
}

func TestSortedMergeEmptyB(t *testing.T) {
	// S1: merge(A, empty) reproduces A up to re-sort/dedup.
	a := []int{1, 2, 3}
	var b []int
	out := SortedMerge(a, b, func(x, y int) int { return x - y },
		func(int, int) {}, func(int, int) {})
	expect.EQ(t, a, out)
}
