// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package merge

import (
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestUnsortedMergeDedup(t *testing.T) {
	a := []TaggedItem[int]{{Source: 0, OldOff: 0, Value: 5}, {Source: 0, OldOff: 8, Value: 1}}
	b := []TaggedItem[int]{{Source: 1, OldOff: 0, Value: 5}, {Source: 1, OldOff: 8, Value: 9}}
	out, groups := UnsortedMerge(a, b, func(x, y int) int { return x - y })
	expect.EQ(t, []int{1, 5, 9}, out)
	expect.EQ(t, 3, len(groups))
	// value 5 appeared in both sources at old offset 0.
	five := groups[1]
	expect.EQ(t, 2, len(five.Source))
}

func TestUnsortedMergeEmpty(t *testing.T) {
	out, groups := UnsortedMerge[int](nil, nil, func(x, y int) int { return x - y })
	expect.EQ(t, 0, len(out))
	expect.EQ(t, 0, len(groups))
}
