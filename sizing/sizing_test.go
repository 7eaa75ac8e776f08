// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sizing

import (
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestPessimisticAppliesMultipliersAndAlignment(t *testing.T) {
	a := Sections{Code: 100, ClassData: 50, DebugInfo: 10}
	b := Sections{Code: 101, ClassData: 50, DebugInfo: 10}
	p := Pessimistic(a, b)
	// (100+101)*1.25 = 251.25 -> round up 252, align4 -> 252
	expect.EQ(t, uint64(252), p.Code)
	expect.EQ(t, uint64(134), p.ClassData) // 100*1.34=134
	expect.EQ(t, uint64(40), p.DebugInfo)  // 20*2=40
}

func TestShouldCompactBelowThreshold(t *testing.T) {
	p := Sections{Code: 1000}
	e := Sections{Code: 999}
	wasted, run := ShouldCompact(p, e, 1, DefaultCompactWasteThreshold)
	expect.EQ(t, uint64(1), wasted)
	expect.False(t, run)
}

func TestShouldCompactAboveThreshold(t *testing.T) {
	p := Sections{Code: 2 << 20}
	e := Sections{Code: 0}
	wasted, run := ShouldCompact(p, e, 1, DefaultCompactWasteThreshold)
	expect.True(t, run)
	expect.True(t, wasted >= DefaultCompactWasteThreshold)
}

func TestShouldCompactExactNeverExceedsPessimistic(t *testing.T) {
	p := Sections{Code: 100}
	e := Sections{Code: 150}
	wasted, run := ShouldCompact(p, e, 1, DefaultCompactWasteThreshold)
	expect.EQ(t, uint64(0), wasted)
	expect.False(t, run)
}
