// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package classorder

import (
	"testing"

	"github.com/grailbio/dexmerge/dexpb"
	"github.com/grailbio/testutil/expect"
)

func classDef(typeIdx, superIdx int32, ifaces ...int32) *dexpb.ClassDef {
	return &dexpb.ClassDef{
		ClassIdx:      typeIdx,
		SuperclassIdx: superIdx,
		Interfaces:    dexpb.TypeList{Types: ifaces},
	}
}

func TestSortTopological(t *testing.T) {
	// S6: A = {B extends A, C extends B}, B(input) = {D extends C}.
	// Object (type 0) is external (depth 0).
	a := []*dexpb.ClassDef{
		classDef(1, dexpb.NoIndex), // A extends Object
		classDef(2, 1),             // B extends A
		classDef(3, 2),             // C extends B
	}
	b := []*dexpb.ClassDef{
		classDef(4, 3), // D extends C
	}
	out, err := Sort(a, b, nil, true)
	expect.NoError(t, err)
	var order []int32
	for _, d := range out {
		order = append(order, d.ClassIdx)
	}
	expect.EQ(t, []int32{1, 2, 3, 4}, order)
}

func TestSortCyclicIsFatal(t *testing.T) {
	a := []*dexpb.ClassDef{
		classDef(1, 2),
		classDef(2, 1),
	}
	_, err := Sort(a, nil, nil, true)
	expect.NotNil(t, err)
}

func TestSortCollisionKeepFirst(t *testing.T) {
	// S4: both A,B define LFoo; (type 1). A's copy (AccessFlags=1) wins.
	a := []*dexpb.ClassDef{{ClassIdx: 1, SuperclassIdx: dexpb.NoIndex, AccessFlags: 1}}
	b := []*dexpb.ClassDef{{ClassIdx: 1, SuperclassIdx: dexpb.NoIndex, AccessFlags: 2}}
	out, err := Sort(a, b, nil, true)
	expect.NoError(t, err)
	expect.EQ(t, 1, len(out))
	expect.EQ(t, uint32(1), out[0].AccessFlags)
}

func TestSortCollisionFail(t *testing.T) {
	// S5: same input as S4 under FAIL.
	a := []*dexpb.ClassDef{{ClassIdx: 1, SuperclassIdx: dexpb.NoIndex}}
	b := []*dexpb.ClassDef{{ClassIdx: 1, SuperclassIdx: dexpb.NoIndex}}
	_, err := Sort(a, b, nil, false)
	expect.NotNil(t, err)
}

func TestSortEmptyB(t *testing.T) {
	// S1: merge(A, empty) retains all of A's class defs.
	a := []*dexpb.ClassDef{classDef(1, dexpb.NoIndex), classDef(2, 1)}
	out, err := Sort(a, nil, nil, true)
	expect.NoError(t, err)
	expect.EQ(t, 2, len(out))
}
