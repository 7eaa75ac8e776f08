// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dexio

import (
	"testing"

	"github.com/grailbio/dexmerge/dexpb"
	"github.com/grailbio/testutil/expect"
)

// TestWriteReadRoundTripMinimal exercises the header/TOC plumbing and a
// single trivial class with no superclass, interfaces, annotations, or
// class data.
func TestWriteReadRoundTripMinimal(t *testing.T) {
	in := &dexpb.DexFile{
		StringData: [][]byte{[]byte("Ltest/Type1;")},
		TypeIds:    []dexpb.TypeId{{DescriptorIdx: 0}},
		ClassDefs: []*dexpb.ClassDef{
			{
				ClassIdx:      0,
				AccessFlags:   0x1,
				SuperclassIdx: dexpb.NoIndex,
				SourceFileIdx: dexpb.NoIndex,
			},
		},
	}

	raw := WriteDexFile(in)
	out, err := ReadDexFile(raw)
	expect.NoError(t, err)

	expect.EQ(t, 1, out.NumStrings())
	expect.EQ(t, "Ltest/Type1;", string(out.StringData[0]))
	expect.EQ(t, 1, out.NumTypes())
	expect.EQ(t, int32(0), out.TypeIds[0].DescriptorIdx)

	expect.EQ(t, 1, len(out.ClassDefs))
	cd := out.ClassDefs[0]
	if cd == nil {
		t.Fatalf("ClassDefs[0] is nil")
	}
	expect.EQ(t, int32(0), cd.ClassIdx)
	expect.EQ(t, uint32(0x1), cd.AccessFlags)
	expect.EQ(t, dexpb.NoIndex, cd.SuperclassIdx)
	expect.EQ(t, dexpb.NoIndex, cd.SourceFileIdx)
	expect.EQ(t, 0, len(cd.Interfaces.Types))
	expect.EQ(t, 0, len(cd.ClassData.DirectMethods))
}

// TestWriteReadRoundTripWithCode exercises type_list (an implemented
// interface), class_data, and a code_item with one try/catch range, the
// parts TestWriteReadRoundTripMinimal leaves untouched.
func TestWriteReadRoundTripWithCode(t *testing.T) {
	in := &dexpb.DexFile{
		StringData: [][]byte{
			[]byte("Ltest/Type1;"),
			[]byte("Ljava/lang/Object;"),
			[]byte("Ltest/Iface;"),
			[]byte("run"),
		},
		TypeIds: []dexpb.TypeId{
			{DescriptorIdx: 0},
			{DescriptorIdx: 1},
			{DescriptorIdx: 2},
		},
		MethodIds: []dexpb.MethodId{
			{ClassIdx: 0, ProtoIdx: 0, NameIdx: 3},
		},
		ClassDefs: []*dexpb.ClassDef{
			{
				ClassIdx:      0,
				AccessFlags:   0x1,
				SuperclassIdx: 1,
				SourceFileIdx: dexpb.NoIndex,
				Interfaces:    dexpb.TypeList{Types: []int32{2}},
				ClassData: dexpb.ClassData{
					DirectMethods: []dexpb.EncodedMethod{
						{
							MethodIdx:   0,
							AccessFlags: 0x10001,
							Code: &dexpb.CodeItem{
								RegistersSize: 2,
								InsSize:       1,
								OutsSize:      0,
								Insns:         []uint16{0x0001, 0x000e},
								Tries: []dexpb.TryItem{
									{StartAddr: 0, InsnCount: 1, HandlerOff: 0},
								},
								Handlers: []dexpb.EncodedCatchHandler{
									{HasCatchAll: true, CatchAllAddr: 1},
								},
							},
						},
					},
				},
			},
			nil,
			nil,
		},
	}

	raw := WriteDexFile(in)
	out, err := ReadDexFile(raw)
	expect.NoError(t, err)

	cd := out.ClassDefs[0]
	if cd == nil {
		t.Fatalf("ClassDefs[0] is nil")
	}
	expect.EQ(t, int32(1), cd.SuperclassIdx)
	expect.EQ(t, []int32{2}, cd.Interfaces.Types)

	expect.EQ(t, 1, len(cd.ClassData.DirectMethods))
	m := cd.ClassData.DirectMethods[0]
	expect.EQ(t, int32(0), m.MethodIdx)
	expect.EQ(t, uint32(0x10001), m.AccessFlags)
	if m.Code == nil {
		t.Fatalf("DirectMethods[0].Code is nil")
	}
	expect.EQ(t, uint16(2), m.Code.RegistersSize)
	expect.EQ(t, uint16(1), m.Code.InsSize)
	expect.EQ(t, []uint16{0x0001, 0x000e}, m.Code.Insns)
	expect.EQ(t, 1, len(m.Code.Tries))
	expect.EQ(t, uint32(0), m.Code.Tries[0].StartAddr)
	expect.EQ(t, uint16(1), m.Code.Tries[0].InsnCount)
	expect.EQ(t, 1, len(m.Code.Handlers))
	expect.EQ(t, true, m.Code.Handlers[0].HasCatchAll)
	expect.EQ(t, uint32(1), m.Code.Handlers[0].CatchAllAddr)
	expect.EQ(t, 0, len(m.Code.Handlers[0].Handlers))
}

// TestWriteDedupesSharedTypeList checks that two classes implementing the
// same interface set share one encoded type_list rather than each
// getting their own copy.
func TestWriteDedupesSharedTypeList(t *testing.T) {
	iface := dexpb.TypeList{Types: []int32{5}}
	in := &dexpb.DexFile{
		StringData: [][]byte{[]byte("Lshared;"), []byte("Lshared2;")},
		TypeIds:    []dexpb.TypeId{{DescriptorIdx: 0}, {DescriptorIdx: 1}},
		ClassDefs: []*dexpb.ClassDef{
			{ClassIdx: 0, SuperclassIdx: dexpb.NoIndex, SourceFileIdx: dexpb.NoIndex, Interfaces: iface},
			{ClassIdx: 1, SuperclassIdx: dexpb.NoIndex, SourceFileIdx: dexpb.NoIndex, Interfaces: iface},
		},
	}
	raw := WriteDexFile(in)
	out, err := ReadDexFile(raw)
	expect.NoError(t, err)
	expect.EQ(t, out.ClassDefs[0].InterfacesOff, out.ClassDefs[1].InterfacesOff)
}
