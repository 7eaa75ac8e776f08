// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package indexmap implements the per-source index translation tables
// (spec §4.1, C2) that every later merge phase consults to rewrite an
// embedded string/type/proto/field/method index or data-section offset
// from one input's numbering into the merged output's numbering.
package indexmap

import (
	"fmt"

	"github.com/grailbio/dexmerge/dexpb"
	"v.io/x/lib/vlog"
)

// IndexMap holds the old->new translation tables for exactly one input
// DEX file. A merge allocates two: one for A, one for B.
//
// Once an entry is set it is never rewritten again (§3 invariant): each
// old index is populated exactly once, by the merge phase responsible for
// that section, and every later phase only reads it.
type IndexMap struct {
	label string // "A" or "B", for diagnostics only

	stringIds []uint32 // may exceed 16 bits
	typeIds   []uint16
	protoIds  []uint16
	fieldIds  []uint16
	methodIds []uint16

	annotationOff           map[uint32]uint32
	annotationSetOff        map[uint32]uint32
	annotationSetRefOff     map[uint32]uint32
	annotationDirectoryOff  map[uint32]uint32
	staticValuesOff         map[uint32]uint32
}

// New allocates an IndexMap sized for an input with the given number of
// string/type/proto/field/method IDs. label identifies the source ("A" or
// "B") in panic/error messages.
func New(label string, numStrings, numTypes, numProtos, numFields, numMethods int) *IndexMap {
	m := &IndexMap{
		label:                  label,
		stringIds:              make([]uint32, numStrings),
		typeIds:                make([]uint16, numTypes),
		protoIds:               make([]uint16, numProtos),
		fieldIds:               make([]uint16, numFields),
		methodIds:              make([]uint16, numMethods),
		// No typeListOff table: dexio computes type_list offsets itself
		// from inline Parameters/Interfaces at write time, so there's
		// nothing here for this table to feed.
		annotationOff:          make(map[uint32]uint32),
		annotationSetOff:       make(map[uint32]uint32),
		annotationSetRefOff:    make(map[uint32]uint32),
		annotationDirectoryOff: make(map[uint32]uint32),
		staticValuesOff:        make(map[uint32]uint32),
	}
	for i := range m.stringIds {
		m.stringIds[i] = ^uint32(0) // unset sentinel
	}
	return m
}

// PutStringId records that old string index oldIdx now lives at new.
func (m *IndexMap) PutStringId(oldIdx int, new uint32) { m.stringIds[oldIdx] = new }

// PutTypeId records the remapped type index, enforcing the u16 range
// invariant of §4.1 (IndexOverflow, §7).
func (m *IndexMap) PutTypeId(oldIdx int, new uint32) {
	m.checkU16("type", new)
	m.typeIds[oldIdx] = uint16(new)
}

// PutProtoId records the remapped proto index.
func (m *IndexMap) PutProtoId(oldIdx int, new uint32) {
	m.checkU16("proto", new)
	m.protoIds[oldIdx] = uint16(new)
}

// PutFieldId records the remapped field index.
func (m *IndexMap) PutFieldId(oldIdx int, new uint32) {
	m.checkU16("field", new)
	m.fieldIds[oldIdx] = uint16(new)
}

// PutMethodId records the remapped method index.
func (m *IndexMap) PutMethodId(oldIdx int, new uint32) {
	m.checkU16("method", new)
	m.methodIds[oldIdx] = uint16(new)
}

func (m *IndexMap) checkU16(kind string, new uint32) {
	if new > dexpb.MaxU16Index {
		vlog.Panicf("indexmap[%s]: remapped %s index %d exceeds u16 range", m.label, kind, new)
	}
}

// PutAnnotationOffset, ... record an old->new offset for one of the
// unsorted, offset-addressed data sections (§4.2 unsorted merge, §4.3).
func (m *IndexMap) PutAnnotationOffset(old, new uint32)          { m.annotationOff[old] = new }
func (m *IndexMap) PutAnnotationSetOffset(old, new uint32)       { m.annotationSetOff[old] = new }
func (m *IndexMap) PutAnnotationSetRefOffset(old, new uint32)    { m.annotationSetRefOff[old] = new }
func (m *IndexMap) PutAnnotationDirectoryOffset(old, new uint32) { m.annotationDirectoryOff[old] = new }
func (m *IndexMap) PutStaticValuesOffset(old, new uint32)        { m.staticValuesOff[old] = new }

// AdjustString translates an old string index. NoIndex is preserved
// unchanged.
func (m *IndexMap) AdjustString(i int32) int32 {
	if i == dexpb.NoIndex {
		return dexpb.NoIndex
	}
	return int32(m.stringIds[i])
}

// AdjustType translates an old type index. NoIndex is preserved unchanged.
func (m *IndexMap) AdjustType(i int32) int32 {
	if i == dexpb.NoIndex {
		return dexpb.NoIndex
	}
	return int32(m.typeIds[i])
}

// AdjustProto translates an old proto index.
func (m *IndexMap) AdjustProto(i int32) int32 {
	if i == dexpb.NoIndex {
		return dexpb.NoIndex
	}
	return int32(m.protoIds[i])
}

// AdjustField translates an old field index.
func (m *IndexMap) AdjustField(i int32) int32 {
	if i == dexpb.NoIndex {
		return dexpb.NoIndex
	}
	return int32(m.fieldIds[i])
}

// AdjustMethod translates an old method index.
func (m *IndexMap) AdjustMethod(i int32) int32 {
	if i == dexpb.NoIndex {
		return dexpb.NoIndex
	}
	return int32(m.methodIds[i])
}

// AdjustAnnotationOffset, ... translate an old data-section offset. An
// offset of 0 (the DEX "absent" sentinel for these sections) always maps
// to 0 without a table lookup.
func (m *IndexMap) AdjustAnnotationOffset(off uint32) uint32 {
	return m.lookupOffset(m.annotationOff, off, "annotation")
}
func (m *IndexMap) AdjustAnnotationSetOffset(off uint32) uint32 {
	return m.lookupOffset(m.annotationSetOff, off, "annotation_set")
}
func (m *IndexMap) AdjustAnnotationSetRefOffset(off uint32) uint32 {
	return m.lookupOffset(m.annotationSetRefOff, off, "annotation_set_ref_list")
}
func (m *IndexMap) AdjustAnnotationDirectoryOffset(off uint32) uint32 {
	return m.lookupOffset(m.annotationDirectoryOff, off, "annotations_directory")
}
func (m *IndexMap) AdjustStaticValuesOffset(off uint32) uint32 {
	return m.lookupOffset(m.staticValuesOff, off, "static_values")
}

func (m *IndexMap) lookupOffset(table map[uint32]uint32, off uint32, kind string) uint32 {
	if off == 0 {
		return 0
	}
	new, ok := table[off]
	if !ok {
		vlog.Panicf("indexmap[%s]: no %s mapping recorded for old offset %#x", m.label, kind, off)
	}
	return new
}

// AdjustTypeList returns a copy of list with every embedded type index
// remapped.
func (m *IndexMap) AdjustTypeList(list dexpb.TypeList) dexpb.TypeList {
	out := dexpb.TypeList{Types: make([]int32, len(list.Types))}
	for i, t := range list.Types {
		out.Types[i] = m.AdjustType(t)
	}
	return out
}

// AdjustProtoId returns a copy of p with its shorty/return/parameter
// indices remapped. ParametersOff is left unset: dexio derives each
// proto_id's parameters_off itself from the Parameters slice at write
// time (see typeListOffOf in codec_write.go), so a merge-time offset
// would never be read.
func (m *IndexMap) AdjustProtoId(p dexpb.ProtoId) dexpb.ProtoId {
	return dexpb.ProtoId{
		ShortyIdx:     m.AdjustString(p.ShortyIdx),
		ReturnTypeIdx: m.AdjustType(p.ReturnTypeIdx),
		Parameters:    m.AdjustTypeList(dexpb.TypeList{Types: p.Parameters}).Types,
	}
}

// AdjustFieldId returns a copy of f with its class/type/name indices
// remapped.
func (m *IndexMap) AdjustFieldId(f dexpb.FieldId) dexpb.FieldId {
	return dexpb.FieldId{
		ClassIdx: m.AdjustType(f.ClassIdx),
		TypeIdx:  m.AdjustType(f.TypeIdx),
		NameIdx:  m.AdjustString(f.NameIdx),
	}
}

// AdjustMethodId returns a copy of md with its class/proto/name indices
// remapped.
func (m *IndexMap) AdjustMethodId(md dexpb.MethodId) dexpb.MethodId {
	return dexpb.MethodId{
		ClassIdx: m.AdjustType(md.ClassIdx),
		ProtoIdx: m.AdjustProto(md.ProtoIdx),
		NameIdx:  m.AdjustString(md.NameIdx),
	}
}

// AdjustEncodedValue returns a copy of v with every embedded
// string/type/field/method/proto index remapped, recursing into nested
// arrays and annotations.
func (m *IndexMap) AdjustEncodedValue(v dexpb.EncodedValue) dexpb.EncodedValue {
	out := v
	out.StringIdx = m.AdjustString(v.StringIdx)
	out.TypeIdx = m.AdjustType(v.TypeIdx)
	out.FieldIdx = m.AdjustField(v.FieldIdx)
	out.MethodIdx = m.AdjustMethod(v.MethodIdx)
	out.ProtoIdx = m.AdjustProto(v.ProtoIdx)
	if v.Array != nil {
		out.Array = make([]dexpb.EncodedValue, len(v.Array))
		for i, e := range v.Array {
			out.Array[i] = m.AdjustEncodedValue(e)
		}
	}
	if v.Annotation != nil {
		a := m.AdjustEncodedAnnotation(*v.Annotation)
		out.Annotation = &a
	}
	return out
}

// AdjustEncodedAnnotation returns a copy of a with its type, name string
// indices, and nested values remapped.
func (m *IndexMap) AdjustEncodedAnnotation(a dexpb.EncodedAnnotation) dexpb.EncodedAnnotation {
	out := dexpb.EncodedAnnotation{
		TypeIdx: m.AdjustType(a.TypeIdx),
		Names:   make([]int32, len(a.Names)),
		Values:  make([]dexpb.EncodedValue, len(a.Values)),
	}
	for i, n := range a.Names {
		out.Names[i] = m.AdjustString(n)
	}
	for i, v := range a.Values {
		out.Values[i] = m.AdjustEncodedValue(v)
	}
	return out
}

// AdjustAnnotation returns a copy of a with its payload remapped.
func (m *IndexMap) AdjustAnnotation(a dexpb.Annotation) dexpb.Annotation {
	return dexpb.Annotation{Visibility: a.Visibility, Value: m.AdjustEncodedAnnotation(a.Value)}
}

// AdjustEncodedArray returns a copy of arr with every value remapped.
func (m *IndexMap) AdjustEncodedArray(arr dexpb.EncodedArray) dexpb.EncodedArray {
	out := dexpb.EncodedArray{Values: make([]dexpb.EncodedValue, len(arr.Values))}
	for i, v := range arr.Values {
		out.Values[i] = m.AdjustEncodedValue(v)
	}
	return out
}

// String implements fmt.Stringer, for diagnostics.
func (m *IndexMap) String() string {
	return fmt.Sprintf("IndexMap[%s]{strings=%d types=%d protos=%d fields=%d methods=%d}",
		m.label, len(m.stringIds), len(m.typeIds), len(m.protoIds), len(m.fieldIds), len(m.methodIds))
}
