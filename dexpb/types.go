// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dexpb defines the plain record types that flow through the DEX
// merger. Unlike github.com/grailbio/bio/biopb, these are hand-written
// rather than protoc-generated: DEX record shapes are small, fixed by the
// file format itself, and never cross a wire boundary other than the DEX
// file, so there is nothing for a protobuf compiler to buy us.
package dexpb

import "math"

// NoIndex is the sentinel stored in a string or type index field to mean
// "absent". It is preserved unchanged by every IndexMap.Adjust* call.
const NoIndex = int32(-1)

// MaxU16Index is the largest value a type, proto, field or method index may
// take; remapped indices that would exceed this are an IndexOverflow error.
const MaxU16Index = 0xFFFF

// StringId is a 4-byte offset into string_data, conceptually paired with the
// decoded modified-UTF-8 payload it points at.
type StringId struct {
	Utf8Data []byte
}

// TypeId is a string index naming a type descriptor, e.g. "Ltest/Type1;".
type TypeId struct {
	DescriptorIdx int32 // index into the merged StringId table
}

// ProtoId is a method prototype: a shorty descriptor string, a return type,
// and a parameter type list.
type ProtoId struct {
	ShortyIdx     int32
	ReturnTypeIdx int32
	ParametersOff uint32 // offset into type_list, 0 if no parameters
	Parameters    []int32
}

// FieldId names a field by its defining class, type, and name.
type FieldId struct {
	ClassIdx int32
	TypeIdx  int32
	NameIdx  int32
}

// MethodId names a method by its defining class, prototype, and name.
type MethodId struct {
	ClassIdx int32
	ProtoIdx int32
	NameIdx  int32
}

// Compare implements the (return-type, parameter-list) total order used to
// sort merged ProtoId entries (spec §3).
func (p ProtoId) Compare(o ProtoId) int {
	if p.ReturnTypeIdx != o.ReturnTypeIdx {
		return int(p.ReturnTypeIdx - o.ReturnTypeIdx)
	}
	return compareInt32Slice(p.Parameters, o.Parameters)
}

// Compare implements the (defining-type, name, type) total order for FieldId.
func (f FieldId) Compare(o FieldId) int {
	if f.ClassIdx != o.ClassIdx {
		return int(f.ClassIdx - o.ClassIdx)
	}
	if f.NameIdx != o.NameIdx {
		return int(f.NameIdx - o.NameIdx)
	}
	return int(f.TypeIdx - o.TypeIdx)
}

// Compare implements the (defining-type, name, proto) total order for MethodId.
func (m MethodId) Compare(o MethodId) int {
	if m.ClassIdx != o.ClassIdx {
		return int(m.ClassIdx - o.ClassIdx)
	}
	if m.NameIdx != o.NameIdx {
		return int(m.NameIdx - o.NameIdx)
	}
	return int(m.ProtoIdx - o.ProtoIdx)
}

// compareInt32Slice orders two int32 slices with length as primary key, as
// required for the "IntArray order" used by type-list and encoded-array
// comparisons throughout §4.3.
func compareInt32Slice(a, b []int32) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	for i := range a {
		if a[i] != b[i] {
			return int(a[i] - b[i])
		}
	}
	return 0
}

// TypeList is the packed array of type indices backing interfaces-lists and
// proto parameter lists.
type TypeList struct {
	Types []int32 // element width is u16 on disk; widened here for arithmetic
}

// Compare orders TypeLists by length then element-wise, the "IntArray
// order" referenced by §4.3 for type-lists.
func (t TypeList) Compare(o TypeList) int {
	return compareInt32Slice(t.Types, o.Types)
}

// EncodedValue is a decoded encoded_value, used both standalone (static
// field initializers) and nested (arrays, annotations).
type EncodedValue struct {
	Type       byte
	IntValue   int64
	FloatValue float64
	StringIdx  int32
	TypeIdx    int32
	FieldIdx   int32
	MethodIdx  int32
	ProtoIdx   int32
	Array      []EncodedValue
	Annotation *EncodedAnnotation
}

// EncodedAnnotation is an annotation's type plus its name/value pairs.
type EncodedAnnotation struct {
	TypeIdx int32
	Names   []int32 // string indices
	Values  []EncodedValue
}

// AnnotationVisibility mirrors the DEX encoded_annotation visibility byte.
type AnnotationVisibility byte

// Annotation is one visibility-tagged encoded_annotation, the payload
// pointed to by an annotation_set_item.
type Annotation struct {
	Visibility AnnotationVisibility
	Value      EncodedAnnotation
}

// Compare orders Annotations by (visibility, type, names, values) so the
// unsorted merger can dedup identical annotations (§4.3).
func (a Annotation) Compare(o Annotation) int {
	if a.Visibility != o.Visibility {
		return int(a.Visibility) - int(o.Visibility)
	}
	if a.Value.TypeIdx != o.Value.TypeIdx {
		return int(a.Value.TypeIdx - o.Value.TypeIdx)
	}
	if c := compareInt32Slice(a.Value.Names, o.Value.Names); c != 0 {
		return c
	}
	for i := range a.Value.Values {
		if c := a.Value.Values[i].compare(o.Value.Values[i]); c != 0 {
			return c
		}
	}
	return 0
}

// AnnotationSet is the de-duplicated, offset-sorted array of annotation
// offsets attached to a class/field/method/parameter.
type AnnotationSet struct {
	AnnotationOffs []uint32
}

// Compare orders AnnotationSets by element count then value, matching the
// "IntArray order" convention (§4.3).
func (s AnnotationSet) Compare(o AnnotationSet) int {
	a := make([]int32, len(s.AnnotationOffs))
	for i, v := range s.AnnotationOffs {
		a[i] = int32(v)
	}
	b := make([]int32, len(o.AnnotationOffs))
	for i, v := range o.AnnotationOffs {
		b[i] = int32(v)
	}
	return compareInt32Slice(a, b)
}

// AnnotationSetRefList is the per-parameter array of annotation-set offsets
// for a method's parameter_annotations.
type AnnotationSetRefList struct {
	AnnotationSetOffs []uint32
}

func (r AnnotationSetRefList) Compare(o AnnotationSetRefList) int {
	a := make([]int32, len(r.AnnotationSetOffs))
	for i, v := range r.AnnotationSetOffs {
		a[i] = int32(v)
	}
	b := make([]int32, len(o.AnnotationSetOffs))
	for i, v := range o.AnnotationSetOffs {
		b[i] = int32(v)
	}
	return compareInt32Slice(a, b)
}

// FieldAnnotation/MethodAnnotation/ParameterAnnotation associate a member
// index with an annotation-set(-ref-list) offset, inside an
// AnnotationsDirectory.
type FieldAnnotation struct {
	FieldIdx       int32
	AnnotationsOff uint32
}

type MethodAnnotation struct {
	MethodIdx      int32
	AnnotationsOff uint32
}

type ParameterAnnotation struct {
	MethodIdx  int32
	AnnotationsOff uint32 // points at an AnnotationSetRefList
}

// AnnotationsDirectory is a class_def's annotations_directory_item.
type AnnotationsDirectory struct {
	ClassAnnotationsOff uint32
	Fields              []FieldAnnotation
	Methods             []MethodAnnotation
	Parameters          []ParameterAnnotation
}

// Compare implements the corrected lexicographic comparison called out in
// spec §9: compare two equal-shape int arrays element-wise using aE[j] -
// bE[j], not the source's aE[i] - bE[j] typo.
func (d AnnotationsDirectory) Compare(o AnnotationsDirectory) int {
	ae := d.elements()
	be := o.elements()
	if len(ae) != len(be) {
		return len(ae) - len(be)
	}
	for j := range ae {
		if ae[j] != be[j] {
			return ae[j] - be[j]
		}
	}
	return 0
}

// elements flattens an AnnotationsDirectory into the int array compared by
// Compare: class offset, then each field/method/parameter (idx, off) pair.
func (d AnnotationsDirectory) elements() []int {
	out := make([]int, 0, 1+2*(len(d.Fields)+len(d.Methods)+len(d.Parameters)))
	out = append(out, int(d.ClassAnnotationsOff))
	for _, f := range d.Fields {
		out = append(out, int(f.FieldIdx), int(f.AnnotationsOff))
	}
	for _, m := range d.Methods {
		out = append(out, int(m.MethodIdx), int(m.AnnotationsOff))
	}
	for _, p := range d.Parameters {
		out = append(out, int(p.MethodIdx), int(p.AnnotationsOff))
	}
	return out
}

// EncodedArray is the payload of a static_values_item: an array of
// EncodedValue used to initialize a class's static fields.
type EncodedArray struct {
	Values []EncodedValue
}

func (a EncodedArray) Compare(o EncodedArray) int {
	if len(a.Values) != len(o.Values) {
		return len(a.Values) - len(o.Values)
	}
	for i := range a.Values {
		if c := a.Values[i].compare(o.Values[i]); c != 0 {
			return c
		}
	}
	return 0
}

func (v EncodedValue) compare(o EncodedValue) int {
	if v.Type != o.Type {
		return int(v.Type) - int(o.Type)
	}
	if v.IntValue != o.IntValue {
		if v.IntValue < o.IntValue {
			return -1
		}
		return 1
	}
	return compareInt32Slice(
		[]int32{v.StringIdx, v.TypeIdx, v.FieldIdx, v.MethodIdx, v.ProtoIdx},
		[]int32{o.StringIdx, o.TypeIdx, o.FieldIdx, o.MethodIdx, o.ProtoIdx},
	)
}

// EncodedField is one entry of a class_data_item's field lists.
type EncodedField struct {
	FieldIdx   int32 // absolute, pre-delta-encoding
	AccessFlags uint32
}

// EncodedMethod is one entry of a class_data_item's method lists.
type EncodedMethod struct {
	MethodIdx   int32 // absolute, pre-delta-encoding
	AccessFlags uint32
	Code        *CodeItem // nil for abstract/native methods
}

// ClassData is the decoded class_data_item: four member lists.
type ClassData struct {
	StaticFields   []EncodedField
	InstanceFields []EncodedField
	DirectMethods  []EncodedMethod
	VirtualMethods []EncodedMethod
}

// ClassDef is a decoded class_def_item.
type ClassDef struct {
	ClassIdx        int32
	AccessFlags     uint32
	SuperclassIdx   int32 // NoIndex if none (only java.lang.Object)
	InterfacesOff   uint32
	Interfaces      TypeList
	SourceFileIdx   int32 // NoIndex if absent
	AnnotationsOff  uint32
	Annotations     AnnotationsDirectory
	ClassDataOff    uint32
	ClassData       ClassData
	StaticValuesOff uint32
	StaticValues    EncodedArray
}

// TryItem is one exception-handling range in a code_item.
type TryItem struct {
	StartAddr  uint32
	InsnCount  uint16
	HandlerOff uint16 // relative offset into the encoded_catch_handler_list
}

// EncodedTypeAddrPair is one typed catch target.
type EncodedTypeAddrPair struct {
	TypeIdx int32
	Addr    uint32
}

// EncodedCatchHandler is one entry of an encoded_catch_handler_list.
type EncodedCatchHandler struct {
	Handlers     []EncodedTypeAddrPair
	CatchAllAddr uint32 // valid only if HasCatchAll
	HasCatchAll  bool
}

// DebugInfo is the decoded debug_info_item: a starting line, parameter
// name indices, and an opcode stream (kept as raw bytes — the opcode
// stream is rewritten in place by rewrite.DebugInfo, see §4.5).
type DebugInfo struct {
	LineStart      uint32
	ParameterNames []int32 // NoIndex entries allowed
	Bytecode       []byte  // remaining opcode stream including its DBG_END_SEQUENCE, unparsed here
}

// CodeItem is a decoded code_item.
type CodeItem struct {
	RegistersSize uint16
	InsSize       uint16
	OutsSize      uint16
	Tries         []TryItem
	Handlers      []EncodedCatchHandler
	DebugInfo     *DebugInfo // nil if debug_info_off == 0
	Insns         []uint16
}

// Header is the fixed 0x70-byte DEX header, excluding the bytes owned by
// the external hasher (magic, checksum, signature) which this package only
// carries as opaque fields to preserve record-copy semantics.
type Header struct {
	Magic      [8]byte
	Checksum   uint32
	Signature  [20]byte
	FileSize   uint32
	HeaderSize uint32
	EndianTag  uint32
	LinkSize   uint32
	LinkOff    uint32
	MapOff     uint32
	DataSize   uint32
	DataOff    uint32

	// The six id-table table-of-contents entries. Each table's own
	// records are stored decoded (DexFile.StringData, TypeIds, ...);
	// these fields exist so a reader/writer can locate and size those
	// tables in the original/rewritten byte stream.
	StringIdsSize uint32
	StringIdsOff  uint32
	TypeIdsSize   uint32
	TypeIdsOff    uint32
	ProtoIdsSize  uint32
	ProtoIdsOff   uint32
	FieldIdsSize  uint32
	FieldIdsOff   uint32
	MethodIdsSize uint32
	MethodIdsOff  uint32
	ClassDefsSize uint32
	ClassDefsOff  uint32
}

// HeaderSizeBytes is the fixed DEX header size.
const HeaderSizeBytes = 0x70

// EndianTag is the expected little-endian marker.
const EndianTag = uint32(0x12345678)

// MapItemType enumerates map_list entry kinds, used to build the trailer.
type MapItemType uint16

// Map item type constants, in file-layout order (spec §6).
const (
	TypeHeaderItem               MapItemType = 0x0000
	TypeStringIdItem              MapItemType = 0x0001
	TypeTypeIdItem                MapItemType = 0x0002
	TypeProtoIdItem                MapItemType = 0x0003
	TypeFieldIdItem               MapItemType = 0x0004
	TypeMethodIdItem              MapItemType = 0x0005
	TypeClassDefItem              MapItemType = 0x0006
	TypeMapList                   MapItemType = 0x1000
	TypeTypeList                  MapItemType = 0x1001
	TypeAnnotationSetRefList      MapItemType = 0x1002
	TypeAnnotationSetItem         MapItemType = 0x1003
	TypeClassDataItem             MapItemType = 0x2000
	TypeCodeItem                  MapItemType = 0x2001
	TypeStringDataItem            MapItemType = 0x2002
	TypeDebugInfoItem             MapItemType = 0x2003
	TypeAnnotationItem            MapItemType = 0x2004
	TypeEncodedArrayItem          MapItemType = 0x2005
	TypeAnnotationsDirectoryItem  MapItemType = 0x2006
)

// MapItem is one entry of the map_list trailer.
type MapItem struct {
	Type   MapItemType
	Unused uint16
	Size   uint32
	Offset uint32
}

// MaxU32 is the largest value a string index may take (§4.1: stringIds may
// exceed 16 bits).
const MaxU32 = math.MaxUint32
