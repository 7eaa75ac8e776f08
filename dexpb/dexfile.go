// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dexpb

// DexFile is the in-memory parsed form of one .dex file: a header plus its
// ID sections and class definitions, already decoded by the external
// concrete record parsers spec.md §1 keeps out of scope. Every merge phase
// reads from and writes instances of this type.
type DexFile struct {
	Header Header

	// StringData holds each string's raw modified-UTF-8 bytes, indexed by
	// string id (the position in this slice IS the string's index).
	StringData [][]byte

	TypeIds   []TypeId
	ProtoIds  []ProtoId
	FieldIds  []FieldId
	MethodIds []MethodId

	// ClassDefs, as read by dexio.ReadDexFile, is indexed by type index,
	// sparse: not every type has a definition, and a nil entry means "no
	// class_def for this type in this file". A merged DexFile holds its
	// class_defs densely, in output order.
	ClassDefs []*ClassDef

	// TypeLists, Annotations, AnnotationSets, AnnotationSetRefLists,
	// AnnotationDirectories and StaticValues are the unsorted,
	// offset-addressed data sections (§4.2). In a file read from disk
	// they are keyed by their byte offset in that file; in a merged
	// DexFile, by the merge-time offsets (sequential keys for TypeLists)
	// that merge.Sections assigned.
	TypeLists             map[uint32]TypeList
	Annotations            map[uint32]Annotation
	AnnotationSets         map[uint32]AnnotationSet
	AnnotationSetRefLists  map[uint32]AnnotationSetRefList
	AnnotationDirectories  map[uint32]AnnotationsDirectory
	StaticValues           map[uint32]EncodedArray
}

// NumStrings, NumTypes, NumProtos, NumFields, NumMethods report section
// sizes, used to size IndexMaps (§4.1).
func (d *DexFile) NumStrings() int { return len(d.StringData) }
func (d *DexFile) NumTypes() int   { return len(d.TypeIds) }
func (d *DexFile) NumProtos() int  { return len(d.ProtoIds) }
func (d *DexFile) NumFields() int  { return len(d.FieldIds) }
func (d *DexFile) NumMethods() int { return len(d.MethodIds) }
