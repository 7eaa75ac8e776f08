// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package merge

import (
	"bytes"
	"sort"

	"github.com/grailbio/dexmerge/dexpb"
	"github.com/grailbio/dexmerge/indexmap"
)

// Result is the output of running the fixed §4.3 merge order
// (stringIds -> typeIds -> typeLists -> protoIds -> fieldIds -> methodIds
// -> annotations -> annotationSets -> annotationSetRefs ->
// annotationDirectories -> staticValues) over two inputs. Class defs are
// not produced here: they're ordered by classorder and rewritten by
// rewrite, both of which consume the IndexMaps this Result's callers
// populate.
type Result struct {
	StringData            [][]byte
	TypeIds               []dexpb.TypeId
	ProtoIds              []dexpb.ProtoId
	FieldIds              []dexpb.FieldId
	MethodIds             []dexpb.MethodId
	TypeLists             []dexpb.TypeList
	Annotations           []dexpb.Annotation
	AnnotationSets        []dexpb.AnnotationSet
	AnnotationSetRefLists []dexpb.AnnotationSetRefList
	AnnotationDirectories []dexpb.AnnotationsDirectory
	StaticValues          []dexpb.EncodedArray

	// Offsets, by index into the slice above, that assignOffsets gave
	// each item from a per-section size estimate (relative to the
	// section's own start). dexfile keys the merged DexFile's
	// offset-addressed maps by them, and dexio translates them into real
	// file offsets when it writes the output.
	//
	// TypeLists has no equivalent offset table: dexio re-dedups and
	// re-offsets type lists itself from the inline Parameters/Interfaces
	// values at write time (typeListOffOf in codec_write.go), so a byte
	// offset computed here would never be read; TypeListKeys below exists
	// only to give the map below a stable, deterministic key.
	TypeListKeys                []uint32
	AnnotationOffsets           []uint32
	AnnotationSetOffsets        []uint32
	AnnotationSetRefListOffsets []uint32
	AnnotationDirectoryOffsets  []uint32
	StaticValuesOffsets         []uint32
}

// Sections runs the full fixed-order merge of §4.3's eleven non-class_def
// sections, populating mapA and mapB along the way, and optionally feeding
// a RemovalContext (§6 class removal, §9 design notes) during the
// string/type phases.
func Sections(a, b *dexpb.DexFile, mapA, mapB *indexmap.IndexMap, rc *indexmap.RemovalContext) *Result {
	r := &Result{}
	r.StringData = mergeStringIds(a, b, mapA, mapB, rc)
	r.TypeIds = mergeTypeIds(a, b, mapA, mapB, rc)
	r.TypeLists, r.TypeListKeys = mergeTypeLists(a, b, mapA, mapB)
	r.ProtoIds = mergeProtoIds(a, b, mapA, mapB)
	r.FieldIds = mergeFieldIds(a, b, mapA, mapB)
	r.MethodIds = mergeMethodIds(a, b, mapA, mapB)
	r.Annotations, r.AnnotationOffsets = mergeAnnotations(a, b, mapA, mapB)
	r.AnnotationSets, r.AnnotationSetOffsets = mergeAnnotationSets(a, b, mapA, mapB)
	r.AnnotationSetRefLists, r.AnnotationSetRefListOffsets = mergeAnnotationSetRefLists(a, b, mapA, mapB)
	r.AnnotationDirectories, r.AnnotationDirectoryOffsets = mergeAnnotationDirectories(a, b, mapA, mapB)
	r.StaticValues, r.StaticValuesOffsets = mergeStaticValues(a, b, mapA, mapB)
	return r
}

// --- stringIds (sorted, §4.3) ---

func mergeStringIds(a, b *dexpb.DexFile, mapA, mapB *indexmap.IndexMap, rc *indexmap.RemovalContext) [][]byte {
	cmp := func(x, y []byte) int { return bytes.Compare(x, y) }
	out := SortedMerge(a.StringData, b.StringData, cmp,
		func(oldIdx, newIdx int) { mapA.PutStringId(oldIdx, uint32(newIdx)) },
		func(oldIdx, newIdx int) { mapB.PutStringId(oldIdx, uint32(newIdx)) },
	)
	if rc != nil {
		for i, s := range out {
			rc.NoteString(int32(i), string(s))
		}
	}
	return out
}

// --- typeIds (sorted by remapped string index, §4.3) ---

func mergeTypeIds(a, b *dexpb.DexFile, mapA, mapB *indexmap.IndexMap, rc *indexmap.RemovalContext) []dexpb.TypeId {
	adjA := adjustTypeIds(a.TypeIds, mapA)
	adjB := adjustTypeIds(b.TypeIds, mapB)
	cmp := func(x, y dexpb.TypeId) int { return int(x.DescriptorIdx - y.DescriptorIdx) }
	out := SortedMerge(adjA, adjB, cmp,
		func(oldIdx, newIdx int) { mapA.PutTypeId(oldIdx, uint32(newIdx)) },
		func(oldIdx, newIdx int) { mapB.PutTypeId(oldIdx, uint32(newIdx)) },
	)
	if rc != nil {
		for i, t := range out {
			rc.NoteType(int32(i), t.DescriptorIdx)
		}
	}
	return out
}

func adjustTypeIds(ids []dexpb.TypeId, m *indexmap.IndexMap) []dexpb.TypeId {
	out := make([]dexpb.TypeId, len(ids))
	for i, t := range ids {
		out[i] = dexpb.TypeId{DescriptorIdx: m.AdjustString(t.DescriptorIdx)}
	}
	return out
}

// --- typeLists (unsorted, §4.3) ---

// mergeTypeLists dedups a's and b's type lists by content the same way
// mergeAnnotations et al. do. It assigns each result a sequential key
// only so the result can round-trip through a map[uint32]TypeList (the
// shape a second, compacting merge pass reads back in) — not a byte
// offset, since dexio computes its own type_list offsets directly from
// each proto's Parameters / class_def's Interfaces at write time and
// never consults this one.
func mergeTypeLists(a, b *dexpb.DexFile, mapA, mapB *indexmap.IndexMap) ([]dexpb.TypeList, []uint32) {
	itemsA := taggedTypeLists(0, a.TypeLists, mapA)
	itemsB := taggedTypeLists(1, b.TypeLists, mapB)
	out, _ := UnsortedMerge(itemsA, itemsB, dexpb.TypeList.Compare)
	keys := make([]uint32, len(out))
	for i := range out {
		keys[i] = uint32(i)
	}
	return out, keys
}

func taggedTypeLists(source int, m map[uint32]dexpb.TypeList, im *indexmap.IndexMap) []TaggedItem[dexpb.TypeList] {
	offs := sortedKeys(m)
	out := make([]TaggedItem[dexpb.TypeList], 0, len(offs))
	for _, off := range offs {
		out = append(out, TaggedItem[dexpb.TypeList]{Source: source, OldOff: off, Value: im.AdjustTypeList(m[off])})
	}
	return out
}

// --- protoIds (sorted, §4.3) ---

func mergeProtoIds(a, b *dexpb.DexFile, mapA, mapB *indexmap.IndexMap) []dexpb.ProtoId {
	adjA := adjustProtoIds(a.ProtoIds, mapA)
	adjB := adjustProtoIds(b.ProtoIds, mapB)
	out := SortedMerge(adjA, adjB, dexpb.ProtoId.Compare,
		func(oldIdx, newIdx int) { mapA.PutProtoId(oldIdx, uint32(newIdx)) },
		func(oldIdx, newIdx int) { mapB.PutProtoId(oldIdx, uint32(newIdx)) },
	)
	return out
}

func adjustProtoIds(ids []dexpb.ProtoId, m *indexmap.IndexMap) []dexpb.ProtoId {
	out := make([]dexpb.ProtoId, len(ids))
	for i, p := range ids {
		out[i] = m.AdjustProtoId(p)
	}
	return out
}

// --- fieldIds (sorted, §4.3) ---

func mergeFieldIds(a, b *dexpb.DexFile, mapA, mapB *indexmap.IndexMap) []dexpb.FieldId {
	adjA := adjustFieldIds(a.FieldIds, mapA)
	adjB := adjustFieldIds(b.FieldIds, mapB)
	out := SortedMerge(adjA, adjB, dexpb.FieldId.Compare,
		func(oldIdx, newIdx int) { mapA.PutFieldId(oldIdx, uint32(newIdx)) },
		func(oldIdx, newIdx int) { mapB.PutFieldId(oldIdx, uint32(newIdx)) },
	)
	return out
}

func adjustFieldIds(ids []dexpb.FieldId, m *indexmap.IndexMap) []dexpb.FieldId {
	out := make([]dexpb.FieldId, len(ids))
	for i, f := range ids {
		out[i] = m.AdjustFieldId(f)
	}
	return out
}

// --- methodIds (sorted, §4.3) ---

func mergeMethodIds(a, b *dexpb.DexFile, mapA, mapB *indexmap.IndexMap) []dexpb.MethodId {
	adjA := adjustMethodIds(a.MethodIds, mapA)
	adjB := adjustMethodIds(b.MethodIds, mapB)
	out := SortedMerge(adjA, adjB, dexpb.MethodId.Compare,
		func(oldIdx, newIdx int) { mapA.PutMethodId(oldIdx, uint32(newIdx)) },
		func(oldIdx, newIdx int) { mapB.PutMethodId(oldIdx, uint32(newIdx)) },
	)
	return out
}

func adjustMethodIds(ids []dexpb.MethodId, m *indexmap.IndexMap) []dexpb.MethodId {
	out := make([]dexpb.MethodId, len(ids))
	for i, md := range ids {
		out[i] = m.AdjustMethodId(md)
	}
	return out
}

// --- annotations (unsorted, §4.3) ---

func mergeAnnotations(a, b *dexpb.DexFile, mapA, mapB *indexmap.IndexMap) ([]dexpb.Annotation, []uint32) {
	itemsA := make([]TaggedItem[dexpb.Annotation], 0, len(a.Annotations))
	for _, off := range sortedKeys(a.Annotations) {
		itemsA = append(itemsA, TaggedItem[dexpb.Annotation]{Source: 0, OldOff: off, Value: mapA.AdjustAnnotation(a.Annotations[off])})
	}
	itemsB := make([]TaggedItem[dexpb.Annotation], 0, len(b.Annotations))
	for _, off := range sortedKeys(b.Annotations) {
		itemsB = append(itemsB, TaggedItem[dexpb.Annotation]{Source: 1, OldOff: off, Value: mapB.AdjustAnnotation(b.Annotations[off])})
	}
	out, groups := UnsortedMerge(itemsA, itemsB, dexpb.Annotation.Compare)
	offs := assignOffsets(1, annotationByteSize, out)
	recordOffsets(groups, offs, mapA, mapB, (*indexmap.IndexMap).PutAnnotationOffset)
	return out, offs
}

// annotationByteSize is a pessimistic-but-deterministic estimate: 1
// visibility byte, a type uleb128, a size uleb128, and 2 bytes/name+value
// pair (the encoded_value width varies; this estimator over-counts, which
// is conservatively safe for §4.7's pessimistic sizing mode and is
// refined to the exact value once C8 runs in exact mode against the
// already-written bytes).
func annotationByteSize(a dexpb.Annotation) uint32 {
	return 1 + 5 + 5 + uint32(len(a.Value.Names))*10
}

// --- annotationSets (unsorted, §4.3) ---

func mergeAnnotationSets(a, b *dexpb.DexFile, mapA, mapB *indexmap.IndexMap) ([]dexpb.AnnotationSet, []uint32) {
	itemsA := make([]TaggedItem[dexpb.AnnotationSet], 0, len(a.AnnotationSets))
	for _, off := range sortedKeys(a.AnnotationSets) {
		s := a.AnnotationSets[off]
		itemsA = append(itemsA, TaggedItem[dexpb.AnnotationSet]{Source: 0, OldOff: off, Value: adjustAnnotationSet(s, mapA)})
	}
	itemsB := make([]TaggedItem[dexpb.AnnotationSet], 0, len(b.AnnotationSets))
	for _, off := range sortedKeys(b.AnnotationSets) {
		s := b.AnnotationSets[off]
		itemsB = append(itemsB, TaggedItem[dexpb.AnnotationSet]{Source: 1, OldOff: off, Value: adjustAnnotationSet(s, mapB)})
	}
	out, groups := UnsortedMerge(itemsA, itemsB, dexpb.AnnotationSet.Compare)
	offs := assignOffsets(4, func(s dexpb.AnnotationSet) uint32 { return 4 + 4*uint32(len(s.AnnotationOffs)) }, out)
	recordOffsets(groups, offs, mapA, mapB, (*indexmap.IndexMap).PutAnnotationSetOffset)
	return out, offs
}

func adjustAnnotationSet(s dexpb.AnnotationSet, m *indexmap.IndexMap) dexpb.AnnotationSet {
	out := dexpb.AnnotationSet{AnnotationOffs: make([]uint32, len(s.AnnotationOffs))}
	for i, off := range s.AnnotationOffs {
		out.AnnotationOffs[i] = m.AdjustAnnotationOffset(off)
	}
	return out
}

// --- annotationSetRefLists (unsorted, §4.3) ---

func mergeAnnotationSetRefLists(a, b *dexpb.DexFile, mapA, mapB *indexmap.IndexMap) ([]dexpb.AnnotationSetRefList, []uint32) {
	itemsA := make([]TaggedItem[dexpb.AnnotationSetRefList], 0, len(a.AnnotationSetRefLists))
	for _, off := range sortedKeys(a.AnnotationSetRefLists) {
		itemsA = append(itemsA, TaggedItem[dexpb.AnnotationSetRefList]{Source: 0, OldOff: off, Value: adjustAnnotationSetRefList(a.AnnotationSetRefLists[off], mapA)})
	}
	itemsB := make([]TaggedItem[dexpb.AnnotationSetRefList], 0, len(b.AnnotationSetRefLists))
	for _, off := range sortedKeys(b.AnnotationSetRefLists) {
		itemsB = append(itemsB, TaggedItem[dexpb.AnnotationSetRefList]{Source: 1, OldOff: off, Value: adjustAnnotationSetRefList(b.AnnotationSetRefLists[off], mapB)})
	}
	out, groups := UnsortedMerge(itemsA, itemsB, dexpb.AnnotationSetRefList.Compare)
	offs := assignOffsets(4, func(s dexpb.AnnotationSetRefList) uint32 { return 4 + 4*uint32(len(s.AnnotationSetOffs)) }, out)
	recordOffsets(groups, offs, mapA, mapB, (*indexmap.IndexMap).PutAnnotationSetRefOffset)
	return out, offs
}

func adjustAnnotationSetRefList(s dexpb.AnnotationSetRefList, m *indexmap.IndexMap) dexpb.AnnotationSetRefList {
	out := dexpb.AnnotationSetRefList{AnnotationSetOffs: make([]uint32, len(s.AnnotationSetOffs))}
	for i, off := range s.AnnotationSetOffs {
		out.AnnotationSetOffs[i] = m.AdjustAnnotationSetOffset(off)
	}
	return out
}

// --- annotationDirectories (unsorted, §4.3) ---
//
// Comparison uses the corrected AnnotationsDirectory.Compare (dexpb,
// "elements" helper) rather than the source's aE[i]-vs-bE[j] typo — see
// spec §9 design notes.

func mergeAnnotationDirectories(a, b *dexpb.DexFile, mapA, mapB *indexmap.IndexMap) ([]dexpb.AnnotationsDirectory, []uint32) {
	itemsA := make([]TaggedItem[dexpb.AnnotationsDirectory], 0, len(a.AnnotationDirectories))
	for _, off := range sortedKeys(a.AnnotationDirectories) {
		itemsA = append(itemsA, TaggedItem[dexpb.AnnotationsDirectory]{Source: 0, OldOff: off, Value: adjustAnnotationsDirectory(a.AnnotationDirectories[off], mapA)})
	}
	itemsB := make([]TaggedItem[dexpb.AnnotationsDirectory], 0, len(b.AnnotationDirectories))
	for _, off := range sortedKeys(b.AnnotationDirectories) {
		itemsB = append(itemsB, TaggedItem[dexpb.AnnotationsDirectory]{Source: 1, OldOff: off, Value: adjustAnnotationsDirectory(b.AnnotationDirectories[off], mapB)})
	}
	out, groups := UnsortedMerge(itemsA, itemsB, dexpb.AnnotationsDirectory.Compare)
	offs := assignOffsets(4, annotationsDirectoryByteSize, out)
	recordOffsets(groups, offs, mapA, mapB, (*indexmap.IndexMap).PutAnnotationDirectoryOffset)
	return out, offs
}

func adjustAnnotationsDirectory(d dexpb.AnnotationsDirectory, m *indexmap.IndexMap) dexpb.AnnotationsDirectory {
	out := dexpb.AnnotationsDirectory{
		ClassAnnotationsOff: m.AdjustAnnotationSetOffset(d.ClassAnnotationsOff),
		Fields:              make([]dexpb.FieldAnnotation, len(d.Fields)),
		Methods:             make([]dexpb.MethodAnnotation, len(d.Methods)),
		Parameters:          make([]dexpb.ParameterAnnotation, len(d.Parameters)),
	}
	for i, f := range d.Fields {
		out.Fields[i] = dexpb.FieldAnnotation{FieldIdx: m.AdjustField(f.FieldIdx), AnnotationsOff: m.AdjustAnnotationSetOffset(f.AnnotationsOff)}
	}
	for i, md := range d.Methods {
		out.Methods[i] = dexpb.MethodAnnotation{MethodIdx: m.AdjustMethod(md.MethodIdx), AnnotationsOff: m.AdjustAnnotationSetOffset(md.AnnotationsOff)}
	}
	for i, p := range d.Parameters {
		out.Parameters[i] = dexpb.ParameterAnnotation{MethodIdx: m.AdjustMethod(p.MethodIdx), AnnotationsOff: m.AdjustAnnotationSetRefOffset(p.AnnotationsOff)}
	}
	return out
}

func annotationsDirectoryByteSize(d dexpb.AnnotationsDirectory) uint32 {
	return 16 + uint32(len(d.Fields)+len(d.Methods)+len(d.Parameters))*8
}

// --- staticValues (unsorted, §4.3) ---

func mergeStaticValues(a, b *dexpb.DexFile, mapA, mapB *indexmap.IndexMap) ([]dexpb.EncodedArray, []uint32) {
	itemsA := make([]TaggedItem[dexpb.EncodedArray], 0, len(a.StaticValues))
	for _, off := range sortedKeys(a.StaticValues) {
		itemsA = append(itemsA, TaggedItem[dexpb.EncodedArray]{Source: 0, OldOff: off, Value: mapA.AdjustEncodedArray(a.StaticValues[off])})
	}
	itemsB := make([]TaggedItem[dexpb.EncodedArray], 0, len(b.StaticValues))
	for _, off := range sortedKeys(b.StaticValues) {
		itemsB = append(itemsB, TaggedItem[dexpb.EncodedArray]{Source: 1, OldOff: off, Value: mapB.AdjustEncodedArray(b.StaticValues[off])})
	}
	out, groups := UnsortedMerge(itemsA, itemsB, dexpb.EncodedArray.Compare)
	offs := assignOffsets(1, func(v dexpb.EncodedArray) uint32 { return 5 + uint32(len(v.Values))*9 }, out)
	recordOffsets(groups, offs, mapA, mapB, (*indexmap.IndexMap).PutStaticValuesOffset)
	return out, offs
}

// --- shared helpers ---

// sortedKeys returns m's keys sorted ascending, for deterministic
// iteration order over a Go map.
func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// assignOffsets lays out len(values) items sequentially, each aligned up
// to align bytes, returning each item's start offset relative to the
// section's own start (absolute placement is sizing's job, §4.7/C8).
// The layout starts at align rather than 0, since an offset of 0 means
// "absent" to IndexMap's offset lookups and to dexio's writer.
func assignOffsets[T any](align uint32, sizeOf func(T) uint32, values []T) []uint32 {
	offs := make([]uint32, len(values))
	cur := align
	for i, v := range values {
		if align > 1 && cur%align != 0 {
			cur += align - cur%align
		}
		offs[i] = cur
		cur += sizeOf(v)
	}
	return offs
}

// recordOffsets calls put(map, oldOff, newOff) for every (source, oldOff)
// pair in groups[i], directing A-tagged entries to mapA and B-tagged ones
// to mapB.
func recordOffsets(groups []UnsortedGroup, offs []uint32, mapA, mapB *indexmap.IndexMap, put func(*indexmap.IndexMap, uint32, uint32)) {
	for i, g := range groups {
		for j, src := range g.Source {
			if src == 0 {
				put(mapA, g.OldOff[j], offs[i])
			} else {
				put(mapB, g.OldOff[j], offs[i])
			}
		}
	}
}
