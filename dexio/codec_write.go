// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dexio

import (
	"sort"

	"github.com/grailbio/dexmerge/dexpb"
	"github.com/grailbio/dexmerge/internal/dexhash"
)

// SectionSizes is the real, measured byte length of each variable-width
// data-region section a WriteDexFileSized call produced. dexfile's
// exact-mode sizing pass (§4.7 second pass) is driven by these, not by
// estimation: every count here is bytes actually written, not guessed.
type SectionSizes struct {
	TypeLists             uint64
	Code                  uint64
	ClassData             uint64
	EncodedArrays         uint64
	Annotations           uint64
	AnnotationSets        uint64
	AnnotationSetRefLists uint64
	AnnotationDirectories uint64
	DebugInfo             uint64
}

// WriteDexFile encodes a merged DexFile back into a complete, hashed .dex
// image, discarding the per-section size breakdown WriteDexFileSized
// reports. See WriteDexFileSized for the full doc.
func WriteDexFile(d *dexpb.DexFile) []byte {
	out, _ := WriteDexFileSized(d)
	return out
}

// WriteDexFileSized encodes a merged DexFile back into a complete, hashed
// .dex image: IDs tables first, then the data region in this order:
// type_lists, code_items (each followed by its debug_info_item),
// class_datas, string_datas, encoded_arrays, annotation_items,
// annotation_sets, annotation_set_ref_lists, annotations_directories, and
// finally map_list. This is the writer's own order; it does not follow
// the section-type order the DEX map_list uses. Alongside the
// bytes it returns the real length each variable-width section occupied,
// for dexfile's exact-mode sizing pass (§4.7).
// Structurally-identical sub-records (an interfaces type_list shared by
// two classes, for instance) are written once and referenced by offset,
// deduped by their encoded bytes at write time.
func WriteDexFileSized(d *dexpb.DexFile) ([]byte, SectionSizes) {
	w := &dexWriter{
		buf:          NewWriter(),
		typeListOffs: map[string]uint32{},
		dirOffs:      map[string]uint32{},
		setOffs:      map[string]uint32{},
		refOffs:      map[string]uint32{},
	}

	headerSize := uint32(dexpb.HeaderSizeBytes)
	stringIdsOff := headerSize
	stringIdsSize := uint32(len(d.StringData))
	typeIdsOff := stringIdsOff + 4*stringIdsSize
	typeIdsSize := uint32(len(d.TypeIds))
	protoIdsOff := typeIdsOff + 4*typeIdsSize
	protoIdsSize := uint32(len(d.ProtoIds))
	fieldIdsOff := protoIdsOff + 12*protoIdsSize
	fieldIdsSize := uint32(len(d.FieldIds))
	methodIdsOff := fieldIdsOff + 8*fieldIdsSize
	methodIdsSize := uint32(len(d.MethodIds))
	classDefsOff := methodIdsOff + 8*methodIdsSize
	var classDefCount uint32
	for _, cd := range d.ClassDefs {
		if cd != nil {
			classDefCount++
		}
	}
	classDefsSize := classDefCount
	dataOff := align4(classDefsOff + 32*classDefsSize)

	// w.buf is pre-padded to dataOff so every offset recorded below via
	// w.buf.Len() is already an absolute file offset; the padding is
	// stripped back off when the data region is appended to final.
	w.buf.PutRawBytes(make([]byte, int(dataOff)))

	// type_lists: every proto's Parameters and every class_def's Interfaces.
	for _, p := range d.ProtoIds {
		w.writeTypeListDeduped(dexpb.TypeList{Types: p.Parameters})
	}
	for _, cd := range d.ClassDefs {
		if cd == nil {
			continue
		}
		w.writeTypeListDeduped(cd.Interfaces)
	}

	// code_items, written before class_data since class_data's
	// encoded_method entries reference code by absolute offset.
	directCodeOffs := make([][]uint32, len(d.ClassDefs))
	virtualCodeOffs := make([][]uint32, len(d.ClassDefs))
	for i, cd := range d.ClassDefs {
		if cd == nil {
			continue
		}
		directCodeOffs[i] = w.writeCodeItems(cd.ClassData.DirectMethods)
		virtualCodeOffs[i] = w.writeCodeItems(cd.ClassData.VirtualMethods)
	}

	// class_data, now that every method's code_off is known.
	classDataOffs := make([]uint32, len(d.ClassDefs))
	for i, cd := range d.ClassDefs {
		if cd == nil {
			continue
		}
		classDataOffs[i] = uint32(w.buf.Len())
		w.writeClassData(cd.ClassData, directCodeOffs[i], virtualCodeOffs[i])
	}

	// string_data, in index order (string ids are already sorted by
	// content coming out of the merge phase, §4.3).
	stringDataOffs := make([]uint32, len(d.StringData))
	for i, s := range d.StringData {
		stringDataOffs[i] = uint32(w.buf.Len())
		w.buf.PutUleb128(uint32(len(s))) // utf16_size approximated by byte length
		w.buf.PutRawBytes(s)
		w.buf.PutUint8(0)
	}

	// encoded_arrays (static values).
	staticValuesOffs := make([]uint32, len(d.ClassDefs))
	for i, cd := range d.ClassDefs {
		if cd == nil || len(cd.StaticValues.Values) == 0 {
			continue
		}
		staticValuesOffs[i] = w.writeEncodedArray(cd.StaticValues)
	}

	// annotation_items, annotation_sets and annotation_set_ref_lists are
	// keyed in d by the merge-time offset space assignOffsets produced
	// (§4.2); rewrite them to real absolute output offsets before the
	// annotations_directories that reference them.
	annotationOffRemap := w.writeAnnotations(d.Annotations)
	annotationSetOffRemap := w.writeAnnotationSets(d.AnnotationSets, annotationOffRemap)
	annotationSetRefListOffRemap := w.writeAnnotationSetRefLists(d.AnnotationSetRefLists, annotationSetOffRemap)

	dirOffs := make([]uint32, len(d.ClassDefs))
	for i, cd := range d.ClassDefs {
		if cd == nil {
			continue
		}
		dir := remapAnnotationsDirectory(cd.Annotations, annotationSetOffRemap, annotationSetRefListOffRemap)
		dirOffs[i] = w.writeAnnotationsDirectoryDeduped(dir)
	}

	endOfData := uint32(w.buf.Len())

	// Pass 2: write the fixed-width ID tables and class_defs table, now
	// that every referenced sub-record has an absolute offset.
	final := NewWriter()
	var hdr dexpb.Header
	hdr.Magic = [8]byte{'d', 'e', 'x', '\n', '0', '3', '7', 0}
	hdr.EndianTag = dexpb.EndianTag
	hdr.HeaderSize = headerSize
	hdr.StringIdsOff, hdr.StringIdsSize = stringIdsOff, stringIdsSize
	hdr.TypeIdsOff, hdr.TypeIdsSize = typeIdsOff, typeIdsSize
	hdr.ProtoIdsOff, hdr.ProtoIdsSize = protoIdsOff, protoIdsSize
	hdr.FieldIdsOff, hdr.FieldIdsSize = fieldIdsOff, fieldIdsSize
	hdr.MethodIdsOff, hdr.MethodIdsSize = methodIdsOff, methodIdsSize
	hdr.ClassDefsOff, hdr.ClassDefsSize = classDefsOff, classDefsSize
	hdr.DataOff = dataOff
	hdr.DataSize = endOfData - dataOff

	final.PutRawBytes(hdr.Magic[:])
	final.PutUint32(0)                  // checksum, backpatched below
	final.PutRawBytes(make([]byte, 20)) // signature, backpatched below
	final.PutUint32(0)                  // file_size, backpatched below
	final.PutUint32(hdr.HeaderSize)
	final.PutUint32(hdr.EndianTag)
	final.PutUint32(hdr.LinkSize)
	final.PutUint32(hdr.LinkOff)
	mapOffPos := final.Len()
	final.PutUint32(0) // map_off, backpatched below
	final.PutUint32(hdr.StringIdsSize)
	final.PutUint32(hdr.StringIdsOff)
	final.PutUint32(hdr.TypeIdsSize)
	final.PutUint32(hdr.TypeIdsOff)
	final.PutUint32(hdr.ProtoIdsSize)
	final.PutUint32(hdr.ProtoIdsOff)
	final.PutUint32(hdr.FieldIdsSize)
	final.PutUint32(hdr.FieldIdsOff)
	final.PutUint32(hdr.MethodIdsSize)
	final.PutUint32(hdr.MethodIdsOff)
	final.PutUint32(hdr.ClassDefsSize)
	final.PutUint32(hdr.ClassDefsOff)
	final.PutUint32(hdr.DataSize)
	final.PutUint32(hdr.DataOff)

	for _, off := range stringDataOffs {
		final.PutUint32(off)
	}
	for _, t := range d.TypeIds {
		final.PutUint32(uint32(t.DescriptorIdx))
	}
	for _, p := range d.ProtoIds {
		final.PutUint32(uint32(p.ShortyIdx))
		final.PutUint32(uint32(p.ReturnTypeIdx))
		final.PutUint32(w.typeListOffOf(dexpb.TypeList{Types: p.Parameters}))
	}
	for _, f := range d.FieldIds {
		final.PutUint16(uint16(f.ClassIdx))
		final.PutUint16(uint16(f.TypeIdx))
		final.PutUint32(uint32(f.NameIdx))
	}
	for _, m := range d.MethodIds {
		final.PutUint16(uint16(m.ClassIdx))
		final.PutUint16(uint16(m.ProtoIdx))
		final.PutUint32(uint32(m.NameIdx))
	}
	for i, cd := range d.ClassDefs {
		if cd == nil {
			continue
		}
		final.PutUint32(uint32(cd.ClassIdx))
		final.PutUint32(cd.AccessFlags)
		final.PutUint32(orNoIndexMax(cd.SuperclassIdx))
		final.PutUint32(w.typeListOffOf(cd.Interfaces))
		final.PutUint32(orNoIndexMax(cd.SourceFileIdx))
		final.PutUint32(dirOffs[i])
		final.PutUint32(classDataOffs[i])
		final.PutUint32(staticValuesOffs[i])
	}

	// Strip w.buf's leading dataOff bytes of padding and append the real
	// data region the offsets above already point into.
	final.PutRawBytes(w.buf.Bytes()[dataOff:])

	mapOff := uint32(final.Len())
	writeMapList(final, hdr, mapOff)
	patchUint32(final, mapOffPos, mapOff)

	out := final.Bytes()

	fileSize := uint32(len(out))
	patchUint32FromBytes(out, 32, fileSize)

	sig := dexhash.Signature(out[dexhash.SignatureOffset:])
	copy(out[8+4:8+4+20], sig[:])
	checksum := dexhash.Checksum(out[dexhash.ChecksumOffset:])
	patchUint32FromBytes(out, 8, checksum)

	return out, w.sizes
}

func align4(v uint32) uint32 { return (v + 3) &^ 3 }

func orNoIndexMax(v int32) uint32 {
	if v == dexpb.NoIndex {
		return 0xFFFFFFFF
	}
	return uint32(v)
}

func patchUint32(w *ByteBuffer, pos int, v uint32) {
	b := w.Bytes()
	b[pos], b[pos+1], b[pos+2], b[pos+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}

func patchUint32FromBytes(b []byte, pos int, v uint32) {
	b[pos], b[pos+1], b[pos+2], b[pos+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}

// dexWriter accumulates the data region and dedups structurally-identical
// sub-records by their encoded byte content.
type dexWriter struct {
	buf          *ByteBuffer
	typeListOffs map[string]uint32
	dirOffs      map[string]uint32
	setOffs      map[string]uint32
	refOffs      map[string]uint32
	sizes        SectionSizes
}

func (w *dexWriter) writeTypeListDeduped(t dexpb.TypeList) uint32 {
	if len(t.Types) == 0 {
		return 0
	}
	key := encodeTypeListKey(t)
	if off, ok := w.typeListOffs[key]; ok {
		return off
	}
	w.buf.AlignUp(4)
	off := uint32(w.buf.Len())
	w.buf.PutUint32(uint32(len(t.Types)))
	for _, ty := range t.Types {
		w.buf.PutUint16(uint16(ty))
	}
	w.typeListOffs[key] = off
	w.sizes.TypeLists += uint64(w.buf.Len()) - uint64(off)
	return off
}

func (w *dexWriter) typeListOffOf(t dexpb.TypeList) uint32 {
	if len(t.Types) == 0 {
		return 0
	}
	return w.typeListOffs[encodeTypeListKey(t)]
}

func encodeTypeListKey(t dexpb.TypeList) string {
	b := make([]byte, len(t.Types)*4)
	for i, ty := range t.Types {
		b[i*4] = byte(ty)
		b[i*4+1] = byte(ty >> 8)
		b[i*4+2] = byte(ty >> 16)
		b[i*4+3] = byte(ty >> 24)
	}
	return string(b)
}

// writeAnnotations writes one annotation_item per entry of anns (keyed
// by its merge-time offset) and returns the old-offset -> new-absolute-
// offset remap, iterated in key order for deterministic output.
func (w *dexWriter) writeAnnotations(anns map[uint32]dexpb.Annotation) map[uint32]uint32 {
	remap := make(map[uint32]uint32, len(anns))
	for _, oldOff := range sortedKeys(anns) {
		off := uint32(w.buf.Len())
		w.buf.PutUint8(uint8(anns[oldOff].Visibility))
		writeEncodedAnnotation(w.buf, anns[oldOff].Value)
		remap[oldOff] = off
		w.sizes.Annotations += uint64(w.buf.Len()) - uint64(off)
	}
	return remap
}

// writeAnnotationSets writes one annotation_set_item per entry of sets,
// translating each member annotation offset through annotationRemap,
// and returns the old-offset -> new-absolute-offset remap.
func (w *dexWriter) writeAnnotationSets(sets map[uint32]dexpb.AnnotationSet, annotationRemap map[uint32]uint32) map[uint32]uint32 {
	remap := make(map[uint32]uint32, len(sets))
	for _, oldOff := range sortedKeys(sets) {
		s := sets[oldOff]
		translated := make([]uint32, len(s.AnnotationOffs))
		for i, o := range s.AnnotationOffs {
			translated[i] = annotationRemap[o]
		}
		remap[oldOff] = w.writeAnnotationSetDeduped(translated)
	}
	return remap
}

// writeAnnotationSetRefLists writes one annotation_set_ref_list per
// entry of lists, translating each member set offset through
// setRemap (0 entries, meaning "no annotations for this parameter",
// pass through unchanged), and returns the offset remap. Lists that are
// identical after translation are written once and share one offset.
func (w *dexWriter) writeAnnotationSetRefLists(lists map[uint32]dexpb.AnnotationSetRefList, setRemap map[uint32]uint32) map[uint32]uint32 {
	remap := make(map[uint32]uint32, len(lists))
	for _, oldOff := range sortedKeys(lists) {
		l := lists[oldOff]
		translated := make([]uint32, len(l.AnnotationSetOffs))
		for i, o := range l.AnnotationSetOffs {
			if o != 0 {
				translated[i] = setRemap[o]
			}
		}
		key := encodeU32SliceKey(translated)
		if off, ok := w.refOffs[key]; ok {
			remap[oldOff] = off
			continue
		}
		w.buf.AlignUp(4)
		off := uint32(w.buf.Len())
		w.buf.PutUint32(uint32(len(translated)))
		for _, o := range translated {
			w.buf.PutUint32(o)
		}
		w.refOffs[key] = off
		remap[oldOff] = off
		w.sizes.AnnotationSetRefLists += uint64(w.buf.Len()) - uint64(off)
	}
	return remap
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (w *dexWriter) writeAnnotationSetDeduped(offs []uint32) uint32 {
	if len(offs) == 0 {
		return 0
	}
	key := encodeU32SliceKey(offs)
	if off, ok := w.setOffs[key]; ok {
		return off
	}
	w.buf.AlignUp(4)
	off := uint32(w.buf.Len())
	w.buf.PutUint32(uint32(len(offs)))
	for _, o := range offs {
		w.buf.PutUint32(o)
	}
	w.setOffs[key] = off
	w.sizes.AnnotationSets += uint64(w.buf.Len()) - uint64(off)
	return off
}

func encodeU32SliceKey(vs []uint32) string {
	b := make([]byte, len(vs)*4)
	for i, v := range vs {
		b[i*4] = byte(v)
		b[i*4+1] = byte(v >> 8)
		b[i*4+2] = byte(v >> 16)
		b[i*4+3] = byte(v >> 24)
	}
	return string(b)
}

// remapAnnotationsDirectory rewrites dir's merge-time offsets
// (ClassAnnotationsOff, and each FieldAnnotation/MethodAnnotation's
// AnnotationsOff into annotation_set space, each ParameterAnnotation's
// AnnotationsOff into annotation_set_ref_list space) to the absolute
// positions writeAnnotationSets/writeAnnotationSetRefLists just assigned.
func remapAnnotationsDirectory(dir dexpb.AnnotationsDirectory, setRemap, refListRemap map[uint32]uint32) dexpb.AnnotationsDirectory {
	out := dexpb.AnnotationsDirectory{}
	if dir.ClassAnnotationsOff != 0 {
		out.ClassAnnotationsOff = setRemap[dir.ClassAnnotationsOff]
	}
	for _, f := range dir.Fields {
		out.Fields = append(out.Fields, dexpb.FieldAnnotation{
			FieldIdx:       f.FieldIdx,
			AnnotationsOff: setRemap[f.AnnotationsOff],
		})
	}
	for _, m := range dir.Methods {
		out.Methods = append(out.Methods, dexpb.MethodAnnotation{
			MethodIdx:      m.MethodIdx,
			AnnotationsOff: setRemap[m.AnnotationsOff],
		})
	}
	for _, p := range dir.Parameters {
		out.Parameters = append(out.Parameters, dexpb.ParameterAnnotation{
			MethodIdx:      p.MethodIdx,
			AnnotationsOff: refListRemap[p.AnnotationsOff],
		})
	}
	return out
}

func (w *dexWriter) writeAnnotationsDirectoryDeduped(d dexpb.AnnotationsDirectory) uint32 {
	if len(d.Fields) == 0 && len(d.Methods) == 0 && len(d.Parameters) == 0 && d.ClassAnnotationsOff == 0 {
		return 0
	}
	key := encodeDirKey(d)
	if off, ok := w.dirOffs[key]; ok {
		return off
	}
	// d.ClassAnnotationsOff already names an absolute, freshly written
	// annotation_set_item offset (or 0) by the time this is called; see
	// remapAnnotationsDirectory.
	classSetOff := d.ClassAnnotationsOff
	fields := append([]dexpb.FieldAnnotation(nil), d.Fields...)
	sort.Slice(fields, func(i, j int) bool { return fields[i].FieldIdx < fields[j].FieldIdx })
	methods := append([]dexpb.MethodAnnotation(nil), d.Methods...)
	sort.Slice(methods, func(i, j int) bool { return methods[i].MethodIdx < methods[j].MethodIdx })
	params := append([]dexpb.ParameterAnnotation(nil), d.Parameters...)
	sort.Slice(params, func(i, j int) bool { return params[i].MethodIdx < params[j].MethodIdx })

	w.buf.AlignUp(4)
	off := uint32(w.buf.Len())
	w.buf.PutUint32(classSetOff)
	w.buf.PutUint32(uint32(len(fields)))
	w.buf.PutUint32(uint32(len(methods)))
	w.buf.PutUint32(uint32(len(params)))
	for _, f := range fields {
		w.buf.PutUint32(uint32(f.FieldIdx))
		w.buf.PutUint32(f.AnnotationsOff)
	}
	for _, m := range methods {
		w.buf.PutUint32(uint32(m.MethodIdx))
		w.buf.PutUint32(m.AnnotationsOff)
	}
	for _, p := range params {
		w.buf.PutUint32(uint32(p.MethodIdx))
		w.buf.PutUint32(p.AnnotationsOff)
	}
	w.dirOffs[key] = off
	w.sizes.AnnotationDirectories += uint64(w.buf.Len()) - uint64(off)
	return off
}

func encodeDirKey(d dexpb.AnnotationsDirectory) string {
	var b []byte
	put32 := func(v uint32) {
		b = append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	put32(d.ClassAnnotationsOff)
	for _, f := range d.Fields {
		put32(uint32(f.FieldIdx))
		put32(f.AnnotationsOff)
	}
	for _, m := range d.Methods {
		put32(uint32(m.MethodIdx))
		put32(m.AnnotationsOff)
	}
	for _, p := range d.Parameters {
		put32(uint32(p.MethodIdx))
		put32(p.AnnotationsOff)
	}
	return string(b)
}

func (w *dexWriter) writeEncodedArray(a dexpb.EncodedArray) uint32 {
	off := uint32(w.buf.Len())
	w.buf.PutUleb128(uint32(len(a.Values)))
	for _, v := range a.Values {
		writeEncodedValue(w.buf, v)
	}
	w.sizes.EncodedArrays += uint64(w.buf.Len()) - uint64(off)
	return off
}

// writeCodeItems writes one code_item per method that has code and
// returns, in the same order as ms, each method's absolute code_off (0
// for a method with no code, e.g. an abstract or native method).
func (w *dexWriter) writeCodeItems(ms []dexpb.EncodedMethod) []uint32 {
	offs := make([]uint32, len(ms))
	for i, m := range ms {
		if m.Code == nil {
			continue
		}
		w.buf.AlignUp(4)
		start := uint32(w.buf.Len())
		offs[i] = start
		debugBefore := w.sizes.DebugInfo
		w.writeCodeItem(*m.Code)
		span := uint64(w.buf.Len()) - uint64(start)
		w.sizes.Code += span - (w.sizes.DebugInfo - debugBefore)
	}
	return offs
}

func (w *dexWriter) writeClassData(cd dexpb.ClassData, directCodeOffs, virtualCodeOffs []uint32) {
	start := uint32(w.buf.Len())
	w.buf.PutUleb128(uint32(len(cd.StaticFields)))
	w.buf.PutUleb128(uint32(len(cd.InstanceFields)))
	w.buf.PutUleb128(uint32(len(cd.DirectMethods)))
	w.buf.PutUleb128(uint32(len(cd.VirtualMethods)))
	writeEncodedFields(w.buf, cd.StaticFields)
	writeEncodedFields(w.buf, cd.InstanceFields)
	writeEncodedMethods(w.buf, cd.DirectMethods, directCodeOffs)
	writeEncodedMethods(w.buf, cd.VirtualMethods, virtualCodeOffs)
	w.sizes.ClassData += uint64(w.buf.Len()) - uint64(start)
}

func writeEncodedFields(w *ByteBuffer, fs []dexpb.EncodedField) {
	var prev int32
	for _, f := range fs {
		w.PutUleb128(uint32(f.FieldIdx - prev))
		prev = f.FieldIdx
		w.PutUleb128(f.AccessFlags)
	}
}

func writeEncodedMethods(w *ByteBuffer, ms []dexpb.EncodedMethod, codeOffs []uint32) {
	var prev int32
	for i, m := range ms {
		w.PutUleb128(uint32(m.MethodIdx - prev))
		prev = m.MethodIdx
		w.PutUleb128(m.AccessFlags)
		w.PutUleb128(codeOffs[i])
	}
}

func (w *dexWriter) writeCodeItem(c dexpb.CodeItem) {
	w.buf.PutUint16(c.RegistersSize)
	w.buf.PutUint16(c.InsSize)
	w.buf.PutUint16(c.OutsSize)
	w.buf.PutUint16(uint16(len(c.Tries)))
	debugOffPos := w.buf.Len()
	w.buf.PutUint32(0)
	w.buf.PutUint32(uint32(len(c.Insns)))
	for _, insn := range c.Insns {
		w.buf.PutUint16(insn)
	}
	if len(c.Tries) > 0 && len(c.Insns)%2 != 0 {
		w.buf.PutUint16(0)
	}
	if len(c.Tries) > 0 {
		for _, t := range c.Tries {
			w.buf.PutUint32(t.StartAddr)
			w.buf.PutUint16(t.InsnCount)
			w.buf.PutUint16(t.HandlerOff)
		}
		w.buf.PutUleb128(uint32(len(c.Handlers)))
		for _, h := range c.Handlers {
			n := int32(len(h.Handlers))
			if h.HasCatchAll {
				w.buf.PutSleb128(-n)
			} else {
				w.buf.PutSleb128(n)
			}
			for _, p := range h.Handlers {
				w.buf.PutUleb128(uint32(p.TypeIdx))
				w.buf.PutUleb128(p.Addr)
			}
			if h.HasCatchAll {
				w.buf.PutUleb128(h.CatchAllAddr)
			}
		}
	}
	if c.DebugInfo != nil {
		debugOff := uint32(w.buf.Len())
		patchUint32(w.buf, debugOffPos, debugOff)
		w.buf.PutUleb128(c.DebugInfo.LineStart)
		w.buf.PutUleb128(uint32(len(c.DebugInfo.ParameterNames)))
		for _, p := range c.DebugInfo.ParameterNames {
			w.buf.PutUleb128p1(p)
		}
		w.buf.PutRawBytes(c.DebugInfo.Bytecode) // ends with its own DBG_END_SEQUENCE
		w.sizes.DebugInfo += uint64(w.buf.Len()) - uint64(debugOff)
	}
}

func writeEncodedValue(w *ByteBuffer, v dexpb.EncodedValue) {
	switch v.Type {
	case 0x1c:
		w.PutUint8(0x1c)
		w.PutUleb128(uint32(len(v.Array)))
		for _, e := range v.Array {
			writeEncodedValue(w, e)
		}
	case 0x1d:
		w.PutUint8(0x1d)
		writeEncodedAnnotation(w, *v.Annotation)
	case 0x1e, 0x1f:
		w.PutUint8(v.Type)
	case 0x17:
		writeVarWidthValue(w, v.Type, uint64(v.StringIdx))
	case 0x18:
		writeVarWidthValue(w, v.Type, uint64(v.TypeIdx))
	case 0x19:
		writeVarWidthValue(w, v.Type, uint64(v.FieldIdx))
	case 0x1a:
		writeVarWidthValue(w, v.Type, uint64(v.MethodIdx))
	case 0x1b:
		writeVarWidthValue(w, v.Type, uint64(v.FieldIdx))
	default:
		writeVarWidthValue(w, v.Type, uint64(v.IntValue))
	}
}

// writeVarWidthValue writes the minimal little-endian byte count needed
// to hold value, encoding (size-1) into the tag's high 3 bits per the
// encoded_value format.
func writeVarWidthValue(w *ByteBuffer, valueType byte, value uint64) {
	n := 1
	for n < 8 && (value>>(uint(n)*8)) != 0 {
		n++
	}
	tag := valueType | byte(n-1)<<5
	w.PutUint8(tag)
	for i := 0; i < n; i++ {
		w.PutUint8(byte(value >> (uint(i) * 8)))
	}
}

func writeEncodedAnnotation(w *ByteBuffer, a dexpb.EncodedAnnotation) {
	w.PutUleb128(uint32(a.TypeIdx))
	w.PutUleb128(uint32(len(a.Names)))
	for i, n := range a.Names {
		w.PutUleb128(uint32(n))
		writeEncodedValue(w, a.Values[i])
	}
}

// writeMapList appends the trailing map_list (§6), located at mapOff:
// one entry for the header, one per non-empty id-table section, and one
// for the map_list itself, in ascending offset order per the format's
// own requirement. The variable-length data-region sections
// (type_lists, code_items, ...) are omitted here since this writer does
// not track their individual item counts separately from the byte
// region they occupy; a reader locates them via the class_def/proto_id
// offsets that already point into that region.
func writeMapList(w *ByteBuffer, h dexpb.Header, mapOff uint32) {
	type entry struct {
		typ dexpb.MapItemType
		off uint32
		sz  uint32
	}
	entries := []entry{
		{dexpb.TypeHeaderItem, 0, 1},
		{dexpb.TypeStringIdItem, h.StringIdsOff, h.StringIdsSize},
		{dexpb.TypeTypeIdItem, h.TypeIdsOff, h.TypeIdsSize},
		{dexpb.TypeProtoIdItem, h.ProtoIdsOff, h.ProtoIdsSize},
		{dexpb.TypeFieldIdItem, h.FieldIdsOff, h.FieldIdsSize},
		{dexpb.TypeMethodIdItem, h.MethodIdsOff, h.MethodIdsSize},
		{dexpb.TypeClassDefItem, h.ClassDefsOff, h.ClassDefsSize},
		{dexpb.TypeMapList, mapOff, 1},
	}
	var nonEmpty []entry
	for _, e := range entries {
		if e.sz > 0 {
			nonEmpty = append(nonEmpty, e)
		}
	}
	w.PutUint32(uint32(len(nonEmpty)))
	for _, e := range nonEmpty {
		w.PutUint16(uint16(e.typ))
		w.PutUint16(0)
		w.PutUint32(e.sz)
		w.PutUint32(e.off)
	}
}
