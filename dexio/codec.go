// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dexio

import (
	"github.com/grailbio/base/errors"
	"github.com/grailbio/dexmerge/dexpb"
)

// ReadDexFile decodes a complete .dex image into the structured form
// every merge phase operates on. Its job is the "concrete record
// parser" spec.md §1 names as an external collaborator kept out of the
// merge algorithm's own scope; ByteBuffer's LEB128/alignment primitives
// are the one piece of that collaborator this tree owns directly (C1).
func ReadDexFile(data []byte) (*dexpb.DexFile, error) {
	if len(data) < dexpb.HeaderSizeBytes {
		return nil, errors.E("dexio: file shorter than header")
	}
	r := NewReader(data)
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	d := &dexpb.DexFile{Header: h}

	stringOffs := make([]uint32, h.StringIdsSize)
	r.Seek(h.StringIdsOff)
	for i := range stringOffs {
		stringOffs[i] = r.Uint32()
	}
	d.StringData = make([][]byte, len(stringOffs))
	for i, off := range stringOffs {
		r.Seek(off)
		utf16Size := r.Uleb128()
		_ = utf16Size
		start := r.Tell()
		for r.Uint8() != 0 {
		}
		end := r.Tell() - 1
		r.Seek(start)
		d.StringData[i] = r.RawBytes(int(end - start))
	}

	d.TypeIds = make([]dexpb.TypeId, h.TypeIdsSize)
	r.Seek(h.TypeIdsOff)
	for i := range d.TypeIds {
		d.TypeIds[i] = dexpb.TypeId{DescriptorIdx: int32(r.Uint32())}
	}

	typeListCache := map[uint32]dexpb.TypeList{}
	readTypeList := func(off uint32) dexpb.TypeList {
		if off == 0 {
			return dexpb.TypeList{}
		}
		if tl, ok := typeListCache[off]; ok {
			return tl
		}
		r.Seek(off)
		size := r.Uint32()
		tl := dexpb.TypeList{Types: make([]int32, size)}
		for i := range tl.Types {
			tl.Types[i] = int32(r.Uint16())
		}
		typeListCache[off] = tl
		d.TypeLists[off] = tl
		return tl
	}
	d.TypeLists = map[uint32]dexpb.TypeList{}

	d.ProtoIds = make([]dexpb.ProtoId, h.ProtoIdsSize)
	r.Seek(h.ProtoIdsOff)
	for i := range d.ProtoIds {
		d.ProtoIds[i] = dexpb.ProtoId{
			ShortyIdx:     int32(r.Uint32()),
			ReturnTypeIdx: int32(r.Uint32()),
			ParametersOff: r.Uint32(),
		}
	}
	for i := range d.ProtoIds {
		d.ProtoIds[i].Parameters = readTypeList(d.ProtoIds[i].ParametersOff).Types
	}

	d.FieldIds = make([]dexpb.FieldId, h.FieldIdsSize)
	r.Seek(h.FieldIdsOff)
	for i := range d.FieldIds {
		d.FieldIds[i] = dexpb.FieldId{
			ClassIdx: int32(r.Uint16()),
			TypeIdx:  int32(r.Uint16()),
			NameIdx:  int32(r.Uint32()),
		}
	}

	d.MethodIds = make([]dexpb.MethodId, h.MethodIdsSize)
	r.Seek(h.MethodIdsOff)
	for i := range d.MethodIds {
		d.MethodIds[i] = dexpb.MethodId{
			ClassIdx: int32(r.Uint16()),
			ProtoIdx: int32(r.Uint16()),
			NameIdx:  int32(r.Uint32()),
		}
	}

	d.Annotations = map[uint32]dexpb.Annotation{}
	d.AnnotationSets = map[uint32]dexpb.AnnotationSet{}
	d.AnnotationSetRefLists = map[uint32]dexpb.AnnotationSetRefList{}
	d.AnnotationDirectories = map[uint32]dexpb.AnnotationsDirectory{}
	d.StaticValues = map[uint32]dexpb.EncodedArray{}

	readAnnotation := func(off uint32) dexpb.Annotation {
		if a, ok := d.Annotations[off]; ok {
			return a
		}
		r.Seek(off)
		vis := dexpb.AnnotationVisibility(r.Uint8())
		ea := readEncodedAnnotation(r)
		a := dexpb.Annotation{Visibility: vis, Value: ea}
		d.Annotations[off] = a
		return a
	}
	readAnnotationSet := func(off uint32) dexpb.AnnotationSet {
		if off == 0 {
			return dexpb.AnnotationSet{}
		}
		if s, ok := d.AnnotationSets[off]; ok {
			return s
		}
		r.Seek(off)
		size := r.Uint32()
		s := dexpb.AnnotationSet{AnnotationOffs: make([]uint32, size)}
		for i := range s.AnnotationOffs {
			aOff := r.Uint32()
			s.AnnotationOffs[i] = aOff
			readAnnotation(aOff)
		}
		d.AnnotationSets[off] = s
		return s
	}
	readAnnotationSetRefList := func(off uint32) dexpb.AnnotationSetRefList {
		if off == 0 {
			return dexpb.AnnotationSetRefList{}
		}
		if s, ok := d.AnnotationSetRefLists[off]; ok {
			return s
		}
		r.Seek(off)
		size := r.Uint32()
		s := dexpb.AnnotationSetRefList{AnnotationSetOffs: make([]uint32, size)}
		for i := range s.AnnotationSetOffs {
			setOff := r.Uint32()
			s.AnnotationSetOffs[i] = setOff
			readAnnotationSet(setOff)
		}
		d.AnnotationSetRefLists[off] = s
		return s
	}
	readAnnotationsDirectory := func(off uint32) dexpb.AnnotationsDirectory {
		if off == 0 {
			return dexpb.AnnotationsDirectory{}
		}
		if ad, ok := d.AnnotationDirectories[off]; ok {
			return ad
		}
		r.Seek(off)
		classOff := r.Uint32()
		fieldsSize := r.Uint32()
		methodsSize := r.Uint32()
		parametersSize := r.Uint32()
		ad := dexpb.AnnotationsDirectory{ClassAnnotationsOff: classOff}
		readAnnotationSet(classOff)
		for i := uint32(0); i < fieldsSize; i++ {
			fIdx := int32(r.Uint32())
			aOff := r.Uint32()
			readAnnotationSet(aOff)
			ad.Fields = append(ad.Fields, dexpb.FieldAnnotation{FieldIdx: fIdx, AnnotationsOff: aOff})
		}
		for i := uint32(0); i < methodsSize; i++ {
			mIdx := int32(r.Uint32())
			aOff := r.Uint32()
			readAnnotationSet(aOff)
			ad.Methods = append(ad.Methods, dexpb.MethodAnnotation{MethodIdx: mIdx, AnnotationsOff: aOff})
		}
		for i := uint32(0); i < parametersSize; i++ {
			mIdx := int32(r.Uint32())
			rOff := r.Uint32()
			readAnnotationSetRefList(rOff)
			ad.Parameters = append(ad.Parameters, dexpb.ParameterAnnotation{MethodIdx: mIdx, AnnotationsOff: rOff})
		}
		d.AnnotationDirectories[off] = ad
		return ad
	}
	readStaticValues := func(off uint32) dexpb.EncodedArray {
		if off == 0 {
			return dexpb.EncodedArray{}
		}
		if ea, ok := d.StaticValues[off]; ok {
			return ea
		}
		r.Seek(off)
		ea := readEncodedArray(r)
		d.StaticValues[off] = ea
		return ea
	}

	d.ClassDefs = make([]*dexpb.ClassDef, h.TypeIdsSize)
	r.Seek(h.ClassDefsOff)
	type classDefRaw struct {
		classIdx, accessFlags, superclassIdx, interfacesOff uint32
		sourceFileIdx, annotationsOff, classDataOff, staticValuesOff uint32
	}
	raws := make([]classDefRaw, h.ClassDefsSize)
	for i := range raws {
		raws[i] = classDefRaw{
			classIdx:        r.Uint32(),
			accessFlags:     r.Uint32(),
			superclassIdx:   r.Uint32(),
			interfacesOff:   r.Uint32(),
			sourceFileIdx:   r.Uint32(),
			annotationsOff:  r.Uint32(),
			classDataOff:    r.Uint32(),
			staticValuesOff: r.Uint32(),
		}
	}
	for _, raw := range raws {
		cd := &dexpb.ClassDef{
			ClassIdx:        int32(raw.classIdx),
			SuperclassIdx:   noIndexIfMax(raw.superclassIdx),
			SourceFileIdx:   noIndexIfMax(raw.sourceFileIdx),
			AccessFlags:     raw.accessFlags,
			InterfacesOff:   raw.interfacesOff,
			AnnotationsOff:  raw.annotationsOff,
			ClassDataOff:    raw.classDataOff,
			StaticValuesOff: raw.staticValuesOff,
			Interfaces:      readTypeList(raw.interfacesOff),
			Annotations:     readAnnotationsDirectory(raw.annotationsOff),
			StaticValues:    readStaticValues(raw.staticValuesOff),
		}
		if raw.classDataOff != 0 {
			r.Seek(raw.classDataOff)
			cd.ClassData = readClassData(r)
		}
		d.ClassDefs[raw.classIdx] = cd
	}

	return d, nil
}

func noIndexIfMax(v uint32) int32 {
	if v == 0xFFFFFFFF {
		return dexpb.NoIndex
	}
	return int32(v)
}

func readHeader(r *ByteBuffer) (dexpb.Header, error) {
	var h dexpb.Header
	copy(h.Magic[:], r.RawBytes(8))
	h.Checksum = r.Uint32()
	copy(h.Signature[:], r.RawBytes(20))
	h.FileSize = r.Uint32()
	h.HeaderSize = r.Uint32()
	h.EndianTag = r.Uint32()
	h.LinkSize = r.Uint32()
	h.LinkOff = r.Uint32()
	h.MapOff = r.Uint32()
	h.StringIdsSize = r.Uint32()
	h.StringIdsOff = r.Uint32()
	h.TypeIdsSize = r.Uint32()
	h.TypeIdsOff = r.Uint32()
	h.ProtoIdsSize = r.Uint32()
	h.ProtoIdsOff = r.Uint32()
	h.FieldIdsSize = r.Uint32()
	h.FieldIdsOff = r.Uint32()
	h.MethodIdsSize = r.Uint32()
	h.MethodIdsOff = r.Uint32()
	h.ClassDefsSize = r.Uint32()
	h.ClassDefsOff = r.Uint32()
	h.DataSize = r.Uint32()
	h.DataOff = r.Uint32()
	if h.EndianTag != dexpb.EndianTag {
		return h, errors.E("dexio: unsupported endian_tag (big-endian DEX not supported)")
	}
	return h, nil
}

func readEncodedValue(r *ByteBuffer) dexpb.EncodedValue {
	tag := r.Uint8()
	valueType := tag & 0x1f
	argHi := (tag >> 5) & 0x7
	readVarWidth := func(signExtend bool) int64 {
		var v int64
		n := int(argHi) + 1
		for i := 0; i < n; i++ {
			v |= int64(r.Uint8()) << (8 * uint(i))
		}
		if signExtend {
			shift := uint(64 - 8*n)
			v = (v << shift) >> shift
		}
		return v
	}
	switch valueType {
	case 0x00, 0x02, 0x03, 0x04, 0x06:
		return dexpb.EncodedValue{Type: valueType, IntValue: readVarWidth(true)}
	case 0x10, 0x11:
		bits := readVarWidth(false)
		return dexpb.EncodedValue{Type: valueType, IntValue: bits, FloatValue: float64(bits)}
	case 0x17:
		return dexpb.EncodedValue{Type: valueType, StringIdx: int32(readVarWidth(false))}
	case 0x18:
		return dexpb.EncodedValue{Type: valueType, TypeIdx: int32(readVarWidth(false))}
	case 0x19:
		return dexpb.EncodedValue{Type: valueType, FieldIdx: int32(readVarWidth(false))}
	case 0x1a:
		return dexpb.EncodedValue{Type: valueType, MethodIdx: int32(readVarWidth(false))}
	case 0x1b:
		return dexpb.EncodedValue{Type: valueType, FieldIdx: int32(readVarWidth(false))} // enum
	case 0x1c:
		size := r.Uleb128()
		arr := make([]dexpb.EncodedValue, size)
		for i := range arr {
			arr[i] = readEncodedValue(r)
		}
		return dexpb.EncodedValue{Type: valueType, Array: arr}
	case 0x1d:
		ea := readEncodedAnnotation(r)
		return dexpb.EncodedValue{Type: valueType, Annotation: &ea}
	case 0x1e, 0x1f:
		return dexpb.EncodedValue{Type: valueType}
	default:
		return dexpb.EncodedValue{Type: valueType, IntValue: readVarWidth(true)}
	}
}

func readEncodedAnnotation(r *ByteBuffer) dexpb.EncodedAnnotation {
	typeIdx := int32(r.Uleb128())
	size := r.Uleb128()
	ea := dexpb.EncodedAnnotation{TypeIdx: typeIdx}
	for i := uint32(0); i < size; i++ {
		ea.Names = append(ea.Names, int32(r.Uleb128()))
		ea.Values = append(ea.Values, readEncodedValue(r))
	}
	return ea
}

func readEncodedArray(r *ByteBuffer) dexpb.EncodedArray {
	size := r.Uleb128()
	ea := dexpb.EncodedArray{Values: make([]dexpb.EncodedValue, size)}
	for i := range ea.Values {
		ea.Values[i] = readEncodedValue(r)
	}
	return ea
}

func readClassData(r *ByteBuffer) dexpb.ClassData {
	staticSize := r.Uleb128()
	instanceSize := r.Uleb128()
	directSize := r.Uleb128()
	virtualSize := r.Uleb128()
	cd := dexpb.ClassData{
		StaticFields:   readEncodedFields(r, staticSize),
		InstanceFields: readEncodedFields(r, instanceSize),
	}
	cd.DirectMethods = readEncodedMethods(r, directSize)
	cd.VirtualMethods = readEncodedMethods(r, virtualSize)
	return cd
}

func readEncodedFields(r *ByteBuffer, n uint32) []dexpb.EncodedField {
	out := make([]dexpb.EncodedField, n)
	var prev int32
	for i := range out {
		prev += int32(r.Uleb128())
		out[i] = dexpb.EncodedField{FieldIdx: prev, AccessFlags: r.Uleb128()}
	}
	return out
}

func readEncodedMethods(r *ByteBuffer, n uint32) []dexpb.EncodedMethod {
	out := make([]dexpb.EncodedMethod, n)
	var prev int32
	for i := range out {
		prev += int32(r.Uleb128())
		accessFlags := r.Uleb128()
		codeOff := r.Uleb128()
		em := dexpb.EncodedMethod{MethodIdx: prev, AccessFlags: accessFlags}
		if codeOff != 0 {
			save := r.Tell()
			r.Seek(codeOff)
			code := readCodeItem(r)
			em.Code = &code
			r.Seek(save)
		}
		out[i] = em
	}
	return out
}

func readCodeItem(r *ByteBuffer) dexpb.CodeItem {
	c := dexpb.CodeItem{
		RegistersSize: r.Uint16(),
		InsSize:       r.Uint16(),
		OutsSize:      r.Uint16(),
	}
	triesSize := r.Uint16()
	debugInfoOff := r.Uint32()
	insnsSize := r.Uint32()
	c.Insns = make([]uint16, insnsSize)
	for i := range c.Insns {
		c.Insns[i] = r.Uint16()
	}
	if triesSize > 0 && insnsSize%2 != 0 {
		r.Uint16() // 2-byte padding before tries
	}
	if triesSize > 0 {
		c.Tries = make([]dexpb.TryItem, triesSize)
		for i := range c.Tries {
			c.Tries[i] = dexpb.TryItem{
				StartAddr:  r.Uint32(),
				InsnCount:  r.Uint16(),
				HandlerOff: r.Uint16(),
			}
		}
		handlersSize := r.Uleb128()
		c.Handlers = make([]dexpb.EncodedCatchHandler, handlersSize)
		for i := range c.Handlers {
			size := r.Sleb128()
			n := size
			hasCatchAll := size <= 0
			if hasCatchAll {
				n = -size
			}
			h := dexpb.EncodedCatchHandler{HasCatchAll: hasCatchAll}
			for j := int32(0); j < n; j++ {
				h.Handlers = append(h.Handlers, dexpb.EncodedTypeAddrPair{
					TypeIdx: int32(r.Uleb128()),
					Addr:    r.Uleb128(),
				})
			}
			if hasCatchAll {
				h.CatchAllAddr = r.Uleb128()
			}
			c.Handlers[i] = h
		}
	}
	if debugInfoOff != 0 {
		save := r.Tell()
		r.Seek(debugInfoOff)
		c.DebugInfo = readDebugInfo(r)
		r.Seek(save)
	}
	return c
}

func readDebugInfo(r *ByteBuffer) *dexpb.DebugInfo {
	di := &dexpb.DebugInfo{LineStart: r.Uleb128()}
	paramSize := r.Uleb128()
	di.ParameterNames = make([]int32, paramSize)
	for i := range di.ParameterNames {
		di.ParameterNames[i] = r.Uleb128p1()
	}
	start := r.Tell()
	for {
		op := r.Uint8()
		if op == 0x00 {
			break
		}
		switch op {
		case 0x01:
			r.Uleb128()
		case 0x02:
			r.Sleb128()
		case 0x03:
			r.Uleb128()
			r.Uleb128p1()
			r.Uleb128p1()
		case 0x04:
			r.Uleb128()
			r.Uleb128p1()
			r.Uleb128p1()
			r.Uleb128p1()
		case 0x05, 0x06:
			r.Uleb128()
		case 0x07, 0x08:
		case 0x09:
			r.Uleb128p1()
		default:
		}
	}
	end := r.Tell()
	r.Seek(start)
	di.Bytecode = r.RawBytes(int(end - start))
	return di
}
