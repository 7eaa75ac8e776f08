// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package rewrite implements the class/method/code rewriter (spec §4.5,
// C6): once a class_def's fields have been copied from its source input,
// every index embedded inside it — the class_data field/method lists,
// each method's code_item (registers, try/catch table, debug_info, and
// instruction stream) — is translated through that input's IndexMap into
// the merged output's index space.
package rewrite

import (
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/dexmerge/dexio"
	"github.com/grailbio/dexmerge/dexpb"
	"github.com/grailbio/dexmerge/indexmap"
	"github.com/grailbio/dexmerge/instr"
)

// ClassDef rewrites one class_def's own fields (class and superclass
// types, source file, the interfaces type list via AdjustTypeList,
// annotation offsets, static values) and recursively rewrites its
// class_data. rc is consulted
// so a class referencing a removed type surfaces as a descriptive error
// rather than an out-of-range index deep in class_data.
func ClassDef(d *dexpb.ClassDef, m *indexmap.IndexMap, rc *indexmap.RemovalContext) (*dexpb.ClassDef, error) {
	out := &dexpb.ClassDef{
		ClassIdx:      m.AdjustType(d.ClassIdx),
		SuperclassIdx: m.AdjustType(d.SuperclassIdx),
		SourceFileIdx: m.AdjustString(d.SourceFileIdx),
		AccessFlags:   d.AccessFlags,
		Interfaces:    m.AdjustTypeList(d.Interfaces),
		StaticValues:  m.AdjustEncodedArray(d.StaticValues),
	}
	if rc != nil && rc.Active() {
		if rc.IsTypeRemoved(out.SuperclassIdx) {
			return nil, errors.E("rewrite: class_def superclass refers to a removed type")
		}
		for _, t := range out.Interfaces.Types {
			if rc.IsTypeRemoved(t) {
				return nil, errors.E("rewrite: class_def interface list refers to a removed type")
			}
		}
	}
	for _, a := range d.Annotations.Fields {
		out.Annotations.Fields = append(out.Annotations.Fields, dexpb.FieldAnnotation{
			FieldIdx:       m.AdjustField(a.FieldIdx),
			AnnotationsOff: m.AdjustAnnotationSetOffset(a.AnnotationsOff),
		})
	}
	for _, a := range d.Annotations.Methods {
		out.Annotations.Methods = append(out.Annotations.Methods, dexpb.MethodAnnotation{
			MethodIdx:      m.AdjustMethod(a.MethodIdx),
			AnnotationsOff: m.AdjustAnnotationSetOffset(a.AnnotationsOff),
		})
	}
	for _, a := range d.Annotations.Parameters {
		out.Annotations.Parameters = append(out.Annotations.Parameters, dexpb.ParameterAnnotation{
			MethodIdx:      m.AdjustMethod(a.MethodIdx),
			AnnotationsOff: m.AdjustAnnotationSetRefOffset(a.AnnotationsOff),
		})
	}
	out.Annotations.ClassAnnotationsOff = m.AdjustAnnotationSetOffset(d.Annotations.ClassAnnotationsOff)

	cd, err := ClassData(d.ClassData, m)
	if err != nil {
		return nil, err
	}
	out.ClassData = cd
	return out, nil
}

// ClassData rewrites a class's static/instance field lists and
// direct/virtual method lists. §4.5 notes that the wire encoding stores
// each list as field/method indices delta-encoded against the previous
// entry's (already-sorted) index; since remapping can change the order
// of a class's field and method indices, this package works in the
// decoded (absolute-index) representation, re-sorts each list by its new
// index, and leaves the delta re-encoding to the byte-serialization
// layer.
func ClassData(cd dexpb.ClassData, m *indexmap.IndexMap) (dexpb.ClassData, error) {
	out := dexpb.ClassData{
		StaticFields:   make([]dexpb.EncodedField, len(cd.StaticFields)),
		InstanceFields: make([]dexpb.EncodedField, len(cd.InstanceFields)),
	}
	for i, f := range cd.StaticFields {
		out.StaticFields[i] = dexpb.EncodedField{FieldIdx: m.AdjustField(f.FieldIdx), AccessFlags: f.AccessFlags}
	}
	for i, f := range cd.InstanceFields {
		out.InstanceFields[i] = dexpb.EncodedField{FieldIdx: m.AdjustField(f.FieldIdx), AccessFlags: f.AccessFlags}
	}
	sortFields(out.StaticFields)
	sortFields(out.InstanceFields)

	for _, mt := range cd.DirectMethods {
		em, err := encodedMethod(mt, m)
		if err != nil {
			return dexpb.ClassData{}, err
		}
		out.DirectMethods = append(out.DirectMethods, em)
	}
	for _, mt := range cd.VirtualMethods {
		em, err := encodedMethod(mt, m)
		if err != nil {
			return dexpb.ClassData{}, err
		}
		out.VirtualMethods = append(out.VirtualMethods, em)
	}
	sortMethods(out.DirectMethods)
	sortMethods(out.VirtualMethods)
	return out, nil
}

func sortFields(fs []dexpb.EncodedField) {
	sort.Slice(fs, func(i, j int) bool { return fs[i].FieldIdx < fs[j].FieldIdx })
}

func sortMethods(ms []dexpb.EncodedMethod) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].MethodIdx < ms[j].MethodIdx })
}

func encodedMethod(mt dexpb.EncodedMethod, m *indexmap.IndexMap) (dexpb.EncodedMethod, error) {
	out := dexpb.EncodedMethod{MethodIdx: m.AdjustMethod(mt.MethodIdx), AccessFlags: mt.AccessFlags}
	if mt.Code == nil {
		return out, nil
	}
	code, err := Code(mt.Code, m)
	if err != nil {
		return dexpb.EncodedMethod{}, err
	}
	out.Code = code
	return out, nil
}

// Code rewrites one method's code_item: the try/catch table's embedded
// type indices, the debug_info opcode stream's embedded string and type
// indices,
// and the instruction stream's embedded indices (delegated to
// instr.Transform). §4.5's "reserve space, write handlers, backpatch
// tries" ordering quirk is purely a byte-layout concern of the
// serializer; at this structured-value layer the handler and try lists
// are just rewritten independently and handed back together.
func Code(c *dexpb.CodeItem, m *indexmap.IndexMap) (*dexpb.CodeItem, error) {
	out := &dexpb.CodeItem{
		RegistersSize: c.RegistersSize,
		InsSize:       c.InsSize,
		OutsSize:      c.OutsSize,
		Tries:         append([]dexpb.TryItem(nil), c.Tries...),
	}
	for _, h := range c.Handlers {
		nh := dexpb.EncodedCatchHandler{CatchAllAddr: h.CatchAllAddr, HasCatchAll: h.HasCatchAll}
		for _, p := range h.Handlers {
			nh.Handlers = append(nh.Handlers, dexpb.EncodedTypeAddrPair{
				TypeIdx: m.AdjustType(p.TypeIdx),
				Addr:    p.Addr,
			})
		}
		out.Handlers = append(out.Handlers, nh)
	}
	if c.DebugInfo != nil {
		di := &dexpb.DebugInfo{LineStart: c.DebugInfo.LineStart}
		for _, p := range c.DebugInfo.ParameterNames {
			di.ParameterNames = append(di.ParameterNames, m.AdjustString(p))
		}
		bytecode, err := rewriteDebugInfoBytecode(c.DebugInfo.Bytecode, m)
		if err != nil {
			return nil, err
		}
		di.Bytecode = bytecode
		out.DebugInfo = di
	}
	insns, err := instr.Transform(c.Insns, m)
	if err != nil {
		return nil, err
	}
	out.Insns = insns
	return out, nil
}

// Debug info opcodes, per the Dalvik debug_info_item state machine.
const (
	dbgEndSequence      = 0x00
	dbgAdvancePC        = 0x01
	dbgAdvanceLine      = 0x02
	dbgStartLocal       = 0x03
	dbgStartLocalExtended = 0x04
	dbgEndLocal         = 0x05
	dbgRestartLocal     = 0x06
	dbgSetPrologueEnd   = 0x07
	dbgSetEpilogueBegin = 0x08
	dbgSetFile          = 0x09
	dbgSpecialOpcodeBase = 0x0a
)

// rewriteDebugInfoBytecode walks the debug_info opcode stream. Only
// DBG_START_LOCAL, DBG_START_LOCAL_EXTENDED and DBG_SET_FILE carry a
// name/type/string index, encoded as ULEB128p1 so that absent ("none")
// is representable without a separate flag (§4.1's NoIndex convention
// carries through unchanged). Every other opcode, including the 0x0a-0xff
// special range, carries no cross-referenced index and is copied as-is.
func rewriteDebugInfoBytecode(b []byte, m *indexmap.IndexMap) ([]byte, error) {
	r := dexio.NewReader(b)
	w := dexio.NewWriter()
	end := uint32(len(b))
	for r.Tell() < end {
		op := r.Uint8()
		w.PutUint8(op)
		switch op {
		case dbgEndSequence:
			return w.Bytes(), nil
		case dbgAdvancePC:
			w.PutUleb128(r.Uleb128())
		case dbgAdvanceLine:
			w.PutSleb128(r.Sleb128())
		case dbgStartLocal:
			w.PutUleb128(r.Uleb128()) // register_num
			w.PutUleb128p1(m.AdjustString(r.Uleb128p1()))
			w.PutUleb128p1(m.AdjustType(r.Uleb128p1()))
		case dbgStartLocalExtended:
			w.PutUleb128(r.Uleb128()) // register_num
			w.PutUleb128p1(m.AdjustString(r.Uleb128p1()))
			w.PutUleb128p1(m.AdjustType(r.Uleb128p1()))
			w.PutUleb128p1(m.AdjustString(r.Uleb128p1()))
		case dbgEndLocal, dbgRestartLocal:
			w.PutUleb128(r.Uleb128()) // register_num
		case dbgSetFile:
			w.PutUleb128p1(m.AdjustString(r.Uleb128p1()))
		case dbgSetPrologueEnd, dbgSetEpilogueBegin:
			// no operands
		default:
			// Special opcode (0x0a-0xff): no operands, advances both
			// address and line by a formula the merger never needs to
			// evaluate.
		}
	}
	return nil, errors.E("rewrite: debug_info bytecode missing DBG_END_SEQUENCE")
}
