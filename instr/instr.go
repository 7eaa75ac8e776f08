// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package instr implements the bytecode instruction transformer (spec
// §4.6, C7): it walks a register-VM insns stream one instruction at a
// time, and for every instruction whose operand cross-references a
// string/type/field/method/proto/callsite, remaps that index through the
// owning input's indexmap.IndexMap and re-encodes the result in place.
package instr

import (
	"github.com/grailbio/base/errors"
	"github.com/grailbio/dexmerge/dexpb"
	"github.com/grailbio/dexmerge/indexmap"
)

// Format identifies an instruction's operand layout family (§4.6).
type Format int

// The register-VM format families named in spec §4.6.
const (
	Fmt10x Format = iota
	Fmt12x
	Fmt11n
	Fmt11x
	Fmt10t
	Fmt20t
	Fmt22x
	Fmt21t
	Fmt21s
	Fmt21h
	Fmt21c
	Fmt23x
	Fmt22b
	Fmt22t
	Fmt22s
	Fmt22c
	Fmt30t
	Fmt32x
	Fmt31i
	Fmt31t
	Fmt31c
	Fmt35c
	Fmt3rc
	Fmt51l
	fmtPackedSwitchPayload
	fmtSparseSwitchPayload
	fmtFillArrayDataPayload
)

// Bkind identifies which IndexMap table an instruction's cross-referenced
// operand is remapped through. bkindNone marks formats with no
// cross-referenced operand at all.
type Bkind int

const (
	bkindNone Bkind = iota
	bkindString
	bkindType
	bkindField
	bkindMethod
	// bkindProto and bkindCallsite round out the Bkind family named by
	// spec §4.6 (invoke-polymorphic/invoke-custom carry a proto or
	// call-site index alongside a method index); no opcode in the table
	// below currently emits them, since invoke-polymorphic support is
	// gated on call-site data this merger's DexFile model doesn't carry.
	bkindProto
	bkindCallsite
)

type opInfo struct {
	format Format
	bkind  Bkind
}

// opcodes maps the low byte of the first code unit to its format and
// (if any) cross-reference kind. Only opcodes whose operand the merger
// must inspect — either to remap an index or to know how many code units
// to skip — need an entry; any opcode absent from this table is treated
// as Fmt10x (no operand, one code unit), which is safe because the
// DEX instruction set pads unused opcode values as unreachable.
var opcodes = map[byte]opInfo{
	0x00: {Fmt10x, bkindNone}, // nop / payload marker, disambiguated below
	0x01: {Fmt12x, bkindNone}, // move
	0x02: {Fmt22x, bkindNone}, // move/from16
	0x03: {Fmt32x, bkindNone}, // move/16
	0x05: {Fmt22x, bkindNone}, // move-wide/from16
	0x06: {Fmt32x, bkindNone}, // move-wide/16
	0x08: {Fmt22x, bkindNone}, // move-object/from16
	0x09: {Fmt32x, bkindNone}, // move-object/16
	0x0e: {Fmt10x, bkindNone}, // return-void
	0x0f: {Fmt11x, bkindNone}, // return
	0x12: {Fmt11n, bkindNone}, // const/4
	0x13: {Fmt21s, bkindNone}, // const/16
	0x14: {Fmt31i, bkindNone}, // const
	0x15: {Fmt21h, bkindNone}, // const/high16
	0x16: {Fmt21s, bkindNone}, // const-wide/16
	0x17: {Fmt31i, bkindNone}, // const-wide/32
	0x18: {Fmt51l, bkindNone}, // const-wide
	0x19: {Fmt21h, bkindNone}, // const-wide/high16
	0x1a: {Fmt21c, bkindString},
	0x1b: {Fmt31c, bkindString}, // const-string/jumbo
	0x1c: {Fmt21c, bkindType},   // const-class
	0x1f: {Fmt21c, bkindType},   // check-cast
	0x20: {Fmt22c, bkindType},   // instance-of
	0x22: {Fmt21c, bkindType},   // new-instance
	0x23: {Fmt22c, bkindType},   // new-array
	0x24: {Fmt35c, bkindType},   // filled-new-array
	0x25: {Fmt3rc, bkindType},   // filled-new-array/range
	0x26: {Fmt31t, bkindNone},
	0x28: {Fmt10t, bkindNone}, // goto
	0x29: {Fmt20t, bkindNone}, // goto/16
	0x2a: {Fmt30t, bkindNone}, // goto/32
	0x2b: {Fmt31t, bkindNone}, // packed-switch
	0x2c: {Fmt31t, bkindNone}, // sparse-switch
	0x2d: {Fmt23x, bkindNone}, // cmpl-float et al start here
}

func init() {
	for op := byte(0x2d); op <= 0x31; op++ {
		opcodes[op] = opInfo{Fmt23x, bkindNone} // cmp*
	}
	for op := byte(0x32); op <= 0x37; op++ {
		opcodes[op] = opInfo{Fmt22t, bkindNone} // if-*
	}
	for op := byte(0x38); op <= 0x3d; op++ {
		opcodes[op] = opInfo{Fmt21t, bkindNone} // if-*z
	}
	for op := byte(0x44); op <= 0x51; op++ {
		opcodes[op] = opInfo{Fmt23x, bkindNone} // aget/aput family
	}
	for op := byte(0x52); op <= 0x58; op++ {
		opcodes[op] = opInfo{Fmt22c, bkindField} // iget*
	}
	for op := byte(0x59); op <= 0x5f; op++ {
		opcodes[op] = opInfo{Fmt22c, bkindField} // iput*
	}
	for op := byte(0x60); op <= 0x66; op++ {
		opcodes[op] = opInfo{Fmt21c, bkindField} // sget*
	}
	for op := byte(0x67); op <= 0x6d; op++ {
		opcodes[op] = opInfo{Fmt21c, bkindField} // sput*
	}
	for op := byte(0x6e); op <= 0x72; op++ {
		opcodes[op] = opInfo{Fmt35c, bkindMethod} // invoke-{virtual,super,direct,static,interface}
	}
	for op := byte(0x74); op <= 0x78; op++ {
		opcodes[op] = opInfo{Fmt3rc, bkindMethod} // invoke-*/range
	}
	for op := byte(0x7b); op <= 0x8f; op++ {
		opcodes[op] = opInfo{Fmt12x, bkindNone} // unop
	}
	for op := byte(0x90); op <= 0xaf; op++ {
		opcodes[op] = opInfo{Fmt23x, bkindNone} // binop
	}
	for op := byte(0xb0); op <= 0xcf; op++ {
		opcodes[op] = opInfo{Fmt12x, bkindNone} // binop/2addr
	}
	for op := byte(0xd0); op <= 0xd7; op++ {
		opcodes[op] = opInfo{Fmt22s, bkindNone} // binop/lit16
	}
	for op := byte(0xd8); op <= 0xe2; op++ {
		opcodes[op] = opInfo{Fmt22b, bkindNone} // binop/lit8
	}
	// 0xfa invoke-polymorphic (45cc), 0xfb invoke-polymorphic/range
	// (4rcc), 0xfc invoke-custom (35c), 0xfd invoke-custom/range (3rc),
	// 0xfe const-method-handle (21c), 0xff const-method-type (21c) are
	// DEX 038+ extensions; this merger targets v035/v037 per spec §6 and
	// deliberately leaves them unclassified (Fmt10x default), matching
	// the spec's stated input version support.
}

// codeUnitSize returns how many 16-bit code units the instruction
// starting at insns[pc] occupies, not counting a trailing packed/sparse
// switch or fill-array-data payload (those are read by their own size
// field and consumed separately by the caller).
func codeUnitSize(f Format) int {
	switch f {
	case Fmt10x, Fmt12x, Fmt11n, Fmt11x, Fmt10t:
		return 1
	case Fmt20t, Fmt22x, Fmt21t, Fmt21s, Fmt21h, Fmt21c, Fmt23x, Fmt22b, Fmt22t, Fmt22s, Fmt22c:
		return 2
	case Fmt30t, Fmt32x, Fmt31i, Fmt31t, Fmt31c, Fmt35c, Fmt3rc:
		return 3
	case Fmt51l:
		return 5
	default:
		return 1
	}
}

// Transform walks insns (little-endian code units) and returns a new
// slice of the same length with every cross-referenced operand remapped
// through m. A malformed stream (for example one truncated in the middle
// of an instruction) is reported as an error rather than a panic.
func Transform(insns []uint16, m *indexmap.IndexMap) ([]uint16, error) {
	out := make([]uint16, len(insns))
	copy(out, insns)

	pc := 0
	for pc < len(out) {
		op := byte(out[pc] & 0xff)
		if op == 0x00 && pc+1 < len(out) {
			switch out[pc+1] {
			case 0x0100: // packed-switch-payload ident
				pc += packedSwitchPayloadSize(out[pc:])
				continue
			case 0x0200: // sparse-switch-payload ident
				pc += sparseSwitchPayloadSize(out[pc:])
				continue
			case 0x0300: // fill-array-data-payload ident
				pc += fillArrayDataPayloadSize(out[pc:])
				continue
			}
		}
		info, known := opcodes[op]
		if !known {
			info = opInfo{Fmt10x, bkindNone}
		}
		size := codeUnitSize(info.format)
		if pc+size > len(out) {
			return nil, errors.E("instr: truncated instruction stream")
		}
		if info.bkind != bkindNone {
			if err := remapOperand(out[pc:pc+size], info, m); err != nil {
				return nil, err
			}
		}
		pc += size
	}
	return out, nil
}

// remapOperand rewrites the Bkind-tagged index embedded in one
// instruction's operand words, in place, enforcing the §4.6 width rule:
// 16-bit index fields (21c non-string, 22c, 35c, 3rc) must fit in u16
// after remap; 31c (const-string/jumbo) accepts the full u32 string
// index range (§4.1: stringIds may exceed 16 bits).
func remapOperand(units []uint16, info opInfo, m *indexmap.IndexMap) error {
	adjust := func(idx int32) (int32, error) {
		switch info.bkind {
		case bkindString:
			return m.AdjustString(idx), nil
		case bkindType:
			return m.AdjustType(idx), nil
		case bkindField:
			return m.AdjustField(idx), nil
		case bkindMethod:
			return m.AdjustMethod(idx), nil
		case bkindProto:
			return m.AdjustProto(idx), nil
		default:
			return idx, nil
		}
	}
	switch info.format {
	case Fmt21c, Fmt22c:
		old := int32(units[1])
		neu, err := adjust(old)
		if err != nil {
			return err
		}
		if info.format == Fmt22c || info.bkind != bkindString {
			if neu > dexpb.MaxU16Index {
				return errors.E("instr: remapped index overflows u16 operand")
			}
		}
		units[1] = uint16(neu)
	case Fmt31c:
		old := int32(units[1]) | int32(units[2])<<16
		neu, err := adjust(old)
		if err != nil {
			return err
		}
		units[1] = uint16(neu)
		units[2] = uint16(neu >> 16)
	case Fmt35c, Fmt3rc:
		old := int32(units[1])
		neu, err := adjust(old)
		if err != nil {
			return err
		}
		if neu > dexpb.MaxU16Index {
			return errors.E("instr: remapped index overflows u16 operand")
		}
		units[1] = uint16(neu)
	}
	return nil
}

// packedSwitchPayloadSize, sparseSwitchPayloadSize and
// fillArrayDataPayloadSize compute the code-unit length of a
// pseudo-instruction payload from its own size field, so Transform can
// skip over it (these payloads carry no cross-referenced indices: packed
// switch targets are PC-relative, fill-array-data holds raw element
// bytes). units[0] is the leading nop marker Transform left pc pointing
// at, units[1] the payload's own ident, so each return value counts the
// self-contained payload (ident onward) plus that leading nop unit.
func packedSwitchPayloadSize(units []uint16) int {
	size := int(units[2])
	return 1 + 4 + size*2
}

func sparseSwitchPayloadSize(units []uint16) int {
	size := int(units[2])
	return 1 + 2 + size*4
}

func fillArrayDataPayloadSize(units []uint16) int {
	elemWidth := int(units[2])
	size := int(units[3]) | int(units[4])<<16
	totalBytes := size * elemWidth
	return 1 + 4 + (totalBytes+1)/2
}
