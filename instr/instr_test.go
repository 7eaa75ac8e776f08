// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package instr

import (
	"testing"

	"github.com/grailbio/dexmerge/indexmap"
	"github.com/grailbio/testutil/expect"
)

func newTestMap() *indexmap.IndexMap {
	m := indexmap.New("A", 10, 10, 10, 10, 10)
	for i := 0; i < 10; i++ {
		m.PutStringId(i, uint32(i+100))
		m.PutTypeId(i, uint32(i+1))
		m.PutFieldId(i, uint32(i+2))
		m.PutMethodId(i, uint32(i+3))
		m.PutProtoId(i, uint32(i+4))
	}
	return m
}

func TestTransformConstString21c(t *testing.T) {
	// const-string v0, string@0005 -> opcode 0x1a, reg 0x00, index 0x0005
	insns := []uint16{0x001a | 0x0000<<8, 0x0005}
	out, err := Transform(insns, newTestMap())
	expect.NoError(t, err)
	expect.EQ(t, uint16(105), out[1])
	expect.EQ(t, insns[0], out[0]) // opcode/register byte untouched
}

func TestTransformConstStringJumbo31c(t *testing.T) {
	// const-string/jumbo v0, string@0003, remapped to the 32-bit index
	// 0x00020003, which needs both operand code units.
	m := newTestMap()
	m.PutStringId(3, 0x00020003)
	insns := []uint16{0x001b, 0x0003, 0x0000}
	out, err := Transform(insns, m)
	expect.NoError(t, err)
	expect.EQ(t, int32(0x00020003), int32(out[1])|int32(out[2])<<16)
}

func TestTransformInvokeStatic35c(t *testing.T) {
	// invoke-static {}, method@0007 -> opcode 0x71, argc/regs byte, index 0x0007
	insns := []uint16{0x0071, 0x0007, 0x0000}
	out, err := Transform(insns, newTestMap())
	expect.NoError(t, err)
	expect.EQ(t, uint16(10), out[1]) // 7+3
}

func TestTransformIgetField22c(t *testing.T) {
	// iget v0, v1, field@0003 -> opcode 0x52
	insns := []uint16{0x0052, 0x0003}
	out, err := Transform(insns, newTestMap())
	expect.NoError(t, err)
	expect.EQ(t, uint16(5), out[1]) // 3+2
}

func TestTransformNonIndexedOpcodeUnchanged(t *testing.T) {
	// return-void, then move v0, v1
	insns := []uint16{0x000e, 0x0001<<8 | 0x0001}
	out, err := Transform(insns, newTestMap())
	expect.NoError(t, err)
	expect.EQ(t, insns, out)
}

func TestTransformSkipsPackedSwitchPayload(t *testing.T) {
	// ident 0x0100, size=2, first_key (2 units), 2 targets (2 units each)
	insns := []uint16{0x0000, 0x0100, 0x0002, 0x0000, 0x0000, 0x0001, 0x0000, 0x0002, 0x0000}
	out, err := Transform(insns, newTestMap())
	expect.NoError(t, err)
	expect.EQ(t, insns, out)
}

func TestTransformPackedSwitchPayloadFollowedByRealInstruction(t *testing.T) {
	// Same packed-switch-payload as above (9 units), followed by a real
	// const-string v0, string@0005 instruction. If the payload's skip
	// length is off by even one code unit, pc desyncs and this trailing
	// instruction's operand is read from the wrong offset, either
	// remapping the wrong bits or leaving string@0005 unmapped.
	insns := []uint16{
		0x0000, 0x0100, 0x0002, 0x0000, 0x0000, 0x0001, 0x0000, 0x0002, 0x0000,
		0x001a, 0x0005,
	}
	out, err := Transform(insns, newTestMap())
	expect.NoError(t, err)
	expect.EQ(t, insns[:9], out[:9])
	expect.EQ(t, uint16(0x001a), out[9])
	expect.EQ(t, uint16(105), out[10]) // string index 5 -> 5+100
}

func TestTransformTruncatedStreamErrors(t *testing.T) {
	insns := []uint16{0x0071} // invoke-static missing its 2 operand words
	_, err := Transform(insns, newTestMap())
	expect.NotNil(t, err)
}
