// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rewrite

import (
	"testing"

	"github.com/grailbio/dexmerge/dexpb"
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
	}
	return m
}

func TestClassDataRemapsAndResorts(t *testing.T) {
	cd := dexpb.ClassData{
		StaticFields: []dexpb.EncodedField{
			{FieldIdx: 5, AccessFlags: 1}, // -> 7
			{FieldIdx: 1, AccessFlags: 2}, // -> 3
		},
	}
	out, err := ClassData(cd, newTestMap())
	expect.NoError(t, err)
	expect.EQ(t, 2, len(out.StaticFields))
	expect.EQ(t, int32(3), out.StaticFields[0].FieldIdx)
	expect.EQ(t, int32(7), out.StaticFields[1].FieldIdx)
}

func TestCodeRewritesTryHandlersAndInsns(t *testing.T) {
	c := &dexpb.CodeItem{
		RegistersSize: 2,
		Tries:         []dexpb.TryItem{{StartAddr: 0, InsnCount: 1, HandlerOff: 0}},
		Handlers: []dexpb.EncodedCatchHandler{
			{Handlers: []dexpb.EncodedTypeAddrPair{{TypeIdx: 2, Addr: 4}}, HasCatchAll: false},
		},
		Insns: []uint16{0x000e}, // return-void, no operand to remap
	}
	out, err := Code(c, newTestMap())
	expect.NoError(t, err)
	expect.EQ(t, int32(3), out.Handlers[0].Handlers[0].TypeIdx) // 2+1
	expect.EQ(t, c.Insns, out.Insns)
}

func TestDebugInfoBytecodeRemapsSetFile(t *testing.T) {
	// DBG_SET_FILE with name_idx+1 = 6 (name_idx = 5), then END_SEQUENCE.
	bytecode := []byte{dbgSetFile, 6, dbgEndSequence}
	out, err := rewriteDebugInfoBytecode(bytecode, newTestMap())
	expect.NoError(t, err)
	// name_idx 5 -> 105, encoded as +1 = 106 (fits in one ULEB128 byte
	// only up to 127, so still single-byte here).
	expect.EQ(t, []byte{dbgSetFile, 106, dbgEndSequence}, out)
}

func TestDebugInfoBytecodeMissingEndSequenceErrors(t *testing.T) {
	bytecode := []byte{dbgSetPrologueEnd}
	_, err := rewriteDebugInfoBytecode(bytecode, newTestMap())
	expect.NotNil(t, err)
}
