// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dexio

import (
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestUleb128RoundTrip(t *testing.T) {
	tests := []uint32{0, 1, 127, 128, 300, 1 << 20, 0xFFFFFFFF}
	for _, v := range tests {
		w := NewWriter()
		w.PutUleb128(v)
		r := NewReader(w.Bytes())
		expect.EQ(t, v, r.Uleb128(), "value %v", v)
	}
}

func TestSleb128RoundTrip(t *testing.T) {
	tests := []int32{0, 1, -1, 63, -64, 64, -65, 1 << 20, -(1 << 20)}
	for _, v := range tests {
		w := NewWriter()
		w.PutSleb128(v)
		r := NewReader(w.Bytes())
		expect.EQ(t, v, r.Sleb128(), "value %v", v)
	}
}

func TestUleb128p1NoIndex(t *testing.T) {
	w := NewWriter()
	w.PutUleb128p1(-1)
	r := NewReader(w.Bytes())
	expect.EQ(t, int32(-1), r.Uleb128p1())
}

func TestAlignUp(t *testing.T) {
	w := NewWriter()
	w.PutUint8(1)
	w.AlignUp(4)
	expect.EQ(t, 4, w.Len())
	w.PutUint8(2)
	expect.EQ(t, 5, w.Len())
}

func TestFixedWidthRoundTrip(t *testing.T) {
	w := NewWriter()
	w.PutUint16(0xBEEF)
	w.PutUint32(0xDEADBEEF)
	w.PutRawBytes([]byte{1, 2, 3})
	r := NewReader(w.Bytes())
	expect.EQ(t, uint16(0xBEEF), r.Uint16())
	expect.EQ(t, uint32(0xDEADBEEF), r.Uint32())
	expect.EQ(t, []byte{1, 2, 3}, r.RawBytes(3))
}
