// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dexio provides the positioned byte-level reads/writes, LEB128
// variants, and alignment helpers that spec.md §1 names as an external
// collaborator ("out of scope ... referenced only by interface"). Reader
// and Writer describe its two halves; ByteBuffer is the one concrete
// implementation, and the other packages of this module use *ByteBuffer
// directly rather than the interfaces. ByteBuffer is grounded
// on encoding/pam/fieldio/bytebuffer.go's growable-buffer varint reader and
// writer, generalized from signed/unsigned protobuf varints to the DEX
// ULEB128/SLEB128/ULEB128p1 family.
package dexio

import "encoding/binary"

// Reader is the read-side half of the byte-section I/O collaborator:
// positioned reads over one input DEX buffer, with the LEB128 family and
// fixed-width integers spec.md §1 pushes out of scope for the merger
// itself.
type Reader interface {
	// Seek repositions the read cursor to an absolute byte offset.
	Seek(off uint32)
	// Tell returns the current read cursor, as an absolute byte offset.
	Tell() uint32
	Uint8() uint8
	Uint16() uint16
	Uint32() uint32
	Uleb128() uint32
	Uleb128p1() int32 // value - 1; NoIndex (-1) if the encoded value is 0
	Sleb128() int32
	RawBytes(n int) []byte
	// AlignUp advances the cursor to the next multiple of n (n a power of
	// two). ByteBuffer does not check that the skipped bytes exist; see
	// ByteBuffer.AlignUp.
	AlignUp(n int)
}

// Writer is the write-side half. Unlike Reader it is not positioned by the
// caller: it always appends at its own internal cursor, since every
// section the merger produces is written once, start to finish, in a
// single forward pass (§5).
type Writer interface {
	PutUint8(v uint8)
	PutUint16(v uint16)
	PutUint32(v uint32)
	PutUleb128(v uint32)
	PutUleb128p1(v int32) // writes v+1; writes 0 for NoIndex (-1)
	PutSleb128(v int32)
	PutRawBytes(b []byte)
	// AlignUp pads with zero bytes up to the next multiple of n.
	AlignUp(n int)
	Len() int
	Bytes() []byte
}

// ByteBuffer is a growable, seekable byte buffer usable as both a Reader
// (over an immutable input slice, via NewReader) and a Writer (appending
// to its own backing array, via NewWriter). It is not safe for concurrent
// use; per §5 each merge phase owns its buffers exclusively.
type ByteBuffer struct {
	n   int
	buf []byte
}

// NewReader wraps an existing, fully-populated byte slice for positioned
// reads. The returned ByteBuffer must not be written to.
func NewReader(data []byte) *ByteBuffer { return &ByteBuffer{buf: data} }

// NewWriter returns an empty, growable ByteBuffer for sequential writes.
func NewWriter() *ByteBuffer { return &ByteBuffer{} }

// Seek implements Reader.
func (b *ByteBuffer) Seek(off uint32) { b.n = int(off) }

// Tell implements Reader.
func (b *ByteBuffer) Tell() uint32 { return uint32(b.n) }

// Uint8 implements Reader.
func (b *ByteBuffer) Uint8() uint8 {
	v := b.buf[b.n]
	b.n++
	return v
}

// Uint16 implements Reader.
func (b *ByteBuffer) Uint16() uint16 {
	v := binary.LittleEndian.Uint16(b.buf[b.n:])
	b.n += 2
	return v
}

// Uint32 implements Reader.
func (b *ByteBuffer) Uint32() uint32 {
	v := binary.LittleEndian.Uint32(b.buf[b.n:])
	b.n += 4
	return v
}

// Uleb128 implements Reader.
func (b *ByteBuffer) Uleb128() uint32 {
	var result uint32
	var shift uint
	for {
		byt := b.buf[b.n]
		b.n++
		result |= uint32(byt&0x7f) << shift
		if byt&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result
}

// Uleb128p1 implements Reader.
func (b *ByteBuffer) Uleb128p1() int32 {
	return int32(b.Uleb128()) - 1
}

// Sleb128 implements Reader.
func (b *ByteBuffer) Sleb128() int32 {
	var result int32
	var shift uint
	var byt byte
	for {
		byt = b.buf[b.n]
		b.n++
		result |= int32(byt&0x7f) << shift
		shift += 7
		if byt&0x80 == 0 {
			break
		}
	}
	if shift < 32 && byt&0x40 != 0 {
		result |= -1 << shift
	}
	return result
}

// RawBytes implements Reader.
func (b *ByteBuffer) RawBytes(n int) []byte {
	v := b.buf[b.n : b.n+n]
	b.n += n
	return v
}

// AlignUp implements both Reader and Writer: it advances the cursor to the
// next multiple of n, and if that runs past the end of the buffer (always
// the case on one produced by NewWriter) it grows the buffer and
// zero-pads, exactly as code_item/annotation_set writers require (§4.5,
// §5). On a buffer produced by NewReader it does not check that the
// skipped bytes exist.
func (b *ByteBuffer) AlignUp(n int) {
	rem := b.n % n
	if rem == 0 {
		return
	}
	pad := n - rem
	if b.n+pad > len(b.buf) {
		b.ensure(pad)
		for i := 0; i < pad; i++ {
			b.buf[b.n+i] = 0
		}
	}
	b.n += pad
}

// ensure grows buf so it can hold at least n more bytes past the current
// cursor, exactly as fieldio.byteBuffer.ensure does.
func (b *ByteBuffer) ensure(n int) {
	if cap(b.buf) >= b.n+n {
		if len(b.buf) < b.n+n {
			b.buf = b.buf[:b.n+n]
		}
		return
	}
	newCap := ((b.n+n)/16 + 1) * 16
	if newCap < cap(b.buf)*2 {
		newCap = cap(b.buf) * 2
	}
	newBuf := make([]byte, b.n+n, newCap)
	copy(newBuf, b.buf[:b.n])
	b.buf = newBuf
}

// PutUint8 implements Writer.
func (b *ByteBuffer) PutUint8(v uint8) {
	b.ensure(1)
	b.buf[b.n] = v
	b.n++
}

// PutUint16 implements Writer.
func (b *ByteBuffer) PutUint16(v uint16) {
	b.ensure(2)
	binary.LittleEndian.PutUint16(b.buf[b.n:], v)
	b.n += 2
}

// PutUint32 implements Writer.
func (b *ByteBuffer) PutUint32(v uint32) {
	b.ensure(4)
	binary.LittleEndian.PutUint32(b.buf[b.n:], v)
	b.n += 4
}

// PutUleb128 implements Writer.
func (b *ByteBuffer) PutUleb128(v uint32) {
	for {
		byt := uint8(v & 0x7f)
		v >>= 7
		if v != 0 {
			b.PutUint8(byt | 0x80)
		} else {
			b.PutUint8(byt)
			break
		}
	}
}

// PutUleb128p1 implements Writer.
func (b *ByteBuffer) PutUleb128p1(v int32) {
	b.PutUleb128(uint32(v + 1))
}

// PutSleb128 implements Writer.
func (b *ByteBuffer) PutSleb128(v int32) {
	for {
		byt := uint8(v & 0x7f)
		v >>= 7
		signBitSet := byt&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			b.PutUint8(byt)
			break
		}
		b.PutUint8(byt | 0x80)
	}
}

// PutRawBytes implements Writer, matching fieldio.byteBuffer.PutBytes.
func (b *ByteBuffer) PutRawBytes(data []byte) {
	b.ensure(len(data))
	copy(b.buf[b.n:], data)
	b.n += len(data)
}

// Bytes returns the buffer up to the cursor: everything written so far
// (or, for a Reader, the bytes before the current read position).
func (b *ByteBuffer) Bytes() []byte { return b.buf[:b.n] }

// Len returns len(Bytes()).
func (b *ByteBuffer) Len() int { return b.n }
