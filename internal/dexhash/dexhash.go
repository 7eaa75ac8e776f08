// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dexhash computes the two header checksums a finished DEX file
// needs: a SHA-1 signature over everything past the header's first 32
// bytes, and an Adler-32 checksum over everything past the first 12
// bytes (magic + checksum field itself). Both are named as an external
// "hasher" collaborator out of scope for the merge algorithm (spec.md
// §1); this is the minimal concrete stand-in, grounded on
// cmd/bio-bam-sort/sorter/sort.go's use of crypto/sha256 for shard
// naming, generalized here to sha1+adler32 for the DEX header fields.
package dexhash

import (
	"crypto/sha1"
	"hash/adler32"
)

// SignatureOffset is the byte offset just past Header.Signature (which
// occupies bytes 12..31 of the 0x70-byte DEX header); everything from
// here to end-of-file is covered by the SHA-1 signature.
const SignatureOffset = 32

// ChecksumOffset is the byte offset just past Header.Checksum (bytes
// 8..11); everything from here on (including the signature) is covered
// by the Adler-32 checksum.
const ChecksumOffset = 12

// Signature computes the SHA-1 over body, where body is the full output
// buffer starting at SignatureOffset (i.e. everything after magic,
// checksum, and the signature field itself is excluded from its own
// input by construction of the caller's slicing).
func Signature(bodyAfterSignature []byte) [20]byte {
	return sha1.Sum(bodyAfterSignature)
}

// Checksum computes the Adler-32 over bodyAfterChecksum, the output
// buffer starting at ChecksumOffset (past magic and the checksum field
// itself, but including the just-computed signature).
func Checksum(bodyAfterChecksum []byte) uint32 {
	return adler32.Checksum(bodyAfterChecksum)
}
