// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dexfile

import "fmt"

// Kind classifies a Merge failure into the five fatal taxa of spec.md §7,
// for callers that inspect it. cmd/dexmerge does not: it reports any
// Merge error through log.Panicf as is.
type Kind int

const (
	// MalformedInput covers corrupt headers, truncated sections,
	// inconsistent offsets, and cyclic class hierarchies.
	MalformedInput Kind = iota
	// IndexOverflow is a remapped type/proto/field/method id >= 0x10000.
	IndexOverflow
	// Collision is a duplicate class_def under the Fail policy.
	Collision
	// Alignment indicates a bug in this merger, not bad input: a
	// section's write cursor landed somewhere the layout invariants
	// forbid.
	Alignment
	// IO covers failures opening, reading, or writing the underlying
	// byte streams.
	IO
)

func (k Kind) String() string {
	switch k {
	case MalformedInput:
		return "malformed input"
	case IndexOverflow:
		return "index overflow"
	case Collision:
		return "class collision"
	case Alignment:
		return "alignment"
	case IO:
		return "I/O"
	default:
		return "unknown"
	}
}

// Error is the typed error Merge returns. The range and offset checks in
// package indexmap panic through vlog.Panicf instead, and Merge does not
// recover those panics into an Error.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("dexfile: %v: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("dexfile: %v", e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}
