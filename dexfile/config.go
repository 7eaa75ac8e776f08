// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dexfile

import "github.com/grailbio/dexmerge/sizing"

const defaultCompactWasteThreshold = sizing.DefaultCompactWasteThreshold

// CollisionPolicy selects how Merge resolves two class_defs for the
// same type index appearing in both inputs (spec.md §6).
type CollisionPolicy int

const (
	// KeepFirst retains A's definition and silently drops B's.
	KeepFirst CollisionPolicy = iota
	// Fail aborts with a Collision error naming the duplicated type.
	Fail
)

// DefaultParallelism mirrors sorter.DefaultParallelism's role: a
// parallelism hint carried in Config for a future concurrent writer,
// unused by the current single-threaded merge (§5).
const DefaultParallelism = 1

// Config controls a Merge invocation. The zero value is usable:
// fillDefaults populates CompactWasteThreshold and Parallelism.
type Config struct {
	// Collision selects KEEP_FIRST or FAIL policy for class_def index
	// collisions between A and B.
	Collision CollisionPolicy

	// RemoveClasses names fully-qualified type descriptors (for example
	// "Ltest/Type1;") to exclude from the output. The removal propagates
	// through string ids, type ids, and class_defs per spec.md §6.
	RemoveClasses []string

	// CompactWasteThreshold is the byte count at or above which the
	// pessimistic/exact waste triggers a compaction pass (sizing.ShouldCompact).
	// 0 means DefaultCompactWasteThreshold.
	CompactWasteThreshold uint64

	// Parallelism is accepted but not used: the merge pipeline is
	// single-threaded (spec.md §5), and Stats does not record it.
	Parallelism int
}

func (c Config) fillDefaults() Config {
	if c.CompactWasteThreshold == 0 {
		c.CompactWasteThreshold = defaultCompactWasteThreshold
	}
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultParallelism
	}
	return c
}
