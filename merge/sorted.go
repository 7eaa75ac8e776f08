// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package merge implements the generic, reusable section-pair merger
// (spec §4.2, C3) and its concrete per-section bindings (§4.3, C4). The
// source models the same algorithm as an abstract base class with virtual
// read/write/updateIndex callbacks (§9 "Design notes"); here that becomes
// a small set of plain function values closed over per-call-site state,
// the same shape github.com/grailbio/bio's
// cmd/bio-bam-sort/sorter.internalMergeShards uses for its own
// lock-step/tree merge of sorted runs.
package merge

// OnAdvance is called the moment a source's look-ahead item is consumed:
// oldIdx is its position in that source's section, newIdx is the position
// it will occupy in the merged output (the "current outCount" of §4.2).
// Concrete bindings use this to populate an indexmap.IndexMap entry.
type OnAdvance func(oldIdx int, newIdx int)

// SortedMerge implements the §4.2 "Sorted merge" algorithm: a and b must
// already be sorted according to cmp. It streams one-item look-ahead
// windows from each side, writes the output in sorted order, and
// deduplicates equal items (writing the shared value once while notifying
// both sides' OnAdvance). Runs in O(len(a)+len(b)).
//
// This specializes grailbio-bio's N-way llrb-tree merge
// (sorter.internalMergeShards) to the DEX merger's fixed 2-way case: with
// exactly two inputs, maintaining a 2-node comparison tree and a full
// binary tree are the same operation, so SortedMerge uses direct index
// arithmetic instead of standing up an llrb.Tree (see UnsortedMerge below
// for where the tree genuinely earns its keep, on the harder buffer-sort
// problem).
func SortedMerge[T any](a, b []T, cmp func(T, T) int, onA, onB OnAdvance) []T {
	out := make([]T, 0, len(a)+len(b))
	ai, bi := 0, 0
	outCount := 0
	for ai < len(a) || bi < len(b) {
		aPresent := ai < len(a)
		bPresent := bi < len(b)

		var advanceA, advanceB bool
		switch {
		case aPresent && bPresent:
			c := cmp(a[ai], b[bi])
			advanceA = c <= 0
			advanceB = c >= 0
		case aPresent:
			advanceA = true
		default:
			advanceB = true
		}

		if advanceA {
			onA(ai, outCount)
		}
		if advanceB {
			onB(bi, outCount)
		}

		if advanceA {
			out = append(out, a[ai])
		} else {
			out = append(out, b[bi])
		}
		if advanceA {
			ai++
		}
		if advanceB {
			bi++
		}
		outCount++
	}
	return out
}
