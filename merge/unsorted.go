// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package merge

import (
	"github.com/biogo/store/llrb"
)

// TaggedItem is one (source, old byte offset, value) triple read from a
// source section ahead of an unsorted merge (§4.2 "Unsorted merge").
type TaggedItem[T any] struct {
	// Source is 0 for the A input, 1 for B.
	Source int
	OldOff uint32
	Value  T
}

// UnsortedGroup is every (source, old offset) that collapsed onto the same
// deduplicated output value, in the order they were encountered.
type UnsortedGroup struct {
	Source []int
	OldOff []uint32
}

// unsortedEntry adapts one TaggedItem, plus a global insertion sequence,
// into llrb.Comparable. The sequence number breaks ties the same way
// sorter.mergeLeaf.Compare does ("return l.seq - l1.seq"), giving the
// stable sort the algorithm requires without a separate stable-sort pass.
type unsortedEntry struct {
	source int
	off    uint32
	seq    int64
	cmp    func(a, b any) int
	value  any
}

func (e *unsortedEntry) Compare(c llrb.Comparable) int {
	o := c.(*unsortedEntry)
	if d := e.cmp(e.value, o.value); d != 0 {
		return d
	}
	return int(e.seq - o.seq)
}

// UnsortedMerge implements the §4.2 "Unsorted merge" algorithm: buffer
// every item from both sources, stable-sort by value using the same
// llrb.Tree machinery grailbio-bio's sorter uses for its sorted-run merge
// (generalized here from a streaming k-way merge to a one-shot
// full-buffer sort, since an unsorted section has no pre-existing run
// structure to exploit), then emit one output item per run of equal
// values.
//
// It returns the deduplicated values in sort order plus, for each, the
// full group of (source, old offset) pairs that collapsed onto it. Byte
// offsets in the merged output section are section-specific (they depend
// on each record's encoded size), so UnsortedMerge deliberately stops
// short of assigning them: the caller (a §4.3 specialization) lays out
// out[i] with its own size estimate (assignOffsets), then uses
// groups[i] to populate both IndexMaps via PutXxxOffset.
func UnsortedMerge[T any](a, b []TaggedItem[T], cmp func(T, T) int) (out []T, groups []UnsortedGroup) {
	tree := llrb.Tree{}
	var seq int64
	insert := func(items []TaggedItem[T]) {
		for _, it := range items {
			tree.Insert(&unsortedEntry{
				source: it.Source,
				off:    it.OldOff,
				seq:    seq,
				value:  it.Value,
				cmp:    func(x, y any) int { return cmp(x.(T), y.(T)) },
			})
			seq++
		}
	}
	insert(a)
	insert(b)

	var run []*unsortedEntry
	flush := func() {
		if len(run) == 0 {
			return
		}
		g := UnsortedGroup{}
		for _, e := range run {
			g.Source = append(g.Source, e.source)
			g.OldOff = append(g.OldOff, e.off)
		}
		out = append(out, run[0].value.(T))
		groups = append(groups, g)
		run = run[:0]
	}
	tree.Do(func(item llrb.Comparable) bool {
		e := item.(*unsortedEntry)
		if len(run) > 0 && cmp(run[0].value.(T), e.value.(T)) != 0 {
			flush()
		}
		run = append(run, e)
		return true
	})
	flush()
	return out, groups
}
