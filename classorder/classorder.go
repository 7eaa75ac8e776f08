// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package classorder implements the class_def topological sorter (spec
// §4.4, C5): classes must be emitted such that every supertype and
// implemented interface precedes its subclass.
package classorder

import (
	"sort"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/dexmerge/dexpb"
	"github.com/grailbio/dexmerge/indexmap"
)

// SortableType is the lightweight shell spec §3 describes: a
// (class_def, type_index, depth) tuple used only during
// topological sort. depth is unassigned (-1) until tryAssignDepth
// succeeds for it.
type SortableType struct {
	TypeIdx int32
	Def     *dexpb.ClassDef
	depth   int
}

const depthUnassigned = -1

// Sort builds the union of classes from a and b (new-type-index keyed),
// applies the collision policy, consults rc for class removal, assigns
// topological depths, and returns class_defs in final emission order.
//
// keepFirst lets dexfile.Merge supply the §6 KEEP_FIRST (true) / FAIL
// (false) behavior without this package importing the top-level config type.
func Sort(classDefsA, classDefsB []*dexpb.ClassDef, rc *indexmap.RemovalContext, keepFirst bool) ([]*dexpb.ClassDef, error) {
	byType := make(map[int32]*dexpb.ClassDef)
	order := []int32{} // preserves first-seen order for a stable fallback

	add := func(defs []*dexpb.ClassDef) error {
		for _, d := range defs {
			if d == nil {
				continue
			}
			if rc != nil && rc.IsTypeRemoved(d.ClassIdx) {
				continue
			}
			if existing, ok := byType[d.ClassIdx]; ok {
				if keepFirst {
					_ = existing // A's definition, already stored, wins
					continue
				}
				return errors.E(errCollision{d.ClassIdx})
			}
			byType[d.ClassIdx] = d
			order = append(order, d.ClassIdx)
		}
		return nil
	}
	if err := add(classDefsA); err != nil {
		return nil, err
	}
	if err := add(classDefsB); err != nil {
		return nil, err
	}

	sortable := make(map[int32]*SortableType, len(byType))
	for typeIdx, def := range byType {
		sortable[typeIdx] = &SortableType{TypeIdx: typeIdx, Def: def, depth: depthUnassigned}
	}

	if err := assignDepths(sortable); err != nil {
		return nil, err
	}

	out := make([]*SortableType, 0, len(sortable))
	for _, st := range sortable {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].depth != out[j].depth {
			return out[i].depth < out[j].depth
		}
		return out[i].TypeIdx < out[j].TypeIdx
	})

	defs := make([]*dexpb.ClassDef, len(out))
	for i, st := range out {
		defs[i] = st.Def
	}
	return defs, nil
}

// assignDepths implements §4.4: repeatedly scan all sortable types;
// attempt tryAssignDepth on each with an unassigned depth; succeed iff
// every referenced supertype/interface is either not sortable (depth 0)
// or already assigned. Iterate until a full scan makes no progress. If
// any type remains unassigned, the class hierarchy is cyclic — a fatal
// MalformedInput error (§7).
func assignDepths(sortable map[int32]*SortableType) error {
	remaining := len(sortable)
	for remaining > 0 {
		progressed := false
		for _, st := range sortable {
			if st.depth != depthUnassigned {
				continue
			}
			if d, ok := tryAssignDepth(st, sortable); ok {
				st.depth = d
				remaining--
				progressed = true
			}
		}
		if !progressed {
			return errors.E(errCyclicHierarchy{})
		}
	}
	return nil
}

// tryAssignDepth computes 1+max(referenced depths) for st's supertype and
// interfaces, treating any type not in the sortable set as depth 0. It
// fails (returns ok=false) if any referenced sortable type's depth is
// still unassigned.
func tryAssignDepth(st *SortableType, sortable map[int32]*SortableType) (int, bool) {
	maxDepth := -1
	consider := func(typeIdx int32) bool {
		if typeIdx == dexpb.NoIndex {
			return true
		}
		ref, ok := sortable[typeIdx]
		if !ok {
			// Externally-referenced type: depth 0.
			if maxDepth < 0 {
				maxDepth = 0
			}
			return true
		}
		if ref.depth == depthUnassigned {
			return false
		}
		if ref.depth > maxDepth {
			maxDepth = ref.depth
		}
		return true
	}
	if !consider(st.Def.SuperclassIdx) {
		return 0, false
	}
	for _, iface := range st.Def.Interfaces.Types {
		if !consider(iface) {
			return 0, false
		}
	}
	if maxDepth < 0 {
		maxDepth = 0
	}
	return maxDepth + 1, true
}

// errCollision and errCyclicHierarchy are the Collision and MalformedInput
// fatal error taxa of spec §7, surfaced through github.com/grailbio/base/
// errors.E the way encoding/fasta reports a malformed input.
type errCollision struct{ typeIdx int32 }

func (e errCollision) Error() string {
	return "duplicate class definition for type index " + strconv.Itoa(int(e.typeIdx))
}

type errCyclicHierarchy struct{}

func (errCyclicHierarchy) Error() string {
	return "cyclic class hierarchy: some class_defs' supertype/interface chain never terminates"
}

// IsCollision reports whether err (or a cause it wraps) is the duplicate
// class_def error Sort returns under the Fail policy. dexfile.Merge uses
// this to pick the Collision error Kind rather than MalformedInput.
func IsCollision(err error) bool {
	type causer interface{ Unwrap() error }
	for err != nil {
		if _, ok := err.(errCollision); ok {
			return true
		}
		c, ok := err.(causer)
		if !ok {
			return false
		}
		err = c.Unwrap()
	}
	return false
}
