// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package indexmap

// RemovalContext threads the optional class-removal feature (§6 "Optional
// class removal") through the merge phases without resorting to the
// source's global mutable fields (mergeType, classToRemove,
// classIdToRemove, typeIdToRemove). One
// RemovalContext is shared by both inputs' merge phases for the duration
// of a single Merge call.
type RemovalContext struct {
	// Descriptors is the caller-supplied set of fully-qualified type
	// descriptors (e.g. "Ltest/Type1;") to exclude from the output.
	Descriptors map[string]bool

	// removedNewStringIdx holds the *new* (post-merge) string index of
	// every descriptor string in Descriptors, populated during the
	// stringId merge phase.
	removedNewStringIdx map[int32]bool

	// removedNewTypeIdx holds the *new* type index of every type whose
	// descriptor string is in Descriptors, populated during the typeId
	// merge phase.
	removedNewTypeIdx map[int32]bool
}

// NewRemovalContext builds a RemovalContext for the given set of
// descriptors to drop; a nil or empty set means "remove nothing".
func NewRemovalContext(descriptors []string) *RemovalContext {
	set := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		set[d] = true
	}
	return &RemovalContext{
		Descriptors:         set,
		removedNewStringIdx: make(map[int32]bool),
		removedNewTypeIdx:   make(map[int32]bool),
	}
}

// Active reports whether any class removal was requested.
func (r *RemovalContext) Active() bool { return len(r.Descriptors) > 0 }

// NoteString is called once per emitted string_data entry during the
// stringId merge phase (phase 1 of §9's removal design). If the string
// equals one of the removal descriptors, its new index is recorded.
func (r *RemovalContext) NoteString(newIdx int32, value string) {
	if !r.Active() {
		return
	}
	if r.Descriptors[value] {
		r.removedNewStringIdx[newIdx] = true
	}
}

// NoteType is called once per emitted typeId entry during the typeId merge
// phase (phase 2): if the type's (already-remapped) string index was
// flagged by NoteString, the type's own new index is recorded too.
func (r *RemovalContext) NoteType(newIdx int32, newStringIdx int32) {
	if !r.Active() {
		return
	}
	if r.removedNewStringIdx[newStringIdx] {
		r.removedNewTypeIdx[newIdx] = true
	}
}

// IsTypeRemoved reports whether the given (new) type index names a class
// to be excluded from the output (phase 3: consulted by classorder.Sort,
// which drops the class_defs of removed types while building its
// sortable types, and by rewrite.ClassDef, which rejects a class whose
// superclass or interfaces name a removed type).
func (r *RemovalContext) IsTypeRemoved(newTypeIdx int32) bool {
	return r.removedNewTypeIdx[newTypeIdx]
}
