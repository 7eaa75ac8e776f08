// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sizing implements the writer-sizes estimator and compaction
// driver (spec §4.7, C8): a pessimistic first-pass byte budget for each
// output section (so the writer can allocate once), an exact second-pass
// accounting from an already-produced output, and the compaction
// decision that re-merges against an empty DEX once the exact sizes are
// known.
package sizing

// MapItemSize is the encoded size in bytes of one map_list entry
// (u16 type, u16 unused, u32 size, u32 offset).
const MapItemSize = 12

// Pessimistic multipliers applied to the sum of A's and B's
// table-of-contents byte counts for a kind whose encoded width can grow
// after index remap (a ULEB128 field/method/type/string index may need
// one more byte once renumbered into the merged space).
const (
	codeMultiplier          = 1.25
	classDataMultiplier     = 1.34
	encodedArrayMultiplier  = 2.0
	annotationMultiplier    = 2.0
	debugInfoMultiplier     = 2.0
)

// Sections lists the byte-sized kinds the estimator tracks. Kinds not
// listed here (string_data, type_ids, proto_ids, field_ids, method_ids,
// class_defs) have fixed per-entry widths and need no multiplier; their
// contribution is exact in both passes.
type Sections struct {
	TypeLists             uint64
	Code                  uint64
	ClassData             uint64
	EncodedArrays         uint64
	Annotations           uint64
	AnnotationSets        uint64
	AnnotationSetRefLists uint64
	AnnotationDirectories uint64
	DebugInfo             uint64
}

// Pessimistic computes the first-pass byte budget for each multiplied
// kind from the sum of A's and B's table-of-contents counts, aligning
// typeList and code estimates up to 4 bytes as §4.7 specifies.
func Pessimistic(a, b Sections) Sections {
	sum := Sections{
		TypeLists:             a.TypeLists + b.TypeLists,
		Code:                  a.Code + b.Code,
		ClassData:             a.ClassData + b.ClassData,
		EncodedArrays:         a.EncodedArrays + b.EncodedArrays,
		Annotations:           a.Annotations + b.Annotations,
		AnnotationSets:        a.AnnotationSets + b.AnnotationSets,
		AnnotationSetRefLists: a.AnnotationSetRefLists + b.AnnotationSetRefLists,
		AnnotationDirectories: a.AnnotationDirectories + b.AnnotationDirectories,
		DebugInfo:             a.DebugInfo + b.DebugInfo,
	}
	return Sections{
		TypeLists:             alignUp4(sum.TypeLists),
		Code:                  alignUp4(scale(sum.Code, codeMultiplier)),
		ClassData:             scale(sum.ClassData, classDataMultiplier),
		EncodedArrays:         scale(sum.EncodedArrays, encodedArrayMultiplier),
		Annotations:           scale(sum.Annotations, annotationMultiplier),
		AnnotationSets:        sum.AnnotationSets,
		AnnotationSetRefLists: sum.AnnotationSetRefLists,
		AnnotationDirectories: sum.AnnotationDirectories,
		DebugInfo:             scale(sum.DebugInfo, debugInfoMultiplier),
	}
}

func scale(n uint64, mult float64) uint64 {
	return uint64((float64(n)*mult)+0.999999) // round up
}

func alignUp4(n uint64) uint64 {
	return (n + 3) &^ 3
}

// Total sums every tracked section, plus a fixed map_list size computed
// from the number of non-empty section kinds present (§4.7: "uint + the
// number of sections × MAP_ITEM" — the leading uint is the map_list's
// own entry-count field).
func (s Sections) Total(numNonEmptySections int) uint64 {
	mapListSize := uint64(4 + numNonEmptySections*MapItemSize)
	return s.TypeLists + s.Code + s.ClassData + s.EncodedArrays + s.Annotations +
		s.AnnotationSets + s.AnnotationSetRefLists + s.AnnotationDirectories + s.DebugInfo + mapListSize
}

// Exact computes the second-pass byte accounting directly from the
// produced output's own section lengths — no multiplier, since these are
// the real encoded sizes.
func Exact(typeLists, code, classData, encodedArrays, annotations, annotationSets, annotationSetRefLists, annotationDirectories, debugInfo uint64) Sections {
	return Sections{
		TypeLists:             typeLists,
		Code:                  code,
		ClassData:             classData,
		EncodedArrays:         encodedArrays,
		Annotations:           annotations,
		AnnotationSets:        annotationSets,
		AnnotationSetRefLists: annotationSetRefLists,
		AnnotationDirectories: annotationDirectories,
		DebugInfo:             debugInfo,
	}
}

// ShouldCompact reports whether the waste between a pessimistic estimate
// and the exact size actually produced meets the configured threshold
// (§6: default 1 MiB). A negative waste (exact exceeded the pessimistic
// budget, which should never happen if the multipliers are sound) is
// treated as zero rather than triggering compaction, since compaction
// cannot recover space that was never over-allocated.
func ShouldCompact(pessimistic, exact Sections, numNonEmptySections int, thresholdBytes uint64) (wasted uint64, run bool) {
	p := pessimistic.Total(numNonEmptySections)
	e := exact.Total(numNonEmptySections)
	if e >= p {
		return 0, false
	}
	wasted = p - e
	return wasted, wasted >= thresholdBytes
}

// DefaultCompactWasteThreshold is the §6 default compact-waste
// threshold: 1 MiB.
const DefaultCompactWasteThreshold = 1 << 20
