// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dexfile wires the section merger (merge), class topological
// sorter (classorder), class/method/code rewriter (rewrite), and
// writer-sizes estimator (sizing) into a single Merge entry point, and
// owns the Config/Stats/Error surface the rest of the tree programs
// against — the top-level package the way cmd/bio-bam-sort/sorter is
// the top-level package of its merge pipeline.
package dexfile

import (
	"github.com/grailbio/base/errors"
	"github.com/grailbio/dexmerge/classorder"
	"github.com/grailbio/dexmerge/dexio"
	"github.com/grailbio/dexmerge/dexpb"
	"github.com/grailbio/dexmerge/indexmap"
	"github.com/grailbio/dexmerge/merge"
	"github.com/grailbio/dexmerge/rewrite"
	"github.com/grailbio/dexmerge/sizing"
	"v.io/x/lib/vlog"
)

// emptyDexFile is the second input of a compaction self-merge (spec.md
// §4.7): merging the already-produced output against it is a no-op in
// content but forces class_data/code_item/debug_info to be re-encoded
// at their exact post-remap sizes.
var emptyDexFile = &dexpb.DexFile{}

// Merge combines a and b into one well-formed DexFile, following the
// fixed §4.3 section order, then §4.4 class ordering, §4.5/§4.6
// rewriting, and finally §4.7 sizing/compaction.
func Merge(a, b *dexpb.DexFile, cfg Config) (*dexpb.DexFile, *Stats, error) {
	cfg = cfg.fillDefaults()
	out, stats, err := merge1(a, b, cfg)
	if err != nil {
		return nil, nil, err
	}
	pessimistic := sizing.Pessimistic(sectionSizes(a), sectionSizes(b))
	wasted, run := sizing.ShouldCompact(pessimistic, exactSizes(out), 9, cfg.CompactWasteThreshold)
	stats.PessimisticBytes = pessimistic.Total(9)
	stats.WastedBytes = wasted
	if !run {
		return out, stats, nil
	}
	vlog.VI(1).Infof("dexfile: compacting, wasted=%d bytes >= threshold=%d", wasted, cfg.CompactWasteThreshold)
	compactCfg := cfg
	compactCfg.Collision = Fail
	compacted, compactedStats, err := merge1(out, emptyDexFile, compactCfg)
	if err != nil {
		return nil, nil, newError(Alignment, errors.E(err, "compaction self-merge failed"))
	}
	compactedStats.Compacted = true
	compactedStats.PessimisticBytes = stats.PessimisticBytes
	compactedStats.WastedBytes = wasted
	return compacted, compactedStats, nil
}

// merge1 runs one non-compacting merge pass: the §4.3 section merge,
// §4.4 class ordering, and §4.5/§4.6 rewriting. It never triggers
// compaction itself; Merge decides that from the pass's exact sizes.
func merge1(a, b *dexpb.DexFile, cfg Config) (*dexpb.DexFile, *Stats, error) {
	var errOnce errors.Once

	mapA := indexmap.New("A", a.NumStrings(), a.NumTypes(), a.NumProtos(), a.NumFields(), a.NumMethods())
	mapB := indexmap.New("B", b.NumStrings(), b.NumTypes(), b.NumProtos(), b.NumFields(), b.NumMethods())
	rc := indexmap.NewRemovalContext(cfg.RemoveClasses)

	result := merge.Sections(a, b, mapA, mapB, rc)

	classDefsA := rewriteClassDefs(a.ClassDefs, mapA, rc, &errOnce)
	classDefsB := rewriteClassDefs(b.ClassDefs, mapB, rc, &errOnce)
	if err := errOnce.Err(); err != nil {
		return nil, nil, newError(MalformedInput, err)
	}

	finalDefs, err := classorder.Sort(classDefsA, classDefsB, rc, cfg.Collision == KeepFirst)
	if err != nil {
		if classorder.IsCollision(err) {
			return nil, nil, newError(Collision, err)
		}
		return nil, nil, newError(MalformedInput, err)
	}

	out := &dexpb.DexFile{
		StringData:            result.StringData,
		TypeIds:                result.TypeIds,
		ProtoIds:               result.ProtoIds,
		FieldIds:               result.FieldIds,
		MethodIds:              result.MethodIds,
		ClassDefs:              finalDefs,
		TypeLists:              sliceToMap(result.TypeLists, result.TypeListKeys),
		Annotations:            sliceToMap(result.Annotations, result.AnnotationOffsets),
		AnnotationSets:         sliceToMap(result.AnnotationSets, result.AnnotationSetOffsets),
		AnnotationSetRefLists:  sliceToMap(result.AnnotationSetRefLists, result.AnnotationSetRefListOffsets),
		AnnotationDirectories:  sliceToMap(result.AnnotationDirectories, result.AnnotationDirectoryOffsets),
		StaticValues:           sliceToMap(result.StaticValues, result.StaticValuesOffsets),
	}

	stats := &Stats{
		NumStrings:    len(result.StringData),
		NumTypes:      len(result.TypeIds),
		NumProtos:     len(result.ProtoIds),
		NumFields:     len(result.FieldIds),
		NumMethods:    len(result.MethodIds),
		NumClassDefs:  len(finalDefs),
		ExactBytes:    exactSizes(out).Total(9),
	}
	return out, stats, nil
}

// rewriteClassDefs rewrites every non-nil class_def in defs (§4.1: the
// slice is sparse, indexed by old type index) through m, accumulating
// the first error into errOnce rather than stopping at the first
// failure. errOnce keeps only that first error, so a caller sees the
// first malformed class_def a merge pass discovers, not all of them.
func rewriteClassDefs(defs []*dexpb.ClassDef, m *indexmap.IndexMap, rc *indexmap.RemovalContext, errOnce *errors.Once) []*dexpb.ClassDef {
	out := make([]*dexpb.ClassDef, 0, len(defs))
	for _, d := range defs {
		if d == nil {
			continue
		}
		rewritten, err := rewrite.ClassDef(d, m, rc)
		if err != nil {
			errOnce.Set(err)
			continue
		}
		out = append(out, rewritten)
	}
	return out
}

func sliceToMap[T any](values []T, offs []uint32) map[uint32]T {
	out := make(map[uint32]T, len(values))
	for i, v := range values {
		out[offs[i]] = v
	}
	return out
}

// sectionSizes derives a pessimistic-mode sizing.Sections input from one
// input DexFile's raw table-of-contents counts (§4.7).
func sectionSizes(d *dexpb.DexFile) sizing.Sections {
	var code, classData, debugInfo uint64
	for _, cd := range d.ClassDefs {
		if cd == nil {
			continue
		}
		classData += 8 // rough per-class_data header
		for _, em := range cd.ClassData.DirectMethods {
			if em.Code != nil {
				code += uint64(len(em.Code.Insns)) * 2
				if em.Code.DebugInfo != nil {
					debugInfo += uint64(len(em.Code.DebugInfo.Bytecode))
				}
			}
		}
		for _, em := range cd.ClassData.VirtualMethods {
			if em.Code != nil {
				code += uint64(len(em.Code.Insns)) * 2
				if em.Code.DebugInfo != nil {
					debugInfo += uint64(len(em.Code.DebugInfo.Bytecode))
				}
			}
		}
	}
	var typeLists uint64
	for _, tl := range d.TypeLists {
		typeLists += 4 + 2*uint64(len(tl.Types))
	}
	var encodedArrays, annotations, annotationSets, annotationSetRefLists, annotationDirectories uint64
	for _, v := range d.StaticValues {
		encodedArrays += 5 + uint64(len(v.Values))*9
	}
	for range d.Annotations {
		annotations += 11
	}
	for _, s := range d.AnnotationSets {
		annotationSets += 4 + 4*uint64(len(s.AnnotationOffs))
	}
	for _, s := range d.AnnotationSetRefLists {
		annotationSetRefLists += 4 + 4*uint64(len(s.AnnotationSetOffs))
	}
	for _, ad := range d.AnnotationDirectories {
		annotationDirectories += 16 + uint64(len(ad.Fields)+len(ad.Methods)+len(ad.Parameters))*8
	}
	return sizing.Sections{
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

// exactSizes derives the exact-mode sizing.Sections from an
// already-produced output by actually encoding it with dexio and reading
// back the real per-section byte lengths dexio measured, per §4.7's
// second-pass contract: a real write, not another estimate.
func exactSizes(d *dexpb.DexFile) sizing.Sections {
	_, measured := dexio.WriteDexFileSized(d)
	return sizing.Exact(
		measured.TypeLists,
		measured.Code,
		measured.ClassData,
		measured.EncodedArrays,
		measured.Annotations,
		measured.AnnotationSets,
		measured.AnnotationSetRefLists,
		measured.AnnotationDirectories,
		measured.DebugInfo,
	)
}
