package main

// dexmerge combines two .dex files into one, the way Android build tools'
// own multidex mergers do, resolving class_def collisions and optionally
// dropping named classes from the output.
//
// Usage: dexmerge [flags] <out.dex> <a.dex> <b.dex>

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/dexmerge/dexfile"
	"github.com/grailbio/dexmerge/dexio"
	"github.com/grailbio/dexmerge/dexpb"
	"v.io/x/lib/vlog"
)

type removeClassesFlag []string

func (f *removeClassesFlag) String() string { return strings.Join(*f, ",") }
func (f *removeClassesFlag) Set(v string) error {
	*f = append(*f, v)
	return nil
}

var (
	collisionFlag = flag.String("collision", "keep-first",
		"How to resolve a class_def present in both inputs: keep-first or fail")
	removeClasses removeClassesFlag
	compactThresholdFlag = flag.Uint64("compact-threshold", 0,
		"Wasted-byte threshold that triggers a compaction pass; 0 means the built-in default")
	quietFlag = flag.Bool("quiet", false, "Suppress the merge-stats summary on success")
)

func init() {
	flag.Var(&removeClasses, "remove-class", "Fully-qualified type descriptor to drop from the output, e.g. Lcom/example/Foo;. May be repeated.")
}

func parseCollision(s string) dexfile.CollisionPolicy {
	switch s {
	case "keep-first":
		return dexfile.KeepFirst
	case "fail":
		return dexfile.Fail
	default:
		log.Panicf("-collision must be keep-first or fail, got %q", s)
		return dexfile.KeepFirst
	}
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	flag.Usage = func() {
		os.Stderr.WriteString(`Usage:
  dexmerge [flags] <out.dex> <a.dex> <b.dex>

Merges a.dex and b.dex into out.dex: string, type, proto, field and method
tables are unioned and deduplicated, class_defs are combined and
topologically reordered by inheritance depth, and bytecode/debug-info
operands are remapped into the merged index space. A class_def present
in both inputs is resolved per -collision.

`)
		flag.PrintDefaults()
	}
	shutdown := grail.Init()
	defer shutdown()

	args := flag.Args()
	if len(args) != 3 {
		flag.Usage()
		os.Exit(1)
	}
	outPath, aPath, bPath := args[0], args[1], args[2]

	cfg := dexfile.Config{
		Collision:             parseCollision(*collisionFlag),
		RemoveClasses:         removeClasses,
		CompactWasteThreshold: *compactThresholdFlag,
	}

	vlog.VI(1).Infof("dexmerge: reading %v and %v", aPath, bPath)
	a := readInput(aPath)
	b := readInput(bPath)

	out, stats, err := dexfile.Merge(a, b, cfg)
	if err != nil {
		log.Panicf("merge %v + %v: %v", aPath, bPath, err)
	}

	writeOutput(outPath, out)

	if !*quietFlag {
		fmt.Fprintf(os.Stderr,
			"dexmerge: %s: %d strings, %d types, %d protos, %d fields, %d methods, %d class_defs "+
				"(exact %d bytes, pessimistic %d bytes, wasted %d bytes, compacted=%v)\n",
			outPath, stats.NumStrings, stats.NumTypes, stats.NumProtos, stats.NumFields,
			stats.NumMethods, stats.NumClassDefs, stats.ExactBytes, stats.PessimisticBytes,
			stats.WastedBytes, stats.Compacted)
	}
}

func readInput(path string) *dexpb.DexFile {
	ctx := vcontext.Background()
	f, err := file.Open(ctx, path)
	if err != nil {
		log.Panicf("open %v: %v", path, err)
	}
	defer func() {
		if err := f.Close(ctx); err != nil {
			log.Panicf("close %v: %v", path, err)
		}
	}()
	data, err := ioutil.ReadAll(f.Reader(ctx))
	if err != nil {
		log.Panicf("read %v: %v", path, err)
	}
	d, err := dexio.ReadDexFile(data)
	if err != nil {
		log.Panicf("parse %v: %v", path, err)
	}
	return d
}

func writeOutput(path string, d *dexpb.DexFile) {
	ctx := vcontext.Background()
	out, err := file.Create(ctx, path)
	if err != nil {
		log.Panicf("create %v: %v", path, err)
	}
	if _, err := out.Writer(ctx).Write(dexio.WriteDexFile(d)); err != nil {
		log.Panicf("write %v: %v", path, err)
	}
	if err := out.Close(ctx); err != nil {
		log.Panicf("close %v: %v", path, err)
	}
}
