// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/grailbio/dexmerge/dexfile"
	"github.com/grailbio/testutil/expect"
)

func TestParseCollision(t *testing.T) {
	expect.EQ(t, dexfile.KeepFirst, parseCollision("keep-first"))
	expect.EQ(t, dexfile.Fail, parseCollision("fail"))
}

func TestRemoveClassesFlagAccumulates(t *testing.T) {
	var f removeClassesFlag
	expect.NoError(t, f.Set("Lcom/example/Foo;"))
	expect.NoError(t, f.Set("Lcom/example/Bar;"))
	expect.EQ(t, []string{"Lcom/example/Foo;", "Lcom/example/Bar;"}, []string(f))
	expect.EQ(t, "Lcom/example/Foo;,Lcom/example/Bar;", f.String())
}
