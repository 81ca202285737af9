// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import "github.com/avfield/hfcorpus/hfuzz"

// DynFile is one entry in the dynamic corpus: an immutable test case plus
// the bookkeeping the selection algorithm needs.
//
// Data never mutates after insertion. It belongs to exactly one
// DynamicCorpus, linked in by prev/next (the owned doubly-linked sequence
// described in spec's design notes as a replacement for an intrusive
// tail queue).
type DynFile struct {
	Cov    hfuzz.Coverage
	Data   []byte
	Size   int
	Idx    int
	Tested uint32
	Path   string

	prev, next *DynFile
}
