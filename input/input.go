// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package input implements the Input Preparer: the façade workers call to
// get their next test case, choosing between the static and dynamic
// corpora based on the fuzzer's phase, and optionally routing the result
// through an external pre/post-processing command or the mutation engine.
package input

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"

	"github.com/avfield/hfcorpus/buffer"
	"github.com/avfield/hfcorpus/corpus"
	"github.com/avfield/hfcorpus/hfuzz"
	"github.com/avfield/hfcorpus/staticcorpus"
)

// CommandRunner is the subproc contract: a synchronous exec whose exit
// code the caller interprets. 0 means success. The mutation engine and
// the actual subprocess machinery both live outside this module (spec
// §1); this is the opaque seam the Input Preparer calls through.
type CommandRunner interface {
	Run(cmd string, argv []string) (exitCode int, err error)
}

// Config wires a Preparer to its collaborators.
type Config struct {
	InputDir string
	WorkDir  string
	Oracle   hfuzz.PhaseOracle
	Static   *staticcorpus.Reader
	Dynamic  *corpus.DynamicCorpus
	Mangler  corpus.Mangler
	Runner   CommandRunner
}

// Preparer is the per-worker façade. Each worker owns one, along with its
// own DynamicBuffer; the static reader and dynamic corpus it draws from
// are shared.
type Preparer struct {
	cfg Config
	buf *buffer.DynamicBuffer

	// staticFileTryMore and currentFile are per-worker dry-run state
	// (spec §4.6.1): whether the current static file is still being read
	// in growing prefixes, and which file that is.
	staticFileTryMore bool
	currentFile       string
}

// New creates a Preparer with its own DynamicBuffer sized to maxInputSz.
func New(cfg Config, maxInputSz int) (*Preparer, error) {
	buf, err := buffer.New(maxInputSz)
	if err != nil {
		return nil, fmt.Errorf("input: allocate buffer: %w", err)
	}
	return &Preparer{cfg: cfg, buf: buf}, nil
}

// Buffer returns the worker's DynamicBuffer, the prepared bytes live here
// after any Prepare* call returns true.
func (p *Preparer) Buffer() *buffer.DynamicBuffer { return p.buf }

// Close tears down the worker's buffer.
func (p *Preparer) Close() error { return p.buf.Close() }

// PrepareStaticFile implements prepareStaticFile (spec §4.6.1): the
// dry-run sourcing path. It returns false when the static corpus is
// exhausted (and rewind was false) or the chosen file could not be read.
func (p *Preparer) PrepareStaticFile(rewind, needsMangle bool) bool {
	phase := p.cfg.Oracle.Phase()
	minimize := phase == hfuzz.PhaseMinimize

	var targetSz int
	loadNew := false
	switch {
	case phase != hfuzz.PhaseDryRun || minimize:
		targetSz = p.buf.MaxInputSz()
		loadNew = true
	case !p.staticFileTryMore:
		p.staticFileTryMore = true
		targetSz = min(1024, p.buf.MaxInputSz())
		loadNew = true
	default:
		targetSz = p.buf.Size() * 2
		if targetSz >= p.buf.MaxInputSz() {
			targetSz = p.buf.MaxInputSz()
			p.staticFileTryMore = false
		}
	}

	if loadNew {
		name, ok := p.cfg.Static.GetNext(rewind)
		if !ok {
			return false
		}
		p.currentFile = name
	}

	data, n, err := readPrefix(filepath.Join(p.cfg.InputDir, p.currentFile), targetSz)
	if err != nil {
		glog.Warningf("input: failed to read static file %s: %v", p.currentFile, err)
		return false
	}
	if n < targetSz {
		p.staticFileTryMore = false
	}
	p.buf.Load(data[:n])

	if needsMangle && p.cfg.Mangler != nil {
		written := p.cfg.Mangler.Mangle(p.buf.Bytes(), p.buf.Size(), p.buf.MaxInputSz())
		p.buf.SetSize(written)
	}
	return true
}

// PrepareDynamicInput implements the Input Preparer's DYNAMIC_MAIN path:
// draw the next entry from the dynamic corpus and optionally mutate it.
func (p *Preparer) PrepareDynamicInput(needsMangle bool) {
	p.cfg.Dynamic.PrepareDynamicInput(p.buf, needsMangle, p.cfg.Mangler)
}

// PrepareDynamicFileForMinimization implements the minimize-phase walk.
func (p *Preparer) PrepareDynamicFileForMinimization() (origFileName string, done bool) {
	return p.cfg.Dynamic.PrepareDynamicFileForMinimization(p.buf)
}

// RemoveStaticFile implements removeStaticFile (spec §4.6.4): used when
// minimization rejects a case. Errors are logged, not fatal.
func RemoveStaticFile(dir, name string) {
	if err := os.Remove(filepath.Join(dir, name)); err != nil {
		glog.Warningf("input: failed to remove static file %s: %v", name, err)
	}
}

// readPrefix reads up to n bytes from path, returning the bytes read and
// the actual count (which may be less than n for a short file).
func readPrefix(path string, n int) ([]byte, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := f.Read(buf[read:])
		read += m
		if err != nil {
			break // EOF or real error; either way, we have what we have.
		}
	}
	return buf, read, nil
}
