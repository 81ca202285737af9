// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package input

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/avfield/hfcorpus/hfuzz"
	"github.com/avfield/hfcorpus/staticcorpus"
)

type fakeOracle struct {
	phase hfuzz.Phase
}

func (f *fakeOracle) Phase() hfuzz.Phase { return f.phase }
func (f *fakeOracle) Terminating() bool  { return false }
func (f *fakeOracle) SocketFuzzer() bool { return false }

// TestPrepareStaticFileGeometricGrowth walks the dry-run growth scenario: a
// single 10 KiB file read in doubling prefixes (1024, 2048, ... 8192) until
// the next doubling would exceed the file size, at which point the whole
// file is read and the reader moves on.
func TestPrepareStaticFileGeometricGrowth(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 10*1024)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(filepath.Join(dir, "seed"), data, 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	static, err := staticcorpus.New(dir, 0)
	if err != nil {
		t.Fatalf("staticcorpus.New: %v", err)
	}
	defer static.Close()

	oracle := &fakeOracle{phase: hfuzz.PhaseDryRun}
	p, err := New(Config{InputDir: dir, Oracle: oracle}, 64*1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.cfg.Static = static
	defer p.Close()

	wantSizes := []int{1024, 2048, 4096, 8192, 10240}
	for i, want := range wantSizes {
		if !p.PrepareStaticFile(false, false) {
			t.Fatalf("PrepareStaticFile failed at step %d", i)
		}
		if got := p.buf.Size(); got != want {
			t.Fatalf("step %d: size = %d, want %d", i, got, want)
		}
	}

	// The file is exhausted at full size; the reader must now move on to
	// the next (nonexistent) file and report exhaustion without rewind.
	if p.PrepareStaticFile(false, false) {
		t.Fatalf("expected exhaustion after the single seed file was fully read")
	}
}

type stubRunner struct {
	exitCode int
	err      error
	output   []byte
	gotPath  string
}

func (s *stubRunner) Run(cmd string, argv []string) (int, error) {
	s.gotPath = argv[0]
	if s.err != nil {
		return 0, s.err
	}
	if s.output != nil {
		if err := os.WriteFile(resolvePath(s.gotPath), s.output, 0o644); err != nil {
			return 0, err
		}
	}
	return s.exitCode, nil
}

// resolvePath returns p unchanged: where fdPath returns the real file name
// it is already writable, and on /dev/fd platforms os.WriteFile works
// through the symlink, since the stub runs in this same process.
func resolvePath(p string) string { return p }

func TestPrepareExternalFileRoundTrip(t *testing.T) {
	work := t.TempDir()
	oracle := &fakeOracle{phase: hfuzz.PhaseDryRun}
	p, err := New(Config{WorkDir: work, Oracle: oracle}, hfuzz.DefaultInputSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	runner := &stubRunner{exitCode: 0, output: []byte("generated by tool")}
	p.cfg.Runner = runner

	if !p.PrepareExternalFile("gen-tool") {
		t.Fatalf("PrepareExternalFile returned false")
	}
	if string(p.buf.Data()) != "generated by tool" {
		t.Fatalf("buf.Data() = %q, want %q", p.buf.Data(), "generated by tool")
	}
}

func TestPrepareExternalFileNonZeroExit(t *testing.T) {
	work := t.TempDir()
	oracle := &fakeOracle{phase: hfuzz.PhaseDryRun}
	p, err := New(Config{WorkDir: work, Oracle: oracle}, hfuzz.DefaultInputSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	p.cfg.Runner = &stubRunner{exitCode: 1}
	if p.PrepareExternalFile("broken-tool") {
		t.Fatalf("expected failure on non-zero exit code")
	}
}

func TestPostProcessFileSeedsCurrentBuffer(t *testing.T) {
	work := t.TempDir()
	oracle := &fakeOracle{phase: hfuzz.PhaseDryRun}
	p, err := New(Config{WorkDir: work, Oracle: oracle}, hfuzz.DefaultInputSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	p.buf.Load([]byte("original"))
	runner := &stubRunner{exitCode: 0, output: []byte("post-processed")}
	p.cfg.Runner = runner

	if !p.PostProcessFile("post-tool") {
		t.Fatalf("PostProcessFile returned false")
	}
	if string(p.buf.Data()) != "post-processed" {
		t.Fatalf("buf.Data() = %q, want %q", p.buf.Data(), "post-processed")
	}
}
