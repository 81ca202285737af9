// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/avfield/hfcorpus/buffer"
	"github.com/avfield/hfcorpus/hfuzz"
)

type fakeOracle struct {
	phase   hfuzz.Phase
	socket  bool
	minimze bool
}

func (f *fakeOracle) Phase() hfuzz.Phase { return f.phase }
func (f *fakeOracle) Terminating() bool  { return false }
func (f *fakeOracle) SocketFuzzer() bool { return f.socket }

func cov(a, b, c, d uint64) hfuzz.Coverage { return hfuzz.Coverage{a, b, c, d} }

func pathsInOrder(dc *DynamicCorpus) []string {
	var out []string
	for cur := dc.head; cur != nil; cur = cur.next {
		out = append(out, cur.Path)
	}
	return out
}

func TestOrderingOnInsertNonMain(t *testing.T) {
	dir := t.TempDir()
	dc := New(Config{OutputDir: dir, Oracle: &fakeOracle{phase: hfuzz.PhaseDryRun}})

	dc.AddDynamicInput([]byte("A"), cov(5, 0, 0, 0), "A")
	dc.AddDynamicInput([]byte("B"), cov(5, 1, 0, 0), "B")
	dc.AddDynamicInput([]byte("C"), cov(4, 9, 9, 9), "C")

	got := pathsInOrder(dc)
	want := []string{"B", "A", "C"}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestHeadInsertInDynamicMain(t *testing.T) {
	dir := t.TempDir()
	oracle := &fakeOracle{phase: hfuzz.PhaseDryRun}
	dc := New(Config{OutputDir: dir, Oracle: oracle})

	dc.AddDynamicInput([]byte("A"), cov(5, 0, 0, 0), "A")
	dc.AddDynamicInput([]byte("B"), cov(5, 1, 0, 0), "B")
	dc.AddDynamicInput([]byte("C"), cov(4, 9, 9, 9), "C")
	// Corpus is now [B, A, C].

	oracle.phase = hfuzz.PhaseDynamicMain
	dc.AddDynamicInput([]byte("D"), cov(0, 0, 0, 0), "D")

	got := pathsInOrder(dc)
	want := []string{"D", "B", "A", "C"}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if dc.cursor == nil || dc.cursor.Path != "D" {
		t.Fatalf("cursor = %v, want D", dc.cursor)
	}
}

func TestRenumerateInputs(t *testing.T) {
	dir := t.TempDir()
	dc := New(Config{OutputDir: dir, Oracle: &fakeOracle{phase: hfuzz.PhaseDryRun}})
	dc.AddDynamicInput([]byte("A"), cov(3, 0, 0, 0), "A")
	dc.AddDynamicInput([]byte("B"), cov(2, 0, 0, 0), "B")
	dc.AddDynamicInput([]byte("C"), cov(1, 0, 0, 0), "C")

	dc.RenumerateInputs()

	n := int(dc.Count())
	want := n
	for cur := dc.head; cur != nil; cur = cur.next {
		if cur.Idx != want {
			t.Fatalf("idx = %d, want %d for %s", cur.Idx, want, cur.Path)
		}
		want--
	}
	if dc.tail.Idx != 1 {
		t.Fatalf("tail idx = %d, want 1", dc.tail.Idx)
	}
}

func TestNumTestsBiasedSampling(t *testing.T) {
	cases := []struct {
		idx, total, want int
	}{
		{0, 100, 1},
		{50, 100, 1},
		{90, 100, 1},
		{91, 100, 2},
		{95, 100, 4},
		{99, 100, 10},
		{100, 100, 10},
	}
	for _, c := range cases {
		got := numTests(c.idx, c.total)
		if got != c.want {
			t.Errorf("numTests(%d, %d) = %d, want %d", c.idx, c.total, got, c.want)
		}
	}
}

func TestNumTestsNonDecreasing(t *testing.T) {
	total := 200
	prev := numTests(0, total)
	for idx := 1; idx <= total; idx++ {
		cur := numTests(idx, total)
		if cur < prev {
			t.Fatalf("numTests(%d, %d) = %d < numTests(%d, %d) = %d", idx, total, cur, idx-1, total, prev)
		}
		prev = cur
	}
}

func TestWriteCovFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	data := []byte("round trip me")
	if err := writeCovFile(dir, data); err != nil {
		t.Fatalf("writeCovFile: %v", err)
	}
	name := covFileName(data)
	got, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("round trip = %q, want %q", got, data)
	}

	// Second write of the same bytes is a no-op, not an error, not a dup.
	if err := writeCovFile(dir, data); err != nil {
		t.Fatalf("second writeCovFile: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dir has %d entries, want 1", len(entries))
	}
}

func TestPrepareDynamicInputCopiesOneEntry(t *testing.T) {
	dir := t.TempDir()
	dc := New(Config{OutputDir: dir, Oracle: &fakeOracle{phase: hfuzz.PhaseDryRun}})
	dc.AddDynamicInput([]byte("only"), cov(1, 0, 0, 0), "only")

	buf, err := buffer.New(hfuzz.DefaultInputSize)
	if err != nil {
		t.Fatalf("buffer.New: %v", err)
	}
	defer buf.Close()

	dc.PrepareDynamicInput(buf, false, nil)
	if string(buf.Data()) != "only" {
		t.Fatalf("buf.Data() = %q, want %q", buf.Data(), "only")
	}
}

func TestPrepareDynamicFileForMinimizationWalksOnce(t *testing.T) {
	dir := t.TempDir()
	dc := New(Config{OutputDir: dir, Oracle: &fakeOracle{phase: hfuzz.PhaseDryRun}})
	dc.AddDynamicInput([]byte("A"), cov(2, 0, 0, 0), "A")
	dc.AddDynamicInput([]byte("B"), cov(1, 0, 0, 0), "B")

	buf, err := buffer.New(hfuzz.DefaultInputSize)
	if err != nil {
		t.Fatalf("buffer.New: %v", err)
	}
	defer buf.Close()

	var gotPaths []string
	for {
		path, done := dc.PrepareDynamicFileForMinimization(buf)
		if done {
			break
		}
		gotPaths = append(gotPaths, path)
	}
	if len(gotPaths) != 2 {
		t.Fatalf("walked %d entries, want 2: %v", len(gotPaths), gotPaths)
	}
}

func TestLoadDirRoundTrips(t *testing.T) {
	dir := t.TempDir()
	dc := New(Config{OutputDir: dir, Oracle: &fakeOracle{phase: hfuzz.PhaseDryRun}})
	dc.AddDynamicInput([]byte("alpha"), cov(1, 0, 0, 0), "alpha")
	dc.AddDynamicInput([]byte("beta"), cov(2, 0, 0, 0), "beta")

	dc2 := New(Config{Oracle: &fakeOracle{phase: hfuzz.PhaseDryRun}})
	n, err := dc2.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if n != 2 {
		t.Fatalf("LoadDir loaded %d, want 2", n)
	}
	if dc2.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", dc2.Count())
	}
}

func TestLoadDirSkipsNonCovAndCorruptedFiles(t *testing.T) {
	dir := t.TempDir()
	dc := New(Config{OutputDir: dir, Oracle: &fakeOracle{phase: hfuzz.PhaseDryRun}})
	dc.AddDynamicInput([]byte("alpha"), cov(1, 0, 0, 0), "alpha")

	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not a corpus entry"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "deadbeefdeadbeefdeadbeefdeadbeef.00000005.honggfuzz.cov"), []byte("xxxxx"), 0o644); err != nil {
		t.Fatalf("write bogus-named cov file: %v", err)
	}

	dc2 := New(Config{Oracle: &fakeOracle{phase: hfuzz.PhaseDryRun}})
	n, err := dc2.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if n != 1 {
		t.Fatalf("LoadDir loaded %d, want 1 (stray and mismatched-name files must be skipped)", n)
	}
}
