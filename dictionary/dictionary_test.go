// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package dictionary

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dict.txt")
	contents := "# comment\n\"\"\n\"abc\"\nkw=\"de\\x41f\"\n\"\\n\"\nbroken\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"abc", "deAf", "\n"}
	if len(d.Entries) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(d.Entries), len(want), d.Entries)
	}
	for i, w := range want {
		if string(d.Entries[i].Data) != w {
			t.Errorf("entry %d = %q, want %q", i, d.Entries[i].Data, w)
		}
		if d.Entries[i].Len != len(w) {
			t.Errorf("entry %d len = %d, want %d", i, d.Entries[i].Len, len(w))
		}
	}
}

func TestLoadTruncatesLongEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dict.txt")
	long := make([]byte, MaxEntryLen+50)
	for i := range long {
		long[i] = 'a'
	}
	if err := os.WriteFile(path, append([]byte{'"'}, append(long, '"')...), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(d.Entries) != 1 || d.Entries[0].Len != MaxEntryLen {
		t.Fatalf("expected one entry truncated to %d, got %+v", MaxEntryLen, d.Entries)
	}
}
