// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus implements the Dynamic Corpus: the in-memory, ordered
// collection of coverage-improving test cases, its sampling cursor,
// insertion rules, and persistence to an output directory.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avfield/hfcorpus/buffer"
	"github.com/avfield/hfcorpus/hfuzz"
)

// Mangler is the mutation engine contract. Invoking it is the only place
// this package hands a buffer off to CPU-only, lock-free work (spec §5:
// "Mutation is CPU-only and never blocks on locks we hold").
type Mangler interface {
	Mangle(buf []byte, size, maxSize int) int
}

// Config configures a DynamicCorpus.
type Config struct {
	// OutputDir receives new entries' persisted files; if empty, InputDir
	// is used instead (spec §4.3.2 step 8).
	OutputDir string
	// InputDir is the fallback persistence directory.
	InputDir string
	// NewCovDir, if non-empty, additionally receives every entry accepted
	// while the phase oracle reports DYNAMIC_MAIN (spec §4.3.2 step 9).
	NewCovDir string
	Oracle    hfuzz.PhaseOracle
}

// DynamicCorpus is the process-wide ordered collection of
// coverage-improving inputs, head = best coverage.
type DynamicCorpus struct {
	mu sync.RWMutex // DC lock: writers exclusive, readers shared.

	head, tail *DynFile
	cursor     *DynFile

	count         atomic.Int64
	maxEntrySize  atomic.Int64
	newUnitsAdded atomic.Int64
	lastCovUpdate atomic.Int64
	testedFileCnt atomic.Int64

	cfg Config
}

// New creates an empty DynamicCorpus.
func New(cfg Config) *DynamicCorpus {
	return &DynamicCorpus{cfg: cfg}
}

// Count returns the number of entries. Safe to read without the lock
// (spec §5: count is one of the atomics read outside the DC lock).
func (dc *DynamicCorpus) Count() int64 { return dc.count.Load() }

// MaxEntrySize returns the largest observed entry size.
func (dc *DynamicCorpus) MaxEntrySize() int64 { return dc.maxEntrySize.Load() }

// NewUnitsAdded returns the count of DYNAMIC_MAIN-phase insertions since
// the counter was last reset (e.g. at the end of a dry-run pass).
func (dc *DynamicCorpus) NewUnitsAdded() int64 { return dc.newUnitsAdded.Load() }

// ResetNewUnitsAdded zeroes the counter, called when a dry-run completes.
func (dc *DynamicCorpus) ResetNewUnitsAdded() { dc.newUnitsAdded.Store(0) }

// LastCovUpdate returns the unix timestamp of the most recent insertion.
func (dc *DynamicCorpus) LastCovUpdate() int64 { return dc.lastCovUpdate.Load() }

// AddDynamicInput implements addDynamicInput (spec §4.3.2): inserts a new
// corpus entry under the write lock, then persists it to disk after
// releasing the lock so the DC lock is held only as long as the in-memory
// bookkeeping takes, not for the duration of the write.
func (dc *DynamicCorpus) AddDynamicInput(data []byte, cov hfuzz.Coverage, path string) {
	now := time.Now().Unix()
	entry := &DynFile{
		Cov:  cov,
		Data: append([]byte(nil), data...),
		Size: len(data),
		Path: path,
	}

	phase := hfuzz.Phase(hfuzz.PhaseDryRun)
	if dc.cfg.Oracle != nil {
		phase = dc.cfg.Oracle.Phase()
	}

	dc.mu.Lock()
	dc.lastCovUpdate.Store(now)
	entry.Idx = int(dc.count.Load())
	if phase == hfuzz.PhaseDynamicMain {
		dc.pushHead(entry)
		dc.cursor = entry
	} else {
		dc.insertSorted(entry)
	}
	dc.count.Add(1)
	if int64(entry.Size) > dc.maxEntrySize.Load() {
		dc.maxEntrySize.Store(int64(entry.Size))
	}
	dc.mu.Unlock()

	socketFuzzer := dc.cfg.Oracle != nil && dc.cfg.Oracle.SocketFuzzer()
	if socketFuzzer || phase == hfuzz.PhaseMinimize {
		return
	}

	dir := dc.cfg.OutputDir
	if dir == "" {
		dir = dc.cfg.InputDir
	}
	if dir != "" {
		if err := writeCovFile(dir, entry.Data); err != nil {
			glog.Warningf("corpus: failed to persist new entry: %v", err)
		}
	}

	if phase == hfuzz.PhaseDynamicMain {
		dc.newUnitsAdded.Add(1)
		if dc.cfg.NewCovDir != "" {
			if err := writeCovFile(dc.cfg.NewCovDir, entry.Data); err != nil {
				glog.Warningf("corpus: failed to persist new entry to new-coverage dir: %v", err)
			}
		}
	}
}

// pushHead splices entry in as the new head. Caller holds the write lock.
func (dc *DynamicCorpus) pushHead(entry *DynFile) {
	entry.next = dc.head
	entry.prev = nil
	if dc.head != nil {
		dc.head.prev = entry
	}
	dc.head = entry
	if dc.tail == nil {
		dc.tail = entry
	}
}

// insertSorted inserts entry before the first existing entry it strictly
// beats by Cov.Cmp, or appends to the tail if it beats none. Caller holds
// the write lock.
func (dc *DynamicCorpus) insertSorted(entry *DynFile) {
	for cur := dc.head; cur != nil; cur = cur.next {
		if entry.Cov.Beats(cur.Cov) {
			dc.insertBefore(entry, cur)
			return
		}
	}
	dc.appendTail(entry)
}

func (dc *DynamicCorpus) insertBefore(entry, at *DynFile) {
	entry.prev = at.prev
	entry.next = at
	if at.prev != nil {
		at.prev.next = entry
	} else {
		dc.head = entry
	}
	at.prev = entry
}

func (dc *DynamicCorpus) appendTail(entry *DynFile) {
	entry.prev = dc.tail
	entry.next = nil
	if dc.tail != nil {
		dc.tail.next = entry
	} else {
		dc.head = entry
	}
	dc.tail = entry
}

// RenumerateInputs restores the idx invariant (spec §4.3.6, I2): walking
// head to tail, idx strictly decreases from count down to 1. Call this
// after any operation that may have disturbed the coverage-sort
// invariant, in particular after a batch of DYNAMIC_MAIN insertions.
func (dc *DynamicCorpus) RenumerateInputs() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	n := int(dc.count.Load())
	for cur := dc.head; cur != nil; cur = cur.next {
		cur.Idx = n
		n--
	}
}

// PrepareDynamicInput implements prepareDynamicInput (spec §4.3.4): draws
// the cursor entry, bumps its test count, advances the cursor once it has
// been sampled numTests(idx, count) times, then copies its bytes into buf
// and optionally hands buf to mangler. It is fatal to call this against
// an empty corpus.
func (dc *DynamicCorpus) PrepareDynamicInput(buf *buffer.DynamicBuffer, needsMangle bool, mangler Mangler) {
	if dc.count.Load() == 0 {
		glog.Fatalf("corpus: PrepareDynamicInput called on an empty corpus")
	}

	dc.mu.Lock()
	total := dc.count.Load()
	if dc.cursor == nil {
		dc.cursor = dc.head
	}
	current := dc.cursor
	testCnt := numTests(current.Idx, int(total))
	current.Tested++
	dc.testedFileCnt.Add(1)
	if current.Tested >= uint32(testCnt) {
		current.Tested = 0
		dc.cursor = dc.cursor.next
	}
	data := current.Data
	dc.mu.Unlock()

	buf.Load(data)
	if needsMangle && mangler != nil {
		n := mangler.Mangle(buf.Bytes(), buf.Size(), buf.MaxInputSz())
		buf.SetSize(n)
	}
}

// PrepareDynamicFileForMinimization implements
// prepareDynamicFileForMinimization (spec §4.3.7): advances the cursor
// one step (seeding it to head if none), loads the advanced entry into
// buf, and returns its origin path. done is true once the cursor runs off
// the tail.
func (dc *DynamicCorpus) PrepareDynamicFileForMinimization(buf *buffer.DynamicBuffer) (origFileName string, done bool) {
	dc.mu.Lock()
	if dc.cursor == nil {
		dc.cursor = dc.head
	} else {
		dc.cursor = dc.cursor.next
	}
	cur := dc.cursor
	dc.mu.Unlock()

	if cur == nil {
		return "", true
	}
	buf.Load(cur.Data)
	return cur.Path, false
}

// NumTestsForDisplay exposes numTests for CLI reporting of the sampling
// distribution; the engine itself only ever calls the unexported form.
func NumTestsForDisplay(idx, total int) int { return numTests(idx, total) }

// numTests implements input_numTests (spec §4.3.5): entries in higher
// percentiles of the corpus get tested more often per pass.
func numTests(idx, total int) int {
	if idx > total {
		glog.Fatalf("corpus: numTests: idx %d exceeds total %d", idx, total)
	}
	if total == 0 {
		return 1
	}
	p := idx * 100 / total
	switch {
	case p <= 90:
		return 1
	case p <= 92:
		return 2
	case p <= 94:
		return 3
	case p <= 96:
		return 4
	case p <= 98:
		return 5
	default:
		return 10
	}
}

// writeCovFile implements spec §4.3.3: name the file by content identity
// and write it with an exclusive create so a name collision is treated as
// "already present," never an overwrite.
func writeCovFile(dir string, data []byte) error {
	name := covFileName(data)
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return nil // already present, successful no-op
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// LoadDir seeds the corpus from a pre-existing coverage-output directory:
// walks it, parses each *.honggfuzz.cov filename back into its
// (forward CRC64, reverse CRC64, length) triple, reads the file, verifies
// the content still hashes and sizes to that triple, and re-inserts it via
// AddDynamicInput. Anything that isn't a *.honggfuzz.cov name, or whose
// content no longer matches the name it's stored under, is skipped with a
// warning rather than loaded — the content-addressed name is the only
// proof of identity this directory offers, so a mismatch means the file
// was renamed, truncated, or corrupted since it was written.
func (dc *DynamicCorpus) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("corpus: readdir %s: %w", dir, err)
	}
	loaded := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fwd, rev, length, ok := parseCovFileName(e.Name())
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			glog.Warningf("corpus: failed to read %s: %v", e.Name(), err)
			continue
		}
		if len(data) != length || crc64Forward(data) != fwd || crc64Reverse(data) != rev {
			glog.Warningf("corpus: %s: content does not match its content-addressed name, skipping", e.Name())
			continue
		}
		dc.AddDynamicInput(data, hfuzz.Coverage{}, e.Name())
		loaded++
	}
	return loaded, nil
}

// Stats is a point-in-time snapshot of the atomically-tracked counters,
// used both by the Prometheus collectors and by a CLI stats line.
type Stats struct {
	Count         int64
	MaxEntrySize  int64
	NewUnitsAdded int64
	LastCovUpdate int64
	TestedFileCnt int64
}

// Stats returns a snapshot.
func (dc *DynamicCorpus) Stats() Stats {
	return Stats{
		Count:         dc.count.Load(),
		MaxEntrySize:  dc.maxEntrySize.Load(),
		NewUnitsAdded: dc.newUnitsAdded.Load(),
		LastCovUpdate: dc.lastCovUpdate.Load(),
		TestedFileCnt: dc.testedFileCnt.Load(),
	}
}

// Describe/Collect implement prometheus.Collector, exposing the same
// atomics the engine already maintains for spec §5's outside-the-lock
// visibility requirement — no duplicate bookkeeping.
var (
	corpusCountDesc   = prometheus.NewDesc("hfcorpus_dynamic_corpus_count", "Number of entries in the dynamic corpus.", nil, nil)
	maxEntrySizeDesc  = prometheus.NewDesc("hfcorpus_dynamic_corpus_max_entry_size_bytes", "Largest observed corpus entry size.", nil, nil)
	newUnitsAddedDesc = prometheus.NewDesc("hfcorpus_dynamic_corpus_new_units_added", "New coverage-improving entries added since the last dry-run completion.", nil, nil)
	lastCovUpdateDesc = prometheus.NewDesc("hfcorpus_dynamic_corpus_last_cov_update_timestamp", "Unix timestamp of the most recent corpus insertion.", nil, nil)
	testedFileCntDesc = prometheus.NewDesc("hfcorpus_dynamic_corpus_tested_file_total", "Total number of times an entry has been drawn for testing.", nil, nil)
)

func (dc *DynamicCorpus) Describe(ch chan<- *prometheus.Desc) {
	ch <- corpusCountDesc
	ch <- maxEntrySizeDesc
	ch <- newUnitsAddedDesc
	ch <- lastCovUpdateDesc
	ch <- testedFileCntDesc
}

func (dc *DynamicCorpus) Collect(ch chan<- prometheus.Metric) {
	s := dc.Stats()
	ch <- prometheus.MustNewConstMetric(corpusCountDesc, prometheus.GaugeValue, float64(s.Count))
	ch <- prometheus.MustNewConstMetric(maxEntrySizeDesc, prometheus.GaugeValue, float64(s.MaxEntrySize))
	ch <- prometheus.MustNewConstMetric(newUnitsAddedDesc, prometheus.GaugeValue, float64(s.NewUnitsAdded))
	ch <- prometheus.MustNewConstMetric(lastCovUpdateDesc, prometheus.GaugeValue, float64(s.LastCovUpdate))
	ch <- prometheus.MustNewConstMetric(testedFileCntDesc, prometheus.CounterValue, float64(s.TestedFileCnt))
}
