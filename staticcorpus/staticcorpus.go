// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package staticcorpus implements the Static Corpus Reader: a thread-safe,
// round-robin reader over a directory of input files, used during the
// dry-run phase to seed the dynamic corpus.
package staticcorpus

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avfield/hfcorpus/hfuzz"
)

// Reader is the process-wide, mutex-protected handle on the input
// directory. One instance is shared by every worker.
type Reader struct {
	mu  sync.Mutex
	dir *os.File
	pos int
	// names is the snapshot of regular-file entries taken at the last
	// rescan; getNext walks it in order and rewind re-takes the snapshot.
	names []string

	inputDir string
	maxFileSz int // operator ceiling; 0 means unset

	count      atomic.Int64
	maxInputSz atomic.Int64
}

// New opens inputDir as the shared directory handle and performs the
// initial scan. maxFileSz is the operator-supplied ceiling on individual
// file size (0 means no ceiling). It implements spec's init(hfuzz).
func New(inputDir string, maxFileSz int) (*Reader, error) {
	if inputDir == "" {
		return nil, fmt.Errorf("staticcorpus: input directory not configured")
	}
	dir, err := os.Open(inputDir)
	if err != nil {
		return nil, fmt.Errorf("staticcorpus: open input dir: %w", err)
	}
	r := &Reader{dir: dir, inputDir: inputDir, maxFileSz: maxFileSz}
	if err := r.getDirStatsAndRewind(); err != nil {
		r.count.Store(0)
		dir.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the shared directory handle.
func (r *Reader) Close() error {
	return r.dir.Close()
}

// Count returns the number of regular files observed at the last scan.
// It is safe to read concurrently with GetNext.
func (r *Reader) Count() int64 {
	return r.count.Load()
}

// MaxInputSz returns the derived buffer ceiling from the last scan.
func (r *Reader) MaxInputSz() int64 {
	return r.maxInputSz.Load()
}

// InputDir returns the directory this reader scans.
func (r *Reader) InputDir() string {
	return r.inputDir
}

// GetNext returns the next regular file name in round-robin order, or
// ("", false) if the directory is exhausted and rewind is false. If
// rewind is true and the directory is exhausted, it rescans the directory
// once via getDirStatsAndRewind and retries.
func (r *Reader) GetNext(rewind bool) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pos >= len(r.names) {
		if !rewind {
			return "", false
		}
		if err := r.getDirStatsAndRewindLocked(); err != nil {
			glog.Warningf("staticcorpus: rescan on rewind failed: %v", err)
			return "", false
		}
		if r.pos >= len(r.names) {
			return "", false
		}
	}
	name := r.names[r.pos]
	r.pos++
	return name, true
}

// getDirStatsAndRewind rewinds the directory, walks all regular files,
// counts them, and derives maxInputSz from the observed maximum size. A
// directory with no regular files is an error.
func (r *Reader) getDirStatsAndRewind() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getDirStatsAndRewindLocked()
}

func (r *Reader) getDirStatsAndRewindLocked() error {
	if _, err := r.dir.Seek(0, 0); err != nil {
		return fmt.Errorf("staticcorpus: rewind dir: %w", err)
	}
	entries, err := r.dir.ReadDir(-1)
	if err != nil {
		return fmt.Errorf("staticcorpus: readdir: %w", err)
	}

	var names []string
	var maxSize int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			glog.Warningf("staticcorpus: stat %s: %v", e.Name(), err)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if r.maxFileSz > 0 && info.Size() > int64(r.maxFileSz) {
			glog.Warningf("staticcorpus: %s is %d bytes, exceeds ceiling %d", e.Name(), info.Size(), r.maxFileSz)
		}
		// Files exceeding the ceiling are still counted and still
		// considered for the observed maximum; the ceiling is applied
		// only once, when deriving maxInputSz below.
		if info.Size() > maxSize {
			maxSize = info.Size()
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return fmt.Errorf("staticcorpus: no usable files in %s", r.inputDir)
	}

	r.names = names
	r.pos = 0
	r.count.Store(int64(len(names)))
	r.maxInputSz.Store(deriveMaxInputSz(r.maxFileSz, maxSize))
	return nil
}

// Describe/Collect implement prometheus.Collector over the same atomics
// GetNext already maintains, mirroring the collector added to
// DynamicCorpus for the same spec §5 visibility requirement.
var (
	staticCountDesc      = prometheus.NewDesc("hfcorpus_static_corpus_count", "Number of regular files observed at the last directory scan.", nil, nil)
	staticMaxInputSzDesc = prometheus.NewDesc("hfcorpus_static_corpus_max_input_size_bytes", "Derived buffer ceiling from the last directory scan.", nil, nil)
)

func (r *Reader) Describe(ch chan<- *prometheus.Desc) {
	ch <- staticCountDesc
	ch <- staticMaxInputSzDesc
}

func (r *Reader) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(staticCountDesc, prometheus.GaugeValue, float64(r.Count()))
	ch <- prometheus.MustNewConstMetric(staticMaxInputSzDesc, prometheus.GaugeValue, float64(r.MaxInputSz()))
}

// deriveMaxInputSz implements spec §4.2's clamping rule.
func deriveMaxInputSz(ceiling int, observedMax int64) int64 {
	switch {
	case ceiling > 0:
		return int64(ceiling)
	case observedMax < hfuzz.DefaultInputSize:
		return hfuzz.DefaultInputSize
	case observedMax > hfuzz.MaxInputSize:
		return hfuzz.MaxInputSize
	default:
		return observedMax
	}
}
