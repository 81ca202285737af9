// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package buffer implements the per-worker DynamicBuffer: an mmap-backed,
// resizable byte buffer that is the I/O contract between the engine and
// the target program.
package buffer

import (
	"fmt"
	"os"

	"github.com/golang/glog"
)

// DynamicBuffer is a per-worker buffer backed by a memory-mapped file. The
// mapping is allocated once at maxInputSz capacity to avoid remap churn;
// size is the authoritative length workers and the target agree on
// out-of-band.
type DynamicBuffer struct {
	f          *os.File
	mem        []byte // len(mem) == maxInputSz, the full mapping
	size       int
	maxInputSz int
}

// New creates a DynamicBuffer backed by a fresh temp file mapped at
// maxInputSz capacity. The file is unlinked from the directory immediately
// after mapping on platforms that support it; callers don't need to name
// or clean it up.
func New(maxInputSz int) (*DynamicBuffer, error) {
	if maxInputSz <= 0 {
		return nil, fmt.Errorf("buffer: maxInputSz must be positive, got %d", maxInputSz)
	}
	f, err := os.CreateTemp("", "hfcorpus-buf")
	if err != nil {
		return nil, fmt.Errorf("buffer: create backing file: %w", err)
	}
	if err := f.Truncate(int64(maxInputSz)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("buffer: truncate backing file: %w", err)
	}
	mem, err := createMapping(f, maxInputSz)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("buffer: mmap backing file: %w", err)
	}
	name := f.Name()
	db := &DynamicBuffer{f: f, mem: mem, maxInputSz: maxInputSz}
	// Best-effort: once mapped, the name is no longer needed on POSIX.
	// A failure here just leaves a temp file around; not fatal.
	if err := os.Remove(name); err != nil {
		glog.Warningf("buffer: failed to unlink backing file %s: %v", name, err)
	}
	return db, nil
}

// MaxInputSz returns the mapping's fixed capacity.
func (b *DynamicBuffer) MaxInputSz() int {
	return b.maxInputSz
}

// Size returns the current authoritative length.
func (b *DynamicBuffer) Size() int {
	return b.size
}

// SetSize updates the authoritative length. It is idempotent when n ==
// size. It is fatal for the caller to request n > maxInputSz: that is a
// programming error, not an I/O condition, so it is reported via glog.Fatalf.
// The backing file is truncated to n bytes on a best-effort basis; failure
// to truncate is logged but not fatal, since the mapping itself stays at
// capacity and size remains authoritative regardless.
func (b *DynamicBuffer) SetSize(n int) {
	if n == b.size {
		return
	}
	if n > b.maxInputSz {
		glog.Fatalf("buffer: requested size %d exceeds maxInputSz %d", n, b.maxInputSz)
	}
	if err := truncate(b.f, n); err != nil {
		glog.Warningf("buffer: failed to truncate backing file to %d bytes: %v", n, err)
	}
	b.size = n
}

// Bytes returns a writable view of the full maxInputSz-length mapping.
// Callers must only write into [0, Size()); bytes past Size() are
// undefined and may be stale data from a previous input.
func (b *DynamicBuffer) Bytes() []byte {
	return b.mem
}

// Data returns the authoritative [0, Size()) slice of the mapping.
func (b *DynamicBuffer) Data() []byte {
	return b.mem[:b.size]
}

// Load copies data into the buffer, setting the authoritative size to
// len(data). It is fatal if data doesn't fit within maxInputSz.
func (b *DynamicBuffer) Load(data []byte) {
	if len(data) > b.maxInputSz {
		glog.Fatalf("buffer: input of %d bytes exceeds maxInputSz %d", len(data), b.maxInputSz)
	}
	b.SetSize(len(data))
	copy(b.mem[:len(data)], data)
}

// Close tears down the mapping and backing file descriptor.
func (b *DynamicBuffer) Close() error {
	if err := destroyMapping(b.mem); err != nil {
		return err
	}
	return b.f.Close()
}
