// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build darwin || linux || freebsd || dragonfly || openbsd || netbsd

package buffer

import (
	"os"
	"syscall"
)

func createMapping(f *os.File, size int) ([]byte, error) {
	return syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
}

func destroyMapping(mem []byte) error {
	if mem == nil {
		return nil
	}
	return syscall.Munmap(mem)
}

// truncate resizes the backing file. ftruncate on a file with an active
// mmap is permitted on these platforms and the mapping's length stays at
// maxInputSz, but after shrinking, pages of the mapping that lie wholly
// past the new end of file are no longer backed by it: touching them
// raises SIGBUS until the file is grown again.
func truncate(f *os.File, n int) error {
	return f.Truncate(int64(n))
}
