// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build darwin || linux || freebsd || dragonfly || openbsd || netbsd

package input

import (
	"fmt"
	"os"
)

// fdPath hands external commands a path to the already-open tmp file via
// /dev/fd, so the command sees the exact same file descriptor the caller
// is about to read back from instead of a second independent open.
func fdPath(f *os.File) (path string, cleanup func(), err error) {
	return fmt.Sprintf("/dev/fd/%d", f.Fd()), func() {}, nil
}
