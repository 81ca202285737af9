// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build !darwin && !linux && !freebsd && !dragonfly && !openbsd && !netbsd

package input

import "os"

// fdPath falls back to the tmp file's own name; platforms without /dev/fd
// have no cheaper way to hand a command the same descriptor.
func fdPath(f *os.File) (path string, cleanup func(), err error) {
	return f.Name(), func() {}, nil
}
