// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package input

import (
	"os"

	"github.com/golang/glog"
)

// PrepareExternalFile implements prepareExternalFile (spec §4.6.2): write
// an empty tmp file, hand it to a configured external command as a path
// the command can open and write into, then read back whatever the
// command produced.
func (p *Preparer) PrepareExternalFile(cmd string) bool {
	return p.runExternal(cmd, false)
}

// PostProcessFile implements postProcessFile (spec §4.6.3): identical
// shape to PrepareExternalFile, but seeds the tmp file with the worker's
// current buffer contents first so the command post-processes what's
// already there.
func (p *Preparer) PostProcessFile(cmd string) bool {
	return p.runExternal(cmd, true)
}

func (p *Preparer) runExternal(cmd string, seed bool) bool {
	f, err := os.CreateTemp(p.cfg.WorkDir, "hfcorpus-ext")
	if err != nil {
		glog.Warningf("input: failed to create tmp file for %s: %v", cmd, err)
		return false
	}
	name := f.Name()
	defer os.Remove(name)
	defer f.Close()

	if seed {
		if _, err := f.Write(p.buf.Data()); err != nil {
			glog.Warningf("input: failed to seed tmp file for %s: %v", cmd, err)
			return false
		}
		if _, err := f.Seek(0, 0); err != nil {
			glog.Warningf("input: failed to rewind tmp file for %s: %v", cmd, err)
			return false
		}
	}

	path, cleanup, err := fdPath(f)
	if err != nil {
		glog.Warningf("input: failed to prepare fd path for %s: %v", cmd, err)
		return false
	}
	defer cleanup()

	exitCode, err := p.cfg.Runner.Run(cmd, []string{path})
	if err != nil {
		glog.Warningf("input: external command %s failed: %v", cmd, err)
		return false
	}
	if exitCode != 0 {
		glog.Warningf("input: external command %s exited with code %d", cmd, exitCode)
		return false
	}

	if _, err := f.Seek(0, 0); err != nil {
		glog.Warningf("input: failed to seek tmp file after %s: %v", cmd, err)
		return false
	}
	data, n, err := readAllUpTo(f, p.buf.MaxInputSz())
	if err != nil {
		glog.Warningf("input: failed to read tmp file after %s: %v", cmd, err)
		return false
	}
	p.buf.Load(data[:n])
	return true
}

func readAllUpTo(f *os.File, max int) ([]byte, int, error) {
	buf := make([]byte, max)
	read := 0
	for read < max {
		n, err := f.Read(buf[read:])
		read += n
		if err != nil {
			break
		}
	}
	return buf, read, nil
}
