// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package dictionary loads the auxiliary dictionary file: one quoted,
// C-escaped byte string per line, used by the mutation engine (out of
// this module's scope) as extra seed material.
package dictionary

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/golang/glog"
)

const (
	// MaxEntryLen bounds a single decoded dictionary entry.
	MaxEntryLen = 256
	// MaxEntries bounds the number of entries loaded from one file.
	MaxEntries = 1 << 15
	// maxPayloadLen bounds the raw (pre-decode) payload read between the
	// first and last quote on a line.
	maxPayloadLen = 1024
)

// Entry is one dictionary word.
type Entry struct {
	Data []byte
	Len  int
}

// Dictionary is the bounded, read-only-after-load collection of entries.
type Dictionary struct {
	Entries []Entry
}

// Load parses path line by line. Lines starting with '#' or blank lines
// are comments. A line must contain a pair of '"' delimiters; everything
// between the first and the last '"' is decoded as a C-string escape
// sequence and truncated to MaxEntryLen. Malformed lines are logged and
// skipped, not fatal. Exceeding MaxEntries logs a warning and stops the
// load early, returning what was gathered so far.
func Load(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dictionary: open %s: %w", path, err)
	}
	defer f.Close()

	d := &Dictionary{}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		first := strings.IndexByte(line, '"')
		last := strings.LastIndexByte(line, '"')
		if first == -1 || last == -1 || first == last {
			glog.Warningf("dictionary: %s:%d: malformed line, no quoted payload", path, lineNo)
			continue
		}
		payload := line[first+1 : last]
		if len(payload) > maxPayloadLen {
			payload = payload[:maxPayloadLen]
		}
		decoded := unescape(payload)
		if len(decoded) == 0 {
			glog.Warningf("dictionary: %s:%d: empty decoded entry", path, lineNo)
			continue
		}
		if len(decoded) > MaxEntryLen {
			decoded = decoded[:MaxEntryLen]
		}
		if len(d.Entries) >= MaxEntries {
			glog.Warningf("dictionary: %s: reached max entry count %d, stopping load", path, MaxEntries)
			break
		}
		d.Entries = append(d.Entries, Entry{Data: decoded, Len: len(decoded)})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dictionary: scan %s: %w", path, err)
	}
	return d, nil
}

// unescape decodes the C-string escape sequences the dictionary format
// recognizes: \n \r \t \0 \\ \" and \xHH.
func unescape(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			out = append(out, c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case '0':
			out = append(out, 0)
		case '\\':
			out = append(out, '\\')
		case '"':
			out = append(out, '"')
		case 'x':
			if i+2 < len(s) {
				if v, ok := hexByte(s[i+1], s[i+2]); ok {
					out = append(out, v)
					i += 2
					continue
				}
			}
			// Malformed \x escape: keep literally.
			out = append(out, '\\', 'x')
		default:
			out = append(out, '\\', s[i])
		}
	}
	return out
}

func hexByte(hi, lo byte) (byte, bool) {
	h, ok1 := hexNibble(hi)
	l, ok2 := hexNibble(lo)
	if !ok1 || !ok2 {
		return 0, false
	}
	return h<<4 | l, true
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
