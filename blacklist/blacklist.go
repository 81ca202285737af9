// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package blacklist loads the auxiliary blacklist file: one base-16
// uint64 stack hash per line (an optional 0x/0X prefix is tolerated),
// required to be in ascending order.
package blacklist

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Blacklist is the ascending-sorted sequence of stack hashes.
type Blacklist struct {
	Entries []uint64
}

// Contains reports whether hash appears in the blacklist, via binary
// search since Entries is guaranteed sorted.
func (b *Blacklist) Contains(hash uint64) bool {
	lo, hi := 0, len(b.Entries)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case b.Entries[mid] == hash:
			return true
		case b.Entries[mid] < hash:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}

// Load parses path, one uint64 per line, always in base 16 (an optional
// 0x/0X prefix is accepted but not required, matching the source's
// strtoull(lineptr, 0, 16)). Entries are appended in file order; after
// appending entry k (k >= 1), if entries[k-1] > entries[k], load fails
// with an error describing the sort violation. An empty file after load
// is also an error.
func Load(path string) (*Blacklist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blacklist: open %s: %w", path, err)
	}
	defer f.Close()

	b := &Blacklist{}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		hex := line
		if len(hex) > 1 && hex[0] == '0' && (hex[1] == 'x' || hex[1] == 'X') {
			hex = hex[2:]
		}
		v, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("blacklist: %s:%d: %q is not a valid uint64: %w", path, lineNo, line, err)
		}
		b.Entries = append(b.Entries, v)
		if k := len(b.Entries) - 1; k >= 1 && b.Entries[k-1] > b.Entries[k] {
			return nil, fmt.Errorf("blacklist: %s:%d: blacklist not sorted (0x%x > 0x%x)", path, lineNo, b.Entries[k-1], b.Entries[k])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("blacklist: scan %s: %w", path, err)
	}
	if len(b.Entries) == 0 {
		return nil, fmt.Errorf("blacklist: %s: empty after load", path)
	}
	return b, nil
}
