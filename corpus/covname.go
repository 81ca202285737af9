// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"hash/crc64"
	"strings"
)

const covFileSuffix = ".honggfuzz.cov"

// The rest of the original repo's util_CRC64/util_CRC64Rev helpers live
// outside this module's scope (spec §1, §6); the content-addressed naming
// scheme still needs them, so this package carries the two fixed-polynomial
// variants itself. hash/crc64's ISO table gives identical output across
// platforms, satisfying spec §6's output-directory stability requirement.
var crcTable = crc64.MakeTable(crc64.ISO)

// crc64Forward is util_CRC64: the CRC64 of data in its natural order.
func crc64Forward(data []byte) uint64 {
	return crc64.Checksum(data, crcTable)
}

// crc64Reverse is util_CRC64Rev: the CRC64 of data read back to front.
// Combined with the forward CRC64, the pair gives a low-collision content
// identity cheap enough to use as a filesystem existence check.
func crc64Reverse(data []byte) uint64 {
	rev := make([]byte, len(data))
	for i, b := range data {
		rev[len(data)-1-i] = b
	}
	return crc64.Checksum(rev, crcTable)
}

// covFileName implements the naming scheme from spec §6:
// {16-hex crc64-forward}{16-hex crc64-reverse}.{8-hex length}.honggfuzz.cov
func covFileName(data []byte) string {
	return formatCovFileName(crc64Forward(data), crc64Reverse(data), len(data))
}

func formatCovFileName(fwd, rev uint64, length int) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16+16+1+8+len(covFileSuffix))
	i := 0
	i += putHex64(buf[i:], fwd, hexDigits)
	i += putHex64(buf[i:], rev, hexDigits)
	buf[i] = '.'
	i++
	i += putHex32(buf[i:], uint32(length), hexDigits)
	i += copy(buf[i:], covFileSuffix)
	return string(buf[:i])
}

// parseCovFileName reverses formatCovFileName, recovering the
// (forward CRC64, reverse CRC64, length) triple encoded in a
// *.honggfuzz.cov name. ok is false for anything that doesn't match the
// exact {16hex}{16hex}.{8hex}.honggfuzz.cov shape.
func parseCovFileName(name string) (fwd, rev uint64, length int, ok bool) {
	name, hasSuffix := strings.CutSuffix(name, covFileSuffix)
	if !hasSuffix || len(name) != 16+16+1+8 || name[32] != '.' {
		return 0, 0, 0, false
	}
	fwd, ok1 := parseHex64(name[0:16])
	rev, ok2 := parseHex64(name[16:32])
	l, ok3 := parseHex32(name[33:41])
	if !ok1 || !ok2 || !ok3 {
		return 0, 0, 0, false
	}
	return fwd, rev, int(l), true
}

func parseHex64(s string) (uint64, bool) {
	var v uint64
	for i := 0; i < len(s); i++ {
		n, ok := hexNibbleValue(s[i])
		if !ok {
			return 0, false
		}
		v = v<<4 | uint64(n)
	}
	return v, true
}

func parseHex32(s string) (uint32, bool) {
	v, ok := parseHex64(s)
	return uint32(v), ok
}

func hexNibbleValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

func putHex64(buf []byte, v uint64, digits string) int {
	for i := 0; i < 16; i++ {
		shift := uint(60 - i*4)
		buf[i] = digits[(v>>shift)&0xf]
	}
	return 16
}

func putHex32(buf []byte, v uint32, digits string) int {
	for i := 0; i < 8; i++ {
		shift := uint(28 - i*4)
		buf[i] = digits[(v>>shift)&0xf]
	}
	return 8
}
