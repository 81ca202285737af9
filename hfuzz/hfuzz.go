// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package hfuzz holds the small vocabulary shared by every corpus-engine
// package: the coverage vector, the fuzzer's phase, and the input-size
// constants that bound DynamicBuffer and the static corpus scan.
package hfuzz

const (
	// DefaultInputSize is the floor maxInputSz is clamped to when the
	// static corpus contains nothing bigger.
	DefaultInputSize = 8 << 10
	// MaxInputSize is the ceiling maxInputSz is clamped to absent an
	// operator-supplied override.
	MaxInputSize = 1 << 20
)

// Coverage is the four-counter feedback vector attached to every corpus
// entry. Counters are compared lexicographically, left to right; higher
// is better.
type Coverage [4]uint64

// Cmp returns 1 if a beats b, -1 if b beats a, and 0 if they tie.
func (a Coverage) Cmp(b Coverage) int {
	for i := range a {
		switch {
		case a[i] > b[i]:
			return 1
		case a[i] < b[i]:
			return -1
		}
	}
	return 0
}

// Beats reports whether a strictly beats b under Cmp.
func (a Coverage) Beats(b Coverage) bool {
	return a.Cmp(b) > 0
}

// Phase mirrors the surrounding fuzzer's state machine. The corpus engine
// only ever reads it through a PhaseOracle.
type Phase int

const (
	PhaseDryRun Phase = iota
	PhaseDynamicMain
	PhaseMinimize
)

func (p Phase) String() string {
	switch p {
	case PhaseDryRun:
		return "DRY_RUN"
	case PhaseDynamicMain:
		return "DYNAMIC_MAIN"
	case PhaseMinimize:
		return "MINIMIZE"
	default:
		return "UNKNOWN"
	}
}

// PhaseOracle is the read-only view of the surrounding fuzzer's state
// machine that the corpus engine consults. It never mutates anything here;
// the state machine itself lives outside this module's scope.
type PhaseOracle interface {
	Phase() Phase
	// Terminating reports whether the run is shutting down. Workers check
	// it cooperatively between cases; no operation here is interrupted
	// mid-flight.
	Terminating() bool
	// SocketFuzzer reports whether the run is in socket-fuzzer mode, which
	// suppresses on-disk persistence of new dynamic corpus entries.
	SocketFuzzer() bool
}
