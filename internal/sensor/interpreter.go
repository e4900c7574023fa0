// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sensor turns the HAT's four raw digital inputs into the logical
// sensor snapshot the roof state machine reasons about: polarity inversion
// for NC/NO limit switches, per-input debounce on a monotonic clock, and
// classification into {open-limit, closed-limit, fault, at-speed}.
package sensor

import (
	"sync"
	"time"
)

// Kind identifies which logical signal a digital input carries.
type Kind int

const (
	KindOpenLimit Kind = iota
	KindClosedLimit
	KindFault
	KindAtSpeed
)

func (k Kind) String() string {
	switch k {
	case KindOpenLimit:
		return "OpenLimit"
	case KindClosedLimit:
		return "ClosedLimit"
	case KindFault:
		return "Fault"
	case KindAtSpeed:
		return "AtSpeed"
	default:
		return "Unknown"
	}
}

// Change is a committed (debounced) logical edge.
type Change struct {
	Kind      Kind
	Asserted  bool
	Timestamp time.Time
}

// Snapshot is the committed logical sensor state.
type Snapshot struct {
	OpenLimit   bool
	ClosedLimit bool
	Fault       bool
	AtSpeed     bool
}

// Config governs polarity and debounce. IgnorePhysicalLimitSwitches forces
// both limits de-asserted regardless of hardware, for bench testing.
type Config struct {
	UseNormallyClosedLimitSwitches bool
	LimitSwitchDebounce            time.Duration
	IgnorePhysicalLimitSwitches    bool
}

type inputState struct {
	lastRaw        bool
	haveRaw        bool
	committed      bool
	lastCommitTime time.Time
	haveCommitted  bool
}

// Interpreter holds per-input debounce state for the four logical signals.
// It is safe for concurrent use.
type Interpreter struct {
	mu   sync.Mutex
	cfg  Config
	now  func() time.Time
	st   [4]inputState // indexed by Kind
}

// New returns an Interpreter with no committed state; the first observation
// of each input always commits (there is no "last commit time" yet).
func New(cfg Config) *Interpreter {
	return &Interpreter{cfg: cfg, now: time.Now}
}

// SetConfig atomically replaces the polarity/debounce configuration. It does
// not reset debounce history: each input keeps its last commit time and
// committed value, and the new LimitSwitchDebounce is measured from that
// commit time starting with the next observation.
func (in *Interpreter) SetConfig(cfg Config) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.cfg = cfg
}

// rawToLogical applies polarity inversion for the limit kinds; fault and
// at-speed are always HIGH-asserted per spec.md §4.3.
func (in *Interpreter) rawToLogical(kind Kind, rawHigh bool) bool {
	switch kind {
	case KindOpenLimit, KindClosedLimit:
		if in.cfg.UseNormallyClosedLimitSwitches {
			return !rawHigh
		}
		return rawHigh
	default:
		return rawHigh
	}
}

// Observe feeds one raw digital-input level for the given logical kind and
// returns the committed Change if the debounce window allowed a commit, or
// ok=false if the observation was ignored (identical to the last committed
// value, or arriving inside LimitSwitchDebounce of the last commit).
func (in *Interpreter) Observe(kind Kind, rawHigh bool) (change Change, ok bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	logical := in.rawToLogical(kind, rawHigh)
	s := &in.st[kind]
	now := in.now()

	s.lastRaw = rawHigh
	s.haveRaw = true

	if s.haveCommitted && logical == s.committed {
		return Change{}, false
	}
	if s.haveCommitted && now.Sub(s.lastCommitTime) < in.cfg.LimitSwitchDebounce {
		return Change{}, false
	}

	s.committed = logical
	s.haveCommitted = true
	s.lastCommitTime = now
	return Change{Kind: kind, Asserted: logical, Timestamp: now}, true
}

// Snapshot returns the currently committed logical sensor state, applying
// IgnorePhysicalLimitSwitches if configured.
func (in *Interpreter) Snapshot() Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()
	snap := Snapshot{
		OpenLimit:   in.st[KindOpenLimit].committed,
		ClosedLimit: in.st[KindClosedLimit].committed,
		Fault:       in.st[KindFault].committed,
		AtSpeed:     in.st[KindAtSpeed].committed,
	}
	if in.cfg.IgnorePhysicalLimitSwitches {
		snap.OpenLimit = false
		snap.ClosedLimit = false
	}
	return snap
}

// ObserveMask decodes a HAT digital-input mask (bit0=IN1..bit3=IN4) given a
// fixed wiring of inputs to logical kinds, and returns every Change that
// committed, in input-index order.
func (in *Interpreter) ObserveMask(mask uint8, wiring [4]Kind) []Change {
	var changes []Change
	for i := 0; i < 4; i++ {
		rawHigh := mask&(1<<i) != 0
		if c, ok := in.Observe(wiring[i], rawHigh); ok {
			changes = append(changes, c)
		}
	}
	return changes
}
