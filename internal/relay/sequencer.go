// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package relay implements the roof's relay command sequencer: it drives
// the {Stop, Open, Close, ClearFault} relays atomically, enforcing the
// never-simultaneous-Open-and-Close invariant and the fail-safe write
// ordering spec.md §4.4 requires.
package relay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Driver is the minimal capability the sequencer needs from the HAT layer.
// internal/hat.Driver satisfies this.
type Driver interface {
	SetRelay(relay int, on bool) error
}

// IDs maps the four logical relay functions onto physical relay indices
// (1..4). The zero value is invalid; use Validate before constructing a
// Sequencer with it.
type IDs struct {
	Open       int
	Close      int
	Stop       int
	ClearFault int
}

// Validate checks that the four ids are a permutation of {1,2,3,4}, per
// spec.md §3's invariant.
func (ids IDs) Validate() error {
	seen := map[int]bool{}
	for _, id := range []int{ids.Open, ids.Close, ids.Stop, ids.ClearFault} {
		if id < 1 || id > 4 {
			return fmt.Errorf("relay: id %d out of range [1,4]", id)
		}
		if seen[id] {
			return fmt.Errorf("relay: id %d assigned to more than one function", id)
		}
		seen[id] = true
	}
	return nil
}

// States is the commanded tuple for the three motion-control relays.
// ClearFault is driven separately via Sequencer.ClearFault.
type States struct {
	Stop, Open, Close bool
}

// Sequencer atomically drives the relay tuple, serialized by its own mutex
// so two goroutines can never interleave writes to the same board.
type Sequencer struct {
	mu   sync.Mutex
	hw   Driver
	ids  IDs
	last States
	have bool
}

// New constructs a Sequencer. ids must already be Validate'd.
func New(hw Driver, ids IDs) *Sequencer {
	return &Sequencer{hw: hw, ids: ids}
}

// SetStates drives the board to the requested (stop, open, close) tuple.
//
// open && close is rejected outright: both bits are neutralized to false
// before anything is written, and an error-level diagnostic is logged,
// because a caller requesting that combination is a bug upstream (spec.md
// §4.4's hard invariant, never a transient condition to retry).
//
// If the requested tuple equals the last commanded tuple, SetStates is a
// no-op: no I²C writes are issued (spec.md P4, idempotence).
func (s *Sequencer) SetStates(ctx context.Context, want States) error {
	if want.Open && want.Close {
		log.Printf("relay: rejected simultaneous Open+Close request; forcing both off")
		want.Open = false
		want.Close = false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.have && want == s.last {
		return nil
	}

	var order []func() error
	switch {
	case !want.Open && !want.Close:
		// Stop to safe: direction relays drop before the master enable does,
		// so the contactor never sees a direction command mid-de-energize.
		order = []func() error{
			func() error { return s.hw.SetRelay(s.ids.Open, false) },
			func() error { return s.hw.SetRelay(s.ids.Close, false) },
			func() error { return s.hw.SetRelay(s.ids.Stop, want.Stop) },
		}
	case want.Open:
		order = []func() error{
			func() error { return s.hw.SetRelay(s.ids.Close, false) },
			func() error { return s.hw.SetRelay(s.ids.Open, true) },
			func() error { return s.hw.SetRelay(s.ids.Stop, true) },
		}
	case want.Close:
		order = []func() error{
			func() error { return s.hw.SetRelay(s.ids.Open, false) },
			func() error { return s.hw.SetRelay(s.ids.Close, true) },
			func() error { return s.hw.SetRelay(s.ids.Stop, true) },
		}
	}

	for _, step := range order {
		if err := step(); err != nil {
			// Best-effort recovery: retry the safe tuple once so the board
			// never latches in a half-applied motion state (spec.md §7).
			if safeErr := s.forceSafeLocked(); safeErr != nil {
				// Board state is unknown: the next request always writes.
				s.have = false
				return fmt.Errorf("relay: write failed (%w) and safe-tuple retry failed (%v)", err, safeErr)
			}
			s.last = States{}
			s.have = true
			return fmt.Errorf("relay: write failed, forced to safe tuple: %w", err)
		}
	}

	s.last = want
	s.have = true
	return nil
}

func (s *Sequencer) forceSafeLocked() error {
	if err := s.hw.SetRelay(s.ids.Open, false); err != nil {
		return err
	}
	if err := s.hw.SetRelay(s.ids.Close, false); err != nil {
		return err
	}
	return s.hw.SetRelay(s.ids.Stop, false)
}

// ClearFault pulses the ClearFault relay for the given duration. Both the
// set and the clear writes always occur, even if ctx is cancelled mid-pulse
// (the release-side write is best-effort and unconditional); only after
// the release succeeds does ClearFault report ctx's cancellation.
func (s *Sequencer) ClearFault(ctx context.Context, pulse time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.hw.SetRelay(s.ids.ClearFault, true); err != nil {
		return fmt.Errorf("relay: ClearFault set: %w", err)
	}

	var waitErr error
	timer := time.NewTimer(pulse)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	if err := s.hw.SetRelay(s.ids.ClearFault, false); err != nil {
		return fmt.Errorf("relay: ClearFault clear: %w", err)
	}
	return waitErr
}

// Last returns the most recently committed motion tuple, for diagnostics.
func (s *Sequencer) Last() (States, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.have
}
