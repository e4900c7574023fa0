// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRelayWrite struct {
	relay int
	on    bool
}

type fakeDriver struct {
	writes  []fakeRelayWrite
	state   map[int]bool
	failAt  int // 1-based write index to fail, 0 = never
	nwrites int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{state: make(map[int]bool)}
}

func (f *fakeDriver) SetRelay(relay int, on bool) error {
	f.nwrites++
	if f.failAt != 0 && f.nwrites == f.failAt {
		return errors.New("simulated i2c failure")
	}
	f.writes = append(f.writes, fakeRelayWrite{relay, on})
	f.state[relay] = on
	return nil
}

func testIDs() IDs {
	return IDs{Open: 1, Close: 2, ClearFault: 3, Stop: 4}
}

func TestIDsValidateRejectsDuplicateAndOutOfRange(t *testing.T) {
	if err := (IDs{Open: 1, Close: 1, Stop: 2, ClearFault: 3}).Validate(); err == nil {
		t.Fatalf("expected error for duplicate id")
	}
	if err := (IDs{Open: 0, Close: 2, Stop: 3, ClearFault: 4}).Validate(); err == nil {
		t.Fatalf("expected error for out-of-range id")
	}
	if err := testIDs().Validate(); err != nil {
		t.Fatalf("expected valid IDs, got %v", err)
	}
}

func TestSetStatesBeginOpenOrdering(t *testing.T) {
	drv := newFakeDriver()
	seq := New(drv, testIDs())
	if err := seq.SetStates(context.Background(), States{Stop: true, Open: true}); err != nil {
		t.Fatalf("SetStates: %v", err)
	}
	want := []fakeRelayWrite{
		{relay: 2, on: false}, // clear Close
		{relay: 1, on: true},  // set Open
		{relay: 4, on: true},  // set Stop (master enable)
	}
	if len(drv.writes) != len(want) {
		t.Fatalf("got %d writes, want %d: %+v", len(drv.writes), len(want), drv.writes)
	}
	for i, w := range want {
		if drv.writes[i] != w {
			t.Fatalf("write[%d] = %+v, want %+v", i, drv.writes[i], w)
		}
	}
}

func TestSetStatesBeginCloseOrdering(t *testing.T) {
	drv := newFakeDriver()
	seq := New(drv, testIDs())
	if err := seq.SetStates(context.Background(), States{Stop: true, Close: true}); err != nil {
		t.Fatalf("SetStates: %v", err)
	}
	want := []fakeRelayWrite{
		{relay: 1, on: false}, // clear Open
		{relay: 2, on: true},  // set Close
		{relay: 4, on: true},  // set Stop
	}
	for i, w := range want {
		if drv.writes[i] != w {
			t.Fatalf("write[%d] = %+v, want %+v", i, drv.writes[i], w)
		}
	}
}

func TestSetStatesStopToSafeOrdering(t *testing.T) {
	drv := newFakeDriver()
	seq := New(drv, testIDs())
	if err := seq.SetStates(context.Background(), States{Stop: true, Open: true}); err != nil {
		t.Fatalf("SetStates: %v", err)
	}
	drv.writes = nil
	if err := seq.SetStates(context.Background(), States{}); err != nil {
		t.Fatalf("SetStates: %v", err)
	}
	want := []fakeRelayWrite{
		{relay: 1, on: false}, // clear Open
		{relay: 2, on: false}, // clear Close
		{relay: 4, on: false}, // clear Stop
	}
	if len(drv.writes) != len(want) {
		t.Fatalf("got %d writes, want %d: %+v", len(drv.writes), len(want), drv.writes)
	}
	for i, w := range want {
		if drv.writes[i] != w {
			t.Fatalf("write[%d] = %+v, want %+v", i, drv.writes[i], w)
		}
	}
}

func TestSetStatesRejectsSimultaneousOpenAndClose(t *testing.T) {
	drv := newFakeDriver()
	seq := New(drv, testIDs())
	if err := seq.SetStates(context.Background(), States{Open: true, Close: true}); err != nil {
		t.Fatalf("SetStates should neutralize rather than error: %v", err)
	}
	if drv.state[1] || drv.state[2] {
		t.Fatalf("Open and Close must both be forced off, got state=%+v", drv.state)
	}
}

func TestSetStatesIdempotentIssuesNoWrites(t *testing.T) {
	drv := newFakeDriver()
	seq := New(drv, testIDs())
	want := States{Stop: true, Open: true}
	if err := seq.SetStates(context.Background(), want); err != nil {
		t.Fatalf("SetStates: %v", err)
	}
	drv.writes = nil
	if err := seq.SetStates(context.Background(), want); err != nil {
		t.Fatalf("SetStates: %v", err)
	}
	if len(drv.writes) != 0 {
		t.Fatalf("repeating the current tuple should issue zero writes, got %+v", drv.writes)
	}
}

func TestSetStatesFailureForcesSafeTuple(t *testing.T) {
	drv := newFakeDriver()
	drv.failAt = 2 // fail on the second write of the Begin-Open sequence
	seq := New(drv, testIDs())
	err := seq.SetStates(context.Background(), States{Stop: true, Open: true})
	if err == nil {
		t.Fatalf("expected error from failed write")
	}
	last, have := seq.Last()
	if !have || last != (States{}) {
		t.Fatalf("sequencer should record the safe tuple after a failed write, got %+v", last)
	}
}

func TestClearFaultAlwaysReleasesEvenOnCancellation(t *testing.T) {
	drv := newFakeDriver()
	seq := New(drv, testIDs())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := seq.ClearFault(ctx, 50*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if drv.state[3] {
		t.Fatalf("ClearFault relay should be released even when ctx is already cancelled")
	}
	if len(drv.writes) != 2 {
		t.Fatalf("expected exactly a set and a clear write, got %+v", drv.writes)
	}
}
