// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sensor

import (
	"testing"
	"time"
)

func newTestInterpreter(cfg Config) (*Interpreter, *time.Time) {
	in := New(cfg)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in.now = func() time.Time { return now }
	return in, &now
}

func TestObserveFirstSampleAlwaysCommits(t *testing.T) {
	in, _ := newTestInterpreter(Config{LimitSwitchDebounce: 50 * time.Millisecond})
	change, ok := in.Observe(KindFault, true)
	if !ok {
		t.Fatalf("first observation did not commit")
	}
	if !change.Asserted {
		t.Fatalf("expected Asserted=true, got false")
	}
}

func TestObserveIgnoresRepeatedValue(t *testing.T) {
	in, _ := newTestInterpreter(Config{LimitSwitchDebounce: 50 * time.Millisecond})
	if _, ok := in.Observe(KindFault, true); !ok {
		t.Fatalf("first observation did not commit")
	}
	if _, ok := in.Observe(KindFault, true); ok {
		t.Fatalf("repeated identical observation must not commit")
	}
}

func TestObserveDebouncesWithinWindow(t *testing.T) {
	in, now := newTestInterpreter(Config{LimitSwitchDebounce: 50 * time.Millisecond})
	if _, ok := in.Observe(KindOpenLimit, false); !ok {
		t.Fatalf("first observation did not commit")
	}
	*now = now.Add(10 * time.Millisecond)
	if _, ok := in.Observe(KindOpenLimit, true); ok {
		t.Fatalf("edge inside debounce window must not commit")
	}
	*now = now.Add(45 * time.Millisecond) // 55ms total, past the 50ms window
	change, ok := in.Observe(KindOpenLimit, true)
	if !ok {
		t.Fatalf("edge after debounce window should commit")
	}
	if !change.Asserted {
		t.Fatalf("expected Asserted=true")
	}
}

func TestObservePolarityInversionForNormallyClosed(t *testing.T) {
	in, _ := newTestInterpreter(Config{UseNormallyClosedLimitSwitches: true})
	change, ok := in.Observe(KindOpenLimit, false) // NC: raw LOW means asserted
	if !ok {
		t.Fatalf("first observation did not commit")
	}
	if !change.Asserted {
		t.Fatalf("NC limit switch with raw LOW should report Asserted=true")
	}

	in2, _ := newTestInterpreter(Config{UseNormallyClosedLimitSwitches: false})
	change2, ok := in2.Observe(KindOpenLimit, false)
	if !ok {
		t.Fatalf("first observation did not commit")
	}
	if change2.Asserted {
		t.Fatalf("NO limit switch with raw LOW should report Asserted=false")
	}
}

func TestObserveFaultAndAtSpeedAreAlwaysHighAsserted(t *testing.T) {
	in, _ := newTestInterpreter(Config{UseNormallyClosedLimitSwitches: true})
	change, ok := in.Observe(KindFault, true)
	if !ok || !change.Asserted {
		t.Fatalf("fault input should be HIGH-asserted regardless of limit-switch polarity config")
	}
	change, ok = in.Observe(KindAtSpeed, true)
	if !ok || !change.Asserted {
		t.Fatalf("at-speed input should be HIGH-asserted regardless of limit-switch polarity config")
	}
}

func TestSnapshotAppliesIgnorePhysicalLimitSwitches(t *testing.T) {
	in, _ := newTestInterpreter(Config{IgnorePhysicalLimitSwitches: true})
	in.Observe(KindOpenLimit, true)
	in.Observe(KindClosedLimit, true)
	snap := in.Snapshot()
	if snap.OpenLimit || snap.ClosedLimit {
		t.Fatalf("IgnorePhysicalLimitSwitches should force both limits false, got %+v", snap)
	}
}

func TestObserveMaskDecodesWiringInOrder(t *testing.T) {
	in, _ := newTestInterpreter(Config{})
	wiring := [4]Kind{KindOpenLimit, KindClosedLimit, KindFault, KindAtSpeed}
	changes := in.ObserveMask(0b0101, wiring) // IN1=open asserted, IN3=fault asserted
	if len(changes) != 4 {
		t.Fatalf("expected all 4 inputs to commit on first observation, got %d", len(changes))
	}
	snap := in.Snapshot()
	if !snap.OpenLimit || !snap.Fault {
		t.Fatalf("unexpected snapshot from mask 0b0101 (NO polarity default): %+v", snap)
	}
	if snap.ClosedLimit || snap.AtSpeed {
		t.Fatalf("unexpected snapshot from mask 0b0101: %+v", snap)
	}
}
