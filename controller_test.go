// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package roof

import (
	"context"
	"testing"
	"time"

	"github.com/RoySalisbury/roofcontroller/internal/hat"
	"github.com/RoySalisbury/roofcontroller/internal/i2cbus"
)

// fastConfig shortens every timer in DefaultConfig so the end-to-end
// scenarios in spec.md §8 run in milliseconds instead of the production
// defaults.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.DigitalInputPollInterval = 5 * time.Millisecond
	cfg.LimitSwitchDebounce = 1 * time.Millisecond
	cfg.PeriodicVerificationInterval = 10 * time.Millisecond
	return cfg
}

func newTestController(t *testing.T, cfg Config, initialMask uint8) (*Controller, *hat.SimBus) {
	t.Helper()
	bus := hat.NewSimBus()
	bus.SetInputMask(initialMask)
	client := i2cbus.New(bus, 0x0D, i2cbus.WithPostTransactionDelay(0))
	hatDrv := hat.New(client)

	c, err := New(hatDrv, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { c.Shutdown(context.Background()) })
	return c, bus
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

// Scenario 1: open to limit.
func TestScenarioOpenToLimit(t *testing.T) {
	c, bus := newTestController(t, fastConfig(), 0b0011) // IN1=H,IN2=H -> Stopped
	if got := c.Status(); got != StatusStopped {
		t.Fatalf("initial status = %s, want Stopped", got)
	}

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if bus.RelayMask() != 0b1001 {
		t.Fatalf("relay mask = %04b, want 1001", bus.RelayMask())
	}

	bus.SetInputMask(0b0010) // IN1=L (open limit asserted, NC), IN2=H
	waitFor(t, time.Second, func() bool { return c.Status() == StatusOpen })

	if bus.RelayMask() != 0 {
		t.Fatalf("relay mask = %04b, want 0", bus.RelayMask())
	}
	if c.LastStopReason() != StopReasonLimitSwitchReached {
		t.Fatalf("LastStopReason = %s, want LimitSwitchReached", c.LastStopReason())
	}
}

// Scenario 2: manual mid-travel stop.
func TestScenarioManualMidTravelStop(t *testing.T) {
	c, bus := newTestController(t, fastConfig(), 0b0011)
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Stop(context.Background(), StopReasonNormalStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if bus.RelayMask() != 0 {
		t.Fatalf("relay mask = %04b, want 0", bus.RelayMask())
	}
	if got := c.Status(); got != StatusPartiallyOpen {
		t.Fatalf("status = %s, want PartiallyOpen", got)
	}
}

// Scenario 3: both-limits glitch during Close.
func TestScenarioBothLimitsGlitchDuringClose(t *testing.T) {
	c, bus := newTestController(t, fastConfig(), 0b0011)
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bus.RelayMask() != 0b1010 {
		t.Fatalf("relay mask = %04b, want 1010", bus.RelayMask())
	}

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	bus.SetInputMask(0b0000) // all raw LOW: NC asserts both limits
	var errorEvents int
	deadline := time.After(time.Second)
loop:
	for {
		select {
		case evt := <-events:
			if evt.Status == StatusError {
				errorEvents++
				if evt.LastStopReason != StopReasonBothLimitsActive {
					t.Fatalf("reason = %s, want BothLimitsActive", evt.LastStopReason)
				}
			}
		case <-deadline:
			break loop
		default:
			if c.Status() == StatusError {
				break loop
			}
			time.Sleep(time.Millisecond)
		}
	}
	if c.Status() != StatusError {
		t.Fatalf("status = %s, want Error", c.Status())
	}
	if errorEvents != 1 {
		t.Fatalf("observed %d Error transitions, want exactly 1", errorEvents)
	}
	if bus.RelayMask() != 0 {
		t.Fatalf("relay mask = %04b, want 0", bus.RelayMask())
	}
}

// Scenario 4: watchdog timeout.
func TestScenarioWatchdogTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.SafetyWatchdogTimeout = 120 * time.Millisecond
	c, _ := newTestController(t, cfg, 0b0011)

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	waitFor(t, 500*time.Millisecond, func() bool { return c.Status() == StatusError })
	if c.LastStopReason() != StopReasonSafetyWatchdogTimeout {
		t.Fatalf("LastStopReason = %s, want SafetyWatchdogTimeout", c.LastStopReason())
	}
}

// Scenario 5: fault trip and clear.
func TestScenarioFaultTripAndClear(t *testing.T) {
	c, bus := newTestController(t, fastConfig(), 0b0011)
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	bus.SetInputMask(0b0111) // IN1=H,IN2=H,IN3=H (fault asserted)
	waitFor(t, time.Second, func() bool { return c.Status() == StatusError })
	if c.LastStopReason() != StopReasonFaultDetected {
		t.Fatalf("LastStopReason = %s, want FaultDetected", c.LastStopReason())
	}

	if err := c.Open(context.Background()); err == nil {
		t.Fatalf("expected Open to be rejected while in Error")
	}
	if err := c.Close(context.Background()); err == nil {
		t.Fatalf("expected Close to be rejected while in Error")
	}

	if err := c.ClearFault(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("ClearFault: %v", err)
	}
	if c.Status() != StatusError {
		t.Fatalf("status should still be Error while the fault input is asserted, got %s", c.Status())
	}

	bus.SetInputMask(0b0011) // IN3 back LOW
	waitFor(t, time.Second, func() bool { return c.Status() != StatusError })

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open after fault clear: %v", err)
	}
}

// Scenario 6: periodic verifier recovery while polling is disabled.
func TestScenarioPeriodicVerifierRecovery(t *testing.T) {
	cfg := fastConfig()
	cfg.EnableDigitalInputPolling = false
	cfg.PeriodicVerificationInterval = 120 * time.Millisecond
	c, bus := newTestController(t, cfg, 0b0011)

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	bus.SetInputMask(0b0010) // open limit now asserted, never surfaced via the poller
	waitFor(t, 350*time.Millisecond, func() bool { return c.Status() == StatusOpen })
	if bus.RelayMask() != 0 {
		t.Fatalf("relay mask = %04b, want 0", bus.RelayMask())
	}
}

func TestOpenRejectedWhenAlreadyClosing(t *testing.T) {
	c, _ := newTestController(t, fastConfig(), 0b0011)
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Open(context.Background()); err == nil {
		t.Fatalf("expected Open to be rejected while Closing")
	}
}

func TestUpdateConfigurationRejectedWhileMoving(t *testing.T) {
	c, _ := newTestController(t, fastConfig(), 0b0011)
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	before := c.Configuration()
	newCfg := before
	newCfg.SafetyWatchdogTimeout = 999 * time.Second
	if err := c.UpdateConfiguration(newCfg); err == nil {
		t.Fatalf("expected UpdateConfiguration to be rejected while moving")
	}
	if c.Configuration() != before {
		t.Fatalf("configuration must be byte-identical after a rejected update")
	}
}

func TestInitializeTwiceIsRejected(t *testing.T) {
	c, _ := newTestController(t, fastConfig(), 0b0011)
	if err := c.Initialize(context.Background()); err == nil {
		t.Fatalf("expected second Initialize to be rejected")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	c, _ := newTestController(t, fastConfig(), 0b0011)
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
