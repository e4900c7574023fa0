// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package roof

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/RoySalisbury/roofcontroller/internal/hat"
	"github.com/RoySalisbury/roofcontroller/internal/relay"
	"github.com/RoySalisbury/roofcontroller/internal/sensor"
)

// roofWiring fixes which digital input carries which logical signal. This
// isn't stated explicitly anywhere the state machine's own description
// lives; it's derived from the worked scenarios (IN1=open limit, IN2=closed
// limit, IN3=fault, IN4=at-speed) and recorded as an Open Question decision
// in SPEC_FULL.md.
var roofWiring = [4]sensor.Kind{
	sensor.KindOpenLimit,
	sensor.KindClosedLimit,
	sensor.KindFault,
	sensor.KindAtSpeed,
}

// statusFromSnapshot applies the same reconciliation rule used both at
// Initialize and after a successful ClearFault: both limits or a fault take
// precedence over an otherwise-consistent reading.
func statusFromSnapshot(snap sensor.Snapshot) (Status, StopReason) {
	switch {
	case snap.OpenLimit && snap.ClosedLimit:
		return StatusError, StopReasonBothLimitsActive
	case snap.Fault:
		return StatusError, StopReasonFaultDetected
	case snap.OpenLimit:
		return StatusOpen, StopReasonNone
	case snap.ClosedLimit:
		return StatusClosed, StopReasonNone
	default:
		return StatusStopped, StopReasonNone
	}
}

// commandAllowed is the command acceptance matrix of spec.md §4.5.
func commandAllowed(status Status, cmd Command) bool {
	switch status {
	case StatusStopped, StatusPartiallyOpen, StatusPartiallyClose:
		return cmd == CommandOpen || cmd == CommandClose || cmd == CommandStop
	case StatusOpening:
		return cmd == CommandOpen || cmd == CommandStop
	case StatusClosing:
		return cmd == CommandClose || cmd == CommandStop
	case StatusOpen:
		return cmd == CommandClose || cmd == CommandStop
	case StatusClosed:
		return cmd == CommandOpen || cmd == CommandStop
	case StatusError:
		return cmd == CommandStop || cmd == CommandClearFault
	default:
		return false
	}
}

// commitLocked applies a status transition. It is a no-op for status beyond
// recording the reason unless status actually differs from the current
// value, which is what makes a StatusChanged event "exactly once per
// observable transition" (spec.md §5) instead of once per internal
// reconciliation pass.
func (c *Controller) commitLocked(status Status, reason StopReason) {
	changed := status != c.status
	c.status = status
	if changed {
		c.lastStopReason = reason
		c.lastTransition = time.Now()
		c.writeLedLocked()
		c.events.publish(StatusChanged{
			Status:         status,
			LastStopReason: reason,
			Timestamp:      c.lastTransition,
		})
		return
	}
	if reason != StopReasonNone {
		c.lastStopReason = reason
	}
}

// forceStopLocked cancels the watchdog and drives the relay tuple to safe,
// logging rather than propagating a failure: the caller is already in the
// middle of committing a status transition that doesn't have an error
// return of its own (a sensor-triggered reconciliation, or the watchdog
// firing).
func (c *Controller) forceStopLocked(ctx context.Context) {
	c.wd.Cancel()
	if err := c.seq.SetStates(ctx, relay.States{}); err != nil {
		log.Printf("roof: force stop failed: %v", err)
	}
}

// ForceRefresh re-evaluates the committed sensor snapshot against the
// current status and applies whatever transition the hardware state now
// implies. It is the single place limit-reached, fault and both-limits
// handling live, so it can be driven from both the digital input poller and
// the periodic verifier without duplicating the transition table. ClearFault
// does not call it; it applies statusFromSnapshot directly.
func (c *Controller) ForceRefresh(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceRefreshLocked(ctx)
}

func (c *Controller) forceRefreshLocked(ctx context.Context) {
	if !c.initialized {
		return
	}
	snap := c.interp.Snapshot()

	switch {
	case snap.OpenLimit && snap.ClosedLimit:
		if c.status != StatusError || c.lastStopReason != StopReasonBothLimitsActive {
			c.clearFaultArmed = false
			c.forceStopLocked(ctx)
			c.commitLocked(StatusError, StopReasonBothLimitsActive)
		}
		return
	case snap.Fault:
		if c.status != StatusError || c.lastStopReason != StopReasonFaultDetected {
			c.clearFaultArmed = false
			c.forceStopLocked(ctx)
			c.commitLocked(StatusError, StopReasonFaultDetected)
		}
		return
	}

	switch c.status {
	case StatusOpening:
		switch {
		case snap.ClosedLimit:
			// The wrong limit asserted while opening: the hardware reading is
			// inconsistent with commanded direction, treated the same as a
			// both-limits glitch.
			c.clearFaultArmed = false
			c.forceStopLocked(ctx)
			c.commitLocked(StatusError, StopReasonBothLimitsActive)
		case snap.OpenLimit:
			c.forceStopLocked(ctx)
			c.commitLocked(StatusOpen, StopReasonLimitSwitchReached)
		}
	case StatusClosing:
		switch {
		case snap.OpenLimit:
			c.clearFaultArmed = false
			c.forceStopLocked(ctx)
			c.commitLocked(StatusError, StopReasonBothLimitsActive)
		case snap.ClosedLimit:
			c.forceStopLocked(ctx)
			c.commitLocked(StatusClosed, StopReasonLimitSwitchReached)
		}
	case StatusError:
		// Neither fault nor both-limits is asserted anymore (checked above),
		// but spec.md §4.5 latches Error until ClearFault has also run at
		// least once since the trip — a bare sensor recovery is not enough.
		if c.clearFaultArmed {
			status, reason := statusFromSnapshot(snap)
			c.commitLocked(status, reason)
		}
	}
}

// Open commands the roof open. See spec.md §4.5 for the acceptance matrix.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusNotInitialized {
		return ErrNotInitialized
	}
	if !commandAllowed(c.status, CommandOpen) {
		return fmt.Errorf("%w: Open not allowed from %s", ErrCommandRejected, c.status)
	}
	if c.status == StatusOpening {
		return nil
	}

	if err := c.seq.SetStates(ctx, relay.States{Stop: true, Open: true}); err != nil {
		c.clearFaultArmed = false
		c.commitLocked(StatusError, StopReasonNone)
		return fmt.Errorf("roof: open: %w", err)
	}
	c.wd.Arm(c.cfg.SafetyWatchdogTimeout)
	c.commitLocked(StatusOpening, StopReasonNone)
	return nil
}

// Close commands the roof closed.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusNotInitialized {
		return ErrNotInitialized
	}
	if !commandAllowed(c.status, CommandClose) {
		return fmt.Errorf("%w: Close not allowed from %s", ErrCommandRejected, c.status)
	}
	if c.status == StatusClosing {
		return nil
	}

	if err := c.seq.SetStates(ctx, relay.States{Stop: true, Close: true}); err != nil {
		c.clearFaultArmed = false
		c.commitLocked(StatusError, StopReasonNone)
		return fmt.Errorf("roof: close: %w", err)
	}
	c.wd.Arm(c.cfg.SafetyWatchdogTimeout)
	c.commitLocked(StatusClosing, StopReasonNone)
	return nil
}

// Stop commands the roof to stop, recording reason as why. Stop is accepted
// from every initialized status; from Opening/Closing it lands on
// PartiallyOpen/PartiallyClose, everywhere else it's idempotent.
func (c *Controller) Stop(ctx context.Context, reason StopReason) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusNotInitialized {
		return ErrNotInitialized
	}

	switch c.status {
	case StatusOpening:
		c.forceStopLocked(ctx)
		c.commitLocked(StatusPartiallyOpen, reason)
	case StatusClosing:
		c.forceStopLocked(ctx)
		c.commitLocked(StatusPartiallyClose, reason)
	default:
		c.forceStopLocked(ctx)
		c.commitLocked(c.status, reason)
	}
	return nil
}

// ClearFault pulses the ClearFault relay for pulse and, if the sensor
// snapshot is consistent afterward, leaves Error for whatever status the
// snapshot now implies. If the fault input (or a both-limits glitch) is
// still asserted, the roof stays in Error exactly as before.
func (c *Controller) ClearFault(ctx context.Context, pulse time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusNotInitialized {
		return ErrNotInitialized
	}
	if !commandAllowed(c.status, CommandClearFault) {
		return fmt.Errorf("%w: ClearFault not allowed from %s", ErrCommandRejected, c.status)
	}

	if err := c.seq.ClearFault(ctx, pulse); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return fmt.Errorf("%w: %v", ErrCancellationRequested, err)
		}
		return fmt.Errorf("roof: clear fault: %w", err)
	}
	c.clearFaultArmed = true

	status, reason := statusFromSnapshot(c.interp.Snapshot())
	c.commitLocked(status, reason)
	return nil
}

// onWatchdogExpired is the watchdog's expiry callback. It runs on the
// timer's own goroutine, never holding c.mu beforehand.
func (c *Controller) onWatchdogExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status.IsMoving() {
		return
	}
	c.clearFaultArmed = false
	if err := c.seq.SetStates(c.bgCtx, relay.States{}); err != nil {
		log.Printf("roof: watchdog forced stop failed: %v", err)
	}
	c.commitLocked(StatusError, StopReasonSafetyWatchdogTimeout)
}

// runPoller feeds committed digital-input edges from the HAT poller into
// the interpreter and reconciles after each input change.
func (c *Controller) runPoller(ctx context.Context, ch <-chan hat.InputChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-ch:
			if !ok {
				return
			}
			c.mu.Lock()
			c.interp.Observe(roofWiring[change.Input-1], change.High)
			c.forceRefreshLocked(ctx)
			c.mu.Unlock()
		}
	}
}

// runVerifier is C7: while moving and enabled, force a hardware input read
// every interval independent of the edge poller, so a missed or disabled
// poll stream still bounds how long the roof can overrun a limit switch.
func (c *Controller) runVerifier(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if !c.status.IsMoving() {
				c.mu.Unlock()
				continue
			}
			mask, err := c.hatDrv.ReadInputs()
			if err != nil {
				log.Printf("roof: periodic verifier read failed: %v", err)
				c.mu.Unlock()
				continue
			}
			c.interp.ObserveMask(mask, roofWiring)
			c.forceRefreshLocked(ctx)
			c.mu.Unlock()
		}
	}
}
