// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package roof

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RoySalisbury/roofcontroller/internal/hat"
	"github.com/RoySalisbury/roofcontroller/internal/relay"
	"github.com/RoySalisbury/roofcontroller/internal/sensor"
)

// Controller is the public roof controller API (C9). A zero Controller is
// not usable; construct one with New and call Initialize before issuing any
// command.
//
// Every exported command method is guarded by one mutex (spec.md §5):
// concurrent callers (e.g. two REST requests) simply block on each other in
// the order they arrive. StatusChanged subscribers only ever observe events
// over a channel (see events.go), never via a direct callback on the
// publisher's goroutine, so synchronous reentrancy into the controller from
// a subscriber is structurally impossible and needs no separate guard.
type Controller struct {
	mu sync.Mutex

	hatDrv *hat.Driver
	seq    *relay.Sequencer
	interp *sensor.Interpreter
	events *broadcaster
	wd     *watchdog

	cfg             Config
	status          Status
	lastStopReason  StopReason
	lastTransition  time.Time
	initialized     bool
	clearFaultArmed bool

	bgCtx    context.Context
	bgCancel context.CancelFunc

	shutdownOnce sync.Once
}

// New constructs a Controller over an already-opened HAT driver. cfg is
// validated immediately; Initialize still must be called before any
// command is accepted.
func New(hatDrv *hat.Driver, cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	c := &Controller{
		hatDrv: hatDrv,
		seq:    relay.New(hatDrv, cfg.relayIDs()),
		interp: sensor.New(sensor.Config{
			UseNormallyClosedLimitSwitches: cfg.UseNormallyClosedLimitSwitches,
			LimitSwitchDebounce:            cfg.LimitSwitchDebounce,
			IgnorePhysicalLimitSwitches:    cfg.IgnorePhysicalLimitSwitches,
		}),
		events: newBroadcaster(),
		cfg:    cfg,
		status: StatusNotInitialized,
	}
	c.wd = newWatchdog(c.onWatchdogExpired)
	return c, nil
}

// Initialize reads the current hardware state, drives the relays to the
// safe tuple, derives the initial status from the sensor snapshot (per
// statusFromSnapshot), and starts the background poller/verifier tasks.
// It may be called exactly once.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusNotInitialized {
		return fmt.Errorf("%w: already initialized", ErrCommandRejected)
	}

	mask, err := c.hatDrv.ReadInputs()
	if err != nil {
		return fmt.Errorf("roof: initialize: reading inputs: %w", err)
	}
	c.interp.ObserveMask(mask, roofWiring)

	if err := c.seq.SetStates(ctx, relay.States{}); err != nil {
		return fmt.Errorf("roof: initialize: driving safe tuple: %w", err)
	}

	c.initialized = true
	status, reason := statusFromSnapshot(c.interp.Snapshot())
	c.status = status // first commit: force the event below unconditionally
	c.lastStopReason = reason
	c.lastTransition = time.Now()
	c.writeLedLocked()
	c.events.publish(StatusChanged{Status: status, LastStopReason: reason, Timestamp: c.lastTransition})

	c.startBackgroundLocked()
	return nil
}

func (c *Controller) startBackgroundLocked() {
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	if c.cfg.EnableDigitalInputPolling {
		ch := c.hatDrv.Poll(c.bgCtx, c.cfg.DigitalInputPollInterval)
		go c.runPoller(c.bgCtx, ch)
	}
	if c.cfg.EnablePeriodicVerificationWhileMoving {
		go c.runVerifier(c.bgCtx, c.cfg.PeriodicVerificationInterval)
	}
}

// Status is the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastStopReason is the reason recorded at the most recent stop-bearing
// transition.
func (c *Controller) LastStopReason() StopReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStopReason
}

// LastTransition is when the status last changed.
func (c *Controller) LastTransition() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTransition
}

// IsMoving reports whether the roof is actively opening or closing.
func (c *Controller) IsMoving() bool {
	return c.Status().IsMoving()
}

// IsWatchdogActive reports whether a safety watchdog expiry is pending.
func (c *Controller) IsWatchdogActive() bool {
	return c.wd.IsActive()
}

// IsAtSpeed reports the committed at-speed sensor reading.
func (c *Controller) IsAtSpeed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interp.Snapshot().AtSpeed
}

// Configuration returns the active configuration.
func (c *Controller) Configuration() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// UpdateConfiguration validates and swaps in a new configuration. It is
// rejected while the roof is moving or the safety watchdog is armed, since
// relay IDs or the watchdog timeout changing mid-motion would leave the
// running sequence referencing stale state.
func (c *Controller) UpdateConfiguration(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.IsMoving() || c.wd.IsActive() {
		return fmt.Errorf("%w: cannot reconfigure while moving or watchdog armed", ErrInvalidOperation)
	}

	c.cfg = cfg
	c.seq = relay.New(c.hatDrv, cfg.relayIDs())
	c.interp.SetConfig(sensor.Config{
		UseNormallyClosedLimitSwitches: cfg.UseNormallyClosedLimitSwitches,
		LimitSwitchDebounce:            cfg.LimitSwitchDebounce,
		IgnorePhysicalLimitSwitches:    cfg.IgnorePhysicalLimitSwitches,
	})

	if c.initialized {
		if c.bgCancel != nil {
			c.bgCancel()
		}
		c.startBackgroundLocked()
	}
	return nil
}

// Subscribe returns a channel of future StatusChanged events and an
// unsubscribe function that must be called when the caller is done
// reading, to release the channel.
func (c *Controller) Subscribe() (<-chan StatusChanged, func()) {
	return c.events.subscribe()
}

// Shutdown stops the roof (SystemShutdown), cancels the background poller
// and verifier, and is safe to call more than once.
func (c *Controller) Shutdown(ctx context.Context) error {
	var err error
	c.shutdownOnce.Do(func() {
		err = c.Stop(ctx, StopReasonSystemShutdown)
		c.mu.Lock()
		if c.bgCancel != nil {
			c.bgCancel()
		}
		c.mu.Unlock()
	})
	return err
}
