// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package roof

import (
	"fmt"
	"time"

	"github.com/RoySalisbury/roofcontroller/internal/relay"
)

// Config is the roof controller's configuration snapshot, per spec.md §3.
// It is immutable once handed to a Controller: UpdateConfiguration always
// replaces it wholesale, never mutates fields in place.
type Config struct {
	OpenRelayID       int
	CloseRelayID      int
	ClearFaultRelayID int
	StopRelayID       int

	UseNormallyClosedLimitSwitches bool
	SafetyWatchdogTimeout          time.Duration
	LimitSwitchDebounce            time.Duration

	EnableDigitalInputPolling bool
	DigitalInputPollInterval  time.Duration

	EnablePeriodicVerificationWhileMoving bool
	PeriodicVerificationInterval          time.Duration

	IgnorePhysicalLimitSwitches bool
}

// DefaultConfig matches the HAT's silkscreen-adjacent relay numbering used
// throughout spec.md's worked examples (Open=1, Close=2, ClearFault=3,
// Stop=4).
func DefaultConfig() Config {
	return Config{
		OpenRelayID:                           1,
		CloseRelayID:                          2,
		ClearFaultRelayID:                     3,
		StopRelayID:                           4,
		UseNormallyClosedLimitSwitches:        true,
		SafetyWatchdogTimeout:                 30 * time.Second,
		LimitSwitchDebounce:                   50 * time.Millisecond,
		EnableDigitalInputPolling:             true,
		DigitalInputPollInterval:              100 * time.Millisecond,
		EnablePeriodicVerificationWhileMoving: true,
		PeriodicVerificationInterval:          250 * time.Millisecond,
		IgnorePhysicalLimitSwitches:           false,
	}
}

// relayIDs projects the four relay-function fields into the shape
// internal/relay.Sequencer wants.
func (c Config) relayIDs() relay.IDs {
	return relay.IDs{
		Open:       c.OpenRelayID,
		Close:      c.CloseRelayID,
		Stop:       c.StopRelayID,
		ClearFault: c.ClearFaultRelayID,
	}
}

// Validate checks the invariants spec.md §3 and §7 (InvalidConfiguration)
// require.
func (c Config) Validate() error {
	if err := c.relayIDs().Validate(); err != nil {
		return fmt.Errorf("roof: %w", err)
	}
	if c.SafetyWatchdogTimeout <= 0 {
		return fmt.Errorf("roof: SafetyWatchdogTimeout must be positive")
	}
	if c.LimitSwitchDebounce < 0 {
		return fmt.Errorf("roof: LimitSwitchDebounce must not be negative")
	}
	if c.EnableDigitalInputPolling && c.DigitalInputPollInterval <= 0 {
		return fmt.Errorf("roof: DigitalInputPollInterval must be positive when polling is enabled")
	}
	if c.EnablePeriodicVerificationWhileMoving && c.PeriodicVerificationInterval <= 0 {
		return fmt.Errorf("roof: PeriodicVerificationInterval must be positive when periodic verification is enabled")
	}
	return nil
}
