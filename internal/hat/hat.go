// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hat is the register-accurate driver for the Sequent Microsystems
// SM4rel4in four-relay/four-input Raspberry Pi HAT: relay set/clear/mask,
// input mask read, LED mask control, and the board's diagnostic counters.
//
// Driver composes an *i2cbus.Client capability rather than extending a base
// class; the simulated bus in sim_bus.go is a second implementation of the
// same i2c.Bus capability, not a subclass, so the whole HAT driver is
// testable without hardware.
package hat

import (
	"fmt"

	"github.com/RoySalisbury/roofcontroller/internal/i2cbus"
)

// Register offsets, bit-exact to the SM4rel4in register map.
const (
	RegRelayMask     = 0x00
	RegRelaySet      = 0x01
	RegRelayClear    = 0x02
	RegDigitalInMask = 0x03
	RegACInMask      = 0x04
	RegLedValue      = 0x05
	RegLedSet        = 0x06
	RegLedClear      = 0x07
	RegLedMode       = 0x08
	RegEdgeEnable    = 0x09
	RegEncoderEnable = 0x0A

	regPulseCountBase = 0x0D // 4x u32, IN1..IN4
	regPPSBase        = 0x1D // 4x u16
	regEncoderBase    = 0x25 // 2x i32
	regPWMDutyBase    = 0x2D // 4x u16, percent*100
	regFreqBase       = 0x35 // 4x u16, Hz
	regCurrentBase    = 0x48 // 4x i16, mA*1000
	regRMSCurrentBase = 0x50 // 4x i16

	RegHwRevisionMajor = 0x78
	RegHwRevisionMinor = 0x79
	RegFwRevisionMajor = 0x7A
	RegFwRevisionMinor = 0x7B
)

// RelayCount and InputCount are the number of relays/digital inputs the
// board exposes; relay and input indices are 1-based in the public API to
// match the board's silkscreen and the SET/CLEAR register convention.
const (
	RelayCount = 4
	InputCount = 4
)

// Driver is the register-accurate HAT driver. It is safe for concurrent
// use; every operation routes through the embedded Client's mutex.
type Driver struct {
	client *i2cbus.Client
}

// New wraps an already-constructed register client.
func New(client *i2cbus.Client) *Driver {
	return &Driver{client: client}
}

func validateRelay(relay int) error {
	if relay < 1 || relay > RelayCount {
		return fmt.Errorf("hat: relay %d out of range [1,%d]", relay, RelayCount)
	}
	return nil
}

func validateInput(input int) error {
	if input < 1 || input > InputCount {
		return fmt.Errorf("hat: input %d out of range [1,%d]", input, InputCount)
	}
	return nil
}

// SetRelay energizes (on=true) or de-energizes relay (1..4) using the
// SET/CLEAR registers, so peer relays are left undisturbed.
func (d *Driver) SetRelay(relay int, on bool) error {
	if err := validateRelay(relay); err != nil {
		return err
	}
	reg := uint8(RegRelayClear)
	if on {
		reg = RegRelaySet
	}
	return d.client.WriteU8(reg, uint8(relay))
}

// SetRelaysMask writes the full 4-bit relay mask in a single I²C write, so
// the board sees one atomic register update rather than four.
func (d *Driver) SetRelaysMask(mask uint8) error {
	return d.client.WriteU8(RegRelayMask, mask&0x0F)
}

// RelaysMask reads back the current relay mask.
func (d *Driver) RelaysMask() (uint8, error) {
	v, err := d.client.ReadU8(RegRelayMask)
	return v & 0x0F, err
}

// ReadInputs reads the 4-bit digital input mask (bit0=IN1..bit3=IN4).
func (d *Driver) ReadInputs() (uint8, error) {
	v, err := d.client.ReadU8(RegDigitalInMask)
	return v & 0x0F, err
}

// SetLedMask writes the 4-bit status LED mask directly.
func (d *Driver) SetLedMask(mask uint8) error {
	return d.client.WriteU8(RegLedValue, mask&0x0F)
}

// LedMask reads back the current LED mask.
func (d *Driver) LedMask() (uint8, error) {
	v, err := d.client.ReadU8(RegLedValue)
	return v & 0x0F, err
}

// Revision is the board's hardware/firmware revision pair.
type Revision struct {
	HardwareMajor, HardwareMinor uint8
	FirmwareMajor, FirmwareMinor uint8
}

// Revision queries the board's revision registers.
func (d *Driver) Revision() (Revision, error) {
	var r Revision
	var err error
	if r.HardwareMajor, err = d.client.ReadU8(RegHwRevisionMajor); err != nil {
		return Revision{}, err
	}
	if r.HardwareMinor, err = d.client.ReadU8(RegHwRevisionMinor); err != nil {
		return Revision{}, err
	}
	if r.FirmwareMajor, err = d.client.ReadU8(RegFwRevisionMajor); err != nil {
		return Revision{}, err
	}
	if r.FirmwareMinor, err = d.client.ReadU8(RegFwRevisionMinor); err != nil {
		return Revision{}, err
	}
	return r, nil
}

// PulseCount reads the free-running edge counter for a digital input
// (1..4). The roof core does not consume this; it is exposed so the full
// SM4rel4in register map is reachable through this driver.
func (d *Driver) PulseCount(input int) (uint32, error) {
	if err := validateInput(input); err != nil {
		return 0, err
	}
	return d.client.ReadU32(uint8(regPulseCountBase + (input-1)*4))
}

// PPS reads the board-computed pulses-per-second for a digital input.
func (d *Driver) PPS(input int) (uint16, error) {
	if err := validateInput(input); err != nil {
		return 0, err
	}
	return d.client.ReadU16(uint8(regPPSBase + (input-1)*2))
}

// PWMDutyPercent reads a channel's PWM duty cycle, scaled by 100.
func (d *Driver) PWMDutyPercent(channel int) (uint16, error) {
	if channel < 1 || channel > RelayCount {
		return 0, fmt.Errorf("hat: channel %d out of range [1,%d]", channel, RelayCount)
	}
	return d.client.ReadU16(uint8(regPWMDutyBase + (channel-1)*2))
}

// InputFrequencyHz reads a digital input's measured frequency.
func (d *Driver) InputFrequencyHz(input int) (uint16, error) {
	if err := validateInput(input); err != nil {
		return 0, err
	}
	return d.client.ReadU16(uint8(regFreqBase + (input-1)*2))
}

// SetEdgeCounterEnable enables or disables the free-running edge counters.
func (d *Driver) SetEdgeCounterEnable(mask uint8) error {
	return d.client.WriteU8(RegEdgeEnable, mask&0x0F)
}

// EncoderCount reads one of the board's two signed 32-bit quadrature encoder
// counters (1 or 2).
func (d *Driver) EncoderCount(encoder int) (int32, error) {
	if encoder < 1 || encoder > 2 {
		return 0, fmt.Errorf("hat: encoder %d out of range [1,2]", encoder)
	}
	v, err := d.client.ReadU32(uint8(regEncoderBase + (encoder-1)*4))
	return int32(v), err
}

// Current reads a relay channel's instantaneous current draw, in
// milliamps*1000.
func (d *Driver) Current(channel int) (int16, error) {
	if channel < 1 || channel > RelayCount {
		return 0, fmt.Errorf("hat: channel %d out of range [1,%d]", channel, RelayCount)
	}
	v, err := d.client.ReadU16(uint8(regCurrentBase + (channel-1)*2))
	return int16(v), err
}

// RMSCurrent reads a relay channel's RMS current draw, in the same units as
// Current.
func (d *Driver) RMSCurrent(channel int) (int16, error) {
	if channel < 1 || channel > RelayCount {
		return 0, fmt.Errorf("hat: channel %d out of range [1,%d]", channel, RelayCount)
	}
	v, err := d.client.ReadU16(uint8(regRMSCurrentBase + (channel-1)*2))
	return int16(v), err
}
