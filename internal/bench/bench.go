// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bench provides a bench-test transport for the roof controller
// core: an I²C bus carried over a USB FTDI FT232H MPSSE adapter instead of a Raspberry Pi's native bus, so the relay/input HAT can be
// exercised on a development workstation.
//
// This wires periph.io/x/host/v3's ftdi driver, the same package
// periph.io/x/host/v3's own smoke tests use, rather than vendoring a copy:
// the MPSSE bit-banged I²C protocol is correctness-critical and is best
// consumed as the upstream-maintained implementation.
package bench

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

// OpenI2CBus opens the first FTDI MPSSE device found and returns its I²C
// bus. serial may be empty to accept any attached device, or a specific
// FTDI device serial number to disambiguate multiple dongles.
//
// Callers should pass i2cbus.Owned() when wrapping the returned bus in an
// i2cbus.Client, so Client.Close() also closes the USB device.
func OpenI2CBus(serial string) (i2c.Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("bench: host.Init: %w", err)
	}

	var dev ftdi.Dev
	for _, d := range ftdi.All() {
		if serial == "" || d.String() == serial {
			dev = d
			break
		}
	}
	if dev == nil {
		return nil, fmt.Errorf("bench: no FTDI MPSSE device found (serial=%q)", serial)
	}

	// Only the FT232H exposes an I²C bus; the FT232R is UART/GPIO-only, the
	// same distinction ftdi's own driver registration switches on.
	h, ok := dev.(*ftdi.FT232H)
	if !ok {
		return nil, fmt.Errorf("bench: device %s (%T) does not support I²C", dev.String(), dev)
	}
	bus, err := h.I2C(gpio.Float)
	if err != nil {
		return nil, fmt.Errorf("bench: opening I²C over %s: %w", dev.String(), err)
	}
	return bus, nil
}
