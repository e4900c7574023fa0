// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package roof

import (
	"log"

	"github.com/RoySalisbury/roofcontroller/internal/sensor"
)

const (
	ledBitOpenLimit   = 1 << 0
	ledBitClosedLimit = 1 << 1
	ledBitFault       = 1 << 2
)

func ledMask(snap sensor.Snapshot) uint8 {
	var mask uint8
	if snap.OpenLimit {
		mask |= ledBitOpenLimit
	}
	if snap.ClosedLimit {
		mask |= ledBitClosedLimit
	}
	if snap.Fault {
		mask |= ledBitFault
	}
	return mask
}

// writeLedLocked pushes the status LED mask for the current sensor snapshot.
// Called with c.mu held, after every committed status transition.
func (c *Controller) writeLedLocked() {
	if err := c.hatDrv.SetLedMask(ledMask(c.interp.Snapshot())); err != nil {
		log.Printf("roof: led write failed: %v", err)
	}
}
