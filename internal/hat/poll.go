// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hat

import (
	"context"
	"time"
)

// InputChange describes one digital input (1-based, IN1..IN4) transitioning
// to a new raw logical level.
type InputChange struct {
	Input int
	High  bool
}

// Poll reads the digital input mask every interval and delivers per-input
// edges, in index order, on the returned channel. The channel is closed
// when ctx is done or the hardware read fails; callers should treat a
// closed channel as "fall back to the periodic verifier", per spec.md §4.7.
//
// This mirrors the edge-detection goroutine shape used for GPIO line
// polling elsewhere in this module's lineage, adapted from per-line
// granularity to the HAT's single 4-bit input mask register.
func (d *Driver) Poll(ctx context.Context, interval time.Duration) <-chan InputChange {
	ch := make(chan InputChange)
	go func() {
		defer close(ch)
		prev, err := d.ReadInputs()
		if err != nil {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cur, err := d.ReadInputs()
				if err != nil {
					return
				}
				changed := cur ^ prev
				if changed == 0 {
					continue
				}
				for i := 0; i < InputCount; i++ {
					bit := uint8(1 << i)
					if changed&bit == 0 {
						continue
					}
					select {
					case ch <- InputChange{Input: i + 1, High: cur&bit != 0}:
					case <-ctx.Done():
						return
					}
				}
				prev = cur
			}
		}
	}()
	return ch
}
