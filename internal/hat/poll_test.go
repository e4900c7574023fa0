// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hat

import (
	"context"
	"testing"
	"time"

	"github.com/RoySalisbury/roofcontroller/internal/i2cbus"
)

func TestPollDeliversEdgeOnInputChange(t *testing.T) {
	bus := NewSimBus()
	client := i2cbus.New(bus, 0x0D, i2cbus.WithPostTransactionDelay(0))
	drv := New(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := drv.Poll(ctx, 5*time.Millisecond)

	bus.SetInputMask(0b0001)

	select {
	case change := <-ch:
		if change.Input != 1 || !change.High {
			t.Fatalf("unexpected change: %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for input change")
	}
}

func TestPollClosesChannelWhenContextDone(t *testing.T) {
	bus := NewSimBus()
	client := i2cbus.New(bus, 0x0D, i2cbus.WithPostTransactionDelay(0))
	drv := New(client)

	ctx, cancel := context.WithCancel(context.Background())
	ch := drv.Poll(ctx, 5*time.Millisecond)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel to close, got a value")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}
