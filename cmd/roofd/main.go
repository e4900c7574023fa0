// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command roofd runs the observatory roof controller against a real
// Sequent Microsystems SM4rel4in HAT on a Raspberry Pi's native I²C bus.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"periph.io/x/conn/v3/driver/driverreg"

	"github.com/RoySalisbury/roofcontroller"
	"github.com/RoySalisbury/roofcontroller/internal/hat"
	"github.com/RoySalisbury/roofcontroller/internal/i2cbus"
)

func main() {
	busNum := flag.Int("bus", 1, "Linux I²C bus number, e.g. 1 for /dev/i2c-1")
	addr := flag.Uint("addr", 0x0D, "I²C address of the SM4rel4in HAT")
	flag.Parse()

	if _, err := driverreg.Init(); err != nil {
		log.Fatalf("roofd: driver registration failed: %v", err)
	}

	bus, err := i2cbus.OpenLinuxBus(*busNum)
	if err != nil {
		log.Fatalf("roofd: opening i2c bus %d: %v", *busNum, err)
	}
	defer bus.Close()

	client := i2cbus.New(bus, uint16(*addr))
	hatDrv := hat.New(client)

	cfg := roof.DefaultConfig()
	controller, err := roof.New(hatDrv, cfg)
	if err != nil {
		log.Fatalf("roofd: constructing controller: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := controller.Initialize(initCtx); err != nil {
		log.Fatalf("roofd: initialize: %v", err)
	}
	log.Printf("roofd: ready, status=%s", controller.Status())

	events, unsubscribe := controller.Subscribe()
	defer unsubscribe()
	go func() {
		for evt := range events {
			log.Printf("roofd: status=%s reason=%s at=%s", evt.Status, evt.LastStopReason, evt.Timestamp.Format(time.RFC3339))
		}
	}()

	<-ctx.Done()
	log.Printf("roofd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := controller.Shutdown(shutdownCtx); err != nil {
		log.Printf("roofd: shutdown: %v", err)
	}
}
