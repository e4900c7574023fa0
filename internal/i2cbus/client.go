// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package i2cbus implements the transport-layer register client that every
// hardware-facing package in this module is built on: byte/word/block
// read-write to a device at a fixed address, serialized by a per-instance
// mutex, with a mandatory post-transaction quiet interval.
//
// The client is generic over a periph.io/x/conn/v3/i2c.Bus capability. Two
// concrete transports are provided in this module: LinuxBus (native
// /dev/i2c-N ioctl access) and, in internal/bench, an FTDI USB-to-I²C
// bridge. Tests use a third, internal/hat.SimBus.
package i2cbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/mmr"
)

// ErrIO wraps every transport-level failure returned by the underlying bus.
// Callers should use errors.Is(err, ErrIO) rather than matching strings.
var ErrIO = errors.New("i2cbus: io error")

// DefaultPostTransactionDelay is the quiet interval slept after every
// transaction. The Sequent Microsystems relay/input controller this module
// targets drops I²C ACKs if the bus is driven again too soon after a
// transaction completes.
const DefaultPostTransactionDelay = 15 * time.Millisecond

// Client is the sole hardware boundary the roof core depends on. All of its
// exported methods are safe for concurrent use; each acquires the client's
// mutex for the full duration of its read-modify-write.
type Client struct {
	mu         sync.Mutex
	bus        i2c.Bus
	owned      bool
	dev        *i2c.Dev
	reg        mmr.Dev8
	postDelay  time.Duration
	closedOnce sync.Once
}

// Option configures a Client constructed with New.
type Option func(*Client)

// WithPostTransactionDelay overrides DefaultPostTransactionDelay.
func WithPostTransactionDelay(d time.Duration) Option {
	return func(c *Client) { c.postDelay = d }
}

// Owned marks the underlying bus as owned by this Client: Close will close
// the bus. By default a Client borrows its bus and Close is a no-op on it.
func Owned() Option {
	return func(c *Client) { c.owned = true }
}

// New returns a register client addressing device addr on bus. The bus is
// borrowed unless Owned() is passed.
func New(bus i2c.Bus, addr uint16, opts ...Option) *Client {
	c := &Client{
		bus:       bus,
		dev:       &i2c.Dev{Bus: bus, Addr: addr},
		postDelay: DefaultPostTransactionDelay,
	}
	for _, o := range opts {
		o(c)
	}
	c.reg = mmr.Dev8{Conn: c.dev, Order: binary.LittleEndian}
	return c
}

// Close releases the underlying bus if this Client owns it.
func (c *Client) Close() error {
	var err error
	c.closedOnce.Do(func() {
		if c.owned {
			if closer, ok := c.bus.(interface{ Close() error }); ok {
				err = closer.Close()
			}
		}
	})
	return err
}

func (c *Client) settle() {
	if c.postDelay > 0 {
		time.Sleep(c.postDelay)
	}
}

func wrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrIO, op, err)
}

// ReadU8 reads a single byte register.
func (c *Client) ReadU8(reg uint8) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle()
	v, err := c.reg.ReadUint8(reg)
	return v, wrapIO("read_u8", err)
}

// WriteU8 writes a single byte register.
func (c *Client) WriteU8(reg uint8, v uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle()
	return wrapIO("write_u8", c.reg.WriteUint8(reg, v))
}

// ReadU16 reads a little-endian word register.
func (c *Client) ReadU16(reg uint8) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle()
	v, err := c.reg.ReadUint16(reg)
	return v, wrapIO("read_u16", err)
}

// WriteU16 writes a little-endian word register.
func (c *Client) WriteU16(reg uint8, v uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle()
	return wrapIO("write_u16", c.reg.WriteUint16(reg, v))
}

// ReadU32 reads a little-endian double-word register.
func (c *Client) ReadU32(reg uint8) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle()
	v, err := c.reg.ReadUint32(reg)
	return v, wrapIO("read_u32", err)
}

// WriteU32 writes a little-endian double-word register.
func (c *Client) WriteU32(reg uint8, v uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle()
	return wrapIO("write_u32", c.reg.WriteUint32(reg, v))
}

// ReadBlock reads len(buf) bytes starting at reg into buf.
func (c *Client) ReadBlock(reg uint8, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle()
	return wrapIO("read_block", c.dev.Tx([]byte{reg}, buf))
}

// WriteBlock writes data starting at reg.
func (c *Client) WriteBlock(reg uint8, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle()
	w := make([]byte, 0, len(data)+1)
	w = append(w, reg)
	w = append(w, data...)
	return wrapIO("write_block", c.dev.Tx(w, nil))
}
