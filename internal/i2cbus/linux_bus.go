// Copyright 2024 The Roof Controller Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package i2cbus

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// I2C ioctl request numbers, from linux/i2c-dev.h. Laid out the same way
// gpioioctl/ioctl.go builds its GPIO chardev ioctl numbers: small, named
// constants rather than magic numbers at call sites.
const (
	ioctlI2CSlave = 0x0703
	ioctlI2CRDWR  = 0x0707

	i2cMsgRead = 0x0001
)

// i2cMsg mirrors struct i2c_msg from linux/i2c.h.
type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

// i2cRdwrData mirrors struct i2c_rdwr_ioctl_data from linux/i2c-dev.h.
type i2cRdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// LinuxBus is a periph.io/x/conn/v3/i2c.Bus implementation backed directly
// by a Linux /dev/i2c-N character device, combining the write and read
// halves of a register transaction into one I2C_RDWR ioctl so a repeated
// START is issued between them, as the SM4rel4in firmware requires.
type LinuxBus struct {
	mu   sync.Mutex
	fd   int
	path string
}

// OpenLinuxBus opens the numbered I²C bus (e.g. busNum=1 for /dev/i2c-1,
// the bus Raspberry Pi boards expose on the 40-pin header).
func OpenLinuxBus(busNum int) (*LinuxBus, error) {
	path := fmt.Sprintf("/dev/i2c-%d", busNum)
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	return &LinuxBus{fd: fd, path: path}, nil
}

// String implements conn.Resource.
func (b *LinuxBus) String() string { return b.path }

// Duplex implements conn.Conn.
func (b *LinuxBus) Duplex() conn.Duplex { return conn.Half }

// SetSpeed implements i2c.Bus. The SM4rel4in runs a fixed 100kHz bus; Linux
// sets the clock at the adapter/controller level, not per file descriptor,
// so this is a bounds check only.
func (b *LinuxBus) SetSpeed(f physic.Frequency) error {
	if f <= 0 {
		return fmt.Errorf("i2cbus: invalid speed %s", f)
	}
	return nil
}

// Close releases the underlying file descriptor.
func (b *LinuxBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return nil
	}
	err := unix.Close(b.fd)
	b.fd = -1
	return err
}

// Tx implements i2c.Bus. It addresses the device per-call via the messages'
// own address field rather than ioctl(I2C_SLAVE), so concurrent Clients on
// distinct addresses could in principle share one LinuxBus; this module
// always pairs one LinuxBus with exactly one device address.
func (b *LinuxBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return fmt.Errorf("%w: bus closed", ErrIO)
	}

	var msgs []i2cMsg
	if len(w) > 0 {
		msgs = append(msgs, i2cMsg{addr: addr, flags: 0, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))})
	}
	if len(r) > 0 {
		msgs = append(msgs, i2cMsg{addr: addr, flags: i2cMsgRead, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))})
	}
	if len(msgs) == 0 {
		return nil
	}

	data := i2cRdwrData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(len(msgs))}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(b.fd), ioctlI2CRDWR, uintptr(unsafe.Pointer(&data))); errno != 0 {
		return fmt.Errorf("%w: I2C_RDWR addr=0x%02x: %v", ErrIO, addr, errno)
	}
	return nil
}

var _ i2c.Bus = (*LinuxBus)(nil)
