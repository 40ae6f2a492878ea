// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hal

import (
	"fmt"
	"time"

	"github.com/go-daq/smbus"
)

// registers of a 16b I2C GPIO expander (PCA9555 family).
const (
	expOutput0 = 0x02
	expConfig0 = 0x06
)

type smbusConn interface {
	ReadReg(addr, reg uint8) (uint8, error)
	WriteReg(addr, reg, v uint8) error
	Close() error
}

var smbusOpen = smbusOpenImpl

func smbusOpenImpl(bus int, addr uint8) (smbusConn, error) {
	conn, err := smbus.Open(bus, addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ExpanderReset drives the RESETB line of a transceiver wired to a pin of
// an I2C GPIO expander.
type ExpanderReset struct {
	conn  smbusConn
	addr  uint8
	pin   uint8 // 0-15
	pulse time.Duration
	sleep func(time.Duration)
}

// NewExpanderReset opens the GPIO expander at addr on the provided I2C bus.
func NewExpanderReset(bus int, addr, pin uint8) (*ExpanderReset, error) {
	if pin > 15 {
		return nil, fmt.Errorf("hal: invalid expander pin %d", pin)
	}
	conn, err := smbusOpen(bus, addr)
	if err != nil {
		return nil, fmt.Errorf("hal: could not open i2c-%d (addr=0x%x): %w", bus, addr, err)
	}

	return &ExpanderReset{
		conn:  conn,
		addr:  addr,
		pin:   pin,
		pulse: time.Millisecond,
		sleep: time.Sleep,
	}, nil
}

func (rst *ExpanderReset) regs() (out, cfg uint8, bit uint8) {
	return expOutput0 + rst.pin/8, expConfig0 + rst.pin/8, 1 << (rst.pin % 8)
}

// Reset pulses RESETB low.
func (rst *ExpanderReset) Reset() error {
	out, cfg, bit := rst.regs()

	v, err := rst.conn.ReadReg(rst.addr, out)
	if err != nil {
		return fmt.Errorf("hal: could not read expander output: %w", err)
	}
	err = rst.conn.WriteReg(rst.addr, out, v&^bit)
	if err != nil {
		return fmt.Errorf("hal: could not assert RESETB: %w", err)
	}

	c, err := rst.conn.ReadReg(rst.addr, cfg)
	if err != nil {
		return fmt.Errorf("hal: could not read expander config: %w", err)
	}
	if c&bit != 0 {
		err = rst.conn.WriteReg(rst.addr, cfg, c&^bit)
		if err != nil {
			return fmt.Errorf("hal: could not configure RESETB as output: %w", err)
		}
	}

	rst.sleep(rst.pulse)

	err = rst.conn.WriteReg(rst.addr, out, v|bit)
	if err != nil {
		return fmt.Errorf("hal: could not release RESETB: %w", err)
	}
	return nil
}

func (rst *ExpanderReset) Close() error {
	return rst.conn.Close()
}
