// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hal implements the register transports giving access to the
// SPI register space of an ADRV9025 transceiver.
package hal // import "github.com/go-lpc/adrv/hal"

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	spiRead = 0x8000 // read bit of an instruction word
	spiAddr = 0x7fff // address bits of an instruction word
)

// SPI frames ADI SPI transactions over a byte stream.
//
// A write transaction is a 16b instruction word followed by the data byte.
// A read transaction is a 16b instruction word with the read bit set,
// answered by the data byte.
type SPI struct {
	mu sync.Mutex
	rw io.ReadWriter
}

// NewSPI returns a register transport sending transactions over rw.
func NewSPI(rw io.ReadWriter) *SPI {
	return &SPI{rw: rw}
}

func instr(addr uint16, read bool) (byte, byte) {
	v := addr & spiAddr
	if read {
		v |= spiRead
	}
	return byte(v >> 8), byte(v)
}

func (spi *SPI) ReadReg(addr uint16) (byte, error) {
	var p [1]byte
	err := spi.ReadRegs(addr, p[:])
	return p[0], err
}

func (spi *SPI) WriteReg(addr uint16, v byte) error {
	return spi.WriteRegs(addr, []byte{v})
}

// ReadRegs reads len(p) consecutive registers starting at addr.
func (spi *SPI) ReadRegs(addr uint16, p []byte) error {
	if len(p) == 0 {
		return nil
	}

	buf := make([]byte, 0, 2*len(p))
	for i := range p {
		hi, lo := instr(addr+uint16(i), true)
		buf = append(buf, hi, lo)
	}

	spi.mu.Lock()
	defer spi.mu.Unlock()

	n, err := spi.rw.Write(buf)
	switch {
	case err != nil:
		return fmt.Errorf("hal: could not write SPI read instruction 0x%04x: %w", addr, err)
	case n != len(buf):
		return fmt.Errorf("hal: could not write SPI read instruction 0x%04x: %w", addr, io.ErrShortWrite)
	}

	_, err = io.ReadFull(spi.rw, p)
	if err != nil {
		return fmt.Errorf("hal: could not read register 0x%04x: %w", addr, err)
	}
	return nil
}

// WriteRegs writes p to consecutive registers starting at addr.
func (spi *SPI) WriteRegs(addr uint16, p []byte) error {
	if len(p) == 0 {
		return nil
	}

	buf := make([]byte, 0, 3*len(p))
	for i, v := range p {
		hi, lo := instr(addr+uint16(i), false)
		buf = append(buf, hi, lo, v)
	}

	spi.mu.Lock()
	defer spi.mu.Unlock()

	n, err := spi.rw.Write(buf)
	switch {
	case err != nil:
		return fmt.Errorf("hal: could not write register 0x%04x: %w", addr, err)
	case n != len(buf):
		return fmt.Errorf("hal: could not write register 0x%04x: %w", addr, io.ErrShortWrite)
	}
	return nil
}

func (spi *SPI) Sleep(d time.Duration) error {
	time.Sleep(d)
	return nil
}

// Close closes the underlying byte stream, if it can be closed.
func (spi *SPI) Close() error {
	if c, ok := spi.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
