// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu

import (
	"fmt"

	"github.com/go-lpc/adrv/internal/regs"
)

// MemRead reads len(p) bytes of core memory at addr, through the DMA engine.
func (dev *Device) MemRead(addr uint32, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	ctl, err := dev.dmaCtl(addr, len(p), true)
	if err != nil {
		return err
	}

	dev.dma.Lock()
	defer dev.dma.Unlock()

	err = dev.dmaSetup(ctl, addr)
	if err != nil {
		return err
	}
	for i := range p {
		p[i], err = dev.hal.ReadReg(regs.DMAData0)
		if err != nil {
			return fmt.Errorf("cpu: could not read DMA data at 0x%08x: %w", addr+uint32(i), err)
		}
	}
	return nil
}

// MemWrite writes p to core memory at addr, through the DMA engine.
func (dev *Device) MemWrite(addr uint32, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	ctl, err := dev.dmaCtl(addr, len(p), false)
	if err != nil {
		return err
	}

	dev.dma.Lock()
	defer dev.dma.Unlock()

	err = dev.dmaSetup(ctl, addr)
	if err != nil {
		return err
	}
	for i, v := range p {
		err = dev.hal.WriteReg(regs.DMAData0, v)
		if err != nil {
			return fmt.Errorf("cpu: could not write DMA data at 0x%08x: %w", addr+uint32(i), err)
		}
	}
	return nil
}

func (dev *Device) dmaCtl(addr uint32, n int, read bool) (byte, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	beg, prog, err := dev.maps.region(addr)
	if err != nil {
		return 0, err
	}
	end, _, err := dev.maps.region(addr + uint32(n) - 1)
	if err != nil || end != beg {
		return 0, fmt.Errorf(
			"cpu: range [0x%08x, 0x%08x) spans core memories: %w",
			addr, addr+uint32(n), ErrInvalidAddr,
		)
	}

	ctl := byte(regs.DMAAutoIncr)
	if read {
		ctl |= regs.DMARead
	}
	if !prog {
		ctl |= regs.DMASysBus
	}
	if beg == CoreD {
		ctl |= regs.DMABusCoreD
	}
	return ctl, nil
}

func (dev *Device) dmaSetup(ctl byte, addr uint32) error {
	err := dev.hal.WriteReg(regs.DMACtl, ctl)
	if err != nil {
		return fmt.Errorf("cpu: could not write DMA control: %w", err)
	}
	buf := []byte{
		byte(addr >> 24),
		byte(addr >> 16),
		byte(addr >> 8),
		byte(addr),
	}
	err = dev.hal.WriteRegs(regs.DMAAddr3, buf)
	if err != nil {
		return fmt.Errorf("cpu: could not write DMA address 0x%08x: %w", addr, err)
	}
	return nil
}
