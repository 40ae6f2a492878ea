// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu

import (
	"fmt"

	"github.com/go-lpc/adrv/internal/regs"
)

// Opcode selects the function invoked on a core.
type Opcode uint8

const (
	OpAbort         Opcode = 0x00
	OpRunInit       Opcode = 0x02
	OpRadioOn       Opcode = 0x04
	OpWriteCfg      Opcode = 0x06
	OpReadCfg       Opcode = 0x08
	OpSet           Opcode = 0x0A
	OpGet           Opcode = 0x0C
	OpStreamTrigger Opcode = 0x1F

	opMax = 0x1E
)

// maxExt is the number of extended command data registers.
const maxExt = 4

// Valid reports whether op is a known opcode: an even value up to 30,
// or the stream trigger.
func (op Opcode) Valid() bool {
	if op == OpStreamTrigger {
		return true
	}
	return op&1 == 0 && op <= opMax
}

func validate(op Opcode, ext []byte) error {
	if !op.Valid() {
		return fmt.Errorf("cpu: opcode 0x%02x: %w", uint8(op), ErrInvalidOpcode)
	}
	if len(ext) > maxExt {
		return fmt.Errorf(
			"cpu: opcode 0x%02x: too many extended data bytes (%d > %d): %w",
			uint8(op), len(ext), maxExt, ErrInvalidOpcode,
		)
	}
	return nil
}

// Submit sends op and its extended data to the provided core, once the
// core's command channel is idle.
// Submit does not wait for the command to complete.
func (dev *Device) Submit(core Core, op Opcode, ext []byte) error {
	err := validate(op, ext)
	if err != nil {
		return err
	}

	m, err := dev.resolve(core, true)
	if err != nil {
		return err
	}

	dev.cores[core].Lock()
	defer dev.cores[core].Unlock()

	return dev.submit(core, &m, op, ext)
}

func (dev *Device) submit(core Core, m *AddrMap, op Opcode, ext []byte) error {
	var (
		interval, n = dev.cfg.cmd.polls()
		busy        = true
	)
	for i := 0; i <= n; i++ {
		v, err := dev.hal.ReadReg(m.Cmd)
		if err != nil {
			return fmt.Errorf("cpu: could not read command busy flag of core %v: %w", core, err)
		}
		if v&regs.CmdBusy == 0 {
			busy = false
			break
		}
		if i < n {
			err = dev.sleep(interval)
			if err != nil {
				return err
			}
		}
	}

	if busy {
		exc, err := dev.Exception(core)
		if err != nil {
			return err
		}
		if exc != 0 {
			return &ExceptionError{Core: core, Op: op, Exception: exc, Err: ErrBusy}
		}
		return fmt.Errorf("cpu: core %v: opcode=0x%02x: %w", core, uint8(op), ErrBusy)
	}

	if len(ext) > 0 {
		err := dev.hal.WriteRegs(m.ExtCmd, ext)
		if err != nil {
			return fmt.Errorf("cpu: could not write extended command data to core %v: %w", core, err)
		}
	}

	err := dev.hal.WriteReg(m.Cmd, byte(op))
	if err != nil {
		return fmt.Errorf("cpu: could not write opcode 0x%02x to core %v: %w", uint8(op), core, err)
	}
	return nil
}
