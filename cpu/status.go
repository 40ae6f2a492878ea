// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu

import (
	"fmt"

	"github.com/go-lpc/adrv/internal/regs"
)

// Status is the 4-bit status of an opcode: bit 0 is the pending flag,
// bits 1-3 the error field.
type Status uint8

const (
	statusPending = 0x01
	statusErr     = 0x0E
)

func (s Status) Pending() bool { return s&statusPending != 0 }

// Code returns the 3-bit error field. Zero means no error.
func (s Status) Code() uint8 { return uint8(s&statusErr) >> 1 }

func (s Status) String() string {
	return fmt.Sprintf("Status{pending=%v, err=%d}", s.Pending(), s.Code())
}

// PackedStatus is the packed status window of a core, holding one
// nibble per opcode.
type PackedStatus [regs.StatusBytes]byte

// locate returns the byte index and bit shift of the nibble of op.
func locate(op Opcode) (int, uint) {
	idx := int(op >> 2)
	switch {
	case op == OpStreamTrigger:
		return idx, 6
	case (op>>1)&1 == 1:
		return idx, 4
	}
	return idx, 0
}

// Opcode decodes the status of op.
func (p PackedStatus) Opcode(op Opcode) Status {
	idx, shift := locate(op)
	return Status((p[idx] >> shift) & 0x0F)
}

// Set encodes s as the status of op.
func (p *PackedStatus) Set(op Opcode, s Status) {
	idx, shift := locate(op)
	mask := byte(0x0F) << shift
	p[idx] = p[idx]&^mask | (byte(s)<<shift)&mask
}

// StatusOpcode reads the status of op on the provided core.
func (dev *Device) StatusOpcode(core Core, op Opcode) (Status, error) {
	if !op.Valid() {
		return 0, fmt.Errorf("cpu: opcode 0x%02x: %w", uint8(op), ErrInvalidOpcode)
	}
	m, err := dev.resolve(core, false)
	if err != nil {
		return 0, err
	}
	return dev.statusOpcode(core, &m, op)
}

func (dev *Device) statusOpcode(core Core, m *AddrMap, op Opcode) (Status, error) {
	var p PackedStatus
	err := dev.hal.ReadRegs(m.CmdStatus, p[:])
	if err != nil {
		return 0, fmt.Errorf("cpu: could not read command status of core %v: %w", core, err)
	}

	// a status byte may be caught while the core updates it.
	idx, _ := locate(op)
	v, err := dev.hal.ReadReg(m.CmdStatus + uint16(idx))
	if err != nil {
		return 0, fmt.Errorf("cpu: could not read command status of core %v: %w", core, err)
	}

	s := p.Opcode(op)
	if v != p[idx] {
		s |= statusPending
	}
	return s, nil
}

// StatusWords summarizes the status window of a core with 2 bits per
// status byte, one per nibble.
func (dev *Device) StatusWords(core Core) (errs, pending uint16, err error) {
	m, err := dev.resolve(core, false)
	if err != nil {
		return 0, 0, err
	}

	var p PackedStatus
	err = dev.hal.ReadRegs(m.CmdStatus, p[:])
	if err != nil {
		return 0, 0, fmt.Errorf("cpu: could not read command status of core %v: %w", core, err)
	}

	for i, b := range p {
		pend := uint16((b&0x10)>>3 | b&0x01)
		pending |= pend << (i * 2)
		if b&0x0E != 0 {
			errs |= 1 << (i * 2)
		}
		if b&0xE0 != 0 {
			errs |= 1 << (i*2 + 1)
		}
	}
	return errs, pending, nil
}

// Wait polls the status of op on the provided core until it is not
// pending anymore.
// Wait returns a *CmdError as soon as the core reports an error.
func (dev *Device) Wait(core Core, op Opcode, t Timing) (Status, error) {
	if !op.Valid() {
		return 0, fmt.Errorf("cpu: opcode 0x%02x: %w", uint8(op), ErrInvalidOpcode)
	}
	m, err := dev.resolve(core, true)
	if err != nil {
		return 0, err
	}

	dev.cores[core].Lock()
	defer dev.cores[core].Unlock()

	return dev.wait(core, &m, op, 0, t)
}

func (dev *Device) wait(core Core, m *AddrMap, op Opcode, objID uint8, t Timing) (Status, error) {
	var (
		interval, n = t.polls()
		s           Status
		err         error
	)
	for i := 0; i <= n; i++ {
		s, err = dev.statusOpcode(core, m, op)
		if err != nil {
			return s, err
		}
		if s.Code() != 0 {
			return s, dev.cmdError(core, m, op, objID, s)
		}
		if !s.Pending() {
			return s, nil
		}
		if i < n {
			err = dev.sleep(interval)
			if err != nil {
				return s, err
			}
		}
	}

	exc, err := dev.Exception(core)
	if err != nil {
		return s, err
	}
	if exc != 0 {
		return s, &ExceptionError{Core: core, Op: op, Exception: exc, Err: ErrTimeout}
	}
	return s, fmt.Errorf("cpu: core %v: opcode=0x%02x: %w", core, uint8(op), ErrTimeout)
}

func (dev *Device) cmdError(core Core, m *AddrMap, op Opcode, objID uint8, s Status) error {
	e := Classify(op, objID, s)
	e.Core = core
	if e.Kind != KindCommand {
		return e
	}

	code, err := dev.errCode(m, regs.StatusMailbox)
	if err != nil {
		return fmt.Errorf("cpu: could not read mailbox error code of core %v (%v): %w", core, e, err)
	}
	e.Mailbox = code
	return e
}

// Exec submits op to the provided core and waits for its completion.
// objID identifies the object addressed by op in the returned errors.
func (dev *Device) Exec(core Core, op Opcode, objID uint8, ext []byte, t Timing) (Status, error) {
	err := validate(op, ext)
	if err != nil {
		return 0, err
	}
	m, err := dev.resolve(core, true)
	if err != nil {
		return 0, err
	}

	dev.cores[core].Lock()
	defer dev.cores[core].Unlock()

	err = dev.submit(core, &m, op, ext)
	if err != nil {
		return 0, err
	}
	return dev.wait(core, &m, op, objID, t)
}

// MailboxError reads the mailbox error code of the provided core.
func (dev *Device) MailboxError(core Core) (uint16, error) {
	m, err := dev.resolve(core, false)
	if err != nil {
		return 0, err
	}
	code, err := dev.errCode(&m, regs.StatusMailbox)
	if err != nil {
		return 0, fmt.Errorf("cpu: could not read mailbox error code of core %v: %w", core, err)
	}
	return code, nil
}

// SystemError reads the system error code of the provided core.
func (dev *Device) SystemError(core Core) (uint16, error) {
	m, err := dev.resolve(core, false)
	if err != nil {
		return 0, err
	}
	code, err := dev.errCode(&m, regs.StatusSystem)
	if err != nil {
		return 0, fmt.Errorf("cpu: could not read system error code of core %v: %w", core, err)
	}
	return code, nil
}

func (dev *Device) errCode(m *AddrMap, off uint16) (uint16, error) {
	var buf [2]byte
	err := dev.hal.ReadRegs(m.CmdStatus+off, buf[:])
	if err != nil {
		return 0, err
	}
	return uint16(buf[1])<<8 | uint16(buf[0]), nil
}
