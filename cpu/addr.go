// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu

import (
	"fmt"

	"github.com/go-lpc/adrv/internal/regs"
)

// AddrMap is the fixed address table of an embedded core.
// SPI register addresses are 16b wide, CPU memory addresses 32b wide.
type AddrMap struct {
	Cmd       uint16 // opcode register, bit 7 is the busy flag
	ExtCmd    uint16 // 4 extended command data registers
	CmdStatus uint16 // status window
	Ctl       uint16 // control register
	StackPtr  uint16 // 4 stack pointer registers
	Boot      uint16 // 4 boot address registers

	MailboxSet  uint32 // host to core mailbox
	MailboxGet  uint32 // core to host mailbox
	Version     uint32
	ChecksumPtr uint32 // pointer to the checksum table

	ProgStart, ProgEnd uint32
	DataStart, DataEnd uint32

	DevProfile uint32 // device profile location, taken from the image
	ADCProfile uint32 // ADC profile location, taken from the image

	loaded bool
}

// Loaded reports whether a firmware image was written to the core.
func (m *AddrMap) Loaded() bool { return m.loaded }

func (m *AddrMap) inProg(addr uint32) bool {
	return m.ProgStart <= addr && addr <= m.ProgEnd
}

func (m *AddrMap) inData(addr uint32) bool {
	return m.DataStart <= addr && addr <= m.DataEnd
}

// AddrMaps holds the address tables of all the cores of a device.
type AddrMaps struct {
	maps [nCores]AddrMap
}

// NewAddrMaps returns the address tables of a freshly reset device.
func NewAddrMaps() *AddrMaps {
	return &AddrMaps{
		maps: [nCores]AddrMap{
			CoreC: {
				Cmd:       regs.CmdC,
				ExtCmd:    regs.ExtCmdC,
				CmdStatus: regs.CmdStatusC,
				Ctl:       regs.CtlC,
				StackPtr:  regs.StackPtrC,
				Boot:      regs.BootAddrC,

				MailboxSet:  regs.MailboxSetC,
				MailboxGet:  regs.MailboxGetC,
				Version:     regs.VersionC,
				ChecksumPtr: regs.ChecksumPtrC,

				ProgStart: regs.ProgStartC,
				ProgEnd:   regs.ProgEndC,
				DataStart: regs.DataStartC,
				DataEnd:   regs.DataEndC,

				DevProfile: regs.DevProfileC,
				ADCProfile: regs.ADCProfileC,
			},
			CoreD: {
				Cmd:       regs.CmdD,
				ExtCmd:    regs.ExtCmdD,
				CmdStatus: regs.CmdStatusD,
				Ctl:       regs.CtlD,
				StackPtr:  regs.StackPtrD,
				Boot:      regs.BootAddrD,

				MailboxSet:  regs.MailboxSetD,
				MailboxGet:  regs.MailboxGetD,
				Version:     regs.VersionD,
				ChecksumPtr: regs.ChecksumPtrD,

				ProgStart: regs.ProgStartD,
				ProgEnd:   regs.ProgEndD,
				DataStart: regs.DataStartD,
				DataEnd:   regs.DataEndD,
			},
		},
	}
}

// Resolve returns the address table of the provided core.
func (m *AddrMaps) Resolve(core Core) (*AddrMap, error) {
	if core >= nCores {
		return nil, fmt.Errorf("cpu: core %v: %w", core, ErrUnknownCore)
	}
	return &m.maps[core], nil
}

// ResolveLoaded returns the address table of the provided core, if a
// firmware image was loaded into that core.
func (m *AddrMaps) ResolveLoaded(core Core) (*AddrMap, error) {
	v, err := m.Resolve(core)
	if err != nil {
		return nil, err
	}
	if !v.loaded {
		return nil, fmt.Errorf("cpu: core %v: %w", core, ErrImageNotLoaded)
	}
	return v, nil
}

func (m *AddrMaps) markLoaded(core Core) {
	m.maps[core].loaded = true
}

// region returns the core owning addr and whether addr lies in its
// program memory.
func (m *AddrMaps) region(addr uint32) (Core, bool, error) {
	for i := range m.maps {
		v := &m.maps[i]
		switch {
		case v.inProg(addr):
			return Core(i), true, nil
		case v.inData(addr):
			return Core(i), false, nil
		}
	}
	return 0, false, fmt.Errorf("cpu: address 0x%08x: %w", addr, ErrInvalidAddr)
}

func exceptionAddr(core Core) (uint32, error) {
	switch core {
	case CoreC:
		return regs.ExceptionC, nil
	case CoreD:
		return regs.ExceptionD, nil
	}
	return 0, fmt.Errorf("cpu: core %v: %w", core, ErrUnknownCore)
}
