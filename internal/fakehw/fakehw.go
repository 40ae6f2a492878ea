// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakehw simulates the register space of an ADRV9025 transceiver
// and the DMA engine giving access to its embedded cores memory.
//
// Scripted registers and memory blocks take a new value from their script
// at every Sleep following a read, so that each poll of a bounded loop
// sees the next scripted value.
package fakehw // import "github.com/go-lpc/adrv/internal/fakehw"

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-lpc/adrv/internal/regs"
)

const nRegs = 0x200

// Cmd is a command received by a core.
type Cmd struct {
	Core int // 0 for core C, 1 for core D
	Op   byte
	Ext  [4]byte
}

// Device is a fake transceiver.
type Device struct {
	mu sync.Mutex

	regs [nRegs]byte
	mem  map[uint32]byte

	dma struct {
		ctl  byte
		addr uint32
	}

	rscripts map[uint16]*script
	mscripts map[uint32]*script

	// OnCmd, if set, is called when a core receives a command.
	OnCmd func(dev *Device, cmd Cmd)
	queue []Cmd

	// Err, if set, fails all register accesses.
	Err error

	Cmds   []Cmd
	Sleeps []time.Duration
	Reads  int // number of register reads
	Writes int // number of register writes
}

type script struct {
	vals [][]byte
	cur  int
	read bool
}

func New() *Device {
	return &Device{
		mem:      make(map[uint32]byte),
		rscripts: make(map[uint16]*script),
		mscripts: make(map[uint32]*script),
	}
}

// ScriptReg sets the successive values of the register at addr.
func (dev *Device) ScriptReg(addr uint16, vals ...byte) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	s := &script{vals: make([][]byte, len(vals))}
	for i, v := range vals {
		s.vals[i] = []byte{v}
	}
	dev.rscripts[addr] = s
	dev.regs[addr] = vals[0]
}

// ScriptMem sets the successive contents of the memory block at addr.
func (dev *Device) ScriptMem(addr uint32, vals ...[]byte) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	s := &script{vals: vals}
	dev.mscripts[addr] = s
	dev.store(addr, vals[0])
}

// SetReg sets the value of the register at addr.
func (dev *Device) SetReg(addr uint16, v byte) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	delete(dev.rscripts, addr)
	dev.regs[addr] = v
}

// Reg returns the value of the register at addr.
func (dev *Device) Reg(addr uint16) byte {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.regs[addr]
}

// SetMem writes p to core memory at addr.
func (dev *Device) SetMem(addr uint32, p []byte) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.store(addr, p)
}

// Mem returns n bytes of core memory at addr.
func (dev *Device) Mem(addr uint32, n int) []byte {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	p := make([]byte, n)
	for i := range p {
		p[i] = dev.mem[addr+uint32(i)]
	}
	return p
}

func (dev *Device) store(addr uint32, p []byte) {
	for i, v := range p {
		dev.mem[addr+uint32(i)] = v
	}
}

func (dev *Device) ReadReg(addr uint16) (byte, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.readReg(addr)
}

func (dev *Device) readReg(addr uint16) (byte, error) {
	if dev.Err != nil {
		return 0, dev.Err
	}
	if int(addr) >= nRegs {
		return 0, fmt.Errorf("fakehw: invalid register 0x%04x", addr)
	}
	dev.Reads++
	if s, ok := dev.rscripts[addr]; ok {
		s.read = true
	}

	if addr == regs.DMAData0 {
		return dev.dmaRead()
	}
	return dev.regs[addr], nil
}

func (dev *Device) WriteReg(addr uint16, v byte) error {
	dev.mu.Lock()
	err := dev.writeReg(addr, v)
	cmds := dev.flush()
	dev.mu.Unlock()

	dev.run(cmds)
	return err
}

func (dev *Device) writeReg(addr uint16, v byte) error {
	if dev.Err != nil {
		return dev.Err
	}
	if int(addr) >= nRegs {
		return fmt.Errorf("fakehw: invalid register 0x%04x", addr)
	}
	dev.Writes++

	switch addr {
	case regs.DMACtl:
		dev.dma.ctl = v
	case regs.DMAAddr3, regs.DMAAddr3 + 1, regs.DMAAddr3 + 2, regs.DMAAddr3 + 3:
		dev.regs[addr] = v
		dev.dma.addr = uint32(dev.regs[regs.DMAAddr3])<<24 |
			uint32(dev.regs[regs.DMAAddr3+1])<<16 |
			uint32(dev.regs[regs.DMAAddr3+2])<<8 |
			uint32(dev.regs[regs.DMAAddr3+3])
		return nil
	case regs.DMAData0:
		return dev.dmaWrite(v)
	}

	dev.regs[addr] = v
	if addr == regs.CmdC || addr == regs.CmdD {
		dev.command(addr, v)
	}
	return nil
}

func (dev *Device) ReadRegs(addr uint16, p []byte) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	for i := range p {
		v, err := dev.readReg(addr + uint16(i))
		if err != nil {
			return err
		}
		p[i] = v
	}
	return nil
}

func (dev *Device) WriteRegs(addr uint16, p []byte) error {
	dev.mu.Lock()
	var err error
	for i, v := range p {
		err = dev.writeReg(addr+uint16(i), v)
		if err != nil {
			break
		}
	}
	cmds := dev.flush()
	dev.mu.Unlock()

	dev.run(cmds)
	return err
}

// Sleep records d and advances the scripts read since the last Sleep.
func (dev *Device) Sleep(d time.Duration) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.Sleeps = append(dev.Sleeps, d)
	for addr, s := range dev.rscripts {
		if s.advance() {
			dev.regs[addr] = s.vals[s.cur][0]
		}
	}
	for addr, s := range dev.mscripts {
		if s.advance() {
			dev.store(addr, s.vals[s.cur])
		}
	}
	return nil
}

func (s *script) advance() bool {
	if !s.read || s.cur+1 >= len(s.vals) {
		return false
	}
	s.read = false
	s.cur++
	return true
}

func (dev *Device) dmaRead() (byte, error) {
	if dev.dma.ctl&regs.DMARead == 0 {
		return 0, fmt.Errorf("fakehw: DMA read with write control 0x%02x", dev.dma.ctl)
	}
	addr := dev.dma.addr
	for beg, s := range dev.mscripts {
		if beg <= addr && addr < beg+uint32(len(s.vals[s.cur])) {
			s.read = true
		}
	}
	v := dev.mem[addr]
	dev.dmaNext()
	return v, nil
}

func (dev *Device) dmaWrite(v byte) error {
	if dev.dma.ctl&regs.DMARead != 0 {
		return fmt.Errorf("fakehw: DMA write with read control 0x%02x", dev.dma.ctl)
	}
	dev.mem[dev.dma.addr] = v
	dev.dmaNext()
	return nil
}

func (dev *Device) dmaNext() {
	if dev.dma.ctl&regs.DMAAutoIncr != 0 {
		dev.dma.addr++
	}
}

func (dev *Device) command(addr uint16, op byte) {
	cmd := Cmd{Op: op}
	if addr == regs.CmdD {
		cmd.Core = 1
	}
	copy(cmd.Ext[:], dev.regs[addr+1:addr+5])
	dev.Cmds = append(dev.Cmds, cmd)
	dev.queue = append(dev.queue, cmd)
}

func (dev *Device) flush() []Cmd {
	cmds := dev.queue
	dev.queue = nil
	if dev.OnCmd == nil {
		return nil
	}
	return cmds
}

func (dev *Device) run(cmds []Cmd) {
	for _, cmd := range cmds {
		dev.OnCmd(dev, cmd)
	}
}

// Ready sets up a core C firmware reporting ready, with the provided
// checksum table stored at ptr.
func (dev *Device) Ready(ptr uint32, table []byte) {
	dev.SetReg(regs.CmdStatusC+regs.StatusFirmware, 1)

	var buf [4]byte
	buf[0] = byte(ptr)
	buf[1] = byte(ptr >> 8)
	buf[2] = byte(ptr >> 16)
	buf[3] = byte(ptr >> 24)
	dev.SetMem(regs.ChecksumPtrC, buf[:])
	dev.SetMem(ptr, table)
}
