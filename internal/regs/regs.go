// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs holds the SPI register and CPU memory map of the
// ADRV9025 embedded cores.
package regs // import "github.com/go-lpc/adrv/internal/regs"

// SPI registers of CPU-C.
const (
	CtlC       = 0x00C0
	CmdC       = 0x00C3
	ExtCmdC    = 0x00C4 // 4 bytes
	BootAddrC  = 0x00C8 // 4 bytes, LSB first
	StackPtrC  = 0x00CC // 4 bytes, LSB first
	CmdStatusC = 0x00D0 // 16 bytes
)

// SPI registers of CPU-D.
const (
	CtlD       = 0x00E0
	CmdD       = 0x00E3
	ExtCmdD    = 0x00E4
	BootAddrD  = 0x00E8
	StackPtrD  = 0x00EC
	CmdStatusD = 0x00F0
)

// Layout of the command status window.
const (
	StatusBytes    = 8  // packed per-opcode status nibbles
	StatusFirmware = 8  // firmware boot status byte
	StatusMailbox  = 10 // mailbox error code, 2 bytes LSB first
	StatusSystem   = 12 // system error code, 2 bytes LSB first
)

const (
	CmdBusy = 0x80 // command register busy flag

	CtlDebugEnable = 0x80
	CtlRun         = 0x01
)

// DMA engine.
const (
	DMACtl   = 0x0100
	DMAAddr3 = 0x0101 // MSB; ADDR2..0 follow
	DMAData0 = 0x0108

	DMARead     = 0x80 // RD_WRB
	DMASysBus   = 0x40 // SYS_CODEB: 1 for data memory
	DMAAutoIncr = 0x02
	DMABusCoreD = 0x01 // BUS_SELECT
)

// CPU-C memory map.
const (
	ProgStartC   = 0x01018000
	ProgEndC     = 0x0104FFFF
	DataStartC   = 0x20028000
	DataEndC     = 0x2004FFFF
	VersionC     = 0x01018200
	ChecksumPtrC = 0x01018270
	MailboxSetC  = 0x20028000
	MailboxGetC  = 0x20028100
	ExceptionC   = 0x20028210
	DevProfileC  = 0x2002A000
	ADCProfileC  = 0x2002C000

	ImageDevProfile = 0x274 // offset of the device profile address in a CPU-C image
	ImageADCProfile = 0x278
)

// CPU-D memory map.
const (
	ProgStartD   = 0x01000000
	ProgEndD     = 0x01017FFF
	DataStartD   = 0x20000000
	DataEndD     = 0x20027FFF
	VersionD     = 0x01000200
	ChecksumPtrD = 0x01000270
	MailboxSetD  = 0x20000100
	MailboxGetD  = 0x20000200
	ExceptionD   = 0x20000000
)

// ObjIDConfig is the object id used by mailbox config SET/GET commands.
const ObjIDConfig = 0x81
