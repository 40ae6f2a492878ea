// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu

import (
	"encoding/binary"
	"fmt"
)

// ChannelMask is a set of transceiver channels.
type ChannelMask uint32

const (
	ChannelRx1 ChannelMask = 1 << iota
	ChannelRx2
	ChannelRx3
	ChannelRx4
	ChannelORx1
	ChannelORx2
	ChannelORx3
	ChannelORx4
	ChannelLB12
	ChannelLB34
	ChannelTx1
	ChannelTx2
	ChannelTx3
	ChannelTx4

	ChannelAll ChannelMask = 1<<iota - 1
)

// Stream indexes the stream images of a checksum table.
type Stream uint8

const (
	StreamMain Stream = iota
	StreamRx1
	StreamRx2
	StreamRx3
	StreamRx4
	StreamTx1
	StreamTx2
	StreamTx3
	StreamTx4
	StreamORx12 // ORx1, ORx2 and loopback 1-2
	StreamORx34 // ORx3, ORx4 and loopback 3-4

	NumStreams = 11
)

var streamNames = [NumStreams]string{
	"main", "rx1", "rx2", "rx3", "rx4",
	"tx1", "tx2", "tx3", "tx4", "orx12", "orx34",
}

func (s Stream) String() string {
	if s < NumStreams {
		return streamNames[s]
	}
	return fmt.Sprintf("Stream(%d)", uint8(s))
}

// Channels returns the channels whose initialization loads the stream.
func (s Stream) Channels() ChannelMask {
	switch s {
	case StreamMain:
		return 0xFFFFFFFF
	case StreamRx1, StreamRx2, StreamRx3, StreamRx4:
		return ChannelRx1 << (s - StreamRx1)
	case StreamTx1, StreamTx2, StreamTx3, StreamTx4:
		return ChannelTx1 << (s - StreamTx1)
	case StreamORx12:
		return ChannelORx1 | ChannelORx2 | ChannelLB12
	case StreamORx34:
		return ChannelORx3 | ChannelORx4 | ChannelLB34
	}
	return 0
}

// Checksum pairs the build-time and run-time checksums of an image.
type Checksum struct {
	Build uint32
	Run   uint32
}

// Resolved reports whether the core computed the run-time checksum.
func (c Checksum) Resolved() bool { return c.Run != 0 }

func (c Checksum) Match() bool { return c.Build == c.Run }

// ChecksumTable holds the checksums computed by a core after boot.
type ChecksumTable struct {
	Firmware      Checksum
	Streams       [NumStreams]Checksum
	DeviceProfile Checksum
	ADCProfile    Checksum
}

const (
	nChecksums    = 1 + NumStreams + 2
	szChecksum    = 8
	szChecksumTbl = nChecksums * szChecksum
)

func (tbl *ChecksumTable) entries() []*Checksum {
	es := make([]*Checksum, 0, nChecksums)
	es = append(es, &tbl.Firmware)
	for i := range tbl.Streams {
		es = append(es, &tbl.Streams[i])
	}
	return append(es, &tbl.DeviceProfile, &tbl.ADCProfile)
}

// UnmarshalBinary decodes the little-endian in-memory checksum table.
func (tbl *ChecksumTable) UnmarshalBinary(p []byte) error {
	if len(p) < szChecksumTbl {
		return fmt.Errorf("cpu: checksum table too short (%d < %d)", len(p), szChecksumTbl)
	}
	for i, c := range tbl.entries() {
		beg := i * szChecksum
		c.Build = binary.LittleEndian.Uint32(p[beg:])
		c.Run = binary.LittleEndian.Uint32(p[beg+4:])
	}
	return nil
}

// MarshalBinary encodes the table in its little-endian in-memory layout.
func (tbl ChecksumTable) MarshalBinary() ([]byte, error) {
	p := make([]byte, szChecksumTbl)
	for i, c := range tbl.entries() {
		beg := i * szChecksum
		binary.LittleEndian.PutUint32(p[beg:], c.Build)
		binary.LittleEndian.PutUint32(p[beg+4:], c.Run)
	}
	return p, nil
}

// ChecksumMismatchError reports an image whose run-time checksum
// differs from its build-time checksum.
type ChecksumMismatchError struct {
	Which string
	Checksum
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("cpu: %s checksum mismatch (build=0x%08x, run=0x%08x)",
		e.Which, e.Build, e.Run,
	)
}

// VerifyChecksums reads the checksum table of the provided core, waiting
// for the core to compute it, and compares the build-time and run-time
// checksums of the firmware, of the streams of initialized channels and
// of the enabled profiles.
//
// The recorded table is returned whenever it could be read, along with
// the first fatal mismatch, if any.
func (dev *Device) VerifyChecksums(core Core) (*ChecksumTable, error) {
	m, err := dev.resolve(core, false)
	if err != nil {
		return nil, err
	}

	var ptr [4]byte
	err = dev.MemRead(m.ChecksumPtr, ptr[:])
	if err != nil {
		return nil, fmt.Errorf("cpu: could not read checksum table pointer: %w", err)
	}
	addr := binary.LittleEndian.Uint32(ptr[:])

	var (
		interval, n = dev.cfg.chk.polls()
		buf         = make([]byte, szChecksumTbl)
		tbl         ChecksumTable
	)
	for i := 0; i <= n; i++ {
		err = dev.MemRead(addr, buf)
		if err != nil {
			return nil, fmt.Errorf("cpu: could not read checksum table at 0x%08x: %w", addr, err)
		}
		_ = tbl.UnmarshalBinary(buf)
		if tbl.Firmware.Resolved() {
			break
		}
		if i < n {
			err = dev.sleep(interval)
			if err != nil {
				return nil, err
			}
		}
	}

	if !tbl.Firmware.Resolved() {
		return &tbl, fmt.Errorf("cpu: core %v: %w", core, ErrUnresolved)
	}

	dev.mu.Lock()
	rec := tbl
	dev.chk = &rec
	debug := dev.state.Has(StateDebugLoaded)
	dev.mu.Unlock()

	return &tbl, dev.check(&tbl, debug)
}

func (dev *Device) check(tbl *ChecksumTable, debug bool) error {
	var fatal error
	mismatch := func(which string, c Checksum, enabled bool) {
		if c.Match() {
			return
		}
		if !enabled {
			dev.msg.Printf("ignoring %s checksum mismatch (build=0x%08x, run=0x%08x)",
				which, c.Build, c.Run,
			)
			return
		}
		if fatal == nil {
			fatal = &ChecksumMismatchError{Which: which, Checksum: c}
		}
	}

	mismatch("firmware", tbl.Firmware, !debug)
	for i, c := range tbl.Streams {
		s := Stream(i)
		if dev.cfg.channels&s.Channels() == 0 {
			continue
		}
		mismatch("stream "+s.String(), c, true)
	}
	mismatch("device profile", tbl.DeviceProfile, dev.cfg.devProfile)
	mismatch("ADC profile", tbl.ADCProfile, dev.cfg.adcProfile)

	return fatal
}
