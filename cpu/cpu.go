// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cpu drives the command channel of the embedded cores of an
// ADRV9025 RF transceiver.
//
// The host talks to each core through a small set of SPI registers:
// an opcode register guarded by a busy flag, up to 4 bytes of extended
// command data, a packed status window and mailbox windows in the core's
// data memory.
// Every wait is a bounded synchronous poll, parametrized by a Timing.
package cpu // import "github.com/go-lpc/adrv/cpu"

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// HAL is the register transport to a transceiver.
type HAL interface {
	ReadReg(addr uint16) (byte, error)
	WriteReg(addr uint16, v byte) error
	ReadRegs(addr uint16, p []byte) error
	WriteRegs(addr uint16, p []byte) error

	// Sleep blocks for d.
	Sleep(d time.Duration) error
}

// Resetter pulses the hardware reset line of a transceiver.
type Resetter interface {
	Reset() error
}

// Core identifies an embedded core.
type Core uint8

const (
	CoreC Core = iota
	CoreD

	nCores = 2
)

func (c Core) String() string {
	switch c {
	case CoreC:
		return "C"
	case CoreD:
		return "D"
	}
	return fmt.Sprintf("Core(%d)", uint8(c))
}

// Timing is the budget of a bounded poll.
type Timing struct {
	Timeout  time.Duration
	Interval time.Duration
}

// polls returns the sleep interval and the number of checks n.
// Loops run checks 0..n included and sleep between checks.
func (t Timing) polls() (time.Duration, int) {
	interval := t.Interval
	if interval > t.Timeout || interval < 0 {
		interval = t.Timeout
	}
	if interval <= 0 {
		return 0, 1
	}
	n := int(t.Timeout / interval)
	if n < 1 {
		n = 1
	}
	return interval, n
}

// State describes what has been loaded into the cores.
type State uint8

const (
	StateImageLoaded State = 1 << iota // a firmware image was written
	StateDebugLoaded                   // a debugger took over the boot
	StateLoaded                        // firmware booted and verified
)

func (s State) Has(v State) bool { return s&v == v }

// Device drives the embedded cores of one transceiver.
type Device struct {
	hal HAL
	msg *log.Logger
	cfg config

	mu    sync.Mutex // guards maps, state and chk
	maps  *AddrMaps
	state State
	chk   *ChecksumTable

	cores [nCores]sync.Mutex // one command channel per core
	dma   sync.Mutex
}

// New returns a device driving the cores reachable through hal.
func New(hal HAL, opts ...Option) *Device {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	dev := &Device{
		hal:  hal,
		msg:  cfg.msg,
		cfg:  cfg,
		maps: cfg.maps,
	}
	if dev.maps == nil {
		dev.maps = NewAddrMaps()
	}
	return dev
}

// State returns the current load state of the device.
func (dev *Device) State() State {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.state
}

func (dev *Device) setState(v State) {
	dev.mu.Lock()
	dev.state |= v
	dev.mu.Unlock()
}

// Checksums returns the table recorded by the last verification, or nil.
func (dev *Device) Checksums() *ChecksumTable {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.chk == nil {
		return nil
	}
	tbl := *dev.chk
	return &tbl
}

// Reset forgets everything known about the loaded firmware and pulses the
// hardware reset line, if any. The firmware is forgotten even when the
// pulse fails.
func (dev *Device) Reset() error {
	dev.mu.Lock()
	dev.state = 0
	dev.chk = nil
	dev.maps = NewAddrMaps()
	dev.mu.Unlock()

	if dev.cfg.reset == nil {
		return nil
	}
	err := dev.cfg.reset.Reset()
	if err != nil {
		return fmt.Errorf("cpu: could not reset device: %w", err)
	}
	return nil
}

func (dev *Device) resolve(core Core, loaded bool) (AddrMap, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	var (
		m   *AddrMap
		err error
	)
	if loaded {
		m, err = dev.maps.ResolveLoaded(core)
	} else {
		m, err = dev.maps.Resolve(core)
	}
	if err != nil {
		return AddrMap{}, err
	}
	return *m, nil
}

func (dev *Device) sleep(d time.Duration) error {
	err := dev.hal.Sleep(d)
	if err != nil {
		return fmt.Errorf("cpu: could not wait %v: %w", d, err)
	}
	return nil
}

type config struct {
	msg   *log.Logger
	reset Resetter
	maps  *AddrMaps

	cmd  Timing // busy flag poll
	cfg  Timing // mailbox config SET/GET
	boot Timing // default RunBootSequence budget
	chk  Timing // checksum table poll

	channels   ChannelMask
	devProfile bool
	adcProfile bool
}

func newConfig() config {
	return config{
		msg:  log.New(os.Stdout, "cpu: ", 0),
		cmd:  Timing{Timeout: 2 * time.Second, Interval: 100 * time.Microsecond},
		cfg:  Timing{Timeout: 1 * time.Second, Interval: 100 * time.Microsecond},
		boot: Timing{Timeout: 30 * time.Second, Interval: 10 * time.Millisecond},
		chk:  Timing{Timeout: 1 * time.Second, Interval: 10 * time.Millisecond},

		channels:   ChannelAll,
		devProfile: true,
		adcProfile: true,
	}
}

// Option configures a Device.
type Option func(*config)

// WithLogger sets the logger used to report progress.
// A nil logger discards messages.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		if msg == nil {
			msg = log.New(io.Discard, "", 0)
		}
		cfg.msg = msg
	}
}

// WithResetter sets the hardware reset collaborator.
func WithResetter(r Resetter) Option {
	return func(cfg *config) {
		cfg.reset = r
	}
}

// WithAddrMaps sets the per-core address maps.
func WithAddrMaps(maps *AddrMaps) Option {
	return func(cfg *config) {
		cfg.maps = maps
	}
}

// WithCmdTiming sets the budget of the command busy-flag poll.
func WithCmdTiming(t Timing) Option {
	return func(cfg *config) {
		cfg.cmd = t
	}
}

// WithConfigTiming sets the budget of mailbox config commands.
func WithConfigTiming(t Timing) Option {
	return func(cfg *config) {
		cfg.cfg = t
	}
}

// WithBootTiming sets the default budget of the boot sequence.
func WithBootTiming(t Timing) Option {
	return func(cfg *config) {
		cfg.boot = t
	}
}

// WithChecksumTiming sets the budget of the checksum table poll.
func WithChecksumTiming(t Timing) Option {
	return func(cfg *config) {
		cfg.chk = t
	}
}

// WithChannels sets the mask of initialized channels.
// Stream checksums of other channels are recorded but not checked.
func WithChannels(mask ChannelMask) Option {
	return func(cfg *config) {
		cfg.channels = mask
	}
}

// WithProfileChecksum enables or disables the device profile checksum check.
func WithProfileChecksum(v bool) Option {
	return func(cfg *config) {
		cfg.devProfile = v
	}
}

// WithADCProfileChecksum enables or disables the ADC profile checksum check.
func WithADCProfileChecksum(v bool) Option {
	return func(cfg *config) {
		cfg.adcProfile = v
	}
}
