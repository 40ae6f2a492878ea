// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trx brings up ADRV9025 transceivers and exposes them to remote
// clients and to a TDAQ run control.
package trx // import "github.com/go-lpc/adrv/trx"

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/go-lpc/adrv/cpu"
	"golang.org/x/sync/errgroup"
)

// Device is a transceiver and the register transport reaching it.
type Device struct {
	name string
	msg  *log.Logger
	hal  cpu.HAL
	rst  cpu.Resetter
	cpu  *cpu.Device
	cfg  config

	mu  sync.Mutex
	ver *cpu.FwVersion
}

type config struct {
	msg  *log.Logger
	imgD []byte // optional core D image

	devProfile []byte
	adcProfile []byte

	rst cpu.Resetter
	cpu []cpu.Option
}

// Option configures a Device.
type Option func(*config)

// WithLogger sets the logger of the device and of its cores.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithCoreDImage sets the firmware image of core D, loaded along the
// image of core C.
func WithCoreDImage(img []byte) Option {
	return func(cfg *config) {
		cfg.imgD = img
	}
}

// WithProfiles sets the device and ADC profiles written before boot.
func WithProfiles(dev, adc []byte) Option {
	return func(cfg *config) {
		cfg.devProfile = dev
		cfg.adcProfile = adc
	}
}

// WithResetter sets the hardware reset line of the device. The line is
// closed along the device when it implements io.Closer.
func WithResetter(rst cpu.Resetter) Option {
	return func(cfg *config) {
		cfg.rst = rst
	}
}

// WithCPUOptions forwards options to the cores of the device.
func WithCPUOptions(opts ...cpu.Option) Option {
	return func(cfg *config) {
		cfg.cpu = append(cfg.cpu, opts...)
	}
}

// New returns a named transceiver reachable through h.
func New(name string, h cpu.HAL, opts ...Option) *Device {
	cfg := config{
		msg: log.New(os.Stdout, "trx: ", 0),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.msg == nil {
		cfg.msg = log.New(io.Discard, "", 0)
	}

	copts := append([]cpu.Option{cpu.WithLogger(cfg.msg)}, cfg.cpu...)
	if cfg.rst != nil {
		copts = append(copts, cpu.WithResetter(cfg.rst))
	}
	return &Device{
		name: name,
		msg:  cfg.msg,
		hal:  h,
		rst:  cfg.rst,
		cpu:  cpu.New(h, copts...),
		cfg:  cfg,
	}
}

func (dev *Device) Name() string { return dev.name }
func (dev *Device) CPU() *cpu.Device { return dev.cpu }

// Boot resets the transceiver, loads the firmware image of core C, the
// profiles and the optional core D image, starts the cores and waits for
// the firmware to be ready.
func (dev *Device) Boot(img []byte) error {
	dev.msg.Printf("booting %s...", dev.name)

	dev.mu.Lock()
	dev.ver = nil
	dev.mu.Unlock()

	err := dev.cpu.Reset()
	if err != nil {
		return fmt.Errorf("trx: could not reset %s: %w", dev.name, err)
	}

	err = dev.cpu.ImageLoad(cpu.CoreC, bytes.NewReader(img))
	if err != nil {
		return fmt.Errorf("trx: could not load core C image of %s: %w", dev.name, err)
	}

	if len(dev.cfg.imgD) > 0 {
		err = dev.cpu.ImageLoad(cpu.CoreD, bytes.NewReader(dev.cfg.imgD))
		if err != nil {
			return fmt.Errorf("trx: could not load core D image of %s: %w", dev.name, err)
		}
	}

	err = dev.cpu.WriteProfiles(dev.cfg.devProfile, dev.cfg.adcProfile)
	if err != nil {
		return fmt.Errorf("trx: could not write profiles of %s: %w", dev.name, err)
	}

	err = dev.cpu.Start()
	if err != nil {
		return fmt.Errorf("trx: could not start cores of %s: %w", dev.name, err)
	}

	err = dev.cpu.Boot()
	if err != nil {
		return fmt.Errorf("trx: could not boot %s: %w", dev.name, err)
	}

	if !dev.cpu.State().Has(cpu.StateLoaded) {
		dev.msg.Printf("%s: firmware under debugger control", dev.name)
		return nil
	}

	ver, err := dev.cpu.FwVersion(cpu.CoreC)
	if err != nil {
		return fmt.Errorf("trx: could not read firmware version of %s: %w", dev.name, err)
	}
	dev.mu.Lock()
	dev.ver = &ver
	dev.mu.Unlock()

	dev.msg.Printf("booting %s... [done] (firmware %v)", dev.name, ver)
	return nil
}

// Version returns the firmware version read after the last boot.
func (dev *Device) Version() (cpu.FwVersion, bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.ver == nil {
		return cpu.FwVersion{}, false
	}
	return *dev.ver, true
}

// Status is a snapshot of the state of a transceiver.
type Status struct {
	Name      string             `json:"name"`
	State     cpu.State          `json:"state"`
	Version   string             `json:"version,omitempty"`
	Checksums *cpu.ChecksumTable `json:"checksums,omitempty"`
}

func (dev *Device) Status() Status {
	st := Status{
		Name:      dev.name,
		State:     dev.cpu.State(),
		Checksums: dev.cpu.Checksums(),
	}
	if ver, ok := dev.Version(); ok {
		st.Version = ver.String()
	}
	return st
}

// Close closes the register transport and the reset line of the device.
func (dev *Device) Close() error {
	var err error
	if c, ok := dev.rst.(io.Closer); ok {
		e := c.Close()
		if e != nil {
			err = fmt.Errorf("trx: could not close reset line of %s: %w", dev.name, e)
		}
	}
	if c, ok := dev.hal.(io.Closer); ok {
		e := c.Close()
		if e != nil {
			err = fmt.Errorf("trx: could not close register transport of %s: %w", dev.name, e)
		}
	}
	return err
}

// BootAll boots all the provided devices concurrently with the same
// core C image. The outcome of each boot is returned in errs, in the
// order of devs. A failing boot does not interrupt the others.
func BootAll(devs []*Device, img []byte) (errs []error, err error) {
	var grp errgroup.Group
	errs = make([]error, len(devs))
	for i := range devs {
		i := i
		grp.Go(func() error {
			errs[i] = devs[i].Boot(img)
			return errs[i]
		})
	}

	err = grp.Wait()
	if err != nil {
		return errs, fmt.Errorf("trx: could not boot all devices: %w", err)
	}
	return errs, nil
}
