// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu

import (
	"fmt"

	"github.com/go-lpc/adrv/internal/regs"
)

// BootStatus is the firmware status byte reported by a booting core.
type BootStatus uint8

const (
	BootPowerup              BootStatus = 0
	BootReady                BootStatus = 1
	BootFwChecksumError      BootStatus = 2
	BootDataMemoryError      BootStatus = 3
	BootStreamChecksumError  BootStatus = 4
	BootProfileChecksumError BootStatus = 5
	BootClkGenError          BootStatus = 6
	BootJESDSetupError       BootStatus = 7
	BootPowerInitError       BootStatus = 8
	BootDebugReady           BootStatus = 9
	BootClkLOGenError        BootStatus = 10
	BootRxQECHardwareError   BootStatus = 11
	BootHealthTimerError     BootStatus = 12
	BootADCRCALError         BootStatus = 13
	BootStreamRuntimeError   BootStatus = 14
	BootClkGenRCALError      BootStatus = 15
	BootLDOConfigError       BootStatus = 16
	BootChannelMaskError     BootStatus = 17
	BootCoreDFwChecksumError BootStatus = 19
	BootCoreDBootError       BootStatus = 20
)

var bootMsgs = map[BootStatus]string{
	BootPowerup:              "powerup",
	BootReady:                "ready",
	BootFwChecksumError:      "firmware checksum error",
	BootDataMemoryError:      "data memory error",
	BootStreamChecksumError:  "stream image checksum error",
	BootProfileChecksumError: "device profile checksum error",
	BootClkGenError:          "clkgen setup error",
	BootJESDSetupError:       "JESD setup error",
	BootPowerInitError:       "power init setup error",
	BootDebugReady:           "debug ready",
	BootClkLOGenError:        "clock LOGEN error",
	BootRxQECHardwareError:   "could not initialize RxQEC hardware",
	BootHealthTimerError:     "could not create health monitor timers",
	BootADCRCALError:         "ADC RCAL error",
	BootStreamRuntimeError:   "stream runtime error",
	BootClkGenRCALError:      "clkgen RCAL error",
	BootLDOConfigError:       "LDO configured incorrectly",
	BootChannelMaskError:     "init channel mask not supported by device",
	BootCoreDFwChecksumError: "core D firmware checksum error",
	BootCoreDBootError:       "core D boot error",
}

func (s BootStatus) String() string {
	if msg, ok := bootMsgs[s]; ok {
		return msg
	}
	return fmt.Sprintf("unknown boot error %d", uint8(s))
}

// BootError is a fatal boot status.
type BootError struct {
	Status BootStatus
	Reset  error // outcome of the recovery reset of an LDO error
	Err    error // ErrTimeout when the core never left a waiting state
}

func (e *BootError) Error() string {
	switch {
	case e.Status == BootPowerup:
		return "cpu: CPU is stuck in powerup mode"
	case e.Err != nil:
		return fmt.Sprintf("cpu: boot status %d (%v): %v", uint8(e.Status), e.Status, e.Err)
	case e.Status == BootLDOConfigError && e.Reset != nil:
		return fmt.Sprintf("cpu: boot status %d (%v): hardware reset failed: %v",
			uint8(e.Status), e.Status, e.Reset,
		)
	}
	return fmt.Sprintf("cpu: boot status %d: %v", uint8(e.Status), e.Status)
}

func (e *BootError) Unwrap() error { return e.Err }

// nConfirm is the number of extra reads a firmware status must survive.
const nConfirm = 5

// RunBootSequence waits for the firmware of core C to come out of
// powerup, and verifies the checksum table once the firmware is ready.
//
// A core reporting debug-ready for the first time is left to the debugger:
// the debug-loaded state is recorded and RunBootSequence returns. Once
// debug-loaded, a core still reporting debug-ready when the budget runs
// out is marked loaded.
func (dev *Device) RunBootSequence(t Timing) error {
	const core = CoreC
	m, err := dev.resolve(core, true)
	if err != nil {
		return err
	}

	var (
		interval, n = t.polls()
		addr        = m.CmdStatus + regs.StatusFirmware
		last        BootStatus
		ready       = false
	)

loop:
	for i := 0; i <= n; i++ {
		v, err := dev.hal.ReadReg(addr)
		if err != nil {
			return fmt.Errorf("cpu: could not read firmware status: %w", err)
		}
		status := BootStatus(v)

		if status != BootPowerup {
			agree, err := dev.confirm(addr, v)
			if err != nil {
				return err
			}
			if !agree {
				dev.msg.Printf("unstable firmware status 0x%02x, retrying", v)
				continue
			}
		}
		last = status

		switch {
		case status == BootPowerup:
			if i == n {
				return &BootError{Status: status, Err: ErrTimeout}
			}
			err = dev.sleep(interval)
			if err != nil {
				return err
			}

		case status == BootDebugReady && dev.State().Has(StateDebugLoaded):
			err = dev.sleep(interval)
			if err != nil {
				return err
			}

		case status == BootDebugReady:
			dev.msg.Printf("core %v: debug firmware took over the boot", core)
			dev.setState(StateDebugLoaded)
			return nil

		case status == BootReady:
			ready = true
			break loop

		default:
			return dev.bootError(status)
		}
	}

	debug := dev.State().Has(StateDebugLoaded)
	if !ready && !(debug && last == BootDebugReady) {
		return &BootError{Status: last, Err: ErrTimeout}
	}

	if !debug {
		_, err = dev.VerifyChecksums(core)
		if err != nil {
			return fmt.Errorf("cpu: invalid checksums after boot: %w", err)
		}
	}

	dev.setState(StateLoaded)
	dev.msg.Printf("core %v: firmware ready", core)
	return nil
}

// Boot runs the boot sequence with the budget set by WithBootTiming.
func (dev *Device) Boot() error {
	return dev.RunBootSequence(dev.cfg.boot)
}

func (dev *Device) confirm(addr uint16, v byte) (bool, error) {
	for i := 0; i < nConfirm; i++ {
		w, err := dev.hal.ReadReg(addr)
		if err != nil {
			return false, fmt.Errorf("cpu: could not read firmware status: %w", err)
		}
		if w != v {
			return false, nil
		}
	}
	return true, nil
}

func (dev *Device) bootError(status BootStatus) error {
	e := &BootError{Status: status}
	if status != BootLDOConfigError {
		return e
	}

	dev.msg.Printf("LDO configured incorrectly, resetting device")
	e.Reset = dev.Reset()
	if e.Reset == nil && dev.cfg.reset == nil {
		e.Reset = fmt.Errorf("no hardware resetter")
	}
	return e
}
