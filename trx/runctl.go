// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trx

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/adrv/cpu"
)

// RunCtl exposes a transceiver to a TDAQ run control.
//
// /config opens the device, /init boots it, /start turns the radio on
// and /stop aborts the running command chain.
type RunCtl struct {
	Open  func() (*Device, error)
	Image string        // firmware image of core C
	Freq  time.Duration // status monitoring period

	mu   sync.Mutex
	dev  *Device
	data chan []byte
}

var radioTiming = cpu.Timing{Timeout: 2 * time.Second, Interval: 100 * time.Microsecond}

func (rc *RunCtl) device() (*Device, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.dev == nil {
		return nil, fmt.Errorf("trx: no transceiver configured")
	}
	return rc.dev, nil
}

func (rc *RunCtl) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.dev != nil {
		_ = rc.dev.Close()
		rc.dev = nil
	}

	dev, err := rc.Open()
	if err != nil {
		ctx.Msg.Errorf("could not open transceiver: %+v", err)
		return fmt.Errorf("could not open transceiver: %w", err)
	}
	rc.dev = dev
	rc.data = make(chan []byte, 128)
	ctx.Msg.Infof("transceiver %s configured", dev.Name())
	return nil
}

func (rc *RunCtl) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	dev, err := rc.device()
	if err != nil {
		return err
	}

	img, err := os.ReadFile(rc.Image)
	if err != nil {
		ctx.Msg.Errorf("could not read firmware image %q: %+v", rc.Image, err)
		return fmt.Errorf("could not read firmware image %q: %w", rc.Image, err)
	}

	err = dev.Boot(img)
	if err != nil {
		ctx.Msg.Errorf("could not boot transceiver %s: %+v", dev.Name(), err)
		return fmt.Errorf("could not boot transceiver %s: %w", dev.Name(), err)
	}
	return nil
}

func (rc *RunCtl) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	dev, err := rc.device()
	if err != nil {
		return err
	}
	err = dev.CPU().Reset()
	if err != nil {
		ctx.Msg.Errorf("could not reset transceiver %s: %+v", dev.Name(), err)
		return fmt.Errorf("could not reset transceiver %s: %w", dev.Name(), err)
	}
	return nil
}

func (rc *RunCtl) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	return rc.exec(ctx, cpu.OpRadioOn)
}

func (rc *RunCtl) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	return rc.exec(ctx, cpu.OpAbort)
}

func (rc *RunCtl) exec(ctx tdaq.Context, op cpu.Opcode) error {
	dev, err := rc.device()
	if err != nil {
		return err
	}
	_, err = dev.CPU().Exec(cpu.CoreC, op, 0, nil, radioTiming)
	if err != nil {
		ctx.Msg.Errorf("could not run opcode 0x%02x on %s: %+v", uint8(op), dev.Name(), err)
		return fmt.Errorf("could not run opcode 0x%02x on %s: %w", uint8(op), dev.Name(), err)
	}
	return nil
}

func (rc *RunCtl) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.dev == nil {
		return nil
	}
	err := rc.dev.Close()
	rc.dev = nil
	if err != nil {
		return fmt.Errorf("could not close transceiver: %w", err)
	}
	return nil
}

// Status publishes the status snapshots collected by Run.
func (rc *RunCtl) Status(ctx tdaq.Context, dst *tdaq.Frame) error {
	rc.mu.Lock()
	data := rc.data
	rc.mu.Unlock()

	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case raw := <-data:
		dst.Body = raw
	}
	return nil
}

// Run periodically collects the status of the running transceiver.
func (rc *RunCtl) Run(ctx tdaq.Context) error {
	freq := rc.Freq
	if freq <= 0 {
		freq = time.Second
	}
	tck := time.NewTicker(freq)
	defer tck.Stop()

	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		case <-tck.C:
			raw, err := rc.snapshot()
			if err != nil {
				ctx.Msg.Errorf("could not collect transceiver status: %+v", err)
				continue
			}
			rc.mu.Lock()
			data := rc.data
			rc.mu.Unlock()
			select {
			case data <- raw:
			default:
			}
		}
	}
}

func (rc *RunCtl) snapshot() ([]byte, error) {
	dev, err := rc.device()
	if err != nil {
		return nil, err
	}
	rep, err := dev.statusReply()
	if err != nil {
		return nil, err
	}
	return json.Marshal(rep)
}
