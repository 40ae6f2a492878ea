// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hal

import (
	"fmt"
	"io"
	"strings"

	"github.com/ziutek/ftdi"
)

// VendorFTDI is the USB vendor ID of FTDI bridges.
const VendorFTDI = 0x0403

type ftdiDevice interface {
	Reset() error

	SetBitmode(iomask byte, mode ftdi.Mode) error
	SetFlowControl(flowctrl ftdi.FlowCtrl) error
	SetLatencyTimer(lt int) error
	SetWriteChunkSize(cs int) error
	SetReadChunkSize(cs int) error
	PurgeBuffers() error

	io.Writer
	io.Reader
	io.Closer
}

var (
	ftdiOpen = ftdiOpenImpl
)

func ftdiOpenImpl(vid, pid uint16) (ftdiDevice, error) {
	dev, err := ftdi.OpenFirst(int(vid), int(pid), ftdi.ChannelAny)
	return dev, err
}

const (
	pidFT232H = 0x6014 // usb-2, MPSSE capable

	bridgeLatency = 2 // ms
	bridgeChunk   = 0xffff
)

// OpenFTDI opens the first USB-SPI bridge with the provided vendor and
// product IDs.
func OpenFTDI(vid, pid uint16) (*SPI, error) {
	ft, err := ftdiOpen(vid, pid)
	if err != nil {
		return nil, fmt.Errorf("hal: could not open FTDI device (vid=0x%x, pid=0x%x): %w", vid, pid, err)
	}

	err = setupBridge(ft, pid)
	if err != nil {
		ft.Close()
		return nil, fmt.Errorf("hal: could not set up USB-SPI bridge (vid=0x%x, pid=0x%x): %w", vid, pid, err)
	}

	return NewSPI(ft), nil
}

type bridgeStep struct {
	name string
	fn   func() error
}

// setupBridge puts the bridge in byte-stream mode with minimal latency and
// empty FIFOs, ready for SPI register transactions.
func setupBridge(ft ftdiDevice, pid uint16) error {
	steps := []bridgeStep{
		{"usb reset", ft.Reset},
		{"bitbang off", func() error { return ft.SetBitmode(0, ftdi.ModeBitbang) }},
		{"flow control off", func() error { return ft.SetFlowControl(ftdi.FlowCtrlDisable) }},
		{"latency", func() error { return ft.SetLatencyTimer(bridgeLatency) }},
		{"write chunk", func() error { return ft.SetWriteChunkSize(bridgeChunk) }},
		{"read chunk", func() error { return ft.SetReadChunkSize(bridgeChunk) }},
	}
	if pid == pidFT232H {
		steps = append(steps, bridgeStep{"mpsse reset", func() error { return ft.SetBitmode(0, ftdi.ModeReset) }})
	}
	steps = append(steps, bridgeStep{"purge", ft.PurgeBuffers})

	for _, step := range steps {
		err := step.fn()
		if err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

// DeviceInfo describes a USB-SPI bridge found on the bus.
type DeviceInfo struct {
	VendorID uint16
	ProdID   uint16
	Serial   string
	Desc     string
}

var ftdiFindAll = ftdiFindAllImpl

func ftdiFindAllImpl(vid, pid uint16) ([]DeviceInfo, error) {
	lst, err := ftdi.FindAll(int(vid), int(pid))
	if err != nil {
		return nil, err
	}
	devs := make([]DeviceInfo, 0, len(lst))
	for _, dev := range lst {
		devs = append(devs, DeviceInfo{
			VendorID: vid,
			ProdID:   pid,
			Serial:   dev.Serial,
			Desc:     dev.Description,
		})
		dev.Close()
	}
	return devs, nil
}

// ListFTDI returns the USB-SPI bridges with the provided vendor ID whose
// serial number starts with prefix.
func ListFTDI(vid uint16, prefix string) ([]DeviceInfo, error) {
	var devs []DeviceInfo
	for _, pid := range []uint16{
		0x6001, // usb-1
		0x6014, // usb-2
	} {
		lst, err := ftdiFindAll(vid, pid)
		if err != nil {
			continue
		}
		for _, dev := range lst {
			if !strings.HasPrefix(dev.Serial, prefix) {
				continue
			}
			devs = append(devs, dev)
		}
	}
	return devs, nil
}
