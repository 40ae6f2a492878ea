// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hal

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("hal: devmem closed")
)

// DevMem is a register transport over a memory-mapped register window,
// one byte per register, as exposed by an FPGA SPI master.
type DevMem struct {
	mu   sync.Mutex
	data []byte
}

// OpenDevMem maps size bytes of fname at offset.
func OpenDevMem(fname string, offset int64, size int) (*DevMem, error) {
	f, err := os.OpenFile(fname, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("hal: could not open %q: %w", fname, err)
	}
	defer f.Close()

	data, err := unix.Mmap(
		int(f.Fd()), offset, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("hal: could not mmap %q (offset=0x%x, size=0x%x): %w",
			fname, offset, size, err,
		)
	}

	return devMemFrom(data), nil
}

func devMemFrom(data []byte) *DevMem {
	dev := &DevMem{data: data}
	runtime.SetFinalizer(dev, (*DevMem).Close)
	return dev
}

// Close unmaps the register window.
func (dev *DevMem) Close() error {
	if dev == nil {
		return os.ErrInvalid
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.data == nil {
		return nil
	}
	data := dev.data
	dev.data = nil
	runtime.SetFinalizer(dev, nil)

	return unix.Munmap(data)
}

func (dev *DevMem) check(addr uint16, n int) error {
	if dev.data == nil {
		return errClosed
	}
	if int(addr)+n > len(dev.data) {
		return fmt.Errorf("hal: register range [0x%04x, 0x%04x) outside of window", addr, int(addr)+n)
	}
	return nil
}

func (dev *DevMem) ReadReg(addr uint16) (byte, error) {
	var p [1]byte
	err := dev.ReadRegs(addr, p[:])
	return p[0], err
}

func (dev *DevMem) WriteReg(addr uint16, v byte) error {
	return dev.WriteRegs(addr, []byte{v})
}

func (dev *DevMem) ReadRegs(addr uint16, p []byte) error {
	if dev == nil {
		return os.ErrInvalid
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.check(addr, len(p))
	if err != nil {
		return err
	}
	copy(p, dev.data[addr:])
	return nil
}

func (dev *DevMem) WriteRegs(addr uint16, p []byte) error {
	if dev == nil {
		return os.ErrInvalid
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.check(addr, len(p))
	if err != nil {
		return err
	}
	copy(dev.data[addr:], p)
	return nil
}

func (dev *DevMem) Sleep(d time.Duration) error {
	time.Sleep(d)
	return nil
}
