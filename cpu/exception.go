// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu

import (
	"encoding/binary"
	"fmt"
)

// Exception is the exception word of a core. Zero means no exception.
type Exception uint32

// ExceptionGeneric is reported by a core crashing without a specific code.
const ExceptionGeneric Exception = 0xFFFFFFFF

// Generic reports whether e is the catch-all core exception.
func (e Exception) Generic() bool { return e == ExceptionGeneric }

func (e Exception) String() string {
	switch e {
	case 0:
		return "no exception"
	case ExceptionGeneric:
		return "core exception"
	}
	return fmt.Sprintf("core exception 0x%08x", uint32(e))
}

// Exception reads the exception word of the provided core.
func (dev *Device) Exception(core Core) (Exception, error) {
	addr, err := exceptionAddr(core)
	if err != nil {
		return 0, err
	}

	var buf [4]byte
	err = dev.MemRead(addr, buf[:])
	if err != nil {
		return 0, fmt.Errorf("cpu: could not read exception of core %v: %w", core, err)
	}
	return Exception(binary.LittleEndian.Uint32(buf[:])), nil
}
