// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trx

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-lpc/adrv/cpu"
	"github.com/go-lpc/adrv/hal"
)

const devMemSpan = 0x1000

// OpenHAL opens the register transport described by spec:
//
//	ftdi[:pid]              first FTDI USB-SPI bridge (default pid 0x6014)
//	devmem:fname[@offset]   memory-mapped register window
func OpenHAL(spec string) (cpu.HAL, error) {
	kind, arg := spec, ""
	if i := strings.Index(spec, ":"); i >= 0 {
		kind, arg = spec[:i], spec[i+1:]
	}

	switch kind {
	case "ftdi":
		pid := uint64(0x6014)
		if arg != "" {
			v, err := strconv.ParseUint(arg, 0, 16)
			if err != nil {
				return nil, fmt.Errorf("trx: invalid FTDI product ID %q: %w", arg, err)
			}
			pid = v
		}
		spi, err := hal.OpenFTDI(hal.VendorFTDI, uint16(pid))
		if err != nil {
			return nil, err
		}
		return spi, nil

	case "devmem":
		fname, off := arg, uint64(0)
		if i := strings.LastIndex(arg, "@"); i >= 0 {
			v, err := strconv.ParseUint(arg[i+1:], 0, 64)
			if err != nil {
				return nil, fmt.Errorf("trx: invalid devmem offset %q: %w", arg[i+1:], err)
			}
			fname, off = arg[:i], v
		}
		if fname == "" {
			return nil, fmt.Errorf("trx: missing devmem file name in %q", spec)
		}
		mem, err := hal.OpenDevMem(fname, int64(off), devMemSpan)
		if err != nil {
			return nil, err
		}
		return mem, nil
	}

	return nil, fmt.Errorf("trx: unknown register transport %q", spec)
}

// OpenResetter opens the hardware reset line described by spec:
//
//	i2c:bus:addr:pin   RESETB wired to a pin of an I2C GPIO expander
//
// An empty spec returns a nil Resetter.
func OpenResetter(spec string) (cpu.Resetter, error) {
	if spec == "" {
		return nil, nil
	}

	toks := strings.Split(spec, ":")
	if len(toks) != 4 || toks[0] != "i2c" {
		return nil, fmt.Errorf("trx: invalid reset line %q", spec)
	}

	var vs [3]uint64
	for i, tok := range toks[1:] {
		v, err := strconv.ParseUint(tok, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("trx: invalid reset line %q: %w", spec, err)
		}
		vs[i] = v
	}

	rst, err := hal.NewExpanderReset(int(vs[0]), uint8(vs[1]), uint8(vs[2]))
	if err != nil {
		return nil, err
	}
	return rst, nil
}

// Opener returns a function opening the transceiver name, reached through
// the register transport spec and reset through the optional reset line.
func Opener(name, spec, reset string, opts ...Option) func() (*Device, error) {
	return func() (*Device, error) {
		h, err := OpenHAL(spec)
		if err != nil {
			return nil, err
		}

		rst, err := OpenResetter(reset)
		if err != nil {
			if c, ok := h.(io.Closer); ok {
				_ = c.Close()
			}
			return nil, err
		}

		o := opts
		if rst != nil {
			o = append(opts[:len(opts):len(opts)], WithResetter(rst))
		}
		return New(name, h, o...), nil
	}
}
