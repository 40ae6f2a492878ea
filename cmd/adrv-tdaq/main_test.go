// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRunCtl(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"trx"},
		{"trx", "ftdi"},
		{"trx", "ftdi", "fw.bin", "i2c:1:0x20:3", "extra"},
	} {
		_, err := newRunCtl(args)
		if err == nil || !strings.HasPrefix(err.Error(), "invalid arguments") {
			t.Fatalf("%q: invalid error: %v", args, err)
		}
	}

	dir, err := os.MkdirTemp("", "adrv-tdaq-")
	if err != nil {
		t.Fatalf("could not create tmpdir: %+v", err)
	}
	defer os.RemoveAll(dir)

	fname := filepath.Join(dir, "regs")
	err = os.WriteFile(fname, make([]byte, 0x1000), 0644)
	if err != nil {
		t.Fatalf("could not create register file: %+v", err)
	}

	rc, err := newRunCtl([]string{"trx-0", "devmem:" + fname, "fw.bin"})
	if err != nil {
		t.Fatalf("could not create run control: %+v", err)
	}
	if rc.Image != "fw.bin" {
		t.Fatalf("invalid image: %q", rc.Image)
	}

	dev, err := rc.Open()
	if err != nil {
		t.Fatalf("could not open transceiver: %+v", err)
	}
	defer dev.Close()
	if dev.Name() != "trx-0" {
		t.Fatalf("invalid name: %q", dev.Name())
	}

	rc, err = newRunCtl([]string{"trx-1", "devmem:" + fname, "fw.bin", "gpio:1"})
	if err != nil {
		t.Fatalf("could not create run control: %+v", err)
	}
	_, err = rc.Open()
	if err == nil || !strings.Contains(err.Error(), `invalid reset line "gpio:1"`) {
		t.Fatalf("invalid error: %v", err)
	}
}
