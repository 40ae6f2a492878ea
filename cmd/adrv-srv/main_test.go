// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/adrv/trx"
)

func TestRun(t *testing.T) {
	dir, err := os.MkdirTemp("", "adrv-srv-")
	if err != nil {
		t.Fatalf("could not create tmpdir: %+v", err)
	}
	defer os.RemoveAll(dir)

	open := func() (*trx.Device, error) {
		return nil, fmt.Errorf("no transceiver")
	}

	t.Run("invalid-addr", func(t *testing.T) {
		stop := make(chan os.Signal, 1)
		err := run(":invalid", open, false, time.Second, "", stop)
		if err == nil {
			t.Fatalf("expected an error")
		}
		if !strings.HasPrefix(err.Error(), "could not serve transceiver") {
			t.Fatalf("invalid error: %+v", err)
		}
	})

	for _, mon := range []bool{false, true} {
		t.Run(fmt.Sprintf("stop-pmon=%v", mon), func(t *testing.T) {
			stop := make(chan os.Signal, 1)
			stop <- os.Interrupt
			fname := filepath.Join(dir, fmt.Sprintf("pmon-%v.log", mon))
			err := run("localhost:0", open, mon, 10*time.Millisecond, fname, stop)
			if err != nil {
				t.Fatalf("could not run server: %+v", err)
			}
		})
	}
}
