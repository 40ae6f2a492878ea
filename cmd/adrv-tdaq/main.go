// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command adrv-tdaq exposes an ADRV9025 transceiver to a TDAQ run control.
//
// Usage: adrv-tdaq [tdaq options] <name> <transport> <image> [reset-line]
//
// /config opens the transceiver, /init boots it with the core C image,
// /start turns the radio on and /stop aborts the running commands.
// Status snapshots are published on the /status output.
package main // import "github.com/go-lpc/adrv/cmd/adrv-tdaq"

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"

	"github.com/go-lpc/adrv/trx"
)

func main() {
	cmd := flags.New()

	rc, err := newRunCtl(cmd.Args)
	if err != nil {
		log.Panicf("error: %+v", err)
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", rc.OnConfig)
	srv.CmdHandle("/init", rc.OnInit)
	srv.CmdHandle("/reset", rc.OnReset)
	srv.CmdHandle("/start", rc.OnStart)
	srv.CmdHandle("/stop", rc.OnStop)
	srv.CmdHandle("/quit", rc.OnQuit)

	srv.OutputHandle("/status", rc.Status)

	srv.RunHandle(rc.Run)

	err = srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func newRunCtl(args []string) (*trx.RunCtl, error) {
	if len(args) < 3 || len(args) > 4 {
		return nil, fmt.Errorf("invalid arguments (got=%d, want <name> <transport> <image> [reset-line])", len(args))
	}

	var (
		name  = args[0]
		spec  = args[1]
		img   = args[2]
		reset = ""
	)
	if len(args) == 4 {
		reset = args[3]
	}

	return &trx.RunCtl{
		Open:  trx.Opener(name, spec, reset),
		Image: img,
		Freq:  time.Second,
	}, nil
}
