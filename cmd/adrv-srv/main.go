// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command adrv-srv serves an ADRV9025 transceiver over TCP.
//
// Clients (such as adrv-sh) send JSON commands to boot the transceiver,
// run mailbox commands and access the memory of its cores.
package main // import "github.com/go-lpc/adrv/cmd/adrv-srv"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/sbinet/pmon"

	"github.com/go-lpc/adrv"
	"github.com/go-lpc/adrv/trx"
)

func main() {
	log.SetPrefix("adrv-srv: ")
	log.SetFlags(0)

	var (
		addr    = flag.String("addr", ":8877", "[ip]:[port] to listen on")
		spec    = flag.String("hal", "ftdi", "register transport of the transceiver")
		reset   = flag.String("reset", "", "hardware reset line (i2c:bus:addr:pin)")
		doMon   = flag.Bool("pmon", false, "enable pmon monitoring")
		doFreq  = flag.Duration("freq", 1*time.Second, "pmon frequency")
		monFile = flag.String("pmon-log", "adrv-srv-pmon.log", "path to the pmon log file")
	)

	flag.Parse()

	if v, _ := adrv.Version(); v != "" {
		log.Printf("adrv version: %s", v)
	}

	open := trx.Opener(*spec, *spec, *reset)
	stop := make(chan os.Signal, 1)

	err := run(*addr, open, *doMon, *doFreq, *monFile, stop)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(addr string, open func() (*trx.Device, error), doMon bool, freq time.Duration, fname string, stop chan os.Signal) error {
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	if doMon {
		p, err := pmon.Monitor(os.Getpid())
		if err != nil {
			return fmt.Errorf("could not start monitoring: %w", err)
		}
		f, err := os.Create(fname)
		if err != nil {
			return fmt.Errorf("could not create pmon log file: %w", err)
		}
		defer f.Close()
		p.W = f
		p.Freq = freq

		go func() {
			log.Printf("run pmon...")
			err := p.Run()
			if err != nil {
				log.Printf("could not run monitoring: %+v", err)
			}
		}()
	}

	errch := make(chan error, 1)
	go func() {
		log.Printf("serving transceiver on %q...", addr)
		errch <- trx.Serve(addr, open)
	}()

	select {
	case <-stop:
		log.Printf("interrupted")
		return nil
	case err := <-errch:
		if err != nil {
			return fmt.Errorf("could not serve transceiver: %w", err)
		}
		return nil
	}
}
