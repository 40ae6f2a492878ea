// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command adrv-boot loads firmware into ADRV9025 transceivers and waits
// for them to be ready.
//
// Usage: adrv-boot [options] [transport...]
//
// Each transport (default "ftdi") reaches one transceiver:
//
//	ftdi[:pid]              first FTDI USB-SPI bridge
//	devmem:fname[@offset]   memory-mapped register window
//
// Example:
//
//	$> adrv-boot -img ./fw-cpu-c.bin -dev-profile ./profile.bin ftdi
//	$> adrv-boot -list
package main // import "github.com/go-lpc/adrv/cmd/adrv-boot"

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	mail "gopkg.in/gomail.v2"

	"github.com/go-lpc/adrv/bootdb"
	"github.com/go-lpc/adrv/cpu"
	"github.com/go-lpc/adrv/hal"
	"github.com/go-lpc/adrv/trx"
)

type config struct {
	img  string // core C image
	imgD string // core D image
	dev  string // device profile
	adc  string // ADC profile

	resets   []string
	timeout  time.Duration
	channels cpu.ChannelMask

	db   string
	mail bool
}

func main() {
	log.SetPrefix("adrv-boot: ")
	log.SetFlags(0)

	var (
		img      = flag.String("img", "", "path to the firmware image of core C")
		imgD     = flag.String("img-d", "", "path to the firmware image of core D")
		devProf  = flag.String("dev-profile", "", "path to the device profile")
		adcProf  = flag.String("adc-profile", "", "path to the ADC profile")
		reset    = flag.String("reset", "", "comma-separated hardware reset lines (i2c:bus:addr:pin), one per transport")
		timeout  = flag.Duration("timeout", 30*time.Second, "boot timeout")
		channels = flag.Uint("channels", uint(cpu.ChannelAll), "mask of initialized channels")
		dbname   = flag.String("db", "", "name of the database where to record boots")
		doMail   = flag.Bool("mail", false, "send a mail alert on boot failure")
		list     = flag.Bool("list", false, "list the FTDI USB-SPI bridges and exit")
		prefix   = flag.String("prefix", "", "serial number prefix of the listed bridges")
	)

	flag.Parse()

	if *list {
		err := listBridges(*prefix)
		if err != nil {
			log.Fatalf("%+v", err)
		}
		return
	}

	specs := flag.Args()
	if len(specs) == 0 {
		specs = []string{"ftdi"}
	}

	cfg := config{
		img:      *img,
		imgD:     *imgD,
		dev:      *devProf,
		adc:      *adcProf,
		timeout:  *timeout,
		channels: cpu.ChannelMask(*channels),
		db:       *dbname,
		mail:     *doMail,
	}
	if *reset != "" {
		cfg.resets = strings.Split(*reset, ",")
	}

	err := run(cfg, specs)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func listBridges(prefix string) error {
	devs, err := hal.ListFTDI(hal.VendorFTDI, prefix)
	if err != nil {
		return fmt.Errorf("could not list FTDI devices: %w", err)
	}
	for _, dev := range devs {
		fmt.Printf("%04x:%04x serial=%q desc=%q\n", dev.VendorID, dev.ProdID, dev.Serial, dev.Desc)
	}
	return nil
}

func run(cfg config, specs []string) error {
	if cfg.img == "" {
		return fmt.Errorf("missing firmware image of core C")
	}
	if len(cfg.resets) != 0 && len(cfg.resets) != len(specs) {
		return fmt.Errorf("invalid number of reset lines (got=%d, want=%d)", len(cfg.resets), len(specs))
	}

	img, err := os.ReadFile(cfg.img)
	if err != nil {
		return fmt.Errorf("could not read firmware image: %w", err)
	}

	opts, err := cfg.options()
	if err != nil {
		return err
	}

	devs := make([]*trx.Device, 0, len(specs))
	defer func() {
		for _, dev := range devs {
			_ = dev.Close()
		}
	}()

	for i, spec := range specs {
		h, err := trx.OpenHAL(spec)
		if err != nil {
			return fmt.Errorf("could not open transceiver %q: %w", spec, err)
		}

		dopts := append(opts[:len(opts):len(opts)], trx.WithCPUOptions(
			cpu.WithBootTiming(cpu.Timing{
				Timeout:  cfg.timeout,
				Interval: 10 * time.Millisecond,
			}),
			cpu.WithChannels(cfg.channels),
		))
		if len(cfg.resets) > 0 {
			rst, err := trx.OpenResetter(cfg.resets[i])
			if err != nil {
				if c, ok := h.(io.Closer); ok {
					_ = c.Close()
				}
				return fmt.Errorf("could not open reset line of %q: %w", spec, err)
			}
			if rst != nil {
				dopts = append(dopts, trx.WithResetter(rst))
			}
		}

		devs = append(devs, trx.New(spec, h, dopts...))
	}

	errs, err := trx.BootAll(devs, img)

	for i, dev := range devs {
		if errs[i] != nil {
			log.Printf("could not boot %s: %+v", dev.Name(), errs[i])
			if cfg.mail {
				alertMail(dev.Name(), errs[i])
			}
			continue
		}
		st := dev.Status()
		log.Printf("%s: state=%d version=%q", dev.Name(), st.State, st.Version)
	}

	if cfg.db != "" {
		rerr := record(cfg.db, devs, errs)
		if rerr != nil && err == nil {
			err = rerr
		}
	}

	if err != nil {
		return fmt.Errorf("could not boot transceivers: %w", err)
	}
	return nil
}

func (cfg config) options() ([]trx.Option, error) {
	var opts []trx.Option
	if cfg.imgD != "" {
		img, err := os.ReadFile(cfg.imgD)
		if err != nil {
			return nil, fmt.Errorf("could not read core D firmware image: %w", err)
		}
		opts = append(opts, trx.WithCoreDImage(img))
	}

	var (
		dev []byte
		adc []byte
		err error
	)
	if cfg.dev != "" {
		dev, err = os.ReadFile(cfg.dev)
		if err != nil {
			return nil, fmt.Errorf("could not read device profile: %w", err)
		}
	}
	if cfg.adc != "" {
		adc, err = os.ReadFile(cfg.adc)
		if err != nil {
			return nil, fmt.Errorf("could not read ADC profile: %w", err)
		}
	}
	opts = append(opts, trx.WithProfiles(dev, adc))
	return opts, nil
}

func record(dbname string, devs []*trx.Device, errs []error) error {
	db, err := bootdb.Open(dbname)
	if err != nil {
		return fmt.Errorf("could not open boot records: %w", err)
	}
	defer db.Close()

	for i, dev := range devs {
		rec := bootdb.NewRecord(dev.Name(), dev.Status(), errs[i])
		err = db.Record(context.Background(), rec)
		if err != nil {
			return fmt.Errorf("could not record boot of %s: %w", dev.Name(), err)
		}
	}
	return nil
}

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = strings.Split(os.Getenv("MAIL_TGTS"), ",")
)

func alertMail(name string, boot error) {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 {
		log.Printf("could not send mail alert: missing credentials")
		return
	}

	host, _ := os.Hostname()

	msg := mail.NewMessage()
	msg.SetHeader("From", alertMailUsr)
	msg.SetHeader("Bcc", alertMailTgts...)
	msg.SetHeader("Subject", fmt.Sprintf("[adrv-boot] boot failure: %q", name))
	msg.SetBody("text/plain", fmt.Sprintf("host: %q\ntransceiver: %q\nerror: %+v",
		host, name, boot,
	))

	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err := dial.DialAndSend(msg)
	if err != nil {
		log.Printf("could not send mail alert: %+v", err)
	}
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
