// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command adrv-sh is an interactive shell to an adrv-srv server.
//
// Example:
//
//	$> adrv-sh -addr rpi-01:8877
//	adrv> boot /opt/adrv/fw-cpu-c.bin
//	adrv> version
//	adrv> exec c 0x02
//	adrv> peek 0x20028000 16
package main // import "github.com/go-lpc/adrv/cmd/adrv-sh"

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/go-lpc/adrv"
	"github.com/go-lpc/adrv/cpu"
	"github.com/go-lpc/adrv/trx"
)

func main() {
	log.SetPrefix("adrv-sh: ")
	log.SetFlags(0)

	var (
		addr = flag.String("addr", "localhost:8877", "address of the adrv-srv server")
		hist = flag.String("history", filepath.Join(os.TempDir(), ".adrv-sh.history"), "path to the history file")
		vers = flag.Bool("version", false, "print the version and exit")
	)

	flag.Parse()

	if *vers {
		v, sum := adrv.Version()
		fmt.Printf("adrv-sh %s %s\n", v, sum)
		return
	}

	cli, err := trx.Dial(*addr)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	defer cli.Close()

	err = shell(cli, *hist)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

// doer sends commands to a transceiver server.
type doer interface {
	Do(name string, args, reply interface{}) error
}

type command struct {
	help string
	run  func(c doer, args []string, w io.Writer) error
}

var cmds map[string]command

func init() {
	cmds = map[string]command{
		"boot":    {"boot <image>: boot the transceiver with a core C image on the server", cmdBoot},
		"verify":  {"verify: verify the checksums of the running firmware", cmdVerify},
		"version": {"version: print the firmware version", cmdVersion},
		"status":  {"status: print the status of the transceiver", cmdStatus},
		"exec":    {"exec <c|d> <opcode> [obj] [ext (hex)]: run a mailbox command", cmdExec},
		"peek":    {"peek <addr> <n>: read n bytes of core memory", cmdPeek},
		"poke":    {"poke <addr> <data (hex)>: write core memory", cmdPoke},
		"reset":   {"reset: reset the transceiver", cmdReset},
		"help":    {"help: print this help message", cmdHelp},
	}
}

var errQuit = errors.New("quit")

func shell(c doer, hist string) error {
	ln := liner.NewLiner()
	defer ln.Close()

	ln.SetCtrlCAborts(true)
	ln.SetCompleter(complete)

	if f, err := os.Open(hist); err == nil {
		_, _ = ln.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			log.Printf("could not save history: %+v", err)
			return
		}
		defer f.Close()
		_, _ = ln.WriteHistory(f)
	}()

	for {
		line, err := ln.Prompt("adrv> ")
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, liner.ErrPromptAborted):
			fmt.Println()
			return nil
		default:
			return fmt.Errorf("could not read command: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ln.AppendHistory(line)

		err = eval(c, line, os.Stdout)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Printf("error: %+v\n", err)
		}
	}
}

func complete(line string) []string {
	var out []string
	for name := range cmds {
		if strings.HasPrefix(name, strings.ToLower(line)) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func eval(c doer, line string, w io.Writer) error {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return nil
	}
	name := strings.ToLower(toks[0])
	switch name {
	case "quit", "exit":
		return errQuit
	}

	cmd, ok := cmds[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", toks[0])
	}
	return cmd.run(c, toks[1:], w)
}

func nargs(args []string, min, max int) error {
	if len(args) < min || len(args) > max {
		return fmt.Errorf("invalid number of arguments (got=%d)", len(args))
	}
	return nil
}

func cmdBoot(c doer, args []string, w io.Writer) error {
	if err := nargs(args, 1, 1); err != nil {
		return err
	}
	var st trx.Status
	err := c.Do("boot", map[string]string{"image": args[0]}, &st)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: booted (state=%d, version=%q)\n", st.Name, st.State, st.Version)
	return nil
}

func cmdVerify(c doer, args []string, w io.Writer) error {
	if err := nargs(args, 0, 0); err != nil {
		return err
	}
	var tbl cpu.ChecksumTable
	err := c.Do("verify", nil, &tbl)
	printChecksum(w, "firmware", tbl.Firmware)
	for i, v := range tbl.Streams {
		printChecksum(w, "stream "+cpu.Stream(i).String(), v)
	}
	printChecksum(w, "device profile", tbl.DeviceProfile)
	printChecksum(w, "ADC profile", tbl.ADCProfile)
	return err
}

func printChecksum(w io.Writer, name string, c cpu.Checksum) {
	state := "ok"
	if !c.Match() {
		state = "MISMATCH"
	}
	fmt.Fprintf(w, "%-16s build=0x%08x run=0x%08x %s\n", name, c.Build, c.Run, state)
}

func cmdVersion(c doer, args []string, w io.Writer) error {
	if err := nargs(args, 0, 0); err != nil {
		return err
	}
	var ver string
	err := c.Do("version", nil, &ver)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "firmware: %s\n", ver)
	return nil
}

func cmdStatus(c doer, args []string, w io.Writer) error {
	if err := nargs(args, 0, 0); err != nil {
		return err
	}
	var st trx.StatusReply
	err := c.Do("status", nil, &st)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode status: %w", err)
	}
	fmt.Fprintf(w, "%s\n", raw)
	return nil
}

func parseCore(s string) (cpu.Core, error) {
	switch strings.ToLower(s) {
	case "c", "0":
		return cpu.CoreC, nil
	case "d", "1":
		return cpu.CoreD, nil
	}
	return 0, fmt.Errorf("invalid core %q", s)
}

func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return v, nil
}

func cmdExec(c doer, args []string, w io.Writer) error {
	if err := nargs(args, 2, 4); err != nil {
		return err
	}
	core, err := parseCore(args[0])
	if err != nil {
		return err
	}
	op, err := parseUint(args[1], 8)
	if err != nil {
		return err
	}
	req := trx.ExecArgs{Core: core, Op: uint8(op)}
	if len(args) > 2 {
		obj, err := parseUint(args[2], 8)
		if err != nil {
			return err
		}
		req.ObjID = uint8(obj)
	}
	if len(args) > 3 {
		req.Ext, err = hex.DecodeString(args[3])
		if err != nil {
			return fmt.Errorf("invalid extended data %q: %w", args[3], err)
		}
	}

	var rep trx.ExecReply
	err = c.Do("exec", req, &rep)
	fmt.Fprintf(w, "status: %v\n", cpu.Status(rep.Status))
	if rep.Code != 0 || rep.Kind != "" {
		fmt.Fprintf(w, "code:   0x%06x (%s, action: %s)\n", rep.Code, rep.Kind, rep.Action)
	}
	return err
}

func cmdPeek(c doer, args []string, w io.Writer) error {
	if err := nargs(args, 2, 2); err != nil {
		return err
	}
	addr, err := parseUint(args[0], 32)
	if err != nil {
		return err
	}
	n, err := parseUint(args[1], 16)
	if err != nil {
		return err
	}
	var p []byte
	err = c.Do("peek", trx.MemArgs{Addr: uint32(addr), N: int(n)}, &p)
	if err != nil {
		return err
	}
	fmt.Fprint(w, hex.Dump(p))
	return nil
}

func cmdPoke(c doer, args []string, w io.Writer) error {
	if err := nargs(args, 2, 2); err != nil {
		return err
	}
	addr, err := parseUint(args[0], 32)
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("invalid data %q: %w", args[1], err)
	}
	return c.Do("poke", trx.MemArgs{Addr: uint32(addr), Data: data}, nil)
}

func cmdReset(c doer, args []string, w io.Writer) error {
	if err := nargs(args, 0, 0); err != nil {
		return err
	}
	return c.Do("reset", nil, nil)
}

func cmdHelp(c doer, args []string, w io.Writer) error {
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", cmds[name].help)
	}
	fmt.Fprintf(w, "  quit: leave the shell\n")
	return nil
}
