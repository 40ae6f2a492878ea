// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-lpc/adrv/cpu"
	"github.com/go-lpc/adrv/internal/fakehw"
	"github.com/go-lpc/adrv/internal/regs"
)

func TestServerFail(t *testing.T) {
	err := Serve(":invalid", func() (*Device, error) {
		return nil, fmt.Errorf("not reached")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestServer(t *testing.T) {
	tmp, err := os.MkdirTemp("", "adrv-srv-")
	if err != nil {
		t.Fatalf("could not create tmp dir: %+v", err)
	}
	defer os.RemoveAll(tmp)

	fname := filepath.Join(tmp, "fw.bin")
	err = os.WriteFile(fname, testImage(), 0644)
	if err != nil {
		t.Fatalf("could not write firmware image: %+v", err)
	}

	addr, err := getTCPPort()
	if err != nil {
		t.Fatalf("could not get TCP port: %+v", err)
	}
	addr = "localhost:" + addr

	var (
		mu    sync.Mutex
		hw    *fakehw.Device
		nopen int
	)
	srv, err := newServer(addr, func() (*Device, error) {
		mu.Lock()
		defer mu.Unlock()
		nopen++
		if nopen > 1 {
			return nil, fmt.Errorf("device busy")
		}
		hw = newTestHW(cpu.BootReady)
		return newTestDevice("trx", hw), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.close()

	go func() {
		_ = srv.serve()
	}()

	cli, err := Dial(addr)
	if err != nil {
		t.Fatalf("could not dial trx-srv: %+v", err)
	}
	defer cli.Close()

	ackErr := func(name string, err error, want string) {
		t.Helper()
		if err == nil {
			t.Fatalf("%s: expected an error", name)
		}
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: invalid error:\ngot= %v\nwant=%v", name, err, want)
		}
	}

	// raw request, bypassing the client encoder.
	_, err = cli.conn.Write([]byte("{invalid}\n"))
	if err != nil {
		t.Fatalf("could not send invalid request: %+v", err)
	}
	var rep Reply
	err = cli.dec.Decode(&rep)
	if err != nil {
		t.Fatalf("could not read reply to invalid request: %+v", err)
	}
	if rep.Msg == "ok" {
		t.Fatalf("invalid request accepted")
	}

	ackErr("unknown", cli.Do("frobnicate", nil, nil), `unknown command "frobnicate"`)
	ackErr("version", cli.Do("version", nil, nil), "not booted")
	ackErr("boot-no-args", cli.Do("boot", nil, nil), `missing "boot" arguments`)
	ackErr("boot-no-image",
		cli.Do("boot", map[string]string{"image": filepath.Join(tmp, "missing.bin")}, nil),
		"could not read firmware image",
	)

	var st Status
	err = cli.Do("boot", map[string]string{"image": fname}, &st)
	if err != nil {
		t.Fatalf("could not boot: %+v", err)
	}
	if st.Name != "trx" || !st.State.Has(cpu.StateLoaded) {
		t.Fatalf("invalid boot status: %+v", st)
	}

	var ver string
	err = cli.Do("version", nil, &ver)
	if err != nil {
		t.Fatalf("could not read version: %+v", err)
	}
	if want := "3.1.5.7 (release)"; ver != want {
		t.Fatalf("invalid version: got=%q, want=%q", ver, want)
	}

	var tbl cpu.ChecksumTable
	err = cli.Do("verify", nil, &tbl)
	if err != nil {
		t.Fatalf("could not verify checksums: %+v", err)
	}
	if tbl != validTable() {
		t.Fatalf("invalid checksums: %+v", tbl)
	}

	var srep StatusReply
	err = cli.Do("status", nil, &srep)
	if err != nil {
		t.Fatalf("could not read status: %+v", err)
	}
	if srep.Version != ver || srep.Checksums == nil || srep.Errs != [2]uint16{} {
		t.Fatalf("invalid status: %+v", srep)
	}

	var xrep ExecReply
	err = cli.Do("exec", ExecArgs{Op: uint8(cpu.OpRunInit), Ext: []byte{0xFF}}, &xrep)
	if err != nil {
		t.Fatalf("could not run init: %+v", err)
	}
	if xrep != (ExecReply{}) {
		t.Fatalf("invalid exec reply: %+v", xrep)
	}

	mu.Lock()
	dev := hw
	mu.Unlock()

	var ps cpu.PackedStatus
	ps.Set(cpu.OpGet, cpu.Status(uint8(cpu.KindInvalidState)<<1))
	for i, v := range ps {
		dev.SetReg(regs.CmdStatusC+uint16(i), v)
	}
	xrep = ExecReply{}
	err = cli.Do("exec", ExecArgs{Op: uint8(cpu.OpGet), ObjID: 0x42}, &xrep)
	ackErr("exec-get", err, "invalid state")
	want := ExecReply{
		Status: uint8(cpu.KindInvalidState) << 1,
		Code:   0x0C4203,
		Kind:   "invalid state",
		Action: "check parameters",
	}
	if xrep != want {
		t.Fatalf("invalid exec reply:\ngot= %+v\nwant=%+v", xrep, want)
	}
	err = cli.Do("status", nil, &srep)
	if err != nil {
		t.Fatalf("could not read status: %+v", err)
	}
	if got, want := srep.Errs, [2]uint16{0x40, 0}; got != want {
		t.Fatalf("invalid error words: got=%#v, want=%#v", got, want)
	}

	ackErr("exec-no-args", cli.Do("exec", nil, nil), `missing "exec" arguments`)
	ackErr("exec-opcode", cli.Do("exec", ExecArgs{Op: 0x03}, nil), "opcode 0x03")

	const dataAddr = 0x20030100
	err = cli.Do("poke", MemArgs{Addr: dataAddr, Data: []byte("ADRV")}, nil)
	if err != nil {
		t.Fatalf("could not poke: %+v", err)
	}
	var p []byte
	err = cli.Do("peek", MemArgs{Addr: dataAddr, N: 4}, &p)
	if err != nil {
		t.Fatalf("could not peek: %+v", err)
	}
	if !bytes.Equal(p, []byte("ADRV")) {
		t.Fatalf("invalid memory: got=%q, want=%q", p, "ADRV")
	}
	ackErr("peek-size", cli.Do("peek", MemArgs{Addr: dataAddr}, nil), "invalid peek size 0")
	ackErr("peek-large", cli.Do("peek", MemArgs{Addr: dataAddr, N: maxPeek + 1}, nil), "invalid peek size")
	ackErr("peek-addr", cli.Do("peek", MemArgs{Addr: 0x4, N: 4}, nil), "address 0x00000004")
	ackErr("poke-args", cli.Do("poke", json.RawMessage(`"nope"`), nil), `could not decode "poke" payload`)

	err = cli.Do("reset", nil, nil)
	if err != nil {
		t.Fatalf("could not reset: %+v", err)
	}
	ackErr("version-after-reset", cli.Do("version", nil, nil), "not booted")

	// a second client cannot open the device.
	cli2, err := Dial(addr)
	if err != nil {
		t.Fatalf("could not dial trx-srv: %+v", err)
	}
	defer cli2.Close()
	_ = cli.Close()

	// the server may close the connection before the request is sent.
	if err := cli2.Do("status", nil, nil); err == nil {
		t.Fatalf("expected an error")
	}
}

func getTCPPort() (string, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return "", err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return "", err
	}
	defer l.Close()
	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port), nil
}
