// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu

import (
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/go-lpc/adrv/internal/fakehw"
	"github.com/go-lpc/adrv/internal/regs"
)

func TestOpcodeValid(t *testing.T) {
	for op := 0; op < 256; op++ {
		want := (op%2 == 0 && op <= 30) || op == 0x1F
		if got := Opcode(op).Valid(); got != want {
			t.Fatalf("op=0x%02x: invalid validity: got=%v, want=%v", op, got, want)
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	for _, tc := range []struct {
		name string
		op   Opcode
		ext  []byte
	}{
		{"ext-too-long", OpSet, make([]byte, 5)},
		{"odd-opcode", 0x03, nil},
		{"opcode-too-large", 0x20, []byte{1}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			hal := new(countHAL)
			dev := New(hal, WithLogger(nil))
			dev.maps.markLoaded(CoreC)

			err := dev.Submit(CoreC, tc.op, tc.ext)
			if !errors.Is(err, ErrInvalidOpcode) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrInvalidOpcode)
			}
			if hal.n != 0 {
				t.Fatalf("invalid number of transport calls: got=%d, want=0", hal.n)
			}
		})
	}
}

func TestSubmitOrder(t *testing.T) {
	hal := new(recHAL)
	dev := New(hal, WithLogger(nil))
	dev.maps.markLoaded(CoreC)

	err := dev.Submit(CoreC, OpSet, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("could not submit command: %+v", err)
	}

	want := []string{
		"r 0x00c3",
		"w 0x00c4 [1 2 3]",
		"w 0x00c3 0x0a",
	}
	if !reflect.DeepEqual(hal.ops, want) {
		t.Fatalf("invalid register traffic:\ngot= %q\nwant=%q", hal.ops, want)
	}
}

func TestSubmit(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		dev, hw := newTestDevice()
		hw.ScriptReg(regs.CmdD, 0x80, 0x80, 0x00)

		err := dev.Submit(CoreD, OpRadioOn, []byte{0xAA, 0xBB})
		if err != nil {
			t.Fatalf("could not submit command: %+v", err)
		}
		if got, want := len(hw.Sleeps), 2; got != want {
			t.Fatalf("invalid number of sleeps: got=%d, want=%d", got, want)
		}
		if len(hw.Cmds) != 1 {
			t.Fatalf("invalid number of commands: got=%d, want=1", len(hw.Cmds))
		}
		cmd := hw.Cmds[0]
		if cmd.Core != 1 || cmd.Op != byte(OpRadioOn) || cmd.Ext[0] != 0xAA || cmd.Ext[1] != 0xBB {
			t.Fatalf("invalid command: %+v", cmd)
		}
	})

	t.Run("stream-trigger", func(t *testing.T) {
		dev, hw := newTestDevice()
		err := dev.Submit(CoreC, OpStreamTrigger, nil)
		if err != nil {
			t.Fatalf("could not submit stream trigger: %+v", err)
		}
		if len(hw.Cmds) != 1 || hw.Cmds[0].Op != byte(OpStreamTrigger) {
			t.Fatalf("invalid commands: %+v", hw.Cmds)
		}
	})

	t.Run("busy", func(t *testing.T) {
		dev, hw := newTestDevice()
		hw.SetReg(regs.CmdC, 0x80)

		err := dev.Submit(CoreC, OpGet, nil)
		if !errors.Is(err, ErrBusy) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrBusy)
		}
		var e *ExceptionError
		if errors.As(err, &e) {
			t.Fatalf("unexpected exception: %+v", e)
		}
		if got, want := len(hw.Sleeps), 3; got != want {
			t.Fatalf("invalid number of sleeps: got=%d, want=%d", got, want)
		}
		if len(hw.Cmds) != 0 {
			t.Fatalf("command written to a busy core: %+v", hw.Cmds)
		}
	})

	t.Run("busy-exception", func(t *testing.T) {
		dev, hw := newTestDevice()
		hw.SetReg(regs.CmdC, 0x80)
		hw.SetMem(regs.ExceptionC, le32(0x1234))

		err := dev.Submit(CoreC, OpGet, nil)
		var e *ExceptionError
		if !errors.As(err, &e) {
			t.Fatalf("invalid error type: %T (%+v)", err, err)
		}
		if e.Exception != 0x1234 || !errors.Is(err, ErrBusy) {
			t.Fatalf("invalid exception error: %+v", e)
		}
	})

	t.Run("not-loaded", func(t *testing.T) {
		dev, hw := newTestDevice()
		dev.maps = NewAddrMaps()
		err := dev.Submit(CoreC, OpGet, nil)
		if !errors.Is(err, ErrUnknownCore) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrUnknownCore)
		}
		if hw.Reads != 0 || hw.Writes != 0 {
			t.Fatalf("unexpected register traffic")
		}
	})

	t.Run("transport", func(t *testing.T) {
		dev, hw := newTestDevice()
		hw.Err = io.ErrClosedPipe
		err := dev.Submit(CoreC, OpGet, nil)
		if !errors.Is(err, io.ErrClosedPipe) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, io.ErrClosedPipe)
		}
	})
}

func TestExec(t *testing.T) {
	dev, hw := newTestDevice()
	hw.OnCmd = func(hw *fakehw.Device, cmd fakehw.Cmd) {
		var p PackedStatus
		p.Set(Opcode(cmd.Op), Status(2<<1))
		hw.SetReg(regs.CmdStatusC+2, p[2])
	}

	_, err := dev.Exec(CoreC, OpSet, 0x42, []byte{0x81, 0x42}, fastTiming)
	var e *CmdError
	if !errors.As(err, &e) {
		t.Fatalf("invalid error type: %T (%+v)", err, err)
	}
	if e.Kind != KindNotSupported || e.ObjID != 0x42 || e.Code != 0x0A4202 {
		t.Fatalf("invalid command error: %+v", e)
	}
}
