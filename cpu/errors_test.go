// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		op     Opcode
		objID  uint8
		code   uint8
		want   uint32
		kind   ErrorKind
		action Action
	}{
		{OpSet, 0x42, 0, 0x0A4200, KindNone, ActionNone},
		{OpSet, 0x42, 1, 0x0A4201, KindNested, ActionCheckParam},
		{OpGet, 0x10, 2, 0x0C1002, KindNotSupported, ActionCheckParam},
		{OpWriteCfg, 0x01, 3, 0x060103, KindInvalidState, ActionCheckParam},
		{OpReadCfg, 0xFF, 5, 0x08FF05, KindReserved5, ActionCheckParam},
		{OpSet, 0x42, 7, 0x0A4207, KindCommand, ActionCheckParam},
		{OpRunInit, 0x42, 7, 0x020007, KindCommand, ActionRerunInit},
		{OpRunInit, 0x00, 3, 0x020003, KindInvalidState, ActionCheckParam},
		{OpAbort, 0x42, 2, 0x000002, KindNotSupported, ActionCheckParam},
		{OpRadioOn, 0x42, 7, 0x040007, KindCommand, ActionCheckParam},
	} {
		t.Run(fmt.Sprintf("op=0x%02x-code=%d", uint8(tc.op), tc.code), func(t *testing.T) {
			s := Status(tc.code << 1)
			e := Classify(tc.op, tc.objID, s)
			if e.Code != tc.want {
				t.Fatalf("invalid code: got=0x%06x, want=0x%06x", e.Code, tc.want)
			}
			if e.Kind != tc.kind {
				t.Fatalf("invalid kind: got=%v, want=%v", e.Kind, tc.kind)
			}
			if e.Action != tc.action {
				t.Fatalf("invalid action: got=%v, want=%v", e.Action, tc.action)
			}
			if again := Classify(tc.op, tc.objID, s); !reflect.DeepEqual(again, e) {
				t.Fatalf("classification not deterministic:\ngot= %+v\nwant=%+v", again, e)
			}
		})
	}
}

func TestCmdErrorMessage(t *testing.T) {
	e := Classify(OpGet, 0x10, Status(2<<1))
	e.Core = CoreD
	if got, want := e.Error(), "cpu: core D: opcode=0x0c obj=0x10: command not supported (code=0x0c1002, action: check parameters)"; got != want {
		t.Fatalf("invalid message:\ngot= %q\nwant=%q", got, want)
	}

	e = Classify(OpRunInit, 0, Status(7<<1))
	e.Mailbox = 0xBEEF
	if got, want := e.Error(), "cpu: core C: opcode=0x02 obj=0x00: command error (code=0x020007, action: rerun init calibrations) (mailbox=0xbeef)"; got != want {
		t.Fatalf("invalid message:\ngot= %q\nwant=%q", got, want)
	}
}

func TestExceptionError(t *testing.T) {
	for _, tc := range []struct {
		e    *ExceptionError
		want string
	}{
		{
			&ExceptionError{Core: CoreC, Op: OpSet, Exception: ExceptionGeneric, Err: ErrTimeout},
			"cpu: core C: opcode=0x0a: command timed out: core exception",
		},
		{
			&ExceptionError{Core: CoreD, Op: OpGet, Exception: 0x42, Err: ErrBusy},
			"cpu: core D: opcode=0x0c: command channel busy: core exception 0x00000042",
		},
	} {
		if got := tc.e.Error(); got != tc.want {
			t.Fatalf("invalid message:\ngot= %q\nwant=%q", got, tc.want)
		}
		if !errors.Is(tc.e, tc.e.Err) {
			t.Fatalf("exception error should wrap %v", tc.e.Err)
		}
	}

	if got, want := Exception(0).String(), "no exception"; got != want {
		t.Fatalf("invalid exception name: got=%q, want=%q", got, want)
	}
}

func TestErrorKindString(t *testing.T) {
	for k := KindNone; k <= KindCommand; k++ {
		if got := k.String(); got == fmt.Sprintf("ErrorKind(%d)", uint8(k)) {
			t.Fatalf("missing name for kind %d", uint8(k))
		}
	}
	if got, want := ErrorKind(8).String(), "ErrorKind(8)"; got != want {
		t.Fatalf("invalid name: got=%q, want=%q", got, want)
	}
}

func TestExceptionRead(t *testing.T) {
	dev, hw := newTestDevice()
	hw.SetMem(0x20000000, le32(0xCAFE))

	exc, err := dev.Exception(CoreD)
	if err != nil {
		t.Fatalf("could not read exception: %+v", err)
	}
	if exc != 0xCAFE {
		t.Fatalf("invalid exception: got=%v, want=0xcafe", exc)
	}

	_, err = dev.Exception(Core(5))
	if !errors.Is(err, ErrUnknownCore) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrUnknownCore)
	}
}
