// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCore    = errors.New("unknown core")
	ErrImageNotLoaded = fmt.Errorf("firmware image not loaded: %w", ErrUnknownCore)
	ErrInvalidOpcode  = errors.New("invalid opcode")
	ErrInvalidParam   = errors.New("invalid parameter")
	ErrInvalidAddr    = errors.New("address outside of core memory")
	ErrBusy           = errors.New("command channel busy")
	ErrTimeout        = errors.New("command timed out")
	ErrUnresolved     = errors.New("checksums not computed")
)

// ErrorKind is the category of an error reported by a core in a
// command status nibble.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindNested
	KindNotSupported
	KindInvalidState
	KindReserved4
	KindReserved5
	KindReserved6
	KindCommand
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "no error"
	case KindNested:
		return "nested commands, second command ignored"
	case KindNotSupported:
		return "command not supported"
	case KindInvalidState:
		return "invalid state"
	case KindReserved4:
		return "reserved 4"
	case KindReserved5:
		return "reserved 5"
	case KindReserved6:
		return "reserved 6"
	case KindCommand:
		return "command error"
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// Action is the recovery the caller should take after a command error.
type Action uint8

const (
	ActionNone       Action = iota
	ActionCheckParam        // fix the command parameters
	ActionRerunInit         // rerun the init calibrations
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionCheckParam:
		return "check parameters"
	case ActionRerunInit:
		return "rerun init calibrations"
	}
	return fmt.Sprintf("Action(%d)", uint8(a))
}

// CmdError is an error reported by a core for a command.
type CmdError struct {
	Core   Core
	Op     Opcode
	ObjID  uint8
	Status Status

	Code   uint32 // op<<16 | objID<<8 | error field
	Kind   ErrorKind
	Action Action

	Mailbox uint16 // mailbox error code, for KindCommand
}

// Classify maps the status nibble of a command to its error.
func Classify(op Opcode, objID uint8, s Status) *CmdError {
	switch op {
	case OpAbort, OpRunInit, OpRadioOn:
		objID = 0
	}

	kind := ErrorKind(s.Code())
	e := &CmdError{
		Op:     op,
		ObjID:  objID,
		Status: s,
		Code:   uint32(op)<<16 | uint32(objID)<<8 | uint32(kind),
		Kind:   kind,
	}
	switch {
	case kind == KindNone:
		e.Action = ActionNone
	case op == OpRunInit && kind == KindCommand:
		e.Action = ActionRerunInit
	default:
		e.Action = ActionCheckParam
	}
	return e
}

func (e *CmdError) Error() string {
	msg := fmt.Sprintf(
		"cpu: core %v: opcode=0x%02x obj=0x%02x: %v (code=0x%06x, action: %v)",
		e.Core, uint8(e.Op), e.ObjID, e.Kind, e.Code, e.Action,
	)
	if e.Kind == KindCommand {
		msg += fmt.Sprintf(" (mailbox=0x%04x)", e.Mailbox)
	}
	return msg
}

// ExceptionError is a busy or timeout error for which the core reported
// an exception.
type ExceptionError struct {
	Core      Core
	Op        Opcode
	Exception Exception
	Err       error // ErrBusy or ErrTimeout
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("cpu: core %v: opcode=0x%02x: %v: %v",
		e.Core, uint8(e.Op), e.Err, e.Exception,
	)
}

func (e *ExceptionError) Unwrap() error { return e.Err }
