// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-lpc/adrv/cpu"
)

const (
	execTimeout  = 2 * time.Second
	execInterval = 100 * time.Microsecond

	maxPeek = 4096
)

// server allows to control a transceiver over TCP.
type server struct {
	ctl net.Listener
	msg *log.Logger

	open func() (*Device, error)
	dev  *Device
}

// Serve accepts control connections on addr. Each connection drives a
// device obtained from open, closed when the connection ends.
func Serve(addr string, open func() (*Device, error)) error {
	srv, err := newServer(addr, open)
	if err != nil {
		return fmt.Errorf("trx: could not create server: %w", err)
	}
	return srv.serve()
}

func newServer(addr string, open func() (*Device, error)) (*server, error) {
	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not create trx server on %q: %w", addr, err)
	}

	srv := &server{
		ctl:  ctl,
		msg:  log.New(os.Stdout, "trx-srv: ", 0),
		open: open,
	}
	return srv, nil
}

func (srv *server) serve() error {
	defer srv.close()

	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			return fmt.Errorf("could not accept connection: %w", err)
		}

		err = srv.handle(conn)
		if err != nil {
			srv.msg.Printf("could not run transceiver: %+v", err)
			continue
		}
	}
}

// Request is a command sent to a transceiver server.
type Request struct {
	Name string           `json:"name"`
	Args *json.RawMessage `json:"args,omitempty"`
}

// Reply is the answer of a transceiver server to a Request.
type Reply struct {
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ExecArgs are the arguments of the "exec" command.
type ExecArgs struct {
	Core  cpu.Core `json:"core"`
	Op    uint8    `json:"op"`
	ObjID uint8    `json:"obj"`
	Ext   []byte   `json:"ext,omitempty"`
}

// ExecReply is the payload of the reply to the "exec" command.
type ExecReply struct {
	Status uint8  `json:"status"`
	Code   uint32 `json:"code,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Action string `json:"action,omitempty"`
}

// MemArgs are the arguments of the "peek" and "poke" commands.
type MemArgs struct {
	Addr uint32 `json:"addr"`
	N    int    `json:"n,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// StatusReply is the payload of the reply to the "status" command.
type StatusReply struct {
	Status
	Errs    [2]uint16 `json:"errs"`    // per core
	Pending [2]uint16 `json:"pending"` // per core
}

func (dev *Device) statusReply() (StatusReply, error) {
	rep := StatusReply{Status: dev.Status()}
	for _, core := range []cpu.Core{cpu.CoreC, cpu.CoreD} {
		errs, pending, err := dev.cpu.StatusWords(core)
		if err != nil {
			return rep, err
		}
		rep.Errs[core] = errs
		rep.Pending[core] = pending
	}
	return rep, nil
}

func (srv *server) handle(conn net.Conn) error {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

	srv.dev = nil
	dev, err := srv.open()
	if err != nil {
		srv.reply(conn, err, nil)
		return fmt.Errorf("could not open transceiver: %w", err)
	}
	defer dev.Close()
	srv.dev = dev

	for {
		var req Request
		err = json.NewDecoder(conn).Decode(&req)
		if err != nil {
			var nerr net.Error
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case errors.Is(err, io.ErrUnexpectedEOF), errors.As(err, &nerr):
				return fmt.Errorf("could not read command request: %w", err)
			}
			srv.msg.Printf("could not decode command request: %+v", err)
			srv.reply(conn, err, nil)
			continue
		}
		srv.msg.Printf("received request: name=%q", req.Name)

		data, err := srv.dispatch(dev, req)
		if err != nil {
			srv.msg.Printf("could not run %q: %+v", req.Name, err)
		}
		srv.reply(conn, err, data)
	}
}

func (srv *server) dispatch(dev *Device, req Request) (interface{}, error) {
	switch strings.ToLower(req.Name) {
	case "boot":
		var args struct {
			Image string `json:"image"`
		}
		err := decodeArgs(req, &args)
		if err != nil {
			return nil, err
		}
		img, err := os.ReadFile(args.Image)
		if err != nil {
			return nil, fmt.Errorf("could not read firmware image: %w", err)
		}
		err = dev.Boot(img)
		if err != nil {
			return nil, err
		}
		return dev.Status(), nil

	case "verify":
		tbl, err := dev.cpu.VerifyChecksums(cpu.CoreC)
		if tbl == nil {
			return nil, err
		}
		return tbl, err

	case "version":
		ver, err := dev.cpu.FwVersion(cpu.CoreC)
		if err != nil {
			return nil, err
		}
		return ver.String(), nil

	case "status":
		rep, err := dev.statusReply()
		if err != nil {
			return nil, err
		}
		return rep, nil

	case "exec":
		var args ExecArgs
		err := decodeArgs(req, &args)
		if err != nil {
			return nil, err
		}
		s, err := dev.cpu.Exec(args.Core, cpu.Opcode(args.Op), args.ObjID, args.Ext, cpu.Timing{
			Timeout:  execTimeout,
			Interval: execInterval,
		})
		rep := ExecReply{Status: uint8(s)}
		var cerr *cpu.CmdError
		if errors.As(err, &cerr) {
			rep.Code = cerr.Code
			rep.Kind = cerr.Kind.String()
			rep.Action = cerr.Action.String()
		}
		return rep, err

	case "peek":
		var args MemArgs
		err := decodeArgs(req, &args)
		if err != nil {
			return nil, err
		}
		if args.N <= 0 || args.N > maxPeek {
			return nil, fmt.Errorf("invalid peek size %d", args.N)
		}
		p := make([]byte, args.N)
		err = dev.cpu.MemRead(args.Addr, p)
		if err != nil {
			return nil, err
		}
		return p, nil

	case "poke":
		var args MemArgs
		err := decodeArgs(req, &args)
		if err != nil {
			return nil, err
		}
		return nil, dev.cpu.MemWrite(args.Addr, args.Data)

	case "reset":
		return nil, dev.cpu.Reset()
	}

	return nil, fmt.Errorf("unknown command %q", req.Name)
}

func decodeArgs(req Request, v interface{}) error {
	if req.Args == nil {
		return fmt.Errorf("missing %q arguments", req.Name)
	}
	err := json.Unmarshal(*req.Args, v)
	if err != nil {
		return fmt.Errorf("could not decode %q payload: %w", req.Name, err)
	}
	return nil
}

func (srv *server) reply(conn net.Conn, err error, data interface{}) {
	rep := Reply{Msg: "ok"}
	if err != nil {
		rep.Msg = fmt.Sprintf("%+v", err)
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			srv.msg.Printf("could not encode reply payload: %+v", err)
		}
		rep.Data = raw
	}

	_ = json.NewEncoder(conn).Encode(rep)
}

func (srv *server) close() {
	_ = srv.ctl.Close()
}
