// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trx

import (
	"encoding/json"
	"fmt"
	"net"
)

// Client sends commands to a transceiver server.
type Client struct {
	conn net.Conn
	dec  *json.Decoder
	enc  *json.Encoder
}

// Dial connects to the transceiver server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("trx: could not dial %q: %w", addr, err)
	}
	return &Client{
		conn: conn,
		dec:  json.NewDecoder(conn),
		enc:  json.NewEncoder(conn),
	}, nil
}

// Do sends the named command with its arguments and decodes the reply
// payload into reply, if not nil. The payload is decoded even when the
// server reports an error.
func (c *Client) Do(name string, args, reply interface{}) error {
	req := Request{Name: name}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("trx: could not encode %q arguments: %w", name, err)
		}
		msg := json.RawMessage(raw)
		req.Args = &msg
	}

	err := c.enc.Encode(req)
	if err != nil {
		return fmt.Errorf("trx: could not send %q: %w", name, err)
	}

	var rep Reply
	err = c.dec.Decode(&rep)
	if err != nil {
		return fmt.Errorf("trx: could not read %q reply: %w", name, err)
	}
	if reply != nil && len(rep.Data) > 0 {
		err = json.Unmarshal(rep.Data, reply)
		if err != nil {
			return fmt.Errorf("trx: could not decode %q reply: %w", name, err)
		}
	}

	if rep.Msg != "ok" {
		return fmt.Errorf("trx: %s: %s", name, rep.Msg)
	}
	return nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
