// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package srp

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
)

// Memory is a register space requests are applied to.
type Memory interface {
	io.ReaderAt
	io.WriterAt
}

// Responder decodes SRPv3 requests and applies them to a register space.
type Responder struct {
	mem Memory
	msg *log.Logger
}

// NewResponder returns a responder serving requests from mem.
func NewResponder(mem Memory, msg *log.Logger) *Responder {
	if msg == nil {
		msg = log.New(io.Discard, "srp: ", 0)
	}
	return &Responder{mem: mem, msg: msg}
}

// Handle processes one request frame and returns the response frame.
// Posted writes have no response frame.
// Errors are only returned for frames that can not be answered at all.
func (srv *Responder) Handle(frame []byte) ([]byte, error) {
	var req Request
	err := req.UnmarshalBinary(frame)
	if err != nil {
		if len(frame) < HeaderSize {
			return nil, fmt.Errorf("srp: could not decode request: %w", err)
		}
		status := StatusRequest
		var hdr Header
		if hdr.get(frame) != nil {
			status = StatusVersion
		}
		srv.msg.Printf("invalid request: %+v", err)
		resp := make([]byte, HeaderSize+TailSize)
		copy(resp, frame[:HeaderSize])
		binary.LittleEndian.PutUint32(resp[HeaderSize:], status)
		return resp, nil
	}

	resp := Response{Header: req.Header}
	switch req.Op {
	case Null:
		// ok.
	case Read:
		data := make([]byte, req.Size)
		_, err = srv.mem.ReadAt(data, int64(req.Addr))
		if err != nil {
			srv.msg.Printf("could not read 0x%x bytes at 0x%x: %+v", req.Size, req.Addr, err)
			resp.Status = StatusMemError
			break
		}
		resp.Data = data
	case Write, Posted:
		_, err = srv.mem.WriteAt(req.Data, int64(req.Addr))
		if err != nil {
			srv.msg.Printf("could not write 0x%x bytes at 0x%x: %+v", req.Size, req.Addr, err)
			resp.Status = StatusMemError
			break
		}
		resp.Data = req.Data
	}

	if req.Op == Posted {
		return nil, nil
	}

	return resp.MarshalBinary()
}

// Serve answers SRPv3 requests received on conn until ctx is done.
func Serve(ctx context.Context, conn net.PacketConn, mem Memory, msg *log.Logger) error {
	srv := NewResponder(mem, msg)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	buf := make([]byte, HeaderSize+MaxSize+TailSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("srp: could not read request: %w", err)
		}

		resp, err := srv.Handle(buf[:n])
		if err != nil {
			srv.msg.Printf("could not handle request from %v: %+v", addr, err)
			continue
		}
		if resp == nil {
			continue
		}

		_, err = conn.WriteTo(resp, addr)
		if err != nil {
			srv.msg.Printf("could not send response to %v: %+v", addr, err)
		}
	}
}
