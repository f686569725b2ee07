// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package srp implements version 3 of the SLAC register protocol (SRPv3),
// used to access the AXI-Lite register space of an FPGA over a
// frame-oriented link (UDP datagrams, DMA channels of a PCIe card, ...).
//
// A request is a 5-word header, optionally followed by the data to write.
// A response echoes the request header, carries the read (or written) data,
// and ends with a status word.
// All words are little-endian.
package srp // import "github.com/go-lpc/devboard/srp"

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Version is the protocol version carried in every header.
const Version = 0x03

const (
	HeaderSize = 5 * 4 // size in bytes of a request/response header
	TailSize   = 4     // size in bytes of a response tail
	MaxSize    = 4096  // maximum size in bytes of a single transaction

	defaultTimeout = 0x0a // firmware-side timeout, in units of ~1ms
)

// Opcode describes the kind of transaction.
type Opcode uint8

const (
	Read   Opcode = 0 // non-posted read
	Write  Opcode = 1 // non-posted write
	Posted Opcode = 2 // posted write, no response
	Null   Opcode = 3 // no operation
)

func (op Opcode) String() string {
	switch op {
	case Read:
		return "read"
	case Write:
		return "write"
	case Posted:
		return "posted-write"
	case Null:
		return "null"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(op))
	}
}

// Status bits reported in the tail word of a response.
const (
	StatusOK       uint32 = 0
	StatusMemError uint32 = 1 << 0 // access to the register space failed
	StatusTimeout  uint32 = 1 << 1 // register space did not answer in time
	StatusFraming  uint32 = 1 << 8 // request frame could not be decoded
	StatusVersion  uint32 = 1 << 9 // unsupported protocol version
	StatusRequest  uint32 = 1 << 10 // invalid address, size or opcode
)

var (
	// ErrMismatch is returned when a response does not match its request.
	ErrMismatch = errors.New("srp: response does not match request")

	errShortFrame = errors.New("srp: short frame")
)

// StatusError is returned when the remote end reported a failed transaction.
type StatusError struct {
	Op     Opcode
	Addr   uint64
	Status uint32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("srp: %v transaction at 0x%x failed (status=0x%08x)", e.Op, e.Addr, e.Status)
}

// Header is the common header of requests and responses.
type Header struct {
	Op      Opcode
	Timeout uint8
	ID      uint32 // transaction ID
	Addr    uint64 // byte address
	Size    uint32 // transaction size in bytes
}

func (hdr *Header) validate() error {
	switch hdr.Op {
	case Read, Write, Posted, Null:
	default:
		return fmt.Errorf("srp: invalid opcode %d", uint8(hdr.Op))
	}
	if hdr.Op == Null {
		return nil
	}
	switch {
	case hdr.Addr%4 != 0:
		return fmt.Errorf("srp: unaligned address 0x%x", hdr.Addr)
	case hdr.Size == 0 || hdr.Size%4 != 0:
		return fmt.Errorf("srp: invalid transaction size %d", hdr.Size)
	case hdr.Size > MaxSize:
		return fmt.Errorf("srp: transaction size %d exceeds %d", hdr.Size, MaxSize)
	}
	return nil
}

func (hdr *Header) put(p []byte) {
	w0 := uint32(Version) | uint32(hdr.Op&0x3)<<8 | uint32(hdr.Timeout)<<24
	size := hdr.Size
	if size > 0 {
		size--
	}
	binary.LittleEndian.PutUint32(p[0:], w0)
	binary.LittleEndian.PutUint32(p[4:], hdr.ID)
	binary.LittleEndian.PutUint32(p[8:], uint32(hdr.Addr))
	binary.LittleEndian.PutUint32(p[12:], uint32(hdr.Addr>>32))
	binary.LittleEndian.PutUint32(p[16:], size)
}

func (hdr *Header) get(p []byte) error {
	if len(p) < HeaderSize {
		return errShortFrame
	}
	w0 := binary.LittleEndian.Uint32(p[0:])
	if v := w0 & 0xff; v != Version {
		return fmt.Errorf("srp: invalid protocol version 0x%x", v)
	}
	hdr.Op = Opcode((w0 >> 8) & 0x3)
	hdr.Timeout = uint8(w0 >> 24)
	hdr.ID = binary.LittleEndian.Uint32(p[4:])
	hdr.Addr = uint64(binary.LittleEndian.Uint32(p[8:])) |
		uint64(binary.LittleEndian.Uint32(p[12:]))<<32
	hdr.Size = binary.LittleEndian.Uint32(p[16:]) + 1
	if hdr.Op == Null {
		hdr.Size = 0
	}
	return nil
}

// Request is an SRPv3 request frame.
type Request struct {
	Header
	Data []byte // data to write, for Write and Posted requests
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (req *Request) MarshalBinary() ([]byte, error) {
	err := req.Header.validate()
	if err != nil {
		return nil, err
	}

	n := HeaderSize
	switch req.Op {
	case Write, Posted:
		if uint32(len(req.Data)) != req.Size {
			return nil, fmt.Errorf(
				"srp: payload size mismatch (size=%d, payload=%d)",
				req.Size, len(req.Data),
			)
		}
		n += len(req.Data)
	}

	p := make([]byte, n)
	req.Header.put(p)
	copy(p[HeaderSize:], req.Data)
	return p, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
// Data aliases p.
func (req *Request) UnmarshalBinary(p []byte) error {
	err := req.Header.get(p)
	if err != nil {
		return err
	}

	err = req.Header.validate()
	if err != nil {
		return err
	}

	req.Data = nil
	switch req.Op {
	case Write, Posted:
		if got, want := len(p)-HeaderSize, int(req.Size); got != want {
			return fmt.Errorf("srp: invalid write payload size (got=%d, want=%d)", got, want)
		}
		req.Data = p[HeaderSize:]
	}
	return nil
}

// Response is an SRPv3 response frame.
type Response struct {
	Header
	Data   []byte
	Status uint32
}

// MarshalBinary implements encoding.BinaryMarshaler.
// Failed responses (Status != 0) may carry no data.
func (resp *Response) MarshalBinary() ([]byte, error) {
	if resp.Status == StatusOK && resp.Op != Null && uint32(len(resp.Data)) != resp.Size {
		return nil, fmt.Errorf(
			"srp: payload size mismatch (size=%d, payload=%d)",
			resp.Size, len(resp.Data),
		)
	}

	p := make([]byte, HeaderSize+len(resp.Data)+TailSize)
	resp.Header.put(p)
	copy(p[HeaderSize:], resp.Data)
	binary.LittleEndian.PutUint32(p[len(p)-TailSize:], resp.Status)
	return p, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
// Data aliases p.
func (resp *Response) UnmarshalBinary(p []byte) error {
	err := resp.Header.get(p)
	if err != nil {
		return err
	}
	if len(p) < HeaderSize+TailSize {
		return errShortFrame
	}

	resp.Status = binary.LittleEndian.Uint32(p[len(p)-TailSize:])
	resp.Data = p[HeaderSize : len(p)-TailSize]

	switch {
	case resp.Status != StatusOK:
		return nil
	case resp.Op == Null:
		return nil
	case len(resp.Data) != int(resp.Size):
		return fmt.Errorf(
			"srp: invalid response payload size (got=%d, want=%d)",
			len(resp.Data), resp.Size,
		)
	}
	return nil
}
