// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package srp

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Client issues SRPv3 transactions over a frame-oriented link:
// each Write sends exactly one frame and each Read returns exactly one frame.
//
// Client implements io.ReaderAt and io.WriterAt. Accesses larger than the
// maximum transaction size are split into consecutive transactions.
// Transactions are serialized.
type Client struct {
	mu  sync.Mutex
	rw  io.ReadWriter
	id  uint32
	buf []byte

	max     int
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-transaction timeout. The timeout is applied
// through the link's SetDeadline method, if it has one.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMaxSize sets the maximum size in bytes of a single transaction.
// The size is rounded down to a multiple of 4 and clamped to [4, MaxSize].
func WithMaxSize(n int) Option {
	return func(c *Client) {
		n &^= 3
		switch {
		case n < 4:
			n = 4
		case n > MaxSize:
			n = MaxSize
		}
		c.max = n
	}
}

// NewClient returns a new SRPv3 client over the provided link.
func NewClient(rw io.ReadWriter, opts ...Option) *Client {
	c := &Client{
		rw:      rw,
		buf:     make([]byte, HeaderSize+MaxSize+TailSize),
		max:     MaxSize,
		timeout: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

func checkAccess(n int, off int64) error {
	switch {
	case off < 0:
		return fmt.Errorf("srp: invalid negative offset %d", off)
	case off%4 != 0:
		return fmt.Errorf("srp: unaligned offset 0x%x", off)
	case n%4 != 0:
		return fmt.Errorf("srp: unaligned access size %d", n)
	}
	return nil
}

// ReadAt implements io.ReaderAt.
// off and len(p) must be multiples of 4.
func (c *Client) ReadAt(p []byte, off int64) (int, error) {
	err := checkAccess(len(p), off)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for n < len(p) {
		sz := len(p) - n
		if sz > c.max {
			sz = c.max
		}
		data, err := c.transact(Read, uint64(off)+uint64(n), p[n:n+sz])
		if err != nil {
			return n, err
		}
		n += copy(p[n:n+sz], data)
	}
	return n, nil
}

// WriteAt implements io.WriterAt.
// off and len(p) must be multiples of 4.
func (c *Client) WriteAt(p []byte, off int64) (int, error) {
	err := checkAccess(len(p), off)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for n < len(p) {
		sz := len(p) - n
		if sz > c.max {
			sz = c.max
		}
		_, err := c.transact(Write, uint64(off)+uint64(n), p[n:n+sz])
		if err != nil {
			return n, err
		}
		n += sz
	}
	return n, nil
}

// transact sends one request and waits for its response.
// For reads, p only provides the transaction size.
func (c *Client) transact(op Opcode, addr uint64, p []byte) ([]byte, error) {
	c.id++
	req := Request{
		Header: Header{
			Op:      op,
			Timeout: defaultTimeout,
			ID:      c.id,
			Addr:    addr,
			Size:    uint32(len(p)),
		},
	}
	if op == Write || op == Posted {
		req.Data = p
	}

	raw, err := req.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("srp: could not encode %v request (addr=0x%x): %w", op, addr, err)
	}

	if dl, ok := c.rw.(deadliner); ok && c.timeout > 0 {
		err = dl.SetDeadline(time.Now().Add(c.timeout))
		if err != nil {
			return nil, fmt.Errorf("srp: could not set link deadline: %w", err)
		}
	}

	_, err = c.rw.Write(raw)
	if err != nil {
		return nil, fmt.Errorf("srp: could not send %v request (addr=0x%x): %w", op, addr, err)
	}

	if op == Posted {
		return nil, nil
	}

	for {
		n, err := c.rw.Read(c.buf)
		if err != nil {
			return nil, fmt.Errorf("srp: could not receive %v response (addr=0x%x): %w", op, addr, err)
		}

		var resp Response
		err = resp.UnmarshalBinary(c.buf[:n])
		if err != nil {
			return nil, fmt.Errorf("srp: could not decode %v response (addr=0x%x): %w", op, addr, err)
		}

		if resp.ID != req.ID {
			// stale response from an earlier, timed out, transaction.
			continue
		}

		if resp.Op != req.Op || resp.Addr != req.Addr || resp.Size != req.Size {
			return nil, fmt.Errorf(
				"srp: %v response (op=%v, addr=0x%x, size=%d) for addr=0x%x, size=%d: %w",
				op, resp.Op, resp.Addr, resp.Size, req.Addr, req.Size, ErrMismatch,
			)
		}

		if resp.Status != StatusOK {
			return nil, &StatusError{Op: op, Addr: addr, Status: resp.Status}
		}

		return resp.Data, nil
	}
}

// Close closes the underlying link, if it is an io.Closer.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

var (
	_ io.ReaderAt = (*Client)(nil)
	_ io.WriterAt = (*Client)(nil)
	_ io.Closer   = (*Client)(nil)
)
