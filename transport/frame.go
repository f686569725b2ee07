// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-lpc/devboard/srp"
)

const (
	framePrefix  = 8 // dest + flags
	frameErrFlag = 1 << 0
)

var errFrameFlags = errors.New("transport: frame received with error flags")

// frameLink carries frames to and from one destination channel of a
// character device. Each frame is prefixed by its destination and flags,
// both little-endian 32-bit words.
// Frames received for other destinations are dropped.
type frameLink struct {
	rw   io.ReadWriteCloser
	dest uint32
	wbuf []byte
	rbuf []byte
}

// newFrameLink returns a link to dest, receiving frames of up to max bytes.
// A zero max selects the size of the largest SRPv3 response.
func newFrameLink(rw io.ReadWriteCloser, dest uint32, max int) *frameLink {
	if max <= 0 {
		max = srp.HeaderSize + srp.MaxSize + srp.TailSize
	}
	return &frameLink{
		rw:   rw,
		dest: dest,
		rbuf: make([]byte, framePrefix+max),
	}
}

func (lnk *frameLink) Write(p []byte) (int, error) {
	n := framePrefix + len(p)
	if cap(lnk.wbuf) < n {
		lnk.wbuf = make([]byte, n)
	}
	buf := lnk.wbuf[:n]
	binary.LittleEndian.PutUint32(buf[0:], lnk.dest)
	binary.LittleEndian.PutUint32(buf[4:], 0)
	copy(buf[framePrefix:], p)

	o, err := lnk.rw.Write(buf)
	switch {
	case err != nil:
		return 0, fmt.Errorf("transport: could not write frame (dest=%d): %w", lnk.dest, err)
	case o != n:
		return 0, fmt.Errorf("transport: could not write frame (dest=%d): %w", lnk.dest, io.ErrShortWrite)
	}
	return len(p), nil
}

func (lnk *frameLink) Read(p []byte) (int, error) {
	for {
		n, err := lnk.rw.Read(lnk.rbuf)
		if err != nil {
			return 0, fmt.Errorf("transport: could not read frame (dest=%d): %w", lnk.dest, err)
		}
		if n < framePrefix {
			return 0, fmt.Errorf("transport: short frame (dest=%d, len=%d)", lnk.dest, n)
		}

		var (
			dest  = binary.LittleEndian.Uint32(lnk.rbuf[0:])
			flags = binary.LittleEndian.Uint32(lnk.rbuf[4:])
		)
		if dest != lnk.dest {
			continue
		}
		if flags&frameErrFlag != 0 {
			return 0, fmt.Errorf("transport: dest=%d flags=0x%x: %w", dest, flags, errFrameFlags)
		}
		return copy(p, lnk.rbuf[framePrefix:n]), nil
	}
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// SetDeadline forwards the deadline to the device, when supported.
func (lnk *frameLink) SetDeadline(t time.Time) error {
	if dl, ok := lnk.rw.(deadliner); ok {
		err := dl.SetDeadline(t)
		if err != nil && !errors.Is(err, os.ErrNoDeadline) {
			return err
		}
	}
	return nil
}

func (lnk *frameLink) Close() error {
	return lnk.rw.Close()
}
