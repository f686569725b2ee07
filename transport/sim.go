// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-lpc/devboard/prbs"
)

const simPageSize = 4096

var errSimClosed = errors.New("transport: sim closed")

// SimMemory is a sparse, in-memory register space.
// Bytes never written read back as zero.
type SimMemory struct {
	mu     sync.RWMutex
	size   int64
	pages  map[int64]*[simPageSize]byte
	closed bool
}

// NewSim returns a simulated register space of size bytes.
func NewSim(size int64) *SimMemory {
	return &SimMemory{
		size:  size,
		pages: make(map[int64]*[simPageSize]byte),
	}
}

// Size returns the size in bytes of the register space.
func (mem *SimMemory) Size() int64 { return mem.size }

func (mem *SimMemory) check(n int, off int64) error {
	if mem.closed {
		return errSimClosed
	}
	if off < 0 || off+int64(n) > mem.size {
		return fmt.Errorf(
			"transport: invalid sim access (off=0x%x, len=%d, size=0x%x)",
			off, n, mem.size,
		)
	}
	return nil
}

// ReadAt implements io.ReaderAt.
func (mem *SimMemory) ReadAt(p []byte, off int64) (int, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()

	err := mem.check(len(p), off)
	if err != nil {
		return 0, err
	}

	n := 0
	for n < len(p) {
		var (
			addr = off + int64(n)
			pidx = addr / simPageSize
			poff = int(addr % simPageSize)
			sz   = min(simPageSize-poff, len(p)-n)
		)
		page, ok := mem.pages[pidx]
		if !ok {
			for i := range p[n : n+sz] {
				p[n+i] = 0
			}
		} else {
			copy(p[n:n+sz], page[poff:poff+sz])
		}
		n += sz
	}
	return n, nil
}

// WriteAt implements io.WriterAt.
func (mem *SimMemory) WriteAt(p []byte, off int64) (int, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()

	err := mem.check(len(p), off)
	if err != nil {
		return 0, err
	}

	n := 0
	for n < len(p) {
		var (
			addr = off + int64(n)
			pidx = addr / simPageSize
			poff = int(addr % simPageSize)
			sz   = min(simPageSize-poff, len(p)-n)
		)
		page, ok := mem.pages[pidx]
		if !ok {
			page = new([simPageSize]byte)
			mem.pages[pidx] = page
		}
		copy(page[poff:poff+sz], p[n:n+sz])
		n += sz
	}
	return n, nil
}

// Close implements io.Closer.
func (mem *SimMemory) Close() error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.closed = true
	mem.pages = nil
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SimStream is a simulated PRBS stream channel.
// Each Read returns the next frame of the stream.
type SimStream struct {
	mu     sync.Mutex
	gen    *prbs.Generator
	size   int
	closed bool
}

// NewSimStream returns a simulated stream of frames of size bytes.
func NewSimStream(size int) *SimStream {
	return &SimStream{
		gen:  prbs.NewGenerator(0),
		size: size,
	}
}

// Read implements io.Reader.
// Frames larger than p are truncated to a multiple of 4 bytes.
func (s *SimStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errSimClosed
	}
	n := min(s.size, len(p)) &^ 3
	if n < prbs.MinFrameSize {
		return 0, io.ErrShortBuffer
	}
	err := s.gen.Frame(p[:n])
	if err != nil {
		return 0, fmt.Errorf("transport: could not generate frame: %w", err)
	}
	return n, nil
}

// Close implements io.Closer.
func (s *SimStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var (
	_ Memory = (*SimMemory)(nil)
	_ Stream = (*SimStream)(nil)
	_ Stream = (*frameLink)(nil)
)
