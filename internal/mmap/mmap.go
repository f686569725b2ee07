// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap exposes memory-mapped register spaces as io.ReaderAt and
// io.WriterAt values.
package mmap // import "github.com/go-lpc/devboard/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

// Handle is a memory-mapped region of a file, usually a device file such
// as /dev/mem or the resource file of a PCIe BAR.
//
// Accesses whose offset and length are 4-byte aligned are performed with
// 32-bit loads and stores, as required by most AXI-Lite register spaces.
type Handle struct {
	data  []byte
	f     *os.File
	unmap bool
}

// HandleFrom returns a handle over an already mapped region.
// Closing the handle unmaps data.
func HandleFrom(data []byte) *Handle {
	h := &Handle{data: data, unmap: true}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h
}

// Open maps size bytes of the named file, starting at offset off.
// off must be a multiple of the system page size.
func Open(fname string, off int64, size int) (*Handle, error) {
	f, err := os.OpenFile(fname, os.O_RDWR|os.O_SYNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not open %q: %w", fname, err)
	}

	if size <= 0 {
		fi, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("mmap: could not stat %q: %w", fname, err)
		}
		size = int(fi.Size() - off)
	}
	if size <= 0 {
		_ = f.Close()
		return nil, fmt.Errorf("mmap: invalid region size %d for %q", size, fname)
	}

	data, err := unix.Mmap(
		int(f.Fd()), off, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap: could not mmap %q (off=0x%x, size=0x%x): %w", fname, off, size, err)
	}
	if len(data) != size {
		_ = unix.Munmap(data)
		_ = f.Close()
		return nil, fmt.Errorf("mmap: invalid mmap'd data: %d", len(data))
	}

	h := HandleFrom(data)
	h.f = f
	return h, nil
}

// Close closes the mmap handle.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	runtime.SetFinalizer(h, nil)

	var err error
	if h.unmap {
		err = unix.Munmap(data)
	}
	if h.f != nil {
		errf := h.f.Close()
		h.f = nil
		if err == nil && errf != nil {
			err = errf
		}
	}
	if err != nil {
		return fmt.Errorf("mmap: could not close handle: %w", err)
	}
	return nil
}

// Len returns the length of the underlying memory-mapped file.
func (h *Handle) Len() int {
	return len(h.data)
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	src := h.data[off:]
	if len(src) > len(p) {
		src = src[:len(p)]
	}
	n := load(p, src, off)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements the io.WriterAt interface.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid WriteAt offset %d", off)
	}
	dst := h.data[off:]
	if len(dst) > len(p) {
		dst = dst[:len(p)]
	}
	n := store(dst, p[:len(dst)], off)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

func aligned(off int64, n int) bool {
	return off%4 == 0 && n%4 == 0
}

// load copies src into dst, using 32-bit loads when possible.
func load(dst, src []byte, off int64) int {
	if !aligned(off, len(src)) {
		return copy(dst, src)
	}
	for i := 0; i < len(src); i += 4 {
		v := *(*uint32)(unsafe.Pointer(&src[i]))
		*(*uint32)(unsafe.Pointer(&dst[i])) = v
	}
	return len(src)
}

// store copies src into dst, using 32-bit stores when possible.
func store(dst, src []byte, off int64) int {
	if !aligned(off, len(src)) {
		return copy(dst, src)
	}
	for i := 0; i < len(src); i += 4 {
		v := *(*uint32)(unsafe.Pointer(&src[i]))
		*(*uint32)(unsafe.Pointer(&dst[i])) = v
	}
	return len(src)
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.WriterAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
