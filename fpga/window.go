// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"encoding/binary"
	"fmt"
)

// Window is a view of one block of the register space.
// Offsets are relative to the block base address.
type Window struct {
	blk Block
	mem rwer
}

func newWindow(mem rwer, blk Block) *Window {
	return &Window{blk: blk, mem: mem}
}

func (win *Window) Name() string { return win.blk.Name }
func (win *Window) Base() int64  { return win.blk.Offset }
func (win *Window) Size() int64  { return win.blk.Size }

func (win *Window) check(off int64, n, wordBits, stride int) (int, error) {
	if wordBits < 1 || wordBits > 32 {
		return 0, fmt.Errorf("fpga: %s: invalid word size %d bits", win.blk.Name, wordBits)
	}
	nb := (wordBits + 7) / 8
	if stride < nb {
		return 0, fmt.Errorf("fpga: %s: stride %d too small for %d-bit words", win.blk.Name, stride, wordBits)
	}
	if off < 0 || n < 0 || off > win.blk.Size || int64(n) > (win.blk.Size-off)/int64(stride) {
		return 0, fmt.Errorf(
			"fpga: %s: access out of bounds (off=0x%x, words=%d, stride=%d, size=0x%x)",
			win.blk.Name, off, n, stride, win.blk.Size,
		)
	}
	return nb, nil
}

// RawWrite writes data as wordBits-wide little-endian words, one word
// every stride bytes, starting at off.
// Contiguous words are written with a single access.
func (win *Window) RawWrite(off int64, data []uint32, wordBits, stride int) error {
	nb, err := win.check(off, len(data), wordBits, stride)
	if err != nil {
		return err
	}
	if wordBits < 32 {
		for i, v := range data {
			if v>>wordBits != 0 {
				return fmt.Errorf("fpga: %s: word %d (0x%x) overflows %d bits", win.blk.Name, i, v, wordBits)
			}
		}
	}
	if len(data) == 0 {
		return nil
	}

	addr := win.blk.Offset + off
	if stride == nb {
		buf := make([]byte, nb*len(data))
		for i, v := range data {
			putWord(buf[i*nb:], v, nb)
		}
		_, err = win.mem.WriteAt(buf, addr)
		if err != nil {
			return fmt.Errorf("fpga: %s: could not write %d words at 0x%x: %w", win.blk.Name, len(data), addr, err)
		}
		return nil
	}

	buf := make([]byte, nb)
	for i, v := range data {
		putWord(buf, v, nb)
		pos := addr + int64(i*stride)
		_, err = win.mem.WriteAt(buf, pos)
		if err != nil {
			return fmt.Errorf("fpga: %s: could not write word at 0x%x: %w", win.blk.Name, pos, err)
		}
	}
	return nil
}

// RawRead reads n wordBits-wide little-endian words, one word every
// stride bytes, starting at off.
// Contiguous words are read with a single access.
func (win *Window) RawRead(off int64, n int, wordBits, stride int) ([]uint32, error) {
	nb, err := win.check(off, n, wordBits, stride)
	if err != nil {
		return nil, err
	}

	var (
		addr = win.blk.Offset + off
		vs   = make([]uint32, n)
		mask = uint32(1<<wordBits - 1)
	)
	if n == 0 {
		return vs, nil
	}

	if stride == nb {
		buf := make([]byte, nb*n)
		_, err = win.mem.ReadAt(buf, addr)
		if err != nil {
			return nil, fmt.Errorf("fpga: %s: could not read %d words at 0x%x: %w", win.blk.Name, n, addr, err)
		}
		for i := range vs {
			vs[i] = getWord(buf[i*nb:], nb) & mask
		}
		return vs, nil
	}

	buf := make([]byte, nb)
	for i := range vs {
		pos := addr + int64(i*stride)
		_, err = win.mem.ReadAt(buf, pos)
		if err != nil {
			return nil, fmt.Errorf("fpga: %s: could not read word at 0x%x: %w", win.blk.Name, pos, err)
		}
		vs[i] = getWord(buf, nb) & mask
	}
	return vs, nil
}

// ReadU32 reads the 32-bit register at off.
func (win *Window) ReadU32(off int64) (uint32, error) {
	vs, err := win.RawRead(off, 1, 32, 4)
	if err != nil {
		return 0, err
	}
	return vs[0], nil
}

// WriteU32 writes the 32-bit register at off.
func (win *Window) WriteU32(off int64, v uint32) error {
	return win.RawWrite(off, []uint32{v}, 32, 4)
}

func putWord(p []byte, v uint32, nb int) {
	switch nb {
	case 4:
		binary.LittleEndian.PutUint32(p, v)
	case 2:
		binary.LittleEndian.PutUint16(p, uint16(v))
	default:
		for i := 0; i < nb; i++ {
			p[i] = byte(v >> (8 * i))
		}
	}
}

func getWord(p []byte, nb int) uint32 {
	switch nb {
	case 4:
		return binary.LittleEndian.Uint32(p)
	case 2:
		return uint32(binary.LittleEndian.Uint16(p))
	default:
		var v uint32
		for i := 0; i < nb; i++ {
			v |= uint32(p[i]) << (8 * i)
		}
		return v
	}
}
