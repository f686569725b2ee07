// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"fmt"
	"io"
)

const (
	// DefaultSampleCount is the number of words of a burst when the
	// requested count is smaller than 2.
	DefaultSampleCount = 0x4000

	burstWordBits = 32
	burstStride   = 4
)

// SampleCount returns the effective number of words of a burst.
func SampleCount(requested int) int {
	if requested < 2 {
		requested = DefaultSampleCount
	}
	return requested &^ 3
}

// Ramp returns the burst payload [0, 1, ..., n-1].
func Ramp(n int) []uint32 {
	vs := make([]uint32, n)
	for i := range vs {
		vs[i] = uint32(i)
	}
	return vs
}

// Command is an operator command attached to a block.
type Command struct {
	Name string
	Desc string
	Func func(arg int) error
}

// SharedMem issues raw burst transfers at the start of a memory block.
//
// SharedMem keeps no state between bursts.
// It is not safe for concurrent use.
type SharedMem struct {
	win *Window
	out io.Writer
}

func newSharedMem(win *Window, out io.Writer) *SharedMem {
	return &SharedMem{win: win, out: out}
}

func (sm *SharedMem) Name() string { return sm.win.Name() }

// BurstWrite writes a ramp of SampleCount(requested) words at offset 0,
// with a single transport access.
func (sm *SharedMem) BurstWrite(requested int) error {
	n := SampleCount(requested)
	err := sm.fits(n)
	if err != nil {
		return fmt.Errorf("fpga: could not write burst of %d words: %w", n, err)
	}
	data := Ramp(n)

	fmt.Fprintf(sm.out, "%s.rawBurstWriteTest(%d): %d\n", sm.win.Name(), n, len(data))
	err = sm.win.RawWrite(0, data, burstWordBits, burstStride)
	if err != nil {
		return fmt.Errorf("fpga: could not write burst of %d words: %w", n, err)
	}
	return nil
}

// BurstRead reads SampleCount(requested) words from offset 0,
// with a single transport access.
// The words are returned as read, without any check.
func (sm *SharedMem) BurstRead(requested int) ([]uint32, error) {
	n := SampleCount(requested)
	err := sm.fits(n)
	if err != nil {
		return nil, fmt.Errorf("fpga: could not read burst of %d words: %w", n, err)
	}

	fmt.Fprintf(sm.out, "%s.rawBurstReadTest(%d): %d\n", sm.win.Name(), n, n)
	vs, err := sm.win.RawRead(0, n, burstWordBits, burstStride)
	if err != nil {
		return nil, fmt.Errorf("fpga: could not read burst of %d words: %w", n, err)
	}
	return vs, nil
}

// fits checks a burst of n words holds in the block before any
// payload is allocated.
func (sm *SharedMem) fits(n int) error {
	if max := sm.win.Size() / burstStride; int64(n) > max {
		return fmt.Errorf("fpga: %s: burst of %d words exceeds block capacity of %d words", sm.win.Name(), n, max)
	}
	return nil
}

// Commands returns the operator commands of the block.
func (sm *SharedMem) Commands() []Command {
	return []Command{
		{
			Name: "rawBurstWriteTest",
			Desc: "write a ramp of n words at offset 0 (n<2: 0x4000)",
			Func: sm.BurstWrite,
		},
		{
			Name: "rawBurstReadTest",
			Desc: "read n words from offset 0 (n<2: 0x4000)",
			Func: func(n int) error {
				_, err := sm.BurstRead(n)
				return err
			},
		},
	}
}
