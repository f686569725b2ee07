// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package prbs generates and checks pseudo-random test frames, as
// streamed by the PRBS transmitter of a development board.
//
// A frame is a sequence of little-endian 32-bit words:
//
//	word 0:   sequence number
//	word 1:   number of words in the frame, minus one
//	word 2..: LFSR sequence seeded with the sequence number
//
// The LFSR is 32 bits wide, with taps at bits 1, 2, 6 and 31.
package prbs // import "github.com/go-lpc/devboard/prbs"

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	headerWords = 2

	// MinFrameSize is the size in bytes of the smallest valid frame.
	MinFrameSize = headerWords * 4

	// MaxFrameSize is the size in bytes of the largest frame a Checker reads.
	MaxFrameSize = 1 << 20
)

var (
	ErrSize     = errors.New("prbs: invalid frame size")
	ErrSequence = errors.New("prbs: sequence mismatch")
	ErrData     = errors.New("prbs: data mismatch")
)

func next(v uint32) uint32 {
	bit := (v>>1 ^ v>>2 ^ v>>6 ^ v>>31) & 1
	return v<<1 | bit
}

// Generator produces consecutive PRBS frames.
type Generator struct {
	seq uint32
}

// NewGenerator returns a generator whose first frame carries seq.
func NewGenerator(seq uint32) *Generator {
	return &Generator{seq: seq}
}

// Frame fills p with the next frame of len(p) bytes.
// len(p) must be a multiple of 4, and at least MinFrameSize.
func (gen *Generator) Frame(p []byte) error {
	if len(p) < MinFrameSize || len(p)%4 != 0 {
		return fmt.Errorf("%w (len=%d)", ErrSize, len(p))
	}
	var (
		seq = gen.seq
		v   = seq
	)
	binary.LittleEndian.PutUint32(p[0:], seq)
	binary.LittleEndian.PutUint32(p[4:], uint32(len(p)/4-1))
	for i := MinFrameSize; i < len(p); i += 4 {
		v = next(v)
		binary.LittleEndian.PutUint32(p[i:], v)
	}
	gen.seq++
	return nil
}

// Stats holds the counters of a Checker.
type Stats struct {
	Frames int64 // frames received
	Errors int64 // frames with a size, sequence or data error
	Bytes  int64 // bytes received
}

// Checker validates a stream of PRBS frames.
// Sequence numbers are expected to increase by one from frame to frame.
// After a sequence error, the checker resynchronizes on the received frame.
//
// Checker is safe for concurrent use.
type Checker struct {
	mu     sync.Mutex
	stats  Stats
	seq    uint32
	synced bool
}

// NewChecker returns a checker that synchronizes on the first frame.
func NewChecker() *Checker {
	return &Checker{}
}

// Stats returns a snapshot of the counters.
func (chk *Checker) Stats() Stats {
	chk.mu.Lock()
	defer chk.mu.Unlock()
	return chk.stats
}

// Reset clears the counters and the sequence state.
func (chk *Checker) Reset() {
	chk.mu.Lock()
	defer chk.mu.Unlock()
	chk.stats = Stats{}
	chk.synced = false
}

// Process checks one frame and updates the counters.
// A faulty frame is counted once, and the first fault found is returned.
func (chk *Checker) Process(frame []byte) error {
	chk.mu.Lock()
	defer chk.mu.Unlock()

	chk.stats.Frames++
	chk.stats.Bytes += int64(len(frame))

	err := chk.check(frame)
	if err != nil {
		chk.stats.Errors++
	}
	return err
}

func (chk *Checker) check(frame []byte) error {
	if len(frame) < MinFrameSize || len(frame)%4 != 0 {
		return fmt.Errorf("%w (len=%d)", ErrSize, len(frame))
	}

	var (
		seq  = binary.LittleEndian.Uint32(frame[0:])
		size = binary.LittleEndian.Uint32(frame[4:])
		want = chk.seq
	)
	synced := chk.synced
	chk.seq = seq + 1
	chk.synced = true

	if got := uint32(len(frame)/4 - 1); size != got {
		return fmt.Errorf("%w (seq=%d, header=%d words, got=%d words)", ErrSize, seq, size+1, got+1)
	}
	if synced && seq != want {
		return fmt.Errorf("%w (got=%d, want=%d)", ErrSequence, seq, want)
	}

	v := seq
	for i := MinFrameSize; i < len(frame); i += 4 {
		v = next(v)
		if got := binary.LittleEndian.Uint32(frame[i:]); got != v {
			return fmt.Errorf("%w (seq=%d, word=%d, got=0x%08x, want=0x%08x)", ErrData, seq, i/4, got, v)
		}
	}
	return nil
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Run reads frames from r and checks them, until ctx is done, r is
// exhausted or max frames were read (when max > 0).
// Each Read of r must return exactly one frame.
// Faulty frames are counted, not returned.
func (chk *Checker) Run(ctx context.Context, r io.Reader, max int) error {
	if dl, ok := r.(deadliner); ok {
		_ = dl.SetDeadline(time.Time{})
		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = dl.SetDeadline(time.Now())
			case <-stop:
			}
		}()
		defer close(stop)
	}

	buf := make([]byte, MaxFrameSize)
	for i := 0; max <= 0 || i < max; i++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := r.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("prbs: could not read frame: %w", err)
		}
		_ = chk.Process(buf[:n])
	}
	return nil
}
