// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"context"
	"fmt"
	"io"
	"time"
)

// VarRateTest reads the scratch pad register through its typed accessor
// until ctx is done, reporting the read rate every second.
// VarRateTest returns the total number of reads.
func (dev *Device) VarRateTest(ctx context.Context, w io.Writer) (int, error) {
	fmt.Fprintf(w, "Running variable rate test\n")
	return rateTest(ctx, w, dev.Version.ScratchPad)
}

// RawRateTest is like VarRateTest, with raw 32-bit reads.
func (dev *Device) RawRateTest(ctx context.Context, w io.Writer) (int, error) {
	fmt.Fprintf(w, "Running raw rate test\n")
	win := dev.Version.win
	return rateTest(ctx, w, func() (uint32, error) {
		vs, err := win.RawRead(RegScratchPad, 1, 32, 4)
		if err != nil {
			return 0, err
		}
		return vs[0], nil
	})
}

func rateTest(ctx context.Context, w io.Writer, read func() (uint32, error)) (int, error) {
	var (
		cnt  int
		inc  int
		last = time.Now().Unix()
	)
	for {
		select {
		case <-ctx.Done():
			return cnt, nil
		default:
		}

		val, err := read()
		if err != nil {
			return cnt, fmt.Errorf("fpga: rate test failed after %d reads: %w", cnt, err)
		}
		cnt++
		inc++

		if now := time.Now().Unix(); now != last {
			fmt.Fprintf(w, "Cnt=%d, rate=%d, val=%d\n", cnt, inc, val)
			last = now
			inc = 0
		}
	}
}
