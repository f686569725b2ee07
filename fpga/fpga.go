// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fpga describes the register map of the development board FPGA
// and provides typed access to its blocks.
package fpga // import "github.com/go-lpc/devboard/fpga"

import (
	"fmt"
	"io"
	"sort"
)

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

const (
	SevenSeries = "7series"
	UltraScale  = "ultrascale"
)

const (
	NameAxiVersion   = "AxiVersion"
	NameXadc         = "Xadc"
	NameSysMon       = "AxiSysMonUltraScale"
	NameSharedMem    = "MbSharedMem"
	NamePrbsTx       = "SsiPrbsTx"
	NamePrbsRx       = "SsiPrbsRx"
	NameRssiCore     = "RssiCore"
	NameAxisMon      = "AxisMon"
	NameTestEmptyMem = "TestEmptyMem"
)

const blockSize = 0x10000

// Config selects the optional blocks of the register map.
type Config struct {
	FPGAType string // "", "7series" or "ultrascale"
	CommType string // transport type; "eth" adds the RSSI core block
}

// Block is a named region of the register map.
type Block struct {
	Name        string
	Offset      int64
	Size        int64
	Description string
}

func (blk Block) end() int64 { return blk.Offset + blk.Size }

// NewTree returns the blocks of the register map, in offset order.
func NewTree(cfg Config) ([]Block, error) {
	switch cfg.FPGAType {
	case "", SevenSeries, UltraScale:
	default:
		return nil, fmt.Errorf("fpga: invalid FPGA type %q", cfg.FPGAType)
	}

	blks := []Block{
		{NameAxiVersion, 0x00000000, blockSize, "firmware version and identification"},
	}
	if cfg.FPGAType == SevenSeries {
		blks = append(blks, Block{NameXadc, 0x00010000, blockSize, "7-series analog monitor"})
	}
	if cfg.FPGAType == UltraScale {
		blks = append(blks, Block{NameSysMon, 0x00020000, blockSize, "UltraScale system monitor"})
	}
	blks = append(blks,
		Block{NameSharedMem, 0x00030000, blockSize, "MicroBlaze shared memory"},
		Block{NamePrbsTx, 0x00040000, blockSize, "PRBS stream transmitter"},
		Block{NamePrbsRx, 0x00050000, blockSize, "PRBS stream receiver"},
	)
	if cfg.CommType == "eth" {
		blks = append(blks, Block{NameRssiCore, 0x00070000, blockSize, "RSSI core"})
	}
	blks = append(blks,
		Block{NameAxisMon, 0x00080000, blockSize, "AXI stream monitor (2 lanes)"},
		Block{NameTestEmptyMem, 0x80000000, 0x80000000, "empty address space for burst tests"},
	)

	err := checkTree(blks)
	if err != nil {
		return nil, err
	}
	return blks, nil
}

func checkTree(blks []Block) error {
	sorted := make([]Block, len(blks))
	copy(sorted, blks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})
	for i, blk := range sorted {
		if blk.Offset < 0 || blk.Size <= 0 {
			return fmt.Errorf("fpga: invalid block %s (offset=0x%x, size=0x%x)", blk.Name, blk.Offset, blk.Size)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.end() > blk.Offset {
			return fmt.Errorf(
				"fpga: block %s [0x%x, 0x%x) overlaps block %s [0x%x, 0x%x)",
				blk.Name, blk.Offset, blk.end(),
				prev.Name, prev.Offset, prev.end(),
			)
		}
	}
	return nil
}
