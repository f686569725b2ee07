// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
)

// Device is the register map of the board, bound to a register space.
type Device struct {
	msg  *log.Logger
	out  io.Writer
	mem  io.Closer
	blks []Block
	wins map[string]*Window

	Version   *AxiVersion
	SharedMem *SharedMem // MbSharedMem block
	TestMem   *SharedMem // TestEmptyMem block
}

type options struct {
	msg *log.Logger
	out io.Writer
}

// Option configures a Device.
type Option func(*options)

// WithLogger sets the logger of the device.
func WithLogger(msg *log.Logger) Option {
	return func(o *options) {
		o.msg = msg
	}
}

// WithOutput sets where command status lines are written.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.out = w
	}
}

// Memory is the register space a device is bound to.
type Memory interface {
	io.ReaderAt
	io.WriterAt
}

// New binds the register map described by cfg to mem.
// If mem is an io.Closer, it is closed by Device.Close.
func New(mem Memory, cfg Config, opts ...Option) (*Device, error) {
	o := options{
		msg: log.New(os.Stdout, "fpga: ", 0),
		out: os.Stdout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	blks, err := NewTree(cfg)
	if err != nil {
		return nil, fmt.Errorf("fpga: could not build device tree: %w", err)
	}

	dev := &Device{
		msg:  o.msg,
		out:  o.out,
		blks: blks,
		wins: make(map[string]*Window, len(blks)),
	}
	if c, ok := mem.(io.Closer); ok {
		dev.mem = c
	}
	for _, blk := range blks {
		dev.wins[blk.Name] = newWindow(mem, blk)
	}

	dev.Version = &AxiVersion{win: dev.wins[NameAxiVersion]}
	dev.SharedMem = newSharedMem(dev.wins[NameSharedMem], dev.out)
	dev.TestMem = newSharedMem(dev.wins[NameTestEmptyMem], dev.out)

	dev.msg.Printf("register map: %d blocks (fpga-type=%q, comm-type=%q)", len(blks), cfg.FPGAType, cfg.CommType)
	return dev, nil
}

// Blocks returns the blocks of the register map, in offset order.
func (dev *Device) Blocks() []Block {
	blks := make([]Block, len(dev.blks))
	copy(blks, dev.blks)
	return blks
}

// Window returns the register window of the named block.
func (dev *Device) Window(name string) (*Window, error) {
	win, ok := dev.wins[name]
	if !ok {
		return nil, fmt.Errorf("fpga: no block named %q", name)
	}
	return win, nil
}

// Lookup returns the window holding the absolute bus address addr,
// and the offset of addr inside that window.
func (dev *Device) Lookup(addr int64) (*Window, int64, error) {
	for _, blk := range dev.blks {
		if blk.Offset <= addr && addr < blk.end() {
			return dev.wins[blk.Name], addr - blk.Offset, nil
		}
	}
	return nil, 0, fmt.Errorf("fpga: address 0x%x is not mapped", addr)
}

// DumpTree writes the register map to w.
func (dev *Device) DumpTree(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	for _, blk := range dev.blks {
		fmt.Fprintf(tw, "%s\t0x%08x\t0x%08x\t%s\n", blk.Name, blk.Offset, blk.Size, blk.Description)
	}
	return tw.Flush()
}

// ReadAll reads and writes to w the identification registers.
func (dev *Device) ReadAll(w io.Writer) error {
	return dev.Version.Dump(w)
}

// Commands returns the operator commands of all blocks.
// Command names are prefixed with their block name.
func (dev *Device) Commands() []Command {
	var cmds []Command
	for _, sm := range []*SharedMem{dev.SharedMem, dev.TestMem} {
		for _, cmd := range sm.Commands() {
			cmd.Name = sm.Name() + "." + cmd.Name
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

// Close closes the underlying register space.
func (dev *Device) Close() error {
	if dev.mem == nil {
		return nil
	}
	err := dev.mem.Close()
	dev.mem = nil
	if err != nil {
		return fmt.Errorf("fpga: could not close register space: %w", err)
	}
	return nil
}
