// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport opens the register space and the PRBS stream channel
// of a development board through one of the supported links.
//
// The datadev and pgp links exchange frames with a character device.
// Each frame carries an 8-byte prefix holding the destination channel and
// the frame flags. Destinations are lane*32+vc for datadev and lane*4+vc
// for pgp. The pgp destination and the frame prefix are specific to this
// package: they are not the ioctl interface of the aes-stream-drivers
// DataCard or PgpCard kernel modules, so these links need a device that
// speaks this framing (a shim driver, or a test fixture).
package transport // import "github.com/go-lpc/devboard/transport"

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-lpc/devboard/internal/mmap"
	"github.com/go-lpc/devboard/prbs"
	"github.com/go-lpc/devboard/srp"
)

// Memory is a byte-addressable register space.
// Offsets are bus addresses.
type Memory interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

const (
	DataDev = "datadev" // PCIe DMA card, SRPv3 over the register channel
	Eth     = "eth"     // Ethernet, SRPv3 over UDP
	PGP     = "pgp"     // legacy PGP PCIe card, SRPv3 over the register channel
	PCIe    = "pcie"    // PCIe BAR, direct memory-mapped access
	Sim     = "sim"     // simulated register space
)

const (
	// DefaultSimSize is large enough to cover the whole 32-bit bus.
	DefaultSimSize = 1 << 32

	ethMaxSize = 1024 // keep SRPv3 datagrams below a standard MTU

	// DefaultStreamFrameSize is the size in bytes of the frames of a
	// simulated PRBS stream.
	DefaultStreamFrameSize = 1024
)

const (
	vcRegister = 0 // SRPv3 register channel
	vcPRBS     = 1 // PRBS stream channel
)

func dataDevDest(lane, vc int) uint32 { return uint32(lane*32 + vc) }
func pgpDest(lane, vc int) uint32     { return uint32(lane*4 + vc) }

// Config describes how to reach the register space.
type Config struct {
	Type    string        // link type
	Dev     string        // device file, for datadev, pgp and pcie links
	IP      string        // board IP address, for eth links
	Port    int           // board UDP port, for eth links
	Lane    int           // lane index, for datadev and pgp links
	Timeout time.Duration // per-transaction timeout
	SimSize int64         // size of the simulated register space
}

// DefaultConfig returns the default link configuration for the given type.
func DefaultConfig(typ string) Config {
	return Config{
		Type:    typ,
		Dev:     "/dev/datadev_0",
		IP:      "192.168.2.10",
		Port:    8192,
		Timeout: 1 * time.Second,
		SimSize: DefaultSimSize,
	}
}

// Open opens the register space described by cfg.
func Open(cfg Config) (Memory, error) {
	if cfg.Lane < 0 {
		return nil, fmt.Errorf("transport: invalid lane %d", cfg.Lane)
	}

	switch cfg.Type {
	case DataDev:
		return openFrameDev(cfg, dataDevDest(cfg.Lane, vcRegister))
	case PGP:
		return openFrameDev(cfg, pgpDest(cfg.Lane, vcRegister))
	case Eth:
		return openEth(cfg)
	case PCIe:
		h, err := mmap.Open(cfg.Dev, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("transport: could not map PCIe BAR %q: %w", cfg.Dev, err)
		}
		return h, nil
	case Sim:
		size := cfg.SimSize
		if size <= 0 {
			size = DefaultSimSize
		}
		return NewSim(size), nil
	default:
		return nil, fmt.Errorf("transport: invalid type (%s)", cfg.Type)
	}
}

// Stream is a receive-only frame channel.
// Each Read returns one frame.
type Stream interface {
	io.Reader
	io.Closer
}

// OpenStream opens the PRBS stream channel (virtual channel 1) described
// by cfg.
// The eth link carries that channel over RSSI, which is not supported,
// and a PCIe BAR has no stream channel.
func OpenStream(cfg Config) (Stream, error) {
	if cfg.Lane < 0 {
		return nil, fmt.Errorf("transport: invalid lane %d", cfg.Lane)
	}

	switch cfg.Type {
	case DataDev:
		return openStreamDev(cfg, dataDevDest(cfg.Lane, vcPRBS))
	case PGP:
		return openStreamDev(cfg, pgpDest(cfg.Lane, vcPRBS))
	case Eth, PCIe:
		return nil, fmt.Errorf("transport: no stream channel on %s links", cfg.Type)
	case Sim:
		return NewSimStream(DefaultStreamFrameSize), nil
	default:
		return nil, fmt.Errorf("transport: invalid type (%s)", cfg.Type)
	}
}

func openStreamDev(cfg Config, dest uint32) (Stream, error) {
	f, err := os.OpenFile(cfg.Dev, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: could not open %q: %w", cfg.Dev, err)
	}
	return newFrameLink(f, dest, prbs.MaxFrameSize), nil
}

func openEth(cfg Config) (Memory, error) {
	addr := net.JoinHostPort(cfg.IP, strconv.Itoa(cfg.Port))
	conn, err := net.DialTimeout("udp", addr, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("transport: could not dial %q: %w", addr, err)
	}
	return srp.NewClient(
		conn,
		srp.WithTimeout(cfg.Timeout),
		srp.WithMaxSize(ethMaxSize),
	), nil
}

func openFrameDev(cfg Config, dest uint32) (Memory, error) {
	f, err := os.OpenFile(cfg.Dev, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: could not open %q: %w", cfg.Dev, err)
	}
	return srp.NewClient(
		newFrameLink(f, dest, 0),
		srp.WithTimeout(cfg.Timeout),
	), nil
}
