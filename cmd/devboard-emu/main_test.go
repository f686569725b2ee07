// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"io"
	"log"
	"net"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/devboard/fpga"
	"github.com/go-lpc/devboard/transport"
	"golang.org/x/sync/errgroup"
)

func TestServe(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not listen: %+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var grp errgroup.Group
	grp.Go(func() error {
		return serve(ctx, pc, fpga.UltraScale)
	})

	host, port, err := net.SplitHostPort(pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("could not parse address: %+v", err)
	}
	cfg := transport.DefaultConfig(transport.Eth)
	cfg.IP = host
	cfg.Port, err = strconv.Atoi(port)
	if err != nil {
		t.Fatalf("could not parse port: %+v", err)
	}
	cfg.Timeout = 5 * time.Second

	mem, err := transport.Open(cfg)
	if err != nil {
		t.Fatalf("could not open eth link: %+v", err)
	}

	dev, err := fpga.New(mem, fpga.Config{FPGAType: fpga.UltraScale, CommType: transport.Eth},
		fpga.WithLogger(log.New(io.Discard, "", 0)),
		fpga.WithOutput(io.Discard),
	)
	if err != nil {
		t.Fatalf("could not create device: %+v", err)
	}
	defer dev.Close()

	info, err := dev.Version.Info()
	if err != nil {
		t.Fatalf("could not read identification registers: %+v", err)
	}
	if got, want := info.FPGAVersion, uint32(1); got != want {
		t.Fatalf("invalid FPGA version: got=0x%x, want=0x%x", got, want)
	}
	if !strings.HasPrefix(info.BuildStamp, "devboard-emu ") {
		t.Fatalf("invalid build stamp: %q", info.BuildStamp)
	}

	// the burst is larger than an eth transaction.
	err = dev.SharedMem.BurstWrite(0)
	if err != nil {
		t.Fatalf("could not write burst: %+v", err)
	}
	vs, err := dev.SharedMem.BurstRead(0)
	if err != nil {
		t.Fatalf("could not read burst: %+v", err)
	}
	if !reflect.DeepEqual(vs, fpga.Ramp(fpga.DefaultSampleCount)) {
		t.Fatalf("invalid burst read-back")
	}

	err = dev.TestMem.BurstWrite(16)
	if err != nil {
		t.Fatalf("could not write test-mem burst: %+v", err)
	}

	cancel()
	err = grp.Wait()
	if err != nil {
		t.Fatalf("could not stop emulator: %+v", err)
	}
}

func TestServeInvalidFPGA(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not listen: %+v", err)
	}
	defer pc.Close()

	err = serve(context.Background(), pc, "virtex")
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestUptime(t *testing.T) {
	sim := transport.NewSim(transport.DefaultSimSize)
	dev, err := fpga.New(sim, fpga.Config{CommType: transport.Eth},
		fpga.WithLogger(log.New(io.Discard, "", 0)),
	)
	if err != nil {
		t.Fatalf("could not create device: %+v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	err = uptime(ctx, dev.Version, time.Now())
	if err != nil {
		t.Fatalf("could not run up-time counter: %+v", err)
	}
	v, err := dev.Version.Window().ReadU32(fpga.RegUpTimeCnt)
	if err != nil {
		t.Fatalf("could not read up-time counter: %+v", err)
	}
	if v != 1 {
		t.Fatalf("invalid up-time counter: got=%d, want=1", v)
	}

	// a failing register space ends the emulator.
	_ = sim.Close()
	err = uptime(context.Background(), dev.Version, time.Now())
	if err == nil || !strings.Contains(err.Error(), "could not update up-time counter") {
		t.Fatalf("invalid error: %v", err)
	}
}
