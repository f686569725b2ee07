// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command devboard-emu emulates the register space of a development board,
// serving SRPv3 requests over UDP.
//
// Usage:
//
//	$> devboard-emu -addr :8192 -fpga-type 7series &
//	$> devboard -type eth -ip 127.0.0.1
package main // import "github.com/go-lpc/devboard/cmd/devboard-emu"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-lpc/devboard"
	"github.com/go-lpc/devboard/fpga"
	"github.com/go-lpc/devboard/srp"
	"github.com/go-lpc/devboard/transport"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		addr = flag.String("addr", ":8192", "[ip]:port to listen on")
		ftyp = flag.String("fpga-type", "", "FPGA type (7series|ultrascale)")
	)

	flag.Parse()

	log.SetPrefix("devboard-emu: ")
	log.SetFlags(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pc, err := net.ListenPacket("udp", *addr)
	if err != nil {
		log.Fatalf("could not listen on %q: %+v", *addr, err)
	}

	log.Printf("serving register space on %q...", pc.LocalAddr())
	err = serve(ctx, pc, *ftyp)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

// identity is the content of the identification registers of the emulator.
func identity() fpga.VersionInfo {
	version, _ := devboard.Version()
	if version == "" {
		version = "(devel)"
	}
	return fpga.VersionInfo{
		FPGAVersion: 0x00000001,
		DeviceID:    0x00000000,
		GitHash:     "0000000000000000000000000000000000000000",
		BuildStamp:  fmt.Sprintf("devboard-emu %s, built %s", version, time.Now().UTC().Format(time.RFC3339)),
	}
}

func serve(ctx context.Context, pc net.PacketConn, ftyp string) error {
	sim := transport.NewSim(transport.DefaultSimSize)
	defer sim.Close()

	msg := log.New(os.Stdout, "devboard-emu: ", 0)
	dev, err := fpga.New(sim, fpga.Config{FPGAType: ftyp, CommType: transport.Eth}, fpga.WithLogger(msg))
	if err != nil {
		return fmt.Errorf("could not create emulated device: %w", err)
	}

	err = dev.Version.Load(identity())
	if err != nil {
		return fmt.Errorf("could not load identification registers: %w", err)
	}

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return uptime(ctx, dev.Version, time.Now())
	})
	grp.Go(func() error {
		err := srp.Serve(ctx, pc, sim, msg)
		if err != nil {
			return fmt.Errorf("could not serve register space: %w", err)
		}
		return nil
	})

	return grp.Wait()
}

// uptime updates the up-time counter register every second, until ctx is done.
func uptime(ctx context.Context, v *fpga.AxiVersion, beg time.Time) error {
	tick := time.NewTicker(1 * time.Second)
	defer tick.Stop()

	win := v.Window()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-tick.C:
			err := win.WriteU32(fpga.RegUpTimeCnt, uint32(now.Sub(beg)/time.Second))
			if err != nil {
				return fmt.Errorf("could not update up-time counter: %w", err)
			}
		}
	}
}
