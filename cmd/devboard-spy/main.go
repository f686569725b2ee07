// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command devboard-spy spies the content of the development board
// identification registers.
package main // import "github.com/go-lpc/devboard/cmd/devboard-spy"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/devboard/fpga"
	"github.com/go-lpc/devboard/transport"
)

func main() {
	var (
		typ  = flag.String("type", transport.PCIe, "type of interface (datadev|eth|pgp|pcie|sim)")
		dev  = flag.String("dev", "/dev/datadev_0", "path to device file")
		ip   = flag.String("ip", "192.168.2.10", "IP address of the board")
		lane = flag.Int("lane", 0, "PGP lane")
		ftyp = flag.String("fpga-type", "", "FPGA type (7series|ultrascale)")
		tree = flag.Bool("tree", false, "also print the register map")
	)

	flag.Parse()

	log.SetPrefix("devboard-spy: ")
	log.SetFlags(0)

	cfg := transport.DefaultConfig(*typ)
	cfg.Dev = *dev
	cfg.IP = *ip
	cfg.Lane = *lane

	err := spy(os.Stdout, cfg, fpga.Config{FPGAType: *ftyp, CommType: *typ}, *tree, time.Now())
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func spy(w io.Writer, cfg transport.Config, fcfg fpga.Config, tree bool, now time.Time) error {
	mem, err := transport.Open(cfg)
	if err != nil {
		return fmt.Errorf("could not open %s link: %w", cfg.Type, err)
	}

	dev, err := fpga.New(mem, fcfg, fpga.WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		_ = mem.Close()
		return fmt.Errorf("could not open device: %w", err)
	}
	defer dev.Close()

	fmt.Fprintf(w, "------------------------------------------------\n")
	const layout = "2006-01-02 15:04:05 MST"
	fmt.Fprintf(w, "%v\n", now.Format(layout))

	if tree {
		err = dev.DumpTree(w)
		if err != nil {
			return fmt.Errorf("could not dump register map: %w", err)
		}
	}

	err = dev.ReadAll(w)
	if err != nil {
		return fmt.Errorf("could not dump registers: %w", err)
	}

	return dev.Close()
}
