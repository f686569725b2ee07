// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command devboard opens the register space of a development board and
// runs an interactive operator shell on it.
//
// Usage:
//
//	$> devboard -type datadev -dev /dev/datadev_0 -lane 0
//	$> devboard -type eth -ip 192.168.2.10 -c "version; rawBurstWriteTest; rawBurstReadTest"
package main // import "github.com/go-lpc/devboard/cmd/devboard"

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/go-lpc/devboard/fpga"
	"github.com/go-lpc/devboard/transport"
)

func main() {
	var (
		typ  = flag.String("type", "", "type of interface (datadev|eth|pgp|pcie|sim)")
		dev  = flag.String("dev", "/dev/datadev_0", "path to device file")
		ip   = flag.String("ip", "192.168.2.10", "IP address of the board")
		lane = flag.Int("lane", 0, "PGP lane")
		ftyp = flag.String("fpga-type", "", "FPGA type (7series|ultrascale)")
		mon  = flag.String("pmon", "", "path to pmon output file (empty: no monitoring)")
		freq = flag.Duration("pmon-freq", 1*time.Second, "pmon frequency")
		cmds = flag.String("c", "", "semicolon-separated list of commands to run instead of the shell")
	)

	flag.Parse()

	log.SetPrefix("devboard: ")
	log.SetFlags(0)

	if *typ == "" {
		flag.Usage()
		log.Fatalf("missing interface type")
	}

	cfg := transport.DefaultConfig(*typ)
	cfg.Dev = *dev
	cfg.IP = *ip
	cfg.Lane = *lane

	err := run(cfg, fpga.Config{FPGAType: *ftyp, CommType: *typ}, *cmds, *mon, *freq, stop)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

var stop = make(chan os.Signal, 1)
