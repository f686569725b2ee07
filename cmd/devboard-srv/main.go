// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command devboard-srv starts a TDAQ server driving burst round trips
// on the shared memory of a development board.
package main // import "github.com/go-lpc/devboard/cmd/devboard-srv"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
)

func main() {
	cmd := flags.New()

	srv := newServer()

	proc := tdaq.New(cmd, os.Stdout)
	proc.CmdHandle("/config", srv.OnConfig)
	proc.CmdHandle("/init", srv.OnInit)
	proc.CmdHandle("/reset", srv.OnReset)
	proc.CmdHandle("/start", srv.OnStart)
	proc.CmdHandle("/stop", srv.OnStop)
	proc.CmdHandle("/quit", srv.OnQuit)

	proc.OutputHandle("/burst", srv.burst)

	proc.RunHandle(srv.run)

	err := proc.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
