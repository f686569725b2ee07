// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/go-daq/tdaq"
	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/devboard/fpga"
	"github.com/go-lpc/devboard/transport"
)

type server struct {
	cfg  transport.Config
	fcfg fpga.Config

	dev  *fpga.Device
	data chan []byte

	mu  sync.Mutex
	n   int // number of round trips
	bad int // number of mismatched words
}

func newServer() *server {
	return &server{
		cfg:  transport.DefaultConfig(transport.Sim),
		fcfg: fpga.Config{CommType: transport.Sim},
	}
}

// OnConfig decodes the link configuration: type, dev, ip, lane and
// fpga-type.
func (srv *server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	var (
		dec  = tdaq.NewDecoder(bytes.NewReader(req.Body))
		typ  = dec.ReadStr()
		dev  = dec.ReadStr()
		ip   = dec.ReadStr()
		lane = dec.ReadU32()
		ftyp = dec.ReadStr()
	)
	if err := dec.Err(); err != nil {
		ctx.Msg.Errorf("could not decode /config payload: %+v", err)
		return fmt.Errorf("could not decode /config payload: %w", err)
	}

	cfg := transport.DefaultConfig(typ)
	cfg.Dev = dev
	cfg.IP = ip
	cfg.Lane = int(lane)

	srv.cfg = cfg
	srv.fcfg = fpga.Config{FPGAType: ftyp, CommType: typ}
	ctx.Msg.Infof("link: type=%q, dev=%q, ip=%q, lane=%d, fpga-type=%q", typ, dev, ip, lane, ftyp)
	return nil
}

func (srv *server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	if srv.dev != nil {
		_ = srv.dev.Close()
		srv.dev = nil
	}

	mem, err := transport.Open(srv.cfg)
	if err != nil {
		ctx.Msg.Errorf("could not open %s link: %+v", srv.cfg.Type, err)
		return fmt.Errorf("could not open %s link: %w", srv.cfg.Type, err)
	}

	dev, err := fpga.New(mem, srv.fcfg, fpga.WithOutput(msgWriter{ctx.Msg}))
	if err != nil {
		_ = mem.Close()
		ctx.Msg.Errorf("could not create device: %+v", err)
		return fmt.Errorf("could not create device: %w", err)
	}
	srv.dev = dev

	info, err := dev.Version.Info()
	if err != nil {
		ctx.Msg.Errorf("could not read identification registers: %+v", err)
		return fmt.Errorf("could not read identification registers: %w", err)
	}
	ctx.Msg.Infof("fpga-version=0x%08x, git-hash=%s, build=%q", info.FPGAVersion, info.GitHash, info.BuildStamp)

	srv.reset()
	return nil
}

func (srv *server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	srv.reset()
	return nil
}

func (srv *server) reset() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.data = make(chan []byte, 64)
	srv.n = 0
	srv.bad = 0
}

func (srv *server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if srv.dev == nil {
		return fmt.Errorf("device not initialized")
	}
	return nil
}

func (srv *server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	n, bad := srv.stats()
	ctx.Msg.Debugf("received /stop command... -> n=%d, mismatches=%d", n, bad)
	return nil
}

func (srv *server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	if srv.dev == nil {
		return nil
	}
	err := srv.dev.Close()
	srv.dev = nil
	if err != nil {
		ctx.Msg.Errorf("could not close device: %+v", err)
		return fmt.Errorf("could not close device: %w", err)
	}
	return nil
}

func (srv *server) stats() (n, bad int) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.n, srv.bad
}

func (srv *server) burst(ctx tdaq.Context, dst *tdaq.Frame) error {
	srv.mu.Lock()
	ch := srv.data
	srv.mu.Unlock()

	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-ch:
		dst.Body = data
	}
	return nil
}

// run writes a ramp to the shared memory and reads it back, until the
// run is stopped. Read-back bursts are published on the /burst output.
func (srv *server) run(ctx tdaq.Context) error {
	sm := srv.dev.SharedMem
	const nsmpl = fpga.DefaultSampleCount
	want := fpga.Ramp(nsmpl)
	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		default:
		}

		err := sm.BurstWrite(nsmpl)
		if err != nil {
			ctx.Msg.Errorf("could not write burst: %+v", err)
			return fmt.Errorf("could not write burst: %w", err)
		}

		vs, err := sm.BurstRead(nsmpl)
		if err != nil {
			ctx.Msg.Errorf("could not read burst: %+v", err)
			return fmt.Errorf("could not read burst: %w", err)
		}

		bad := 0
		raw := make([]byte, 4*len(vs))
		for i, v := range vs {
			if v != want[i] {
				bad++
			}
			binary.LittleEndian.PutUint32(raw[4*i:], v)
		}

		srv.mu.Lock()
		srv.n++
		srv.bad += bad
		data := srv.data
		srv.mu.Unlock()

		if bad != 0 {
			ctx.Msg.Warnf("burst round trip: %d mismatched words", bad)
		}

		select {
		case data <- raw:
		default:
		}
	}
}

// msgWriter forwards burst status lines to a message stream.
type msgWriter struct {
	msg tlog.MsgStream
}

func (w msgWriter) Write(p []byte) (int, error) {
	w.msg.Debugf("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
