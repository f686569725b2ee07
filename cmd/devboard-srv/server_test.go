// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/go-daq/tdaq"
	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/devboard/fpga"
	"golang.org/x/sync/errgroup"
)

func newContext(ctx context.Context) tdaq.Context {
	return tdaq.Context{
		Ctx: ctx,
		Msg: tlog.NewMsgStream("devboard-srv", tlog.LvlInfo, io.Discard),
	}
}

func configFrame(t *testing.T, typ, dev, ip string, lane uint32, ftyp string) tdaq.Frame {
	t.Helper()
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteStr(typ)
	enc.WriteStr(dev)
	enc.WriteStr(ip)
	enc.WriteU32(lane)
	enc.WriteStr(ftyp)
	if err := enc.Err(); err != nil {
		t.Fatalf("could not encode /config payload: %+v", err)
	}
	return tdaq.Frame{Body: buf.Bytes()}
}

func TestServer(t *testing.T) {
	var (
		srv  = newServer()
		resp tdaq.Frame
		ctx  = newContext(context.Background())
	)

	err := srv.OnConfig(ctx, &resp, configFrame(t, "sim", "", "", 0, fpga.SevenSeries))
	if err != nil {
		t.Fatalf("could not /config: %+v", err)
	}

	for _, tc := range []struct {
		name string
		f    func(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error
	}{
		{"/init", srv.OnInit},
		{"/reset", srv.OnReset},
		{"/start", srv.OnStart},
	} {
		err := tc.f(ctx, &resp, tdaq.Frame{})
		if err != nil {
			t.Fatalf("could not %s: %+v", tc.name, err)
		}
	}

	_, err = srv.dev.Window(fpga.NameXadc)
	if err != nil {
		t.Fatalf("fpga-type not applied: %+v", err)
	}

	rctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var grp errgroup.Group
	grp.Go(func() error {
		return srv.run(newContext(rctx))
	})

	want := make([]byte, 4*fpga.DefaultSampleCount)
	for i := 0; i < fpga.DefaultSampleCount; i++ {
		binary.LittleEndian.PutUint32(want[4*i:], uint32(i))
	}

	for i := 0; i < 3; i++ {
		var dst tdaq.Frame
		err := srv.burst(newContext(rctx), &dst)
		if err != nil {
			t.Fatalf("could not read burst #%d: %+v", i, err)
		}
		if !bytes.Equal(dst.Body, want) {
			t.Fatalf("invalid burst #%d payload", i)
		}
	}

	cancel()
	err = grp.Wait()
	if err != nil {
		t.Fatalf("could not run: %+v", err)
	}

	n, bad := srv.stats()
	if n < 3 {
		t.Fatalf("invalid number of round trips: %d", n)
	}
	if bad != 0 {
		t.Fatalf("invalid number of mismatched words: %d", bad)
	}

	err = srv.OnReset(ctx, &resp, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not /reset: %+v", err)
	}
	if n, _ := srv.stats(); n != 0 {
		t.Fatalf("counters not reset: n=%d", n)
	}

	var dst tdaq.Frame
	err = srv.burst(newContext(rctx), &dst)
	if err != nil || dst.Body != nil {
		t.Fatalf("burst on a stopped run: body=%d bytes, err=%v", len(dst.Body), err)
	}

	for _, tc := range []struct {
		name string
		f    func(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error
	}{
		{"/stop", srv.OnStop},
		{"/quit", srv.OnQuit},
		{"/quit", srv.OnQuit},
	} {
		err := tc.f(ctx, &resp, tdaq.Frame{})
		if err != nil {
			t.Fatalf("could not %s: %+v", tc.name, err)
		}
	}
}

func TestServerErrors(t *testing.T) {
	var (
		srv  = newServer()
		resp tdaq.Frame
		ctx  = newContext(context.Background())
	)

	err := srv.OnConfig(ctx, &resp, tdaq.Frame{Body: []byte{1, 2}})
	if err == nil {
		t.Fatalf("expected an error decoding a truncated /config payload")
	}

	err = srv.OnStart(ctx, &resp, tdaq.Frame{})
	if err == nil {
		t.Fatalf("expected an error starting an uninitialized device")
	}

	err = srv.OnConfig(ctx, &resp, configFrame(t, "usb", "", "", 0, ""))
	if err != nil {
		t.Fatalf("could not /config: %+v", err)
	}
	err = srv.OnInit(ctx, &resp, tdaq.Frame{})
	if err == nil {
		t.Fatalf("expected an error opening an invalid link")
	}

	err = srv.OnConfig(ctx, &resp, configFrame(t, "sim", "", "", 0, "virtex"))
	if err != nil {
		t.Fatalf("could not /config: %+v", err)
	}
	err = srv.OnInit(ctx, &resp, tdaq.Frame{})
	if err == nil || !strings.Contains(err.Error(), `fpga: invalid FPGA type "virtex"`) {
		t.Fatalf("invalid error for an unknown fpga-type: %v", err)
	}
}
