// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-lpc/devboard/fpga"
	"github.com/go-lpc/devboard/prbs"
	"github.com/go-lpc/devboard/transport"
	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

type app struct {
	msg  *log.Logger
	out  io.Writer
	cfg  transport.Config
	fcfg fpga.Config

	mem    transport.Memory
	dev    *fpga.Device
	stream transport.Stream // PRBS stream channel, opened on first use
	chk    *prbs.Checker
}

func newApp(cfg transport.Config, fcfg fpga.Config, out io.Writer) *app {
	return &app{
		msg:  log.New(out, "devboard: ", 0),
		out:  out,
		cfg:  cfg,
		fcfg: fcfg,
	}
}

// init opens the register space and reads the identification registers.
func (app *app) init() error {
	mem, err := transport.Open(app.cfg)
	if err != nil {
		return fmt.Errorf("could not open %s link: %w", app.cfg.Type, err)
	}

	dev, err := fpga.New(mem, app.fcfg, fpga.WithLogger(app.msg), fpga.WithOutput(app.out))
	if err != nil {
		_ = mem.Close()
		return fmt.Errorf("could not create device: %w", err)
	}
	app.mem = mem
	app.dev = dev

	err = app.dev.ReadAll(app.out)
	if err != nil {
		app.msg.Printf("could not read version registers: %+v", err)
	}
	return nil
}

// loop runs the commands from the prompter until quit, EOF or a signal.
// In script mode, the first failing command ends the loop.
// A signal received while a command runs ends the loop once the command
// returns.
func (app *app) loop(p prompter, script bool, stop chan os.Signal) error {
	for {
		select {
		case <-stop:
			app.msg.Printf("interrupted")
			return nil
		default:
		}

		line, err := app.prompt(p, stop)
		if err != nil {
			if errors.Is(err, errInterrupted) {
				app.msg.Printf("interrupted")
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, errAborted) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		p.AppendHistory(line)

		quit, err := app.execute(line, stop)
		if err != nil {
			if script {
				return fmt.Errorf("could not run %q: %w", line, err)
			}
			app.msg.Printf("%+v", err)
		}
		if quit {
			return nil
		}
	}
}

var errInterrupted = errors.New("devboard: interrupted")

// prompt reads the next command line, giving up when a signal arrives.
// The prompter is left blocked in that case and must be closed by the caller.
func (app *app) prompt(p prompter, stop chan os.Signal) (string, error) {
	type result struct {
		line string
		err  error
	}
	res := make(chan result, 1)
	go func() {
		line, err := p.Prompt("devboard> ")
		res <- result{line, err}
	}()

	select {
	case <-stop:
		return "", errInterrupted
	case r := <-res:
		return r.line, r.err
	}
}

// execute runs one command line.
// A signal received while the command runs cancels the command and
// requests the end of the session.
func (app *app) execute(line string, stop chan os.Signal) (bool, error) {
	var (
		quit bool
		intr bool
		done = make(chan struct{})
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var grp errgroup.Group
	grp.Go(func() error {
		defer close(done)
		var err error
		quit, err = app.exec(ctx, line)
		return err
	})
	grp.Go(func() error {
		select {
		case <-stop:
			intr = true
			cancel()
		case <-done:
		}
		return nil
	})

	err := grp.Wait()
	if intr {
		app.msg.Printf("interrupted")
		quit = true
	}
	return quit, err
}

// prbsRx checks n frames of the PRBS stream channel (all frames until
// ctx is done when n < 1), reporting the counters every second.
// Counters accumulate over the session.
func (app *app) prbsRx(ctx context.Context, n int) error {
	if app.stream == nil {
		s, err := transport.OpenStream(app.cfg)
		if err != nil {
			return fmt.Errorf("could not open PRBS stream: %w", err)
		}
		app.stream = s
		app.chk = prbs.NewChecker()
	}

	report := func() {
		st := app.chk.Stats()
		fmt.Fprintf(app.out, "PrbsRx: frames=%d, errors=%d, bytes=%d\n", st.Frames, st.Errors, st.Bytes)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		defer cancel()
		return app.chk.Run(ctx, app.stream, n)
	})
	grp.Go(func() error {
		tick := time.NewTicker(1 * time.Second)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tick.C:
				report()
			}
		}
	})

	err := grp.Wait()
	report()
	return err
}

// shutdown closes the PRBS stream and the register space.
func (app *app) shutdown() error {
	if app.stream != nil {
		err := app.stream.Close()
		app.stream = nil
		if err != nil {
			return fmt.Errorf("could not close PRBS stream: %w", err)
		}
	}
	if app.dev == nil {
		return nil
	}
	err := app.dev.Close()
	app.dev = nil
	if err != nil {
		return fmt.Errorf("could not close device: %w", err)
	}
	return nil
}

func run(cfg transport.Config, fcfg fpga.Config, cmds, mon string, freq time.Duration, stop chan os.Signal) error {
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	if mon != "" {
		kill, err := startMonitor(mon, freq)
		if err != nil {
			return err
		}
		defer kill()
	}

	app := newApp(cfg, fcfg, os.Stdout)
	err := app.init()
	if err != nil {
		return fmt.Errorf("could not initialize devboard: %w", err)
	}
	defer func() {
		err := app.shutdown()
		if err != nil {
			log.Printf("%+v", err)
		}
	}()

	var (
		p      prompter
		script = cmds != ""
	)
	switch {
	case script:
		p = newScript(strings.NewReader(strings.ReplaceAll(cmds, ";", "\n")))
	default:
		p = newLiner()
	}
	defer p.Close()

	err = app.loop(p, script, stop)
	if err != nil {
		return err
	}

	return app.shutdown()
}

func startMonitor(fname string, freq time.Duration) (func(), error) {
	pid := os.Getpid()
	p, err := pmon.Monitor(pid)
	if err != nil {
		return nil, fmt.Errorf("could not start monitoring (pid=%d): %w", pid, err)
	}
	f, err := os.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			log.Printf("could not run pmon: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop monitoring: %+v", err)
		}
		err = f.Close()
		if err != nil {
			log.Printf("could not close pmon log file: %+v", err)
		}
	}, nil
}
