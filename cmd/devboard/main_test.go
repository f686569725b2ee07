// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/go-lpc/devboard/fpga"
	"github.com/go-lpc/devboard/transport"
)

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	out := new(bytes.Buffer)
	app := newApp(transport.DefaultConfig(transport.Sim), fpga.Config{FPGAType: fpga.SevenSeries}, out)
	err := app.init()
	if err != nil {
		t.Fatalf("could not init app: %+v", err)
	}
	t.Cleanup(func() {
		err := app.shutdown()
		if err != nil {
			t.Errorf("could not shutdown app: %+v", err)
		}
	})
	return app, out
}

func TestExec(t *testing.T) {
	app, out := newTestApp(t)
	if !strings.Contains(out.String(), "AxiVersion.FpgaVersion=") {
		t.Fatalf("missing version registers after init:\n%s", out.String())
	}

	ctx := context.Background()
	for _, tc := range []struct {
		line string
		want string
		quit bool
	}{
		{line: "", want: ""},
		{line: "write 0x30010 0xcafe", want: ""},
		{line: "read 0x30010", want: "MbSharedMem[0x10]= 0x0000cafe\n"},
		{line: "write 4 42", want: ""},
		{line: "read 0x4", want: "AxiVersion[0x4]= 0x0000002a\n"},
		{line: "rawBurstWriteTest 10", want: "MbSharedMem.rawBurstWriteTest(8): 8\n"},
		{line: "MbSharedMem.rawBurstReadTest 10", want: "MbSharedMem.rawBurstReadTest(8): 8\n"},
		{line: "rawBurstWriteTest", want: "MbSharedMem.rawBurstWriteTest(16384): 16384\n"},
		{line: "TestEmptyMem.rawBurstReadTest 1", want: "TestEmptyMem.rawBurstReadTest(16384): 16384\n"},
		{line: "rawBurstReadTest 3", want: "MbSharedMem.rawBurstReadTest(0): 0\n"},
		{line: "prbsRx 10", want: "PrbsRx: frames=10, errors=0, bytes=10240\n"},
		{line: "prbsRx 5", want: "PrbsRx: frames=15, errors=0, bytes=15360\n"},
		{line: "quit", quit: true},
		{line: "exit", quit: true},
	} {
		t.Run(tc.line, func(t *testing.T) {
			out.Reset()
			quit, err := app.exec(ctx, tc.line)
			if err != nil {
				t.Fatalf("could not run %q: %+v", tc.line, err)
			}
			if quit != tc.quit {
				t.Fatalf("invalid quit status: got=%v, want=%v", quit, tc.quit)
			}
			if got, want := out.String(), tc.want; got != want {
				t.Fatalf("invalid output:\ngot= %q\nwant=%q", got, want)
			}
		})
	}

	for _, tc := range []struct {
		line string
		want string
	}{
		{"read", "read: invalid number of arguments (got=0, want=1)"},
		{"write 0x4", "write: invalid number of arguments (got=1, want=2)"},
		{"read xyz", `read: invalid address: strconv.ParseUint: parsing "xyz": invalid syntax`},
		{"write 0x4 0x1ffffffff", `write: invalid value: strconv.ParseUint: parsing "0x1ffffffff": value out of range`},
		{"read 0x60000", "fpga: address 0x60000 is not mapped"},
		{"rawBurstWriteTest abc", `MbSharedMem.rawBurstWriteTest: invalid argument: strconv.ParseInt: parsing "abc": invalid syntax`},
		{"rawBurstReadTest 0x7ffffffffffffffc", "fpga: could not read burst of 9223372036854775804 words: fpga: MbSharedMem: burst of 9223372036854775804 words exceeds block capacity of 16384 words"},
		{"TestEmptyMem.rawBurstWriteTest 0x7fffffffffffffff", "fpga: could not write burst of 9223372036854775804 words: fpga: TestEmptyMem: burst of 9223372036854775804 words exceeds block capacity of 536870912 words"},
		{"prbsRx x", `prbsRx: invalid frame count: strconv.Atoi: parsing "x": invalid syntax`},
		{"bogus 1 2", `unknown command "bogus" (see 'help')`},
		{"SsiPrbsTx.rawBurstWriteTest", `unknown command "SsiPrbsTx.rawBurstWriteTest" (see 'help')`},
	} {
		t.Run(tc.line, func(t *testing.T) {
			_, err := app.exec(ctx, tc.line)
			if err == nil || err.Error() != tc.want {
				t.Fatalf("invalid error:\ngot= %v\nwant=%s", err, tc.want)
			}
		})
	}

	out.Reset()
	_, err := app.exec(ctx, "help")
	if err != nil {
		t.Fatalf("could not run help: %+v", err)
	}
	for _, name := range []string{"tree", "varRateTest", "TestEmptyMem.rawBurstWriteTest [n]"} {
		if !strings.Contains(out.String(), name) {
			t.Fatalf("missing %q in help:\n%s", name, out.String())
		}
	}

	out.Reset()
	_, err = app.exec(ctx, "tree")
	if err != nil {
		t.Fatalf("could not run tree: %+v", err)
	}
	if !strings.Contains(out.String(), "Xadc ") {
		t.Fatalf("missing Xadc block in tree:\n%s", out.String())
	}
}

func TestExecInterrupt(t *testing.T) {
	app, out := newTestApp(t)

	for _, name := range []string{"varRateTest", "rawRateTest"} {
		t.Run(name, func(t *testing.T) {
			out.Reset()
			stop := make(chan os.Signal, 1)
			go func() {
				time.Sleep(1500 * time.Millisecond)
				stop <- os.Interrupt
			}()

			quit, err := app.execute(name, stop)
			if err != nil {
				t.Fatalf("could not run %s: %+v", name, err)
			}
			if !quit {
				t.Fatalf("signal should end the session")
			}
			if !strings.Contains(out.String(), "devboard: interrupted\n") {
				t.Fatalf("missing interrupt report:\n%s", out.String())
			}
			if !strings.Contains(out.String(), "Cnt=") {
				t.Fatalf("missing rate report:\n%s", out.String())
			}
			if !strings.Contains(out.String(), name+": ") {
				t.Fatalf("missing read count:\n%s", out.String())
			}
		})
	}
}

func TestLoop(t *testing.T) {
	app, out := newTestApp(t)

	out.Reset()
	p := newScript(strings.NewReader("rawBurstWriteTest 4\n\nbogus\nrawBurstReadTest 4\nquit\nrawBurstReadTest 8\n"))
	err := app.loop(p, false, make(chan os.Signal, 1))
	if err != nil {
		t.Fatalf("could not run shell: %+v", err)
	}
	want := "" +
		"MbSharedMem.rawBurstWriteTest(4): 4\n" +
		"devboard: unknown command \"bogus\" (see 'help')\n" +
		"MbSharedMem.rawBurstReadTest(4): 4\n"
	if got := out.String(); got != want {
		t.Fatalf("invalid output:\ngot:\n%s\nwant:\n%s", got, want)
	}

	p = newScript(strings.NewReader("rawBurstWriteTest 4\nbogus\nrawBurstReadTest 4\n"))
	err = app.loop(p, true, make(chan os.Signal, 1))
	if got, want := err, `could not run "bogus": unknown command "bogus" (see 'help')`; got == nil || got.Error() != want {
		t.Fatalf("invalid error:\ngot= %v\nwant=%s", got, want)
	}
}

func TestLoopSignal(t *testing.T) {
	app, out := newTestApp(t)

	for _, script := range []bool{true, false} {
		t.Run(fmt.Sprintf("script=%v", script), func(t *testing.T) {
			out.Reset()
			stop := make(chan os.Signal, 1)
			stop <- syscall.SIGTERM

			p := newScript(strings.NewReader("rawBurstWriteTest 4\n8\n12\n"))
			err := app.loop(p, script, stop)
			if err != nil {
				t.Fatalf("could not run shell: %+v", err)
			}
			if got, want := out.String(), "devboard: interrupted\n"; got != want {
				t.Fatalf("commands ran after signal:\ngot:\n%s\nwant:\n%s", got, want)
			}
		})
	}

	// a signal at the prompt ends the session.
	t.Run("prompt", func(t *testing.T) {
		out.Reset()
		stop := make(chan os.Signal, 1)
		p := &blockedPrompter{quit: make(chan struct{})}
		defer close(p.quit)

		errc := make(chan error, 1)
		go func() { errc <- app.loop(p, false, stop) }()
		stop <- syscall.SIGTERM

		select {
		case err := <-errc:
			if err != nil {
				t.Fatalf("could not run shell: %+v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("shell did not stop on signal")
		}
		if got, want := out.String(), "devboard: interrupted\n"; got != want {
			t.Fatalf("invalid output:\ngot= %q\nwant=%q", got, want)
		}
	})

	// a signal during a command ends the session once the command returns.
	t.Run("command", func(t *testing.T) {
		out.Reset()
		stop := make(chan os.Signal, 1)
		go func() {
			time.Sleep(1500 * time.Millisecond)
			stop <- syscall.SIGTERM
		}()

		p := newScript(strings.NewReader("varRateTest\nrawBurstWriteTest 4\n"))
		err := app.loop(p, true, stop)
		if err != nil {
			t.Fatalf("could not run shell: %+v", err)
		}
		if strings.Contains(out.String(), "rawBurstWriteTest") {
			t.Fatalf("command ran after signal:\n%s", out.String())
		}
		if !strings.HasSuffix(out.String(), "devboard: interrupted\n") {
			t.Fatalf("missing interrupt report:\n%s", out.String())
		}
	})
}

// blockedPrompter blocks until quit is closed, like an idle terminal.
type blockedPrompter struct {
	quit chan struct{}
}

func (p *blockedPrompter) Prompt(string) (string, error) {
	<-p.quit
	return "", io.EOF
}

func (p *blockedPrompter) AppendHistory(string) {}
func (p *blockedPrompter) Close() error         { return nil }

func TestRun(t *testing.T) {
	tmp := t.TempDir()
	for _, tc := range []struct {
		name string
		cfg  transport.Config
		cmds string
		mon  string
		err  string
	}{
		{
			name: "sim",
			cfg:  transport.DefaultConfig(transport.Sim),
			cmds: "version; rawBurstWriteTest; rawBurstReadTest; quit",
		},
		{
			name: "sim-pmon",
			cfg:  transport.DefaultConfig(transport.Sim),
			cmds: "version; TestEmptyMem.rawBurstWriteTest 16",
			mon:  filepath.Join(tmp, "devboard-pmon.log"),
		},
		{
			name: "sim-error",
			cfg:  transport.DefaultConfig(transport.Sim),
			cmds: "read 0x60000",
			err:  `could not run "read 0x60000": fpga: address 0x60000 is not mapped`,
		},
		{
			name: "invalid-type",
			cfg:  transport.DefaultConfig("usb"),
			cmds: "quit",
			err:  "could not initialize devboard: could not open usb link: transport: invalid type (usb)",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fcfg := fpga.Config{CommType: tc.cfg.Type}
			err := run(tc.cfg, fcfg, tc.cmds, tc.mon, 10*time.Millisecond, make(chan os.Signal, 1))
			switch {
			case err != nil && tc.err != "":
				if got, want := err.Error(), tc.err; got != want {
					t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
				}
				return
			case err != nil:
				t.Fatalf("could not run devboard: %+v", err)
			case tc.err != "":
				t.Fatalf("expected an error (%s)", tc.err)
			}

			if tc.mon != "" {
				_, err := os.Stat(tc.mon)
				if err != nil {
					t.Fatalf("missing pmon log file: %+v", err)
				}
			}
		})
	}
}
