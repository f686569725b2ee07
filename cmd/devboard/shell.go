// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/go-lpc/devboard/fpga"
	"github.com/peterh/liner"
)

var errAborted = errors.New("devboard: prompt aborted")

type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

type linerPrompter struct {
	s *liner.State
}

func newLiner() *linerPrompter {
	s := liner.NewLiner()
	s.SetCtrlCAborts(true)
	s.SetCompleter(complete)
	return &linerPrompter{s: s}
}

func (p *linerPrompter) Prompt(prompt string) (string, error) {
	line, err := p.s.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", errAborted
	}
	return line, err
}

func (p *linerPrompter) AppendHistory(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	p.s.AppendHistory(line)
}

func (p *linerPrompter) Close() error { return p.s.Close() }

// scriptPrompter reads commands from a reader, one per line.
type scriptPrompter struct {
	sc *bufio.Scanner
}

func newScript(r io.Reader) *scriptPrompter {
	return &scriptPrompter{sc: bufio.NewScanner(r)}
}

func (p *scriptPrompter) Prompt(string) (string, error) {
	if p.sc.Scan() {
		return strings.TrimSpace(p.sc.Text()), nil
	}
	err := p.sc.Err()
	if err == nil {
		err = io.EOF
	}
	return "", err
}

func (p *scriptPrompter) AppendHistory(string) {}
func (p *scriptPrompter) Close() error        { return nil }

var builtins = []struct {
	name string
	args string
	desc string
}{
	{"help", "", "print this help message"},
	{"tree", "", "print the register map"},
	{"version", "", "read the identification registers"},
	{"read", "<addr>", "read the 32-bit register at the bus address addr"},
	{"write", "<addr> <val>", "write val to the 32-bit register at the bus address addr"},
	{"varRateTest", "", "read the scratch pad register until interrupted"},
	{"rawRateTest", "", "raw-read the scratch pad register until interrupted"},
	{"prbsRx", "[n]", "check n frames of the PRBS stream channel (n<1: until interrupted)"},
	{"quit", "", "close the device and exit"},
}

func complete(line string) []string {
	var names []string
	for _, cmd := range builtins {
		names = append(names, cmd.name)
	}
	for _, sm := range []string{fpga.NameSharedMem, fpga.NameTestEmptyMem} {
		for _, cmd := range []string{"rawBurstWriteTest", "rawBurstReadTest"} {
			names = append(names, sm+"."+cmd)
		}
	}
	names = append(names, "rawBurstWriteTest", "rawBurstReadTest")
	sort.Strings(names)

	var out []string
	for _, name := range names {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	return out
}

// exec runs a single command line.
// Block commands without a block prefix run on the MbSharedMem block.
func (app *app) exec(ctx context.Context, line string) (bool, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}

	name := args[0]
	args = args[1:]
	switch name {
	case "quit", "exit":
		return true, nil

	case "help":
		return false, app.help()

	case "tree":
		return false, app.dev.DumpTree(app.out)

	case "version":
		return false, app.dev.ReadAll(app.out)

	case "read":
		if len(args) != 1 {
			return false, fmt.Errorf("read: invalid number of arguments (got=%d, want=1)", len(args))
		}
		addr, err := parseUint(args[0], 64)
		if err != nil {
			return false, fmt.Errorf("read: invalid address: %w", err)
		}
		win, off, err := app.dev.Lookup(int64(addr))
		if err != nil {
			return false, err
		}
		v, err := win.ReadU32(off)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(app.out, "%s[0x%x]= 0x%08x\n", win.Name(), off, v)
		return false, nil

	case "write":
		if len(args) != 2 {
			return false, fmt.Errorf("write: invalid number of arguments (got=%d, want=2)", len(args))
		}
		addr, err := parseUint(args[0], 64)
		if err != nil {
			return false, fmt.Errorf("write: invalid address: %w", err)
		}
		val, err := parseUint(args[1], 32)
		if err != nil {
			return false, fmt.Errorf("write: invalid value: %w", err)
		}
		win, off, err := app.dev.Lookup(int64(addr))
		if err != nil {
			return false, err
		}
		return false, win.WriteU32(off, uint32(val))

	case "varRateTest":
		n, err := app.dev.VarRateTest(ctx, app.out)
		app.msg.Printf("varRateTest: %d reads", n)
		return false, err

	case "rawRateTest":
		n, err := app.dev.RawRateTest(ctx, app.out)
		app.msg.Printf("rawRateTest: %d reads", n)
		return false, err

	case "prbsRx":
		n := 0
		if len(args) > 0 {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return false, fmt.Errorf("prbsRx: invalid frame count: %w", err)
			}
			n = v
		}
		return false, app.prbsRx(ctx, n)
	}

	full := name
	if !strings.Contains(full, ".") {
		full = fpga.NameSharedMem + "." + full
	}
	for _, cmd := range app.dev.Commands() {
		if cmd.Name != full {
			continue
		}
		arg := 0
		if len(args) > 0 {
			v, err := strconv.ParseInt(args[0], 0, 64)
			if err != nil {
				return false, fmt.Errorf("%s: invalid argument: %w", full, err)
			}
			arg = int(v)
		}
		return false, cmd.Func(arg)
	}

	return false, fmt.Errorf("unknown command %q (see 'help')", name)
}

func (app *app) help() error {
	tw := tabwriter.NewWriter(app.out, 0, 8, 2, ' ', 0)
	for _, cmd := range builtins {
		fmt.Fprintf(tw, "  %s %s\t%s\n", cmd.name, cmd.args, cmd.desc)
	}
	for _, cmd := range app.dev.Commands() {
		fmt.Fprintf(tw, "  %s [n]\t%s\n", cmd.Name, cmd.Desc)
	}
	return tw.Flush()
}

func parseUint(s string, bits int) (uint64, error) {
	return strconv.ParseUint(s, 0, bits)
}
