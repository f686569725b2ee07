// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// AxiVersion register offsets.
const (
	RegFpgaVersion       = 0x000
	RegScratchPad        = 0x004
	RegUpTimeCnt         = 0x008
	RegFpgaReloadHalt    = 0x100
	RegFpgaReload        = 0x104
	RegFpgaReloadAddress = 0x108
	RegUserReset         = 0x10C
	RegFdSerial          = 0x300
	RegDeviceID          = 0x500
	RegGitHash           = 0x600
	RegDeviceDNA         = 0x700
	RegBuildStamp        = 0x800

	gitHashSize    = 160 / 8
	buildStampSize = 256
)

// AxiVersion gives access to the firmware identification registers.
type AxiVersion struct {
	win *Window
}

// VersionInfo holds the identification registers of the firmware.
type VersionInfo struct {
	FPGAVersion   uint32
	ScratchPad    uint32
	UpTime        time.Duration
	ReloadAddress uint32
	FdSerial      uint64
	DeviceID      uint32
	GitHash       string // 40 hexadecimal digits, most significant first
	DeviceDNA     uint64
	BuildStamp    string
}

// Window returns the register window of the block.
func (v *AxiVersion) Window() *Window { return v.win }

func (v *AxiVersion) FPGAVersion() (uint32, error) { return v.win.ReadU32(RegFpgaVersion) }
func (v *AxiVersion) ScratchPad() (uint32, error)  { return v.win.ReadU32(RegScratchPad) }
func (v *AxiVersion) DeviceID() (uint32, error)    { return v.win.ReadU32(RegDeviceID) }

func (v *AxiVersion) SetScratchPad(val uint32) error {
	return v.win.WriteU32(RegScratchPad, val)
}

// UpTime returns the time since the last FPGA reload.
func (v *AxiVersion) UpTime() (time.Duration, error) {
	cnt, err := v.win.ReadU32(RegUpTimeCnt)
	if err != nil {
		return 0, err
	}
	return time.Duration(cnt) * time.Second, nil
}

func (v *AxiVersion) FdSerial() (uint64, error) {
	return v.u64(RegFdSerial)
}

// DeviceDNA returns the low 64 bits of the device DNA.
func (v *AxiVersion) DeviceDNA() (uint64, error) {
	return v.u64(RegDeviceDNA)
}

func (v *AxiVersion) u64(off int64) (uint64, error) {
	raw, err := v.bytes(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(raw), nil
}

// GitHash returns the git commit of the firmware build.
func (v *AxiVersion) GitHash() (string, error) {
	raw, err := v.bytes(RegGitHash, gitHashSize)
	if err != nil {
		return "", err
	}
	for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
		raw[i], raw[j] = raw[j], raw[i]
	}
	return hex.EncodeToString(raw), nil
}

// BuildStamp returns the firmware build string.
func (v *AxiVersion) BuildStamp() (string, error) {
	raw, err := v.bytes(RegBuildStamp, buildStampSize)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw), nil
}

func (v *AxiVersion) bytes(off int64, n int) ([]byte, error) {
	vs, err := v.win.RawRead(off, n/4, 32, 4)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, n)
	for i, w := range vs {
		binary.LittleEndian.PutUint32(raw[4*i:], w)
	}
	return raw, nil
}

// Info reads all the identification registers.
func (v *AxiVersion) Info() (VersionInfo, error) {
	var (
		info VersionInfo
		err  error
	)
	read := func(f func() error) {
		if err != nil {
			return
		}
		err = f()
	}
	read(func() (err error) { info.FPGAVersion, err = v.FPGAVersion(); return err })
	read(func() (err error) { info.ScratchPad, err = v.ScratchPad(); return err })
	read(func() (err error) { info.UpTime, err = v.UpTime(); return err })
	read(func() (err error) { info.ReloadAddress, err = v.win.ReadU32(RegFpgaReloadAddress); return err })
	read(func() (err error) { info.FdSerial, err = v.FdSerial(); return err })
	read(func() (err error) { info.DeviceID, err = v.DeviceID(); return err })
	read(func() (err error) { info.GitHash, err = v.GitHash(); return err })
	read(func() (err error) { info.DeviceDNA, err = v.DeviceDNA(); return err })
	read(func() (err error) { info.BuildStamp, err = v.BuildStamp(); return err })
	if err != nil {
		return info, fmt.Errorf("fpga: could not read %s registers: %w", v.win.Name(), err)
	}
	return info, nil
}

// Dump writes the identification registers to w.
func (v *AxiVersion) Dump(w io.Writer) error {
	info, err := v.Info()
	if err != nil {
		return err
	}
	name := v.win.Name()
	fmt.Fprintf(w, "%s.FpgaVersion=       0x%08x\n", name, info.FPGAVersion)
	fmt.Fprintf(w, "%s.ScratchPad=        0x%08x\n", name, info.ScratchPad)
	fmt.Fprintf(w, "%s.UpTimeCnt=         %v\n", name, info.UpTime)
	fmt.Fprintf(w, "%s.FpgaReloadAddress= 0x%08x\n", name, info.ReloadAddress)
	fmt.Fprintf(w, "%s.FdSerial=          0x%016x\n", name, info.FdSerial)
	fmt.Fprintf(w, "%s.DeviceId=          0x%08x\n", name, info.DeviceID)
	fmt.Fprintf(w, "%s.GitHash=           %s\n", name, info.GitHash)
	fmt.Fprintf(w, "%s.DeviceDna=         0x%016x\n", name, info.DeviceDNA)
	fmt.Fprintf(w, "%s.BuildStamp=        %s\n", name, info.BuildStamp)
	return nil
}

// Load writes info into the identification registers.
// Most of them are read-only on real hardware: this is meant to
// populate simulated register spaces.
func (v *AxiVersion) Load(info VersionInfo) error {
	var (
		err error
		dna [8]byte
		ser [8]byte
	)
	write := func(off int64, raw []byte) {
		if err != nil {
			return
		}
		vs := make([]uint32, len(raw)/4)
		for i := range vs {
			vs[i] = binary.LittleEndian.Uint32(raw[4*i:])
		}
		err = v.win.RawWrite(off, vs, 32, 4)
	}
	u32 := func(off int64, val uint32) {
		var raw [4]byte
		binary.LittleEndian.PutUint32(raw[:], val)
		write(off, raw[:])
	}

	hash, herr := hex.DecodeString(info.GitHash)
	if herr != nil || len(hash) > gitHashSize {
		return fmt.Errorf("fpga: invalid git hash %q", info.GitHash)
	}
	githash := make([]byte, gitHashSize)
	for i, b := range hash {
		githash[len(hash)-1-i] = b
	}

	if len(info.BuildStamp) >= buildStampSize {
		return fmt.Errorf("fpga: build stamp too long (%d bytes)", len(info.BuildStamp))
	}
	stamp := make([]byte, buildStampSize)
	copy(stamp, info.BuildStamp)

	binary.LittleEndian.PutUint64(ser[:], info.FdSerial)
	binary.LittleEndian.PutUint64(dna[:], info.DeviceDNA)

	u32(RegFpgaVersion, info.FPGAVersion)
	u32(RegScratchPad, info.ScratchPad)
	u32(RegUpTimeCnt, uint32(info.UpTime/time.Second))
	u32(RegFpgaReloadAddress, info.ReloadAddress)
	write(RegFdSerial, ser[:])
	u32(RegDeviceID, info.DeviceID)
	write(RegGitHash, githash)
	write(RegDeviceDNA, dna[:])
	write(RegBuildStamp, stamp)
	if err != nil {
		return fmt.Errorf("fpga: could not load %s registers: %w", v.win.Name(), err)
	}
	return nil
}
