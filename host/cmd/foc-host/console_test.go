package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"gofoc/core"
	"gofoc/protocol"
)

type fakeDrive struct {
	calls  []string
	mode   core.Mode
	target float32
	raw    []int32
	err    error
}

func (d *fakeDrive) record(name string) error {
	d.calls = append(d.calls, name)
	return d.err
}

func (d *fakeDrive) Status(context.Context) (protocol.StatusReport, error) {
	return protocol.StatusReport{Mode: uint8(core.ModeSpeed), Armed: true, Speed: 4.5}, d.record("status")
}

func (d *fakeDrive) SetMode(_ context.Context, m core.Mode) error {
	d.mode = m
	return d.record("set_mode")
}

func (d *fakeDrive) SetTarget(_ context.Context, v float32) error {
	d.target = v
	return d.record("set_target")
}

func (d *fakeDrive) Arm(context.Context) error             { return d.record("arm") }
func (d *fakeDrive) Disarm(context.Context) error          { return d.record("disarm") }
func (d *fakeDrive) CalibrateZero(context.Context) error   { return d.record("calibrate_zero") }
func (d *fakeDrive) SaveCalibration(context.Context) error { return d.record("save_calibration") }

func (d *fakeDrive) Identify(context.Context) (string, error) {
	return "3 arm\n4 disarm\n", d.record("identify")
}

func (d *fakeDrive) Command(_ context.Context, name string, args ...int32) error {
	d.raw = args
	return d.record("raw " + name)
}

func TestConsoleCommands(t *testing.T) {
	d := &fakeDrive{}
	var out bytes.Buffer
	c := &console{drive: d, out: &out}
	ctx := context.Background()

	lines := []string{
		"mode current",
		"target -1.5",
		"arm",
		"disarm",
		"calibrate",
		"save",
		`raw "set_target" 0x10 -3`,
		"",
	}
	for _, line := range lines {
		if err := c.exec(ctx, line); err != nil {
			t.Fatalf("%q: %v", line, err)
		}
	}

	want := []string{"set_mode", "set_target", "arm", "disarm", "calibrate_zero", "save_calibration", "raw set_target"}
	if strings.Join(d.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls %v, want %v", d.calls, want)
	}
	if d.mode != core.ModeCurrent || d.target != -1.5 {
		t.Errorf("mode %v target %v", d.mode, d.target)
	}
	if len(d.raw) != 2 || d.raw[0] != 16 || d.raw[1] != -3 {
		t.Errorf("raw args %v", d.raw)
	}
}

func TestConsoleStatus(t *testing.T) {
	var out bytes.Buffer
	c := &console{drive: &fakeDrive{}, out: &out}
	if err := c.exec(context.Background(), "status"); err != nil {
		t.Fatal(err)
	}
	if s := out.String(); !strings.Contains(s, "mode=speed") || !strings.Contains(s, "speed=4.500") {
		t.Errorf("status output %q", s)
	}
}

func TestConsoleErrors(t *testing.T) {
	d := &fakeDrive{}
	c := &console{drive: d, out: &bytes.Buffer{}}
	ctx := context.Background()

	for _, line := range []string{"mode", "mode warp", "target x", "raw", "raw arm 1.5", "fly", `target "unterminated`} {
		if err := c.exec(ctx, line); err == nil {
			t.Errorf("%q accepted", line)
		}
	}
	if len(d.calls) != 0 {
		t.Errorf("drive called on bad input: %v", d.calls)
	}

	if err := c.exec(ctx, "quit"); !errors.Is(err, errQuit) {
		t.Errorf("quit returned %v", err)
	}

	d.err = errors.New("link down")
	if err := c.exec(ctx, "arm"); err != d.err {
		t.Errorf("drive error not returned: %v", err)
	}
}

func TestConsoleDict(t *testing.T) {
	d := &fakeDrive{}
	var out bytes.Buffer
	c := &console{drive: d, out: &out}
	if err := c.exec(context.Background(), "dict"); err != nil {
		t.Fatal(err)
	}
	if out.String() != "  3 arm\n  4 disarm\n" {
		t.Errorf("output %q", out.String())
	}
}
