package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"gofoc/core"
	"gofoc/protocol"
)

var errQuit = errors.New("quit")

// drive is the link surface the console drives.
type drive interface {
	Status(ctx context.Context) (protocol.StatusReport, error)
	SetMode(ctx context.Context, m core.Mode) error
	SetTarget(ctx context.Context, v float32) error
	Arm(ctx context.Context) error
	Disarm(ctx context.Context) error
	CalibrateZero(ctx context.Context) error
	SaveCalibration(ctx context.Context) error
	Command(ctx context.Context, name string, args ...int32) error
	Identify(ctx context.Context) (string, error)
}

type console struct {
	drive drive
	out   io.Writer
}

// exec runs one console line.
func (c *console) exec(ctx context.Context, line string) error {
	words, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return nil
	}
	cmd, args := words[0], words[1:]

	switch cmd {
	case "quit", "exit", "q":
		return errQuit

	case "help", "?":
		c.help()
		return nil

	case "dict":
		dict, err := c.drive.Identify(ctx)
		if err != nil {
			return err
		}
		for _, line := range strings.Split(strings.TrimRight(dict, "\n"), "\n") {
			fmt.Fprintf(c.out, "  %s\n", line)
		}
		return nil

	case "status", "s":
		st, err := c.drive.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "mode=%s armed=%t position=%.3f speed=%.3f id=%.3f iq=%.3f vd=%.3f vq=%.3f vbus=%.2f ticks=%d\n",
			core.Mode(st.Mode), st.Armed, st.Position, st.Speed, st.Id, st.Iq, st.Vd, st.Vq, st.BusVoltage, st.Ticks)
		return nil

	case "mode":
		if len(args) != 1 {
			return fmt.Errorf("usage: mode angle|speed|current")
		}
		var m core.Mode
		if err := m.UnmarshalText([]byte(args[0])); err != nil {
			return err
		}
		return c.drive.SetMode(ctx, m)

	case "target", "t":
		if len(args) != 1 {
			return fmt.Errorf("usage: target <value>")
		}
		v, err := strconv.ParseFloat(args[0], 32)
		if err != nil {
			return err
		}
		return c.drive.SetTarget(ctx, float32(v))

	case "arm":
		return c.drive.Arm(ctx)

	case "disarm":
		return c.drive.Disarm(ctx)

	case "calibrate":
		fmt.Fprintln(c.out, "aligning rotor...")
		if err := c.drive.CalibrateZero(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "calibrated; 'save' to persist")
		return nil

	case "save":
		return c.drive.SaveCalibration(ctx)

	case "raw":
		if len(args) == 0 {
			return fmt.Errorf("usage: raw <name> [args...]")
		}
		vals := make([]int32, 0, len(args)-1)
		for _, a := range args[1:] {
			v, err := strconv.ParseInt(a, 0, 32)
			if err != nil {
				return err
			}
			vals = append(vals, int32(v))
		}
		return c.drive.Command(ctx, args[0], vals...)
	}
	return fmt.Errorf("unknown command %q (type 'help')", cmd)
}

func (c *console) help() {
	fmt.Fprintln(c.out, "Available commands:")
	fmt.Fprintln(c.out, "  status              - Show drive telemetry")
	fmt.Fprintln(c.out, "  mode <m>            - angle, speed or current")
	fmt.Fprintln(c.out, "  target <v>          - Setpoint in rad, rad/s or A")
	fmt.Fprintln(c.out, "  arm / disarm        - Enable or disable the loops")
	fmt.Fprintln(c.out, "  calibrate           - Find encoder zero (disarmed)")
	fmt.Fprintln(c.out, "  save                - Persist calibration (disarmed)")
	fmt.Fprintln(c.out, "  raw <name> [args]   - Send a message by name")
	fmt.Fprintln(c.out, "  dict                - Fetch the drive dictionary")
	fmt.Fprintln(c.out, "  quit/exit/q         - Exit the program")
}
