package canbridge

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"go.einride.tech/can"

	"gofoc/protocol"
)

func TestStatusRoundTrip(t *testing.T) {
	in := protocol.StatusReport{
		Mode:       2,
		Armed:      true,
		Position:   -12.345,
		Speed:      250.5,
		Iq:         1.234,
		Id:         -0.05,
		BusVoltage: 24.37,
	}
	motion, electric := EncodeStatus(3, in)
	if motion.ID != 0x103 || electric.ID != 0x143 {
		t.Fatalf("ids %#x %#x", motion.ID, electric.ID)
	}
	out, err := DecodeStatus(motion, electric)
	if err != nil {
		t.Fatal(err)
	}
	if out.Mode != in.Mode || !out.Armed || out.Position != in.Position || out.Speed != in.Speed {
		t.Errorf("motion fields %+v", out)
	}
	if out.Iq != 1.234 || out.Id != -0.05 || out.BusVoltage != 24.37 {
		t.Errorf("electric fields %+v", out)
	}
}

func TestStatusSaturates(t *testing.T) {
	_, electric := EncodeStatus(0, protocol.StatusReport{Iq: 100, Id: -100, BusVoltage: -1})
	out, err := DecodeStatus(can.Frame{Length: 8}, electric)
	if err != nil {
		t.Fatal(err)
	}
	if out.Iq != 32.767 || out.Id != -32.768 || out.BusVoltage != 0 {
		t.Errorf("saturated %+v", out)
	}
}

func TestCommandRoundTrip(t *testing.T) {
	f := EncodeCommand(5, protocol.MsgSetTarget, -1500)
	id, arg, err := DecodeCommand(5, f)
	if err != nil {
		t.Fatal(err)
	}
	if id != protocol.MsgSetTarget || arg != -1500 {
		t.Errorf("decoded %d %d", id, arg)
	}
	if _, _, err := DecodeCommand(6, f); !errors.Is(err, ErrNotForNode) {
		t.Errorf("other node accepted frame: %v", err)
	}
	f.Length = 2
	if _, _, err := DecodeCommand(5, f); !errors.Is(err, ErrFrameShort) {
		t.Errorf("short frame: %v", err)
	}
}

type recordTx struct {
	frames []can.Frame
}

func (r *recordTx) TransmitFrame(_ context.Context, f can.Frame) error {
	r.frames = append(r.frames, f)
	return nil
}

type sliceRx struct {
	frames []can.Frame
	cur    can.Frame
}

func (s *sliceRx) Receive() bool {
	if len(s.frames) == 0 {
		return false
	}
	s.cur, s.frames = s.frames[0], s.frames[1:]
	return true
}

func (s *sliceRx) Frame() can.Frame { return s.cur }
func (s *sliceRx) Err() error       { return nil }

type call struct {
	id   uint16
	args []int32
}

type recordSender struct {
	calls []call
}

func (r *recordSender) Send(_ context.Context, id uint16, args ...int32) error {
	r.calls = append(r.calls, call{id, args})
	return nil
}

func TestPublishStatus(t *testing.T) {
	tx := &recordTx{}
	b := New(1, tx, &sliceRx{}, zerolog.Nop())
	if err := b.PublishStatus(context.Background(), protocol.StatusReport{Speed: 1}); err != nil {
		t.Fatal(err)
	}
	if len(tx.frames) != 2 || tx.frames[0].ID != 0x101 || tx.frames[1].ID != 0x141 {
		t.Errorf("frames %+v", tx.frames)
	}
}

func TestServeRelaysCommands(t *testing.T) {
	rx := &sliceRx{frames: []can.Frame{
		EncodeCommand(1, protocol.MsgSetMode, 2),
		EncodeCommand(2, protocol.MsgArm, 0), // other node
		{ID: 0x7FF, Length: 1},
		EncodeCommand(1, protocol.MsgSetTarget, 2500),
		EncodeCommand(1, protocol.MsgArm, 0),
	}}
	drive := &recordSender{}
	b := New(1, &recordTx{}, rx, zerolog.Nop())

	if err := b.Serve(context.Background(), drive); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if len(drive.calls) != 3 {
		t.Fatalf("%d commands relayed, want 3", len(drive.calls))
	}
	if c := drive.calls[0]; c.id != protocol.MsgSetMode || len(c.args) != 1 || c.args[0] != 2 {
		t.Errorf("set_mode relayed as %+v", c)
	}
	if c := drive.calls[1]; c.id != protocol.MsgSetTarget || c.args[0] != 2500 {
		t.Errorf("set_target relayed as %+v", c)
	}
	if c := drive.calls[2]; c.id != protocol.MsgArm || len(c.args) != 0 {
		t.Errorf("arm relayed as %+v", c)
	}
}
