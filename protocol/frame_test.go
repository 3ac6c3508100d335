package protocol

import (
	"bytes"
	"testing"
)

type frameSink struct {
	frames [][]byte
}

func (s *frameSink) handle(payload []byte) {
	s.frames = append(s.frames, append([]byte(nil), payload...))
}

func encodeTestMessage(t *testing.T, id uint16, args ...int32) []byte {
	t.Helper()
	out := NewScratchOutput()
	if err := EncodeMessage(out, id, args...); err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	return append([]byte(nil), out.Result()...)
}

func TestFrameLayout(t *testing.T) {
	frame := encodeTestMessage(t, MsgSetTarget, 1500)

	if int(frame[0]) != len(frame) {
		t.Errorf("length byte %d, frame is %d bytes", frame[0], len(frame))
	}
	if frame[len(frame)-1] != MessageValueSync {
		t.Errorf("frame does not end with sync byte")
	}
	crc := CRC16(frame[:len(frame)-MessageTrailerSize])
	if frame[len(frame)-3] != byte(crc>>8) || frame[len(frame)-2] != byte(crc) {
		t.Errorf("trailer CRC mismatch")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	sink := &frameSink{}
	dec := NewFrameDecoder(sink.handle)

	dec.Feed(encodeTestMessage(t, MsgSetTarget, -2500))
	dec.Feed(encodeTestMessage(t, MsgArm))

	if len(sink.frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(sink.frames))
	}

	data := sink.frames[0]
	id, err := DecodeVLQUint(&data)
	if err != nil || uint16(id) != MsgSetTarget {
		t.Fatalf("first frame id %d err %v", id, err)
	}
	v, err := DecodeVLQInt(&data)
	if err != nil || v != -2500 {
		t.Errorf("argument %d err %v, want -2500", v, err)
	}

	data = sink.frames[1]
	id, _ = DecodeVLQUint(&data)
	if uint16(id) != MsgArm {
		t.Errorf("second frame id %d, want %d", id, MsgArm)
	}
	if dec.Dropped() != 0 {
		t.Errorf("dropped %d, want 0", dec.Dropped())
	}
}

func TestFrameSplitAcrossFeeds(t *testing.T) {
	sink := &frameSink{}
	dec := NewFrameDecoder(sink.handle)

	frame := encodeTestMessage(t, MsgSetMode, 3)
	for i := range frame {
		dec.Feed(frame[i : i+1])
	}

	if len(sink.frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(sink.frames))
	}
}

func TestFrameResyncAfterGarbage(t *testing.T) {
	sink := &frameSink{}
	dec := NewFrameDecoder(sink.handle)

	stream := []byte{0x01, 0x02, MessageValueSync}
	stream = append(stream, encodeTestMessage(t, MsgDisarm)...)
	dec.Feed(stream)

	if len(sink.frames) != 1 {
		t.Fatalf("expected 1 frame after resync, got %d", len(sink.frames))
	}
	if dec.Dropped() != 1 {
		t.Errorf("dropped %d, want 1", dec.Dropped())
	}
}

func TestFrameBadCRCDropped(t *testing.T) {
	sink := &frameSink{}
	dec := NewFrameDecoder(sink.handle)

	bad := encodeTestMessage(t, MsgSetTarget, 10)
	bad[2] ^= 0x01
	good := encodeTestMessage(t, MsgGetStatus)

	dec.Feed(append(bad, good...))

	if len(sink.frames) != 1 {
		t.Fatalf("expected only the good frame, got %d", len(sink.frames))
	}
	data := sink.frames[0]
	id, _ := DecodeVLQUint(&data)
	if uint16(id) != MsgGetStatus {
		t.Errorf("frame id %d, want %d", id, MsgGetStatus)
	}
	if dec.Dropped() == 0 {
		t.Errorf("corrupted frame was not counted")
	}
}

func TestFrameTooLong(t *testing.T) {
	out := NewScratchOutput()
	payload := bytes.Repeat([]byte{1}, MessageLengthMax)
	if err := EncodeFrame(out, payload); err != ErrFrameTooLong {
		t.Errorf("expected ErrFrameTooLong, got %v", err)
	}
	if out.CurPosition() != 0 {
		t.Errorf("rejected frame wrote %d bytes", out.CurPosition())
	}
}

func TestStatusRoundTrip(t *testing.T) {
	in := StatusReport{
		Mode:       2,
		Armed:      true,
		Position:   12.345,
		Speed:      -50.5,
		Id:         0.012,
		Iq:         1.5,
		Vd:         -0.25,
		Vq:         3.125,
		BusVoltage: 24.1,
		Ticks:      123456,
	}

	sink := &frameSink{}
	dec := NewFrameDecoder(sink.handle)
	out := NewScratchOutput()
	if err := EncodeStatus(out, in); err != nil {
		t.Fatalf("EncodeStatus: %v", err)
	}
	dec.Feed(out.Result())
	if len(sink.frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(sink.frames))
	}

	data := sink.frames[0]
	id, _ := DecodeVLQUint(&data)
	if uint16(id) != MsgStatus {
		t.Fatalf("frame id %d, want %d", id, MsgStatus)
	}
	got, err := DecodeStatus(&data)
	if err != nil {
		t.Fatalf("DecodeStatus: %v", err)
	}

	if got.Mode != in.Mode || got.Armed != in.Armed || got.Ticks != in.Ticks {
		t.Errorf("header fields mismatch: %+v", got)
	}
	near := func(a, b float32) bool {
		d := a - b
		return d < 0.001 && d > -0.001
	}
	if !near(got.Position, in.Position) || !near(got.Speed, in.Speed) ||
		!near(got.Iq, in.Iq) || !near(got.BusVoltage, in.BusVoltage) {
		t.Errorf("value fields mismatch: %+v", got)
	}
}

func TestMessageName(t *testing.T) {
	if MessageName(MsgSetTarget) != "set_target" {
		t.Errorf("got %q", MessageName(MsgSetTarget))
	}
	if MessageName(0xFFFF) != "unknown" {
		t.Errorf("unknown id not reported")
	}
}

func TestIdentifyResponseRoundTrip(t *testing.T) {
	out := NewScratchOutput()
	chunk := []byte{0x78, 0x9C, 0x01, 0x00, 0x7E}
	if err := EncodeIdentifyResponse(out, 80, chunk); err != nil {
		t.Fatalf("EncodeIdentifyResponse: %v", err)
	}

	var sink frameSink
	dec := NewFrameDecoder(sink.handle)
	dec.Feed(out.Result())
	if len(sink.frames) != 1 {
		t.Fatalf("decoded %d frames, want 1", len(sink.frames))
	}
	data := sink.frames[0]
	id, _ := DecodeVLQUint(&data)
	if uint16(id) != MsgIdentifyResponse {
		t.Fatalf("frame id %d, want %d", id, MsgIdentifyResponse)
	}
	offset, got, err := DecodeIdentifyResponse(&data)
	if err != nil {
		t.Fatalf("DecodeIdentifyResponse: %v", err)
	}
	if offset != 80 || !bytes.Equal(got, chunk) {
		t.Errorf("got offset %d data %x", offset, got)
	}
}

func TestDecodeVLQBytesShort(t *testing.T) {
	out := NewScratchOutput()
	EncodeVLQUint(out, 10)
	out.Output([]byte{1, 2, 3})
	data := out.Result()
	if _, err := DecodeVLQBytes(&data); err != ErrBytesTooLong {
		t.Errorf("expected ErrBytesTooLong, got %v", err)
	}
}
