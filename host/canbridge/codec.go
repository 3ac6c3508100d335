// Package canbridge carries drive status and commands on a CAN bus.
package canbridge

import (
	"encoding/binary"
	"errors"
	"math"

	"go.einride.tech/can"

	"gofoc/protocol"
)

// Frame ids; the node id is added to each base.
const (
	StatusMotionBase   uint32 = 0x100 // position, speed: int32 milli-units
	StatusElectricBase uint32 = 0x140 // iq, id: int16 mA; vbus: uint16 10 mV; mode; flags
	CommandBase        uint32 = 0x200 // message id: uint8; pad; argument: int32 milli-units
)

const flagArmed = 1 << 0

var (
	ErrNotForNode = errors.New("frame not addressed to this node")
	ErrFrameShort = errors.New("frame too short")
)

// EncodeStatus splits a status report into its two frames.
func EncodeStatus(node uint8, st protocol.StatusReport) (motion, electric can.Frame) {
	motion.ID = StatusMotionBase + uint32(node)
	motion.Length = 8
	binary.LittleEndian.PutUint32(motion.Data[0:4], uint32(protocol.ToMilli(st.Position)))
	binary.LittleEndian.PutUint32(motion.Data[4:8], uint32(protocol.ToMilli(st.Speed)))

	electric.ID = StatusElectricBase + uint32(node)
	electric.Length = 8
	binary.LittleEndian.PutUint16(electric.Data[0:2], uint16(saturate16(st.Iq*1000)))
	binary.LittleEndian.PutUint16(electric.Data[2:4], uint16(saturate16(st.Id*1000)))
	binary.LittleEndian.PutUint16(electric.Data[4:6], uint16(clampU16(st.BusVoltage*100)))
	electric.Data[6] = st.Mode
	if st.Armed {
		electric.Data[7] |= flagArmed
	}
	return motion, electric
}

// DecodeStatus merges the two status frames of one node.
func DecodeStatus(motion, electric can.Frame) (protocol.StatusReport, error) {
	if motion.Length < 8 || electric.Length < 8 {
		return protocol.StatusReport{}, ErrFrameShort
	}
	return protocol.StatusReport{
		Position:   protocol.FromMilli(int32(binary.LittleEndian.Uint32(motion.Data[0:4]))),
		Speed:      protocol.FromMilli(int32(binary.LittleEndian.Uint32(motion.Data[4:8]))),
		Iq:         float32(int16(binary.LittleEndian.Uint16(electric.Data[0:2]))) / 1000,
		Id:         float32(int16(binary.LittleEndian.Uint16(electric.Data[2:4]))) / 1000,
		BusVoltage: float32(binary.LittleEndian.Uint16(electric.Data[4:6])) / 100,
		Mode:       electric.Data[6],
		Armed:      electric.Data[7]&flagArmed != 0,
	}, nil
}

// EncodeCommand builds a command frame for node.
func EncodeCommand(node uint8, id uint16, arg int32) can.Frame {
	f := can.Frame{ID: CommandBase + uint32(node), Length: 6}
	f.Data[0] = uint8(id)
	binary.LittleEndian.PutUint32(f.Data[2:6], uint32(arg))
	return f
}

// DecodeCommand extracts a command addressed to node.
func DecodeCommand(node uint8, f can.Frame) (id uint16, arg int32, err error) {
	if f.ID != CommandBase+uint32(node) || f.IsRemote || f.IsExtended {
		return 0, 0, ErrNotForNode
	}
	if f.Length < 6 {
		return 0, 0, ErrFrameShort
	}
	return uint16(f.Data[0]), int32(binary.LittleEndian.Uint32(f.Data[2:6])), nil
}

func saturate16(v float32) int16 {
	r := math.Round(float64(v))
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}

func clampU16(v float32) uint16 {
	r := math.Round(float64(v))
	if r > math.MaxUint16 {
		return math.MaxUint16
	}
	if r < 0 {
		return 0
	}
	return uint16(r)
}
