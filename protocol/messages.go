package protocol

import "math"

// Message ids shared by the drive firmware and host tools. Commands flow
// host → drive, Ack and Status flow drive → host.
const (
	MsgAck uint16 = iota
	MsgSetMode
	MsgSetTarget
	MsgArm
	MsgDisarm
	MsgCalibrateZero
	MsgSaveCalibration
	MsgGetStatus
	MsgStatus
	MsgIdentify
	MsgIdentifyResponse
)

// Ack codes carried by MsgAck.
const (
	AckOK      = 0
	AckError   = 1
	AckArmed   = 2
	AckUnknown = 3
)

// MessageFormats documents the argument layout of each message.
var MessageFormats = map[uint16]string{
	MsgAck:              "ack cmd=%hu code=%c",
	MsgSetMode:          "set_mode mode=%c",
	MsgSetTarget:        "set_target milli=%i",
	MsgArm:              "arm",
	MsgDisarm:           "disarm",
	MsgCalibrateZero:    "calibrate_zero",
	MsgSaveCalibration:  "save_calibration",
	MsgGetStatus:        "get_status",
	MsgStatus:           "status mode=%c armed=%c position=%i speed=%i id=%i iq=%i vd=%i vq=%i vbus=%i ticks=%u",
	MsgIdentify:         "identify offset=%u count=%c",
	MsgIdentifyResponse: "identify_response offset=%u data=%.*s",
}

// MessageName returns the first word of the message format.
func MessageName(id uint16) string {
	f, ok := MessageFormats[id]
	if !ok {
		return "unknown"
	}
	for i := 0; i < len(f); i++ {
		if f[i] == ' ' {
			return f[:i]
		}
	}
	return f
}

// ToMilli scales a physical value to the integer milli-units used on the wire.
func ToMilli(v float32) int32 {
	m := math.Round(float64(v) * 1000)
	if m > math.MaxInt32 {
		return math.MaxInt32
	}
	if m < math.MinInt32 {
		return math.MinInt32
	}
	return int32(m)
}

// FromMilli reverses ToMilli.
func FromMilli(m int32) float32 {
	return float32(m) / 1000
}
