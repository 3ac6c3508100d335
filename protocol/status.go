package protocol

// StatusReport is the wire form of the drive telemetry snapshot.
type StatusReport struct {
	Mode       uint8   `json:"mode"`
	Armed      bool    `json:"armed"`
	Position   float32 `json:"position"`
	Speed      float32 `json:"speed"`
	Id         float32 `json:"id"`
	Iq         float32 `json:"iq"`
	Vd         float32 `json:"vd"`
	Vq         float32 `json:"vq"`
	BusVoltage float32 `json:"vbus"`
	Ticks      uint32  `json:"ticks"`
}

// EncodeStatus frames a MsgStatus message.
func EncodeStatus(output OutputBuffer, s StatusReport) error {
	armed := int32(0)
	if s.Armed {
		armed = 1
	}
	return EncodeMessage(output, MsgStatus,
		int32(s.Mode),
		armed,
		ToMilli(s.Position),
		ToMilli(s.Speed),
		ToMilli(s.Id),
		ToMilli(s.Iq),
		ToMilli(s.Vd),
		ToMilli(s.Vq),
		ToMilli(s.BusVoltage),
		int32(s.Ticks),
	)
}

// DecodeStatus decodes the arguments of a MsgStatus payload whose id has
// already been consumed.
func DecodeStatus(data *[]byte) (StatusReport, error) {
	var v [10]int32
	for i := range v {
		x, err := DecodeVLQInt(data)
		if err != nil {
			return StatusReport{}, err
		}
		v[i] = x
	}
	return StatusReport{
		Mode:       uint8(v[0]),
		Armed:      v[1] != 0,
		Position:   FromMilli(v[2]),
		Speed:      FromMilli(v[3]),
		Id:         FromMilli(v[4]),
		Iq:         FromMilli(v[5]),
		Vd:         FromMilli(v[6]),
		Vq:         FromMilli(v[7]),
		BusVoltage: FromMilli(v[8]),
		Ticks:      uint32(v[9]),
	}, nil
}
