package core

import (
	"gofoc/protocol"
)

// BindCommands installs the drive command set for ctrl. settle is handed
// to CalibrateZero and must return once the rotor has come to rest.
func BindCommands(reg *CommandRegistry, ctrl *Controller, settle func()) {
	register := func(id uint16, handler CommandHandler) {
		name := protocol.MessageName(id)
		format := protocol.MessageFormats[id]
		if len(format) > len(name) {
			format = format[len(name)+1:]
		} else {
			format = ""
		}
		reg.Register(id, name, format, handler)
	}

	register(protocol.MsgAck, nil)
	register(protocol.MsgStatus, nil)
	register(protocol.MsgIdentifyResponse, nil)

	register(protocol.MsgIdentify, func(data *[]byte, resp protocol.OutputBuffer) error {
		offset, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		count, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		return identify(resp, reg.CompressedDictionary(), offset, count)
	})

	register(protocol.MsgSetMode, func(data *[]byte, resp protocol.OutputBuffer) error {
		mode, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		if mode > 0xFF {
			err = ErrInvalidMode
		} else {
			err = ctrl.SetMode(Mode(mode))
		}
		return ack(resp, protocol.MsgSetMode, err)
	})

	register(protocol.MsgSetTarget, func(data *[]byte, resp protocol.OutputBuffer) error {
		milli, err := protocol.DecodeVLQInt(data)
		if err != nil {
			return err
		}
		ctrl.SetTarget(protocol.FromMilli(milli))
		return ack(resp, protocol.MsgSetTarget, nil)
	})

	register(protocol.MsgArm, func(data *[]byte, resp protocol.OutputBuffer) error {
		return ack(resp, protocol.MsgArm, ctrl.Arm())
	})

	register(protocol.MsgDisarm, func(data *[]byte, resp protocol.OutputBuffer) error {
		return ack(resp, protocol.MsgDisarm, ctrl.Disarm())
	})

	register(protocol.MsgCalibrateZero, func(data *[]byte, resp protocol.OutputBuffer) error {
		return ack(resp, protocol.MsgCalibrateZero, ctrl.CalibrateZero(settle))
	})

	register(protocol.MsgSaveCalibration, func(data *[]byte, resp protocol.OutputBuffer) error {
		return ack(resp, protocol.MsgSaveCalibration, ctrl.SaveCalibration())
	})

	register(protocol.MsgGetStatus, func(data *[]byte, resp protocol.OutputBuffer) error {
		return protocol.EncodeStatus(resp, ctrl.Status().Report())
	})
}

// identify answers with up to count bytes of dict starting at offset. An
// offset at or past the end yields an empty chunk.
func identify(resp protocol.OutputBuffer, dict []byte, offset, count uint32) error {
	if count > protocol.IdentifyChunkMax {
		count = protocol.IdentifyChunkMax
	}
	var chunk []byte
	if uint64(offset) < uint64(len(dict)) {
		chunk = dict[offset:]
		if uint32(len(chunk)) > count {
			chunk = chunk[:count]
		}
	}
	return protocol.EncodeIdentifyResponse(resp, offset, chunk)
}

// ack answers a command. Controller errors become ack codes; only encoding
// errors are returned.
func ack(resp protocol.OutputBuffer, cmd uint16, err error) error {
	code := int32(protocol.AckOK)
	switch err {
	case nil:
	case ErrArmed:
		code = protocol.AckArmed
	default:
		code = protocol.AckError
		DebugPrintln("[CMD] " + protocol.MessageName(cmd) + ": " + err.Error())
	}
	return protocol.EncodeMessage(resp, protocol.MsgAck, int32(cmd), code)
}
