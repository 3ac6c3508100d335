package protocol

import (
	"bytes"
	"errors"
)

var ErrFrameTooLong = errors.New("frame payload too long")

// EncodeFrame appends one frame carrying payload to output.
func EncodeFrame(output OutputBuffer, payload []byte) error {
	size := len(payload) + MessageLengthMin
	if size > MessageLengthMax {
		return ErrFrameTooLong
	}
	start := output.CurPosition()
	output.Output([]byte{byte(size)})
	output.Output(payload)
	crc := CRC16(output.DataSince(start))
	output.Output([]byte{byte(crc >> 8), byte(crc), MessageValueSync})
	return nil
}

// EncodeMessage frames a message id followed by its VLQ arguments.
func EncodeMessage(output OutputBuffer, id uint16, args ...int32) error {
	var payload ScratchOutput
	EncodeVLQUint(&payload, uint32(id))
	for _, a := range args {
		EncodeVLQInt(&payload, a)
	}
	return EncodeFrame(output, payload.Result())
}

// FrameHandler receives the payload of each valid frame. The slice is only
// valid for the duration of the call.
type FrameHandler func(payload []byte)

// FrameDecoder splits a byte stream into frames. Bytes are accumulated
// across Feed calls; on a bad length, trailer or checksum the decoder drops
// its position and resynchronises on the next sync byte.
type FrameDecoder struct {
	handler FrameHandler
	buf     [MessageLengthMax * 4]byte
	n       int
	synced  bool
	dropped uint32
}

// NewFrameDecoder returns a decoder delivering frames to handler.
func NewFrameDecoder(handler FrameHandler) *FrameDecoder {
	return &FrameDecoder{handler: handler, synced: true}
}

// Feed consumes raw bytes from the link.
func (d *FrameDecoder) Feed(data []byte) {
	for len(data) > 0 {
		c := copy(d.buf[d.n:], data)
		d.n += c
		data = data[c:]
		d.process()
	}
}

// Dropped returns the number of resynchronisations so far.
func (d *FrameDecoder) Dropped() uint32 {
	return d.dropped
}

// Reset discards buffered bytes.
func (d *FrameDecoder) Reset() {
	d.n = 0
	d.synced = true
}

func (d *FrameDecoder) process() {
	pos := 0
	for pos < d.n {
		data := d.buf[pos:d.n]
		if !d.synced {
			i := bytes.IndexByte(data, MessageValueSync)
			if i < 0 {
				pos = d.n
				break
			}
			pos += i + 1
			d.synced = true
			continue
		}

		if data[0] == MessageValueSync {
			pos++
			continue
		}

		size := int(data[0])
		if size < MessageLengthMin || size > MessageLengthMax {
			d.desync()
			continue
		}
		if len(data) < size {
			break
		}
		if data[size-MessageTrailerSync] != MessageValueSync {
			d.desync()
			continue
		}
		crc := uint16(data[size-MessageTrailerCRC])<<8 | uint16(data[size-MessageTrailerCRC+1])
		if crc != CRC16(data[:size-MessageTrailerSize]) {
			d.desync()
			continue
		}

		pos += size
		if d.handler != nil {
			d.handler(data[MessageHeaderSize : size-MessageTrailerSize])
		}
	}
	d.n = copy(d.buf[:], d.buf[pos:d.n])
}

func (d *FrameDecoder) desync() {
	d.synced = false
	d.dropped++
}
