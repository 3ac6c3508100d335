package protocol

import "errors"

// IdentifyChunkMax is the largest data block an identify_response carries.
const IdentifyChunkMax = 40

var ErrBytesTooLong = errors.New("byte string longer than remaining data")

// EncodeVLQBytes writes a length-prefixed byte string.
func EncodeVLQBytes(output OutputBuffer, b []byte) {
	EncodeVLQUint(output, uint32(len(b)))
	output.Output(b)
}

// DecodeVLQBytes reads a length-prefixed byte string. The result aliases
// data.
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	n, err := DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(len(*data)) {
		return nil, ErrBytesTooLong
	}
	b := (*data)[:n]
	*data = (*data)[n:]
	return b, nil
}

// EncodeIdentifyResponse frames one chunk of the compressed dictionary.
func EncodeIdentifyResponse(output OutputBuffer, offset uint32, chunk []byte) error {
	var payload ScratchOutput
	EncodeVLQUint(&payload, uint32(MsgIdentifyResponse))
	EncodeVLQUint(&payload, offset)
	EncodeVLQBytes(&payload, chunk)
	return EncodeFrame(output, payload.Result())
}

// DecodeIdentifyResponse decodes the arguments of a MsgIdentifyResponse
// payload whose id has already been consumed.
func DecodeIdentifyResponse(data *[]byte) (offset uint32, chunk []byte, err error) {
	if offset, err = DecodeVLQUint(data); err != nil {
		return 0, nil, err
	}
	chunk, err = DecodeVLQBytes(data)
	return offset, chunk, err
}
