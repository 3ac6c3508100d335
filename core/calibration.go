package core

import (
	"encoding/binary"
	"errors"
	"math"

	"gofoc/protocol"
)

var ErrNoCalibration = errors.New("no valid calibration record")

// CalibrationSize is the encoded size of a Calibration record.
const CalibrationSize = 16

var calibrationMagic = [4]byte{'F', 'O', 'C', '1'}

// Calibration is the persisted encoder alignment.
//
// Layout, little endian:
//
//	0  magic "FOC1"
//	4  zero offset, float32 radians
//	8  pole pairs, uint8
//	9  direction, int8 (+1 or -1)
//	10 reserved
//	14 CRC16 of bytes 0..13
type Calibration struct {
	ZeroOffset float32
	PolePairs  uint8
	Direction  int8
}

// DefaultCalibration is used when nothing valid is stored.
func DefaultCalibration(polePairs int) Calibration {
	return Calibration{PolePairs: uint8(polePairs), Direction: 1}
}

// MarshalBinary encodes the record.
func (c Calibration) MarshalBinary() ([]byte, error) {
	buf := make([]byte, CalibrationSize)
	copy(buf[0:4], calibrationMagic[:])
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(c.ZeroOffset))
	buf[8] = c.PolePairs
	buf[9] = byte(c.Direction)
	binary.LittleEndian.PutUint16(buf[14:16], protocol.CRC16(buf[:14]))
	return buf, nil
}

// UnmarshalBinary decodes a record. Erased flash, a bad magic or a CRC
// mismatch all report ErrNoCalibration.
func (c *Calibration) UnmarshalBinary(buf []byte) error {
	if len(buf) < CalibrationSize {
		return ErrNoCalibration
	}
	if [4]byte(buf[0:4]) != calibrationMagic {
		return ErrNoCalibration
	}
	if binary.LittleEndian.Uint16(buf[14:16]) != protocol.CRC16(buf[:14]) {
		return ErrNoCalibration
	}
	dir := int8(buf[9])
	if dir != 1 && dir != -1 {
		return ErrNoCalibration
	}
	*c = Calibration{
		ZeroOffset: math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8])),
		PolePairs:  buf[8],
		Direction:  dir,
	}
	return nil
}

// LoadCalibration reads a record from store at offset.
func LoadCalibration(store ByteStore, offset uint32) (Calibration, error) {
	var buf [CalibrationSize]byte
	if err := store.Read(offset, buf[:]); err != nil {
		return Calibration{}, err
	}
	var c Calibration
	if err := c.UnmarshalBinary(buf[:]); err != nil {
		return Calibration{}, err
	}
	return c, nil
}

// SaveCalibration writes a record to store at offset.
func SaveCalibration(store ByteStore, offset uint32, c Calibration) error {
	buf, _ := c.MarshalBinary()
	return store.Write(offset, buf)
}
