// Package mt6825 reads the MT6825 18-bit magnetic angle encoder over SPI.
package mt6825

import (
	"errors"

	"tinygo.org/x/drivers"
)

const (
	// Resolution is the number of counts per revolution
	Resolution = 1 << 18

	regAngleHigh = 0x03
	readBit      = 0x80
)

const twoPi = 6.283185307179586

var ErrNoMagnet = errors.New("mt6825: magnetic field too weak")

// ChipSelect drives the active-low CS line. machine.Pin satisfies it.
type ChipSelect interface {
	High()
	Low()
}

// Device is an MT6825 on a SPI bus. It implements core.AngleSensor.
type Device struct {
	bus drivers.SPI
	cs  ChipSelect

	// Invert reverses the counting direction
	Invert bool

	tx, rx [4]byte
	status byte
	last   float32
}

// New returns a Device; the bus must already be configured for SPI mode 3.
func New(bus drivers.SPI, cs ChipSelect) *Device {
	return &Device{bus: bus, cs: cs}
}

// Init deselects the chip and checks that a magnet is present.
func (d *Device) Init() error {
	d.cs.High()
	if _, err := d.ReadRaw(); err != nil {
		return err
	}
	if d.status&statusNoMagnet != 0 {
		return ErrNoMagnet
	}
	return nil
}

const (
	statusNoMagnet  = 1 << 1 // register 0x04 bit 1
	statusOverspeed = 1 << 3 // register 0x05 bit 3
)

// ReadRaw returns the 18-bit angle count.
func (d *Device) ReadRaw() (uint32, error) {
	d.tx = [4]byte{readBit | regAngleHigh}
	d.cs.Low()
	err := d.bus.Tx(d.tx[:], d.rx[:])
	d.cs.High()
	if err != nil {
		return 0, err
	}
	raw := Decode(d.rx[1], d.rx[2], d.rx[3])
	d.status = d.rx[2]&statusNoMagnet | d.rx[3]&statusOverspeed
	return raw, nil
}

// Decode assembles the angle from registers 0x03..0x05.
func Decode(r3, r4, r5 byte) uint32 {
	return uint32(r3)<<10 | uint32(r4>>2)<<4 | uint32(r5>>4)
}

// Angle converts a raw count to radians in [0, 2π).
func Angle(raw uint32, invert bool) float32 {
	raw &= Resolution - 1
	if invert && raw != 0 {
		raw = Resolution - raw
	}
	return float32(float64(raw) * twoPi / Resolution)
}

// ReadAngle returns the mechanical angle in radians. A failed transfer
// repeats the previous reading.
func (d *Device) ReadAngle() float32 {
	raw, err := d.ReadRaw()
	if err != nil {
		return d.last
	}
	d.last = Angle(raw, d.Invert)
	return d.last
}

// NoMagnet reports the field warning from the last read.
func (d *Device) NoMagnet() bool {
	return d.status&statusNoMagnet != 0
}

// Overspeed reports the overspeed flag from the last read.
func (d *Device) Overspeed() bool {
	return d.status&statusOverspeed != 0
}
