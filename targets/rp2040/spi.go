//go:build rp2040

package main

import (
	"machine"

	"gofoc/sensor/mt6825"
)

// encoderBus describes the SPI controller and pins the encoder sits on
type encoderBus struct {
	spi  *machine.SPI
	sck  machine.Pin
	mosi machine.Pin
	miso machine.Pin
	cs   machine.Pin
	rate uint32
}

// NewEncoder configures the bus in SPI mode 3 and returns the sensor.
// The MT6825 clocks up to 16 MHz.
func NewEncoder(bus encoderBus, invert bool) (*mt6825.Device, error) {
	bus.cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
	bus.cs.High()

	err := bus.spi.Configure(machine.SPIConfig{
		Frequency: bus.rate,
		SCK:       bus.sck,
		SDO:       bus.mosi,
		SDI:       bus.miso,
		Mode:      3,
	})
	if err != nil {
		return nil, err
	}

	dev := mt6825.New(bus.spi, bus.cs)
	dev.Invert = invert
	return dev, nil
}
