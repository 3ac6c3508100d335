//go:build rp2040

package main

import (
	"machine"

	"gofoc/sensor/shunt"
)

// adcChannel configures an ADC input. machine.ADC.Get already scales the
// 12-bit conversion to the full 16-bit range expected by shunt.
func adcChannel(pin machine.Pin) machine.ADC {
	adc := machine.ADC{Pin: pin}
	adc.Configure(machine.ADCConfig{})
	return adc
}

// NewCurrentSense wires the two phase shunts.
func NewCurrentSense(a, b machine.Pin, cfg shunt.Config) *shunt.Sensor {
	machine.InitADC()
	return shunt.New(adcChannel(a), adcChannel(b), cfg)
}

// NewBusSense wires the bus voltage divider.
func NewBusSense(pin machine.Pin, reference, rTop, rBottom float32) *shunt.BusVoltage {
	machine.InitADC()
	return shunt.NewBusVoltage(adcChannel(pin), reference, rTop, rBottom)
}
