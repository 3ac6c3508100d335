//go:build rp2040

package main

import (
	"machine"
)

// pwmPeripheral abstracts over TinyGo's unexported *pwmGroup type
type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

// pwmLeg is one inverter half bridge on a PWM channel
type pwmLeg struct {
	pin     machine.Pin
	pwm     pwmPeripheral
	channel uint8
	top     uint32
}

// Inverter implements core.PhaseDriver on three hardware PWM channels.
// GPIO N maps to slice (N>>1)&7, channel N&1 (even=A, odd=B).
type Inverter struct {
	legs   [3]pwmLeg
	enable machine.Pin
	period uint64 // ns
}

// NewInverter drives legs u, v, w at the given switching frequency.
// enable gates the gate driver and is held low while all legs are off.
func NewInverter(u, v, w, enable machine.Pin, freq uint32) *Inverter {
	inv := &Inverter{
		enable: enable,
		period: 1000000000 / uint64(freq),
	}
	for i, pin := range [3]machine.Pin{u, v, w} {
		inv.legs[i] = pwmLeg{pin: pin, pwm: getPWMPeripheral(uint8((uint32(pin) >> 1) & 0x7))}
	}
	return inv
}

// Init configures every slice and leaves all legs off
func (inv *Inverter) Init() error {
	inv.enable.Configure(machine.PinConfig{Mode: machine.PinOutput})
	inv.enable.Low()

	for i := range inv.legs {
		leg := &inv.legs[i]
		if err := leg.pwm.Configure(machine.PWMConfig{Period: inv.period}); err != nil {
			return err
		}
		ch, err := leg.pwm.Channel(leg.pin)
		if err != nil {
			return err
		}
		leg.channel = ch
		leg.top = leg.pwm.Top()
		leg.pwm.Set(ch, 0)
	}
	return nil
}

// SetDuty sets each leg's duty cycle in [0, 1]
func (inv *Inverter) SetDuty(u, v, w float32) {
	duties := [3]float32{u, v, w}
	on := false
	for i := range inv.legs {
		leg := &inv.legs[i]
		d := duties[i]
		if d > 0 {
			on = true
		}
		if d < 0 {
			d = 0
		} else if d > 1 {
			d = 1
		}
		leg.pwm.Set(leg.channel, uint32(d*float32(leg.top)))
	}
	if on {
		inv.enable.High()
	} else {
		inv.enable.Low()
	}
}

// getPWMPeripheral returns the PWM peripheral for a slice.
// The RP2040 has 8 PWM slices: PWM0-PWM7
func getPWMPeripheral(sliceNum uint8) pwmPeripheral {
	switch sliceNum {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	default:
		return machine.PWM7
	}
}
