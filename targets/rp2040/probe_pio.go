//go:build rp2040

package main

import (
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// Probe emits pulse bursts on a spare pin from a PIO state machine, so
// control-loop timing can be watched on a logic analyser without stalling
// the CPU.
//
// Command word format, shifted out LSB first:
//
//	Bits 0-3:   pulse count minus one
//	Bits 4-31:  one 7-bit low time per pulse, in PIO cycles
type Probe struct {
	pio *rp2pio.PIO
	sm  rp2pio.StateMachine
	pin machine.Pin
}

// Burst lengths per event
const (
	ProbeFastTick  = 1
	ProbeSlowTick  = 2
	ProbeBusPoll   = 3
	ProbeCalibrate = 4
)

const (
	probeMaxPulses = 4
	probeGapBits   = 7
	probeGap       = 4 // PIO cycles
)

// buildProbeProgram pulls a command, then emits X+1 pulses, each followed
// by the next gap shifted out of the OSR.
func buildProbeProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),       // 0: pull block
		asm.Out(rp2pio.OutDestX, 4).Encode(), // 1: out x, 4 (count-1)
		// pulse:
		asm.Set(rp2pio.SetDestPins, 1).Delay(3).Encode(),  // 2: set pins, 1 [3]
		asm.Set(rp2pio.SetDestPins, 0).Encode(),           // 3: set pins, 0
		asm.Out(rp2pio.OutDestY, probeGapBits).Encode(),  // 4: out y, 7 (gap)
		// gap:
		asm.Jmp(5, rp2pio.JmpYNZeroDec).Encode(), // 5: jmp y--, 5
		asm.Jmp(2, rp2pio.JmpXNZeroDec).Encode(), // 6: jmp x--, 2
		// .wrap
	}
}

const probePIOOrigin = 0

// NewProbe claims state machine sm of PIO0.
func NewProbe(pin machine.Pin, sm uint8) *Probe {
	return &Probe{
		pio: rp2pio.PIO0,
		sm:  rp2pio.PIO0.StateMachine(sm),
		pin: pin,
	}
}

// Init loads the program and starts the state machine with the pin low.
func (p *Probe) Init() error {
	p.sm.TryClaim()

	program := buildProbeProgram()
	offset, err := p.pio.AddProgram(program, probePIOOrigin)
	if err != nil {
		return err
	}

	p.pin.Configure(machine.PinConfig{Mode: p.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(p.pin, 1)
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	cfg.SetClkDivIntFrac(10, 0)

	// Pin directions must be set after Init
	p.sm.Init(offset, cfg)
	p.sm.SetPindirsConsecutive(p.pin, 1, true)
	p.sm.SetPinsConsecutive(p.pin, 1, false)
	p.sm.SetEnabled(true)
	return nil
}

// Mark queues a burst of n pulses, at most four. It drops the burst
// rather than wait when the FIFO is full.
func (p *Probe) Mark(n uint16) {
	if n == 0 || p.sm.IsTxFIFOFull() {
		return
	}
	p.sm.TxPut(probeCommand(n))
}

func probeCommand(n uint16) uint32 {
	if n > probeMaxPulses {
		n = probeMaxPulses
	}
	word := uint32(n - 1)
	for i := uint16(0); i < n; i++ {
		word |= probeGap << (4 + probeGapBits*uint32(i))
	}
	return word
}
