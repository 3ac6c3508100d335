//go:build rp2040

package main

import (
	"machine"
	"time"

	"gofoc/core"
	"gofoc/protocol"
	"gofoc/sensor/shunt"
)

// Board wiring
const (
	pinPhaseU  = machine.GPIO16
	pinPhaseV  = machine.GPIO17
	pinPhaseW  = machine.GPIO18
	pinEnable  = machine.GPIO19
	pinProbe   = machine.GPIO22
	pinShuntA  = machine.ADC0
	pinShuntB  = machine.ADC1
	pinBusSens = machine.ADC2

	pwmFrequency = 20000
	busPollRate  = 100 // Hz
	settleTime   = 500 * time.Millisecond
)

var encoderSPI = encoderBus{
	spi:  machine.SPI1,
	sck:  machine.GPIO10,
	mosi: machine.GPIO11,
	miso: machine.GPIO12,
	cs:   machine.GPIO13,
	rate: 8000000,
}

var shuntConfig = shunt.Config{
	Reference: 3.3,
	ShuntOhms: 0.01,
	Gain:      20,
}

// The calibration store takes the first page of the flash data region
var storeConfig = core.StoreConfig{Base: 0, Size: 4096}

var (
	sched   core.Scheduler
	ctrl    *core.Controller
	probe   *Probe
	busSens *shunt.BusVoltage

	fastTimer, slowTimer, busTimer  core.Timer
	fastPeriod, slowPeriod, busTick uint32

	registry *core.CommandRegistry
	decoder  *protocol.FrameDecoder
	output   *protocol.ScratchOutput

	// Debug counters
	framesReceived uint32
	msgerrors      uint32
)

func main() {
	// Disable the watchdog on boot to clear any previous state
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	InitUSB()
	InitDebugUART()
	core.SetDebugWriter(DebugPrintln)
	core.SetDebugEnabled(true)
	UpdateSystemTime()

	if err := setup(); err != nil {
		// Nothing can be driven; report and idle with the legs off
		for {
			DebugPrintln("[BOOT] " + err.Error())
			time.Sleep(time.Second)
		}
	}

	for {
		// Recover from panics in the main loop to prevent a firmware crash
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					decoder.Reset()
					output.Reset()
				}
			}()

			pump()
			readUSB()
			writeUSB()
		}()
	}
}

// setup builds the drive and schedules its timers.
func setup() error {
	cfg := core.DefaultConfig()

	encoder, err := NewEncoder(encoderSPI, false)
	if err != nil {
		return err
	}
	inverter := NewInverter(pinPhaseU, pinPhaseV, pinPhaseW, pinEnable, pwmFrequency)
	current := NewCurrentSense(pinShuntA, pinShuntB, shuntConfig)
	busSens = NewBusSense(pinBusSens, 3.3, 100000, 4700)

	store, err := core.NewPageStore(NewFlash(), storeConfig)
	if err != nil {
		return err
	}

	ctrl, err = core.New(cfg, core.Devices{
		Angle:   encoder,
		Current: current,
		Phases:  inverter,
		Store:   store,
	})
	if err != nil {
		return err
	}

	probe = NewProbe(pinProbe, 0)
	if err := probe.Init(); err != nil {
		DebugPrintln("[BOOT] probe: " + err.Error())
		probe = nil
	}

	registry = core.NewCommandRegistry()
	core.BindCommands(registry, ctrl, settle)
	output = protocol.NewScratchOutput()
	decoder = protocol.NewFrameDecoder(func(payload []byte) {
		framesReceived++
		if err := registry.HandleFrame(payload, output); err != nil {
			msgerrors++
		}
	})

	ctrl.UpdateBusVoltage(busSens.Read())
	if err := ctrl.Init(); err != nil {
		return err
	}

	fastPeriod = core.TimerFromHz(cfg.SampleRate)
	slowPeriod = core.TimerFromHz(cfg.ControlRate)
	busTick = core.TimerFromHz(busPollRate)
	fastTimer.Handler = fastEvent
	slowTimer.Handler = slowEvent
	busTimer.Handler = busEvent

	now := core.GetTime()
	fastTimer.WakeTime = now
	slowTimer.WakeTime = now + fastPeriod/2
	busTimer.WakeTime = now
	sched.Add(&fastTimer)
	sched.Add(&slowTimer)
	sched.Add(&busTimer)
	return nil
}

func fastEvent(t *core.Timer) uint8 {
	ctrl.FastTick()
	mark(ProbeFastTick)
	t.WakeTime += fastPeriod
	return core.SF_RESCHEDULE
}

func slowEvent(t *core.Timer) uint8 {
	ctrl.SlowTick()
	mark(ProbeSlowTick)
	t.WakeTime += slowPeriod
	return core.SF_RESCHEDULE
}

func busEvent(t *core.Timer) uint8 {
	ctrl.UpdateBusVoltage(busSens.Read())
	mark(ProbeBusPoll)
	t.WakeTime += busTick
	return core.SF_RESCHEDULE
}

func mark(n uint16) {
	if probe != nil {
		probe.Mark(n)
	}
}

// pump runs every due timer.
func pump() {
	UpdateSystemTime()
	sched.Dispatch(core.GetTime())
}

// settle keeps the ticks running while calibration waits for the rotor.
func settle() {
	mark(ProbeCalibrate)
	UpdateSystemTime()
	deadline := core.GetTime() + core.TimerFromUS(uint32(settleTime/time.Microsecond))
	for int32(core.GetTime()-deadline) < 0 {
		pump()
	}
}

// readUSB feeds pending bytes to the frame decoder.
func readUSB() {
	var buf [64]byte
	n := 0
	for n < len(buf) && USBAvailable() > 0 {
		b, err := USBRead()
		if err != nil {
			msgerrors++
			break
		}
		buf[n] = b
		n++
	}
	if n > 0 {
		decoder.Feed(buf[:n])
	}
}

// writeUSB flushes the response buffer. A failed write drops the data;
// the host retries on timeout.
func writeUSB() {
	result := output.Result()
	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			msgerrors++
			break
		}
		written += n
	}
	output.Reset()
}
