// Package shunt converts low-side shunt amplifier and bus divider ADC
// readings to amps and volts.
package shunt

import "errors"

// Channel is one ADC input. machine.ADC satisfies it.
type Channel interface {
	Get() uint16
}

// FullScale is the maximum reading returned by Channel.Get.
const FullScale = 0xFFFF

// DefaultOffsetSamples is the number of readings averaged at Init.
const DefaultOffsetSamples = 1000

var ErrOffsetRange = errors.New("shunt: zero-current offset out of range")

// Config describes the analogue front end.
type Config struct {
	Reference     float32 `json:"reference" yaml:"reference"`           // ADC reference, V
	ShuntOhms     float32 `json:"shunt_ohms" yaml:"shunt_ohms"`         // shunt resistance
	Gain          float32 `json:"gain" yaml:"gain"`                     // amplifier gain
	OffsetSamples int     `json:"offset_samples" yaml:"offset_samples"` // 0 = default
	Invert        bool    `json:"invert" yaml:"invert"`                 // amplifier reports negative current
}

// Scale returns amps per ADC count.
func (c Config) Scale() float32 {
	s := c.Reference / FullScale / (c.ShuntOhms * c.Gain)
	if c.Invert {
		return -s
	}
	return s
}

// Sensor reads phase A and B currents. It implements core.CurrentSensor.
type Sensor struct {
	a, b  Channel
	cfg   Config
	scale float32
	offA  float32
	offB  float32
	lastA uint16
	lastB uint16
}

// New returns a sensor over the two phase channels.
func New(a, b Channel, cfg Config) *Sensor {
	if cfg.OffsetSamples <= 0 {
		cfg.OffsetSamples = DefaultOffsetSamples
	}
	return &Sensor{a: a, b: b, cfg: cfg, scale: cfg.Scale()}
}

// Init measures the zero-current offsets. The inverter must be idle.
// An offset further than a quarter of full scale from mid-rail means the
// amplifier is not powered or not connected.
func (s *Sensor) Init() error {
	var sumA, sumB uint64
	for i := 0; i < s.cfg.OffsetSamples; i++ {
		sumA += uint64(s.a.Get())
		sumB += uint64(s.b.Get())
	}
	n := float32(s.cfg.OffsetSamples)
	s.offA = float32(sumA) / n
	s.offB = float32(sumB) / n
	if !midRail(s.offA) || !midRail(s.offB) {
		return ErrOffsetRange
	}
	return nil
}

func midRail(v float32) bool {
	const mid, span = FullScale / 2, FullScale / 4
	return v > mid-span && v < mid+span
}

// Offsets returns the measured zero-current readings.
func (s *Sensor) Offsets() (a, b float32) {
	return s.offA, s.offB
}

// ReadPhaseCurrents samples both channels and converts to amps.
func (s *Sensor) ReadPhaseCurrents() (ia, ib float32) {
	s.lastA = s.a.Get()
	s.lastB = s.b.Get()
	return (float32(s.lastA) - s.offA) * s.scale, (float32(s.lastB) - s.offB) * s.scale
}

// Raw returns the readings behind the last conversion.
func (s *Sensor) Raw() (a, b uint16) {
	return s.lastA, s.lastB
}

// BusVoltage reads the supply through a resistive divider.
type BusVoltage struct {
	ch    Channel
	scale float32
}

// NewBusVoltage returns a monitor for a divider of rTop over rBottom.
func NewBusVoltage(ch Channel, reference, rTop, rBottom float32) *BusVoltage {
	return &BusVoltage{
		ch:    ch,
		scale: reference / FullScale * (rTop + rBottom) / rBottom,
	}
}

// Read returns the bus voltage.
func (b *BusVoltage) Read() float32 {
	return float32(b.ch.Get()) * b.scale
}
