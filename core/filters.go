package core

import (
	"errors"
	"math"
)

var ErrInvalidFilter = errors.New("invalid filter parameters")

// Filter smooths a scalar signal, one sample per call.
type Filter interface {
	Apply(sample float32) float32
	Reset()
}

// LowPass is a single-pole IIR low-pass filter.
type LowPass struct {
	a float32
	y float32
}

// NewLowPass builds a filter for sample period ts (seconds) and cutoff fc (Hz).
func NewLowPass(ts, fc float32) *LowPass {
	w := 2 * math.Pi * float64(fc) * float64(ts)
	return &LowPass{a: float32(w / (w + 1))}
}

// Coefficient returns the smoothing factor a.
func (f *LowPass) Coefficient() float32 {
	return f.a
}

func (f *LowPass) Apply(x float32) float32 {
	f.y = f.a*x + (1-f.a)*f.y
	return f.y
}

func (f *LowPass) Reset() {
	f.y = 0
}

// Kalman is a scalar Kalman filter for a constant-state model.
type Kalman struct {
	x float32 // estimate
	p float32 // error covariance
	q float32 // process noise
	r float32 // observation noise
}

func NewKalman(processNoise, observationNoise float32) *Kalman {
	return &Kalman{p: 1, q: processNoise, r: observationNoise}
}

func (f *Kalman) Apply(z float32) float32 {
	f.p += f.q
	k := f.p / (f.p + f.r)
	f.x += k * (z - f.x)
	f.p *= 1 - k
	return f.x
}

func (f *Kalman) Reset() {
	f.x = 0
	f.p = 1
}

// MovingAverage averages the last N samples. Slots not yet written count
// as zero.
type MovingAverage struct {
	buf []float32
	idx int
	sum float32
}

// NewMovingAverage builds a window of n samples; n below 1 is treated as 1.
func NewMovingAverage(n int) *MovingAverage {
	if n < 1 {
		n = 1
	}
	return &MovingAverage{buf: make([]float32, n)}
}

func (f *MovingAverage) Apply(x float32) float32 {
	f.sum += x - f.buf[f.idx]
	f.buf[f.idx] = x
	f.idx++
	if f.idx == len(f.buf) {
		f.idx = 0
	}
	return f.sum / float32(len(f.buf))
}

func (f *MovingAverage) Reset() {
	for i := range f.buf {
		f.buf[i] = 0
	}
	f.idx = 0
	f.sum = 0
}

type passThrough struct{}

func (passThrough) Apply(x float32) float32 { return x }
func (passThrough) Reset()                  {}

// FilterKind selects a filter implementation.
type FilterKind uint8

const (
	FilterNone FilterKind = iota
	FilterLowPass
	FilterKalman
	FilterMovingAverage
)

func (k FilterKind) String() string {
	switch k {
	case FilterNone:
		return "none"
	case FilterLowPass:
		return "lowpass"
	case FilterKalman:
		return "kalman"
	case FilterMovingAverage:
		return "moving_average"
	}
	return "unknown"
}

func (k FilterKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *FilterKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none", "":
		*k = FilterNone
	case "lowpass", "low_pass":
		*k = FilterLowPass
	case "kalman":
		*k = FilterKalman
	case "moving_average", "average":
		*k = FilterMovingAverage
	default:
		return errors.New("unknown filter kind: " + string(text))
	}
	return nil
}

// FilterConfig describes one filter instance.
type FilterConfig struct {
	Kind FilterKind `json:"kind" yaml:"kind"`

	// Low-pass
	SamplePeriod float32 `json:"sample_period" yaml:"sample_period"` // seconds
	Cutoff       float32 `json:"cutoff" yaml:"cutoff"`               // Hz

	// Kalman
	ProcessNoise     float32 `json:"process_noise" yaml:"process_noise"`
	ObservationNoise float32 `json:"observation_noise" yaml:"observation_noise"`

	// Moving average
	Window int `json:"window" yaml:"window"`
}

// Validate checks the parameters used by the selected kind.
func (c FilterConfig) Validate() error {
	switch c.Kind {
	case FilterNone:
	case FilterLowPass:
		if !(c.SamplePeriod > 0) || !(c.Cutoff > 0) {
			return ErrInvalidFilter
		}
	case FilterKalman:
		if !(c.ObservationNoise > 0) || c.ProcessNoise < 0 {
			return ErrInvalidFilter
		}
	case FilterMovingAverage:
		if c.Window <= 0 {
			return ErrInvalidFilter
		}
	default:
		return ErrInvalidFilter
	}
	return nil
}

// NewFilter builds a fresh filter. Every call returns an independent
// instance.
func NewFilter(c FilterConfig) (Filter, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Kind {
	case FilterLowPass:
		return NewLowPass(c.SamplePeriod, c.Cutoff), nil
	case FilterKalman:
		return NewKalman(c.ProcessNoise, c.ObservationNoise), nil
	case FilterMovingAverage:
		return NewMovingAverage(c.Window), nil
	}
	return passThrough{}, nil
}
