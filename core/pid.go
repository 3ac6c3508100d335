package core

import "errors"

var ErrInvalidBound = errors.New("bound upper limit below lower limit")

// PIDKind selects the PID recurrence.
type PIDKind uint8

const (
	// PositionPID computes the absolute output from an accumulated integrator
	PositionPID PIDKind = iota
	// IncrementalPID adds a delta to the previous output each evaluation
	IncrementalPID
)

func (k PIDKind) String() string {
	switch k {
	case PositionPID:
		return "position"
	case IncrementalPID:
		return "incremental"
	}
	return "unknown"
}

func (k PIDKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PIDKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "position", "absolute":
		*k = PositionPID
	case "incremental", "delta":
		*k = IncrementalPID
	default:
		return errors.New("unknown PID kind: " + string(text))
	}
	return nil
}

// Bound is an optional closed interval. Only an enabled bound limits
// anything, so the zero Bound is no limit and Between(0, 0) pins to zero.
type Bound struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Hi      float32 `json:"hi" yaml:"hi"`
	Lo      float32 `json:"lo" yaml:"lo"`
}

// Between returns the bound [lo, hi].
func Between(lo, hi float32) Bound {
	return Bound{Enabled: true, Hi: hi, Lo: lo}
}

// Symmetric returns the bound [-limit, limit].
func Symmetric(limit float32) Bound {
	return Bound{Enabled: true, Hi: limit, Lo: -limit}
}

// Set reports whether the bound limits anything.
func (b Bound) Set() bool {
	return b.Enabled
}

// Valid reports whether an enabled bound has Hi >= Lo.
func (b Bound) Valid() bool {
	return !b.Enabled || b.Hi >= b.Lo
}

// Clamp limits v to the bound. NaN passes through unchanged.
func (b Bound) Clamp(v float32) float32 {
	if !b.Enabled {
		return v
	}
	if v >= b.Hi {
		return b.Hi
	}
	if v <= b.Lo {
		return b.Lo
	}
	return v
}

// PIDConfig holds gains and limits for one loop.
type PIDConfig struct {
	Kind            PIDKind `json:"kind" yaml:"kind"`
	Kp              float32 `json:"kp" yaml:"kp"`
	Ki              float32 `json:"ki" yaml:"ki"`
	Kd              float32 `json:"kd" yaml:"kd"`
	IntegratorLimit Bound   `json:"integrator_limit" yaml:"integrator_limit"`
	OutputLimit     Bound   `json:"output_limit" yaml:"output_limit"`
}

// Validate checks the limits.
func (c PIDConfig) Validate() error {
	if !c.IntegratorLimit.Valid() || !c.OutputLimit.Valid() {
		return ErrInvalidBound
	}
	return nil
}

// PID is a single control loop. It is not safe for concurrent use; each
// instance belongs to one tick context.
type PID struct {
	cfg PIDConfig

	target      float32
	integrator  float32
	prevErr     float32
	prevPrevErr float32
	output      float32
}

// NewPID creates a loop with zeroed runtime state.
func NewPID(cfg PIDConfig) (*PID, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PID{cfg: cfg}, nil
}

// Evaluate advances the loop by one step and returns the new output.
func (p *PID) Evaluate(measurement float32) float32 {
	e := p.target - measurement

	switch p.cfg.Kind {
	case IncrementalPID:
		p.output += p.cfg.Kp*(e-p.prevErr) +
			p.cfg.Ki*e +
			p.cfg.Kd*(e-2*p.prevErr+p.prevPrevErr)
		p.prevPrevErr = p.prevErr
	default:
		p.integrator = p.cfg.IntegratorLimit.Clamp(p.integrator + e)
		p.output = p.cfg.Kp*e + p.cfg.Ki*p.integrator + p.cfg.Kd*(e-p.prevErr)
	}
	p.prevErr = e

	p.output = p.cfg.OutputLimit.Clamp(p.output)
	return p.output
}

func (p *PID) SetTarget(v float32) {
	p.target = v
}

func (p *PID) Target() float32 {
	return p.target
}

// SetIntegrator seeds the integral term. For an incremental loop the
// integral state is the accumulated output, so the output is seeded.
func (p *PID) SetIntegrator(v float32) {
	if p.cfg.Kind == IncrementalPID {
		p.output = v
		return
	}
	p.integrator = v
}

func (p *PID) Integrator() float32 {
	if p.cfg.Kind == IncrementalPID {
		return p.output
	}
	return p.integrator
}

func (p *PID) Output() float32 {
	return p.output
}

func (p *PID) Config() PIDConfig {
	return p.cfg
}

// Reset zeroes the runtime state and keeps gains and limits.
func (p *PID) Reset() {
	p.target = 0
	p.integrator = 0
	p.prevErr = 0
	p.prevPrevErr = 0
	p.output = 0
}
