package core

import (
	"errors"
	"math"
	"sync/atomic"

	"gofoc/protocol"
)

var (
	ErrInvalidConfig = errors.New("invalid controller config")
	ErrInvalidMode   = errors.New("invalid control mode")
	ErrArmed         = errors.New("controller is armed")
	ErrCalibrating   = errors.New("calibration in progress")
	ErrNoStore       = errors.New("no persistent store configured")
	ErrNoMotion      = errors.New("rotor did not follow alignment")
)

// ConfigError names the offending Config field.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return "invalid controller config: " + e.Field + ": " + e.Err.Error()
	}
	return "invalid controller config: " + e.Field
}

func (e *ConfigError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidConfig, e.Err}
	}
	return []error{ErrInvalidConfig}
}

// Mode selects the outermost active loop.
type Mode uint8

const (
	ModeAngle   Mode = iota // target in radians, multi-turn
	ModeSpeed               // target in rad/s
	ModeCurrent             // target is the Iq reference in amps
)

func (m Mode) String() string {
	switch m {
	case ModeAngle:
		return "angle"
	case ModeSpeed:
		return "speed"
	case ModeCurrent:
		return "current"
	}
	return "unknown"
}

func (m Mode) Valid() bool {
	return m <= ModeCurrent
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "angle", "position":
		*m = ModeAngle
	case "speed", "velocity":
		*m = ModeSpeed
	case "current", "torque":
		*m = ModeCurrent
	default:
		return errors.New("unknown mode: " + string(text))
	}
	return nil
}

// Config is fixed at construction.
type Config struct {
	PolePairs         int     `json:"pole_pairs" yaml:"pole_pairs"`
	SampleRate        float32 `json:"sample_rate" yaml:"sample_rate"`   // fast tick, Hz
	ControlRate       float32 `json:"control_rate" yaml:"control_rate"` // slow tick, Hz
	NominalBusVoltage float32 `json:"nominal_bus_voltage" yaml:"nominal_bus_voltage"`
	AlignVoltage      float32 `json:"align_voltage" yaml:"align_voltage"`
	CalibrationOffset uint32  `json:"calibration_offset" yaml:"calibration_offset"` // byte store offset
	Mode              Mode    `json:"mode" yaml:"mode"`                             // initial mode

	CurrentD PIDConfig `json:"current_d" yaml:"current_d"`
	CurrentQ PIDConfig `json:"current_q" yaml:"current_q"`
	Speed    PIDConfig `json:"speed" yaml:"speed"`
	Angle    PIDConfig `json:"angle" yaml:"angle"`

	CurrentFilter FilterConfig `json:"current_filter" yaml:"current_filter"`
	SpeedFilter   FilterConfig `json:"speed_filter" yaml:"speed_filter"`
}

const (
	defaultSampleRate  = 20000
	defaultControlRate = 1000
	defaultMaxCurrent  = 5   // A
	defaultMaxSpeed    = 100 // rad/s
	defaultMaxVoltage  = 6   // V per axis
)

// DefaultConfig returns gains for a small 7 pole-pair gimbal motor on a
// 12 V bus.
func DefaultConfig() Config {
	return Config{
		PolePairs:         7,
		SampleRate:        defaultSampleRate,
		ControlRate:       defaultControlRate,
		NominalBusVoltage: 12,
		AlignVoltage:      1,
		Mode:              ModeSpeed,
		CurrentD: PIDConfig{
			Kind:        IncrementalPID,
			Kp:          1.5,
			Ki:          0.075,
			OutputLimit: Symmetric(defaultMaxVoltage),
		},
		CurrentQ: PIDConfig{
			Kind:        IncrementalPID,
			Kp:          1.5,
			Ki:          0.075,
			OutputLimit: Symmetric(defaultMaxVoltage),
		},
		Speed: PIDConfig{
			Kind:            PositionPID,
			Kp:              0.019,
			Ki:              0.000475,
			IntegratorLimit: Symmetric(2e3),
			OutputLimit:     Symmetric(defaultMaxCurrent),
		},
		Angle: PIDConfig{
			Kind:        PositionPID,
			Kp:          10,
			OutputLimit: Symmetric(defaultMaxSpeed),
		},
		CurrentFilter: FilterConfig{
			Kind:         FilterLowPass,
			SamplePeriod: 1.0 / defaultSampleRate,
			Cutoff:       1500,
		},
		SpeedFilter: FilterConfig{
			Kind:         FilterLowPass,
			SamplePeriod: 1.0 / defaultControlRate,
			Cutoff:       100,
		},
	}
}

// Validate checks every field.
func (c Config) Validate() error {
	switch {
	case c.PolePairs <= 0 || c.PolePairs > 255:
		return &ConfigError{Field: "pole_pairs"}
	case !(c.SampleRate > 0):
		return &ConfigError{Field: "sample_rate"}
	case !(c.ControlRate > 0) || c.ControlRate > c.SampleRate:
		return &ConfigError{Field: "control_rate"}
	case !(c.NominalBusVoltage > 0):
		return &ConfigError{Field: "nominal_bus_voltage"}
	case c.AlignVoltage < 0:
		return &ConfigError{Field: "align_voltage"}
	case !c.Mode.Valid():
		return &ConfigError{Field: "mode", Err: ErrInvalidMode}
	}
	pids := [...]struct {
		name string
		cfg  PIDConfig
	}{
		{"current_d", c.CurrentD},
		{"current_q", c.CurrentQ},
		{"speed", c.Speed},
		{"angle", c.Angle},
	}
	for _, p := range pids {
		if err := p.cfg.Validate(); err != nil {
			return &ConfigError{Field: p.name, Err: err}
		}
	}
	if err := c.CurrentFilter.Validate(); err != nil {
		return &ConfigError{Field: "current_filter", Err: err}
	}
	if err := c.SpeedFilter.Validate(); err != nil {
		return &ConfigError{Field: "speed_filter", Err: err}
	}
	return nil
}

// Status is a telemetry snapshot.
type Status struct {
	Mode       Mode
	Armed      bool
	Position   float32 // rad, multi-turn
	Speed      float32 // rad/s, filtered
	Id, Iq     float32 // A, filtered
	Vd, Vq     float32 // V
	BusVoltage float32
	Ticks      uint32 // fast ticks since Init
}

// Report converts the snapshot to its wire form.
func (s Status) Report() protocol.StatusReport {
	return protocol.StatusReport{
		Mode:       uint8(s.Mode),
		Armed:      s.Armed,
		Position:   s.Position,
		Speed:      s.Speed,
		Id:         s.Id,
		Iq:         s.Iq,
		Vd:         s.Vd,
		Vq:         s.Vq,
		BusVoltage: s.BusVoltage,
		Ticks:      s.Ticks,
	}
}

const (
	stateDisarmed uint32 = iota
	stateArmed
	stateAligning
)

// Controller is the angle → speed → current → voltage cascade.
//
// FastTick owns the d/q current loops and filters. SlowTick owns the angle
// and speed loops, the speed filter and the position estimate. All state
// crossing contexts goes through Setpoint or atomic words with one writer
// each:
//
//	iqRef       slow tick     → fast tick
//	cmd         command       → slow tick (mode request and its target)
//	state       command       → both ticks
//	busVoltage  background    → fast tick
//	zero, dir   command       → both ticks (written only while disarmed)
//	status      ticks         → command
type Controller struct {
	cfg  Config
	devs Devices

	// fast tick
	pidD, pidQ       *PID
	filterD, filterQ Filter
	innerArmed       bool

	// slow tick
	pidSpeed, pidAngle *PID
	speedFilter        Filter
	lastAngle          float32
	position           float32
	mode               Mode
	outerArmed         bool
	lastTicks          uint32

	// cross-context
	iqRef      Setpoint
	cmd        atomic.Uint64
	state      uint32
	busVoltage Setpoint
	alignAngle Setpoint
	zero       Setpoint
	dir        Setpoint

	stPosition, stSpeed Setpoint
	stId, stIq          Setpoint
	stVd, stVq          Setpoint
	stMode              uint32
	ticks               uint32

	// command context
	cal Calibration
}

// New builds a disarmed controller. Call Init before starting the ticks.
func New(cfg Config, devs Devices) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if devs.Angle == nil || devs.Current == nil || devs.Phases == nil {
		return nil, &ConfigError{Field: "devices"}
	}

	c := &Controller{cfg: cfg, devs: devs}

	var err error
	if c.pidD, err = NewPID(cfg.CurrentD); err != nil {
		return nil, err
	}
	if c.pidQ, err = NewPID(cfg.CurrentQ); err != nil {
		return nil, err
	}
	if c.pidSpeed, err = NewPID(cfg.Speed); err != nil {
		return nil, err
	}
	if c.pidAngle, err = NewPID(cfg.Angle); err != nil {
		return nil, err
	}
	if c.filterD, err = NewFilter(cfg.CurrentFilter); err != nil {
		return nil, err
	}
	if c.filterQ, err = NewFilter(cfg.CurrentFilter); err != nil {
		return nil, err
	}
	if c.speedFilter, err = NewFilter(cfg.SpeedFilter); err != nil {
		return nil, err
	}

	c.mode = cfg.Mode
	c.cmd.Store(packCommand(cfg.Mode, 0))
	c.stMode = uint32(cfg.Mode)
	c.busVoltage.Store(cfg.NominalBusVoltage)
	c.applyCalibration(DefaultCalibration(cfg.PolePairs))
	return c, nil
}

// Config returns the construction config.
func (c *Controller) Config() Config {
	return c.cfg
}

// Init primes loops and filters, loads calibration, initialises the
// collaborators and arms the controller. A missing or corrupt calibration
// record is not fatal; the controller runs with a zero offset.
func (c *Controller) Init() error {
	atomic.StoreUint32(&c.state, stateDisarmed)

	c.pidD.Reset()
	c.pidQ.Reset()
	c.filterD.Reset()
	c.filterQ.Reset()
	c.resetOuter()
	c.innerArmed = false
	c.outerArmed = false
	c.iqRef.Store(0)
	atomic.StoreUint32(&c.ticks, 0)
	c.lastTicks = 0

	if c.devs.Store != nil {
		cal, err := LoadCalibration(c.devs.Store, c.cfg.CalibrationOffset)
		switch {
		case err != nil:
			DebugPrintln("[FOC] calibration not loaded: " + err.Error())
		case int(cal.PolePairs) != c.cfg.PolePairs:
			DebugPrintln("[FOC] calibration for " + itoa(int(cal.PolePairs)) + " pole pairs ignored")
		default:
			c.applyCalibration(cal)
			RecordTiming(EvtCalibration, 0, GetTime(), math.Float32bits(cal.ZeroOffset), uint32(int32(cal.Direction)))
			DebugPrintln("[FOC] calibration loaded: zero=" + ftoa(cal.ZeroOffset) + " dir=" + itoa(int(cal.Direction)))
		}
	}

	if err := c.devs.Angle.Init(); err != nil {
		return err
	}
	if err := c.devs.Current.Init(); err != nil {
		return err
	}
	if err := c.devs.Phases.Init(); err != nil {
		return err
	}

	c.lastAngle = c.devs.Angle.ReadAngle()
	c.position = 0

	c.setState(stateArmed)
	return nil
}

func (c *Controller) resetOuter() {
	c.pidSpeed.Reset()
	c.pidAngle.Reset()
	c.speedFilter.Reset()
}

func (c *Controller) applyCalibration(cal Calibration) {
	c.cal = cal
	c.zero.Store(cal.ZeroOffset)
	if cal.Direction < 0 {
		c.dir.Store(-1)
	} else {
		c.dir.Store(1)
	}
}

func (c *Controller) setState(s uint32) {
	old := atomic.SwapUint32(&c.state, s)
	if old != s {
		armed := uint32(0)
		if s == stateArmed {
			armed = 1
		}
		RecordTiming(EvtArm, uint8(s), GetTime(), armed, old)
	}
}

// electricalAngle maps a mechanical angle to the rotor's electrical angle.
func (c *Controller) electricalAngle(mech float32) float32 {
	return WrapAngle(c.dir.Load() * (mech - c.zero.Load()) * float32(c.cfg.PolePairs))
}

// FastTick runs the current loops. It is driven once per completed
// current-sense conversion and must not be preempted by SlowTick.
func (c *Controller) FastTick() {
	state := atomic.LoadUint32(&c.state)
	if state == stateDisarmed {
		c.innerArmed = false
		c.stVd.Store(0)
		c.stVq.Store(0)
		c.devs.Phases.SetDuty(0, 0, 0)
		return
	}

	var theta, vd, vq float32
	if state == stateAligning {
		theta = c.alignAngle.Load()
		vd = c.cfg.AlignVoltage
	} else {
		if !c.innerArmed {
			c.pidD.Reset()
			c.pidQ.Reset()
			c.filterD.Reset()
			c.filterQ.Reset()
			c.innerArmed = true
		}

		theta = c.electricalAngle(c.devs.Angle.ReadAngle())
		ia, ib := c.devs.Current.ReadPhaseCurrents()
		alpha, beta := Clarke(ia, ib)
		id, iq := Park(alpha, beta, theta)
		id = c.filterD.Apply(id)
		iq = c.filterQ.Apply(iq)

		c.pidD.SetTarget(0)
		c.pidQ.SetTarget(c.iqRef.Load())
		vd = c.pidD.Evaluate(id)
		vq = c.pidQ.Evaluate(iq)

		c.stId.Store(id)
		c.stIq.Store(iq)
	}
	c.stVd.Store(vd)
	c.stVq.Store(vq)

	alpha, beta := InvPark(vd, vq, theta)
	du, dv, dw := Modulate(alpha, beta, c.busVoltage.Load())
	c.devs.Phases.SetDuty(du, dv, dw)

	atomic.AddUint32(&c.ticks, 1)
}

// SlowTick runs the speed estimate and the outer loops, producing the Iq
// reference for FastTick.
func (c *Controller) SlowTick() {
	angle := c.devs.Angle.ReadAngle()
	delta := c.dir.Load() * WrapDelta(angle-c.lastAngle)
	c.lastAngle = angle
	c.position += delta
	speed := c.speedFilter.Apply(delta * c.cfg.ControlRate)

	c.stPosition.Store(c.position)
	c.stSpeed.Store(speed)

	req, target := unpackCommand(c.cmd.Load())
	if req != c.mode {
		RecordTiming(EvtModeChange, uint8(req), GetTime(), uint32(c.mode), 0)
		c.mode = req
		c.pidSpeed.SetIntegrator(0)
		c.pidAngle.SetIntegrator(0)
		atomic.StoreUint32(&c.stMode, uint32(req))
	}

	ticks := atomic.LoadUint32(&c.ticks)
	RecordTiming(EvtSlowTick, uint8(c.mode), GetTime(), ticks-c.lastTicks, 0)
	c.lastTicks = ticks

	if atomic.LoadUint32(&c.state) != stateArmed {
		c.outerArmed = false
		c.iqRef.Store(0)
		return
	}
	if !c.outerArmed {
		c.pidSpeed.Reset()
		c.pidAngle.Reset()
		c.outerArmed = true
	}

	var iq float32
	switch c.mode {
	case ModeAngle:
		c.pidAngle.SetTarget(target)
		c.pidSpeed.SetTarget(c.pidAngle.Evaluate(c.position))
		iq = c.pidSpeed.Evaluate(speed)
	case ModeSpeed:
		c.pidSpeed.SetTarget(target)
		iq = c.pidSpeed.Evaluate(speed)
	case ModeCurrent:
		iq = c.cfg.Speed.OutputLimit.Clamp(target)
	}
	c.iqRef.Store(iq)
}

// UpdateBusVoltage stores the latest bus voltage sample. Non-positive
// samples are ignored.
func (c *Controller) UpdateBusVoltage(v float32) {
	if v > 0 {
		c.busVoltage.Store(v)
	}
}

// SetMode requests a mode change, applied by the next SlowTick. The target
// is reset so the new outer loop starts from rest: the current position in
// angle mode, zero otherwise. Mode and target are published as one word.
func (c *Controller) SetMode(m Mode) error {
	if !m.Valid() {
		return ErrInvalidMode
	}
	var seed float32
	if m == ModeAngle {
		seed = c.stPosition.Load()
	}
	c.cmd.Store(packCommand(m, seed))
	return nil
}

// SetTarget sets the setpoint of the requested mode.
func (c *Controller) SetTarget(v float32) {
	m, _ := unpackCommand(c.cmd.Load())
	c.cmd.Store(packCommand(m, v))
}

func (c *Controller) Target() float32 {
	_, v := unpackCommand(c.cmd.Load())
	return v
}

// packCommand puts the mode in the high word and the target bits in the low.
func packCommand(m Mode, target float32) uint64 {
	return uint64(m)<<32 | uint64(math.Float32bits(target))
}

func unpackCommand(w uint64) (Mode, float32) {
	return Mode(w >> 32), math.Float32frombits(uint32(w))
}

// Arm enables the loops.
func (c *Controller) Arm() error {
	if atomic.LoadUint32(&c.state) == stateAligning {
		return ErrCalibrating
	}
	c.setState(stateArmed)
	return nil
}

// Disarm drives all legs to zero duty from the next FastTick on.
func (c *Controller) Disarm() error {
	if atomic.LoadUint32(&c.state) == stateAligning {
		return ErrCalibrating
	}
	c.setState(stateDisarmed)
	return nil
}

func (c *Controller) Armed() bool {
	return atomic.LoadUint32(&c.state) == stateArmed
}

// Status returns the latest telemetry.
func (c *Controller) Status() Status {
	return Status{
		Mode:       Mode(atomic.LoadUint32(&c.stMode)),
		Armed:      c.Armed(),
		Position:   c.stPosition.Load(),
		Speed:      c.stSpeed.Load(),
		Id:         c.stId.Load(),
		Iq:         c.stIq.Load(),
		Vd:         c.stVd.Load(),
		Vq:         c.stVq.Load(),
		BusVoltage: c.busVoltage.Load(),
		Ticks:      atomic.LoadUint32(&c.ticks),
	}
}

// Calibration returns the calibration in use.
func (c *Controller) Calibration() Calibration {
	return c.cal
}

// CalibrateZero finds the encoder zero offset and counting direction. The
// fast tick holds AlignVoltage on the d axis at electrical angle 0, then a
// quarter turn ahead, then 0 again; settle must return once the rotor has
// come to rest. The ticks must keep running during the call.
func (c *Controller) CalibrateZero(settle func()) error {
	if !atomic.CompareAndSwapUint32(&c.state, stateDisarmed, stateAligning) {
		if atomic.LoadUint32(&c.state) == stateAligning {
			return ErrCalibrating
		}
		return ErrArmed
	}
	defer c.setState(stateDisarmed)
	if settle == nil {
		settle = func() {}
	}

	const step = math.Pi / 2
	c.alignAngle.Store(0)
	settle()
	a0 := c.devs.Angle.ReadAngle()

	c.alignAngle.Store(step)
	settle()
	moved := WrapDelta(c.devs.Angle.ReadAngle() - a0)

	c.alignAngle.Store(0)
	settle()
	zero := c.devs.Angle.ReadAngle()

	cal := Calibration{ZeroOffset: zero, PolePairs: uint8(c.cfg.PolePairs), Direction: 1}
	if moved < 0 {
		cal.Direction = -1
		moved = -moved
	}
	if moved < step/4/float32(c.cfg.PolePairs) {
		return ErrNoMotion
	}

	c.applyCalibration(cal)
	RecordTiming(EvtCalibration, 1, GetTime(), math.Float32bits(zero), uint32(int32(cal.Direction)))
	DebugPrintln("[FOC] calibrated: zero=" + ftoa(zero) + " dir=" + itoa(int(cal.Direction)))
	return nil
}

// SaveCalibration persists the calibration in use. The store blocks both
// ticks while it writes, so the controller must be disarmed.
func (c *Controller) SaveCalibration() error {
	if c.devs.Store == nil {
		return ErrNoStore
	}
	switch atomic.LoadUint32(&c.state) {
	case stateArmed:
		return ErrArmed
	case stateAligning:
		return ErrCalibrating
	}
	return SaveCalibration(c.devs.Store, c.cfg.CalibrationOffset, c.cal)
}
