package sim

import (
	"time"

	"gofoc/core"
)

// RigConfig describes the simulated hardware around the controller.
type RigConfig struct {
	Motor           MotorParams      `json:"motor" yaml:"motor"`
	BusVoltage      float64          `json:"bus_voltage" yaml:"bus_voltage"`
	BusPollRate     float32          `json:"bus_poll_rate" yaml:"bus_poll_rate"` // Hz
	EncoderOffset   float64          `json:"encoder_offset" yaml:"encoder_offset"`
	EncoderInverted bool             `json:"encoder_inverted" yaml:"encoder_inverted"`
	SettleTime      time.Duration    `json:"settle_time" yaml:"settle_time"`
	FlashPageSize   uint32           `json:"flash_page_size" yaml:"flash_page_size"`
	FlashPages      uint32           `json:"flash_pages" yaml:"flash_pages"`
	Store           core.StoreConfig `json:"store" yaml:"store"`
}

// DefaultRigConfig returns a 12 V rig with 2 KiB flash pages and the
// calibration store in the last two pages.
func DefaultRigConfig() RigConfig {
	return RigConfig{
		Motor:         DefaultMotorParams(),
		BusVoltage:    12,
		BusPollRate:   100,
		SettleTime:    100 * time.Millisecond,
		FlashPageSize: 2048,
		FlashPages:    16,
		Store:         core.StoreConfig{Base: 14 * 2048, Size: 2 * 2048},
	}
}

// Sample is one trajectory point.
type Sample struct {
	Time     time.Duration `json:"time"`
	Angle    float64       `json:"angle"` // motor mechanical angle, unwrapped
	Omega    float64       `json:"omega"` // motor mechanical speed
	Torque   float64       `json:"torque"`
	Position float32       `json:"position"` // controller estimate
	Speed    float32       `json:"speed"`    // controller estimate
	Iq       float32       `json:"iq"`
	Vq       float32       `json:"vq"`
}

// Rig runs a Controller against a Motor. Both ticks and the bus voltage
// poll are timers on one core.Scheduler, stepped in simulated time; the
// motor is integrated between timer events with the duties held.
type Rig struct {
	Motor    *Motor
	Encoder  *Encoder
	Current  *CurrentSensor
	Inverter *Inverter
	Flash    *core.MemFlash
	Store    *core.PageStore
	Ctrl     *core.Controller

	cfg   RigConfig
	sched core.Scheduler
	fast  core.Timer
	slow  core.Timer
	bus   core.Timer

	fastPeriod, slowPeriod, busPeriod uint32

	now     uint32 // scheduler clock
	elapsed uint64 // ticks since Start
	started bool
}

// NewRig builds the rig and the controller. The controller is not
// initialised until Start.
func NewRig(cfg core.Config, rc RigConfig) (*Rig, error) {
	if rc.SettleTime <= 0 {
		rc.SettleTime = DefaultRigConfig().SettleTime
	}
	if !(rc.BusPollRate > 0) {
		rc.BusPollRate = DefaultRigConfig().BusPollRate
	}

	m := NewMotor(rc.Motor)
	r := &Rig{
		Motor:    m,
		Encoder:  &Encoder{m: m, Offset: rc.EncoderOffset, Inverted: rc.EncoderInverted},
		Current:  &CurrentSensor{m: m},
		Inverter: &Inverter{},
		cfg:      rc,
	}

	if rc.FlashPages > 0 {
		r.Flash = core.NewMemFlash(rc.FlashPageSize, rc.FlashPages)
		store, err := core.NewPageStore(r.Flash, rc.Store)
		if err != nil {
			return nil, err
		}
		r.Store = store
	}

	devs := core.Devices{
		Angle:   r.Encoder,
		Current: r.Current,
		Phases:  r.Inverter,
	}
	if r.Store != nil {
		devs.Store = r.Store
	}
	ctrl, err := core.New(cfg, devs)
	if err != nil {
		return nil, err
	}
	r.Ctrl = ctrl

	r.fastPeriod = core.TimerFromHz(cfg.SampleRate)
	r.slowPeriod = core.TimerFromHz(cfg.ControlRate)
	r.busPeriod = core.TimerFromHz(rc.BusPollRate)
	r.fast.Handler = r.fastEvent
	r.slow.Handler = r.slowEvent
	r.bus.Handler = r.busEvent
	return r, nil
}

// Start initialises the controller and schedules the ticks. The
// controller comes up armed.
func (r *Rig) Start() error {
	r.now = 0
	r.elapsed = 0
	core.SetTime(r.now)
	r.Ctrl.UpdateBusVoltage(float32(r.cfg.BusVoltage))
	if err := r.Ctrl.Init(); err != nil {
		return err
	}
	if r.started {
		r.sched.Remove(&r.fast)
		r.sched.Remove(&r.slow)
		r.sched.Remove(&r.bus)
	}
	r.fast.WakeTime = r.now
	r.slow.WakeTime = r.now
	r.bus.WakeTime = r.now
	r.sched.Add(&r.fast)
	r.sched.Add(&r.slow)
	r.sched.Add(&r.bus)
	r.started = true
	return nil
}

func (r *Rig) fastEvent(t *core.Timer) uint8 {
	r.Ctrl.FastTick()
	t.WakeTime += r.fastPeriod
	return core.SF_RESCHEDULE
}

func (r *Rig) slowEvent(t *core.Timer) uint8 {
	r.Ctrl.SlowTick()
	t.WakeTime += r.slowPeriod
	return core.SF_RESCHEDULE
}

func (r *Rig) busEvent(t *core.Timer) uint8 {
	r.Ctrl.UpdateBusVoltage(float32(r.cfg.BusVoltage))
	t.WakeTime += r.busPeriod
	return core.SF_RESCHEDULE
}

// SetBusVoltage changes the supply seen by the motor and the next poll.
func (r *Rig) SetBusVoltage(v float64) {
	r.cfg.BusVoltage = v
}

// RunFor advances simulated time by d.
func (r *Rig) RunFor(d time.Duration) {
	if d <= 0 {
		return
	}
	remaining := uint64(d) * core.TimerFreq / uint64(time.Second)
	for remaining > 0 {
		next, ok := r.sched.Next()
		if !ok {
			r.advance(remaining)
			return
		}
		var wait uint64
		if delta := int32(next - r.now); delta > 0 {
			wait = uint64(delta)
		}
		if wait > remaining {
			r.advance(remaining)
			return
		}
		r.advance(wait)
		remaining -= wait
		core.SetTime(r.now)
		r.sched.Dispatch(r.now)
	}
}

func (r *Rig) advance(ticks uint64) {
	if ticks == 0 {
		return
	}
	du, dv, dw := r.Inverter.Duty()
	dt := float64(ticks) / core.TimerFreq
	r.Motor.Step(dt, float64(du), float64(dv), float64(dw), r.cfg.BusVoltage)
	r.now += uint32(ticks)
	r.elapsed += ticks
}

// Settle runs the rig for the configured settle time. It is the settle
// callback for Controller.CalibrateZero.
func (r *Rig) Settle() {
	r.RunFor(r.cfg.SettleTime)
}

// Calibrate runs the zero-offset search with the ticks running.
func (r *Rig) Calibrate() error {
	return r.Ctrl.CalibrateZero(r.Settle)
}

// Elapsed returns simulated time since Start.
func (r *Rig) Elapsed() time.Duration {
	return time.Duration(r.elapsed * uint64(time.Microsecond) / (core.TimerFreq / 1000000))
}

// Sample captures the motor and controller state.
func (r *Rig) Sample() Sample {
	st := r.Ctrl.Status()
	return Sample{
		Time:     r.Elapsed(),
		Angle:    r.Motor.Theta,
		Omega:    r.Motor.Omega,
		Torque:   r.Motor.Torque(),
		Position: st.Position,
		Speed:    st.Speed,
		Iq:       st.Iq,
		Vq:       st.Vq,
	}
}
