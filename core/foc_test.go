package core

import (
	"errors"
	"testing"
)

type fakeAngle struct {
	angle   float32
	initErr error
	inits   int
}

func (f *fakeAngle) Init() error        { f.inits++; return f.initErr }
func (f *fakeAngle) ReadAngle() float32 { return f.angle }

type fakeCurrent struct {
	ia, ib float32
	inits  int
}

func (f *fakeCurrent) Init() error { f.inits++; return nil }

func (f *fakeCurrent) ReadPhaseCurrents() (float32, float32) {
	return f.ia, f.ib
}

type fakePhases struct {
	u, v, w float32
	calls   int
	inits   int
}

func (f *fakePhases) Init() error { f.inits++; return nil }
func (f *fakePhases) SetDuty(u, v, w float32) {
	f.u, f.v, f.w = u, v, w
	f.calls++
}

type testRig struct {
	angle   *fakeAngle
	current *fakeCurrent
	phases  *fakePhases
	store   *PageStore
	flash   *MemFlash
	ctrl    *Controller
}

func newTestController(t *testing.T, cfg Config) *testRig {
	t.Helper()
	r := &testRig{
		angle:   &fakeAngle{},
		current: &fakeCurrent{},
		phases:  &fakePhases{},
	}
	r.store, r.flash = newTestStore(t)
	ctrl, err := New(cfg, Devices{
		Angle:   r.angle,
		Current: r.current,
		Phases:  r.phases,
		Store:   r.store,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.ctrl = ctrl
	return r
}

func TestControllerInit(t *testing.T) {
	r := newTestController(t, DefaultConfig())
	if r.ctrl.Armed() {
		t.Errorf("armed before Init")
	}
	if err := r.ctrl.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !r.ctrl.Armed() {
		t.Errorf("not armed after Init")
	}
	if r.angle.inits != 1 || r.current.inits != 1 || r.phases.inits != 1 {
		t.Errorf("collaborators not initialised: %d %d %d", r.angle.inits, r.current.inits, r.phases.inits)
	}
	if cal := r.ctrl.Calibration(); cal.ZeroOffset != 0 || cal.Direction != 1 {
		t.Errorf("blank store should fall back to zero offset, got %+v", cal)
	}
}

func TestControllerInitError(t *testing.T) {
	r := newTestController(t, DefaultConfig())
	r.angle.initErr = errors.New("no sensor")
	if err := r.ctrl.Init(); err == nil {
		t.Fatalf("expected sensor error")
	}
	if r.ctrl.Armed() {
		t.Errorf("armed after failed Init")
	}
}

func TestControllerLoadsCalibration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CalibrationOffset = 64
	r := newTestController(t, cfg)

	want := Calibration{ZeroOffset: 0.75, PolePairs: uint8(cfg.PolePairs), Direction: -1}
	if err := SaveCalibration(r.store, 64, want); err != nil {
		t.Fatalf("SaveCalibration: %v", err)
	}
	if err := r.ctrl.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := r.ctrl.Calibration(); got != want {
		t.Errorf("calibration %+v, want %+v", got, want)
	}

	// mismatched pole pairs are ignored
	SaveCalibration(r.store, 64, Calibration{ZeroOffset: 1, PolePairs: 3, Direction: 1})
	other, err := New(cfg, Devices{Angle: r.angle, Current: r.current, Phases: r.phases, Store: r.store})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	other.Init()
	if got := other.Calibration(); got.ZeroOffset != 0 {
		t.Errorf("calibration for other pole count applied: %+v", got)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"pole pairs", func(c *Config) { c.PolePairs = 0 }},
		{"sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"control rate above sample rate", func(c *Config) { c.ControlRate = c.SampleRate * 2 }},
		{"bus voltage", func(c *Config) { c.NominalBusVoltage = -1 }},
		{"mode", func(c *Config) { c.Mode = 9 }},
		{"speed bound", func(c *Config) { c.Speed.OutputLimit = Between(1, -1) }},
		{"speed filter", func(c *Config) { c.SpeedFilter.Cutoff = 0 }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(&cfg)
		err := cfg.Validate()
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", tt.name, err)
		}
	}

	cfg := DefaultConfig()
	cfg.Speed.OutputLimit = Between(1, -1)
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidBound) {
		t.Errorf("bound error not wrapped: %v", err)
	}
}

func TestNewRequiresDevices(t *testing.T) {
	_, err := New(DefaultConfig(), Devices{Angle: &fakeAngle{}})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestFastTickDisarmed(t *testing.T) {
	r := newTestController(t, DefaultConfig())
	r.ctrl.FastTick()
	if r.phases.calls != 1 || r.phases.u != 0 || r.phases.v != 0 || r.phases.w != 0 {
		t.Errorf("disarmed tick: %d calls, duty %v %v %v", r.phases.calls, r.phases.u, r.phases.v, r.phases.w)
	}
	if r.ctrl.Status().Ticks != 0 {
		t.Errorf("disarmed tick counted")
	}
}

func TestFastTickZeroErrorCentresDuty(t *testing.T) {
	r := newTestController(t, DefaultConfig())
	r.ctrl.Init()

	for i := 0; i < 10; i++ {
		r.ctrl.FastTick()
	}
	if !near(r.phases.u, 0.5, 1e-6) || !near(r.phases.v, 0.5, 1e-6) || !near(r.phases.w, 0.5, 1e-6) {
		t.Errorf("zero error duty %v %v %v, want 0.5", r.phases.u, r.phases.v, r.phases.w)
	}
	if r.ctrl.Status().Ticks != 10 {
		t.Errorf("ticks %d, want 10", r.ctrl.Status().Ticks)
	}
}

func TestFastTickDrivesQAxis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeCurrent
	r := newTestController(t, cfg)
	r.ctrl.Init()
	r.ctrl.SetTarget(1)
	r.ctrl.SlowTick()

	// rotor at electrical angle 0: q axis is β, so phase u stays centred
	for i := 0; i < 5; i++ {
		r.ctrl.FastTick()
	}
	st := r.ctrl.Status()
	if st.Vq <= 0 {
		t.Errorf("Vq %v, want positive for positive Iq error", st.Vq)
	}
	if st.Vd != 0 {
		t.Errorf("Vd %v, want 0 with zero Id error", st.Vd)
	}
	if !near(r.phases.u, 0.5, 1e-5) || !(r.phases.v > r.phases.w) {
		t.Errorf("duty %v %v %v, want u centred and v > w", r.phases.u, r.phases.v, r.phases.w)
	}
}

func TestFastTickBusVoltageScaling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeCurrent
	run := func(vbus float32) float32 {
		r := newTestController(t, cfg)
		r.ctrl.Init()
		r.ctrl.UpdateBusVoltage(vbus)
		r.ctrl.SetTarget(1)
		r.ctrl.SlowTick()
		r.ctrl.FastTick()
		return r.phases.v - r.phases.w
	}

	lo, hi := run(12), run(24)
	if !near(lo, 2*hi, 1e-5) {
		t.Errorf("duty spread %v at 12 V, %v at 24 V; want 2:1", lo, hi)
	}
}

func TestUpdateBusVoltageIgnoresNonPositive(t *testing.T) {
	r := newTestController(t, DefaultConfig())
	r.ctrl.UpdateBusVoltage(20)
	r.ctrl.UpdateBusVoltage(0)
	r.ctrl.UpdateBusVoltage(-3)
	if v := r.ctrl.Status().BusVoltage; v != 20 {
		t.Errorf("bus voltage %v, want 20", v)
	}
}

func TestCascadeAngleErrorDrivesSpeedTarget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeAngle
	r := newTestController(t, cfg)
	r.ctrl.Init()
	r.ctrl.SetTarget(1)

	for i := 0; i < 20; i++ {
		r.ctrl.SlowTick()
		if r.ctrl.pidSpeed.Target() <= 0 {
			t.Fatalf("tick %d: speed target %v, want positive", i, r.ctrl.pidSpeed.Target())
		}
	}
	if r.ctrl.iqRef.Load() <= 0 {
		t.Errorf("iq reference %v, want positive", r.ctrl.iqRef.Load())
	}
}

func TestCascadeSpeedErrorDrivesCurrentTarget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeSpeed
	r := newTestController(t, cfg)
	r.ctrl.Init()
	r.ctrl.SetTarget(10)

	prev := float32(0)
	for i := 0; i < 20; i++ {
		r.ctrl.SlowTick()
		r.ctrl.FastTick()
		iq := r.ctrl.iqRef.Load()
		if iq <= 0 {
			t.Fatalf("tick %d: iq reference %v, want positive", i, iq)
		}
		if iq < prev {
			t.Errorf("tick %d: iq reference fell from %v to %v under constant error", i, prev, iq)
		}
		prev = iq
		if r.ctrl.pidQ.Target() != iq {
			t.Errorf("tick %d: q loop target %v, want %v", i, r.ctrl.pidQ.Target(), iq)
		}
	}
}

func TestSlowTickSpeedEstimateWraps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpeedFilter = FilterConfig{}
	r := newTestController(t, cfg)
	r.angle.angle = TwoPi - 0.01
	r.ctrl.Init()

	r.angle.angle = 0.01
	r.ctrl.SlowTick()
	st := r.ctrl.Status()
	if !near(st.Speed, 0.02*cfg.ControlRate, 1e-2) {
		t.Errorf("speed %v, want %v across the wrap", st.Speed, 0.02*cfg.ControlRate)
	}
	if !near(st.Position, 0.02, 1e-5) {
		t.Errorf("position %v, want 0.02", st.Position)
	}
}

func TestSlowTickDisarmedClearsReference(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeCurrent
	r := newTestController(t, cfg)
	r.ctrl.Init()
	r.ctrl.SetTarget(2)
	r.ctrl.SlowTick()
	if r.ctrl.iqRef.Load() != 2 {
		t.Fatalf("iq reference %v, want 2", r.ctrl.iqRef.Load())
	}

	r.ctrl.Disarm()
	r.ctrl.SlowTick()
	if r.ctrl.iqRef.Load() != 0 {
		t.Errorf("iq reference %v after disarm, want 0", r.ctrl.iqRef.Load())
	}
}

func TestModeChangeAppliedBySlowTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeSpeed
	r := newTestController(t, cfg)
	r.ctrl.Init()
	r.ctrl.SetTarget(20)
	for i := 0; i < 5; i++ {
		r.ctrl.SlowTick()
	}
	if r.ctrl.pidSpeed.Integrator() == 0 {
		t.Fatalf("speed integrator did not accumulate")
	}

	if err := r.ctrl.SetMode(ModeAngle); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if r.ctrl.Status().Mode != ModeSpeed {
		t.Errorf("mode applied before slow tick")
	}
	if r.ctrl.Target() != r.ctrl.Status().Position {
		t.Errorf("angle target %v, want current position", r.ctrl.Target())
	}

	r.ctrl.SlowTick()
	if r.ctrl.Status().Mode != ModeAngle {
		t.Errorf("mode %v, want angle", r.ctrl.Status().Mode)
	}
	// integrator seeded to zero, then one step of zero speed error
	if got := r.ctrl.pidSpeed.Integrator(); got != 0 {
		t.Errorf("speed integrator %v after hand-off, want 0", got)
	}

	if err := r.ctrl.SetMode(Mode(7)); err != ErrInvalidMode {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}
}

func TestModeRequestCarriesTarget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeSpeed
	r := newTestController(t, cfg)
	r.ctrl.Init()
	r.ctrl.SetTarget(20)
	r.angle.angle = 2
	r.ctrl.SlowTick()
	pos := r.ctrl.Status().Position
	if pos == 0 {
		t.Fatalf("position did not move")
	}

	if err := r.ctrl.SetMode(ModeAngle); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	mode, target := unpackCommand(r.ctrl.cmd.Load())
	if mode != ModeAngle || target != pos {
		t.Errorf("request %v/%v, want angle/%v", mode, target, pos)
	}

	// the slow tick sees the new mode with its own target, so the speed
	// loop is asked to hold still rather than chase the position value
	r.ctrl.SlowTick()
	if got := r.ctrl.pidAngle.Target(); got != pos {
		t.Errorf("angle target %v, want %v", got, pos)
	}
	if got := r.ctrl.pidSpeed.Target(); got != 0 {
		t.Errorf("speed target %v, want 0", got)
	}

	r.ctrl.SetTarget(-1)
	if mode, target := unpackCommand(r.ctrl.cmd.Load()); mode != ModeAngle || target != -1 {
		t.Errorf("request %v/%v after SetTarget, want angle/-1", mode, target)
	}
}

// alignFollower moves the fake rotor to wherever the alignment vector
// points, as seen through an encoder with an offset and direction.
type alignFollower struct {
	r         *testRig
	offset    float32
	direction float32
}

func (a *alignFollower) settle() {
	for i := 0; i < 3; i++ {
		a.r.ctrl.FastTick()
	}
	theta := a.r.ctrl.alignAngle.Load()
	pp := float32(a.r.ctrl.cfg.PolePairs)
	a.r.angle.angle = WrapAngle(a.offset + a.direction*theta/pp)
}

func TestCalibrateZero(t *testing.T) {
	for _, dir := range []float32{1, -1} {
		r := newTestController(t, DefaultConfig())
		f := &alignFollower{r: r, offset: 2, direction: dir}

		if err := r.ctrl.CalibrateZero(f.settle); err != nil {
			t.Fatalf("dir %v: CalibrateZero: %v", dir, err)
		}
		cal := r.ctrl.Calibration()
		if !near(cal.ZeroOffset, 2, 1e-5) || float32(cal.Direction) != dir {
			t.Errorf("dir %v: calibration %+v", dir, cal)
		}
		if r.ctrl.Armed() {
			t.Errorf("dir %v: armed after calibration", dir)
		}

		// electrical angle is zero at the captured offset and advances with the rotor
		if e := r.ctrl.electricalAngle(2); !near(e, 0, 1e-5) {
			t.Errorf("dir %v: electrical angle at zero %v", dir, e)
		}
		e := r.ctrl.electricalAngle(WrapAngle(2 + dir*0.1))
		if !near(e, 0.1*float32(r.ctrl.cfg.PolePairs), 1e-4) {
			t.Errorf("dir %v: electrical angle %v, want %v", dir, e, 0.1*float32(r.ctrl.cfg.PolePairs))
		}
	}
}

func TestCalibrateZeroNoMotion(t *testing.T) {
	r := newTestController(t, DefaultConfig())
	if err := r.ctrl.CalibrateZero(func() {}); err != ErrNoMotion {
		t.Errorf("expected ErrNoMotion, got %v", err)
	}
}

func TestCalibrateZeroRequiresDisarmed(t *testing.T) {
	r := newTestController(t, DefaultConfig())
	r.ctrl.Init()
	if err := r.ctrl.CalibrateZero(nil); err != ErrArmed {
		t.Errorf("expected ErrArmed, got %v", err)
	}
}

func TestCalibrationAppliesAlignVoltage(t *testing.T) {
	cfg := DefaultConfig()
	r := newTestController(t, cfg)
	var duty [3]float32
	r.ctrl.CalibrateZero(func() {
		r.ctrl.FastTick()
		duty = [3]float32{r.phases.u, r.phases.v, r.phases.w}
	})
	// d axis at electrical angle 0 is phase u; phases v and w sit at -V/2,
	// so the centred common mode is V/4
	want := 0.5 + 0.75*cfg.AlignVoltage/cfg.NominalBusVoltage
	if !near(duty[0], want, 1e-5) {
		t.Errorf("phase u duty %v, want %v", duty[0], want)
	}
}

func TestSaveCalibration(t *testing.T) {
	r := newTestController(t, DefaultConfig())
	r.ctrl.Init()
	if err := r.ctrl.SaveCalibration(); err != ErrArmed {
		t.Fatalf("expected ErrArmed while armed, got %v", err)
	}

	r.ctrl.Disarm()
	f := &alignFollower{r: r, offset: 1, direction: 1}
	if err := r.ctrl.CalibrateZero(f.settle); err != nil {
		t.Fatalf("CalibrateZero: %v", err)
	}
	if err := r.ctrl.SaveCalibration(); err != nil {
		t.Fatalf("SaveCalibration: %v", err)
	}

	got, err := LoadCalibration(r.store, r.ctrl.cfg.CalibrationOffset)
	if err != nil {
		t.Fatalf("LoadCalibration: %v", err)
	}
	if got != r.ctrl.Calibration() {
		t.Errorf("stored %+v, want %+v", got, r.ctrl.Calibration())
	}
	if r.flash.Erases != 1 {
		t.Errorf("%d erases for a one-page record, want 1", r.flash.Erases)
	}
}

func TestSaveCalibrationWithoutStore(t *testing.T) {
	ctrl, err := New(DefaultConfig(), Devices{
		Angle:   &fakeAngle{},
		Current: &fakeCurrent{},
		Phases:  &fakePhases{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ctrl.Init(); err != nil {
		t.Fatalf("Init without store: %v", err)
	}
	ctrl.Disarm()
	if err := ctrl.SaveCalibration(); err != ErrNoStore {
		t.Errorf("expected ErrNoStore, got %v", err)
	}
}
