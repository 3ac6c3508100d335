package sim

import "math"

// Encoder reads the motor angle like a magnetic encoder mounted with an
// arbitrary offset.
type Encoder struct {
	m *Motor

	Offset   float64 // rad added to the rotor angle
	Inverted bool    // counts against the rotor direction
}

func (e *Encoder) Init() error {
	return nil
}

func (e *Encoder) ReadAngle() float32 {
	a := e.m.Theta
	if e.Inverted {
		a = -a
	}
	a = math.Mod(a+e.Offset, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return float32(a)
}

// CurrentSensor samples the motor phase currents.
type CurrentSensor struct {
	m *Motor
}

func (s *CurrentSensor) Init() error {
	return nil
}

func (s *CurrentSensor) ReadPhaseCurrents() (ia, ib float32) {
	a, b := s.m.PhaseCurrents()
	return float32(a), float32(b)
}

// Inverter holds the last commanded duty cycles.
type Inverter struct {
	du, dv, dw float32
	updates    int
}

func (v *Inverter) Init() error {
	v.du, v.dv, v.dw = 0, 0, 0
	return nil
}

func (v *Inverter) SetDuty(u, w1, w2 float32) {
	v.du, v.dv, v.dw = u, w1, w2
	v.updates++
}

// Duty returns the duty cycles in force.
func (v *Inverter) Duty() (u, w1, w2 float32) {
	return v.du, v.dv, v.dw
}

// Updates counts SetDuty calls.
func (v *Inverter) Updates() int {
	return v.updates
}
