// Package sim is a host-side plant model for running the controller
// without hardware.
package sim

import "math"

const sqrt3 = 1.7320508075688772

// MotorParams describes a surface-mount PMSM with Ld = Lq.
type MotorParams struct {
	Resistance  float64 `json:"resistance" yaml:"resistance"`     // Ω per phase
	Inductance  float64 `json:"inductance" yaml:"inductance"`     // H per phase
	FluxLinkage float64 `json:"flux_linkage" yaml:"flux_linkage"` // Wb
	PolePairs   int     `json:"pole_pairs" yaml:"pole_pairs"`
	Inertia     float64 `json:"inertia" yaml:"inertia"`   // kg·m²
	Damping     float64 `json:"damping" yaml:"damping"`   // N·m·s/rad
	Load        float64 `json:"load" yaml:"load"`         // N·m, opposes positive rotation
	MaxStep     float64 `json:"max_step" yaml:"max_step"` // integration step, s
}

// DefaultMotorParams matches a small 7 pole-pair gimbal motor.
func DefaultMotorParams() MotorParams {
	return MotorParams{
		Resistance:  0.5,
		Inductance:  0.5e-3,
		FluxLinkage: 0.005,
		PolePairs:   7,
		Inertia:     1e-5,
		Damping:     1e-5,
		MaxStep:     5e-6,
	}
}

// Motor integrates the d/q electrical equations and the rotor mechanics
// with explicit Euler steps.
type Motor struct {
	p MotorParams

	Id, Iq float64 // A, rotor frame
	Omega  float64 // mechanical rad/s
	Theta  float64 // mechanical rad, unwrapped
}

// NewMotor returns a motor at rest at angle 0.
func NewMotor(p MotorParams) *Motor {
	if p.MaxStep <= 0 {
		p.MaxStep = DefaultMotorParams().MaxStep
	}
	return &Motor{p: p}
}

func (m *Motor) Params() MotorParams {
	return m.p
}

// SetLoad changes the external load torque.
func (m *Motor) SetLoad(torque float64) {
	m.p.Load = torque
}

// Angle returns the mechanical angle in [0, 2π).
func (m *Motor) Angle() float64 {
	a := math.Mod(m.Theta, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

// ElectricalAngle returns the rotor flux angle.
func (m *Motor) ElectricalAngle() float64 {
	return float64(m.p.PolePairs) * m.Theta
}

// Torque returns the electromagnetic torque.
func (m *Motor) Torque() float64 {
	return 1.5 * float64(m.p.PolePairs) * m.p.FluxLinkage * m.Iq
}

// PhaseCurrents returns the phase A and B currents.
func (m *Motor) PhaseCurrents() (ia, ib float64) {
	s, c := math.Sincos(m.ElectricalAngle())
	alpha := m.Id*c - m.Iq*s
	beta := m.Id*s + m.Iq*c
	return alpha, -0.5*alpha + sqrt3/2*beta
}

// Step advances the model by dt seconds with the inverter legs held at
// the given duty cycles.
func (m *Motor) Step(dt, du, dv, dw, vbus float64) {
	if dt <= 0 {
		return
	}
	va, vb, vc := du*vbus, dv*vbus, dw*vbus
	valpha := (2*va - vb - vc) / 3
	vbeta := (vb - vc) / sqrt3

	n := int(math.Ceil(dt / m.p.MaxStep))
	h := dt / float64(n)
	pp := float64(m.p.PolePairs)
	r, l, flux := m.p.Resistance, m.p.Inductance, m.p.FluxLinkage

	for i := 0; i < n; i++ {
		s, c := math.Sincos(pp * m.Theta)
		vd := valpha*c + vbeta*s
		vq := -valpha*s + vbeta*c
		we := pp * m.Omega

		did := (vd - r*m.Id + we*l*m.Iq) / l
		diq := (vq - r*m.Iq - we*l*m.Id - we*flux) / l
		domega := (m.Torque() - m.p.Damping*m.Omega - m.p.Load) / m.p.Inertia

		m.Id += did * h
		m.Iq += diq * h
		m.Theta += m.Omega * h
		m.Omega += domega * h
	}
}
