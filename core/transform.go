package core

import "math"

const (
	Pi    float32 = math.Pi
	TwoPi float32 = 2 * math.Pi

	sqrt3     = 1.7320508075688772
	invSqrt3  = 1 / sqrt3
	halfSqrt3 = sqrt3 / 2
)

// WrapAngle maps an angle into [0, 2π).
func WrapAngle(a float32) float32 {
	r := float32(math.Mod(float64(a), float64(TwoPi)))
	if r < 0 {
		r += TwoPi
	}
	if r >= TwoPi {
		r = 0
	}
	return r
}

// WrapDelta maps an angle difference into (-π, π].
func WrapDelta(d float32) float32 {
	d = WrapAngle(d)
	if d > Pi {
		d -= TwoPi
	}
	return d
}

// Clarke projects two phase currents of a balanced three-phase system onto
// the stationary α/β frame.
func Clarke(ia, ib float32) (alpha, beta float32) {
	return ia, (ia + 2*ib) * invSqrt3
}

// Park rotates α/β into the rotor frame at electrical angle theta.
func Park(alpha, beta, theta float32) (d, q float32) {
	s, c := math.Sincos(float64(theta))
	sin, cos := float32(s), float32(c)
	return alpha*cos + beta*sin, -alpha*sin + beta*cos
}

// InvPark rotates d/q back into the stationary frame.
func InvPark(d, q, theta float32) (alpha, beta float32) {
	s, c := math.Sincos(float64(theta))
	sin, cos := float32(s), float32(c)
	return d*cos - q*sin, d*sin + q*cos
}

// Modulate converts a stationary-frame voltage vector into three duty
// cycles in [0, 1]. The common mode is centred between the highest and
// lowest phase, which is equivalent to space-vector modulation. A
// non-positive bus voltage yields all legs off.
func Modulate(alpha, beta, vbus float32) (du, dv, dw float32) {
	if !(vbus > 0) {
		return 0, 0, 0
	}
	va := alpha
	vb := -0.5*alpha + halfSqrt3*beta
	vc := -0.5*alpha - halfSqrt3*beta

	hi, lo := va, va
	for _, v := range [2]float32{vb, vc} {
		if v > hi {
			hi = v
		}
		if v < lo {
			lo = v
		}
	}
	cm := (hi + lo) / 2

	return duty(va, cm, vbus), duty(vb, cm, vbus), duty(vc, cm, vbus)
}

func duty(v, cm, vbus float32) float32 {
	d := 0.5 + (v-cm)/vbus
	if d > 1 {
		return 1
	}
	if d < 0 {
		return 0
	}
	return d
}
