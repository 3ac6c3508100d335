package core

import (
	"math"
	"sync/atomic"
)

// Setpoint is a float32 handed between execution contexts. Loads and
// stores are single atomic word accesses; each Setpoint must have exactly
// one writing context.
type Setpoint struct {
	bits uint32
}

func (s *Setpoint) Store(v float32) {
	atomic.StoreUint32(&s.bits, math.Float32bits(v))
}

func (s *Setpoint) Load() float32 {
	return math.Float32frombits(atomic.LoadUint32(&s.bits))
}
