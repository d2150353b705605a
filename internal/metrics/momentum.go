package metrics

import (
	"math"

	"github.com/san-kum/nbody/internal/body"
	"gonum.org/v1/gonum/spatial/r2"
)

// Momentum is the total linear momentum of the population.
func Momentum(bodies []body.Body) r2.Vec {
	var p r2.Vec
	for _, b := range bodies {
		p = r2.Add(p, r2.Scale(b.Mass, b.Velocity))
	}
	return p
}

// MomentumDrift tracks the largest change in total momentum relative to the
// first observation. Barnes-Hut forces are not exactly antisymmetric, so
// this grows with theta.
type MomentumDrift struct {
	initial  r2.Vec
	maxDrift float64
	samples  int
}

func NewMomentumDrift() *MomentumDrift { return &MomentumDrift{} }

func (m *MomentumDrift) Name() string { return "momentum_drift" }

func (m *MomentumDrift) Observe(step int, bodies []body.Body) {
	p := Momentum(bodies)
	if m.samples == 0 {
		m.initial = p
	}
	m.samples++
	m.maxDrift = math.Max(m.maxDrift, r2.Norm(r2.Sub(p, m.initial)))
}

func (m *MomentumDrift) Value() float64 { return m.maxDrift }

func (m *MomentumDrift) Reset() {
	m.initial = r2.Vec{}
	m.maxDrift = 0
	m.samples = 0
}
