package metrics

import (
	"math"

	"github.com/san-kum/nbody/internal/body"
)

// Stability is the fraction of observed steps in which every body had a
// finite state within radius of the origin.
type Stability struct {
	name       string
	radius     float64
	violations int
	samples    int
}

func NewStability(radius float64) *Stability {
	return &Stability{
		name:   "stability",
		radius: radius,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(step int, bodies []body.Body) {
	s.samples++
	for _, b := range bodies {
		if !finite(b) || math.Hypot(b.Position.X, b.Position.Y) > s.radius {
			s.violations++
			break
		}
	}
}

func finite(b body.Body) bool {
	for _, v := range []float64{b.Position.X, b.Position.Y, b.Velocity.X, b.Velocity.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}
