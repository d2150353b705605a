package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/san-kum/nbody/internal/body"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r2"
)

func pair() []body.Body {
	return []body.Body{
		{ID: 0, Mass: 2, Position: r2.Vec{X: 0, Y: 0}, Velocity: r2.Vec{X: 1, Y: 0}},
		{ID: 1, Mass: 3, Position: r2.Vec{X: 3, Y: 4}, Velocity: r2.Vec{X: 0, Y: -2}},
		{ID: 2}, // padding
	}
}

func TestEnergyOfPair(t *testing.T) {
	bodies := pair()

	wantKE := 0.5*2*1 + 0.5*3*4
	if got := Kinetic(bodies); got != wantKE {
		t.Errorf("expected kinetic %v, got %v", wantKE, got)
	}

	wantPE := -body.G * 2 * 3 / 5
	if got := Potential(bodies); !scalar.EqualWithinRel(got, wantPE, 1e-15) {
		t.Errorf("expected potential %v, got %v", wantPE, got)
	}

	if got := Energy(bodies); !scalar.EqualWithinRel(got, wantKE+wantPE, 1e-15) {
		t.Errorf("expected total %v, got %v", wantKE+wantPE, got)
	}
}

func TestPotentialSkipsCoincidentPairs(t *testing.T) {
	bodies := []body.Body{
		{ID: 0, Mass: 1, Position: r2.Vec{X: 1, Y: 1}},
		{ID: 1, Mass: 1, Position: r2.Vec{X: 1, Y: 1}},
	}
	if got := Potential(bodies); got != 0 {
		t.Errorf("expected zero potential, got %v", got)
	}
}

func TestMomentum(t *testing.T) {
	p := Momentum(pair())
	if p != (r2.Vec{X: 2, Y: -6}) {
		t.Errorf("expected (2, -6), got %v", p)
	}
}

func TestEnergyDrift(t *testing.T) {
	m := NewEnergyDrift()
	bodies := pair()

	m.Observe(0, bodies)
	if m.Value() != 0 {
		t.Errorf("expected zero drift after one sample, got %v", m.Value())
	}

	e0 := m.Current()
	bodies[0].Velocity = r2.Vec{X: 2, Y: 0}
	m.Observe(1, bodies)

	want := math.Abs(m.Current()-e0) / math.Abs(e0)
	if !scalar.EqualWithinRel(m.Value(), want, 1e-12) {
		t.Errorf("expected drift %v, got %v", want, m.Value())
	}

	m.Reset()
	if m.Value() != 0 || m.Current() != 0 {
		t.Error("expected zero drift after reset")
	}
}

func TestMomentumDrift(t *testing.T) {
	m := NewMomentumDrift()
	bodies := pair()
	m.Observe(0, bodies)
	bodies[1].Velocity = r2.Vec{X: 0, Y: 0}
	m.Observe(1, bodies)

	if m.Value() != 6 {
		t.Errorf("expected drift 6, got %v", m.Value())
	}
	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero drift after reset")
	}
}

func TestStability(t *testing.T) {
	s := NewStability(10)
	if s.Value() != 1 {
		t.Errorf("expected 1 with no samples, got %v", s.Value())
	}

	s.Observe(0, pair())
	escaped := pair()
	escaped[0].Position = r2.Vec{X: 100}
	s.Observe(1, escaped)
	broken := pair()
	broken[1].Velocity = r2.Vec{X: math.NaN()}
	s.Observe(2, broken)

	if !scalar.EqualWithinAbs(s.Value(), 1.0/3, 1e-15) {
		t.Errorf("expected 1/3 stable, got %v", s.Value())
	}
}

func TestTimings(t *testing.T) {
	var tm Timings
	if tm.Average() != (Phases{}) {
		t.Error("expected zero average with no steps")
	}

	tm.Add(Phases{Build: 2 * time.Millisecond, Exchange: 4 * time.Millisecond, Force: 6 * time.Millisecond, Gather: time.Millisecond})
	tm.Add(Phases{Build: 4 * time.Millisecond, Exchange: 2 * time.Millisecond, Force: 8 * time.Millisecond, Gather: 3 * time.Millisecond})

	want := Phases{Build: 3 * time.Millisecond, Exchange: 3 * time.Millisecond, Force: 7 * time.Millisecond, Gather: 2 * time.Millisecond}
	if got := tm.Average(); got != want {
		t.Errorf("expected average %+v, got %+v", want, got)
	}
	if tm.Steps() != 2 || tm.Total().Total() != 30*time.Millisecond {
		t.Errorf("unexpected totals: %d steps, %v", tm.Steps(), tm.Total().Total())
	}

	var other Timings
	other.Add(Phases{Force: 10 * time.Millisecond})
	tm.Merge(&other)
	if tm.Steps() != 3 || tm.Total().Force != 24*time.Millisecond {
		t.Errorf("merge: %d steps, force %v", tm.Steps(), tm.Total().Force)
	}
}
