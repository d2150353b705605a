package metrics

import (
	"math"

	"github.com/san-kum/nbody/internal/body"
	"github.com/san-kum/nbody/internal/tree"
	"gonum.org/v1/gonum/spatial/barneshut"
	"gonum.org/v1/gonum/spatial/r2"
)

// Accuracy compares tree forces with the exact pairwise forces.
type Accuracy struct {
	Theta float64
	// RMS is ‖F_tree − F_exact‖ over ‖F_exact‖ across all bodies.
	RMS float64
	// Max is the worst per-body relative error.
	Max float64
}

type particle struct {
	pos  r2.Vec
	mass float64
}

func (p *particle) Coord2() r2.Vec { return p.pos }
func (p *particle) Mass() float64  { return p.mass }

// ForceError evaluates the tree force on every non-padding body at theta
// and compares it with gonum's direct summation.
func ForceError(bodies []body.Body, theta float64) (Accuracy, error) {
	acc := Accuracy{Theta: theta}

	domain, err := body.Bounds(bodies)
	if err != nil {
		return acc, err
	}
	t := tree.New(domain)

	var live []body.Body
	var ps []barneshut.Particle2
	for _, b := range bodies {
		if b.IsPadding() {
			continue
		}
		t.Insert(b)
		live = append(live, b)
		ps = append(ps, &particle{pos: b.Position, mass: b.Mass})
	}

	// Without Reset the plane sums every pair directly.
	plane := barneshut.Plane{Particles: ps}

	var num, den float64
	for i, b := range live {
		want := r2.Scale(body.G, plane.ForceOn(ps[i], 0, barneshut.Gravity2))
		got := t.Force(b, theta)

		diff := r2.Norm2(r2.Sub(got, want))
		ref := r2.Norm2(want)
		num += diff
		den += ref
		if ref > 0 {
			acc.Max = math.Max(acc.Max, math.Sqrt(diff/ref))
		}
	}
	if den > 0 {
		acc.RMS = math.Sqrt(num / den)
	}
	return acc, nil
}

// Sweep runs ForceError for each theta.
func Sweep(bodies []body.Body, thetas []float64) ([]Accuracy, error) {
	out := make([]Accuracy, 0, len(thetas))
	for _, theta := range thetas {
		a, err := ForceError(bodies, theta)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
