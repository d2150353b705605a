package body

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/spatial/r2"
)

// Layout selects how initial positions and velocities are drawn.
type Layout string

const (
	// Uniform draws every coordinate independently, as the reference
	// runs do.
	Uniform Layout = "uniform"
	// Disk places bodies on a rotating disk around a heavy central body.
	Disk Layout = "disk"
	// Clusters splits the bodies between two separated uniform clumps.
	Clusters Layout = "clusters"
	// Pair places two equal masses at rest on the x axis; any further
	// bodies are drawn uniformly.
	Pair Layout = "pair"
)

func (l Layout) Valid() bool {
	switch l {
	case "", Uniform, Disk, Clusters, Pair:
		return true
	}
	return false
}

// GenConfig bounds the sampled initial state.
type GenConfig struct {
	MassMax     float64
	PosMax      float64
	VelocityMax float64
	Layout      Layout
}

// Generate samples n bodies with ids 0..n-1. Masses fall in [0, MassMax),
// positions in [-PosMax, PosMax) and velocities in
// [-VelocityMax, VelocityMax) on each axis unless the layout says
// otherwise. The same seed always yields the same population.
func Generate(n int, cfg GenConfig, seed uint64) []Body {
	g := &generator{cfg: cfg, rnd: rand.New(rand.NewSource(seed))}

	bodies := make([]Body, n)
	for i := range bodies {
		bodies[i] = g.uniform(int64(i))
	}

	switch cfg.Layout {
	case "", Uniform:
	case Disk:
		g.disk(bodies)
	case Clusters:
		g.clusters(bodies)
	case Pair:
		g.pair(bodies)
	default:
		panic(fmt.Sprintf("body: unknown layout %q", cfg.Layout))
	}
	return bodies
}

type generator struct {
	cfg GenConfig
	rnd *rand.Rand
}

func (g *generator) between(lo, hi float64) float64 {
	return lo + g.rnd.Float64()*(hi-lo)
}

func (g *generator) mass() float64 {
	m := g.between(0, g.cfg.MassMax)
	// a sampled zero would turn the body into padding
	for m == 0 && g.cfg.MassMax > 0 {
		m = g.between(0, g.cfg.MassMax)
	}
	return m
}

func (g *generator) uniform(id int64) Body {
	c := g.cfg
	return Body{
		ID:   id,
		Mass: g.mass(),
		Position: r2.Vec{
			X: g.between(-c.PosMax, c.PosMax),
			Y: g.between(-c.PosMax, c.PosMax),
		},
		Velocity: r2.Vec{
			X: g.between(-c.VelocityMax, c.VelocityMax),
			Y: g.between(-c.VelocityMax, c.VelocityMax),
		},
	}
}

// disk keeps the sampled masses, puts body 0 at the centre with the mass of
// all others combined and sets every other body on a circular orbit.
func (g *generator) disk(bodies []Body) {
	if len(bodies) == 0 {
		return
	}
	var total float64
	for _, b := range bodies[1:] {
		total += b.Mass
	}
	central := max(total, g.cfg.MassMax)
	bodies[0].Position = r2.Vec{}
	bodies[0].Velocity = r2.Vec{}
	bodies[0].Mass = central

	for i := 1; i < len(bodies); i++ {
		r := g.cfg.PosMax * math.Sqrt(g.between(0.01, 1))
		phi := g.between(0, 2*math.Pi)
		sin, cos := math.Sincos(phi)
		speed := math.Sqrt(G * central / r)
		bodies[i].Position = r2.Vec{X: r * cos, Y: r * sin}
		bodies[i].Velocity = r2.Vec{X: -speed * sin, Y: speed * cos}
	}
}

// clusters moves the first half of the bodies around (-PosMax/2, 0) and the
// rest around (PosMax/2, 0), each within a quarter of PosMax.
func (g *generator) clusters(bodies []Body) {
	half := len(bodies) / 2
	spread := g.cfg.PosMax / 4
	for i := range bodies {
		cx := g.cfg.PosMax / 2
		if i < half {
			cx = -cx
		}
		bodies[i].Position = r2.Vec{
			X: cx + g.between(-spread, spread),
			Y: g.between(-spread, spread),
		}
	}
}

func (g *generator) pair(bodies []Body) {
	for i := 0; i < min(2, len(bodies)); i++ {
		x := g.cfg.PosMax / 2
		if i == 0 {
			x = -x
		}
		bodies[i].Mass = g.cfg.MassMax
		bodies[i].Position = r2.Vec{X: x}
		bodies[i].Velocity = r2.Vec{}
	}
}
