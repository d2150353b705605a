package metrics

import (
	"math"

	"github.com/san-kum/nbody/internal/body"
)

// Kinetic is the total kinetic energy. Padding carries none.
func Kinetic(bodies []body.Body) float64 {
	var ke float64
	for _, b := range bodies {
		v2 := b.Velocity.X*b.Velocity.X + b.Velocity.Y*b.Velocity.Y
		ke += 0.5 * b.Mass * v2
	}
	return ke
}

// Potential is the pairwise gravitational potential energy. Coincident
// pairs are skipped, matching the force evaluation.
func Potential(bodies []body.Body) float64 {
	var pe float64
	for i := range bodies {
		bi := bodies[i]
		if bi.IsPadding() {
			continue
		}
		for j := i + 1; j < len(bodies); j++ {
			bj := bodies[j]
			if bj.IsPadding() {
				continue
			}
			dx := bj.Position.X - bi.Position.X
			dy := bj.Position.Y - bi.Position.Y
			r := math.Sqrt(dx*dx + dy*dy)
			if r == 0 {
				continue
			}
			pe -= body.G * bi.Mass * bj.Mass / r
		}
	}
	return pe
}

func Energy(bodies []body.Body) float64 {
	return Kinetic(bodies) + Potential(bodies)
}

// EnergyDrift tracks the largest relative deviation of the total energy
// from its first observed value.
type EnergyDrift struct {
	name          string
	initialEnergy float64
	currentEnergy float64
	maxDrift      float64
	samples       int
}

func NewEnergyDrift() *EnergyDrift {
	return &EnergyDrift{name: "energy_drift"}
}

func (e *EnergyDrift) Name() string { return e.name }

func (e *EnergyDrift) Observe(step int, bodies []body.Body) {
	energy := Energy(bodies)

	if e.samples == 0 {
		e.initialEnergy = energy
	}

	e.currentEnergy = energy
	e.samples++

	if e.initialEnergy != 0 {
		drift := math.Abs(energy-e.initialEnergy) / math.Abs(e.initialEnergy)
		e.maxDrift = math.Max(e.maxDrift, drift)
	}
}

func (e *EnergyDrift) Value() float64 {
	return e.maxDrift
}

// Current is the energy at the last observed step.
func (e *EnergyDrift) Current() float64 {
	return e.currentEnergy
}

func (e *EnergyDrift) Reset() {
	e.initialEnergy = 0
	e.currentEnergy = 0
	e.maxDrift = 0
	e.samples = 0
}
