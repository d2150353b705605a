package sim

import (
	"math"

	"github.com/san-kum/nbody/internal/body"
	"github.com/san-kum/nbody/internal/metrics"
)

// Observer is notified on the owning rank after every completed step with
// the full padded population.
type Observer interface {
	OnStep(step int, all []body.Body, phases metrics.Phases)
}

type ObserverFunc func(step int, all []body.Body, phases metrics.Phases)

func (f ObserverFunc) OnStep(step int, all []body.Body, phases metrics.Phases) {
	f(step, all, phases)
}

// StepRecord is one row of the per-step log. Energy is NaN on steps that
// were not sampled.
type StepRecord struct {
	Step   int
	Energy float64
	Phases metrics.Phases
}

func (r StepRecord) Sampled() bool { return !math.IsNaN(r.Energy) }

type Result struct {
	Rank  int
	Steps int
	// Final is the population after the last step, without padding.
	Final   []body.Body
	Records []StepRecord
	Timings metrics.Timings
	Metrics map[string]float64
	// RankAverages holds every rank's mean phase durations when the run
	// was local; index is the rank.
	RankAverages []metrics.Phases
}

// Energies returns the sampled (step, energy) pairs in order.
func (r *Result) Energies() (steps []int, energy []float64) {
	for _, rec := range r.Records {
		if rec.Sampled() {
			steps = append(steps, rec.Step)
			energy = append(energy, rec.Energy)
		}
	}
	return steps, energy
}
