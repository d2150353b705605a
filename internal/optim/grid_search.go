// Package optim searches run parameters for the fastest configuration whose
// force error stays within a budget.
package optim

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/san-kum/nbody/internal/body"
	"github.com/san-kum/nbody/internal/config"
	"github.com/san-kum/nbody/internal/metrics"
	"github.com/san-kum/nbody/internal/sim"
)

var ErrNoCandidate = errors.New("optim: no configuration within the error budget")

// Trial is one evaluated point of the grid.
type Trial struct {
	Theta   float64
	Threads int
	Procs   int
	StepAvg time.Duration
	RMS     float64
}

type GridSearch struct {
	Thetas  []float64
	Threads []int
	Procs   []int
	// MaxRMS is the largest acceptable relative RMS force error.
	MaxRMS float64
}

// Search runs a short local simulation for every grid point and returns all
// trials in grid order plus the fastest one whose error is within MaxRMS.
// Force error depends on theta only and is computed once per theta.
func (g *GridSearch) Search(ctx context.Context, base *config.Config) ([]Trial, Trial, error) {
	bodies := body.Generate(base.Bodies, base.Generator(), base.Seed)

	errByTheta := make(map[float64]float64, len(g.Thetas))
	for _, th := range g.Thetas {
		acc, err := metrics.ForceError(bodies, th)
		if err != nil {
			return nil, Trial{}, err
		}
		errByTheta[th] = acc.RMS
	}

	threads := g.Threads
	if len(threads) == 0 {
		threads = []int{base.Threads}
	}
	procs := g.Procs
	if len(procs) == 0 {
		procs = []int{base.Procs}
	}

	var trials []Trial
	best := Trial{StepAvg: time.Duration(math.MaxInt64)}
	found := false

	for _, th := range g.Thetas {
		for _, t := range threads {
			for _, p := range procs {
				if err := ctx.Err(); err != nil {
					return trials, best, err
				}

				cfg := *base
				cfg.Theta, cfg.Threads, cfg.Procs = th, t, p
				cfg.EnergyEvery, cfg.Print = 0, false

				res, err := sim.RunLocal(ctx, &cfg, nil)
				if err != nil {
					return trials, best, err
				}

				trial := Trial{
					Theta:   th,
					Threads: t,
					Procs:   p,
					StepAvg: res.Timings.Average().Total(),
					RMS:     errByTheta[th],
				}
				trials = append(trials, trial)

				if trial.RMS <= g.MaxRMS && trial.StepAvg < best.StepAvg {
					best, found = trial, true
				}
			}
		}
	}

	if !found {
		return trials, Trial{}, ErrNoCandidate
	}
	return trials, best, nil
}
