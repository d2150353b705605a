package sim

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/nbody/internal/body"
	"github.com/san-kum/nbody/internal/comm"
	"github.com/san-kum/nbody/internal/config"
	"github.com/san-kum/nbody/internal/metrics"
)

// LocalRun drives cfg.Procs simulators in one process, one goroutine per
// rank, connected by an in-memory group. Metrics and observers attach to
// rank 0.
type LocalRun struct {
	cfg    *config.Config
	groups []*comm.Local
	sims   []*Simulator
}

func NewLocalRun(cfg *config.Config, logger *log.Logger) *LocalRun {
	procs := max(cfg.Procs, 1)
	groups := comm.NewLocal(procs)
	sims := make([]*Simulator, procs)
	for i, g := range groups {
		sims[i] = New(g, cfg, logger)
	}
	return &LocalRun{cfg: cfg, groups: groups, sims: sims}
}

func (l *LocalRun) AddMetric(m metrics.Metric) { l.sims[0].AddMetric(m) }
func (l *LocalRun) AddObserver(o Observer)     { l.sims[0].AddObserver(o) }

func (l *LocalRun) each(ctx context.Context, fn func(ctx context.Context, s *Simulator) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range l.sims {
		g.Go(func() error { return fn(gctx, s) })
	}
	return g.Wait()
}

func (l *LocalRun) Start(ctx context.Context) error {
	return l.each(ctx, func(ctx context.Context, s *Simulator) error {
		return s.Start(ctx)
	})
}

// Step advances every rank by one step and returns rank 0's phase timings.
func (l *LocalRun) Step(ctx context.Context) (metrics.Phases, error) {
	var phases metrics.Phases
	err := l.each(ctx, func(ctx context.Context, s *Simulator) error {
		p, err := s.Step(ctx)
		if s.group.Rank() == 0 {
			phases = p
		}
		return err
	})
	return phases, err
}

func (l *LocalRun) Run(ctx context.Context) (*Result, error) {
	results := make([]*Result, len(l.sims))
	err := l.each(ctx, func(ctx context.Context, s *Simulator) error {
		res, err := s.Run(ctx)
		results[s.group.Rank()] = res
		return err
	})

	res := results[0]
	if res == nil {
		return nil, err
	}
	res.RankAverages = make([]metrics.Phases, len(results))
	for i, r := range results {
		if r != nil {
			res.RankAverages[i] = r.Timings.Average()
		}
	}
	return res, err
}

// Bodies is rank 0's view of the population, padding included.
func (l *LocalRun) Bodies() []body.Body { return l.sims[0].Bodies() }
func (l *LocalRun) Steps() int          { return l.sims[0].Steps() }

func (l *LocalRun) Close() error {
	return l.groups[0].Close()
}

// RunLocal is NewLocalRun followed by Run and Close.
func RunLocal(ctx context.Context, cfg *config.Config, logger *log.Logger, ms ...metrics.Metric) (*Result, error) {
	run := NewLocalRun(cfg, logger)
	defer run.Close()
	for _, m := range ms {
		run.AddMetric(m)
	}
	return run.Run(ctx)
}
