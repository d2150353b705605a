// Package sim drives a run: rank 0 generates the initial population and
// broadcasts it, every rank then repeats pipeline step and redistribution
// for a fixed number of iterations.
package sim

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"

	"github.com/san-kum/nbody/internal/body"
	"github.com/san-kum/nbody/internal/comm"
	"github.com/san-kum/nbody/internal/config"
	"github.com/san-kum/nbody/internal/metrics"
	"github.com/san-kum/nbody/internal/pipeline"
)

// Simulator runs one rank. It is not safe for concurrent use.
type Simulator struct {
	group     comm.Group
	cfg       *config.Config
	logger    *log.Logger
	metrics   []metrics.Metric
	observers []Observer

	pipe    *pipeline.Pipeline
	all     []body.Body
	perProc int
	step    int
	timings metrics.Timings
	records []StepRecord
}

func New(group comm.Group, cfg *config.Config, logger *log.Logger) *Simulator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Simulator{
		group:     group,
		cfg:       cfg,
		logger:    logger,
		metrics:   make([]metrics.Metric, 0),
		observers: make([]Observer, 0),
	}
}

func (s *Simulator) AddMetric(m metrics.Metric) { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o Observer)     { s.observers = append(s.observers, o) }

func (s *Simulator) validateConfig() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if s.group.Size() != s.cfg.Procs {
		return fmt.Errorf("%w: group has %d ranks, procs is %d", config.ErrInvalid, s.group.Size(), s.cfg.Procs)
	}
	return nil
}

// Start validates the configuration and receives the initial population
// from rank 0. Every rank must call it before Step.
func (s *Simulator) Start(ctx context.Context) error {
	if err := s.validateConfig(); err != nil {
		return err
	}
	pipe, err := pipeline.New(s.group, s.cfg.Pipeline(), s.logger)
	if err != nil {
		return err
	}
	s.pipe = pipe

	var payload []byte
	if s.group.Rank() == 0 {
		bodies := body.Generate(s.cfg.Bodies, s.cfg.Generator(), s.cfg.Seed)
		padded, _ := body.Pad(bodies, s.cfg.Procs)
		payload = body.MarshalRecords(padded)
	}
	data, err := comm.Broadcast(ctx, s.group, 0, payload)
	if err != nil {
		return &pipeline.PhaseError{Phase: "broadcast", Rank: s.group.Rank(), Err: err}
	}
	all, err := body.UnmarshalRecords(data)
	if err != nil {
		return &pipeline.PhaseError{Phase: "broadcast", Rank: s.group.Rank(), Err: err}
	}
	if len(all)%s.cfg.Procs != 0 || len(all) < s.cfg.Bodies {
		return &pipeline.PhaseError{
			Phase: "broadcast",
			Rank:  s.group.Rank(),
			Err:   fmt.Errorf("%w: %d bodies for %d ranks", comm.ErrCountMismatch, len(all), s.cfg.Procs),
		}
	}

	s.all = all
	s.perProc = len(all) / s.cfg.Procs
	s.step = 0
	s.timings = metrics.Timings{}
	s.records = s.records[:0]
	for _, m := range s.metrics {
		m.Reset()
	}
	if s.sampleEnergy() {
		s.records = append(s.records, StepRecord{Step: 0, Energy: metrics.Energy(s.all)})
	}
	return nil
}

func (s *Simulator) sampleEnergy() bool {
	if s.cfg.EnergyEvery <= 0 || s.group.Rank() != 0 {
		return false
	}
	return s.step%s.cfg.EnergyEvery == 0 || s.step == s.cfg.Steps
}

// Step advances the whole population by one timestep. Step numbers count
// completed steps, so the first call produces step 1.
func (s *Simulator) Step(ctx context.Context) (metrics.Phases, error) {
	if s.pipe == nil {
		return metrics.Phases{}, fmt.Errorf("sim: Step before Start")
	}

	local := body.Local(s.all, s.group.Rank(), s.perProc)
	next, tm, err := s.pipe.Step(ctx, s.all, local)
	if err != nil {
		return metrics.Phases{}, err
	}
	all, gather, err := s.pipe.Redistribute(ctx, next)
	if err != nil {
		return metrics.Phases{}, err
	}

	phases := metrics.Phases{Build: tm.Build, Exchange: tm.Exchange, Force: tm.Force, Gather: gather}
	s.all = all
	s.step++
	s.timings.Add(phases)

	rec := StepRecord{Step: s.step, Energy: math.NaN(), Phases: phases}
	if s.sampleEnergy() {
		rec.Energy = metrics.Energy(s.all)
	}
	s.records = append(s.records, rec)

	for _, m := range s.metrics {
		m.Observe(s.step, s.all)
	}
	for _, obs := range s.observers {
		obs.OnStep(s.step, s.all, phases)
	}

	if s.cfg.Print && s.group.Rank() == 0 {
		s.logger.Printf("step %d/%d build=%v exchange=%v force=%v gather=%v",
			s.step, s.cfg.Steps, phases.Build, phases.Exchange, phases.Force, phases.Gather)
	}
	return phases, nil
}

// Run starts the simulator and performs cfg.Steps steps, checking ctx
// between them.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	for i := 0; i < s.cfg.Steps; i++ {
		select {
		case <-ctx.Done():
			return s.result(), ctx.Err()
		default:
		}

		if _, err := s.Step(ctx); err != nil {
			return s.result(), err
		}
	}

	return s.result(), nil
}

func (s *Simulator) result() *Result {
	res := &Result{
		Rank:    s.group.Rank(),
		Steps:   s.step,
		Final:   body.Unpad(s.all, s.cfg.Bodies),
		Records: append([]StepRecord(nil), s.records...),
		Timings: s.timings,
		Metrics: make(map[string]float64),
	}
	for _, m := range s.metrics {
		res.Metrics[m.Name()] = m.Value()
	}
	return res
}

// Bodies returns the current population including padding. The slice is
// replaced, never modified, by the next Step.
func (s *Simulator) Bodies() []body.Body { return s.all }

// Steps is the number of completed steps.
func (s *Simulator) Steps() int { return s.step }

func (s *Simulator) Config() *config.Config { return s.cfg }
