package metrics

import "time"

// Phases holds one duration per pipeline phase.
type Phases struct {
	Build    time.Duration
	Exchange time.Duration
	Force    time.Duration
	Gather   time.Duration
}

func (p Phases) Total() time.Duration {
	return p.Build + p.Exchange + p.Force + p.Gather
}

// Timings accumulates phase durations for one rank. It belongs to the
// goroutine driving that rank.
type Timings struct {
	steps int
	total Phases
}

func (t *Timings) Add(p Phases) {
	t.steps++
	t.total.Build += p.Build
	t.total.Exchange += p.Exchange
	t.total.Force += p.Force
	t.total.Gather += p.Gather
}

func (t *Timings) Steps() int    { return t.steps }
func (t *Timings) Total() Phases { return t.total }

// Average is the mean duration of each phase per step.
func (t *Timings) Average() Phases {
	if t.steps == 0 {
		return Phases{}
	}
	n := time.Duration(t.steps)
	return Phases{
		Build:    t.total.Build / n,
		Exchange: t.total.Exchange / n,
		Force:    t.total.Force / n,
		Gather:   t.total.Gather / n,
	}
}

// Merge folds another rank's totals in, e.g. at the end of a local run.
func (t *Timings) Merge(o *Timings) {
	t.steps += o.steps
	t.total.Build += o.total.Build
	t.total.Exchange += o.total.Exchange
	t.total.Force += o.total.Force
	t.total.Gather += o.total.Gather
}
