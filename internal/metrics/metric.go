// Package metrics holds the diagnostics a run reports: conserved
// quantities observed after each step, per-phase timing totals and the
// accuracy of the tree force against an exact reference.
package metrics

import "github.com/san-kum/nbody/internal/body"

// Metric observes the full population after every step.
type Metric interface {
	Name() string
	Observe(step int, bodies []body.Body)
	Value() float64
	Reset()
}
