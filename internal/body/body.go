// Package body defines the point-mass record shared by every rank, the
// square spatial domain a step's trees are built over, and the helpers
// that pad, partition and integrate body slices.
package body

import (
	"errors"

	"gonum.org/v1/gonum/spatial/r2"
)

// G is the gravitational constant used by every force evaluation.
const G = 6.67e-11

// MinDomainSize is the side length used when every body sits at the same
// position and the bounding box collapses to a point.
const MinDomainSize = 1.0

var ErrNoBodies = errors.New("body: empty body set")

// Body is a point mass. A body with zero mass is padding: it keeps the
// per-rank counts equal and is never inserted into a tree.
type Body struct {
	ID       int64
	Mass     float64
	Position r2.Vec
	Velocity r2.Vec
}

func (b Body) IsPadding() bool { return b.Mass == 0 }

// Domain is the square [Center ± Size/2] a tree root covers.
type Domain struct {
	Center r2.Vec
	Size   float64
}

// Contains reports whether p lies inside the closed square.
func (d Domain) Contains(p r2.Vec) bool {
	h := d.Size / 2
	return p.X >= d.Center.X-h && p.X <= d.Center.X+h &&
		p.Y >= d.Center.Y-h && p.Y <= d.Center.Y+h
}

// Bounds returns the smallest square centred on the bounding box of the
// bodies whose side equals the larger box axis. Padding bodies are ignored
// unless the set holds nothing else. A degenerate box falls back to
// MinDomainSize.
func Bounds(bodies []Body) (Domain, error) {
	if len(bodies) == 0 {
		return Domain{}, ErrNoBodies
	}

	skipPadding := false
	for _, b := range bodies {
		if !b.IsPadding() {
			skipPadding = true
			break
		}
	}

	first := true
	var minX, maxX, minY, maxY float64
	for _, b := range bodies {
		if skipPadding && b.IsPadding() {
			continue
		}
		p := b.Position
		if first {
			minX, maxX, minY, maxY = p.X, p.X, p.Y, p.Y
			first = false
			continue
		}
		minX = min(minX, p.X)
		maxX = max(maxX, p.X)
		minY = min(minY, p.Y)
		maxY = max(maxY, p.Y)
	}

	size := max(maxX-minX, maxY-minY)
	if size == 0 {
		size = MinDomainSize
	}

	return Domain{
		Center: r2.Vec{X: (minX + maxX) / 2, Y: (minY + maxY) / 2},
		Size:   size,
	}, nil
}

// Pad appends zero-mass bodies so the slice splits evenly across procs.
// It returns the padded slice and the per-rank body count.
func Pad(bodies []Body, procs int) ([]Body, int) {
	if procs < 1 {
		procs = 1
	}
	n := len(bodies)
	perProc := (n + procs - 1) / procs
	filled := perProc * procs

	out := make([]Body, filled)
	copy(out, bodies)
	for i := n; i < filled; i++ {
		out[i] = Body{ID: int64(i)}
	}
	return out, perProc
}

// Unpad drops trailing padding added by Pad.
func Unpad(bodies []Body, n int) []Body {
	if n > len(bodies) {
		n = len(bodies)
	}
	out := make([]Body, n)
	copy(out, bodies[:n])
	return out
}

// Local returns a copy of rank's contiguous slice of a padded population.
func Local(all []Body, rank, perProc int) []Body {
	start := rank * perProc
	end := start + perProc
	if end > len(all) {
		end = len(all)
	}
	out := make([]Body, end-start)
	copy(out, all[start:end])
	return out
}

// Advance applies one symplectic Euler step: the velocity is updated from
// the force first and the position moves with the new velocity. Padding is
// returned unchanged.
func Advance(b Body, f r2.Vec, dt float64) Body {
	if b.IsPadding() {
		return b
	}
	b.Velocity = r2.Vec{
		X: b.Velocity.X + f.X/b.Mass*dt,
		Y: b.Velocity.Y + f.Y/b.Mass*dt,
	}
	b.Position = r2.Vec{
		X: b.Position.X + b.Velocity.X*dt,
		Y: b.Position.Y + b.Velocity.Y*dt,
	}
	return b
}
