// Package tui prints a plain ASCII density plot of the population while a
// batch run progresses.
package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/san-kum/nbody/internal/body"
	"github.com/san-kum/nbody/internal/metrics"
)

const (
	width       = 70
	height      = 20
	clearScreen = "\033[2J\033[H"
	hideCursor  = "\033[?25l"
	showCursor  = "\033[?25h"
)

// density maps a per-character body count to a glyph.
var density = []rune{' ', '.', 'o', 'O', '@'}

// LiveRenderer is a sim.Observer that redraws at most frameRate times a
// second. A zero frameRate draws every step.
type LiveRenderer struct {
	out       io.Writer
	name      string
	steps     int
	frameRate int
	lastFrame time.Time
	counts    [][]int
}

func NewLiveRenderer(out io.Writer, name string, steps, frameRate int) *LiveRenderer {
	counts := make([][]int, height)
	for i := range counts {
		counts[i] = make([]int, width)
	}
	return &LiveRenderer{
		out:       out,
		name:      name,
		steps:     steps,
		frameRate: frameRate,
		counts:    counts,
	}
}

func (r *LiveRenderer) OnStep(step int, all []body.Body, phases metrics.Phases) {
	if r.frameRate > 0 && step != r.steps {
		if time.Since(r.lastFrame) < time.Second/time.Duration(r.frameRate) {
			return
		}
	}
	r.lastFrame = time.Now()

	r.plot(all)
	r.render(step, len(all), phases)
}

func (r *LiveRenderer) plot(all []body.Body) {
	for y := range r.counts {
		for x := range r.counts[y] {
			r.counts[y][x] = 0
		}
	}

	d, err := body.Bounds(all)
	if err != nil {
		return
	}
	for _, b := range all {
		if b.IsPadding() {
			continue
		}
		x := int((b.Position.X - d.Center.X + d.Size/2) / d.Size * (width - 1))
		y := int((d.Center.Y + d.Size/2 - b.Position.Y) / d.Size * (height - 1))
		if x >= 0 && x < width && y >= 0 && y < height {
			r.counts[y][x]++
		}
	}
}

func glyph(n int) rune {
	return density[min(n, len(density)-1)]
}

func (r *LiveRenderer) render(step, bodies int, phases metrics.Phases) {
	var b strings.Builder
	b.WriteString(clearScreen)
	fmt.Fprintf(&b, "  %s  step %d/%d  %d bodies\n", r.name, step, r.steps, bodies)
	b.WriteString("  +" + strings.Repeat("-", width) + "+\n")

	for _, row := range r.counts {
		b.WriteString("  |")
		for _, n := range row {
			b.WriteRune(glyph(n))
		}
		b.WriteString("|\n")
	}

	b.WriteString("  +" + strings.Repeat("-", width) + "+\n")
	fmt.Fprintf(&b, "  build %v  exchange %v  force %v  gather %v\n",
		phases.Build.Round(time.Microsecond), phases.Exchange.Round(time.Microsecond),
		phases.Force.Round(time.Microsecond), phases.Gather.Round(time.Microsecond))

	io.WriteString(r.out, b.String())
}

func (r *LiveRenderer) Start() { io.WriteString(r.out, hideCursor) }
func (r *LiveRenderer) Stop()  { io.WriteString(r.out, showCursor) }
