package export

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/san-kum/nbody/internal/body"
)

type SVGOptions struct {
	Size int
	// Trails are earlier positions per body id, oldest first.
	Trails    map[int64][]struct{ X, Y float64 }
	Fill      string
	TrailLine string
}

func (o SVGOptions) withDefaults() SVGOptions {
	if o.Size <= 0 {
		o.Size = 800
	}
	if o.Fill == "" {
		o.Fill = "#00ff88"
	}
	if o.TrailLine == "" {
		o.TrailLine = "#335544"
	}
	return o
}

// BodiesToSVG draws the non-padding bodies as circles whose area grows with
// mass, on a square view fitted to their bounds with a 10% margin.
func BodiesToSVG(bodies []body.Body, opts SVGOptions) (string, error) {
	opts = opts.withDefaults()
	d, err := body.Bounds(bodies)
	if err != nil {
		return "", err
	}
	d.Size *= 1.2

	size := float64(opts.Size)
	project := func(x, y float64) (float64, float64) {
		px := (x - d.Center.X + d.Size/2) / d.Size * size
		py := size - (y-d.Center.Y+d.Size/2)/d.Size*size
		return px, py
	}

	maxMass := 0.0
	for _, b := range bodies {
		maxMass = max(maxMass, b.Mass)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, opts.Size, opts.Size, opts.Size, opts.Size)

	for _, b := range bodies {
		trail := opts.Trails[b.ID]
		if b.IsPadding() || len(trail) < 2 {
			continue
		}
		sb.WriteString(`<path fill="none" stroke="` + opts.TrailLine + `" stroke-width="1" d="M`)
		for i, p := range trail {
			x, y := project(p.X, p.Y)
			if i > 0 {
				sb.WriteString(" L")
			}
			fmt.Fprintf(&sb, "%.1f,%.1f", x, y)
		}
		sb.WriteString("\"/>\n")
	}

	fmt.Fprintf(&sb, "<g fill=%q>\n", opts.Fill)
	for _, b := range bodies {
		if b.IsPadding() {
			continue
		}
		x, y := project(b.Position.X, b.Position.Y)
		r := 1 + 3*math.Sqrt(b.Mass/maxMass)
		fmt.Fprintf(&sb, "<circle cx=\"%.1f\" cy=\"%.1f\" r=\"%.1f\"/>\n", x, y, r)
	}
	sb.WriteString("</g>\n</svg>\n")
	return sb.String(), nil
}

func WriteSVG(w io.Writer, bodies []body.Body, opts SVGOptions) error {
	s, err := BodiesToSVG(bodies, opts)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, s)
	return err
}
