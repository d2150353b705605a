package export

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/san-kum/nbody/internal/body"
)

func TestBodiesToSVG(t *testing.T) {
	bodies := []body.Body{
		{ID: 0, Mass: 4, Position: r2.Vec{X: -1, Y: -1}},
		{ID: 1, Mass: 1, Position: r2.Vec{X: 1, Y: 1}},
		{ID: 2},
	}

	svg, err := BodiesToSVG(bodies, SVGOptions{Size: 100})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if n := strings.Count(svg, "<circle"); n != 2 {
		t.Errorf("expected 2 circles, got %d", n)
	}
	if !strings.Contains(svg, `r="4.0"`) || !strings.Contains(svg, `r="2.5"`) {
		t.Errorf("radius should grow with mass:\n%s", svg)
	}
	if !strings.Contains(svg, `width="100"`) {
		t.Error("size option ignored")
	}
}

func TestBodiesToSVGTrails(t *testing.T) {
	bodies := []body.Body{{ID: 7, Mass: 1, Position: r2.Vec{X: 1, Y: 0}}, {ID: 8, Mass: 1}}
	trails := map[int64][]struct{ X, Y float64 }{
		7: {{0, 0}, {0.5, 0}, {1, 0}},
		8: {{0, 0}},
	}

	var buf bytes.Buffer
	if err := WriteSVG(&buf, bodies, SVGOptions{Trails: trails}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if n := strings.Count(buf.String(), "<path"); n != 1 {
		t.Errorf("expected one trail path, got %d", n)
	}
}

func TestBodiesToSVGEmpty(t *testing.T) {
	if _, err := BodiesToSVG(nil, SVGOptions{}); !errors.Is(err, body.ErrNoBodies) {
		t.Errorf("expected ErrNoBodies, got %v", err)
	}
}
