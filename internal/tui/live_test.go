package tui

import (
	"bytes"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/san-kum/nbody/internal/body"
	"github.com/san-kum/nbody/internal/metrics"
)

func TestGlyph(t *testing.T) {
	tests := []struct {
		n    int
		want rune
	}{
		{0, ' '},
		{1, '.'},
		{3, 'O'},
		{4, '@'},
		{40, '@'},
	}
	for _, tt := range tests {
		if got := glyph(tt.n); got != tt.want {
			t.Errorf("glyph(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestLiveRendererOnStep(t *testing.T) {
	var out bytes.Buffer
	r := NewLiveRenderer(&out, "pair", 10, 0)

	all := []body.Body{
		{ID: 0, Mass: 1, Position: r2.Vec{X: -1, Y: 0}},
		{ID: 1, Mass: 1, Position: r2.Vec{X: 1, Y: 0}},
		{ID: 2},
	}
	r.OnStep(3, all, metrics.Phases{})

	frame := out.String()
	if !strings.Contains(frame, "step 3/10") {
		t.Errorf("missing header in %q", frame)
	}
	if strings.Count(frame, ".") != 2 {
		t.Errorf("expected two single-body glyphs, got frame:\n%s", frame)
	}
	if r.counts[height/2-1][0]+r.counts[height/2][0] != 1 {
		t.Error("left body should land in the first column")
	}
}

func TestLiveRendererFrameRate(t *testing.T) {
	var out bytes.Buffer
	r := NewLiveRenderer(&out, "x", 100, 1)
	all := []body.Body{{ID: 0, Mass: 1}}

	r.OnStep(1, all, metrics.Phases{})
	n := out.Len()
	r.OnStep(2, all, metrics.Phases{})
	if out.Len() != n {
		t.Error("second frame within the same second should be skipped")
	}
	r.OnStep(100, all, metrics.Phases{})
	if out.Len() == n {
		t.Error("the last step is always drawn")
	}
}
