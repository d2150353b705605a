package viz

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/san-kum/nbody/internal/body"
	"github.com/san-kum/nbody/internal/config"
	"github.com/san-kum/nbody/internal/metrics"
	"github.com/san-kum/nbody/internal/sim"
	"github.com/san-kum/nbody/internal/tree"
)

const (
	width           = 80
	height          = 24
	historyCapacity = 600
	frameRate       = 30
	// cellDepth limits how deep tree outlines are drawn.
	cellDepth = 6
)

type TickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second/frameRate, func(t time.Time) tea.Msg { return TickMsg(t) })
}

// Model steps a local multi-rank run on every tick and draws rank 0's view
// of the population.
type Model struct {
	ctx       context.Context
	run       *sim.LocalRun
	cfg       *config.Config
	name      string
	bodies    *Canvas
	cells     *Canvas
	theme     Theme
	styles    styles
	running   bool
	showCells bool
	zoom      float64
	energy    []float64
	stepMs    []float64
	initial   float64
	last      metrics.Phases
	stats     tree.Stats
	err       error
}

// NewModel starts the run so the first frame already shows step 0.
func NewModel(ctx context.Context, name string, cfg *config.Config) (Model, error) {
	run := sim.NewLocalRun(cfg, nil)
	if err := run.Start(ctx); err != nil {
		run.Close()
		return Model{}, err
	}

	m := Model{
		ctx:       ctx,
		run:       run,
		cfg:       cfg,
		name:      name,
		bodies:    NewCanvas(width, height),
		cells:     NewCanvas(width, height),
		theme:     Themes[0],
		styles:    newStyles(Themes[0]),
		running:   true,
		showCells: false,
		zoom:      1,
		energy:    make([]float64, 0, historyCapacity),
		stepMs:    make([]float64, 0, historyCapacity),
	}
	m.initial = metrics.Energy(run.Bodies())
	m.energy = append(m.energy, m.initial)
	m.draw()
	return m, nil
}

func (m Model) Init() tea.Cmd { return tick() }

func (m Model) Done() bool {
	return m.err != nil || m.run.Steps() >= m.cfg.Steps
}

func (m Model) Err() error { return m.err }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.run.Close()
			return m, tea.Quit
		case " ":
			m.running = !m.running
		case "c":
			m.showCells = !m.showCells
		case "t":
			m.theme = m.theme.next()
			m.styles = newStyles(m.theme)
		case "+", "=":
			m.zoom *= 1.25
		case "-", "_":
			m.zoom = max(m.zoom/1.25, 0.1)
		case "0":
			m.zoom = 1
		}
		m.draw()
	case TickMsg:
		if m.running && !m.Done() {
			m.step()
			m.draw()
		}
		return m, tick()
	}
	return m, nil
}

func (m *Model) step() {
	phases, err := m.run.Step(m.ctx)
	if err != nil {
		m.err = err
		return
	}
	m.last = phases
	m.stepMs = push(m.stepMs, float64(phases.Total())/float64(time.Millisecond))

	every := max(m.cfg.EnergyEvery, 1)
	if m.run.Steps()%every == 0 {
		m.energy = push(m.energy, metrics.Energy(m.run.Bodies()))
	}
}

func push(h []float64, v float64) []float64 {
	h = append(h, v)
	if len(h) > historyCapacity {
		h = h[1:]
	}
	return h
}

func (m *Model) draw() {
	all := m.run.Bodies()
	view, err := body.Bounds(all)
	if err != nil {
		return
	}
	view.Size = view.Size * 1.1 / m.zoom
	m.stats = DrawFrame(m.bodies, m.cells, all, view, m.showCells)
}

// DrawFrame plots every non-padding body and, when cells is set, the
// outline of each tree node down to cellDepth. It returns the shape of the
// tree built for the frame.
func DrawFrame(bodies, cells *Canvas, all []body.Body, view body.Domain, showCells bool) tree.Stats {
	bodies.Clear()
	cells.Clear()
	vp := NewViewport(view, bodies)

	for _, b := range all {
		if b.IsPadding() {
			continue
		}
		bodies.Set(vp.Project(b.Position))
	}

	domain, err := body.Bounds(all)
	if err != nil {
		return tree.Stats{}
	}
	t := tree.New(domain)
	for _, b := range all {
		t.Insert(b)
	}
	if showCells {
		t.Walk(func(n tree.NodeInfo) bool {
			if n.Kind == tree.KindEmpty {
				return false
			}
			corner := r2.Vec{X: n.Size / 2, Y: -n.Size / 2}
			x0, y0 := vp.Project(r2.Sub(n.Center, corner))
			x1, y1 := vp.Project(r2.Add(n.Center, corner))
			cells.DrawRect(x0, y0, x1, y1)
			return n.Depth < cellDepth
		})
	}
	return t.Stats()
}

// render merges the two canvases, colouring each character by the layer
// that owns it.
func render(bodies, cells *Canvas, st styles) string {
	var b strings.Builder
	for row := range bodies.Grid {
		var run []rune
		runBodies := false
		flush := func() {
			if len(run) == 0 {
				return
			}
			if runBodies {
				b.WriteString(st.bodies.Render(string(run)))
			} else {
				b.WriteString(st.cells.Render(string(run)))
			}
			run = run[:0]
		}
		for col, r := range bodies.Grid[row] {
			isBody := r != brailleBlank
			if isBody != runBodies {
				flush()
				runBodies = isBody
			}
			run = append(run, r|cells.Grid[row][col])
		}
		flush()
		b.WriteByte('\n')
	}
	return b.String()
}

func (m Model) status() string {
	switch {
	case m.err != nil:
		return m.styles.failed.Render("FAILED")
	case m.Done():
		return m.styles.running.Render("DONE")
	case !m.running:
		return m.styles.paused.Render("PAUSED")
	}
	return m.styles.running.Render("RUNNING")
}

func (m Model) row(label, value string) string {
	return m.styles.label.Render(label) + m.styles.value.Render(value) + "\n"
}

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(m.styles.header.Render(strings.ToUpper(m.name)) + "\n")
	s.WriteString(m.status() + "\n\n")

	steps := m.run.Steps()
	progress := 1.0
	if m.cfg.Steps > 0 {
		progress = float64(steps) / float64(m.cfg.Steps)
	}
	s.WriteString(m.row("Step", fmt.Sprintf("%d/%d", steps, m.cfg.Steps)))
	s.WriteString(m.row("", ProgressBar(progress, 24)))
	s.WriteString(m.row("Bodies", fmt.Sprintf("%d on %d ranks", m.cfg.Bodies, m.cfg.Procs)))
	s.WriteString(m.row("Theta", fmt.Sprintf("%.2f  dt %.3g", m.cfg.Theta, m.cfg.Dt)))
	s.WriteString(m.row("Tree", fmt.Sprintf("%d leaves, depth %d", m.stats.Leaves, m.stats.Depth)))

	energy := m.energy[len(m.energy)-1]
	s.WriteString(m.row("Energy", fmt.Sprintf("%.4g", energy)))
	if m.initial != 0 {
		s.WriteString(m.row("Drift", fmt.Sprintf("%.2e", math.Abs((energy-m.initial)/m.initial))))
	}
	s.WriteString(m.row("Build", fmt.Sprintf("%v", m.last.Build.Round(time.Microsecond))))
	s.WriteString(m.row("Exchange", fmt.Sprintf("%v", m.last.Exchange.Round(time.Microsecond))))
	s.WriteString(m.row("Force", fmt.Sprintf("%v", m.last.Force.Round(time.Microsecond))))
	s.WriteString(m.row("Gather", fmt.Sprintf("%v", m.last.Gather.Round(time.Microsecond))))
	s.WriteString(m.row("Step ms", Sparkline(m.stepMs, 24)))

	if len(m.energy) > 1 {
		chart := asciigraph.Plot(m.energy, asciigraph.Height(4), asciigraph.Width(30), asciigraph.Caption("Energy"))
		s.WriteString(m.styles.graph.Render(chart) + "\n")
	}
	if m.err != nil {
		s.WriteString(m.styles.failed.Render(m.err.Error()) + "\n")
	}
	s.WriteString(m.styles.help.Render("SP:Pause C:Cells T:Theme\n+/-/0:Zoom Q:Quit"))

	canvasView := lipgloss.NewStyle().Padding(1, 2).Render(render(m.bodies, m.cells, m.styles))
	return lipgloss.JoinHorizontal(lipgloss.Top, canvasView, m.styles.panel.Render(s.String()))
}
