package viz

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/nbody/internal/config"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

var presetInfo = map[string]string{
	"two-body": "two equal masses falling together",
	"small":    "100 random bodies",
	"galaxy":   "rotating disk around a heavy core",
	"clusters": "two clusters on two ranks",
}

const (
	stateMenu = iota
	stateConfig
	stateSim
)

// param is one tunable field of the config screen.
type param struct {
	name  string
	get   func(*config.Config) string
	nudge func(c *config.Config, dir int)
}

var params = []param{
	{"bodies", func(c *config.Config) string { return fmt.Sprint(c.Bodies) },
		func(c *config.Config, dir int) { c.Bodies = max(1, c.Bodies+dir*max(1, c.Bodies/10)) }},
	{"theta", func(c *config.Config) string { return fmt.Sprintf("%.2f", c.Theta) },
		func(c *config.Config, dir int) { c.Theta = max(0, c.Theta+float64(dir)*0.05) }},
	{"dt", func(c *config.Config) string { return fmt.Sprintf("%.3g", c.Dt) },
		func(c *config.Config, dir int) {
			if dir > 0 {
				c.Dt *= 1.25
			} else {
				c.Dt /= 1.25
			}
		}},
	{"procs", func(c *config.Config) string { return fmt.Sprint(c.Procs) },
		func(c *config.Config, dir int) { c.Procs = max(1, c.Procs+dir) }},
	{"threads", func(c *config.Config) string { return fmt.Sprint(c.Threads) },
		func(c *config.Config, dir int) { c.Threads = max(1, c.Threads+dir) }},
	{"steps", func(c *config.Config) string { return fmt.Sprint(c.Steps) },
		func(c *config.Config, dir int) { c.Steps = max(0, c.Steps+dir*100) }},
}

// App picks a preset, lets the user tune it and then hands over to the
// live Model.
type App struct {
	ctx         context.Context
	state       int
	cursor      int
	paramCursor int
	presets     []string
	selected    string
	cfg         *config.Config
	live        Model
	err         error
}

func NewApp(ctx context.Context) App {
	return App{ctx: ctx, state: stateMenu, presets: config.ListPresets()}
}

func (a App) Init() tea.Cmd { return nil }

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if a.state == stateSim {
		next, cmd := a.live.Update(msg)
		a.live = next.(Model)
		return a, cmd
	}
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch a.state {
		case stateMenu:
			return a.menuKey(msg)
		case stateConfig:
			return a.configKey(msg)
		}
	}
	return a, nil
}

func (a App) menuKey(msg tea.KeyMsg) (App, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit
	case "up", "k":
		if a.cursor > 0 {
			a.cursor--
		}
	case "down", "j":
		if a.cursor < len(a.presets)-1 {
			a.cursor++
		}
	case "enter", " ":
		a.selected = a.presets[a.cursor]
		a.cfg = config.GetPreset(a.selected)
		a.state, a.paramCursor, a.err = stateConfig, 0, nil
	}
	return a, nil
}

func (a App) configKey(msg tea.KeyMsg) (App, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit
	case "q", "esc":
		a.state = stateMenu
	case "up", "k":
		if a.paramCursor > 0 {
			a.paramCursor--
		}
	case "down", "j":
		if a.paramCursor < len(params)-1 {
			a.paramCursor++
		}
	case "left", "h":
		params[a.paramCursor].nudge(a.cfg, -1)
	case "right", "l":
		params[a.paramCursor].nudge(a.cfg, 1)
	case "enter", "s":
		return a.start()
	}
	return a, nil
}

func (a App) start() (App, tea.Cmd) {
	live, err := NewModel(a.ctx, a.selected, a.cfg)
	if err != nil {
		a.err = err
		return a, nil
	}
	a.live, a.state = live, stateSim
	return a, live.Init()
}

func (a App) View() string {
	switch a.state {
	case stateConfig:
		return a.configView()
	case stateSim:
		return a.live.View()
	}
	return a.menuView()
}

func (a App) menuView() string {
	var s strings.Builder
	s.WriteString(cyan.Render("NBODY") + dim.Render("  barnes-hut presets") + "\n\n")
	for i, name := range a.presets {
		cursor, style := "  ", white
		if i == a.cursor {
			cursor, style = cyan.Render("> "), cyan
		}
		s.WriteString(cursor + style.Render(fmt.Sprintf("%-10s", name)) + " " + dim.Render(presetInfo[name]) + "\n")
	}
	s.WriteString("\n" + dim.Render("↑↓ select  enter choose  q quit"))
	return s.String()
}

func (a App) configView() string {
	var s strings.Builder
	s.WriteString(cyan.Render(strings.ToUpper(a.selected)) + "\n\n")
	for i, p := range params {
		line := fmt.Sprintf("%-8s %s", p.name, p.get(a.cfg))
		if i == a.paramCursor {
			s.WriteString(yellow.Render("> "+line) + "\n")
		} else {
			s.WriteString("  " + white.Render(line) + "\n")
		}
	}
	if a.err != nil {
		s.WriteString("\n" + red.Render(a.err.Error()) + "\n")
	}
	s.WriteString("\n" + dim.Render("↑↓ select  ←→ adjust  enter start  q back"))
	return s.String()
}
