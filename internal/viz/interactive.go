package viz

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/san-kum/snowmpm/internal/config"
	"github.com/san-kum/snowmpm/internal/sim"
)

var presetInfo = map[string]string{
	"snow":      "reference scene, 500k particles on 192³",
	"small":     "4k particles, quick to start",
	"fluid":     "weakly compressible fluid",
	"avalanche": "soft snow, moving collider",
	"stress":    "undersized block pool, overflow warnings",
}

// Launcher builds a session for a preset with obs registered as observer.
type Launcher func(ctx context.Context, preset string, obs sim.Observer) (*sim.Session, error)

const (
	stateMenu = iota
	stateLive
)

// App lets the user pick a preset, then hands over to the live view.
type App struct {
	ctx     context.Context
	launch  Launcher
	state   int
	cursor  int
	presets []string
	err     error

	session *sim.Session
	live    Model
}

func NewApp(ctx context.Context, launch Launcher) *App {
	return &App{
		ctx:     ctx,
		launch:  launch,
		presets: config.ListPresets(),
	}
}

func (a *App) Init() tea.Cmd { return nil }

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if a.state == stateLive {
		next, cmd := a.live.Update(msg)
		a.live = next.(Model)
		return a, cmd
	}
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return a, nil
	}
	switch key.String() {
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
		return a, a.start(a.presets[a.cursor])
	}
	return a, nil
}

func (a *App) start(preset string) tea.Cmd {
	feed := NewFeed()
	s, err := a.launch(a.ctx, preset, feed)
	if err != nil {
		a.err = err
		return nil
	}
	if err := s.Start(a.ctx); err != nil {
		a.err = err
		s.Close()
		return nil
	}
	a.session, a.err = s, nil
	a.live = NewModel(a.ctx, s, feed, preset)
	a.state = stateLive
	return tea.Batch(a.live.Init(), tea.WindowSize())
}

// Close releases the launched session, if any.
func (a *App) Close() error {
	if a.session == nil {
		return nil
	}
	a.live.feed.Detach()
	return a.session.Close()
}

func (a *App) View() string {
	if a.state == stateLive {
		return a.live.View()
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("SNOWMPM") + "\n")
	for i, name := range a.presets {
		line := name
		if info, ok := presetInfo[name]; ok {
			line += labelStyle.UnsetWidth().Render("  " + info)
		}
		if i == a.cursor {
			b.WriteString(cursorStyle.Render("> ") + line + "\n")
		} else {
			b.WriteString("  " + line + "\n")
		}
	}
	if a.err != nil {
		b.WriteString("\n" + StatusError.Render(a.err.Error()) + "\n")
	}
	b.WriteString(helpStyle.Render("\n↑↓:Select Enter:Start Q:Quit"))
	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}
