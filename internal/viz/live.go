package viz

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/snowmpm/internal/perf"
	"github.com/san-kum/snowmpm/internal/render"
	"github.com/san-kum/snowmpm/internal/sim"
	"github.com/san-kum/snowmpm/internal/sparsegrid"
	"github.com/san-kum/snowmpm/internal/uniforms"
)

const (
	historyCapacity = 120
	refreshRate     = 30

	orbitStep = 0.08
	zoomStep  = 0.9

	sweepAmplitude = 0.3
	sweepPeriod    = 4.0
)

type TickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second/refreshRate, func(t time.Time) tea.Msg { return TickMsg(t) })
}

// Feed is a session observer that keeps the latest frame and view
// parameters for the view.
type Feed struct {
	mu     sync.Mutex
	last   sim.FrameStats
	frames uint64
	view   View
	cancel []func()
}

// View is the camera and output the session currently renders with.
type View struct {
	Camera uniforms.Camera
	Size   render.Size
	Kind   render.Kind
}

func NewFeed() *Feed { return &Feed{} }

func (f *Feed) OnFrame(s sim.FrameStats) {
	f.mu.Lock()
	f.last = s
	f.frames++
	f.mu.Unlock()
}

// Watch seeds the view from s and follows its changes until Detach.
func (f *Feed) Watch(s *sim.Session) {
	f.mu.Lock()
	f.view = View{Camera: s.Camera(), Size: s.Size(), Kind: s.RenderMethod()}
	f.mu.Unlock()
	f.cancel = append(f.cancel,
		s.OnCameraChange(func(c uniforms.Camera) { f.update(func(v *View) { v.Camera = c }) }),
		s.OnResize(func(sz render.Size) { f.update(func(v *View) { v.Size = sz }) }),
		s.OnRenderMethodChange(func(k render.Kind) { f.update(func(v *View) { v.Kind = k }) }),
	)
}

func (f *Feed) update(fn func(*View)) {
	f.mu.Lock()
	fn(&f.view)
	f.mu.Unlock()
}

// Detach stops following the session.
func (f *Feed) Detach() {
	for _, c := range f.cancel {
		c()
	}
	f.cancel = nil
}

func (f *Feed) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

// Latest returns the most recent frame and whether any frame arrived.
func (f *Feed) Latest() (sim.FrameStats, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.frames > 0
}

// Model is the live view of one running session.
type Model struct {
	ctx     context.Context
	session *sim.Session
	feed    *Feed
	name    string

	paused     bool
	showHelp   bool
	sweeping   bool
	sweepStart time.Time
	err        error

	frame        sim.FrameStats
	view         View
	stats        perf.Stats
	grid         sparsegrid.Stats
	fpsHistory   []float64
	stepsHistory []float64
}

// NewModel wraps a started session. The feed must be registered with the
// session as an observer; NewModel makes it watch the session's view.
func NewModel(ctx context.Context, s *sim.Session, feed *Feed, name string) Model {
	feed.Watch(s)
	return Model{
		ctx:          ctx,
		session:      s,
		feed:         feed,
		name:         name,
		view:         feed.View(),
		fpsHistory:   make([]float64, 0, historyCapacity),
		stepsHistory: make([]float64, 0, historyCapacity),
	}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

// Update handles input events and refreshes the stats each tick.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.togglePause()
		case "left", "h":
			m.orbit(-orbitStep, 0)
		case "right", "l":
			m.orbit(orbitStep, 0)
		case "up", "k":
			m.orbit(0, orbitStep)
		case "down", "j":
			m.orbit(0, -orbitStep)
		case "+", "=":
			m.zoom(zoomStep)
		case "-", "_":
			m.zoom(1 / zoomStep)
		case "v":
			m.toggleRender()
		case "m":
			m.toggleMethod()
		case "r":
			m.err = m.session.ScatterParticlesInMeshVolume()
		case "c":
			m.toggleSweep()
		case "t":
			NextTheme()
		case "?":
			m.showHelp = !m.showHelp
		}
	case tea.WindowSizeMsg:
		m.err = m.session.Resize(canvasSize(msg.Width, msg.Height))
		m.view = m.feed.View()
	case TickMsg:
		if m.sweeping {
			m.sweep(time.Time(msg))
		}
		m.refresh()
		return m, tick()
	}
	return m, nil
}

// canvasSize is the render area left after the stats panel and padding.
func canvasSize(w, h int) (int, int) {
	return max(w-statsWidth-4, 16), max(h-2, 8)
}

func (m *Model) refresh() {
	m.stats = m.session.Collector().Stats()
	m.grid = m.session.GridStats()
	if f, ok := m.feed.Latest(); ok {
		m.frame = f
	}
	m.view = m.feed.View()
	m.fpsHistory = appendCapped(m.fpsHistory, m.stats.FPS)
	m.stepsHistory = appendCapped(m.stepsHistory, m.stats.StepsPerSecond)
}

func appendCapped(h []float64, v float64) []float64 {
	h = append(h, v)
	if len(h) > historyCapacity {
		h = h[1:]
	}
	return h
}

func (m *Model) togglePause() {
	if m.paused {
		m.err = m.session.Start(m.ctx)
		m.paused = m.err != nil
		return
	}
	m.err = m.session.Stop()
	m.paused = true
}

func (m *Model) orbit(dYaw, dPitch float32) {
	m.err = m.session.SetCamera(m.session.Camera().Orbit(dYaw, dPitch))
	m.view = m.feed.View()
}

func (m *Model) zoom(factor float32) {
	m.err = m.session.SetCamera(m.session.Camera().Zoom(factor))
	m.view = m.feed.View()
}

func (m *Model) toggleRender() {
	next := render.KindPoints
	if m.view.Kind == render.KindPoints {
		next = render.KindDensity
	}
	m.err = m.session.SetRenderMethod(next)
	m.view = m.feed.View()
}

func (m *Model) toggleMethod() {
	next := uniforms.MethodSnow
	if m.session.Method() == uniforms.MethodSnow {
		next = uniforms.MethodFluid
	}
	m.err = m.session.SetMethod(next)
}

func (m *Model) toggleSweep() {
	m.sweeping = !m.sweeping
	if m.sweeping {
		m.sweepStart = time.Now()
		return
	}
	center := m.session.Config().Collider.Center
	if m.err = m.session.UpdateColliderVelocity(mgl32.Vec3{}); m.err != nil {
		return
	}
	m.err = m.session.UpdateColliderTransform(mgl32.Translate3D(float32(center[0]), float32(center[1]), float32(center[2])))
}

// sweep moves the collider along x on a sine, reporting the matching
// velocity so the boundary condition sees a moving wall.
func (m *Model) sweep(now time.Time) {
	cfg := m.session.Config()
	t := now.Sub(m.sweepStart).Seconds()
	w := 2 * math.Pi / sweepPeriod
	offset := sweepAmplitude * math.Sin(w*t)
	vel := sweepAmplitude * w * math.Cos(w*t)

	c := cfg.Collider.Center
	pos := mgl32.Translate3D(float32(c[0]+offset), float32(c[1]), float32(c[2]))
	if m.err = m.session.UpdateColliderTransform(pos); m.err != nil {
		return
	}
	m.err = m.session.UpdateColliderVelocity(mgl32.Vec3{float32(vel), 0, 0})
}

func (m Model) status() string {
	switch {
	case m.err != nil:
		return StatusError.Render("ERROR " + m.err.Error())
	case m.paused:
		return StatusPaused.Render("PAUSED")
	case !m.session.Running():
		return StatusError.Render("STOPPED")
	}
	return StatusRunning.Render("RUNNING")
}

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value) + "\n"
}

func (m Model) View() string {
	canvasView := canvasStyle.Render(m.session.Image())

	var s strings.Builder
	s.WriteString(headerStyle.Render(strings.ToUpper(m.name)) + "\n")
	s.WriteString(m.status() + "\n\n")

	if len(m.fpsHistory) > 1 {
		chart := asciigraph.Plot(m.fpsHistory, asciigraph.Height(3), asciigraph.Width(30), asciigraph.Caption("FPS"))
		s.WriteString(graphStyle.Render(chart) + "\n")
	}
	if len(m.stepsHistory) > 1 {
		chart := asciigraph.Plot(m.stepsHistory, asciigraph.Height(3), asciigraph.Width(30), asciigraph.Caption("steps/s"))
		s.WriteString(graphStyle.Render(chart) + "\n")
	}

	cfg := m.session.Config()
	s.WriteString(row("Frame", fmt.Sprintf("%d", m.frame.Index)))
	s.WriteString(row("Sim time", fmt.Sprintf("%.2fs", m.frame.SimTime.Seconds())))
	s.WriteString(row("Method", m.session.Method().String()))
	s.WriteString(row("Render", fmt.Sprintf("%s %dx%d", m.view.Kind, m.view.Size.Width, m.view.Size.Height)))
	s.WriteString(row("Camera", fmt.Sprintf("yaw %.2f pitch %.2f d %.2f", m.view.Camera.Yaw, m.view.Camera.Pitch, m.view.Camera.Distance)))
	s.WriteString(row("Particles", fmt.Sprintf("%d", cfg.Simulation.Particles)))
	s.WriteString(row("Steps", fmt.Sprintf("%d/%d (%d dropped)", m.frame.StepsExecuted, m.frame.StepsOwed, m.stats.StepsDropped)))
	s.WriteString(row("Frame time", fmt.Sprintf("%s avg %s max", m.stats.AvgFrame.Round(time.Microsecond), m.stats.MaxFrame.Round(time.Microsecond))))
	for _, phase := range []string{perf.PhaseSimulate, perf.PhasePrerender, perf.PhaseRender} {
		if p, ok := m.stats.Phases[phase]; ok {
			s.WriteString(row(phase, p.Avg.Round(time.Microsecond).String()))
		}
	}

	if m.grid.MaxBlocks > 0 {
		occupancy := float64(m.grid.Allocated) / float64(m.grid.MaxBlocks)
		s.WriteString(labelStyle.Render("Blocks") + ProgressBar(occupancy, 16) +
			valueStyle.Render(fmt.Sprintf(" %d/%d", m.grid.Allocated, m.grid.MaxBlocks)) + "\n")
	}
	if m.grid.Overflowed() {
		s.WriteString(StatusError.Render(fmt.Sprintf("overflow: %d blocks, %d fixed point", m.grid.Dropped, m.grid.FixedPointOverflows)) + "\n")
	}

	s.WriteString(helpStyle.Render(Separator(statsWidth-6) + "\nSP:Pause R:Scatter Q:Quit\nV:Render M:Method C:Sweep\n←→↑↓:Orbit +/-:Zoom ?:Help"))
	statsView := statsStyle.Render(s.String())
	mainView := lipgloss.JoinHorizontal(lipgloss.Top, canvasView, statsView)
	if m.showHelp {
		return `
╔══════════════════════════════════════╗
║          KEYBOARD SHORTCUTS          ║
╠══════════════════════════════════════╣
║  Space    - Pause/Resume loop        ║
║  ←→ / hl  - Orbit camera yaw         ║
║  ↑↓ / kj  - Orbit camera pitch       ║
║  + / -    - Zoom in / out            ║
║  V        - Points / density render  ║
║  M        - Snow / fluid method      ║
║  R        - Scatter particles again  ║
║  C        - Toggle collider sweep    ║
║  T        - Cycle themes             ║
║  Q        - Quit                     ║
║  ?        - Toggle this help         ║
╚══════════════════════════════════════╝
` + "\n\n" + mainView
	}
	return mainView
}
