package viz

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/san-kum/snowmpm/internal/config"
	"github.com/san-kum/snowmpm/internal/loop"
	"github.com/san-kum/snowmpm/internal/render"
	"github.com/san-kum/snowmpm/internal/sim"
	"github.com/san-kum/snowmpm/internal/uniforms"
)

func testSession(t *testing.T, obs sim.Observer) *sim.Session {
	t.Helper()
	cfg := config.GetPreset("small")
	cfg.Simulation.Particles = 500
	cfg.Device.Workers = 2
	cfg.Render.Width, cfg.Render.Height = 20, 8
	s, err := sim.New(context.Background(), cfg, sim.WithObserver(obs))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func key(s string) tea.KeyMsg {
	switch s {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestFeedKeepsLatestFrame(t *testing.T) {
	f := NewFeed()
	if _, ok := f.Latest(); ok {
		t.Fatal("empty feed reported a frame")
	}
	f.OnFrame(sim.FrameStats{FrameStats: loop.FrameStats{Index: 1}})
	f.OnFrame(sim.FrameStats{FrameStats: loop.FrameStats{Index: 2}})
	got, ok := f.Latest()
	if !ok || got.Index != 2 {
		t.Errorf("latest = %d, %v", got.Index, ok)
	}
}

func TestModelControls(t *testing.T) {
	feed := NewFeed()
	s := testSession(t, feed)
	m := NewModel(context.Background(), s, feed, "small")

	m = update(t, m, key("v"))
	if s.RenderMethod() != render.KindDensity {
		t.Errorf("render method = %v, want density", s.RenderMethod())
	}
	m = update(t, m, key("m"))
	if s.Method() != uniforms.MethodFluid {
		t.Errorf("method = %v, want fluid", s.Method())
	}

	before := s.Camera()
	m = update(t, m, key("+"))
	if s.Camera().Distance >= before.Distance {
		t.Errorf("zoom in did not shrink distance: %g -> %g", before.Distance, s.Camera().Distance)
	}
	m = update(t, m, key("l"))
	if s.Camera().Yaw <= before.Yaw {
		t.Error("orbit right did not advance yaw")
	}
	if m.err != nil {
		t.Fatalf("control error: %v", m.err)
	}
}

func TestFeedFollowsSessionView(t *testing.T) {
	feed := NewFeed()
	s := testSession(t, feed)
	m := NewModel(context.Background(), s, feed, "small")

	if got := feed.View().Size; got != (render.Size{Width: 20, Height: 8}) {
		t.Errorf("seeded size = %+v", got)
	}
	m = update(t, m, key("v"))
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = update(t, m, key("-"))

	v := feed.View()
	if v.Kind != render.KindDensity {
		t.Errorf("feed kind = %v, want density", v.Kind)
	}
	w, h := canvasSize(100, 30)
	if v.Size != (render.Size{Width: w, Height: h}) {
		t.Errorf("feed size = %+v, want %dx%d", v.Size, w, h)
	}
	if v.Camera != s.Camera() || m.view != v {
		t.Error("model view is behind the session")
	}

	feed.Detach()
	if err := s.SetRenderMethod(render.KindPoints); err != nil {
		t.Fatal(err)
	}
	if feed.View().Kind != render.KindDensity {
		t.Error("detached feed still follows the session")
	}
}

func TestModelPauseResume(t *testing.T) {
	feed := NewFeed()
	s := testSession(t, feed)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	m := NewModel(context.Background(), s, feed, "small")

	m = update(t, m, key(" "))
	if !m.paused || s.Running() {
		t.Fatalf("expected paused session, paused=%v running=%v", m.paused, s.Running())
	}
	m = update(t, m, key(" "))
	if m.paused || !s.Running() {
		t.Errorf("expected resumed session, paused=%v running=%v", m.paused, s.Running())
	}
	s.Stop()
}

func TestResizeFollowsWindow(t *testing.T) {
	tests := []struct {
		w, h         int
		wantW, wantH int
	}{
		{120, 40, 120 - statsWidth - 4, 38},
		{10, 4, 16, 8},
	}
	for _, tt := range tests {
		gotW, gotH := canvasSize(tt.w, tt.h)
		if gotW != tt.wantW || gotH != tt.wantH {
			t.Errorf("canvasSize(%d, %d) = %d, %d, want %d, %d", tt.w, tt.h, gotW, gotH, tt.wantW, tt.wantH)
		}
	}
}

func TestHistoryIsCapped(t *testing.T) {
	var h []float64
	for i := 0; i < historyCapacity+10; i++ {
		h = appendCapped(h, float64(i))
	}
	if len(h) != historyCapacity || h[0] != 10 {
		t.Errorf("len %d first %g", len(h), h[0])
	}
}

func TestNextThemeCycles(t *testing.T) {
	defer SetTheme(ThemeGlacier.Name)
	seen := map[string]bool{}
	for range Themes {
		seen[CurrentTheme.Name] = true
		NextTheme()
	}
	if len(seen) != len(Themes) || CurrentTheme.Name != ThemeGlacier.Name {
		t.Errorf("cycled through %v, ended on %s", seen, CurrentTheme.Name)
	}
}
