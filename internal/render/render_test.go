package render

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/snowmpm/internal/compute"
	"github.com/san-kum/snowmpm/internal/particles"
	"github.com/san-kum/snowmpm/internal/uniforms"
)

// scene uploads particles at the given NDC positions under an identity
// camera.
func scene(t *testing.T, positions ...mgl32.Vec3) (*compute.CPUDevice, Frame) {
	t.Helper()
	dev := compute.NewCPUDevice(compute.Options{Workers: 2})
	t.Cleanup(dev.Destroy)

	u, err := uniforms.New(dev)
	if err != nil {
		t.Fatal(err)
	}
	if err := u.Flush(dev.Queue()); err != nil {
		t.Fatal(err)
	}
	ps, err := particles.New(dev, uint32(len(positions)))
	if err != nil {
		t.Fatal(err)
	}
	recs := make([]particles.Particle, len(positions))
	for i, p := range positions {
		recs[i] = particles.Rest(p, 1, 1, mgl32.Vec3{}, particles.MaterialSnow)
	}
	if err := ps.Upload(dev.Queue(), recs); err != nil {
		t.Fatal(err)
	}
	return dev, Frame{Particles: ps.Buffer(), Count: ps.Count(), Uniforms: u.Buffer()}
}

func draw(t *testing.T, dev compute.Device, m Method, f Frame) string {
	t.Helper()
	enc := dev.CreateCommandEncoder("frame")
	m.AddPrerenderPasses(enc, f, nil)
	m.AddDraw(enc, f, nil)
	cb, err := enc.Finish()
	if err != nil {
		t.Fatal(err)
	}
	dev.Queue().Submit(cb)
	if err := m.Present(); err != nil {
		t.Fatal(err)
	}
	if err := dev.Queue().OnSubmittedWorkDone(context.Background()); err != nil {
		t.Fatal(err)
	}
	return m.Image()
}

func rows(img string) []string {
	return strings.Split(strings.TrimSuffix(img, "\n"), "\n")
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		name    string
		want    Kind
		wantErr bool
	}{
		{"points", KindPoints, false},
		{"Density", KindDensity, false},
		{"raymarch", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.name)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownKind) {
				t.Errorf("ParseKind(%q): expected ErrUnknownKind, got %v", tt.name, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseKind(%q) = %v, %v", tt.name, got, err)
		}
	}
}

func TestPointsProjectsParticles(t *testing.T) {
	dev, f := scene(t, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{2, 0, 0})
	m := NewPoints(dev, 4, 2)
	defer m.Destroy()

	img := rows(draw(t, dev, m, f))
	if len(img) != 2 {
		t.Fatalf("image has %d rows, want 2", len(img))
	}
	want := string([]rune{brailleBase, brailleBase, brailleBase + 1, brailleBase})
	if img[1] != want {
		t.Errorf("row 1 = %q, want %q", img[1], want)
	}
	for _, r := range img[0] {
		if r != brailleBase {
			t.Errorf("row 0 should be empty, got %q", img[0])
			break
		}
	}
	if m.Presents() != 1 {
		t.Errorf("presents = %d, want 1", m.Presents())
	}
}

func TestDensityShadesByCount(t *testing.T) {
	// Three particles share the top-left cell, one sits in the bottom-right.
	dev, f := scene(t,
		mgl32.Vec3{-0.9, 0.9, 0}, mgl32.Vec3{-0.85, 0.85, 0}, mgl32.Vec3{-0.8, 0.8, 0},
		mgl32.Vec3{0.9, -0.9, 0},
	)
	m := NewDensity(dev, 2, 2)
	defer m.Destroy()

	img := rows(draw(t, dev, m, f))
	if img[0] != "@ " {
		t.Errorf("row 0 = %q, want %q", img[0], "@ ")
	}
	if img[1] != " -" {
		t.Errorf("row 1 = %q, want %q", img[1], " -")
	}
}

func TestResizeTakesEffectNextFrame(t *testing.T) {
	dev, f := scene(t, mgl32.Vec3{})
	m := NewPoints(dev, 4, 2)
	defer m.Destroy()

	draw(t, dev, m, f)
	m.Resize(6, 3)
	img := rows(draw(t, dev, m, f))
	if len(img) != 3 || len([]rune(img[0])) != 6 {
		t.Errorf("image is %dx%d, want 6x3", len([]rune(img[0])), len(img))
	}
}

func TestSlotSwapsMethod(t *testing.T) {
	dev, f := scene(t, mgl32.Vec3{})
	s, err := NewSlot(dev, KindPoints, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Destroy()

	if err := s.Set(KindDensity); err != nil {
		t.Fatal(err)
	}
	if s.Kind() != KindDensity {
		t.Fatalf("kind = %v", s.Kind())
	}
	enc := dev.CreateCommandEncoder("frame")
	s.Encode(enc, f, nil, nil)
	cb, err := enc.Finish()
	if err != nil {
		t.Fatal(err)
	}
	dev.Queue().Submit(cb)
	if err := s.Present(); err != nil {
		t.Fatal(err)
	}
	if err := dev.Queue().OnSubmittedWorkDone(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.Image(); !strings.ContainsRune(got, '@') {
		t.Errorf("density image %q has no dense cell", got)
	}
	if err := s.Set(Kind(9)); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestSlotKeepsReplacedMethodUntilPresent(t *testing.T) {
	dev, f := scene(t, mgl32.Vec3{})
	s, err := NewSlot(dev, KindPoints, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Destroy()

	enc := dev.CreateCommandEncoder("frame")
	s.Encode(enc, f, nil, nil)
	old := s.method.(*Points)

	// The swap lands between recording and submitting the frame.
	if err := s.Set(KindDensity); err != nil {
		t.Fatal(err)
	}
	if old.out == nil || old.out.Destroyed() {
		t.Fatal("replaced method released before its frame was submitted")
	}
	cb, err := enc.Finish()
	if err != nil {
		t.Fatal(err)
	}
	dev.Queue().Submit(cb)
	if err := s.Present(); err != nil {
		t.Fatal(err)
	}
	if err := dev.Queue().OnSubmittedWorkDone(context.Background()); err != nil {
		t.Fatal(err)
	}
	if old.Presents() != 1 {
		t.Errorf("replaced method presents = %d, want 1", old.Presents())
	}
	if len(s.retired) != 0 {
		t.Errorf("%d methods still retired after present", len(s.retired))
	}
}

func TestDotAndShade(t *testing.T) {
	if !Dot(brailleBase+0x80, 1, 3) || Dot(brailleBase+0x80, 0, 3) {
		t.Error("bit 0x80 should be the lower right dot only")
	}
	if Dot('@', 0, 0) {
		t.Error("non-braille rune reported a dot")
	}
	tests := []struct {
		r    rune
		want float64
		ok   bool
	}{
		{' ', 0, true},
		{'@', 1, true},
		{'x', 0, false},
	}
	for _, tt := range tests {
		got, ok := Shade(tt.r)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Shade(%q) = %g, %v", tt.r, got, ok)
		}
	}
}
