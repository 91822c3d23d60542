package uniforms

import (
	"context"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/snowmpm/internal/compute"
)

func newTestStore(t *testing.T) (*compute.CPUDevice, *Store) {
	t.Helper()
	dev := compute.NewCPUDevice(compute.Options{Workers: 2})
	t.Cleanup(dev.Destroy)
	s, err := New(dev)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return dev, s
}

func TestLayoutOffsets(t *testing.T) {
	tests := []struct {
		name   string
		offset int
		want   int
	}{
		{"view", OffsetView, 0},
		{"collider velocity", OffsetColliderVelocity, 256},
		{"timestep", OffsetTimestep, 268},
		{"fixed point scale", OffsetFixedPointScale, 284},
		{"grid resolution", OffsetGridResolution, 304},
		{"method", OffsetMethod, 328},
		{"screen size", OffsetScreenSize, 384},
	}
	for _, tt := range tests {
		if tt.offset != tt.want {
			t.Errorf("%s: offset %d, want %d", tt.name, tt.offset, tt.want)
		}
	}
	if Size%16 != 0 {
		t.Errorf("record size %d not 16-byte aligned", Size)
	}
}

func TestStoreFlushRoundTrip(t *testing.T) {
	dev, s := newTestStore(t)

	s.SetTimestep(1.0 / 144.0)
	s.SetMethod(MethodFluid)
	s.SetGrid(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{3.2, 3.2, 3.2}, [3]uint32{64, 64, 64}, 0.05, 1e5)
	s.SetCapacity(8192, 4096)
	s.SetParticleCount(1234)
	s.SetColliderBox(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1}, true)
	s.SetColliderTransform(mgl32.Translate3D(1, 2, 3))
	if !s.Dirty() {
		t.Fatal("expected dirty store after writes")
	}
	if err := s.Flush(dev.Queue()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if s.Dirty() {
		t.Error("store still dirty after flush")
	}

	data, err := compute.ReadBuffer(context.Background(), dev, s.Buffer())
	if err != nil {
		t.Fatalf("readback: %v", err)
	}
	p := Decode(data)
	if p != s.Params() {
		t.Errorf("device record differs from host record:\n got %+v\nwant %+v", p, s.Params())
	}
	if p.Method != MethodFluid || p.ParticleCount != 1234 || p.HashMapSize != 8192 || p.MaxBlocks != 4096 {
		t.Errorf("unexpected scalars: %+v", p)
	}
	if p.GridResolution != [3]uint32{64, 64, 64} {
		t.Errorf("resolution = %v", p.GridResolution)
	}
	if !p.ColliderEnabled {
		t.Error("collider should be enabled")
	}
	if got := p.ColliderTransform.Col(3); got != (mgl32.Vec4{1, 2, 3, 1}) {
		t.Errorf("collider translation = %v", got)
	}
}

func TestStoreVersion(t *testing.T) {
	_, s := newTestStore(t)
	v := s.Version()
	s.SetGravity(mgl32.Vec3{0, -9.8, 0})
	if s.Version() <= v {
		t.Error("version did not advance")
	}
}

func TestLoadFromDevice(t *testing.T) {
	dev, s := newTestStore(t)
	s.SetFrame(7, 0.5)
	if err := s.Flush(dev.Queue()); err != nil {
		t.Fatal(err)
	}

	var got Params
	enc := dev.CreateCommandEncoder("load")
	pass := enc.BeginComputePass(nil)
	pass.Dispatch("load uniforms", 1, func(uint32) { got = Load(s.Buffer()) })
	pass.End()
	cb, err := enc.Finish()
	if err != nil {
		t.Fatal(err)
	}
	dev.Queue().Submit(cb)
	if err := dev.Queue().OnSubmittedWorkDone(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got.FrameIndex != 7 || got.SimTime != 0.5 {
		t.Errorf("frame = %d time = %g", got.FrameIndex, got.SimTime)
	}
	if got.View != mgl32.Ident4() {
		t.Errorf("expected identity view, got %v", got.View)
	}
}

func TestSetCameraInverse(t *testing.T) {
	_, s := newTestStore(t)
	cam := NewCamera(mgl32.Vec3{1, 1, 1}, 5)
	s.SetCamera(cam.View(), cam.Projection(800, 600))
	p := s.Params()
	id := p.InvViewProjection.Mul4(p.Projection.Mul4(p.View))
	if !id.ApproxEqualThreshold(mgl32.Ident4(), 1e-3) {
		t.Errorf("inverse view-projection is not an inverse: %v", id)
	}
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		name string
		want Method
		ok   bool
	}{
		{"snow", MethodSnow, true},
		{"fluid", MethodFluid, true},
		{"sand", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseMethod(tt.name)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseMethod(%q) = %v, %v", tt.name, got, ok)
		}
		if ok && got.String() != tt.name {
			t.Errorf("%v.String() = %q", got, got.String())
		}
	}
}

func TestValueNotifiesOnChange(t *testing.T) {
	v := NewValue(1)
	var seen []int
	cancel := v.Subscribe(func(n int) { seen = append(seen, n) })

	if v.Set(1) {
		t.Error("Set with same value reported a change")
	}
	if !v.Set(2) {
		t.Error("Set with new value reported no change")
	}
	cancel()
	v.Set(3)

	if len(seen) != 1 || seen[0] != 2 {
		t.Errorf("subscriber saw %v, want [2]", seen)
	}
	if v.Get() != 3 {
		t.Errorf("Get() = %d, want 3", v.Get())
	}
}

func TestCameraOrbitClampsPitch(t *testing.T) {
	cam := NewCamera(mgl32.Vec3{}, 2).Orbit(0, 10)
	if cam.Pitch > 1.5 {
		t.Errorf("pitch %g not clamped", cam.Pitch)
	}
	if d := cam.Eye().Len(); d < 1.99 || d > 2.01 {
		t.Errorf("eye distance %g, want 2", d)
	}
}
