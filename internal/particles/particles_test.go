package particles

import (
	"context"
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/snowmpm/internal/compute"
)

func TestUploadSnapshot(t *testing.T) {
	dev := compute.NewCPUDevice(compute.Options{Workers: 2})
	t.Cleanup(dev.Destroy)

	s, err := New(dev, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Destroy()

	in := []Particle{
		Rest(mgl32.Vec3{1, 2, 3}, 0.5, 0.125, mgl32.Vec3{0, -1, 0}, MaterialSnow),
		Rest(mgl32.Vec3{4, 5, 6}, 0.5, 0.125, mgl32.Vec3{}, MaterialFluid),
		Rest(mgl32.Vec3{7, 8, 9}, 1, 0.25, mgl32.Vec3{1, 0, 0}, MaterialSnow),
	}
	in[2].C = mgl32.Mat3{1, 2, 3, 4, 5, 6, 7, 8, 9}
	in[2].Jp = 0.9

	if err := s.Upload(dev.Queue(), in); err != nil {
		t.Fatalf("upload: %v", err)
	}
	out, err := s.Snapshot(context.Background(), dev)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d particles, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("particle %d:\n got %+v\nwant %+v", i, out[i], in[i])
		}
	}
}

func TestUploadCountMismatch(t *testing.T) {
	dev := compute.NewCPUDevice(compute.Options{Workers: 1})
	t.Cleanup(dev.Destroy)
	s, err := New(dev, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Upload(dev.Queue(), make([]Particle, 3)); !errors.Is(err, ErrCount) {
		t.Errorf("expected ErrCount, got %v", err)
	}
	if _, err := New(dev, 0); !errors.Is(err, ErrCount) {
		t.Errorf("expected ErrCount for empty store, got %v", err)
	}
}

func TestKernelLoadStore(t *testing.T) {
	dev := compute.NewCPUDevice(compute.Options{Workers: 4})
	t.Cleanup(dev.Destroy)
	const n = 200
	s, err := New(dev, n)
	if err != nil {
		t.Fatal(err)
	}

	enc := dev.CreateCommandEncoder("init")
	pass := enc.BeginComputePass(nil)
	buf := s.Buffer()
	pass.Dispatch("init", n, func(id uint32) {
		Rest(mgl32.Vec3{float32(id), 0, 0}, 1, 1, mgl32.Vec3{}, MaterialSnow).Store(buf, id)
	})
	pass.Dispatch("advect", n, func(id uint32) {
		p := Load(buf, id)
		p.Position[1] = p.Position[0] * 2
		p.Store(buf, id)
	})
	pass.End()
	cb, err := enc.Finish()
	if err != nil {
		t.Fatal(err)
	}
	dev.Queue().Submit(cb)

	out, err := s.Snapshot(context.Background(), dev)
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range out {
		if p.Position[1] != float32(2*i) || p.F != mgl32.Ident3() || p.Jp != 1 {
			t.Fatalf("particle %d: %+v", i, p)
		}
	}
}
