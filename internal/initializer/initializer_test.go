package initializer

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/snowmpm/internal/compute"
	"github.com/san-kum/snowmpm/internal/particles"
	"gonum.org/v1/gonum/spatial/r3"
)

const cubeOBJ = `# unit cube
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
v 0 0 1
v 1 0 1
v 1 1 1
v 0 1 1
f 1/1/1 4/4/4 3/3/3 2/2/2
f 5 6 7 8
f 1 2 6 5
f 4 8 7 3
f 1 5 8 4
f 2 3 7 6
`

func TestMeshVolume(t *testing.T) {
	tests := []struct {
		name string
		mesh *Mesh
		want float64
		tol  float64
	}{
		{"box", Box(r3.Vec{X: 1, Y: 1, Z: 1}, r3.Vec{X: 2, Y: 3, Z: 4}), 24, 1e-9},
		{"sphere", Sphere(r3.Vec{}, r3.Vec{X: 2, Y: 2, Z: 2}, 32, 48), 4.0 / 3.0 * math.Pi, 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mesh.Volume(); math.Abs(got-tt.want) > tt.tol*tt.want {
				t.Errorf("volume %g, want %g", got, tt.want)
			}
		})
	}
}

func TestMeshContains(t *testing.T) {
	box := Box(r3.Vec{}, r3.Vec{X: 2, Y: 2, Z: 2})
	sphere := Sphere(r3.Vec{}, r3.Vec{X: 2, Y: 2, Z: 2}, 16, 24)
	tests := []struct {
		p        r3.Vec
		inBox    bool
		inSphere bool
	}{
		{r3.Vec{}, true, true},
		{r3.Vec{X: 0.3, Y: -0.2, Z: 0.1}, true, true},
		{r3.Vec{X: 0.9, Y: 0.9, Z: 0.9}, true, false},
		{r3.Vec{X: 1.5}, false, false},
		{r3.Vec{Y: -3}, false, false},
	}
	for _, tt := range tests {
		if got := box.Contains(tt.p); got != tt.inBox {
			t.Errorf("box.Contains(%v) = %v", tt.p, got)
		}
		if got := sphere.Contains(tt.p); got != tt.inSphere {
			t.Errorf("sphere.Contains(%v) = %v", tt.p, got)
		}
	}
}

func TestParseOBJ(t *testing.T) {
	m, err := ParseOBJ(strings.NewReader(cubeOBJ))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(m.Vertices) != 8 || len(m.Faces) != 12 {
		t.Errorf("got %d vertices %d faces, want 8 and 12", len(m.Vertices), len(m.Faces))
	}
	if v := m.Volume(); math.Abs(v-1) > 1e-9 {
		t.Errorf("volume %g, want 1", v)
	}
	b := m.Bounds()
	if b.Min != (r3.Vec{}) || b.Max != (r3.Vec{X: 1, Y: 1, Z: 1}) {
		t.Errorf("bounds %v", b)
	}
}

func TestParseOBJErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"no faces", "v 0 0 0\nv 1 0 0\nv 0 1 0\n"},
		{"short vertex", "v 0 0\n"},
		{"bad index", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 9\n"},
		{"zero index", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 0 1 2\n"},
		{"not a number", "v 0 x 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseOBJ(strings.NewReader(tt.src)); !errors.Is(err, ErrMesh) {
				t.Errorf("expected ErrMesh, got %v", err)
			}
		})
	}
}

func TestLoadMeshCentersOBJ(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.obj")
	if err := os.WriteFile(path, []byte(cubeOBJ), 0644); err != nil {
		t.Fatal(err)
	}
	center := r3.Vec{X: 5, Y: 6, Z: 7}
	m, err := LoadMesh(path, center, r3.Vec{X: 1, Y: 1, Z: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Bounds().Center(); r3.Norm(r3.Sub(got, center)) > 1e-9 {
		t.Errorf("center %v, want %v", got, center)
	}
	if _, err := LoadMesh(filepath.Join(t.TempDir(), "missing.obj"), center, center); !errors.Is(err, ErrMesh) {
		t.Errorf("expected ErrMesh for missing file, got %v", err)
	}
}

func scatter(t *testing.T, workers int, mesh *Mesh, n uint32, opts Options) []particles.Particle {
	t.Helper()
	dev := compute.NewCPUDevice(compute.Options{Workers: workers})
	t.Cleanup(dev.Destroy)
	in, err := New(dev, mesh)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Destroy()
	store, err := particles.New(dev, n)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Destroy()

	enc := dev.CreateCommandEncoder("scatter")
	pass := enc.BeginComputePass(nil)
	in.Encode(pass, store, opts)
	pass.End()
	cb, err := enc.Finish()
	if err != nil {
		t.Fatal(err)
	}
	dev.Queue().Submit(cb)
	out, err := store.Snapshot(context.Background(), dev)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestScatterInsideMesh(t *testing.T) {
	mesh := Sphere(r3.Vec{X: 1, Y: 2, Z: 1}, r3.Vec{X: 0.8, Y: 0.8, Z: 0.8}, 12, 16)
	opts := Options{Seed: 42, Mass: 0.125, Volume: 0.125, Velocity: mgl32.Vec3{0, -1, 0}, Material: particles.MaterialSnow, MaxAttempts: 64}
	out := scatter(t, 8, mesh, 2000, opts)

	b := mesh.Bounds()
	const eps = 1e-5
	for i, p := range out {
		x := r3.Vec{X: float64(p.Position[0]), Y: float64(p.Position[1]), Z: float64(p.Position[2])}
		if x.X < b.Min.X-eps || x.Y < b.Min.Y-eps || x.Z < b.Min.Z-eps ||
			x.X > b.Max.X+eps || x.Y > b.Max.Y+eps || x.Z > b.Max.Z+eps {
			t.Fatalf("particle %d at %v outside bounds %v", i, x, b)
		}
		if !mesh.Contains(x) {
			t.Errorf("particle %d at %v outside mesh", i, x)
		}
		if p.Mass != opts.Mass || p.Volume != opts.Volume || p.Velocity != opts.Velocity {
			t.Fatalf("particle %d: unexpected record %+v", i, p)
		}
		if p.F != mgl32.Ident3() || p.C != (mgl32.Mat3{}) || p.Jp != 1 {
			t.Fatalf("particle %d: not at rest: %+v", i, p)
		}
	}
}

func TestScatterDeterministic(t *testing.T) {
	mesh := Box(r3.Vec{X: 1, Y: 1, Z: 1}, r3.Vec{X: 1, Y: 0.5, Z: 1})
	opts := Options{Seed: 7, Mass: 1, Volume: 1, MaxAttempts: 8}
	a := scatter(t, 1, mesh, 500, opts)
	b := scatter(t, 8, mesh, 500, opts)
	for i := range a {
		if a[i].Position != b[i].Position {
			t.Fatalf("particle %d differs across worker counts: %v vs %v", i, a[i].Position, b[i].Position)
		}
	}
	opts.Seed = 8
	c := scatter(t, 8, mesh, 500, opts)
	same := 0
	for i := range a {
		if a[i].Position == c[i].Position {
			same++
		}
	}
	if same == len(a) {
		t.Error("different seeds produced identical scatters")
	}
}
