// Package sim composes the solver into a running session: it owns every
// device resource, drives the frame loop and exposes the control
// operations.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/snowmpm/internal/compute"
	"github.com/san-kum/snowmpm/internal/config"
	"github.com/san-kum/snowmpm/internal/initializer"
	"github.com/san-kum/snowmpm/internal/logging"
	"github.com/san-kum/snowmpm/internal/loop"
	"github.com/san-kum/snowmpm/internal/mpm"
	"github.com/san-kum/snowmpm/internal/particles"
	"github.com/san-kum/snowmpm/internal/perf"
	"github.com/san-kum/snowmpm/internal/render"
	"github.com/san-kum/snowmpm/internal/sparsegrid"
	"github.com/san-kum/snowmpm/internal/uniforms"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	ErrRunning = errors.New("sim: loop already running")
	ErrClosed  = errors.New("sim: session closed")
)

// Session owns the device resources of one simulation. Control operations
// are safe for concurrent use with the running loop.
type Session struct {
	cfg        *config.Config
	dev        compute.Device
	ownsDevice bool
	opts       options

	uniforms  *uniforms.Store
	particles *particles.Store
	grid      *sparsegrid.Grid
	pipeline  *mpm.Pipeline
	scatter   *initializer.Initializer
	harness   *perf.Harness
	collector *perf.Collector
	slot      *render.Slot

	// View parameters. Each change is applied by a subscription that runs
	// with mu held.
	camera     *uniforms.Value[uniforms.Camera]
	size       *uniforms.Value[render.Size]
	renderKind *uniforms.Value[render.Kind]
	applyErr   error

	mu        sync.Mutex
	method    uniforms.Method
	mass      float32
	volume    float32
	scheduler *loop.Scheduler
	exited    chan struct{}
	runErr    error
	closed    bool

	// Scheduler goroutine only.
	frame       uint64
	statsQueued bool

	statsMu   sync.Mutex
	gridStats sparsegrid.Stats
}

// New builds a session from cfg and scatters the initial particles.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{cfg: cfg.Clone()}
	for _, o := range opts {
		o(&s.opts)
	}
	if err := s.init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func vec3(v [3]float64) mgl32.Vec3 {
	return mgl32.Vec3{float32(v[0]), float32(v[1]), float32(v[2])}
}

func r3vec(v [3]float64) r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

func (s *Session) init(ctx context.Context) error {
	cfg := s.cfg
	var err error
	if s.opts.device != nil {
		s.dev = s.opts.device
	} else {
		s.dev, err = compute.RequestDevice(ctx, compute.Options{
			Backend:           cfg.Device.Backend,
			Workers:           cfg.Device.Workers,
			DisableTimestamps: !cfg.Device.Timestamps,
		})
		if err != nil {
			return fmt.Errorf("sim: acquire device: %w", err)
		}
		s.ownsDevice = true
	}

	method, ok := uniforms.ParseMethod(cfg.Simulation.Method)
	if !ok {
		return fmt.Errorf("%w: method %q", config.ErrInvalid, cfg.Simulation.Method)
	}
	s.method = method
	count := uint32(cfg.Simulation.Particles)

	if s.uniforms, err = uniforms.New(s.dev); err != nil {
		return err
	}
	if s.particles, err = particles.New(s.dev, count); err != nil {
		return err
	}
	bpa := cfg.BlocksPerAxis()
	if s.grid, err = sparsegrid.New(s.dev, sparsegrid.Config{
		HashMapSize:   uint32(cfg.HashMapSize()),
		MaxBlocks:     uint32(cfg.MaxBlocks()),
		BlocksPerAxis: [3]uint32{uint32(bpa[0]), uint32(bpa[1]), uint32(bpa[2])},
		Hash:          cfg.Grid.Hash,
	}); err != nil {
		return err
	}
	m := cfg.Material
	if s.pipeline, err = mpm.New(mpm.Config{
		Uniforms:  s.uniforms.Buffer(),
		Particles: s.particles,
		Grid:      s.grid,
		Material: mpm.Material{
			YoungsModulus:       float32(m.YoungsModulus),
			PoissonRatio:        float32(m.PoissonRatio),
			Hardening:           float32(m.Hardening),
			CriticalCompression: float32(m.CriticalCompression),
			CriticalStretch:     float32(m.CriticalStretch),
			BulkModulus:         float32(m.BulkModulus),
		},
	}); err != nil {
		return err
	}

	mesh, err := initializer.LoadMesh(cfg.Scatter.Mesh, r3vec(cfg.Scatter.Center), r3vec(cfg.Scatter.Size))
	if err != nil {
		return fmt.Errorf("sim: scatter mesh: %w", err)
	}
	if s.scatter, err = initializer.New(s.dev, mesh); err != nil {
		return err
	}
	h := cfg.CellSize()
	s.volume = float32(mesh.Volume() / float64(count) / (h * h * h))
	s.mass = s.volume * float32(m.Density)

	s.harness, err = perf.NewHarness(s.dev, perf.PhaseScatter, perf.PhaseSimulate, perf.PhasePrerender, perf.PhaseRender)
	if errors.Is(err, perf.ErrUnsupported) {
		slogger().Info("timestamp queries unsupported, phase timings disabled")
	} else if err != nil {
		return err
	}
	s.collector = perf.NewCollector(cfg.Telemetry.WindowSize)

	kind, err := render.ParseKind(cfg.Render.Method)
	if err != nil {
		return err
	}
	size := render.Size{Width: cfg.Render.Width, Height: cfg.Render.Height}
	if s.slot, err = render.NewSlot(s.dev, kind, size.Width, size.Height); err != nil {
		return err
	}
	s.size = uniforms.NewValue(size)
	s.renderKind = uniforms.NewValue(kind)

	if err := s.writeUniforms(); err != nil {
		return err
	}
	slogger().Info("session created",
		"particles", count,
		"resolution", cfg.Grid.Resolution,
		"max_blocks", cfg.MaxBlocks(),
		"hash_map_size", cfg.HashMapSize(),
		"method", s.method,
		"timestamps", s.harness != nil)
	s.watch()
	return s.ScatterParticlesInMeshVolume()
}

// watch wires the view parameters to the uniforms and the render slot.
func (s *Session) watch() {
	s.camera.Subscribe(func(uniforms.Camera) { s.applyCamera() })
	s.size.Subscribe(func(sz render.Size) {
		s.slot.Resize(sz.Width, sz.Height)
		s.applyCamera()
	})
	s.renderKind.Subscribe(func(k render.Kind) {
		if err := s.slot.Set(k); err != nil {
			s.applyErr = err
		}
	})
}

// writeUniforms fills the whole record from the configuration.
func (s *Session) writeUniforms() error {
	cfg := s.cfg
	u := s.uniforms
	res := cfg.Grid.Resolution
	u.SetGrid(vec3(cfg.Grid.Min), vec3(cfg.Grid.Max),
		[3]uint32{uint32(res[0]), uint32(res[1]), uint32(res[2])},
		float32(cfg.CellSize()), float32(cfg.Grid.FixedPointScale))
	u.SetCapacity(uint32(cfg.HashMapSize()), uint32(cfg.MaxBlocks()))
	u.SetParticleCount(uint32(cfg.Simulation.Particles))
	u.SetGravity(vec3(cfg.Simulation.Gravity))
	u.SetMethod(s.method)
	u.SetTimestep(float32(cfg.TimestepFor(s.method.String())))

	col := cfg.Collider
	if col.Enabled {
		// The box is kept in collider space around the origin; the
		// transform places it.
		mesh, err := initializer.LoadMesh(col.Mesh, r3.Vec{}, r3vec(col.Size))
		if err != nil {
			return fmt.Errorf("sim: collider mesh: %w", err)
		}
		b := mesh.Bounds()
		u.SetColliderBox(
			mgl32.Vec3{float32(b.Min.X), float32(b.Min.Y), float32(b.Min.Z)},
			mgl32.Vec3{float32(b.Max.X), float32(b.Max.Y), float32(b.Max.Z)},
			true)
		c := vec3(col.Center)
		u.SetColliderTransform(mgl32.Translate3D(c[0], c[1], c[2]))
		u.SetColliderVelocity(vec3(col.Velocity))
	} else {
		u.SetColliderBox(mgl32.Vec3{}, mgl32.Vec3{}, false)
	}

	center := vec3(cfg.Grid.Min).Add(vec3(cfg.Grid.Max)).Mul(0.5)
	cam := uniforms.NewCamera(center, float32(cfg.Camera.Distance))
	cam.Yaw, cam.Pitch, cam.FOV = float32(cfg.Camera.Yaw), float32(cfg.Camera.Pitch), float32(cfg.Camera.FOV)
	s.camera = uniforms.NewValue(cam)
	s.applyCamera()
	return u.Flush(s.dev.Queue())
}

// applyCamera writes the camera for the current output size. Braille
// cells are two dots wide and four tall.
func (s *Session) applyCamera() {
	sz, cam := s.size.Get(), s.camera.Get()
	w, h := float32(sz.Width*2), float32(sz.Height*4)
	s.uniforms.SetScreenSize(w, h)
	s.uniforms.SetCamera(cam.View(), cam.Projection(w, h))
}

func (s *Session) Config() *config.Config { return s.cfg }
func (s *Session) Device() compute.Device { return s.dev }

// Collector returns the rolling performance statistics.
func (s *Session) Collector() *perf.Collector { return s.collector }

// Image returns the latest frame of the active render method.
func (s *Session) Image() string { return s.slot.Image() }

// RenderMethod returns the active render method kind.
func (s *Session) RenderMethod() render.Kind { return s.renderKind.Get() }

// RenderFrame is what the active render method reads each frame.
func (s *Session) RenderFrame() render.Frame {
	return render.Frame{
		Particles: s.particles.Buffer(),
		Count:     s.particles.Count(),
		Uniforms:  s.uniforms.Buffer(),
	}
}

// Method returns the active simulation method.
func (s *Session) Method() uniforms.Method {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.method
}

// GridStats returns the most recent control block readback.
func (s *Session) GridStats() sparsegrid.Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.gridStats
}

func (s *Session) materialTag() particles.Material {
	if s.method == uniforms.MethodFluid {
		return particles.MaterialFluid
	}
	return particles.MaterialSnow
}

// ScatterParticlesInMeshVolume resets every particle to a fresh uniform
// sample of the scatter mesh. The reset is submitted immediately and is
// ordered between frames by the device queue.
func (s *Session) ScatterParticlesInMeshVolume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scatterLocked()
}

func (s *Session) scatterLocked() error {
	if s.closed {
		return ErrClosed
	}
	enc := s.dev.CreateCommandEncoder("scatter")
	pass := enc.BeginComputePass(&compute.ComputePassDescriptor{
		Label:           "scatter",
		TimestampWrites: s.harness.ComputePassTimestamps(perf.PhaseScatter),
	})
	s.scatter.Encode(pass, s.particles, initializer.Options{
		Seed:        uint64(s.cfg.Simulation.Seed),
		Mass:        s.mass,
		Volume:      s.volume,
		Velocity:    vec3(s.cfg.Scatter.InitialVelocity),
		Material:    s.materialTag(),
		MaxAttempts: s.cfg.Scatter.MaxAttempts,
	})
	pass.End()
	cb, err := enc.Finish()
	if err != nil {
		return fmt.Errorf("sim: scatter: %w", err)
	}
	s.dev.Queue().Submit(cb)
	slogger().Debug("particles scattered", "count", s.particles.Count(), "mass", s.mass, "volume", s.volume)
	return nil
}

// UpdateColliderTransform places the collider; m maps collider space to
// world space.
func (s *Session) UpdateColliderTransform(m mgl32.Mat4) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.uniforms.SetColliderTransform(m)
	return s.uniforms.Flush(s.dev.Queue())
}

// UpdateColliderVelocity sets the collider velocity in world units per second.
func (s *Session) UpdateColliderVelocity(v mgl32.Vec3) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.uniforms.SetColliderVelocity(v)
	return s.uniforms.Flush(s.dev.Queue())
}

// SetRenderMethod replaces the render method. A method that cannot be
// built leaves the previous one active.
func (s *Session) SetRenderMethod(kind render.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev := s.renderKind.Get()
	s.applyErr = nil
	if s.renderKind.Set(kind) && s.applyErr != nil {
		err := s.applyErr
		s.renderKind.Set(prev)
		return err
	}
	return nil
}

func (s *Session) Camera() uniforms.Camera { return s.camera.Get() }

func (s *Session) SetCamera(c uniforms.Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.camera.Set(c) {
		return nil
	}
	return s.uniforms.Flush(s.dev.Queue())
}

// Size returns the render output size in terminal cells.
func (s *Session) Size() render.Size { return s.size.Get() }

// Resize sets the render output size in terminal cells.
func (s *Session) Resize(width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.size.Set(render.Size{Width: max(width, 1), Height: max(height, 1)}) {
		return nil
	}
	return s.uniforms.Flush(s.dev.Queue())
}

// OnCameraChange registers fn for camera changes. Callbacks run on the
// caller's goroutine while the session is locked and must not call back
// into the session.
func (s *Session) OnCameraChange(fn func(uniforms.Camera)) (cancel func()) {
	return s.camera.Subscribe(fn)
}

// OnResize registers fn for output size changes, with the same rules as
// OnCameraChange.
func (s *Session) OnResize(fn func(render.Size)) (cancel func()) {
	return s.size.Subscribe(fn)
}

// OnRenderMethodChange registers fn for render method changes, with the
// same rules as OnCameraChange.
func (s *Session) OnRenderMethodChange(fn func(render.Kind)) (cancel func()) {
	return s.renderKind.Subscribe(fn)
}

// SetMethod switches the simulation method. The timestep follows the
// method, the loop re-anchors, and the particles are scattered again since
// the deformation state of one method is meaningless to the other.
func (s *Session) SetMethod(m uniforms.Method) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if m == s.method {
		return nil
	}
	s.method = m
	s.uniforms.SetMethod(m)
	s.uniforms.SetTimestep(float32(s.cfg.TimestepFor(m.String())))
	if err := s.uniforms.Flush(s.dev.Queue()); err != nil {
		return err
	}
	if s.scheduler != nil {
		s.scheduler.SetPolicy(s.policy())
	}
	slogger().Info("method changed", "method", m, "timestep", s.cfg.TimestepFor(m.String()))
	return s.scatterLocked()
}

func (s *Session) policy() loop.Policy {
	dt := s.cfg.TimestepFor(s.method.String())
	return loop.Policy{
		Timestep:        time.Duration(dt * float64(time.Second)),
		DriftThreshold:  time.Duration(s.cfg.Loop.DriftThresholdMs * float64(time.Millisecond)),
		OneStepPerFrame: s.cfg.Loop.OneStepPerFrame,
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func slogger() *slog.Logger { return logging.For("sim") }
