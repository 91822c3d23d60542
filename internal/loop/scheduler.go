package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/san-kum/snowmpm/internal/compute"
	"github.com/san-kum/snowmpm/internal/logging"
	"github.com/san-kum/snowmpm/internal/perf"
)

var (
	// ErrStopped is returned by Run on a scheduler that already stopped.
	ErrStopped = errors.New("loop: scheduler stopped")

	// ErrConfig is returned when a scheduler is built without its inputs.
	ErrConfig = errors.New("loop: invalid scheduler configuration")
)

// Work is what the scheduler drives each tick. All methods run on the
// scheduler goroutine.
type Work interface {
	// Prepare flushes host-side state before the frame is encoded.
	Prepare(frame uint64, simTime time.Duration) error
	// EncodeSimulation records steps simulation steps.
	EncodeSimulation(enc *compute.CommandEncoder, steps int)
	// EncodeRender records the render passes of the frame.
	EncodeRender(enc *compute.CommandEncoder)
	// Present runs after the frame is submitted; readbacks of the frame's
	// results are requested here.
	Present() error
}

// FrameStats describes one tick.
type FrameStats struct {
	Index         uint64
	StepsExecuted int
	StepsOwed     int
	StepsDropped  int

	// Simulated is the simulated time the executed steps cover.
	Simulated time.Duration
	// Wall is the time since the previous tick.
	Wall time.Duration
	// Phases holds the most recent GPU timings; they lag the frame.
	Phases perf.Timings
}

type Options struct {
	Device  compute.Device
	Work    Work
	Policy  Policy
	Display Display

	// Harness is optional; without it frames carry no phase timings.
	Harness *perf.Harness

	// OnFrame runs on the scheduler goroutine after each submission.
	OnFrame func(FrameStats)
	// OnTimings runs on the device queue goroutine when a readback lands.
	OnTimings func(perf.Timings)
}

// Scheduler runs one frame of work per display tick.
type Scheduler struct {
	dev       compute.Device
	work      Work
	display   Display
	harness   *perf.Harness
	onFrame   func(FrameStats)
	onTimings func(perf.Timings)

	mu      sync.Mutex
	tracker *Tracker
	policy  *Policy
	phases  perf.Timings

	frame    uint64
	lastTick time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	failed   chan error
	running  bool
}

func New(opts Options) (*Scheduler, error) {
	if opts.Device == nil || opts.Work == nil || opts.Display == nil {
		return nil, fmt.Errorf("%w: device, work and display are required", ErrConfig)
	}
	if opts.Policy.Timestep <= 0 {
		return nil, fmt.Errorf("%w: timestep %v", ErrConfig, opts.Policy.Timestep)
	}
	return &Scheduler{
		dev:       opts.Device,
		work:      opts.Work,
		display:   opts.Display,
		harness:   opts.Harness,
		onFrame:   opts.OnFrame,
		onTimings: opts.OnTimings,
		tracker:   NewTracker(opts.Policy),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		failed:    make(chan error, 1),
	}, nil
}

// SetPolicy replaces the policy. The simulation start is re-anchored on
// the next tick.
func (s *Scheduler) SetPolicy(p Policy) {
	s.mu.Lock()
	s.policy = &p
	s.mu.Unlock()
}

// Stop cancels every future tick. Work already submitted still executes.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed when Run returns.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// Run drives the loop until Stop, ctx cancellation, device loss or a
// failed timestamp readback. It returns nil after Stop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	select {
	case <-s.stop:
		s.mu.Unlock()
		return ErrStopped
	default:
	}
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("%w: already running", ErrConfig)
	}
	s.running = true
	s.mu.Unlock()

	defer close(s.done)
	defer s.display.Stop()
	defer s.Stop()

	if err := s.dev.Queue().OnSubmittedWorkDone(ctx); err != nil {
		return fmt.Errorf("loop: await device: %w", err)
	}
	slogger().Info("scheduler started", "timestep", s.tracker.Policy().Timestep,
		"drift_threshold", s.tracker.Policy().DriftThreshold,
		"one_step_per_frame", s.tracker.Policy().OneStepPerFrame)

	ticks := s.display.Ticks()
	for {
		select {
		case <-s.stop:
			slogger().Info("scheduler stopped", "frames", s.frame)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case info := <-s.dev.Lost():
			return fmt.Errorf("%w: %s: %v", compute.ErrDeviceLost, info.Reason, info.Err)
		case err := <-s.failed:
			slogger().Error("timestamp readback failed, stopping", "err", err)
			return err
		case now := <-ticks:
			// Stop may race a ready tick; it wins.
			select {
			case <-s.stop:
				return nil
			default:
			}
			if err := s.tick(now); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) tick(now time.Time) error {
	s.mu.Lock()
	if s.policy != nil {
		s.tracker.Reset(*s.policy)
		s.policy = nil
	}
	plan := s.tracker.Plan(now)
	simTime := s.tracker.SimTime()
	dt := s.tracker.Policy().Timestep
	phases := s.phases
	s.mu.Unlock()

	if plan.Dropped > 0 {
		slogger().Debug("steps dropped", "frame", s.frame, "owed", plan.Owed,
			"executed", plan.Execute, "behind", plan.TimeToSimulate)
	}

	if err := s.work.Prepare(s.frame, simTime); err != nil {
		return fmt.Errorf("loop: prepare frame %d: %w", s.frame, err)
	}
	enc := s.dev.CreateCommandEncoder(fmt.Sprintf("frame %d", s.frame))
	if plan.Execute > 0 {
		s.work.EncodeSimulation(enc, plan.Execute)
	}
	s.work.EncodeRender(enc)
	resolved := s.harness.Resolve(enc)
	cb, err := enc.Finish()
	if err != nil {
		return fmt.Errorf("loop: encode frame %d: %w", s.frame, err)
	}
	s.dev.Queue().Submit(cb)
	if err := s.work.Present(); err != nil {
		return fmt.Errorf("loop: present frame %d: %w", s.frame, err)
	}

	if resolved {
		if err := s.harness.ReadAsync(s.receiveTimings); err != nil && !errors.Is(err, perf.ErrReadPending) {
			return fmt.Errorf("loop: timestamp readback: %w", err)
		}
	}

	var wall time.Duration
	if !s.lastTick.IsZero() {
		wall = now.Sub(s.lastTick)
	}
	s.lastTick = now
	if s.onFrame != nil {
		s.onFrame(FrameStats{
			Index:         s.frame,
			StepsExecuted: plan.Execute,
			StepsOwed:     plan.Owed,
			StepsDropped:  plan.Dropped,
			Simulated:     time.Duration(plan.Execute) * dt,
			Wall:          wall,
			Phases:        phases,
		})
	}
	s.mu.Lock()
	s.frame++
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) receiveTimings(t perf.Timings, err error) {
	if err != nil {
		select {
		case s.failed <- err:
		default:
		}
		return
	}
	s.mu.Lock()
	s.phases = t
	s.mu.Unlock()
	if s.onTimings != nil {
		s.onTimings(t)
	}
}

// SimTime is the simulated time accounted for since the anchor, dropped
// steps included.
func (s *Scheduler) SimTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.SimTime()
}

// Frames returns the number of ticks processed.
func (s *Scheduler) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func slogger() *slog.Logger { return logging.For("loop") }
