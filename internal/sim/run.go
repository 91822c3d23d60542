package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/san-kum/snowmpm/internal/compute"
	"github.com/san-kum/snowmpm/internal/loop"
	"github.com/san-kum/snowmpm/internal/particles"
	"github.com/san-kum/snowmpm/internal/perf"
	"github.com/san-kum/snowmpm/internal/sparsegrid"
)

// Start runs the frame loop on its own goroutine until Stop, ctx
// cancellation or an unrecoverable failure. Wait returns the outcome.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.running() {
		return ErrRunning
	}
	display := loop.NewTickerDisplay
	if s.opts.display != nil {
		display = s.opts.display
	}
	sched, err := loop.New(loop.Options{
		Device:    s.dev,
		Work:      (*frameWork)(s),
		Policy:    s.policy(),
		Display:   display(s.cfg.Loop.RefreshRate),
		Harness:   s.harness,
		OnFrame:   s.onFrame,
		OnTimings: s.collector.AddTimings,
	})
	if err != nil {
		return err
	}
	exited := make(chan struct{})
	s.scheduler, s.exited, s.runErr = sched, exited, nil
	go func() {
		err := sched.Run(ctx)
		if err != nil {
			slogger().Error("frame loop ended", "err", err)
		}
		s.mu.Lock()
		s.runErr = err
		s.mu.Unlock()
		close(exited)
	}()
	return nil
}

// running reports whether a loop goroutine is live. Callers hold s.mu.
func (s *Session) running() bool {
	if s.exited == nil {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Running reports whether the frame loop is live.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running()
}

// Stop cancels future frames and waits for the loop to exit. Work already
// submitted still runs.
func (s *Session) Stop() error {
	s.mu.Lock()
	sched := s.scheduler
	s.mu.Unlock()
	if sched == nil {
		return nil
	}
	sched.Stop()
	return s.Wait()
}

// Wait blocks until the loop exits and returns its error.
func (s *Session) Wait() error {
	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()
	if exited == nil {
		return nil
	}
	<-exited
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

// Step runs n simulation steps without the loop and waits for them. It is
// the headless path used by benchmarks and tests.
func (s *Session) Step(ctx context.Context, n int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.running() {
		s.mu.Unlock()
		return ErrRunning
	}
	err := s.uniforms.Flush(s.dev.Queue())
	s.mu.Unlock()
	if err != nil {
		return err
	}
	enc := s.dev.CreateCommandEncoder("step")
	(*frameWork)(s).EncodeSimulation(enc, n)
	cb, err := enc.Finish()
	if err != nil {
		return fmt.Errorf("sim: step: %w", err)
	}
	s.dev.Queue().Submit(cb)
	return s.dev.Queue().OnSubmittedWorkDone(ctx)
}

// Snapshot reads every particle back. It waits for all submitted work.
func (s *Session) Snapshot(ctx context.Context) ([]particles.Particle, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.particles.Snapshot(ctx, s.dev)
}

// ReadGridStats reads the control block synchronously.
func (s *Session) ReadGridStats(ctx context.Context) (sparsegrid.Stats, error) {
	if s.isClosed() {
		return sparsegrid.Stats{}, ErrClosed
	}
	st, err := s.grid.Stats(ctx, s.dev)
	if err == nil {
		s.storeGridStats(st)
	}
	return st, err
}

func (s *Session) storeGridStats(st sparsegrid.Stats) {
	s.statsMu.Lock()
	prev := s.gridStats
	s.gridStats = st
	s.statsMu.Unlock()
	if st.Dropped > prev.Dropped || st.FixedPointOverflows > prev.FixedPointOverflows {
		slogger().Warn("sparse grid overflow",
			"allocated", st.Allocated,
			"max_blocks", st.MaxBlocks,
			"dropped", st.Dropped,
			"fixed_point_overflows", st.FixedPointOverflows)
	}
}

func (s *Session) onFrame(f loop.FrameStats) {
	s.mu.Lock()
	method := s.method
	sched := s.scheduler
	s.mu.Unlock()
	var simTime time.Duration
	if sched != nil {
		simTime = sched.SimTime()
	}
	stats := FrameStats{FrameStats: f, SimTime: simTime, Method: method, Grid: s.GridStats()}

	s.collector.AddFrame(perf.Frame{
		Index:         f.Index,
		Wall:          f.Wall,
		Simulated:     f.Simulated,
		StepsExecuted: f.StepsExecuted,
		StepsOwed:     f.StepsOwed,
		StepsDropped:  f.StepsDropped,
	})
	if every := s.cfg.Telemetry.LogEveryFrames; every > 0 && f.Index%uint64(every) == 0 && f.Index > 0 {
		slogger().Info("perf", "stats", s.collector.Stats())
	}
	for _, o := range s.opts.observers {
		o.OnFrame(stats)
	}
}

// Close stops the loop and releases resources leaves first once the
// device has drained.
func (s *Session) Close() error {
	stopErr := s.Stop()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.dev != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.dev.Queue().OnSubmittedWorkDone(ctx); err != nil && !errors.Is(err, compute.ErrDeviceLost) {
			slogger().Warn("device did not drain before teardown", "err", err)
		}
		cancel()
	}
	if s.slot != nil {
		s.slot.Destroy()
	}
	s.harness.Destroy()
	if s.pipeline != nil {
		s.pipeline.Destroy()
	}
	if s.scatter != nil {
		s.scatter.Destroy()
	}
	if s.grid != nil {
		s.grid.Destroy()
	}
	if s.particles != nil {
		s.particles.Destroy()
	}
	if s.uniforms != nil {
		s.uniforms.Destroy()
	}
	if s.ownsDevice && s.dev != nil {
		s.dev.Destroy()
	}
	slogger().Info("session closed")
	return stopErr
}

// frameWork is the Session as the loop drives it.
type frameWork Session

func (w *frameWork) Prepare(frame uint64, simTime time.Duration) error {
	s := (*Session)(w)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = frame
	s.uniforms.SetFrame(uint32(frame), float32(simTime.Seconds()))
	return s.uniforms.Flush(s.dev.Queue())
}

func (w *frameWork) EncodeSimulation(enc *compute.CommandEncoder, steps int) {
	s := (*Session)(w)
	pass := enc.BeginComputePass(&compute.ComputePassDescriptor{
		Label:           "simulate",
		TimestampWrites: s.harness.ComputePassTimestamps(perf.PhaseSimulate),
	})
	s.pipeline.Encode(pass, steps)
	pass.End()
}

func (w *frameWork) EncodeRender(enc *compute.CommandEncoder) {
	s := (*Session)(w)
	s.slot.Encode(enc, s.RenderFrame(),
		s.harness.ComputePassTimestamps(perf.PhasePrerender),
		s.harness.ComputePassTimestamps(perf.PhaseRender))

	s.statsQueued = false
	if every := s.cfg.Grid.OverflowCheckFrames; every > 0 && s.frame%uint64(every) == 0 && !s.grid.StatsPending() {
		s.grid.EncodeStats(enc)
		s.statsQueued = true
	}
}

func (w *frameWork) Present() error {
	s := (*Session)(w)
	if err := s.slot.Present(); err != nil {
		// A lost image is not worth stopping the simulation for.
		slogger().Warn("render present failed", "err", err)
	}
	if !s.statsQueued {
		return nil
	}
	s.statsQueued = false
	err := s.grid.ReadStats(func(st sparsegrid.Stats, err error) {
		if err != nil {
			slogger().Warn("grid stats readback failed", "err", err)
			return
		}
		s.storeGridStats(st)
	})
	if errors.Is(err, sparsegrid.ErrStatsPending) {
		return nil
	}
	return err
}

var _ loop.Work = (*frameWork)(nil)
