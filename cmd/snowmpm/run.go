package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/san-kum/snowmpm/internal/config"
	"github.com/san-kum/snowmpm/internal/export"
	"github.com/san-kum/snowmpm/internal/metrics"
	"github.com/san-kum/snowmpm/internal/perf"
	"github.com/san-kum/snowmpm/internal/sim"
	"github.com/san-kum/snowmpm/internal/storage"
	"github.com/san-kum/snowmpm/internal/viz"
	"github.com/spf13/cobra"
)

// recorder writes each frame to a run and a perf summary every window.
type recorder struct {
	run       *storage.Run
	collector *perf.Collector
	window    uint64
	last      sim.FrameStats
	err       error
}

func (r *recorder) OnFrame(f sim.FrameStats) {
	r.last = f
	if r.run == nil || r.err != nil {
		return
	}
	r.err = r.run.WriteFrame(storage.FrameRecord{
		Frame:         f.Index,
		SimTime:       f.SimTime.Seconds(),
		WallUS:        f.Wall.Microseconds(),
		StepsExecuted: f.StepsExecuted,
		StepsOwed:     f.StepsOwed,
		StepsDropped:  f.StepsDropped,
		Blocks:        f.Grid.Allocated,
		BlocksDropped: f.Grid.Dropped,
		Overflows:     f.Grid.FixedPointOverflows,
	})
	if r.err == nil && r.window > 0 && (f.Index+1)%r.window == 0 {
		r.err = r.run.WritePerf(r.collector.Stats())
	}
}

func vec3(v [3]float64) mgl32.Vec3 {
	return mgl32.Vec3{float32(v[0]), float32(v[1]), float32(v[2])}
}

// newMetrics returns the diagnostics sampled at the start and end of a run.
func newMetrics(cfg *config.Config) []metrics.Metric {
	g := vec3(cfg.Simulation.Gravity)
	return []metrics.Metric{
		metrics.NewEnergy(g),
		metrics.NewEnergyDrift(g),
		metrics.NewMassConservation(),
		metrics.NewCompression(),
		metrics.NewStability(vec3(cfg.Grid.Min), vec3(cfg.Grid.Max)),
	}
}

func runHeadless(cmd *cobra.Command, args []string) error {
	name, cfg, err := resolveConfig(args)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rec := &recorder{window: uint64(cfg.Telemetry.WindowSize)}
	if record {
		st := storage.New(dataDir)
		if rec.run, err = st.Create(name, cfg); err != nil {
			return err
		}
	}

	s, err := sim.New(ctx, cfg, sim.WithObserver(rec))
	if err != nil {
		return err
	}
	defer s.Close()
	rec.collector = s.Collector()

	ms := newMetrics(cfg)
	initial, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	metrics.Collect(initial, 0, ms...)

	fmt.Printf("running %s: %d particles, %s, %.1fs\n", name, cfg.Simulation.Particles, cfg.Simulation.Method, duration)
	if err := s.Start(ctx); err != nil {
		return err
	}
	select {
	case <-time.After(time.Duration(duration * float64(time.Second))):
	case <-ctx.Done():
	}
	if err := s.Stop(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	final, err := s.Snapshot(context.Background())
	if err != nil {
		return err
	}
	stats := s.Collector().Stats()
	values := metrics.Collect(final, rec.last.SimTime.Seconds(), ms...)

	image := s.Image()
	fmt.Println(image)
	if svgFile != "" {
		if err := export.WriteSVG(svgFile, image, 4); err != nil {
			return err
		}
	}
	printStats(stats)
	printMetrics(values)
	if grid := s.GridStats(); grid.Overflowed() {
		fmt.Printf("warning: grid overflow (%d blocks dropped, %d fixed point overflows)\n", grid.Dropped, grid.FixedPointOverflows)
	}

	if rec.run != nil {
		if rec.err != nil {
			return fmt.Errorf("recording: %w", rec.err)
		}
		if err := rec.run.WritePerf(stats); err != nil {
			return err
		}
		if err := rec.run.Close(values); err != nil {
			return err
		}
		fmt.Printf("recorded %s\n", rec.run.ID())
	}
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	name, cfg, err := resolveConfig(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	feed := viz.NewFeed()
	s, err := sim.New(ctx, cfg, sim.WithObserver(feed))
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Start(ctx); err != nil {
		return err
	}

	m := viz.NewModel(ctx, s, feed, name)
	defer feed.Detach()
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return err
	}
	return nil
}

func benchSteps(cmd *cobra.Command, args []string) error {
	name, cfg, err := resolveConfig(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	counts := []int{cfg.Simulation.Particles / 4, cfg.Simulation.Particles / 2, cfg.Simulation.Particles}
	fmt.Printf("benchmarking %s (%s)\n\n", name, cfg.Simulation.Method)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARTICLES\tSTEPS\tTIME\tSTEPS/SEC\tREALTIME\tBLOCKS")

	for _, n := range counts {
		if n <= 0 {
			continue
		}
		c := cfg.Clone()
		c.Simulation.Particles = n
		s, err := sim.New(ctx, c)
		if err != nil {
			return err
		}
		// Warm up so block allocation settles before timing.
		if err := s.Step(ctx, 1); err != nil {
			s.Close()
			return err
		}
		start := time.Now()
		err = s.Step(ctx, steps)
		elapsed := time.Since(start)
		grid, gerr := s.ReadGridStats(ctx)
		s.Close()
		if err != nil {
			return err
		}
		if gerr != nil {
			return gerr
		}

		rate := float64(steps) / elapsed.Seconds()
		fmt.Fprintf(w, "%d\t%d\t%s\t%.1f\t%.2fx\t%d/%d\n",
			n, steps, elapsed.Round(time.Millisecond), rate, rate*c.Timestep(), grid.Allocated, grid.MaxBlocks)
	}
	return w.Flush()
}

func printStats(s perf.Stats) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FRAMES\tFPS\tAVG\tMIN\tMAX\tSTEPS/SEC\tDROPPED")
	fmt.Fprintf(w, "%d\t%.1f\t%s\t%s\t%s\t%.1f\t%d\n",
		s.LastFrame+1, s.FPS,
		s.AvgFrame.Round(time.Microsecond), s.MinFrame.Round(time.Microsecond), s.MaxFrame.Round(time.Microsecond),
		s.StepsPerSecond, s.StepsDropped)
	w.Flush()

	if len(s.Phases) == 0 {
		return
	}
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tAVG\tMIN\tMAX\tSAMPLES")
	for _, name := range []string{perf.PhaseSimulate, perf.PhasePrerender, perf.PhaseRender} {
		p, ok := s.Phases[name]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", name, p.Avg, p.Min, p.Max, p.Samples)
	}
	w.Flush()
}

func printMetrics(values map[string]float64) {
	fmt.Println()
	for _, name := range []string{"energy", "energy_drift", "mass_drift", "compression", "stability"} {
		if v, ok := values[name]; ok {
			fmt.Printf("  %-14s %.6g\n", name, v)
		}
	}
}
