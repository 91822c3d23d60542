package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/san-kum/snowmpm/internal/config"
	"github.com/san-kum/snowmpm/internal/perf"
)

func TestRunRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	cfg := config.GetPreset("small")

	run, err := s.Create("small", cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := uint64(0); i < 3; i++ {
		rec := FrameRecord{
			Frame:         i,
			SimTime:       float64(i) / 60,
			WallUS:        16667,
			StepsExecuted: 3,
			StepsOwed:     3,
			Blocks:        uint32(10 + i),
		}
		if err := run.WriteFrame(rec); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}
	stats := perf.Stats{LastFrame: 2, AvgFrame: 16 * time.Millisecond, FPS: 60}
	if err := run.WritePerf(stats); err != nil {
		t.Fatalf("write perf: %v", err)
	}
	if err := run.Close(map[string]float64{"stability": 1}); err != nil {
		t.Fatalf("close: %v", err)
	}

	meta, err := s.Load(run.ID())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if meta.Frames != 3 || meta.Particles != cfg.Simulation.Particles || meta.Metrics["stability"] != 1 {
		t.Errorf("unexpected metadata: %+v", meta)
	}

	frames, err := s.LoadFrames(run.ID())
	if err != nil {
		t.Fatalf("load frames: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if frames[2].Blocks != 12 || frames[1].StepsExecuted != 3 {
		t.Errorf("unexpected frame rows: %+v", frames)
	}

	loaded, err := s.LoadConfig(run.ID())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded.Simulation.Particles != cfg.Simulation.Particles {
		t.Errorf("config particles = %d, want %d", loaded.Simulation.Particles, cfg.Simulation.Particles)
	}

	data, err := os.ReadFile(filepath.Join(run.Dir(), "perf.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("perf.csv is empty")
	}
}

func TestListSkipsUnfinishedRuns(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	runs, err := s.List()
	if err != nil || len(runs) != 0 {
		t.Fatalf("empty store: %v, %v", runs, err)
	}

	done, err := s.Create("small", config.GetPreset("small"))
	if err != nil {
		t.Fatal(err)
	}
	if err := done.Close(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("fluid", config.GetPreset("fluid")); err != nil {
		t.Fatal(err)
	}

	runs, err = s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != done.ID() {
		t.Errorf("expected only %s, got %+v", done.ID(), runs)
	}
}

func TestListMissingDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing"))
	runs, err := s.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}
}
