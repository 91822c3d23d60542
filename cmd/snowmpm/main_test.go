package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/san-kum/snowmpm/internal/config"
	"github.com/san-kum/snowmpm/internal/logging"
)

func resetFlags() {
	configFile, method, renderKind = "", "", ""
	particles, workers = 0, 0
	seed = 0
	oneStep = false
}

func TestResolveConfigPrecedence(t *testing.T) {
	defer resetFlags()

	resetFlags()
	name, cfg, err := resolveConfig(nil)
	if err != nil {
		t.Fatal(err)
	}
	if name != "small" || cfg.Simulation.Particles != config.GetPreset("small").Simulation.Particles {
		t.Errorf("default preset: %s with %d particles", name, cfg.Simulation.Particles)
	}

	method, particles, oneStep = "fluid", 1234, true
	_, cfg, err = resolveConfig([]string{"small"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Simulation.Method != "fluid" || cfg.Simulation.Particles != 1234 || !cfg.Loop.OneStepPerFrame {
		t.Errorf("flags not applied: %+v", cfg.Simulation)
	}

	resetFlags()
	path := filepath.Join(t.TempDir(), "scene.yaml")
	file := config.GetPreset("small")
	file.Simulation.Particles = 777
	if err := config.Save(path, file); err != nil {
		t.Fatal(err)
	}
	configFile = path
	name, cfg, err = resolveConfig([]string{"snow"})
	if err != nil {
		t.Fatal(err)
	}
	if name != "scene" || cfg.Simulation.Particles != 777 {
		t.Errorf("config file: %s with %d particles", name, cfg.Simulation.Particles)
	}
}

func TestResolveConfigRejects(t *testing.T) {
	defer resetFlags()

	resetFlags()
	if _, _, err := resolveConfig([]string{"nope"}); err == nil {
		t.Error("expected unknown preset error")
	}
	method = "sand"
	if _, _, err := resolveConfig(nil); err == nil {
		t.Error("expected invalid method error")
	}
}

func TestSetupLogging(t *testing.T) {
	if err := setupLogging("off"); err != nil {
		t.Errorf("off: %v", err)
	}
	if err := setupLogging("loud"); err == nil {
		t.Error("expected error for unknown level")
	}

	defer slog.SetDefault(slog.Default())
	defer logging.SetLogger(nil)
	if err := setupLogging("warn"); err != nil {
		t.Fatal(err)
	}
	l := logging.For("sim")
	if !l.Enabled(context.Background(), slog.LevelWarn) || l.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("shared logger does not follow --log-level")
	}
}
